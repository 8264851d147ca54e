package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sourcetap/sourcetap/internal/core"
	"github.com/sourcetap/sourcetap/internal/plan"
)

func TestParseParamFlags(t *testing.T) {
	parsed, err := parseParamFlags([]string{
		"usgs.min_magnitude=6",
		" USGS.start_date = 2024-01-01 ",
		"world_bank.countries=US,GB",
		"open_meteo.note=a=b",
	})
	require.NoError(t, err)

	require.Equal(t, core.Params{"min_magnitude": "6", "start_date": "2024-01-01"}, parsed["usgs"])
	require.Equal(t, core.Params{"countries": "US,GB"}, parsed["world_bank"])
	require.Equal(t, "a=b", parsed["open_meteo"]["note"])
}

func TestParseParamFlagsRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"usgs", "usgs=6", ".key=1", "usgs.=1"} {
		_, err := parseParamFlags([]string{raw})
		require.Error(t, err, raw)
	}
}

func TestMergeParams(t *testing.T) {
	requested, err := plan.Parse([]byte(`
sources:
  usgs:
    min_magnitude: 5
    max_results: 10
  world_bank:
    indicators: [NY.GDP.MKTP.CD]
`), plan.FormatYAML)
	require.NoError(t, err)

	merged, err := mergeParams(requested, []string{"usgs.min_magnitude=7", "open_meteo.variables=temperature_2m"})
	require.NoError(t, err)

	require.Equal(t, "7", merged["usgs"]["min_magnitude"])
	require.Equal(t, 10, merged["usgs"]["max_results"])
	require.Contains(t, merged, "world_bank")
	require.Equal(t, "temperature_2m", merged["open_meteo"]["variables"])

	// The plan itself is untouched by flag overrides.
	require.Equal(t, 5, requested.Params("usgs")["min_magnitude"])
}

func TestMergeParamsWithoutPlan(t *testing.T) {
	merged, err := mergeParams(nil, nil)
	require.NoError(t, err)
	require.Empty(t, merged)
}
