package plan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const yamlPlan = `
concurrency: 3
sources:
  USGS:
    start_date: 2025-01-01
    min_magnitude: 5
    max_results: 100
  open_meteo:
    locations:
      - {latitude: 40.71, longitude: -74.01, name: New York}
      - [51.51, -0.13, London]
  world_bank:
`

const tomlPlan = `
concurrency = 2

[sources.usgs]
start_date = 2025-01-01
min_magnitude = 5.5
max_results = 100

[[sources.open_meteo.locations]]
latitude = 40.71
longitude = -74.01
name = "New York"
`

const jsonPlan = `{
  "sources": {
    "usgs": {"start_date": "2025-01-01", "min_magnitude": 5, "max_results": 100},
    "world_bank": {"countries": ["US", "GB"], "start_year": 2020}
  }
}`

func writePlan(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	p, err := Load(writePlan(t, "plan.yaml", yamlPlan))
	require.NoError(t, err)
	require.Equal(t, 3, p.Concurrency)
	require.Equal(t, []string{"open_meteo", "usgs", "world_bank"}, p.Names())

	usgs := p.Params("usgs")
	require.Equal(t, "2025-01-01", usgs.String("start_date", ""))
	n, err := usgs.Int("max_results", 0)
	require.NoError(t, err)
	require.Equal(t, 100, n)

	locations, ok := p.Params("open_meteo")["locations"].([]any)
	require.True(t, ok)
	require.Len(t, locations, 2)

	require.Empty(t, p.Params("world_bank"))
}

func TestLoadTOML(t *testing.T) {
	p, err := Load(writePlan(t, "plan.toml", tomlPlan))
	require.NoError(t, err)
	require.Equal(t, 2, p.Concurrency)

	usgs := p.Params("usgs")
	require.Equal(t, "2025-01-01", usgs["start_date"])
	require.Equal(t, 100, usgs["max_results"])
	mag, err := usgs.Float("min_magnitude", 0)
	require.NoError(t, err)
	require.Equal(t, 5.5, mag)

	locations, ok := p.Params("open_meteo")["locations"].([]any)
	require.True(t, ok)
	require.Len(t, locations, 1)
	loc, ok := locations[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "New York", loc["name"])
}

func TestLoadJSON(t *testing.T) {
	p, err := Load(writePlan(t, "plan.json", jsonPlan))
	require.NoError(t, err)
	require.Zero(t, p.Concurrency)
	require.Equal(t, 100, p.Params("usgs")["max_results"])
	require.Equal(t, []string{"US", "GB"}, p.Params("world_bank").Strings("countries", nil))
}

func TestParamsAreCopies(t *testing.T) {
	p, err := Parse([]byte(jsonPlan), FormatJSON)
	require.NoError(t, err)

	params := p.Params("usgs")
	params["max_results"] = 1
	require.Equal(t, 100, p.Params("usgs")["max_results"])
	require.Empty(t, p.Params("missing"))
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(writePlan(t, "plan.ini", "x=1"))
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)

	_, err = Load(writePlan(t, "bad.json", "{"))
	require.Error(t, err)

	_, err = Parse([]byte("concurrency: -1"), FormatYAML)
	require.Error(t, err)
}

func TestParseParams(t *testing.T) {
	params, err := ParseParams([]byte(`{"min_magnitude": 5.5, "max_results": 10, "locations": [{"name": "Oslo", "latitude": 59.91}]}`))
	require.NoError(t, err)
	require.Equal(t, 5.5, params["min_magnitude"])
	require.Equal(t, 10, params["max_results"])

	locations, ok := params["locations"].([]any)
	require.True(t, ok)
	require.Equal(t, 59.91, locations[0].(map[string]any)["latitude"])

	empty, err := ParseParams([]byte("  "))
	require.NoError(t, err)
	require.Empty(t, empty)

	_, err = ParseParams([]byte(`[1, 2]`))
	require.Error(t, err)
}
