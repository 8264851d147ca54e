package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/sourcetap/sourcetap/internal/core"
	"github.com/sourcetap/sourcetap/internal/core/engine"
)

const (
	// WorldBankName identifies the economic indicator source.
	WorldBankName = "world_bank"

	worldBankBaseURL   = "https://api.worldbank.org/v2"
	worldBankRateLimit = 60
	worldBankPerPage   = 100
)

var (
	worldBankColumns = []string{"country_code", "country_name", "indicator_code", "indicator_name", "year", "value"}

	// DefaultWorldBankCountries are ISO 3166-1 alpha-2 codes.
	DefaultWorldBankCountries = []string{"US", "GB", "JP", "DE", "FR", "CA", "AU", "BR", "IN", "CN"}
	// DefaultWorldBankIndicators are GDP per capita and total population.
	DefaultWorldBankIndicators = []string{"NY.GDP.PCAP.CD", "SP.POP.TOTL"}
)

// WorldBank pulls indicator series from the World Bank API using page-number
// pagination driven by the response metadata.
type WorldBank struct {
	Base
	PerPage int
}

// NewWorldBank returns a World Bank source.
func NewWorldBank(opts engine.Options) *WorldBank {
	return &WorldBank{
		Base:    newBase(WorldBankName, worldBankBaseURL, worldBankRateLimit, opts),
		PerPage: worldBankPerPage,
	}
}

type worldBankMeta struct {
	Page  int `json:"page"`
	Pages int `json:"pages"`
}

type worldBankRecord struct {
	CountryISO3 string `json:"countryiso3code"`
	Country     struct {
		ID    string `json:"id"`
		Value string `json:"value"`
	} `json:"country"`
	Indicator struct {
		ID    string `json:"id"`
		Value string `json:"value"`
	} `json:"indicator"`
	Date  string `json:"date"`
	Value any    `json:"value"`
}

// Extract accepts countries, indicators, start_year, and end_year.
func (w *WorldBank) Extract(ctx context.Context, params core.Params) core.ExtractionOutcome {
	return w.run(ctx, func(ctx context.Context) (*core.Table, []string, error) {
		startYear, err := params.Int("start_year", 2018)
		if err != nil {
			return nil, nil, err
		}
		endYear, err := params.Int("end_year", 2023)
		if err != nil {
			return nil, nil, err
		}
		countries := params.Strings("countries", DefaultWorldBankCountries)
		indicators := params.Strings("indicators", DefaultWorldBankIndicators)

		table := &core.Table{Columns: worldBankColumns, Rows: make([]core.Record, 0)}
		var warnings []string
		countryPath := strings.Join(countries, ";")
		for _, indicator := range indicators {
			records, warning, err := w.fetchIndicator(ctx, countryPath, indicator, startYear, endYear)
			if err != nil {
				return nil, nil, err
			}
			if warning != "" {
				warnings = append(warnings, warning)
			}
			for _, rec := range records {
				table.Append(worldBankRow(rec))
			}
		}
		return table, warnings, nil
	})
}

func (w *WorldBank) fetchIndicator(ctx context.Context, countries, indicator string, startYear, endYear int) ([]worldBankRecord, string, error) {
	perPage := w.PerPage
	if perPage <= 0 {
		perPage = worldBankPerPage
	}

	path := fmt.Sprintf("/country/%s/indicator/%s", countries, indicator)
	records := make([]worldBankRecord, 0)

	for page := 1; ; page++ {
		query := map[string]any{
			"format":   "json",
			"date":     fmt.Sprintf("%d:%d", startYear, endYear),
			"per_page": perPage,
			"page":     page,
		}

		var raw []json.RawMessage
		if err := w.Get(ctx, path, query, &raw); err != nil {
			if engine.IsKind(err, engine.KindDecode) {
				return records, fmt.Sprintf("indicator %s: unexpected response shape", indicator), nil
			}
			return nil, "", err
		}
		if len(raw) < 2 {
			return records, fmt.Sprintf("indicator %s: unexpected response shape", indicator), nil
		}

		var meta worldBankMeta
		if err := json.Unmarshal(raw[0], &meta); err != nil {
			return nil, "", fmt.Errorf("decode %s metadata: %w", indicator, err)
		}

		var data []worldBankRecord
		if err := json.Unmarshal(raw[1], &data); err != nil {
			return nil, "", fmt.Errorf("decode %s records: %w", indicator, err)
		}
		if data == nil {
			break
		}
		records = append(records, data...)

		pages := meta.Pages
		if pages < 1 {
			pages = 1
		}
		if page >= pages {
			break
		}
	}

	return records, "", nil
}

func worldBankRow(rec worldBankRecord) core.Record {
	code := rec.CountryISO3
	if code == "" {
		code = rec.Country.ID
	}

	var year any
	if n, err := strconv.Atoi(strings.TrimSpace(rec.Date)); err == nil {
		year = n
	}

	return core.Record{
		"country_code":   code,
		"country_name":   rec.Country.Value,
		"indicator_code": rec.Indicator.ID,
		"indicator_name": rec.Indicator.Value,
		"year":           year,
		"value":          numericOrNil(rec.Value),
	}
}
