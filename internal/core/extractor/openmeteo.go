package extractor

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sourcetap/sourcetap/internal/core"
	"github.com/sourcetap/sourcetap/internal/core/engine"
)

const (
	// OpenMeteoName identifies the historical weather source.
	OpenMeteoName = "open_meteo"

	openMeteoBaseURL   = "https://archive-api.open-meteo.com/v1"
	openMeteoRateLimit = 60
)

var (
	// DefaultOpenMeteoVariables are the daily series requested by default.
	DefaultOpenMeteoVariables = []string{
		"temperature_2m_max",
		"temperature_2m_min",
		"precipitation_sum",
		"wind_speed_10m_max",
	}

	// DefaultOpenMeteoLocations are used when no locations are given.
	DefaultOpenMeteoLocations = []Location{
		{Latitude: 40.71, Longitude: -74.01, Name: "New York"},
		{Latitude: 51.51, Longitude: -0.13, Name: "London"},
		{Latitude: 35.68, Longitude: 139.69, Name: "Tokyo"},
	}

	openMeteoColumnNames = map[string]string{
		"temperature_2m_max": "temperature_max",
		"temperature_2m_min": "temperature_min",
		"precipitation_sum":  "precipitation",
		"wind_speed_10m_max": "wind_speed_max",
	}
)

// Location is a named coordinate.
type Location struct {
	Latitude  float64 `json:"latitude" yaml:"latitude" toml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude" toml:"longitude"`
	Name      string  `json:"name" yaml:"name" toml:"name"`
}

// OpenMeteo pulls daily historical weather, turning parallel time-series
// arrays into rows.
type OpenMeteo struct {
	Base
	// Concurrency bounds parallel location fetches.
	Concurrency int
}

// NewOpenMeteo returns an Open-Meteo source.
func NewOpenMeteo(opts engine.Options) *OpenMeteo {
	return &OpenMeteo{
		Base:        newBase(OpenMeteoName, openMeteoBaseURL, openMeteoRateLimit, opts),
		Concurrency: 1,
	}
}

type openMeteoResponse struct {
	Daily map[string][]any `json:"daily"`
}

// Extract accepts locations, start_date, end_date, and variables.
func (o *OpenMeteo) Extract(ctx context.Context, params core.Params) core.ExtractionOutcome {
	return o.run(ctx, func(ctx context.Context) (*core.Table, []string, error) {
		locations, err := parseLocations(params["locations"])
		if err != nil {
			return nil, nil, err
		}
		if len(locations) == 0 {
			locations = DefaultOpenMeteoLocations
		}
		variables := params.Strings("variables", DefaultOpenMeteoVariables)
		start := params.String("start_date", "2024-01-01")
		end := params.String("end_date", "2024-12-31")

		columns := []string{"location", "date"}
		for _, v := range variables {
			columns = append(columns, openMeteoColumn(v))
		}

		perLocation := make([][]core.Record, len(locations))
		warnings := make([]string, len(locations))

		limit := o.Concurrency
		if limit < 1 {
			limit = 1
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(limit)
		for i, loc := range locations {
			g.Go(func() error {
				rows, err := o.fetchLocation(gctx, loc, start, end, variables)
				if err != nil {
					return fmt.Errorf("location %s: %w", loc.Name, err)
				}
				if len(rows) == 0 {
					warnings[i] = fmt.Sprintf("location %s: no daily data returned", loc.Name)
				}
				perLocation[i] = rows
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, nil, err
		}

		table := &core.Table{Columns: columns, Rows: make([]core.Record, 0)}
		for _, rows := range perLocation {
			table.Append(rows...)
		}
		var collected []string
		for _, w := range warnings {
			if w != "" {
				collected = append(collected, w)
			}
		}
		return table, collected, nil
	})
}

func (o *OpenMeteo) fetchLocation(ctx context.Context, loc Location, start, end string, variables []string) ([]core.Record, error) {
	query := map[string]any{
		"latitude":   loc.Latitude,
		"longitude":  loc.Longitude,
		"start_date": start,
		"end_date":   end,
		"daily":      strings.Join(variables, ","),
		"timezone":   "UTC",
	}

	var resp openMeteoResponse
	if err := o.Get(ctx, "/archive", query, &resp); err != nil {
		return nil, err
	}

	dates, ok := resp.Daily["time"]
	if !ok || len(dates) == 0 {
		return nil, nil
	}

	rows := make([]core.Record, 0, len(dates))
	for i, date := range dates {
		row := core.Record{"location": loc.Name, "date": date}
		for _, v := range variables {
			var value any
			if series := resp.Daily[v]; i < len(series) {
				value = series[i]
			}
			row[openMeteoColumn(v)] = value
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func openMeteoColumn(variable string) string {
	if name, ok := openMeteoColumnNames[variable]; ok {
		return name
	}
	return variable
}

// parseLocations accepts a list of {latitude, longitude, name} objects or
// [latitude, longitude, name] triples.
func parseLocations(value any) ([]Location, error) {
	if value == nil {
		return nil, nil
	}
	switch typed := value.(type) {
	case []Location:
		return typed, nil
	case []any:
		out := make([]Location, 0, len(typed))
		for i, item := range typed {
			loc, err := parseLocation(item)
			if err != nil {
				return nil, fmt.Errorf("locations[%d]: %w", i, err)
			}
			out = append(out, loc)
		}
		return out, nil
	case []map[string]any:
		out := make([]Location, 0, len(typed))
		for i, item := range typed {
			loc, err := parseLocation(item)
			if err != nil {
				return nil, fmt.Errorf("locations[%d]: %w", i, err)
			}
			out = append(out, loc)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("locations: unsupported type %T", value)
	}
}

func parseLocation(item any) (Location, error) {
	switch typed := item.(type) {
	case Location:
		return typed, nil
	case map[string]any:
		p := core.Params(typed)
		lat, err := p.Float("latitude", 0)
		if err != nil {
			return Location{}, err
		}
		lon, err := p.Float("longitude", 0)
		if err != nil {
			return Location{}, err
		}
		return Location{Latitude: lat, Longitude: lon, Name: p.String("name", fmt.Sprintf("%g,%g", lat, lon))}, nil
	case []any:
		if len(typed) < 2 {
			return Location{}, fmt.Errorf("expected [latitude, longitude, name]")
		}
		p := core.Params{"latitude": typed[0], "longitude": typed[1]}
		if len(typed) > 2 {
			p["name"] = typed[2]
		}
		return parseLocation(map[string]any(p))
	default:
		return Location{}, fmt.Errorf("unsupported location type %T", item)
	}
}
