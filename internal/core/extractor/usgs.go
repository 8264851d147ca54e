package extractor

import (
	"context"
	"time"

	"github.com/sourcetap/sourcetap/internal/core"
	"github.com/sourcetap/sourcetap/internal/core/engine"
)

const (
	// USGSName identifies the earthquake source.
	USGSName = "usgs"

	usgsBaseURL    = "https://earthquake.usgs.gov/fdsnws/event/1"
	usgsRateLimit  = 60
	usgsPageSize   = 500
	usgsMaxResults = 2000
)

var usgsColumns = []string{"id", "magnitude", "place", "time", "latitude", "longitude", "depth", "type", "status"}

// USGS pulls seismic events from the USGS FDSN event service using offset
// pagination over GeoJSON.
type USGS struct {
	Base
	PageSize int
}

// NewUSGS returns a USGS source. Empty BaseURL and RateLimit use defaults.
func NewUSGS(opts engine.Options) *USGS {
	return &USGS{
		Base:     newBase(USGSName, usgsBaseURL, usgsRateLimit, opts),
		PageSize: usgsPageSize,
	}
}

type usgsResponse struct {
	Features []usgsFeature `json:"features"`
}

type usgsFeature struct {
	ID         string `json:"id"`
	Properties struct {
		Mag    *float64 `json:"mag"`
		Place  *string  `json:"place"`
		Time   *int64   `json:"time"`
		Type   *string  `json:"type"`
		Status *string  `json:"status"`
	} `json:"properties"`
	Geometry *struct {
		Coordinates []*float64 `json:"coordinates"`
	} `json:"geometry"`
}

// Extract accepts start_date, end_date, min_magnitude, and max_results.
func (u *USGS) Extract(ctx context.Context, params core.Params) core.ExtractionOutcome {
	return u.run(ctx, func(ctx context.Context) (*core.Table, []string, error) {
		minMagnitude, err := params.Float("min_magnitude", 4.5)
		if err != nil {
			return nil, nil, err
		}
		maxResults, err := params.Int("max_results", usgsMaxResults)
		if err != nil {
			return nil, nil, err
		}

		features, err := u.paginate(ctx,
			params.String("start_date", "2025-01-01"),
			params.String("end_date", "2025-12-31"),
			minMagnitude,
			maxResults,
		)
		if err != nil {
			return nil, nil, err
		}
		return usgsTable(features), nil, nil
	})
}

func (u *USGS) paginate(ctx context.Context, start, end string, minMagnitude float64, maxResults int) ([]usgsFeature, error) {
	pageSize := u.PageSize
	if pageSize <= 0 {
		pageSize = usgsPageSize
	}

	features := make([]usgsFeature, 0)
	offset := 1 // the event service counts from 1

	for len(features) < maxResults {
		limit := min(pageSize, maxResults-len(features))
		query := map[string]any{
			"format":       "geojson",
			"starttime":    start,
			"endtime":      end,
			"minmagnitude": minMagnitude,
			"limit":        limit,
			"offset":       offset,
			"orderby":      "magnitude",
		}

		var page usgsResponse
		if err := u.Get(ctx, "/query", query, &page); err != nil {
			return nil, err
		}
		if len(page.Features) == 0 {
			break
		}

		features = append(features, page.Features...)
		offset += len(page.Features)

		if len(page.Features) < limit {
			break
		}
	}

	return features, nil
}

func usgsTable(features []usgsFeature) *core.Table {
	table := &core.Table{Columns: usgsColumns, Rows: make([]core.Record, 0, len(features))}
	for _, f := range features {
		row := core.Record{
			"id":        f.ID,
			"magnitude": floatOrNil(f.Properties.Mag),
			"place":     stringOrNil(f.Properties.Place),
			"time":      nil,
			"latitude":  nil,
			"longitude": nil,
			"depth":     nil,
			"type":      stringOrNil(f.Properties.Type),
			"status":    stringOrNil(f.Properties.Status),
		}
		if f.Properties.Time != nil {
			row["time"] = time.UnixMilli(*f.Properties.Time).UTC().Format(time.RFC3339Nano)
		}
		if f.Geometry != nil {
			coords := f.Geometry.Coordinates
			if len(coords) > 0 {
				row["longitude"] = floatOrNil(coords[0])
			}
			if len(coords) > 1 {
				row["latitude"] = floatOrNil(coords[1])
			}
			if len(coords) > 2 {
				row["depth"] = floatOrNil(coords[2])
			}
		}
		table.Append(row)
	}
	return table
}
