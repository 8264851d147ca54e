package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sourcetap/sourcetap/internal/core"
	"github.com/sourcetap/sourcetap/internal/core/engine"
	"github.com/sourcetap/sourcetap/internal/core/store"
	apperrors "github.com/sourcetap/sourcetap/internal/errors"
	"github.com/sourcetap/sourcetap/internal/observability"
	"github.com/sourcetap/sourcetap/internal/plan"
)

// maxBodyBytes caps collect request bodies.
const maxBodyBytes = 1 << 20

// RunStore is the subset of the run store the collection API needs.
type RunStore interface {
	SaveOutcome(ctx context.Context, runID string, outcome core.ExtractionOutcome) error
	ListRuns(ctx context.Context, filter store.RunFilter) ([]store.RunRecord, error)
}

// Collection serves the /v1 collection API on top of a Collector.
type Collection struct {
	Collector *engine.Collector
	// Store persists outcomes and backs /v1/runs. Nil disables both.
	Store RunStore
	// NewRunID defaults to a random UUID.
	NewRunID func() string
}

// SourceInfo describes a registered source.
type SourceInfo struct {
	Name      string `json:"name"`
	BaseURL   string `json:"base_url"`
	RateLimit int    `json:"rate_limit"`
}

// SourcesResponse lists registered sources.
type SourcesResponse struct {
	Sources []SourceInfo `json:"sources"`
}

// CollectResponse carries one source's outcome.
type CollectResponse struct {
	RunID   string                 `json:"run_id"`
	Outcome core.ExtractionOutcome `json:"outcome"`
	Data    *core.Table            `json:"data,omitempty"`
}

// CollectManyResponse carries every outcome of a multi-source run plus the
// telemetry aggregated afterwards.
type CollectManyResponse struct {
	RunID     string                            `json:"run_id"`
	Succeeded int                               `json:"succeeded"`
	Failed    int                               `json:"failed"`
	Outcomes  map[string]core.ExtractionOutcome `json:"outcomes"`
	Data      map[string]*core.Table            `json:"data,omitempty"`
	Telemetry core.AggregatedTelemetry          `json:"telemetry"`
}

// RunsResponse lists persisted outcomes.
type RunsResponse struct {
	Runs []store.RunRecord `json:"runs"`
}

// ListSources handles GET /v1/sources.
func (c *Collection) ListSources(w http.ResponseWriter, r *http.Request) {
	names := c.Collector.Sources()
	resp := SourcesResponse{Sources: make([]SourceInfo, 0, len(names))}
	for _, name := range names {
		src, ok := c.Collector.Lookup(name)
		if !ok {
			continue
		}
		resp.Sources = append(resp.Sources, SourceInfo{
			Name:      name,
			BaseURL:   src.BaseURL(),
			RateLimit: src.RateLimit(),
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// CollectSource handles POST /v1/sources/{name}/collect. The body is the
// source's params as a JSON object. A failed outcome is reported as a 502
// envelope carrying the outcome.
func (c *Collection) CollectSource(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "name")))
	if _, ok := c.Collector.Lookup(name); !ok {
		respondWithError(w, r, apperrors.NewSourceNotFoundError(name))
		return
	}

	body, err := readBody(r)
	if err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "Unable to read request body"))
		return
	}
	params, err := plan.ParseParams(body)
	if err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "Request body must be a JSON object of params"))
		return
	}

	outcome, err := c.Collector.Collect(r.Context(), name, params)
	if err != nil {
		respondWithError(w, r, apperrors.NewSourceNotFoundError(name))
		return
	}

	runID := c.runID()
	c.save(r.Context(), runID, outcome)

	if !outcome.Success {
		envelope := apperrors.WrapCollectionFailed(r.Context(), errors.New(outcome.Error),
			fmt.Sprintf("collection from %s failed", name))
		envelope = envelope.WithDetails(map[string]interface{}{
			"source":  name,
			"run_id":  runID,
			"outcome": outcome,
		})
		respondWithError(w, r, envelope)
		return
	}

	resp := CollectResponse{RunID: runID, Outcome: outcome}
	if includeData(r) {
		resp.Data = outcome.Data
	}
	respondJSON(w, http.StatusOK, resp)
}

// CollectMany handles POST /v1/collect with a body of
// {"sources": {name: params}}. An empty source map runs every registered
// source. Failed sources are reported in their outcomes and never fail the
// request.
func (c *Collection) CollectMany(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "Unable to read request body"))
		return
	}

	requested := &plan.Plan{}
	if len(strings.TrimSpace(string(body))) > 0 {
		requested, err = plan.Parse(body, plan.FormatJSON)
		if err != nil {
			respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "Request body must be a collection plan"))
			return
		}
	}

	paramsBySource := make(map[string]core.Params, len(requested.Sources))
	names := requested.Names()
	for _, name := range names {
		if _, ok := c.Collector.Lookup(name); !ok {
			respondWithError(w, r, apperrors.NewSourceNotFoundError(name))
			return
		}
		paramsBySource[name] = requested.Params(name)
	}

	var outcomes map[string]core.ExtractionOutcome
	if len(names) == 0 {
		outcomes = c.Collector.CollectAll(r.Context(), paramsBySource)
	} else {
		outcomes, err = c.Collector.CollectSources(r.Context(), names, paramsBySource)
		if err != nil {
			respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "Unable to start collection"))
			return
		}
	}

	runID := c.runID()
	resp := CollectManyResponse{
		RunID:    runID,
		Outcomes: outcomes,
	}
	withData := includeData(r)
	if withData {
		resp.Data = make(map[string]*core.Table, len(outcomes))
	}
	for name, outcome := range outcomes {
		c.save(r.Context(), runID, outcome)
		if outcome.Success {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
		if withData && outcome.Data != nil {
			resp.Data[name] = outcome.Data
		}
	}
	resp.Telemetry = c.Collector.Telemetry()

	respondJSON(w, http.StatusOK, resp)
}

// Telemetry handles GET /v1/telemetry.
func (c *Collection) Telemetry(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, c.Collector.Telemetry())
}

// ListRuns handles GET /v1/runs?source=&run_id=&limit=.
func (c *Collection) ListRuns(w http.ResponseWriter, r *http.Request) {
	if c.Store == nil {
		respondWithError(w, r, apperrors.NewStoreUnavailableError("Run history requires a configured store"))
		return
	}

	query := r.URL.Query()
	filter := store.RunFilter{
		Source: strings.TrimSpace(query.Get("source")),
		RunID:  strings.TrimSpace(query.Get("run_id")),
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			respondWithError(w, r, apperrors.NewInvalidInputError("limit must be a non-negative integer"))
			return
		}
		filter.Limit = limit
	}

	runs, err := c.Store.ListRuns(r.Context(), filter)
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "Unable to list runs"))
		return
	}
	respondJSON(w, http.StatusOK, RunsResponse{Runs: runs})
}

func (c *Collection) runID() string {
	if c.NewRunID != nil {
		return c.NewRunID()
	}
	return uuid.NewString()
}

// save persists an outcome. Store failures are logged and never fail the
// request; the collection already happened.
func (c *Collection) save(ctx context.Context, runID string, outcome core.ExtractionOutcome) {
	if c.Store == nil {
		return
	}
	if err := c.Store.SaveOutcome(ctx, runID, outcome); err != nil && observability.ServerLogger != nil {
		observability.ServerLogger.Warn("Failed to persist run outcome",
			zap.String("run_id", runID),
			zap.String("source", outcome.Source),
			zap.Error(err))
	}
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}

func includeData(r *http.Request) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get("include_data"))
	return err == nil && v
}
