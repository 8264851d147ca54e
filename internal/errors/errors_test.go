package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPStatusFromCode(t *testing.T) {
	cases := map[string]int{
		CodeInvalidInput:     http.StatusBadRequest,
		CodeSourceNotFound:   http.StatusNotFound,
		CodeUnauthorized:     http.StatusUnauthorized,
		CodeCollectionFailed: http.StatusBadGateway,
		CodeStoreUnavailable: http.StatusServiceUnavailable,
		CodeExporterFailed:   http.StatusBadGateway,
		"SOMETHING_ELSE":     http.StatusInternalServerError,
	}
	for code, status := range cases {
		require.Equal(t, status, HTTPStatusFromCode(code), code)
	}
	require.Equal(t, http.StatusInternalServerError, HTTPStatusFromEnvelope(nil))
}

func TestRespondWithSourceNotFound(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/sources/sec/collect", nil)
	rec := httptest.NewRecorder()

	RespondWithEnvelope(rec, req, NewSourceNotFoundError("sec"))

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, CodeSourceNotFound, body.Error.Code)
	require.Equal(t, "sec", body.Error.Details["source"])
	require.NotEmpty(t, body.Error.RequestID)
}

func TestEnsureEnvelopeWrapsPlainErrors(t *testing.T) {
	env := EnsureEnvelope(stderrors.New("disk full"))
	require.Equal(t, CodeInternal, env.Code)
	require.Equal(t, "disk full", env.Context["wrapped_error"])

	wrapped := WrapCollectionFailed(context.Background(), stderrors.New("upstream"), "collection failed")
	require.Same(t, wrapped, EnsureEnvelope(wrapped))
	require.Equal(t, "upstream", wrapped.Context["wrapped_error"])
	require.NotEmpty(t, wrapped.CorrelationID)
}

func TestEnsureEnvelopeLooksThroughWrapping(t *testing.T) {
	inner := NewSourceNotFoundError("nasa")
	outer := fmt.Errorf("collect: %w", inner)
	require.Same(t, inner, EnsureEnvelope(outer))
}

func TestRespondWithNilEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondWithEnvelope(rec, nil, nil)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, CodeInternal, body.Error.Code)
	require.NotEmpty(t, body.Error.RequestID)
}

func TestResponseDetailsPreferDetails(t *testing.T) {
	env := NewSourceNotFoundError("usgs")
	env, err := env.WithContext(map[string]any{"source": "ignored", "attempt": 2})
	require.NoError(t, err)

	details := responseDetails(env)
	require.Equal(t, "usgs", details["source"])
	require.EqualValues(t, 2, details["attempt"])
}
