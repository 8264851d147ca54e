// Package errors maps sourcetap failures onto gofulmen error envelopes and
// writes them as JSON API responses.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sourcetap/sourcetap/internal/metrics"
	"github.com/sourcetap/sourcetap/internal/observability"
	"github.com/sourcetap/sourcetap/internal/server/middleware"
)

// Error codes used by the HTTP API.
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeNotFound           = "NOT_FOUND"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeExporterFailed     = "EXTERNAL_SERVICE_ERROR"
	CodeSourceNotFound     = "SOURCE_NOT_FOUND"
	CodeCollectionFailed   = "COLLECTION_FAILED"
	CodeStoreUnavailable   = "STORE_UNAVAILABLE"
	CodeDatabaseError      = "DATABASE_ERROR"
)

// codeStatus is the HTTP status for each code; unknown codes map to 500.
var codeStatus = map[string]int{
	CodeInvalidInput:       http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeSourceNotFound:     http.StatusNotFound,
	CodeUnauthorized:       http.StatusUnauthorized,
	CodeMethodNotAllowed:   http.StatusMethodNotAllowed,
	CodeCollectionFailed:   http.StatusBadGateway,
	CodeExporterFailed:     http.StatusBadGateway,
	CodeServiceUnavailable: http.StatusServiceUnavailable,
	CodeStoreUnavailable:   http.StatusServiceUnavailable,
}

func NewInvalidInputError(message string) *gferrors.ErrorEnvelope {
	return gferrors.NewErrorEnvelope(CodeInvalidInput, message)
}

func NewNotFoundError(message string) *gferrors.ErrorEnvelope {
	return gferrors.NewErrorEnvelope(CodeNotFound, message)
}

func NewMethodNotAllowedError(message string) *gferrors.ErrorEnvelope {
	return gferrors.NewErrorEnvelope(CodeMethodNotAllowed, message)
}

// NewSourceNotFoundError reports a collection request for an unregistered source.
func NewSourceNotFoundError(name string) *gferrors.ErrorEnvelope {
	env := gferrors.NewErrorEnvelope(CodeSourceNotFound, fmt.Sprintf("source %q is not registered", name))
	return env.WithDetails(map[string]any{"source": name})
}

func NewInternalError(message string) *gferrors.ErrorEnvelope {
	return gferrors.NewErrorEnvelope(CodeInternal, message)
}

// NewStoreUnavailableError reports an endpoint that needs the run store when
// none is configured.
func NewStoreUnavailableError(message string) *gferrors.ErrorEnvelope {
	return gferrors.NewErrorEnvelope(CodeStoreUnavailable, message)
}

// NewServiceUnavailableError reports a dependency that is switched off,
// such as the metrics exporter.
func NewServiceUnavailableError(message string) *gferrors.ErrorEnvelope {
	return gferrors.NewErrorEnvelope(CodeServiceUnavailable, message)
}

// The Wrap helpers take the correlation ID from ctx, so CLI failures and
// HTTP failures carry the same shape.

func WrapInvalidInput(ctx context.Context, err error, message string) *gferrors.ErrorEnvelope {
	return wrap(ctx, CodeInvalidInput, err, message)
}

func WrapCollectionFailed(ctx context.Context, err error, message string) *gferrors.ErrorEnvelope {
	return wrap(ctx, CodeCollectionFailed, err, message)
}

func WrapDatabaseError(ctx context.Context, err error, message string) *gferrors.ErrorEnvelope {
	return wrap(ctx, CodeDatabaseError, err, message)
}

// WrapExporterError reports a failed scrape of the Prometheus exporter.
func WrapExporterError(ctx context.Context, err error, message string) *gferrors.ErrorEnvelope {
	return wrap(ctx, CodeExporterFailed, err, message)
}

func WrapInternal(ctx context.Context, err error, message string) *gferrors.ErrorEnvelope {
	return wrap(ctx, CodeInternal, err, message)
}

func wrap(ctx context.Context, code string, err error, message string) *gferrors.ErrorEnvelope {
	id := correlationID(ctx)
	env := gferrors.NewErrorEnvelope(code, message).
		WithCorrelationID(id).
		WithTraceID(id)
	return withCause(env, err)
}

// correlationID returns the request ID on ctx, or a fresh UUID for work
// that did not start from an HTTP request.
func correlationID(ctx context.Context) string {
	if ctx != nil {
		if id := middleware.GetRequestID(ctx); id != "" {
			return id
		}
	}
	return uuid.NewString()
}

func withCause(env *gferrors.ErrorEnvelope, err error) *gferrors.ErrorEnvelope {
	if env == nil || err == nil {
		return env
	}
	if updated, ctxErr := env.WithContext(map[string]any{"wrapped_error": err.Error()}); ctxErr == nil {
		return updated
	}
	return env
}

// EnsureEnvelope returns the envelope inside err, looking through %w
// wrapping, or an INTERNAL_ERROR envelope describing err.
func EnsureEnvelope(err error) *gferrors.ErrorEnvelope {
	if err == nil {
		env := gferrors.NewErrorEnvelope(CodeInternal, "unexpected nil error")
		env, _ = env.WithSeverity(gferrors.SeverityCritical)
		return env
	}

	var envelope *gferrors.ErrorEnvelope
	if stderrors.As(err, &envelope) && envelope != nil {
		return envelope
	}

	env := withCause(gferrors.NewErrorEnvelope(CodeInternal, "unexpected error"), err)
	env, _ = env.WithSeverity(gferrors.SeverityHigh)
	return env
}

// HTTPStatusFromEnvelope resolves the HTTP status code corresponding to an error envelope.
func HTTPStatusFromEnvelope(envelope *gferrors.ErrorEnvelope) int {
	if envelope == nil {
		return http.StatusInternalServerError
	}
	return HTTPStatusFromCode(envelope.Code)
}

// HTTPStatusFromCode resolves the HTTP status code corresponding to an error code.
func HTTPStatusFromCode(code string) int {
	if status, ok := codeStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// responseDetails merges envelope details with context; details win on
// key clashes.
func responseDetails(envelope *gferrors.ErrorEnvelope) map[string]any {
	details := make(map[string]any, len(envelope.Details)+len(envelope.Context))
	for key, value := range envelope.Context {
		details[key] = value
	}
	for key, value := range envelope.Details {
		details[key] = value
	}
	if len(details) == 0 {
		return nil
	}
	return details
}

// HTTPErrorDetail captures the error body returned to callers.
type HTTPErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// HTTPErrorResponse wraps HTTPErrorDetail in the standard envelope structure.
type HTTPErrorResponse struct {
	Error HTTPErrorDetail `json:"error"`
}

// RespondWithError normalizes the supplied error and writes a JSON response.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	RespondWithEnvelope(w, r, EnsureEnvelope(err))
}

// RespondWithEnvelope logs envelope, counts it and writes it with the
// status its code maps to.
func RespondWithEnvelope(w http.ResponseWriter, r *http.Request, envelope *gferrors.ErrorEnvelope) {
	if w == nil {
		return
	}
	if envelope == nil {
		envelope = EnsureEnvelope(nil)
	}
	if envelope.CorrelationID == "" {
		var ctx context.Context
		if r != nil {
			ctx = r.Context()
		}
		envelope = envelope.WithCorrelationID(correlationID(ctx))
	}

	status := HTTPStatusFromEnvelope(envelope)
	logHTTPError(envelope, status)
	metrics.RecordError(envelope.Code, status, routeLabel(r))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: HTTPErrorDetail{
		Code:      envelope.Code,
		Message:   envelope.Message,
		Details:   responseDetails(envelope),
		RequestID: envelope.CorrelationID,
	}})
}

// routeLabel is the matched chi route pattern, or "" when routing did not
// match. Raw paths carry source names and would explode label cardinality.
func routeLabel(r *http.Request) string {
	if r == nil {
		return ""
	}
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

func logHTTPError(envelope *gferrors.ErrorEnvelope, status int) {
	logger := observability.ServerLogger
	if logger == nil {
		return
	}

	fields := make([]zap.Field, 0, len(envelope.Context)+4)
	fields = append(fields,
		zap.String("error_code", envelope.Code),
		zap.Int("http_status", status),
		zap.String("request_id", envelope.CorrelationID))
	if envelope.Severity != "" {
		fields = append(fields, zap.String("severity", string(envelope.Severity)))
	}
	for key, value := range envelope.Context {
		fields = append(fields, zap.Any(key, value))
	}

	switch {
	case envelope.Severity == gferrors.SeverityCritical || envelope.Severity == gferrors.SeverityHigh:
		logger.Error(envelope.Message, fields...)
	case envelope.Severity == gferrors.SeverityMedium || status >= http.StatusInternalServerError:
		logger.Warn(envelope.Message, fields...)
	default:
		logger.Info(envelope.Message, fields...)
	}
}
