package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/pkgindex/registry/internal/registry"
	"github.com/pkgindex/registry/internal/stats"
)

// ErrorResponse is the body of every error response
type ErrorResponse struct {
	Error  ErrorDetail `json:"error"`
	Status int         `json:"status"`
}

// ErrorDetail contains detailed error information
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// statusOf maps a registry error kind to its HTTP status and code
func statusOf(kind registry.Kind) (int, string) {
	switch kind {
	case registry.KindValidation:
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case registry.KindConflict:
		return http.StatusConflict, "CONFLICT"
	case registry.KindNotFound:
		return http.StatusNotFound, "NOT_FOUND"
	default:
		return http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"
	}
}

// writeError renders err. Internal errors are logged and their cause is
// shown only when showDetails is set.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var regErr *registry.Error
	if !errors.As(err, &regErr) {
		regErr = registry.Internal("", err)
	}

	status, code := statusOf(regErr.Kind)
	resp := ErrorResponse{
		Error:  ErrorDetail{Code: code, Message: regErr.PublicMessage()},
		Status: status,
	}

	switch regErr.Kind {
	case registry.KindValidation:
		if len(regErr.Fields) > 0 {
			resp.Error.Details = map[string]any{"fields": regErr.Fields}
		}
	case registry.KindConflict, registry.KindNotFound:
		if len(regErr.Identity) > 0 {
			resp.Error.Details = map[string]any{"identity": regErr.Identity}
		}
	case registry.KindInternal:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		if h.cfg.ShowErrorDetails {
			resp.Error.Details = map[string]any{"error": err.Error()}
		}
	}

	writeJSON(w, status, resp)
}

// writeStatsError maps upstream statistics failures
func (h *Handler) writeStatsError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, stats.ErrNotFound):
		WriteError(w, http.StatusNotFound, "NOT_FOUND", "download statistics not found")
	case errors.Is(err, stats.ErrCircuitOpen):
		WriteError(w, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "download statistics are temporarily unavailable")
	default:
		WriteError(w, http.StatusBadGateway, "UPSTREAM_ERROR", "failed to fetch download statistics")
	}
}

// WriteError writes an error response
func WriteError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:  ErrorDetail{Code: code, Message: message},
		Status: status,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusNotFound, "NOT_FOUND", "The requested resource was not found")
}

func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method "+r.Method+" is not allowed for this resource")
}
