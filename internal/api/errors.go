// ABOUTME: Maps storage and engine errors to HTTP status codes.
// ABOUTME: Every failure is written as {"error", "code"} JSON.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/harperreed/kpi/internal/engine"
	"github.com/harperreed/kpi/internal/models"
	"github.com/harperreed/kpi/internal/storage"
)

type errorResponse struct {
	Error      string  `json:"error"`
	Code       string  `json:"code"`
	Generation *uint64 `json:"generation,omitempty"`
}

// badRequest marks malformed input such as an unparseable month.
type badRequest struct{ err error }

func (e badRequest) Error() string { return e.err.Error() }
func (e badRequest) Unwrap() error { return e.err }

func classify(err error) (int, string) {
	var bad badRequest
	switch {
	case engine.IsFormulaCycle(err):
		return http.StatusUnprocessableEntity, "formula_cycle"
	case errors.Is(err, engine.ErrUnknownFormulaKind):
		return http.StatusUnprocessableEntity, "unknown_formula_kind"
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, engine.ErrMetricNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, storage.ErrAmbiguousPrefix):
		return http.StatusBadRequest, "ambiguous_prefix"
	case errors.Is(err, models.ErrInvalidFormula):
		return http.StatusBadRequest, "invalid_formula"
	case errors.Is(err, engine.ErrGranularityMismatch), errors.As(err, &bad):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, storage.ErrReadOnly):
		return http.StatusConflict, "read_only"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeErrorResponse(w, r, err, nil)
}

// writePreviewError echoes the request generation so preview clients can
// order failures against newer responses.
func (s *Server) writePreviewError(w http.ResponseWriter, r *http.Request, err error, generation uint64) {
	s.writeErrorResponse(w, r, err, &generation)
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, r *http.Request, err error, generation *uint64) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		s.log.Debug("request rejected", "path", r.URL.Path, "code", code, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code, Generation: generation})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
