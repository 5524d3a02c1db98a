// ABOUTME: HTTP handlers for categories, metric series, value overrides, and previews.
// ABOUTME: Request bodies and responses are JSON.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/harperreed/kpi/internal/engine"
	"github.com/harperreed/kpi/internal/models"
	"github.com/harperreed/kpi/internal/storage"
)

// updatedBy marks values written through the HTTP API.
const updatedBy = "api"

type seriesResponse struct {
	Metric      *models.MetricDefinition `json:"metric"`
	Granularity models.Granularity       `json:"granularity"`
	Points      []engine.Point           `json:"points"`
}

type overviewMember struct {
	Metric   *models.MetricDefinition `json:"metric"`
	ReadOnly bool                     `json:"read_only"`
	Points   []engine.Point           `json:"points"`
	Error    string                   `json:"error,omitempty"`
}

type overviewResponse struct {
	Category    *models.Category   `json:"category"`
	Granularity models.Granularity `json:"granularity"`
	Metrics     []overviewMember   `json:"metrics"`
}

type valueRequest struct {
	Value *float64 `json:"value"`
}

// previewRequest carries a client generation counter that is echoed back so
// the caller can drop responses older than its latest request.
type previewRequest struct {
	Generation uint64              `json:"generation"`
	MetricID   string              `json:"metric_id,omitempty"`
	Formula    storage.FormulaRefs `json:"formula"`
	Months     []string            `json:"months,omitempty"`
}

type previewResponse struct {
	Generation uint64                `json:"generation"`
	Complete   bool                  `json:"complete"`
	Points     []engine.PreviewPoint `json:"points"`
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.repo.ListCategories(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if categories == nil {
		categories = []*models.Category{}
	}
	writeJSON(w, http.StatusOK, categories)
}

func (s *Server) listMetrics(w http.ResponseWriter, r *http.Request) {
	var categoryID *uuid.UUID
	if ref := r.URL.Query().Get("category"); ref != "" {
		c, err := s.repo.GetCategory(r.Context(), ref)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		categoryID = &c.ID
	}
	metrics, err := s.repo.ListMetrics(r.Context(), categoryID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if metrics == nil {
		metrics = []*models.MetricDefinition{}
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) metricSeries(w http.ResponseWriter, r *http.Request) {
	m, err := s.repo.GetMetric(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	periods, g, err := s.periods(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	pts, err := s.engine.ComputeSeries(r.Context(), m.ID, periods, g)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, seriesResponse{Metric: m, Granularity: g, Points: pts})
}

func (s *Server) categoryOverview(w http.ResponseWriter, r *http.Request) {
	c, err := s.repo.GetCategory(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	periods, g, err := s.periods(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	series, err := s.engine.ComputeCategory(r.Context(), c.ID, periods, g)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := overviewResponse{Category: c, Granularity: g, Metrics: make([]overviewMember, 0, len(series))}
	for _, ms := range series {
		member := overviewMember{Metric: ms.Metric, ReadOnly: ms.ReadOnly, Points: ms.Points}
		if ms.Err != nil {
			member.Error = ms.Err.Error()
		}
		resp.Metrics = append(resp.Metrics, member)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) putValue(w http.ResponseWriter, r *http.Request) {
	m, month, ok := s.metricMonth(w, r)
	if !ok {
		return
	}
	var body valueRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, badRequest{err})
		return
	}

	v := models.NewManualValue(m.ID, month, body.Value).WithUpdatedBy(updatedBy)
	if err := s.repo.UpsertValue(r.Context(), v); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) deleteValue(w http.ResponseWriter, r *http.Request) {
	m, month, ok := s.metricMonth(w, r)
	if !ok {
		return
	}
	if err := s.repo.DeleteValue(r.Context(), m.ID, month); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) preview(w http.ResponseWriter, r *http.Request) {
	var body previewRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writePreviewError(w, r, badRequest{err}, body.Generation)
		return
	}

	f, err := storage.ResolveDraft(r.Context(), s.repo, body.Formula)
	if err != nil {
		s.writePreviewError(w, r, err, body.Generation)
		return
	}
	req := engine.PreviewRequest{Formula: f}
	if body.MetricID != "" {
		m, err := s.repo.GetMetric(r.Context(), body.MetricID)
		if err != nil {
			s.writePreviewError(w, r, err, body.Generation)
			return
		}
		req.MetricID = &m.ID
	}
	for _, raw := range body.Months {
		month, err := models.ParseMonth(raw)
		if err != nil {
			s.writePreviewError(w, r, badRequest{err}, body.Generation)
			return
		}
		req.Months = append(req.Months, month)
	}

	res, err := s.engine.Preview(r.Context(), req)
	if err != nil {
		s.writePreviewError(w, r, err, body.Generation)
		return
	}
	writeJSON(w, http.StatusOK, previewResponse{Generation: body.Generation, Complete: res.Complete, Points: res.Points})
}

// periods reads from, to, and granularity query parameters.
func (s *Server) periods(r *http.Request) ([]models.Period, models.Granularity, error) {
	q := r.URL.Query()
	periods, g, err := models.ResolvePeriods(q.Get("from"), q.Get("to"), q.Get("granularity"), s.now())
	if err != nil {
		return nil, "", badRequest{err}
	}
	return periods, g, nil
}

// metricMonth resolves the {id} and {period} path variables, writing the
// error response itself when either is invalid.
func (s *Server) metricMonth(w http.ResponseWriter, r *http.Request) (*models.MetricDefinition, time.Time, bool) {
	vars := mux.Vars(r)
	m, err := s.repo.GetMetric(r.Context(), vars["id"])
	if err != nil {
		s.writeError(w, r, err)
		return nil, time.Time{}, false
	}
	month, err := models.ParseMonth(vars["period"])
	if err != nil {
		s.writeError(w, r, badRequest{err})
		return nil, time.Time{}, false
	}
	return m, month, true
}
