// ABOUTME: MCP resource implementations for KPI metrics.
// ABOUTME: Provides kpi://metrics and kpi://categories resources.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/kpi/internal/models"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func (s *Server) registerResources() {
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "kpi://metrics",
		Name:        "Metric Definitions",
		Description: "Every metric with its source and formula",
		MIMEType:    "application/json",
	}, s.handleMetricsResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "kpi://categories",
		Name:        "Categories",
		Description: "Category tree with the metrics shown in each category",
		MIMEType:    "application/json",
	}, s.handleCategoriesResource)
}

type categoryEntry struct {
	ID       string          `json:"id"`
	Slug     string          `json:"slug"`
	Name     string          `json:"name"`
	ParentID string          `json:"parent_id,omitempty"`
	Metrics  []categoryShown `json:"metrics"`
}

type categoryShown struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ReadOnly bool   `json:"read_only"`
}

// Resource handlers

func (s *Server) handleMetricsResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	metrics, err := s.repo.ListMetrics(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list metrics: %w", err)
	}
	names := make(map[uuid.UUID]string, len(metrics))
	for _, m := range metrics {
		names[m.ID] = m.Name
	}

	summaries := make([]metricSummary, 0, len(metrics))
	for _, m := range metrics {
		summaries = append(summaries, summarize(m, names))
	}

	return jsonResource("kpi://metrics", map[string]interface{}{
		"generated_at": time.Now().Format(time.RFC3339),
		"metrics":      summaries,
		"count":        len(summaries),
	})
}

func (s *Server) handleCategoriesResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	metrics, err := s.repo.ListMetrics(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list metrics: %w", err)
	}

	entries := make([]categoryEntry, 0, len(categories))
	for _, c := range categories {
		e := categoryEntry{ID: c.ID.String(), Slug: c.Slug, Name: c.Name, Metrics: []categoryShown{}}
		if c.ParentID != nil {
			e.ParentID = c.ParentID.String()
		}
		for _, m := range metrics {
			if m.VisibleIn(c.ID) {
				e.Metrics = append(e.Metrics, categoryShown{
					ID:       m.ID.String(),
					Name:     m.Name,
					ReadOnly: m.CategoryID != c.ID,
				})
			}
		}
		entries = append(entries, e)
	}

	return jsonResource("kpi://categories", map[string]interface{}{
		"categories": entries,
		"roots":      len(roots(categories)),
	})
}

func roots(categories []*models.Category) []*models.Category {
	var out []*models.Category
	for _, c := range categories {
		if c.ParentID == nil {
			out = append(out, c)
		}
	}
	return out
}

func jsonResource(uri string, v interface{}) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}
