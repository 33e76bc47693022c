package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mbaxter-dev/sparkhist/internal/sparkplug"
)

// valueResponse is one recorded sample in API form. Null samples carry a
// null value field.
type valueResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Value     any       `json:"value"`
	FromBirth bool      `json:"from_birth"`
}

// handleMetricValues returns recent values for one metric, newest first.
//
// Query parameters:
//   - limit: maximum rows to return (default 100, capped at 1000)
//   - since: RFC3339 lower bound on sample time
func (s *Server) handleMetricValues(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	metricID := chi.URLParam(r, "id")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeBadRequest(w, "since must be an RFC3339 timestamp")
			return
		}
		since = &parsed
	}

	values, err := s.store.ListMetricValues(ctx, metricID, since, limit)
	if err != nil {
		s.logger.Error("list metric values failed", "metric_id", metricID, "error", err)
		writeInternalError(w, "failed to list values")
		return
	}

	resp := make([]valueResponse, len(values))
	for i, v := range values {
		resp[i] = valueResponse{
			Timestamp: v.Timestamp,
			Value:     valueJSON(v.Value),
			FromBirth: v.FromBirth,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"metric_id": metricID,
		"values":    resp,
		"count":     len(resp),
	})
}

// handleStatus returns recency colors for a comma-separated list of device
// names via ?devices=. Unknown devices classify as grey rather than erroring,
// so dashboards can poll a fixed list.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw := r.URL.Query().Get("devices")
	if raw == "" {
		writeBadRequest(w, "devices query parameter is required")
		return
	}

	var names []string
	for _, name := range strings.Split(raw, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		writeBadRequest(w, "devices query parameter is required")
		return
	}

	colors, err := s.classifier.ClassifyDevices(ctx, names)
	if err != nil {
		s.logger.Error("bulk status classification failed", "error", err)
		writeInternalError(w, "failed to classify devices")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": colors,
	})
}

// valueJSON converts a stored value to its JSON representation.
func valueJSON(v sparkplug.Value) any {
	switch v.Kind {
	case sparkplug.ValueNumber:
		return v.Num
	case sparkplug.ValueBoolean:
		return v.Bool
	case sparkplug.ValueString:
		return v.Str
	default:
		return nil
	}
}
