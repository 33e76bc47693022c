package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mbaxter-dev/sparkhist/internal/store"
)

// deviceResponse is a device row decorated with its recency status.
type deviceResponse struct {
	Name           string      `json:"name"`
	Topic          string      `json:"topic"`
	BirthTimestamp *time.Time  `json:"birth_timestamp,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	Status         store.Color `json:"status"`
}

// metricResponse is a metric definition decorated with its recency status.
type metricResponse struct {
	ID         string      `json:"id"`
	MetricName string      `json:"metric_name"`
	CreatedAt  time.Time   `json:"created_at"`
	Status     store.Color `json:"status"`
}

// handleListDevices returns all known devices, optionally filtered by a
// case-insensitive substring match on the name via ?q=.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	devices, err := s.store.ListDevices(ctx, r.URL.Query().Get("q"))
	if err != nil {
		s.logger.Error("list devices failed", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}

	names := make([]string, len(devices))
	for i, d := range devices {
		names[i] = d.Name
	}
	colors, err := s.classifier.ClassifyDevices(ctx, names)
	if err != nil {
		s.logger.Error("device status classification failed", "error", err)
		writeInternalError(w, "failed to classify devices")
		return
	}

	resp := make([]deviceResponse, len(devices))
	for i, d := range devices {
		resp[i] = toDeviceResponse(d, colors[d.Name])
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": resp,
		"count":   len(resp),
	})
}

// handleGetDevice returns one device by name.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")

	device, err := s.store.GetDevice(ctx, name)
	if err != nil {
		s.logger.Error("get device failed", "name", name, "error", err)
		writeInternalError(w, "failed to load device")
		return
	}
	if device == nil {
		writeNotFound(w, "device not found")
		return
	}

	colors, err := s.classifier.ClassifyDevices(ctx, []string{name})
	if err != nil {
		s.logger.Error("device status classification failed", "name", name, "error", err)
		writeInternalError(w, "failed to classify device")
		return
	}

	writeJSON(w, http.StatusOK, toDeviceResponse(*device, colors[name]))
}

// handleDeviceMetrics returns a device's metric definitions with per-metric
// recency status.
func (s *Server) handleDeviceMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")

	device, err := s.store.GetDevice(ctx, name)
	if err != nil {
		s.logger.Error("get device failed", "name", name, "error", err)
		writeInternalError(w, "failed to load device")
		return
	}
	if device == nil {
		writeNotFound(w, "device not found")
		return
	}

	defs, err := s.store.ListMetricDefinitions(ctx, name)
	if err != nil {
		s.logger.Error("list metric definitions failed", "name", name, "error", err)
		writeInternalError(w, "failed to list metrics")
		return
	}

	ids := make([]string, len(defs))
	for i, d := range defs {
		ids[i] = d.ID
	}
	colors, err := s.classifier.ClassifyMetrics(ctx, ids)
	if err != nil {
		s.logger.Error("metric status classification failed", "name", name, "error", err)
		writeInternalError(w, "failed to classify metrics")
		return
	}

	resp := make([]metricResponse, len(defs))
	for i, d := range defs {
		resp[i] = metricResponse{
			ID:         d.ID,
			MetricName: d.MetricName,
			CreatedAt:  d.CreatedAt,
			Status:     colors[d.ID],
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device":  name,
		"metrics": resp,
		"count":   len(resp),
	})
}

func toDeviceResponse(d store.Device, color store.Color) deviceResponse {
	return deviceResponse{
		Name:           d.Name,
		Topic:          d.Topic,
		BirthTimestamp: d.BirthTimestamp,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
		Status:         color,
	}
}
