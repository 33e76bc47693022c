package store

import (
	"context"
	"fmt"
	"time"
)

// Color is the derived health classification for a device or metric.
type Color string

// Status colors, from healthy to stale.
const (
	// ColorGrey means no value has ever been recorded.
	ColorGrey Color = "grey"

	// ColorGreen means the most recent value is within one day.
	ColorGreen Color = "green"

	// ColorYellow means the most recent value is within seven days.
	ColorYellow Color = "yellow"

	// ColorRed means the most recent value is older than seven days.
	ColorRed Color = "red"
)

// Recency windows for the green and yellow classifications.
const (
	greenWindow  = 24 * time.Hour
	yellowWindow = 7 * 24 * time.Hour
)

// StatusReader is the read-side slice of Store the classifier needs.
type StatusReader interface {
	LatestDeviceTimestamp(ctx context.Context, deviceName string) (*time.Time, error)
	LatestMetricTimestamp(ctx context.Context, metricID string) (*time.Time, error)
}

// Classifier computes health colors from most-recent-value recency.
// Evaluation is on demand against current storage state, not incrementally
// maintained: repeated calls with unchanged storage return identical
// results.
type Classifier struct {
	reader StatusReader

	// now is injectable for deterministic tests.
	now func() time.Time
}

// NewClassifier creates a classifier reading from the given store.
func NewClassifier(reader StatusReader) *Classifier {
	return &Classifier{reader: reader, now: time.Now}
}

// SetClock overrides the evaluation clock. Intended for tests.
func (c *Classifier) SetClock(now func() time.Time) {
	c.now = now
}

// ClassifyDevices returns the health color for each named device,
// evaluated across all of the device's metrics.
func (c *Classifier) ClassifyDevices(ctx context.Context, names []string) (map[string]Color, error) {
	result := make(map[string]Color, len(names))
	for _, name := range names {
		last, err := c.reader.LatestDeviceTimestamp(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("classifying device %q: %w", name, err)
		}
		result[name] = c.colorFor(last)
	}
	return result, nil
}

// ClassifyMetrics returns the health color for each metric identity.
func (c *Classifier) ClassifyMetrics(ctx context.Context, metricIDs []string) (map[string]Color, error) {
	result := make(map[string]Color, len(metricIDs))
	for _, id := range metricIDs {
		last, err := c.reader.LatestMetricTimestamp(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("classifying metric %q: %w", id, err)
		}
		result[id] = c.colorFor(last)
	}
	return result, nil
}

// colorFor maps a most-recent timestamp onto a color. A nil timestamp
// (no recorded value) is grey.
func (c *Classifier) colorFor(last *time.Time) Color {
	if last == nil {
		return ColorGrey
	}
	age := c.now().Sub(*last)
	switch {
	case age <= greenWindow:
		return ColorGreen
	case age <= yellowWindow:
		return ColorYellow
	default:
		return ColorRed
	}
}
