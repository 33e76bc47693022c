package store

import (
	"context"
	"time"

	"github.com/mbaxter-dev/sparkhist/internal/sparkplug"
)

// metricIDSeparator joins device and metric names into a metric identity.
const metricIDSeparator = "::"

// Device is one telemetry-publishing entity, identified by name.
// Topic and birth timestamp are refreshed on later definition events but
// never erased by an absent value (coalesce semantics).
type Device struct {
	Name           string     `json:"name"`
	Topic          string     `json:"topic"`
	BirthTimestamp *time.Time `json:"birth_timestamp,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// MetricDefinition registers one (device, metric) pair. Created once,
// immutable thereafter; duplicate inserts are no-ops.
type MetricDefinition struct {
	ID         string    `json:"id"`
	DeviceName string    `json:"device_name"`
	MetricName string    `json:"metric_name"`
	CreatedAt  time.Time `json:"created_at"`
}

// MetricValue is one recorded sample. Identity is (MetricID, Timestamp)
// but duplicates are not deduplicated; rows are append-only.
type MetricValue struct {
	MetricID  string          `json:"metric_id"`
	Timestamp time.Time       `json:"timestamp"`
	Value     sparkplug.Value `json:"-"`
	FromBirth bool            `json:"from_birth"`
}

// MetricID derives the globally unique metric identity from its device
// and metric names.
func MetricID(deviceName, metricName string) string {
	return deviceName + metricIDSeparator + metricName
}

// Tx is one storage transaction. All writes within it are committed
// atomically or rolled back together.
type Tx interface {
	// UpsertDevice inserts or refreshes a device row. Existing topic and
	// birth timestamp values are preserved when the new value is absent.
	UpsertDevice(ctx context.Context, d Device) error

	// InsertMetricDefinitions bulk-inserts definitions, ignoring rows
	// that already exist.
	InsertMetricDefinitions(ctx context.Context, defs []MetricDefinition) error

	// InsertMetricValues bulk-inserts value rows.
	InsertMetricValues(ctx context.Context, values []MetricValue) error

	Commit() error
	Rollback() error
}

// Store is the transactional persistence interface consumed by the batch
// committer and the read-side collaborators (status classifier, REST API).
type Store interface {
	// BeginTx opens one transaction against the storage engine.
	BeginTx(ctx context.Context) (Tx, error)

	// LatestDeviceTimestamp returns the most recent value timestamp across
	// all of a device's metrics, or nil when no value exists.
	LatestDeviceTimestamp(ctx context.Context, deviceName string) (*time.Time, error)

	// LatestMetricTimestamp returns the most recent value timestamp for a
	// single metric, or nil when no value exists.
	LatestMetricTimestamp(ctx context.Context, metricID string) (*time.Time, error)

	// ListDevices returns devices ordered by name, optionally filtered by
	// a case-insensitive substring match on the name.
	ListDevices(ctx context.Context, query string) ([]Device, error)

	// GetDevice returns one device, or nil when unknown.
	GetDevice(ctx context.Context, name string) (*Device, error)

	// ListMetricDefinitions returns a device's definitions ordered by
	// metric name.
	ListMetricDefinitions(ctx context.Context, deviceName string) ([]MetricDefinition, error)

	// ListMetricValues returns recent values for a metric, newest first,
	// optionally bounded by a lower timestamp.
	ListMetricValues(ctx context.Context, metricID string, since *time.Time, limit int) ([]MetricValue, error)

	// InsertDeadLetter records a failed batch for operator inspection.
	// Runs outside any ingestion transaction.
	InsertDeadLetter(ctx context.Context, kind string, payload []byte, cause string) error

	// PruneValues deletes value rows older than the given duration and
	// returns the number removed.
	PruneValues(ctx context.Context, olderThan time.Duration) (int64, error)
}
