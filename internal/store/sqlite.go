package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mbaxter-dev/sparkhist/internal/sparkplug"
)

// Query limit bounds for value history reads.
const (
	defaultValueLimit = 100
	maxValueLimit     = 1000
)

// SQLite wraps a sql.DB with the historian's persistence operations.
// Schema lives in migrations/; this type assumes migrations have run.
//
// Thread Safety: safe for concurrent use; SQLite's own locking serialises
// conflicting writers.
type SQLite struct {
	db *sql.DB
}

// NewSQLite creates a store backed by an open SQLite connection.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

// sqliteTx implements Tx on a sql.Tx.
type sqliteTx struct {
	tx *sql.Tx
}

// BeginTx opens one write transaction.
func (s *SQLite) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	return &sqliteTx{tx: tx}, nil
}

// UpsertDevice inserts or refreshes a device row. Topic and birth
// timestamp are only overwritten by present values; NULL or empty inputs
// leave the stored value intact.
func (t *sqliteTx) UpsertDevice(ctx context.Context, d Device) error {
	if d.Name == "" {
		return fmt.Errorf("device name is required")
	}

	now := time.Now().UTC().Format(time.RFC3339)
	var birthMs any
	if d.BirthTimestamp != nil {
		birthMs = d.BirthTimestamp.UnixMilli()
	}

	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO devices (name, topic, birth_ts, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		     topic      = COALESCE(NULLIF(excluded.topic, ''), devices.topic),
		     birth_ts   = COALESCE(excluded.birth_ts, devices.birth_ts),
		     updated_at = excluded.updated_at`,
		d.Name, d.Topic, birthMs, now, now,
	)
	if err != nil {
		return fmt.Errorf("upserting device %q: %w", d.Name, err)
	}
	return nil
}

// InsertMetricDefinitions bulk-inserts definitions; rows that already
// exist are ignored.
func (t *sqliteTx) InsertMetricDefinitions(ctx context.Context, defs []MetricDefinition) error {
	if len(defs) == 0 {
		return nil
	}

	stmt, err := t.tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO metric_definitions (id, device_name, metric_name, created_at)
		 VALUES (?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("preparing definition insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, def := range defs {
		if _, err := stmt.ExecContext(ctx, def.ID, def.DeviceName, def.MetricName, now); err != nil {
			return fmt.Errorf("inserting definition %q: %w", def.ID, err)
		}
	}
	return nil
}

// InsertMetricValues bulk-inserts value rows. Values are append-only;
// duplicate (metric, timestamp) pairs are stored as seen.
func (t *sqliteTx) InsertMetricValues(ctx context.Context, values []MetricValue) error {
	if len(values) == 0 {
		return nil
	}

	stmt, err := t.tx.PrepareContext(ctx,
		`INSERT INTO metric_values (metric_id, ts, kind, num_value, bool_value, text_value, from_birth)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("preparing value insert: %w", err)
	}
	defer stmt.Close()

	for _, v := range values {
		kind, num, boolean, text := encodeValue(v.Value)
		if _, err := stmt.ExecContext(ctx,
			v.MetricID, v.Timestamp.UnixMilli(), kind, num, boolean, text, boolToInt(v.FromBirth),
		); err != nil {
			return fmt.Errorf("inserting value for %q: %w", v.MetricID, err)
		}
	}
	return nil
}

func (t *sqliteTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// LatestDeviceTimestamp returns the newest value timestamp across all of
// a device's metrics, or nil when the device has no recorded values.
func (s *SQLite) LatestDeviceTimestamp(ctx context.Context, deviceName string) (*time.Time, error) {
	var ms sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(v.ts)
		 FROM metric_values v
		 JOIN metric_definitions d ON d.id = v.metric_id
		 WHERE d.device_name = ?`,
		deviceName,
	).Scan(&ms)
	if err != nil {
		return nil, fmt.Errorf("querying latest device timestamp: %w", err)
	}
	return nullableMillis(ms), nil
}

// LatestMetricTimestamp returns the newest value timestamp for one
// metric, or nil when no value exists.
func (s *SQLite) LatestMetricTimestamp(ctx context.Context, metricID string) (*time.Time, error) {
	var ms sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM metric_values WHERE metric_id = ?`,
		metricID,
	).Scan(&ms)
	if err != nil {
		return nil, fmt.Errorf("querying latest metric timestamp: %w", err)
	}
	return nullableMillis(ms), nil
}

// ListDevices returns devices ordered by name. A non-empty query filters
// by case-insensitive substring match.
func (s *SQLite) ListDevices(ctx context.Context, query string) ([]Device, error) {
	q := `SELECT name, topic, birth_ts, created_at, updated_at FROM devices`
	args := []any{}
	if query != "" {
		q += ` WHERE name LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(query)+"%")
	}
	q += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// GetDevice returns one device by name, or nil when unknown.
func (s *SQLite) GetDevice(ctx context.Context, name string) (*Device, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, topic, birth_ts, created_at, updated_at FROM devices WHERE name = ?`,
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("querying device: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("querying device: %w", err)
		}
		return nil, nil
	}
	d, err := scanDevice(rows)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListMetricDefinitions returns a device's definitions ordered by metric
// name.
func (s *SQLite) ListMetricDefinitions(ctx context.Context, deviceName string) ([]MetricDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device_name, metric_name, created_at
		 FROM metric_definitions
		 WHERE device_name = ?
		 ORDER BY metric_name`,
		deviceName,
	)
	if err != nil {
		return nil, fmt.Errorf("querying definitions: %w", err)
	}
	defer rows.Close()

	var defs []MetricDefinition
	for rows.Next() {
		var def MetricDefinition
		var createdAt string
		if err := rows.Scan(&def.ID, &def.DeviceName, &def.MetricName, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning definition: %w", err)
		}
		def.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating definitions: %w", err)
	}
	return defs, nil
}

// ListMetricValues returns recent values for a metric, newest first.
// The limit defaults to 100 and is clamped to 1000.
func (s *SQLite) ListMetricValues(ctx context.Context, metricID string, since *time.Time, limit int) ([]MetricValue, error) {
	if limit <= 0 {
		limit = defaultValueLimit
	}
	if limit > maxValueLimit {
		limit = maxValueLimit
	}

	q := `SELECT metric_id, ts, kind, num_value, bool_value, text_value, from_birth
	      FROM metric_values
	      WHERE metric_id = ?`
	args := []any{metricID}
	if since != nil {
		q += ` AND ts >= ?`
		args = append(args, since.UnixMilli())
	}
	q += ` ORDER BY ts DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying values: %w", err)
	}
	defer rows.Close()

	values := make([]MetricValue, 0, limit)
	for rows.Next() {
		var (
			v       MetricValue
			ms      int64
			kind    string
			num     sql.NullFloat64
			boolean sql.NullInt64
			text    sql.NullString
			birth   int
		)
		if err := rows.Scan(&v.MetricID, &ms, &kind, &num, &boolean, &text, &birth); err != nil {
			return nil, fmt.Errorf("scanning value: %w", err)
		}
		v.Timestamp = time.UnixMilli(ms).UTC()
		v.Value = decodeValue(kind, num, boolean, text)
		v.FromBirth = birth != 0
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating values: %w", err)
	}
	return values, nil
}

// InsertDeadLetter records a failed batch outside any ingestion
// transaction, so the capture survives the rollback that preceded it.
func (s *SQLite) InsertDeadLetter(ctx context.Context, kind string, payload []byte, cause string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letters (kind, payload, cause, created_at) VALUES (?, ?, ?, ?)`,
		kind, payload, cause, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting dead letter: %w", err)
	}
	return nil
}

// PruneValues deletes value rows older than the given duration.
func (s *SQLite) PruneValues(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM metric_values WHERE ts < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning values: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading prune count: %w", err)
	}
	return n, nil
}

// Value column encodings.
const (
	kindNumber  = "number"
	kindBoolean = "boolean"
	kindString  = "string"
	kindNull    = "null"
)

// encodeValue maps the tagged variant onto the kind discriminator and the
// three nullable value columns.
func encodeValue(v sparkplug.Value) (kind string, num, boolean, text any) {
	switch v.Kind {
	case sparkplug.ValueNumber:
		return kindNumber, v.Num, nil, nil
	case sparkplug.ValueBoolean:
		return kindBoolean, nil, boolToInt(v.Bool), nil
	case sparkplug.ValueString:
		return kindString, nil, nil, v.Str
	default:
		return kindNull, nil, nil, nil
	}
}

func decodeValue(kind string, num sql.NullFloat64, boolean sql.NullInt64, text sql.NullString) sparkplug.Value {
	switch kind {
	case kindNumber:
		return sparkplug.Number(num.Float64)
	case kindBoolean:
		return sparkplug.Boolean(boolean.Int64 != 0)
	case kindString:
		return sparkplug.String(text.String)
	default:
		return sparkplug.Null()
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableMillis(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := time.UnixMilli(ms.Int64).UTC()
	return &t
}

func scanDevice(rows *sql.Rows) (Device, error) {
	var (
		d         Device
		birthMs   sql.NullInt64
		createdAt string
		updatedAt string
	)
	if err := rows.Scan(&d.Name, &d.Topic, &birthMs, &createdAt, &updatedAt); err != nil {
		return Device{}, fmt.Errorf("scanning device: %w", err)
	}
	d.BirthTimestamp = nullableMillis(birthMs)
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	d.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return d, nil
}

// escapeLike escapes LIKE wildcards in user-supplied search input.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
