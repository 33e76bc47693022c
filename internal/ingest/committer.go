package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/mbaxter-dev/sparkhist/internal/store"
)

// CommitResult summarises one committed batch.
type CommitResult struct {
	Kind        EventKind     `json:"kind"`
	Events      int           `json:"events"`
	Devices     int           `json:"devices"`
	Definitions int           `json:"definitions"`
	Values      int           `json:"values"`
	Elapsed     time.Duration `json:"elapsed"`
}

// StoreCommitter persists batches through a store.Store, one transaction
// per batch. Any failure rolls the whole batch back and the raw batch is
// captured as a dead letter so a partial write can never occur.
type StoreCommitter struct {
	store  store.Store
	logger Logger
}

// NewStoreCommitter creates a committer writing into s.
func NewStoreCommitter(s store.Store, logger Logger) *StoreCommitter {
	return &StoreCommitter{store: s, logger: logger}
}

// Commit writes one batch atomically. Per event it upserts the device,
// registers any unseen metric definitions, then appends value rows. The
// definitions derived from every tuple are (re)inserted idempotently, so a
// value row never lands without its definition even when the definition
// batch that introduced it failed earlier. The returned result carries the
// batch's counts and elapsed time whether or not the commit succeeded.
func (c *StoreCommitter) Commit(ctx context.Context, batch *Batch) (CommitResult, error) {
	start := time.Now()
	result := CommitResult{Kind: batch.Kind, Events: len(batch.Events)}

	devices := collectDevices(batch, start)
	defs := collectDefinitions(batch, start)
	values := collectValues(batch)
	result.Devices = len(devices)
	result.Definitions = len(defs)
	result.Values = len(values)

	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		c.deadLetter(ctx, batch, err)
		result.Elapsed = time.Since(start)
		return result, fmt.Errorf("begin batch transaction: %w", err)
	}

	if err := c.write(ctx, tx, devices, defs, values); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			c.logger.Error("batch rollback failed", "error", rbErr)
		}
		c.deadLetter(ctx, batch, err)
		result.Elapsed = time.Since(start)
		return result, err
	}

	if err := tx.Commit(); err != nil {
		c.deadLetter(ctx, batch, err)
		result.Elapsed = time.Since(start)
		return result, fmt.Errorf("commit batch: %w", err)
	}

	result.Elapsed = time.Since(start)
	return result, nil
}

func (c *StoreCommitter) write(ctx context.Context, tx store.Tx, devices []store.Device, defs []store.MetricDefinition, values []store.MetricValue) error {
	for _, d := range devices {
		if err := tx.UpsertDevice(ctx, d); err != nil {
			return fmt.Errorf("upsert device %q: %w", d.Name, err)
		}
	}
	if err := tx.InsertMetricDefinitions(ctx, defs); err != nil {
		return fmt.Errorf("insert metric definitions: %w", err)
	}
	if err := tx.InsertMetricValues(ctx, values); err != nil {
		return fmt.Errorf("insert metric values: %w", err)
	}
	return nil
}

// deadLetter records the failed batch verbatim. A capture failure is
// logged and swallowed; the batch is already lost either way.
func (c *StoreCommitter) deadLetter(ctx context.Context, batch *Batch, cause error) {
	payload, err := json.Marshal(batch.Events)
	if err != nil {
		c.logger.Error("dead letter encode failed", "error", err)
		payload = nil
	}
	if err := c.store.InsertDeadLetter(ctx, batch.Kind.String(), payload, cause.Error()); err != nil {
		c.logger.Error("dead letter capture failed",
			"kind", batch.Kind.String(),
			"events", len(batch.Events),
			"error", err,
		)
	}
}

// collectDevices coalesces one device row per distinct device in the
// batch, keeping the first non-empty topic and birth time seen.
func collectDevices(batch *Batch, now time.Time) []store.Device {
	byName := make(map[string]*store.Device)
	var order []string
	for _, ev := range batch.Events {
		d, ok := byName[ev.DeviceName]
		if !ok {
			d = &store.Device{Name: ev.DeviceName, CreatedAt: now, UpdatedAt: now}
			byName[ev.DeviceName] = d
			order = append(order, ev.DeviceName)
		}
		if d.Topic == "" {
			d.Topic = ev.Topic
		}
		if d.BirthTimestamp == nil && ev.BirthTime != nil {
			d.BirthTimestamp = ev.BirthTime
		}
	}

	sort.Strings(order)
	devices := make([]store.Device, 0, len(order))
	for _, name := range order {
		devices = append(devices, *byName[name])
	}
	return devices
}

// collectDefinitions derives one definition per distinct metric identity
// in the batch, regardless of event kind.
func collectDefinitions(batch *Batch, now time.Time) []store.MetricDefinition {
	seen := make(map[string]bool)
	var defs []store.MetricDefinition
	for _, ev := range batch.Events {
		for _, t := range ev.Tuples {
			if seen[t.MetricID] {
				continue
			}
			seen[t.MetricID] = true
			defs = append(defs, store.MetricDefinition{
				ID:         t.MetricID,
				DeviceName: ev.DeviceName,
				MetricName: t.MetricName,
				CreatedAt:  now,
			})
		}
	}
	return defs
}

func collectValues(batch *Batch) []store.MetricValue {
	var values []store.MetricValue
	for _, ev := range batch.Events {
		for _, t := range ev.Tuples {
			values = append(values, store.MetricValue{
				MetricID:  t.MetricID,
				Timestamp: t.Timestamp,
				Value:     t.Value,
				FromBirth: t.FromBirth,
			})
		}
	}
	return values
}
