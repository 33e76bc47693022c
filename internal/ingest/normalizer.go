package ingest

import (
	"strconv"
	"strings"
	"time"

	"github.com/mbaxter-dev/sparkhist/internal/sparkplug"
	"github.com/mbaxter-dev/sparkhist/internal/store"
)

// EventKind separates definition events (births, which register devices
// and metrics) from update events (data carrying new values only).
type EventKind int

// Inbound event kinds.
const (
	Definition EventKind = iota
	Update
)

// String returns the kind name for logging.
func (k EventKind) String() string {
	if k == Definition {
		return "definition"
	}
	return "update"
}

// Tuple is one canonical value extracted from a wire message.
type Tuple struct {
	MetricID   string          `json:"metric_id"`
	MetricName string          `json:"metric_name"`
	Timestamp  time.Time       `json:"timestamp"`
	Value      sparkplug.Value `json:"value"`
	FromBirth  bool            `json:"from_birth"`
}

// Event is a decoded, normalised unit of work: one device context and the
// metric tuples extracted from one wire message.
type Event struct {
	Kind       EventKind  `json:"kind"`
	DeviceName string     `json:"device_name"`
	Topic      string     `json:"topic"`
	BirthTime  *time.Time `json:"birth_time,omitempty"`
	Tuples     []Tuple    `json:"tuples"`
}

// statusTemplatePrefix recognises the one structured-value template shape
// the historian unwraps: a "Status" instance whose nested child metric
// named "value" carries the scalar.
const statusTemplatePrefix = "Status"

// statusValueChild is the child metric name holding the scalar inside a
// recognised status template.
const statusValueChild = "value"

// Logger is the logging interface the ingestion pipeline needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Normalizer converts decoded payloads plus topic context into inbound
// events.
type Normalizer struct {
	logger Logger
}

// NewNormalizer creates a normalizer.
func NewNormalizer(logger Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize converts one decoded message into an inbound event, or nil
// when the message contributes nothing to history (deaths, commands,
// updates with no usable values).
//
// Metrics that never resolve to a usable value are excluded before
// definition registration, so a metric with only unsupported values is
// never recorded as known. Definition events are returned even with zero
// tuples: the device itself is still registered.
func (n *Normalizer) Normalize(topic sparkplug.Topic, payload *sparkplug.Payload) *Event {
	var kind EventKind
	switch {
	case topic.IsDefinition():
		kind = Definition
	case topic.IsUpdate():
		kind = Update
	default:
		return nil
	}

	ev := &Event{
		Kind:       kind,
		DeviceName: topic.DeviceName(),
		Topic:      topic.String(),
	}
	if kind == Definition && payload.Timestamp != 0 {
		birth := time.UnixMilli(int64(payload.Timestamp)).UTC()
		ev.BirthTime = &birth
	}

	fromBirth := kind == Definition
	for i := range payload.Metrics {
		metric := &payload.Metrics[i]

		value := n.resolveValue(metric)
		if !value.Usable() {
			continue
		}

		name := resolveName(metric, kind)
		if name == "" {
			continue
		}

		ev.Tuples = append(ev.Tuples, Tuple{
			MetricID:   store.MetricID(ev.DeviceName, name),
			MetricName: name,
			Timestamp:  tupleTimestamp(metric, payload),
			Value:      value,
			FromBirth:  fromBirth,
		})
	}

	if kind == Update && len(ev.Tuples) == 0 {
		return nil
	}
	return ev
}

// resolveValue returns the recordable scalar for a metric, unwrapping the
// recognised status template shape recursively. Template type definitions
// yield no value; any other template is dropped with a warning.
func (n *Normalizer) resolveValue(metric *sparkplug.Metric) sparkplug.Value {
	if metric.DataType != sparkplug.DataTypeTemplate && metric.Template == nil {
		return metric.Value
	}

	t := metric.Template
	if t == nil || t.IsDefinition {
		return sparkplug.Unsupported()
	}
	if strings.HasPrefix(t.TemplateRef, statusTemplatePrefix) {
		if child := t.Child(statusValueChild); child != nil {
			return n.resolveValue(child)
		}
	}

	n.logger.Warn("dropping unrecognised template metric",
		"metric", metric.Name,
		"template_ref", t.TemplateRef,
	)
	return sparkplug.Unsupported()
}

// resolveName picks the registered metric name. Definitions prefer the
// alias (as a decimal string) so later alias-only updates resolve to the
// same identity; updates use the literal name from the message.
func resolveName(metric *sparkplug.Metric, kind EventKind) string {
	alias := ""
	if metric.Alias != nil && *metric.Alias != 0 {
		alias = strconv.FormatUint(*metric.Alias, 10)
	}

	if kind == Definition && alias != "" {
		return alias
	}
	if metric.Name != "" {
		return metric.Name
	}
	return alias
}

// tupleTimestamp prefers the metric's own sample time over the payload
// envelope time, falling back to the wall clock when neither is present.
func tupleTimestamp(metric *sparkplug.Metric, payload *sparkplug.Payload) time.Time {
	if metric.Timestamp != nil && *metric.Timestamp != 0 {
		return time.UnixMilli(int64(*metric.Timestamp)).UTC()
	}
	if payload.Timestamp != 0 {
		return time.UnixMilli(int64(payload.Timestamp)).UTC()
	}
	return time.Now().UTC()
}
