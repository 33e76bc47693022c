package ingest

import (
	"testing"
	"time"

	"github.com/mbaxter-dev/sparkhist/internal/sparkplug"
	"github.com/mbaxter-dev/sparkhist/internal/store"
)

// nopLogger discards everything. Shared by the pipeline tests.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func u64(v uint64) *uint64 { return &v }

func birthTopic(t *testing.T) sparkplug.Topic {
	t.Helper()
	topic, err := sparkplug.ParseTopic("spBv1.0/plant1/DBIRTH/edge1/press7")
	if err != nil {
		t.Fatalf("ParseTopic: %v", err)
	}
	return topic
}

func dataTopic(t *testing.T) sparkplug.Topic {
	t.Helper()
	topic, err := sparkplug.ParseTopic("spBv1.0/plant1/DDATA/edge1/press7")
	if err != nil {
		t.Fatalf("ParseTopic: %v", err)
	}
	return topic
}

func TestNormalize_Definition(t *testing.T) {
	n := NewNormalizer(nopLogger{})

	payload := &sparkplug.Payload{
		Timestamp: 1700000000000,
		Metrics: []sparkplug.Metric{
			{Name: "temperature", DataType: sparkplug.DataTypeDouble, Value: sparkplug.Number(21.5)},
			{Name: "running", DataType: sparkplug.DataTypeBoolean, Value: sparkplug.Boolean(true)},
		},
	}

	ev := n.Normalize(birthTopic(t), payload)
	if ev == nil {
		t.Fatal("Normalize() returned nil for a birth message")
	}
	if ev.Kind != Definition {
		t.Errorf("Kind = %v, want Definition", ev.Kind)
	}
	if ev.DeviceName != "press7" {
		t.Errorf("DeviceName = %q, want press7", ev.DeviceName)
	}
	if ev.BirthTime == nil || ev.BirthTime.UnixMilli() != 1700000000000 {
		t.Errorf("BirthTime = %v, want payload timestamp", ev.BirthTime)
	}
	if len(ev.Tuples) != 2 {
		t.Fatalf("got %d tuples, want 2", len(ev.Tuples))
	}
	if !ev.Tuples[0].FromBirth {
		t.Error("definition tuples should be marked FromBirth")
	}
	if ev.Tuples[0].MetricID != store.MetricID("press7", "temperature") {
		t.Errorf("MetricID = %q", ev.Tuples[0].MetricID)
	}
}

func TestNormalize_IgnoresNonHistoryMessages(t *testing.T) {
	n := NewNormalizer(nopLogger{})

	for _, raw := range []string{
		"spBv1.0/plant1/NDEATH/edge1",
		"spBv1.0/plant1/NCMD/edge1",
		"spBv1.0/STATE/historian-01",
	} {
		topic, err := sparkplug.ParseTopic(raw)
		if err != nil {
			t.Fatalf("ParseTopic(%q): %v", raw, err)
		}
		if ev := n.Normalize(topic, &sparkplug.Payload{}); ev != nil {
			t.Errorf("Normalize(%q) = %+v, want nil", raw, ev)
		}
	}
}

func TestNormalize_UpdateWithoutUsableValues(t *testing.T) {
	n := NewNormalizer(nopLogger{})

	payload := &sparkplug.Payload{
		Timestamp: 1700000000000,
		Metrics: []sparkplug.Metric{
			{Name: "temperature", IsNull: true, Value: sparkplug.Null()},
			{Name: "blob", DataType: sparkplug.DataTypeBytes, Value: sparkplug.Unsupported()},
		},
	}

	if ev := n.Normalize(dataTopic(t), payload); ev != nil {
		t.Errorf("Normalize() = %+v, want nil for update with no usable values", ev)
	}
}

func TestNormalize_DefinitionWithoutValuesStillRegistersDevice(t *testing.T) {
	n := NewNormalizer(nopLogger{})

	payload := &sparkplug.Payload{
		Timestamp: 1700000000000,
		Metrics: []sparkplug.Metric{
			{Name: "temperature", IsNull: true, Value: sparkplug.Null()},
		},
	}

	ev := n.Normalize(birthTopic(t), payload)
	if ev == nil {
		t.Fatal("Normalize() returned nil; birth should register the device")
	}
	if len(ev.Tuples) != 0 {
		t.Errorf("got %d tuples, want 0", len(ev.Tuples))
	}
}

func TestNormalize_AliasNaming(t *testing.T) {
	n := NewNormalizer(nopLogger{})

	// Births register the alias as the metric identity so alias-only
	// updates resolve to the same metric.
	birth := &sparkplug.Payload{
		Metrics: []sparkplug.Metric{
			{Name: "temperature", Alias: u64(7), Value: sparkplug.Number(1)},
		},
	}
	ev := n.Normalize(birthTopic(t), birth)
	if ev.Tuples[0].MetricName != "7" {
		t.Errorf("birth metric name = %q, want alias %q", ev.Tuples[0].MetricName, "7")
	}

	// Updates keep the literal name when present.
	named := &sparkplug.Payload{
		Metrics: []sparkplug.Metric{
			{Name: "temperature", Alias: u64(7), Value: sparkplug.Number(2)},
		},
	}
	ev = n.Normalize(dataTopic(t), named)
	if ev.Tuples[0].MetricName != "temperature" {
		t.Errorf("update metric name = %q, want temperature", ev.Tuples[0].MetricName)
	}

	// Alias-only updates fall back to the alias.
	aliased := &sparkplug.Payload{
		Metrics: []sparkplug.Metric{
			{Alias: u64(7), Value: sparkplug.Number(3)},
		},
	}
	ev = n.Normalize(dataTopic(t), aliased)
	if ev.Tuples[0].MetricName != "7" {
		t.Errorf("alias-only metric name = %q, want %q", ev.Tuples[0].MetricName, "7")
	}

	// Alias zero means no alias.
	zero := &sparkplug.Payload{
		Metrics: []sparkplug.Metric{
			{Name: "temperature", Alias: u64(0), Value: sparkplug.Number(4)},
		},
	}
	ev = n.Normalize(birthTopic(t), zero)
	if ev.Tuples[0].MetricName != "temperature" {
		t.Errorf("zero-alias metric name = %q, want temperature", ev.Tuples[0].MetricName)
	}
}

func TestNormalize_StatusTemplateUnwrap(t *testing.T) {
	n := NewNormalizer(nopLogger{})

	payload := &sparkplug.Payload{
		Timestamp: 1700000000000,
		Metrics: []sparkplug.Metric{
			{
				Name:     "pump_state",
				DataType: sparkplug.DataTypeTemplate,
				Template: &sparkplug.Template{
					TemplateRef: "StatusInt32",
					Metrics: []sparkplug.Metric{
						{Name: "value", DataType: sparkplug.DataTypeInt32, Value: sparkplug.Number(42)},
					},
				},
			},
		},
	}

	ev := n.Normalize(dataTopic(t), payload)
	if ev == nil || len(ev.Tuples) != 1 {
		t.Fatalf("Normalize() = %+v, want one tuple", ev)
	}
	tuple := ev.Tuples[0]
	if tuple.MetricName != "pump_state" {
		t.Errorf("MetricName = %q, want pump_state", tuple.MetricName)
	}
	if tuple.Value.Kind != sparkplug.ValueNumber || tuple.Value.Num != 42 {
		t.Errorf("Value = %+v, want number 42", tuple.Value)
	}
}

func TestNormalize_NestedStatusTemplate(t *testing.T) {
	n := NewNormalizer(nopLogger{})

	payload := &sparkplug.Payload{
		Metrics: []sparkplug.Metric{
			{
				Name:     "valve_state",
				DataType: sparkplug.DataTypeTemplate,
				Template: &sparkplug.Template{
					TemplateRef: "StatusWrapper",
					Metrics: []sparkplug.Metric{
						{
							Name:     "value",
							DataType: sparkplug.DataTypeTemplate,
							Template: &sparkplug.Template{
								TemplateRef: "StatusBool",
								Metrics: []sparkplug.Metric{
									{Name: "value", Value: sparkplug.Boolean(true)},
								},
							},
						},
					},
				},
			},
		},
	}

	ev := n.Normalize(dataTopic(t), payload)
	if ev == nil || len(ev.Tuples) != 1 {
		t.Fatalf("Normalize() = %+v, want one tuple", ev)
	}
	if v := ev.Tuples[0].Value; v.Kind != sparkplug.ValueBoolean || !v.Bool {
		t.Errorf("Value = %+v, want boolean true", v)
	}
}

func TestNormalize_TemplatesWithoutValues(t *testing.T) {
	n := NewNormalizer(nopLogger{})

	payload := &sparkplug.Payload{
		Metrics: []sparkplug.Metric{
			// Type definition, never carries values.
			{
				Name:     "StatusInt32",
				DataType: sparkplug.DataTypeTemplate,
				Template: &sparkplug.Template{IsDefinition: true},
			},
			// Instance of an unrecognised template shape.
			{
				Name:     "diagnostics",
				DataType: sparkplug.DataTypeTemplate,
				Template: &sparkplug.Template{
					TemplateRef: "DiagnosticBundle",
					Metrics: []sparkplug.Metric{
						{Name: "errors", Value: sparkplug.Number(0)},
					},
				},
			},
		},
	}

	if ev := n.Normalize(dataTopic(t), payload); ev != nil {
		t.Errorf("Normalize() = %+v, want nil", ev)
	}
}

func TestNormalize_TimestampPreference(t *testing.T) {
	n := NewNormalizer(nopLogger{})
	before := time.Now().UTC()

	payload := &sparkplug.Payload{
		Timestamp: 1700000000000,
		Metrics: []sparkplug.Metric{
			{Name: "a", Timestamp: u64(1700000005000), Value: sparkplug.Number(1)},
			{Name: "b", Value: sparkplug.Number(2)},
		},
	}

	ev := n.Normalize(dataTopic(t), payload)
	if got := ev.Tuples[0].Timestamp.UnixMilli(); got != 1700000005000 {
		t.Errorf("metric timestamp = %d, want metric's own sample time", got)
	}
	if got := ev.Tuples[1].Timestamp.UnixMilli(); got != 1700000000000 {
		t.Errorf("fallback timestamp = %d, want payload envelope time", got)
	}

	// Neither metric nor envelope time present: wall clock.
	bare := &sparkplug.Payload{
		Metrics: []sparkplug.Metric{{Name: "c", Value: sparkplug.Number(3)}},
	}
	ev = n.Normalize(dataTopic(t), bare)
	if ts := ev.Tuples[0].Timestamp; ts.Before(before) || ts.After(time.Now().UTC()) {
		t.Errorf("wall clock fallback = %v, outside test window", ts)
	}
}
