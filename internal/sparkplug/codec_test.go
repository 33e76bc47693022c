package sparkplug

import (
	"errors"
	"math"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func uintPtr(v uint64) *uint64 { return &v }

func TestDecode_RoundTrip(t *testing.T) {
	original := &Payload{
		Timestamp: 1700000000000,
		Seq:       uintPtr(7),
		Metrics: []Metric{
			{
				Name:      "Temperature",
				Timestamp: uintPtr(1700000000001),
				DataType:  DataTypeDouble,
				Value:     Number(21.5),
			},
			{
				Name:     "Running",
				DataType: DataTypeBoolean,
				Value:    Boolean(true),
			},
			{
				Name:     "Mode",
				DataType: DataTypeString,
				Value:    String("auto"),
			},
		},
	}

	decoded, err := Decode(Encode(original))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if decoded.Timestamp != original.Timestamp {
		t.Errorf("Timestamp = %d, want %d", decoded.Timestamp, original.Timestamp)
	}
	if decoded.Seq == nil || *decoded.Seq != 7 {
		t.Errorf("Seq = %v, want 7", decoded.Seq)
	}
	if len(decoded.Metrics) != 3 {
		t.Fatalf("len(Metrics) = %d, want 3", len(decoded.Metrics))
	}

	temp := decoded.Metrics[0]
	if temp.Name != "Temperature" || temp.Value.Kind != ValueNumber || temp.Value.Num != 21.5 {
		t.Errorf("metric 0 = %+v, want Temperature=21.5", temp)
	}
	if temp.Timestamp == nil || *temp.Timestamp != 1700000000001 {
		t.Errorf("metric 0 timestamp = %v, want 1700000000001", temp.Timestamp)
	}

	if decoded.Metrics[1].Value.Kind != ValueBoolean || !decoded.Metrics[1].Value.Bool {
		t.Errorf("metric 1 value = %+v, want boolean true", decoded.Metrics[1].Value)
	}
	if decoded.Metrics[2].Value.Kind != ValueString || decoded.Metrics[2].Value.Str != "auto" {
		t.Errorf("metric 2 value = %+v, want string auto", decoded.Metrics[2].Value)
	}
}

func TestDecode_Compressed(t *testing.T) {
	original := &Payload{
		Timestamp: 1700000000000,
		Metrics: []Metric{
			{Name: "Pressure", DataType: DataTypeFloat, Value: Number(2.5)},
		},
	}

	for _, algorithm := range []string{AlgorithmDeflate, AlgorithmGZIP} {
		t.Run(algorithm, func(t *testing.T) {
			wrapped, err := EncodeCompressed(original, algorithm)
			if err != nil {
				t.Fatalf("EncodeCompressed(%s) error = %v", algorithm, err)
			}

			decoded, err := Decode(wrapped)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if decoded.UUID == CompressedPayloadUUID {
				t.Fatal("envelope was not unwrapped")
			}
			if len(decoded.Metrics) != 1 || decoded.Metrics[0].Name != "Pressure" {
				t.Fatalf("Metrics = %+v, want one Pressure metric", decoded.Metrics)
			}
			if decoded.Metrics[0].Value.Num != 2.5 {
				t.Errorf("value = %v, want 2.5", decoded.Metrics[0].Value.Num)
			}
		})
	}
}

// An envelope without an algorithm metric decompresses as DEFLATE.
func TestDecode_CompressedDefaultAlgorithm(t *testing.T) {
	inner := &Payload{
		Metrics: []Metric{{Name: "M", DataType: DataTypeInt32, Value: Number(5)}},
	}
	wrapped, err := EncodeCompressed(inner, AlgorithmDeflate)
	if err != nil {
		t.Fatalf("EncodeCompressed() error = %v", err)
	}

	// Re-encode the envelope without the algorithm metric.
	envelope, err := decodePayload(wrapped)
	if err != nil {
		t.Fatalf("decodePayload() error = %v", err)
	}
	envelope.Metrics = nil
	stripped := Encode(envelope)

	decoded, err := Decode(stripped)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(decoded.Metrics) != 1 || decoded.Metrics[0].Name != "M" {
		t.Fatalf("Metrics = %+v, want one M metric", decoded.Metrics)
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"truncated tag", []byte{0x80}},
		{"bad length prefix", []byte{0x12, 0xFF}},
		{"garbage", []byte{0xDE, 0xAD, 0xBE, 0xEF, 0xFF}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			if err == nil {
				t.Fatal("Decode() should fail for malformed input")
			}
			var decodeError *DecodeError
			if !errors.As(err, &decodeError) {
				t.Errorf("error type = %T, want *DecodeError", err)
			}
		})
	}
}

func TestDecode_EmptyEnvelopeBody(t *testing.T) {
	envelope := &Payload{UUID: CompressedPayloadUUID}
	_, err := Decode(Encode(envelope))
	if err == nil {
		t.Fatal("Decode() should fail for envelope with no body")
	}
}

func TestCoerceValue_IntegerTypes(t *testing.T) {
	tests := []struct {
		name     string
		dataType uint32
		metric   Metric
		want     float64
	}{
		{"int8 negative", DataTypeInt8, Metric{DataType: DataTypeInt8, Value: Number(-5)}, -5},
		{"int16 negative", DataTypeInt16, Metric{DataType: DataTypeInt16, Value: Number(-300)}, -300},
		{"int32 negative", DataTypeInt32, Metric{DataType: DataTypeInt32, Value: Number(-70000)}, -70000},
		{"int64 negative", DataTypeInt64, Metric{DataType: DataTypeInt64, Value: Number(-5000000000)}, -5000000000},
		{"uint32 large", DataTypeUInt32, Metric{DataType: DataTypeUInt32, Value: Number(4000000000)}, 4000000000},
		{"float", DataTypeFloat, Metric{DataType: DataTypeFloat, Value: Number(1.5)}, 1.5},
		{"double", DataTypeDouble, Metric{DataType: DataTypeDouble, Value: Number(math.Pi)}, math.Pi},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Payload{Metrics: []Metric{tt.metric}}
			decoded, err := Decode(Encode(p))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			got := decoded.Metrics[0].Value
			if got.Kind != ValueNumber {
				t.Fatalf("kind = %v, want number", got.Kind)
			}
			if got.Num != tt.want {
				t.Errorf("value = %v, want %v", got.Num, tt.want)
			}
		})
	}
}

// A uint64 above 1<<63 must survive the decode path without collapsing to
// a negative number.
func TestCoerceValue_UInt64AboveSignedRange(t *testing.T) {
	raw := protowireMetric(t, "Big", DataTypeUInt64, fieldMetricLong, math.MaxUint64)
	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	v := decoded.Metrics[0].Value
	if v.Kind != ValueNumber {
		t.Fatalf("kind = %v, want number", v.Kind)
	}
	if v.Num <= 0 {
		t.Errorf("value = %v, want large positive", v.Num)
	}
	if v.Num != math.MaxUint64 { // float64 rounds to exactly 1<<64
		t.Errorf("value = %v, want %v", v.Num, float64(math.MaxUint64))
	}
}

func TestDecode_NullMetric(t *testing.T) {
	p := &Payload{
		Metrics: []Metric{{Name: "Gone", DataType: DataTypeDouble, IsNull: true}},
	}
	decoded, err := Decode(Encode(p))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.Metrics[0].Value.Kind != ValueNull {
		t.Errorf("kind = %v, want null", decoded.Metrics[0].Value.Kind)
	}
	if decoded.Metrics[0].Value.Usable() {
		t.Error("null value must not be usable")
	}
}

func TestDecode_UnsupportedType(t *testing.T) {
	// DateTime declares a type the historian does not record.
	raw := protowireMetric(t, "When", DataTypeDateTime, fieldMetricLong, 1700000000000)
	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.Metrics[0].Value.Kind != ValueUnsupported {
		t.Errorf("kind = %v, want unsupported", decoded.Metrics[0].Value.Kind)
	}
}

func TestDecode_TemplateRoundTrip(t *testing.T) {
	p := &Payload{
		Metrics: []Metric{{
			Name:     "Valve",
			DataType: DataTypeTemplate,
			Template: &Template{
				TemplateRef: "StatusInt32",
				Metrics: []Metric{
					{Name: "value", DataType: DataTypeInt32, Value: Number(42)},
				},
			},
		}},
	}

	decoded, err := Decode(Encode(p))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	m := decoded.Metrics[0]
	if m.Template == nil {
		t.Fatal("template not decoded")
	}
	if m.Template.TemplateRef != "StatusInt32" {
		t.Errorf("TemplateRef = %q, want StatusInt32", m.Template.TemplateRef)
	}
	child := m.Template.Child("value")
	if child == nil {
		t.Fatal("child metric missing")
	}
	if child.Value.Kind != ValueNumber || child.Value.Num != 42 {
		t.Errorf("child value = %+v, want 42", child.Value)
	}
	// The template metric itself carries no scalar.
	if m.Value.Usable() {
		t.Error("template metric must not have a usable scalar")
	}
}

// protowireMetric hand-builds a payload whose single metric carries the
// given varint value field, for shapes Encode cannot produce.
func protowireMetric(t *testing.T, name string, dataType uint32, field protowire.Number, value uint64) []byte {
	t.Helper()
	m := protowire.AppendTag(nil, fieldMetricName, protowire.BytesType)
	m = protowire.AppendString(m, name)
	m = protowire.AppendTag(m, fieldMetricDataType, protowire.VarintType)
	m = protowire.AppendVarint(m, uint64(dataType))
	m = protowire.AppendTag(m, field, protowire.VarintType)
	m = protowire.AppendVarint(m, value)

	var p []byte
	p = protowire.AppendTag(p, fieldPayloadMetrics, protowire.BytesType)
	p = protowire.AppendBytes(p, m)
	return p
}
