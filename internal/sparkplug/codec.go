package sparkplug

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"math"
	"math/big"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// CompressedPayloadUUID marks a payload whose Body holds a compressed
// inner payload. The compression algorithm is named by a side-metric
// called "algorithm"; DEFLATE is assumed when the metric is absent.
const CompressedPayloadUUID = "SPBV1.0_COMPRESSED"

// Compression algorithm names accepted in the envelope's algorithm metric.
const (
	AlgorithmDeflate = "DEFLATE"
	AlgorithmGZIP    = "GZIP"
)

// maxEnvelopeDepth bounds recursive decompression so a malicious payload
// cannot nest envelopes indefinitely.
const maxEnvelopeDepth = 3

// Payload wire field numbers.
const (
	fieldPayloadTimestamp = 1
	fieldPayloadMetrics   = 2
	fieldPayloadSeq       = 3
	fieldPayloadUUID      = 4
	fieldPayloadBody      = 5
)

// Metric wire field numbers.
const (
	fieldMetricName      = 1
	fieldMetricAlias     = 2
	fieldMetricTimestamp = 3
	fieldMetricDataType  = 4
	fieldMetricIsNull    = 7
	fieldMetricInt       = 10
	fieldMetricLong      = 11
	fieldMetricFloat     = 12
	fieldMetricDouble    = 13
	fieldMetricBoolean   = 14
	fieldMetricString    = 15
	fieldMetricBytes     = 16
	fieldMetricDataSet   = 17
	fieldMetricTemplate  = 18
)

// Template wire field numbers.
const (
	fieldTemplateVersion      = 1
	fieldTemplateMetrics      = 2
	fieldTemplateRef          = 4
	fieldTemplateIsDefinition = 5
)

// DecodeError reports a malformed or unrecognised wire payload. It is
// non-fatal to the protocol client: the offending message is dropped and
// processing continues.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sparkplug: decode: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("sparkplug: decode: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErr(reason string, err error) error {
	return &DecodeError{Reason: reason, Err: err}
}

// Decode parses a binary metric bundle into a Payload.
//
// A payload whose UUID matches the compressed marker is transparently
// decompressed and its inner payload decoded recursively, so callers
// always receive the plain metric bundle.
func Decode(data []byte) (*Payload, error) {
	return decode(data, 0)
}

func decode(data []byte, depth int) (*Payload, error) {
	p, err := decodePayload(data)
	if err != nil {
		return nil, err
	}
	if p.UUID != CompressedPayloadUUID {
		return p, nil
	}
	if depth >= maxEnvelopeDepth {
		return nil, decodeErr("compression envelopes nested too deeply", nil)
	}
	inner, err := decompress(p)
	if err != nil {
		return nil, err
	}
	return decode(inner, depth+1)
}

// decompress extracts and inflates the inner payload of a compression
// envelope. The algorithm side-metric selects DEFLATE (zlib framing, the
// default) or GZIP.
func decompress(p *Payload) ([]byte, error) {
	if len(p.Body) == 0 {
		return nil, decodeErr("compression envelope has no body", nil)
	}

	algorithm := AlgorithmDeflate
	for i := range p.Metrics {
		m := &p.Metrics[i]
		if m.Name == "algorithm" && m.Value.Kind == ValueString {
			algorithm = strings.ToUpper(m.Value.Str)
			break
		}
	}

	var (
		r   io.ReadCloser
		err error
	)
	switch algorithm {
	case AlgorithmDeflate:
		r, err = zlib.NewReader(bytes.NewReader(p.Body))
	case AlgorithmGZIP:
		r, err = gzip.NewReader(bytes.NewReader(p.Body))
	default:
		return nil, decodeErr(fmt.Sprintf("unknown compression algorithm %q", algorithm), nil)
	}
	if err != nil {
		return nil, decodeErr("opening compressed body", err)
	}
	defer r.Close()

	inner, err := io.ReadAll(r)
	if err != nil {
		return nil, decodeErr("decompressing body", err)
	}
	return inner, nil
}

func decodePayload(data []byte) (*Payload, error) {
	p := &Payload{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, decodeErr("malformed field tag", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldPayloadTimestamp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, decodeErr("malformed timestamp", protowire.ParseError(n))
			}
			p.Timestamp = v
			data = data[n:]
		case num == fieldPayloadMetrics && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, decodeErr("malformed metric", protowire.ParseError(n))
			}
			m, err := decodeMetric(raw)
			if err != nil {
				return nil, err
			}
			p.Metrics = append(p.Metrics, m)
			data = data[n:]
		case num == fieldPayloadSeq && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, decodeErr("malformed seq", protowire.ParseError(n))
			}
			seq := v
			p.Seq = &seq
			data = data[n:]
		case num == fieldPayloadUUID && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, decodeErr("malformed uuid", protowire.ParseError(n))
			}
			p.UUID = string(raw)
			data = data[n:]
		case num == fieldPayloadBody && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, decodeErr("malformed body", protowire.ParseError(n))
			}
			p.Body = append([]byte(nil), raw...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, decodeErr("malformed unknown field", protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return p, nil
}

// rawMetric accumulates wire fields before value coercion.
type rawMetric struct {
	intVal    uint64
	hasInt    bool
	longVal   uint64
	hasLong   bool
	floatVal  float32
	hasFloat  bool
	doubleVal float64
	hasDouble bool
	boolVal   bool
	hasBool   bool
	strVal    string
	hasStr    bool
}

func decodeMetric(data []byte) (Metric, error) {
	var m Metric
	var raw rawMetric

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return m, decodeErr("malformed metric tag", protowire.ParseError(n))
		}
		data = data[n:]

		var adv int
		switch {
		case num == fieldMetricName && typ == protowire.BytesType:
			b, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return m, decodeErr("malformed metric name", protowire.ParseError(n))
			}
			m.Name = string(b)
			adv = n
		case num == fieldMetricAlias && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return m, decodeErr("malformed metric alias", protowire.ParseError(n))
			}
			alias := v
			m.Alias = &alias
			adv = n
		case num == fieldMetricTimestamp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return m, decodeErr("malformed metric timestamp", protowire.ParseError(n))
			}
			ts := v
			m.Timestamp = &ts
			adv = n
		case num == fieldMetricDataType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return m, decodeErr("malformed metric datatype", protowire.ParseError(n))
			}
			m.DataType = uint32(v)
			adv = n
		case num == fieldMetricIsNull && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return m, decodeErr("malformed metric is_null", protowire.ParseError(n))
			}
			m.IsNull = v != 0
			adv = n
		case num == fieldMetricInt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return m, decodeErr("malformed int value", protowire.ParseError(n))
			}
			raw.intVal, raw.hasInt = v, true
			adv = n
		case num == fieldMetricLong && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return m, decodeErr("malformed long value", protowire.ParseError(n))
			}
			raw.longVal, raw.hasLong = v, true
			adv = n
		case num == fieldMetricFloat && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(data)
			if n < 0 {
				return m, decodeErr("malformed float value", protowire.ParseError(n))
			}
			raw.floatVal, raw.hasFloat = math.Float32frombits(v), true
			adv = n
		case num == fieldMetricDouble && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return m, decodeErr("malformed double value", protowire.ParseError(n))
			}
			raw.doubleVal, raw.hasDouble = math.Float64frombits(v), true
			adv = n
		case num == fieldMetricBoolean && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return m, decodeErr("malformed boolean value", protowire.ParseError(n))
			}
			raw.boolVal, raw.hasBool = v != 0, true
			adv = n
		case num == fieldMetricString && typ == protowire.BytesType:
			b, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return m, decodeErr("malformed string value", protowire.ParseError(n))
			}
			raw.strVal, raw.hasStr = string(b), true
			adv = n
		case num == fieldMetricTemplate && typ == protowire.BytesType:
			b, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return m, decodeErr("malformed template value", protowire.ParseError(n))
			}
			t, err := decodeTemplate(b)
			if err != nil {
				return m, err
			}
			m.Template = t
			if m.DataType == DataTypeUnknown {
				m.DataType = DataTypeTemplate
			}
			adv = n
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return m, decodeErr("malformed metric field", protowire.ParseError(n))
			}
			adv = n
		}
		data = data[adv:]
	}

	m.Value = coerceValue(&m, &raw)
	return m, nil
}

// coerceValue maps the declared data type and raw wire fields onto the
// closed value variant. Integer and floating types resolve to a number;
// DateTime, Text, UUID, DataSet, Bytes, File and templates are
// unsupported and yield no recordable value.
func coerceValue(m *Metric, raw *rawMetric) Value {
	if m.IsNull {
		return Null()
	}

	switch m.DataType {
	case DataTypeInt8:
		if raw.hasInt {
			return Number(float64(int8(uint8(raw.intVal))))
		}
	case DataTypeInt16:
		if raw.hasInt {
			return Number(float64(int16(uint16(raw.intVal))))
		}
	case DataTypeInt32:
		if raw.hasInt {
			return Number(float64(int32(uint32(raw.intVal))))
		}
	case DataTypeInt64:
		if raw.hasLong {
			return Number(float64(int64(raw.longVal)))
		}
	case DataTypeUInt8, DataTypeUInt16, DataTypeUInt32:
		if raw.hasInt {
			return Number(float64(raw.intVal))
		}
	case DataTypeUInt64:
		if raw.hasLong {
			// Values above 1<<63 do not fit a signed conversion; route
			// through big.Float so the full unsigned range decodes.
			f, _ := new(big.Float).SetUint64(raw.longVal).Float64()
			return Number(f)
		}
	case DataTypeFloat:
		if raw.hasFloat {
			return Number(float64(raw.floatVal))
		}
	case DataTypeDouble:
		if raw.hasDouble {
			return Number(raw.doubleVal)
		}
	case DataTypeBoolean:
		if raw.hasBool {
			return Boolean(raw.boolVal)
		}
	case DataTypeString:
		if raw.hasStr {
			return String(raw.strVal)
		}
	case DataTypeUnknown:
		// No declared type: fall back to whichever wire field is present.
		switch {
		case raw.hasDouble:
			return Number(raw.doubleVal)
		case raw.hasFloat:
			return Number(float64(raw.floatVal))
		case raw.hasLong:
			return Number(float64(int64(raw.longVal)))
		case raw.hasInt:
			return Number(float64(raw.intVal))
		case raw.hasBool:
			return Boolean(raw.boolVal)
		case raw.hasStr:
			return String(raw.strVal)
		}
	}
	return Unsupported()
}

func decodeTemplate(data []byte) (*Template, error) {
	t := &Template{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, decodeErr("malformed template tag", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldTemplateVersion && typ == protowire.BytesType:
			b, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, decodeErr("malformed template version", protowire.ParseError(n))
			}
			t.Version = string(b)
			data = data[n:]
		case num == fieldTemplateMetrics && typ == protowire.BytesType:
			b, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, decodeErr("malformed template metric", protowire.ParseError(n))
			}
			m, err := decodeMetric(b)
			if err != nil {
				return nil, err
			}
			t.Metrics = append(t.Metrics, m)
			data = data[n:]
		case num == fieldTemplateRef && typ == protowire.BytesType:
			b, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, decodeErr("malformed template ref", protowire.ParseError(n))
			}
			t.TemplateRef = string(b)
			data = data[n:]
		case num == fieldTemplateIsDefinition && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, decodeErr("malformed template is_definition", protowire.ParseError(n))
			}
			t.IsDefinition = v != 0
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, decodeErr("malformed template field", protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return t, nil
}

// Encode serialises a Payload to the binary wire format.
func Encode(p *Payload) []byte {
	var b []byte
	if p.Timestamp != 0 {
		b = protowire.AppendTag(b, fieldPayloadTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, p.Timestamp)
	}
	for i := range p.Metrics {
		b = protowire.AppendTag(b, fieldPayloadMetrics, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeMetric(&p.Metrics[i]))
	}
	if p.Seq != nil {
		b = protowire.AppendTag(b, fieldPayloadSeq, protowire.VarintType)
		b = protowire.AppendVarint(b, *p.Seq)
	}
	if p.UUID != "" {
		b = protowire.AppendTag(b, fieldPayloadUUID, protowire.BytesType)
		b = protowire.AppendString(b, p.UUID)
	}
	if len(p.Body) > 0 {
		b = protowire.AppendTag(b, fieldPayloadBody, protowire.BytesType)
		b = protowire.AppendBytes(b, p.Body)
	}
	return b
}

// EncodeCompressed serialises a Payload, compresses it with the given
// algorithm (DEFLATE or GZIP) and wraps it in the compression envelope.
func EncodeCompressed(p *Payload, algorithm string) ([]byte, error) {
	inner := Encode(p)

	var buf bytes.Buffer
	switch strings.ToUpper(algorithm) {
	case AlgorithmDeflate:
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(inner); err != nil {
			return nil, fmt.Errorf("sparkplug: compressing payload: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("sparkplug: compressing payload: %w", err)
		}
	case AlgorithmGZIP:
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(inner); err != nil {
			return nil, fmt.Errorf("sparkplug: compressing payload: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("sparkplug: compressing payload: %w", err)
		}
	default:
		return nil, fmt.Errorf("sparkplug: unknown compression algorithm %q", algorithm)
	}

	envelope := &Payload{
		Timestamp: p.Timestamp,
		UUID:      CompressedPayloadUUID,
		Body:      buf.Bytes(),
		Metrics: []Metric{{
			Name:     "algorithm",
			DataType: DataTypeString,
			Value:    String(strings.ToUpper(algorithm)),
		}},
	}
	return Encode(envelope), nil
}

func encodeMetric(m *Metric) []byte {
	var b []byte
	if m.Name != "" {
		b = protowire.AppendTag(b, fieldMetricName, protowire.BytesType)
		b = protowire.AppendString(b, m.Name)
	}
	if m.Alias != nil {
		b = protowire.AppendTag(b, fieldMetricAlias, protowire.VarintType)
		b = protowire.AppendVarint(b, *m.Alias)
	}
	if m.Timestamp != nil {
		b = protowire.AppendTag(b, fieldMetricTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, *m.Timestamp)
	}
	if m.DataType != DataTypeUnknown {
		b = protowire.AppendTag(b, fieldMetricDataType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.DataType))
	}
	if m.IsNull {
		b = protowire.AppendTag(b, fieldMetricIsNull, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
		return b
	}
	if m.Template != nil {
		b = protowire.AppendTag(b, fieldMetricTemplate, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeTemplate(m.Template))
		return b
	}
	return appendMetricValue(b, m)
}

func appendMetricValue(b []byte, m *Metric) []byte {
	dataType := m.DataType
	if dataType == DataTypeUnknown {
		switch m.Value.Kind {
		case ValueNumber:
			dataType = DataTypeDouble
		case ValueBoolean:
			dataType = DataTypeBoolean
		case ValueString:
			dataType = DataTypeString
		}
	}

	switch dataType {
	case DataTypeInt8, DataTypeInt16, DataTypeInt32:
		b = protowire.AppendTag(b, fieldMetricInt, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(uint32(int32(m.Value.Num))))
	case DataTypeUInt8, DataTypeUInt16, DataTypeUInt32:
		b = protowire.AppendTag(b, fieldMetricInt, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(uint32(m.Value.Num)))
	case DataTypeInt64:
		b = protowire.AppendTag(b, fieldMetricLong, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(m.Value.Num)))
	case DataTypeUInt64:
		b = protowire.AppendTag(b, fieldMetricLong, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Value.Num))
	case DataTypeFloat:
		b = protowire.AppendTag(b, fieldMetricFloat, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(float32(m.Value.Num)))
	case DataTypeDouble:
		b = protowire.AppendTag(b, fieldMetricDouble, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(m.Value.Num))
	case DataTypeBoolean:
		b = protowire.AppendTag(b, fieldMetricBoolean, protowire.VarintType)
		v := uint64(0)
		if m.Value.Bool {
			v = 1
		}
		b = protowire.AppendVarint(b, v)
	case DataTypeString, DataTypeText, DataTypeUUID:
		b = protowire.AppendTag(b, fieldMetricString, protowire.BytesType)
		b = protowire.AppendString(b, m.Value.Str)
	}
	return b
}

func encodeTemplate(t *Template) []byte {
	var b []byte
	if t.Version != "" {
		b = protowire.AppendTag(b, fieldTemplateVersion, protowire.BytesType)
		b = protowire.AppendString(b, t.Version)
	}
	for i := range t.Metrics {
		b = protowire.AppendTag(b, fieldTemplateMetrics, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeMetric(&t.Metrics[i]))
	}
	if t.TemplateRef != "" {
		b = protowire.AppendTag(b, fieldTemplateRef, protowire.BytesType)
		b = protowire.AppendString(b, t.TemplateRef)
	}
	if t.IsDefinition {
		b = protowire.AppendTag(b, fieldTemplateIsDefinition, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b
}
