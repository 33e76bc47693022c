package sparkplug

// Sparkplug B metric data type identifiers, as carried in the wire
// format's datatype field.
const (
	DataTypeUnknown  uint32 = 0
	DataTypeInt8     uint32 = 1
	DataTypeInt16    uint32 = 2
	DataTypeInt32    uint32 = 3
	DataTypeInt64    uint32 = 4
	DataTypeUInt8    uint32 = 5
	DataTypeUInt16   uint32 = 6
	DataTypeUInt32   uint32 = 7
	DataTypeUInt64   uint32 = 8
	DataTypeFloat    uint32 = 9
	DataTypeDouble   uint32 = 10
	DataTypeBoolean  uint32 = 11
	DataTypeString   uint32 = 12
	DataTypeDateTime uint32 = 13
	DataTypeText     uint32 = 14
	DataTypeUUID     uint32 = 15
	DataTypeDataSet  uint32 = 16
	DataTypeBytes    uint32 = 17
	DataTypeFile     uint32 = 18
	DataTypeTemplate uint32 = 19
)

// ValueKind identifies which variant a Value holds.
type ValueKind int

// Value variants. Unsupported covers wire types the historian does not
// record (DateTime, Text, UUID, DataSet, Bytes, File and bare templates).
const (
	ValueNull ValueKind = iota
	ValueNumber
	ValueBoolean
	ValueString
	ValueUnsupported
)

// Value is the closed tagged variant produced by the codec for a metric's
// scalar value. Exactly one of Num, Bool or Str is meaningful, selected
// by Kind.
type Value struct {
	Kind ValueKind
	Num  float64
	Bool bool
	Str  string
}

// Number returns a numeric Value.
func Number(f float64) Value { return Value{Kind: ValueNumber, Num: f} }

// Boolean returns a boolean Value.
func Boolean(b bool) Value { return Value{Kind: ValueBoolean, Bool: b} }

// String returns a string Value.
func String(s string) Value { return Value{Kind: ValueString, Str: s} }

// Null returns the null Value.
func Null() Value { return Value{Kind: ValueNull} }

// Unsupported returns the unsupported Value placeholder.
func Unsupported() Value { return Value{Kind: ValueUnsupported} }

// Usable reports whether the value can be recorded as history. Null and
// unsupported values are excluded before a metric is ever registered.
func (v Value) Usable() bool {
	return v.Kind == ValueNumber || v.Kind == ValueBoolean || v.Kind == ValueString
}

// Metric is one named, typed entry in a payload.
//
// Name may be empty when the sender transmits only an alias established by
// an earlier birth message. Timestamp is the metric's own sample time in
// epoch milliseconds; it is preferred over the payload envelope timestamp
// when recording history.
type Metric struct {
	Name      string
	Alias     *uint64
	Timestamp *uint64
	DataType  uint32
	IsNull    bool

	// Value is the coerced scalar. For template metrics it is Unsupported;
	// the nested structure lives in Template instead.
	Value Value

	// Template is set only when DataType is DataTypeTemplate.
	Template *Template
}

// Template is a structured, nested bundle of metrics. A template with
// IsDefinition set describes a type and carries no recordable values;
// an instance references its definition through TemplateRef.
type Template struct {
	Version      string
	TemplateRef  string
	IsDefinition bool
	Metrics      []Metric
}

// Payload is one decoded metric bundle.
type Payload struct {
	// Timestamp is the envelope send time in epoch milliseconds.
	Timestamp uint64

	// Metrics is the ordered metric list.
	Metrics []Metric

	// Seq is the 0-255 message sequence number, if present.
	Seq *uint64

	// UUID identifies special payload forms, notably the compression
	// envelope.
	UUID string

	// Body carries opaque bytes; for the compression envelope it holds
	// the compressed inner payload.
	Body []byte
}

// Child returns the first metric with the given name, or nil.
func (t *Template) Child(name string) *Metric {
	if t == nil {
		return nil
	}
	for i := range t.Metrics {
		if t.Metrics[i].Name == name {
			return &t.Metrics[i]
		}
	}
	return nil
}
