package vm

// ValueType is the computational type of a Value. boolean, byte, char and
// short are all TypeInt, as on a real JVM.
type ValueType int

const (
	TypeInt ValueType = iota
	TypeLong
	TypeFloat
	TypeDouble
	TypeRef
	TypeNull
)

var valueTypeNames = [...]string{"int", "long", "float", "double", "reference", "null"}

func (t ValueType) String() string {
	if int(t) < len(valueTypeNames) {
		return valueTypeNames[t]
	}
	return "unknown"
}

// Value is one operand stack or local variable slot. Only the field that
// matches Type is meaningful.
type Value struct {
	Type   ValueType
	Int    int32
	Long   int64
	Float  float32
	Double float64
	Ref    interface{}
}

func IntValue(v int32) Value      { return Value{Type: TypeInt, Int: v} }
func LongValue(v int64) Value     { return Value{Type: TypeLong, Long: v} }
func FloatValue(v float32) Value  { return Value{Type: TypeFloat, Float: v} }
func DoubleValue(v float64) Value { return Value{Type: TypeDouble, Double: v} }
func NullValue() Value            { return Value{Type: TypeNull} }

// RefValue wraps a heap reference; nil becomes the null reference.
func RefValue(ref interface{}) Value {
	if ref == nil {
		return NullValue()
	}
	return Value{Type: TypeRef, Ref: ref}
}

func BoolValue(b bool) Value {
	if b {
		return IntValue(1)
	}
	return IntValue(0)
}

func (v Value) IsNull() bool {
	return v.Type == TypeNull || (v.Type == TypeRef && v.Ref == nil)
}

// IsWide reports a category 2 value.
func (v Value) IsWide() bool {
	return v.Type == TypeLong || v.Type == TypeDouble
}

var zeroValues = map[byte]Value{
	'B': IntValue(0),
	'C': IntValue(0),
	'I': IntValue(0),
	'S': IntValue(0),
	'Z': IntValue(0),
	'J': LongValue(0),
	'F': FloatValue(0),
	'D': DoubleValue(0),
}

// ZeroValue is the initial value of a field with the given descriptor.
func ZeroValue(descriptor string) Value {
	if descriptor != "" {
		if v, ok := zeroValues[descriptor[0]]; ok {
			return v
		}
	}
	return NullValue()
}
