package native

import "strconv"

// Integer represents a java.lang.Integer.
type Integer struct {
	Value int32
}

var integerCache [256]*Integer

func init() {
	for i := range integerCache {
		integerCache[i] = &Integer{Value: int32(i - 128)}
	}
}

// IntegerValueOf boxes v. Values in [-128, 127] share one instance,
// so reference comparison behaves like Integer.valueOf.
func IntegerValueOf(v int32) *Integer {
	if v >= -128 && v <= 127 {
		return integerCache[v+128]
	}
	return &Integer{Value: v}
}

// IntegerIntValue unboxes ni.
func IntegerIntValue(ni *Integer) int32 {
	return ni.Value
}

func (ni *Integer) String() string {
	return strconv.FormatInt(int64(ni.Value), 10)
}

// ParseInt parses s the way Integer.parseInt does: an optional sign
// followed by decimal digits, within the int range.
func ParseInt(s string) (int32, bool) {
	if s == "" || s == "+" || s == "-" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(v), true
}
