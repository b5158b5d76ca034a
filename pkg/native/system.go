package native

import (
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"
)

// PrintStream represents a java.io.PrintStream.
type PrintStream struct {
	Writer io.Writer
}

// Print writes s without a line terminator.
func (ps *PrintStream) Print(s string) {
	io.WriteString(ps.Writer, s)
}

// Println writes s followed by a newline.
func (ps *PrintStream) Println(s string) {
	io.WriteString(ps.Writer, s+"\n")
}

// StringBuilder represents a java.lang.StringBuilder.
type StringBuilder struct {
	buf strings.Builder
}

func NewStringBuilder(initial string) *StringBuilder {
	sb := &StringBuilder{}
	sb.buf.WriteString(initial)
	return sb
}

func (sb *StringBuilder) Append(s string) *StringBuilder {
	sb.buf.WriteString(s)
	return sb
}

func (sb *StringBuilder) String() string {
	return sb.buf.String()
}

// Len returns the length in UTF-16 code units, as Java counts it.
func (sb *StringBuilder) Len() int {
	return StringLength(sb.buf.String())
}

// StringLength returns the length of s in UTF-16 code units.
func StringLength(s string) int {
	return len(utf16.Encode([]rune(s)))
}

// CharAt returns the UTF-16 code unit at index i.
func CharAt(s string, i int) (uint16, bool) {
	units := utf16.Encode([]rune(s))
	if i < 0 || i >= len(units) {
		return 0, false
	}
	return units[i], true
}

// StringHashCode computes String.hashCode: s[0]*31^(n-1) + ... + s[n-1].
func StringHashCode(s string) int32 {
	var h int32
	for _, u := range utf16.Encode([]rune(s)) {
		h = 31*h + int32(u)
	}
	return h
}

// FormatDouble renders d like Double.toString.
func FormatDouble(d float64) string {
	return formatFloat(d, 64)
}

// FormatFloat renders f like Float.toString.
func FormatFloat(f float32) string {
	return formatFloat(float64(f), 32)
}

func formatFloat(d float64, bits int) string {
	switch {
	case math.IsNaN(d):
		return "NaN"
	case math.IsInf(d, 1):
		return "Infinity"
	case math.IsInf(d, -1):
		return "-Infinity"
	case d == 0:
		if math.Signbit(d) {
			return "-0.0"
		}
		return "0.0"
	}

	abs := math.Abs(d)
	if abs >= 1e-3 && abs < 1e7 {
		s := strconv.FormatFloat(d, 'f', -1, bits)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	}

	// computerized scientific notation: 1.0E10, 1.5E-5
	s := strconv.FormatFloat(d, 'E', -1, bits)
	mantissa, exp, _ := strings.Cut(s, "E")
	if !strings.Contains(mantissa, ".") {
		mantissa += ".0"
	}
	exp = strings.TrimPrefix(exp, "+")
	neg := strings.HasPrefix(exp, "-")
	exp = strings.TrimLeft(strings.TrimPrefix(exp, "-"), "0")
	if neg {
		exp = "-" + exp
	}
	return mantissa + "E" + exp
}
