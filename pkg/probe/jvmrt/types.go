package jvmrt

import (
	"fmt"

	"github.com/daimatz/gradeprobe/pkg/classfile"
	"github.com/daimatz/gradeprobe/pkg/probe"
	"github.com/daimatz/gradeprobe/pkg/vm"
)

// javaType is a Java type identified by its field descriptor. class is
// set for loaded classes.
type javaType struct {
	desc  string
	class *vm.Class
}

func classType(c *vm.Class) javaType {
	return javaType{desc: classfile.ObjectDescriptor(c.Name), class: c}
}

func (t javaType) Name() string       { return classfile.SourceName(t.desc) }
func (t javaType) SimpleName() string { return probe.SimpleName(t.Name()) }

func classOf(t probe.Type) (*vm.Class, error) {
	if jt, ok := t.(javaType); ok && jt.class != nil {
		return jt.class, nil
	}
	return nil, fmt.Errorf("%s is not a loaded class", t.Name())
}

// descriptors returns the field descriptors of params. Null matches no
// parameter.
func descriptors(params []probe.Type) ([]string, bool) {
	descs := make([]string, len(params))
	for i, p := range params {
		jt, ok := p.(javaType)
		if !ok {
			return nil, false
		}
		descs[i] = jt.desc
	}
	return descs, true
}

// method is a probe.Method backed by a class file method.
type method struct {
	owner  *vm.Class
	info   *classfile.MethodInfo
	params []probe.Type
}

func (m *method) Name() string                 { return m.info.Name }
func (m *method) DeclaringType() probe.Type    { return classType(m.owner) }
func (m *method) ParameterTypes() []probe.Type { return m.params }

// primitiveDescriptor maps a Go value to the Java primitive it stands for.
func primitiveDescriptor(v any) (string, bool) {
	switch v := v.(type) {
	case int:
		if !fitsInt32(v) {
			return "J", true
		}
		return "I", true
	case int32:
		return "I", true
	case int64:
		return "J", true
	case int16:
		return "S", true
	case int8:
		return "B", true
	case uint16:
		return "C", true
	case bool:
		return "Z", true
	case float32:
		return "F", true
	case float64:
		return "D", true
	}
	return "", false
}

// fitsInt32 reports whether a Go int is a Java int. Wider ones are longs.
func fitsInt32(v int) bool { return int64(v) == int64(int32(v)) }

// primitiveValue converts arg to a value of the primitive desc, allowing
// Java's widening primitive conversions.
func primitiveValue(desc string, arg any) (vm.Value, bool) {
	var (
		i       int64
		f       float64
		integer bool
	)
	switch a := arg.(type) {
	case bool:
		if desc == "Z" {
			return vm.BoolValue(a), true
		}
		return vm.Value{}, false
	case uint16:
		if desc == "C" {
			return vm.IntValue(int32(a)), true
		}
		if desc == "S" || desc == "B" {
			return vm.Value{}, false
		}
		i, integer = int64(a), true
	case int8:
		i, integer = int64(a), true
	case int16:
		if desc == "B" {
			return vm.Value{}, false
		}
		i, integer = int64(a), true
	case int:
		if !fitsInt32(a) {
			return primitiveValue(desc, int64(a))
		}
		if desc == "B" || desc == "S" {
			return vm.Value{}, false
		}
		i, integer = int64(a), true
	case int32:
		if desc == "B" || desc == "S" {
			return vm.Value{}, false
		}
		i, integer = int64(a), true
	case int64:
		i, integer = a, true
		if desc == "I" || desc == "S" || desc == "B" {
			return vm.Value{}, false
		}
	case float32:
		f = float64(a)
		if desc == "F" {
			return vm.FloatValue(a), true
		}
	case float64:
		f = a
	default:
		return vm.Value{}, false
	}

	switch desc {
	case "I", "S", "B":
		if integer {
			return vm.IntValue(int32(i)), true
		}
	case "J":
		if integer {
			return vm.LongValue(i), true
		}
	case "F":
		if integer {
			return vm.FloatValue(float32(i)), true
		}
	case "D":
		if integer {
			return vm.DoubleValue(float64(i)), true
		}
		return vm.DoubleValue(f), true
	}
	return vm.Value{}, false
}

// goValue converts a VM value of descriptor desc to a Go value.
func goValue(desc string, v vm.Value) any {
	switch desc {
	case "I":
		return v.Int
	case "Z":
		return v.Int != 0
	case "C":
		return uint16(v.Int)
	case "S":
		return int16(v.Int)
	case "B":
		return int8(v.Int)
	case "J":
		return v.Long
	case "F":
		return v.Float
	case "D":
		return v.Double
	}
	if v.IsNull() {
		return nil
	}
	return v.Ref
}
