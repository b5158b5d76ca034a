package reflectrt

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/daimatz/gradeprobe/pkg/probe"
)

// goType is the probe.Type of an unregistered Go type, or of a registered
// class seen through a concrete value type.
type goType struct {
	typ  reflect.Type
	name string
}

func (t goType) Name() string { return t.name }

func (t goType) SimpleName() string {
	if t.typ.Name() != "" && t.name == t.typ.String() {
		return t.typ.Name()
	}
	return probe.SimpleName(t.name)
}

// method is a probe.Method on a registered class.
type method struct {
	owner  *class
	name   string
	params []probe.Type
	in     []reflect.Type
}

func (m *method) Name() string                 { return m.name }
func (m *method) DeclaringType() probe.Type    { return m.owner }
func (m *method) ParameterTypes() []probe.Type { return m.params }

func (r *Registry) ForName(name string) (probe.Type, error) {
	c, ok := r.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, probe.ErrClassNotFound)
	}
	return c, nil
}

func (r *Registry) TypeOf(v any) (probe.Type, error) {
	if v == nil {
		return probe.Null, nil
	}
	t := reflect.TypeOf(v)
	if c, ok := r.classOf(t); ok {
		return goType{typ: t, name: c.name}, nil
	}
	return goType{typ: t, name: t.String()}, nil
}

// reflectType returns the Go type a parameter of type t must have.
func reflectType(t probe.Type) (reflect.Type, bool) {
	switch t := t.(type) {
	case *class:
		return t.paramType(), true
	case goType:
		return t.typ, true
	}
	return nil, false
}

func sameTypes(params []probe.Type, want []reflect.Type) bool {
	if len(params) != len(want) {
		return false
	}
	for i, p := range params {
		t, ok := reflectType(p)
		if !ok || t != want[i] {
			return false
		}
	}
	return true
}

func (r *Registry) classFor(t probe.Type) (*class, error) {
	switch t := t.(type) {
	case *class:
		return t, nil
	case goType:
		if c, ok := r.classOf(t.typ); ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%s is not a registered class", t.Name())
}

func (r *Registry) NewInstance(t probe.Type, params []probe.Type, args []any) (any, error) {
	c, err := r.classFor(t)
	if err != nil {
		return nil, err
	}
	if c.abstract() {
		return nil, fmt.Errorf("%s is an interface: %w", c.name, probe.ErrAbstract)
	}
	if r.packageDenied(c) {
		return nil, fmt.Errorf("%s: %w", c.name, probe.ErrPackageAccess)
	}

	var ctor *constructor
	for _, k := range c.ctors {
		if sameTypes(params, k.params) {
			ctor = k
			break
		}
	}
	if ctor == nil {
		return nil, fmt.Errorf("%s%s: %w", c.name, probe.FormatTypes(params), probe.ErrNoSuchConstructor)
	}
	if !ctor.exported {
		return nil, fmt.Errorf("constructor of %s: %w", c.name, probe.ErrAccessDenied)
	}
	in, err := arguments(ctor.params, args)
	if err != nil {
		return nil, err
	}
	if err := c.runInit(); err != nil {
		return nil, &probe.InitializerError{Cause: err}
	}

	out, err := call(ctor.fn, in)
	if err != nil {
		return nil, err
	}
	return out[0].Interface(), nil
}

func (r *Registry) DeclaredField(obj any, name string) (any, error) {
	v := reflect.ValueOf(obj)
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, probe.ErrNullTarget
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%v has no fields: %w", v.Type(), probe.ErrNoSuchField)
	}
	if c, ok := r.classOf(v.Type()); ok && r.packageDenied(c) {
		return nil, fmt.Errorf("%s: %w", c.name, probe.ErrPackageAccess)
	}

	// Only fields declared by the type itself count, not promoted ones.
	for i := 0; i < v.NumField(); i++ {
		f := v.Type().Field(i)
		if f.Name != name {
			continue
		}
		if !f.IsExported() {
			return nil, fmt.Errorf("field %s of %v: %w", name, v.Type(), probe.ErrAccessDenied)
		}
		return v.Field(i).Interface(), nil
	}
	return nil, fmt.Errorf("field %s of %v: %w", name, v.Type(), probe.ErrNoSuchField)
}

func (r *Registry) Method(t probe.Type, name string, params []probe.Type) (probe.Method, error) {
	c, err := r.classFor(t)
	if err != nil {
		return nil, err
	}
	if r.packageDenied(c) {
		return nil, fmt.Errorf("%s: %w", c.name, probe.ErrPackageAccess)
	}
	if name == "" {
		return nil, probe.ErrNullName
	}

	// The method set of *T includes methods promoted from embedded types.
	recv := c.paramType()
	m, ok := recv.MethodByName(name)
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", c.name, name, probe.ErrNoSuchMethod)
	}
	ft := m.Type
	skip := 1
	if c.abstract() {
		skip = 0
	}
	in := make([]reflect.Type, ft.NumIn()-skip)
	for i := range in {
		in[i] = ft.In(i + skip)
	}
	if ft.IsVariadic() || !sameTypes(params, in) {
		return nil, fmt.Errorf("%s.%s%s: %w", c.name, name, probe.FormatTypes(params), probe.ErrNoSuchMethod)
	}
	return &method{owner: c, name: name, params: params, in: in}, nil
}

func (r *Registry) Invoke(obj any, pm probe.Method, args []any) (any, error) {
	m, ok := pm.(*method)
	if !ok {
		return nil, fmt.Errorf("%s was not found by this runtime", pm.Name())
	}
	recv := reflect.ValueOf(obj)
	if recv.Kind() == reflect.Pointer && recv.IsNil() {
		return nil, probe.ErrNullTarget
	}
	if !m.owner.abstract() && recv.Type() == m.owner.typ {
		// Addressable copy so pointer methods are callable.
		p := reflect.New(m.owner.typ)
		p.Elem().Set(recv)
		recv = p
	}
	if !recv.Type().AssignableTo(m.owner.paramType()) {
		return nil, fmt.Errorf("%v is not a %s: %w", recv.Type(), m.owner.name, probe.ErrIllegalArgument)
	}
	in, err := arguments(m.in, args)
	if err != nil {
		return nil, err
	}

	out, err := call(recv.MethodByName(m.name), in)
	if err != nil {
		return nil, err
	}
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0].Interface(), nil
	}
	results := make([]any, len(out))
	for i, v := range out {
		results[i] = v.Interface()
	}
	return results, nil
}

// arguments converts args to call values of the parameter types want.
// A nil argument becomes the zero value of a nilable parameter.
func arguments(want []reflect.Type, args []any) ([]reflect.Value, error) {
	if len(args) != len(want) {
		return nil, fmt.Errorf("got %d arguments, want %d: %w", len(args), len(want), probe.ErrIllegalArgument)
	}
	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		if arg == nil {
			if !nilable(want[i]) {
				return nil, fmt.Errorf("argument %d: nil is not a %v: %w", i, want[i], probe.ErrIllegalArgument)
			}
			in[i] = reflect.Zero(want[i])
			continue
		}
		v := reflect.ValueOf(arg)
		if !v.Type().AssignableTo(want[i]) {
			return nil, fmt.Errorf("argument %d: %v is not assignable to %v: %w", i, v.Type(), want[i], probe.ErrIllegalArgument)
		}
		in[i] = v
	}
	return in, nil
}

func nilable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	}
	return false
}

// call runs fn. A panic or a non-nil trailing error becomes an
// InvocationError; the trailing error is stripped from the results.
func call(fn reflect.Value, in []reflect.Value) (out []reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, &probe.InvocationError{Cause: panicError(r)}
		}
	}()
	out = fn.Call(in)
	if n := len(out); n > 0 && fn.Type().Out(n-1) == errorType {
		if e, _ := out[n-1].Interface().(error); e != nil {
			return nil, &probe.InvocationError{Cause: e}
		}
		out = out[:n-1]
	}
	return out, nil
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return errors.New(fmt.Sprint(r))
}
