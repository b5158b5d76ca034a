// Package jvmrt is a probe runtime for Java classes executed by the
// bytecode interpreter in pkg/vm.
package jvmrt

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/daimatz/gradeprobe/pkg/classfile"
	"github.com/daimatz/gradeprobe/pkg/probe"
	"github.com/daimatz/gradeprobe/pkg/vm"
)

// Runtime resolves and runs Java classes on a VM. It serializes access to
// the VM, which is not safe for concurrent use.
type Runtime struct {
	mu     sync.Mutex
	vm     *vm.VM
	caller string // internal package name
	denied []string
	logger *zap.Logger
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithCallerPackage sets the package the probe acts from, e.g. "demo".
// Package-private and protected members of classes in that package are
// accessible.
func WithCallerPackage(pkg string) Option {
	return func(r *Runtime) { r.caller = strings.ReplaceAll(pkg, ".", "/") }
}

// WithDeniedPackages refuses member access on classes whose qualified
// name starts with one of prefixes, e.g. "java.".
func WithDeniedPackages(prefixes ...string) Option {
	return func(r *Runtime) { r.denied = append(r.denied, prefixes...) }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a Runtime over machine.
func New(machine *vm.VM, opts ...Option) *Runtime {
	r := &Runtime{vm: machine, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// VM returns the underlying machine.
func (r *Runtime) VM() *vm.VM { return r.vm }

func (r *Runtime) ForName(name string) (probe.Type, error) {
	if name == "" || strings.ContainsAny(name, "/[;") {
		return nil, fmt.Errorf("%q: %w", name, probe.ErrClassNotFound)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.vm.LoadClass(strings.ReplaceAll(name, ".", "/"))
	if err != nil {
		if errors.Is(err, vm.ErrClassNotFound) {
			return nil, fmt.Errorf("%s: %w", name, probe.ErrClassNotFound)
		}
		return nil, err
	}
	return classType(c), nil
}

func (r *Runtime) TypeOf(v any) (probe.Type, error) {
	if v == nil {
		return probe.Null, nil
	}
	if desc, ok := primitiveDescriptor(v); ok {
		return javaType{desc: desc}, nil
	}
	if arr, ok := v.(*vm.Array); ok {
		return javaType{desc: arr.Descriptor}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.vm.ClassOf(v)
	if err != nil {
		return nil, err
	}
	return classType(c), nil
}

func (r *Runtime) NewInstance(t probe.Type, params []probe.Type, args []any) (any, error) {
	c, err := classOf(t)
	if err != nil {
		return nil, err
	}
	if c.IsAbstract() {
		return nil, fmt.Errorf("%s: %w", c.JavaName(), probe.ErrAbstract)
	}
	if r.packageDenied(c) {
		return nil, fmt.Errorf("%s: %w", c.JavaName(), probe.ErrPackageAccess)
	}
	descs, ok := descriptors(params)
	if !ok {
		return nil, fmt.Errorf("%s%s: %w", c.JavaName(), probe.FormatTypes(params), probe.ErrNoSuchConstructor)
	}
	ctor := c.File.FindMethod("<init>", classfile.MethodDescriptor("V", descs...))
	if ctor == nil {
		return nil, fmt.Errorf("%s%s: %w", c.JavaName(), probe.FormatTypes(params), probe.ErrNoSuchConstructor)
	}
	if !r.accessible(c, ctor.AccessFlags) {
		return nil, fmt.Errorf("constructor %s%s: %w", c.JavaName(), ctor.Descriptor, probe.ErrAccessDenied)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	values, err := r.values(descs, args)
	if err != nil {
		return nil, err
	}
	obj, err := r.vm.Instantiate(c)
	if err != nil {
		var je *vm.JavaException
		if errors.As(err, &je) {
			return nil, &probe.InitializerError{Cause: err}
		}
		return nil, err
	}
	if _, err := r.vm.Invoke(c, ctor, append([]vm.Value{vm.RefValue(obj)}, values...)); err != nil {
		return nil, invocationError(err)
	}
	r.logger.Debug("constructed", zap.String("class", c.JavaName()), zap.String("descriptor", ctor.Descriptor))
	return obj, nil
}

func (r *Runtime) DeclaredField(obj any, name string) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.vm.ClassOf(obj)
	if err != nil {
		return nil, err
	}
	if r.packageDenied(c) {
		return nil, fmt.Errorf("%s: %w", c.JavaName(), probe.ErrPackageAccess)
	}
	f := c.File.FindField(name)
	if f == nil {
		return nil, fmt.Errorf("%s.%s: %w", c.JavaName(), name, probe.ErrNoSuchField)
	}
	if !r.accessible(c, f.AccessFlags) {
		return nil, fmt.Errorf("%s.%s: %w", c.JavaName(), name, probe.ErrAccessDenied)
	}

	if f.IsStatic() {
		if err := r.vm.InitializeClass(c); err != nil {
			return nil, &probe.InitializerError{Cause: err}
		}
		return goValue(f.Descriptor, c.Statics[name]), nil
	}
	o, ok := obj.(*vm.Object)
	if !ok {
		return nil, fmt.Errorf("%s.%s: instance fields of %T are not readable", c.JavaName(), name, obj)
	}
	return goValue(f.Descriptor, o.Fields[name]), nil
}

func (r *Runtime) Method(t probe.Type, name string, params []probe.Type) (probe.Method, error) {
	c, err := classOf(t)
	if err != nil {
		return nil, err
	}
	if r.packageDenied(c) {
		return nil, fmt.Errorf("%s: %w", c.JavaName(), probe.ErrPackageAccess)
	}
	if name == "" {
		return nil, probe.ErrNullName
	}
	descs, ok := descriptors(params)
	if !ok || name == "<init>" || name == "<clinit>" {
		return nil, fmt.Errorf("%s.%s%s: %w", c.JavaName(), name, probe.FormatTypes(params), probe.ErrNoSuchMethod)
	}
	prefix := classfile.MethodDescriptor("", descs...)
	owner, m := findPublic(c, name, prefix)
	if m == nil {
		return nil, fmt.Errorf("%s.%s%s: %w", c.JavaName(), name, probe.FormatTypes(params), probe.ErrNoSuchMethod)
	}
	return &method{owner: owner, info: m, params: params}, nil
}

// findPublic searches c, its superclasses and then its superinterfaces for
// a public method whose descriptor starts with prefix.
func findPublic(c *vm.Class, name, prefix string) (*vm.Class, *classfile.MethodInfo) {
	for k := c; k != nil; k = k.Super {
		for i := range k.File.Methods {
			m := &k.File.Methods[i]
			if m.Name == name && m.IsPublic() && strings.HasPrefix(m.Descriptor, prefix) {
				return k, m
			}
		}
	}
	for k := c; k != nil; k = k.Super {
		for _, iface := range k.Interfaces {
			if owner, m := findPublic(iface, name, prefix); m != nil {
				return owner, m
			}
		}
	}
	return nil, nil
}

func (r *Runtime) Invoke(obj any, pm probe.Method, args []any) (any, error) {
	m, ok := pm.(*method)
	if !ok {
		return nil, fmt.Errorf("%s was not found by this runtime", pm.Name())
	}
	if !m.owner.File.IsPublic() && m.owner.PackageName() != r.caller {
		return nil, fmt.Errorf("%s is not public: %w", m.owner.JavaName(), probe.ErrAccessDenied)
	}
	descs, ret, err := classfile.ParseMethodDescriptor(m.info.Descriptor)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	values, err := r.values(descs, args)
	if err != nil {
		return nil, err
	}

	owner, target := m.owner, m.info
	if m.info.IsStatic() {
		if err := r.vm.InitializeClass(owner); err != nil {
			return nil, invocationError(err)
		}
	} else {
		if obj == nil {
			return nil, probe.ErrNullTarget
		}
		ok, err := r.vm.IsInstance(obj, owner.Name)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%T is not an instance of %s: %w", obj, owner.JavaName(), probe.ErrIllegalArgument)
		}
		rc, err := r.vm.ClassOf(obj)
		if err != nil {
			return nil, err
		}
		if k, impl := rc.ResolveVirtual(target.Name, target.Descriptor); impl != nil {
			owner, target = k, impl
		}
		values = append([]vm.Value{vm.RefValue(obj)}, values...)
	}

	v, err := r.vm.Invoke(owner, target, values)
	if err != nil {
		return nil, invocationError(err)
	}
	r.logger.Debug("invoked",
		zap.String("class", owner.JavaName()),
		zap.String("method", target.Name+target.Descriptor))
	if ret == "V" {
		return nil, nil
	}
	return goValue(ret, v), nil
}

// invocationError wraps a Java exception thrown by a body. Other errors
// come from the VM itself and are returned as is.
func invocationError(err error) error {
	var je *vm.JavaException
	if errors.As(err, &je) {
		return &probe.InvocationError{Cause: je}
	}
	return err
}

// accessible applies Java's member access rules for a caller in r.caller.
func (r *Runtime) accessible(c *vm.Class, flags uint16) bool {
	samePackage := c.PackageName() == r.caller
	if !c.File.IsPublic() && !samePackage {
		return false
	}
	switch {
	case flags&classfile.AccPublic != 0:
		return true
	case flags&classfile.AccPrivate != 0:
		return false
	}
	return samePackage
}

func (r *Runtime) packageDenied(c *vm.Class) bool {
	name := c.JavaName()
	for _, p := range r.denied {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// values converts Go arguments to VM values for parameter descriptors.
func (r *Runtime) values(descs []string, args []any) ([]vm.Value, error) {
	if len(args) != len(descs) {
		return nil, fmt.Errorf("got %d arguments, want %d: %w", len(args), len(descs), probe.ErrIllegalArgument)
	}
	values := make([]vm.Value, len(args))
	for i, arg := range args {
		v, err := r.value(descs[i], arg)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		values[i] = v
	}
	return values, nil
}

func (r *Runtime) value(desc string, arg any) (vm.Value, error) {
	if desc[0] == 'L' || desc[0] == '[' {
		if arg == nil {
			return vm.NullValue(), nil
		}
		if _, prim := primitiveDescriptor(arg); prim {
			return vm.Value{}, fmt.Errorf("%T is not a %s: %w", arg, classfile.SourceName(desc), probe.ErrIllegalArgument)
		}
		target := desc
		if desc[0] == 'L' {
			target = desc[1 : len(desc)-1]
		}
		ok, err := r.vm.IsInstance(arg, target)
		if err != nil {
			return vm.Value{}, fmt.Errorf("%v: %w", err, probe.ErrIllegalArgument)
		}
		if !ok {
			return vm.Value{}, fmt.Errorf("%T is not a %s: %w", arg, classfile.SourceName(desc), probe.ErrIllegalArgument)
		}
		return vm.RefValue(arg), nil
	}
	if v, ok := primitiveValue(desc, arg); ok {
		return v, nil
	}
	return vm.Value{}, fmt.Errorf("%T is not a %s: %w", arg, classfile.SourceName(desc), probe.ErrIllegalArgument)
}
