// Package reflectrt is a probe runtime for Go types. Go cannot look a type
// up by name, so classes are registered under a qualified name first and
// then introspected with reflect.
package reflectrt

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/daimatz/gradeprobe/pkg/probe"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// class is a registered type. It implements probe.Type.
type class struct {
	name  string
	typ   reflect.Type // struct or interface, never a pointer
	ctors []*constructor

	init     func() error
	initOnce sync.Once
	initErr  error
}

func (c *class) Name() string       { return c.name }
func (c *class) SimpleName() string { return probe.SimpleName(c.name) }

func (c *class) abstract() bool { return c.typ.Kind() == reflect.Interface }

// paramType is the Go type a parameter of this class has.
func (c *class) paramType() reflect.Type {
	if c.abstract() {
		return c.typ
	}
	return reflect.PointerTo(c.typ)
}

func (c *class) runInit() error {
	c.initOnce.Do(func() {
		if c.init == nil {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				c.initErr = panicError(r)
			}
		}()
		c.initErr = c.init()
	})
	return c.initErr
}

type constructor struct {
	fn       reflect.Value
	params   []reflect.Type
	exported bool
}

// Option configures a registered class.
type Option func(*class) error

// WithConstructor registers fn as a constructor. fn must return the class
// type or a pointer to it, optionally followed by an error. The
// constructor is exported when the function's name is.
func WithConstructor(fn any) Option {
	return func(c *class) error {
		v := reflect.ValueOf(fn)
		if v.Kind() != reflect.Func || v.IsNil() {
			return fmt.Errorf("constructor of %s: %T is not a function", c.name, fn)
		}
		ft := v.Type()
		if !c.constructs(ft) {
			return fmt.Errorf("constructor of %s: %v does not return %v", c.name, ft, c.typ)
		}
		if ft.IsVariadic() {
			return fmt.Errorf("constructor of %s: variadic constructors are not supported", c.name)
		}
		params := make([]reflect.Type, ft.NumIn())
		for i := range params {
			params[i] = ft.In(i)
		}
		c.ctors = append(c.ctors, &constructor{fn: v, params: params, exported: exportedFunc(v)})
		return nil
	}
}

// WithInitializer sets the static initializer of a class. It runs once,
// before the first instantiation. A failed initializer makes every
// instantiation fail.
func WithInitializer(fn func() error) Option {
	return func(c *class) error {
		c.init = fn
		return nil
	}
}

func (c *class) constructs(ft reflect.Type) bool {
	switch ft.NumOut() {
	case 1:
	case 2:
		if ft.Out(1) != errorType {
			return false
		}
	default:
		return false
	}
	out := ft.Out(0)
	return out == c.typ || out == reflect.PointerTo(c.typ)
}

func exportedFunc(v reflect.Value) bool {
	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return false
	}
	// Instantiations of generic functions are named "pkg.F[...]".
	name := strings.TrimSuffix(f.Name(), "[...]")
	name = name[strings.LastIndexByte(name, '.')+1:]
	r, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(r)
}

// Registry maps qualified names to Go types. It implements probe.Runtime.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*class
	byType map[reflect.Type]*class
	denied []string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*class),
		byType: make(map[reflect.Type]*class),
	}
}

// WithDeniedPackages makes every class whose name starts with one of
// prefixes refuse member access.
func (r *Registry) WithDeniedPackages(prefixes ...string) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.denied = append(r.denied, prefixes...)
	return r
}

// Register adds typ under name. typ may be a struct, an interface or a
// pointer to a struct.
func (r *Registry) Register(name string, typ reflect.Type, opts ...Option) error {
	if name == "" {
		return fmt.Errorf("register %v: empty name", typ)
	}
	if typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct && typ.Kind() != reflect.Interface {
		return fmt.Errorf("register %s: %v is neither a struct nor an interface", name, typ)
	}
	c := &class{name: name, typ: typ}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return err
		}
	}
	if len(c.ctors) == 0 && !c.abstract() {
		c.ctors = []*constructor{{
			fn:       reflect.ValueOf(func() any { return reflect.New(typ).Interface() }),
			exported: true,
		}}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; ok {
		return fmt.Errorf("register %s: already registered", name)
	}
	if prev, ok := r.byType[typ]; ok {
		return fmt.Errorf("register %s: %v is already registered as %s", name, typ, prev.name)
	}
	r.byName[name] = c
	r.byType[typ] = c
	return nil
}

// RegisterType registers T under name.
func RegisterType[T any](r *Registry, name string, opts ...Option) error {
	return r.Register(name, reflect.TypeOf((*T)(nil)).Elem(), opts...)
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(name string, typ reflect.Type, opts ...Option) *Registry {
	if err := r.Register(name, typ, opts...); err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) lookup(name string) (*class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	return c, ok
}

func (r *Registry) classOf(t reflect.Type) (*class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.byType[t]; ok {
		return c, true
	}
	if t.Kind() == reflect.Pointer {
		c, ok := r.byType[t.Elem()]
		return c, ok
	}
	return nil, false
}

func (r *Registry) packageDenied(c *class) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.denied {
		if strings.HasPrefix(c.name, p) {
			return true
		}
	}
	return false
}
