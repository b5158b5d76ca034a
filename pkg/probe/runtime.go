// Package probe inspects submitted classes by name: it resolves types,
// instantiates them, reads declared fields, and finds and invokes methods.
// Every failure is turned into a single message a student can act on.
//
// The probe itself knows nothing about a particular language runtime. A
// Runtime does the introspection and reports causes with the sentinel
// errors of this package.
package probe

import (
	"errors"
	"fmt"
	"strings"
)

// Type is a resolved type.
type Type interface {
	// Name returns the qualified, dot-separated name.
	Name() string
	// SimpleName returns the last segment of Name.
	SimpleName() string
}

// Method is a method handle returned by Runtime.Method.
type Method interface {
	Name() string
	DeclaringType() Type
	ParameterTypes() []Type
}

// Runtime is the introspection backend of a Probe.
type Runtime interface {
	// ForName resolves a qualified name.
	ForName(name string) (Type, error)
	// TypeOf returns the runtime type of a non-nil value.
	TypeOf(v any) (Type, error)
	// NewInstance runs the constructor of t whose parameter types are
	// exactly params.
	NewInstance(t Type, params []Type, args []any) (any, error)
	// DeclaredField reads a field declared by the class of obj itself.
	DeclaredField(obj any, name string) (any, error)
	// Method finds a public method of t, including inherited ones, with
	// exactly the parameter types params.
	Method(t Type, name string, params []Type) (Method, error)
	// Invoke calls m on obj.
	Invoke(obj any, m Method, args []any) (any, error)
}

var (
	ErrClassNotFound     = errors.New("class not found")
	ErrNoSuchConstructor = errors.New("no such constructor")
	ErrNoSuchField       = errors.New("no such field")
	ErrNoSuchMethod      = errors.New("no such method")
	ErrNullName          = errors.New("name is null")
	ErrNullTarget        = errors.New("target is null")
	ErrAccessDenied      = errors.New("access denied")
	ErrIllegalArgument   = errors.New("illegal argument")
	ErrAbstract          = errors.New("type is abstract")
	ErrInitializer       = errors.New("static initializer failed")
	ErrPackageAccess     = errors.New("package access denied")
)

// InvocationError wraps an error raised by a constructor or method body.
type InvocationError struct {
	Cause error
}

func (e *InvocationError) Error() string {
	return "invocation failed: " + e.Cause.Error()
}

func (e *InvocationError) Unwrap() error { return e.Cause }

// InitializerError wraps the failure of a static initializer. It matches
// ErrInitializer.
type InitializerError struct {
	Cause error
}

func (e *InitializerError) Error() string {
	return "static initializer failed: " + e.Cause.Error()
}

func (e *InitializerError) Unwrap() error { return e.Cause }

func (e *InitializerError) Is(target error) bool { return target == ErrInitializer }

type nullType struct{}

func (nullType) Name() string       { return "null" }
func (nullType) SimpleName() string { return "null" }

// Null is the type derived from a nil argument. No declared parameter
// matches it.
var Null Type = nullType{}

// SimpleName returns the part of a qualified name after the last dot.
func SimpleName(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// TypesOf derives parameter types from the runtime types of args.
func TypesOf(rt Runtime, args []any) ([]Type, error) {
	if len(args) == 0 {
		return nil, nil
	}
	types := make([]Type, len(args))
	for i, arg := range args {
		if arg == nil {
			types[i] = Null
			continue
		}
		t, err := rt.TypeOf(arg)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		types[i] = t
	}
	return types, nil
}

// FormatTypes renders types as "[ A, B ]", or "[ none ]" when empty.
func FormatTypes(types []Type) string {
	if len(types) == 0 {
		return "[ none ]"
	}
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.SimpleName()
	}
	return "[ " + strings.Join(names, ", ") + " ]"
}
