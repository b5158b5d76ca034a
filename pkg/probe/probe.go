package probe

import (
	"go.uber.org/zap"
)

// Probe runs the inspection operations against a Runtime. Every error it
// returns is a *Failure. A Probe holds no state between calls.
type Probe struct {
	rt     Runtime
	logger *zap.Logger
}

// Option configures a Probe.
type Option func(*Probe)

// WithLogger sets the logger. Operations log at debug level.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Probe) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a Probe over rt.
func New(rt Runtime, opts ...Option) *Probe {
	p := &Probe{rt: rt, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Runtime returns the backend of p.
func (p *Probe) Runtime() Runtime { return p.rt }

func (p *Probe) fail(f *Failure) *Failure {
	p.logger.Debug("probe failure",
		zap.String("op", f.Op),
		zap.String("kind", string(f.Kind)),
		zap.Error(f.Err))
	return f
}

// ResolveType looks up a type by its qualified name.
func (p *Probe) ResolveType(name string) (Type, error) {
	t, err := p.rt.ForName(name)
	if err != nil {
		return nil, p.fail(resolveFailure(name, err))
	}
	p.logger.Debug("resolved type", zap.String("type", t.Name()))
	return t, nil
}

// Instantiate resolves name and runs the constructor whose parameter
// types are the runtime types of args.
func (p *Probe) Instantiate(name string, args ...any) (any, error) {
	t, err := p.ResolveType(name)
	if err != nil {
		return nil, err
	}
	params, err := TypesOf(p.rt, args)
	if err != nil {
		return nil, p.fail(instantiateFailure(name, nil, len(args), err))
	}
	obj, err := p.rt.NewInstance(t, params, args)
	if err != nil {
		return nil, p.fail(instantiateFailure(name, params, len(args), err))
	}
	p.logger.Debug("instantiated", zap.String("type", t.Name()), zap.String("params", FormatTypes(params)))
	return obj, nil
}

// ReadField returns the value of a field declared by the class of obj.
// Inherited fields are not visible.
func (p *Probe) ReadField(obj any, name string) (any, error) {
	if obj == nil {
		return nil, p.fail(fieldFailure("null", name, ErrNullTarget))
	}
	class := p.simpleNameOf(obj)
	v, err := p.rt.DeclaredField(obj, name)
	if err != nil {
		return nil, p.fail(fieldFailure(class, name, err))
	}
	return v, nil
}

// FindMethod looks up a public method of t, including inherited ones,
// with exactly the given parameter types.
func (p *Probe) FindMethod(t Type, name string, params ...Type) (Method, error) {
	if t == nil {
		return nil, p.fail(methodFailure("null", name, params, ErrNullTarget))
	}
	if name == "" {
		return nil, p.fail(methodFailure(t.SimpleName(), name, params, ErrNullName))
	}
	m, err := p.rt.Method(t, name, params)
	if err != nil {
		return nil, p.fail(methodFailure(t.SimpleName(), name, params, err))
	}
	return m, nil
}

// FindMethodOf is FindMethod on the runtime type of obj.
func (p *Probe) FindMethodOf(obj any, name string, params ...Type) (Method, error) {
	if obj == nil {
		return nil, p.fail(methodFailure("null", name, params, ErrNullTarget))
	}
	t, err := p.rt.TypeOf(obj)
	if err != nil {
		return nil, p.fail(methodFailure(p.simpleNameOf(obj), name, params, err))
	}
	return p.FindMethod(t, name, params...)
}

// Invoke calls m on obj. An error raised by the method body is rendered
// verbatim in the failure message.
func (p *Probe) Invoke(obj any, m Method, args ...any) (any, error) {
	if m == nil {
		return nil, p.fail(invokeFailure(p.simpleNameOf(obj), "null", ErrNullTarget))
	}
	if obj == nil {
		return nil, p.fail(invokeFailure("null", m.Name(), ErrNullTarget))
	}
	v, err := p.rt.Invoke(obj, m, args)
	if err != nil {
		return nil, p.fail(invokeFailure(p.simpleNameOf(obj), m.Name(), err))
	}
	p.logger.Debug("invoked", zap.String("method", m.Name()), zap.String("type", m.DeclaringType().Name()))
	return v, nil
}

// InvokeByName finds a method of obj by name and the runtime types of
// args, then invokes it.
func (p *Probe) InvokeByName(obj any, name string, args ...any) (any, error) {
	if obj == nil {
		return nil, p.fail(methodFailure("null", name, nil, ErrNullTarget))
	}
	params, err := TypesOf(p.rt, args)
	if err != nil {
		return nil, p.fail(invokeFailure(p.simpleNameOf(obj), name, err))
	}
	m, err := p.FindMethodOf(obj, name, params...)
	if err != nil {
		return nil, err
	}
	return p.Invoke(obj, m, args...)
}

func (p *Probe) simpleNameOf(obj any) string {
	if obj == nil {
		return "null"
	}
	t, err := p.rt.TypeOf(obj)
	if err != nil {
		return "?"
	}
	return t.SimpleName()
}
