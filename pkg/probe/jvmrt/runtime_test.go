package jvmrt_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/daimatz/gradeprobe/pkg/classfile"
	"github.com/daimatz/gradeprobe/pkg/native"
	"github.com/daimatz/gradeprobe/pkg/probe"
	"github.com/daimatz/gradeprobe/pkg/probe/jvmrt"
	"github.com/daimatz/gradeprobe/pkg/vm"
	"github.com/daimatz/gradeprobe/pkg/vm/vmtest"
)

// hiddenClass is a package-private class with a public constructor:
//
//	class Secret { public Secret() {} }
func hiddenClass(t *testing.T) *classfile.ClassFile {
	t.Helper()
	b := classfile.NewBuilder("hidden/Secret", "java/lang/Object", classfile.AccSuper)
	b.Method(classfile.AccPublic, "<init>", "()V",
		classfile.NewAssembler().
			Op(0x2A).U16(0xB7, b.Methodref("java/lang/Object", "<init>", "()V")).
			Op(0xB1).MustCode(1, 1))
	cf, err := b.Build()
	require.NoError(t, err)
	return cf
}

func newProbe(t *testing.T, opts ...jvmrt.Option) (*probe.Probe, *jvmrt.Runtime) {
	t.Helper()
	loader, err := vm.NewMemoryClassLoader(vmtest.Classes()...)
	require.NoError(t, err)
	require.NoError(t, loader.Add(hiddenClass(t)))

	logger := zaptest.NewLogger(t)
	machine := vm.NewVM(loader)
	machine.Logger = logger
	rt := jvmrt.New(machine, append(opts, jvmrt.WithLogger(logger))...)
	return probe.New(rt, probe.WithLogger(logger)), rt
}

func requireKind(t *testing.T, err error, kind probe.Kind) *probe.Failure {
	t.Helper()
	f, ok := probe.AsFailure(err)
	require.True(t, ok, "got %v, want a *probe.Failure", err)
	require.Equal(t, kind, f.Kind, f.Message)
	return f
}

func TestScenarios(t *testing.T) {
	p, _ := newProbe(t)

	t.Run("A: unknown type", func(t *testing.T) {
		typ, err := p.ResolveType("foo.Bar")
		assert.Nil(t, typ)
		f := requireKind(t, err, probe.KindTypeNotFound)
		assert.Equal(t, "The class 'Bar' was not found within the submission. Make sure to implement it properly.", f.Message)
	})

	t.Run("B: private constructor", func(t *testing.T) {
		obj, err := p.Instantiate("demo.Counter")
		assert.Nil(t, obj)
		f := requireKind(t, err, probe.KindAccessDenied)
		assert.Equal(t, "Could not instantiate the class 'Counter' because access to its constructor with the parameters: "+
			"[ none ] was denied. Make sure to check the modifiers of the constructor.", f.Message)
	})

	t.Run("C: add", func(t *testing.T) {
		obj, err := p.Instantiate("demo.Calculator")
		require.NoError(t, err)
		v, err := p.InvokeByName(obj, "add", 2, 3)
		require.NoError(t, err)
		assert.Equal(t, int32(5), v)
	})

	t.Run("D: divide by zero", func(t *testing.T) {
		obj, err := p.Instantiate("demo.Calculator")
		require.NoError(t, err)
		v, err := p.InvokeByName(obj, "divide", 1, 0)
		assert.Nil(t, v)
		f := requireKind(t, err, probe.KindMethodError)
		assert.Equal(t, "Could not invoke the method 'divide' in the class 'Calculator' because of an exception "+
			"within the method: java.lang.ArithmeticException: / by zero", f.Message)
	})
}

func TestInstantiate(t *testing.T) {
	p, _ := newProbe(t)

	tests := []struct {
		class string
		args  []any
		kind  probe.Kind
		want  string
	}{
		{"demo.Shape", nil, probe.KindAbstractType, "the class is abstract"},
		{"demo.Shape", []any{1.5}, probe.KindAbstractType, "the class is abstract"},
		{"demo.Named", nil, probe.KindAbstractType, "the class is abstract"},
		{"demo.Calculator", []any{"x"}, probe.KindConstructorNotFound, "with the arguments: [ String ]"},
		{"demo.Calculator", []any{nil}, probe.KindConstructorNotFound, "[ null ]"},
		{"demo.Calculator", []any{int64(1)}, probe.KindConstructorNotFound, "[ long ]"},
		{"demo.Faulty", []any{-1}, probe.KindConstructorError, "Cause: java.lang.IllegalArgumentException: negative"},
		{"demo.Broken", nil, probe.KindInitializerError, "Cause: java.lang.ExceptionInInitializerError"},
		{"demo.Broken", nil, probe.KindInitializerError, "Cause: java.lang.NoClassDefFoundError: Could not initialize class demo.Broken"},
		{"hidden.Secret", nil, probe.KindAccessDenied, "[ none ]"},
	}
	for _, tt := range tests {
		t.Run(tt.class, func(t *testing.T) {
			obj, err := p.Instantiate(tt.class, tt.args...)
			assert.Nil(t, obj)
			f := requireKind(t, err, tt.kind)
			assert.Contains(t, f.Message, tt.want)
		})
	}

	t.Run("constructor arguments", func(t *testing.T) {
		obj, err := p.Instantiate("demo.Point3D", 1, 2, 3)
		require.NoError(t, err)
		require.IsType(t, &vm.Object{}, obj)
		assert.Equal(t, "demo/Point3D", obj.(*vm.Object).ClassName())

		v, err := p.InvokeByName(obj, "getX")
		require.NoError(t, err)
		assert.Equal(t, int32(1), v)
	})

	t.Run("same package", func(t *testing.T) {
		p, _ := newProbe(t, jvmrt.WithCallerPackage("hidden"))
		_, err := p.Instantiate("hidden.Secret")
		require.NoError(t, err)
	})
}

func TestReadField(t *testing.T) {
	p, _ := newProbe(t)
	obj, err := p.Instantiate("demo.Calculator", 5)
	require.NoError(t, err)

	v, err := p.ReadField(obj, "label")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = p.ReadField(obj, "total")
	f := requireKind(t, err, probe.KindAccessDenied)
	assert.Equal(t, "Could not retrieve the attribute 'total' from the class 'Calculator' because "+
		"access to the attribute was denied. Make sure to check the modifiers of the attribute.", f.Message)

	_, err = p.ReadField(obj, "missing")
	requireKind(t, err, probe.KindFieldNotFound)

	t.Run("own fields only", func(t *testing.T) {
		p, _ := newProbe(t, jvmrt.WithCallerPackage("demo"))
		pt, err := p.Instantiate("demo.Point3D", 1, 2, 3)
		require.NoError(t, err)

		_, err = p.ReadField(pt, "z")
		require.Error(t, err, "private fields stay private within the package")

		_, err = p.ReadField(pt, "x")
		requireKind(t, err, probe.KindFieldNotFound)
	})

	t.Run("static initializer fails", func(t *testing.T) {
		p, rt := newProbe(t, jvmrt.WithCallerPackage("demo"))
		c, err := rt.VM().LoadClass("demo/Broken")
		require.NoError(t, err)

		_, err = p.ReadField(rt.VM().NewObject(c), "value")
		f := requireKind(t, err, probe.KindInitializerError)
		assert.Contains(t, f.Message, "the class could not be initialized. Cause: java.lang.ExceptionInInitializerError")
	})

	t.Run("round trip", func(t *testing.T) {
		obj.(*vm.Object).Fields["label"] = vm.RefValue("calc")
		v, err := p.ReadField(obj, "label")
		require.NoError(t, err)
		assert.Equal(t, "calc", v)
	})
}

func TestInvoke(t *testing.T) {
	p, rt := newProbe(t)
	calc, err := p.Instantiate("demo.Calculator")
	require.NoError(t, err)

	tests := []struct {
		method string
		args   []any
		want   any
	}{
		{"add", []any{2, 3}, int32(5)},
		{"square", []any{int64(4)}, int64(16)},
		{"half", []any{5.0}, 2.5},
		{"greet", []any{"Ada"}, "Hello, Ada"},
		{"isPositive", []any{3}, true},
		{"isPositive", []any{-3}, false},
		{"accumulate", []any{4}, nil},
		{"getTotal", nil, int32(4)},
		{"hashCode", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			v, err := p.InvokeByName(calc, tt.method, tt.args...)
			require.NoError(t, err)
			if tt.method == "hashCode" {
				assert.IsType(t, int32(0), v)
				return
			}
			assert.Equal(t, tt.want, v)
		})
	}

	t.Run("private method", func(t *testing.T) {
		_, err := p.InvokeByName(calc, "secret")
		f := requireKind(t, err, probe.KindMethodNotFound)
		assert.Equal(t, "Could not find the method 'secret' from the class Calculator because the method does not exist. "+
			"Make sure to implement this method properly.", f.Message)
	})

	t.Run("widening", func(t *testing.T) {
		long, err := rt.TypeOf(int64(0))
		require.NoError(t, err)
		m, err := p.FindMethodOf(calc, "square", long)
		require.NoError(t, err)
		v, err := p.Invoke(calc, m, 3)
		require.NoError(t, err)
		assert.Equal(t, int64(9), v)
	})

	t.Run("int beyond 32 bits is a long", func(t *testing.T) {
		wide := int64(3_000_000_000)
		v, err := p.InvokeByName(calc, "square", int(wide))
		require.NoError(t, err)
		assert.Equal(t, int64(9_000_000_000_000_000_000), v)

		_, err = p.InvokeByName(calc, "add", int(wide), 1)
		requireKind(t, err, probe.KindMethodNotFound)
	})

	t.Run("argument mismatch", func(t *testing.T) {
		i, err := rt.TypeOf(0)
		require.NoError(t, err)
		m, err := p.FindMethodOf(calc, "add", i, i)
		require.NoError(t, err)
		_, err = p.Invoke(calc, m, "a", 1)
		requireKind(t, err, probe.KindArgumentMismatch)
		_, err = p.Invoke(calc, m, 1)
		requireKind(t, err, probe.KindArgumentMismatch)
	})

	t.Run("wrong receiver", func(t *testing.T) {
		pt, err := p.Instantiate("demo.Point", 1, 2)
		require.NoError(t, err)
		m, err := p.FindMethodOf(pt, "getX")
		require.NoError(t, err)
		_, err = p.Invoke(calc, m)
		requireKind(t, err, probe.KindArgumentMismatch)
	})

	t.Run("method error", func(t *testing.T) {
		f, err := p.Instantiate("demo.Faulty", 1)
		require.NoError(t, err)
		_, err = p.InvokeByName(f, "fail", "boom")
		failure := requireKind(t, err, probe.KindMethodError)
		assert.Contains(t, failure.Message, "java.lang.IllegalStateException: boom")
	})
}

func TestInheritance(t *testing.T) {
	p, _ := newProbe(t)
	sq, err := p.Instantiate("demo.Square", 2.0)
	require.NoError(t, err)

	for method, want := range map[string]any{
		"area":     4.0,
		"describe": "shape",
		"name":     "square",
		"toString": "demo.Square@",
	} {
		t.Run(method, func(t *testing.T) {
			v, err := p.InvokeByName(sq, method)
			require.NoError(t, err)
			if s, ok := want.(string); ok && method == "toString" {
				assert.Contains(t, v, s)
				return
			}
			assert.Equal(t, want, v)
		})
	}

	t.Run("virtual dispatch", func(t *testing.T) {
		shape, err := p.ResolveType("demo.Shape")
		require.NoError(t, err)
		m, err := p.FindMethod(shape, "area")
		require.NoError(t, err)
		assert.Equal(t, "demo.Shape", m.DeclaringType().Name())

		v, err := p.Invoke(sq, m)
		require.NoError(t, err)
		assert.Equal(t, 4.0, v)
	})

	t.Run("interface method", func(t *testing.T) {
		named, err := p.ResolveType("demo.Named")
		require.NoError(t, err)
		m, err := p.FindMethod(named, "name")
		require.NoError(t, err)
		v, err := p.Invoke(sq, m)
		require.NoError(t, err)
		assert.Equal(t, "square", v)
	})
}

func TestNativeValues(t *testing.T) {
	p, _ := newProbe(t)
	calc, err := p.Instantiate("demo.Calculator")
	require.NoError(t, err)

	v, err := p.InvokeByName("hello", "length")
	require.NoError(t, err)
	assert.Equal(t, int32(5), v)

	box, err := p.Instantiate("java.lang.Integer", 7)
	require.NoError(t, err)
	require.IsType(t, &native.Integer{}, box)
	assert.Equal(t, int32(7), box.(*native.Integer).Value)

	// Parameter types come from the runtime type of the argument, so
	// equals(Object) is not found for a Calculator argument.
	_, err = p.InvokeByName(calc, "equals", calc)
	requireKind(t, err, probe.KindMethodNotFound)

	object, err := p.ResolveType("java.lang.Object")
	require.NoError(t, err)
	m, err := p.FindMethodOf(calc, "equals", object)
	require.NoError(t, err)
	eq, err := p.Invoke(calc, m, calc)
	require.NoError(t, err)
	assert.Equal(t, true, eq)
}

func TestDeniedPackages(t *testing.T) {
	p, _ := newProbe(t, jvmrt.WithDeniedPackages("demo."))

	_, err := p.Instantiate("demo.Calculator")
	requireKind(t, err, probe.KindPackageAccessDenied)

	typ, err := p.ResolveType("demo.Calculator")
	require.NoError(t, err)
	_, err = p.FindMethod(typ, "getTotal")
	f := requireKind(t, err, probe.KindPackageAccessDenied)
	assert.Equal(t, "Could not find the method 'getTotal' from the class Calculator because access to the package of the class was denied.", f.Message)
}

func TestTypeOf(t *testing.T) {
	_, rt := newProbe(t)
	tests := []struct {
		v    any
		name string
	}{
		{1, "int"},
		{int32(1), "int"},
		{int64(1), "long"},
		{int16(1), "short"},
		{int8(1), "byte"},
		{uint16('a'), "char"},
		{true, "boolean"},
		{float32(1), "float"},
		{1.0, "double"},
		{"s", "java.lang.String"},
		{vm.NewArray("[I", 0), "int[]"},
		{nil, "null"},
	}
	for _, tt := range tests {
		typ, err := rt.TypeOf(tt.v)
		require.NoError(t, err)
		assert.Equal(t, tt.name, typ.Name())
	}

	_, err := rt.TypeOf(struct{}{})
	assert.Error(t, err)
}

func TestForName(t *testing.T) {
	p, _ := newProbe(t)
	for _, name := range []string{"", "demo/Calculator", "[I"} {
		_, err := p.ResolveType(name)
		requireKind(t, err, probe.KindTypeNotFound)
	}
	typ, err := p.ResolveType("demo.Point3D")
	require.NoError(t, err)
	assert.Equal(t, "Point3D", typ.SimpleName())
}
