package vm

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/daimatz/gradeprobe/pkg/native"
	"github.com/daimatz/gradeprobe/pkg/vm/vmtest"
)

func newTestVM(t *testing.T) (*VM, *bytes.Buffer) {
	t.Helper()
	loader, err := NewMemoryClassLoader(vmtest.Classes()...)
	if err != nil {
		t.Fatalf("NewMemoryClassLoader: %v", err)
	}
	var buf bytes.Buffer
	v := NewVM(loader)
	v.Stdout = &buf
	v.Logger = zaptest.NewLogger(t)
	return v, &buf
}

func loadClass(t *testing.T, v *VM, name string) *Class {
	t.Helper()
	c, err := v.LoadClass(name)
	if err != nil {
		t.Fatalf("LoadClass(%s): %v", name, err)
	}
	return c
}

// construct runs new + <init>descriptor and returns the object.
func construct(t *testing.T, v *VM, name, descriptor string, args ...Value) (*Object, error) {
	t.Helper()
	c := loadClass(t, v, name)
	ref, err := v.Instantiate(c)
	if err != nil {
		return nil, err
	}
	obj := ref.(*Object)
	init := c.File.FindMethod("<init>", descriptor)
	if init == nil {
		t.Fatalf("%s has no constructor %s", name, descriptor)
	}
	if _, err := v.Invoke(c, init, append([]Value{RefValue(obj)}, args...)); err != nil {
		return nil, err
	}
	return obj, nil
}

// call invokes a static method when recv is nil and a virtual one otherwise.
func call(t *testing.T, v *VM, className string, recv interface{}, name, descriptor string, args ...Value) (Value, error) {
	t.Helper()
	c := loadClass(t, v, className)
	if recv == nil {
		owner, m := c.FindMethod(name, descriptor)
		if m == nil {
			t.Fatalf("%s.%s%s not found", className, name, descriptor)
		}
		if err := v.InitializeClass(owner); err != nil {
			return Value{}, err
		}
		return v.Invoke(owner, m, args)
	}
	rc, err := v.ClassOf(recv)
	if err != nil {
		t.Fatalf("ClassOf: %v", err)
	}
	owner, m := rc.ResolveVirtual(name, descriptor)
	if m == nil {
		t.Fatalf("%s.%s%s not found", rc.Name, name, descriptor)
	}
	return v.Invoke(owner, m, append([]Value{RefValue(recv)}, args...))
}

func javaException(t *testing.T, err error, className string) *JavaException {
	t.Helper()
	var je *JavaException
	if !errors.As(err, &je) {
		t.Fatalf("got error %v, want a thrown %s", err, className)
	}
	if je.ClassName() != className {
		t.Fatalf("thrown class: got %s, want %s", je.ClassName(), className)
	}
	return je
}

func TestExecuteMain(t *testing.T) {
	v, out := newTestVM(t)
	if err := v.Execute("demo/Greeter"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := "Hello, World!\n55\n"
	if out.String() != want {
		t.Errorf("output:\ngot  %q\nwant %q", out.String(), want)
	}
}

func TestExecuteWithoutMain(t *testing.T) {
	v, _ := newTestVM(t)
	err := v.Execute("demo/Calculator")
	if err == nil || !strings.Contains(err.Error(), "main method not found") {
		t.Errorf("got %v, want main method not found", err)
	}
}

func TestCalculator(t *testing.T) {
	v, _ := newTestVM(t)
	calc, err := construct(t, v, "demo/Calculator", "(I)V", IntValue(10))
	if err != nil {
		t.Fatalf("new Calculator(10): %v", err)
	}

	t.Run("static add", func(t *testing.T) {
		got, err := call(t, v, "demo/Calculator", nil, "add", "(II)I", IntValue(2), IntValue(3))
		if err != nil || got.Int != 5 {
			t.Errorf("add(2, 3): got (%d, %v), want 5", got.Int, err)
		}
	})

	t.Run("fields through methods", func(t *testing.T) {
		if _, err := call(t, v, "demo/Calculator", calc, "accumulate", "(I)V", IntValue(5)); err != nil {
			t.Fatalf("accumulate: %v", err)
		}
		got, err := call(t, v, "demo/Calculator", calc, "getTotal", "()I")
		if err != nil || got.Int != 15 {
			t.Errorf("getTotal: got (%d, %v), want 15", got.Int, err)
		}
		if calc.Fields["total"].Int != 15 {
			t.Errorf("total field: got %d, want 15", calc.Fields["total"].Int)
		}
		if !calc.Fields["label"].IsNull() {
			t.Errorf("label field: got %+v, want null", calc.Fields["label"])
		}
	})

	t.Run("long and double arguments", func(t *testing.T) {
		got, err := call(t, v, "demo/Calculator", calc, "square", "(J)J", LongValue(1<<20))
		if err != nil || got.Long != 1<<40 {
			t.Errorf("square: got (%d, %v)", got.Long, err)
		}
		got, err = call(t, v, "demo/Calculator", calc, "half", "(D)D", DoubleValue(5))
		if err != nil || got.Double != 2.5 {
			t.Errorf("half: got (%v, %v)", got.Double, err)
		}
	})

	t.Run("string building", func(t *testing.T) {
		got, err := call(t, v, "demo/Calculator", calc, "greet", "(Ljava/lang/String;)Ljava/lang/String;", RefValue("Ada"))
		if err != nil || got.Ref != "Hello, Ada" {
			t.Errorf("greet: got (%v, %v)", got.Ref, err)
		}
	})

	t.Run("boolean result", func(t *testing.T) {
		got, _ := call(t, v, "demo/Calculator", calc, "isPositive", "(I)Z", IntValue(-3))
		if got.Int != 0 {
			t.Errorf("isPositive(-3): got %d, want 0", got.Int)
		}
	})

	t.Run("division by zero", func(t *testing.T) {
		_, err := call(t, v, "demo/Calculator", calc, "divide", "(II)I", IntValue(1), IntValue(0))
		je := javaException(t, err, "java/lang/ArithmeticException")
		if je.Error() != "java.lang.ArithmeticException: / by zero" {
			t.Errorf("got %q", je.Error())
		}
	})
}

func TestExceptionHandler(t *testing.T) {
	v, _ := newTestVM(t)
	got, err := call(t, v, "demo/Greeter", nil, "safeDivide", "(II)I", IntValue(1), IntValue(0))
	if err != nil || got.Int != -1 {
		t.Errorf("safeDivide(1, 0): got (%d, %v), want -1", got.Int, err)
	}
	got, err = call(t, v, "demo/Greeter", nil, "safeDivide", "(II)I", IntValue(9), IntValue(3))
	if err != nil || got.Int != 3 {
		t.Errorf("safeDivide(9, 3): got (%d, %v), want 3", got.Int, err)
	}
}

func TestStackOverflow(t *testing.T) {
	v, _ := newTestVM(t)
	v.MaxFrameDepth = 64
	_, err := call(t, v, "demo/Greeter", nil, "recurse", "()I")
	javaException(t, err, "java/lang/StackOverflowError")
	if v.frameDepth != 0 {
		t.Errorf("frame depth after unwinding: got %d, want 0", v.frameDepth)
	}
}

func TestStaticInitializerFailure(t *testing.T) {
	v, _ := newTestVM(t)
	c := loadClass(t, v, "demo/Broken")

	err := v.InitializeClass(c)
	je := javaException(t, err, "java/lang/ExceptionInInitializerError")
	cause := je.Cause()
	if cause == nil || cause.Error() != "java.lang.ArithmeticException: / by zero" {
		t.Fatalf("cause: got %v", cause)
	}
	if !strings.Contains(je.StackString(), "Caused by: java.lang.ArithmeticException") {
		t.Errorf("stack string: got %q", je.StackString())
	}

	_, err = construct(t, v, "demo/Broken", "()V")
	javaException(t, err, "java/lang/NoClassDefFoundError")
}

func TestConstructorThrows(t *testing.T) {
	v, _ := newTestVM(t)

	if _, err := construct(t, v, "demo/Faulty", "(I)V", IntValue(1)); err != nil {
		t.Fatalf("new Faulty(1): %v", err)
	}

	_, err := construct(t, v, "demo/Faulty", "(I)V", IntValue(-1))
	je := javaException(t, err, "java/lang/IllegalArgumentException")
	if msg, ok := je.Message(); !ok || msg != "negative" {
		t.Errorf("message: got %q", msg)
	}
	if !je.IsInstanceOf("java/lang/RuntimeException") {
		t.Error("IllegalArgumentException should be a RuntimeException")
	}
}

func TestInheritanceAndInterfaces(t *testing.T) {
	v, _ := newTestVM(t)

	_, err := v.Instantiate(loadClass(t, v, "demo/Shape"))
	javaException(t, err, "java/lang/InstantiationError")

	sq, err := construct(t, v, "demo/Square", "(D)V", DoubleValue(3))
	if err != nil {
		t.Fatalf("new Square(3): %v", err)
	}
	if !sq.Class.IsSubclassOf("demo/Shape") || !sq.Class.IsSubclassOf("demo/Named") {
		t.Error("Square should extend Shape and implement Named")
	}

	area, err := call(t, v, "demo/Shape", sq, "area", "()D")
	if err != nil || area.Double != 9 {
		t.Errorf("area: got (%v, %v), want 9", area.Double, err)
	}
	desc, err := call(t, v, "demo/Square", sq, "describe", "()Ljava/lang/String;")
	if err != nil || desc.Ref != "shape" {
		t.Errorf("describe: got (%v, %v)", desc.Ref, err)
	}

	p, err := construct(t, v, "demo/Point3D", "(III)V", IntValue(1), IntValue(2), IntValue(3))
	if err != nil {
		t.Fatalf("new Point3D: %v", err)
	}
	if p.Fields["x"].Int != 1 || p.Fields["z"].Int != 3 {
		t.Errorf("fields: got %+v", p.Fields)
	}
	if owner, _ := p.Class.LookupField("x"); owner == nil || owner.Name != "demo/Point" {
		t.Errorf("x should be declared by demo/Point, got %v", owner)
	}
	if p.Class.File.FindField("x") != nil {
		t.Error("x must not be declared by demo/Point3D")
	}
	s, err := v.javaString(RefValue(p))
	if err != nil || s != "Point" {
		t.Errorf("toString: got (%q, %v)", s, err)
	}
}

func TestPrivateConstructorFactory(t *testing.T) {
	v, _ := newTestVM(t)
	ref, err := call(t, v, "demo/Counter", nil, "create", "()Ldemo/Counter;")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for want := int32(1); want <= 2; want++ {
		got, err := call(t, v, "demo/Counter", ref.Ref, "increment", "()I")
		if err != nil || got.Int != want {
			t.Errorf("increment: got (%d, %v), want %d", got.Int, err, want)
		}
	}
}

func TestNativeClasses(t *testing.T) {
	v, _ := newTestVM(t)

	got, err := call(t, v, "demo/Boxes", nil, "lookup", "()I")
	if err != nil || got.Int != 5 {
		t.Errorf("lookup: got (%d, %v), want 5", got.Int, err)
	}

	boxed, err := call(t, v, "demo/Boxes", nil, "box", "(I)Ljava/lang/Integer;", IntValue(7))
	if err != nil {
		t.Fatalf("box: %v", err)
	}
	if ni, ok := boxed.Ref.(*native.Integer); !ok || ni.Value != 7 {
		t.Errorf("box(7): got %#v", boxed.Ref)
	}

	c, err := v.ClassOf("text")
	if err != nil || c.Name != "java/lang/String" {
		t.Errorf("ClassOf(string): got (%v, %v)", c, err)
	}
	ok, err := v.IsInstance(NewArray("[Ljava/lang/String;", 0), "[Ljava/lang/Object;")
	if err != nil || !ok {
		t.Errorf("String[] instanceof Object[]: got (%v, %v)", ok, err)
	}
}

func TestLoadMissingClass(t *testing.T) {
	v, _ := newTestVM(t)
	_, err := v.LoadClass("demo/Missing")
	if !errors.Is(err, ErrClassNotFound) {
		t.Errorf("got %v, want ErrClassNotFound", err)
	}
}

func TestMalformedBytecodeIsAnError(t *testing.T) {
	v, _ := newTestVM(t)
	c := loadClass(t, v, "demo/Calculator")
	m := *c.File.FindMethod("getTotal", "()I")
	code := *m.Code
	code.MaxStack = 0
	m.Code = &code

	calc, err := construct(t, v, "demo/Calculator", "()V")
	if err != nil {
		t.Fatalf("new Calculator(): %v", err)
	}
	_, err = v.Invoke(c, &m, []Value{RefValue(calc)})
	if err == nil || !strings.Contains(err.Error(), "operand stack overflow") {
		t.Errorf("got %v, want operand stack overflow", err)
	}
	if v.frameDepth != 0 {
		t.Errorf("frame depth after panic: got %d, want 0", v.frameDepth)
	}
}
