package vm

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/daimatz/gradeprobe/pkg/classfile"
	"github.com/daimatz/gradeprobe/pkg/native"
)

// DefaultMaxFrameDepth is the default maximum number of nested method calls.
const DefaultMaxFrameDepth = 1024

// VM is the virtual machine that executes Java bytecode.
// A VM is not safe for concurrent use.
type VM struct {
	Loader        ClassLoader
	Stdout        io.Writer
	Logger        *zap.Logger
	MaxFrameDepth int

	classes    map[string]*Class
	frameDepth int
	nextHash   int32
}

// NewVM creates a new VM that resolves classes through loader.
func NewVM(loader ClassLoader) *VM {
	return &VM{
		Loader:        loader,
		Stdout:        os.Stdout,
		Logger:        zap.NewNop(),
		MaxFrameDepth: DefaultMaxFrameDepth,
		classes:       make(map[string]*Class),
	}
}

// stdout forwards to the VM's current Stdout so System.out follows changes to it.
type stdout struct{ vm *VM }

func (w stdout) Write(p []byte) (int, error) {
	if w.vm.Stdout == nil {
		return os.Stdout.Write(p)
	}
	return w.vm.Stdout.Write(p)
}

// LoadClass loads and links the class with the given internal name,
// along with its superclasses and interfaces. It does not initialize it.
func (vm *VM) LoadClass(name string) (*Class, error) {
	if c, ok := vm.classes[name]; ok {
		return c, nil
	}

	cf, err := vm.findClassFile(name)
	if err != nil {
		return nil, err
	}
	if declared, err := cf.ClassName(); err != nil || declared != name {
		return nil, fmt.Errorf("loading %s: class file declares %q", name, declared)
	}

	c := &Class{Name: name, File: cf, Statics: make(map[string]Value)}
	if super := cf.SuperClassName(); super != "" {
		sc, err := vm.LoadClass(super)
		if err != nil {
			return nil, fmt.Errorf("loading superclass of %s: %w", name, err)
		}
		c.Super = sc
	}
	for _, ifaceName := range cf.InterfaceNames() {
		iface, err := vm.LoadClass(ifaceName)
		if err != nil {
			return nil, fmt.Errorf("loading interface of %s: %w", name, err)
		}
		c.Interfaces = append(c.Interfaces, iface)
	}
	for _, f := range cf.Fields {
		if f.IsStatic() {
			c.Statics[f.Name] = ZeroValue(f.Descriptor)
		}
	}
	if name == "java/lang/System" {
		c.Statics["out"] = RefValue(&native.PrintStream{Writer: stdout{vm}})
	}

	vm.classes[name] = c
	vm.Logger.Debug("class loaded", zap.String("class", c.JavaName()))
	return c, nil
}

func (vm *VM) findClassFile(name string) (*classfile.ClassFile, error) {
	if b, ok := builtinClasses[name]; ok {
		return b.build(name)
	}
	if strings.HasPrefix(name, "[") {
		return classfile.NewBuilder(name, "java/lang/Object", classfile.AccPublic|classfile.AccFinal).Build()
	}
	if vm.Loader == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrClassNotFound)
	}
	return vm.Loader.LoadClass(name)
}

// InitializeClass runs the static initializers of c and its superclasses
// once. A class whose initializer failed stays unusable.
func (vm *VM) InitializeClass(c *Class) (err error) {
	defer vm.recoverPanic(&err)
	return vm.initializeClass(c)
}

func (vm *VM) initializeClass(c *Class) error {
	switch c.state {
	case classInitialized, classInitializing:
		return nil
	case classErroneous:
		return vm.throw("java/lang/NoClassDefFoundError", "Could not initialize class "+c.JavaName())
	}

	c.state = classInitializing
	if c.Super != nil {
		if err := vm.initializeClass(c.Super); err != nil {
			c.state = classErroneous
			c.initErr = err
			return err
		}
	}

	if clinit := c.File.FindMethod("<clinit>", "()V"); clinit != nil {
		vm.Logger.Debug("running static initializer", zap.String("class", c.JavaName()))
		if _, err := vm.executeMethod(c, clinit, nil); err != nil {
			c.state = classErroneous
			var je *JavaException
			if errors.As(err, &je) && !je.IsInstanceOf("java/lang/Error") {
				err = vm.throwCause("java/lang/ExceptionInInitializerError", je)
			}
			c.initErr = err
			return err
		}
	}
	c.state = classInitialized
	return nil
}

// NewObject allocates an instance of c with all instance fields zeroed.
// It does not run a constructor.
func (vm *VM) NewObject(c *Class) *Object {
	obj := &Object{Class: c, Fields: make(map[string]Value)}
	for k := c; k != nil; k = k.Super {
		for _, f := range k.File.Fields {
			if f.IsStatic() {
				continue
			}
			if _, shadowed := obj.Fields[f.Name]; !shadowed {
				obj.Fields[f.Name] = ZeroValue(f.Descriptor)
			}
		}
	}
	return obj
}

// Instantiate creates an object for "new": builtin classes backed by a Go
// value get that value, all others an Object.
func (vm *VM) Instantiate(c *Class) (interface{}, error) {
	if c.IsAbstract() {
		return nil, vm.throw("java/lang/InstantiationError", c.JavaName())
	}
	if err := vm.initializeClass(c); err != nil {
		return nil, err
	}
	if b, ok := builtinClasses[c.Name]; ok && b.factory != nil {
		return b.factory(), nil
	}
	return vm.NewObject(c), nil
}

// Invoke runs method m declared by c. For instance methods args[0] is the
// receiver; long and double arguments take one element each.
// A thrown Java exception is returned as a *JavaException.
func (vm *VM) Invoke(c *Class, m *classfile.MethodInfo, args []Value) (ret Value, err error) {
	defer vm.recoverPanic(&err)
	return vm.executeMethod(c, m, args)
}

// ClassOf returns the class of a non-null reference.
func (vm *VM) ClassOf(ref interface{}) (*Class, error) {
	return vm.classOfRef(ref)
}

// IsInstance reports whether ref is an instance of the class or array type target.
func (vm *VM) IsInstance(ref interface{}, target string) (bool, error) {
	if arr, ok := ref.(*Array); ok && strings.HasPrefix(target, "[") {
		return vm.arrayAssignable(arr.Descriptor, target)
	}
	c, err := vm.classOfRef(ref)
	if err != nil {
		return false, err
	}
	return c.IsSubclassOf(target), nil
}

func (vm *VM) arrayAssignable(src, dst string) (bool, error) {
	if src == dst {
		return true, nil
	}
	s, d := src[1:], dst[1:]
	switch {
	case strings.HasPrefix(s, "[") && strings.HasPrefix(d, "["):
		return vm.arrayAssignable(s, d)
	case strings.HasPrefix(s, "L") && strings.HasPrefix(d, "L"):
		sc, err := vm.LoadClass(s[1 : len(s)-1])
		if err != nil {
			return false, err
		}
		return sc.IsSubclassOf(d[1 : len(d)-1]), nil
	case strings.HasPrefix(s, "[") && d == "Ljava/lang/Object;":
		return true, nil
	}
	return false, nil
}

// Execute finds and executes the main method of the named class.
func (vm *VM) Execute(className string) (err error) {
	defer vm.recoverPanic(&err)

	c, err := vm.LoadClass(className)
	if err != nil {
		return err
	}
	method := c.File.FindMethod("main", "([Ljava/lang/String;)V")
	if method == nil || !method.IsStatic() {
		return fmt.Errorf("main method not found in %s", c.JavaName())
	}
	if err := vm.initializeClass(c); err != nil {
		return err
	}

	args := []Value{RefValue(NewArray("[Ljava/lang/String;", 0))}
	_, err = vm.executeMethod(c, method, args)
	return err
}

// recoverPanic turns a panic from malformed bytecode into an error.
func (vm *VM) recoverPanic(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("vm: internal error: %v", r)
	}
}

// executeMethod executes a method with the given arguments and returns its return value.
func (vm *VM) executeMethod(class *Class, method *classfile.MethodInfo, args []Value) (Value, error) {
	if method.IsNative() {
		return vm.invokeNative(class, method, args)
	}
	if method.Code == nil {
		return Value{}, vm.throw("java/lang/AbstractMethodError", class.JavaName()+"."+method.Name+method.Descriptor)
	}

	vm.frameDepth++
	defer func() { vm.frameDepth-- }()
	if vm.frameDepth > vm.MaxFrameDepth {
		return Value{}, vm.throw("java/lang/StackOverflowError", "")
	}

	frame := NewFrame(method.Code.MaxLocals, method.Code.MaxStack, method.Code.Code, class)
	frame.Method = method

	// Set arguments into local variables; long and double take two slots.
	slot := 0
	for _, arg := range args {
		frame.SetLocal(slot, arg)
		slot++
		if arg.IsWide() {
			slot++
		}
	}

	// Execution loop
	for frame.PC < len(frame.Code) {
		pc := frame.PC
		opcode := frame.Code[frame.PC]
		frame.PC++

		retVal, hasReturn, err := vm.executeInstruction(frame, opcode)
		if err != nil {
			var je *JavaException
			if errors.As(err, &je) {
				if handler, ok := vm.findHandler(frame, pc, je); ok {
					frame.ClearStack()
					frame.Push(RefValue(je.Object))
					frame.PC = handler
					continue
				}
			}
			return Value{}, err
		}
		if hasReturn {
			return retVal, nil
		}
	}

	// Fell off the end of the method (implicit return for void methods)
	return Value{}, nil
}

// findHandler searches the exception table of the frame's method for a
// handler covering pc that catches je.
func (vm *VM) findHandler(frame *Frame, pc int, je *JavaException) (int, bool) {
	pool := frame.Class.File.ConstantPool
	for _, h := range frame.Method.Code.ExceptionHandlers {
		if pc < int(h.StartPC) || pc >= int(h.EndPC) {
			continue
		}
		if h.CatchType == 0 {
			return int(h.HandlerPC), true
		}
		catchName, err := classfile.GetClassName(pool, h.CatchType)
		if err != nil {
			continue
		}
		if je.IsInstanceOf(catchName) {
			return int(h.HandlerPC), true
		}
	}
	return 0, false
}

func (vm *VM) invokeNative(class *Class, method *classfile.MethodInfo, args []Value) (Value, error) {
	fn, ok := natives[nativeKey(class.Name, method.Name, method.Descriptor)]
	if !ok {
		return Value{}, fmt.Errorf("native method %s.%s%s is not implemented", class.JavaName(), method.Name, method.Descriptor)
	}
	return fn(vm, args)
}

// classOfRef returns the class of a non-null reference, including the
// builtin classes backed by Go values.
func (vm *VM) classOfRef(ref interface{}) (*Class, error) {
	switch r := ref.(type) {
	case *Object:
		return r.Class, nil
	case *Array:
		return vm.LoadClass(r.Descriptor)
	case string:
		return vm.LoadClass("java/lang/String")
	case *native.Integer:
		return vm.LoadClass("java/lang/Integer")
	case *native.StringBuilder:
		return vm.LoadClass("java/lang/StringBuilder")
	case *native.HashMap:
		return vm.LoadClass("java/util/HashMap")
	case *native.PrintStream:
		return vm.LoadClass("java/io/PrintStream")
	}
	return nil, fmt.Errorf("unsupported reference type %T", ref)
}
