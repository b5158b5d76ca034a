package vm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/daimatz/gradeprobe/pkg/classfile"
)

// resolveClass loads a class referenced from bytecode. A missing class
// becomes a NoClassDefFoundError the program can observe.
func (vm *VM) resolveClass(name string) (*Class, error) {
	c, err := vm.LoadClass(name)
	if err != nil {
		if errors.Is(err, ErrClassNotFound) {
			return nil, vm.throw("java/lang/NoClassDefFoundError", strings.ReplaceAll(name, "/", "."))
		}
		return nil, err
	}
	return c, nil
}

// popArgs pops the arguments of a call with the given descriptor, plus the
// receiver when hasReceiver is set, and returns them in declaration order.
func popArgs(frame *Frame, descriptor string, hasReceiver bool) ([]Value, string, error) {
	params, ret, err := classfile.ParseMethodDescriptor(descriptor)
	if err != nil {
		return nil, "", err
	}
	n := len(params)
	if hasReceiver {
		n++
	}
	args := make([]Value, n)
	for i := n - 1; i >= 0; i-- {
		args[i] = frame.Pop()
	}
	return args, ret, nil
}

// staticOwner finds the class declaring the static field name, searching
// superclasses and superinterfaces.
func staticOwner(c *Class, name string) *Class {
	for k := c; k != nil; k = k.Super {
		if _, ok := k.Statics[name]; ok {
			return k
		}
		for _, iface := range k.Interfaces {
			if owner := staticOwner(iface, name); owner != nil {
				return owner
			}
		}
	}
	return nil
}

func (vm *VM) resolveStatic(frame *Frame) (*Class, *classfile.FieldRefInfo, error) {
	index := frame.ReadU16()
	fieldRef, err := classfile.ResolveFieldref(frame.Class.File.ConstantPool, index)
	if err != nil {
		return nil, nil, err
	}
	c, err := vm.resolveClass(fieldRef.ClassName)
	if err != nil {
		return nil, nil, err
	}
	owner := staticOwner(c, fieldRef.FieldName)
	if owner == nil {
		return nil, nil, vm.throw("java/lang/NoSuchFieldError", fieldRef.FieldName)
	}
	if err := vm.initializeClass(owner); err != nil {
		return nil, nil, err
	}
	return owner, fieldRef, nil
}

// executeGetstatic handles the getstatic instruction.
func (vm *VM) executeGetstatic(frame *Frame) error {
	owner, fieldRef, err := vm.resolveStatic(frame)
	if err != nil {
		return err
	}
	frame.Push(owner.Statics[fieldRef.FieldName])
	return nil
}

// executePutstatic handles the putstatic instruction.
func (vm *VM) executePutstatic(frame *Frame) error {
	owner, fieldRef, err := vm.resolveStatic(frame)
	if err != nil {
		return err
	}
	owner.Statics[fieldRef.FieldName] = frame.Pop()
	return nil
}

func (vm *VM) popObject(frame *Frame, op string) (*Object, error) {
	ref := frame.Pop()
	if ref.IsNull() {
		return nil, vm.throw("java/lang/NullPointerException", "")
	}
	obj, ok := ref.Ref.(*Object)
	if !ok {
		return nil, fmt.Errorf("%s: %T has no accessible fields", op, ref.Ref)
	}
	return obj, nil
}

// executeGetfield handles the getfield instruction.
func (vm *VM) executeGetfield(frame *Frame) error {
	index := frame.ReadU16()
	fieldRef, err := classfile.ResolveFieldref(frame.Class.File.ConstantPool, index)
	if err != nil {
		return fmt.Errorf("getfield: %w", err)
	}

	obj, err := vm.popObject(frame, "getfield")
	if err != nil {
		return err
	}
	val, ok := obj.Fields[fieldRef.FieldName]
	if !ok {
		return vm.throw("java/lang/NoSuchFieldError", fieldRef.FieldName)
	}
	frame.Push(val)
	return nil
}

// executePutfield handles the putfield instruction.
func (vm *VM) executePutfield(frame *Frame) error {
	index := frame.ReadU16()
	fieldRef, err := classfile.ResolveFieldref(frame.Class.File.ConstantPool, index)
	if err != nil {
		return fmt.Errorf("putfield: %w", err)
	}

	val := frame.Pop()
	obj, err := vm.popObject(frame, "putfield")
	if err != nil {
		return err
	}
	if _, ok := obj.Fields[fieldRef.FieldName]; !ok {
		return vm.throw("java/lang/NoSuchFieldError", fieldRef.FieldName)
	}
	obj.Fields[fieldRef.FieldName] = val
	return nil
}

// executeInvokevirtual handles invokevirtual and invokeinterface: the
// method is selected from the runtime class of the receiver.
func (vm *VM) executeInvokevirtual(frame *Frame, iface bool) error {
	index := frame.ReadU16()
	if iface {
		frame.ReadU8() // count
		frame.ReadU8() // zero
	}
	ref, err := classfile.ResolveAnyMethodref(frame.Class.File.ConstantPool, index)
	if err != nil {
		return fmt.Errorf("invoke: %w", err)
	}

	args, ret, err := popArgs(frame, ref.Descriptor, true)
	if err != nil {
		return err
	}
	if args[0].IsNull() {
		return vm.throw("java/lang/NullPointerException",
			fmt.Sprintf("Cannot invoke \"%s.%s()\" because value is null", strings.ReplaceAll(ref.ClassName, "/", "."), ref.MethodName))
	}
	c, err := vm.classOfRef(args[0].Ref)
	if err != nil {
		return err
	}
	owner, m := c.ResolveVirtual(ref.MethodName, ref.Descriptor)
	if m == nil {
		return vm.throw("java/lang/AbstractMethodError", c.JavaName()+"."+ref.MethodName+ref.Descriptor)
	}
	return vm.invokeAndPush(frame, owner, m, args, ret)
}

// executeInvokespecial handles constructors, private methods and super calls.
func (vm *VM) executeInvokespecial(frame *Frame) error {
	index := frame.ReadU16()
	ref, err := classfile.ResolveAnyMethodref(frame.Class.File.ConstantPool, index)
	if err != nil {
		return fmt.Errorf("invokespecial: %w", err)
	}
	c, err := vm.resolveClass(ref.ClassName)
	if err != nil {
		return err
	}

	var owner *Class
	var m *classfile.MethodInfo
	if ref.MethodName == "<init>" {
		owner, m = c, c.File.FindMethod(ref.MethodName, ref.Descriptor)
	} else {
		owner, m = c.FindMethod(ref.MethodName, ref.Descriptor)
	}
	if m == nil {
		return vm.throw("java/lang/NoSuchMethodError", c.JavaName()+"."+ref.MethodName+ref.Descriptor)
	}

	args, ret, err := popArgs(frame, ref.Descriptor, true)
	if err != nil {
		return err
	}
	if args[0].IsNull() {
		return vm.throw("java/lang/NullPointerException", "")
	}
	return vm.invokeAndPush(frame, owner, m, args, ret)
}

// executeInvokestatic handles the invokestatic instruction.
func (vm *VM) executeInvokestatic(frame *Frame) error {
	index := frame.ReadU16()
	ref, err := classfile.ResolveAnyMethodref(frame.Class.File.ConstantPool, index)
	if err != nil {
		return fmt.Errorf("invokestatic: %w", err)
	}
	c, err := vm.resolveClass(ref.ClassName)
	if err != nil {
		return err
	}
	owner, m := c.FindMethod(ref.MethodName, ref.Descriptor)
	if m == nil || !m.IsStatic() {
		return vm.throw("java/lang/NoSuchMethodError", c.JavaName()+"."+ref.MethodName+ref.Descriptor)
	}
	if err := vm.initializeClass(owner); err != nil {
		return err
	}

	args, ret, err := popArgs(frame, ref.Descriptor, false)
	if err != nil {
		return err
	}
	return vm.invokeAndPush(frame, owner, m, args, ret)
}

func (vm *VM) invokeAndPush(frame *Frame, owner *Class, m *classfile.MethodInfo, args []Value, ret string) error {
	result, err := vm.executeMethod(owner, m, args)
	if err != nil {
		return err
	}
	if ret != "V" {
		frame.Push(result)
	}
	return nil
}

// executeNew handles the new instruction.
func (vm *VM) executeNew(frame *Frame) error {
	index := frame.ReadU16()
	name, err := classfile.GetClassName(frame.Class.File.ConstantPool, index)
	if err != nil {
		return fmt.Errorf("new: %w", err)
	}
	c, err := vm.resolveClass(name)
	if err != nil {
		return err
	}
	obj, err := vm.Instantiate(c)
	if err != nil {
		return err
	}
	frame.Push(RefValue(obj))
	return nil
}

var primitiveArrayTypes = map[uint8]string{
	4:  "[Z",
	5:  "[C",
	6:  "[F",
	7:  "[D",
	8:  "[B",
	9:  "[S",
	10: "[I",
	11: "[J",
}

func (vm *VM) newArray(descriptor string, count int32) (*Array, error) {
	if count < 0 {
		return nil, vm.throw("java/lang/NegativeArraySizeException", fmt.Sprint(count))
	}
	return NewArray(descriptor, int(count)), nil
}

// executeNewarray handles the newarray instruction.
func (vm *VM) executeNewarray(frame *Frame) error {
	atype := frame.ReadU8()
	desc, ok := primitiveArrayTypes[atype]
	if !ok {
		return fmt.Errorf("newarray: invalid array type %d", atype)
	}
	arr, err := vm.newArray(desc, frame.Pop().Int)
	if err != nil {
		return err
	}
	frame.Push(RefValue(arr))
	return nil
}

// executeAnewarray handles the anewarray instruction.
func (vm *VM) executeAnewarray(frame *Frame) error {
	index := frame.ReadU16()
	name, err := classfile.GetClassName(frame.Class.File.ConstantPool, index)
	if err != nil {
		return fmt.Errorf("anewarray: %w", err)
	}
	arr, err := vm.newArray("["+classfile.ObjectDescriptor(name), frame.Pop().Int)
	if err != nil {
		return err
	}
	frame.Push(RefValue(arr))
	return nil
}

// executeMultianewarray handles the multianewarray instruction.
func (vm *VM) executeMultianewarray(frame *Frame) error {
	index := frame.ReadU16()
	dims := int(frame.ReadU8())
	desc, err := classfile.GetClassName(frame.Class.File.ConstantPool, index)
	if err != nil {
		return fmt.Errorf("multianewarray: %w", err)
	}
	counts := make([]int32, dims)
	for i := dims - 1; i >= 0; i-- {
		counts[i] = frame.Pop().Int
	}
	arr, err := vm.newMultiArray(desc, counts)
	if err != nil {
		return err
	}
	frame.Push(RefValue(arr))
	return nil
}

func (vm *VM) newMultiArray(desc string, counts []int32) (*Array, error) {
	arr, err := vm.newArray(desc, counts[0])
	if err != nil {
		return nil, err
	}
	if len(counts) > 1 {
		for i := range arr.Elements {
			sub, err := vm.newMultiArray(desc[1:], counts[1:])
			if err != nil {
				return nil, err
			}
			arr.Elements[i] = RefValue(sub)
		}
	}
	return arr, nil
}

func (vm *VM) popArray(frame *Frame) (*Array, error) {
	ref := frame.Pop()
	if ref.IsNull() {
		return nil, vm.throw("java/lang/NullPointerException", "")
	}
	arr, ok := ref.Ref.(*Array)
	if !ok {
		return nil, fmt.Errorf("reference %T is not an array", ref.Ref)
	}
	return arr, nil
}

func (vm *VM) checkIndex(arr *Array, index int32) error {
	if index < 0 || int(index) >= len(arr.Elements) {
		return vm.throw("java/lang/ArrayIndexOutOfBoundsException",
			fmt.Sprintf("Index %d out of bounds for length %d", index, len(arr.Elements)))
	}
	return nil
}

// executeArrayLoad handles iaload through saload.
func (vm *VM) executeArrayLoad(frame *Frame) error {
	index := frame.Pop().Int
	arr, err := vm.popArray(frame)
	if err != nil {
		return err
	}
	if err := vm.checkIndex(arr, index); err != nil {
		return err
	}
	frame.Push(arr.Elements[index])
	return nil
}

// executeArrayStore handles iastore through sastore, narrowing values
// stored into boolean, byte, char and short arrays.
func (vm *VM) executeArrayStore(frame *Frame) error {
	val := frame.Pop()
	index := frame.Pop().Int
	arr, err := vm.popArray(frame)
	if err != nil {
		return err
	}
	if err := vm.checkIndex(arr, index); err != nil {
		return err
	}
	switch arr.Descriptor {
	case "[Z":
		val = IntValue(val.Int & 1)
	case "[B":
		val = IntValue(int32(int8(val.Int)))
	case "[C":
		val = IntValue(int32(uint16(val.Int)))
	case "[S":
		val = IntValue(int32(int16(val.Int)))
	}
	arr.Elements[index] = val
	return nil
}

// executeCheckcast handles the checkcast instruction.
func (vm *VM) executeCheckcast(frame *Frame) error {
	index := frame.ReadU16()
	name, err := classfile.GetClassName(frame.Class.File.ConstantPool, index)
	if err != nil {
		return fmt.Errorf("checkcast: %w", err)
	}
	ref := frame.Peek()
	if ref.IsNull() {
		return nil
	}
	ok, err := vm.IsInstance(ref.Ref, name)
	if err != nil {
		return err
	}
	if !ok {
		c, err := vm.classOfRef(ref.Ref)
		if err != nil {
			return err
		}
		return vm.throw("java/lang/ClassCastException", fmt.Sprintf("class %s cannot be cast to class %s",
			c.JavaName(), strings.ReplaceAll(name, "/", ".")))
	}
	return nil
}

// executeInstanceof handles the instanceof instruction.
func (vm *VM) executeInstanceof(frame *Frame) error {
	index := frame.ReadU16()
	name, err := classfile.GetClassName(frame.Class.File.ConstantPool, index)
	if err != nil {
		return fmt.Errorf("instanceof: %w", err)
	}
	ref := frame.Pop()
	if ref.IsNull() {
		frame.Push(IntValue(0))
		return nil
	}
	ok, err := vm.IsInstance(ref.Ref, name)
	if err != nil {
		return err
	}
	frame.Push(BoolValue(ok))
	return nil
}
