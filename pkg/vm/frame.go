package vm

import (
	"encoding/binary"
	"fmt"

	"github.com/daimatz/gradeprobe/pkg/classfile"
)

// Frame is the activation record of one method call. Stack and locals are
// sized from the Code attribute; exceeding either is a malformed class and
// panics, which Invoke turns into an internal error.
type Frame struct {
	Class  *Class
	Method *classfile.MethodInfo
	Code   []byte
	PC     int

	locals []Value
	stack  []Value
}

func NewFrame(maxLocals, maxStack uint16, code []byte, class *Class) *Frame {
	return &Frame{
		Class:  class,
		Code:   code,
		locals: make([]Value, maxLocals),
		stack:  make([]Value, 0, maxStack),
	}
}

// Depth is the number of values on the operand stack.
func (f *Frame) Depth() int { return len(f.stack) }

// ClearStack empties the operand stack, as on entry to an exception handler.
func (f *Frame) ClearStack() { f.stack = f.stack[:0] }

func (f *Frame) Push(v Value) {
	if len(f.stack) == cap(f.stack) {
		panic(fmt.Sprintf("operand stack overflow in %s: max %d", f.where(), cap(f.stack)))
	}
	f.stack = append(f.stack, v)
}

func (f *Frame) Pop() Value {
	v := f.Peek()
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

func (f *Frame) Peek() Value {
	if len(f.stack) == 0 {
		panic(fmt.Sprintf("operand stack underflow in %s", f.where()))
	}
	return f.stack[len(f.stack)-1]
}

func (f *Frame) GetLocal(index int) Value {
	f.checkLocal(index)
	return f.locals[index]
}

func (f *Frame) SetLocal(index int, v Value) {
	f.checkLocal(index)
	f.locals[index] = v
}

func (f *Frame) checkLocal(index int) {
	if index < 0 || index >= len(f.locals) {
		panic(fmt.Sprintf("local %d out of range in %s: max %d", index, f.where(), len(f.locals)))
	}
}

func (f *Frame) where() string {
	if f.Class == nil || f.Method == nil {
		return "frame"
	}
	return f.Class.Name + "." + f.Method.Name
}

// operand returns the next n bytes of inline operand and advances PC.
func (f *Frame) operand(n int) []byte {
	b := f.Code[f.PC : f.PC+n]
	f.PC += n
	return b
}

func (f *Frame) ReadU8() uint8   { return f.operand(1)[0] }
func (f *Frame) ReadI8() int8    { return int8(f.ReadU8()) }
func (f *Frame) ReadU16() uint16 { return binary.BigEndian.Uint16(f.operand(2)) }
func (f *Frame) ReadI16() int16  { return int16(f.ReadU16()) }
func (f *Frame) ReadI32() int32  { return int32(binary.BigEndian.Uint32(f.operand(4))) }
