package classfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Builder assembles a class file in memory. Constant pool entries are
// deduplicated, so the same symbolic reference always yields the same index.
type Builder struct {
	pool    []ConstantPoolEntry
	index   map[string]uint16
	flags   uint16
	this    uint16
	super   uint16
	ifaces  []uint16
	fields  []memberDef
	methods []memberDef
}

type memberDef struct {
	flags uint16
	name  uint16
	desc  uint16
	code  *CodeAttribute
}

// NewBuilder starts a class named name (internal form, e.g. "foo/Bar").
// An empty super produces a class without superclass, like java/lang/Object.
func NewBuilder(name, super string, flags uint16) *Builder {
	b := &Builder{
		pool:  []ConstantPoolEntry{nil},
		index: make(map[string]uint16),
		flags: flags,
	}
	b.this = b.Class(name)
	if super != "" {
		b.super = b.Class(super)
	}
	return b
}

func (b *Builder) add(key string, entry ConstantPoolEntry) uint16 {
	if idx, ok := b.index[key]; ok {
		return idx
	}
	idx := uint16(len(b.pool))
	b.pool = append(b.pool, entry)
	if wide(entry) {
		b.pool = append(b.pool, nil)
	}
	b.index[key] = idx
	return idx
}

func (b *Builder) Utf8(s string) uint16 {
	return b.add("utf8:"+s, &ConstantUtf8{Value: s})
}

func (b *Builder) Class(name string) uint16 {
	nameIdx := b.Utf8(name)
	return b.add("class:"+name, &ConstantClass{NameIndex: nameIdx})
}

func (b *Builder) String(s string) uint16 {
	strIdx := b.Utf8(s)
	return b.add("string:"+s, &ConstantString{StringIndex: strIdx})
}

func (b *Builder) Integer(v int32) uint16 {
	return b.add(fmt.Sprintf("int:%d", v), &ConstantInteger{Value: v})
}

func (b *Builder) Float(v float32) uint16 {
	return b.add(fmt.Sprintf("float:%x", math.Float32bits(v)), &ConstantFloat{Value: v})
}

func (b *Builder) Long(v int64) uint16 {
	return b.add(fmt.Sprintf("long:%d", v), &ConstantLong{Value: v})
}

func (b *Builder) Double(v float64) uint16 {
	return b.add(fmt.Sprintf("double:%x", math.Float64bits(v)), &ConstantDouble{Value: v})
}

func (b *Builder) NameAndType(name, descriptor string) uint16 {
	nameIdx := b.Utf8(name)
	descIdx := b.Utf8(descriptor)
	return b.add("nat:"+name+":"+descriptor, &ConstantNameAndType{NameIndex: nameIdx, DescriptorIndex: descIdx})
}

func (b *Builder) Fieldref(class, name, descriptor string) uint16 {
	classIdx := b.Class(class)
	natIdx := b.NameAndType(name, descriptor)
	return b.add("field:"+class+"."+name+":"+descriptor, &ConstantFieldref{MemberRef{classIdx, natIdx}})
}

func (b *Builder) Methodref(class, name, descriptor string) uint16 {
	classIdx := b.Class(class)
	natIdx := b.NameAndType(name, descriptor)
	return b.add("method:"+class+"."+name+descriptor, &ConstantMethodref{MemberRef{classIdx, natIdx}})
}

func (b *Builder) InterfaceMethodref(class, name, descriptor string) uint16 {
	classIdx := b.Class(class)
	natIdx := b.NameAndType(name, descriptor)
	return b.add("imethod:"+class+"."+name+descriptor, &ConstantInterfaceMethodref{MemberRef{classIdx, natIdx}})
}

// Implements adds a directly implemented interface.
func (b *Builder) Implements(iface string) *Builder {
	b.ifaces = append(b.ifaces, b.Class(iface))
	return b
}

// Field declares a field.
func (b *Builder) Field(flags uint16, name, descriptor string) *Builder {
	b.fields = append(b.fields, memberDef{flags: flags, name: b.Utf8(name), desc: b.Utf8(descriptor)})
	return b
}

// Method declares a method. code is nil for abstract and native methods.
func (b *Builder) Method(flags uint16, name, descriptor string, code *CodeAttribute) *Builder {
	if code != nil {
		b.Utf8("Code")
	}
	b.methods = append(b.methods, memberDef{flags: flags, name: b.Utf8(name), desc: b.Utf8(descriptor), code: code})
	return b
}

// Bytes serializes the class file (major version 52, Java 8).
func (b *Builder) Bytes() []byte {
	w := &classWriter{}
	w.u4(classMagic)
	w.u2(0)
	w.u2(52)

	w.u2(uint16(len(b.pool)))
	for _, entry := range b.pool {
		if entry != nil {
			w.constant(entry)
		}
	}

	w.u2(b.flags)
	w.u2(b.this)
	w.u2(b.super)
	w.u2(uint16(len(b.ifaces)))
	for _, idx := range b.ifaces {
		w.u2(idx)
	}

	w.u2(uint16(len(b.fields)))
	for _, f := range b.fields {
		w.u2(f.flags)
		w.u2(f.name)
		w.u2(f.desc)
		w.u2(0)
	}

	w.u2(uint16(len(b.methods)))
	for _, m := range b.methods {
		w.u2(m.flags)
		w.u2(m.name)
		w.u2(m.desc)
		if m.code == nil {
			w.u2(0)
			continue
		}
		w.u2(1)
		w.u2(b.index["utf8:Code"])
		c := m.code
		w.u4(uint32(2 + 2 + 4 + len(c.Code) + 2 + 8*len(c.ExceptionHandlers) + 2))
		w.u2(c.MaxStack)
		w.u2(c.MaxLocals)
		w.u4(uint32(len(c.Code)))
		w.buf.Write(c.Code)
		w.u2(uint16(len(c.ExceptionHandlers)))
		for _, h := range c.ExceptionHandlers {
			w.u2(h.StartPC)
			w.u2(h.EndPC)
			w.u2(h.HandlerPC)
			w.u2(h.CatchType)
		}
		w.u2(0)
	}

	w.u2(0) // class attributes
	return w.buf.Bytes()
}

// Build serializes the class and parses it back.
func (b *Builder) Build() (*ClassFile, error) {
	return ParseBytes(b.Bytes())
}

type classWriter struct {
	buf bytes.Buffer
}

func (w *classWriter) u1(v uint8) { w.buf.WriteByte(v) }

func (w *classWriter) u2(v uint16) {
	w.buf.Write(binary.BigEndian.AppendUint16(nil, v))
}

func (w *classWriter) u4(v uint32) {
	w.buf.Write(binary.BigEndian.AppendUint32(nil, v))
}

func (w *classWriter) u8(v uint64) {
	w.buf.Write(binary.BigEndian.AppendUint64(nil, v))
}

func (w *classWriter) constant(entry ConstantPoolEntry) {
	w.u1(entry.Tag())
	switch c := entry.(type) {
	case *ConstantUtf8:
		w.u2(uint16(len(c.Value)))
		w.buf.WriteString(c.Value)
	case *ConstantInteger:
		w.u4(uint32(c.Value))
	case *ConstantFloat:
		w.u4(math.Float32bits(c.Value))
	case *ConstantLong:
		w.u8(uint64(c.Value))
	case *ConstantDouble:
		w.u8(math.Float64bits(c.Value))
	case *ConstantClass:
		w.u2(c.NameIndex)
	case *ConstantString:
		w.u2(c.StringIndex)
	case interface{ memberRef() MemberRef }:
		ref := c.memberRef()
		w.u2(ref.ClassIndex)
		w.u2(ref.NameAndTypeIndex)
	case *ConstantNameAndType:
		w.u2(c.NameIndex)
		w.u2(c.DescriptorIndex)
	}
}

// Assembler emits bytecode and resolves branch labels.
type Assembler struct {
	code   []byte
	labels map[string]int
	fixups []branchFixup
}

type branchFixup struct {
	opPC  int
	at    int
	label string
}

func NewAssembler() *Assembler {
	return &Assembler{labels: make(map[string]int)}
}

// Op appends raw bytes: an opcode followed by any inline operands.
func (a *Assembler) Op(op byte, operands ...byte) *Assembler {
	a.code = append(a.code, op)
	a.code = append(a.code, operands...)
	return a
}

// U16 appends an opcode with a two-byte operand such as a constant pool index.
func (a *Assembler) U16(op byte, v uint16) *Assembler {
	a.code = append(a.code, op, byte(v>>8), byte(v))
	return a
}

// Branch appends a branch opcode whose 16-bit offset targets label.
func (a *Assembler) Branch(op byte, label string) *Assembler {
	opPC := len(a.code)
	a.code = append(a.code, op, 0, 0)
	a.fixups = append(a.fixups, branchFixup{opPC: opPC, at: opPC + 1, label: label})
	return a
}

// Label marks the current position.
func (a *Assembler) Label(name string) *Assembler {
	a.labels[name] = len(a.code)
	return a
}

// PC returns the offset of the next instruction.
func (a *Assembler) PC() int {
	return len(a.code)
}

// Code resolves branches and wraps the bytecode in a Code attribute.
func (a *Assembler) Code(maxStack, maxLocals uint16, handlers ...ExceptionHandler) (*CodeAttribute, error) {
	code := make([]byte, len(a.code))
	copy(code, a.code)
	for _, f := range a.fixups {
		target, ok := a.labels[f.label]
		if !ok {
			return nil, fmt.Errorf("undefined label %q", f.label)
		}
		offset := int16(target - f.opPC)
		code[f.at] = byte(uint16(offset) >> 8)
		code[f.at+1] = byte(offset)
	}
	return &CodeAttribute{
		MaxStack:          maxStack,
		MaxLocals:         maxLocals,
		Code:              code,
		ExceptionHandlers: handlers,
	}, nil
}

// MustCode is Code for statically known bytecode; it panics on an undefined label.
func (a *Assembler) MustCode(maxStack, maxLocals uint16, handlers ...ExceptionHandler) *CodeAttribute {
	c, err := a.Code(maxStack, maxLocals, handlers...)
	if err != nil {
		panic(err)
	}
	return c
}
