package classfile

import (
	"fmt"
	"math"
)

// Constant pool tags
const (
	TagUtf8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldref           = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagDynamic            = 17
	TagInvokeDynamic      = 18
)

// opaqueSizes lists the tags the interpreter never resolves, with the size
// of their payload. They are skipped and kept as opaque entries.
var opaqueSizes = map[uint8]int{
	TagMethodHandle:  3,
	TagMethodType:    2,
	TagDynamic:       4,
	TagInvokeDynamic: 4,
}

// ConstantPoolEntry is implemented by every constant pool entry.
type ConstantPoolEntry interface {
	Tag() uint8
}

type ConstantUtf8 struct{ Value string }
type ConstantInteger struct{ Value int32 }
type ConstantFloat struct{ Value float32 }
type ConstantLong struct{ Value int64 }
type ConstantDouble struct{ Value float64 }
type ConstantClass struct{ NameIndex uint16 }
type ConstantString struct{ StringIndex uint16 }

type ConstantNameAndType struct {
	NameIndex       uint16
	DescriptorIndex uint16
}

// MemberRef is the payload shared by field, method and interface method
// references.
type MemberRef struct {
	ClassIndex       uint16
	NameAndTypeIndex uint16
}

func (m MemberRef) memberRef() MemberRef { return m }

type ConstantFieldref struct{ MemberRef }
type ConstantMethodref struct{ MemberRef }
type ConstantInterfaceMethodref struct{ MemberRef }

type opaqueConstant struct{ tag uint8 }

func (*ConstantUtf8) Tag() uint8               { return TagUtf8 }
func (*ConstantInteger) Tag() uint8            { return TagInteger }
func (*ConstantFloat) Tag() uint8              { return TagFloat }
func (*ConstantLong) Tag() uint8               { return TagLong }
func (*ConstantDouble) Tag() uint8             { return TagDouble }
func (*ConstantClass) Tag() uint8              { return TagClass }
func (*ConstantString) Tag() uint8             { return TagString }
func (*ConstantNameAndType) Tag() uint8        { return TagNameAndType }
func (*ConstantFieldref) Tag() uint8           { return TagFieldref }
func (*ConstantMethodref) Tag() uint8          { return TagMethodref }
func (*ConstantInterfaceMethodref) Tag() uint8 { return TagInterfaceMethodref }
func (c *opaqueConstant) Tag() uint8           { return c.tag }

// wide reports whether the entry occupies two pool slots.
func wide(e ConstantPoolEntry) bool {
	t := e.Tag()
	return t == TagLong || t == TagDouble
}

func readConstant(r *classReader, tag uint8) (ConstantPoolEntry, error) {
	switch tag {
	case TagUtf8:
		n := int(r.u2("utf8 length"))
		return &ConstantUtf8{Value: string(r.take(n, "utf8 bytes"))}, nil
	case TagInteger:
		return &ConstantInteger{Value: int32(r.u4("integer"))}, nil
	case TagFloat:
		return &ConstantFloat{Value: math.Float32frombits(r.u4("float"))}, nil
	case TagLong:
		return &ConstantLong{Value: int64(r.u8("long"))}, nil
	case TagDouble:
		return &ConstantDouble{Value: math.Float64frombits(r.u8("double"))}, nil
	case TagClass:
		return &ConstantClass{NameIndex: r.u2("class name index")}, nil
	case TagString:
		return &ConstantString{StringIndex: r.u2("string index")}, nil
	case TagNameAndType:
		return &ConstantNameAndType{NameIndex: r.u2("name index"), DescriptorIndex: r.u2("descriptor index")}, nil
	case TagFieldref, TagMethodref, TagInterfaceMethodref:
		ref := MemberRef{ClassIndex: r.u2("class index"), NameAndTypeIndex: r.u2("name and type index")}
		switch tag {
		case TagFieldref:
			return &ConstantFieldref{ref}, nil
		case TagMethodref:
			return &ConstantMethodref{ref}, nil
		}
		return &ConstantInterfaceMethodref{ref}, nil
	}
	if n, ok := opaqueSizes[tag]; ok {
		r.take(n, "opaque constant")
		return &opaqueConstant{tag: tag}, nil
	}
	return nil, fmt.Errorf("unknown constant pool tag %d", tag)
}

// parseConstantPool reads count-1 entries. The pool is indexed from 1, so
// slot 0 stays nil, as does the slot after each long or double.
func parseConstantPool(r *classReader, count uint16) ([]ConstantPoolEntry, error) {
	pool := make([]ConstantPoolEntry, count)
	for i := 1; i < int(count); i++ {
		c, err := readConstant(r, r.u1("tag"))
		if r.err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, r.err)
		}
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		pool[i] = c
		if wide(c) {
			i++
		}
	}
	return pool, nil
}

func tagName(e ConstantPoolEntry) string {
	switch e.(type) {
	case *ConstantUtf8:
		return "Utf8"
	case *ConstantClass:
		return "Class"
	case *ConstantNameAndType:
		return "NameAndType"
	case *ConstantFieldref:
		return "Fieldref"
	case *ConstantMethodref:
		return "Methodref"
	case *ConstantInterfaceMethodref:
		return "InterfaceMethodref"
	}
	return fmt.Sprintf("tag %d", e.Tag())
}

// entry returns pool[index] as a T, failing on a bad index or another kind
// of entry.
func entry[T ConstantPoolEntry](pool []ConstantPoolEntry, index uint16) (T, error) {
	var zero T
	if int(index) >= len(pool) || pool[index] == nil {
		return zero, fmt.Errorf("invalid constant pool index %d", index)
	}
	e, ok := pool[index].(T)
	if !ok {
		return zero, fmt.Errorf("constant pool index %d is %s, want %s", index, tagName(pool[index]), tagName(zero))
	}
	return e, nil
}

// GetUtf8 returns the string stored at index.
func GetUtf8(pool []ConstantPoolEntry, index uint16) (string, error) {
	s, err := entry[*ConstantUtf8](pool, index)
	if err != nil {
		return "", err
	}
	return s.Value, nil
}

// GetClassName returns the internal name a CONSTANT_Class entry refers to.
func GetClassName(pool []ConstantPoolEntry, index uint16) (string, error) {
	c, err := entry[*ConstantClass](pool, index)
	if err != nil {
		return "", err
	}
	return GetUtf8(pool, c.NameIndex)
}

// MethodRefInfo is a resolved method or interface method reference.
type MethodRefInfo struct {
	ClassName  string
	MethodName string
	Descriptor string
}

// FieldRefInfo is a resolved field reference.
type FieldRefInfo struct {
	ClassName  string
	FieldName  string
	Descriptor string
}

func resolveMember[T interface {
	ConstantPoolEntry
	memberRef() MemberRef
}](pool []ConstantPoolEntry, index uint16) (class, name, desc string, err error) {
	ref, err := entry[T](pool, index)
	if err != nil {
		return "", "", "", err
	}
	m := ref.memberRef()
	if class, err = GetClassName(pool, m.ClassIndex); err != nil {
		return "", "", "", fmt.Errorf("%s %d class: %w", tagName(ref), index, err)
	}
	nat, err := entry[*ConstantNameAndType](pool, m.NameAndTypeIndex)
	if err != nil {
		return "", "", "", fmt.Errorf("%s %d: %w", tagName(ref), index, err)
	}
	if name, err = GetUtf8(pool, nat.NameIndex); err != nil {
		return "", "", "", fmt.Errorf("%s %d name: %w", tagName(ref), index, err)
	}
	if desc, err = GetUtf8(pool, nat.DescriptorIndex); err != nil {
		return "", "", "", fmt.Errorf("%s %d descriptor: %w", tagName(ref), index, err)
	}
	return class, name, desc, nil
}

func ResolveMethodref(pool []ConstantPoolEntry, index uint16) (*MethodRefInfo, error) {
	class, name, desc, err := resolveMember[*ConstantMethodref](pool, index)
	if err != nil {
		return nil, err
	}
	return &MethodRefInfo{ClassName: class, MethodName: name, Descriptor: desc}, nil
}

func ResolveInterfaceMethodref(pool []ConstantPoolEntry, index uint16) (*MethodRefInfo, error) {
	class, name, desc, err := resolveMember[*ConstantInterfaceMethodref](pool, index)
	if err != nil {
		return nil, err
	}
	return &MethodRefInfo{ClassName: class, MethodName: name, Descriptor: desc}, nil
}

// ResolveAnyMethodref accepts both method and interface method references,
// as invokestatic and invokespecial may name either.
func ResolveAnyMethodref(pool []ConstantPoolEntry, index uint16) (*MethodRefInfo, error) {
	if int(index) < len(pool) {
		if _, ok := pool[index].(*ConstantInterfaceMethodref); ok {
			return ResolveInterfaceMethodref(pool, index)
		}
	}
	return ResolveMethodref(pool, index)
}

func ResolveFieldref(pool []ConstantPoolEntry, index uint16) (*FieldRefInfo, error) {
	class, name, desc, err := resolveMember[*ConstantFieldref](pool, index)
	if err != nil {
		return nil, err
	}
	return &FieldRefInfo{ClassName: class, FieldName: name, Descriptor: desc}, nil
}
