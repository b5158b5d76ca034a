package classfile

// Access flags
const (
	AccPublic    = 0x0001
	AccPrivate   = 0x0002
	AccProtected = 0x0004
	AccStatic    = 0x0008
	AccFinal     = 0x0010
	AccSuper     = 0x0020
	AccNative    = 0x0100
	AccInterface = 0x0200
	AccAbstract  = 0x0400
)

// ClassFile is a parsed .class file. Member names and descriptors are
// resolved eagerly; everything else keeps its constant pool index.
type ClassFile struct {
	MinorVersion uint16
	MajorVersion uint16
	ConstantPool []ConstantPoolEntry
	AccessFlags  uint16
	ThisClass    uint16
	SuperClass   uint16
	Interfaces   []uint16
	Fields       []FieldInfo
	Methods      []MethodInfo
	Attributes   []AttributeInfo
}

func (cf *ClassFile) IsAbstract() bool  { return cf.AccessFlags&AccAbstract != 0 }
func (cf *ClassFile) IsInterface() bool { return cf.AccessFlags&AccInterface != 0 }
func (cf *ClassFile) IsPublic() bool    { return cf.AccessFlags&AccPublic != 0 }

// ClassName returns the internal name of the class, e.g. "demo/Point".
func (cf *ClassFile) ClassName() (string, error) {
	return GetClassName(cf.ConstantPool, cf.ThisClass)
}

// SuperClassName is "" for java/lang/Object and for a malformed reference.
func (cf *ClassFile) SuperClassName() string {
	if cf.SuperClass == 0 {
		return ""
	}
	name, _ := GetClassName(cf.ConstantPool, cf.SuperClass)
	return name
}

// InterfaceNames skips references that do not resolve.
func (cf *ClassFile) InterfaceNames() []string {
	var names []string
	for _, idx := range cf.Interfaces {
		if name, err := GetClassName(cf.ConstantPool, idx); err == nil {
			names = append(names, name)
		}
	}
	return names
}

// FindMethod matches name and descriptor exactly.
func (cf *ClassFile) FindMethod(name, descriptor string) *MethodInfo {
	for i := range cf.Methods {
		if m := &cf.Methods[i]; m.Name == name && m.Descriptor == descriptor {
			return m
		}
	}
	return nil
}

// FindField searches only the fields this class declares.
func (cf *ClassFile) FindField(name string) *FieldInfo {
	for i := range cf.Fields {
		if f := &cf.Fields[i]; f.Name == name {
			return f
		}
	}
	return nil
}

// Member holds what field_info and method_info have in common.
type Member struct {
	AccessFlags uint16
	Name        string
	Descriptor  string
	Attributes  []AttributeInfo
}

func (m *Member) is(flag uint16) bool { return m.AccessFlags&flag != 0 }

func (m *Member) IsStatic() bool  { return m.is(AccStatic) }
func (m *Member) IsPublic() bool  { return m.is(AccPublic) }
func (m *Member) IsPrivate() bool { return m.is(AccPrivate) }

// Attribute returns the raw attribute with the given name.
func (m *Member) Attribute(name string) (AttributeInfo, bool) {
	for _, a := range m.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return AttributeInfo{}, false
}

type FieldInfo struct {
	Member
}

// MethodInfo is a method_info whose Code attribute, if any, has been
// decoded. Abstract and native methods have a nil Code.
type MethodInfo struct {
	Member
	Code *CodeAttribute
}

func (m *MethodInfo) IsAbstract() bool { return m.is(AccAbstract) }
func (m *MethodInfo) IsNative() bool   { return m.is(AccNative) }

type AttributeInfo struct {
	Name string
	Data []byte
}

// ExceptionHandler is one exception_table row. CatchType 0 catches
// everything.
type ExceptionHandler struct {
	StartPC   uint16
	EndPC     uint16
	HandlerPC uint16
	CatchType uint16
}

type CodeAttribute struct {
	MaxStack          uint16
	MaxLocals         uint16
	Code              []byte
	ExceptionHandlers []ExceptionHandler
}
