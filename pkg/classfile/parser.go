package classfile

import (
	"fmt"
	"io"
	"os"
)

const classMagic = 0xCAFEBABE

// ParseFile parses the .class file at path.
func ParseFile(path string) (*ClassFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseBytes(data)
}

// Parse reads a whole class file from r.
func Parse(r io.Reader) (*ClassFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading class file: %w", err)
	}
	return ParseBytes(data)
}

// ParseBytes decodes a class file held in memory.
func ParseBytes(data []byte) (*ClassFile, error) {
	r := &classReader{data: data}
	if magic := r.u4("magic"); r.err == nil && magic != classMagic {
		return nil, fmt.Errorf("invalid magic number: 0x%X (expected 0xCAFEBABE)", magic)
	}

	cf := &ClassFile{
		MinorVersion: r.u2("minor version"),
		MajorVersion: r.u2("major version"),
	}
	poolCount := r.u2("constant pool count")
	if r.err != nil {
		return nil, r.err
	}
	pool, err := parseConstantPool(r, poolCount)
	if err != nil {
		return nil, fmt.Errorf("parsing constant pool: %w", err)
	}
	cf.ConstantPool = pool

	cf.AccessFlags = r.u2("access flags")
	cf.ThisClass = r.u2("this_class")
	cf.SuperClass = r.u2("super_class")
	cf.Interfaces = r.u2s("interfaces")
	if r.err != nil {
		return nil, r.err
	}

	p := &memberParser{r: r, pool: pool}
	if cf.Fields, err = readTable(p, "field", p.field); err != nil {
		return nil, err
	}
	if cf.Methods, err = readTable(p, "method", p.method); err != nil {
		return nil, err
	}
	if cf.Attributes, err = p.attributes(); err != nil {
		return nil, fmt.Errorf("class attributes: %w", err)
	}
	return cf, nil
}

// memberParser decodes the parts of a class file that refer back to the
// constant pool by index.
type memberParser struct {
	r    *classReader
	pool []ConstantPoolEntry
}

func (p *memberParser) utf8(what string) (string, error) {
	idx := p.r.u2(what)
	if p.r.err != nil {
		return "", p.r.err
	}
	s, err := GetUtf8(p.pool, idx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", what, err)
	}
	return s, nil
}

func readTable[T any](p *memberParser, kind string, read func() (T, error)) ([]T, error) {
	n := int(p.r.u2(kind + " count"))
	if p.r.err != nil {
		return nil, p.r.err
	}
	out := make([]T, n)
	for i := range out {
		m, err := read()
		if err != nil {
			return nil, fmt.Errorf("%s %d: %w", kind, i, err)
		}
		out[i] = m
	}
	return out, nil
}

func (p *memberParser) member() (Member, error) {
	m := Member{AccessFlags: p.r.u2("access flags")}
	var err error
	if m.Name, err = p.utf8("name index"); err != nil {
		return m, err
	}
	if m.Descriptor, err = p.utf8("descriptor index"); err != nil {
		return m, err
	}
	m.Attributes, err = p.attributes()
	return m, err
}

func (p *memberParser) field() (FieldInfo, error) {
	m, err := p.member()
	return FieldInfo{Member: m}, err
}

func (p *memberParser) method() (MethodInfo, error) {
	m, err := p.member()
	if err != nil {
		return MethodInfo{}, err
	}
	mi := MethodInfo{Member: m}
	if a, ok := m.Attribute("Code"); ok {
		if mi.Code, err = parseCode(a.Data); err != nil {
			return mi, fmt.Errorf("%s Code attribute: %w", m.Name, err)
		}
	}
	return mi, nil
}

func (p *memberParser) attributes() ([]AttributeInfo, error) {
	return readTable(p, "attribute", func() (AttributeInfo, error) {
		name, err := p.utf8("attribute name index")
		if err != nil {
			return AttributeInfo{}, err
		}
		n := int(p.r.u4("attribute length"))
		data := p.r.bytes(n, name)
		return AttributeInfo{Name: name, Data: data}, p.r.err
	})
}

func parseCode(data []byte) (*CodeAttribute, error) {
	r := &classReader{data: data}
	code := &CodeAttribute{
		MaxStack:  r.u2("max_stack"),
		MaxLocals: r.u2("max_locals"),
	}
	code.Code = r.bytes(int(r.u4("code_length")), "code")
	n := int(r.u2("exception table length"))
	for i := 0; i < n && r.err == nil; i++ {
		code.ExceptionHandlers = append(code.ExceptionHandlers, ExceptionHandler{
			StartPC:   r.u2("start_pc"),
			EndPC:     r.u2("end_pc"),
			HandlerPC: r.u2("handler_pc"),
			CatchType: r.u2("catch_type"),
		})
	}
	if r.err != nil {
		return nil, r.err
	}
	return code, nil
}
