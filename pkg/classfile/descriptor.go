package classfile

import (
	"fmt"
	"strings"
)

// ParseMethodDescriptor splits a method descriptor such as "(ILjava/lang/String;)V"
// into its parameter descriptors and its return descriptor.
func ParseMethodDescriptor(descriptor string) ([]string, string, error) {
	if !strings.HasPrefix(descriptor, "(") {
		return nil, "", fmt.Errorf("invalid method descriptor: %s", descriptor)
	}
	end := strings.IndexByte(descriptor, ')')
	if end == -1 {
		return nil, "", fmt.Errorf("invalid method descriptor: %s", descriptor)
	}

	var params []string
	rest := descriptor[1:end]
	for len(rest) > 0 {
		n, err := fieldDescriptorLen(rest)
		if err != nil {
			return nil, "", fmt.Errorf("%w in %s", err, descriptor)
		}
		params = append(params, rest[:n])
		rest = rest[n:]
	}

	ret := descriptor[end+1:]
	if ret != "V" {
		n, err := fieldDescriptorLen(ret)
		if err != nil || n != len(ret) {
			return nil, "", fmt.Errorf("invalid return type in %s", descriptor)
		}
	}
	return params, ret, nil
}

// MethodDescriptor builds a method descriptor from field descriptors.
func MethodDescriptor(ret string, params ...string) string {
	return "(" + strings.Join(params, "") + ")" + ret
}

// fieldDescriptorLen returns the length of the first field descriptor in s.
func fieldDescriptorLen(s string) (int, error) {
	i := 0
	for i < len(s) && s[i] == '[' {
		i++
	}
	if i >= len(s) {
		return 0, fmt.Errorf("truncated array descriptor")
	}
	switch s[i] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return i + 1, nil
	case 'L':
		semi := strings.IndexByte(s[i:], ';')
		if semi == -1 {
			return 0, fmt.Errorf("unterminated class descriptor")
		}
		return i + semi + 1, nil
	default:
		return 0, fmt.Errorf("invalid type descriptor char '%c'", s[i])
	}
}

// IsWide reports whether values of the descriptor occupy two local variable slots.
func IsWide(descriptor string) bool {
	return descriptor == "J" || descriptor == "D"
}

// ObjectDescriptor returns the field descriptor for an internal class name.
func ObjectDescriptor(internalName string) string {
	if strings.HasPrefix(internalName, "[") {
		return internalName
	}
	return "L" + internalName + ";"
}

var primitiveNames = map[byte]string{
	'B': "byte",
	'C': "char",
	'D': "double",
	'F': "float",
	'I': "int",
	'J': "long",
	'S': "short",
	'Z': "boolean",
	'V': "void",
}

// SourceName renders a field descriptor the way Java source spells it:
// "I" is "int", "Ljava/lang/String;" is "java.lang.String", "[[I" is "int[][]".
func SourceName(descriptor string) string {
	dims := 0
	for dims < len(descriptor) && descriptor[dims] == '[' {
		dims++
	}
	elem := descriptor[dims:]
	var name string
	switch {
	case len(elem) == 1 && primitiveNames[elem[0]] != "":
		name = primitiveNames[elem[0]]
	case strings.HasPrefix(elem, "L") && strings.HasSuffix(elem, ";"):
		name = strings.ReplaceAll(elem[1:len(elem)-1], "/", ".")
	default:
		name = elem
	}
	return name + strings.Repeat("[]", dims)
}
