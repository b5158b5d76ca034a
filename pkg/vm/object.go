package vm

import (
	"strings"

	"github.com/daimatz/gradeprobe/pkg/classfile"
)

type classState int

const (
	classLoaded classState = iota
	classInitializing
	classInitialized
	classErroneous
)

// Class is a loaded class linked to its superclass and interfaces.
type Class struct {
	Name       string // internal form, e.g. "java/lang/String"
	File       *classfile.ClassFile
	Super      *Class
	Interfaces []*Class
	Statics    map[string]Value

	state   classState
	initErr error
}

// JavaName returns the binary name, e.g. "java.lang.String".
func (c *Class) JavaName() string {
	return strings.ReplaceAll(c.Name, "/", ".")
}

// SimpleName returns the name without its package.
func (c *Class) SimpleName() string {
	if i := strings.LastIndexByte(c.Name, '/'); i >= 0 {
		return c.Name[i+1:]
	}
	return c.Name
}

// PackageName returns the package in internal form, or "" for the default package.
func (c *Class) PackageName() string {
	if i := strings.LastIndexByte(c.Name, '/'); i >= 0 {
		return c.Name[:i]
	}
	return ""
}

func (c *Class) IsAbstract() bool {
	return c.File.IsAbstract() || c.File.IsInterface()
}

// IsSubclassOf reports whether c is name or extends or implements it.
func (c *Class) IsSubclassOf(name string) bool {
	for k := c; k != nil; k = k.Super {
		if k.Name == name {
			return true
		}
		for _, iface := range k.Interfaces {
			if iface.IsSubclassOf(name) {
				return true
			}
		}
	}
	return false
}

// FindMethod looks up a method by exact name and descriptor in c and its
// superclasses, then in its superinterfaces. It returns the declaring class.
func (c *Class) FindMethod(name, descriptor string) (*Class, *classfile.MethodInfo) {
	for k := c; k != nil; k = k.Super {
		if m := k.File.FindMethod(name, descriptor); m != nil {
			return k, m
		}
	}
	for k := c; k != nil; k = k.Super {
		for _, iface := range k.Interfaces {
			if owner, m := iface.FindMethod(name, descriptor); m != nil {
				return owner, m
			}
		}
	}
	return nil, nil
}

// ResolveVirtual selects the implementation of an instance method for a
// receiver of class c: the most specific concrete declaration wins.
func (c *Class) ResolveVirtual(name, descriptor string) (*Class, *classfile.MethodInfo) {
	for k := c; k != nil; k = k.Super {
		if m := k.File.FindMethod(name, descriptor); m != nil && !m.IsStatic() && !m.IsAbstract() {
			return k, m
		}
	}
	// default methods
	for k := c; k != nil; k = k.Super {
		for _, iface := range k.Interfaces {
			if owner, m := iface.ResolveVirtual(name, descriptor); m != nil {
				return owner, m
			}
		}
	}
	return nil, nil
}

// LookupField finds a field declared by c or one of its superclasses.
func (c *Class) LookupField(name string) (*Class, *classfile.FieldInfo) {
	for k := c; k != nil; k = k.Super {
		if f := k.File.FindField(name); f != nil {
			return k, f
		}
	}
	return nil, nil
}

// Object represents a JVM object instance. Fields holds the instance
// fields of the class and all of its superclasses, keyed by name.
type Object struct {
	Class  *Class
	Fields map[string]Value
	hash   int32
}

// ClassName returns the internal name of the object's class.
func (o *Object) ClassName() string {
	return o.Class.Name
}

// Array represents a JVM array. Descriptor is the array type, e.g. "[I".
type Array struct {
	Descriptor string
	Elements   []Value
	hash       int32
}

// NewArray creates an array of the given type with every element zeroed.
func NewArray(descriptor string, length int) *Array {
	elems := make([]Value, length)
	zero := ZeroValue(descriptor[1:])
	for i := range elems {
		elems[i] = zero
	}
	return &Array{Descriptor: descriptor, Elements: elems}
}
