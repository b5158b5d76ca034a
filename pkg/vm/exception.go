package vm

import (
	"fmt"
	"strings"
)

// JavaException represents a JVM exception being thrown.
type JavaException struct {
	Object *Object
}

// Error renders the exception like Throwable.toString does,
// e.g. "java.lang.ArithmeticException: / by zero".
func (e *JavaException) Error() string {
	if msg, ok := e.Message(); ok {
		return fmt.Sprintf("%s: %s", e.Object.Class.JavaName(), msg)
	}
	return e.Object.Class.JavaName()
}

// ClassName returns the internal name of the thrown class.
func (e *JavaException) ClassName() string {
	return e.Object.Class.Name
}

// Message returns the detail message and whether one was set.
func (e *JavaException) Message() (string, bool) {
	v, ok := e.Object.Fields["detailMessage"]
	if !ok || v.IsNull() {
		return "", false
	}
	s, ok := v.Ref.(string)
	return s, ok
}

// Cause returns the wrapped exception, or nil.
func (e *JavaException) Cause() *JavaException {
	v, ok := e.Object.Fields["cause"]
	if !ok || v.IsNull() {
		return nil
	}
	obj, ok := v.Ref.(*Object)
	if !ok || obj == e.Object {
		return nil
	}
	return &JavaException{Object: obj}
}

// IsInstanceOf reports whether the exception is an instance of className.
func (e *JavaException) IsInstanceOf(className string) bool {
	return e.Object.Class.IsSubclassOf(className)
}

// StackString renders the exception with its cause chain.
func (e *JavaException) StackString() string {
	var b strings.Builder
	b.WriteString(e.Error())
	for c := e.Cause(); c != nil; c = c.Cause() {
		b.WriteString("\nCaused by: ")
		b.WriteString(c.Error())
	}
	return b.String()
}

// throw creates a JavaException for a builtin exception class.
func (vm *VM) throw(className, message string) error {
	c, err := vm.LoadClass(className)
	if err != nil {
		return fmt.Errorf("throwing %s: %w", className, err)
	}
	obj := vm.NewObject(c)
	if message != "" {
		obj.Fields["detailMessage"] = RefValue(message)
	}
	return &JavaException{Object: obj}
}

func (vm *VM) throwCause(className string, cause *JavaException) error {
	err := vm.throw(className, "")
	if je, ok := err.(*JavaException); ok {
		je.Object.Fields["cause"] = RefValue(cause.Object)
	}
	return err
}
