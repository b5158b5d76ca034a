package probe

import (
	"errors"
	"fmt"
)

// Kind classifies a Failure.
type Kind string

const (
	KindTypeNotFound        Kind = "type-not-found"
	KindConstructorNotFound Kind = "constructor-not-found"
	KindIllegalArguments    Kind = "illegal-arguments"
	KindAbstractType        Kind = "abstract-type"
	KindConstructorError    Kind = "constructor-error"
	KindInitializerError    Kind = "initializer-error"
	KindAccessDenied        Kind = "access-denied"
	KindPackageAccessDenied Kind = "package-access-denied"
	KindFieldNotFound       Kind = "field-not-found"
	KindMethodNotFound      Kind = "method-not-found"
	KindMethodNameAbsent    Kind = "method-name-absent"
	KindArgumentMismatch    Kind = "argument-mismatch"
	KindMethodError         Kind = "method-error"
	KindNullTarget          Kind = "null-target"
	KindInternal            Kind = "internal"
)

var kinds = map[Kind]bool{
	KindTypeNotFound:        true,
	KindConstructorNotFound: true,
	KindIllegalArguments:    true,
	KindAbstractType:        true,
	KindConstructorError:    true,
	KindInitializerError:    true,
	KindAccessDenied:        true,
	KindPackageAccessDenied: true,
	KindFieldNotFound:       true,
	KindMethodNotFound:      true,
	KindMethodNameAbsent:    true,
	KindArgumentMismatch:    true,
	KindMethodError:         true,
	KindNullTarget:          true,
	KindInternal:            true,
}

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool { return kinds[k] }

// Failure is the outcome of a probe operation that could not complete.
// Message is meant for the student; Err is the underlying cause.
type Failure struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (f *Failure) Error() string { return f.Message }

func (f *Failure) Unwrap() error { return f.Err }

// AsFailure extracts the *Failure from err, if any.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

func failure(op string, kind Kind, err error, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// causeOf returns the error raised inside a body, for rendering.
func causeOf(err error) error {
	var ie *InvocationError
	if errors.As(err, &ie) {
		return ie.Cause
	}
	var ine *InitializerError
	if errors.As(err, &ine) {
		return ine.Cause
	}
	return err
}

const suffixPackageAccess = " access to the package of the class was denied."

func resolveFailure(name string, err error) *Failure {
	if errors.Is(err, ErrClassNotFound) {
		return failure("resolve", KindTypeNotFound, err,
			"The class '%s' was not found within the submission. Make sure to implement it properly.", SimpleName(name))
	}
	return failure("resolve", KindInternal, err,
		"The class '%s' could not be loaded: %v", SimpleName(name), err)
}

func instantiateFailure(name string, params []Type, nargs int, err error) *Failure {
	prefix := fmt.Sprintf("Could not instantiate the class '%s' because", SimpleName(name))
	signature := FormatTypes(params)
	var ie *InvocationError
	switch {
	case errors.Is(err, ErrInitializer):
		return failure("instantiate", KindInitializerError, err,
			"%s the constructor with %d parameters could not be initialized. Cause: %v", prefix, nargs, causeOf(err))
	case errors.As(err, &ie):
		return failure("instantiate", KindConstructorError, err,
			"%s the constructor with %d parameters threw an exception and could not be initialized. "+
				"Make sure to check the constructor implementation. Cause: %v", prefix, nargs, ie.Cause)
	case errors.Is(err, ErrNullTarget):
		return failure("instantiate", KindNullTarget, err, "%s the class is null.", prefix)
	case errors.Is(err, ErrAbstract):
		return failure("instantiate", KindAbstractType, err,
			"%s the class is abstract and should not have a constructor. Make sure to remove the constructor of the class.", prefix)
	case errors.Is(err, ErrPackageAccess):
		return failure("instantiate", KindPackageAccessDenied, err, "%s%s", prefix, suffixPackageAccess)
	case errors.Is(err, ErrAccessDenied):
		return failure("instantiate", KindAccessDenied, err,
			"%s access to its constructor with the parameters: %s was denied. Make sure to check the modifiers of the constructor.", prefix, signature)
	case errors.Is(err, ErrIllegalArgument):
		return failure("instantiate", KindIllegalArguments, err,
			"%s the actual constructor or none of the actual constructors of this class match the expected one. "+
				"We expect, amongst others, one with %s parameters, which does not exist. Make sure to implement this constructor correctly.",
			prefix, signature)
	case errors.Is(err, ErrNoSuchConstructor):
		return failure("instantiate", KindConstructorNotFound, err,
			"%s the class does not have a constructor with the arguments: %s. Make sure to implement this constructor properly.", prefix, signature)
	}
	return failure("instantiate", KindInternal, err, "%s of an internal error: %v", prefix, err)
}

func fieldFailure(class, field string, err error) *Failure {
	prefix := fmt.Sprintf("Could not retrieve the attribute '%s' from the class '%s' because", field, class)
	switch {
	case errors.Is(err, ErrNullTarget):
		return failure("field", KindNullTarget, err, "%s the object is null.", prefix)
	case errors.Is(err, ErrInitializer):
		return failure("field", KindInitializerError, err,
			"%s the class could not be initialized. Cause: %v", prefix, causeOf(err))
	case errors.Is(err, ErrNoSuchField):
		return failure("field", KindFieldNotFound, err,
			"%s the attribute does not exist. Make sure to implement the attribute correctly.", prefix)
	case errors.Is(err, ErrPackageAccess):
		return failure("field", KindPackageAccessDenied, err, "%s%s", prefix, suffixPackageAccess)
	case errors.Is(err, ErrAccessDenied):
		return failure("field", KindAccessDenied, err,
			"%s access to the attribute was denied. Make sure to check the modifiers of the attribute.", prefix)
	}
	return failure("field", KindInternal, err, "%s of an internal error: %v", prefix, err)
}

func methodFailure(class, method string, params []Type, err error) *Failure {
	var prefix string
	if len(params) == 0 {
		prefix = fmt.Sprintf("Could not find the method '%s' from the class %s because", method, class)
	} else {
		prefix = fmt.Sprintf("Could not find the method '%s' with the parameters: %s from the class %s because",
			method, FormatTypes(params), class)
	}
	switch {
	case errors.Is(err, ErrNullTarget):
		return failure("method", KindNullTarget, err, "%s the class is null.", prefix)
	case errors.Is(err, ErrNullName):
		return failure("method", KindMethodNameAbsent, err,
			"%s the name of the method is null. Make sure to check the name of the method.", prefix)
	case errors.Is(err, ErrNoSuchMethod):
		return failure("method", KindMethodNotFound, err,
			"%s the method does not exist. Make sure to implement this method properly.", prefix)
	case errors.Is(err, ErrPackageAccess):
		return failure("method", KindPackageAccessDenied, err, "%s%s", prefix, suffixPackageAccess)
	}
	return failure("method", KindInternal, err, "%s of an internal error: %v", prefix, err)
}

func invokeFailure(class, method string, err error) *Failure {
	prefix := fmt.Sprintf("Could not invoke the method '%s' in the class '%s' because", method, class)
	var ie *InvocationError
	switch {
	case errors.As(err, &ie):
		return failure("invoke", KindMethodError, err, "%s of an exception within the method: %v", prefix, ie.Cause)
	case errors.Is(err, ErrInitializer):
		return failure("invoke", KindMethodError, err, "%s of an exception within the method: %v", prefix, causeOf(err))
	case errors.Is(err, ErrNullTarget):
		return failure("invoke", KindNullTarget, err, "%s the object is null.", prefix)
	case errors.Is(err, ErrAccessDenied):
		return failure("invoke", KindAccessDenied, err,
			"%s access to the method was denied. Make sure to check the modifiers of the method.", prefix)
	case errors.Is(err, ErrIllegalArgument):
		return failure("invoke", KindArgumentMismatch, err,
			"%s the parameters are not implemented right. Make sure to check the parameters of the method.", prefix)
	}
	return failure("invoke", KindInternal, err, "%s of an internal error: %v", prefix, err)
}
