package vm

import (
	"fmt"
	"math"
	"strconv"

	"github.com/daimatz/gradeprobe/pkg/classfile"
	"github.com/daimatz/gradeprobe/pkg/native"
)

// nativeMethod implements a native method. For instance methods args[0]
// is the receiver, which is never null.
type nativeMethod func(vm *VM, args []Value) (Value, error)

type builtinMethod struct {
	flags uint16
	name  string
	desc  string
	fn    nativeMethod
}

type builtinField struct {
	flags uint16
	name  string
	desc  string
}

// builtinClass describes a JDK class the VM provides itself instead of
// loading it from the class path.
type builtinClass struct {
	super   string
	flags   uint16
	fields  []builtinField
	methods []builtinMethod
	// factory creates the Go representation for "new", if any.
	factory func() interface{}
}

const (
	pub       = classfile.AccPublic
	pubStatic = classfile.AccPublic | classfile.AccStatic
	pubFinal  = classfile.AccPublic | classfile.AccFinal
)

var (
	builtinClasses = make(map[string]*builtinClass)
	natives        = make(map[string]nativeMethod)
)

func nativeKey(class, name, desc string) string {
	return class + "." + name + desc
}

func registerBuiltin(name string, c *builtinClass) {
	builtinClasses[name] = c
	for _, m := range c.methods {
		natives[nativeKey(name, m.name, m.desc)] = m.fn
	}
}

func (c *builtinClass) build(name string) (*classfile.ClassFile, error) {
	b := classfile.NewBuilder(name, c.super, c.flags)
	for _, f := range c.fields {
		b.Field(f.flags, f.name, f.desc)
	}
	for _, m := range c.methods {
		b.Method(m.flags|classfile.AccNative, m.name, m.desc, nil)
	}
	return b.Build()
}

// throwableClasses maps builtin exception classes to their superclass.
var throwableClasses = map[string]string{
	"java/lang/Exception":                       "java/lang/Throwable",
	"java/lang/Error":                           "java/lang/Throwable",
	"java/lang/RuntimeException":                "java/lang/Exception",
	"java/lang/ArithmeticException":             "java/lang/RuntimeException",
	"java/lang/NullPointerException":            "java/lang/RuntimeException",
	"java/lang/IllegalArgumentException":        "java/lang/RuntimeException",
	"java/lang/IllegalStateException":           "java/lang/RuntimeException",
	"java/lang/NumberFormatException":           "java/lang/IllegalArgumentException",
	"java/lang/IndexOutOfBoundsException":       "java/lang/RuntimeException",
	"java/lang/ArrayIndexOutOfBoundsException":  "java/lang/IndexOutOfBoundsException",
	"java/lang/StringIndexOutOfBoundsException": "java/lang/IndexOutOfBoundsException",
	"java/lang/ClassCastException":              "java/lang/RuntimeException",
	"java/lang/NegativeArraySizeException":      "java/lang/RuntimeException",
	"java/lang/UnsupportedOperationException":   "java/lang/RuntimeException",
	"java/lang/ArrayStoreException":             "java/lang/RuntimeException",
	"java/lang/StackOverflowError":              "java/lang/Error",
	"java/lang/ExceptionInInitializerError":     "java/lang/Error",
	"java/lang/NoClassDefFoundError":            "java/lang/Error",
	"java/lang/AbstractMethodError":             "java/lang/Error",
	"java/lang/InstantiationError":              "java/lang/Error",
	"java/lang/NoSuchFieldError":                "java/lang/Error",
	"java/lang/NoSuchMethodError":               "java/lang/Error",
}

func init() {
	registerBuiltin("java/lang/Object", &builtinClass{
		flags: pub | classfile.AccSuper,
		methods: []builtinMethod{
			{pub, "<init>", "()V", nativeNop},
			{pub, "hashCode", "()I", objectHashCode},
			{pub, "equals", "(Ljava/lang/Object;)Z", objectEquals},
			{pub, "toString", "()Ljava/lang/String;", objectToString},
		},
	})

	registerBuiltin("java/lang/String", &builtinClass{
		super: "java/lang/Object",
		flags: pubFinal,
		methods: []builtinMethod{
			{pub, "length", "()I", stringLength},
			{pub, "charAt", "(I)C", stringCharAt},
			{pub, "isEmpty", "()Z", stringIsEmpty},
			{pub, "equals", "(Ljava/lang/Object;)Z", stringEquals},
			{pub, "hashCode", "()I", stringHashCode},
			{pub, "toString", "()Ljava/lang/String;", identity},
			{pub, "concat", "(Ljava/lang/String;)Ljava/lang/String;", stringConcat},
			{pubStatic, "valueOf", "(I)Ljava/lang/String;", stringValueOf("I")},
			{pubStatic, "valueOf", "(J)Ljava/lang/String;", stringValueOf("J")},
			{pubStatic, "valueOf", "(D)Ljava/lang/String;", stringValueOf("D")},
			{pubStatic, "valueOf", "(Z)Ljava/lang/String;", stringValueOf("Z")},
			{pubStatic, "valueOf", "(C)Ljava/lang/String;", stringValueOf("C")},
			{pubStatic, "valueOf", "(Ljava/lang/Object;)Ljava/lang/String;", stringValueOf("Ljava/lang/Object;")},
		},
	})

	registerBuiltin("java/lang/Integer", &builtinClass{
		super: "java/lang/Object",
		flags: pubFinal,
		methods: []builtinMethod{
			{pub, "<init>", "(I)V", integerInit},
			{pubStatic, "valueOf", "(I)Ljava/lang/Integer;", integerValueOf},
			{pubStatic, "parseInt", "(Ljava/lang/String;)I", integerParseInt},
			{pubStatic, "toString", "(I)Ljava/lang/String;", stringValueOf("I")},
			{pub, "intValue", "()I", integerIntValue},
			{pub, "equals", "(Ljava/lang/Object;)Z", integerEquals},
			{pub, "hashCode", "()I", integerIntValue},
			{pub, "toString", "()Ljava/lang/String;", integerToString},
		},
		factory: func() interface{} { return &native.Integer{} },
	})

	registerBuiltin("java/lang/Math", &builtinClass{
		super: "java/lang/Object",
		flags: pubFinal,
		methods: []builtinMethod{
			{pubStatic, "abs", "(I)I", mathAbs},
			{pubStatic, "max", "(II)I", mathMax},
			{pubStatic, "min", "(II)I", mathMin},
			{pubStatic, "sqrt", "(D)D", mathSqrt},
			{pubStatic, "pow", "(DD)D", mathPow},
		},
	})

	registerBuiltin("java/lang/System", &builtinClass{
		super:  "java/lang/Object",
		flags:  pubFinal,
		fields: []builtinField{{pubStatic | classfile.AccFinal, "out", "Ljava/io/PrintStream;"}},
	})

	var printMethods []builtinMethod
	printMethods = append(printMethods, builtinMethod{pub, "println", "()V", printStreamNewline})
	for _, desc := range []string{"I", "J", "F", "D", "Z", "C", "Ljava/lang/String;", "Ljava/lang/Object;"} {
		printMethods = append(printMethods,
			builtinMethod{pub, "print", "(" + desc + ")V", printStreamPrint(desc, false)},
			builtinMethod{pub, "println", "(" + desc + ")V", printStreamPrint(desc, true)},
		)
	}
	registerBuiltin("java/io/PrintStream", &builtinClass{
		super:   "java/lang/Object",
		flags:   pub,
		methods: printMethods,
	})

	sbMethods := []builtinMethod{
		{pub, "<init>", "()V", nativeNop},
		{pub, "<init>", "(Ljava/lang/String;)V", stringBuilderAppend("Ljava/lang/String;")},
		{pub, "toString", "()Ljava/lang/String;", stringBuilderToString},
		{pub, "length", "()I", stringBuilderLength},
	}
	for _, desc := range []string{"I", "J", "F", "D", "Z", "C", "Ljava/lang/String;", "Ljava/lang/Object;"} {
		sbMethods = append(sbMethods, builtinMethod{pub, "append", "(" + desc + ")Ljava/lang/StringBuilder;", stringBuilderAppend(desc)})
	}
	registerBuiltin("java/lang/StringBuilder", &builtinClass{
		super:   "java/lang/Object",
		flags:   pubFinal,
		methods: sbMethods,
		factory: func() interface{} { return native.NewStringBuilder("") },
	})

	registerBuiltin("java/util/HashMap", &builtinClass{
		super: "java/lang/Object",
		flags: pub,
		methods: []builtinMethod{
			{pub, "<init>", "()V", nativeNop},
			{pub, "get", "(Ljava/lang/Object;)Ljava/lang/Object;", hashMapGet},
			{pub, "put", "(Ljava/lang/Object;Ljava/lang/Object;)Ljava/lang/Object;", hashMapPut},
			{pub, "containsKey", "(Ljava/lang/Object;)Z", hashMapContainsKey},
			{pub, "remove", "(Ljava/lang/Object;)Ljava/lang/Object;", hashMapRemove},
			{pub, "size", "()I", hashMapSize},
		},
		factory: func() interface{} { return native.NewHashMap() },
	})

	registerBuiltin("java/lang/Throwable", &builtinClass{
		super: "java/lang/Object",
		flags: pub,
		fields: []builtinField{
			{classfile.AccPrivate, "detailMessage", "Ljava/lang/String;"},
			{classfile.AccPrivate, "cause", "Ljava/lang/Throwable;"},
		},
		methods: []builtinMethod{
			{pub, "<init>", "()V", throwableInit},
			{pub, "<init>", "(Ljava/lang/String;)V", throwableInit},
			{pub, "<init>", "(Ljava/lang/String;Ljava/lang/Throwable;)V", throwableInit},
			{pub, "getMessage", "()Ljava/lang/String;", throwableGetMessage},
			{pub, "getCause", "()Ljava/lang/Throwable;", throwableGetCause},
			{pub, "toString", "()Ljava/lang/String;", throwableToString},
		},
	})
	for name, super := range throwableClasses {
		registerBuiltin(name, &builtinClass{
			super: super,
			flags: pub | classfile.AccSuper,
			methods: []builtinMethod{
				{pub, "<init>", "()V", throwableInit},
				{pub, "<init>", "(Ljava/lang/String;)V", throwableInit},
			},
		})
	}
}

func receiver[T any](args []Value) (T, error) {
	r, ok := args[0].Ref.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("native: unexpected receiver %T", args[0].Ref)
	}
	return r, nil
}

func nativeNop(vm *VM, args []Value) (Value, error) {
	return Value{}, nil
}

func identity(vm *VM, args []Value) (Value, error) {
	return args[0], nil
}

// refEquals compares two references by identity. Strings compare by
// value, which matches interned string literals.
func refEquals(a, b Value) bool {
	if a.IsNull() || b.IsNull() {
		return a.IsNull() && b.IsNull()
	}
	return a.Ref == b.Ref
}

func objectHashCode(vm *VM, args []Value) (Value, error) {
	return IntValue(vm.identityHash(args[0].Ref)), nil
}

func objectEquals(vm *VM, args []Value) (Value, error) {
	return BoolValue(refEquals(args[0], args[1])), nil
}

func objectToString(vm *VM, args []Value) (Value, error) {
	c, err := vm.classOfRef(args[0].Ref)
	if err != nil {
		return Value{}, err
	}
	return RefValue(fmt.Sprintf("%s@%x", c.JavaName(), uint32(vm.identityHash(args[0].Ref)))), nil
}

func stringLength(vm *VM, args []Value) (Value, error) {
	s, err := receiver[string](args)
	if err != nil {
		return Value{}, err
	}
	return IntValue(int32(native.StringLength(s))), nil
}

func stringCharAt(vm *VM, args []Value) (Value, error) {
	s, err := receiver[string](args)
	if err != nil {
		return Value{}, err
	}
	c, ok := native.CharAt(s, int(args[1].Int))
	if !ok {
		return Value{}, vm.throw("java/lang/StringIndexOutOfBoundsException",
			fmt.Sprintf("index %d, length %d", args[1].Int, native.StringLength(s)))
	}
	return IntValue(int32(c)), nil
}

func stringIsEmpty(vm *VM, args []Value) (Value, error) {
	s, err := receiver[string](args)
	if err != nil {
		return Value{}, err
	}
	return BoolValue(s == ""), nil
}

func stringEquals(vm *VM, args []Value) (Value, error) {
	s, err := receiver[string](args)
	if err != nil {
		return Value{}, err
	}
	other, ok := args[1].Ref.(string)
	return BoolValue(ok && other == s), nil
}

func stringHashCode(vm *VM, args []Value) (Value, error) {
	s, err := receiver[string](args)
	if err != nil {
		return Value{}, err
	}
	return IntValue(native.StringHashCode(s)), nil
}

func stringConcat(vm *VM, args []Value) (Value, error) {
	s, err := receiver[string](args)
	if err != nil {
		return Value{}, err
	}
	if args[1].IsNull() {
		return Value{}, vm.throw("java/lang/NullPointerException", "")
	}
	other, _ := args[1].Ref.(string)
	return RefValue(s + other), nil
}

func stringValueOf(desc string) nativeMethod {
	return func(vm *VM, args []Value) (Value, error) {
		s, err := vm.formatValue(desc, args[0])
		if err != nil {
			return Value{}, err
		}
		return RefValue(s), nil
	}
}

func integerInit(vm *VM, args []Value) (Value, error) {
	ni, err := receiver[*native.Integer](args)
	if err != nil {
		return Value{}, err
	}
	ni.Value = args[1].Int
	return Value{}, nil
}

func integerValueOf(vm *VM, args []Value) (Value, error) {
	return RefValue(native.IntegerValueOf(args[0].Int)), nil
}

func integerParseInt(vm *VM, args []Value) (Value, error) {
	s, _ := args[0].Ref.(string)
	v, ok := native.ParseInt(s)
	if !ok {
		if args[0].IsNull() {
			return Value{}, vm.throw("java/lang/NumberFormatException", "Cannot parse null string: null")
		}
		return Value{}, vm.throw("java/lang/NumberFormatException", fmt.Sprintf("For input string: \"%s\"", s))
	}
	return IntValue(v), nil
}

func integerIntValue(vm *VM, args []Value) (Value, error) {
	ni, err := receiver[*native.Integer](args)
	if err != nil {
		return Value{}, err
	}
	return IntValue(native.IntegerIntValue(ni)), nil
}

func integerEquals(vm *VM, args []Value) (Value, error) {
	ni, err := receiver[*native.Integer](args)
	if err != nil {
		return Value{}, err
	}
	other, ok := args[1].Ref.(*native.Integer)
	return BoolValue(ok && other.Value == ni.Value), nil
}

func integerToString(vm *VM, args []Value) (Value, error) {
	ni, err := receiver[*native.Integer](args)
	if err != nil {
		return Value{}, err
	}
	return RefValue(ni.String()), nil
}

func mathAbs(vm *VM, args []Value) (Value, error) {
	v := args[0].Int
	if v < 0 {
		v = -v
	}
	return IntValue(v), nil
}

func mathMax(vm *VM, args []Value) (Value, error) {
	return IntValue(max(args[0].Int, args[1].Int)), nil
}

func mathMin(vm *VM, args []Value) (Value, error) {
	return IntValue(min(args[0].Int, args[1].Int)), nil
}

func mathSqrt(vm *VM, args []Value) (Value, error) {
	return DoubleValue(math.Sqrt(args[0].Double)), nil
}

func mathPow(vm *VM, args []Value) (Value, error) {
	return DoubleValue(math.Pow(args[0].Double, args[1].Double)), nil
}

func printStreamNewline(vm *VM, args []Value) (Value, error) {
	ps, err := receiver[*native.PrintStream](args)
	if err != nil {
		return Value{}, err
	}
	ps.Println("")
	return Value{}, nil
}

func printStreamPrint(desc string, newline bool) nativeMethod {
	return func(vm *VM, args []Value) (Value, error) {
		ps, err := receiver[*native.PrintStream](args)
		if err != nil {
			return Value{}, err
		}
		s, err := vm.formatValue(desc, args[1])
		if err != nil {
			return Value{}, err
		}
		if newline {
			ps.Println(s)
		} else {
			ps.Print(s)
		}
		return Value{}, nil
	}
}

func stringBuilderAppend(desc string) nativeMethod {
	return func(vm *VM, args []Value) (Value, error) {
		sb, err := receiver[*native.StringBuilder](args)
		if err != nil {
			return Value{}, err
		}
		s, err := vm.formatValue(desc, args[1])
		if err != nil {
			return Value{}, err
		}
		sb.Append(s)
		return args[0], nil
	}
}

func stringBuilderToString(vm *VM, args []Value) (Value, error) {
	sb, err := receiver[*native.StringBuilder](args)
	if err != nil {
		return Value{}, err
	}
	return RefValue(sb.String()), nil
}

func stringBuilderLength(vm *VM, args []Value) (Value, error) {
	sb, err := receiver[*native.StringBuilder](args)
	if err != nil {
		return Value{}, err
	}
	return IntValue(int32(sb.Len())), nil
}

func hashMapGet(vm *VM, args []Value) (Value, error) {
	m, err := receiver[*native.HashMap](args)
	if err != nil {
		return Value{}, err
	}
	return RefValue(m.Get(args[1].Ref)), nil
}

func hashMapPut(vm *VM, args []Value) (Value, error) {
	m, err := receiver[*native.HashMap](args)
	if err != nil {
		return Value{}, err
	}
	return RefValue(m.Put(args[1].Ref, args[2].Ref)), nil
}

func hashMapContainsKey(vm *VM, args []Value) (Value, error) {
	m, err := receiver[*native.HashMap](args)
	if err != nil {
		return Value{}, err
	}
	return BoolValue(m.ContainsKey(args[1].Ref)), nil
}

func hashMapRemove(vm *VM, args []Value) (Value, error) {
	m, err := receiver[*native.HashMap](args)
	if err != nil {
		return Value{}, err
	}
	return RefValue(m.Remove(args[1].Ref)), nil
}

func hashMapSize(vm *VM, args []Value) (Value, error) {
	m, err := receiver[*native.HashMap](args)
	if err != nil {
		return Value{}, err
	}
	return IntValue(int32(m.Size())), nil
}

func throwableInit(vm *VM, args []Value) (Value, error) {
	obj, err := receiver[*Object](args)
	if err != nil {
		return Value{}, err
	}
	if len(args) > 1 {
		obj.Fields["detailMessage"] = args[1]
	}
	if len(args) > 2 {
		obj.Fields["cause"] = args[2]
	}
	return Value{}, nil
}

func throwableGetMessage(vm *VM, args []Value) (Value, error) {
	obj, err := receiver[*Object](args)
	if err != nil {
		return Value{}, err
	}
	return obj.Fields["detailMessage"], nil
}

func throwableGetCause(vm *VM, args []Value) (Value, error) {
	obj, err := receiver[*Object](args)
	if err != nil {
		return Value{}, err
	}
	return obj.Fields["cause"], nil
}

func throwableToString(vm *VM, args []Value) (Value, error) {
	obj, err := receiver[*Object](args)
	if err != nil {
		return Value{}, err
	}
	return RefValue((&JavaException{Object: obj}).Error()), nil
}

// formatValue converts a value of the given field descriptor to a string
// like String.valueOf does.
func (vm *VM) formatValue(desc string, v Value) (string, error) {
	switch desc {
	case "I", "S", "B":
		return strconv.FormatInt(int64(v.Int), 10), nil
	case "J":
		return strconv.FormatInt(v.Long, 10), nil
	case "F":
		return native.FormatFloat(v.Float), nil
	case "D":
		return native.FormatDouble(v.Double), nil
	case "Z":
		return strconv.FormatBool(v.Int != 0), nil
	case "C":
		return string(rune(uint16(v.Int))), nil
	}
	return vm.javaString(v)
}

// javaString converts a reference to a string, calling toString on objects.
func (vm *VM) javaString(v Value) (string, error) {
	if v.IsNull() {
		return "null", nil
	}
	switch r := v.Ref.(type) {
	case string:
		return r, nil
	case *native.Integer:
		return r.String(), nil
	case *native.StringBuilder:
		return r.String(), nil
	}

	c, err := vm.classOfRef(v.Ref)
	if err != nil {
		return "", err
	}
	owner, m := c.ResolveVirtual("toString", "()Ljava/lang/String;")
	if m == nil {
		return "", fmt.Errorf("toString not found for %s", c.Name)
	}
	ret, err := vm.executeMethod(owner, m, []Value{v})
	if err != nil {
		return "", err
	}
	return vm.javaString(ret)
}

// identityHash returns a stable per-object hash, assigned on first use.
func (vm *VM) identityHash(ref interface{}) int32 {
	switch r := ref.(type) {
	case *Object:
		if r.hash == 0 {
			r.hash = vm.nextIdentityHash()
		}
		return r.hash
	case *Array:
		if r.hash == 0 {
			r.hash = vm.nextIdentityHash()
		}
		return r.hash
	case string:
		return native.StringHashCode(r)
	case *native.Integer:
		return r.Value
	}
	return 0
}

func (vm *VM) nextIdentityHash() int32 {
	vm.nextHash++
	return int32(uint32(vm.nextHash) * 0x9E3779B1 >> 1)
}
