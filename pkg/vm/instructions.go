package vm

import (
	"fmt"
	"math"

	"github.com/daimatz/gradeprobe/pkg/classfile"
)

// Opcodes
const (
	OpNop             = 0x00
	OpAconstNull      = 0x01
	OpIconstM1        = 0x02
	OpIconst0         = 0x03
	OpIconst5         = 0x08
	OpLconst0         = 0x09
	OpLconst1         = 0x0A
	OpFconst0         = 0x0B
	OpFconst1         = 0x0C
	OpFconst2         = 0x0D
	OpDconst0         = 0x0E
	OpDconst1         = 0x0F
	OpBipush          = 0x10
	OpSipush          = 0x11
	OpLdc             = 0x12
	OpLdcW            = 0x13
	OpLdc2W           = 0x14
	OpIload           = 0x15
	OpLload           = 0x16
	OpFload           = 0x17
	OpDload           = 0x18
	OpAload           = 0x19
	OpIload0          = 0x1A
	OpLload0          = 0x1E
	OpFload0          = 0x22
	OpDload0          = 0x26
	OpAload0          = 0x2A
	OpAload3          = 0x2D
	OpIaload          = 0x2E
	OpLaload          = 0x2F
	OpFaload          = 0x30
	OpDaload          = 0x31
	OpAaload          = 0x32
	OpBaload          = 0x33
	OpCaload          = 0x34
	OpSaload          = 0x35
	OpIstore          = 0x36
	OpLstore          = 0x37
	OpFstore          = 0x38
	OpDstore          = 0x39
	OpAstore          = 0x3A
	OpIstore0         = 0x3B
	OpLstore0         = 0x3F
	OpFstore0         = 0x43
	OpDstore0         = 0x47
	OpAstore0         = 0x4B
	OpAstore3         = 0x4E
	OpIastore         = 0x4F
	OpLastore         = 0x50
	OpFastore         = 0x51
	OpDastore         = 0x52
	OpAastore         = 0x53
	OpBastore         = 0x54
	OpCastore         = 0x55
	OpSastore         = 0x56
	OpPop             = 0x57
	OpPop2            = 0x58
	OpDup             = 0x59
	OpDupX1           = 0x5A
	OpDupX2           = 0x5B
	OpDup2            = 0x5C
	OpDup2X1          = 0x5D
	OpDup2X2          = 0x5E
	OpSwap            = 0x5F
	OpIadd            = 0x60
	OpLadd            = 0x61
	OpFadd            = 0x62
	OpDadd            = 0x63
	OpIsub            = 0x64
	OpLsub            = 0x65
	OpFsub            = 0x66
	OpDsub            = 0x67
	OpImul            = 0x68
	OpLmul            = 0x69
	OpFmul            = 0x6A
	OpDmul            = 0x6B
	OpIdiv            = 0x6C
	OpLdiv            = 0x6D
	OpFdiv            = 0x6E
	OpDdiv            = 0x6F
	OpIrem            = 0x70
	OpLrem            = 0x71
	OpFrem            = 0x72
	OpDrem            = 0x73
	OpIneg            = 0x74
	OpLneg            = 0x75
	OpFneg            = 0x76
	OpDneg            = 0x77
	OpIshl            = 0x78
	OpLshl            = 0x79
	OpIshr            = 0x7A
	OpLshr            = 0x7B
	OpIushr           = 0x7C
	OpLushr           = 0x7D
	OpIand            = 0x7E
	OpLand            = 0x7F
	OpIor             = 0x80
	OpLor             = 0x81
	OpIxor            = 0x82
	OpLxor            = 0x83
	OpIinc            = 0x84
	OpI2l             = 0x85
	OpI2f             = 0x86
	OpI2d             = 0x87
	OpL2i             = 0x88
	OpL2f             = 0x89
	OpL2d             = 0x8A
	OpF2i             = 0x8B
	OpF2l             = 0x8C
	OpF2d             = 0x8D
	OpD2i             = 0x8E
	OpD2l             = 0x8F
	OpD2f             = 0x90
	OpI2b             = 0x91
	OpI2c             = 0x92
	OpI2s             = 0x93
	OpLcmp            = 0x94
	OpFcmpl           = 0x95
	OpFcmpg           = 0x96
	OpDcmpl           = 0x97
	OpDcmpg           = 0x98
	OpIfeq            = 0x99
	OpIfne            = 0x9A
	OpIflt            = 0x9B
	OpIfge            = 0x9C
	OpIfgt            = 0x9D
	OpIfle            = 0x9E
	OpIfIcmpeq        = 0x9F
	OpIfIcmpne        = 0xA0
	OpIfIcmplt        = 0xA1
	OpIfIcmpge        = 0xA2
	OpIfIcmpgt        = 0xA3
	OpIfIcmple        = 0xA4
	OpIfAcmpeq        = 0xA5
	OpIfAcmpne        = 0xA6
	OpGoto            = 0xA7
	OpTableswitch     = 0xAA
	OpLookupswitch    = 0xAB
	OpIreturn         = 0xAC
	OpLreturn         = 0xAD
	OpFreturn         = 0xAE
	OpDreturn         = 0xAF
	OpAreturn         = 0xB0
	OpReturn          = 0xB1
	OpGetstatic       = 0xB2
	OpPutstatic       = 0xB3
	OpGetfield        = 0xB4
	OpPutfield        = 0xB5
	OpInvokevirtual   = 0xB6
	OpInvokespecial   = 0xB7
	OpInvokestatic    = 0xB8
	OpInvokeinterface = 0xB9
	OpInvokedynamic   = 0xBA
	OpNew             = 0xBB
	OpNewarray        = 0xBC
	OpAnewarray       = 0xBD
	OpArraylength     = 0xBE
	OpAthrow          = 0xBF
	OpCheckcast       = 0xC0
	OpInstanceof      = 0xC1
	OpMonitorenter    = 0xC2
	OpMonitorexit     = 0xC3
	OpWide            = 0xC4
	OpMultianewarray  = 0xC5
	OpIfnull          = 0xC6
	OpIfnonnull       = 0xC7
	OpGotoW           = 0xC8
)

// executeInstruction executes a single bytecode instruction.
// Returns (returnValue, hasReturn, error).
func (vm *VM) executeInstruction(frame *Frame, opcode byte) (Value, bool, error) {
	opPC := frame.PC - 1

	switch {
	case opcode >= OpIconstM1 && opcode <= OpIconst5:
		frame.Push(IntValue(int32(opcode) - OpIconst0))
		return Value{}, false, nil
	case opcode >= OpIload0 && opcode <= OpAload3:
		frame.Push(frame.GetLocal(int(opcode-OpIload0) % 4))
		return Value{}, false, nil
	case opcode >= OpIstore0 && opcode <= OpAstore3:
		frame.SetLocal(int(opcode-OpIstore0)%4, frame.Pop())
		return Value{}, false, nil
	case opcode >= OpIadd && opcode <= OpLxor:
		return Value{}, false, vm.executeArithmetic(frame, opcode)
	case opcode >= OpI2l && opcode <= OpI2s:
		executeConversion(frame, opcode)
		return Value{}, false, nil
	case opcode >= OpIaload && opcode <= OpSaload:
		return Value{}, false, vm.executeArrayLoad(frame)
	case opcode >= OpIastore && opcode <= OpSastore:
		return Value{}, false, vm.executeArrayStore(frame)
	}

	switch opcode {
	case OpNop:
		// do nothing

	// --- Constant load instructions ---
	case OpAconstNull:
		frame.Push(NullValue())
	case OpLconst0, OpLconst1:
		frame.Push(LongValue(int64(opcode - OpLconst0)))
	case OpFconst0, OpFconst1, OpFconst2:
		frame.Push(FloatValue(float32(opcode - OpFconst0)))
	case OpDconst0, OpDconst1:
		frame.Push(DoubleValue(float64(opcode - OpDconst0)))

	case OpBipush:
		val := frame.ReadI8()
		frame.Push(IntValue(int32(val)))

	case OpSipush:
		val := frame.ReadI16()
		frame.Push(IntValue(int32(val)))

	case OpLdc:
		index := frame.ReadU8()
		return Value{}, false, vm.executeLdc(frame, uint16(index))

	case OpLdcW, OpLdc2W:
		index := frame.ReadU16()
		return Value{}, false, vm.executeLdc(frame, index)

	// --- Local variables ---
	case OpIload, OpLload, OpFload, OpDload, OpAload:
		index := frame.ReadU8()
		frame.Push(frame.GetLocal(int(index)))

	case OpIstore, OpLstore, OpFstore, OpDstore, OpAstore:
		index := frame.ReadU8()
		frame.SetLocal(int(index), frame.Pop())

	case OpIinc:
		index := frame.ReadU8()
		delta := frame.ReadI8()
		v := frame.GetLocal(int(index))
		frame.SetLocal(int(index), IntValue(v.Int+int32(delta)))

	case OpWide:
		executeWide(frame)

	// --- Stack manipulation ---
	case OpPop:
		frame.Pop()
	case OpPop2:
		if v := frame.Pop(); !v.IsWide() {
			frame.Pop()
		}
	case OpDup:
		frame.Push(frame.Peek())
	case OpDupX1:
		v1 := frame.Pop()
		v2 := frame.Pop()
		pushAll(frame, v1, v2, v1)
	case OpDupX2:
		v1 := frame.Pop()
		v2 := frame.Pop()
		if v2.IsWide() {
			pushAll(frame, v1, v2, v1)
			break
		}
		v3 := frame.Pop()
		pushAll(frame, v1, v3, v2, v1)
	case OpDup2:
		v1 := frame.Pop()
		if v1.IsWide() {
			pushAll(frame, v1, v1)
			break
		}
		v2 := frame.Pop()
		pushAll(frame, v2, v1, v2, v1)
	case OpDup2X1:
		v1 := frame.Pop()
		v2 := frame.Pop()
		if v1.IsWide() {
			pushAll(frame, v1, v2, v1)
			break
		}
		v3 := frame.Pop()
		pushAll(frame, v2, v1, v3, v2, v1)
	case OpDup2X2:
		executeDup2X2(frame)
	case OpSwap:
		v1 := frame.Pop()
		v2 := frame.Pop()
		pushAll(frame, v1, v2)

	case OpLcmp:
		v2 := frame.Pop().Long
		v1 := frame.Pop().Long
		frame.Push(IntValue(compare(v1, v2)))
	case OpFcmpl, OpFcmpg:
		v2 := frame.Pop().Float
		v1 := frame.Pop().Float
		frame.Push(IntValue(fcmp(float64(v1), float64(v2), opcode == OpFcmpg)))
	case OpDcmpl, OpDcmpg:
		v2 := frame.Pop().Double
		v1 := frame.Pop().Double
		frame.Push(IntValue(fcmp(v1, v2, opcode == OpDcmpg)))

	// --- Branches ---
	case OpIfeq, OpIfne, OpIflt, OpIfge, OpIfgt, OpIfle:
		v := frame.Pop().Int
		branch(frame, opPC, intCondition(opcode-OpIfeq, v, 0))
	case OpIfIcmpeq, OpIfIcmpne, OpIfIcmplt, OpIfIcmpge, OpIfIcmpgt, OpIfIcmple:
		v2 := frame.Pop().Int
		v1 := frame.Pop().Int
		branch(frame, opPC, intCondition(opcode-OpIfIcmpeq, v1, v2))
	case OpIfAcmpeq, OpIfAcmpne:
		v2 := frame.Pop()
		v1 := frame.Pop()
		branch(frame, opPC, refEquals(v1, v2) == (opcode == OpIfAcmpeq))
	case OpIfnull, OpIfnonnull:
		v := frame.Pop()
		branch(frame, opPC, v.IsNull() == (opcode == OpIfnull))
	case OpGoto:
		branch(frame, opPC, true)
	case OpGotoW:
		offset := frame.ReadI32()
		frame.PC = opPC + int(offset)
	case OpTableswitch:
		executeTableswitch(frame, opPC)
	case OpLookupswitch:
		executeLookupswitch(frame, opPC)

	// --- Returns ---
	case OpIreturn, OpLreturn, OpFreturn, OpDreturn, OpAreturn:
		return frame.Pop(), true, nil
	case OpReturn:
		return Value{}, true, nil

	// --- Fields ---
	case OpGetstatic:
		return Value{}, false, vm.executeGetstatic(frame)
	case OpPutstatic:
		return Value{}, false, vm.executePutstatic(frame)
	case OpGetfield:
		return Value{}, false, vm.executeGetfield(frame)
	case OpPutfield:
		return Value{}, false, vm.executePutfield(frame)

	// --- Invocation ---
	case OpInvokevirtual:
		return Value{}, false, vm.executeInvokevirtual(frame, false)
	case OpInvokeinterface:
		return Value{}, false, vm.executeInvokevirtual(frame, true)
	case OpInvokespecial:
		return Value{}, false, vm.executeInvokespecial(frame)
	case OpInvokestatic:
		return Value{}, false, vm.executeInvokestatic(frame)
	case OpInvokedynamic:
		return Value{}, false, fmt.Errorf("invokedynamic is not supported")

	// --- Objects and arrays ---
	case OpNew:
		return Value{}, false, vm.executeNew(frame)
	case OpNewarray:
		return Value{}, false, vm.executeNewarray(frame)
	case OpAnewarray:
		return Value{}, false, vm.executeAnewarray(frame)
	case OpMultianewarray:
		return Value{}, false, vm.executeMultianewarray(frame)
	case OpArraylength:
		arr, err := vm.popArray(frame)
		if err != nil {
			return Value{}, false, err
		}
		frame.Push(IntValue(int32(len(arr.Elements))))
	case OpAthrow:
		ref := frame.Pop()
		if ref.IsNull() {
			return Value{}, false, vm.throw("java/lang/NullPointerException", "")
		}
		obj, ok := ref.Ref.(*Object)
		if !ok || !obj.Class.IsSubclassOf("java/lang/Throwable") {
			return Value{}, false, fmt.Errorf("athrow: %T is not a Throwable", ref.Ref)
		}
		return Value{}, false, &JavaException{Object: obj}
	case OpCheckcast:
		return Value{}, false, vm.executeCheckcast(frame)
	case OpInstanceof:
		return Value{}, false, vm.executeInstanceof(frame)
	case OpMonitorenter, OpMonitorexit:
		if frame.Pop().IsNull() {
			return Value{}, false, vm.throw("java/lang/NullPointerException", "")
		}

	default:
		return Value{}, false, fmt.Errorf("unsupported opcode 0x%02X at pc %d", opcode, opPC)
	}

	return Value{}, false, nil
}

func pushAll(frame *Frame, values ...Value) {
	for _, v := range values {
		frame.Push(v)
	}
}

func executeDup2X2(frame *Frame) {
	v1 := frame.Pop()
	v2 := frame.Pop()
	switch {
	case v1.IsWide() && v2.IsWide():
		pushAll(frame, v1, v2, v1)
	case v1.IsWide():
		v3 := frame.Pop()
		pushAll(frame, v1, v3, v2, v1)
	default:
		v3 := frame.Pop()
		if v3.IsWide() {
			pushAll(frame, v2, v1, v3, v2, v1)
			return
		}
		v4 := frame.Pop()
		pushAll(frame, v2, v1, v4, v3, v2, v1)
	}
}

func executeWide(frame *Frame) {
	op := frame.ReadU8()
	index := int(frame.ReadU16())
	switch op {
	case OpIinc:
		delta := frame.ReadI16()
		v := frame.GetLocal(index)
		frame.SetLocal(index, IntValue(v.Int+int32(delta)))
	case OpIload, OpLload, OpFload, OpDload, OpAload:
		frame.Push(frame.GetLocal(index))
	case OpIstore, OpLstore, OpFstore, OpDstore, OpAstore:
		frame.SetLocal(index, frame.Pop())
	default:
		panic(fmt.Sprintf("wide: unsupported opcode 0x%02X", op))
	}
}

// branch reads a 16-bit offset and jumps relative to opPC if cond holds.
func branch(frame *Frame, opPC int, cond bool) {
	offset := frame.ReadI16()
	if cond {
		frame.PC = opPC + int(offset)
	}
}

// intCondition evaluates eq, ne, lt, ge, gt, le in opcode order.
func intCondition(cond byte, a, b int32) bool {
	switch cond {
	case 0:
		return a == b
	case 1:
		return a != b
	case 2:
		return a < b
	case 3:
		return a >= b
	case 4:
		return a > b
	default:
		return a <= b
	}
}

func compare[T int64 | float64](a, b T) int32 {
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	default:
		return 0
	}
}

// fcmp compares floating point values; NaN yields 1 for the "g" variants and -1 otherwise.
func fcmp(a, b float64, nanIsGreater bool) int32 {
	if math.IsNaN(a) || math.IsNaN(b) {
		if nanIsGreater {
			return 1
		}
		return -1
	}
	return compare(a, b)
}

func executeTableswitch(frame *Frame, opPC int) {
	for frame.PC%4 != 0 {
		frame.PC++
	}
	def := frame.ReadI32()
	low := frame.ReadI32()
	high := frame.ReadI32()
	idx := frame.Pop().Int
	if idx < low || idx > high {
		frame.PC = opPC + int(def)
		return
	}
	frame.PC += int(idx-low) * 4
	frame.PC = opPC + int(frame.ReadI32())
}

func executeLookupswitch(frame *Frame, opPC int) {
	for frame.PC%4 != 0 {
		frame.PC++
	}
	def := frame.ReadI32()
	npairs := frame.ReadI32()
	key := frame.Pop().Int
	for i := int32(0); i < npairs; i++ {
		match := frame.ReadI32()
		offset := frame.ReadI32()
		if match == key {
			frame.PC = opPC + int(offset)
			return
		}
	}
	frame.PC = opPC + int(def)
}

// executeLdc pushes an int, float, long, double or string constant.
func (vm *VM) executeLdc(frame *Frame, index uint16) error {
	pool := frame.Class.File.ConstantPool
	if int(index) >= len(pool) || pool[index] == nil {
		return fmt.Errorf("ldc: invalid constant pool index %d", index)
	}

	switch c := pool[index].(type) {
	case *classfile.ConstantInteger:
		frame.Push(IntValue(c.Value))
	case *classfile.ConstantFloat:
		frame.Push(FloatValue(c.Value))
	case *classfile.ConstantLong:
		frame.Push(LongValue(c.Value))
	case *classfile.ConstantDouble:
		frame.Push(DoubleValue(c.Value))
	case *classfile.ConstantString:
		str, err := classfile.GetUtf8(pool, c.StringIndex)
		if err != nil {
			return fmt.Errorf("ldc: resolving string: %w", err)
		}
		frame.Push(RefValue(str))
	default:
		return fmt.Errorf("ldc: unsupported constant pool entry type at index %d (tag=%d)", index, c.Tag())
	}
	return nil
}

func (vm *VM) executeArithmetic(frame *Frame, opcode byte) error {
	switch opcode {
	case OpIneg:
		frame.Push(IntValue(-frame.Pop().Int))
		return nil
	case OpLneg:
		frame.Push(LongValue(-frame.Pop().Long))
		return nil
	case OpFneg:
		frame.Push(FloatValue(-frame.Pop().Float))
		return nil
	case OpDneg:
		frame.Push(DoubleValue(-frame.Pop().Double))
		return nil
	}

	v2 := frame.Pop()
	v1 := frame.Pop()
	switch opcode {
	case OpIadd:
		frame.Push(IntValue(v1.Int + v2.Int))
	case OpLadd:
		frame.Push(LongValue(v1.Long + v2.Long))
	case OpFadd:
		frame.Push(FloatValue(v1.Float + v2.Float))
	case OpDadd:
		frame.Push(DoubleValue(v1.Double + v2.Double))
	case OpIsub:
		frame.Push(IntValue(v1.Int - v2.Int))
	case OpLsub:
		frame.Push(LongValue(v1.Long - v2.Long))
	case OpFsub:
		frame.Push(FloatValue(v1.Float - v2.Float))
	case OpDsub:
		frame.Push(DoubleValue(v1.Double - v2.Double))
	case OpImul:
		frame.Push(IntValue(v1.Int * v2.Int))
	case OpLmul:
		frame.Push(LongValue(v1.Long * v2.Long))
	case OpFmul:
		frame.Push(FloatValue(v1.Float * v2.Float))
	case OpDmul:
		frame.Push(DoubleValue(v1.Double * v2.Double))
	case OpIdiv:
		if v2.Int == 0 {
			return vm.throw("java/lang/ArithmeticException", "/ by zero")
		}
		frame.Push(IntValue(v1.Int / v2.Int))
	case OpLdiv:
		if v2.Long == 0 {
			return vm.throw("java/lang/ArithmeticException", "/ by zero")
		}
		frame.Push(LongValue(v1.Long / v2.Long))
	case OpFdiv:
		frame.Push(FloatValue(v1.Float / v2.Float))
	case OpDdiv:
		frame.Push(DoubleValue(v1.Double / v2.Double))
	case OpIrem:
		if v2.Int == 0 {
			return vm.throw("java/lang/ArithmeticException", "/ by zero")
		}
		frame.Push(IntValue(v1.Int % v2.Int))
	case OpLrem:
		if v2.Long == 0 {
			return vm.throw("java/lang/ArithmeticException", "/ by zero")
		}
		frame.Push(LongValue(v1.Long % v2.Long))
	case OpFrem:
		frame.Push(FloatValue(float32(math.Mod(float64(v1.Float), float64(v2.Float)))))
	case OpDrem:
		frame.Push(DoubleValue(math.Mod(v1.Double, v2.Double)))
	case OpIshl:
		frame.Push(IntValue(v1.Int << uint32(v2.Int&0x1F)))
	case OpLshl:
		frame.Push(LongValue(v1.Long << uint32(v2.Int&0x3F)))
	case OpIshr:
		frame.Push(IntValue(v1.Int >> uint32(v2.Int&0x1F)))
	case OpLshr:
		frame.Push(LongValue(v1.Long >> uint32(v2.Int&0x3F)))
	case OpIushr:
		frame.Push(IntValue(int32(uint32(v1.Int) >> uint32(v2.Int&0x1F))))
	case OpLushr:
		frame.Push(LongValue(int64(uint64(v1.Long) >> uint32(v2.Int&0x3F))))
	case OpIand:
		frame.Push(IntValue(v1.Int & v2.Int))
	case OpLand:
		frame.Push(LongValue(v1.Long & v2.Long))
	case OpIor:
		frame.Push(IntValue(v1.Int | v2.Int))
	case OpLor:
		frame.Push(LongValue(v1.Long | v2.Long))
	case OpIxor:
		frame.Push(IntValue(v1.Int ^ v2.Int))
	case OpLxor:
		frame.Push(LongValue(v1.Long ^ v2.Long))
	}
	return nil
}

func executeConversion(frame *Frame, opcode byte) {
	v := frame.Pop()
	switch opcode {
	case OpI2l:
		frame.Push(LongValue(int64(v.Int)))
	case OpI2f:
		frame.Push(FloatValue(float32(v.Int)))
	case OpI2d:
		frame.Push(DoubleValue(float64(v.Int)))
	case OpL2i:
		frame.Push(IntValue(int32(v.Long)))
	case OpL2f:
		frame.Push(FloatValue(float32(v.Long)))
	case OpL2d:
		frame.Push(DoubleValue(float64(v.Long)))
	case OpF2i:
		frame.Push(IntValue(floatToInt(float64(v.Float))))
	case OpF2l:
		frame.Push(LongValue(floatToLong(float64(v.Float))))
	case OpF2d:
		frame.Push(DoubleValue(float64(v.Float)))
	case OpD2i:
		frame.Push(IntValue(floatToInt(v.Double)))
	case OpD2l:
		frame.Push(LongValue(floatToLong(v.Double)))
	case OpD2f:
		frame.Push(FloatValue(float32(v.Double)))
	case OpI2b:
		frame.Push(IntValue(int32(int8(v.Int))))
	case OpI2c:
		frame.Push(IntValue(int32(uint16(v.Int))))
	case OpI2s:
		frame.Push(IntValue(int32(int16(v.Int))))
	}
}

// floatToInt converts like d2i: NaN is 0 and out of range values saturate.
func floatToInt(f float64) int32 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt32:
		return math.MaxInt32
	case f <= math.MinInt32:
		return math.MinInt32
	}
	return int32(f)
}

func floatToLong(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(f)
}
