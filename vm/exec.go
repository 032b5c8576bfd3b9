package vm

import (
	"github.com/pkg/errors"
)

// step fetches one opcode byte and executes it. Section markers, call
// control flow and register/memory instructions are all handled here; this
// is the only place instruction semantics live.
func (v *VM) step() error {
	opcodeByte, err := v.fetchU8()
	if err != nil {
		return err
	}
	op := Opcode(opcodeByte)

	switch op {
	case OpHalt:
		v.running = false
		v.stepBack(1)
		return nil

	case OpDataSection:
		return v.execDataSection()

	case OpTextSection:
		v.textFlag = true
		return v.maybeConsumeEntryPrefix()

	case OpReturn:
		return v.popState()

	case OpCall:
		return v.execCall()

	case OpInterrupt:
		addr, err := v.fetchU64()
		if err != nil {
			return err
		}
		return v.dispatchInterrupt(addr)

	case OpMov8, OpMov16, OpMov32, OpMov64:
		return v.execMov(op.Width())

	case OpMovR2R:
		return v.execMovR2R()

	case OpMovR2M8, OpMovR2M16, OpMovR2M32, OpMovR2M64:
		return v.execMovR2M(op.Width())

	case OpPush8, OpPush16, OpPush32, OpPush64:
		return v.execPush(op.Width())

	case OpPop8, OpPop16, OpPop32, OpPop64:
		return v.execPop(op.Width())

	case OpFrame8, OpFrame16, OpFrame32, OpFrame64:
		return v.execFrame(op.Width())

	case OpPeek8, OpPeek16, OpPeek32, OpPeek64:
		return v.execPeek(op.Width())

	case OpAdd8, OpAdd16, OpAdd32, OpAdd64:
		return v.execArithMem(op.Width(), func(a, b uint64) uint64 { return a + b })

	case OpAddR2R:
		return v.execArithR2R(func(a, b uint64) uint64 { return a + b })

	case OpXAdd:
		return v.execXAdd()

	case OpSub8, OpSub16, OpSub32, OpSub64:
		return v.execArithMem(op.Width(), func(a, b uint64) uint64 { return a - b })

	case OpSubR2R:
		return v.execArithR2R(func(a, b uint64) uint64 { return a - b })

	case OpMul8, OpMul16, OpMul32, OpMul64:
		return v.execArithMem(op.Width(), func(a, b uint64) uint64 { return a * b })

	case OpMulR2R:
		return v.execArithR2R(func(a, b uint64) uint64 { return a * b })

	case OpDiv8, OpDiv16, OpDiv32, OpDiv64:
		return v.execDivMem(op.Width())

	case OpDivR2R:
		return v.execDivR2R()

	case OpCmp8, OpCmp16, OpCmp32, OpCmp64:
		return v.execCmpMem(op.Width())

	case OpCmpR2R:
		return v.execCmpR2R()

	case OpJmp:
		addr, err := v.fetchU64()
		if err != nil {
			return err
		}
		v.registers[RInstructionPtr] = addr
		return nil

	case OpJz:
		return v.execConditionalJump(v.registers[RAccumulator] == 0)

	case OpJnz:
		return v.execConditionalJump(v.registers[RAccumulator] != 0)

	case OpJe:
		return v.execValueJump(true)

	case OpJne:
		return v.execValueJump(false)

	default:
		return errors.WithStack(&InvalidOpcode{Byte: opcodeByte})
	}
}

// execDataSection scans forward for the 0xFF,TextSection marker. Both
// marker bytes are consumed off the stream and then the pointer is walked
// back one byte, landing exactly on the TextSection byte so the next step
// dispatches it normally instead of re-seeing the 0xFF.
func (v *VM) execDataSection() error {
	for {
		b, err := v.fetchU8()
		if err != nil {
			return errors.Wrap(ErrNoTextSection, err.Error())
		}
		if b != 0xFF {
			continue
		}
		marker, err := v.fetchU8()
		if err != nil {
			return errors.Wrap(ErrNoTextSection, err.Error())
		}
		if Opcode(marker) == OpTextSection {
			v.stepBack(1)
			return nil
		}
	}
}

// maybeConsumeEntryPrefix handles the optional 0xFF + 8-byte address at the
// start of the text section: if present, it relocates instruction_ptr.
func (v *VM) maybeConsumeEntryPrefix() error {
	b, err := v.peekByte()
	if err != nil {
		return err
	}
	if b != 0xFF {
		return nil
	}
	if _, err := v.fetchU8(); err != nil {
		return err
	}
	addr, err := v.fetchU64()
	if err != nil {
		return err
	}
	v.registers[RInstructionPtr] = addr
	return nil
}

func (v *VM) execCall() error {
	addr, err := v.fetchU64()
	if err != nil {
		return err
	}
	if err := v.pushState(v.registers[RInstructionPtr], v.registers[RFramePtr]); err != nil {
		return err
	}
	v.registers[RFramePtr] = v.registers[RStackPtr]
	v.registers[RInstructionPtr] = addr
	return nil
}

// execMov implements Mov{8,16,32,64}: (reg_idx:1, addr:8) — load `width`
// bytes from memory at addr, zero-extend, store into the register.
func (v *VM) execMov(width int) error {
	reg, err := v.fetchU8()
	if err != nil {
		return err
	}
	addr, err := v.fetchU64()
	if err != nil {
		return err
	}
	val, err := v.mem.GetWidth(addr, width)
	if err != nil {
		return err
	}
	return v.SetRegister(reg, val)
}

func (v *VM) execMovR2R() error {
	dest, err := v.fetchU8()
	if err != nil {
		return err
	}
	src, err := v.fetchU8()
	if err != nil {
		return err
	}
	val, err := v.GetRegister(src)
	if err != nil {
		return err
	}
	return v.SetRegister(dest, val)
}

// execMovR2M implements MovR2M{8,16,32,64}: (addr:8, src:1) — store the low
// `width` bytes of the register at addr.
func (v *VM) execMovR2M(width int) error {
	addr, err := v.fetchU64()
	if err != nil {
		return err
	}
	src, err := v.fetchU8()
	if err != nil {
		return err
	}
	val, err := v.GetRegister(src)
	if err != nil {
		return err
	}
	return v.mem.SetWidth(addr, width, val)
}

// execPush implements Push{8,16,32,64}: (src:1). Pushes the low N bits of
// the register, then overwrites the source register with the frame-
// relative offset at which the value now resides.
func (v *VM) execPush(width int) error {
	src, err := v.fetchU8()
	if err != nil {
		return err
	}
	val, err := v.GetRegister(src)
	if err != nil {
		return err
	}
	spBefore := v.registers[RStackPtr]
	if err := v.pushStack(width, val); err != nil {
		return err
	}
	offset := spBefore - v.registers[RFramePtr]
	return v.SetRegister(src, offset)
}

func (v *VM) execPop(width int) error {
	dest, err := v.fetchU8()
	if err != nil {
		return err
	}
	val, err := v.popStack(width)
	if err != nil {
		return err
	}
	return v.SetRegister(dest, val)
}

// frameOffsetOperand fetches the (reg:1, addr:8) encoding shared by
// Frame*/Peek*, dereferencing addr to recover the 16-bit offset interned
// there.
func (v *VM) frameOffsetOperand() (byte, uint16, error) {
	reg, err := v.fetchU8()
	if err != nil {
		return 0, 0, err
	}
	addr, err := v.fetchU64()
	if err != nil {
		return 0, 0, err
	}
	offset, err := v.mem.GetU16(addr)
	if err != nil {
		return 0, 0, err
	}
	return reg, offset, nil
}

func (v *VM) execFrame(width int) error {
	dest, offset, err := v.frameOffsetOperand()
	if err != nil {
		return err
	}
	addr, err := v.frameAddr(offset, width)
	if err != nil {
		return err
	}
	val, err := v.mem.GetWidth(addr, width)
	if err != nil {
		return err
	}
	return v.SetRegister(dest, val)
}

func (v *VM) execPeek(width int) error {
	dest, offset, err := v.frameOffsetOperand()
	if err != nil {
		return err
	}
	addr, err := v.peekAddr(offset, width)
	if err != nil {
		return err
	}
	val, err := v.mem.GetWidth(addr, width)
	if err != nil {
		return err
	}
	return v.SetRegister(dest, val)
}

// arithMemOperands fetches the (dest:1, addr:8) shape shared by the memory-
// operand Add/Sub/Mul/Div/Cmp families. addr points at the interned
// constant pool slot; its width matches the opcode's own width tag, since
// the code generator chose that tag from the operand's smallest-fitting
// interned variant.
func (v *VM) arithMemOperands(width int) (byte, uint64, error) {
	dest, err := v.fetchU8()
	if err != nil {
		return 0, 0, err
	}
	addr, err := v.fetchU64()
	if err != nil {
		return 0, 0, err
	}
	rhs, err := v.mem.GetWidth(addr, width)
	if err != nil {
		return 0, 0, err
	}
	return dest, rhs, nil
}

func (v *VM) execArithMem(width int, op func(a, b uint64) uint64) error {
	dest, rhs, err := v.arithMemOperands(width)
	if err != nil {
		return err
	}
	lhs, err := v.GetRegister(dest)
	if err != nil {
		return err
	}
	return v.SetRegister(dest, op(lhs, rhs))
}

func (v *VM) execArithR2R(op func(a, b uint64) uint64) error {
	dest, err := v.fetchU8()
	if err != nil {
		return err
	}
	src, err := v.fetchU8()
	if err != nil {
		return err
	}
	lhs, err := v.GetRegister(dest)
	if err != nil {
		return err
	}
	rhs, err := v.GetRegister(src)
	if err != nil {
		return err
	}
	return v.SetRegister(dest, op(lhs, rhs))
}

// execXAdd: dest += src, and src takes dest's pre-update value.
func (v *VM) execXAdd() error {
	dest, err := v.fetchU8()
	if err != nil {
		return err
	}
	src, err := v.fetchU8()
	if err != nil {
		return err
	}
	lhs, err := v.GetRegister(dest)
	if err != nil {
		return err
	}
	rhs, err := v.GetRegister(src)
	if err != nil {
		return err
	}
	if err := v.SetRegister(dest, lhs+rhs); err != nil {
		return err
	}
	return v.SetRegister(src, lhs)
}

func (v *VM) execDivMem(width int) error {
	dest, rhs, err := v.arithMemOperands(width)
	if err != nil {
		return err
	}
	if rhs == 0 {
		return errors.WithStack(ErrDivisionByZero)
	}
	lhs, err := v.GetRegister(dest)
	if err != nil {
		return err
	}
	return v.SetRegister(dest, lhs/rhs)
}

func (v *VM) execDivR2R() error {
	dest, err := v.fetchU8()
	if err != nil {
		return err
	}
	src, err := v.fetchU8()
	if err != nil {
		return err
	}
	rhs, err := v.GetRegister(src)
	if err != nil {
		return err
	}
	if rhs == 0 {
		return errors.WithStack(ErrDivisionByZero)
	}
	lhs, err := v.GetRegister(dest)
	if err != nil {
		return err
	}
	return v.SetRegister(dest, lhs/rhs)
}

// compareResult encodes cmp's three-way result: 1 if left>right, 2 if
// left<right, 0 if equal.
func compareResult(lhs, rhs uint64) uint64 {
	switch {
	case lhs > rhs:
		return 1
	case lhs < rhs:
		return 2
	default:
		return 0
	}
}

func (v *VM) execCmpMem(width int) error {
	dest, rhs, err := v.arithMemOperands(width)
	if err != nil {
		return err
	}
	lhs, err := v.GetRegister(dest)
	if err != nil {
		return err
	}
	v.registers[RAccumulator] = compareResult(lhs, rhs)
	return nil
}

func (v *VM) execCmpR2R() error {
	dest, err := v.fetchU8()
	if err != nil {
		return err
	}
	src, err := v.fetchU8()
	if err != nil {
		return err
	}
	lhs, err := v.GetRegister(dest)
	if err != nil {
		return err
	}
	rhs, err := v.GetRegister(src)
	if err != nil {
		return err
	}
	v.registers[RAccumulator] = compareResult(lhs, rhs)
	return nil
}

func (v *VM) execConditionalJump(take bool) error {
	addr, err := v.fetchU64()
	if err != nil {
		return err
	}
	if take {
		v.registers[RInstructionPtr] = addr
	}
	return nil
}

// execValueJump implements Je/Jne: (val_addr:8, label_addr:8) — compare
// accumulator to the 64-bit value at val_addr, jump to label_addr if the
// comparison matches (equal for Je, not-equal for Jne).
func (v *VM) execValueJump(wantEqual bool) error {
	valAddr, err := v.fetchU64()
	if err != nil {
		return err
	}
	labelAddr, err := v.fetchU64()
	if err != nil {
		return err
	}
	value, err := v.mem.GetU64(valAddr)
	if err != nil {
		return err
	}
	equal := v.registers[RAccumulator] == value
	if equal == wantEqual {
		v.registers[RInstructionPtr] = labelAddr
	}
	return nil
}
