package vm

// Opcode is the single-byte tag written to the text section of a program
// image. Values are fixed by the binary contract; do not renumber.
type Opcode byte

const (
	OpDataSection Opcode = 0x01
	OpTextSection Opcode = 0x02

	OpMov8  Opcode = 0x03
	OpMov16 Opcode = 0x04
	OpMov32 Opcode = 0x05
	OpMov64 Opcode = 0x06
	OpMovR2R Opcode = 0x07

	OpAdd8   Opcode = 0x08
	OpAdd16  Opcode = 0x09
	OpAdd32  Opcode = 0x0A
	OpAdd64  Opcode = 0x0B
	OpAddR2R Opcode = 0x0C

	OpSub8   Opcode = 0x0D
	OpSub16  Opcode = 0x0E
	OpSub32  Opcode = 0x0F
	OpSub64  Opcode = 0x10
	OpSubR2R Opcode = 0x11

	OpMul8   Opcode = 0x12
	OpMul16  Opcode = 0x13
	OpMul32  Opcode = 0x14
	OpMul64  Opcode = 0x15
	OpMulR2R Opcode = 0x16

	OpDiv8   Opcode = 0x17
	OpDiv16  Opcode = 0x18
	OpDiv32  Opcode = 0x19
	OpDiv64  Opcode = 0x1A
	OpDivR2R Opcode = 0x1B

	OpXAdd Opcode = 0x1C

	OpJmp Opcode = 0x1D
	OpJz  Opcode = 0x1E
	OpJnz Opcode = 0x1F

	OpCmp8   Opcode = 0x20
	OpJe     Opcode = 0x21
	OpJne    Opcode = 0x22
	OpCmp16  Opcode = 0x23
	OpCmp32  Opcode = 0x24
	OpCmp64  Opcode = 0x25
	OpCmpR2R Opcode = 0x26

	OpCall Opcode = 0x27

	OpMovR2M16 Opcode = 0x28
	OpMovR2M32 Opcode = 0x29
	OpMovR2M64 Opcode = 0x40
	OpMovR2M8  Opcode = 0xEF

	OpPush8  Opcode = 0x30
	OpPush16 Opcode = 0x31
	OpPush32 Opcode = 0x32
	OpPush64 Opcode = 0x33

	OpPop8  Opcode = 0x34
	OpPop16 Opcode = 0x35
	OpPop32 Opcode = 0x36
	OpPop64 Opcode = 0x37

	OpFrame8  Opcode = 0x38
	OpFrame16 Opcode = 0x39
	OpFrame32 Opcode = 0x3A
	OpFrame64 Opcode = 0x3B

	OpPeek8  Opcode = 0x3C
	OpPeek16 Opcode = 0x3D
	OpPeek32 Opcode = 0x3E
	OpPeek64 Opcode = 0x3F

	OpHalt      Opcode = 0xF0
	OpReturn    Opcode = 0xF1
	OpInterrupt Opcode = 0xF2
)

// widthOf reports the operand width in bytes for opcodes whose name ends in
// a numeric suffix. Used by exec.go and the memory access helpers so width
// dispatch lives in one table instead of being repeated per instruction.
var widthOf = map[Opcode]int{
	OpMov8: 1, OpMov16: 2, OpMov32: 4, OpMov64: 8,
	OpMovR2M8: 1, OpMovR2M16: 2, OpMovR2M32: 4, OpMovR2M64: 8,
	OpAdd8: 1, OpAdd16: 2, OpAdd32: 4, OpAdd64: 8,
	OpSub8: 1, OpSub16: 2, OpSub32: 4, OpSub64: 8,
	OpMul8: 1, OpMul16: 2, OpMul32: 4, OpMul64: 8,
	OpDiv8: 1, OpDiv16: 2, OpDiv32: 4, OpDiv64: 8,
	OpCmp8: 1, OpCmp16: 2, OpCmp32: 4, OpCmp64: 8,
	OpPush8: 1, OpPush16: 2, OpPush32: 4, OpPush64: 8,
	OpPop8: 1, OpPop16: 2, OpPop32: 4, OpPop64: 8,
	OpFrame8: 1, OpFrame16: 2, OpFrame32: 4, OpFrame64: 8,
	OpPeek8: 1, OpPeek16: 2, OpPeek32: 4, OpPeek64: 8,
}

// Width returns the memory-access width in bytes for a width-tagged opcode,
// or 0 if the opcode has no associated width (register-to-register forms,
// control flow, system opcodes).
func (op Opcode) Width() int {
	return widthOf[op]
}

// registerNames maps wire index to assembly register name; order is part
// of the binary contract and must not change.
var registerNames = []string{
	"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7", "r8",
	"call", "accumulator", "instruction_ptr", "stack_ptr", "frame_ptr", "mem_ptr",
}

const (
	RCall           = 9
	RAccumulator    = 10
	RInstructionPtr = 11
	RStackPtr       = 12
	RFramePtr       = 13
	RMemPtr         = 14

	NumRegisters = 15
)

// RegisterIndex returns the wire index for a register name, or (0, false)
// if the name is not a known register.
func RegisterIndex(name string) (byte, bool) {
	for i, n := range registerNames {
		if n == name {
			return byte(i), true
		}
	}
	return 0, false
}

// RegisterName returns the assembly name for a register index.
func RegisterName(idx byte) (string, bool) {
	if int(idx) >= len(registerNames) {
		return "", false
	}
	return registerNames[idx], true
}
