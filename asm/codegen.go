package asm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/mealet/gvm/vm"
)

const (
	memSizeDefault   = 1024
	stackSizeDefault = 256
)

// label records where a LabelDef was compiled: its pre-split pc and whether
// it was defined inside the data section (data-section labels keep their
// offset through the Phase 2 rebias; everything else shifts by the size of
// the constant pool spliced in ahead of the text section).
type label struct {
	ptr         uint64
	dataSection bool
}

// internedConstant is one entry of the constant pool: a value and the
// width it must be serialized at. Two call sites that need the same value
// at the same width share an entry; call sites that need a wider width
// never collide with one needing the natural-fit width, since the pool key
// is scoped by (value, width) rather than by value alone — see codegen_test.go
// and DESIGN.md's "composite constant-pool key" note for why.
type internedConstant struct {
	width int
	value uint64
}

// Codegen implements the two-phase code generator described in §4.6: a
// streaming Phase 1 emit that leaves zeroed placeholders for anything whose
// final address isn't known yet, followed by a Phase 2 pass that serializes
// the interned constant pool, splits the emitted buffer at the .text
// marker, rebiases every recorded offset, and backpatches the placeholders.
type Codegen struct {
	pc          uint64
	dataSection bool
	release     bool

	labels    map[string]label
	labelRefs map[uint64]string

	constants     map[string]internedConstant
	constantOrder []string
	constantRefs  map[uint64]string

	output []byte
}

// NewCodegen constructs a Codegen. release has no observable effect today —
// §4 defines no debug-only opcodes — but is threaded through now so a
// future debug-opcode-stripping pass has somewhere to read it from.
func NewCodegen(release bool) *Codegen {
	return &Codegen{
		release:      release,
		labels:       make(map[string]label),
		labelRefs:    make(map[uint64]string),
		constants:    make(map[string]internedConstant),
		constantRefs: make(map[uint64]string),
	}
}

// Compile runs Phase 1 over the full AST and then Phase 2, returning the
// final program image (metadata header included) or the first error
// encountered. Callers are expected to have already run the analyzer;
// Compile does not re-validate argument shapes or label existence beyond
// what it needs to resolve its own placeholders.
func (c *Codegen) Compile(ast []Expression) ([]byte, error) {
	for _, expr := range ast {
		if err := c.compileExpr(expr); err != nil {
			return nil, err
		}
	}
	return c.finish()
}

func (c *Codegen) emitByte(b byte) {
	c.output = append(c.output, b)
	c.pc++
}

func (c *Codegen) emitU64(v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	c.output = append(c.output, buf[:]...)
	c.pc += 8
}

func naturalWidth(v uint64) int {
	switch {
	case v <= math.MaxUint8:
		return 1
	case v <= math.MaxUint16:
		return 2
	case v <= math.MaxUint32:
		return 4
	default:
		return 8
	}
}

// compileExpr compiles a top-level AST item; instruction operands go
// through compileOperand directly so they can request a forced minimum
// intern width.
func (c *Codegen) compileExpr(e Expression) error {
	return c.compileOperand(e, 1)
}

// compileOperand dispatches on the node's concrete type. minWidth only
// matters for UIntConstant/AsmConstant operands: it forces the interned
// constant no narrower than the given width, for the Frame*/Peek* and
// Je/Jne operand families whose runtime decode always reads a fixed
// number of bytes regardless of the opcode's own width tag.
func (c *Codegen) compileOperand(e Expression, minWidth int) error {
	switch v := e.(type) {
	case *SectionDef:
		return c.compileSectionDef(v)
	case *EntryDef:
		return c.compileEntryDef(v)
	case *LabelDef:
		c.compileLabelDef(v)
		return nil
	case *Directive:
		return c.compileDirective(v)
	case *ComptimeExpr:
		val, err := c.calculateComptimeExpr(v.Inner)
		if err != nil {
			return err
		}
		c.emitU64(val)
		return nil
	case *Instruction:
		return c.compileInstruction(v)
	case *UIntConstant:
		return c.compileUIntConstant(v.Value, minWidth)
	case *AsmConstant:
		val, ok := namedConstantValues[v.Name]
		if !ok {
			return errors.Errorf("codegen: unknown named constant %q", v.Name)
		}
		return c.compileUIntConstant(val, minWidth)
	case *LabelRef:
		c.emitLabelRef(v.Name)
		return nil
	case *AsmReg:
		idx, _ := vm.RegisterIndex(v.Name)
		c.emitByte(idx)
		return nil
	case *CurrentPtr:
		c.emitU64(c.pc)
		return nil
	default:
		return errors.Errorf("codegen: %T cannot be compiled in this position", e)
	}
}

func (c *Codegen) compileSectionDef(e *SectionDef) error {
	sec, ok := sectionFromID(e.ID)
	if !ok {
		return errors.Errorf("codegen: unknown section %q", e.ID)
	}
	c.dataSection = sec == sectionData
	switch sec {
	case sectionData:
		c.emitByte(byte(vm.OpDataSection))
	case sectionText:
		c.emitByte(0xFF)
		c.emitByte(byte(vm.OpTextSection))
	}
	return nil
}

func (c *Codegen) compileEntryDef(e *EntryDef) error {
	c.emitByte(0xFF)
	c.emitLabelRef(e.Label)
	return nil
}

func (c *Codegen) compileLabelDef(e *LabelDef) {
	c.labels[e.ID] = label{ptr: c.pc, dataSection: c.dataSection}
}

func (c *Codegen) compileDirective(e *Directive) error {
	if e.Name != "ascii" {
		return errors.Errorf("codegen: unsupported directive %q", e.Name)
	}
	str, ok := e.Args[0].(*StringConstant)
	if !ok {
		return errors.Errorf("codegen: ascii directive expects a string argument")
	}
	c.emitU64(c.pc)
	c.output = append(c.output, []byte(str.Value)...)
	c.pc += uint64(len(str.Value))
	return nil
}

func (c *Codegen) emitLabelRef(name string) {
	c.labelRefs[c.pc] = name
	c.emitU64(0)
}

// compileUIntConstant emits the raw 8-byte value inline inside the data
// section, or interns it and emits a zeroed address placeholder inside
// text. The intern key is scoped by (value, width) rather than value
// alone: see internedConstant's doc comment for why.
func (c *Codegen) compileUIntConstant(value uint64, minWidth int) error {
	if c.dataSection {
		c.emitU64(value)
		return nil
	}

	width := naturalWidth(value)
	if width < minWidth {
		width = minWidth
	}

	key := fmt.Sprintf("%d@%d", value, width)
	if _, ok := c.constants[key]; !ok {
		c.constants[key] = internedConstant{width: width, value: value}
		c.constantOrder = append(c.constantOrder, key)
	}
	c.constantRefs[c.pc] = key
	c.emitU64(0)
	return nil
}

// operandWidth determines the width tag an instruction must pick for an
// operand that is not a register: a UIntConstant/AsmConstant uses its
// (possibly forced-minimum) smallest fit, and a LabelRef always forces the
// 64-bit variant since labels address raw 8-byte values.
func operandWidth(e Expression, minWidth int) (int, error) {
	switch v := e.(type) {
	case *UIntConstant:
		w := naturalWidth(v.Value)
		if w < minWidth {
			w = minWidth
		}
		return w, nil
	case *AsmConstant:
		val, ok := namedConstantValues[v.Name]
		if !ok {
			return 0, errors.Errorf("codegen: unknown named constant %q", v.Name)
		}
		w := naturalWidth(val)
		if w < minWidth {
			w = minWidth
		}
		return w, nil
	case *LabelRef:
		return 8, nil
	default:
		return 0, errors.Errorf("codegen: %T has no width-tagged variant", e)
	}
}

var movOpcodes = map[int]vm.Opcode{1: vm.OpMov8, 2: vm.OpMov16, 4: vm.OpMov32, 8: vm.OpMov64}
var movR2MOpcodes = map[int]vm.Opcode{1: vm.OpMovR2M8, 2: vm.OpMovR2M16, 4: vm.OpMovR2M32, 8: vm.OpMovR2M64}

// compileMov implements both directions of `mov`: register destination
// (load) with a register/constant/label source, or an address destination
// (store) with a register source. Either way the wire order is Args[0]
// then Args[1], matching execMov/execMovR2M's fixed decode order.
func (c *Codegen) compileMov(e *Instruction) error {
	dest, src := e.Args[0], e.Args[1]

	if isRegister(dest) {
		if isRegister(src) {
			c.emitByte(byte(vm.OpMovR2R))
		} else {
			w, err := operandWidth(src, 1)
			if err != nil {
				return err
			}
			op, ok := movOpcodes[w]
			if !ok {
				return errors.Errorf("codegen: mov: no opcode for width %d", w)
			}
			c.emitByte(byte(op))
		}
		if err := c.compileOperand(dest, 1); err != nil {
			return err
		}
		return c.compileOperand(src, 1)
	}

	w, err := operandWidth(dest, 1)
	if err != nil {
		return err
	}
	op, ok := movR2MOpcodes[w]
	if !ok {
		return errors.Errorf("codegen: mov: no store opcode for width %d", w)
	}
	c.emitByte(byte(op))
	if err := c.compileOperand(dest, 1); err != nil {
		return err
	}
	return c.compileOperand(src, 1)
}

var arithOpcodes = map[string]map[int]vm.Opcode{
	"add": {1: vm.OpAdd8, 2: vm.OpAdd16, 4: vm.OpAdd32, 8: vm.OpAdd64},
	"sub": {1: vm.OpSub8, 2: vm.OpSub16, 4: vm.OpSub32, 8: vm.OpSub64},
	"mul": {1: vm.OpMul8, 2: vm.OpMul16, 4: vm.OpMul32, 8: vm.OpMul64},
	"div": {1: vm.OpDiv8, 2: vm.OpDiv16, 4: vm.OpDiv32, 8: vm.OpDiv64},
	"cmp": {1: vm.OpCmp8, 2: vm.OpCmp16, 4: vm.OpCmp32, 8: vm.OpCmp64},
}

var arithR2ROpcodes = map[string]vm.Opcode{
	"add": vm.OpAddR2R, "sub": vm.OpSubR2R, "mul": vm.OpMulR2R,
	"div": vm.OpDivR2R, "cmp": vm.OpCmpR2R,
}

// compileArith implements add/sub/mul/div/cmp: dest is always a register,
// the opcode variant is chosen from src (register-to-register, or the
// smallest-fitting/forced-64-bit-for-labels memory-operand variant).
func (c *Codegen) compileArith(e *Instruction) error {
	dest, src := e.Args[0], e.Args[1]

	if isRegister(src) {
		c.emitByte(byte(arithR2ROpcodes[e.Name]))
	} else {
		w, err := operandWidth(src, 1)
		if err != nil {
			return err
		}
		op, ok := arithOpcodes[e.Name][w]
		if !ok {
			return errors.Errorf("codegen: %s: no opcode for width %d", e.Name, w)
		}
		c.emitByte(byte(op))
	}
	if err := c.compileOperand(dest, 1); err != nil {
		return err
	}
	return c.compileOperand(src, 1)
}

var pushPopOpcodes = map[string]vm.Opcode{
	"push8": vm.OpPush8, "push16": vm.OpPush16, "push32": vm.OpPush32, "push64": vm.OpPush64,
	"pop8": vm.OpPop8, "pop16": vm.OpPop16, "pop32": vm.OpPop32, "pop64": vm.OpPop64,
}

var framePeekOpcodes = map[string]vm.Opcode{
	"frame8": vm.OpFrame8, "frame16": vm.OpFrame16, "frame32": vm.OpFrame32, "frame64": vm.OpFrame64,
	"peek8": vm.OpPeek8, "peek16": vm.OpPeek16, "peek32": vm.OpPeek32, "peek64": vm.OpPeek64,
}

// compileInstruction dispatches every mnemonic to its wire encoding. Unlike
// the memory-operand arithmetic family, Push/Pop/Frame/Peek pick their
// opcode directly from the mnemonic's width suffix: these are distinct
// lexer-level instruction names, not a single family with a derived width.
func (c *Codegen) compileInstruction(e *Instruction) error {
	switch e.Name {
	case "halt":
		c.emitByte(byte(vm.OpHalt))
		return nil

	case "ret":
		c.emitByte(byte(vm.OpReturn))
		return nil

	case "call":
		c.emitByte(byte(vm.OpCall))
		return c.compileOperand(e.Args[0], 1)

	case "int":
		c.emitByte(byte(vm.OpInterrupt))
		return c.compileOperand(e.Args[0], 1)

	case "jmp":
		c.emitByte(byte(vm.OpJmp))
		return c.compileOperand(e.Args[0], 1)

	case "jz":
		c.emitByte(byte(vm.OpJz))
		return c.compileOperand(e.Args[0], 1)

	case "jnz":
		c.emitByte(byte(vm.OpJnz))
		return c.compileOperand(e.Args[0], 1)

	case "je", "jne":
		op := vm.OpJe
		if e.Name == "jne" {
			op = vm.OpJne
		}
		c.emitByte(byte(op))
		// value operand must always be readable as a full u64: execValueJump
		// reads it with a fixed-width GetU64 regardless of how narrow the
		// literal itself is.
		if err := c.compileOperand(e.Args[0], 8); err != nil {
			return err
		}
		return c.compileOperand(e.Args[1], 1)

	case "mov":
		return c.compileMov(e)

	case "xadd":
		c.emitByte(byte(vm.OpXAdd))
		if err := c.compileOperand(e.Args[0], 1); err != nil {
			return err
		}
		return c.compileOperand(e.Args[1], 1)

	case "add", "sub", "mul", "div", "cmp":
		return c.compileArith(e)

	case "push8", "push16", "push32", "push64", "pop8", "pop16", "pop32", "pop64":
		op, ok := pushPopOpcodes[e.Name]
		if !ok {
			return errors.Errorf("codegen: unknown instruction %q", e.Name)
		}
		c.emitByte(byte(op))
		return c.compileOperand(e.Args[0], 1)

	case "frame8", "frame16", "frame32", "frame64", "peek8", "peek16", "peek32", "peek64":
		op, ok := framePeekOpcodes[e.Name]
		if !ok {
			return errors.Errorf("codegen: unknown instruction %q", e.Name)
		}
		c.emitByte(byte(op))
		if err := c.compileOperand(e.Args[0], 1); err != nil {
			return err
		}
		// frameOffsetOperand always dereferences the offset as a fixed u16,
		// regardless of the Frame*/Peek* opcode's own width suffix (which
		// governs the width of the value read at the resolved address, not
		// the offset operand itself).
		return c.compileOperand(e.Args[1], 2)

	default:
		return errors.Errorf("codegen: unknown instruction %q", e.Name)
	}
}

// calculateComptimeExpr evaluates the contents of a `[ ... ]` block:
// wrapping arithmetic (Go's native uint64 over/underflow already matches
// the wanted wrapping semantics), modulo-by-zero folding to 0, label
// references resolving to their pre-split pc, and the current emit pc.
func (c *Codegen) calculateComptimeExpr(e Expression) (uint64, error) {
	switch v := e.(type) {
	case *ComptimeExpr:
		return c.calculateComptimeExpr(v.Inner)

	case *BinaryExpr:
		lhs, err := c.calculateComptimeExpr(v.Lhs)
		if err != nil {
			return 0, err
		}
		rhs, err := c.calculateComptimeExpr(v.Rhs)
		if err != nil {
			return 0, err
		}
		switch v.Op {
		case OpAdd:
			return lhs + rhs, nil
		case OpSub:
			return lhs - rhs, nil
		case OpMul:
			return lhs * rhs, nil
		case OpDiv:
			if rhs == 0 {
				return 0, errors.New("codegen: division by zero in comptime expression")
			}
			return lhs / rhs, nil
		case OpMod:
			if rhs == 0 {
				return 0, nil
			}
			return lhs % rhs, nil
		default:
			return 0, errors.Errorf("codegen: unknown comptime operator %d", v.Op)
		}

	case *LabelRef:
		lbl, ok := c.labels[v.Name]
		if !ok {
			return 0, errors.Errorf("codegen: comptime reference to unknown label %q", v.Name)
		}
		return lbl.ptr, nil

	case *UIntConstant:
		return v.Value, nil

	case *AsmConstant:
		val, ok := namedConstantValues[v.Name]
		if !ok {
			return 0, errors.Errorf("codegen: unknown named constant %q", v.Name)
		}
		return val, nil

	case *CurrentPtr:
		return c.pc, nil

	default:
		return 0, errors.Errorf("codegen: %T cannot be evaluated at compile time", e)
	}
}

// serializePool packs every interned constant into one byte block, in
// first-seen insertion order, and records each key's offset within it.
func (c *Codegen) serializePool() ([]byte, map[string]uint64) {
	var pool []byte
	offsets := make(map[string]uint64, len(c.constantOrder))

	for _, key := range c.constantOrder {
		ic := c.constants[key]
		offsets[key] = uint64(len(pool))

		switch ic.width {
		case 1:
			pool = append(pool, byte(ic.value))
		case 2:
			var buf [2]byte
			binary.BigEndian.PutUint16(buf[:], uint16(ic.value))
			pool = append(pool, buf[:]...)
		case 4:
			var buf [4]byte
			binary.BigEndian.PutUint32(buf[:], uint32(ic.value))
			pool = append(pool, buf[:]...)
		default:
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], ic.value)
			pool = append(pool, buf[:]...)
		}
	}
	return pool, offsets
}

func roundUp8(n int) int {
	if rem := n % 8; rem != 0 {
		return n + (8 - rem)
	}
	return n
}

// prependMetadata computes mem_size/stack_size from the final body length
// and prepends the header described in §4.6.
func prependMetadata(body []byte) []byte {
	memSize := roundUp8(len(body) + 128)
	if memSize < memSizeDefault {
		memSize = memSizeDefault
	}
	stackSize := memSize / 4
	if stackSize < stackSizeDefault {
		stackSize = stackSizeDefault
	}

	out := make([]byte, 0, 17+len(body))
	var buf8 [8]byte
	binary.BigEndian.PutUint64(buf8[:], uint64(memSize))
	out = append(out, buf8[:]...)
	binary.BigEndian.PutUint64(buf8[:], uint64(stackSize))
	out = append(out, buf8[:]...)
	out = append(out, 0xFF)
	out = append(out, body...)
	return out
}

// finish runs Phase 2: serialize the constant pool, split the Phase 1
// buffer at the first `0xFF, TextSection` marker, rebias every recorded
// offset by the pool's size, backpatch every placeholder, and prepend the
// metadata header.
func (c *Codegen) finish() ([]byte, error) {
	pool, poolOffsets := c.serializePool()

	marker := []byte{0xFF, byte(vm.OpTextSection)}
	splitAt := bytes.Index(c.output, marker)
	if splitAt < 0 {
		return nil, errors.New("codegen: output never declared a .text section")
	}

	prefixData := c.output[:splitAt]
	textSection := c.output[splitAt:]
	poolLen := uint64(len(pool))

	final := make([]byte, 0, len(prefixData)+len(pool)+len(textSection))
	final = append(final, prefixData...)
	final = append(final, pool...)
	final = append(final, textSection...)

	// c.pc is a single counter running continuously from the very start of
	// the program, so every position recorded during Phase 1 (label ptrs,
	// constant-ref and label-ref placeholder offsets) is already an absolute
	// pre-split offset into c.output, not an offset relative to splitAt. The
	// constant pool is spliced in at splitAt, so anything at or after that
	// point only needs to shift by the pool's size; anything before it (i.e.
	// data-section labels) sits in prefixData and isn't touched by the splice
	// at all. Adding len(prefixData) on top, as a literal reading of
	// "text_offset = len(prefix_data) + pool_size" applied directly to these
	// absolute positions would suggest, double-counts splitAt and walks every
	// placeholder off the end of the buffer.
	rebiasedLabels := make(map[string]uint64, len(c.labels))
	for name, lbl := range c.labels {
		if lbl.dataSection {
			rebiasedLabels[name] = lbl.ptr
		} else {
			rebiasedLabels[name] = lbl.ptr + poolLen
		}
	}

	for pos, key := range c.constantRefs {
		newPos := pos + poolLen
		addr := uint64(len(prefixData)) + poolOffsets[key]
		binary.BigEndian.PutUint64(final[newPos:newPos+8], addr)
	}
	for pos, name := range c.labelRefs {
		// Unlike constantRefs (only ever populated outside the data
		// section, see compileUIntConstant), emitLabelRef runs regardless
		// of c.dataSection: a bare top-level LabelRef is legal inside
		// .data. A placeholder recorded there sits in prefixData, which
		// the splice never shifts, so it must NOT take the +poolLen bump
		// that every placeholder in textSection needs.
		newPos := pos
		if pos >= uint64(splitAt) {
			newPos += poolLen
		}
		addr, ok := rebiasedLabels[name]
		if !ok {
			return nil, errors.Errorf("codegen: reference to unresolved label %q", name)
		}
		binary.BigEndian.PutUint64(final[newPos:newPos+8], addr)
	}

	return prependMetadata(final), nil
}
