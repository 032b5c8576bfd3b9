package asm

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mealet/gvm/vm"
)

// parseSrc lexes and parses src without running the analyzer, mirroring how
// the codegen unit tests exercise individual AST fragments in isolation.
func parseSrc(t *testing.T, src string) []Expression {
	t.Helper()
	tokens, diags := NewLexer([]byte(src)).Lex()
	require.False(t, diags.HasErrors(), "lex diagnostics: %v", diags)
	ast, diags := NewParser(tokens).Parse()
	require.False(t, diags.HasErrors(), "parse diagnostics: %v", diags)
	return ast
}

// compileSrc runs the full pipeline (lex, parse, analyze, codegen) and
// requires every stage to succeed, returning the final program image.
func compileSrc(t *testing.T, src string) []byte {
	t.Helper()
	tokens, diags := NewLexer([]byte(src)).Lex()
	require.False(t, diags.HasErrors(), "lex diagnostics: %v", diags)
	ast, diags := NewParser(tokens).Parse()
	require.False(t, diags.HasErrors(), "parse diagnostics: %v", diags)
	_, diags = NewAnalyzer().Analyze(ast)
	require.False(t, diags.HasErrors(), "analyze diagnostics: %v", diags)
	out, err := NewCodegen(false).Compile(ast)
	require.NoError(t, err)
	return out
}

func be64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func TestCodegenLabelDef(t *testing.T) {
	ast := parseSrc(t, "label_def:")
	c := NewCodegen(false)
	require.NoError(t, c.compileExpr(ast[0]))

	require.Equal(t, label{ptr: 0, dataSection: false}, c.labels["label_def"])
	require.EqualValues(t, 0, c.pc)
	require.Empty(t, c.output)
}

func TestCodegenLabelRef(t *testing.T) {
	ast := parseSrc(t, "label: label")
	c := NewCodegen(false)
	require.NoError(t, c.compileExpr(ast[0]))
	require.NoError(t, c.compileExpr(ast[1]))

	require.Equal(t, label{ptr: 0, dataSection: false}, c.labels["label"])
	require.EqualValues(t, 8, c.pc)
	require.Equal(t, make([]byte, 8), c.output)
	require.Equal(t, "label", c.labelRefs[0])
}

func TestCodegenEntryDef(t *testing.T) {
	ast := parseSrc(t, "entry _start")
	c := NewCodegen(false)
	require.NoError(t, c.compileExpr(ast[0]))

	require.Equal(t, "_start", c.labelRefs[1])
	require.EqualValues(t, 9, c.pc)
	require.Equal(t, append([]byte{0xFF}, make([]byte, 8)...), c.output)
}

func TestCodegenConstant(t *testing.T) {
	ast := parseSrc(t, "$123")
	c := NewCodegen(false)
	require.NoError(t, c.compileExpr(ast[0]))

	require.Equal(t, internedConstant{width: 1, value: 123}, c.constants["123@1"])
	require.Equal(t, "123@1", c.constantRefs[0])
	require.EqualValues(t, 8, c.pc)
}

func TestCodegenConstantInDataSectionIsRaw(t *testing.T) {
	ast := parseSrc(t, "section .data\n$5\n")
	c := NewCodegen(false)
	for _, e := range ast {
		require.NoError(t, c.compileExpr(e))
	}
	require.Empty(t, c.constants)
	require.Equal(t, be64(5), c.output[1:])
}

func TestCodegenAsmConstantExpandsToSyntheticUintConstant(t *testing.T) {
	ast := parseSrc(t, "int $syscall")
	c := NewCodegen(false)
	require.NoError(t, c.compileExpr(ast[0]))

	require.Equal(t, byte(vm.OpInterrupt), c.output[0])
	require.Equal(t, internedConstant{width: 1, value: 80}, c.constants["80@1"])
	require.Equal(t, "80@1", c.constantRefs[1])
}

func TestCodegenAsmRegs(t *testing.T) {
	ast := parseSrc(t, "section .data\nsection .text\nmov %r0, %r1\n")
	c := NewCodegen(false)
	for _, e := range ast {
		require.NoError(t, c.compileExpr(e))
	}
	idx, ok := vm.RegisterIndex("r0")
	require.True(t, ok)
	require.Contains(t, c.output, idx)
}

func TestCodegenComptimeExpr(t *testing.T) {
	ast := parseSrc(t, "[$2 + $3 * $4]")
	c := NewCodegen(false)
	require.NoError(t, c.compileExpr(ast[0]))
	require.Equal(t, be64(14), c.output)
}

func TestCodegenComptimeWithCurrentPtr(t *testing.T) {
	ast := parseSrc(t, "[. + $1]")
	c := NewCodegen(false)
	c.pc = 5
	require.NoError(t, c.compileExpr(ast[0]))
	require.Equal(t, be64(6), c.output)
}

func TestCodegenComptimeWithLabelExpr(t *testing.T) {
	ast := parseSrc(t, "label: [label + $1]")
	c := NewCodegen(false)
	require.NoError(t, c.compileExpr(ast[0]))
	require.NoError(t, c.compileExpr(ast[1]))
	require.Equal(t, be64(1), c.output)
}

func TestCodegenComptimeModuloByZeroYieldsZero(t *testing.T) {
	ast := parseSrc(t, "[$5 % $0]")
	c := NewCodegen(false)
	require.NoError(t, c.compileExpr(ast[0]))
	require.Equal(t, be64(0), c.output)
}

func TestCodegenMovLoadImmediate(t *testing.T) {
	ast := parseSrc(t, "mov %r0, $123")
	c := NewCodegen(false)
	require.NoError(t, c.compileExpr(ast[0]))

	regIdx, _ := vm.RegisterIndex("r0")
	expected := append([]byte{byte(vm.OpMov8), regIdx}, make([]byte, 8)...)
	require.Equal(t, expected, c.output)
	require.EqualValues(t, 10, c.pc)
	require.Equal(t, "123@1", c.constantRefs[2])
}

func TestCodegenMovR2R(t *testing.T) {
	ast := parseSrc(t, "mov %r0, %r1")
	c := NewCodegen(false)
	require.NoError(t, c.compileExpr(ast[0]))

	r0, _ := vm.RegisterIndex("r0")
	r1, _ := vm.RegisterIndex("r1")
	require.Equal(t, []byte{byte(vm.OpMovR2R), r0, r1}, c.output)
}

func TestCodegenMovStoreToAddress(t *testing.T) {
	ast := parseSrc(t, "mov $16, %r0")
	c := NewCodegen(false)
	require.NoError(t, c.compileExpr(ast[0]))

	require.Equal(t, byte(vm.OpMovR2M8), c.output[0])
	require.Equal(t, internedConstant{width: 1, value: 16}, c.constants["16@1"])
}

func TestCodegenArithMemOperand(t *testing.T) {
	ast := parseSrc(t, "add %r0, $5")
	c := NewCodegen(false)
	require.NoError(t, c.compileExpr(ast[0]))

	r0, _ := vm.RegisterIndex("r0")
	require.Equal(t, byte(vm.OpAdd8), c.output[0])
	require.Equal(t, r0, c.output[1])
	require.Equal(t, internedConstant{width: 1, value: 5}, c.constants["5@1"])
}

func TestCodegenArithR2R(t *testing.T) {
	ast := parseSrc(t, "add %r0, %r1")
	c := NewCodegen(false)
	require.NoError(t, c.compileExpr(ast[0]))
	require.Equal(t, byte(vm.OpAddR2R), c.output[0])
}

func TestCodegenArithLabelOperandForces64Bit(t *testing.T) {
	ast := parseSrc(t, "target: add %r0, target\n")
	c := NewCodegen(false)
	require.NoError(t, c.compileExpr(ast[0]))
	require.NoError(t, c.compileExpr(ast[1]))
	require.Equal(t, byte(vm.OpAdd64), c.output[0])
}

func TestCodegenXAdd(t *testing.T) {
	ast := parseSrc(t, "xadd %r0, %r1")
	c := NewCodegen(false)
	require.NoError(t, c.compileExpr(ast[0]))
	r0, _ := vm.RegisterIndex("r0")
	r1, _ := vm.RegisterIndex("r1")
	require.Equal(t, []byte{byte(vm.OpXAdd), r0, r1}, c.output)
}

func TestCodegenPushPop(t *testing.T) {
	ast := parseSrc(t, "push16 %r0\npop16 %r0\n")
	c := NewCodegen(false)
	for _, e := range ast {
		require.NoError(t, c.compileExpr(e))
	}
	r0, _ := vm.RegisterIndex("r0")
	require.Equal(t, []byte{byte(vm.OpPush16), r0, byte(vm.OpPop16), r0}, c.output)
}

func TestCodegenFramePeekForceU16OffsetWidth(t *testing.T) {
	ast := parseSrc(t, "frame8 %r0, $1\n")
	c := NewCodegen(false)
	require.NoError(t, c.compileExpr(ast[0]))
	require.Equal(t, internedConstant{width: 2, value: 1}, c.constants["1@2"])
}

func TestCodegenJeForcesU64ValueWidth(t *testing.T) {
	ast := parseSrc(t, "target:\nje $1, target\n")
	c := NewCodegen(false)
	require.NoError(t, c.compileExpr(ast[0]))
	require.NoError(t, c.compileExpr(ast[1]))
	require.Equal(t, byte(vm.OpJe), c.output[0])
	require.Equal(t, internedConstant{width: 8, value: 1}, c.constants["1@8"])
}

func TestCodegenSharedValueDifferentFamiliesDoNotAlias(t *testing.T) {
	// The same literal "1" is used once as a generic add operand (natural
	// U8 fit) and once as a frame offset (forced U16): they must not share
	// a pool slot, or the Add8 instruction would read back only half of
	// the wider entry.
	ast := parseSrc(t, "add %r0, $1\nframe8 %r0, $1\n")
	c := NewCodegen(false)
	for _, e := range ast {
		require.NoError(t, c.compileExpr(e))
	}
	require.Equal(t, internedConstant{width: 1, value: 1}, c.constants["1@1"])
	require.Equal(t, internedConstant{width: 2, value: 1}, c.constants["1@2"])
	require.Len(t, c.constantOrder, 2)
}

func TestCodegenJmpFamily(t *testing.T) {
	ast := parseSrc(t, "target:\njmp target\njz target\njnz target\n")
	c := NewCodegen(false)
	for _, e := range ast {
		require.NoError(t, c.compileExpr(e))
	}
	require.Equal(t, byte(vm.OpJmp), c.output[0])
}

func TestCodegenCallAndReturn(t *testing.T) {
	ast := parseSrc(t, "target:\ncall target\nret\n")
	c := NewCodegen(false)
	for _, e := range ast {
		require.NoError(t, c.compileExpr(e))
	}
	require.Equal(t, byte(vm.OpCall), c.output[0])
	require.Equal(t, byte(vm.OpReturn), c.output[len(c.output)-1])
}

func TestCodegenHalt(t *testing.T) {
	ast := parseSrc(t, "halt")
	c := NewCodegen(false)
	require.NoError(t, c.compileExpr(ast[0]))
	require.Equal(t, []byte{byte(vm.OpHalt)}, c.output)
}

// --- End-to-end: metadata header, split/rewire, and execution shape ---

func TestCompileEndToEndMinimalProgram(t *testing.T) {
	out := compileSrc(t, "section .data\nsection .text\n_start:\nhalt\n")

	memSize := binary.BigEndian.Uint64(out[0:8])
	stackSize := binary.BigEndian.Uint64(out[8:16])
	require.EqualValues(t, memSizeDefault, memSize)
	require.EqualValues(t, stackSizeDefault, stackSize)
	require.Equal(t, byte(0xFF), out[16])

	body := out[17:]
	require.Equal(t, byte(vm.OpDataSection), body[0])
	require.Equal(t, byte(0xFF), body[1])
	require.Equal(t, byte(vm.OpTextSection), body[2])
	require.Equal(t, byte(vm.OpHalt), body[len(body)-1])
}

func TestCompileEntryPrefixAddressesResolvedLabel(t *testing.T) {
	out := compileSrc(t, "section .data\nsection .text\nentry _start\n_start:\nhalt\n")
	body := out[17:]

	// body = DataSection, 0xFF, TextSection, 0xFF, <addr:8>, Halt
	require.Equal(t, byte(0xFF), body[3])
	addr := binary.BigEndian.Uint64(body[4:12])
	require.EqualValues(t, len(body)-1, addr)
	require.Equal(t, byte(vm.OpHalt), body[addr])
}

func TestCompileConstantPoolIsDeterministic(t *testing.T) {
	src := "section .data\nsection .text\nmov %r0, $7\nmov %r1, $3\nmov %r2, $99\nhalt\n"
	first := compileSrc(t, src)
	second := compileSrc(t, src)
	require.Equal(t, first, second)
}

func TestCompileDataLabelKeepsOriginalOffsetAfterSplit(t *testing.T) {
	out := compileSrc(t, "section .data\nval: $42\nsection .text\nmov %r0, val\nhalt\n")
	body := out[17:]

	// "val" lives at data-section offset 1 (right after the DataSection
	// opcode byte) and must NOT be shifted by the pool's insertion.
	require.Equal(t, byte(vm.OpDataSection), body[0])
	valBytes := body[1:9]
	require.Equal(t, be64(42), valBytes)

	regIdx, _ := vm.RegisterIndex("r0")
	movIdx := indexOf(body, []byte{byte(vm.OpMov64), regIdx})
	require.GreaterOrEqual(t, movIdx, 0)
	addr := binary.BigEndian.Uint64(body[movIdx+2 : movIdx+10])
	require.EqualValues(t, 1, addr)
}

func TestCompileDataSectionLabelRefUnshiftedWithNonemptyPool(t *testing.T) {
	// "ptr" is a bare top-level LabelRef living in .data (legal per
	// parser.go's parseItem), pointing at "other", also defined in .data.
	// Both placeholder and target sit in prefixData, which Phase 2's
	// splice never shifts. The .text mov interning constant 7 guarantees
	// poolLen > 0, so a rebias that blindly adds poolLen to every
	// labelRefs position (instead of only the ones at or after splitAt)
	// would walk this placeholder into the constant pool's own bytes.
	out := compileSrc(t, "section .data\nptr: other\nother:\nsection .text\nmov %r0, $7\nhalt\n")
	body := out[17:]

	require.Equal(t, byte(vm.OpDataSection), body[0])
	ptrAddr := binary.BigEndian.Uint64(body[1:9])
	require.EqualValues(t, 9, ptrAddr, "ptr must resolve to other's own unshifted data-section offset")

	regIdx, _ := vm.RegisterIndex("r0")
	movIdx := indexOf(body, []byte{byte(vm.OpMov8), regIdx})
	require.GreaterOrEqual(t, movIdx, 0)
	constAddr := binary.BigEndian.Uint64(body[movIdx+2 : movIdx+10])
	require.Equal(t, byte(7), body[constAddr], "interned constant 7 must survive uncorrupted")
}

func TestCompileAsciiDirectiveEmitsSelfAddressPrefix(t *testing.T) {
	out := compileSrc(t, "section .data\nascii \"hi\"\nsection .text\nhalt\n")
	body := out[17:]

	// "ascii" is the only content after the 1-byte DataSection opcode, so
	// its self-referential pc prefix is exactly 1.
	prefix := binary.BigEndian.Uint64(body[1:9])
	require.EqualValues(t, 1, prefix)
	require.Equal(t, "hi", string(body[9:11]))
}

func indexOf(haystack, needle []byte) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
