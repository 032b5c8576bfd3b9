package asm

// Expression is the tagged-union AST node. Every concrete node embeds a
// Span so the analyzer and code generator can report positions without
// threading a separate lookup table alongside the tree.
type Expression interface {
	Span() Span
}

type base struct {
	span Span
}

func (b base) Span() Span { return b.span }

// SectionDef is `section .data` / `section .text`.
type SectionDef struct {
	base
	ID string
}

// EntryDef is `entry NAME`.
type EntryDef struct {
	base
	Label string
}

// LabelDef is `NAME:`.
type LabelDef struct {
	base
	ID string
}

// Directive is `ascii "..."` (the only directive today).
type Directive struct {
	base
	Name string
	Args []Expression
}

// ComptimeExpr is the `[ ... ]` form; Inner is evaluated at codegen time.
type ComptimeExpr struct {
	base
	Inner Expression
}

// Instruction is a mnemonic plus its fixed-arity argument list.
type Instruction struct {
	base
	Name string
	Args []Expression
}

// BinaryOp enumerates the five comptime arithmetic operators.
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
)

// BinaryExpr is only ever reached from inside a ComptimeExpr.
type BinaryExpr struct {
	base
	Op       BinaryOp
	Lhs, Rhs Expression
}

// UIntConstant is a numeric literal; only valid outside comptime mode as an
// instruction argument or ascii-adjacent value, and inside comptime as a
// term.
type UIntConstant struct {
	base
	Value uint64
}

// StringConstant may appear only as a directive argument.
type StringConstant struct {
	base
	Value string
}

// AsmConstant is a named constant after `$` (e.g. $syscall).
type AsmConstant struct {
	base
	Name string
}

// AsmReg is a register name after `%`; forbidden inside comptime.
type AsmReg struct {
	base
	Name string
}

// LabelRef is a bare identifier used as a label reference (jump/call
// target, entry target, or comptime term).
type LabelRef struct {
	base
	Name string
}

// CurrentPtr is the `.` token inside a comptime expression, evaluating to
// the current emit program counter.
type CurrentPtr struct {
	base
}

// FloatLiteral represents a float-shaped numeric token. The lexer accepts
// float literals (§4.3) but no instruction or comptime operator consumes
// one; it exists solely so the analyzer can reject its use with a precise
// span instead of the parser silently truncating it to an integer.
type FloatLiteral struct {
	base
	Value float64
}

func newSectionDef(span Span, id string) *SectionDef   { return &SectionDef{base{span}, id} }
func newEntryDef(span Span, label string) *EntryDef     { return &EntryDef{base{span}, label} }
func newLabelDef(span Span, id string) *LabelDef         { return &LabelDef{base{span}, id} }
func newDirective(span Span, name string, args []Expression) *Directive {
	return &Directive{base{span}, name, args}
}
func newComptimeExpr(span Span, inner Expression) *ComptimeExpr {
	return &ComptimeExpr{base{span}, inner}
}
func newInstruction(span Span, name string, args []Expression) *Instruction {
	return &Instruction{base{span}, name, args}
}
func newBinaryExpr(span Span, op BinaryOp, lhs, rhs Expression) *BinaryExpr {
	return &BinaryExpr{base{span}, op, lhs, rhs}
}
func newUIntConstant(span Span, v uint64) *UIntConstant { return &UIntConstant{base{span}, v} }
func newStringConstant(span Span, s string) *StringConstant {
	return &StringConstant{base{span}, s}
}
func newAsmConstant(span Span, name string) *AsmConstant { return &AsmConstant{base{span}, name} }
func newAsmReg(span Span, name string) *AsmReg           { return &AsmReg{base{span}, name} }
func newLabelRef(span Span, name string) *LabelRef       { return &LabelRef{base{span}, name} }
func newCurrentPtr(span Span) *CurrentPtr                { return &CurrentPtr{base{span}} }
func newFloatLiteral(span Span, v float64) *FloatLiteral { return &FloatLiteral{base{span}, v} }
