package asm

import "fmt"

// Kind classifies a Token. Names match the lexical classes in the assembly
// grammar: instructions, keywords, registers and named constants each get
// their own kind so the parser can dispatch on kind rather than re-parsing
// the lexeme.
type Kind int

const (
	KindUndefined Kind = iota
	KindIdentifier
	KindInstruction
	KindKeyword
	KindLabel
	KindCurrentPtr
	KindConstant
	KindStringConstant
	KindAsmConstant
	KindAsmReg
	KindOperator
	KindComma
	KindLBracket
	KindRBracket
	KindEof
)

func (k Kind) String() string {
	switch k {
	case KindIdentifier:
		return "identifier"
	case KindInstruction:
		return "instruction"
	case KindKeyword:
		return "keyword"
	case KindLabel:
		return "label"
	case KindCurrentPtr:
		return "current-ptr"
	case KindConstant:
		return "constant"
	case KindStringConstant:
		return "string"
	case KindAsmConstant:
		return "asm-constant"
	case KindAsmReg:
		return "register"
	case KindOperator:
		return "operator"
	case KindComma:
		return "comma"
	case KindLBracket:
		return "["
	case KindRBracket:
		return "]"
	case KindEof:
		return "eof"
	default:
		return "undefined"
	}
}

// Span is a byte offset and length into the source buffer. It survives
// past the token it was read from so the analyzer and renderer can point
// at the same range without re-deriving it.
type Span struct {
	Offset int
	Length int
}

func (s Span) String() string {
	return fmt.Sprintf("%d..%d", s.Offset, s.Offset+s.Length)
}

// Token is the lexer's sole output unit: a classified lexeme plus its
// source span. Numeric tokens additionally carry their parsed value so the
// parser never re-parses lexeme text.
type Token struct {
	Kind   Kind
	Lexeme string
	Span   Span

	// Value holds the parsed numeric value for KindConstant tokens. IsFloat
	// distinguishes a float literal (accepted by the lexer but consumed by
	// no runtime instruction) from an integer one; FloatValue is only
	// meaningful when IsFloat is true.
	Value      uint64
	IsFloat    bool
	FloatValue float64
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q)@%s", t.Kind, t.Lexeme, t.Span)
}

// instructionSet is the closed set of instruction mnemonics recognized by
// the lexer, keyed by lexeme. Mnemonics are matched case-sensitively, and
// the width-tagged families are spelled out individually since the lexer
// has no notion of "family" — only the parser and analyzer reason about
// shared argument tables across a family.
var instructionSet = map[string]bool{
	"halt": true, "ret": true,
	"call": true, "int": true,
	"jmp": true, "jz": true, "jnz": true,
	"je": true, "jne": true,
	"mov": true,
	"add": true, "xadd": true,
	"sub": true, "mul": true, "div": true,
	"cmp": true,
}

func init() {
	for _, w := range []string{"8", "16", "32", "64"} {
		instructionSet["push"+w] = true
		instructionSet["pop"+w] = true
		instructionSet["frame"+w] = true
		instructionSet["peek"+w] = true
	}
}

// keywordSet is the closed set of statement-leading keywords.
var keywordSet = map[string]bool{
	"section": true,
	"entry":   true,
	"ascii":   true,
}

// registerSet is the closed set of names valid after a `%` sigil.
var registerSet = map[string]bool{
	"r0": true, "r1": true, "r2": true, "r3": true, "r4": true,
	"r5": true, "r6": true, "r7": true, "r8": true,
	"call": true, "accumulator": true, "instruction_ptr": true,
	"stack_ptr": true, "frame_ptr": true, "mem_ptr": true,
}

// namedConstantSet is the closed set of names valid after a `$` sigil that
// are not themselves numeric literals.
var namedConstantSet = map[string]bool{
	"syscall": true, "int_syscall": true, "int_accinc": true,
	"sys_exit": true, "sys_read": true, "sys_write": true,
	"sys_alloc": true, "sys_free": true,
}

// namedConstantValues maps a named constant to the u64 codegen expands it
// to.
var namedConstantValues = map[string]uint64{
	"syscall": 80, "int_syscall": 80, "int_accinc": 0,
	"sys_exit": 0, "sys_read": 1, "sys_write": 2,
	"sys_alloc": 3, "sys_free": 4,
}
