package asm

import "math"

// section tracks which part of the program the analyzer currently
// believes it is in, enforcing that `.data` precedes `.text`.
type section int

const (
	sectionNone section = iota
	sectionData
	sectionText
)

func sectionFromID(id string) (section, bool) {
	switch id {
	case "data", ".data":
		return sectionData, true
	case "text", ".text":
		return sectionText, true
	default:
		return sectionNone, false
	}
}

// Analyzer runs the two-pass validation described in §4.5: a label-
// collection pass followed by a full visit that checks section placement,
// label resolution, directive placement, comptime-only forms, and
// per-instruction argument shape.
type Analyzer struct {
	section section
	labels  map[string]Span

	labelsAnalyzed bool
	comptimeMode   bool

	diags Diagnostics
}

// NewAnalyzer constructs an Analyzer ready to validate one AST.
func NewAnalyzer() *Analyzer {
	return &Analyzer{labels: make(map[string]Span)}
}

// Analyze runs both passes and returns the recorded labels (for the code
// generator to reuse, though codegen recomputes its own label table during
// emission) or a non-empty Diagnostics on failure.
func (a *Analyzer) Analyze(ast []Expression) (map[string]Span, Diagnostics) {
	for _, expr := range ast {
		if ld, ok := expr.(*LabelDef); ok {
			a.visit(ld)
		}
	}
	a.labelsAnalyzed = true

	for _, expr := range ast {
		a.visit(expr)
	}

	if a.diags.HasErrors() {
		return nil, a.diags
	}
	return a.labels, nil
}

func (a *Analyzer) error(d *Diagnostic) {
	a.diags = append(a.diags, d)
}

func (a *Analyzer) visit(expr Expression) {
	switch e := expr.(type) {
	case *SectionDef:
		a.visitSectionDef(e)
	case *EntryDef:
		if _, ok := a.labels[e.Label]; !ok {
			a.error(unknownLabel(e.Label, e.Span()))
		}
	case *LabelDef:
		a.visitLabelDef(e)
	case *Directive:
		a.visitDirective(e)
	case *ComptimeExpr:
		prev := a.comptimeMode
		a.comptimeMode = true
		a.visit(e.Inner)
		a.comptimeMode = prev
	case *Instruction:
		a.visitInstruction(e)
	case *BinaryExpr:
		if !a.comptimeMode {
			a.error(comptimeException("binary expressions are only allowed inside a comptime expression: \"[EXPR]\"", e.Span()))
			return
		}
		a.visit(e.Lhs)
		a.visit(e.Rhs)
	case *StringConstant:
		a.error(notAllowed("string constants are not allowed outside a directive", e.Span()))
	case *AsmReg:
		if a.comptimeMode {
			a.error(comptimeException("registers are unknown at compile time", e.Span()))
		}
	case *LabelRef:
		if _, ok := a.labels[e.Name]; !ok {
			a.error(unknownLabel(e.Name, e.Span()))
		}
	case *CurrentPtr:
		if !a.comptimeMode {
			a.error(comptimeException("the current pointer is only allowed inside a comptime expression: \"[EXPR]\"", e.Span()))
		}
	case *FloatLiteral:
		a.error(invalidArgument("floating point literals cannot be used here; no instruction consumes a float operand", e.Span()))
	case *UIntConstant, *AsmConstant:
		// always valid on their own
	}
}

func (a *Analyzer) visitSectionDef(e *SectionDef) {
	sec, ok := sectionFromID(e.ID)
	if !ok {
		a.error(unknownSection(e.ID, e.Span()))
		return
	}
	if a.section == sectionText {
		a.error(invalidSectionPlacement("section \""+e.ID+"\" must be placed before .text", e.Span()))
		return
	}
	if a.section == sectionNone && sec == sectionText {
		a.error(invalidSectionPlacement("a .data section must precede .text", e.Span()))
		return
	}
	a.section = sec
}

func (a *Analyzer) visitLabelDef(e *LabelDef) {
	if a.labelsAnalyzed {
		return
	}
	if original, ok := a.labels[e.ID]; ok {
		a.error(labelRedefinition(e.ID, e.Span(), original))
		return
	}
	a.labels[e.ID] = e.Span()
}

func (a *Analyzer) visitDirective(e *Directive) {
	switch e.Name {
	case "ascii":
		if a.section != sectionData {
			a.error(invalidDirective(e.Name, "must be placed in the .data section", e.Span()))
		}
	}
}

func isRegister(e Expression) bool {
	_, ok := e.(*AsmReg)
	return ok
}

func isLabelRef(e Expression) bool {
	_, ok := e.(*LabelRef)
	return ok
}

func isUIntConstant(e Expression) bool {
	_, ok := e.(*UIntConstant)
	return ok
}

func isNumberRegisterOrLabel(e Expression) bool {
	return isUIntConstant(e) || isRegister(e) || isLabelRef(e)
}

func (a *Analyzer) assertArg(ok bool, kindName string, got Expression) {
	if !ok {
		a.error(invalidArgument("expected "+kindName, got.Span()))
	}
}

func (a *Analyzer) verifyBound(v *UIntConstant, max uint64, width string) {
	if v.Value > max {
		a.error(invalidArgument("value does not fit in "+width, v.Span()))
	}
}

// visitInstruction checks both the per-instruction argument-kind table and,
// via a.visit on each argument, the generic rules that apply regardless of
// instruction (label references must resolve, registers are comptime-mode
// dependent, and so on) — spec.md is explicit that "every LabelRef" must
// resolve, which includes ones nested in call/jmp targets.
func (a *Analyzer) visitInstruction(e *Instruction) {
	defer func() {
		for _, arg := range e.Args {
			a.visit(arg)
		}
	}()

	switch e.Name {
	case "call":
		a.assertArg(isLabelRef(e.Args[0]), "label", e.Args[0])

	case "int":
		arg := e.Args[0]
		_, isConst := arg.(*UIntConstant)
		_, isNamed := arg.(*AsmConstant)
		a.assertArg(isConst || isNamed, "u8 literal or named constant", arg)
		if c, ok := arg.(*UIntConstant); ok {
			a.verifyBound(c, math.MaxUint8, "u8")
		}

	case "mov":
		dest, src := e.Args[0], e.Args[1]
		if isRegister(dest) {
			if !isNumberRegisterOrLabel(src) {
				a.error(invalidArgument("expected number, register or label", src.Span()))
			}
			return
		}
		if isUIntConstant(dest) || isLabelRef(dest) {
			a.assertArg(isRegister(src), "register", src)
			return
		}
		a.error(invalidArgument("mov destination must be a register or an address", dest.Span()))

	case "push8", "push16", "push32", "push64", "pop8", "pop16", "pop32", "pop64":
		a.assertArg(isRegister(e.Args[0]), "register", e.Args[0])

	case "frame8", "frame16", "frame32", "frame64", "peek8", "peek16", "peek32", "peek64":
		dest, addr := e.Args[0], e.Args[1]
		a.assertArg(isRegister(dest), "register", dest)
		c, ok := addr.(*UIntConstant)
		a.assertArg(ok, "u16 offset", addr)
		if ok {
			a.verifyBound(c, math.MaxUint16, "u16")
		}

	case "add", "sub", "mul", "div", "cmp":
		dest, src := e.Args[0], e.Args[1]
		a.assertArg(isRegister(dest), "register", dest)
		if !isNumberRegisterOrLabel(src) {
			a.error(invalidArgument("expected number, register or label", src.Span()))
		}

	case "xadd":
		a.assertArg(isRegister(e.Args[0]), "register", e.Args[0])
		a.assertArg(isRegister(e.Args[1]), "register", e.Args[1])

	case "jmp", "jz", "jnz":
		a.assertArg(isLabelRef(e.Args[0]), "label", e.Args[0])

	case "je", "jne":
		value, label := e.Args[0], e.Args[1]
		a.assertArg(isUIntConstant(value), "u64 literal", value)
		a.assertArg(isLabelRef(label), "label", label)
	}
}
