package asm

import "fmt"

// Category groups a Diagnostic by pipeline stage, matching the policy table
// in the error handling design: lexical and syntactic and semantic errors
// are batched per compilation rather than aborting on the first one.
type Category int

const (
	CategoryLexical Category = iota
	CategorySyntactic
	CategorySemantic
)

func (c Category) String() string {
	switch c {
	case CategoryLexical:
		return "lexical"
	case CategorySyntactic:
		return "syntactic"
	case CategorySemantic:
		return "semantic"
	default:
		return "unknown"
	}
}

// Diagnostic is a single compile-time error: a category, a human message,
// and the source span the renderer should underline. LabelRedefinition is
// the one diagnostic that needs a second span (the original definition),
// carried in Related.
type Diagnostic struct {
	Category Category
	Message  string
	Span     Span
	Related  *Span
}

func (d *Diagnostic) Error() string {
	return fmt.Sprintf("%s: %s (at %s)", d.Category, d.Message, d.Span)
}

// Diagnostics collects every error surfaced by a single lexer, parser or
// analyzer pass. A non-empty Diagnostics is itself an error, so a stage can
// return (result, Diagnostics) and the caller checks len(diags) == 0.
type Diagnostics []*Diagnostic

func (d Diagnostics) Error() string {
	if len(d) == 1 {
		return d[0].Error()
	}
	return fmt.Sprintf("%d errors, first: %s", len(d), d[0].Error())
}

func (d Diagnostics) HasErrors() bool {
	return len(d) > 0
}

func lexError(msg string, span Span) *Diagnostic {
	return &Diagnostic{Category: CategoryLexical, Message: msg, Span: span}
}

func syntaxError(msg string, span Span) *Diagnostic {
	return &Diagnostic{Category: CategorySyntactic, Message: msg, Span: span}
}

func semanticError(msg string, span Span) *Diagnostic {
	return &Diagnostic{Category: CategorySemantic, Message: msg, Span: span}
}

func unknownCharacterEscape(escape byte, span Span) *Diagnostic {
	return lexError(fmt.Sprintf("unknown character escape '\\%c'", escape), span)
}

func invalidConstant(reason string, span Span) *Diagnostic {
	return lexError(fmt.Sprintf("invalid numeric constant: %s", reason), span)
}

func constantParseError(constType string, cause error, span Span) *Diagnostic {
	return lexError(fmt.Sprintf("failed to parse %s constant: %v", constType, cause), span)
}

func unexpectedToken(expected, found string, span Span) *Diagnostic {
	return syntaxError(fmt.Sprintf("expected %s token, found %s", expected, found), span)
}

func unknownExpression(msg string, span Span) *Diagnostic {
	return syntaxError(msg, span)
}

func unknownSection(name string, span Span) *Diagnostic {
	return semanticError(fmt.Sprintf("section %q is unknown", name), span)
}

func invalidSectionPlacement(msg string, span Span) *Diagnostic {
	return semanticError(msg, span)
}

func labelRedefinition(name string, redefinition, original Span) *Diagnostic {
	return &Diagnostic{
		Category: CategorySemantic,
		Message:  fmt.Sprintf("label %q is already defined", name),
		Span:     redefinition,
		Related:  &original,
	}
}

func unknownLabel(name string, span Span) *Diagnostic {
	return semanticError(fmt.Sprintf("label %q is not defined", name), span)
}

func invalidDirective(name, msg string, span Span) *Diagnostic {
	return semanticError(fmt.Sprintf("directive %q: %s", name, msg), span)
}

func comptimeException(msg string, span Span) *Diagnostic {
	return semanticError(msg, span)
}

func notAllowed(msg string, span Span) *Diagnostic {
	return semanticError(msg, span)
}

func invalidArgument(msg string, span Span) *Diagnostic {
	return semanticError(msg, span)
}
