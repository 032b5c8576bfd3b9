package asm

// arity0 takes no arguments, arity1 one, arity2 two (with a required
// comma between them). Spelled out per §4.4 rather than derived from the
// instruction set table, since arity is a parser concern and the table in
// token.go only needs to know a mnemonic is *an* instruction.
var arity0 = map[string]bool{"halt": true, "ret": true}

var arity1 = map[string]bool{
	"call": true, "int": true, "jmp": true, "jz": true, "jnz": true,
	"push8": true, "push16": true, "push32": true, "push64": true,
	"pop8": true, "pop16": true, "pop32": true, "pop64": true,
}

var arity2 = map[string]bool{
	"mov": true, "add": true, "xadd": true, "sub": true, "mul": true,
	"div": true, "cmp": true, "je": true, "jne": true,
	"frame8": true, "frame16": true, "frame32": true, "frame64": true,
	"peek8": true, "peek16": true, "peek32": true, "peek64": true,
}

// Parser is a recursive-descent parser over a token slice produced by
// Lexer.Lex. Like the lexer, it batches diagnostics rather than aborting on
// the first malformed statement.
type Parser struct {
	tokens []Token
	pos    int
	diags  Diagnostics
}

// NewParser constructs a Parser over a token stream.
func NewParser(tokens []Token) *Parser {
	return &Parser{tokens: tokens}
}

// Parse consumes the token stream and returns the full AST, or a non-empty
// Diagnostics on failure.
func (p *Parser) Parse() ([]Expression, Diagnostics) {
	var items []Expression
	for !p.atEOF() {
		item, ok := p.parseItem()
		if ok {
			items = append(items, item)
		}
	}
	if p.diags.HasErrors() {
		return nil, p.diags
	}
	return items, nil
}

func (p *Parser) atEOF() bool {
	return p.peek().Kind == KindEof
}

func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Kind: KindEof}
	}
	return p.tokens[p.pos]
}

func (p *Parser) advance() Token {
	tok := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

func (p *Parser) expect(kind Kind) (Token, bool) {
	tok := p.peek()
	if tok.Kind != kind {
		p.diags = append(p.diags, unexpectedToken(kind.String(), tok.Kind.String(), tok.Span))
		return tok, false
	}
	return p.advance(), true
}

// parseItem parses one top-level statement. On a malformed statement it
// records a diagnostic and advances at least one token so the loop in
// Parse always makes progress.
func (p *Parser) parseItem() (Expression, bool) {
	tok := p.peek()

	switch tok.Kind {
	case KindLabel:
		p.advance()
		return newLabelDef(tok.Span, tok.Lexeme), true

	case KindKeyword:
		switch tok.Lexeme {
		case "section":
			return p.parseSection()
		case "entry":
			return p.parseEntry()
		case "ascii":
			return p.parseAsciiDirective()
		}

	case KindInstruction:
		return p.parseInstruction()
	}

	// Bare expressions (numeric/named constants, label references, comptime
	// brackets) are valid top-level items in their own right: a `.data`
	// section is just a sequence of these, not instruction arguments.
	switch tok.Kind {
	case KindConstant, KindAsmConstant, KindIdentifier, KindLBracket, KindStringConstant:
		return p.parseArg()
	}

	p.diags = append(p.diags, unknownExpression("unexpected token at top level: "+tok.Kind.String(), tok.Span))
	p.advance()
	return nil, false
}

func (p *Parser) parseSection() (Expression, bool) {
	start := p.advance() // 'section'
	id, ok := p.expect(KindIdentifier)
	if !ok {
		return nil, false
	}
	span := Span{Offset: start.Span.Offset, Length: id.Span.Offset + id.Span.Length - start.Span.Offset}
	return newSectionDef(span, id.Lexeme), true
}

func (p *Parser) parseEntry() (Expression, bool) {
	start := p.advance() // 'entry'
	name, ok := p.expect(KindIdentifier)
	if !ok {
		return nil, false
	}
	span := Span{Offset: start.Span.Offset, Length: name.Span.Offset + name.Span.Length - start.Span.Offset}
	return newEntryDef(span, name.Lexeme), true
}

func (p *Parser) parseAsciiDirective() (Expression, bool) {
	start := p.advance() // 'ascii'
	str, ok := p.expect(KindStringConstant)
	if !ok {
		return nil, false
	}
	span := Span{Offset: start.Span.Offset, Length: str.Span.Offset + str.Span.Length - start.Span.Offset}
	return newDirective(span, "ascii", []Expression{newStringConstant(str.Span, str.Lexeme)}), true
}

func (p *Parser) parseInstruction() (Expression, bool) {
	name := p.advance()

	var args []Expression
	switch {
	case arity0[name.Lexeme]:
		// no arguments

	case arity1[name.Lexeme]:
		arg, ok := p.parseArg()
		if !ok {
			return nil, false
		}
		args = []Expression{arg}

	case arity2[name.Lexeme]:
		first, ok := p.parseArg()
		if !ok {
			return nil, false
		}
		if _, ok := p.expect(KindComma); !ok {
			return nil, false
		}
		second, ok := p.parseArg()
		if !ok {
			return nil, false
		}
		args = []Expression{first, second}

	default:
		p.diags = append(p.diags, unknownExpression("unknown instruction arity for "+name.Lexeme, name.Span))
		return nil, false
	}

	end := name.Span
	if len(args) > 0 {
		last := args[len(args)-1].Span()
		end = Span{Offset: name.Span.Offset, Length: last.Offset + last.Length - name.Span.Offset}
	}
	return newInstruction(end, name.Lexeme, args), true
}

// parseArg parses a single instruction argument: a register, a constant
// (numeric or named), a label reference, or a comptime expression.
func (p *Parser) parseArg() (Expression, bool) {
	tok := p.peek()
	switch tok.Kind {
	case KindAsmReg:
		p.advance()
		return newAsmReg(tok.Span, tok.Lexeme), true
	case KindConstant:
		p.advance()
		if tok.IsFloat {
			return newFloatLiteral(tok.Span, tok.FloatValue), true
		}
		return newUIntConstant(tok.Span, tok.Value), true
	case KindAsmConstant:
		p.advance()
		return newAsmConstant(tok.Span, tok.Lexeme), true
	case KindIdentifier:
		p.advance()
		return newLabelRef(tok.Span, tok.Lexeme), true
	case KindStringConstant:
		p.advance()
		return newStringConstant(tok.Span, tok.Lexeme), true
	case KindLBracket:
		return p.parseComptime()
	default:
		p.diags = append(p.diags, unknownExpression("unexpected token as instruction argument: "+tok.Kind.String(), tok.Span))
		p.advance()
		return nil, false
	}
}

func (p *Parser) parseComptime() (Expression, bool) {
	open := p.advance() // '['
	inner, ok := p.parseComptimeExpr()
	if !ok {
		return nil, false
	}
	closeTok, ok := p.expect(KindRBracket)
	if !ok {
		return nil, false
	}
	span := Span{Offset: open.Span.Offset, Length: closeTok.Span.Offset + closeTok.Span.Length - open.Span.Offset}
	return newComptimeExpr(span, inner), true
}

// parseComptimeExpr implements the +/- level; parseComptimeTerm implements
// the tighter */%  level, matching §4.4's stated precedence.
func (p *Parser) parseComptimeExpr() (Expression, bool) {
	lhs, ok := p.parseComptimeTerm()
	if !ok {
		return nil, false
	}
	for p.peek().Kind == KindOperator && (p.peek().Lexeme == "+" || p.peek().Lexeme == "-") {
		opTok := p.advance()
		rhs, ok := p.parseComptimeTerm()
		if !ok {
			return nil, false
		}
		op := OpAdd
		if opTok.Lexeme == "-" {
			op = OpSub
		}
		span := Span{Offset: lhs.Span().Offset, Length: rhs.Span().Offset + rhs.Span().Length - lhs.Span().Offset}
		lhs = newBinaryExpr(span, op, lhs, rhs)
	}
	return lhs, true
}

func (p *Parser) parseComptimeTerm() (Expression, bool) {
	lhs, ok := p.parseComptimeFactor()
	if !ok {
		return nil, false
	}
	for p.peek().Kind == KindOperator && (p.peek().Lexeme == "*" || p.peek().Lexeme == "/" || p.peek().Lexeme == "%") {
		opTok := p.advance()
		rhs, ok := p.parseComptimeFactor()
		if !ok {
			return nil, false
		}
		var op BinaryOp
		switch opTok.Lexeme {
		case "*":
			op = OpMul
		case "/":
			op = OpDiv
		default:
			op = OpMod
		}
		span := Span{Offset: lhs.Span().Offset, Length: rhs.Span().Offset + rhs.Span().Length - lhs.Span().Offset}
		lhs = newBinaryExpr(span, op, lhs, rhs)
	}
	return lhs, true
}

// parseComptimeFactor parses a single term: a constant, a label reference,
// or the current-pointer token. A register is also accepted here so the
// analyzer can reject it with its own diagnostic.
func (p *Parser) parseComptimeFactor() (Expression, bool) {
	tok := p.peek()
	switch tok.Kind {
	case KindConstant:
		p.advance()
		if tok.IsFloat {
			return newFloatLiteral(tok.Span, tok.FloatValue), true
		}
		return newUIntConstant(tok.Span, tok.Value), true
	case KindAsmConstant:
		p.advance()
		return newAsmConstant(tok.Span, tok.Lexeme), true
	case KindIdentifier:
		p.advance()
		return newLabelRef(tok.Span, tok.Lexeme), true
	case KindCurrentPtr:
		p.advance()
		return newCurrentPtr(tok.Span), true
	case KindAsmReg:
		p.advance()
		return newAsmReg(tok.Span, tok.Lexeme), true
	default:
		p.diags = append(p.diags, unknownExpression("unexpected token inside comptime expression: "+tok.Kind.String(), tok.Span))
		p.advance()
		return nil, false
	}
}
