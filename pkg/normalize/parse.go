package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ParseLine parses one canonical-form line back into a statement. It is
// the inverse of Render for simple statements, and exists so override
// rules can substitute new text for a normalized line.
func ParseLine(line string) (Statement, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return &CommentStatement{Text: ""}, nil
	}
	if strings.HasPrefix(trimmed, "#") {
		return &CommentStatement{Text: strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))}, nil
	}

	p := &lineParser{tokens: lex(trimmed)}
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, fmt.Errorf("normalize: parse %q: %w", line, err)
	}
	return stmt, nil
}

// ParseExpr parses a single expression in the normalized mini-language.
func ParseExpr(text string) (Expr, error) {
	p := &lineParser{tokens: lex(strings.TrimSpace(text))}
	expr, err := p.parseTernary()
	if err != nil {
		return nil, fmt.Errorf("normalize: parse expression %q: %w", text, err)
	}
	if !p.atEnd() {
		return nil, fmt.Errorf("normalize: parse expression %q: trailing %q", text, p.peek().text)
	}
	return expr, nil
}

type tokenKind int

const (
	tokenIdent tokenKind = iota
	tokenNumber
	tokenString
	tokenPunct
	tokenBad
	tokenEOF
)

type token struct {
	kind tokenKind
	text string
}

var twoCharOps = map[string]struct{}{
	"&&": {}, "||": {}, "==": {}, "!=": {}, "<=": {}, ">=": {}, "<<": {}, ">>": {},
}

func lex(input string) []token {
	var tokens []token
	runes := []rune(input)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			tokens = append(tokens, token{kind: tokenIdent, text: string(runes[start:i])})
		case unicode.IsDigit(r):
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			tokens = append(tokens, token{kind: tokenNumber, text: string(runes[start:i])})
		case r == '"':
			start := i
			i++
			for i < len(runes) && runes[i] != '"' {
				if runes[i] == '\\' && i+1 < len(runes) {
					i++
				}
				i++
			}
			if i >= len(runes) {
				tokens = append(tokens, token{kind: tokenBad, text: string(runes[start:])})
				return tokens
			}
			i++
			tokens = append(tokens, token{kind: tokenString, text: string(runes[start:i])})
		default:
			if i+1 < len(runes) {
				pair := string(runes[i : i+2])
				if _, ok := twoCharOps[pair]; ok {
					tokens = append(tokens, token{kind: tokenPunct, text: pair})
					i += 2
					continue
				}
			}
			tokens = append(tokens, token{kind: tokenPunct, text: string(r)})
			i++
		}
	}
	return tokens
}

type lineParser struct {
	tokens []token
	pos    int
}

func (p *lineParser) peek() token {
	if p.pos >= len(p.tokens) {
		return token{kind: tokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *lineParser) next() token {
	t := p.peek()
	p.pos++
	return t
}

func (p *lineParser) atEnd() bool { return p.peek().kind == tokenEOF }

func (p *lineParser) accept(text string) bool {
	if t := p.peek(); t.kind == tokenPunct && t.text == text {
		p.pos++
		return true
	}
	return false
}

func (p *lineParser) expect(text string) error {
	if !p.accept(text) {
		return fmt.Errorf("expected %q, found %q", text, p.peek().text)
	}
	return nil
}

func (p *lineParser) parseStatement() (Statement, error) {
	expr, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	if p.accept("=") {
		switch expr.(type) {
		case *Ident, *Index, *Field:
		default:
			return nil, fmt.Errorf("invalid assignment target")
		}
		value, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		if !p.atEnd() {
			return nil, fmt.Errorf("trailing %q", p.peek().text)
		}
		return &AssignStatement{Target: expr, Value: value}, nil
	}
	if !p.atEnd() {
		return nil, fmt.Errorf("trailing %q", p.peek().text)
	}
	return &ExprStatement{X: expr}, nil
}

func (p *lineParser) parseTernary() (Expr, error) {
	cond, err := p.parseBinary(2)
	if err != nil {
		return nil, err
	}
	if !p.accept("?") {
		return cond, nil
	}
	then, err := p.parseBinary(2)
	if err != nil {
		return nil, err
	}
	if err := p.expect(":"); err != nil {
		return nil, err
	}
	alt, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	return &CondExpr{Cond: cond, Then: then, Else: alt}, nil
}

func (p *lineParser) parseBinary(minPrec int) (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokenPunct {
			return left, nil
		}
		prec, ok := precedence[t.text]
		if !ok || prec < minPrec {
			return left, nil
		}
		p.next()
		right, err := p.parseBinary(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: t.text, Left: left, Right: right}
	}
}

func (p *lineParser) parseUnary() (Expr, error) {
	t := p.peek()
	if t.kind == tokenPunct && (t.text == "!" || t.text == "-" || t.text == "~") {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if t.text == "-" {
			switch lit := x.(type) {
			case *IntLit:
				return &IntLit{Value: -lit.Value}, nil
			case *FloatLit:
				return &FloatLit{Value: -lit.Value}, nil
			}
		}
		return &Unary{Op: t.text, X: x}, nil
	}
	return p.parsePostfix()
}

func (p *lineParser) parsePostfix() (Expr, error) {
	expr, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.accept("("):
			var args []Expr
			if !p.accept(")") {
				for {
					arg, err := p.parseTernary()
					if err != nil {
						return nil, err
					}
					args = append(args, arg)
					if p.accept(")") {
						break
					}
					if err := p.expect(","); err != nil {
						return nil, err
					}
				}
			}
			expr = &Call{Fn: expr, Args: args}
		case p.accept("["):
			idx, err := p.parseTernary()
			if err != nil {
				return nil, err
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			expr = &Index{X: expr, Idx: idx}
		case p.accept("."):
			name := p.next()
			if name.kind != tokenIdent {
				return nil, fmt.Errorf("expected field name, found %q", name.text)
			}
			expr = &Field{X: expr, Name: name.text}
		default:
			return expr, nil
		}
	}
}

func (p *lineParser) parseAtom() (Expr, error) {
	t := p.next()
	switch t.kind {
	case tokenIdent:
		switch t.text {
		case "nil":
			return &NilLit{}, nil
		case "true":
			return &BoolLit{Value: true}, nil
		case "false":
			return &BoolLit{Value: false}, nil
		}
		return &Ident{Name: t.text}, nil
	case tokenNumber:
		if strings.ContainsAny(t.text, ".eE") && !strings.HasPrefix(t.text, "0x") && !strings.HasPrefix(t.text, "0X") {
			f, err := strconv.ParseFloat(t.text, 64)
			if err != nil {
				return nil, fmt.Errorf("bad float literal %q", t.text)
			}
			return &FloatLit{Value: f}, nil
		}
		i, err := strconv.ParseInt(strings.TrimRight(t.text, "uUlL"), 0, 64)
		if err != nil {
			return nil, fmt.Errorf("bad integer literal %q", t.text)
		}
		return &IntLit{Value: i}, nil
	case tokenString:
		s, err := strconv.Unquote(t.text)
		if err != nil {
			return nil, fmt.Errorf("bad string literal %s", t.text)
		}
		return &StrLit{Value: s}, nil
	case tokenPunct:
		switch t.text {
		case "(":
			inner, err := p.parseTernary()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			return inner, nil
		case "[":
			var elems []Expr
			if !p.accept("]") {
				for {
					elem, err := p.parseTernary()
					if err != nil {
						return nil, err
					}
					elems = append(elems, elem)
					if p.accept("]") {
						break
					}
					if err := p.expect(","); err != nil {
						return nil, err
					}
				}
			}
			return &ListLit{Elems: elems}, nil
		}
	}
	return nil, fmt.Errorf("unexpected token %q", t.text)
}
