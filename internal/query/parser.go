// File: internal/query/parser.go
package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xkilldash9x/scalpel-sast/internal/ast"
)

// maxNesting bounds recursion so hostile queries fail with a ParseError instead
// of exhausting the stack.
const maxNesting = 128

// Parser holds the state of a recursive descent over a token slice.
type Parser struct {
	tokens []Token
	pos    int
	depth  int
}

// NewParser creates a parser over tokens. The slice must end with an EOF token.
func NewParser(tokens []Token) *Parser {
	if len(tokens) == 0 || tokens[len(tokens)-1].Type != TokenEOF {
		tokens = append(tokens, Token{Type: TokenEOF})
	}
	return &Parser{tokens: tokens}
}

// Parse lexes and parses input into a Query. It does not run the validator.
func Parse(input string) (*Query, error) {
	tokens, err := Lex(input)
	if err != nil {
		return nil, err
	}
	q, err := NewParser(tokens).Parse()
	if err != nil {
		return nil, err
	}
	q.Text = input
	return q, nil
}

// Compile parses input and validates the result. Validation problems are
// returned as a *ValidationError.
func Compile(input string) (*Query, error) {
	q, err := Parse(input)
	if err != nil {
		return nil, err
	}
	if res := Validate(q); !res.Valid {
		return nil, &ValidationError{Errors: res.Errors}
	}
	return q, nil
}

// Parse consumes every token and builds the query.
func (p *Parser) Parse() (*Query, error) {
	if p.peek().Type == TokenEOF {
		return nil, ErrEmptyQuery
	}
	root, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.Type != TokenEOF {
		return nil, p.errorAt(tok, "unexpected "+tok.String()+" after end of expression")
	}
	return &Query{Root: root}, nil
}

func (p *Parser) parseExpression() (Expression, error) {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxNesting {
		return nil, p.errorAt(p.peek(), fmt.Sprintf("expression nesting exceeds %d levels", maxNesting))
	}

	switch tok := p.peek(); tok.Type {
	case TokenAnd, TokenOr, TokenNot:
		return p.parseLogical()
	case TokenTaint:
		return p.parseTaint()
	case TokenIdent, TokenWildcard:
		return p.parsePattern()
	default:
		return nil, p.errorAt(tok, "unexpected "+tok.String()+", expected expression")
	}
}

func (p *Parser) parseLogical() (Expression, error) {
	opTok := p.advance()
	op := map[TokenType]LogicalOp{TokenAnd: OpAnd, TokenOr: OpOr, TokenNot: OpNot}[opTok.Type]

	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	logical := &Logical{Op: op}
	for {
		operand, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		logical.Operands = append(logical.Operands, operand)
		if !p.accept(TokenComma) {
			break
		}
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return logical, nil
}

func (p *Parser) parseTaint() (Expression, error) {
	p.advance() // TAINT
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}

	taint := &Taint{}
	var err error
	if taint.Source, err = p.parseLabelled(TokenSource); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenComma); err != nil {
		return nil, err
	}
	if taint.Sink, err = p.parseLabelled(TokenSink); err != nil {
		return nil, err
	}
	for p.accept(TokenComma) {
		san, err := p.parseLabelled(TokenSanitizer)
		if err != nil {
			return nil, err
		}
		taint.Sanitizers = append(taint.Sanitizers, san)
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return taint, nil
}

// parseLabelled parses `LABEL ':' pattern`.
func (p *Parser) parseLabelled(label TokenType) (*Pattern, error) {
	if _, err := p.expect(label); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenColon); err != nil {
		return nil, err
	}
	return p.parsePattern()
}

func (p *Parser) parsePattern() (*Pattern, error) {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxNesting {
		return nil, p.errorAt(p.peek(), fmt.Sprintf("pattern nesting exceeds %d levels", maxNesting))
	}

	pattern := &Pattern{}
	switch tok := p.peek(); tok.Type {
	case TokenWildcard:
		p.advance()
		pattern.Wildcard = true
	case TokenIdent:
		for {
			ident, err := p.expect(TokenIdent)
			if err != nil {
				return nil, err
			}
			pattern.NodeTypes = append(pattern.NodeTypes, ident.Value)
			if !p.accept(TokenPipe) {
				break
			}
		}
	default:
		return nil, p.errorAt(tok, "unexpected "+tok.String()+", expected node type or '*'")
	}

	for {
		switch p.peek().Type {
		case TokenLBracket:
			p.advance()
			props, err := p.parseProperties()
			if err != nil {
				return nil, err
			}
			pattern.Properties = append(pattern.Properties, props...)
		case TokenLBrace:
			p.advance()
			children, err := p.parsePatternList(TokenRBrace)
			if err != nil {
				return nil, err
			}
			pattern.Children = append(pattern.Children, children...)
		case TokenLParen:
			p.advance()
			args, err := p.parsePatternList(TokenRParen)
			if err != nil {
				return nil, err
			}
			pattern.Arguments = append(pattern.Arguments, args...)
		default:
			return pattern, nil
		}
	}
}

func (p *Parser) parsePatternList(closing TokenType) ([]*Pattern, error) {
	var out []*Pattern
	for {
		pat, err := p.parsePattern()
		if err != nil {
			return nil, err
		}
		out = append(out, pat)
		if !p.accept(TokenComma) {
			break
		}
	}
	if _, err := p.expect(closing); err != nil {
		return nil, err
	}
	return out, nil
}

// parseProperties parses the contents of `[...]`; the opening bracket is
// already consumed.
func (p *Parser) parseProperties() ([]*PropertyConstraint, error) {
	var out []*PropertyConstraint
	for {
		c, err := p.parseProperty()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
		if !p.accept(TokenComma) {
			break
		}
	}
	if _, err := p.expect(TokenRBracket); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Parser) parseProperty() (*PropertyConstraint, error) {
	keyTok, err := p.expect(TokenIdent)
	if err != nil {
		return nil, err
	}
	key := keyTok.Value
	for p.accept(TokenDot) {
		part, err := p.expect(TokenIdent)
		if err != nil {
			return nil, err
		}
		key += "." + part.Value
	}

	c := &PropertyConstraint{Key: key}
	opTok := p.peek()
	switch opTok.Type {
	case TokenComma, TokenRBracket:
		c.Op = OpExists
		return c, nil
	case TokenColon, TokenEq:
		c.Op = OpEq
	case TokenNeq:
		c.Op = OpNeq
	case TokenGt:
		c.Op = OpGt
	case TokenLt:
		c.Op = OpLt
	case TokenGte:
		c.Op = OpGte
	case TokenLte:
		c.Op = OpLte
	case TokenContains:
		c.Op = OpContains
	case TokenStartsWith:
		c.Op = OpStartsWith
	case TokenEndsWith:
		c.Op = OpEndsWith
	case TokenMatches:
		c.Op = OpMatches
	default:
		return nil, p.errorAt(opTok, "unexpected "+opTok.String()+", expected comparison operator")
	}
	p.advance()

	valTok := p.advance()
	if c.Op == OpMatches {
		if valTok.Type != TokenRegex && valTok.Type != TokenString {
			return nil, p.errorAt(valTok, "operator matches requires a regex literal")
		}
		if err := c.compileRegex(valTok.Value, valTok.Flags); err != nil {
			return nil, p.errorAt(valTok, err.Error())
		}
		return c, nil
	}

	switch valTok.Type {
	case TokenString:
		c.Value = ast.StringValue(valTok.Value)
	case TokenNumber:
		f, err := strconv.ParseFloat(valTok.Value, 64)
		if err != nil {
			return nil, p.errorAt(valTok, "invalid number "+valTok.Value)
		}
		c.Value = ast.NumberValue(f)
	case TokenIdent:
		switch valTok.Value {
		case "true":
			c.Value = ast.BoolValue(true)
		case "false":
			c.Value = ast.BoolValue(false)
		default:
			c.Value = ast.StringValue(valTok.Value)
		}
	default:
		return nil, p.errorAt(valTok, "unexpected "+valTok.String()+", expected property value")
	}

	if c.Op.IsNumeric() && c.Value.Kind != ast.KindNumber {
		return nil, p.errorAt(valTok, "operator "+c.Op.String()+" requires a number")
	}
	if (c.Op == OpContains || c.Op == OpStartsWith || c.Op == OpEndsWith) && c.Value.Kind != ast.KindString {
		return nil, p.errorAt(valTok, "operator "+c.Op.String()+" requires a string")
	}

	c.CaseSensitive = c.Op.defaultCaseSensitive()
	if mod := p.peek(); mod.Type == TokenIdent && (mod.Value == "case" || mod.Value == "nocase") {
		p.advance()
		c.CaseSensitive = mod.Value == "case"
	}
	return c, nil
}

// compileRegex maps regex literal flags onto RE2 inline flags. g, u and y have
// no meaning for node matching and are accepted but ignored.
func (c *PropertyConstraint) compileRegex(pattern, flags string) error {
	var inline strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			if !strings.ContainsRune(inline.String(), f) {
				inline.WriteRune(f)
			}
		case 'g', 'u', 'y':
		default:
			return fmt.Errorf("unknown regex flag %q", f)
		}
	}
	expr := pattern
	if inline.Len() > 0 {
		expr = "(?" + inline.String() + ")" + pattern
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return fmt.Errorf("invalid regex: %v", err)
	}
	c.Value = ast.StringValue(pattern)
	c.RegexFlags = flags
	c.CaseSensitive = !strings.ContainsRune(flags, 'i')
	c.regex = re
	return nil
}

// --- Token helpers ---

func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.pos]
}

func (p *Parser) advance() Token {
	tok := p.peek()
	if tok.Type != TokenEOF {
		p.pos++
	}
	return tok
}

func (p *Parser) accept(tt TokenType) bool {
	if p.peek().Type == tt {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expect(tt TokenType) (Token, error) {
	tok := p.peek()
	if tok.Type != tt {
		return Token{}, p.errorAt(tok, fmt.Sprintf("unexpected %s, expected %q", tok, tt.String()))
	}
	return p.advance(), nil
}

func (p *Parser) errorAt(tok Token, msg string) error {
	return &ParseError{Pos: tok.Pos, Line: tok.Line, Column: tok.Column, Msg: msg}
}
