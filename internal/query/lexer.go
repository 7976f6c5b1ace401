// File: internal/query/lexer.go
package query

import (
	"fmt"
	"strings"
)

var singleCharTokens = map[byte]TokenType{
	'(': TokenLParen, ')': TokenRParen,
	'[': TokenLBracket, ']': TokenRBracket,
	'{': TokenLBrace, '}': TokenRBrace,
	',': TokenComma, '.': TokenDot, ':': TokenColon, '|': TokenPipe,
	'*': TokenWildcard, '=': TokenEq,
}

// Lexer turns query text into tokens. It tracks byte offset, line and column;
// the column counts runes and resets to 1 after every newline.
type Lexer struct {
	input  string
	pos    int
	line   int
	column int
}

// NewLexer prepares a lexer for input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input, line: 1, column: 1}
}

// Lex is a convenience wrapper around NewLexer(input).Tokenize().
func Lex(input string) ([]Token, error) {
	return NewLexer(input).Tokenize()
}

// Tokenize returns every token in order, terminated by a single EOF token.
func (l *Lexer) Tokenize() ([]Token, error) {
	var tokens []Token
	for {
		l.skipTrivia()
		if l.eof() {
			tokens = append(tokens, Token{Type: TokenEOF, Pos: l.pos, Line: l.line, Column: l.column})
			return tokens, nil
		}
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
	}
}

func (l *Lexer) next() (Token, error) {
	start := Token{Pos: l.pos, Line: l.line, Column: l.column}
	ch := l.currentChar()

	if tt, ok := singleCharTokens[ch]; ok {
		l.consumeChar()
		start.Type, start.Value = tt, string(ch)
		return start, nil
	}

	switch {
	case ch == '!':
		l.consumeChar()
		if l.currentChar() != '=' {
			return Token{}, l.errorAt(start, "expected '=' after '!'")
		}
		l.consumeChar()
		start.Type, start.Value = TokenNeq, "!="
		return start, nil
	case ch == '>' || ch == '<':
		l.consumeChar()
		if l.currentChar() == '=' {
			l.consumeChar()
			if ch == '>' {
				start.Type, start.Value = TokenGte, ">="
			} else {
				start.Type, start.Value = TokenLte, "<="
			}
			return start, nil
		}
		if ch == '>' {
			start.Type = TokenGt
		} else {
			start.Type = TokenLt
		}
		start.Value = string(ch)
		return start, nil
	case ch == '"' || ch == '\'':
		return l.lexString(start, ch)
	case ch == '/':
		return l.lexRegex(start)
	case isDigit(ch) || (ch == '-' && isDigit(l.peekChar())):
		return l.lexNumber(start), nil
	case isIdentifierStart(ch):
		word := l.parseIdentifier()
		if tt, ok := keywords[word]; ok {
			start.Type, start.Value = tt, word
			return start, nil
		}
		start.Type, start.Value = TokenIdent, word
		return start, nil
	}
	return Token{}, l.errorAt(start, fmt.Sprintf("unexpected character %q", ch))
}

func (l *Lexer) lexString(start Token, quote byte) (Token, error) {
	l.consumeChar() // opening quote
	var sb strings.Builder
	for {
		if l.eof() {
			return Token{}, l.errorAt(start, "unterminated string literal")
		}
		ch := l.consumeChar()
		if ch == quote {
			break
		}
		if ch == '\\' {
			if l.eof() {
				return Token{}, l.errorAt(start, "unterminated string literal")
			}
			esc := l.consumeChar()
			switch esc {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			default:
				sb.WriteByte(esc)
			}
			continue
		}
		sb.WriteByte(ch)
	}
	start.Type, start.Value = TokenString, sb.String()
	return start, nil
}

// lexRegex reads /pattern/flags. "\/" yields a literal slash; every other escape
// is passed through to the regex engine untouched.
func (l *Lexer) lexRegex(start Token) (Token, error) {
	l.consumeChar() // opening slash
	var sb strings.Builder
	for {
		if l.eof() || l.currentChar() == '\n' {
			return Token{}, l.errorAt(start, "unterminated regex literal")
		}
		ch := l.consumeChar()
		if ch == '/' {
			break
		}
		if ch == '\\' {
			if l.eof() {
				return Token{}, l.errorAt(start, "unterminated regex literal")
			}
			esc := l.consumeChar()
			if esc != '/' {
				sb.WriteByte('\\')
			}
			sb.WriteByte(esc)
			continue
		}
		sb.WriteByte(ch)
	}
	flagStart := l.pos
	for !l.eof() && isLetter(l.currentChar()) {
		l.consumeChar()
	}
	start.Type = TokenRegex
	start.Value = sb.String()
	start.Flags = l.input[flagStart:l.pos]
	return start, nil
}

func (l *Lexer) lexNumber(start Token) Token {
	begin := l.pos
	if l.currentChar() == '-' {
		l.consumeChar()
	}
	for !l.eof() && isDigit(l.currentChar()) {
		l.consumeChar()
	}
	if l.currentChar() == '.' && isDigit(l.peekChar()) {
		l.consumeChar()
		for !l.eof() && isDigit(l.currentChar()) {
			l.consumeChar()
		}
	}
	start.Type, start.Value = TokenNumber, l.input[begin:l.pos]
	return start
}

func (l *Lexer) errorAt(at Token, msg string) error {
	return &LexicalError{Pos: at.Pos, Line: at.Line, Column: at.Column, Msg: msg}
}

// --- Character helpers ---

func (l *Lexer) eof() bool {
	return l.pos >= len(l.input)
}

func (l *Lexer) currentChar() byte {
	if l.eof() {
		return 0
	}
	return l.input[l.pos]
}

func (l *Lexer) peekChar() byte {
	if l.pos+1 >= len(l.input) {
		return 0
	}
	return l.input[l.pos+1]
}

func (l *Lexer) consumeChar() byte {
	ch := l.currentChar()
	if l.eof() {
		return ch
	}
	l.pos++
	switch {
	case ch == '\n':
		l.line++
		l.column = 1
	case ch&0xC0 != 0x80:
		// UTF-8 continuation bytes belong to the rune already counted.
		l.column++
	}
	return ch
}

// skipTrivia drops whitespace and '#' comments.
func (l *Lexer) skipTrivia() {
	for !l.eof() {
		ch := l.currentChar()
		switch {
		case isWhitespace(ch):
			l.consumeChar()
		case ch == '#':
			for !l.eof() && l.currentChar() != '\n' {
				l.consumeChar()
			}
		default:
			return
		}
	}
}

func (l *Lexer) parseIdentifier() string {
	start := l.pos
	for !l.eof() && isIdentifierChar(l.currentChar()) {
		l.consumeChar()
	}
	return l.input[start:l.pos]
}

func isWhitespace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}

func isLetter(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentifierStart(ch byte) bool {
	return isLetter(ch) || ch == '_' || ch == '$'
}

func isIdentifierChar(ch byte) bool {
	return isIdentifierStart(ch) || isDigit(ch)
}
