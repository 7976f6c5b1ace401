// File: internal/query/token.go
package query

import "fmt"

// TokenType classifies a lexeme.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenIdent
	TokenWildcard
	TokenString
	TokenNumber
	TokenRegex

	// Logical keywords.
	TokenAnd
	TokenOr
	TokenNot

	// Comparison operators.
	TokenEq
	TokenNeq
	TokenGt
	TokenLt
	TokenGte
	TokenLte

	// String predicates.
	TokenContains
	TokenStartsWith
	TokenEndsWith
	TokenMatches

	// Taint keywords.
	TokenTaint
	TokenSource
	TokenSink
	TokenSanitizer

	// Punctuation.
	TokenLParen
	TokenRParen
	TokenLBracket
	TokenRBracket
	TokenLBrace
	TokenRBrace
	TokenComma
	TokenDot
	TokenColon
	TokenPipe
)

var tokenNames = map[TokenType]string{
	TokenEOF:        "EOF",
	TokenIdent:      "IDENTIFIER",
	TokenWildcard:   "WILDCARD",
	TokenString:     "STRING",
	TokenNumber:     "NUMBER",
	TokenRegex:      "REGEX",
	TokenAnd:        "AND",
	TokenOr:         "OR",
	TokenNot:        "NOT",
	TokenEq:         "=",
	TokenNeq:        "!=",
	TokenGt:         ">",
	TokenLt:         "<",
	TokenGte:        ">=",
	TokenLte:        "<=",
	TokenContains:   "contains",
	TokenStartsWith: "starts_with",
	TokenEndsWith:   "ends_with",
	TokenMatches:    "matches",
	TokenTaint:      "TAINT",
	TokenSource:     "SOURCE",
	TokenSink:       "SINK",
	TokenSanitizer:  "SANITIZER",
	TokenLParen:     "(",
	TokenRParen:     ")",
	TokenLBracket:   "[",
	TokenRBracket:   "]",
	TokenLBrace:     "{",
	TokenRBrace:     "}",
	TokenComma:      ",",
	TokenDot:        ".",
	TokenColon:      ":",
	TokenPipe:       "|",
}

func (t TokenType) String() string {
	if s, ok := tokenNames[t]; ok {
		return s
	}
	return fmt.Sprintf("TokenType(%d)", int(t))
}

// keywords are matched case-sensitively against identifier text.
var keywords = map[string]TokenType{
	"AND":         TokenAnd,
	"OR":          TokenOr,
	"NOT":         TokenNot,
	"TAINT":       TokenTaint,
	"SOURCE":      TokenSource,
	"SINK":        TokenSink,
	"SANITIZER":   TokenSanitizer,
	"contains":    TokenContains,
	"starts_with": TokenStartsWith,
	"ends_with":   TokenEndsWith,
	"matches":     TokenMatches,
}

// Token is a single lexeme. Flags is only set for REGEX tokens.
type Token struct {
	Type   TokenType
	Value  string
	Flags  string
	Pos    int
	Line   int
	Column int
}

func (t Token) String() string {
	switch t.Type {
	case TokenEOF:
		return "EOF"
	case TokenString:
		return fmt.Sprintf("%s(%q)", t.Type, t.Value)
	case TokenRegex:
		return fmt.Sprintf("REGEX(/%s/%s)", t.Value, t.Flags)
	case TokenIdent, TokenNumber:
		return fmt.Sprintf("%s(%s)", t.Type, t.Value)
	default:
		return fmt.Sprintf("%q", t.Type.String())
	}
}
