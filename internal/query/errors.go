// File: internal/query/errors.go
package query

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyQuery is returned when the query contains no tokens besides EOF.
var ErrEmptyQuery = errors.New("Empty query") //nolint:stylecheck // message is part of the public contract

// LexicalError reports malformed query text, such as an unterminated literal.
type LexicalError struct {
	Pos    int
	Line   int
	Column int
	Msg    string
}

func (e *LexicalError) Error() string {
	return fmt.Sprintf("lexical error at %d:%d (offset %d): %s", e.Line, e.Column, e.Pos, e.Msg)
}

// ParseError reports a token the grammar did not expect.
type ParseError struct {
	Pos    int
	Line   int
	Column int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %d:%d (offset %d): %s", e.Line, e.Column, e.Pos, e.Msg)
}

// ValidationError aggregates structural problems found in a parsed query.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "invalid query: " + strings.Join(e.Errors, "; ")
}
