// File: cmd/query.go
package cmd

import (
	"errors"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/scalpel-sast/internal/query"
	"github.com/xkilldash9x/scalpel-sast/internal/results"
	"github.com/xkilldash9x/scalpel-sast/internal/rules"
)

// queryErrorDoc is printed instead of a report when the query does not compile.
type queryErrorDoc struct {
	Error queryErrorBody `json:"error"`
}

type queryErrorBody struct {
	Kind    string   `json:"kind"`
	Message string   `json:"message"`
	Line    int      `json:"line,omitempty"`
	Column  int      `json:"column,omitempty"`
	Offset  *int     `json:"offset,omitempty"`
	Details []string `json:"details,omitempty"`
}

func newQueryCmd(a *app) *cobra.Command {
	var compact bool
	queryCmd := &cobra.Command{
		Use:   "query <query> <files...>",
		Short: "Run a structural query against source files or .ast.json trees",
		Long: `Runs one query-language expression against the given files. Files ending
in .ast.json are read as pre-built syntax trees; other files are parsed with
tree-sitter when their language is supported.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, cleanup, err := a.buildEngine(cmd.Context(), rules.NewRuleSet(nil), false)
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := e.RunQuery(cmd.Context(), args[0], args[1:])
			if err != nil {
				if doc, ok := describeQueryError(err); ok {
					if werr := writeQueryError(cmd.OutOrStdout(), doc, compact); werr != nil {
						return werr
					}
				}
				return fmt.Errorf("query failed: %w", err)
			}
			return results.NewJSONReporter(cmd.OutOrStdout(), !compact).Write(result)
		},
	}
	queryCmd.Flags().BoolVar(&compact, "compact", false, "emit single-line JSON")
	return queryCmd
}

// describeQueryError maps compile errors to their JSON form.
func describeQueryError(err error) (queryErrorDoc, bool) {
	var (
		lexErr   *query.LexicalError
		parseErr *query.ParseError
		valErr   *query.ValidationError
	)
	switch {
	case errors.Is(err, query.ErrEmptyQuery):
		return queryErrorDoc{Error: queryErrorBody{Kind: "empty", Message: err.Error()}}, true
	case errors.As(err, &lexErr):
		pos := lexErr.Pos
		return queryErrorDoc{Error: queryErrorBody{Kind: "lexical", Message: lexErr.Msg, Line: lexErr.Line, Column: lexErr.Column, Offset: &pos}}, true
	case errors.As(err, &parseErr):
		pos := parseErr.Pos
		return queryErrorDoc{Error: queryErrorBody{Kind: "parse", Message: parseErr.Msg, Line: parseErr.Line, Column: parseErr.Column, Offset: &pos}}, true
	case errors.As(err, &valErr):
		return queryErrorDoc{Error: queryErrorBody{Kind: "validation", Message: valErr.Error(), Details: valErr.Errors}}, true
	}
	return queryErrorDoc{}, false
}

func writeQueryError(w io.Writer, doc queryErrorDoc, compact bool) error {
	var (
		data []byte
		err  error
	)
	if compact {
		data, err = jsoniter.Marshal(doc)
	} else {
		data, err = jsoniter.MarshalIndent(doc, "", "  ")
	}
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}
