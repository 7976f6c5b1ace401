// File: cmd/rules.go
package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/scalpel-sast/internal/rules"
)

var errInvalidRules = errors.New("rule validation failed")

func newRulesCmd(a *app) *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect rule files",
	}

	validateCmd := &cobra.Command{
		Use:   "validate <paths...>",
		Short: "Load rule files and compile every pattern and query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			rs, errs := rules.NewLoader(a.logger).LoadPaths(args...)
			problems := len(errs)
			for _, err := range errs {
				fmt.Fprintf(out, "ERROR %v\n", err)
			}
			for _, r := range rs.Rules() {
				for i, p := range r.Patterns {
					if _, err := p.Compile(); err != nil {
						problems++
						fmt.Fprintf(out, "ERROR %s: rule %s: pattern %d: %v\n", r.Source, r.ID, i, err)
					}
				}
			}
			fmt.Fprintf(out, "%d rules loaded, %d problems\n", rs.Len(), problems)
			if problems > 0 {
				return fmt.Errorf("%w: %d problems", errInvalidRules, problems)
			}
			return nil
		},
	}
	rulesCmd.AddCommand(validateCmd)
	return rulesCmd
}
