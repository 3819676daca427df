package cli

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/relq/internal/dialect"
	"github.com/roach88/relq/internal/mapping"
	"github.com/roach88/relq/internal/sqlcheck"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Entities []EntitySummary   `json:"entities"`
	Checks   []QueryCheck      `json:"checks,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
	Errors   []ValidationError `json:"errors,omitempty"`
}

// EntitySummary describes one mapped entity.
type EntitySummary struct {
	Name         string   `json:"name"`
	Table        string   `json:"table"`
	Members      int      `json:"members"`
	Associations []string `json:"associations,omitempty"`
}

// QueryCheck is the syntax check of one query in one dialect. Checked is
// false for dialects without a parser.
type QueryCheck struct {
	Query   string   `json:"query"`
	Dialect string   `json:"dialect"`
	Checked bool     `json:"checked"`
	Tables  []string `json:"tables,omitempty"`
}

// ValidationError is one problem found.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Query   string `json:"query,omitempty"`
	Dialect string `json:"dialect,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [query.yaml...]",
		Short: "Validate the mapping and check query SQL",
		Long: `Validate the CUE mapping and, for each query document given, translate it
for every dialect. MySQL commands are parsed with the TiDB parser and
PostgreSQL commands with libpg_query; sqlite and tsql are translated only.`,
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, queryFiles []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	env, err := LoadEnvironment(opts)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) && loadErr.Code != ErrCodeNotFound && loadErr.Code != ErrCodeConfig {
			return outputValidationErrors(formatter, &ValidationResult{Errors: []ValidationError{{
				Code:    loadErr.Code,
				Message: loadErr.Message,
				Line:    lineOf(loadErr),
			}}})
		}
		return formatter.Fail(ExitCommandError, err)
	}

	result := &ValidationResult{Entities: summarize(env.Mapping)}
	for _, c := range env.Config.Policy().Cycles(env.Mapping) {
		result.Warnings = append(result.Warnings, c.Message)
	}
	for _, e := range result.Entities {
		formatter.VerboseLog("Entity %s -> %s (%d members)", e.Name, e.Table, e.Members)
	}

	for _, file := range queryFiles {
		q, err := LoadQuery(file)
		if err != nil {
			var loadErr *LoadError
			errors.As(err, &loadErr)
			result.Errors = append(result.Errors, ValidationError{Code: loadErr.Code, Message: loadErr.Message, Query: file})
			continue
		}
		for _, name := range dialect.Names() {
			lang, _ := dialect.ByName(name)
			c, err := compileFor(env, lang, q, nil, formatter.GetErrWriter(), &CompileOptions{RootOptions: opts})
			if err != nil {
				result.Errors = append(result.Errors, ValidationError{Code: ErrCodeTranslate, Message: err.Error(), Query: file, Dialect: name})
				continue
			}
			check := QueryCheck{Query: file, Dialect: name, Checked: sqlcheck.Supported(lang)}
			if check.Checked {
				for _, command := range c.Commands {
					report, err := sqlcheck.Check(lang, command.Text)
					if err != nil {
						result.Errors = append(result.Errors, ValidationError{Code: ErrCodeSyntax, Message: err.Error(), Query: file, Dialect: name})
						check.Checked = false
						break
					}
					check.Tables = mergeTables(check.Tables, report.Tables)
				}
			}
			formatter.VerboseLog("Checked %s (%s): %v", file, name, check.Checked)
			result.Checks = append(result.Checks, check)
		}
	}

	if len(result.Errors) > 0 {
		return outputValidationErrors(formatter, result)
	}
	result.Valid = true
	return outputValidateSuccess(formatter, result)
}

func summarize(m *mapping.Mapping) []EntitySummary {
	var out []EntitySummary
	for _, e := range m.Entities() {
		s := EntitySummary{Name: e.Name, Table: e.Table, Members: len(e.Members)}
		for _, a := range e.Associations {
			s.Associations = append(s.Associations, a.Name)
		}
		out = append(out, s)
	}
	return out
}

func mergeTables(have, add []string) []string {
	for _, t := range add {
		if !slices.Contains(have, t) {
			have = append(have, t)
		}
	}
	return have
}

// lineOf returns the CUE line of a load error, or 0 when unknown.
func lineOf(e *LoadError) int {
	if e.Pos.IsValid() {
		return e.Pos.Line()
	}
	return 0
}

// outputValidateSuccess outputs successful validation.
func outputValidateSuccess(formatter *OutputFormatter, result *ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Mapping valid: %d entit%s\n", len(result.Entities), plural(len(result.Entities), "y", "ies"))
	for _, e := range result.Entities {
		fmt.Fprintf(w, "  %s -> %s: %d member(s)", e.Name, e.Table, e.Members)
		if len(e.Associations) > 0 {
			fmt.Fprintf(w, ", associations %v", e.Associations)
		}
		fmt.Fprintln(w)
	}
	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "⚠ %s\n", warning)
	}
	printChecks(w, result.Checks)
	return nil
}

func printChecks(w io.Writer, checks []QueryCheck) {
	if len(checks) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Queries:")
	for _, c := range checks {
		status := "translated"
		if c.Checked {
			status = fmt.Sprintf("parsed, tables %v", c.Tables)
		}
		fmt.Fprintf(w, "  %s (%s): %s\n", c.Query, c.Dialect, status)
	}
}

// outputValidationErrors outputs the problems found. Validation failures
// exit with code 1.
func outputValidationErrors(formatter *OutputFormatter, result *ValidationResult) error {
	if formatter.Format == "json" {
		first := result.Errors[0]
		if err := formatter.encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: first.Code, Message: first.Message},
			Data:   result,
		}); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
	}

	w := formatter.Writer
	fmt.Fprintln(w, "✗ Validation failed")
	fmt.Fprintln(w)
	for _, e := range result.Errors {
		where := ""
		switch {
		case e.Query != "" && e.Dialect != "":
			where = fmt.Sprintf(" [%s, %s]", e.Query, e.Dialect)
		case e.Query != "":
			where = fmt.Sprintf(" [%s]", e.Query)
		case e.Line > 0:
			where = fmt.Sprintf(" [line %d]", e.Line)
		}
		fmt.Fprintf(w, "  %s%s: %s\n", e.Code, where, e.Message)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
