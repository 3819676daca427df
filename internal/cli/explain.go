package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ExplainOptions holds flags for the explain command.
type ExplainOptions struct {
	*RootOptions
	Args []string
}

// Explanation is the optimized plan of a query.
type Explanation struct {
	Dialect string `json:"dialect"`
	PlanID  string `json:"plan_id"`
	Tree    string `json:"tree"`
	Text    string `json:"text"`
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExplainOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "explain <query.yaml>",
		Short: "Show the optimized plan of a query",
		Long: `Show the relational tree a query compiles to after binding and
optimization, followed by its command text.

Example:
  relq explain --mapping ./mapping --dialect postgres orders.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Args, "arg", nil, "query argument name=value (repeatable)")

	return cmd
}

func runExplain(opts *ExplainOptions, queryFile string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	env, err := LoadEnvironment(opts.RootOptions)
	if err != nil {
		return formatter.Fail(ExitCommandError, err)
	}
	q, err := LoadQuery(queryFile)
	if err != nil {
		return formatter.Fail(ExitCommandError, err)
	}
	args, err := ParseArgs(opts.Args)
	if err != nil {
		return formatter.Fail(ExitCommandError, err)
	}

	p, err := env.Provider(nil, nil, formatter.GetErrWriter(), opts.logLevel(quietLevel))
	if err != nil {
		return formatter.Fail(ExitCommandError, err)
	}
	plan, _, err := p.Prepare(q.Op(), args...)
	if err != nil {
		return formatter.Fail(ExitCommandError, &LoadError{Code: ErrCodeTranslate, Message: err.Error()})
	}
	tree, err := p.Explain(q.Op(), args...)
	if err != nil {
		return formatter.Fail(ExitCommandError, &LoadError{Code: ErrCodeTranslate, Message: err.Error()})
	}

	ex := Explanation{Dialect: env.Lang.Name, PlanID: plan.ID, Tree: tree, Text: plan.Text}
	if formatter.Format == "json" {
		return formatter.Success(ex)
	}
	fmt.Fprintf(formatter.Writer, "Plan %s (%s)\n\n%s\n\n%s\n", ex.PlanID, ex.Dialect, ex.Tree, ex.Text)
	return nil
}
