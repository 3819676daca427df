package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/relq/internal/dialect"
	"github.com/roach88/relq/internal/query"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output      string   // output file path
	AllDialects bool     // compile for every dialect
	Args        []string // name=value query arguments
}

// Compilation is the translation of one query for one dialect.
type Compilation struct {
	Dialect  string            `json:"dialect"`
	PlanID   string            `json:"plan_id"`
	Commands []CompiledCommand `json:"commands"`
}

// CompiledCommand is one command of a plan with its parameter names in
// placeholder order.
type CompiledCommand struct {
	Text   string   `json:"text"`
	Params []string `json:"params,omitempty"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <query.yaml>",
		Short: "Translate a query document to SQL",
		Long: `Translate a query document to the command text of the configured dialect.

The query is bound against the mapping, optimized, parameterized and
formatted. Nested collections and client joins add further commands,
printed in execution order.

Example:
  relq compile --mapping ./mapping orders.yaml
  relq compile --mapping ./mapping --all-dialects --arg min=100 orders.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")
	cmd.Flags().BoolVar(&opts.AllDialects, "all-dialects", false, "compile for every dialect")
	cmd.Flags().StringArrayVar(&opts.Args, "arg", nil, "query argument name=value (repeatable)")

	return cmd
}

func runCompile(opts *CompileOptions, queryFile string, cmd *cobra.Command) error {
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
	formatter.VerboseLog("Query: %s", q)

	langs := []*dialect.Language{env.Lang}
	if opts.AllDialects {
		langs = langs[:0]
		for _, name := range dialect.Names() {
			lang, _ := dialect.ByName(name)
			langs = append(langs, lang)
		}
	}

	results := make([]Compilation, 0, len(langs))
	for _, lang := range langs {
		c, err := compileFor(env, lang, q, args, formatter.GetErrWriter(), opts)
		if err != nil {
			return formatter.Fail(ExitCommandError, &LoadError{Code: ErrCodeTranslate, Message: fmt.Sprintf("%s: %v", lang.Name, err)})
		}
		results = append(results, c)
	}

	if opts.Output != "" {
		if err := writeCompilations(results, opts.Output); err != nil {
			return formatter.Fail(ExitCommandError, &LoadError{Code: ErrCodeWriteFailed, Message: fmt.Sprintf("writing output file: %v", err)})
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(results)
	}
	printCompilations(formatter.Writer, results)
	if opts.Output != "" {
		fmt.Fprintf(formatter.Writer, "Wrote %d plan(s) to %s\n", len(results), opts.Output)
	}
	return nil
}

func compileFor(env *Environment, lang *dialect.Language, q query.Query, args []query.NamedArg, logOut io.Writer, opts *CompileOptions) (Compilation, error) {
	p, err := env.Provider(nil, lang, logOut, opts.logLevel(quietLevel))
	if err != nil {
		return Compilation{}, err
	}
	plan, _, err := p.Prepare(q.Op(), args...)
	if err != nil {
		return Compilation{}, err
	}
	c := Compilation{Dialect: lang.Name, PlanID: plan.ID}
	for _, command := range plan.Commands() {
		cc := CompiledCommand{Text: command.Text}
		for _, param := range command.Params {
			cc.Params = append(cc.Params, param.Name)
		}
		c.Commands = append(c.Commands, cc)
	}
	return c, nil
}

func printCompilations(w io.Writer, results []Compilation) {
	for i, c := range results {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "-- %s\n", c.Dialect)
		texts := make([]string, len(c.Commands))
		for j, command := range c.Commands {
			texts[j] = command.Text
		}
		fmt.Fprintln(w, strings.Join(texts, ";\n\n"))
	}
}

// writeCompilations writes the command texts to a file, one block per
// dialect.
func writeCompilations(results []Compilation, filename string) error {
	var sb strings.Builder
	printCompilations(&sb, results)
	if err := os.WriteFile(filename, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
