package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/mapping"
	"github.com/roach88/relq/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Init     bool   // create missing tables first
	Seed     string // YAML file of rows to insert, keyed by entity
	Args     []string
}

// RunResult is the outcome of one query execution.
type RunResult struct {
	Value       any   `json:"value"`
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <query.yaml>",
		Short: "Execute a query against a SQLite database",
		Long: `Execute a query document against a SQLite database and print the
materialized result as canonical JSON.

The database comes from --db or the configuration file. With --init the
mapping's tables are created first; --seed inserts rows from a YAML file
mapping entity names to lists of rows.

Example:
  relq run --mapping ./mapping --db ./shop.db orders.yaml
  relq run --mapping ./mapping --init --seed rows.yaml --arg city=Oslo by_city.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().BoolVar(&opts.Init, "init", false, "create missing tables")
	cmd.Flags().StringVar(&opts.Seed, "seed", "", "YAML file of rows to insert")
	cmd.Flags().StringArrayVar(&opts.Args, "arg", nil, "query argument name=value (repeatable)")

	return cmd
}

func runQuery(opts *RunOptions, queryFile string, cmd *cobra.Command) error {
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

	dbPath := env.Config.Database
	if opts.Database != "" {
		dbPath = opts.Database
	}
	if dbPath == "" {
		dbPath = store.Memory
	}
	if dbPath != store.Memory && !opts.Init {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return formatter.Fail(ExitCommandError, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("database not found: %s (use --init to create it)", dbPath)})
		}
	}

	level, _ := env.Config.LogLevel()
	logger := slog.New(slog.NewTextHandler(formatter.GetErrWriter(), &slog.HandlerOptions{Level: opts.logLevel(level)}))

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Debug("opening database", "path", dbPath)
	st, err := store.Open(dbPath)
	if err != nil {
		return formatter.Fail(ExitCommandError, err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	if opts.Init || dbPath == store.Memory {
		if err := st.CreateSchema(ctx, env.Mapping); err != nil {
			return formatter.Fail(ExitCommandError, err)
		}
	}
	if opts.Seed != "" {
		if err := seedFile(ctx, st, env.Mapping, opts.Seed); err != nil {
			return formatter.Fail(ExitCommandError, err)
		}
		logger.Debug("seeded", "file", opts.Seed)
	}

	p, err := env.Provider(st.Conn(), nil, formatter.GetErrWriter(), opts.logLevel(quietLevel))
	if err != nil {
		return formatter.Fail(ExitCommandError, err)
	}
	v, err := p.Execute(ctx, q.Op(), args...)
	if err != nil {
		return formatter.Fail(ExitFailure, &LoadError{Code: ErrCodeExecute, Message: err.Error()})
	}
	value, err := ir.Normalize(v)
	if err != nil {
		return formatter.Fail(ExitFailure, err)
	}
	hits, misses, _ := p.CacheStats()
	formatter.VerboseLog("plan cache: %d hit(s), %d miss(es)", hits, misses)

	if formatter.Format == "json" {
		return formatter.Success(RunResult{Value: value, CacheHits: hits, CacheMisses: misses})
	}
	return printValue(formatter, value)
}

// printValue prints a sequence one canonical JSON element per line and any
// other value as one line.
func printValue(formatter *OutputFormatter, v any) error {
	items, ok := v.([]any)
	if !ok {
		items = []any{v}
	}
	for _, item := range items {
		data, err := ir.MarshalCanonical(item)
		if err != nil {
			return formatter.Fail(ExitFailure, err)
		}
		fmt.Fprintln(formatter.Writer, string(data))
	}
	return nil
}

// seedFile inserts the rows of a YAML seed file in mapping order.
func seedFile(ctx context.Context, st *store.Store, m *mapping.Mapping, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("failed to read seed file: %v", err)}
	}
	var rows map[string][]map[string]any
	if err := yaml.Unmarshal(data, &rows); err != nil {
		return &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("%s: failed to parse YAML: %v", path, err)}
	}
	for name := range rows {
		if _, err := m.Entity(name); err != nil {
			return &LoadError{Code: ErrCodeUnknownEntity, Message: fmt.Sprintf("%s: %v", path, err)}
		}
	}
	for _, e := range m.Entities() {
		if err := st.Seed(ctx, e, rows[e.Name]); err != nil {
			return err
		}
	}
	return nil
}
