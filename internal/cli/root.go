package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Config is the configuration file. Empty means defaults.
	Config string
	// Mapping and Dialect override the configuration file.
	Mapping string
	Dialect string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the relq CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "relq",
		Short: "relq - relational query compiler",
		Long: `Compile query documents against an entity mapping into SQL commands
for sqlite, mysql, postgres and tsql, and run them against SQLite.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "configuration file")
	cmd.PersistentFlags().StringVarP(&opts.Mapping, "mapping", "m", "", "CUE mapping directory (overrides config)")
	cmd.PersistentFlags().StringVarP(&opts.Dialect, "dialect", "d", "", "store dialect (overrides config)")

	cmd.AddCommand(NewCompileCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewExplainCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// quietLevel keeps provider lifecycle logs out of command output.
const quietLevel = slog.LevelWarn

// logLevel is debug with --verbose and the configured level otherwise.
func (o *RootOptions) logLevel(configured slog.Level) slog.Level {
	if o.Verbose {
		return slog.LevelDebug
	}
	return configured
}
