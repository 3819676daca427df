package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/roach88/relq/internal/config"
	"github.com/roach88/relq/internal/dialect"
	"github.com/roach88/relq/internal/engine"
	"github.com/roach88/relq/internal/mapping"
	"github.com/roach88/relq/internal/query"
)

// Environment is what the query commands share: the configuration, the
// compiled mapping and the dialect to format for.
type Environment struct {
	Config  *config.Config
	Mapping *mapping.Mapping
	Lang    *dialect.Language
}

// LoadError represents an error that occurred while loading the
// configuration, the mapping or a query document.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for CLI output.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeConfig      = "E008" // Invalid configuration
	ErrCodeQuery       = "E009" // Query document does not parse

	// Mapping errors
	ErrCodeNoEntities     = "E101" // No entity declared
	ErrCodeEntityMembers  = "E102" // Entity without members
	ErrCodeInvalidType    = "E103" // Unknown member type
	ErrCodeAssociation    = "E104" // Association without related entity
	ErrCodeNoPrimaryKey   = "E105" // Entity without primary key
	ErrCodeInvalidEntity  = "E106" // Inconsistent entity definition
	ErrCodeUnknownEntity  = "E107" // Association or seed names an unmapped entity
	ErrCodeTranslate      = "E201" // Query does not translate
	ErrCodeSyntax         = "E202" // Formatted command fails the dialect parser
	ErrCodeExecute        = "E203" // Query failed against the store
	ErrCodeScenarioFailed = "E301" // Scenario mismatch
)

// MapFieldToErrorCode maps a CUE compile error field to its error code.
func MapFieldToErrorCode(field string) string {
	switch field {
	case "entity":
		return ErrCodeNoEntities
	case "members":
		return ErrCodeEntityMembers
	case "type":
		return ErrCodeInvalidType
	case "related":
		return ErrCodeAssociation
	case "cue":
		return ErrCodeBuildFailed
	default:
		return ErrCodeGeneric
	}
}

// LoadEnvironment reads the configuration named by the root options (or
// the defaults), applies the flag overrides and compiles the mapping.
func LoadEnvironment(opts *RootOptions) (*Environment, error) {
	cfg := config.Default()
	if opts.Config != "" {
		loaded, err := config.Load(opts.Config)
		if err != nil {
			if os.IsNotExist(errors.Unwrap(err)) {
				return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("config file not found: %s", opts.Config)}
			}
			return nil, &LoadError{Code: ErrCodeConfig, Message: err.Error()}
		}
		cfg = loaded
	}
	if opts.Mapping != "" {
		cfg.Mapping = opts.Mapping
	}
	if opts.Dialect != "" {
		cfg.Dialect = opts.Dialect
	}
	if err := cfg.Validate(); err != nil {
		return nil, &LoadError{Code: ErrCodeConfig, Message: err.Error()}
	}
	if cfg.Mapping == "" {
		return nil, &LoadError{Code: ErrCodeConfig, Message: "no mapping directory: set mapping in the config file or pass --mapping"}
	}

	m, err := LoadMapping(cfg.Mapping)
	if err != nil {
		return nil, err
	}
	return &Environment{Config: cfg, Mapping: m, Lang: cfg.Language()}, nil
}

// LoadMapping compiles the CUE entity specs in dir, turning failures into
// load errors with codes.
func LoadMapping(dir string) (*mapping.Mapping, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("mapping directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing mapping directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	files, err := mapping.FindCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	m, err := mapping.LoadCUE(dir)
	if err != nil {
		return nil, convertMappingError(err)
	}
	return m, nil
}

// convertMappingError converts a mapping error to a LoadError with a code.
func convertMappingError(err error) *LoadError {
	var compileErr *mapping.CompileError
	switch {
	case errors.As(err, &compileErr):
		return &LoadError{Code: MapFieldToErrorCode(compileErr.Field), Message: compileErr.Message, Pos: compileErr.Pos}
	case mapping.ErrNoPrimaryKey.Is(err):
		return &LoadError{Code: ErrCodeNoPrimaryKey, Message: err.Error()}
	case mapping.ErrInvalidEntity.Is(err):
		return &LoadError{Code: ErrCodeInvalidEntity, Message: err.Error()}
	case mapping.ErrUnknownEntity.Is(err):
		return &LoadError{Code: ErrCodeUnknownEntity, Message: err.Error()}
	}
	return &LoadError{Code: ErrCodeLoadFailed, Message: err.Error()}
}

// LoadQuery reads a query document.
func LoadQuery(path string) (query.Query, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return query.Query{}, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("query file not found: %s", path)}
	}
	q, err := query.LoadDocument(path)
	if err != nil {
		return query.Query{}, &LoadError{Code: ErrCodeQuery, Message: err.Error()}
	}
	return q, nil
}

// ParseArgs turns name=value flags into named arguments. Values are YAML
// scalars, so 3 is an integer, 2.5 a float, true a bool and null nil.
func ParseArgs(flags []string) ([]query.NamedArg, error) {
	out := make([]query.NamedArg, 0, len(flags))
	for _, f := range flags {
		name, raw, ok := strings.Cut(f, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("argument %q: want name=value", f)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("argument %s: %w", name, err)
		}
		if n, ok := v.(int); ok {
			v = int64(n)
		}
		out = append(out, query.Named(name, v))
	}
	return out, nil
}

// Provider returns a provider over conn for the environment. conn may be
// nil for commands that only translate.
func (env *Environment) Provider(conn engine.Connection, lang *dialect.Language, logOut io.Writer, level slog.Level) (*engine.Provider, error) {
	paging, err := env.Config.PagingMode()
	if err != nil {
		return nil, err
	}
	if lang == nil {
		lang = env.Lang
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))
	return engine.New(conn, env.Mapping, lang,
		engine.WithLogger(logger),
		engine.WithCommandLogging(env.Config.Log.Queries),
		engine.WithPolicy(env.Config.Policy()),
		engine.WithPaging(paging),
		engine.WithPlanCacheSize(env.Config.PlanCache.MaxEntries),
	), nil
}
