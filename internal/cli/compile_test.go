package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns stdout and the error.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCompile_Text(t *testing.T) {
	f := newFixture(t)

	out, err := execute(t, "compile", "--mapping", f.mapping, f.query)
	require.NoError(t, err)
	assert.Contains(t, out, "-- sqlite")
	assert.Contains(t, out, `FROM "customers" AS t0`)
	assert.Contains(t, out, `WHERE t0."city" = ?`)
	assert.Contains(t, out, `ORDER BY t0."name"`)
}

func TestCompile_AllDialectsJSON(t *testing.T) {
	f := newFixture(t)

	out, err := execute(t, "compile", "--format", "json", "--mapping", f.mapping, "--all-dialects", f.query)
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   []Compilation `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 4)

	byDialect := map[string]Compilation{}
	for _, c := range resp.Data {
		require.Len(t, c.Commands, 1)
		assert.NotEmpty(t, c.PlanID)
		byDialect[c.Dialect] = c
	}
	assert.Contains(t, byDialect["mysql"].Commands[0].Text, "FROM `customers` AS t0")
	assert.Contains(t, byDialect["postgres"].Commands[0].Text, `t0."city" = $1`)
	assert.Contains(t, byDialect["tsql"].Commands[0].Text, "t0.[city] = @p0")
	assert.Equal(t, []string{"p0"}, byDialect["sqlite"].Commands[0].Params)
}

func TestCompile_OutputFile(t *testing.T) {
	f := newFixture(t)
	outFile := filepath.Join(f.dir, "out.sql")

	out, err := execute(t, "compile", "--mapping", f.mapping, "--dialect", "postgres", "-o", outFile, f.query)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 1 plan(s)")

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "-- postgres")
	assert.Contains(t, string(data), "$1")
}

func TestCompile_Errors(t *testing.T) {
	f := newFixture(t)
	unknown := f.write(t, "unknown.yaml", "from: Invoice\n")

	tests := []struct {
		name string
		args []string
		code string
	}{
		{"missing query", []string{"compile", "--mapping", f.mapping, filepath.Join(f.dir, "nope.yaml")}, ErrCodeNotFound},
		{"missing mapping", []string{"compile", "--mapping", filepath.Join(f.dir, "nope"), f.query}, ErrCodeNotFound},
		{"unknown entity", []string{"compile", "--mapping", f.mapping, unknown}, ErrCodeTranslate},
		{"bad arg", []string{"compile", "--mapping", f.mapping, "--arg", "city", f.query}, ErrCodeGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, "Error ["+tt.code+"]")
		})
	}
}

func TestCompile_MissingArgs(t *testing.T) {
	_, err := execute(t, "compile")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}
