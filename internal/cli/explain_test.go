package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExplain_Text(t *testing.T) {
	f := newFixture(t)

	out, err := execute(t, "explain", "--mapping", f.mapping, f.query)
	require.NoError(t, err)
	assert.Contains(t, out, "Plan ")
	assert.Contains(t, out, "(sqlite)")
	assert.Contains(t, out, `FROM "customers" AS t0`)
}

func TestExplain_JSON(t *testing.T) {
	f := newFixture(t)

	out, err := execute(t, "explain", "--format", "json", "--mapping", f.mapping, "--dialect", "mysql", f.query)
	require.NoError(t, err)

	var resp struct {
		Data Explanation `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "mysql", resp.Data.Dialect)
	assert.NotEmpty(t, resp.Data.Tree)
	assert.Contains(t, resp.Data.Text, "`customers`")
}

func TestExplain_UnknownEntity(t *testing.T) {
	f := newFixture(t)
	q := f.write(t, "unknown.yaml", "from: Invoice\n")

	out, err := execute(t, "explain", "--mapping", f.mapping, q)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E201]")
}
