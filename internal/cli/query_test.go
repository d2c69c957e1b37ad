package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/xfilter/internal/ir"
)

func executeQuery(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewQueryCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestQueryEmbeddedText(t *testing.T) {
	out, err := executeQuery(t, &RootOptions{Format: "text"},
		"--data", "penguins="+demoCSV,
		"SELECT species, count(*) AS n FROM penguins GROUP BY species ORDER BY species")
	require.NoError(t, err)

	assert.Contains(t, out, "species")
	assert.Contains(t, out, "Adelie")
	assert.Contains(t, out, "Chinstrap")
	assert.Contains(t, out, "(3 rows)")
}

func TestQueryWithParams(t *testing.T) {
	out, err := executeQuery(t, &RootOptions{Format: "json"},
		"--data", "penguins="+demoCSV,
		"--param", `"Gentoo"`,
		"--param", "4000",
		"SELECT island, body_mass FROM penguins WHERE species = ? AND body_mass > ? ORDER BY body_mass")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   QueryResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []string{"island", "body_mass"}, resp.Data.Columns)
	require.Equal(t, 2, resp.Data.Count)
	assert.Equal(t, ir.IRInt(5000), resp.Data.Rows[0]["body_mass"])
	assert.Equal(t, ir.IRString("Biscoe"), resp.Data.Rows[1]["island"])
}

func TestQueryInvalidParam(t *testing.T) {
	_, err := executeQuery(t, &RootOptions{Format: "text"}, "--param", "{not json", "SELECT 1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "param 1")
}

func TestQuerySQLError(t *testing.T) {
	out, err := executeQuery(t, &RootOptions{Format: "text"}, "SELECT * FROM nowhere")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "no such table")
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{`"a"`, "3", "2.5", "true", "null"})
	require.NoError(t, err)
	assert.Equal(t, []ir.IRValue{
		ir.IRString("a"),
		ir.IRInt(3),
		ir.IRFloat(2.5),
		ir.IRBool(true),
		ir.IRNull{},
	}, params)

	_, err = parseParams([]string{"1", "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "param 2")
}

func TestParseDataFlags(t *testing.T) {
	sources, err := parseDataFlags([]string{"penguins=data/p.csv", "data/islands.csv"})
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "penguins", sources[0].tableName())
	assert.Equal(t, "data/p.csv", sources[0].path)
	assert.Equal(t, "islands", sources[1].tableName())

	_, err = parseDataFlags([]string{"=p.csv"})
	assert.ErrorContains(t, err, "empty table name")

	_, err = parseDataFlags([]string{"penguins="})
	assert.ErrorContains(t, err, "missing file path")
}
