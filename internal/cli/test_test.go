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

const passingScenario = `name: menu_counts
description: "Menu counts over an inline table"
spec: |
  dashboard: "inline"
  selection: brush: strategy: "crossfilter"
  view: species: {
    kind: "menu"
    from: "penguins"
    column: "species"
    filterBy: "brush"
    as: "brush"
  }
tables:
  - name: penguins
    csv: |
      species,body_mass
      Adelie,3750
      Adelie,3800
      Gentoo,5000
assertions:
  - type: rows
    view: species
    count: 2
`

const failingScenario = `name: wrong_count
description: "Expects a row count the data does not have"
spec: |
  view: species: {
    kind: "menu"
    from: "penguins"
    column: "species"
  }
tables:
  - name: penguins
    csv: |
      species
      Adelie
assertions:
  - type: rows
    view: species
    count: 7
`

func executeTest(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := executeTest(t, &RootOptions{Format: "text"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	_, err := executeTest(t, &RootOptions{Format: "text"}, "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	out, err := executeTest(t, &RootOptions{Format: "text"}, t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")
}

func TestTestCommandEmptyScenariosDirJSON(t *testing.T) {
	out, err := executeTest(t, &RootOptions{Format: "json"}, t.TempDir())
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 0, resp.Data.Total)
}

func TestTestCommandDemoScenarios(t *testing.T) {
	dir := filepath.Join("..", "..", "testdata", "scenarios")

	out, err := executeTest(t, &RootOptions{Format: "text"}, dir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "\u2713 penguins_crossfilter")
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestTestCommandPassingAndFailing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "menu_counts.yaml", passingScenario)
	writeFile(t, dir, "wrong_count.yaml", failingScenario)

	out, err := executeTest(t, &RootOptions{Format: "text"}, dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	assert.Contains(t, out, "\u2713 menu_counts")
	assert.Contains(t, out, "\u2717 wrong_count")
	assert.Contains(t, out, "1 passed, 1 failed, 2 total")
}

func TestTestCommandFilter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "menu_counts.yaml", passingScenario)
	writeFile(t, dir, "wrong_count.yaml", failingScenario)

	out, err := executeTest(t, &RootOptions{Format: "text"}, dir, "--filter", "menu*")
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
	assert.NotContains(t, out, "wrong_count")
}

func TestTestCommandJSONFailure(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "wrong_count.yaml", failingScenario)

	out, err := executeTest(t, &RootOptions{Format: "json"}, dir)
	require.Error(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.False(t, resp.Data.Scenarios[0].Pass)
	assert.NotEmpty(t, resp.Data.Scenarios[0].Errors)
}

func TestTestCommandLoadError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", "name: broken\n")

	out, err := executeTest(t, &RootOptions{Format: "text"}, dir)
	require.Error(t, err)
	assert.Contains(t, out, "\u2717 broken")
	assert.Contains(t, out, "failed to load scenario")
}

func TestTestCommandGoldenUpdateAndCompare(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "menu_counts.yaml", passingScenario)

	out, err := executeTest(t, &RootOptions{Format: "text"}, dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "(golden updated)")

	goldenPath := filepath.Join(dir, "golden", "menu_counts.golden")
	golden, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"scenario":"menu_counts"`)

	// The recorded trace reproduces.
	_, err = executeTest(t, &RootOptions{Format: "text"}, dir)
	require.NoError(t, err)

	// A tampered golden file is a failure.
	require.NoError(t, os.WriteFile(goldenPath, []byte(`{"scenario":"menu_counts","trace":[]}`), 0644))
	out, err = executeTest(t, &RootOptions{Format: "text"}, dir)
	require.Error(t, err)
	assert.Contains(t, out, "trace does not match golden file")
}

func TestGoldenFilePath(t *testing.T) {
	got := goldenFilePath("scenarios", filepath.Join("scenarios", "nested", "demo.yaml"))
	assert.Equal(t, filepath.Join("scenarios", "golden", "demo.golden"), got)
}
