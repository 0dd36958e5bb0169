package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/countrydb/testutil"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func fixture(t *testing.T) (dir, file string) {
	t.Helper()
	tmp := t.TempDir()
	file = filepath.Join(tmp, "countries.json")
	require.NoError(t, os.WriteFile(file, testutil.Batch(testutil.GermanyFrance()...), 0o600))
	return filepath.Join(tmp, "data"), file
}

func TestCommands(t *testing.T) {
	dir, file := fixture(t)

	out, err := run(t, "ingest", "--dir", dir, "--file", file, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "4 entries")

	out, err = run(t, "ingest", "--dir", dir, "--file", file, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "table exists")

	out, err = run(t, "get", "Germany", "--dir", dir, "--log-level", "error")
	require.NoError(t, err)
	assert.Equal(t, "DEU\tGermany\n", out)

	_, err = run(t, "get", "Atlantis", "--dir", dir, "--log-level", "error")
	assert.ErrorIs(t, err, errNotFound)

	out, err = run(t, "borders", "DEU", "--dir", dir, "--log-level", "error")
	require.NoError(t, err)
	assert.Equal(t, "DEU\tGermany\n  FRA\tFrance\n", out)

	out, err = run(t, "scan", "--dir", dir, "--limit", "2", "--log-level", "error")
	require.NoError(t, err)
	assert.Equal(t, "DEU\tDEU\nFRA\tFRA\n", out)

	out, err = run(t, "stats", "--dir", dir, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "initialized: true")
	assert.Contains(t, out, "entries:     4")
}

func TestCommands_JSON(t *testing.T) {
	dir, file := fixture(t)
	_, err := run(t, "ingest", "--dir", dir, "--file", file, "--log-level", "error")
	require.NoError(t, err)

	out, err := run(t, "borders", "Germany", "--dir", dir, "--format", "json", "--log-level", "error")
	require.NoError(t, err)

	var res struct {
		Record    map[string]any   `json:"record"`
		Neighbors []map[string]any `json:"neighbors"`
	}
	require.NoError(t, gojson.Unmarshal([]byte(out), &res))
	assert.Equal(t, "DEU", res.Record["cca3"])
	require.Len(t, res.Neighbors, 1)
	assert.Equal(t, "FRA", res.Neighbors[0]["cca3"])

	out, err = run(t, "scan", "--dir", dir, "--prefix", "Fr", "--format", "json", "--log-level", "error")
	require.NoError(t, err)
	var entries []struct {
		Key string `json:"key"`
	}
	require.NoError(t, gojson.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "France", entries[0].Key)
}

func TestCommands_Uninitialized(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	out, err := run(t, "stats", "--dir", dir, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "initialized: false")

	_, err = run(t, "get", "DEU", "--dir", dir, "--log-level", "error")
	assert.Error(t, err)
}

func TestCommands_ConfigFile(t *testing.T) {
	dir, file := fixture(t)
	t.Setenv("COUNTRYDB_TEST_DIR", dir)
	t.Setenv("COUNTRYDB_TEST_FILE", file)
	cfg := writeConfig(t, `
dir: ${COUNTRYDB_TEST_DIR}
compression: none
log_level: error
source:
  kind: file
  path: ${COUNTRYDB_TEST_FILE}
`)

	out, err := run(t, "ingest", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "built")

	out, err = run(t, "stats", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "compression: none")
}

func TestCommands_BadFormat(t *testing.T) {
	_, err := run(t, "stats", "--format", "xml")
	assert.Error(t, err)
}
