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

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestNormalizeCommandJSONSchema(t *testing.T) {
	dir := t.TempDir()
	schema := writeFile(t, dir, "schema.json", `{"type": "object", "properties": {"display": {"x-rename": "name"}}}`)
	data := writeFile(t, dir, "data.json", `{"display": "Acme", "notes": "", "tags": []}`)

	out, _, err := run(t, "normalize", "--schema", schema, "--data", data)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, map[string]any{"name": "Acme"}, got)
}

func TestNormalizeCommandYAMLSchema(t *testing.T) {
	dir := t.TempDir()
	schema := writeFile(t, dir, "fields.yaml", "display:\n  x-rename: name\nurl:\n  type: string\n")
	data := writeFile(t, dir, "data.json", `{"display": "Acme", "url": "{{ env.URL }}"}`)

	out, _, err := run(t, "normalize", "--schema", schema, "--data", data)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, map[string]any{"name": "Acme", "url": "{{ env.URL }}"}, got)
}

func TestNormalizeCommandMissingFile(t *testing.T) {
	dir := t.TempDir()
	data := writeFile(t, dir, "data.json", `{}`)

	_, _, err := run(t, "normalize", "--schema", filepath.Join(dir, "nope.json"), "--data", data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read schema")
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	schema := writeFile(t, dir, "schema.json", `{"type": "object", "required": ["age"], "properties": {"age": {"type": "integer"}}}`)
	good := writeFile(t, dir, "good.json", `{"age": "41"}`)
	bad := writeFile(t, dir, "bad.json", `{"name": "x"}`)

	out, _, err := run(t, "validate", "--schema", schema, "--data", good)
	require.NoError(t, err)
	assert.Equal(t, "valid\n", out)

	_, stderr, err := run(t, "validate", "--schema", schema, "--data", bad)
	assert.ErrorIs(t, err, ErrInvalidPayload)
	assert.Contains(t, stderr, "age")
}
