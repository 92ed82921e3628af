package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/weave/am"
	"github.com/teranos/weave/shacl"
)

// isolate points config and database at a fresh directory.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)
	t.Setenv("WEAVE_DATABASE_PATH", filepath.Join(dir, "weave.db"))
	am.Reset()
	t.Cleanup(am.Reset)
	pterm.DisableStyling()
	return dir
}

func run(t *testing.T, cmd *cobra.Command, fn func(*cobra.Command, []string) error, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetContext(context.Background())
	err := fn(cmd, args)
	return out.String(), errOut.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNeighbourhoodID(t *testing.T) {
	cmd := neighbourhoodIDCmd
	a, _, err := run(t, cmd, cmd.RunE, "book-club")
	require.NoError(t, err)
	b, _, err := run(t, cmd, cmd.RunE, "book-club")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "neighbourhood://Qm"))

	random, _, err := run(t, cmd, cmd.RunE)
	require.NoError(t, err)
	assert.NotEqual(t, a, random)
}

func TestPublishThenQuery(t *testing.T) {
	dir := isolate(t)
	shapePath = ""
	claims := writeFile(t, dir, "claims.ttl", `<urn:a> <urn:knows> <urn:b> .`)

	out, _, err := run(t, PublishCmd, runPublish, claims)
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	assert.True(t, strings.HasPrefix(id, "urn:uuid:"), id)

	// a second process sees the persisted graph
	out, _, err = run(t, QueryCmd, runQuery, `SELECT ?g ?o WHERE { GRAPH ?g { <urn:a> <urn:knows> ?o } }`)
	require.NoError(t, err)
	assert.Contains(t, out, "urn:b")
	assert.Contains(t, out, id)

	out, _, err = run(t, QueryCmd, runQuery, `ASK { GRAPH ?g { <urn:a> <urn:knows> <urn:c> } }`)
	require.NoError(t, err)
	assert.Equal(t, "false\n", out)

	_, _, err = run(t, QueryCmd, runQuery, `SELECT WHERE`)
	assert.Error(t, err)
}

func TestPublishRejectsShapeViolation(t *testing.T) {
	dir := isolate(t)
	shapePath = writeFile(t, dir, "shape.ttl", `
@prefix sh: <http://www.w3.org/ns/shacl#> .
<urn:NameShape> a sh:NodeShape ;
    sh:targetSubjectsOf <urn:name> ;
    sh:property [ sh:path <urn:name> ; sh:maxLength 3 ] .
`)
	t.Cleanup(func() { shapePath = "" })
	claims := writeFile(t, dir, "claims.ttl", `<urn:a> <urn:name> "Bartholomew" .`)

	_, stderr, err := run(t, PublishCmd, runPublish, claims)
	var verr *shacl.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, stderr, "urn:a")
}

func TestAmCommands(t *testing.T) {
	dir := isolate(t)
	t.Setenv("WEAVE_CARRIER_KIND", "bus")

	out, _, err := run(t, amGetCmd, runAmGet, "carrier.kind")
	require.NoError(t, err)
	assert.Equal(t, "bus\t(environment WEAVE_CARRIER_KIND)\n", out)

	_, _, err = run(t, amGetCmd, runAmGet, "nope.nothing")
	assert.Error(t, err)

	path := filepath.Join(dir, "init", "am.toml")
	out, _, err = run(t, amInitCmd, runAmInit, path)
	require.NoError(t, err)
	assert.Equal(t, path+"\n", out)
	_, _, err = run(t, amInitCmd, runAmInit, path)
	assert.Error(t, err, "init refuses to overwrite")

	out, _, err = run(t, amValidateCmd, runAmValidate, path)
	require.NoError(t, err)
	assert.Contains(t, out, "valid")

	bad := writeFile(t, dir, "bad.toml", "[carrier]\nkind = \"pigeon\"\n")
	_, _, err = run(t, amValidateCmd, runAmValidate, bad)
	assert.Error(t, err)

	configFormat = "toml"
	out, _, err = run(t, amShowCmd, runAmShow)
	require.NoError(t, err)
	assert.Contains(t, out, "weave-sandbox")
}

func TestVersion(t *testing.T) {
	out, _, err := run(t, VersionCmd, VersionCmd.RunE)
	require.NoError(t, err)
	assert.Contains(t, out, "weave dev")
	assert.Contains(t, out, "Sandbox protocol: 1")
}
