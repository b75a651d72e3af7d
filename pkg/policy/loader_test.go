package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderRegoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "no-beta.rego")
	require.NoError(t, os.WriteFile(path, []byte(betaPolicy), 0o644))

	policies, err := NewLoader(zerolog.Nop()).LoadFromPaths(context.Background(), []string{path})
	require.NoError(t, err)
	require.Len(t, policies, 1)

	p := policies[0]
	assert.Equal(t, "no-beta", p.Name)
	assert.Equal(t, betaPolicy, p.Rego)
	assert.Equal(t, SeverityWarning, p.Severity)
	assert.True(t, p.Enabled)
	assert.Equal(t, path, p.Source)
}

func TestLoaderJSONFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "named.json"),
		[]byte(`{"name":"named","rego":"package named\n","enabled":true}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "anonymous.json"),
		[]byte(`{"rego":"package anonymous\n"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "garbage.json"), []byte(`{`), 0o644))

	policies, err := NewLoader(zerolog.Nop()).LoadFromPaths(context.Background(), []string{dir})
	require.NoError(t, err)
	require.Len(t, policies, 1, "unparseable files are skipped")
	assert.Equal(t, "named", policies[0].Name)
	assert.Equal(t, SeverityWarning, policies[0].Severity)
}

func TestLoaderMissingPath(t *testing.T) {
	_, err := NewLoader(zerolog.Nop()).LoadFromPaths(context.Background(), []string{filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}

func TestExtractDescription(t *testing.T) {
	l := NewLoader(zerolog.Nop())
	assert.Equal(t, "First line. Second line.", l.extractDescription("# First line.\n# Second line.\npackage x\n# not this\n"))
	assert.Empty(t, l.extractDescription("package x\n"))
}
