package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/endstate/pkg/config"
	"github.com/openfroyo/endstate/pkg/engine"
	"github.com/openfroyo/endstate/pkg/stores"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

// cli runs endstate commands against a private state directory.
type cli struct {
	t        *testing.T
	stateDir string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	for _, key := range []string{config.EnvStateDir, config.EnvTrustedRoot, config.EnvPackageManager, config.EnvLogLevel} {
		t.Setenv(key, "")
	}
	return &cli{t: t, stateDir: t.TempDir()}
}

func (c *cli) run(args ...string) (string, int) {
	c.t.Helper()

	root := newRootCommand("1.0.0", "abc123", "2026-10-18")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--state-dir", c.stateDir}, args...))

	err := root.ExecuteContext(context.Background())
	return out.String(), exitCodeOf(err)
}

func (c *cli) runJSON(args ...string) (map[string]any, int) {
	c.t.Helper()

	out, code := c.run(append([]string{"--json"}, args...)...)
	var doc map[string]any
	require.NoError(c.t, json.Unmarshal([]byte(out), &doc), out)
	return doc, code
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const stateDoc = `{
  "schemaVersion": 1,
  "lastApplied": {"manifestPath": "/work/machine.yaml", "manifestHash": "sha256:aa", "timestampUtc": "2026-10-18T09:00:00Z"},
  "lastVerify": null,
  "appsObserved": {
    "git": {"installed": true, "driver": "winget", "version": "2.47.0", "versionSatisfied": true, "lastSeenUtc": "2026-10-18T09:00:00Z"}
  }
}`

func TestVersion(t *testing.T) {
	c := newCLI(t)

	doc, code := c.runJSON("version")
	assert.Equal(t, engine.ExitSuccess, code)
	assert.Equal(t, "endstate", doc["command"])
	assert.Equal(t, "1.0.0", doc["version"])
	assert.Equal(t, "abc123", doc["commit"])
}

func TestReportWithoutState(t *testing.T) {
	c := newCLI(t)

	out, code := c.run("--json", "report")
	assert.Equal(t, engine.ExitSuccess, code)
	assert.Equal(t, "{\"hasState\":false}\n", out)
}

func TestStateLifecycle(t *testing.T) {
	c := newCLI(t)
	in := writeFile(t, "state.json", stateDoc)

	doc, code := c.runJSON("state", "import", "--in", in)
	require.Equal(t, engine.ExitSuccess, code)
	assert.Equal(t, "merge", doc["mode"])
	assert.Equal(t, "1", doc["apps"])

	doc, code = c.runJSON("report")
	require.Equal(t, engine.ExitSuccess, code)
	assert.Equal(t, true, doc["hasState"])

	exported := filepath.Join(t.TempDir(), "export.json")
	_, code = c.run("state", "export", "--out", exported)
	require.Equal(t, engine.ExitSuccess, code)
	data, err := os.ReadFile(exported)
	require.NoError(t, err)
	state, err := stores.DecodeState(data)
	require.NoError(t, err)
	assert.Equal(t, "2.47.0", state.AppsObserved["git"].Version)

	doc, code = c.runJSON("state", "import", "--in", in, "--mode", "replace")
	require.Equal(t, engine.ExitSuccess, code)
	assert.NotEmpty(t, doc["backup"])

	_, code = c.run("state", "reset")
	require.Equal(t, engine.ExitSuccess, code)

	out, code := c.run("--json", "report")
	assert.Equal(t, engine.ExitSuccess, code)
	assert.Equal(t, "{\"hasState\":false}\n", out)

	history, err := stores.NewSQLiteStore(stores.Config{Path: filepath.Join(c.stateDir, "history.db")})
	require.NoError(t, err)
	require.NoError(t, history.Init(context.Background()))
	t.Cleanup(func() { _ = history.Close() })

	entries, err := history.ListAuditEntries(context.Background(), nil, nil, 10, 0)
	require.NoError(t, err)
	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.ElementsMatch(t, []string{"state.import", "state.export", "state.import", "state.reset"}, actions)
}

func TestStateImportRejectsSchemaMismatch(t *testing.T) {
	c := newCLI(t)
	in := writeFile(t, "state.json", `{"schemaVersion": 2, "appsObserved": {}}`)

	doc, code := c.runJSON("state", "import", "--in", in)
	assert.Equal(t, engine.ExitInputError, code)
	assert.Equal(t, false, doc["success"])

	errDoc, ok := doc["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "SCHEMA_MISMATCH", errDoc["code"])

	_, err := os.Stat(filepath.Join(c.stateDir, "state.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestStateImportInvalidMode(t *testing.T) {
	c := newCLI(t)
	in := writeFile(t, "state.json", stateDoc)

	_, code := c.run("state", "import", "--in", in, "--mode", "overwrite")
	assert.Equal(t, engine.ExitInputError, code)
}

func TestCorruptStateIsAStateError(t *testing.T) {
	c := newCLI(t)
	require.NoError(t, os.WriteFile(filepath.Join(c.stateDir, "state.json"), []byte("{not json"), 0o644))

	_, code := c.run("report")
	assert.Equal(t, engine.ExitStateError, code)
}

func TestDiff(t *testing.T) {
	c := newCLI(t)
	left := writeFile(t, "a.json", `{"items":[{"id":"git","reason":"would_install"}]}`)
	right := writeFile(t, "b.json", `{"items":[{"id":"git","reason":"already_installed"},{"id":"node","reason":"would_install"}]}`)

	doc, code := c.runJSON("diff", left, right)
	assert.Equal(t, engine.ExitSuccess, code)
	assert.Len(t, doc["added"], 2)
	assert.Len(t, doc["changed"], 1)

	out, code := c.run("diff", left, right)
	assert.Equal(t, engine.ExitSuccess, code)
	assert.Contains(t, out, "items[git].reason")
	assert.Contains(t, out, "items[node].id")
}

func TestDiffRejectsInvalidArtifact(t *testing.T) {
	c := newCLI(t)
	left := writeFile(t, "a.json", `{}`)
	right := writeFile(t, "b.json", `not json`)

	_, code := c.run("diff", left, right)
	assert.Equal(t, engine.ExitInputError, code)
}

func TestValidate(t *testing.T) {
	c := newCLI(t)
	m := writeFile(t, "machine.yaml", `
version: 1
name: workstation
apps:
  - id: git
    refs:
      default: Git.Git
`)

	doc, code := c.runJSON("validate", "--manifest", m)
	assert.Equal(t, engine.ExitSuccess, code)
	assert.Equal(t, "1", doc["apps"])
	assert.Equal(t, "0", doc["warnings"])
}

func TestValidateInvalidManifest(t *testing.T) {
	c := newCLI(t)
	m := writeFile(t, "machine.yaml", "version: 1\napps:\n  - refs:\n      default: Git.Git\n")

	doc, code := c.runJSON("validate", "--manifest", m)
	assert.Equal(t, engine.ExitInputError, code)
	errDoc, ok := doc["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, engine.ErrCodeManifestInvalid, errDoc["code"])
}

func TestValidatePolicyDenied(t *testing.T) {
	c := newCLI(t)
	m := writeFile(t, "machine.yaml", `
version: 1
apps:
  - id: tool
    driver: custom
    custom:
      installScript: setup.exe
      detect:
        type: file
        path: C:\Tools\tool.exe
`)

	doc, code := c.runJSON("validate", "--manifest", m)
	assert.Equal(t, engine.ExitPolicyDenied, code)
	errDoc, ok := doc["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, engine.ErrCodePolicyDenied, errDoc["code"])
}

func TestHistoryEmpty(t *testing.T) {
	c := newCLI(t)

	out, code := c.run("--json", "history")
	assert.Equal(t, engine.ExitSuccess, code)
	assert.Equal(t, "{\"runs\":[]}\n", out)
}

func TestHistoryDisabled(t *testing.T) {
	c := newCLI(t)
	settings := writeFile(t, "endstate.yaml", "history:\n  enabled: false\n")

	_, code := c.run("--config", settings, "history")
	assert.Equal(t, engine.ExitInputError, code)
}

func TestMissingRequiredFlag(t *testing.T) {
	c := newCLI(t)

	_, code := c.run("apply")
	assert.Equal(t, engine.ExitInputError, code)
}

func TestHistoryDelete(t *testing.T) {
	c := newCLI(t)
	ctx := context.Background()

	history, err := stores.NewSQLiteStore(stores.Config{Path: filepath.Join(c.stateDir, "history.db")})
	require.NoError(t, err)
	require.NoError(t, history.Init(ctx))
	require.NoError(t, history.Migrate(ctx))
	require.NoError(t, history.CreateRun(ctx, &stores.Run{
		ID:        "run-1",
		Command:   "apply",
		Status:    stores.RunStatusRunning,
		StartedAt: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, history.Close())

	doc, code := c.runJSON("history", "delete", "run-1")
	require.Equal(t, engine.ExitSuccess, code)
	assert.Equal(t, "run-1", doc["run"])

	out, code := c.run("--json", "history")
	assert.Equal(t, engine.ExitSuccess, code)
	assert.Equal(t, "{\"runs\":[]}\n", out)

	doc, code = c.runJSON("history", "delete", "run-1")
	assert.Equal(t, engine.ExitInputError, code)
	errDoc, ok := doc["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "RUN_NOT_FOUND", errDoc["code"])
}

func TestApplyRejectsUnknownEventLevel(t *testing.T) {
	c := newCLI(t)

	doc, code := c.runJSON("apply", "--manifest", "machine.yaml", "--events-level", "loud")
	assert.Equal(t, engine.ExitInputError, code)
	errDoc, ok := doc["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "EVENTS_LEVEL_INVALID", errDoc["code"])
}

func TestValidateRejectsCustomAppWithoutDetection(t *testing.T) {
	c := newCLI(t)
	m := writeFile(t, "machine.yaml", `
version: 1
apps:
  - id: tool
    driver: custom
    custom:
      installScript: install.ps1
`)

	doc, code := c.runJSON("validate", "--manifest", m)
	assert.Equal(t, engine.ExitPolicyDenied, code)
	errDoc, ok := doc["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, engine.ErrCodePolicyDenied, errDoc["code"])
	details, ok := errDoc["details"].(map[string]any)
	require.True(t, ok)
	violations, ok := details["violations"].([]any)
	require.True(t, ok)
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0], "pinned-custom-apps")
}
