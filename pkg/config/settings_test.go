package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvStateDir, EnvTrustedRoot, EnvPackageManager, EnvLogLevel} {
		t.Setenv(key, "")
	}
}

func writeSettings(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "endstate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()

	assert.NotEmpty(t, s.StateDir)
	assert.Equal(t, "auto", s.PackageManager)
	assert.True(t, s.History.Enabled)
	assert.Equal(t, "info", s.Logging.Level)
	assert.NoError(t, s.Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)

	s, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)

	s, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	path := writeSettings(t, `
stateDir: `+dir+`
packageManager: apt
platform: linux
policyDir: /etc/endstate/policies
history:
  enabled: false
logging:
  level: debug
  format: json
  output: stdout
metrics:
  textfile: /tmp/endstate.prom
`)

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, dir, s.StateDir)
	assert.Equal(t, "apt", s.PackageManager)
	assert.Equal(t, "linux", s.Platform)
	assert.Equal(t, "/etc/endstate/policies", s.PolicyDir)
	assert.False(t, s.History.Enabled)
	assert.Equal(t, "json", s.Logging.Format)
	assert.Equal(t, "/tmp/endstate.prom", s.Metrics.Textfile)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	clearEnv(t)
	path := writeSettings(t, "stateDir: [unterminated\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse settings")
}

func TestLoadValidates(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"package manager", "packageManager: brew\n", "PackageManager"},
		{"platform", "platform: plan9\n", "Platform"},
		{"log level", "logging:\n  level: loud\n", "Logging.Level"},
		{"otlp without endpoint", "tracing:\n  enabled: true\n  exporter: otlp\n", "Tracing.Endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeSettings(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid settings")
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvStateDir, dir)
	t.Setenv(EnvTrustedRoot, "/opt/scripts")
	t.Setenv(EnvPackageManager, "WINGET")
	t.Setenv(EnvLogLevel, "Debug")

	path := writeSettings(t, "stateDir: /ignored\npackageManager: apt\n")

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, dir, s.StateDir)
	assert.Equal(t, "/opt/scripts", s.TrustedRoot)
	assert.Equal(t, "winget", s.PackageManager)
	assert.Equal(t, "debug", s.Logging.Level)
}

func TestStateAndHistoryFiles(t *testing.T) {
	s := DefaultSettings()
	s.StateDir = filepath.Join("var", "endstate")

	assert.Equal(t, filepath.Join("var", "endstate", "state.json"), s.StateFile())
	assert.Equal(t, filepath.Join("var", "endstate", "history.db"), s.HistoryFile())

	s.StatePath = "custom.json"
	s.History.Path = "runs.db"
	assert.Equal(t, "custom.json", s.StateFile())
	assert.Equal(t, "runs.db", s.HistoryFile())

	s.History.Enabled = false
	assert.Empty(t, s.HistoryFile())
}

func TestEngineConfig(t *testing.T) {
	s := DefaultSettings()
	s.StateDir = t.TempDir()
	s.PackageManager = "dnf"

	manifestDir := t.TempDir()
	cfg := s.EngineConfig(filepath.Join(manifestDir, "apps.yaml"))

	assert.Equal(t, runtime.GOOS, cfg.Platform)
	assert.Equal(t, manifestDir, cfg.TrustedRoot)
	assert.Equal(t, filepath.Join(s.StateDir, "state.json"), cfg.StatePath)
	assert.Equal(t, filepath.Join(s.StateDir, "history.db"), cfg.HistoryPath)
	assert.Equal(t, "dnf", cfg.PackageManager)

	s.TrustedRoot = "/srv/scripts"
	s.Platform = "windows"
	cfg = s.EngineConfig(filepath.Join(manifestDir, "apps.yaml"))
	assert.Equal(t, "/srv/scripts", cfg.TrustedRoot)
	assert.Equal(t, "windows", cfg.Platform)
}

func TestTelemetryConfig(t *testing.T) {
	s := DefaultSettings()
	s.Logging.Level = "warn"
	s.Metrics.Textfile = "/tmp/endstate.prom"

	cfg := s.TelemetryConfig("1.2.3")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "/tmp/endstate.prom", cfg.Metrics.Textfile)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, "none", cfg.Tracing.Exporter)

	s.Tracing = TracingSettings{Enabled: true, Exporter: "otlp", Endpoint: "localhost:4317", Insecure: true}
	cfg = s.TelemetryConfig("")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "dev", cfg.ServiceVersion)
	assert.Equal(t, "otlp", cfg.Tracing.Exporter)
	assert.Equal(t, "localhost:4317", cfg.Tracing.Endpoint)
}
