package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/endstate/pkg/engine"
	"github.com/openfroyo/endstate/pkg/telemetry"
)

// Environment variables that override the settings file.
const (
	EnvStateDir       = "ENDSTATE_STATE_DIR"
	EnvTrustedRoot    = "ENDSTATE_TRUSTED_ROOT"
	EnvPackageManager = "ENDSTATE_PACKAGE_MANAGER"
	EnvLogLevel       = "ENDSTATE_LOG_LEVEL"
)

// Settings is the process configuration of the endstate CLI.
type Settings struct {
	// StateDir holds the state document and the run history database.
	StateDir string `yaml:"stateDir" validate:"required"`

	// StatePath overrides <StateDir>/state.json.
	StatePath string `yaml:"statePath,omitempty"`

	// TrustedRoot is the directory custom install scripts must live under.
	// Empty means the directory of the manifest being run.
	TrustedRoot string `yaml:"trustedRoot,omitempty"`

	// Platform is the refs key tried first. Empty means runtime.GOOS.
	Platform string `yaml:"platform,omitempty" validate:"omitempty,oneof=windows linux darwin"`

	// PackageManager selects the standard driver backend.
	PackageManager string `yaml:"packageManager" validate:"required,oneof=auto winget apt dnf yum"`

	// PolicyDir holds extra .rego policies evaluated before apply.
	PolicyDir string `yaml:"policyDir,omitempty"`

	History HistorySettings `yaml:"history"`
	Logging LoggingSettings `yaml:"logging"`
	Metrics MetricsSettings `yaml:"metrics"`
	Tracing TracingSettings `yaml:"tracing"`
}

// HistorySettings configures the run history database.
type HistorySettings struct {
	Enabled bool `yaml:"enabled"`

	// Path overrides <StateDir>/history.db.
	Path string `yaml:"path,omitempty"`
}

// LoggingSettings configures the process logger.
type LoggingSettings struct {
	Level  string `yaml:"level" validate:"required,oneof=trace debug info warn error fatal"`
	Format string `yaml:"format" validate:"required,oneof=console json"`
	Output string `yaml:"output" validate:"required"`
}

// MetricsSettings configures the Prometheus textfile export.
type MetricsSettings struct {
	// Textfile is rewritten at the end of every run. Empty disables it.
	Textfile string `yaml:"textfile,omitempty"`
}

// TracingSettings configures OpenTelemetry tracing.
type TracingSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter" validate:"omitempty,oneof=stdout otlp none"`
	Endpoint string `yaml:"endpoint,omitempty" validate:"required_if=Exporter otlp"`
	Insecure bool   `yaml:"insecure,omitempty"`
}

// DefaultSettings returns the settings used when no file is present.
func DefaultSettings() *Settings {
	return &Settings{
		StateDir:       defaultStateDir(),
		PackageManager: "auto",
		History:        HistorySettings{Enabled: true},
		Logging: LoggingSettings{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingSettings{Exporter: "none"},
	}
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "endstate")
	}
	return ".endstate"
}

// Load reads settings from a YAML file. A missing file, or an empty path,
// yields the defaults. Environment overrides are applied in both cases.
func Load(path string) (*Settings, error) {
	s := DefaultSettings()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read settings: %w", err)
		default:
			if err := yaml.Unmarshal(data, s); err != nil {
				return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
			}
		}
	}

	s.applyEnvOverrides()

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) applyEnvOverrides() {
	if dir := os.Getenv(EnvStateDir); dir != "" {
		s.StateDir = dir
	}
	if root := os.Getenv(EnvTrustedRoot); root != "" {
		s.TrustedRoot = root
	}
	if pm := os.Getenv(EnvPackageManager); pm != "" {
		s.PackageManager = strings.ToLower(pm)
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		s.Logging.Level = strings.ToLower(level)
	}
}

// Validate checks the settings against their struct constraints.
func (s *Settings) Validate() error {
	err := validator.New().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid settings: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Settings.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s (got %q)", field, fe.Tag(), fe.Param(), fmt.Sprint(fe.Value())))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid settings: %s", strings.Join(msgs, "; "))
}

// StateFile returns the state document location.
func (s *Settings) StateFile() string {
	if s.StatePath != "" {
		return s.StatePath
	}
	return filepath.Join(s.StateDir, "state.json")
}

// HistoryFile returns the run history database, or "" when history is
// disabled.
func (s *Settings) HistoryFile() string {
	if !s.History.Enabled {
		return ""
	}
	if s.History.Path != "" {
		return s.History.Path
	}
	return filepath.Join(s.StateDir, "history.db")
}

// EngineConfig builds the engine configuration for a run against
// manifestPath.
func (s *Settings) EngineConfig(manifestPath string) engine.Config {
	cfg := engine.Config{
		Platform:       s.Platform,
		TrustedRoot:    s.TrustedRoot,
		StatePath:      s.StateFile(),
		HistoryPath:    s.HistoryFile(),
		PackageManager: s.PackageManager,
		PolicyDir:      s.PolicyDir,
	}
	if cfg.Platform == "" {
		cfg.Platform = runtime.GOOS
	}
	if cfg.TrustedRoot == "" && manifestPath != "" {
		if abs, err := filepath.Abs(manifestPath); err == nil {
			cfg.TrustedRoot = filepath.Dir(abs)
		}
	}
	return cfg
}

// TelemetryConfig builds the telemetry configuration reported under
// serviceVersion.
func (s *Settings) TelemetryConfig(serviceVersion string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	if serviceVersion != "" {
		cfg.ServiceVersion = serviceVersion
	}

	cfg.Logging.Level = s.Logging.Level
	cfg.Logging.Format = s.Logging.Format
	cfg.Logging.Output = s.Logging.Output

	cfg.Metrics.Textfile = s.Metrics.Textfile

	cfg.Tracing.Enabled = s.Tracing.Enabled
	if s.Tracing.Exporter != "" {
		cfg.Tracing.Exporter = s.Tracing.Exporter
	}
	cfg.Tracing.Endpoint = s.Tracing.Endpoint
	cfg.Tracing.Insecure = s.Tracing.Insecure
	if !cfg.Tracing.Enabled {
		cfg.Tracing.Exporter = "none"
	}
	return cfg
}
