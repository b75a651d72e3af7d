package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/endstate/pkg/config"
	"github.com/openfroyo/endstate/pkg/drivers"
	"github.com/openfroyo/endstate/pkg/engine"
	"github.com/openfroyo/endstate/pkg/policy"
	"github.com/openfroyo/endstate/pkg/stores"
	"github.com/openfroyo/endstate/pkg/telemetry"
)

// session is the process-wide wiring of one command invocation: settings,
// telemetry, the state document and the optional run history.
type session struct {
	settings  *config.Settings
	telemetry *telemetry.Telemetry
	state     *stores.FileStateStore
	history   *stores.SQLiteStore
}

// openSession loads settings and opens the stores they name. A history
// database that cannot be opened is logged and disabled; it never blocks a
// command.
func openSession(ctx context.Context, flags *globalFlags) (*session, error) {
	settings, err := config.Load(flags.configPath)
	if err != nil {
		return nil, engine.NewInputError("SETTINGS_INVALID", "cannot load settings", err)
	}
	if flags.stateDir != "" {
		settings.StateDir = flags.stateDir
	}
	if flags.verbose {
		settings.Logging.Level = "debug"
	}

	tel, err := telemetry.NewTelemetry(settings.TelemetryConfig(flags.version))
	if err != nil {
		return nil, engine.NewInputError("SETTINGS_INVALID", "cannot initialize telemetry", err)
	}

	s := &session{
		settings:  settings,
		telemetry: tel,
		state:     stores.NewFileStateStore(settings.StateFile()),
	}

	if path := settings.HistoryFile(); path != "" {
		history, err := openHistory(ctx, path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Run history unavailable")
		} else {
			s.history = history
		}
	}

	return s, nil
}

func openHistory(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := store.HealthCheck(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("run history is unhealthy: %w", err)
	}
	return store, nil
}

// close flushes telemetry and closes the history database.
func (s *session) close() {
	// Shutdown must run even when the command context was cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.telemetry.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close run history")
		}
	}
}

// dispatcher builds the driver dispatcher for cfg.
func (s *session) dispatcher(cfg engine.Config) (*drivers.Dispatcher, error) {
	runner := drivers.NewExecRunner()

	pm, err := drivers.NewPackageManager(cfg.PackageManager, runner)
	if err != nil {
		return nil, engine.NewFatalError(engine.ErrCodeDriverUnavailable, "no usable package manager", err)
	}

	standard := drivers.NewStandardDriver(pm, cfg.Platform)
	custom := drivers.NewCustomDriver(cfg.TrustedRoot, runner, drivers.NewDetector(cfg.Platform))
	return drivers.NewDispatcher(standard, custom), nil
}

// policyEngine builds the manifest policy gate with any policies from the
// configured policy directory.
func (s *session) policyEngine(ctx context.Context, cfg engine.Config) (*policy.Engine, error) {
	pe, err := policy.NewEngine(s.telemetry.Logger.NewComponentLogger("policy").Zerolog(), cfg.Platform)
	if err != nil {
		return nil, engine.NewFatalError(engine.ErrCodeInternal, "cannot initialize policies", err)
	}
	if cfg.PolicyDir != "" {
		if err := pe.LoadPolicies(ctx, []string{cfg.PolicyDir}); err != nil {
			return nil, engine.NewInputError("POLICY_INVALID", "cannot load policies", err)
		}
	}
	return pe, nil
}

// newEngine builds a reconciliation engine for manifestPath.
func (s *session) newEngine(ctx context.Context, manifestPath string) (*engine.Engine, error) {
	cfg := s.settings.EngineConfig(manifestPath)

	loader, err := manifestLoader()
	if err != nil {
		return nil, err
	}

	dispatcher, err := s.dispatcher(cfg)
	if err != nil {
		return nil, err
	}

	pe, err := s.policyEngine(ctx, cfg)
	if err != nil {
		return nil, err
	}

	opts := engine.Options{
		Loader:  loader,
		Drivers: dispatcher,
		State:   s.state,
		Policy:  pe,
		Events:  s.telemetry.Events,
		Logger:  s.telemetry.Logger,
		Metrics: s.telemetry.Metrics,
		Tracer:  s.telemetry.Tracer,
	}
	if s.history != nil {
		opts.History = engine.NewStoreRecorder(s.history)
	}

	log.Debug().
		Str("platform", cfg.Platform).
		Str("package_manager", dispatcher.PackageManager()).
		Str("trusted_root", cfg.TrustedRoot).
		Str("state", cfg.StatePath).
		Msg("Engine configured")

	return engine.New(cfg, opts)
}

// audit records a state-changing operation in the run history. Failures
// are logged only.
func (s *session) audit(ctx context.Context, action, target string, details any) {
	if s.history == nil {
		return
	}

	entry := &stores.AuditEntry{
		Action:    action,
		Actor:     actor(),
		Timestamp: time.Now().UTC(),
	}
	if target != "" {
		entry.TargetID = &target
	}
	if details != nil {
		if data, err := json.Marshal(details); err == nil {
			d := string(data)
			entry.Details = &d
		}
	}

	if err := s.history.CreateAuditEntry(ctx, entry); err != nil {
		log.Warn().Err(err).Str("action", action).Msg("Failed to record audit entry")
	}
}

func actor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}
