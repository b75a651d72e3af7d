package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/endstate/pkg/drivers"
	"github.com/openfroyo/endstate/pkg/manifest"
	"github.com/openfroyo/endstate/pkg/stores"
	"github.com/openfroyo/endstate/pkg/telemetry"
	"github.com/openfroyo/endstate/pkg/version"
)

const historyWriteTimeout = 10 * time.Second

// Options holds the engine's collaborators. Loader, Drivers and State are
// required; everything else is optional.
type Options struct {
	Loader  ManifestLoader
	Drivers *drivers.Dispatcher
	State   StateStore
	History HistoryRecorder
	Policy  PolicyGate
	Events  EventSink
	Clock   Clock
	Logger  *telemetry.Logger
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer

	// NewRunID generates run ids. Defaults to random UUIDs.
	NewRunID func() string
}

// Engine reconciles a machine against a manifest. A single Engine runs one
// pass at a time; apps are processed strictly in manifest order.
type Engine struct {
	cfg      Config
	loader   ManifestLoader
	drivers  *drivers.Dispatcher
	state    StateStore
	history  HistoryRecorder
	policy   PolicyGate
	events   EventSink
	clock    Clock
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	newRunID func() string
}

// New creates an engine.
func New(cfg Config, opts Options) (*Engine, error) {
	if opts.Loader == nil {
		return nil, fmt.Errorf("manifest loader is required")
	}
	if opts.Drivers == nil {
		return nil, fmt.Errorf("driver dispatcher is required")
	}
	if opts.State == nil {
		return nil, fmt.Errorf("state store is required")
	}

	e := &Engine{
		cfg:      cfg,
		loader:   opts.Loader,
		drivers:  opts.Drivers,
		state:    opts.State,
		history:  opts.History,
		policy:   opts.Policy,
		events:   opts.Events,
		clock:    opts.Clock,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
		newRunID: opts.NewRunID,
	}
	if e.events == nil {
		e.events = nopSink{}
	}
	if e.clock == nil {
		e.clock = realClock{}
	}
	if e.logger == nil {
		e.logger = telemetry.NewNopLogger()
	}
	if e.tracer == nil {
		e.tracer = telemetry.NewNopTracer()
	}
	if e.newRunID == nil {
		e.newRunID = func() string { return uuid.New().String() }
	}
	e.logger = e.logger.NewComponentLogger("engine")

	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// run is the context of one pass.
type run struct {
	id       string
	command  string
	started  time.Time
	stamp    string
	manifest *manifest.Manifest
	hash     string
	observed map[string]stores.ObservedApp
	logger   *telemetry.Logger
}

func (r *run) observe(entry manifest.AppEntry, status drivers.InstallStatus, check version.Result) {
	r.observed[entry.ID] = stores.ObservedApp{
		Installed:         status.Installed,
		Driver:            string(entry.DriverName()),
		Version:           status.Version,
		VersionConstraint: entry.Version,
		VersionSatisfied:  status.Installed && check.Satisfied,
		LastSeenUTC:       r.stamp,
	}
}

// begin loads and vets the manifest. Live runs also read the current state
// up front, so a corrupt state document aborts the run before any driver is
// called.
func (e *Engine) begin(ctx context.Context, command, manifestPath string, live, gate bool) (*run, *stores.EngineState, error) {
	m, err := e.loader.Load(manifestPath)
	if err != nil {
		return nil, nil, FromManifestError(err)
	}
	if m.Path == "" {
		m.Path = manifestPath
	}

	hash, err := e.loader.Hash(manifestPath)
	if err != nil {
		return nil, nil, NewInputError(ErrCodeManifestUnreadable, "cannot hash manifest", err)
	}

	if gate && e.policy != nil {
		violations, err := e.policy.CheckManifest(ctx, m)
		if err != nil {
			return nil, nil, NewFatalError(ErrCodeInternal, "policy evaluation failed", err)
		}
		if len(violations) > 0 {
			return nil, nil, NewPolicyError("manifest denied by policy", violations)
		}
	}

	var current *stores.EngineState
	if live {
		current, err = e.state.Read()
		if err != nil {
			return nil, nil, FromStateError(err)
		}
	}

	now := e.clock.Now().UTC()
	id := e.newRunID()
	return &run{
		id:       id,
		command:  command,
		started:  now,
		stamp:    stores.FormatTimestamp(now),
		manifest: m,
		hash:     hash,
		observed: make(map[string]stores.ObservedApp),
		logger:   e.logger.WithRunID(id).WithCommand(command),
	}, current, nil
}

// Apply reconciles the machine against the manifest at manifestPath.
//
// Apply returns an error only when the run could not establish ground truth
// (input, policy or state failures) or was cancelled. Per-app failures are
// reported in the result and never abort the pass.
func (e *Engine) Apply(ctx context.Context, manifestPath string, opts ApplyOptions) (*ApplyResult, error) {
	return e.apply(ctx, "apply", manifestPath, opts)
}

// Plan runs a dry-run apply and packages it as a diffable artifact.
func (e *Engine) Plan(ctx context.Context, manifestPath string, opts ApplyOptions) (*Plan, error) {
	opts.DryRun = true
	res, err := e.apply(ctx, "plan", manifestPath, opts)
	if err != nil {
		return nil, err
	}
	return &Plan{
		RunID:        res.RunID,
		ManifestPath: res.ManifestPath,
		ManifestHash: res.ManifestHash,
		CreatedAtUTC: res.TimestampUTC,
		Items:        res.Items,
		Counts:       res.Counts,
	}, nil
}

func (e *Engine) apply(ctx context.Context, command, manifestPath string, opts ApplyOptions) (*ApplyResult, error) {
	r, current, err := e.begin(ctx, command, manifestPath, !opts.DryRun, true)
	if err != nil {
		e.metrics.RecordRun(command, "error", 0)
		e.logger.WithCommand(command).WithError(err).Error("run aborted")
		return nil, err
	}

	ctx, span := e.tracer.StartRunSpan(ctx, command, r.id, r.manifest.Path)
	defer span.End()

	e.events.PublishRunStarted(r.id, command, r.manifest.Path)
	r.logger.Infof("%s started: %d apps, dry run %t", command, len(r.manifest.Apps), opts.DryRun)

	result := &ApplyResult{
		RunID:        r.id,
		ManifestPath: r.manifest.Path,
		ManifestHash: r.hash,
		TimestampUTC: r.stamp,
		DryRun:       opts.DryRun,
		Items:        make([]RunItem, 0, len(r.manifest.Apps)),
	}
	result.Counts.Total = len(r.manifest.Apps)

	e.drivers.Refresh()
	for _, entry := range r.manifest.Apps {
		var item RunItem
		if ctx.Err() != nil {
			item = newItem(entry).with(ItemStatusSkipped, ReasonCancelled, "run cancelled")
		} else {
			item = e.reconcile(ctx, r, entry, opts)
		}
		countItem(&result.Counts, item)
		result.Items = append(result.Items, item)
		e.emit(r, item)
	}

	if err := ctx.Err(); err != nil {
		runErr := NewFatalError(ErrCodeCancelled, command+" cancelled", err)
		result.ExitCode = ExitFailure
		e.finish(ctx, r, span, result.Success, result.ExitCode, opts.DryRun, summaryOf(result), result.Items, runErr)
		return result, runErr
	}

	installOK := result.Counts.Failed == 0
	result.Success = installOK

	if !opts.DryRun && !opts.SkipVerify {
		e.drivers.Refresh()
		v := e.verifyPass(ctx, r, opts.Only)
		result.VerifyResult = v
		result.Success = installOK && v.Success
	}
	result.ExitCode = exitCodeFor(result.Success)

	var runErr error
	if !opts.DryRun {
		if runErr = e.commit(r, current, installOK, result.VerifyResult); runErr != nil {
			result.Success = false
			result.ExitCode = ExitStateError
		}
	}

	e.finish(ctx, r, span, result.Success, result.ExitCode, opts.DryRun, summaryOf(result), result.Items, runErr)
	return result, runErr
}

// Verify classifies every app as present, missing or version-mismatched and
// records the outcome in state.
func (e *Engine) Verify(ctx context.Context, manifestPath string, opts VerifyOptions) (*VerifyResult, error) {
	r, current, err := e.begin(ctx, "verify", manifestPath, true, false)
	if err != nil {
		e.metrics.RecordRun("verify", "error", 0)
		e.logger.WithCommand("verify").WithError(err).Error("run aborted")
		return nil, err
	}

	ctx, span := e.tracer.StartRunSpan(ctx, "verify", r.id, r.manifest.Path)
	defer span.End()

	e.events.PublishRunStarted(r.id, "verify", r.manifest.Path)

	e.drivers.Refresh()
	v := e.verifyPass(ctx, r, opts.Only)
	v.RunID, v.ManifestPath, v.ManifestHash, v.TimestampUTC = r.id, r.manifest.Path, r.hash, r.stamp

	if err := ctx.Err(); err != nil {
		runErr := NewFatalError(ErrCodeCancelled, "verify cancelled", err)
		v.Success, v.ExitCode = false, ExitFailure
		e.finish(ctx, r, span, false, v.ExitCode, false, verifySummary(v), v.Items, runErr)
		return v, runErr
	}

	runErr := e.commit(r, current, false, v)
	if runErr != nil {
		v.Success = false
		v.ExitCode = ExitStateError
	}

	e.finish(ctx, r, span, v.Success, v.ExitCode, false, verifySummary(v), v.Items, runErr)
	return v, runErr
}

// reconcile drives one app through its phases.
func (e *Engine) reconcile(ctx context.Context, r *run, entry manifest.AppEntry, opts ApplyOptions) RunItem {
	item := newItem(entry)
	if skipped, ok := filtered(item, entry, opts.Only); ok {
		return skipped
	}

	ctx, span := e.tracer.StartAppSpan(ctx, entry.ID, item.Driver)
	defer span.End()

	item = e.reconcileEntry(ctx, r, entry, item, opts.DryRun)

	span.SetAttributes(telemetry.AttrStatus.String(string(item.Status)), telemetry.AttrReason.String(item.Reason))
	if item.Status == ItemStatusFailed {
		telemetry.RecordError(span, errors.New(item.Message))
	}
	return item
}

func (e *Engine) reconcileEntry(ctx context.Context, r *run, entry manifest.AppEntry, item RunItem, dryRun bool) RunItem {
	drv, err := e.drivers.For(entry)
	if err != nil {
		return item.with(ItemStatusFailed, ReasonUnknownDriver, err.Error())
	}

	ref, ok := drv.InstallableID(entry)
	if !ok {
		item.Phase = PhaseSkippedNoRef
		return item.with(ItemStatusSkipped, ReasonNoInstallableRef,
			fmt.Sprintf("no installable ref for platform %s", e.cfg.Platform))
	}
	item.Ref = ref

	status := drv.IsInstalled(ctx, entry)
	if status.Error != "" {
		return item.with(ItemStatusFailed, ReasonDetectionFailed, status.Error)
	}

	check := version.Satisfies(status.Version, version.ParseConstraint(entry.Version))
	r.observe(entry, status, check)

	if !status.Installed {
		item.Phase = PhaseAbsent
		return e.install(ctx, r, drv, entry, item, dryRun)
	}

	item.Version = status.Version
	if check.Satisfied {
		item.Phase = PhasePresentOK
		return item.with(ItemStatusOK, ReasonAlreadyInstalled, "")
	}

	item.Phase = PhasePresentVersionMismatch
	return e.upgrade(ctx, r, drv, entry, item, check, dryRun)
}

func (e *Engine) install(ctx context.Context, r *run, drv drivers.InstallDriver, entry manifest.AppEntry, item RunItem, dryRun bool) RunItem {
	res := drv.Install(ctx, entry, drivers.InstallOptions{DryRun: dryRun})
	if !res.Success {
		item.Phase = PhaseInstallFailed
		return item.with(ItemStatusFailed, string(res.Code), res.Error)
	}
	if dryRun {
		return item.with(ItemStatusOK, ReasonWouldInstall, "")
	}

	item.Phase = PhaseInstalled
	obs := r.observed[entry.ID]
	obs.Installed = true
	obs.VersionSatisfied = entry.Version == ""
	r.observed[entry.ID] = obs
	return item.with(ItemStatusOK, ReasonInstalled, "")
}

func (e *Engine) upgrade(ctx context.Context, r *run, drv drivers.InstallDriver, entry manifest.AppEntry, item RunItem, check version.Result, dryRun bool) RunItem {
	res := drv.Install(ctx, entry, drivers.InstallOptions{DryRun: dryRun, Upgrade: true})

	if res.Code == drivers.CodeManualUpgradeNeeded {
		item.Phase = PhaseManualIntervention
		return item.with(ItemStatusFailed, ReasonManualUpgrade,
			fmt.Sprintf("installed version %s does not satisfy %s (%s); upgrade it manually",
				displayVersion(item.Version), entry.Version, check.Reason))
	}

	if dryRun {
		if !res.Success {
			return item.with(ItemStatusFailed, string(res.Code), res.Error)
		}
		return item.with(ItemStatusOK, ReasonWouldUpgrade,
			fmt.Sprintf("%s -> %s", displayVersion(item.Version), entry.Version))
	}

	if res.Success {
		item.Phase = PhaseUpgraded
		obs := r.observed[entry.ID]
		obs.Version = ""
		obs.VersionSatisfied = false
		r.observed[entry.ID] = obs
		return item.with(ItemStatusOK, ReasonUpgraded, "")
	}

	// A failed upgrade leaves the app installed at its old version. It is
	// reported as upgraded with a warning, not as a failure.
	item.Phase = PhaseUpgradeFailed
	r.logger.WithAppID(entry.ID).Warnf("upgrade failed, %s remains at %s: %s",
		entry.ID, displayVersion(item.Version), res.Error)
	return item.with(ItemStatusOK, ReasonUpgraded,
		fmt.Sprintf("warning: upgrade failed (exit code %d), app remains at %s: %s",
			res.ExitCode, displayVersion(item.Version), res.Error))
}

// commit writes the run's outcome to state in a single atomic update.
// lastApplied only moves when the install phase had no failures.
func (e *Engine) commit(r *run, current *stores.EngineState, applied bool, v *VerifyResult) error {
	next := stores.NewEngineState()
	if current != nil {
		next = current.Clone()
	}

	if applied && r.command == "apply" {
		next.LastApplied = &stores.LastApplied{
			ManifestPath: r.manifest.Path,
			ManifestHash: r.hash,
			TimestampUTC: r.stamp,
		}
	}

	if v != nil {
		next.LastVerify = &stores.LastVerify{
			ManifestPath:         r.manifest.Path,
			ManifestHash:         r.hash,
			TimestampUTC:         r.stamp,
			OkCount:              v.OkCount,
			MissingCount:         v.MissingCount,
			VersionMismatchCount: v.VersionMismatches,
			MissingApps:          append([]string{}, v.MissingApps...),
			VersionMismatchApps:  append([]string{}, v.VersionMismatchApps...),
			Success:              v.Success,
		}
	}

	next.RecordObserved(r.observed)

	err := e.state.WriteAtomic(next)
	e.metrics.RecordStateWrite(err)
	if err != nil {
		r.logger.WithError(err).Error("state write failed, previous state left in place")
		return FromStateError(err)
	}
	r.logger.Debug("state written")
	return nil
}

// emit reports one finished item to the event stream, metrics and log.
func (e *Engine) emit(r *run, item RunItem) {
	e.events.PublishItem(r.id, item.ID, string(item.Status), item.Reason, item.Message)
	e.metrics.RecordAppResult(item.Driver, string(item.Status), item.Reason)

	logger := r.logger.WithAppID(item.ID).WithDriver(item.Driver)
	switch item.Status {
	case ItemStatusFailed:
		logger.Errorf("%s: %s", item.Reason, item.Message)
	case ItemStatusSkipped:
		logger.Debugf("skipped: %s", item.Reason)
	default:
		logger.Infof("%s", item.Reason)
	}
}

func (e *Engine) finish(ctx context.Context, r *run, span trace.Span, success bool, exitCode int, dryRun bool, summary any, items []RunItem, runErr error) {
	completed := e.clock.Now().UTC()
	duration := completed.Sub(r.started)

	status := "succeeded"
	if !success {
		status = "failed"
	}
	e.metrics.RecordRun(r.command, status, duration)
	e.events.PublishRunCompleted(r.id, r.command, success, exitCode, duration)

	switch {
	case runErr != nil:
		telemetry.RecordError(span, runErr)
	case !success:
		telemetry.RecordError(span, fmt.Errorf("%s finished with exit code %d", r.command, exitCode))
	default:
		telemetry.RecordSuccess(span)
	}

	if !dryRun && e.history != nil {
		rec := RunRecord{
			RunID:        r.id,
			Command:      r.command,
			ManifestPath: r.manifest.Path,
			ManifestHash: r.hash,
			StartedAt:    r.started,
			CompletedAt:  completed,
			Success:      success,
			ExitCode:     exitCode,
			Summary:      summary,
			Items:        items,
			Err:          runErr,
		}
		// Aborted runs are recorded too, so the write outlives the run context.
		historyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyWriteTimeout)
		defer cancel()
		if err := e.history.RecordRun(historyCtx, rec); err != nil {
			r.logger.WithError(err).Warn("failed to record run history")
		}
	}

	r.logger.Infof("%s finished: success %t, exit code %d", r.command, success, exitCode)
}

func newItem(entry manifest.AppEntry) RunItem {
	return RunItem{
		ID:       entry.ID,
		Driver:   string(entry.DriverName()),
		Phase:    PhaseNotAttempted,
		Required: entry.Version,
	}
}

func (i RunItem) with(status ItemStatus, reason, message string) RunItem {
	i.Status = status
	i.Reason = reason
	i.Message = message
	return i
}

// filtered marks disabled entries and entries outside only as skipped.
func filtered(item RunItem, entry manifest.AppEntry, only []string) (RunItem, bool) {
	switch {
	case entry.Disabled:
		item.Phase = PhaseSkippedFiltered
		return item.with(ItemStatusSkipped, ReasonDisabled, ""), true
	case !includes(only, entry):
		item.Phase = PhaseSkippedFiltered
		return item.with(ItemStatusSkipped, ReasonFiltered, ""), true
	}
	return item, false
}

func countItem(c *Counts, item RunItem) {
	switch item.Phase {
	case PhaseSkippedFiltered:
		c.SkippedFiltered++
	case PhaseSkippedNoRef:
		c.SkippedNoRef++
	case PhasePresentOK:
		c.AlreadyInstalled++
	case PhaseInstalled:
		c.Installed++
	case PhaseUpgraded:
		c.Upgraded++
	case PhaseUpgradeFailed:
		c.Upgraded++
		c.UpgradeWarnings++
	}

	switch {
	case item.Status == ItemStatusFailed:
		c.Failed++
	case item.Reason == ReasonWouldInstall:
		c.WouldInstall++
	case item.Reason == ReasonWouldUpgrade:
		c.WouldUpgrade++
	}
}

func exitCodeFor(success bool) int {
	if success {
		return ExitSuccess
	}
	return ExitFailure
}

func displayVersion(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

func summaryOf(res *ApplyResult) any {
	summary := map[string]any{"counts": res.Counts}
	if res.VerifyResult != nil {
		summary["verify"] = verifySummary(res.VerifyResult)
	}
	return summary
}

func verifySummary(v *VerifyResult) map[string]any {
	return map[string]any{
		"okCount":           v.OkCount,
		"missingCount":      v.MissingCount,
		"versionMismatches": v.VersionMismatches,
		"errorCount":        v.ErrorCount,
		"extraCount":        v.ExtraCount,
	}
}
