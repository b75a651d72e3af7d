package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/endstate/pkg/drivers"
	"github.com/openfroyo/endstate/pkg/manifest"
	"github.com/openfroyo/endstate/pkg/stores"
)

var testNow = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// fakePM is an in-memory package manager.
type fakePM struct {
	installed    map[string]string
	exitCodes    map[string]int
	versionAfter map[string]string
	listErr      error
	listCalls    int
	calls        []string
}

func newFakePM(installed map[string]string) *fakePM {
	if installed == nil {
		installed = map[string]string{}
	}
	return &fakePM{installed: installed, exitCodes: map[string]int{}, versionAfter: map[string]string{}}
}

func (f *fakePM) Name() string { return "fake" }

func (f *fakePM) ListInstalled(ctx context.Context) (map[string]string, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make(map[string]string, len(f.installed))
	for k, v := range f.installed {
		out[k] = v
	}
	return out, nil
}

func (f *fakePM) InstallOrUpgrade(ctx context.Context, id string, upgrade bool) (*drivers.ExecResult, error) {
	verb := "install"
	if upgrade {
		verb = "upgrade"
	}
	f.calls = append(f.calls, verb+" "+id)
	code := f.exitCodes[id]
	if code == 0 {
		f.installed[id] = f.versionAfter[id]
	}
	return &drivers.ExecResult{ExitCode: code}, nil
}

// fakeRunner records every process it is asked to spawn.
type fakeRunner struct {
	calls []drivers.Command
	onRun func(drivers.Command)
	exit  int
}

func (r *fakeRunner) Run(ctx context.Context, cmd drivers.Command) (*drivers.ExecResult, error) {
	r.calls = append(r.calls, cmd)
	if r.onRun != nil {
		r.onRun(cmd)
	}
	return &drivers.ExecResult{ExitCode: r.exit}, nil
}

type fakeLoader struct {
	m    *manifest.Manifest
	hash string
	err  error
}

func (f *fakeLoader) Load(path string) (*manifest.Manifest, error) {
	if f.err != nil {
		return nil, f.err
	}
	m := *f.m
	m.Path = path
	return &m, nil
}

func (f *fakeLoader) Hash(string) (string, error) {
	return f.hash, nil
}

type fakeGate struct {
	violations []string
	err        error
}

func (g *fakeGate) CheckManifest(context.Context, *manifest.Manifest) ([]string, error) {
	return g.violations, g.err
}

type fakeHistory struct {
	records []RunRecord
	err     error
}

func (h *fakeHistory) RecordRun(_ context.Context, rec RunRecord) error {
	h.records = append(h.records, rec)
	return h.err
}

type recordingSink struct {
	events []string
}

func (s *recordingSink) PublishRunStarted(runID, command, _ string) {
	s.events = append(s.events, "start:"+command)
}

func (s *recordingSink) PublishItem(_, appID, status, reason, _ string) {
	s.events = append(s.events, fmt.Sprintf("item:%s:%s:%s", appID, status, reason))
}

func (s *recordingSink) PublishRunCompleted(_, command string, success bool, exitCode int, _ time.Duration) {
	s.events = append(s.events, fmt.Sprintf("end:%s:%t:%d", command, success, exitCode))
}

// countingState wraps a state store and counts writes.
type countingState struct {
	StateStore
	writes   int
	writeErr error
}

func (c *countingState) WriteAtomic(s *stores.EngineState) error {
	c.writes++
	if c.writeErr != nil {
		return c.writeErr
	}
	return c.StateStore.WriteAtomic(s)
}

type harness struct {
	engine  *Engine
	pm      *fakePM
	runner  *fakeRunner
	store   *stores.FileStateStore
	state   *countingState
	loader  *fakeLoader
	sink    *recordingSink
	history *fakeHistory
	root    string
}

func newHarness(t *testing.T, apps []manifest.AppEntry, installed map[string]string, mutate ...func(*Options)) *harness {
	t.Helper()

	h := &harness{
		pm:      newFakePM(installed),
		runner:  &fakeRunner{},
		loader:  &fakeLoader{m: &manifest.Manifest{Version: 1, Name: "test", Apps: apps}, hash: "sha256:test"},
		sink:    &recordingSink{},
		history: &fakeHistory{},
		root:    t.TempDir(),
	}
	h.store = stores.NewFileStateStore(filepath.Join(t.TempDir(), "state.json"))
	h.state = &countingState{StateStore: h.store}

	dispatcher := drivers.NewDispatcher(
		drivers.NewStandardDriver(h.pm, "windows"),
		drivers.NewCustomDriver(h.root, h.runner, drivers.NewDetector("windows")),
	)

	seq := 0
	opts := Options{
		Loader:  h.loader,
		Drivers: dispatcher,
		State:   h.state,
		History: h.history,
		Events:  h.sink,
		Clock:   fixedClock{testNow},
		NewRunID: func() string {
			seq++
			return fmt.Sprintf("run-%d", seq)
		},
	}
	for _, fn := range mutate {
		fn(&opts)
	}

	e, err := New(Config{Platform: "windows", TrustedRoot: h.root}, opts)
	require.NoError(t, err)
	h.engine = e
	return h
}

func (h *harness) readState(t *testing.T) *stores.EngineState {
	t.Helper()
	s, err := h.store.Read()
	require.NoError(t, err)
	return s
}

func gitApp() manifest.AppEntry {
	return manifest.AppEntry{ID: "git", Refs: map[string]string{"default": "Git.Git"}}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{}, Options{})
	assert.Error(t, err)
}

func TestApplyFreshMachine(t *testing.T) {
	h := newHarness(t, []manifest.AppEntry{gitApp()}, nil)
	ctx := t.Context()

	res, err := h.engine.Apply(ctx, "machine.yaml", ApplyOptions{})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, ExitSuccess, res.ExitCode)
	assert.Equal(t, 1, res.Counts.Total)
	assert.Equal(t, 1, res.Counts.Installed)
	assert.Equal(t, 0, res.Counts.Failed)
	assert.Equal(t, []string{"install Git.Git"}, h.pm.calls)

	require.Len(t, res.Items, 1)
	assert.Equal(t, ItemStatusOK, res.Items[0].Status)
	assert.Equal(t, ReasonInstalled, res.Items[0].Reason)
	assert.Equal(t, PhaseInstalled, res.Items[0].Phase)
	assert.Equal(t, "Git.Git", res.Items[0].Ref)

	require.NotNil(t, res.VerifyResult)
	assert.Equal(t, 1, res.VerifyResult.OkCount)
	assert.Equal(t, 0, res.VerifyResult.MissingCount)

	state := h.readState(t)
	require.NotNil(t, state.LastApplied)
	assert.Equal(t, "sha256:test", state.LastApplied.ManifestHash)
	assert.Equal(t, "2026-10-18T09:00:00Z", state.LastApplied.TimestampUTC)
	require.NotNil(t, state.LastVerify)
	assert.True(t, state.LastVerify.Success)
	assert.True(t, state.AppsObserved["git"].Installed)
	assert.Equal(t, "2026-10-18T09:00:00Z", state.AppsObserved["git"].LastSeenUTC)

	v, err := h.engine.Verify(ctx, "machine.yaml", VerifyOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, v.OkCount)
	assert.Equal(t, 0, v.MissingCount)
	assert.True(t, v.Success)
}

func TestApplyIsIdempotent(t *testing.T) {
	h := newHarness(t, []manifest.AppEntry{gitApp(), {ID: "node", Refs: map[string]string{"windows": "OpenJS.NodeJS"}, Version: ">=20.0.0"}}, nil)
	h.pm.versionAfter["OpenJS.NodeJS"] = "22.1.0"
	ctx := t.Context()

	first, err := h.engine.Apply(ctx, "machine.yaml", ApplyOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Counts.Installed)
	hash := h.readState(t).LastApplied.ManifestHash

	h.pm.calls = nil
	second, err := h.engine.Apply(ctx, "machine.yaml", ApplyOptions{})
	require.NoError(t, err)

	assert.True(t, second.Success)
	assert.Equal(t, 0, second.Counts.Installed)
	assert.Equal(t, 0, second.Counts.Upgraded)
	assert.Equal(t, 0, second.Counts.Failed)
	assert.Equal(t, 2, second.Counts.AlreadyInstalled)
	assert.Empty(t, h.pm.calls, "a second run must not reinstall anything")
	assert.Equal(t, hash, h.readState(t).LastApplied.ManifestHash)
}

func TestApplyUpgradeDryRun(t *testing.T) {
	app := manifest.AppEntry{ID: "tool", Refs: map[string]string{"default": "Tool.X"}, Version: ">=2.0.0"}
	h := newHarness(t, []manifest.AppEntry{app}, map[string]string{"Tool.X": "1.0.0"})

	res, err := h.engine.Apply(t.Context(), "machine.yaml", ApplyOptions{DryRun: true})
	require.NoError(t, err)

	require.Len(t, res.Items, 1)
	item := res.Items[0]
	assert.Equal(t, ReasonWouldUpgrade, item.Reason)
	assert.Equal(t, ItemStatusOK, item.Status)
	assert.Equal(t, PhasePresentVersionMismatch, item.Phase)
	assert.Equal(t, "1.0.0", item.Version)
	assert.Equal(t, 1, res.Counts.WouldUpgrade)
	assert.Empty(t, h.pm.calls)
	assert.Nil(t, res.VerifyResult)
	assert.Nil(t, h.readState(t), "dry run must not write state")
	assert.Zero(t, h.state.writes)
	assert.Empty(t, h.history.records)
}

func TestApplyUpgradeSucceeds(t *testing.T) {
	app := manifest.AppEntry{ID: "tool", Refs: map[string]string{"default": "Tool.X"}, Version: ">=2.0.0"}
	h := newHarness(t, []manifest.AppEntry{app}, map[string]string{"Tool.X": "1.0.0"})
	h.pm.versionAfter["Tool.X"] = "2.1.0"

	res, err := h.engine.Apply(t.Context(), "machine.yaml", ApplyOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"upgrade Tool.X"}, h.pm.calls)
	assert.Equal(t, ReasonUpgraded, res.Items[0].Reason)
	assert.Equal(t, PhaseUpgraded, res.Items[0].Phase)
	assert.Equal(t, 1, res.Counts.Upgraded)
	assert.Equal(t, 0, res.Counts.UpgradeWarnings)
	assert.True(t, res.Success)
	assert.Equal(t, "2.1.0", h.readState(t).AppsObserved["tool"].Version)
}

// A failed upgrade of an installed app is deliberately reported as
// "upgraded" with a warning rather than as a failure: the app is still
// present and usable at its old version.
func TestApplyUpgradeFailureIsReportedAsUpgraded(t *testing.T) {
	app := manifest.AppEntry{ID: "tool", Refs: map[string]string{"default": "Tool.X"}, Version: ">=2.0.0"}
	h := newHarness(t, []manifest.AppEntry{app}, map[string]string{"Tool.X": "1.0.0"})
	h.pm.exitCodes["Tool.X"] = 1603

	res, err := h.engine.Apply(t.Context(), "machine.yaml", ApplyOptions{})
	require.NoError(t, err)

	item := res.Items[0]
	assert.Equal(t, ItemStatusOK, item.Status)
	assert.Equal(t, ReasonUpgraded, item.Reason)
	assert.Equal(t, PhaseUpgradeFailed, item.Phase)
	assert.Contains(t, item.Message, "warning")
	assert.Contains(t, item.Message, "1603")
	assert.Equal(t, 1, res.Counts.Upgraded)
	assert.Equal(t, 1, res.Counts.UpgradeWarnings)
	assert.Equal(t, 0, res.Counts.Failed)

	// The verify sub-pass still sees the old version.
	require.NotNil(t, res.VerifyResult)
	assert.Equal(t, []string{"tool"}, res.VerifyResult.VersionMismatchApps)
	assert.False(t, res.Success)
	assert.Equal(t, ExitFailure, res.ExitCode)
}

func TestApplyCustomVersionMismatchNeedsManualIntervention(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "tool.exe")
	require.NoError(t, os.WriteFile(marker, []byte("x"), 0o644))

	app := manifest.AppEntry{
		ID:      "tool",
		Driver:  manifest.DriverCustom,
		Version: ">=1.0.0",
		Custom: &manifest.CustomConfig{
			InstallScript: "install.ps1",
			Detect:        &manifest.DetectRule{Type: manifest.DetectFile, Path: marker},
		},
	}
	h := newHarness(t, []manifest.AppEntry{app}, nil)

	for _, dryRun := range []bool{true, false} {
		res, err := h.engine.Apply(t.Context(), "machine.yaml", ApplyOptions{DryRun: dryRun, SkipVerify: true})
		require.NoError(t, err)

		item := res.Items[0]
		assert.Equal(t, ItemStatusFailed, item.Status)
		assert.Equal(t, ReasonManualUpgrade, item.Reason)
		assert.Equal(t, PhaseManualIntervention, item.Phase)
		assert.Contains(t, item.Message, "unknown")
		assert.Equal(t, 1, res.Counts.Failed)
		assert.False(t, res.Success)
	}
	assert.Empty(t, h.runner.calls)
}

func TestApplyCustomScriptOutsideRootSpawnsNothing(t *testing.T) {
	apps := []manifest.AppEntry{
		{
			ID:     "evil",
			Driver: manifest.DriverCustom,
			Custom: &manifest.CustomConfig{
				InstallScript: "../../outside.ps1",
				Detect:        &manifest.DetectRule{Type: manifest.DetectFile, Path: filepath.Join(t.TempDir(), "missing")},
			},
		},
		gitApp(),
	}
	h := newHarness(t, apps, nil)

	res, err := h.engine.Apply(t.Context(), "machine.yaml", ApplyOptions{SkipVerify: true})
	require.NoError(t, err)

	assert.Empty(t, h.runner.calls, "no process may be spawned")
	assert.Equal(t, ItemStatusFailed, res.Items[0].Status)
	assert.Equal(t, string(drivers.CodeScriptOutsideRoot), res.Items[0].Reason)
	assert.Equal(t, PhaseInstallFailed, res.Items[0].Phase)

	// One bad app does not block the rest.
	assert.Equal(t, ReasonInstalled, res.Items[1].Reason)
	assert.Equal(t, 1, res.Counts.Failed)
	assert.Equal(t, 1, res.Counts.Installed)
	assert.Equal(t, ExitFailure, res.ExitCode)
}

func TestApplyCustomInstall(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "installed.flag")
	app := manifest.AppEntry{
		ID:     "tool",
		Driver: manifest.DriverCustom,
		Custom: &manifest.CustomConfig{
			InstallScript: "scripts/install.sh",
			Detect:        &manifest.DetectRule{Type: manifest.DetectFile, Path: marker},
		},
	}
	h := newHarness(t, []manifest.AppEntry{app}, map[string]string{"Unrelated.App": "1.0"})
	require.NoError(t, os.MkdirAll(filepath.Join(h.root, "scripts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(h.root, "scripts", "install.sh"), []byte("#!/bin/sh\n"), 0o755))
	h.runner.onRun = func(drivers.Command) {
		_ = os.WriteFile(marker, []byte("ok"), 0o644)
	}

	res, err := h.engine.Apply(t.Context(), "machine.yaml", ApplyOptions{})
	require.NoError(t, err)

	require.Len(t, h.runner.calls, 1)
	assert.Equal(t, "sh", h.runner.calls[0].Name)
	assert.Equal(t, ReasonInstalled, res.Items[0].Reason)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.VerifyResult.OkCount)
	assert.Equal(t, []string{"Unrelated.App"}, res.VerifyResult.ExtraApps)
}

func TestApplySkipsEntriesWithoutRef(t *testing.T) {
	app := manifest.AppEntry{ID: "htop", Refs: map[string]string{"linux": "htop"}}
	h := newHarness(t, []manifest.AppEntry{app}, nil)

	res, err := h.engine.Apply(t.Context(), "machine.yaml", ApplyOptions{})
	require.NoError(t, err)

	assert.Equal(t, ItemStatusSkipped, res.Items[0].Status)
	assert.Equal(t, ReasonNoInstallableRef, res.Items[0].Reason)
	assert.Equal(t, PhaseSkippedNoRef, res.Items[0].Phase)
	assert.Equal(t, 1, res.Counts.SkippedNoRef)
	assert.Empty(t, h.pm.calls)
	assert.True(t, res.Success)
}

func TestApplyOnlyAndDisabled(t *testing.T) {
	apps := []manifest.AppEntry{
		gitApp(),
		{ID: "node", Refs: map[string]string{"default": "OpenJS.NodeJS"}},
		{ID: "old", Refs: map[string]string{"default": "Old.App"}, Disabled: true},
	}
	h := newHarness(t, apps, nil)

	res, err := h.engine.Apply(t.Context(), "machine.yaml", ApplyOptions{Only: []string{"git", "old"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"install Git.Git"}, h.pm.calls)
	assert.Equal(t, ReasonFiltered, res.Items[1].Reason)
	assert.Equal(t, ReasonDisabled, res.Items[2].Reason)
	assert.Equal(t, 2, res.Counts.SkippedFiltered)
	assert.True(t, res.Success, "filtered apps are not verified as missing")
	assert.Equal(t, 1, res.VerifyResult.OkCount)
}

func TestApplyUnknownDriver(t *testing.T) {
	apps := []manifest.AppEntry{{ID: "x", Driver: "choco"}, gitApp()}
	h := newHarness(t, apps, nil)

	res, err := h.engine.Apply(t.Context(), "machine.yaml", ApplyOptions{SkipVerify: true})
	require.NoError(t, err)

	assert.Equal(t, ReasonUnknownDriver, res.Items[0].Reason)
	assert.Equal(t, ItemStatusFailed, res.Items[0].Status)
	assert.Equal(t, ReasonInstalled, res.Items[1].Reason)
}

func TestApplyDetectionFailureDoesNotInstall(t *testing.T) {
	h := newHarness(t, []manifest.AppEntry{gitApp()}, nil)
	h.pm.listErr = errors.New("winget not responding")

	res, err := h.engine.Apply(t.Context(), "machine.yaml", ApplyOptions{})
	require.NoError(t, err)

	assert.Equal(t, ReasonDetectionFailed, res.Items[0].Reason)
	assert.Contains(t, res.Items[0].Message, "winget not responding")
	assert.Empty(t, h.pm.calls)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.VerifyResult.ErrorCount)
	assert.Nil(t, h.readState(t).LastApplied, "lastApplied only moves on a clean install phase")
}

func TestApplyWritesStateOnce(t *testing.T) {
	h := newHarness(t, []manifest.AppEntry{gitApp()}, nil)

	_, err := h.engine.Apply(t.Context(), "machine.yaml", ApplyOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, h.state.writes)

	_, err = h.engine.Apply(t.Context(), "machine.yaml", ApplyOptions{SkipVerify: true})
	require.NoError(t, err)
	assert.Equal(t, 2, h.state.writes)
}

func TestApplyKeepsObservationsOfOtherApps(t *testing.T) {
	h := newHarness(t, []manifest.AppEntry{gitApp()}, nil)

	prior := stores.NewEngineState()
	prior.AppsObserved["retired"] = stores.ObservedApp{Installed: true, Driver: "winget", LastSeenUTC: "2026-01-01T00:00:00Z"}
	require.NoError(t, h.store.WriteAtomic(prior))

	_, err := h.engine.Apply(t.Context(), "machine.yaml", ApplyOptions{})
	require.NoError(t, err)

	state := h.readState(t)
	assert.Contains(t, state.AppsObserved, "retired")
	assert.Contains(t, state.AppsObserved, "git")
}

func TestApplyStateWriteFailure(t *testing.T) {
	h := newHarness(t, []manifest.AppEntry{gitApp()}, nil)
	h.state.writeErr = &stores.StateError{Code: stores.ErrCodeIO, Op: "write", Path: "state.json", Err: errors.New("disk full")}

	res, err := h.engine.Apply(t.Context(), "machine.yaml", ApplyOptions{})
	require.Error(t, err)

	assert.True(t, IsStateError(err))
	assert.Equal(t, ExitStateError, ExitCode(err))
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Equal(t, ExitStateError, res.ExitCode)
	assert.Nil(t, h.readState(t))
}

func TestApplyManifestErrorMutatesNothing(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.loader.err = &manifest.Error{Code: manifest.ErrCodeInvalid, Message: "duplicate app id git"}

	res, err := h.engine.Apply(t.Context(), "machine.yaml", ApplyOptions{})
	require.Error(t, err)
	assert.Nil(t, res)

	var ee *EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, ErrCodeManifestInvalid, ee.Code)
	assert.Equal(t, ExitInputError, ExitCode(err))
	assert.Zero(t, h.pm.listCalls)
	assert.Zero(t, h.state.writes)
}

func TestApplyPolicyDenied(t *testing.T) {
	gate := &fakeGate{violations: []string{"custom app tool: install script must be .ps1, .sh or .cmd"}}
	h := newHarness(t, []manifest.AppEntry{gitApp()}, nil, func(o *Options) { o.Policy = gate })

	_, err := h.engine.Apply(t.Context(), "machine.yaml", ApplyOptions{})
	require.Error(t, err)

	assert.Equal(t, ExitPolicyDenied, ExitCode(err))
	assert.Zero(t, h.pm.listCalls)
	assert.Zero(t, h.state.writes)

	gate.violations, gate.err = nil, errors.New("rego compile error")
	_, err = h.engine.Apply(t.Context(), "machine.yaml", ApplyOptions{})
	assert.True(t, IsFatal(err))
}

func TestApplyCorruptStateAbortsBeforeDrivers(t *testing.T) {
	h := newHarness(t, []manifest.AppEntry{gitApp()}, nil)
	require.NoError(t, os.WriteFile(h.store.Path(), []byte("{not json"), 0o644))

	_, err := h.engine.Apply(t.Context(), "machine.yaml", ApplyOptions{})
	require.Error(t, err)

	var ee *EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, ErrCodeStateCorrupt, ee.Code)
	assert.Zero(t, h.pm.listCalls)
	assert.Empty(t, h.pm.calls)
}

func TestApplyCancelled(t *testing.T) {
	h := newHarness(t, []manifest.AppEntry{gitApp()}, nil)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	res, err := h.engine.Apply(ctx, "machine.yaml", ApplyOptions{})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, ReasonCancelled, res.Items[0].Reason)
	assert.Empty(t, h.pm.calls)
	assert.Zero(t, h.state.writes)
}

func TestVerifyReportsDrift(t *testing.T) {
	apps := []manifest.AppEntry{
		{ID: "git", Refs: map[string]string{"default": "Git.Git"}, Version: ">=2.45.0"},
		{ID: "node", Refs: map[string]string{"default": "OpenJS.NodeJS"}},
		{ID: "7zip", Refs: map[string]string{"default": "7zip.7zip"}},
	}
	installed := map[string]string{"Git.Git": "2.43.0", "7zip.7zip": "24.08", "Extra.Tool": "1.0"}
	h := newHarness(t, apps, installed)

	v, err := h.engine.Verify(t.Context(), "machine.yaml", VerifyOptions{})
	require.NoError(t, err)

	assert.False(t, v.Success)
	assert.Equal(t, ExitFailure, v.ExitCode)
	assert.Equal(t, "run-1", v.RunID)
	assert.Equal(t, 1, v.OkCount)
	assert.Equal(t, 1, v.MissingCount)
	assert.Equal(t, []string{"node"}, v.MissingApps)
	assert.Equal(t, 1, v.VersionMismatches)
	assert.Equal(t, []string{"git"}, v.VersionMismatchApps)
	assert.Equal(t, 1, v.ExtraCount)
	assert.Equal(t, []string{"Extra.Tool"}, v.ExtraApps)
	assert.Empty(t, h.pm.calls, "verify never installs")

	state := h.readState(t)
	assert.Nil(t, state.LastApplied)
	require.NotNil(t, state.LastVerify)
	assert.False(t, state.LastVerify.Success)
	assert.Equal(t, []string{"node"}, state.LastVerify.MissingApps)
	assert.Equal(t, 1, state.LastVerify.VersionMismatchCount)
	assert.False(t, state.AppsObserved["git"].VersionSatisfied)
	assert.Equal(t, ">=2.45.0", state.AppsObserved["git"].VersionConstraint)
}

func TestVerifyUnknownVersionFailsClosed(t *testing.T) {
	app := manifest.AppEntry{ID: "git", Refs: map[string]string{"default": "Git.Git"}, Version: "2.43.0"}
	h := newHarness(t, []manifest.AppEntry{app}, map[string]string{"Git.Git": ""})

	v, err := h.engine.Verify(t.Context(), "machine.yaml", VerifyOptions{})
	require.NoError(t, err)
	assert.Equal(t, ReasonVersionMismatch, v.Items[0].Reason)
	assert.Contains(t, v.Items[0].Message, "version unknown")
	assert.False(t, v.Success)
}

func TestPlan(t *testing.T) {
	apps := []manifest.AppEntry{gitApp(), {ID: "node", Refs: map[string]string{"default": "OpenJS.NodeJS"}}}
	h := newHarness(t, apps, map[string]string{"OpenJS.NodeJS": "22.0.0"})

	plan, err := h.engine.Plan(t.Context(), "machine.yaml", ApplyOptions{})
	require.NoError(t, err)

	assert.Equal(t, "run-1", plan.RunID)
	assert.Equal(t, "sha256:test", plan.ManifestHash)
	assert.Equal(t, "2026-10-18T09:00:00Z", plan.CreatedAtUTC)
	assert.Equal(t, 1, plan.Counts.WouldInstall)
	assert.Equal(t, 1, plan.Counts.AlreadyInstalled)
	assert.Equal(t, ReasonWouldInstall, plan.Items[0].Reason)
	assert.Empty(t, h.pm.calls)
	assert.Zero(t, h.state.writes)
}

func TestEventsAndHistory(t *testing.T) {
	h := newHarness(t, []manifest.AppEntry{gitApp()}, nil)
	h.history.err = errors.New("database is locked")

	res, err := h.engine.Apply(t.Context(), "machine.yaml", ApplyOptions{})
	require.NoError(t, err, "history failures never fail a run")
	assert.True(t, res.Success)

	assert.Equal(t, []string{
		"start:apply",
		"item:git:ok:installed",
		"item:git:ok:present",
		"end:apply:true:0",
	}, h.sink.events)

	require.Len(t, h.history.records, 1)
	rec := h.history.records[0]
	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, "apply", rec.Command)
	assert.True(t, rec.Success)
	assert.Len(t, rec.Items, 1)
}

func TestPhaseTransitions(t *testing.T) {
	assert.True(t, PhaseNotAttempted.CanTransitionTo(PhaseAbsent))
	assert.True(t, PhaseAbsent.CanTransitionTo(PhaseInstalled))
	assert.True(t, PhasePresentVersionMismatch.CanTransitionTo(PhaseUpgradeFailed))
	assert.False(t, PhasePresentOK.CanTransitionTo(PhaseUpgraded))
	assert.False(t, PhaseInstalled.CanTransitionTo(PhaseInstallFailed))
	assert.Error(t, AppPhase("bogus").Validate())
	assert.NoError(t, PhaseManualIntervention.Validate())
}
