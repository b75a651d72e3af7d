package drivers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/endstate/pkg/manifest"
)

type fakeRunner struct {
	calls  []Command
	result *ExecResult
	err    error
	onRun  func(Command)
}

func (r *fakeRunner) Run(ctx context.Context, cmd Command) (*ExecResult, error) {
	r.calls = append(r.calls, cmd)
	if r.onRun != nil {
		r.onRun(cmd)
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.result != nil {
		return r.result, nil
	}
	return &ExecResult{ExitCode: 0}, nil
}

type fakePackageManager struct {
	installed map[string]string
	exitCode  int
	listErr   error
	listCalls int
	calls     []string
}

func (f *fakePackageManager) Name() string { return "fake" }

func (f *fakePackageManager) ListInstalled(ctx context.Context) (map[string]string, error) {
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

func (f *fakePackageManager) InstallOrUpgrade(ctx context.Context, id string, upgrade bool) (*ExecResult, error) {
	verb := "install"
	if upgrade {
		verb = "upgrade"
	}
	f.calls = append(f.calls, verb+" "+id)
	if f.exitCode == 0 {
		f.installed[id] = "1.0.0"
	}
	return &ExecResult{ExitCode: f.exitCode}, nil
}

func TestStandardInstallableID(t *testing.T) {
	d := NewStandardDriver(&fakePackageManager{}, "windows")

	tests := []struct {
		name  string
		entry manifest.AppEntry
		want  string
		ok    bool
	}{
		{"platform ref wins", manifest.AppEntry{ID: "git", Refs: map[string]string{"windows": "Git.Git", "default": "git"}}, "Git.Git", true},
		{"default ref", manifest.AppEntry{ID: "git", Refs: map[string]string{"default": "git-default"}}, "git-default", true},
		{"no refs falls back to id", manifest.AppEntry{ID: "git"}, "git", true},
		{"refs for other platform only", manifest.AppEntry{ID: "git", Refs: map[string]string{"linux": "git"}}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := d.InstallableID(tt.entry)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStandardIsInstalledUsesOneSnapshotPerPass(t *testing.T) {
	pm := &fakePackageManager{installed: map[string]string{"Git.Git": "2.43.0", "Tool.X": ""}}
	d := NewStandardDriver(pm, "windows")
	ctx := context.Background()

	st := d.IsInstalled(ctx, manifest.AppEntry{ID: "git", Refs: map[string]string{"windows": "Git.Git"}})
	assert.True(t, st.Installed)
	assert.Equal(t, "2.43.0", st.Version)
	assert.Equal(t, manifest.DriverWinget, st.Driver)

	st = d.IsInstalled(ctx, manifest.AppEntry{ID: "Tool.X"})
	assert.True(t, st.Installed)
	assert.False(t, st.VersionKnown())

	st = d.IsInstalled(ctx, manifest.AppEntry{ID: "missing"})
	assert.False(t, st.Installed)
	assert.Equal(t, 1, pm.listCalls)

	d.Refresh()
	d.IsInstalled(ctx, manifest.AppEntry{ID: "missing"})
	assert.Equal(t, 2, pm.listCalls)
}

func TestStandardIsInstalledListError(t *testing.T) {
	pm := &fakePackageManager{listErr: errors.New("winget not found")}
	d := NewStandardDriver(pm, "windows")

	st := d.IsInstalled(context.Background(), manifest.AppEntry{ID: "git"})
	assert.False(t, st.Installed)
	assert.Contains(t, st.Error, "winget not found")
}

func TestStandardInstall(t *testing.T) {
	ctx := context.Background()
	entry := manifest.AppEntry{ID: "git", Refs: map[string]string{"default": "Git.Git"}}

	t.Run("dry run never calls the package manager", func(t *testing.T) {
		pm := &fakePackageManager{installed: map[string]string{}}
		d := NewStandardDriver(pm, "windows")

		res := d.Install(ctx, entry, InstallOptions{DryRun: true})
		assert.True(t, res.Success)
		assert.Equal(t, ActionWouldInstall, res.Action)

		res = d.Install(ctx, entry, InstallOptions{DryRun: true, Upgrade: true})
		assert.Equal(t, ActionWouldUpgrade, res.Action)
		assert.Empty(t, pm.calls)
	})

	t.Run("install success", func(t *testing.T) {
		pm := &fakePackageManager{installed: map[string]string{}}
		d := NewStandardDriver(pm, "windows")

		res := d.Install(ctx, entry, InstallOptions{})
		assert.True(t, res.Success)
		assert.Equal(t, ActionInstall, res.Action)
		assert.Equal(t, []string{"install Git.Git"}, pm.calls)
	})

	t.Run("non-zero exit", func(t *testing.T) {
		pm := &fakePackageManager{installed: map[string]string{}, exitCode: 1603}
		d := NewStandardDriver(pm, "windows")

		res := d.Install(ctx, entry, InstallOptions{Upgrade: true})
		assert.False(t, res.Success)
		assert.Equal(t, 1603, res.ExitCode)
		assert.Equal(t, CodeInstallFailed, res.Code)
		assert.Equal(t, ActionUpgrade, res.Action)
	})

	t.Run("no ref", func(t *testing.T) {
		d := NewStandardDriver(&fakePackageManager{}, "windows")
		res := d.Install(ctx, manifest.AppEntry{ID: "x", Refs: map[string]string{"linux": "x"}}, InstallOptions{})
		assert.Equal(t, CodeNoInstallableRef, res.Code)
	})
}

func customEntry(script string, detect *manifest.DetectRule) manifest.AppEntry {
	return manifest.AppEntry{
		ID:     "tool",
		Driver: manifest.DriverCustom,
		Custom: &manifest.CustomConfig{InstallScript: script, Detect: detect},
	}
}

func newTestCustomDriver(t *testing.T, root string, runner CommandRunner) *CustomDriver {
	t.Helper()
	d := NewCustomDriver(root, runner, NewDetector(runtime.GOOS))
	d.lookPath = func(string) (string, error) { return "/usr/bin/pwsh", nil }
	return d
}

func TestCustomRejectsPathTraversal(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "a", "b")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "outside.ps1"), []byte("exit 0"), 0o644))

	runner := &fakeRunner{}
	d := newTestCustomDriver(t, root, runner)

	for _, dryRun := range []bool{false, true} {
		res := d.Install(context.Background(), customEntry("../../outside.ps1", nil), InstallOptions{DryRun: dryRun})
		assert.False(t, res.Success)
		assert.Equal(t, CodeScriptOutsideRoot, res.Code)
	}

	res := d.Install(context.Background(), customEntry(filepath.Join(base, "outside.ps1"), nil), InstallOptions{})
	assert.Equal(t, CodeScriptOutsideRoot, res.Code)

	assert.Empty(t, runner.calls, "no process may be spawned for a rejected script")
}

func TestCustomRejectsSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}

	base := t.TempDir()
	root := filepath.Join(base, "root")
	require.NoError(t, os.MkdirAll(root, 0o755))
	outside := filepath.Join(base, "evil.sh")
	require.NoError(t, os.WriteFile(outside, []byte("exit 0"), 0o755))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "install.sh")))

	runner := &fakeRunner{}
	res := newTestCustomDriver(t, root, runner).Install(context.Background(), customEntry("install.sh", nil), InstallOptions{})
	assert.Equal(t, CodeScriptOutsideRoot, res.Code)
	assert.Empty(t, runner.calls)
}

func TestCustomInstall(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "scripts"), 0o755))
	script := filepath.Join(root, "scripts", "tool.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexit 0\n"), 0o755))
	ctx := context.Background()

	t.Run("missing script", func(t *testing.T) {
		runner := &fakeRunner{}
		res := newTestCustomDriver(t, root, runner).Install(ctx, customEntry("scripts/nope.ps1", nil), InstallOptions{})
		assert.Equal(t, CodeInstallScriptNotFound, res.Code)
		assert.Empty(t, runner.calls)
	})

	t.Run("upgrade needs manual action", func(t *testing.T) {
		runner := &fakeRunner{}
		res := newTestCustomDriver(t, root, runner).Install(ctx, customEntry("scripts/tool.sh", nil), InstallOptions{Upgrade: true})
		assert.False(t, res.Success)
		assert.Equal(t, CodeManualUpgradeNeeded, res.Code)
		assert.Empty(t, runner.calls)
	})

	t.Run("dry run", func(t *testing.T) {
		runner := &fakeRunner{}
		res := newTestCustomDriver(t, root, runner).Install(ctx, customEntry("scripts/tool.sh", nil), InstallOptions{DryRun: true})
		assert.True(t, res.Success)
		assert.Equal(t, ActionWouldInstall, res.Action)
		assert.Empty(t, runner.calls)
	})

	t.Run("runs shell script", func(t *testing.T) {
		runner := &fakeRunner{}
		res := newTestCustomDriver(t, root, runner).Install(ctx, customEntry("scripts/tool.sh", nil), InstallOptions{})
		assert.True(t, res.Success)
		require.Len(t, runner.calls, 1)
		assert.Equal(t, "sh", runner.calls[0].Name)
		assert.Equal(t, []string{script}, runner.calls[0].Args)
		assert.Equal(t, filepath.Dir(script), runner.calls[0].Dir)
	})

	t.Run("script failure", func(t *testing.T) {
		runner := &fakeRunner{result: &ExecResult{ExitCode: 3}}
		res := newTestCustomDriver(t, root, runner).Install(ctx, customEntry("scripts/tool.sh", nil), InstallOptions{})
		assert.False(t, res.Success)
		assert.Equal(t, 3, res.ExitCode)
		assert.Equal(t, CodeInstallFailed, res.Code)
	})
}

func TestCustomPowerShellCommand(t *testing.T) {
	d := newTestCustomDriver(t, t.TempDir(), &fakeRunner{})
	cmd := d.scriptCommand("/root/install.ps1")
	assert.Equal(t, "pwsh", cmd.Name)
	assert.Contains(t, cmd.Args, "-File")

	d.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	assert.Equal(t, "powershell", d.scriptCommand("/root/install.ps1").Name)
}

func TestCustomIsInstalled(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "tool.exe")
	require.NoError(t, os.WriteFile(exe, nil, 0o644))

	d := newTestCustomDriver(t, dir, &fakeRunner{})
	d.detector.lookupEnv = func(name string) (string, bool) {
		if name == "TOOLDIR" {
			return dir, true
		}
		return "", false
	}
	ctx := context.Background()

	st := d.IsInstalled(ctx, customEntry("x.sh", &manifest.DetectRule{Type: manifest.DetectFile, Path: "%TOOLDIR%/tool.exe"}))
	assert.True(t, st.Installed)
	assert.False(t, st.VersionKnown(), "file detection never infers a version")

	st = d.IsInstalled(ctx, customEntry("x.sh", &manifest.DetectRule{Type: manifest.DetectFile, Path: "$TOOLDIR/missing.exe"}))
	assert.False(t, st.Installed)
	assert.Empty(t, st.Error)

	st = d.IsInstalled(ctx, customEntry("x.sh", nil))
	assert.False(t, st.Installed)
	assert.NotEmpty(t, st.Error)

	st = d.IsInstalled(ctx, manifest.AppEntry{ID: "tool", Driver: manifest.DriverCustom})
	assert.Equal(t, string(CodeNoInstallableRef), st.Error)
}

func TestDispatcher(t *testing.T) {
	pm := &fakePackageManager{installed: map[string]string{"Git.Git": "2.0"}}
	d := NewDispatcher(NewStandardDriver(pm, "windows"), newTestCustomDriver(t, t.TempDir(), &fakeRunner{}))
	ctx := context.Background()

	drv, err := d.For(manifest.AppEntry{ID: "git"})
	require.NoError(t, err)
	assert.Equal(t, manifest.DriverWinget, drv.Name())

	drv, err = d.For(manifest.AppEntry{ID: "t", Driver: manifest.DriverCustom})
	require.NoError(t, err)
	assert.Equal(t, manifest.DriverCustom, drv.Name())

	unknown := manifest.AppEntry{ID: "x", Driver: "choco"}
	_, err = d.For(unknown)
	var ude *UnknownDriverError
	require.True(t, errors.As(err, &ude))

	_, ok := d.InstallableID(unknown)
	assert.False(t, ok)
	assert.Equal(t, CodeUnknownDriver, d.Install(ctx, unknown, InstallOptions{}).Code)
	assert.NotEmpty(t, d.IsInstalled(ctx, unknown).Error)

	observed, err := d.Observed(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Git.Git": "2.0"}, observed)
	assert.Equal(t, "fake", d.PackageManager())
}
