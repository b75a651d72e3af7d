package drivers

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/openfroyo/endstate/pkg/manifest"
)

// CustomDriver runs install scripts from a trusted root and detects the app
// with its declared rule. It cannot upgrade.
type CustomDriver struct {
	trustedRoot string
	runner      CommandRunner
	detector    *Detector
	lookPath    func(string) (string, error)
}

// NewCustomDriver creates a custom driver confined to trustedRoot.
func NewCustomDriver(trustedRoot string, runner CommandRunner, detector *Detector) *CustomDriver {
	return &CustomDriver{
		trustedRoot: trustedRoot,
		runner:      runner,
		detector:    detector,
		lookPath:    lookPath,
	}
}

func (d *CustomDriver) sealed() {}

// Name returns the manifest driver name.
func (d *CustomDriver) Name() manifest.DriverName {
	return manifest.DriverCustom
}

// InstallableID is the entry id, provided the entry carries custom config.
func (d *CustomDriver) InstallableID(entry manifest.AppEntry) (string, bool) {
	if entry.Custom == nil || entry.ID == "" {
		return "", false
	}
	return entry.ID, true
}

// IsInstalled runs the entry's detection rule.
func (d *CustomDriver) IsInstalled(ctx context.Context, entry manifest.AppEntry) InstallStatus {
	status := InstallStatus{Driver: d.Name()}

	if entry.Custom == nil {
		status.Error = string(CodeNoInstallableRef)
		return status
	}

	res, err := d.detector.Detect(ctx, entry.Custom.Detect)
	if err != nil {
		status.Error = err.Error()
		return status
	}

	status.Installed = res.Installed
	status.Version = res.Version
	return status
}

// Install runs the entry's install script. Upgrades are refused.
func (d *CustomDriver) Install(ctx context.Context, entry manifest.AppEntry, opts InstallOptions) InstallResult {
	if opts.Upgrade {
		return failed(ActionUpgrade, CodeManualUpgradeNeeded, -1,
			"custom app %s cannot be upgraded automatically", entry.ID)
	}

	if entry.Custom == nil || entry.Custom.InstallScript == "" {
		return failed(ActionInstall, CodeNoInstallableRef, -1, "custom app %s has no install script", entry.ID)
	}

	script, code, err := ResolveScript(d.trustedRoot, entry.Custom.InstallScript)
	if err != nil {
		return failed(ActionInstall, code, -1, "%v", err)
	}

	if opts.DryRun {
		return InstallResult{Success: true, Action: ActionWouldInstall}
	}

	res, err := d.runner.Run(ctx, d.scriptCommand(script))
	if err != nil {
		return failed(ActionInstall, CodeInstallFailed, -1, "%v", err)
	}
	if !res.Success() {
		return failed(ActionInstall, CodeInstallFailed, res.ExitCode,
			"install script %s exited with code %d", filepath.Base(script), res.ExitCode)
	}

	return InstallResult{Success: true, Action: ActionInstall}
}

func (d *CustomDriver) scriptCommand(script string) Command {
	dir := filepath.Dir(script)

	switch strings.ToLower(filepath.Ext(script)) {
	case ".ps1":
		shell := "pwsh"
		if _, err := d.lookPath(shell); err != nil {
			shell = "powershell"
		}
		return Command{
			Name: shell,
			Args: []string{"-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass", "-File", script},
			Dir:  dir,
		}
	case ".sh":
		return Command{Name: "sh", Args: []string{script}, Dir: dir}
	case ".cmd", ".bat":
		return Command{Name: "cmd", Args: []string{"/c", script}, Dir: dir}
	default:
		return Command{Name: script, Dir: dir}
	}
}

// ResolveScript resolves script against root and verifies that the result,
// with symlinks followed, stays inside root. The returned code classifies a
// rejection.
func ResolveScript(root, script string) (string, FailureCode, error) {
	if root == "" {
		return "", CodeScriptOutsideRoot, errors.New("no trusted root configured for custom scripts")
	}

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", CodeScriptOutsideRoot, fmt.Errorf("cannot resolve trusted root: %w", err)
	}

	path := script
	if !filepath.IsAbs(path) {
		path = filepath.Join(rootAbs, path)
	}
	path = filepath.Clean(path)

	if !within(rootAbs, path) {
		return "", CodeScriptOutsideRoot, fmt.Errorf("install script %s resolves outside trusted root %s", script, rootAbs)
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", CodeInstallScriptNotFound, fmt.Errorf("install script not found: %s", path)
		}
		return "", CodeInstallScriptNotFound, fmt.Errorf("cannot stat install script %s: %w", path, err)
	}
	if info.IsDir() {
		return "", CodeInstallScriptNotFound, fmt.Errorf("install script is a directory: %s", path)
	}

	// A symlink inside the root must not point outside it.
	rootReal, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		rootReal = rootAbs
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", CodeInstallScriptNotFound, fmt.Errorf("cannot resolve install script %s: %w", path, err)
	}
	if !within(rootReal, resolved) {
		return "", CodeScriptOutsideRoot, fmt.Errorf("install script %s links outside trusted root %s", script, rootAbs)
	}

	return path, "", nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
