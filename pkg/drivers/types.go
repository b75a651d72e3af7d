package drivers

import (
	"context"
	"fmt"

	"github.com/openfroyo/endstate/pkg/manifest"
)

// FailureCode is a stable machine-readable per-app failure code.
type FailureCode string

const (
	CodeNoInstallableRef      FailureCode = "no_installable_ref"
	CodeScriptOutsideRoot     FailureCode = "script_path_outside_root"
	CodeInstallScriptNotFound FailureCode = "install_script_not_found"
	CodeUnknownDriver         FailureCode = "unknown_driver"
	CodeManualUpgradeNeeded   FailureCode = "manual_upgrade_needed"
	CodeInstallFailed         FailureCode = "install_failed"
	CodeDetectionFailed       FailureCode = "detection_failed"
)

// Action is what an install call did, or would have done in a dry run.
type Action string

const (
	ActionInstall      Action = "install"
	ActionUpgrade      Action = "upgrade"
	ActionWouldInstall Action = "would_install"
	ActionWouldUpgrade Action = "would_upgrade"
)

// InstallStatus is the live answer to "is this app present".
type InstallStatus struct {
	Installed bool                `json:"installed"`
	Version   string              `json:"version,omitempty"` // empty when unknown
	Driver    manifest.DriverName `json:"driver"`
	Error     string              `json:"error,omitempty"`
}

// VersionKnown reports whether the driver could determine a version.
func (s InstallStatus) VersionKnown() bool {
	return s.Version != ""
}

// InstallOptions controls a single install call.
type InstallOptions struct {
	DryRun  bool
	Upgrade bool
}

// InstallResult is the outcome of an install or upgrade.
type InstallResult struct {
	Success  bool        `json:"success"`
	ExitCode int         `json:"exitCode"`
	Action   Action      `json:"action"`
	Code     FailureCode `json:"code,omitempty"`
	Error    string      `json:"error,omitempty"`
}

func failed(action Action, code FailureCode, exitCode int, format string, args ...any) InstallResult {
	return InstallResult{
		Success:  false,
		ExitCode: exitCode,
		Action:   action,
		Code:     code,
		Error:    fmt.Sprintf(format, args...),
	}
}

// InstallDriver installs and detects apps of one driver kind.
type InstallDriver interface {
	// Name returns the manifest driver this implementation serves.
	Name() manifest.DriverName

	// InstallableID resolves the identifier passed to the installer.
	InstallableID(entry manifest.AppEntry) (string, bool)

	// IsInstalled queries the live system.
	IsInstalled(ctx context.Context, entry manifest.AppEntry) InstallStatus

	// Install installs the app, or upgrades it when opts.Upgrade is set.
	Install(ctx context.Context, entry manifest.AppEntry, opts InstallOptions) InstallResult

	sealed()
}
