package engine

import (
	"slices"

	"github.com/openfroyo/endstate/pkg/manifest"
)

// Config is built once at process start and passed to the engine and its
// collaborators. There is no package-level mutable configuration.
type Config struct {
	// Platform is the refs key tried first ("windows", "linux", "darwin").
	Platform string `json:"platform"`

	// TrustedRoot is the directory custom install scripts must live under.
	TrustedRoot string `json:"trustedRoot"`

	// StatePath is the state document location.
	StatePath string `json:"statePath"`

	// HistoryPath is the run history database. Empty disables history.
	HistoryPath string `json:"historyPath,omitempty"`

	// PackageManager names the standard driver's backend.
	PackageManager string `json:"packageManager"`

	// PolicyDir holds extra .rego policies.
	PolicyDir string `json:"policyDir,omitempty"`
}

// ApplyOptions controls an apply or plan run.
type ApplyOptions struct {
	// DryRun reports what would happen without executing anything or
	// writing state.
	DryRun bool

	// SkipVerify disables the verify sub-pass.
	SkipVerify bool

	// Only restricts the run to these app ids. Empty means all apps.
	Only []string
}

// VerifyOptions controls a verify run.
type VerifyOptions struct {
	// Only restricts the run to these app ids. Empty means all apps.
	Only []string
}

// includes reports whether entry takes part in a run filtered by only.
func includes(only []string, entry manifest.AppEntry) bool {
	return len(only) == 0 || slices.Contains(only, entry.ID)
}

// RunItem is the outcome of one app in one pass.
type RunItem struct {
	ID      string     `json:"id"`
	Driver  string     `json:"driver"`
	Status  ItemStatus `json:"status"`
	Reason  string     `json:"reason"`
	Message string     `json:"message,omitempty"`
	Version string     `json:"version,omitempty"`

	// Phase is the terminal phase the app reached.
	Phase AppPhase `json:"phase"`

	// Ref is the resolved installable id.
	Ref string `json:"ref,omitempty"`

	// Required is the declared version constraint.
	Required string `json:"required,omitempty"`
}

// Counts summarizes the install phase of an apply.
type Counts struct {
	Total            int `json:"total"`
	Installed        int `json:"installed"`
	Upgraded         int `json:"upgraded"`
	UpgradeWarnings  int `json:"upgradeWarnings"`
	AlreadyInstalled int `json:"alreadyInstalled"`
	WouldInstall     int `json:"wouldInstall"`
	WouldUpgrade     int `json:"wouldUpgrade"`
	SkippedNoRef     int `json:"skippedNoRef"`
	SkippedFiltered  int `json:"skippedFiltered"`
	Failed           int `json:"failed"`
}

// ApplyResult is the authoritative outcome of an apply.
type ApplyResult struct {
	RunID        string        `json:"runId"`
	ManifestPath string        `json:"manifestPath"`
	ManifestHash string        `json:"manifestHash"`
	TimestampUTC string        `json:"timestampUtc"`
	DryRun       bool          `json:"dryRun"`
	Success      bool          `json:"success"`
	ExitCode     int           `json:"exitCode"`
	Counts       Counts        `json:"counts"`
	Items        []RunItem     `json:"items"`
	VerifyResult *VerifyResult `json:"verifyResult,omitempty"`
}

// VerifyResult is the authoritative outcome of a verify pass.
type VerifyResult struct {
	RunID               string    `json:"runId,omitempty"`
	ManifestPath        string    `json:"manifestPath,omitempty"`
	ManifestHash        string    `json:"manifestHash,omitempty"`
	TimestampUTC        string    `json:"timestampUtc,omitempty"`
	Success             bool      `json:"success"`
	ExitCode            int       `json:"exitCode"`
	OkCount             int       `json:"okCount"`
	MissingCount        int       `json:"missingCount"`
	VersionMismatches   int       `json:"versionMismatches"`
	ErrorCount          int       `json:"errorCount"`
	ExtraCount          int       `json:"extraCount"`
	MissingApps         []string  `json:"missingApps"`
	VersionMismatchApps []string  `json:"versionMismatchApps"`
	ExtraApps           []string  `json:"extraApps"`
	Items               []RunItem `json:"items"`
}

// Plan is a dry-run apply saved as an artifact that can be diffed against
// a later plan.
type Plan struct {
	RunID        string    `json:"runId"`
	ManifestPath string    `json:"manifestPath"`
	ManifestHash string    `json:"manifestHash"`
	CreatedAtUTC string    `json:"createdAtUtc"`
	Items        []RunItem `json:"items"`
	Counts       Counts    `json:"counts"`
}
