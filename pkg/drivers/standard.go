package drivers

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/openfroyo/endstate/pkg/manifest"
)

// DefaultRefKey is the refs entry used when no platform-specific ref exists.
const DefaultRefKey = "default"

// StandardDriver installs apps through the platform package manager.
//
// The installed-software list is fetched once per pass and reused for every
// app in that pass. Refresh discards it so the next query re-lists the live
// system.
type StandardDriver struct {
	client   PackageManagerClient
	platform string

	mu       sync.Mutex
	snapshot map[string]string
	listErr  error
	loaded   bool
}

// NewStandardDriver creates a driver for the given platform key
// ("windows", "linux", "darwin").
func NewStandardDriver(client PackageManagerClient, platform string) *StandardDriver {
	return &StandardDriver{client: client, platform: platform}
}

func (d *StandardDriver) sealed() {}

// Name returns the manifest driver name.
func (d *StandardDriver) Name() manifest.DriverName {
	return manifest.DriverWinget
}

// InstallableID prefers refs[platform], then refs["default"]. The entry id is
// used only when the entry declares no refs at all.
func (d *StandardDriver) InstallableID(entry manifest.AppEntry) (string, bool) {
	if ref := strings.TrimSpace(entry.Refs[d.platform]); ref != "" {
		return ref, true
	}
	if ref := strings.TrimSpace(entry.Refs[DefaultRefKey]); ref != "" {
		return ref, true
	}
	if len(entry.Refs) == 0 && entry.ID != "" {
		return entry.ID, true
	}
	return "", false
}

// Refresh drops the cached installed-software list.
func (d *StandardDriver) Refresh() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.snapshot = nil
	d.listErr = nil
	d.loaded = false
}

// Observed returns a copy of the installed-software list for this pass.
func (d *StandardDriver) Observed(ctx context.Context) (map[string]string, error) {
	snapshot, err := d.installed(ctx)
	if err != nil {
		return nil, err
	}
	return maps.Clone(snapshot), nil
}

func (d *StandardDriver) installed(ctx context.Context) (map[string]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.loaded {
		d.snapshot, d.listErr = d.client.ListInstalled(ctx)
		if d.snapshot == nil {
			d.snapshot = map[string]string{}
		}
		d.loaded = true
	}
	return d.snapshot, d.listErr
}

// IsInstalled looks up the app's installable id in the installed list.
func (d *StandardDriver) IsInstalled(ctx context.Context, entry manifest.AppEntry) InstallStatus {
	status := InstallStatus{Driver: d.Name()}

	id, ok := d.InstallableID(entry)
	if !ok {
		status.Error = string(CodeNoInstallableRef)
		return status
	}

	installed, err := d.installed(ctx)
	if err != nil {
		status.Error = fmt.Sprintf("%s: %v", d.client.Name(), err)
		return status
	}

	ver, found := installed[id]
	status.Installed = found
	status.Version = ver
	return status
}

// Install installs or upgrades the app through the package manager.
func (d *StandardDriver) Install(ctx context.Context, entry manifest.AppEntry, opts InstallOptions) InstallResult {
	action, wouldAction := ActionInstall, ActionWouldInstall
	if opts.Upgrade {
		action, wouldAction = ActionUpgrade, ActionWouldUpgrade
	}

	id, ok := d.InstallableID(entry)
	if !ok {
		return failed(action, CodeNoInstallableRef, -1, "no installable ref for %s on %s", entry.ID, d.platform)
	}

	if opts.DryRun {
		return InstallResult{Success: true, Action: wouldAction}
	}

	res, err := d.client.InstallOrUpgrade(ctx, id, opts.Upgrade)
	if err != nil {
		return failed(action, CodeInstallFailed, -1, "%s %s: %v", d.client.Name(), action, err)
	}
	if !res.Success() {
		return failed(action, CodeInstallFailed, res.ExitCode, "%s %s %s exited with code %d",
			d.client.Name(), action, id, res.ExitCode)
	}

	return InstallResult{Success: true, ExitCode: 0, Action: action}
}
