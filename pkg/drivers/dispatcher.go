package drivers

import (
	"context"
	"fmt"

	"github.com/openfroyo/endstate/pkg/manifest"
)

// UnknownDriverError is returned for an entry whose driver is not known.
type UnknownDriverError struct {
	Driver manifest.DriverName
}

func (e *UnknownDriverError) Error() string {
	return fmt.Sprintf("%s: %s", CodeUnknownDriver, e.Driver)
}

// Dispatcher routes manifest entries to their driver.
type Dispatcher struct {
	standard *StandardDriver
	custom   *CustomDriver
}

// NewDispatcher creates a dispatcher over the two drivers.
func NewDispatcher(standard *StandardDriver, custom *CustomDriver) *Dispatcher {
	return &Dispatcher{standard: standard, custom: custom}
}

// DriverOf returns the entry's declared driver, or the default.
func (d *Dispatcher) DriverOf(entry manifest.AppEntry) manifest.DriverName {
	return entry.DriverName()
}

// For returns the driver serving entry.
func (d *Dispatcher) For(entry manifest.AppEntry) (InstallDriver, error) {
	switch name := d.DriverOf(entry); name {
	case manifest.DriverWinget:
		return d.standard, nil
	case manifest.DriverCustom:
		return d.custom, nil
	default:
		return nil, &UnknownDriverError{Driver: name}
	}
}

// InstallableID resolves the entry's installable id. Entries with an
// unknown driver have none.
func (d *Dispatcher) InstallableID(entry manifest.AppEntry) (string, bool) {
	drv, err := d.For(entry)
	if err != nil {
		return "", false
	}
	return drv.InstallableID(entry)
}

// IsInstalled queries the entry's driver.
func (d *Dispatcher) IsInstalled(ctx context.Context, entry manifest.AppEntry) InstallStatus {
	drv, err := d.For(entry)
	if err != nil {
		return InstallStatus{Driver: d.DriverOf(entry), Error: err.Error()}
	}
	return drv.IsInstalled(ctx, entry)
}

// Install installs or upgrades the entry through its driver.
func (d *Dispatcher) Install(ctx context.Context, entry manifest.AppEntry, opts InstallOptions) InstallResult {
	drv, err := d.For(entry)
	if err != nil {
		action := ActionInstall
		if opts.Upgrade {
			action = ActionUpgrade
		}
		return failed(action, CodeUnknownDriver, -1, "%v", err)
	}
	return drv.Install(ctx, entry, opts)
}

// Refresh makes the next query re-read live system state.
func (d *Dispatcher) Refresh() {
	d.standard.Refresh()
}

// Observed returns the package manager's installed-software map.
func (d *Dispatcher) Observed(ctx context.Context) (map[string]string, error) {
	return d.standard.Observed(ctx)
}

// PackageManager returns the name of the standard driver's package manager.
func (d *Dispatcher) PackageManager() string {
	return d.standard.client.Name()
}
