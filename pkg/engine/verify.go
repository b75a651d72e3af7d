package engine

import (
	"context"
	"fmt"

	"github.com/openfroyo/endstate/pkg/drift"
	"github.com/openfroyo/endstate/pkg/manifest"
	"github.com/openfroyo/endstate/pkg/version"
)

// verifyPass walks the manifest once, classifying each app, and computes
// the extras drift over the full installed list. It never installs
// anything.
func (e *Engine) verifyPass(ctx context.Context, r *run, only []string) *VerifyResult {
	v := &VerifyResult{
		MissingApps:         []string{},
		VersionMismatchApps: []string{},
		ExtraApps:           []string{},
		Items:               make([]RunItem, 0, len(r.manifest.Apps)),
	}

	observed, err := e.drivers.Observed(ctx)
	if err != nil {
		r.logger.WithError(err).Warn("cannot list installed software, extras not computed")
		observed = map[string]string{}
	}

	for _, entry := range r.manifest.Apps {
		item := e.check(ctx, r, entry, only)

		switch {
		case item.Status == ItemStatusOK:
			v.OkCount++
		case item.Reason == ReasonMissing:
			v.MissingCount++
			v.MissingApps = append(v.MissingApps, item.ID)
		case item.Reason == ReasonVersionMismatch:
			v.VersionMismatches++
			v.VersionMismatchApps = append(v.VersionMismatchApps, item.ID)
		case item.Status == ItemStatusFailed:
			v.ErrorCount++
		}

		// Custom apps are not in the package manager's list.
		if obs, ok := r.observed[entry.ID]; ok && obs.Installed && entry.DriverName() == manifest.DriverCustom {
			observed[entry.ID] = obs.Version
		}

		v.Items = append(v.Items, item)
		e.emit(r, item)
	}

	report := drift.Compute(r.manifest, observed, e.drivers.InstallableID)
	v.ExtraApps = report.Extra
	v.ExtraCount = report.ExtraCount

	e.metrics.SetDrift("missing", v.MissingCount)
	e.metrics.SetDrift("version_mismatch", v.VersionMismatches)
	e.metrics.SetDrift("extra", v.ExtraCount)

	v.Success = v.MissingCount == 0 && v.VersionMismatches == 0 && v.ErrorCount == 0
	v.ExitCode = exitCodeFor(v.Success)
	return v
}

// check classifies one app without changing anything.
func (e *Engine) check(ctx context.Context, r *run, entry manifest.AppEntry, only []string) RunItem {
	item := newItem(entry)
	if skipped, ok := filtered(item, entry, only); ok {
		return skipped
	}

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
		return item.with(ItemStatusFailed, ReasonMissing, "")
	}

	item.Version = status.Version
	if check.Satisfied {
		item.Phase = PhasePresentOK
		return item.with(ItemStatusOK, ReasonPresent, "")
	}

	item.Phase = PhasePresentVersionMismatch
	return item.with(ItemStatusFailed, ReasonVersionMismatch,
		fmt.Sprintf("installed %s, requires %s (%s)", displayVersion(status.Version), entry.Version, check.Reason))
}
