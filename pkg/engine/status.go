package engine

import (
	"fmt"

	"github.com/openfroyo/endstate/pkg/drivers"
)

// ItemStatus is the reported outcome of one app in a run.
type ItemStatus string

const (
	ItemStatusOK      ItemStatus = "ok"
	ItemStatusSkipped ItemStatus = "skipped"
	ItemStatusFailed  ItemStatus = "failed"
)

// Validate checks if the item status is valid.
func (s ItemStatus) Validate() error {
	switch s {
	case ItemStatusOK, ItemStatusSkipped, ItemStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid item status: %s", s)
	}
}

// AppPhase is where an app ended up in a single pass. Every app starts at
// PhaseNotAttempted and moves at most twice:
//
//	not_attempted -> skipped_no_ref | skipped_filtered
//	not_attempted -> present_ok
//	not_attempted -> present_version_mismatch -> upgraded | upgrade_failed | manual_intervention
//	not_attempted -> absent -> installed | install_failed
//
// A dry run stops at present_version_mismatch or absent.
type AppPhase string

const (
	PhaseNotAttempted           AppPhase = "not_attempted"
	PhaseSkippedNoRef           AppPhase = "skipped_no_ref"
	PhaseSkippedFiltered        AppPhase = "skipped_filtered"
	PhasePresentOK              AppPhase = "present_ok"
	PhasePresentVersionMismatch AppPhase = "present_version_mismatch"
	PhaseUpgraded               AppPhase = "upgraded"
	PhaseUpgradeFailed          AppPhase = "upgrade_failed"
	PhaseManualIntervention     AppPhase = "manual_intervention"
	PhaseAbsent                 AppPhase = "absent"
	PhaseInstalled              AppPhase = "installed"
	PhaseInstallFailed          AppPhase = "install_failed"
)

// Validate checks if the phase is valid.
func (p AppPhase) Validate() error {
	switch p {
	case PhaseNotAttempted, PhaseSkippedNoRef, PhaseSkippedFiltered, PhasePresentOK,
		PhasePresentVersionMismatch, PhaseUpgraded, PhaseUpgradeFailed, PhaseManualIntervention,
		PhaseAbsent, PhaseInstalled, PhaseInstallFailed:
		return nil
	default:
		return fmt.Errorf("invalid app phase: %s", p)
	}
}

// CanTransitionTo reports whether next may follow p within one pass.
func (p AppPhase) CanTransitionTo(next AppPhase) bool {
	switch p {
	case PhaseNotAttempted:
		switch next {
		case PhaseSkippedNoRef, PhaseSkippedFiltered, PhasePresentOK,
			PhasePresentVersionMismatch, PhaseAbsent:
			return true
		}
	case PhasePresentVersionMismatch:
		return next == PhaseUpgraded || next == PhaseUpgradeFailed || next == PhaseManualIntervention
	case PhaseAbsent:
		return next == PhaseInstalled || next == PhaseInstallFailed
	}
	return false
}

// Item reasons. Failure reasons are the drivers.FailureCode values.
const (
	ReasonAlreadyInstalled = "already_installed"
	ReasonInstalled        = "installed"
	ReasonWouldInstall     = "would_install"
	ReasonUpgraded         = "upgraded"
	ReasonWouldUpgrade     = "would_upgrade"
	ReasonFiltered         = "filtered"
	ReasonDisabled         = "disabled"
	ReasonCancelled        = "cancelled"
	ReasonPresent          = "present"
	ReasonMissing          = "missing"
	ReasonVersionMismatch  = "version_mismatch"

	ReasonNoInstallableRef = string(drivers.CodeNoInstallableRef)
	ReasonUnknownDriver    = string(drivers.CodeUnknownDriver)
	ReasonDetectionFailed  = string(drivers.CodeDetectionFailed)
	ReasonManualUpgrade    = string(drivers.CodeManualUpgradeNeeded)
)
