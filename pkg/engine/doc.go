// Package engine reconciles a machine against a declarative app manifest.
//
// # Overview
//
// An Engine runs one of three passes over a manifest:
//
//  1. Apply - install missing apps, upgrade outdated ones, then verify
//  2. Verify - classify every app as present, missing or version-mismatched
//  3. Plan - a dry-run apply packaged as a diffable artifact
//
// Apps are processed strictly in manifest order, one at a time. Each app
// moves through a small set of phases (see AppPhase) and ends as a RunItem
// with a status of ok, skipped or failed plus a stable reason code.
//
// # Failures
//
// Per-app failures never abort a pass: they are recorded on the item and the
// engine moves on. Run-level failures are returned as *EngineError values
// classified as input, state, policy or fatal; ExitCode maps them to process
// exit codes.
//
//	res, err := eng.Apply(ctx, "machine.yaml", engine.ApplyOptions{})
//	if err != nil {
//		os.Exit(engine.ExitCode(err))
//	}
//	os.Exit(res.ExitCode)
//
// # State
//
// A live pass writes the state document exactly once, after every app has
// been processed. A failed write leaves the previous document in place.
// Dry runs never touch state or run history.
//
// # Collaborators
//
// The engine depends on narrow interfaces: ManifestLoader, StateStore,
// PolicyGate, EventSink and HistoryRecorder. StoreRecorder adapts a
// stores.HistoryStore for run history; telemetry.EventPublisher satisfies
// EventSink.
package engine
