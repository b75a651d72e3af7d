package engine

import (
	"context"
	"time"

	"github.com/openfroyo/endstate/pkg/manifest"
	"github.com/openfroyo/endstate/pkg/stores"
)

// ManifestLoader parses manifests and computes their hash.
type ManifestLoader interface {
	// Load reads, resolves includes of, and validates the manifest at path.
	Load(path string) (*manifest.Manifest, error)

	// Hash returns the line-ending-normalized hash of the manifest file.
	Hash(path string) (string, error)
}

// StateStore persists the engine state document.
type StateStore interface {
	// Read returns nil, nil when no state has been written yet.
	Read() (*stores.EngineState, error)

	// WriteAtomic replaces the state document atomically.
	WriteAtomic(state *stores.EngineState) error
}

// PolicyGate vets a manifest before any driver is called.
type PolicyGate interface {
	// CheckManifest returns the denial messages for m. An empty slice means
	// the manifest is allowed.
	CheckManifest(ctx context.Context, m *manifest.Manifest) ([]string, error)
}

// EventSink receives the run event stream.
type EventSink interface {
	PublishRunStarted(runID, command, manifestPath string)
	PublishItem(runID, appID, status, reason, message string)
	PublishRunCompleted(runID, command string, success bool, exitCode int, duration time.Duration)
}

// HistoryRecorder records finished runs.
type HistoryRecorder interface {
	RecordRun(ctx context.Context, run RunRecord) error
}

// RunRecord is a finished live run handed to the HistoryRecorder.
type RunRecord struct {
	RunID        string
	Command      string
	ManifestPath string
	ManifestHash string
	DryRun       bool
	StartedAt    time.Time
	CompletedAt  time.Time
	Success      bool
	ExitCode     int
	Summary      any
	Items        []RunItem
	Err          error
}

// Clock abstracts time for testing.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type nopSink struct{}

func (nopSink) PublishRunStarted(string, string, string) {}

func (nopSink) PublishItem(string, string, string, string, string) {}

func (nopSink) PublishRunCompleted(string, string, bool, int, time.Duration) {}
