package stores

import (
	"maps"
	"slices"
	"time"
)

// SchemaVersion is the only state document version this package reads or
// writes.
const SchemaVersion = 1

// TimestampLayout is the format of every timestamp in the state document.
const TimestampLayout = time.RFC3339

// EngineState is the persisted state document.
type EngineState struct {
	SchemaVersion int                    `json:"schemaVersion"`
	LastApplied   *LastApplied           `json:"lastApplied"`
	LastVerify    *LastVerify            `json:"lastVerify"`
	AppsObserved  map[string]ObservedApp `json:"appsObserved"`
}

// LastApplied records the most recent non-dry-run apply.
type LastApplied struct {
	ManifestPath string `json:"manifestPath"`
	ManifestHash string `json:"manifestHash"`
	TimestampUTC string `json:"timestampUtc"`
}

// LastVerify records the most recent verification pass.
type LastVerify struct {
	ManifestPath         string   `json:"manifestPath"`
	ManifestHash         string   `json:"manifestHash"`
	TimestampUTC         string   `json:"timestampUtc"`
	OkCount              int      `json:"okCount"`
	MissingCount         int      `json:"missingCount"`
	VersionMismatchCount int      `json:"versionMismatchCount"`
	MissingApps          []string `json:"missingApps"`
	VersionMismatchApps  []string `json:"versionMismatchApps"`
	Success              bool     `json:"success"`
}

// ObservedApp is the last thing a run saw about one app.
type ObservedApp struct {
	Installed         bool   `json:"installed"`
	Driver            string `json:"driver"`
	Version           string `json:"version,omitempty"`
	VersionConstraint string `json:"versionConstraint,omitempty"`
	VersionSatisfied  bool   `json:"versionSatisfied"`
	LastSeenUTC       string `json:"lastSeenUtc"`
}

// NewEngineState returns an empty state document.
func NewEngineState() *EngineState {
	return &EngineState{
		SchemaVersion: SchemaVersion,
		AppsObserved:  map[string]ObservedApp{},
	}
}

// Clone returns a deep copy of s.
func (s *EngineState) Clone() *EngineState {
	if s == nil {
		return nil
	}

	out := &EngineState{
		SchemaVersion: s.SchemaVersion,
		AppsObserved:  maps.Clone(s.AppsObserved),
	}
	if out.AppsObserved == nil {
		out.AppsObserved = map[string]ObservedApp{}
	}
	if s.LastApplied != nil {
		la := *s.LastApplied
		out.LastApplied = &la
	}
	if s.LastVerify != nil {
		lv := *s.LastVerify
		lv.MissingApps = slices.Clone(lv.MissingApps)
		lv.VersionMismatchApps = slices.Clone(lv.VersionMismatchApps)
		out.LastVerify = &lv
	}
	return out
}

// RecordObserved stores each app observation, overwriting earlier ones.
func (s *EngineState) RecordObserved(apps map[string]ObservedApp) {
	if s.AppsObserved == nil {
		s.AppsObserved = make(map[string]ObservedApp, len(apps))
	}
	for id, app := range apps {
		s.AppsObserved[id] = app
	}
}

// FormatTimestamp renders t in the state document's UTC format.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// newer reports whether incoming should replace existing: incoming must
// parse, and must be strictly later than existing when existing parses.
func newer(incoming, existing string) bool {
	in, ok := parseTimestamp(incoming)
	if !ok {
		return false
	}
	ex, ok := parseTimestamp(existing)
	if !ok {
		return true
	}
	return in.After(ex)
}

// MergeStates combines an imported state into an existing one without
// regressing it. lastApplied and lastVerify are taken from incoming only
// when its timestamp parses and is strictly newer (or nothing exists yet).
// appsObserved merges per app and an incoming entry always replaces an
// existing one with the same id. Neither argument is modified.
func MergeStates(existing, incoming *EngineState) *EngineState {
	if existing == nil {
		if incoming == nil {
			return NewEngineState()
		}
		out := incoming.Clone()
		out.SchemaVersion = SchemaVersion
		return out
	}

	out := existing.Clone()
	out.SchemaVersion = SchemaVersion
	if incoming == nil {
		return out
	}

	if la := incoming.LastApplied; la != nil {
		if out.LastApplied == nil || newer(la.TimestampUTC, out.LastApplied.TimestampUTC) {
			c := *la
			out.LastApplied = &c
		}
	}

	if lv := incoming.LastVerify; lv != nil {
		if out.LastVerify == nil || newer(lv.TimestampUTC, out.LastVerify.TimestampUTC) {
			out.LastVerify = incoming.Clone().LastVerify
		}
	}

	maps.Copy(out.AppsObserved, incoming.AppsObserved)

	return out
}
