package report

import (
	"slices"

	"github.com/openfroyo/endstate/pkg/drift"
	"github.com/openfroyo/endstate/pkg/manifest"
	"github.com/openfroyo/endstate/pkg/stores"
)

// Report is a read-only view of the current state, optionally alongside a
// manifest and the drift between the two.
type Report struct {
	HasState bool                `json:"hasState"`
	State    *stores.EngineState `json:"state,omitempty"`
	Manifest *ManifestInfo       `json:"manifest,omitempty"`
	Drift    *drift.Report       `json:"drift,omitempty"`
}

// ManifestInfo summarizes the manifest a report was built against.
type ManifestInfo struct {
	Path     string   `json:"path"`
	Name     string   `json:"name,omitempty"`
	AppCount int      `json:"appCount"`
	Apps     []string `json:"apps"`

	// Applied reports whether the state's lastApplied was recorded from
	// this manifest path.
	Applied bool `json:"applied"`
}

// Build assembles a report. Every argument may be nil. The inputs are copied,
// never modified.
func Build(state *stores.EngineState, m *manifest.Manifest, d *drift.Report) Report {
	r := Report{HasState: state != nil}
	if state != nil {
		r.State = state.Clone()
	}

	if m != nil {
		info := &ManifestInfo{
			Path:     m.Path,
			Name:     m.Name,
			AppCount: len(m.Apps),
			Apps:     make([]string, 0, len(m.Apps)),
		}
		for _, app := range m.Apps {
			info.Apps = append(info.Apps, app.ID)
		}
		if state != nil && state.LastApplied != nil {
			info.Applied = state.LastApplied.ManifestPath == m.Path
		}
		r.Manifest = info
	}

	if d != nil {
		cp := *d
		cp.Missing = slices.Clone(d.Missing)
		cp.Extra = slices.Clone(d.Extra)
		cp.VersionMismatches = slices.Clone(d.VersionMismatches)
		r.Drift = &cp
	}

	return r
}

// ObservedDrift computes the drift between m and the apps state last saw
// installed. It needs no package manager, so it describes the machine as of
// the last run rather than now. Disabled entries are ignored.
func ObservedDrift(state *stores.EngineState, m *manifest.Manifest) drift.Report {
	observed := map[string]string{}
	if state != nil {
		for id, app := range state.AppsObserved {
			if app.Installed {
				observed[id] = app.Version
			}
		}
	}
	return drift.Compute(m, observed, func(entry manifest.AppEntry) (string, bool) {
		return entry.ID, !entry.Disabled
	})
}
