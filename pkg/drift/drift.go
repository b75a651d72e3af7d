// Package drift compares a manifest with an observed installed-software map.
//
// Compute is pure and deterministic: the same manifest and observed map
// always yield the same Report, with sorted id lists.
package drift

import (
	"slices"

	"github.com/openfroyo/endstate/pkg/manifest"
)

// IDResolver maps a manifest entry to the id it is observed under.
type IDResolver func(entry manifest.AppEntry) (string, bool)

// Mismatch is a declared app whose installed version violates its
// constraint.
type Mismatch struct {
	ID        string `json:"id"`
	Installed string `json:"installed"`
	Required  string `json:"required"`
}

// Report is the drift between a manifest and an observed map.
type Report struct {
	Missing           []string   `json:"missing"`
	Extra             []string   `json:"extra"`
	VersionMismatches []Mismatch `json:"versionMismatches"`
	MissingCount      int        `json:"missingCount"`
	ExtraCount        int        `json:"extraCount"`
}

// Compute returns the apps the manifest declares but observed lacks, and
// the observed ids no manifest entry references. Entries the resolver cannot
// map are ignored. Version mismatches are reported per app by the engine, so
// VersionMismatches is always empty here.
func Compute(m *manifest.Manifest, observed map[string]string, resolve IDResolver) Report {
	referenced := make(map[string]struct{})
	missing := []string{}

	if m != nil {
		for _, entry := range m.Apps {
			id, ok := resolve(entry)
			if !ok {
				continue
			}
			if _, seen := referenced[id]; seen {
				continue
			}
			referenced[id] = struct{}{}
			if _, present := observed[id]; !present {
				missing = append(missing, id)
			}
		}
	}

	extra := []string{}
	for id := range observed {
		if _, ok := referenced[id]; !ok {
			extra = append(extra, id)
		}
	}

	slices.Sort(missing)
	slices.Sort(extra)

	return Report{
		Missing:           missing,
		Extra:             extra,
		VersionMismatches: []Mismatch{},
		MissingCount:      len(missing),
		ExtraCount:        len(extra),
	}
}
