// Package manifest loads and validates the declarative document describing
// the software a machine should have installed.
//
// Manifests may be written as YAML, JSON, or JSON with comments (JSONC).
// A manifest may pull in other manifests through its includes list; included
// apps are placed before the including file's own apps, and include cycles are
// rejected.
//
// A loaded Manifest is immutable for the duration of a run. Callers load it
// fresh on every invocation.
package manifest
