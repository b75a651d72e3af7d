package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
)

// Change is one differing leaf between two artifacts. Values are the
// leaf's JSON encoding; Before is empty for additions and After is empty for
// removals.
type Change struct {
	Path   string          `json:"path"`
	Before json.RawMessage `json:"before,omitempty"`
	After  json.RawMessage `json:"after,omitempty"`
}

// Delta is the field-by-field difference between two artifacts. Each list is
// sorted by path.
type Delta struct {
	Added   []Change `json:"added"`
	Removed []Change `json:"removed"`
	Changed []Change `json:"changed"`
}

// Empty reports whether the artifacts are equivalent.
func (d *Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Count returns the total number of changes.
func (d *Delta) Count() int {
	return len(d.Added) + len(d.Removed) + len(d.Changed)
}

// Diff compares two JSON documents.
//
// Both are flattened to dotted leaf paths such as counts.installed. Array
// elements are addressed by their "id" field when every element is an object
// carrying a unique one (items[git].reason) and by index otherwise
// (missingApps[0]), so reordered run items do not show up as changes.
func Diff(a, b []byte) (*Delta, error) {
	left, err := flatten(a)
	if err != nil {
		return nil, fmt.Errorf("invalid left artifact: %w", err)
	}
	right, err := flatten(b)
	if err != nil {
		return nil, fmt.Errorf("invalid right artifact: %w", err)
	}

	d := &Delta{Added: []Change{}, Removed: []Change{}, Changed: []Change{}}
	for _, path := range sortedKeys(left) {
		before := left[path]
		after, ok := right[path]
		switch {
		case !ok:
			d.Removed = append(d.Removed, Change{Path: path, Before: before})
		case !bytes.Equal(before, after):
			d.Changed = append(d.Changed, Change{Path: path, Before: before, After: after})
		}
	}
	for _, path := range sortedKeys(right) {
		if _, ok := left[path]; !ok {
			d.Added = append(d.Added, Change{Path: path, After: right[path]})
		}
	}
	return d, nil
}

func flatten(raw []byte) (map[string]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if err := dec.Decode(new(any)); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after top-level value")
	}

	out := make(map[string]json.RawMessage)
	if err := walk("", v, out); err != nil {
		return nil, err
	}
	return out, nil
}

func walk(path string, v any, out map[string]json.RawMessage) error {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 {
			out[path] = json.RawMessage("{}")
			return nil
		}
		for key, child := range t {
			next := key
			if path != "" {
				next = path + "." + key
			}
			if err := walk(next, child, out); err != nil {
				return err
			}
		}
	case []any:
		if len(t) == 0 {
			out[path] = json.RawMessage("[]")
			return nil
		}
		ids := elementIDs(t)
		for i, child := range t {
			seg := fmt.Sprintf("[%d]", i)
			if ids != nil {
				seg = "[" + ids[i] + "]"
			}
			if err := walk(path+seg, child, out); err != nil {
				return err
			}
		}
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		out[path] = b
	}
	return nil
}

// elementIDs returns the id of every element, or nil unless all elements are
// objects with a distinct non-empty string id.
func elementIDs(elems []any) []string {
	ids := make([]string, len(elems))
	seen := make(map[string]struct{}, len(elems))
	for i, e := range elems {
		obj, ok := e.(map[string]any)
		if !ok {
			return nil
		}
		id, ok := obj["id"].(string)
		if !ok || id == "" {
			return nil
		}
		if _, dup := seen[id]; dup {
			return nil
		}
		seen[id] = struct{}{}
		ids[i] = id
	}
	return ids
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
