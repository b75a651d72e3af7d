package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader reads manifests from disk, resolving includes and validating the
// merged result.
type Loader struct {
	validator *Validator
}

// NewLoader creates a Loader with the built-in validator.
func NewLoader() (*Loader, error) {
	v, err := NewValidator()
	if err != nil {
		return nil, err
	}
	return &Loader{validator: v}, nil
}

// Load parses the manifest at path, resolves its includes depth-first, and
// validates the result.
func (l *Loader) Load(path string) (*Manifest, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, newError(ErrCodeUnreadable, path, "cannot resolve manifest path", err)
	}

	m, err := l.load(abs, nil)
	if err != nil {
		return nil, err
	}
	m.Path = abs
	m.Includes = nil

	if err := l.validator.Validate(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Hash implements the engine's manifest hashing contract.
func (l *Loader) Hash(path string) (string, error) {
	return HashFile(path)
}

func (l *Loader) load(path string, stack []string) (*Manifest, error) {
	for _, p := range stack {
		if p == path {
			chain := append(append([]string{}, stack...), path)
			return nil, newError(ErrCodeIncludeCycle, path,
				fmt.Sprintf("include cycle: %s", strings.Join(chain, " -> ")), nil)
		}
	}
	stack = append(stack, path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newError(ErrCodeUnreadable, path, "cannot read manifest", err)
	}

	m, err := Parse(path, data)
	if err != nil {
		return nil, err
	}

	if len(m.Includes) == 0 {
		return m, nil
	}

	merged := &Manifest{Version: m.Version, Name: m.Name}
	dir := filepath.Dir(path)
	for _, inc := range m.Includes {
		incPath := inc
		if !filepath.IsAbs(incPath) {
			incPath = filepath.Join(dir, incPath)
		}

		child, err := l.load(filepath.Clean(incPath), stack)
		if err != nil {
			return nil, err
		}
		merged.Apps = append(merged.Apps, child.Apps...)
		merged.Restore = append(merged.Restore, child.Restore...)
		merged.Verify = append(merged.Verify, child.Verify...)
	}

	merged.Apps = append(merged.Apps, m.Apps...)
	merged.Restore = append(merged.Restore, m.Restore...)
	merged.Verify = append(merged.Verify, m.Verify...)
	return merged, nil
}

// Parse decodes a single manifest document without resolving includes. The
// format is chosen by file extension, falling back to sniffing for a leading
// '{'.
func Parse(path string, data []byte) (*Manifest, error) {
	var m Manifest
	data = bytes.TrimPrefix(data, utf8BOM)

	if isJSON(path, data) {
		dec := json.NewDecoder(bytes.NewReader(stripJSONC(data)))
		if err := dec.Decode(&m); err != nil {
			return nil, newError(ErrCodeParse, path, "invalid JSON manifest", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, newError(ErrCodeParse, path, "invalid YAML manifest", err)
		}
	}

	return &m, nil
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func isJSON(path string, data []byte) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return true
	case ".yaml", ".yml":
		return false
	}
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '/')
}
