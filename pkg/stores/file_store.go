package stores

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ImportMode selects how an imported state document is applied.
type ImportMode string

const (
	// ImportMerge folds the incoming document into the existing one.
	ImportMerge ImportMode = "merge"

	// ImportReplace backs up the existing document and overwrites it.
	ImportReplace ImportMode = "replace"
)

// Validate checks if the import mode is valid.
func (m ImportMode) Validate() error {
	switch m {
	case ImportMerge, ImportReplace:
		return nil
	default:
		return fmt.Errorf("invalid import mode: %s", m)
	}
}

// ImportResult describes a completed import.
type ImportResult struct {
	Mode       ImportMode   `json:"mode"`
	BackupPath string       `json:"backupPath,omitempty"`
	State      *EngineState `json:"state"`
}

// StateStore is the persistence contract the engine depends on.
type StateStore interface {
	Read() (*EngineState, error)
	WriteAtomic(state *EngineState) error
	Reset() error
	Export(path string) error
	Import(path string, mode ImportMode) (*ImportResult, error)
}

// FileStateStore keeps the state document in a single JSON file.
type FileStateStore struct {
	path   string
	now    func() time.Time
	rename func(oldpath, newpath string) error
}

// NewFileStateStore creates a store for the document at path.
func NewFileStateStore(path string) *FileStateStore {
	return &FileStateStore{
		path:   path,
		now:    time.Now,
		rename: os.Rename,
	}
}

// Path returns the state file location.
func (s *FileStateStore) Path() string {
	return s.path
}

// Read returns the current state, or nil if nothing has been written yet.
func (s *FileStateStore) Read() (*EngineState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, stateError(ErrCodeIO, "read", s.path, err)
	}

	state, err := DecodeState(data)
	if err != nil {
		var serr *StateError
		if errors.As(err, &serr) {
			serr.Op, serr.Path = "read", s.path
		}
		return nil, err
	}
	return state, nil
}

// WriteAtomic replaces the state document.
func (s *FileStateStore) WriteAtomic(state *EngineState) error {
	data, err := encodeState(state)
	if err != nil {
		return stateError(ErrCodeCorrupt, "write", s.path, err)
	}
	if err := atomicWrite(s.path, data, 0o644, s.rename); err != nil {
		return stateError(ErrCodeIO, "write", s.path, err)
	}
	return nil
}

// Reset deletes the state document. Deleting a missing document is not an
// error.
func (s *FileStateStore) Reset() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return stateError(ErrCodeIO, "reset", s.path, err)
	}
	return nil
}

// Export writes the current state, or an empty document if there is none,
// to path.
func (s *FileStateStore) Export(path string) error {
	state, err := s.Read()
	if err != nil {
		return err
	}
	if state == nil {
		state = NewEngineState()
	}

	data, err := encodeState(state)
	if err != nil {
		return stateError(ErrCodeCorrupt, "export", path, err)
	}
	if err := atomicWrite(path, data, 0o644, s.rename); err != nil {
		return stateError(ErrCodeIO, "export", path, err)
	}
	return nil
}

// Import applies the state document at path. The incoming document is
// validated before anything is written.
func (s *FileStateStore) Import(path string, mode ImportMode) (*ImportResult, error) {
	if mode == "" {
		mode = ImportMerge
	}
	if err := mode.Validate(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, stateError(ErrCodeIO, "import", path, err)
	}

	incoming, err := DecodeState(data)
	if err != nil {
		var serr *StateError
		if errors.As(err, &serr) {
			serr.Op, serr.Path = "import", path
		}
		return nil, err
	}

	existing, err := s.Read()
	if err != nil {
		return nil, err
	}

	result := &ImportResult{Mode: mode}

	switch mode {
	case ImportReplace:
		if existing != nil {
			backup, err := s.backup()
			if err != nil {
				return nil, err
			}
			result.BackupPath = backup
		}
		result.State = incoming

	default:
		result.State = MergeStates(existing, incoming)
	}

	if err := s.WriteAtomic(result.State); err != nil {
		return nil, err
	}
	return result, nil
}

// backup copies the current document to a timestamped sibling file.
func (s *FileStateStore) backup() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", stateError(ErrCodeIO, "backup", s.path, err)
	}

	ext := filepath.Ext(s.path)
	base := strings.TrimSuffix(s.path, ext)
	if ext == "" {
		ext = ".json"
	}
	backupPath := fmt.Sprintf("%s.backup-%s%s", base, s.now().UTC().Format("20060102T150405Z"), ext)

	if err := atomicWrite(backupPath, data, 0o644, s.rename); err != nil {
		return "", stateError(ErrCodeIO, "backup", backupPath, err)
	}
	return backupPath, nil
}

// DecodeState parses and validates a state document. schemaVersion must be
// present and equal to SchemaVersion.
func DecodeState(data []byte) (*EngineState, error) {
	var header struct {
		SchemaVersion *json.RawMessage `json:"schemaVersion"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, stateError(ErrCodeCorrupt, "decode", "", err)
	}
	if header.SchemaVersion == nil {
		return nil, stateError(ErrCodeSchemaMismatch, "decode", "", errors.New("schemaVersion is missing"))
	}

	var version int
	if err := json.Unmarshal(*header.SchemaVersion, &version); err != nil || version != SchemaVersion {
		return nil, stateError(ErrCodeSchemaMismatch, "decode", "",
			fmt.Errorf("unsupported schemaVersion %s, want %d", string(*header.SchemaVersion), SchemaVersion))
	}

	var state EngineState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, stateError(ErrCodeCorrupt, "decode", "", err)
	}
	if state.AppsObserved == nil {
		state.AppsObserved = map[string]ObservedApp{}
	}
	return &state, nil
}

func encodeState(state *EngineState) ([]byte, error) {
	if state == nil {
		state = NewEngineState()
	}
	out := *state
	out.SchemaVersion = SchemaVersion
	if out.AppsObserved == nil {
		out.AppsObserved = map[string]ObservedApp{}
	}

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	return append(data, '\n'), nil
}
