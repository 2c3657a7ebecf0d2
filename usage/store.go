package usage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/werkstattwaedi/machine-auth-sub000/errs"
)

// FileSystem is the narrow file-I/O contract the history store needs,
// injectable so tests never touch the real filesystem.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
}

// OSFileSystem is the production FileSystem, backed by the os package.
type OSFileSystem struct{}

func (OSFileSystem) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile creates any missing parent directories, then overwrites the
// whole file in one call (spec §4.6 "overwrite the whole file on every
// PersistHistory call").
func (OSFileSystem) WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// HistoryPath mirrors the firmware's logfile path convention from
// machine_state.cpp's Begin(): "/machine_{machine_id}/machine_history.data".
func HistoryPath(machineID string) string {
	return fmt.Sprintf("/machine_%s/machine_history.data", machineID)
}

// Store persists a History to a FileSystem at HistoryPath(machineID).
type Store struct {
	fs        FileSystem
	machineID string
	path      string
}

// NewStore constructs a Store for machineID over fs.
func NewStore(fs FileSystem, machineID string) *Store {
	return &Store{fs: fs, machineID: machineID, path: HistoryPath(machineID)}
}

// Load reads the persisted history. A missing file yields an empty
// History (spec §4.6 "a missing/empty file yields an empty history"). A
// machine_id mismatch is logged and discarded rather than accepted (spec
// §4.6 Recovery on boot; SPEC_FULL.md supplemented feature C.6 adds the
// observable log line the original firmware also emits).
func (s *Store) Load() *History {
	data, err := s.fs.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &History{MachineID: s.machineID}
		}
		log.WithError(err).WithField("path", s.path).Error("failed to read history file")
		return &History{MachineID: s.machineID}
	}
	if len(data) == 0 {
		return &History{MachineID: s.machineID}
	}

	h, err := Unmarshal(data)
	if err != nil {
		log.WithError(err).WithField("path", s.path).Error("history file is corrupt, discarding")
		return &History{MachineID: s.machineID}
	}
	if h.MachineID != s.machineID {
		log.WithField("restored", h.MachineID).
			WithField("expected", s.machineID).
			Error("machine_id mismatch in history file, discarding")
		return &History{MachineID: s.machineID}
	}
	return h
}

// Persist overwrites the whole history file synchronously.
func (s *Store) Persist(h *History) error {
	if err := s.fs.WriteFile(s.path, h.Marshal()); err != nil {
		return errs.New(errs.Unspecified, err)
	}
	return nil
}
