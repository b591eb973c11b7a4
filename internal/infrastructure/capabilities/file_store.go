// Package capabilities provides persistence and interactive resolution of
// capability decisions.
package capabilities

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/jsonc"

	"github.com/reglet-dev/extsandbox/internal/application/ports"
	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
)

const permissionFileVersion = 1

// FileStore persists "always" decisions as JSON. The file is read
// tolerantly (comments and trailing commas are accepted) and written with
// mode 0600.
//
// A store with an empty path, or one whose file cannot be read, keeps
// decisions in memory only.
type FileStore struct {
	path string

	mu         sync.Mutex
	loaded     bool
	memoryOnly bool
	decisions  map[string]map[capabilities.Capability]ports.PermissionDecision
}

type permissionFile struct {
	Version   int                                            `json:"version"`
	Decisions map[string]map[string]ports.PermissionDecision `json:"decisions"`
}

// NewFileStore creates a new FileStore.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path:       path,
		memoryOnly: path == "",
		decisions:  make(map[string]map[capabilities.Capability]ports.PermissionDecision),
	}
}

// NewMemoryStore creates a store that never touches disk.
func NewMemoryStore() *FileStore {
	return NewFileStore("")
}

// DefaultPermissionsPath returns ~/.extsandbox/permissions.json.
func DefaultPermissionsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to find home directory: %w", err)
	}
	return filepath.Join(home, ".extsandbox", "permissions.json"), nil
}

// ConfigPath returns the path to the permissions file.
func (s *FileStore) ConfigPath() string {
	return s.path
}

// Load reads the permissions file. A missing file yields an empty store; an
// empty or corrupt file is an error.
func (s *FileStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *FileStore) loadLocked() error {
	s.loaded = true
	if s.memoryOnly {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read permissions file: %w", err)
	}

	var file permissionFile
	if err := json.Unmarshal(jsonc.ToJSON(data), &file); err != nil {
		return fmt.Errorf("failed to parse permissions file %s: %w", s.path, err)
	}

	decisions := make(map[string]map[capabilities.Capability]ports.PermissionDecision, len(file.Decisions))
	for ext, caps := range file.Decisions {
		id := normalizeID(ext)
		for raw, decision := range caps {
			if decision != ports.AllowAlways && decision != ports.DenyAlways {
				return fmt.Errorf("permissions file %s: %s/%s: unknown decision %q", s.path, ext, raw, decision)
			}
			if decisions[id] == nil {
				decisions[id] = make(map[capabilities.Capability]ports.PermissionDecision)
			}
			decisions[id][capabilities.Parse(raw)] = decision
		}
	}
	s.decisions = decisions
	return nil
}

// ensureLoaded lazily loads the file. A failure degrades the store to memory.
func (s *FileStore) ensureLoaded() {
	if s.loaded {
		return
	}
	if err := s.loadLocked(); err != nil {
		slog.Warn("permission store unavailable, keeping decisions in memory", "path", s.path, "error", err)
		s.memoryOnly = true
	}
}

// Lookup implements ports.PermissionStore.
func (s *FileStore) Lookup(extensionID string, capability capabilities.Capability) (ports.PermissionDecision, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	d, ok := s.decisions[normalizeID(extensionID)][capabilities.Parse(string(capability))]
	return d, ok
}

// Record implements ports.PermissionStore. The decision is kept in memory even
// when writing the file fails.
func (s *FileStore) Record(extensionID string, capability capabilities.Capability, decision ports.PermissionDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()

	id := normalizeID(extensionID)
	if s.decisions[id] == nil {
		s.decisions[id] = make(map[capabilities.Capability]ports.PermissionDecision)
	}
	s.decisions[id][capabilities.Parse(string(capability))] = decision
	return s.saveLocked()
}

// RevokeExtension implements ports.PermissionStore.
func (s *FileStore) RevokeExtension(extensionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	delete(s.decisions, normalizeID(extensionID))
	return s.saveLocked()
}

// Reset implements ports.PermissionStore.
func (s *FileStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	s.decisions = make(map[string]map[capabilities.Capability]ports.PermissionDecision)
	return s.saveLocked()
}

// List implements ports.PermissionStore. Records are sorted by extension and
// capability.
func (s *FileStore) List() []ports.PermissionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()

	var out []ports.PermissionRecord
	for ext, caps := range s.decisions {
		for c, d := range caps {
			out = append(out, ports.PermissionRecord{ExtensionID: ext, Capability: c, Decision: d})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExtensionID != out[j].ExtensionID {
			return out[i].ExtensionID < out[j].ExtensionID
		}
		return out[i].Capability < out[j].Capability
	})
	return out
}

func (s *FileStore) saveLocked() error {
	if s.memoryOnly {
		if s.path == "" {
			return nil
		}
		return fmt.Errorf("permission store %s is memory-only after a load failure", s.path)
	}

	file := permissionFile{
		Version:   permissionFileVersion,
		Decisions: make(map[string]map[string]ports.PermissionDecision, len(s.decisions)),
	}
	for ext, caps := range s.decisions {
		if len(caps) == 0 {
			continue
		}
		file.Decisions[ext] = make(map[string]ports.PermissionDecision, len(caps))
		for c, d := range caps {
			file.Decisions[ext][string(c)] = d
		}
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create permissions directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".permissions-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp permissions file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name()) // no-op after a successful rename
	}()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write permissions: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set permissions file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close permissions file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace permissions file: %w", err)
	}
	return nil
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
