// Package session provides an in-memory conversation session.
package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/reglet-dev/extsandbox/internal/application/ports"
	"github.com/reglet-dev/extsandbox/internal/domain/values"
)

// Entry types.
const (
	TypeMessage = "message"
	TypeLabel   = "label"
	TypeCustom  = "custom"
)

// Memory is a ports.Session kept in process memory.
type Memory struct {
	mu      sync.RWMutex
	entries []ports.SessionEntry
	byID    map[string]int
	now     func() time.Time
}

// NewMemory creates an empty session.
func NewMemory() *Memory {
	return &Memory{
		byID: make(map[string]int),
		now:  time.Now,
	}
}

// Entries returns a snapshot in append order.
func (m *Memory) Entries() []ports.SessionEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ports.SessionEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// AppendMessage records a conversation message and returns its id.
func (m *Memory) AppendMessage(role, content string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(ports.SessionEntry{Type: TypeMessage, Role: role, Content: content})
}

// AddLabel attaches a label entry to an existing entry.
func (m *Memory) AddLabel(targetID, label string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[targetID]; !ok {
		return false
	}
	m.appendLocked(ports.SessionEntry{Type: TypeLabel, TargetID: targetID, Label: label})
	return true
}

// AppendCustomEntry records extension data under a custom type.
func (m *Memory) AppendCustomEntry(customType string, data json.RawMessage) (string, error) {
	if strings.TrimSpace(customType) == "" {
		return "", fmt.Errorf("custom entry type is required")
	}
	if len(data) > 0 && !json.Valid(data) {
		return "", fmt.Errorf("custom entry data is not valid JSON")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(ports.SessionEntry{
		Type:       TypeCustom,
		CustomType: customType,
		Data:       append(json.RawMessage(nil), data...),
	}), nil
}

// Labels returns the labels attached to an entry, oldest first.
func (m *Memory) Labels(targetID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var labels []string
	for _, e := range m.entries {
		if e.Type == TypeLabel && e.TargetID == targetID {
			labels = append(labels, e.Label)
		}
	}
	return labels
}

func (m *Memory) appendLocked(e ports.SessionEntry) string {
	id := values.ShortID()
	for {
		if _, taken := m.byID[id]; !taken {
			break
		}
		id = values.ShortID()
	}
	e.ID = id
	e.Timestamp = m.now().UTC()
	m.byID[id] = len(m.entries)
	m.entries = append(m.entries, e)
	return id
}
