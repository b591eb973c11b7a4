// Package values contains domain value objects that encapsulate
// primitive types with validation.
package values

import (
	"encoding/json"
	"fmt"
	"strings"
)

const maxExtensionIDLength = 128

// ExtensionID is the stable identifier of a loaded extension. It is trimmed
// and lower-cased so that policy lookups and the permission store agree.
type ExtensionID struct {
	value string
}

// NewExtensionID creates an ExtensionID with validation.
func NewExtensionID(raw string) (ExtensionID, error) {
	id := strings.ToLower(strings.TrimSpace(raw))
	if id == "" {
		return ExtensionID{}, fmt.Errorf("extension id cannot be empty")
	}
	if len(id) > maxExtensionIDLength {
		return ExtensionID{}, fmt.Errorf("extension id exceeds %d characters", maxExtensionIDLength)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.', r == '@', r == '/':
		default:
			return ExtensionID{}, fmt.Errorf("extension id %q contains invalid character %q", raw, r)
		}
	}
	if strings.Contains(id, "..") {
		return ExtensionID{}, fmt.Errorf("extension id %q contains '..'", raw)
	}
	return ExtensionID{value: id}, nil
}

// MustNewExtensionID creates an ExtensionID or panics
func MustNewExtensionID(raw string) ExtensionID {
	id, err := NewExtensionID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the string representation
func (e ExtensionID) String() string {
	return e.value
}

// IsEmpty returns true if this is the zero value
func (e ExtensionID) IsEmpty() bool {
	return e.value == ""
}

// MarshalJSON implements json.Marshaler
func (e ExtensionID) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.value)
}

// UnmarshalJSON implements json.Unmarshaler
func (e *ExtensionID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid extension id JSON: %w", err)
	}
	id, err := NewExtensionID(s)
	if err != nil {
		return err
	}
	*e = id
	return nil
}
