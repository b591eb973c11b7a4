package values

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// InstanceID uniquely identifies one runtime instance of an extension.
// Reloading an extension yields a new InstanceID for the same ExtensionID.
type InstanceID struct {
	value uuid.UUID
}

// NewInstanceID creates a new random instance ID
func NewInstanceID() InstanceID {
	return InstanceID{value: uuid.New()}
}

// ParseInstanceID parses a string into an InstanceID
func ParseInstanceID(s string) (InstanceID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return InstanceID{}, fmt.Errorf("invalid instance ID: %w", err)
	}
	return InstanceID{value: id}, nil
}

// String returns the string representation
func (i InstanceID) String() string {
	return i.value.String()
}

// IsZero returns true if this is the zero value
func (i InstanceID) IsZero() bool {
	return i.value == uuid.Nil
}

// ShortID returns an 8 hex character identifier derived from a random UUID.
// Session entries use it as their id.
func ShortID() string {
	return uuid.NewString()[:8]
}

// CallIDs hands out sequential "call-N" identifiers for one runtime.
type CallIDs struct {
	next atomic.Uint64
}

// Next returns the next call id.
func (c *CallIDs) Next() string {
	return fmt.Sprintf("call-%d", c.next.Add(1))
}
