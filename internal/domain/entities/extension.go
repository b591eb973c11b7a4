// Package entities contains domain entities for the extension runtime.
// These are pure domain types with NO infrastructure dependencies.
package entities

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
	"github.com/reglet-dev/extsandbox/internal/domain/values"
)

// State is a lifecycle state of a loaded extension.
type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateRegistered
	StateActive
	StateShuttingDown
	StateShutdown
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateRegistered:
		return "registered"
	case StateActive:
		return "active"
	case StateShuttingDown:
		return "shutting_down"
	case StateShutdown:
		return "shutdown"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateShutdown || s == StateFailed
}

var transitions = map[State][]State{
	StateUnloaded:     {StateLoading},
	StateLoading:      {StateRegistered, StateFailed},
	StateRegistered:   {StateActive, StateShuttingDown},
	StateActive:       {StateShuttingDown},
	StateShuttingDown: {StateShutdown},
}

// ErrInvalidTransition is wrapped by every rejected state change.
var ErrInvalidTransition = errors.New("invalid extension state transition")

// TransitionError describes a rejected state change.
type TransitionError struct {
	Extension string
	From      State
	To        State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("extension %s: cannot move from %s to %s", e.Extension, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// Extension is a loaded guest module and the aggregate root of its lifecycle.
//
// Invariants Enforced:
// - state only changes along the lifecycle graph
// - a declaration is attached exactly once, while Loading
// - Failed and Shutdown are terminal
type Extension struct {
	mu sync.RWMutex

	id        values.ExtensionID
	entryPath string
	root      string

	state       State
	declaration *Declaration
	failure     error
	changedAt   map[State]time.Time
}

// NewExtension creates an extension in the Unloaded state.
func NewExtension(id values.ExtensionID, entryPath, root string) *Extension {
	return &Extension{
		id:        id,
		entryPath: entryPath,
		root:      root,
		state:     StateUnloaded,
		changedAt: map[State]time.Time{StateUnloaded: time.Now()},
	}
}

// ID returns the extension id.
func (e *Extension) ID() values.ExtensionID { return e.id }

// EntryPath returns the resolved entry file.
func (e *Extension) EntryPath() string { return e.entryPath }

// Root returns the working-directory root used for containment.
func (e *Extension) Root() string { return e.root }

// State returns the current lifecycle state.
func (e *Extension) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// ChangedAt returns when the extension entered a state, if it did.
func (e *Extension) ChangedAt(s State) (time.Time, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	at, ok := e.changedAt[s]
	return at, ok
}

// Transition moves the extension to a new state.
func (e *Extension) Transition(to State) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transitionLocked(to)
}

func (e *Extension) transitionLocked(to State) error {
	for _, allowed := range transitions[e.state] {
		if allowed == to {
			e.state = to
			e.changedAt[to] = time.Now()
			return nil
		}
	}
	return &TransitionError{Extension: e.id.String(), From: e.state, To: to}
}

// Register attaches the guest's declaration and moves Loading to Registered.
func (e *Extension) Register(decl Declaration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.declaration != nil {
		return fmt.Errorf("extension %s: already registered", e.id)
	}
	if err := e.transitionLocked(StateRegistered); err != nil {
		return err
	}
	e.declaration = &decl
	return nil
}

// Fail records the cause and moves Loading to Failed.
func (e *Extension) Fail(cause error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.transitionLocked(StateFailed); err != nil {
		return err
	}
	e.failure = cause
	return nil
}

// Failure returns the error that failed the load, if any.
func (e *Extension) Failure() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.failure
}

// Declaration returns the registered declaration.
func (e *Extension) Declaration() (Declaration, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.declaration == nil {
		return Declaration{}, false
	}
	return *e.declaration, true
}

// DeclaredCapabilities returns the capabilities named in the declaration.
func (e *Extension) DeclaredCapabilities() capabilities.Set {
	decl, ok := e.Declaration()
	if !ok {
		return nil
	}
	return capabilities.NewSet(decl.Capabilities...)
}
