package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/reglet-dev/extsandbox/internal/application/errors"
	"github.com/reglet-dev/extsandbox/internal/application/ports"
	"github.com/reglet-dev/extsandbox/internal/domain/entities"
	"github.com/reglet-dev/extsandbox/internal/domain/hostcall"
	domainservices "github.com/reglet-dev/extsandbox/internal/domain/services"
	"github.com/reglet-dev/extsandbox/internal/domain/values"
)

// Manager defaults.
const (
	DefaultLoadTimeout = 10 * time.Second
	DefaultGracePeriod = 5 * time.Second
	DefaultBudget      = 30 * time.Minute
)

const fieldAPIVersion = "apiVersion"

// ExtensionManager owns the lifecycle of loaded extensions: loading,
// activation, invocation, event delivery and shutdown.
//
// Extensions live in an arena of slots. A runtime reaches its host through a
// handle naming a slot index and generation; shutting the extension down
// bumps the generation so stale handles stop resolving.
type ExtensionManager struct {
	factory    ports.RuntimeFactory
	dispatcher ports.Dispatcher
	validator  ports.DeclarationValidator
	newFS      ports.FileSystemFactory
	logger     *slog.Logger

	loadTimeout time.Duration
	gracePeriod time.Duration
	budget      time.Duration
	onShutdown  []func(extensionID string)

	mu    sync.RWMutex
	slots []*slot
	byID  map[string]int
}

// ManagerOption configures an ExtensionManager.
type ManagerOption func(*ExtensionManager)

// WithLoadTimeout bounds how long Load waits for pi.register.
func WithLoadTimeout(d time.Duration) ManagerOption {
	return func(m *ExtensionManager) {
		if d > 0 {
			m.loadTimeout = d
		}
	}
}

// WithGracePeriod bounds how long Shutdown lets in-flight work drain.
func WithGracePeriod(d time.Duration) ManagerOption {
	return func(m *ExtensionManager) {
		if d > 0 {
			m.gracePeriod = d
		}
	}
}

// WithBudget sets the cumulative hostcall budget of each extension.
func WithBudget(d time.Duration) ManagerOption {
	return func(m *ExtensionManager) {
		if d > 0 {
			m.budget = d
		}
	}
}

// WithManagerLogger sets the logger.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *ExtensionManager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithShutdownHook registers fn to run after an extension reaches Shutdown.
func WithShutdownHook(fn func(extensionID string)) ManagerOption {
	return func(m *ExtensionManager) {
		if fn != nil {
			m.onShutdown = append(m.onShutdown, fn)
		}
	}
}

// NewExtensionManager creates a manager.
func NewExtensionManager(
	factory ports.RuntimeFactory,
	dispatcher ports.Dispatcher,
	validator ports.DeclarationValidator,
	newFS ports.FileSystemFactory,
	opts ...ManagerOption,
) *ExtensionManager {
	m := &ExtensionManager{
		factory:     factory,
		dispatcher:  dispatcher,
		validator:   validator,
		newFS:       newFS,
		logger:      slog.Default(),
		loadTimeout: DefaultLoadTimeout,
		gracePeriod: DefaultGracePeriod,
		budget:      DefaultBudget,
		byID:        make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// slot is one arena entry.
type slot struct {
	index      int
	generation atomic.Uint64
	// instance distinguishes reloads of the same extension id in logs.
	instance values.InstanceID

	ext     *entities.Extension
	runtime ports.GuestRuntime
	scope   *ports.CallScope
	filters []*domainservices.HookFilter

	mu      sync.RWMutex
	session ports.Session
}

func (s *slot) attachedSession() (ports.Session, bool) {
	if s.ext.State() != entities.StateActive {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session, s.session != nil
}

// extensionHandle is the runtime's non-owning reference to its slot. It
// stops resolving when the slot is recycled or the manager is collected.
type extensionHandle struct {
	m          weak.Pointer[ExtensionManager]
	index      int
	generation uint64
}

// Resolve implements ports.HostHandle.
func (h extensionHandle) Resolve() (ports.Host, bool) {
	m := h.m.Value()
	if m == nil {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if h.index < 0 || h.index >= len(m.slots) {
		return nil, false
	}
	s := m.slots[h.index]
	if s == nil || s.generation.Load() != h.generation {
		return nil, false
	}
	return slotHost{dispatcher: m.dispatcher, slot: s}, true
}

type slotHost struct {
	dispatcher ports.Dispatcher
	slot       *slot
}

// Dispatch implements ports.Host. The extension id of the request is
// always the slot's own.
func (h slotHost) Dispatch(ctx context.Context, req hostcall.Request) hostcall.Outcome {
	req.ExtensionID = h.slot.scope.ExtensionID
	return h.dispatcher.Dispatch(ctx, h.slot.scope, req)
}

// LoadResult is the outcome of loading one extension.
type LoadResult struct {
	Spec      ports.LoadSpec
	Extension *entities.Extension
	Err       error
}

// Load evaluates an extension and waits for its registration. On failure the
// returned extension is in the Failed state and the error is a LoadError.
func (m *ExtensionManager) Load(ctx context.Context, spec ports.LoadSpec) (*entities.Extension, error) {
	id := spec.ID.String()
	entry, root, err := resolveEntry(spec.EntryPath, spec.Root)
	if err != nil {
		ext := entities.NewExtension(spec.ID, spec.EntryPath, spec.Root)
		loadErr := apperrors.NewLoadError(id, apperrors.LoadEntry, "cannot resolve entry point", err)
		_ = ext.Transition(entities.StateLoading)
		_ = ext.Fail(loadErr)
		return ext, loadErr
	}
	spec.EntryPath, spec.Root = entry, root

	ext := entities.NewExtension(spec.ID, entry, root)
	if err := ext.Transition(entities.StateLoading); err != nil {
		return ext, err
	}

	s, err := m.allocate(ext)
	if err != nil {
		_ = ext.Fail(err)
		return ext, err
	}

	m.logger.DebugContext(ctx, "loading extension", "extension", id, "entry", entry)
	start := time.Now()

	handle := extensionHandle{m: weak.Make(m), index: s.index, generation: s.generation.Load()}
	rt, err := m.factory.NewRuntime(spec, handle)
	if err != nil {
		return ext, m.fail(ctx, s, apperrors.NewLoadError(id, apperrors.LoadRuntime, "cannot create runtime", err))
	}
	s.runtime = rt

	loadCtx, cancel := context.WithTimeout(ctx, m.loadTimeout)
	defer cancel()

	raw, err := rt.Start(loadCtx)
	if err != nil {
		var le *apperrors.LoadError
		if !errors.As(err, &le) {
			kind := apperrors.LoadRuntime
			if errors.Is(err, context.DeadlineExceeded) {
				kind = apperrors.LoadTimeout
			}
			err = apperrors.NewLoadError(id, kind, "extension failed to start", err)
		}
		return ext, m.fail(ctx, s, err)
	}

	decl, err := m.validator.ValidateDeclaration(raw)
	if err != nil {
		kind := apperrors.LoadRegistration
		var ve *apperrors.ValidationError
		if errors.As(err, &ve) && ve.Field == fieldAPIVersion {
			kind = apperrors.LoadAPIVersion
		}
		return ext, m.fail(ctx, s, apperrors.NewLoadError(id, kind, "registration rejected", err))
	}

	filters := make([]*domainservices.HookFilter, len(decl.EventHooks))
	for i, h := range decl.EventHooks {
		f, err := domainservices.CompileHookFilter(h.Filter)
		if err != nil {
			return ext, m.fail(ctx, s, apperrors.NewLoadError(id, apperrors.LoadRegistration, "invalid hook filter", err))
		}
		filters[i] = f
	}
	s.filters = filters

	if err := ext.Register(decl); err != nil {
		return ext, m.fail(ctx, s, apperrors.NewLoadError(id, apperrors.LoadRegistration, "registration rejected", err))
	}

	m.logger.InfoContext(ctx, "extension registered",
		"extension", id,
		"instance", s.instance.String(),
		"name", decl.Name,
		"version", decl.Version,
		"tools", len(decl.Tools),
		"commands", len(decl.Commands),
		"hooks", len(decl.EventHooks),
		"duration", time.Since(start))
	return ext, nil
}

// LoadAll loads extensions concurrently. A failure never cancels the
// other loads; results are in input order.
func (m *ExtensionManager) LoadAll(ctx context.Context, specs []ports.LoadSpec) []LoadResult {
	results := make([]LoadResult, len(specs))
	var g errgroup.Group
	for i, spec := range specs {
		g.Go(func() error {
			ext, err := m.Load(ctx, spec)
			results[i] = LoadResult{Spec: spec, Extension: ext, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// allocate reserves a slot for ext, reusing the slot of a previous
// terminal instance with the same id.
func (m *ExtensionManager) allocate(ext *entities.Extension) (*slot, error) {
	id := ext.ID().String()
	fsys, err := m.newFS(ext.Root())
	if err != nil {
		return nil, apperrors.NewLoadError(id, apperrors.LoadEntry, "cannot create sandbox filesystem", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	index, exists := m.byID[id]
	if exists {
		old := m.slots[index]
		if !old.ext.State().IsTerminal() {
			return nil, apperrors.NewLoadError(id, apperrors.LoadEntry, "extension is already loaded", nil)
		}
	} else {
		index = len(m.slots)
		m.slots = append(m.slots, nil)
		m.byID[id] = index
	}

	s := &slot{index: index, ext: ext, instance: values.NewInstanceID()}
	if exists {
		s.generation.Store(m.slots[index].generation.Load() + 1)
	}
	s.scope = &ports.CallScope{
		ExtensionID: id,
		Root:        ext.Root(),
		Budget:      hostcall.NewBudget(m.budget),
		FS:          fsys,
		Session:     s.attachedSession,
	}
	m.slots[index] = s
	return s, nil
}

// fail moves a loading extension to Failed and releases its runtime.
func (m *ExtensionManager) fail(ctx context.Context, s *slot, err error) error {
	_ = s.ext.Fail(err)
	s.generation.Add(1)
	if s.runtime != nil {
		if cerr := s.runtime.Close(); cerr != nil {
			m.logger.DebugContext(ctx, "failed to close runtime", "extension", s.scope.ExtensionID, "error", cerr)
		}
	}
	kind, _ := apperrors.LoadKind(err)
	m.logger.WarnContext(ctx, "extension failed to load", "extension", s.scope.ExtensionID, "kind", kind, "error", err)
	return err
}

func (m *ExtensionManager) lookup(id string) (*slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	index, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrExtensionNotFound, id)
	}
	return m.slots[index], nil
}

// Get returns the current instance of an extension.
func (m *ExtensionManager) Get(id string) (*entities.Extension, bool) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, false
	}
	return s.ext, true
}

// List returns every known extension ordered by id.
func (m *ExtensionManager) List() []*entities.Extension {
	m.mu.RLock()
	out := make([]*entities.Extension, 0, len(m.slots))
	for _, s := range m.slots {
		out = append(out, s.ext)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID().String() < out[j].ID().String() })
	return out
}

// Attach binds a session and moves the extension from Registered to Active.
func (m *ExtensionManager) Attach(id string, session ports.Session) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if err := s.ext.Transition(entities.StateActive); err != nil {
		s.mu.Unlock()
		return err
	}
	s.session = session
	s.mu.Unlock()
	m.logger.Debug("extension attached", "extension", id)
	return nil
}

// serving returns the slot of an extension that can take invocations.
func (m *ExtensionManager) serving(id string) (*slot, entities.Declaration, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, entities.Declaration{}, err
	}
	switch s.ext.State() {
	case entities.StateRegistered, entities.StateActive:
	default:
		return nil, entities.Declaration{}, fmt.Errorf("%w: %s is %s", apperrors.ErrNotActive, id, s.ext.State())
	}
	decl, _ := s.ext.Declaration()
	return s, decl, nil
}

// InvokeTool runs a registered tool.
func (m *ExtensionManager) InvokeTool(ctx context.Context, id, tool string, input json.RawMessage) (json.RawMessage, error) {
	s, decl, err := m.serving(id)
	if err != nil {
		return nil, err
	}
	if _, ok := decl.Tool(tool); !ok {
		return nil, fmt.Errorf("extension %s has no tool %q", id, tool)
	}
	return s.runtime.InvokeTool(ctx, tool, input)
}

// RunCommand runs a registered command.
func (m *ExtensionManager) RunCommand(ctx context.Context, id, command string, args json.RawMessage) (json.RawMessage, error) {
	s, decl, err := m.serving(id)
	if err != nil {
		return nil, err
	}
	if _, ok := decl.Command(command); !ok {
		return nil, fmt.Errorf("extension %s has no command %q", id, command)
	}
	return s.runtime.RunCommand(ctx, command, args)
}

// Emit delivers an event to the matching hooks of every Active extension,
// in extension id order. For blockable events the first block result
// stops delivery. An input hook may rewrite the content seen by later hooks.
// A failing hook is recorded in the outcome and never stops delivery.
func (m *ExtensionManager) Emit(ctx context.Context, event entities.EventName, payload json.RawMessage) (entities.EventOutcome, error) {
	outcome := entities.EventOutcome{Event: event}
	if !event.IsKnown() {
		return outcome, apperrors.NewValidationError("event", fmt.Sprintf("unknown event %q", event))
	}
	fields, err := payloadFields(payload)
	if err != nil {
		return outcome, err
	}

	for _, s := range m.activeSlots() {
		m.deliver(ctx, s, event, &payload, fields, &outcome)
		if outcome.Blocked {
			break
		}
	}
	return outcome, nil
}

func (m *ExtensionManager) deliver(ctx context.Context, s *slot, event entities.EventName,
	payload *json.RawMessage, fields map[string]any, outcome *entities.EventOutcome) {
	id := s.scope.ExtensionID
	decl, _ := s.ext.Declaration()

	for i, h := range decl.EventHooks {
		if h.Event != event {
			continue
		}
		ok, err := s.filters[i].Matches(event, id, fields)
		if err != nil {
			recordHookError(outcome, id, err)
			continue
		}
		if !ok {
			continue
		}

		res, err := s.runtime.InvokeHook(ctx, i, event, *payload)
		if err != nil {
			m.logger.WarnContext(ctx, "event hook failed", "extension", id, "event", event, "error", err)
			recordHookError(outcome, id, err)
			continue
		}
		if res == nil {
			continue
		}

		if event == entities.EventInput && res.Content != nil {
			content := *res.Content
			outcome.Content = &content
			fields["content"] = content
			if rewritten, err := json.Marshal(fields); err == nil {
				*payload = rewritten
			}
		}
		if res.Block && event.Blockable() {
			outcome.Blocked = true
			outcome.BlockedBy = id
			outcome.Reason = res.Reason
			m.logger.InfoContext(ctx, "event blocked by extension", "extension", id, "event", event, "reason", res.Reason)
			return
		}
	}
}

func recordHookError(outcome *entities.EventOutcome, id string, err error) {
	if outcome.Errors == nil {
		outcome.Errors = make(map[string]string)
	}
	outcome.Errors[id] = err.Error()
}

func payloadFields(payload json.RawMessage) (map[string]any, error) {
	fields := make(map[string]any)
	if len(payload) == 0 || string(payload) == "null" {
		return fields, nil
	}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, apperrors.NewValidationError("payload", "event payload must be a JSON object", err.Error())
	}
	return fields, nil
}

func (m *ExtensionManager) activeSlots() []*slot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*slot, 0, len(m.slots))
	for _, s := range m.slots {
		if s.ext.State() == entities.StateActive {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].scope.ExtensionID < out[j].scope.ExtensionID })
	return out
}

// Shutdown stops one extension. Its shutdown hooks run and in-flight work
// drains within the grace period; whatever is still outstanding at the
// deadline is cancelled. The extension reaches Shutdown no later than the
// grace deadline.
func (m *ExtensionManager) Shutdown(ctx context.Context, id string) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	if s.ext.State().IsTerminal() {
		return nil
	}
	if err := s.ext.Transition(entities.StateShuttingDown); err != nil {
		return err
	}

	graceCtx, cancel := context.WithTimeout(ctx, m.gracePeriod)
	defer cancel()

	decl, _ := s.ext.Declaration()
	for i, h := range decl.EventHooks {
		if h.Event != entities.EventShutdown {
			continue
		}
		if _, err := s.runtime.InvokeHook(graceCtx, i, entities.EventShutdown, nil); err != nil {
			m.logger.DebugContext(ctx, "shutdown hook failed", "extension", id, "error", err)
		}
	}

	if err := s.runtime.Drain(graceCtx); err != nil {
		m.logger.WarnContext(ctx, "grace period elapsed, cancelling outstanding work",
			"extension", id, "grace_period", m.gracePeriod)
	}

	s.generation.Add(1)
	if err := s.runtime.Close(); err != nil {
		m.logger.DebugContext(ctx, "failed to close runtime", "extension", id, "error", err)
	}
	if err := s.ext.Transition(entities.StateShutdown); err != nil {
		return err
	}
	for _, fn := range m.onShutdown {
		fn(id)
	}
	m.logger.InfoContext(ctx, "extension shut down", "extension", id, "instance", s.instance.String())
	return nil
}

// ShutdownAll stops every live extension concurrently.
func (m *ExtensionManager) ShutdownAll(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.slots))
	for _, s := range m.slots {
		if !s.ext.State().IsTerminal() {
			ids = append(ids, s.scope.ExtensionID)
		}
	}
	m.mu.RUnlock()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, id := range ids {
		g.Go(func() error {
			if err := m.Shutdown(ctx, id); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// resolveEntry turns a file or directory into an entry file and root.
// A directory resolves through package.json "main", then index.js.
func resolveEntry(entry, root string) (string, string, error) {
	abs, err := filepath.Abs(entry)
	if err != nil {
		return "", "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", "", err
	}
	if info.IsDir() {
		dir := abs
		abs = filepath.Join(dir, "index.js")
		if data, err := os.ReadFile(filepath.Join(dir, "package.json")); err == nil {
			var pkg struct {
				Main string `json:"main"`
			}
			if json.Unmarshal(data, &pkg) == nil && pkg.Main != "" {
				abs = filepath.Join(dir, pkg.Main)
			}
		}
		if _, err := os.Stat(abs); err != nil {
			return "", "", err
		}
		if root == "" {
			root = dir
		}
	}
	if root == "" {
		root = filepath.Dir(abs)
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return "", "", err
	}
	return abs, root, nil
}
