// Package container provides dependency injection for the application.
package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/reglet-dev/extsandbox/internal/application/ports"
	"github.com/reglet-dev/extsandbox/internal/application/services"
	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
	"github.com/reglet-dev/extsandbox/internal/infrastructure/audit"
	capinfra "github.com/reglet-dev/extsandbox/internal/infrastructure/capabilities"
	"github.com/reglet-dev/extsandbox/internal/infrastructure/config"
	"github.com/reglet-dev/extsandbox/internal/infrastructure/hostfuncs"
	"github.com/reglet-dev/extsandbox/internal/infrastructure/jsruntime"
	"github.com/reglet-dev/extsandbox/internal/infrastructure/redaction"
	"github.com/reglet-dev/extsandbox/internal/infrastructure/session"
	"github.com/reglet-dev/extsandbox/internal/infrastructure/system"
	"github.com/reglet-dev/extsandbox/internal/infrastructure/validation"
	"github.com/reglet-dev/extsandbox/internal/infrastructure/vfs"
	"github.com/reglet-dev/extsandbox/internal/version"
)

// Container holds all application dependencies.
type Container struct {
	systemCfg   *system.Config
	logger      *slog.Logger
	policy      *config.PolicyHolder
	watcher     *config.PolicyWatcher
	permissions *capinfra.FileStore
	gatekeeper  *services.CapabilityGatekeeper
	redactor    *redaction.Redactor
	recorder    *audit.Recorder
	metrics     *prometheus.Registry
	manager     *services.ExtensionManager
	session     *session.Memory
}

// Options configure the container.
type Options struct {
	Logger           *slog.Logger
	SystemConfigPath string
	// Profile overrides the configured policy profile.
	Profile string
	// Interactive enables terminal capability prompts.
	Interactive bool
	// AuditOut receives every audit record as a JSON line.
	AuditOut io.Writer

	UI     ports.UI
	Events ports.EventSink
	Tools  ports.ToolHost
}

// New creates a new dependency injection container.
func New(opts Options) (*Container, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	// Load system config
	systemCfg := system.DefaultConfig()
	if opts.SystemConfigPath != "" {
		loaded, err := system.NewConfigLoader().Load(opts.SystemConfigPath)
		if err != nil {
			return nil, err
		}
		systemCfg = loaded
	}

	policy, err := config.ResolvePolicy(systemCfg, opts.Profile)
	if err != nil {
		return nil, err
	}
	holder := config.NewPolicyHolder(policy)

	var watcher *config.PolicyWatcher
	if systemCfg.PolicyFile != "" {
		watcher = config.NewPolicyWatcher(systemCfg.PolicyFile, opts.Profile, holder)
		watcher.OnReload(func(p *capabilities.Policy) {
			opts.Logger.Info("capability policy reloaded", "path", systemCfg.PolicyFile, "profile", p.Profile().Name)
		})
	}

	permissions, err := openPermissions(systemCfg.PermissionsPath, opts.Logger)
	if err != nil {
		return nil, err
	}

	gatekeeperOpts := []services.GatekeeperOption{services.WithPermissionStore(permissions)}
	if opts.Interactive {
		gatekeeperOpts = append(gatekeeperOpts, services.WithPrompter(capinfra.NewTerminalPrompter()))
	}
	gatekeeper := services.NewCapabilityGatekeeper(holder, gatekeeperOpts...)

	// Initialize redactor
	redactor, err := redaction.New(redaction.Config{
		Patterns:        systemCfg.Redaction.Patterns,
		Keys:            redaction.DefaultKeys,
		DisableGitleaks: systemCfg.Redaction.DisableGitleaks,
	})
	if err != nil {
		return nil, err
	}

	recorderOpts := []audit.Option{audit.WithScrubber(redactor)}
	if opts.AuditOut != nil {
		recorderOpts = append(recorderOpts, audit.WithOutput(opts.AuditOut))
	}
	recorder := audit.NewRecorder(systemCfg.Runtime.AuditBuffer, recorderOpts...)

	registry := prometheus.NewRegistry()
	metrics, err := hostfuncs.NewMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	rt := systemCfg.Runtime
	dispatcher := hostfuncs.NewDispatcher(gatekeeper,
		hostfuncs.DefaultRegistry(hostfuncs.Dependencies{
			UI:                  opts.UI,
			Events:              opts.Events,
			Tools:               opts.Tools,
			Scrubber:            redactor,
			Logger:              opts.Logger,
			UserAgent:           "extsandbox/" + version.Version,
			AllowPrivateNetwork: rt.AllowPrivateNetwork,
			MaxBodySize:         rt.MaxReadBytes,
		}),
		hostfuncs.WithAuditSink(recorder),
		hostfuncs.WithMetrics(metrics),
		hostfuncs.WithOpTimeouts(rt.OpTimeouts),
		hostfuncs.WithMiddleware(hostfuncs.Logging),
	)

	validator, err := validation.NewDeclarationValidator(validation.DefaultAPIConstraint)
	if err != nil {
		return nil, err
	}

	// Create runtime factory (decouples application from the goja engine)
	factory := jsruntime.NewFactory(jsruntime.Options{
		MaxSourceBytes: rt.MaxReadBytes,
		Logger:         opts.Logger,
	})

	manager := services.NewExtensionManager(
		factory,
		dispatcher,
		validator,
		vfs.Factory(vfs.Options{HostFallback: rt.HostFallback, MaxReadBytes: rt.MaxReadBytes}),
		services.WithLoadTimeout(rt.LoadTimeout),
		services.WithGracePeriod(rt.GracePeriod),
		services.WithBudget(rt.Budget),
		services.WithManagerLogger(opts.Logger),
		services.WithShutdownHook(gatekeeper.ForgetExtension),
	)

	return &Container{
		systemCfg:   systemCfg,
		logger:      opts.Logger,
		policy:      holder,
		watcher:     watcher,
		permissions: permissions,
		gatekeeper:  gatekeeper,
		redactor:    redactor,
		recorder:    recorder,
		metrics:     registry,
		manager:     manager,
		session:     session.NewMemory(),
	}, nil
}

// openPermissions loads the permission store. A corrupt file degrades to an
// in-memory store so the run can continue without persisted decisions.
func openPermissions(path string, logger *slog.Logger) (*capinfra.FileStore, error) {
	if path == "" {
		p, err := capinfra.DefaultPermissionsPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	store := capinfra.NewFileStore(path)
	if err := store.Load(); err != nil {
		logger.Warn("permission store unreadable, decisions will not persist", "path", path, "error", err)
		return capinfra.NewMemoryStore(), nil
	}
	return store, nil
}

// WatchPolicy reloads the policy file on change until ctx is done. It is a
// no-op when the policy is inline.
func (c *Container) WatchPolicy(ctx context.Context) {
	if c.watcher == nil {
		return
	}
	go func() {
		if err := c.watcher.Run(ctx); err != nil {
			c.logger.Warn("policy watcher stopped", "error", err)
		}
	}()
}

// Close shuts every extension down and flushes the audit stream.
func (c *Container) Close(ctx context.Context) error {
	shutdownErr := c.manager.ShutdownAll(ctx)
	auditErr := c.recorder.Close(ctx)
	return errors.Join(shutdownErr, auditErr)
}

// Policy returns the current capability policy snapshot.
func (c *Container) Policy() *capabilities.Policy {
	return c.policy.Current()
}

// Manager returns the extension manager.
func (c *Container) Manager() *services.ExtensionManager {
	return c.manager
}

// Gatekeeper returns the capability authorizer.
func (c *Container) Gatekeeper() *services.CapabilityGatekeeper {
	return c.gatekeeper
}

// Permissions returns the permission store.
func (c *Container) Permissions() *capinfra.FileStore {
	return c.permissions
}

// Audit returns the audit recorder.
func (c *Container) Audit() *audit.Recorder {
	return c.recorder
}

// Metrics returns the hostcall metrics registry.
func (c *Container) Metrics() prometheus.Gatherer {
	return c.metrics
}

// Redactor returns the configured redactor.
func (c *Container) Redactor() *redaction.Redactor {
	return c.redactor
}

// Session returns the in-memory session attached to extensions.
func (c *Container) Session() *session.Memory {
	return c.session
}

// SystemConfig returns the system configuration.
func (c *Container) SystemConfig() *system.Config {
	return c.systemCfg
}

// Logger returns the configured logger.
func (c *Container) Logger() *slog.Logger {
	return c.logger
}
