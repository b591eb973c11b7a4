package hostfuncs

import (
	"log/slog"
	"time"

	"github.com/reglet-dev/extsandbox/internal/application/ports"
)

// Intrinsic op timeouts.
const (
	defaultOpTimeout = 10 * time.Second
	FSTimeout        = 5 * time.Second
	ExecTimeout      = 120 * time.Second
	HTTPTimeout      = 30 * time.Second
	EnvTimeout       = time.Second
	SessionTimeout   = 5 * time.Second
	UITimeout        = 5 * time.Second
	ConfirmTimeout   = 5 * time.Minute
	LogTimeout       = time.Second
	ToolTimeout      = 120 * time.Second
)

// Dependencies wires the standard op set.
type Dependencies struct {
	UI                  ports.UI
	Events              ports.EventSink
	Tools               ports.ToolHost
	Scrubber            Scrubber
	Logger              *slog.Logger
	UserAgent           string
	AllowPrivateNetwork bool
	MaxBodySize         int64
	MaxOutputSize       int
	Resolver            Resolver
	LookupEnv           func(string) (string, bool)
}

// DefaultRegistry registers every op the runtime understands.
func DefaultRegistry(deps Dependencies) *Registry {
	executor := &Executor{MaxOutputSize: deps.MaxOutputSize}
	httpClient := &HTTPClient{
		UserAgent:           deps.UserAgent,
		AllowPrivateNetwork: deps.AllowPrivateNetwork,
		MaxBodySize:         deps.MaxBodySize,
		Resolver:            deps.Resolver,
	}
	collab := Collaborators{UI: deps.UI, Events: deps.Events}

	r := NewRegistry()
	r.MustRegister(FSOperations(FSTimeout)...)
	r.MustRegister(SessionOperations(SessionTimeout)...)
	r.MustRegister(collab.Operations(UITimeout, ConfirmTimeout)...)
	r.MustRegister(
		executor.Operation(ExecTimeout),
		httpClient.Operation(HTTPTimeout),
		(&EnvReader{Lookup: deps.LookupEnv}).Operation(EnvTimeout),
		(&GuestLogger{Logger: deps.Logger, Scrubber: deps.Scrubber}).Operation(LogTimeout),
		(&Tools{Executor: executor, Host: deps.Tools}).Operation(ToolTimeout),
	)
	return r
}
