package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apperrors "github.com/reglet-dev/extsandbox/internal/application/errors"
	"github.com/reglet-dev/extsandbox/internal/application/ports"
	"github.com/reglet-dev/extsandbox/internal/application/services"
	"github.com/reglet-dev/extsandbox/internal/domain/entities"
	"github.com/reglet-dev/extsandbox/internal/domain/values"
	"github.com/reglet-dev/extsandbox/internal/infrastructure/output"
	"github.com/reglet-dev/extsandbox/internal/version"
)

// runOptions holds the flags of the run command.
type runOptions struct {
	CommonOptions

	Extension   string
	Tool        string
	Command     string
	Input       string
	AuditOut    string
	Interactive bool
	Events      []string
}

func init() {
	rootCmd.AddCommand(newRunCmd())
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{CommonOptions: DefaultCommonOptions()}
	var auditFile *os.File

	cmd := &cobra.Command{
		Use:   "run <extension>...",
		Short: "Load extensions and drive them through one session",
		Long: `Load each extension (a .js file or a directory with package.json or
index.js), attach it to an in-memory session and emit the startup event.
Optionally invoke one tool or command, emit extra events, then shut every
extension down and print a status report.

Extension ids default to the file or directory name.`,
		Example: `  extsandbox run ./extensions/git-guard
  extsandbox run ./a.js ./b --tool summarize --input '{"path":"README.md"}'
  extsandbox run ./ext --event input --input '{"content":"hi"}' --format json`,
		Args: cobra.MinimumNArgs(1),
		PreRunE: func(_ *cobra.Command, _ []string) error {
			if err := opts.Validate(); err != nil {
				return err
			}
			if opts.AuditOut == "" {
				return nil
			}
			//nolint:gosec // G304: User-controlled output file path is intentional
			f, err := os.Create(opts.AuditOut)
			if err != nil {
				return fmt.Errorf("failed to create audit output: %w", err)
			}
			auditFile = f
			return nil
		},
		PostRun: func(_ *cobra.Command, _ []string) {
			if auditFile != nil {
				_ = auditFile.Close() // Best-effort cleanup
			}
		},
		RunE: withContainer(func() containerSettings {
			s := containerSettings{Interactive: opts.Interactive}
			if auditFile != nil {
				s.AuditOut = auditFile
			}
			return s
		}, func(ctx *CommandContext, cmd *cobra.Command, args []string) error {
			return runExtensions(ctx, cmd.OutOrStdout(), opts, args)
		}),
	}

	opts.RegisterFlags(cmd)
	cmd.Flags().StringVar(&opts.Extension, "extension", "", "Extension that serves --tool or --command (default: first declaring it)")
	cmd.Flags().StringVar(&opts.Tool, "tool", "", "Tool to invoke after startup")
	cmd.Flags().StringVar(&opts.Command, "command", "", "Command to run after startup")
	cmd.Flags().StringVar(&opts.Input, "input", "", "JSON input for --tool, --command or --event")
	cmd.Flags().StringSliceVar(&opts.Events, "event", nil, "Extra events to emit after startup (comma-separated)")
	cmd.Flags().StringVar(&opts.AuditOut, "audit-out", "", "Write the audit stream as JSON lines to this file")
	cmd.Flags().BoolVarP(&opts.Interactive, "interactive", "i", false, "Prompt on the terminal for undecided capabilities")

	return cmd
}

// Validate checks flag combinations.
func (o *runOptions) Validate() error {
	if err := o.ValidateFlags(); err != nil {
		return err
	}
	if o.Tool != "" && o.Command != "" {
		return errors.New("--tool and --command are mutually exclusive")
	}
	if o.Input != "" && !json.Valid([]byte(o.Input)) {
		return errors.New("--input must be valid JSON")
	}
	for _, e := range o.Events {
		if !entities.EventName(e).IsKnown() {
			return fmt.Errorf("unknown event: %s", e)
		}
	}
	return nil
}

func runExtensions(ctx *CommandContext, w io.Writer, opts *runOptions, args []string) error {
	runCtx, cancel := opts.ApplyToContext(ctx.Context)
	defer cancel()

	c := ctx.Container
	c.WatchPolicy(runCtx)
	manager := c.Manager()

	specs, err := loadSpecs(args)
	if err != nil {
		return err
	}

	report := &output.Report{Version: version.Get().String(), StartTime: time.Now()}

	results := manager.LoadAll(runCtx, specs)
	for _, r := range results {
		if r.Err != nil {
			ctx.Logger.Warn("extension failed to load", "extension", r.Spec.ID.String(), "error", r.Err)
			continue
		}
		if err := manager.Attach(r.Spec.ID.String(), c.Session()); err != nil {
			ctx.Logger.Warn("failed to attach session", "extension", r.Spec.ID.String(), "error", err)
		}
	}

	input := json.RawMessage(opts.Input)
	var runErr error
	if _, err := emit(ctx, manager, entities.EventStartup, nil); err != nil {
		runErr = errors.Join(runErr, err)
	}
	for _, e := range opts.Events {
		if _, err := emit(ctx, manager, entities.EventName(e), input); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}

	switch {
	case opts.Tool != "":
		runErr = errors.Join(runErr, invoke(ctx, w, manager, opts, entities.KindTool, opts.Tool, input))
	case opts.Command != "":
		runErr = errors.Join(runErr, invoke(ctx, w, manager, opts, entities.KindCommand, opts.Command, input))
	}

	report.Extensions = statuses(results)

	// Shut down before reporting so the audit stream is complete.
	if err := c.Close(runCtx); err != nil {
		ctx.Logger.Warn("shutdown incomplete", "error", err)
	}
	report.EndTime = time.Now()
	report.Audit = c.Audit().Records()
	report.DroppedAudit = c.Audit().Dropped()

	formatter, err := output.NewFormatterFactory().Create(opts.Format, w)
	if err != nil {
		return err
	}
	if err := formatter.Format(report); err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}

	summary := report.Summarize()
	if summary.Failed > 0 {
		runErr = errors.Join(runErr, fmt.Errorf("%d of %d extensions failed to load", summary.Failed, len(report.Extensions)))
	}
	return runErr
}

// loadSpecs turns CLI paths into load specs. Ids come from the path's base
// name without the .js extension.
func loadSpecs(args []string) ([]ports.LoadSpec, error) {
	specs := make([]ports.LoadSpec, 0, len(args))
	seen := make(map[string]string, len(args))
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", arg, err)
		}
		name := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
		id, err := values.NewExtensionID(name)
		if err != nil {
			return nil, fmt.Errorf("invalid extension id for %s: %w", arg, err)
		}
		if prev, dup := seen[id.String()]; dup {
			return nil, fmt.Errorf("extensions %s and %s share the id %q", prev, arg, id.String())
		}
		seen[id.String()] = arg
		specs = append(specs, ports.LoadSpec{ID: id, EntryPath: abs})
	}
	return specs, nil
}

func emit(ctx *CommandContext, manager *services.ExtensionManager, event entities.EventName, payload json.RawMessage) (entities.EventOutcome, error) {
	outcome, err := manager.Emit(ctx.Context, event, payload)
	if err != nil {
		return outcome, fmt.Errorf("event %s: %w", event, err)
	}
	for id, msg := range outcome.Errors {
		ctx.Logger.Warn("event hook failed", "event", event, "extension", id, "error", msg)
	}
	if outcome.Blocked {
		ctx.Logger.Info("event blocked", "event", event, "extension", outcome.BlockedBy, "reason", outcome.Reason)
	}
	if outcome.Content != nil {
		ctx.Logger.Info("event content rewritten", "event", event, "content", *outcome.Content)
	}
	return outcome, nil
}

func invoke(ctx *CommandContext, w io.Writer, manager *services.ExtensionManager, opts *runOptions,
	kind entities.EntryKind, name string, input json.RawMessage,
) error {
	id := opts.Extension
	if id == "" {
		id = findProvider(manager.List(), kind, name)
		if id == "" {
			return fmt.Errorf("no loaded extension declares %s %q", kind, name)
		}
	}

	var (
		out json.RawMessage
		err error
	)
	if kind == entities.KindTool {
		out, err = manager.InvokeTool(ctx.Context, id, name, input)
	} else {
		out, err = manager.RunCommand(ctx.Context, id, name, input)
	}
	if err != nil {
		return fmt.Errorf("%s %s/%s: %w", kind, id, name, err)
	}
	ctx.Logger.Info("invocation complete", "kind", kind, "extension", id, "name", name)
	if opts.Quiet {
		return nil
	}
	_, err = fmt.Fprintf(w, "%s\n", out)
	return err
}

// findProvider returns the first registered extension, by id, declaring the
// named entry.
func findProvider(exts []*entities.Extension, kind entities.EntryKind, name string) string {
	for _, ext := range exts {
		decl, ok := ext.Declaration()
		if !ok {
			continue
		}
		for _, e := range decl.Entries() {
			if e.Kind == kind && e.Name == name {
				return ext.ID().String()
			}
		}
	}
	return ""
}

func statuses(results []services.LoadResult) []output.ExtensionStatus {
	out := make([]output.ExtensionStatus, 0, len(results))
	for _, r := range results {
		st := output.ExtensionStatus{ID: r.Spec.ID.String(), Entry: r.Spec.EntryPath}
		if r.Extension != nil {
			st.State = r.Extension.State().String()
			if decl, ok := r.Extension.Declaration(); ok {
				for _, e := range decl.Entries() {
					switch e.Kind {
					case entities.KindTool:
						st.Tools = append(st.Tools, e.Name)
					case entities.KindCommand:
						st.Commands = append(st.Commands, e.Name)
					case entities.KindHook:
						st.Hooks = append(st.Hooks, e.Name)
					}
				}
			}
		}
		if r.Err != nil {
			st.Error = r.Err.Error()
			var le *apperrors.LoadError
			if errors.As(r.Err, &le) {
				st.FailureKind = string(le.Kind)
			}
		}
		out = append(out, st)
	}
	return out
}
