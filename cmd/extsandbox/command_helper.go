package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/reglet-dev/extsandbox/internal/infrastructure/container"
)

// closeTimeout bounds extension shutdown when a command exits.
const closeTimeout = 30 * time.Second

// CommandContext provides common command dependencies.
type CommandContext struct {
	Container *container.Container
	Logger    *slog.Logger
	Context   context.Context
}

// CommandHandler is a function that executes with initialized dependencies.
type CommandHandler func(*CommandContext, *cobra.Command, []string) error

// containerSettings are the per-command container inputs beyond the config
// file.
type containerSettings struct {
	Interactive bool
	AuditOut    io.Writer
}

// withContainer wraps a command handler with container initialization and
// tears the container down once the handler returns.
//
// Usage:
//
//	cmd := &cobra.Command{
//	    Use: "list",
//	    RunE: withContainer(nil, func(ctx *CommandContext, cmd *cobra.Command, args []string) error {
//	        return listPermissions(cmd.OutOrStdout(), ctx.Container.Permissions())
//	    }),
//	}
func withContainer(settings func() containerSettings, handler CommandHandler) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		logger := slog.Default()

		var s containerSettings
		if settings != nil {
			s = settings()
		}

		c, err := container.New(container.Options{
			Logger:           logger,
			SystemConfigPath: configPath(),
			Profile:          viper.GetString("profile"),
			Interactive:      s.Interactive,
			AuditOut:         s.AuditOut,
			UI:               newTerminalUI(logger, s.Interactive),
			Events:           logEvents{logger: logger},
		})
		if err != nil {
			return fmt.Errorf("failed to initialize application: %w", err)
		}

		runCtx := cmd.Context()
		if runCtx == nil {
			runCtx = context.Background()
		}

		ctx := &CommandContext{
			Container: c,
			Logger:    logger,
			Context:   runCtx,
		}

		handlerErr := handler(ctx, cmd, args)

		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(runCtx), closeTimeout)
		defer cancel()
		if err := c.Close(closeCtx); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
		return handlerErr
	}
}

// configPath resolves the system config file: --config, then
// EXTSANDBOX_CONFIG, then the default location.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if p := viper.GetString("config"); p != "" {
		return p
	}
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return ""
}
