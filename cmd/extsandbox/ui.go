package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/charmbracelet/huh"
)

// terminalUI serves ui.* hostcalls from the CLI. Notifications become log
// lines; confirmations are asked on the terminal when interactive and
// refused otherwise.
type terminalUI struct {
	logger      *slog.Logger
	interactive bool

	// huh forms own the terminal, so confirmations are serialized.
	mu sync.Mutex
}

func newTerminalUI(logger *slog.Logger, interactive bool) *terminalUI {
	return &terminalUI{logger: logger, interactive: interactive}
}

func (u *terminalUI) Notify(ctx context.Context, extensionID, message, level string) error {
	lvl := slog.LevelInfo
	switch level {
	case "warning", "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	u.logger.Log(ctx, lvl, message, "extension", extensionID, "source", "ui.notify")
	return nil
}

func (u *terminalUI) Confirm(ctx context.Context, extensionID, title, message string) (bool, error) {
	if !u.interactive {
		u.logger.Debug("confirmation refused without a terminal", "extension", extensionID, "title", title)
		return false, nil
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	var ok bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("[" + extensionID + "] " + title).
				Description(message).
				Affirmative("Yes").
				Negative("No").
				Value(&ok),
		),
	)
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}

// logEvents publishes extension events to the log.
type logEvents struct {
	logger *slog.Logger
}

func (e logEvents) Publish(ctx context.Context, extensionID, name string, data json.RawMessage) error {
	e.logger.InfoContext(ctx, "extension event", "extension", extensionID, "event", name, "data", string(data))
	return nil
}
