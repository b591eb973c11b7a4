package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
)

const reloadDebounce = 100 * time.Millisecond

// PolicyHolder hands out the current policy snapshot. Snapshots are
// immutable; a reload swaps the pointer.
type PolicyHolder struct {
	current atomic.Pointer[capabilities.Policy]
}

// NewPolicyHolder creates a holder with an initial snapshot.
func NewPolicyHolder(initial *capabilities.Policy) *PolicyHolder {
	h := &PolicyHolder{}
	h.current.Store(initial)
	return h
}

// Current implements ports.PolicySource.
func (h *PolicyHolder) Current() *capabilities.Policy {
	return h.current.Load()
}

// Swap installs a new snapshot.
func (h *PolicyHolder) Swap(p *capabilities.Policy) {
	h.current.Store(p)
}

// PolicyWatcher reloads a policy file into a holder whenever it changes.
// An invalid file keeps the previous snapshot.
type PolicyWatcher struct {
	path            string
	profileOverride string
	holder          *PolicyHolder
	onReload        func(*capabilities.Policy)
}

// NewPolicyWatcher creates a new watcher.
func NewPolicyWatcher(path, profileOverride string, holder *PolicyHolder) *PolicyWatcher {
	return &PolicyWatcher{path: path, profileOverride: profileOverride, holder: holder}
}

// OnReload registers a callback run after every successful swap.
func (w *PolicyWatcher) OnReload(fn func(*capabilities.Policy)) {
	w.onReload = fn
}

// Reload reads the file once and swaps the snapshot on success.
func (w *PolicyWatcher) Reload() error {
	pc, err := LoadPolicyFile(w.path)
	if err != nil {
		return err
	}
	policy, err := BuildPolicy(pc, w.profileOverride)
	if err != nil {
		return err
	}
	w.holder.Swap(policy)
	if w.onReload != nil {
		w.onReload(policy)
	}
	return nil
}

// Run watches the file's directory until ctx is done. Editors often replace
// files by rename, so events are matched by name.
func (w *PolicyWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create policy watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	target := filepath.Clean(w.path)
	var debounce <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				debounce = time.After(reloadDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "policy watcher error", "path", w.path, "error", err)
		case <-debounce:
			debounce = nil
			if err := w.Reload(); err != nil {
				slog.WarnContext(ctx, "policy reload failed, keeping previous policy", "path", w.path, "error", err)
				continue
			}
			slog.InfoContext(ctx, "policy reloaded", "path", w.path, "profile", w.holder.Current().Profile().Name)
		}
	}
}
