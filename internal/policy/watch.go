package policy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ErrEmptyPolicyFile is returned by Reload when the file has no content,
// as happens between the truncate and the write of an in-place save.
var ErrEmptyPolicyFile = errors.New("policy file is empty")

// Reload re-reads path on top of base and installs the result. A file that
// fails to load, or is empty, leaves the current policy in force.
func (e *Engine) Reload(path string, base Policy) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read policy file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return ErrEmptyPolicyFile
	}
	p, err := parsePolicy(data, path, base)
	if err != nil {
		return err
	}
	e.SetPolicy(p)
	e.logger.Info("policy reloaded", "path", path, "policy", p.Summary())
	return nil
}

// WatchFile reloads the policy whenever path changes, until ctx is done.
// The parent directory is watched so that editors which replace the file
// by rename are picked up too.
func (e *Engine) WatchFile(ctx context.Context, path string, base Policy) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create policy watcher: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve policy path: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := e.Reload(abs, base); errors.Is(err, ErrEmptyPolicyFile) {
				e.logger.Debug("policy file empty, waiting for content", "path", abs)
			} else if err != nil {
				e.logger.Error("policy reload failed, keeping previous policy", "path", abs, "error", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			e.logger.Error("policy watcher error", "error", err)
		}
	}
}
