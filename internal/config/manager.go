package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Manager holds the current configuration and keeps it fresh by
// watching the config file for changes. Callers must take a Snapshot
// each time they need a value rather than caching one at startup.
type Manager struct {
	path string
	log  *slog.Logger

	mu  sync.RWMutex
	cfg Config
}

// NewManager loads the configuration once and returns a Manager for it.
func NewManager(path string, log *slog.Logger) (*Manager, error) {
	cfg, err := Load(path, log)
	if err != nil {
		return nil, err
	}
	return &Manager{path: path, log: log, cfg: cfg}, nil
}

// Snapshot returns a copy of the current normalized configuration.
func (m *Manager) Snapshot() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Reload re-reads the config file and swaps in the new snapshot.
// A file that fails to load keeps the previous configuration.
func (m *Manager) Reload() {
	cfg, err := Load(m.path, m.log)
	if err != nil {
		m.log.Error("config reload failed, keeping previous", "path", m.path, "error", err)
		return
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	m.log.Info("configuration reloaded", "path", m.path)
}

// Watch blocks until ctx is cancelled, reloading the configuration
// whenever the file is written. The parent directory is watched so
// atomic save-and-rename editors are handled too.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		return err
	}

	target := filepath.Clean(m.path)
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
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				m.Reload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.log.Error("config watcher error", "error", err)
		}
	}
}
