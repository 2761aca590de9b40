// Package directory loads the staff roster from a YAML file and keeps it
// current while the file changes.
package directory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	coredir "github.com/kilianp07/villadispatch/core/directory"
	"github.com/kilianp07/villadispatch/core/logger"
	"github.com/kilianp07/villadispatch/core/model"
)

// Config locates the roster file.
type Config struct {
	Path       string `json:"path"`
	Watch      bool   `json:"watch"`
	DebounceMS int    `json:"debounce_ms"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.Path == "" {
		c.Path = "staff.yaml"
	}
	if c.DebounceMS <= 0 {
		c.DebounceMS = 250
	}
}

type rosterFile struct {
	Staff []model.StaffMember `yaml:"staff"`
}

// Parse decodes a roster document.
func Parse(data []byte) ([]model.StaffMember, error) {
	var f rosterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode roster: %w", err)
	}
	seen := make(map[string]struct{}, len(f.Staff))
	for i, m := range f.Staff {
		if m.ID == "" {
			return nil, fmt.Errorf("staff entry %d: missing id", i)
		}
		if _, dup := seen[m.ID]; dup {
			return nil, fmt.Errorf("staff %s: duplicate id", m.ID)
		}
		seen[m.ID] = struct{}{}
		switch m.Availability {
		case model.Available, model.Busy, model.OffDuty:
		case "":
			f.Staff[i].Availability = model.OffDuty
		default:
			return nil, fmt.Errorf("staff %s: unknown availability %q", m.ID, m.Availability)
		}
	}
	return f.Staff, nil
}

// File is a Directory backed by a YAML roster.
type File struct {
	*coredir.Static

	path     string
	debounce time.Duration
	log      logger.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// Load reads cfg.Path and returns a File serving its roster.
func Load(cfg Config, log logger.Logger) (*File, error) {
	cfg.SetDefaults()
	if log == nil {
		log = logger.NopLogger{}
	}
	f := &File{
		Static:   coredir.NewStatic(),
		path:     cfg.Path,
		debounce: time.Duration(cfg.DebounceMS) * time.Millisecond,
		log:      log,
	}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Reload re-reads the file. On error the previous roster stays in place.
func (f *File) Reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read roster: %w", err)
	}
	members, err := Parse(data)
	if err != nil {
		return err
	}
	f.Replace(members)
	f.log.Infof("staff directory loaded: %d members from %s", len(members), f.path)
	return nil
}

// Watch reloads the roster on file changes until ctx is cancelled. The
// parent directory is watched so editors that replace the file by rename
// are picked up.
func (f *File) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("watch %s: %w", f.path, err)
	}
	target := filepath.Clean(f.path)
	for {
		select {
		case <-ctx.Done():
			f.mu.Lock()
			if f.timer != nil {
				f.timer.Stop()
			}
			f.mu.Unlock()
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			f.log.Debugw("staff directory changed", map[string]any{"file": ev.Name, "op": ev.Op.String()})
			f.scheduleReload()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			f.log.Warnf("staff directory watcher: %v", err)
		}
	}
}

func (f *File) scheduleReload() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(f.debounce, func() {
		if err := f.Reload(); err != nil {
			f.log.Errorf("staff directory reload: %v", err)
		}
	})
}
