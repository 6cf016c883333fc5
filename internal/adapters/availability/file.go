package availability

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
	"github.com/hugo-lorenzo-mato/rivalscope/internal/fsutil"
)

const maxAvailabilityFileSize = 1 << 20

// fileDocument is the on-disk availability format.
//
//	global_enabled: true
//	providers:
//	  openai: {active: true, status: healthy}
type fileDocument struct {
	GlobalEnabled bool                    `yaml:"global_enabled"`
	Providers     map[string]fileProvider `yaml:"providers"`
}

type fileProvider struct {
	Active bool   `yaml:"active"`
	Status string `yaml:"status"`
}

// File is an availability source backed by a YAML file that is reloaded on change.
// Readers always see the last successfully parsed snapshot.
type File struct {
	*Static
	path    string
	logger  *slog.Logger
	watcher *fsnotify.Watcher
}

// NewFile loads path once. Call Watch to follow later edits.
func NewFile(path string, logger *slog.Logger) (*File, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f := &File{
		Static: NewStatic(false, nil),
		path:   path,
		logger: logger,
	}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Reload re-reads the file and swaps the snapshot. On error the previous
// snapshot is kept.
func (f *File) Reload() error {
	data, err := fsutil.ReadFileLimited(f.path, maxAvailabilityFileSize)
	if err != nil {
		return fmt.Errorf("reading availability file: %w", err)
	}
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing availability file %s: %w", f.path, err)
	}

	providers := make(map[string]core.ProviderStatus, len(doc.Providers))
	for name, p := range doc.Providers {
		status := p.Status
		if status == "" {
			status = StatusHealthy
			if !p.Active {
				status = StatusDisabled
			}
		}
		providers[name] = core.ProviderStatus{Active: p.Active, Status: status}
	}
	f.replace(doc.GlobalEnabled, providers)
	return nil
}

// Watch follows the file until ctx is done. The parent directory is watched
// so that editors replacing the file by rename are picked up.
func (f *File) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(f.path)); err != nil {
		w.Close()
		return fmt.Errorf("watching %s: %w", f.path, err)
	}
	f.watcher = w

	go f.loop(ctx)
	return nil
}

func (f *File) loop(ctx context.Context) {
	defer f.watcher.Close()
	target := filepath.Clean(f.path)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := f.Reload(); err != nil {
				f.logger.Warn("availability reload failed", "path", f.path, "error", err)
				continue
			}
			f.logger.Info("availability reloaded", "path", f.path)
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("availability watcher error", "error", err)
		}
	}
}
