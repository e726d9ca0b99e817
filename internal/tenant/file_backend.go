package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const fileSuffix = ".json"

// FileBackend stores each key as <dir>/<key>.json. Writes go through a
// temp file and rename so readers never see a torn blob.
type FileBackend struct {
	dir string
	mu  sync.Mutex
}

// NewFileBackend creates dir if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	dir = filepath.Clean(dir)
	if strings.TrimSpace(dir) == "" || dir == "." {
		return nil, fmt.Errorf("tenant: file backend dir is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("tenant: create store dir: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

// Dir returns the directory holding the key files.
func (f *FileBackend) Dir() string { return f.dir }

func (f *FileBackend) path(key string) string {
	return filepath.Join(f.dir, key+fileSuffix)
}

func (f *FileBackend) Get(_ context.Context, key string) ([]byte, error) {
	b, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrKeyNotFound
	}
	return b, err
}

func (f *FileBackend) Put(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, key+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.path(key))
}

// Watch calls onChange whenever the tenant collection file is written by
// another process, until ctx is cancelled. Bursts of events are coalesced.
func (f *FileBackend) Watch(ctx context.Context, logger *slog.Logger, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(f.dir); err != nil {
		return fmt.Errorf("tenant: watch %s: %w", f.dir, err)
	}
	target := KeyTenants + fileSuffix

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce = time.After(100 * time.Millisecond)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("store watcher error", "error", err)
		case <-debounce:
			debounce = nil
			onChange()
		}
	}
}

var _ Backend = (*FileBackend)(nil)
