package presets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 100 * time.Millisecond

// Catalog holds the presets found in one directory, keyed by file name
// without the .md extension.
type Catalog struct {
	dir      string
	logger   *slog.Logger
	mu       sync.RWMutex
	presets  map[string]Preset
	onReload func()
}

func NewCatalog(dir string, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		dir:     dir,
		logger:  logger,
		presets: make(map[string]Preset),
	}
}

// OnReload registers a hook that runs after each reload triggered by Watch.
func (c *Catalog) OnReload(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReload = f
}

// Load rereads the directory. A missing directory yields an empty catalog;
// unparsable files are skipped.
func (c *Catalog) Load() error {
	entries, err := os.ReadDir(c.dir)
	if os.IsNotExist(err) {
		c.replace(map[string]Preset{})
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read presets directory: %w", err)
	}

	next := make(map[string]Preset)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".md" {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			c.logger.Warn("Failed to read preset", "path", path, "error", err)
			continue
		}
		p, err := Parse(data)
		if err != nil {
			c.logger.Debug("Skipping preset", "path", path, "error", err)
			continue
		}
		p.Path = path
		next[strings.TrimSuffix(entry.Name(), ".md")] = p
	}
	c.replace(next)
	return nil
}

func (c *Catalog) replace(next map[string]Preset) {
	c.mu.Lock()
	c.presets = next
	c.mu.Unlock()
}

// List returns every preset sorted by key.
func (c *Catalog) List() []Preset {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.presets))
	for k := range c.presets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Preset, 0, len(keys))
	for _, k := range keys {
		out = append(out, c.presets[k])
	}
	return out
}

// Get looks a preset up by file key, falling back to its declared name.
func (c *Catalog) Get(name string) (Preset, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if p, ok := c.presets[name]; ok {
		return p, true
	}
	for _, p := range c.presets {
		if p.Name == name {
			return p, true
		}
	}
	return Preset{}, false
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.presets)
}

// Watch reloads the catalog whenever a markdown file in the directory
// changes. It blocks until ctx is done.
func (c *Catalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("failed to create presets directory: %w", err)
	}
	if err := watcher.Add(c.dir); err != nil {
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(event.Name) != ".md" {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				debounce = time.After(reloadDebounce)
			}

		case <-debounce:
			debounce = nil
			if err := c.Load(); err != nil {
				c.logger.Warn("Failed to reload presets", "error", err)
				continue
			}
			c.logger.Info("Reloaded presets", "count", c.Len())
			c.mu.RLock()
			hook := c.onReload
			c.mu.RUnlock()
			if hook != nil {
				hook()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("Preset watcher error", "error", err)
		}
	}
}
