// Package heartware reads the file-backed identity store and composes the
// orientation block injected into agent system prompts. The core only
// consumes the composed string; writes into the directory belong to an
// external, sandboxed component.
package heartware

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// identityFiles are read in this order when present.
var identityFiles = []struct {
	name  string
	title string
}{
	{"IDENTITY.md", "Identity"},
	{"USER.md", "User"},
	{"PREFERENCES.md", "Preferences"},
	{"MEMORY.md", "Memories"},
}

// Loader composes and caches the orientation block from the heartware
// directory, invalidating the cache when the directory changes.
type Loader struct {
	dir string

	mu      sync.RWMutex
	cached  string
	valid   bool
	watcher *fsnotify.Watcher
}

// NewLoader creates a loader for dir. A missing directory yields an empty
// orientation, not an error.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Watch starts invalidating the cache on directory changes. Returns a stop
// func. Watching a missing directory is a no-op.
func (l *Loader) Watch() func() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("heartware watch unavailable", "error", err)
		return func() {}
	}
	if err := w.Add(l.dir); err != nil {
		slog.Debug("heartware dir not watchable", "dir", l.dir, "error", err)
		w.Close()
		return func() {}
	}

	l.mu.Lock()
	l.watcher = w
	l.mu.Unlock()

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					l.Invalidate()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Debug("heartware watcher error", "error", err)
			}
		}
	}()
	return func() { w.Close() }
}

// Invalidate drops the cached orientation so the next read recomposes it.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	l.valid = false
	l.mu.Unlock()
}

// Orientation returns the composed identity+preferences+memories block.
func (l *Loader) Orientation() string {
	l.mu.RLock()
	if l.valid {
		defer l.mu.RUnlock()
		return l.cached
	}
	l.mu.RUnlock()

	composed := l.compose()

	l.mu.Lock()
	l.cached = composed
	l.valid = true
	l.mu.Unlock()
	return composed
}

func (l *Loader) compose() string {
	var b strings.Builder
	for _, f := range identityFiles {
		data, err := os.ReadFile(filepath.Join(l.dir, f.name))
		if err != nil {
			continue
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("## " + f.title + "\n")
		b.WriteString(text)
	}
	return b.String()
}
