// Package prompt loads the system prompt template and renders it per request.
package prompt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haasonsaas/promptengine/internal/observability"
)

// DefaultWatchDebounce coalesces bursts of editor writes into one reload.
const DefaultWatchDebounce = 250 * time.Millisecond

// Data is the set of variables available to the system prompt template.
type Data struct {
	SessionID       string
	SystemResources string
	UserQuery       string
}

// Options configures a Loader.
type Options struct {
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Debounce time.Duration
}

// Loader holds the parsed system prompt template. It is safe for
// concurrent use; Watch swaps the template in place when the file changes.
type Loader struct {
	path    string
	logger  *observability.Logger
	metrics *observability.Metrics

	mu        sync.RWMutex
	tmpl      *template.Template
	raw       string
	resources bool

	watchMu       sync.Mutex
	watcher       *fsnotify.Watcher
	watchCancel   context.CancelFunc
	watchWg       sync.WaitGroup
	watchDebounce time.Duration
}

// NewLoader parses the template at path. An empty path yields a loader
// that renders an empty prompt, which omits the system message.
func NewLoader(path string, opts Options) (*Loader, error) {
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultWatchDebounce
	}
	l := &Loader{
		path:          path,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		watchDebounce: opts.Debounce,
	}
	if path == "" {
		return l, l.set("")
	}
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// FromString builds a loader around an inline template.
func FromString(text string) (*Loader, error) {
	l := &Loader{logger: observability.NopLogger(), watchDebounce: DefaultWatchDebounce}
	if err := l.set(text); err != nil {
		return nil, err
	}
	return l, nil
}

// Path returns the template file path, empty for inline templates.
func (l *Loader) Path() string {
	return l.path
}

// Reload re-reads the template file. On failure the previous template
// stays in effect.
func (l *Loader) Reload() error {
	if l.path == "" {
		return nil
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("read system prompt: %w", err)
	}
	return l.set(string(data))
}

func (l *Loader) set(text string) error {
	name := "system_prompt"
	if l.path != "" {
		name = filepath.Base(l.path)
	}
	tmpl, err := template.New(name).Option("missingkey=zero").Parse(text)
	if err != nil {
		return fmt.Errorf("parse system prompt: %w", err)
	}
	l.mu.Lock()
	l.tmpl = tmpl
	l.raw = text
	l.resources = strings.Contains(text, ".SystemResources")
	l.mu.Unlock()
	return nil
}

// Raw returns the unrendered template text.
func (l *Loader) Raw() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.raw
}

// Render executes the template. When the template never mentions
// .SystemResources, non-empty resources are appended on their own line.
func (l *Loader) Render(data Data) (string, error) {
	l.mu.RLock()
	tmpl, refs := l.tmpl, l.resources
	l.mu.RUnlock()
	if tmpl == nil {
		return "", errors.New("system prompt not loaded")
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	out := buf.String()
	if !refs && data.SystemResources != "" {
		if out == "" {
			return data.SystemResources, nil
		}
		out += "\n" + data.SystemResources
	}
	return out, nil
}

// Watch reloads the template whenever its file changes, until ctx is
// done or Close is called. The parent directory is watched so that
// atomic rename-into-place saves are seen.
func (l *Loader) Watch(ctx context.Context) error {
	if l.path == "" {
		return nil
	}

	l.watchMu.Lock()
	if l.watcher != nil {
		l.watchMu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		l.watchMu.Unlock()
		return err
	}
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		l.watchMu.Unlock()
		_ = watcher.Close()
		return fmt.Errorf("watch system prompt: %w", err)
	}
	l.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	l.watchCancel = cancel
	l.watchMu.Unlock()

	l.watchWg.Add(1)
	go l.watchLoop(watchCtx, watcher)
	return nil
}

// Close stops the watcher, if any.
func (l *Loader) Close() error {
	l.watchMu.Lock()
	if l.watchCancel != nil {
		l.watchCancel()
		l.watchCancel = nil
	}
	watcher := l.watcher
	l.watcher = nil
	l.watchMu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	l.watchWg.Wait()
	return nil
}

func (l *Loader) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer l.watchWg.Done()

	target := filepath.Clean(l.path)
	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(l.watchDebounce, func() {
			if err := l.Reload(); err != nil {
				l.metrics.RecordPromptReload("error")
				l.logger.Warn(ctx, "system prompt reload failed, keeping previous template", "path", l.path, "error", err)
				return
			}
			l.metrics.RecordPromptReload("success")
			l.logger.Info(ctx, "system prompt reloaded", "path", l.path)
		})
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn(ctx, "system prompt watch error", "error", err)
		}
	}
}
