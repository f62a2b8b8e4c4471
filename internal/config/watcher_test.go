package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/medscribe/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
console:
  enabled: true
vocabulary:
  terms: [Metformin]
`

const watcherUpdatedYAML = `
server:
  log_level: debug
console:
  enabled: true
vocabulary:
  terms: [Metformin, Lisinopril]
`

const watcherInvalidYAML = `
server:
  log_level: bananas
console:
  enabled: true
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// bumpMtime makes the next stat see a new modification time even on file
// systems with coarse timestamps.
func bumpMtime(t *testing.T, path string, step int) {
	t.Helper()
	mt := time.Now().Add(time.Duration(step) * time.Second)
	if err := os.Chtimes(path, mt, mt); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
}

type changeRecorder struct {
	mu    sync.Mutex
	calls [][2]*config.Config
}

func (r *changeRecorder) onChange(old, new *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, [2]*config.Config{old, new})
}

func (r *changeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg := w.Current(); cfg == nil || cfg.Server.LogLevel != config.LogInfo {
		t.Fatalf("Current() = %+v", cfg)
	}
}

func TestWatcher_InitialLoadInvalid(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherInvalidYAML)

	if _, err := config.NewWatcher(cfgPath, nil); err == nil {
		t.Fatal("expected error for invalid initial config")
	}
}

func TestWatcher_Check(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	rec := &changeRecorder{}
	w, err := config.NewWatcher(cfgPath, rec.onChange)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	t.Run("unchanged file", func(t *testing.T) {
		w.Check()
		if rec.count() != 0 {
			t.Errorf("callback fired %d times for an unchanged file", rec.count())
		}
	})

	t.Run("touched but identical", func(t *testing.T) {
		bumpMtime(t, cfgPath, 1)
		w.Check()
		if rec.count() != 0 {
			t.Errorf("callback fired for identical content")
		}
	})

	t.Run("edited", func(t *testing.T) {
		writeFile(t, cfgPath, watcherUpdatedYAML)
		bumpMtime(t, cfgPath, 2)
		w.Check()
		if rec.count() != 1 {
			t.Fatalf("callback count = %d, want 1", rec.count())
		}
		old, updated := rec.calls[0][0], rec.calls[0][1]
		if old.Server.LogLevel != config.LogInfo || updated.Server.LogLevel != config.LogDebug {
			t.Errorf("old/new log level = %q/%q", old.Server.LogLevel, updated.Server.LogLevel)
		}
		d := config.Diff(old, updated)
		if !d.LogLevelChanged || !d.VocabularyChanged {
			t.Errorf("diff = %+v", d)
		}
		if w.Current() != updated {
			t.Error("Current() not updated")
		}
	})

	t.Run("invalid edit keeps previous", func(t *testing.T) {
		before := w.Current()
		writeFile(t, cfgPath, watcherInvalidYAML)
		bumpMtime(t, cfgPath, 3)
		w.Check()
		if rec.count() != 1 {
			t.Errorf("callback fired for an invalid config")
		}
		if w.Current() != before {
			t.Error("invalid config replaced the current one")
		}
	})
}

func TestWatcher_Run(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	called := make(chan struct{}, 1)
	w, err := config.NewWatcher(cfgPath, func(_, _ *config.Config) {
		select {
		case called <- struct{}{}:
		default:
		}
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	writeFile(t, cfgPath, watcherUpdatedYAML)
	bumpMtime(t, cfgPath, 1)

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
