package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/shadowalign/internal/config"
)

const baseYAML = `
server:
  log_level: info
pipeline:
  trim:
    padding_ms: 100
`

const editedYAML = `
server:
  log_level: debug
pipeline:
  trim:
    padding_ms: 200
sessions:
  max_sessions: 8
`

// changeRecorder collects the changes handed to a watcher callback.
type changeRecorder struct {
	mu      sync.Mutex
	changes []config.Change
	signal  chan struct{}
}

func newChangeRecorder() *changeRecorder {
	return &changeRecorder{signal: make(chan struct{}, 16)}
}

func (r *changeRecorder) apply(c config.Change) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
	r.signal <- struct{}{}
}

func (r *changeRecorder) all() []config.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]config.Change(nil), r.changes...)
}

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

func newWatchedFile(t *testing.T, body string, opts ...config.WatcherOption) (string, *config.Watcher, *changeRecorder) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shadowalign.yaml")
	writeConfig(t, path, body)
	rec := newChangeRecorder()
	w, err := config.NewWatcher(path, rec.apply, opts...)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	return path, w, rec
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	_, w, _ := newWatchedFile(t, baseYAML)

	cfg := w.Current()
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Pipeline.Trim.PaddingMs != 100 {
		t.Errorf("padding_ms = %d, want 100", cfg.Pipeline.Trim.PaddingMs)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWatcher_ReloadAppliesEdit(t *testing.T) {
	t.Parallel()
	path, w, rec := newWatchedFile(t, baseYAML)

	writeConfig(t, path, editedYAML)
	changed, err := w.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if !changed {
		t.Fatal("Reload reported no change")
	}

	got := rec.all()
	if len(got) != 1 {
		t.Fatalf("callback ran %d times, want 1", len(got))
	}
	c := got[0]
	if c.Old.Server.LogLevel != config.LogInfo || c.New.Server.LogLevel != config.LogDebug {
		t.Errorf("log level %q -> %q, want info -> debug", c.Old.Server.LogLevel, c.New.Server.LogLevel)
	}
	if !c.Diff.LogLevelChanged || !c.Diff.PipelineChanged || !c.Diff.SessionsChanged {
		t.Errorf("diff = %+v, want log level, pipeline and sessions changed", c.Diff)
	}
	if len(c.Diff.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", c.Diff.RestartRequired)
	}
	if w.Current().Sessions.MaxSessions != 8 {
		t.Errorf("Current max_sessions = %d, want 8", w.Current().Sessions.MaxSessions)
	}

	// Same content again: nothing to apply.
	if changed, err := w.Reload(); err != nil || changed {
		t.Errorf("second Reload = %v, %v; want false, nil", changed, err)
	}
}

func TestWatcher_InvalidEditKeepsCurrent(t *testing.T) {
	t.Parallel()
	path, w, rec := newWatchedFile(t, baseYAML)

	writeConfig(t, path, "server:\n  log_level: bananas\n")
	if _, err := w.Reload(); err == nil {
		t.Fatal("expected validation error")
	}
	if n := len(rec.all()); n != 0 {
		t.Errorf("callback ran %d times for an invalid file", n)
	}
	if lvl := w.Current().Server.LogLevel; lvl != config.LogInfo {
		t.Errorf("Current log_level = %q, want info", lvl)
	}

	// Fixing the file is picked up.
	writeConfig(t, path, editedYAML)
	if changed, err := w.Reload(); err != nil || !changed {
		t.Errorf("Reload after fix = %v, %v; want true, nil", changed, err)
	}
}

func TestWatcher_CosmeticEditIsIgnored(t *testing.T) {
	t.Parallel()
	path, w, rec := newWatchedFile(t, baseYAML)

	writeConfig(t, path, "# tuned for the lab machines\n"+baseYAML)
	changed, err := w.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if changed || len(rec.all()) != 0 {
		t.Errorf("comment-only edit applied a change")
	}
}

func TestWatcher_RunPollsForEdits(t *testing.T) {
	t.Parallel()
	path, w, rec := newWatchedFile(t, baseYAML, config.WithInterval(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Let the modification time move past the initial write.
	time.Sleep(50 * time.Millisecond)
	writeConfig(t, path, editedYAML)

	select {
	case <-rec.signal:
	case <-time.After(3 * time.Second):
		t.Fatal("edit was not picked up")
	}
	if lvl := w.Current().Server.LogLevel; lvl != config.LogDebug {
		t.Errorf("Current log_level = %q, want debug", lvl)
	}
}

func TestWatcher_TouchIsIgnored(t *testing.T) {
	t.Parallel()
	path, w, rec := newWatchedFile(t, baseYAML, config.WithInterval(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	later := time.Now().Add(time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("touch: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if n := len(rec.all()); n != 0 {
		t.Errorf("callback ran %d times after a touch", n)
	}
}
