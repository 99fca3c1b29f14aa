package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/shadowalign/pkg/pipeline"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestManager(maxSessions int, idle time.Duration) (*Manager, *testClock) {
	clk := &testClock{t: time.Unix(1_700_000_000, 0)}
	m := NewManager(ManagerConfig{
		Runner:      NewRunner(newFixtureDecoder(), nil, nil),
		MaxSessions: maxSessions,
		IdleTimeout: idle,
		Defaults:    pipeline.Default(),
	})
	m.now = clk.Now
	return m, clk
}

func TestManager_CreateGetDelete(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(4, time.Minute)

	s, err := m.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(s.ID()) != 36 {
		t.Errorf("ID = %q, want a UUID", s.ID())
	}
	got, err := m.Get(s.ID())
	if err != nil || got != s {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}

	if err := m.Delete(s.ID()); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Get(s.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get after delete err = %v, want ErrSessionNotFound", err)
	}
	if err := m.Delete(s.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second Delete err = %v, want ErrSessionNotFound", err)
	}
	if _, err := s.Prepare(context.Background(), []byte("target"), nil, pipeline.Default()); !errors.Is(err, ErrClosed) {
		t.Errorf("Prepare on deleted session err = %v, want ErrClosed", err)
	}
}

func TestManager_Capacity(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(2, time.Minute)
	for range 2 {
		if _, err := m.Create(); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if err := m.CheckCapacity(context.Background()); !errors.Is(err, ErrTooManySessions) {
		t.Errorf("CheckCapacity = %v, want ErrTooManySessions", err)
	}
	if _, err := m.Create(); !errors.Is(err, ErrTooManySessions) {
		t.Fatalf("err = %v, want ErrTooManySessions", err)
	}

	m.SetLimits(3, 0)
	if _, err := m.Create(); err != nil {
		t.Fatalf("Create after raising the limit: %v", err)
	}
}

func TestManager_SweepEvictsIdle(t *testing.T) {
	t.Parallel()
	m, clk := newTestManager(4, 10*time.Minute)

	old, _ := m.Create()
	clk.Advance(6 * time.Minute)
	fresh, _ := m.Create()
	clk.Advance(5 * time.Minute)

	if n := m.Sweep(); n != 1 {
		t.Fatalf("Sweep evicted %d, want 1", n)
	}
	if _, err := m.Get(old.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Error("idle session should be gone")
	}
	if _, err := m.Get(fresh.ID()); err != nil {
		t.Errorf("fresh session evicted: %v", err)
	}
}

func TestManager_UseKeepsSessionAlive(t *testing.T) {
	t.Parallel()
	m, clk := newTestManager(4, 10*time.Minute)
	s, _ := m.Create()

	clk.Advance(9 * time.Minute)
	if _, err := s.Prepare(context.Background(), []byte("target"), []byte("attempt"), m.Defaults()); err != nil {
		t.Fatal(err)
	}
	clk.Advance(9 * time.Minute)
	if n := m.Sweep(); n != 0 {
		t.Errorf("Sweep evicted %d, want 0", n)
	}
}

func TestManager_AttachedSessionSurvivesSweep(t *testing.T) {
	t.Parallel()
	m, clk := newTestManager(4, 10*time.Minute)
	s, _ := m.Create()

	// A live socket that stays quiet past the idle timeout.
	detach := s.Attach()
	clk.Advance(30 * time.Minute)
	if n := m.Sweep(); n != 0 {
		t.Fatalf("Sweep evicted %d attached sessions, want 0", n)
	}

	detach()
	detach()
	clk.Advance(9 * time.Minute)
	if n := m.Sweep(); n != 0 {
		t.Fatalf("Sweep evicted %d right after detach, want 0", n)
	}
	clk.Advance(2 * time.Minute)
	if n := m.Sweep(); n != 1 {
		t.Errorf("Sweep evicted %d, want 1", n)
	}
}

func TestManager_TouchKeepsSessionAlive(t *testing.T) {
	t.Parallel()
	m, clk := newTestManager(4, 10*time.Minute)
	s, _ := m.Create()

	clk.Advance(9 * time.Minute)
	s.Touch()
	clk.Advance(9 * time.Minute)
	if n := m.Sweep(); n != 0 {
		t.Errorf("Sweep evicted %d, want 0", n)
	}
}

func TestManager_FullRegistryOfIdleSessionsAdmitsNew(t *testing.T) {
	t.Parallel()
	m, clk := newTestManager(1, time.Minute)
	if _, err := m.Create(); err != nil {
		t.Fatal(err)
	}
	clk.Advance(time.Minute)
	if _, err := m.Create(); err != nil {
		t.Fatalf("Create should sweep idle sessions first: %v", err)
	}
}

func TestManager_Defaults(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(1, time.Minute)
	cfg := pipeline.Default()
	cfg.Trim.PaddingMs = 300
	m.SetDefaults(cfg)
	if got := m.Defaults().Trim.PaddingMs; got != 300 {
		t.Errorf("PaddingMs = %d, want 300", got)
	}
}

func TestManager_RunClosesAllOnCancel(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(4, time.Minute)
	s, _ := m.Create()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if m.Len() != 0 {
		t.Errorf("Len = %d, want 0", m.Len())
	}
	if _, err := s.Prepare(context.Background(), []byte("target"), nil, pipeline.Default()); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}
