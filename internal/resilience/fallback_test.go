package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newGroup() *FallbackGroup[string] {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	fg.AddFallback("secondary", "secondary")
	return fg
}

func TestFallbackGroup_PrimarySuccess(t *testing.T) {
	fg := newGroup()
	var called string
	if err := fg.Execute(func(v string) error { called = v; return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "primary" {
		t.Fatalf("called = %q, want primary", called)
	}
}

func TestFallbackGroup_PrimaryFailFallbackSuccess(t *testing.T) {
	fg := newGroup()
	var called string
	err := fg.Execute(func(v string) error {
		if v == "primary" {
			return errTest
		}
		called = v
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "secondary" {
		t.Fatalf("called = %q, want secondary", called)
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	fg := newGroup()
	err := fg.Execute(func(string) error { return errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Errorf("err = %v, want it to wrap the last failure", err)
	}
}

func TestFallbackGroup_CircuitBreakerSkipsOpenEntry(t *testing.T) {
	fg := newGroup()
	for range 2 {
		_ = fg.Execute(func(v string) error {
			if v == "primary" {
				return errTest
			}
			return nil
		})
	}
	if got := fg.Breaker("primary").State(); got != StateOpen {
		t.Fatalf("primary breaker = %v, want open", got)
	}

	var calls []string
	if err := fg.Execute(func(v string) error { calls = append(calls, v); return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"secondary"}, calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestFallbackGroup_NeutralErrorStopsWalk(t *testing.T) {
	fg := newGroup()
	var calls []string
	err := fg.Execute(func(v string) error {
		calls = append(calls, v)
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want bare context.Canceled", err)
	}
	if diff := cmp.Diff([]string{"primary"}, calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestFallbackGroup_NamesAndUnknownBreaker(t *testing.T) {
	fg := newGroup()
	if diff := cmp.Diff([]string{"primary", "secondary"}, fg.Names()); diff != "" {
		t.Errorf("Names mismatch (-want +got):\n%s", diff)
	}
	if fg.Breaker("tertiary") != nil {
		t.Error("Breaker of an unknown entry should be nil")
	}
}

func TestExecuteWithResult_ReportsServingEntry(t *testing.T) {
	fg := NewFallbackGroup(10, "ten", FallbackConfig{})
	fg.AddFallback("twenty", 20)

	tests := []struct {
		name       string
		failTen    bool
		wantResult int
		wantServed string
	}{
		{name: "primary", wantResult: 20, wantServed: "ten"},
		{name: "failover", failTen: true, wantResult: 40, wantServed: "twenty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, served, err := ExecuteWithResult(fg, func(v int) (int, error) {
				if v == 10 && tt.failTen {
					return 0, errTest
				}
				return v * 2, nil
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.wantResult || served != tt.wantServed {
				t.Errorf("got %d from %q, want %d from %q", got, served, tt.wantResult, tt.wantServed)
			}
		})
	}
}

func TestExecuteWithResult_AllFail(t *testing.T) {
	fg := NewFallbackGroup(10, "ten", FallbackConfig{})
	_, served, err := ExecuteWithResult(fg, func(int) (string, error) { return "", errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if served != "" {
		t.Errorf("served = %q, want empty", served)
	}
}
