package approval

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubUI struct {
	decision Decision
	err      error
	delay    time.Duration
}

func (s stubUI) Prompt(ctx context.Context, req Request) (Decision, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Decision{}, ctx.Err()
		}
	}
	return s.decision, s.err
}

type stubRecorder struct {
	recorded map[string]bool
}

func (r *stubRecorder) SetRememberedDecision(requestID string, allowed bool) error {
	if r.recorded == nil {
		r.recorded = make(map[string]bool)
	}
	r.recorded[requestID] = allowed
	return nil
}

func TestResolveReturnsUIDecision(t *testing.T) {
	ui := stubUI{decision: Decision{Approved: true, Message: "ok"}}
	a := New(ui, time.Second, nil)

	d, err := a.Resolve(context.Background(), Request{ID: "r1", Filename: "x.txt"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Approved {
		t.Fatalf("expected approved decision")
	}
}

func TestResolveTimesOut(t *testing.T) {
	ui := stubUI{decision: Decision{Approved: true}, delay: 50 * time.Millisecond}
	a := New(ui, MinTimeout, nil)
	a.timeout = 10 * time.Millisecond // bypass clamp for a fast test

	d, err := a.Resolve(context.Background(), Request{ID: "r2", Filename: "x.txt"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Approved {
		t.Fatalf("expected timeout to resolve as not approved")
	}
	if d.Message != "timed out" {
		t.Fatalf("expected timeout message, got %q", d.Message)
	}
}

func TestResolvePersistsRememberedDecision(t *testing.T) {
	ui := stubUI{decision: Decision{Approved: false, Remember: true}}
	rec := &stubRecorder{}
	a := New(ui, time.Second, rec)

	_, err := a.Resolve(context.Background(), Request{ID: "r3", Filename: "x.exe"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed, ok := rec.recorded["r3"]; !ok || allowed {
		t.Fatalf("expected remembered deny for r3, got %v %v", ok, allowed)
	}
}

func TestResolvePropagatesUIError(t *testing.T) {
	ui := stubUI{err: errors.New("ui closed")}
	a := New(ui, time.Second, nil)

	_, err := a.Resolve(context.Background(), Request{ID: "r4"})
	if err == nil {
		t.Fatalf("expected error from UI")
	}
}

func TestClampTimeoutRules(t *testing.T) {
	cases := map[time.Duration]time.Duration{
		0:                    DefaultTimeout,
		-time.Second:         DefaultTimeout,
		time.Second:          MinTimeout,
		MinTimeout:           MinTimeout,
		2 * MinTimeout:       2 * MinTimeout,
	}
	for in, want := range cases {
		if got := ClampTimeout(in); got != want {
			t.Errorf("ClampTimeout(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestIsDangerousExtension(t *testing.T) {
	if !IsDangerousExtension(".EXE") {
		t.Fatalf("expected .EXE to be dangerous")
	}
	if IsDangerousExtension(".txt") {
		t.Fatalf("expected .txt to not be dangerous")
	}
}
