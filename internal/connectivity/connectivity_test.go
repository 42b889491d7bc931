package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestManualInitialState(t *testing.T) {
	if !NewManual(true).Online() {
		t.Error("expected online")
	}
	if NewManual(false).Online() {
		t.Error("expected offline")
	}
}

func TestManualNotifiesOnTransition(t *testing.T) {
	m := NewManual(true)

	var transitions []bool
	unsubscribe := m.Subscribe(func(online bool) {
		transitions = append(transitions, online)
	})
	defer unsubscribe()

	m.Set(false)
	m.Set(false) // no change, no notification
	m.Set(true)

	if len(transitions) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(transitions))
	}
	if transitions[0] != false || transitions[1] != true {
		t.Errorf("unexpected transition sequence: %v", transitions)
	}
}

func TestManualUnsubscribe(t *testing.T) {
	m := NewManual(true)

	calls := 0
	unsubscribe := m.Subscribe(func(online bool) { calls++ })
	unsubscribe()

	m.Set(false)
	if calls != 0 {
		t.Errorf("expected no notifications after unsubscribe, got %d", calls)
	}
}

func TestManualCallbackMayReadMonitor(t *testing.T) {
	m := NewManual(true)

	unsubscribe := m.Subscribe(func(online bool) {
		if m.Online() != online {
			t.Errorf("callback observed stale state")
		}
	})
	defer unsubscribe()

	m.Set(false)
}

func TestProbeDetectsHealthyServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := NewProbe(&ProbeConfig{
		HealthURL: server.URL,
		Interval:  time.Hour, // only the immediate startup probe runs
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	waitFor(t, func() bool { return p.Online() })
}

func TestProbeDetectsDeadServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	p := NewProbe(&ProbeConfig{
		HealthURL: server.URL,
		Interval:  time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	waitFor(t, func() bool { return !p.Online() })
}

func TestProbeUnreachableHost(t *testing.T) {
	p := NewProbe(&ProbeConfig{
		HealthURL: "http://127.0.0.1:1/health",
		Interval:  time.Hour,
		Timeout:   time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	waitFor(t, func() bool { return !p.Online() })
}

// waitFor polls a condition with a deadline.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}
