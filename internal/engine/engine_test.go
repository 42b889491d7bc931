package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/checklisthq/syncd/internal/connectivity"
	"github.com/checklisthq/syncd/internal/queue"
	"github.com/checklisthq/syncd/internal/record"
	"github.com/checklisthq/syncd/internal/remote"
	"github.com/checklisthq/syncd/internal/resolve"
	"github.com/checklisthq/syncd/internal/status"
)

// submitCall records one delivery the fake client received.
type submitCall struct {
	RequestID   string
	Kind        record.Kind
	EntityID    string
	BaseVersion string
}

// fakeClient scripts remote outcomes per delivery attempt.
type fakeClient struct {
	mu      sync.Mutex
	calls   []submitCall
	handler func(m *record.Mutation, baseVersion string) (remote.Outcome, error)
}

func (f *fakeClient) Submit(ctx context.Context, m *record.Mutation, baseVersion string) (remote.Outcome, error) {
	if ctx.Err() != nil {
		return remote.Outcome{}, ctx.Err()
	}

	f.mu.Lock()
	f.calls = append(f.calls, submitCall{
		RequestID:   m.RequestID(),
		Kind:        m.Kind,
		EntityID:    m.EntityID,
		BaseVersion: baseVersion,
	})
	handler := f.handler
	f.mu.Unlock()

	if handler == nil {
		return remote.Outcome{Status: remote.StatusAccepted, NewVersion: "v1"}, nil
	}
	return handler(m, baseVersion)
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeClient) callsCopy() []submitCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]submitCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func testLogger() *log.Logger {
	return log.New(os.Stderr, "[test] ", log.LstdFlags)
}

// setupEngine wires an engine over a temp store and the given client.
func setupEngine(t *testing.T, client remote.Client, config *Config) (*Engine, *queue.Store) {
	t.Helper()

	store, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if config == nil {
		config = &Config{}
	}
	if config.Logger == nil {
		config.Logger = testLogger()
	}
	if config.Backoff.Base == 0 {
		config.Backoff = Backoff{Base: 50 * time.Millisecond, Cap: 50 * time.Millisecond}
	}
	if config.SyncInterval == 0 {
		config.SyncInterval = -1 // sentinel: caller runs passes directly
	}

	eng, err := New(store, client, config)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return eng, store
}

func mustEnqueue(t *testing.T, e *Engine, kind record.Kind, entityID string, payload string) int64 {
	t.Helper()

	var raw json.RawMessage
	if payload != "" {
		raw = json.RawMessage(payload)
	}
	id, err := e.EnqueueMutation(context.Background(), kind, record.EntityChecklist, entityID, raw)
	if err != nil {
		t.Fatalf("EnqueueMutation failed: %v", err)
	}
	return id
}

func TestNewValidatesArguments(t *testing.T) {
	store, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	if _, err := New(nil, &fakeClient{}, nil); err == nil {
		t.Error("expected error for nil store")
	}
	if _, err := New(store, nil, nil); err == nil {
		t.Error("expected error for nil client")
	}
	if _, err := New(store, &fakeClient{}, nil); err != nil {
		t.Errorf("nil config should use defaults, got %v", err)
	}
}

func TestPassDeliversInOrder(t *testing.T) {
	client := &fakeClient{}
	eng, store := setupEngine(t, client, nil)
	ctx := context.Background()

	mustEnqueue(t, eng, record.KindCreate, "cl-1", `{"title":"a"}`)
	mustEnqueue(t, eng, record.KindUpdate, "cl-1", `{"title":"b"}`)

	eng.runPass(ctx)

	calls := client.callsCopy()
	if len(calls) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(calls))
	}
	if calls[0].Kind != record.KindCreate || calls[1].Kind != record.KindUpdate {
		t.Errorf("same-entity order violated: %v then %v", calls[0].Kind, calls[1].Kind)
	}

	empty, err := store.IsEmpty(ctx)
	if err != nil {
		t.Fatalf("IsEmpty failed: %v", err)
	}
	if !empty {
		t.Error("expected queue drained after successful pass")
	}
	if eng.Status() != status.StatusIdle {
		t.Errorf("expected idle after drain, got %s", eng.Status())
	}
}

func TestPassBacksOffTransientFailure(t *testing.T) {
	boom := errors.New("connection reset")
	client := &fakeClient{
		handler: func(m *record.Mutation, _ string) (remote.Outcome, error) {
			return remote.Outcome{}, boom
		},
	}
	eng, store := setupEngine(t, client, nil)
	ctx := context.Background()

	id := mustEnqueue(t, eng, record.KindCreate, "cl-1", `{"a":1}`)

	eng.runPass(ctx)

	m, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if m.State != record.StatePending {
		t.Errorf("expected pending after transient failure, got %s", m.State)
	}
	if m.AttemptCount != 1 {
		t.Errorf("expected attempt count 1, got %d", m.AttemptCount)
	}
	if m.NextEligibleAt.IsZero() {
		t.Error("expected a backoff deadline")
	}
	if m.LastError == "" {
		t.Error("expected last error recorded")
	}
	if eng.Status() != status.StatusError {
		t.Errorf("expected error status, got %s", eng.Status())
	}
}

func TestPassRetriesAfterBackoff(t *testing.T) {
	var failures, finalAttempts int
	client := &fakeClient{}
	client.handler = func(m *record.Mutation, _ string) (remote.Outcome, error) {
		client.mu.Lock()
		defer client.mu.Unlock()
		if failures < 3 {
			failures++
			return remote.Outcome{}, errors.New("timeout")
		}
		finalAttempts = m.AttemptCount
		return remote.Outcome{Status: remote.StatusAccepted}, nil
	}
	eng, store := setupEngine(t, client, &Config{
		Backoff: Backoff{Base: 10 * time.Millisecond, Cap: 10 * time.Millisecond},
		Logger:  testLogger(),
	})
	ctx := context.Background()

	id := mustEnqueue(t, eng, record.KindCreate, "cl-1", `{"a":1}`)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		eng.runPass(ctx)
		if _, err := store.Get(ctx, id); errors.Is(err, queue.ErrNotFound) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if _, err := store.Get(ctx, id); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected record synced and removed, got %v", err)
	}
	if client.callCount() != 4 {
		t.Errorf("expected 4 delivery attempts, got %d", client.callCount())
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if finalAttempts != 3 {
		t.Errorf("expected the final delivery to carry attempt count 3, got %d", finalAttempts)
	}
}

func TestRetryCeilingAbandons(t *testing.T) {
	client := &fakeClient{
		handler: func(m *record.Mutation, _ string) (remote.Outcome, error) {
			return remote.Outcome{}, errors.New("unreachable")
		},
	}
	eng, store := setupEngine(t, client, &Config{
		MaxAttempts: 2,
		Backoff:     Backoff{Base: time.Millisecond, Cap: time.Millisecond},
		Logger:      testLogger(),
	})
	ctx := context.Background()

	id := mustEnqueue(t, eng, record.KindCreate, "cl-1", `{"a":1}`)

	for i := 0; i < 4; i++ {
		eng.runPass(ctx)
		time.Sleep(5 * time.Millisecond)
	}

	m, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if m.State != record.StateAbandoned {
		t.Fatalf("expected abandoned, got %s", m.State)
	}
	if m.LastError == "" {
		t.Error("expected abandonment reason")
	}
	// Two counted attempts, then the third failure tripped the ceiling.
	if m.AttemptCount != 2 {
		t.Errorf("expected attempt count 2, got %d", m.AttemptCount)
	}
}

func TestRejectionAbandonsImmediately(t *testing.T) {
	client := &fakeClient{
		handler: func(m *record.Mutation, _ string) (remote.Outcome, error) {
			return remote.Outcome{Status: remote.StatusRejected, Reason: "schema violation"}, nil
		},
	}
	eng, store := setupEngine(t, client, nil)
	ctx := context.Background()

	id := mustEnqueue(t, eng, record.KindCreate, "cl-1", `{"a":1}`)

	eng.runPass(ctx)

	m, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if m.State != record.StateAbandoned {
		t.Errorf("expected abandoned, got %s", m.State)
	}
	if m.LastError != "schema violation" {
		t.Errorf("expected rejection reason, got %q", m.LastError)
	}
	if client.callCount() != 1 {
		t.Errorf("rejection must not be retried, got %d attempts", client.callCount())
	}
}

func TestConflictServerWinsAbandons(t *testing.T) {
	client := &fakeClient{
		handler: func(m *record.Mutation, _ string) (remote.Outcome, error) {
			return remote.Outcome{
				Status:           remote.StatusConflict,
				ServerVersion:    "v5",
				ServerPayload:    json.RawMessage(`{"title":"server"}`),
				ServerModifiedAt: time.Now().Add(time.Hour),
			}, nil
		},
	}
	eng, store := setupEngine(t, client, nil)
	ctx := context.Background()

	id := mustEnqueue(t, eng, record.KindUpdate, "cl-1", `{"title":"local"}`)

	eng.runPass(ctx)

	m, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if m.State != record.StateAbandoned {
		t.Errorf("expected abandoned when server wins, got %s", m.State)
	}
	if client.callCount() != 1 {
		t.Errorf("server-wins must not resubmit, got %d attempts", client.callCount())
	}
}

func TestDeleteConflictKeepsServerValue(t *testing.T) {
	client := &fakeClient{
		handler: func(m *record.Mutation, _ string) (remote.Outcome, error) {
			return remote.Outcome{
				Status:           remote.StatusConflict,
				ServerVersion:    "v5",
				ServerPayload:    json.RawMessage(`{"title":"server"}`),
				ServerModifiedAt: time.Now().Add(-time.Hour),
			}, nil
		},
	}
	eng, store := setupEngine(t, client, nil)
	ctx := context.Background()

	// The local delete is newer than the server's write, but a delete
	// has no payload to resubmit: the server's value must be kept.
	id := mustEnqueue(t, eng, record.KindDelete, "cl-1", "")

	eng.runPass(ctx)

	m, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if m.State != record.StateAbandoned {
		t.Errorf("expected abandoned, got %s", m.State)
	}
	if client.callCount() != 1 {
		t.Errorf("a delete conflict must never resubmit, got %d calls", client.callCount())
	}
}

func TestResolvedWithoutPayloadAbandons(t *testing.T) {
	client := &fakeClient{
		handler: func(m *record.Mutation, _ string) (remote.Outcome, error) {
			return remote.Outcome{Status: remote.StatusConflict, ServerVersion: "v2"}, nil
		},
	}
	eng, store := setupEngine(t, client, &Config{
		Resolver: resolve.ResolverFunc(func(c resolve.Conflict) resolve.Resolution {
			return resolve.Resolved(nil)
		}),
		Logger: testLogger(),
	})
	ctx := context.Background()

	id := mustEnqueue(t, eng, record.KindUpdate, "cl-1", `{"a":1}`)

	eng.runPass(ctx)

	m, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if m.State != record.StateAbandoned {
		t.Errorf("expected abandoned, got %s", m.State)
	}
	if client.callCount() != 1 {
		t.Errorf("an empty resolution must not be resubmitted, got %d calls", client.callCount())
	}
}

func TestConflictLocalWinsResubmits(t *testing.T) {
	serverModified := time.Now().Add(-time.Hour)
	client := &fakeClient{}
	client.handler = func(m *record.Mutation, baseVersion string) (remote.Outcome, error) {
		if baseVersion == "" {
			return remote.Outcome{
				Status:           remote.StatusConflict,
				ServerVersion:    "v5",
				ServerPayload:    json.RawMessage(`{"title":"server"}`),
				ServerModifiedAt: serverModified,
			}, nil
		}
		return remote.Outcome{Status: remote.StatusAccepted, NewVersion: "v6"}, nil
	}
	eng, store := setupEngine(t, client, nil)
	ctx := context.Background()

	id := mustEnqueue(t, eng, record.KindUpdate, "cl-1", `{"title":"local"}`)

	eng.runPass(ctx)

	if _, err := store.Get(ctx, id); !errors.Is(err, queue.ErrNotFound) {
		t.Errorf("expected record synced after resubmission, got %v", err)
	}

	calls := client.callsCopy()
	if len(calls) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(calls))
	}
	if calls[1].BaseVersion != "v5" {
		t.Errorf("resubmission must be conditioned on the conflicting version, got %q", calls[1].BaseVersion)
	}
	if calls[1].RequestID != calls[0].RequestID {
		t.Errorf("resubmission must reuse the request id: %q vs %q", calls[0].RequestID, calls[1].RequestID)
	}
}

func TestConflictRepeatGoesBackToPending(t *testing.T) {
	client := &fakeClient{
		handler: func(m *record.Mutation, baseVersion string) (remote.Outcome, error) {
			// The server has moved again by the time we resubmit.
			return remote.Outcome{
				Status:           remote.StatusConflict,
				ServerVersion:    fmt.Sprintf("v%d", time.Now().UnixNano()),
				ServerPayload:    json.RawMessage(`{}`),
				ServerModifiedAt: time.Now().Add(-time.Hour),
			}, nil
		},
	}
	eng, store := setupEngine(t, client, nil)
	ctx := context.Background()

	id := mustEnqueue(t, eng, record.KindUpdate, "cl-1", `{"title":"local"}`)

	eng.runPass(ctx)

	m, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if m.State != record.StatePending {
		t.Errorf("expected pending for next pass, got %s", m.State)
	}
	if m.AttemptCount != 1 {
		t.Errorf("expected attempt count 1, got %d", m.AttemptCount)
	}
	if client.callCount() != 2 {
		t.Errorf("expected exactly one resubmission this pass, got %d calls", client.callCount())
	}
}

func TestUnresolvedConflictAbandons(t *testing.T) {
	client := &fakeClient{
		handler: func(m *record.Mutation, _ string) (remote.Outcome, error) {
			return remote.Outcome{Status: remote.StatusConflict, ServerVersion: "v2"}, nil
		},
	}
	eng, store := setupEngine(t, client, &Config{
		Resolver: resolve.ResolverFunc(func(c resolve.Conflict) resolve.Resolution {
			return resolve.Unresolved()
		}),
		Logger: testLogger(),
	})
	ctx := context.Background()

	id := mustEnqueue(t, eng, record.KindUpdate, "cl-1", `{"a":1}`)

	eng.runPass(ctx)

	m, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if m.State != record.StateAbandoned {
		t.Errorf("expected abandoned, got %s", m.State)
	}
}

func TestOfflineSkipsPass(t *testing.T) {
	monitor := connectivity.NewManual(false)
	client := &fakeClient{}
	eng, _ := setupEngine(t, client, &Config{Monitor: monitor, Logger: testLogger()})
	ctx := context.Background()

	mustEnqueue(t, eng, record.KindCreate, "cl-1", `{"a":1}`)

	eng.runPass(ctx)

	if client.callCount() != 0 {
		t.Errorf("offline pass must not dispatch, got %d calls", client.callCount())
	}
	if eng.Status() != status.StatusOffline {
		t.Errorf("expected offline status, got %s", eng.Status())
	}
}

func TestOfflineMidDispatchReleasesRecord(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	client := &fakeClient{}
	client.handler = func(m *record.Mutation, _ string) (remote.Outcome, error) {
		// Block until the test aborts the cycle, then fail the way a
		// transport does when its request is cancelled.
		close(started)
		<-release
		return remote.Outcome{}, context.Canceled
	}

	monitor := connectivity.NewManual(true)
	eng, store := setupEngine(t, client, &Config{Monitor: monitor, Logger: testLogger()})
	ctx := context.Background()

	id := mustEnqueue(t, eng, record.KindCreate, "cl-1", `{"a":1}`)

	done := make(chan struct{})
	go func() {
		eng.runPass(ctx)
		close(done)
	}()

	<-started
	monitor.Set(false)
	eng.abortCycle()
	close(release)
	<-done

	m, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if m.State != record.StatePending {
		t.Errorf("expected pending after abort, got %s", m.State)
	}
	if m.AttemptCount != 0 {
		t.Errorf("aborted dispatch must not count as an attempt, got %d", m.AttemptCount)
	}
	if eng.Status() != status.StatusOffline {
		t.Errorf("expected offline status, got %s", eng.Status())
	}
}

func TestRequestIDDeduplication(t *testing.T) {
	// A server that applies each request id at most once, even when its
	// response is lost and the engine retries.
	applied := make(map[string]int)
	var mu sync.Mutex
	first := true

	client := &fakeClient{}
	client.handler = func(m *record.Mutation, _ string) (remote.Outcome, error) {
		mu.Lock()
		defer mu.Unlock()

		if applied[m.RequestID()] == 0 {
			applied[m.RequestID()]++
		}
		if first {
			first = false
			// Response lost after the server applied the write.
			return remote.Outcome{}, errors.New("response timeout")
		}
		return remote.Outcome{Status: remote.StatusAccepted}, nil
	}

	eng, store := setupEngine(t, client, &Config{
		Backoff: Backoff{Base: 5 * time.Millisecond, Cap: 5 * time.Millisecond},
		Logger:  testLogger(),
	})
	ctx := context.Background()

	id := mustEnqueue(t, eng, record.KindCreate, "cl-1", `{"a":1}`)

	eng.runPass(ctx)
	time.Sleep(10 * time.Millisecond)
	eng.runPass(ctx)

	if _, err := store.Get(ctx, id); !errors.Is(err, queue.ErrNotFound) {
		t.Errorf("expected record synced, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(applied) != 1 {
		t.Errorf("expected a single request id across retries, got %d", len(applied))
	}
	for rid, n := range applied {
		if n != 1 {
			t.Errorf("request %s applied %d times", rid, n)
		}
	}
}

func TestResolveAbandonedRequeue(t *testing.T) {
	client := &fakeClient{
		handler: func(m *record.Mutation, _ string) (remote.Outcome, error) {
			return remote.Outcome{Status: remote.StatusRejected, Reason: "nope"}, nil
		},
	}
	eng, store := setupEngine(t, client, nil)
	ctx := context.Background()

	id := mustEnqueue(t, eng, record.KindCreate, "cl-1", `{"a":1}`)
	eng.runPass(ctx)

	abandoned, err := eng.Abandoned(ctx)
	if err != nil {
		t.Fatalf("Abandoned failed: %v", err)
	}
	if len(abandoned) != 1 {
		t.Fatalf("expected 1 abandoned record, got %d", len(abandoned))
	}

	if err := eng.ResolveAbandoned(ctx, id, Decision{Action: ActionRequeue}); err != nil {
		t.Fatalf("ResolveAbandoned failed: %v", err)
	}

	m, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if m.State != record.StatePending {
		t.Errorf("expected pending after requeue, got %s", m.State)
	}
	if m.AttemptCount != 0 {
		t.Errorf("expected fresh attempt budget, got %d", m.AttemptCount)
	}
}

func TestResolveAbandonedDiscard(t *testing.T) {
	client := &fakeClient{
		handler: func(m *record.Mutation, _ string) (remote.Outcome, error) {
			return remote.Outcome{Status: remote.StatusRejected, Reason: "nope"}, nil
		},
	}
	eng, store := setupEngine(t, client, nil)
	ctx := context.Background()

	id := mustEnqueue(t, eng, record.KindCreate, "cl-1", `{"a":1}`)
	eng.runPass(ctx)

	if err := eng.ResolveAbandoned(ctx, id, Decision{Action: ActionDiscard}); err != nil {
		t.Fatalf("ResolveAbandoned failed: %v", err)
	}
	if _, err := store.Get(ctx, id); !errors.Is(err, queue.ErrNotFound) {
		t.Errorf("expected record gone after discard, got %v", err)
	}

	if err := eng.ResolveAbandoned(ctx, id, Decision{Action: ActionDiscard}); !errors.Is(err, queue.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveAbandonedRejectsActiveRecord(t *testing.T) {
	eng, _ := setupEngine(t, &fakeClient{}, nil)
	ctx := context.Background()

	id := mustEnqueue(t, eng, record.KindCreate, "cl-1", `{"a":1}`)

	err := eng.ResolveAbandoned(ctx, id, Decision{Action: ActionRequeue})
	if !errors.Is(err, queue.ErrNotAbandoned) {
		t.Errorf("expected ErrNotAbandoned, got %v", err)
	}
}

func TestRunRecoversStrandedInFlight(t *testing.T) {
	client := &fakeClient{}
	eng, store := setupEngine(t, client, &Config{Logger: testLogger()})
	ctx := context.Background()

	id := mustEnqueue(t, eng, record.KindCreate, "cl-1", `{"a":1}`)
	if err := store.MarkInFlight(ctx, id); err != nil {
		t.Fatalf("MarkInFlight failed: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- eng.Run(runCtx) }()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := store.Get(ctx, id); errors.Is(err, queue.ErrNotFound) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	if _, err := store.Get(ctx, id); !errors.Is(err, queue.ErrNotFound) {
		t.Errorf("stranded record was not recovered and synced: %v", err)
	}
}

func TestProgressReportedDuringPass(t *testing.T) {
	client := &fakeClient{}
	eng, _ := setupEngine(t, client, nil)
	ctx := context.Background()

	mustEnqueue(t, eng, record.KindCreate, "cl-1", `{"a":1}`)
	mustEnqueue(t, eng, record.KindCreate, "cl-2", `{"a":2}`)

	var mu sync.Mutex
	var snaps []status.Snapshot
	unsubscribe := eng.Subscribe(func(s status.Snapshot) {
		mu.Lock()
		snaps = append(snaps, s)
		mu.Unlock()
	})
	defer unsubscribe()

	eng.runPass(ctx)

	mu.Lock()
	defer mu.Unlock()

	var sawSyncing, sawComplete bool
	for _, s := range snaps {
		if s.Status == status.StatusSyncing {
			sawSyncing = true
		}
		if s.Progress.Processed == 2 && s.Progress.Percentage == 100 {
			sawComplete = true
		}
	}
	if !sawSyncing {
		t.Error("expected a syncing snapshot during the pass")
	}
	if !sawComplete {
		t.Error("expected a complete progress snapshot")
	}

	if eng.Progress().Percentage != 100 {
		t.Errorf("expected final progress 100%%, got %v", eng.Progress().Percentage)
	}
}
