// Package engine drives the delivery of queued mutations to the remote
// authority.
//
// The engine:
//  1. Pulls eligible batches from the durable queue
//  2. Dispatches them concurrently (bounded fan-out) to the remote client
//  3. Interprets outcomes: success, transient failure, conflict, rejection
//  4. Applies backoff with jitter to failing records, up to a retry ceiling
//  5. Publishes status and progress through the reporter
//
// One logical engine runs per client process. Triggers for a sync pass:
// connectivity returning, a mutation enqueued while idle, an explicit
// RequestSync, or the periodic timer.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/checklisthq/syncd/internal/connectivity"
	"github.com/checklisthq/syncd/internal/queue"
	"github.com/checklisthq/syncd/internal/record"
	"github.com/checklisthq/syncd/internal/remote"
	"github.com/checklisthq/syncd/internal/resolve"
	"github.com/checklisthq/syncd/internal/status"
)

// Config holds configuration for the engine.
type Config struct {
	// MaxInFlight bounds concurrent dispatches within a cycle. Never
	// more than one dispatch per entity is in flight regardless; this
	// bounds fan-out across entities.
	MaxInFlight int

	// BatchSize is how many eligible records to pull per batch.
	BatchSize int

	// MaxAttempts is the retry ceiling. A record whose attempt count
	// would exceed it is abandoned instead of retried.
	MaxAttempts int

	// Backoff computes retry delays from attempt counts.
	Backoff Backoff

	// SyncInterval is the periodic trigger. Zero disables the timer.
	SyncInterval time.Duration

	// Resolver decides conflicts. Nil uses last-write-wins.
	Resolver resolve.Resolver

	// Monitor supplies the connectivity signal. Nil assumes always
	// online.
	Monitor connectivity.Monitor

	// Logger for engine activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxInFlight: 4,
		BatchSize:   16,
		MaxAttempts: 8,
		Backoff: Backoff{
			Base:   time.Second,
			Cap:    5 * time.Minute,
			Jitter: 0.2,
		},
		SyncInterval: time.Minute,
		Logger:       log.New(os.Stderr, "[engine] ", log.LstdFlags),
	}
}

// Engine is the sync scheduler and the producer surface the rest of the
// application uses.
type Engine struct {
	store    *queue.Store
	client   remote.Client
	resolver resolve.Resolver
	monitor  connectivity.Monitor
	reporter *status.Reporter
	config   *Config

	kick chan struct{}

	// cancelCycle aborts the in-progress cycle when connectivity drops.
	cycleMu     sync.Mutex
	cancelCycle context.CancelFunc

	retryMu    sync.Mutex
	retryTimer *time.Timer
}

// New creates an engine over the given queue store and remote client.
//
// The store must be open; the engine does not own its lifecycle. Use
// Run() to start processing.
func New(store *queue.Store, client remote.Client, config *Config) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxInFlight <= 0 {
		config.MaxInFlight = 4
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 16
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 8
	}
	if config.Backoff.Base == 0 {
		config.Backoff.Base = time.Second
	}
	if config.Backoff.Cap == 0 {
		config.Backoff.Cap = 5 * time.Minute
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}

	resolver := config.Resolver
	if resolver == nil {
		resolver = resolve.LastWriterWins()
	}

	monitor := config.Monitor
	if monitor == nil {
		// Absence of an explicit signal defaults to assuming online.
		monitor = connectivity.NewManual(true)
	}

	return &Engine{
		store:    store,
		client:   client,
		resolver: resolver,
		monitor:  monitor,
		reporter: status.NewReporter(),
		config:   config,
		kick:     make(chan struct{}, 1),
	}, nil
}

// Reporter returns the engine's status reporter, for wiring observers
// such as the dashboard.
func (e *Engine) Reporter() *status.Reporter {
	return e.reporter
}

// EnqueueMutation durably records a local mutation and nudges the
// scheduler. The returned id identifies the record for later inspection.
//
// A storage failure is fatal from the caller's perspective: the error
// wraps queue.ErrStorageExhausted and the mutation has NOT been recorded.
func (e *Engine) EnqueueMutation(ctx context.Context, kind record.Kind, entityType record.EntityType, entityID string, payload json.RawMessage) (int64, error) {
	id, err := e.store.Enqueue(ctx, kind, entityType, entityID, payload)
	if err != nil {
		return 0, err
	}

	e.config.Logger.Printf("Enqueued %s %s %s as mutation %d", kind, entityType, entityID, id)
	e.RequestSync()
	return id, nil
}

// Status returns the current aggregate sync status.
func (e *Engine) Status() status.SyncStatus {
	return e.reporter.Status()
}

// Progress returns the current cycle progress.
func (e *Engine) Progress() status.Progress {
	return e.reporter.Progress()
}

// Subscribe registers an observer for status/progress transitions and
// returns its unsubscribe function.
func (e *Engine) Subscribe(obs status.Observer) (unsubscribe func()) {
	return e.reporter.Subscribe(obs)
}

// RequestSync asks the scheduler to start a pass as soon as possible.
// Safe to call from any goroutine; coalesces with pending requests.
func (e *Engine) RequestSync() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Action is a manual decision for an abandoned record.
type Action int

const (
	// ActionRequeue returns the record to the queue with a fresh
	// attempt budget.
	ActionRequeue Action = iota
	// ActionDiscard permanently drops the record.
	ActionDiscard
)

// Decision carries a manual resolution for an abandoned record.
type Decision struct {
	Action Action

	// NotBefore delays the requeued record's next dispatch. Ignored for
	// ActionDiscard; zero means immediately eligible.
	NotBefore time.Time
}

// ResolveAbandoned applies a human decision to an abandoned record.
// Returns queue.ErrNotFound or queue.ErrNotAbandoned when the record
// cannot be resolved.
func (e *Engine) ResolveAbandoned(ctx context.Context, id int64, d Decision) error {
	switch d.Action {
	case ActionRequeue:
		if err := e.store.Requeue(ctx, id, d.NotBefore); err != nil {
			return err
		}
		e.config.Logger.Printf("Requeued abandoned mutation %d", id)
		e.RequestSync()
		return nil

	case ActionDiscard:
		if err := e.store.Discard(ctx, id); err != nil {
			return err
		}
		e.config.Logger.Printf("Discarded abandoned mutation %d", id)
		return nil

	default:
		return fmt.Errorf("unknown decision action: %d", d.Action)
	}
}

// Abandoned lists the records requiring human attention.
func (e *Engine) Abandoned(ctx context.Context) ([]*record.Mutation, error) {
	return e.store.ListAbandoned(ctx)
}

// Run starts the scheduler and blocks until ctx is cancelled.
//
// On start, records stranded in flight by a previous crash revert to
// pending (attempt counts untouched) and a first pass is kicked off.
func (e *Engine) Run(ctx context.Context) error {
	released, err := e.store.ReleaseInFlight(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover in-flight mutations: %w", err)
	}
	if released > 0 {
		e.config.Logger.Printf("Recovered %d in-flight mutations from previous run", released)
	}

	unsubscribe := e.monitor.Subscribe(func(online bool) {
		if online {
			e.config.Logger.Println("Connectivity restored")
			e.RequestSync()
			return
		}

		e.config.Logger.Println("Connectivity lost")
		e.reporter.SetStatus(status.StatusOffline)
		e.abortCycle()
	})
	defer unsubscribe()

	var timer *time.Ticker
	var tick <-chan time.Time
	if e.config.SyncInterval > 0 {
		timer = time.NewTicker(e.config.SyncInterval)
		tick = timer.C
		defer timer.Stop()
	}

	e.RequestSync()

	for {
		select {
		case <-ctx.Done():
			e.stopRetryTimer()
			return ctx.Err()

		case <-e.kick:
			e.runPass(ctx)

		case <-tick:
			e.runPass(ctx)
		}
	}
}

// abortCycle cancels the in-progress cycle, if any.
func (e *Engine) abortCycle() {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()
	if e.cancelCycle != nil {
		e.cancelCycle()
	}
}

// scheduleRetryWake arms a timer to kick the scheduler when the earliest
// backed-off record becomes eligible again.
func (e *Engine) scheduleRetryWake(at time.Time) {
	d := time.Until(at)
	if d < 0 {
		d = 0
	}

	e.retryMu.Lock()
	defer e.retryMu.Unlock()
	if e.retryTimer != nil {
		e.retryTimer.Stop()
	}
	e.retryTimer = time.AfterFunc(d, e.RequestSync)
}

// stopRetryTimer cancels any armed retry wake-up.
func (e *Engine) stopRetryTimer() {
	e.retryMu.Lock()
	defer e.retryMu.Unlock()
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
}
