package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/checklisthq/syncd/internal/record"
	"github.com/checklisthq/syncd/internal/remote"
	"github.com/checklisthq/syncd/internal/resolve"
	"github.com/checklisthq/syncd/internal/status"
)

// runPass executes sync cycles until the queue drains, nothing is
// eligible, or connectivity is lost.
//
// Store updates use the run context rather than the cycle context: when
// connectivity drops mid-pass only the dispatches are aborted; the
// bookkeeping that reverts them to pending must still go through.
func (e *Engine) runPass(ctx context.Context) {
	if !e.monitor.Online() {
		e.reporter.SetStatus(status.StatusOffline)
		return
	}

	total, err := e.store.Count(ctx)
	if err != nil {
		e.config.Logger.Printf("Error counting queue: %v", err)
		return
	}
	if total == 0 {
		e.reporter.SetStatus(status.StatusIdle)
		return
	}

	e.reporter.BeginCycle(total)
	e.reporter.SetStatus(status.StatusSyncing)

	cycleCtx, cancel := context.WithCancel(ctx)
	e.cycleMu.Lock()
	e.cancelCycle = cancel
	e.cycleMu.Unlock()
	defer func() {
		cancel()
		e.cycleMu.Lock()
		e.cancelCycle = nil
		e.cycleMu.Unlock()
	}()

	var setbacks atomic.Int64

	for cycleCtx.Err() == nil {
		batch, err := e.store.NextBatch(ctx, e.config.BatchSize, time.Now())
		if err != nil {
			e.config.Logger.Printf("Error pulling batch: %v", err)
			break
		}
		if len(batch) == 0 {
			break
		}

		g := &errgroup.Group{}
		g.SetLimit(e.config.MaxInFlight)
		for _, m := range batch {
			m := m
			g.Go(func() error {
				e.dispatch(ctx, cycleCtx, m, &setbacks)
				return nil
			})
		}
		_ = g.Wait()
	}

	e.finishPass(ctx, &setbacks)
}

// finishPass settles the aggregate status after a pass and arms the
// retry wake-up for backed-off records.
func (e *Engine) finishPass(ctx context.Context, setbacks *atomic.Int64) {
	if !e.monitor.Online() {
		e.reporter.SetStatus(status.StatusOffline)
		return
	}

	remaining, err := e.store.Count(ctx)
	if err != nil {
		e.config.Logger.Printf("Error counting queue: %v", err)
		return
	}

	if remaining == 0 {
		e.reporter.SetStatus(status.StatusIdle)
		return
	}

	if setbacks.Load() > 0 {
		e.reporter.SetStatus(status.StatusError)
	} else {
		e.reporter.SetStatus(status.StatusIdle)
	}

	if at, ok, err := e.store.NextEligibleTime(ctx); err != nil {
		e.config.Logger.Printf("Error querying retry schedule: %v", err)
	} else if ok {
		e.scheduleRetryWake(at)
	}
}

// dispatch delivers a single record to the remote authority and applies
// the outcome.
func (e *Engine) dispatch(ctx, cycleCtx context.Context, m *record.Mutation, setbacks *atomic.Int64) {
	if err := e.store.MarkInFlight(ctx, m.ID); err != nil {
		e.config.Logger.Printf("Error marking mutation %d in flight: %v", m.ID, err)
		return
	}

	outcome, err := e.client.Submit(cycleCtx, m, "")
	if err != nil {
		if cycleCtx.Err() != nil {
			// Connectivity lost mid-dispatch: the eventual response is
			// ignored and the record reverts to pending with its
			// attempt count unchanged.
			if rerr := e.store.Release(ctx, m.ID); rerr != nil {
				e.config.Logger.Printf("Error releasing mutation %d: %v", m.ID, rerr)
			}
			return
		}
		e.recordFailure(ctx, m, err.Error(), setbacks)
		return
	}

	switch outcome.Status {
	case remote.StatusAccepted:
		if err := e.store.MarkSynced(ctx, m.ID); err != nil {
			e.config.Logger.Printf("Error marking mutation %d synced: %v", m.ID, err)
			return
		}
		e.reporter.RecordProcessed()
		e.config.Logger.Printf("Synced mutation %d (%s %s %s)", m.ID, m.Kind, m.EntityType, m.EntityID)

	case remote.StatusRejected:
		e.abandon(ctx, m, outcome.Reason, setbacks)

	case remote.StatusConflict:
		e.resolveConflict(ctx, cycleCtx, m, outcome, setbacks)
	}
}

// recordFailure applies the transient-failure policy: backoff and retry,
// or abandonment once the retry ceiling is exceeded.
func (e *Engine) recordFailure(ctx context.Context, m *record.Mutation, cause string, setbacks *atomic.Int64) {
	attempt := m.AttemptCount + 1

	if attempt > e.config.MaxAttempts {
		e.abandon(ctx, m, fmt.Sprintf("retry ceiling exceeded after %d attempts: %s", m.AttemptCount, cause), setbacks)
		return
	}

	delay := e.config.Backoff.Delay(attempt)
	if err := e.store.MarkFailed(ctx, m.ID, cause, time.Now().Add(delay)); err != nil {
		e.config.Logger.Printf("Error marking mutation %d failed: %v", m.ID, err)
		return
	}
	setbacks.Add(1)
	e.config.Logger.Printf("Mutation %d failed (attempt %d, retry in %v): %s", m.ID, attempt, delay.Round(time.Millisecond), cause)
}

// abandon moves a record to the terminal abandoned state and counts it
// as processed: the cycle has resolved it, even if a human still must.
func (e *Engine) abandon(ctx context.Context, m *record.Mutation, reason string, setbacks *atomic.Int64) {
	if err := e.store.MarkAbandoned(ctx, m.ID, reason); err != nil {
		e.config.Logger.Printf("Error marking mutation %d abandoned: %v", m.ID, err)
		return
	}
	setbacks.Add(1)
	e.reporter.RecordProcessed()
	e.config.Logger.Printf("Abandoned mutation %d (%s %s %s): %s", m.ID, m.Kind, m.EntityType, m.EntityID, reason)
}

// resolveConflict routes a stale-write rejection through the resolver
// and applies its verdict.
//
// A resolved payload is resubmitted once within the same cycle,
// conditioned on the server version that caused the conflict. If the
// server has moved again by then, the record goes back to pending and
// the next pass resolves against the newer state; resolution is never
// looped in place.
func (e *Engine) resolveConflict(ctx, cycleCtx context.Context, m *record.Mutation, outcome remote.Outcome, setbacks *atomic.Int64) {
	cause := fmt.Sprintf("server version %s modified at %s", outcome.ServerVersion, outcome.ServerModifiedAt.Format(time.RFC3339))
	if err := e.store.MarkConflict(ctx, m.ID, cause); err != nil {
		e.config.Logger.Printf("Error marking mutation %d conflicted: %v", m.ID, err)
		return
	}

	res := e.resolver.Resolve(resolve.Conflict{
		Local:            m,
		ServerVersion:    outcome.ServerVersion,
		ServerPayload:    outcome.ServerPayload,
		ServerModifiedAt: outcome.ServerModifiedAt,
	})

	switch res.Decision {
	case resolve.DecisionServerWins:
		e.abandon(ctx, m, fmt.Sprintf("conflict: server value kept (version %s)", outcome.ServerVersion), setbacks)

	case resolve.DecisionUnresolved:
		e.abandon(ctx, m, "conflict requires manual resolution", setbacks)

	case resolve.DecisionResolved:
		// A resubmission is always a full-snapshot update; a resolution
		// with nothing to resubmit cannot be applied.
		if len(res.Payload) == 0 {
			e.abandon(ctx, m, "conflict resolution produced no payload to resubmit", setbacks)
			return
		}
		resubmit := *m
		resubmit.Kind = record.KindUpdate
		resubmit.Payload = res.Payload

		next, err := e.client.Submit(cycleCtx, &resubmit, outcome.ServerVersion)
		if err != nil {
			if cycleCtx.Err() != nil {
				if rerr := e.store.Release(ctx, m.ID); rerr != nil {
					e.config.Logger.Printf("Error releasing mutation %d: %v", m.ID, rerr)
				}
				return
			}
			e.recordFailure(ctx, m, err.Error(), setbacks)
			return
		}

		switch next.Status {
		case remote.StatusAccepted:
			if err := e.store.MarkSynced(ctx, m.ID); err != nil {
				e.config.Logger.Printf("Error marking mutation %d synced: %v", m.ID, err)
				return
			}
			e.reporter.RecordProcessed()
			e.config.Logger.Printf("Synced mutation %d after conflict resolution", m.ID)

		case remote.StatusConflict:
			e.recordFailure(ctx, m, "server version changed during conflict resolution", setbacks)

		case remote.StatusRejected:
			e.abandon(ctx, m, next.Reason, setbacks)
		}

	default:
		e.abandon(ctx, m, "resolver returned an unknown decision", setbacks)
	}
}
