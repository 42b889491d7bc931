// Package status aggregates sync engine activity into a single
// observable status and progress snapshot.
//
// The reporter owns no entity data — only derived, recomputable
// summaries. It is the one process-scoped holder of "what is the sync
// doing right now", with an explicit subscribe/unsubscribe lifecycle
// instead of ambient global state.
package status

import "sync"

// SyncStatus is the engine's aggregate state.
type SyncStatus int

const (
	// StatusIdle means the queue is empty and connectivity is present.
	StatusIdle SyncStatus = iota
	// StatusSyncing means records are being dispatched.
	StatusSyncing
	// StatusError means the authority is reachable but persistently
	// rejecting records.
	StatusError
	// StatusOffline means connectivity is absent.
	StatusOffline
)

// String returns a human-readable representation of the status.
func (s SyncStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusSyncing:
		return "syncing"
	case StatusError:
		return "error"
	case StatusOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Progress is a snapshot of the current sync cycle. Not persisted;
// recomputed at the start of each cycle from the queue size.
type Progress struct {
	// Processed is how many records have been resolved this cycle.
	Processed int `json:"processed"`

	// Total is the queue size observed at the start of the cycle.
	Total int `json:"total"`

	// Percentage is Processed/Total scaled to 0–100. 100 when Total
	// is zero.
	Percentage float64 `json:"percentage"`
}

// Snapshot pairs the status and progress delivered to observers.
type Snapshot struct {
	Status   SyncStatus `json:"status"`
	Progress Progress   `json:"progress"`
}

// Observer receives snapshots on every state transition.
//
// Notification order across observers is unspecified, but each observer
// sees a monotonically non-decreasing processed count within one cycle.
type Observer func(s Snapshot)

// Reporter maintains the current status and cycle progress and publishes
// both to subscribers on every transition.
type Reporter struct {
	mu        sync.Mutex
	status    SyncStatus
	processed int
	total     int
	nextID    int
	observers map[int]Observer
}

// NewReporter creates a reporter in the idle state.
func NewReporter() *Reporter {
	return &Reporter{
		status:    StatusIdle,
		observers: make(map[int]Observer),
	}
}

// Status returns the current status.
func (r *Reporter) Status() SyncStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Progress returns the current cycle progress.
func (r *Reporter) Progress() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return progressOf(r.processed, r.total)
}

// Snapshot returns the current status and progress together.
func (r *Reporter) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{Status: r.status, Progress: progressOf(r.processed, r.total)}
}

// Subscribe registers an observer and returns its unsubscribe function.
// The observer is immediately sent the current snapshot so late
// subscribers do not miss the present state.
func (r *Reporter) Subscribe(obs Observer) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.observers[id] = obs
	snap := Snapshot{Status: r.status, Progress: progressOf(r.processed, r.total)}
	r.mu.Unlock()

	obs(snap)

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.observers, id)
	}
}

// SetStatus transitions the status, notifying observers if it changed.
func (r *Reporter) SetStatus(s SyncStatus) {
	r.mu.Lock()
	if r.status == s {
		r.mu.Unlock()
		return
	}
	r.status = s
	r.notifyLocked()
}

// BeginCycle resets progress for a new sync cycle with the given total.
func (r *Reporter) BeginCycle(total int) {
	r.mu.Lock()
	r.processed = 0
	r.total = total
	r.notifyLocked()
}

// RecordProcessed increments the processed count for the current cycle.
func (r *Reporter) RecordProcessed() {
	r.mu.Lock()
	r.processed++
	if r.processed > r.total {
		r.total = r.processed
	}
	r.notifyLocked()
}

// notifyLocked snapshots the observers and state under the lock, then
// delivers outside it so observers may call back into the reporter.
// Callers must hold r.mu; it is released on return.
func (r *Reporter) notifyLocked() {
	snap := Snapshot{Status: r.status, Progress: progressOf(r.processed, r.total)}
	observers := make([]Observer, 0, len(r.observers))
	for _, obs := range r.observers {
		observers = append(observers, obs)
	}
	r.mu.Unlock()

	for _, obs := range observers {
		obs(snap)
	}
}

// progressOf computes a progress snapshot from raw counts.
func progressOf(processed, total int) Progress {
	p := Progress{Processed: processed, Total: total}
	if total == 0 {
		p.Percentage = 100
	} else {
		p.Percentage = float64(processed) / float64(total) * 100
	}
	return p
}
