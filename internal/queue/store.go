package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/checklisthq/syncd/internal/record"
)

var (
	// ErrNotFound is returned when the referenced record does not exist.
	ErrNotFound = errors.New("mutation not found")

	// ErrStorageExhausted is returned when the queue database cannot
	// durably record a new mutation. This is fatal from the caller's
	// perspective: the mutation has NOT been recorded.
	ErrStorageExhausted = errors.New("queue storage exhausted")

	// ErrNotAbandoned is returned when a manual-resolution operation
	// (requeue, discard) targets a record that is not abandoned.
	ErrNotAbandoned = errors.New("mutation is not abandoned")
)

// timeFormat is the timestamp encoding used in the database.
const timeFormat = time.RFC3339Nano

// Enqueue appends a new pending mutation and returns its id.
//
// The record is durably persisted before Enqueue returns. The assigned id
// is greater than every previously assigned id. The only failure mode is
// storage exhaustion, reported as ErrStorageExhausted; in that case the
// mutation has not been recorded and the caller must surface the error.
func (s *Store) Enqueue(ctx context.Context, kind record.Kind, entityType record.EntityType, entityID string, payload json.RawMessage) (int64, error) {
	if err := record.Validate(kind, entityID, payload); err != nil {
		return 0, fmt.Errorf("invalid mutation: %w", err)
	}

	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO mutations (kind, entity_type, entity_id, payload, enqueued_at, state)
		VALUES (?, ?, ?, ?, ?, ?)`,
		kind.String(), entityType.String(), entityID, []byte(payload),
		time.Now().UTC().Format(timeFormat), record.StatePending.String())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageExhausted, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageExhausted, err)
	}

	return id, nil
}

// NextBatch returns up to maxCount dispatch-eligible records in ascending
// id order.
//
// A record is eligible when it is pending, its retry delay has elapsed,
// and no earlier unresolved record exists for the same entity. The
// same-entity holdback is what guarantees mutations reach the server in
// enqueue order: a delete queued after a create is never dispatched until
// the create has either synced (and left the store) or been permanently
// abandoned.
func (s *Store) NextBatch(ctx context.Context, maxCount int, now time.Time) ([]*record.Mutation, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, kind, entity_type, entity_id, payload, enqueued_at,
		       state, attempt_count, next_eligible_at, last_error
		FROM mutations m
		WHERE m.state = 'pending'
		  AND (m.next_eligible_at IS NULL OR m.next_eligible_at <= ?)
		  AND NOT EXISTS (
		      SELECT 1 FROM mutations e
		      WHERE e.entity_id = m.entity_id
		        AND e.id < m.id
		        AND e.state != 'abandoned'
		  )
		ORDER BY m.id ASC
		LIMIT ?`,
		now.UTC().Format(timeFormat), maxCount)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch: %w", err)
	}
	defer rows.Close()

	return scanMutations(rows)
}

// MarkInFlight transitions a record to in-flight before dispatch.
// No-op if the record no longer exists.
func (s *Store) MarkInFlight(ctx context.Context, id int64) error {
	return s.setState(ctx, id, record.StateInFlight)
}

// MarkSynced removes a record that the remote authority accepted.
// Synced is terminal, so acceptance and removal are a single step.
// No-op if the record no longer exists (idempotent under replay).
func (s *Store) MarkSynced(ctx context.Context, id int64) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM mutations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to mark mutation %d synced: %w", id, err)
	}
	return nil
}

// MarkFailed records a transient delivery failure: the record returns to
// pending, its attempt count is incremented, and it becomes eligible
// again at nextEligibleAt. No-op if the record no longer exists.
func (s *Store) MarkFailed(ctx context.Context, id int64, cause string, nextEligibleAt time.Time) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE mutations
		SET state = 'pending',
		    attempt_count = attempt_count + 1,
		    next_eligible_at = ?,
		    last_error = ?
		WHERE id = ?`,
		nextEligibleAt.UTC().Format(timeFormat), cause, id)
	if err != nil {
		return fmt.Errorf("failed to mark mutation %d failed: %w", id, err)
	}
	return nil
}

// MarkConflict records that the server rejected the record as stale and a
// resolution is underway. No-op if the record no longer exists.
func (s *Store) MarkConflict(ctx context.Context, id int64, cause string) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE mutations SET state = 'conflict', last_error = ? WHERE id = ?`,
		cause, id)
	if err != nil {
		return fmt.Errorf("failed to mark mutation %d conflicted: %w", id, err)
	}
	return nil
}

// MarkAbandoned transitions a record to the terminal abandoned state.
// The record stays in the store, visible to ListAbandoned, until a human
// requeues or discards it. No-op if the record no longer exists.
func (s *Store) MarkAbandoned(ctx context.Context, id int64, reason string) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE mutations
		SET state = 'abandoned', next_eligible_at = NULL, last_error = ?
		WHERE id = ?`,
		reason, id)
	if err != nil {
		return fmt.Errorf("failed to mark mutation %d abandoned: %w", id, err)
	}
	return nil
}

// Release reverts a single dispatched record (in-flight, or conflicted
// mid-resolution) to pending without touching its attempt count. Used
// when connectivity is lost mid-dispatch: the eventual response is
// ignored and the next cycle retries the record.
func (s *Store) Release(ctx context.Context, id int64) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE mutations SET state = 'pending'
		WHERE id = ? AND state IN ('in-flight', 'conflict')`, id)
	if err != nil {
		return fmt.Errorf("failed to release mutation %d: %w", id, err)
	}
	return nil
}

// ReleaseInFlight reverts every dispatched record to pending, leaving
// attempt counts unchanged. Called on engine start so records orphaned by
// a crash mid-dispatch are retried rather than stuck.
func (s *Store) ReleaseInFlight(ctx context.Context) (int, error) {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE mutations SET state = 'pending'
		WHERE state IN ('in-flight', 'conflict')`)
	if err != nil {
		return 0, fmt.Errorf("failed to release in-flight mutations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count released mutations: %w", err)
	}
	return int(n), nil
}

// Requeue returns an abandoned record to pending with a fresh attempt
// budget. notBefore delays its next dispatch; pass the zero time for
// immediate eligibility. Returns ErrNotAbandoned if the record exists but
// is not abandoned, ErrNotFound if it does not exist.
func (s *Store) Requeue(ctx context.Context, id int64, notBefore time.Time) error {
	var eligible interface{}
	if !notBefore.IsZero() {
		eligible = notBefore.UTC().Format(timeFormat)
	}

	res, err := s.conn.ExecContext(ctx, `
		UPDATE mutations
		SET state = 'pending', attempt_count = 0, next_eligible_at = ?, last_error = ''
		WHERE id = ? AND state = 'abandoned'`,
		eligible, id)
	if err != nil {
		return fmt.Errorf("failed to requeue mutation %d: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to requeue mutation %d: %w", id, err)
	}
	if n == 0 {
		return s.classifyMiss(ctx, id)
	}
	return nil
}

// Discard permanently removes an abandoned record. Returns
// ErrNotAbandoned if the record exists but is not abandoned, ErrNotFound
// if it does not exist.
func (s *Store) Discard(ctx context.Context, id int64) error {
	res, err := s.conn.ExecContext(ctx, `
		DELETE FROM mutations WHERE id = ? AND state = 'abandoned'`, id)
	if err != nil {
		return fmt.Errorf("failed to discard mutation %d: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to discard mutation %d: %w", id, err)
	}
	if n == 0 {
		return s.classifyMiss(ctx, id)
	}
	return nil
}

// classifyMiss distinguishes "record gone" from "record in wrong state"
// for the manual-resolution operations.
func (s *Store) classifyMiss(ctx context.Context, id int64) error {
	var state string
	err := s.conn.QueryRowContext(ctx, `SELECT state FROM mutations WHERE id = ?`, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("mutation %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to look up mutation %d: %w", id, err)
	}
	return fmt.Errorf("mutation %d is %s: %w", id, state, ErrNotAbandoned)
}

// Get returns a single record by id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (*record.Mutation, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, kind, entity_type, entity_id, payload, enqueued_at,
		       state, attempt_count, next_eligible_at, last_error
		FROM mutations WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get mutation %d: %w", id, err)
	}
	defer rows.Close()

	muts, err := scanMutations(rows)
	if err != nil {
		return nil, err
	}
	if len(muts) == 0 {
		return nil, fmt.Errorf("mutation %d: %w", id, ErrNotFound)
	}
	return muts[0], nil
}

// Count returns the number of unresolved records (everything except
// abandoned). This is the "total" the progress reporter works from.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM mutations WHERE state != 'abandoned'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count mutations: %w", err)
	}
	return n, nil
}

// NextEligibleTime returns the earliest next_eligible_at among pending
// records, so the engine can wake exactly when a backed-off record
// becomes dispatchable. ok is false when no pending record is waiting on
// a retry delay.
func (s *Store) NextEligibleTime(ctx context.Context) (t time.Time, ok bool, err error) {
	var raw sql.NullString
	err = s.conn.QueryRowContext(ctx, `
		SELECT MIN(next_eligible_at) FROM mutations
		WHERE state = 'pending' AND next_eligible_at IS NOT NULL`).Scan(&raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query next eligible time: %w", err)
	}
	if !raw.Valid {
		return time.Time{}, false, nil
	}

	t, err = time.Parse(timeFormat, raw.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt next_eligible_at: %w", err)
	}
	return t, true, nil
}

// IsEmpty reports whether no unresolved records remain.
func (s *Store) IsEmpty(ctx context.Context) (bool, error) {
	n, err := s.Count(ctx)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// List returns every record in the store in id order, abandoned included.
// Used by the CLI queue inspection commands.
func (s *Store) List(ctx context.Context) ([]*record.Mutation, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, kind, entity_type, entity_id, payload, enqueued_at,
		       state, attempt_count, next_eligible_at, last_error
		FROM mutations ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list mutations: %w", err)
	}
	defer rows.Close()

	return scanMutations(rows)
}

// ListAbandoned returns the records requiring human attention, in id
// order. The engine never discards a mutation without leaving it here.
func (s *Store) ListAbandoned(ctx context.Context) ([]*record.Mutation, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, kind, entity_type, entity_id, payload, enqueued_at,
		       state, attempt_count, next_eligible_at, last_error
		FROM mutations WHERE state = 'abandoned' ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list abandoned mutations: %w", err)
	}
	defer rows.Close()

	return scanMutations(rows)
}

// setState applies an unconditional state transition. No-op if the record
// no longer exists.
func (s *Store) setState(ctx context.Context, id int64, state record.State) error {
	_, err := s.conn.ExecContext(ctx, `UPDATE mutations SET state = ? WHERE id = ?`,
		state.String(), id)
	if err != nil {
		return fmt.Errorf("failed to set mutation %d state: %w", id, err)
	}
	return nil
}

// scanMutations converts query rows to mutation records.
func scanMutations(rows *sql.Rows) ([]*record.Mutation, error) {
	var muts []*record.Mutation

	for rows.Next() {
		var (
			m            record.Mutation
			kind         string
			entityType   string
			payload      []byte
			enqueuedAt   string
			state        string
			nextEligible sql.NullString
		)

		if err := rows.Scan(&m.ID, &kind, &entityType, &m.EntityID, &payload,
			&enqueuedAt, &state, &m.AttemptCount, &nextEligible, &m.LastError); err != nil {
			return nil, fmt.Errorf("failed to scan mutation: %w", err)
		}

		k, err := record.ParseKind(kind)
		if err != nil {
			return nil, fmt.Errorf("corrupt mutation %d: %w", m.ID, err)
		}
		m.Kind = k

		et, err := record.ParseEntityType(entityType)
		if err != nil {
			return nil, fmt.Errorf("corrupt mutation %d: %w", m.ID, err)
		}
		m.EntityType = et

		m.State, err = parseState(state)
		if err != nil {
			return nil, fmt.Errorf("corrupt mutation %d: %w", m.ID, err)
		}

		m.EnqueuedAt, err = time.Parse(timeFormat, enqueuedAt)
		if err != nil {
			return nil, fmt.Errorf("corrupt mutation %d enqueued_at: %w", m.ID, err)
		}

		if nextEligible.Valid {
			m.NextEligibleAt, err = time.Parse(timeFormat, nextEligible.String)
			if err != nil {
				return nil, fmt.Errorf("corrupt mutation %d next_eligible_at: %w", m.ID, err)
			}
		}

		if len(payload) > 0 {
			m.Payload = json.RawMessage(payload)
		}

		muts = append(muts, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mutations: %w", err)
	}

	return muts, nil
}

// parseState converts a stored state string back to a State.
func parseState(s string) (record.State, error) {
	switch s {
	case "pending":
		return record.StatePending, nil
	case "in-flight":
		return record.StateInFlight, nil
	case "conflict":
		return record.StateConflict, nil
	case "synced":
		return record.StateSynced, nil
	case "abandoned":
		return record.StateAbandoned, nil
	default:
		return 0, fmt.Errorf("unknown state: %q", s)
	}
}
