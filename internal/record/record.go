// Package record defines the mutation record model shared by the queue
// store and the sync engine.
//
// A mutation record captures one local change (create, update, delete) to
// a checklist entity, made while the client may be offline, together with
// the bookkeeping the engine needs to deliver it to the server later:
// lifecycle state, attempt count, retry eligibility, and the last error.
package record

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies the type of mutation.
type Kind int

const (
	// KindCreate records the creation of a new entity.
	KindCreate Kind = iota
	// KindUpdate records a full-snapshot update of an existing entity.
	KindUpdate
	// KindDelete records the deletion of an entity.
	KindDelete
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ParseKind converts a string (as stored or typed on the CLI) to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "create":
		return KindCreate, nil
	case "update":
		return KindUpdate, nil
	case "delete":
		return KindDelete, nil
	default:
		return 0, fmt.Errorf("unknown mutation kind: %q", s)
	}
}

// EntityType identifies which kind of entity a mutation affects.
type EntityType int

const (
	// EntityChecklist is a filled-in checklist instance.
	EntityChecklist EntityType = iota
	// EntityTemplate is a reusable checklist template.
	EntityTemplate
	// EntitySession is a user working session.
	EntitySession
)

// String returns a human-readable representation of the entity type.
func (e EntityType) String() string {
	switch e {
	case EntityChecklist:
		return "checklist"
	case EntityTemplate:
		return "template"
	case EntitySession:
		return "session"
	default:
		return "unknown"
	}
}

// ParseEntityType converts a string to an EntityType.
func ParseEntityType(s string) (EntityType, error) {
	switch s {
	case "checklist":
		return EntityChecklist, nil
	case "template":
		return EntityTemplate, nil
	case "session":
		return EntitySession, nil
	default:
		return 0, fmt.Errorf("unknown entity type: %q", s)
	}
}

// State is the lifecycle state of a queued mutation.
//
// Transitions: Pending → InFlight → {Synced | Pending | Conflict},
// Conflict → {Pending | Abandoned}, Pending → Abandoned (retry ceiling).
// Synced and Abandoned are terminal; records leave the store only from
// a terminal state.
type State int

const (
	// StatePending means the record is waiting to be dispatched.
	StatePending State = iota
	// StateInFlight means a dispatch to the remote authority is underway.
	StateInFlight
	// StateConflict means the server rejected the record as stale and a
	// resolution decision is pending.
	StateConflict
	// StateSynced means the server accepted the record (terminal).
	StateSynced
	// StateAbandoned means the engine will not retry the record
	// automatically; a human decision is required (terminal).
	StateAbandoned
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInFlight:
		return "in-flight"
	case StateConflict:
		return "conflict"
	case StateSynced:
		return "synced"
	case StateAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is terminal.
func (s State) Terminal() bool {
	return s == StateSynced || s == StateAbandoned
}

// Mutation is one queued local change awaiting delivery to the server.
//
// ID, Kind, EntityType, EntityID, Payload and EnqueuedAt are immutable once
// enqueued. Only State, AttemptCount, NextEligibleAt and LastError change
// over the record's lifetime.
type Mutation struct {
	// ID is assigned by the queue store at enqueue time. It increases
	// monotonically and is the canonical happens-before order for records
	// touching the same entity.
	ID int64

	// Kind is the mutation type (create, update, delete).
	Kind Kind

	// EntityType identifies the affected entity's type.
	EntityType EntityType

	// EntityID identifies the affected entity. Stable across retries.
	EntityID string

	// Payload is the full entity snapshot for create/update. Empty for
	// delete, where EntityID alone identifies the target.
	Payload json.RawMessage

	// EnqueuedAt is when the mutation was recorded locally.
	EnqueuedAt time.Time

	// State is the current lifecycle state.
	State State

	// AttemptCount is the number of delivery attempts made so far.
	AttemptCount int

	// NextEligibleAt is the earliest time the record may be dispatched
	// again. Zero means immediately eligible.
	NextEligibleAt time.Time

	// LastError describes the most recent delivery failure. Cleared on
	// success.
	LastError string
}

// RequestID derives the idempotency key the remote authority uses to
// de-duplicate repeated deliveries of the same record.
func (m *Mutation) RequestID() string {
	return fmt.Sprintf("%s-%d", m.EntityID, m.ID)
}

// Eligible reports whether the record may be dispatched at the given time.
func (m *Mutation) Eligible(now time.Time) bool {
	return m.State == StatePending && !m.NextEligibleAt.After(now)
}

// Validate checks that the kind/payload combination is representable.
//
// Create and update mutations carry a full entity snapshot; delete
// mutations carry no payload. EntityID is always required.
func Validate(kind Kind, entityID string, payload json.RawMessage) error {
	if entityID == "" {
		return fmt.Errorf("entity id cannot be empty")
	}

	switch kind {
	case KindCreate, KindUpdate:
		if len(payload) == 0 {
			return fmt.Errorf("%s mutation requires a payload", kind)
		}
		if !json.Valid(payload) {
			return fmt.Errorf("%s payload is not valid JSON", kind)
		}
	case KindDelete:
		if len(payload) != 0 {
			return fmt.Errorf("delete mutation must not carry a payload")
		}
	default:
		return fmt.Errorf("unknown mutation kind: %d", kind)
	}

	return nil
}
