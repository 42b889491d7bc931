// Package resolve decides what happens when the server rejects a queued
// mutation as stale.
//
// A Resolver is a pure function over a conflict case: given the local
// mutation and the server's current version of the same entity, it either
// produces a resolved payload to resubmit or declares the conflict
// unresolved. Resolvers must be deterministic for identical inputs and
// must not perform I/O; the engine owns all side effects.
package resolve

import (
	"encoding/json"
	"time"

	"github.com/checklisthq/syncd/internal/record"
)

// Conflict pairs the local and server versions of an entity at the moment
// a delivery attempt was rejected as stale.
type Conflict struct {
	// Local is the queued mutation the server rejected.
	Local *record.Mutation

	// ServerVersion is the version tag the server currently holds for
	// the entity. Resubmissions must carry it to pass the server's
	// optimistic-concurrency check.
	ServerVersion string

	// ServerPayload is the server's current entity snapshot.
	ServerPayload json.RawMessage

	// ServerModifiedAt is when the server's version was written.
	ServerModifiedAt time.Time
}

// Decision is the closed set of resolution outcomes.
type Decision int

const (
	// DecisionResolved means the resolver produced a payload to resubmit
	// against the server's current version.
	DecisionResolved Decision = iota
	// DecisionServerWins means the local mutation should be dropped and
	// the server's value kept.
	DecisionServerWins
	// DecisionUnresolved means the resolver cannot decide; the record is
	// abandoned and surfaced for manual resolution.
	DecisionUnresolved
)

// String returns a human-readable representation of the decision.
func (d Decision) String() string {
	switch d {
	case DecisionResolved:
		return "resolved"
	case DecisionServerWins:
		return "server-wins"
	case DecisionUnresolved:
		return "unresolved"
	default:
		return "unknown"
	}
}

// Resolution is a resolver's verdict. Payload is meaningful only when
// Decision is DecisionResolved.
type Resolution struct {
	Decision Decision
	Payload  json.RawMessage
}

// Resolved builds a resolution carrying the payload to resubmit.
func Resolved(payload json.RawMessage) Resolution {
	return Resolution{Decision: DecisionResolved, Payload: payload}
}

// ServerWins builds a resolution dropping the local mutation.
func ServerWins() Resolution {
	return Resolution{Decision: DecisionServerWins}
}

// Unresolved builds a resolution deferring to manual handling.
func Unresolved() Resolution {
	return Resolution{Decision: DecisionUnresolved}
}

// Resolver decides the outcome of a conflict.
//
// Implementations must be deterministic for identical inputs and free of
// side effects. The engine never applies a resolution the resolver did
// not explicitly return.
type Resolver interface {
	Resolve(c Conflict) Resolution
}

// ResolverFunc adapts a plain function to the Resolver interface.
type ResolverFunc func(c Conflict) Resolution

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(c Conflict) Resolution {
	return f(c)
}

// LastWriterWins is the default resolution policy: the newer write wins,
// comparing the local mutation's enqueue time against the server
// version's modification time.
//
// The policy is total; it never returns Unresolved. Ties go to the
// server, which keeps the comparison deterministic and avoids resubmit
// loops between clients with identical clocks. A conflicting delete has
// no payload to resubmit, so the server's value is kept regardless of
// which side is newer.
func LastWriterWins() Resolver {
	return ResolverFunc(func(c Conflict) Resolution {
		if c.Local.Kind == record.KindDelete || len(c.Local.Payload) == 0 {
			return ServerWins()
		}
		if c.Local.EnqueuedAt.After(c.ServerModifiedAt) {
			return Resolved(c.Local.Payload)
		}
		return ServerWins()
	})
}
