// Package remote defines the engine's boundary with the authoritative
// server and provides the HTTP implementation of it.
//
// The engine treats the server as an opaque authority exposing a
// get/put/delete surface per entity. A submission produces exactly one of
// three definitive outcomes (accepted, conflict, rejected); transport
// errors and timeouts are returned as Go errors and treated as transient
// by the engine. The authority is assumed to apply writes idempotently
// per (entity id, request id), where the request id is derived from the
// mutation's queue id — duplicate deliveries after a lost response must
// not produce duplicate effects.
package remote

import (
	"context"
	"encoding/json"
	"time"

	"github.com/checklisthq/syncd/internal/record"
)

// Status classifies a definitive submission outcome.
type Status int

const (
	// StatusAccepted means the server applied the mutation.
	StatusAccepted Status = iota
	// StatusConflict means the server's version of the entity changed
	// since the client last observed it; the submission was not applied.
	StatusConflict
	// StatusRejected means the server refused the mutation permanently
	// (validation failure). Retrying cannot help.
	StatusRejected
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusConflict:
		return "conflict"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Outcome is the server's definitive answer to a submission.
type Outcome struct {
	Status Status

	// NewVersion is the entity's version tag after an accepted write.
	NewVersion string

	// ServerVersion, ServerPayload and ServerModifiedAt describe the
	// server's current state of the entity when Status is StatusConflict.
	ServerVersion    string
	ServerPayload    json.RawMessage
	ServerModifiedAt time.Time

	// Reason explains a rejection.
	Reason string
}

// Client submits queued mutations to the remote authority.
//
// baseVersion carries the version tag a resubmission is conditioned on
// after conflict resolution; it is empty on first submission. A non-nil
// error means the attempt failed transiently (network error, timeout,
// server 5xx) and should be retried with backoff; definitive answers
// always arrive as an Outcome with a nil error.
type Client interface {
	Submit(ctx context.Context, m *record.Mutation, baseVersion string) (Outcome, error)
}
