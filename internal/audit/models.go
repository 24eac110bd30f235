package audit

import "time"

// Event is an immutable, append-only audit log record of a token lifecycle
// event.
//
// Invariants:
// - Events are never updated or deleted.
// - tenant is required for tenancy isolation.
// - Audit is best-effort; do not block token flows on audit failures.
type Event struct {
	ID     string `json:"id" db:"id"`
	Tenant string `json:"tenant" db:"tenant"`

	Type EventType `json:"type" db:"type"`

	// UserID is the subject whose tokens were affected.
	UserID int64 `json:"user_id" db:"user_id"`
	// ActorUserID is the admin who triggered the event, 0 for self-service or automatic events.
	ActorUserID int64 `json:"actor_user_id,omitempty" db:"actor_user_id"`

	// Version is the token version after the event.
	Version uint32 `json:"version,omitempty" db:"version"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeTokensInvalidated EventType = "tokens_invalidated"
	EventTypeRefreshReplay     EventType = "refresh_replay"
	EventTypeUserRemoved       EventType = "user_removed"
)
