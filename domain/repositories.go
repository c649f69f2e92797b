package domain

import (
	"context"
	"time"
)

// TokenRepository persists one-time tokens. All state transitions are single
// conditional updates keyed on the current status, so that concurrent
// consume/expire attempts against the same token resolve to exactly one
// winner (at-most-once consumption).
type TokenRepository interface {
	// Insert stores a freshly issued token. Returns ErrAlreadyTerminal
	// wrapped duplicate information when the digest already exists.
	Insert(ctx context.Context, token *OneTimeToken) error

	// ConsumeActive atomically flips an ACTIVE, unexpired token matching
	// (digest, deviceID) to USED, stamping UsedAt, and returns the updated
	// token. ErrNotFound when no such token matches the filter.
	ConsumeActive(ctx context.Context, digest, deviceID string, now time.Time) (*OneTimeToken, error)

	// ExpireActive atomically flips an ACTIVE token matching (digest,
	// deviceID) to EXPIRED (lazy expiry on read). ErrNotFound when nothing
	// is ACTIVE under that digest any more.
	ExpireActive(ctx context.Context, digest, deviceID string) (*OneTimeToken, error)

	// FindByDigest fetches a token by digest regardless of status or device.
	// Used only for internal denial-reason classification.
	FindByDigest(ctx context.Context, digest string) (*OneTimeToken, error)

	// SweepExpired bulk-transitions ACTIVE tokens past their deadline to
	// EXPIRED and returns the number affected.
	SweepExpired(ctx context.Context, now time.Time) (int64, error)

	// PurgeExpired permanently deletes EXPIRED tokens and returns the count.
	PurgeExpired(ctx context.Context) (int64, error)

	// DeleteByID removes a token regardless of status; false when absent.
	DeleteByID(ctx context.Context, id string) (bool, error)

	// List returns tokens, optionally filtered by status, newest first.
	List(ctx context.Context, status *TokenStatus) ([]*OneTimeToken, error)
}

// SessionRepository persists login sessions.
type SessionRepository interface {
	// OpenExclusive demotes every ACTIVE session of session.Principal to
	// EXPIRED and inserts the new ACTIVE session, atomically with respect to
	// concurrent OpenExclusive calls for the same principal. Returns the
	// number of sessions demoted.
	OpenExclusive(ctx context.Context, session *Session) (int64, error)

	// FindByID fetches a session by its identifier.
	FindByID(ctx context.Context, id string) (*Session, error)

	// TransitionActive atomically moves an ACTIVE session to the given
	// terminal status. Returns false when the session is missing or no
	// longer ACTIVE (idempotent no-op on terminal sessions).
	TransitionActive(ctx context.Context, id string, to SessionStatus) (bool, error)

	// SweepExpired bulk-transitions ACTIVE sessions past their deadline to
	// EXPIRED and returns the number affected.
	SweepExpired(ctx context.Context, now time.Time) (int64, error)

	// ListActive returns ACTIVE sessions ordered by StartedAt descending.
	ListActive(ctx context.Context) ([]*Session, error)
}
