package domain

import "time"

// TokenStatus is the lifecycle state of a one-time token.
type TokenStatus string

const (
	TokenStatusActive  TokenStatus = "ACTIVE"
	TokenStatusUsed    TokenStatus = "USED"
	TokenStatusExpired TokenStatus = "EXPIRED"
)

// OneTimeToken is a short-lived second-factor token. The plaintext secret is
// never persisted; only the digest of (deviceID, secret) is stored. ACTIVE is
// the only non-terminal state: a token moves to USED or EXPIRED exactly once
// and never reverts.
type OneTimeToken struct {
	ID        string      `bson:"_id,omitempty" json:"id"`
	DeviceID  string      `bson:"device_id" json:"device_id"`
	Digest    string      `bson:"digest" json:"-"` // unique across all tokens
	Status    TokenStatus `bson:"status" json:"status"`
	CreatedAt time.Time   `bson:"created_at" json:"created_at"`
	ExpiresAt time.Time   `bson:"expires_at" json:"expires_at"`
	UsedAt    *time.Time  `bson:"used_at,omitempty" json:"used_at,omitempty"`
}

// TimeRemaining returns the whole seconds until expiry, or 0 when the token
// is not ACTIVE or the deadline has already passed.
func (t *OneTimeToken) TimeRemaining(now time.Time) int64 {
	if t.Status != TokenStatusActive {
		return 0
	}
	rem := t.ExpiresAt.Sub(now)
	if rem <= 0 {
		return 0
	}
	return int64(rem.Seconds())
}
