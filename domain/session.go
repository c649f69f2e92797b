package domain

import "time"

// SessionStatus is the lifecycle state of a login session.
type SessionStatus string

const (
	SessionStatusActive       SessionStatus = "ACTIVE"
	SessionStatusForcedLogout SessionStatus = "FORCED_LOGOUT"
	SessionStatusExpired      SessionStatus = "EXPIRED"
)

// Session represents a time-bounded login session created after a successful
// token verification. At most one session per principal is ACTIVE at any
// instant; opening a new one demotes the rest to EXPIRED first. ACTIVE is the
// only non-terminal state.
//
// OriginIP is stored encrypted at rest; repositories persist the value as
// given and the service layer owns the encryption boundary.
type Session struct {
	ID        string        `bson:"_id,omitempty" json:"id"`
	Principal string        `bson:"principal" json:"principal"`
	DeviceID  string        `bson:"device_id" json:"device_id"`
	OriginIP  string        `bson:"origin_ip,omitempty" json:"origin_ip,omitempty"`
	StartedAt time.Time     `bson:"started_at" json:"started_at"`
	ExpiresAt time.Time     `bson:"expires_at" json:"expires_at"`
	Status    SessionStatus `bson:"status" json:"status"`
}

// TimeRemaining returns the whole seconds until expiry, or 0 when the session
// is not ACTIVE or already past its deadline.
func (s *Session) TimeRemaining(now time.Time) int64 {
	if s.Status != SessionStatusActive {
		return 0
	}
	rem := s.ExpiresAt.Sub(now)
	if rem <= 0 {
		return 0
	}
	return int64(rem.Seconds())
}

// Duration returns the elapsed seconds since the session started.
func (s *Session) Duration(now time.Time) int64 {
	d := now.Sub(s.StartedAt)
	if d < 0 {
		return 0
	}
	return int64(d.Seconds())
}
