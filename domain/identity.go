package domain

import "context"

// TwoFactorMethod selects the second factor a principal verifies with.
type TwoFactorMethod string

const (
	// TwoFactorMethodToken is the default: a short-lived one-time token
	// delivered out of band.
	TwoFactorMethodToken TwoFactorMethod = "TOKEN"
	// TwoFactorMethodTOTP uses an authenticator-app time-based code.
	TwoFactorMethodTOTP TwoFactorMethod = "TOTP"
)

// Principal is the identity a session belongs to. The password digest and the
// TOTP secret are opaque to this package; hashing and verification live in
// internal/auth.
type Principal struct {
	ID           string          `bson:"_id,omitempty" json:"id"`
	Username     string          `bson:"username" json:"username"`
	DeviceID     string          `bson:"device_id" json:"device_id"`
	SecretDigest string          `bson:"secret_digest" json:"-"`
	Method       TwoFactorMethod `bson:"method" json:"method"`
	TOTPSecret   string          `bson:"totp_secret,omitempty" json:"-"`
	Disabled     bool            `bson:"disabled,omitempty" json:"disabled,omitempty"`
}

// IdentityRepository is the identity-lookup collaborator. It is consumed, not
// owned: credential provisioning is out of scope.
type IdentityRepository interface {
	FindPrincipalByUsername(ctx context.Context, username string) (*Principal, error)
	FindPrincipalByDeviceID(ctx context.Context, deviceID string) (*Principal, error)
}
