// Package totp wraps the time-based one-time password primitives used when a
// principal's second factor is an authenticator app instead of a delivered
// one-time token.
package totp

import (
	"fmt"
	"strings"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// GenerateSecret generates a new TOTP key for enrollment. It returns the key
// and the otpauth:// URI for QR code generation.
func GenerateSecret(issuer, accountName string) (*otp.Key, string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
		Period:      30,
		SecretSize:  20,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate TOTP key: %w", err)
	}
	return key, key.URL(), nil
}

// ValidateCode validates a TOTP code against the stored base32 secret.
// Invalid codes return false without an error; only malformed secrets fail.
func ValidateCode(secret, passcode string) bool {
	return totp.Validate(passcode, strings.TrimSpace(secret))
}
