// Package digest derives the one-way fingerprints under which one-time
// tokens are stored and looked up, and generates the plaintext secrets
// themselves. The plaintext never reaches a repository; only fingerprints do.
package digest

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

// DefaultSecretLength is the length of generated one-time secrets.
const DefaultSecretLength = 6

// secretAlphabet is the fixed alphanumeric alphabet one-time secrets are
// drawn from. Ambiguous glyphs (0/O, 1/I/L) are excluded so the secret is
// unambiguous when read aloud or typed from a small screen.
const secretAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// Fingerprint returns the hex-encoded SHA-256 digest of deviceID
// concatenated with the plaintext secret. Deterministic and collision
// resistant; the same pair always hashes to the same digest.
func Fingerprint(deviceID, plainSecret string) string {
	hasher := sha256.New()
	hasher.Write([]byte(deviceID))
	hasher.Write([]byte(plainSecret))
	return hex.EncodeToString(hasher.Sum(nil))
}

// RandomSecret draws length characters uniformly from the secret alphabet
// using the cryptographically secure random source. A predictable generator
// here would make tokens guessable, so this is a correctness requirement,
// not a preference.
func RandomSecret(length int) (string, error) {
	if length <= 0 {
		length = DefaultSecretLength
	}
	max := big.NewInt(int64(len(secretAlphabet)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random source: %w", err)
		}
		buf[i] = secretAlphabet[n.Int64()]
	}
	return string(buf), nil
}
