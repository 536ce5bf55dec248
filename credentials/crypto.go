// Package credentials provides the stateless cryptographic primitives used by
// the OAuth endpoints, the refresh-token rotator, and the personal access token
// authenticator: random secret generation, one-way digests for token storage,
// salted iterated hashing for client secrets, and PKCE verification.
package credentials

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

// Token prefixes let an operator classify a leaked credential offline without
// touching the store. The random suffix is always base64url without padding.
const (
	AuthCodePrefix     = "mgc_"
	RefreshTokenPrefix = "mgr_"
	PATPrefix          = "mgp_"
)

const (
	pbkdf2Iterations = 120_000
	pbkdf2KeyLength  = 32
	saltLength       = 16
)

// GenerateRandomSecret returns a cryptographically random, URL-safe string of
// byteLength random bytes, base64url-encoded without padding.
func GenerateRandomSecret(byteLength int) (string, error) {
	if byteLength <= 0 {
		return "", errors.New("[GenerateRandomSecret] byteLength must be positive")
	}
	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "[GenerateRandomSecret] rand.Read")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash returns the hex-encoded SHA-256 digest of a secret. Authorization codes,
// refresh tokens, and PATs are stored only as this digest, never as plaintext.
func Hash(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// HashWithSalt derives a salted digest of a secret using PBKDF2-SHA256 with
// 120k iterations. Used for client secrets, which unlike random tokens may be
// chosen by humans and therefore need a slow hash.
// Encoding: pbkdf2$sha256$<iterations>$<salt b64>$<key b64>.
func HashWithSalt(secret string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", errors.Wrap(err, "[HashWithSalt] rand.Read")
	}
	key := pbkdf2.Key([]byte(secret), salt, pbkdf2Iterations, pbkdf2KeyLength, sha256.New)
	return fmt.Sprintf("pbkdf2$sha256$%d$%s$%s",
		pbkdf2Iterations,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// VerifySaltedHash checks a secret against an encoded salted digest produced by
// HashWithSalt, in constant time.
func VerifySaltedHash(secret, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 5 || parts[0] != "pbkdf2" || parts[1] != "sha256" {
		return false
	}
	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations < 1 {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	key := pbkdf2.Key([]byte(secret), salt, iterations, len(expected), sha256.New)
	return subtle.ConstantTimeCompare(key, expected) == 1
}

// ConstantTimeEquals compares two strings without leaking their common-prefix
// length through timing.
func ConstantTimeEquals(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

// NewAuthCode mints a fresh authorization code with its storage digest.
func NewAuthCode(byteLength int) (code, digest string, err error) {
	return newPrefixedSecret(AuthCodePrefix, byteLength)
}

// NewRefreshToken mints a fresh refresh token with its storage digest.
func NewRefreshToken(byteLength int) (token, digest string, err error) {
	return newPrefixedSecret(RefreshTokenPrefix, byteLength)
}

// NewPAT mints a fresh personal access token with its storage digest.
func NewPAT(byteLength int) (token, digest string, err error) {
	return newPrefixedSecret(PATPrefix, byteLength)
}

func newPrefixedSecret(prefix string, byteLength int) (string, string, error) {
	suffix, err := GenerateRandomSecret(byteLength)
	if err != nil {
		return "", "", err
	}
	secret := prefix + suffix
	return secret, Hash(secret), nil
}
