package credentials

import (
	"crypto/sha256"
	"encoding/base64"

	"github.com/pkg/errors"
)

// PKCE code challenge methods per RFC 7636.
const (
	PKCEMethodPlain = "plain"
	PKCEMethodS256  = "S256"
)

// S256Challenge computes the S256 code challenge for a verifier:
// base64url(sha256(verifier)) without padding.
func S256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyPKCE checks a code_verifier against a stored challenge. The method
// "plain" requires exact equality; "S256" requires the challenge to equal
// S256Challenge(verifier). Any other method, or an empty verifier or
// challenge, fails unconditionally.
func VerifyPKCE(verifier, challenge, method string) error {
	if verifier == "" || challenge == "" {
		return errors.New("[VerifyPKCE] verifier and challenge are required")
	}
	switch method {
	case PKCEMethodPlain:
		if !ConstantTimeEquals(verifier, challenge) {
			return errors.New("[VerifyPKCE] verifier does not match challenge")
		}
	case PKCEMethodS256:
		if !ConstantTimeEquals(S256Challenge(verifier), challenge) {
			return errors.New("[VerifyPKCE] verifier does not match S256 challenge")
		}
	default:
		return errors.Errorf("[VerifyPKCE] unsupported code_challenge_method %q", method)
	}
	return nil
}
