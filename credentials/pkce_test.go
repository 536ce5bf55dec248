package credentials_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelgrid/modelgrid-server/credentials"
)

const (
	testVerifier  = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	testChallenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
)

func TestS256Challenge(t *testing.T) {
	// Known vector from RFC 7636 appendix B.
	require.Equal(t, testChallenge, credentials.S256Challenge(testVerifier))
}

func TestVerifyPKCE(t *testing.T) {
	t.Run("S256 accepts matching verifier", func(t *testing.T) {
		require.NoError(t, credentials.VerifyPKCE(testVerifier, testChallenge, credentials.PKCEMethodS256))
	})

	t.Run("S256 rejects any single character change", func(t *testing.T) {
		for i := 0; i < len(testVerifier); i++ {
			mutated := []byte(testVerifier)
			if mutated[i] == 'x' {
				mutated[i] = 'y'
			} else {
				mutated[i] = 'x'
			}
			require.Error(t, credentials.VerifyPKCE(string(mutated), testChallenge, credentials.PKCEMethodS256),
				"mutation at index %d should fail", i)
		}
	})

	t.Run("plain compares verifier directly", func(t *testing.T) {
		require.NoError(t, credentials.VerifyPKCE("some-verifier", "some-verifier", credentials.PKCEMethodPlain))
		require.Error(t, credentials.VerifyPKCE("some-verifier", "other-value", credentials.PKCEMethodPlain))
	})

	t.Run("rejects empty inputs", func(t *testing.T) {
		require.Error(t, credentials.VerifyPKCE("", testChallenge, credentials.PKCEMethodS256))
		require.Error(t, credentials.VerifyPKCE(testVerifier, "", credentials.PKCEMethodS256))
	})

	t.Run("rejects unknown methods", func(t *testing.T) {
		require.Error(t, credentials.VerifyPKCE(testVerifier, testChallenge, "S512"))
		require.Error(t, credentials.VerifyPKCE(testVerifier, testChallenge, ""))
	})
}
