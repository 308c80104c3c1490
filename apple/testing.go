package apple

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
)

// TestGenerateKeys will generate a test ECDSA P-256 key pair, returning
// the private key both PEM-encoded in the PKCS#8 form of Apple's .p8
// downloads and parsed.
func TestGenerateKeys(t *testing.T) (string, *ecdsa.PrivateKey) {
	t.Helper()
	require := require.New(t)
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(err)

	derBytes, err := x509.MarshalPKCS8PrivateKey(privateKey)
	require.NoError(err)
	pemBlock := &pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: derBytes,
	}
	return string(pem.EncodeToMemory(pemBlock)), privateKey
}

// TestSignIdentityToken will bundle the provided claims into a test
// identity token signed ES256 with the given key, carrying the given
// kid header.
func TestSignIdentityToken(t *testing.T, key *ecdsa.PrivateKey, kid string, claims interface{}, privateClaims interface{}) IdToken {
	t.Helper()
	require := require.New(t)
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.ES256, Key: key},
		(&jose.SignerOptions{
			ExtraHeaders: map[jose.HeaderKey]interface{}{
				"kid": kid,
			},
		}).WithType("JWT"),
	)
	require.NoError(err)

	builder := jwt.Signed(signer).Claims(claims)
	if privateClaims != nil {
		builder = builder.Claims(privateClaims)
	}
	raw, err := builder.Serialize()
	require.NoError(err)
	return IdToken(raw)
}
