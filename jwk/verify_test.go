package jwk

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/asn1"
	"math/big"
	"testing"

	jwxjwk "github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/require"
)

func TestVerify_ES256_P1363SignatureAccepted(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	privJWK, err := jwxjwk.FromRaw(priv)
	require.NoError(t, err)
	pubJWK, err := jwxjwk.PublicKeyOf(privJWK)
	require.NoError(t, err)

	key, err := fromJWX(pubJWK)
	require.NoError(t, err)

	signingInput := []byte("header.payload")
	digest := sha256.Sum256(signingInput)
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	require.NoError(t, err)

	rBytes := leftPad(r.Bytes(), 32)
	sBytes := leftPad(s.Bytes(), 32)
	p1363 := append(rBytes, sBytes...)

	err = Verify(key, "ES256", signingInput, p1363)
	require.NoError(t, err)

	// Tamper with one byte: must fail.
	tampered := append([]byte{}, p1363...)
	tampered[0] ^= 0xFF
	err = Verify(key, "ES256", signingInput, tampered)
	require.Error(t, err)
}

func TestNormalizeECDSASignature_AcceptsDERDirectly(t *testing.T) {
	r := big.NewInt(12345)
	s := big.NewInt(67890)
	der, err := asn1.Marshal(struct{ R, S *big.Int }{r, s})
	require.NoError(t, err)

	out, err := normalizeECDSASignature(der, 256)
	require.NoError(t, err)
	require.Equal(t, der, out)
}

func TestNormalizeECDSASignature_RejectsWrongLength(t *testing.T) {
	_, err := normalizeECDSASignature(make([]byte, 63), 256)
	require.Error(t, err)
}

func leftPad(b []byte, size int) []byte {
	if len(b) >= size {
		return b
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}
