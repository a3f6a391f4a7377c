package jwk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rfc7638ExampleJWK is the exact RSA example key from RFC 7638 §3.1, whose
// thumbprint is defined by the RFC to be NzbLsXh8uDCcd-6MNwXF4W_7noWXFZAfHkxZsRGC9Xs.
const rfc7638ExampleJWK = `{
	"kty": "RSA",
	"n": "0vx7agoebGcQSuuPiLJXZptN9nndrQmbXEps2aiAFbWhM78LhWx4cbbfAAtVT86zwu1RK7aPFFxuhDR1L6tSoc_BJECPebWKRXjBZCiFV4n3oknjhMstn64tZ_2W-5JsGY4Hc5n9yBXArwl93lqt7_RN5w6Cf0h4QyQ5v-65YGjQR0_FDW2QvzqY368QQMicAtaSqzs8KJZgnYb9c7d0zgdAZHzu6qMQvRL5hajrn1n91CbOpbISD08qNLyrdkt-bFTWhAI4vMQFh6WeZu0fM4lFd2NcRwr3XPksINHaQ-G_xBniIqbw0Ls1jF44-csFCur-kEgU8awapJzKnqDKgw",
	"e": "AQAB"
}`

func TestThumbprint_RFC7638ExampleRSAKey(t *testing.T) {
	k, err := ParseFromJSON([]byte(rfc7638ExampleJWK))
	require.NoError(t, err)

	tp, err := Thumbprint(k)
	require.NoError(t, err)

	assert.Equal(t, "NzbLsXh8uDCcd-6MNwXF4W_7noWXFZAfHkxZsRGC9Xs", tp)
}

func TestThumbprint_ECKey(t *testing.T) {
	ecJWK := `{
		"kty":"EC",
		"crv":"P-256",
		"x":"f83OJ3D2xF1Bg8vub9tLe1gHMzV76e8Tus9uPHvRVEU",
		"y":"x_FEzRu9m36HLN_tue659LNpXW6pCyStikYjKIWI5a0"
	}`
	k, err := ParseFromJSON([]byte(ecJWK))
	require.NoError(t, err)

	tp, err := Thumbprint(k)
	require.NoError(t, err)
	assert.NotEmpty(t, tp)

	// Recomputing must be deterministic.
	tp2, err := Thumbprint(k)
	require.NoError(t, err)
	assert.Equal(t, tp, tp2)
}
