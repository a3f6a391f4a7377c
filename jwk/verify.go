package jwk

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
)

// ErrBadSignature is returned when a signature fails cryptographic
// verification against an otherwise well-formed key/algorithm pair.
var ErrBadSignature = errors.New("signature verification failed")

// ErrAlgorithmKeyMismatch is returned when the algorithm and the key's type
// are incompatible (e.g. ES256 against an RSA key).
var ErrAlgorithmKeyMismatch = errors.New("algorithm does not match key type")

// SupportedAlgorithms lists the asymmetric JWS algorithms the verifier
// accepts. Symmetric algorithms (HS256/384/512) are rejected unconditionally
// per spec.md §4.4 regardless of what an issuer's allowlist might contain.
var SupportedAlgorithms = map[string]bool{
	"RS256": true, "RS384": true, "RS512": true,
	"PS256": true, "PS384": true, "PS512": true,
	"ES256": true, "ES384": true, "ES512": true,
	"EdDSA": true,
}

// Verify checks signature over signingInput using key under alg. signingInput
// is the raw "header_b64.payload_b64" bytes; signature is the raw,
// non-base64 signature bytes (already decoded by the caller).
func Verify(key *Key, alg string, signingInput, signature []byte) error {
	if !SupportedAlgorithms[alg] {
		return fmt.Errorf("unsupported algorithm %q", alg)
	}

	switch {
	case alg == "RS256" || alg == "RS384" || alg == "RS512":
		return verifyRSA(key, alg, signingInput, signature, false)
	case alg == "PS256" || alg == "PS384" || alg == "PS512":
		return verifyRSA(key, alg, signingInput, signature, true)
	case alg == "ES256" || alg == "ES384" || alg == "ES512":
		return verifyECDSA(key, alg, signingInput, signature)
	case alg == "EdDSA":
		return verifyEdDSA(key, signingInput, signature)
	default:
		return fmt.Errorf("unsupported algorithm %q", alg)
	}
}

func hashFor(alg string) (crypto.Hash, func() [64]byte, error) {
	switch alg {
	case "RS256", "PS256", "ES256":
		return crypto.SHA256, nil, nil
	case "RS384", "PS384", "ES384":
		return crypto.SHA384, nil, nil
	case "RS512", "PS512", "ES512":
		return crypto.SHA512, nil, nil
	default:
		return 0, nil, fmt.Errorf("no hash for algorithm %q", alg)
	}
}

func digestFor(alg string, data []byte) ([]byte, crypto.Hash, error) {
	h, _, err := hashFor(alg)
	if err != nil {
		return nil, 0, err
	}
	switch h {
	case crypto.SHA256:
		d := sha256.Sum256(data)
		return d[:], h, nil
	case crypto.SHA384:
		d := sha512.Sum384(data)
		return d[:], h, nil
	case crypto.SHA512:
		d := sha512.Sum512(data)
		return d[:], h, nil
	default:
		return nil, 0, fmt.Errorf("unsupported hash for %q", alg)
	}
}

func verifyRSA(key *Key, alg string, signingInput, signature []byte, pss bool) error {
	pub, ok := key.Public().(*rsa.PublicKey)
	if !ok {
		return ErrAlgorithmKeyMismatch
	}
	digest, hash, err := digestFor(alg, signingInput)
	if err != nil {
		return err
	}
	if pss {
		opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: hash}
		if err := rsa.VerifyPSS(pub, hash, digest, signature, opts); err != nil {
			return ErrBadSignature
		}
		return nil
	}
	if err := rsa.VerifyPKCS1v15(pub, hash, digest, signature); err != nil {
		return ErrBadSignature
	}
	return nil
}

func verifyEdDSA(key *Key, signingInput, signature []byte) error {
	pub, ok := key.Public().(ed25519.PublicKey)
	if !ok {
		return ErrAlgorithmKeyMismatch
	}
	if !ed25519.Verify(pub, signingInput, signature) {
		return ErrBadSignature
	}
	return nil
}

// curveByteLen returns the expected length of each of r and s for the
// curve's IEEE P-1363 fixed-length encoding: 32 bytes for P-256, 48 for
// P-384, 66 for P-521 per spec.md §4.4.
func curveByteLen(curveBits int) int {
	switch curveBits {
	case 256:
		return 32
	case 384:
		return 48
	case 521:
		return 66
	default:
		return 0
	}
}

func verifyECDSA(key *Key, alg string, signingInput, signature []byte) error {
	pub, ok := key.Public().(*ecdsa.PublicKey)
	if !ok {
		return ErrAlgorithmKeyMismatch
	}
	digest, _, err := digestFor(alg, signingInput)
	if err != nil {
		return err
	}

	der, err := normalizeECDSASignature(signature, pub.Curve.Params().BitSize)
	if err != nil {
		return ErrBadSignature
	}
	if !ecdsa.VerifyASN1(pub, digest, der) {
		return ErrBadSignature
	}
	return nil
}

// normalizeECDSASignature accepts either an IEEE P-1363 fixed-length
// signature (2*n raw bytes, r||s) or an already-DER-encoded ASN.1
// signature, and returns ASN.1 DER, which is what crypto/ecdsa.VerifyASN1
// requires. spec.md §4.4: detect the input format by length; reject lengths
// that don't match the expected curve.
func normalizeECDSASignature(sig []byte, curveBits int) ([]byte, error) {
	n := curveByteLen(curveBits)
	if n == 0 {
		return nil, fmt.Errorf("unsupported curve bit size %d", curveBits)
	}

	if len(sig) == 2*n {
		r := new(big.Int).SetBytes(sig[:n])
		s := new(big.Int).SetBytes(sig[n:])
		return asn1.Marshal(struct {
			R, S *big.Int
		}{r, s})
	}

	// Not the fixed-length form; assume it is already DER and let the
	// caller's ASN.1 verification reject it if malformed.
	var probe struct{ R, S *big.Int }
	if _, err := asn1.Unmarshal(sig, &probe); err != nil {
		return nil, fmt.Errorf("signature is neither IEEE P-1363 (%d bytes) nor valid DER: %w", 2*n, err)
	}
	return sig, nil
}
