// Package signing authenticates decryption requests end to end: the
// coordinator signs every request with an Ed25519 key, and each worker
// verifies the signature against that same public key before acting on
// the request. This mirrors the ring::signature::ED25519 usage in the
// original service (see original_source/threshold-decryption-server),
// mapped onto Go's standard library ed25519 implementation rather than a
// third-party package, since crypto/ed25519 has shipped in the standard
// library since Go 1.13 and needs no extra dependency to do exactly this.
package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
)

// SignatureSize is the length in bytes of an Ed25519 signature.
const SignatureSize = ed25519.SignatureSize

// ErrInvalidSignature is returned by Verify and Unframe when a payload's
// signature does not verify against the expected public key.
var ErrInvalidSignature = errors.New("signing: invalid signature")

// ErrFrameTooShort is returned by Unframe when the supplied bytes are too
// short to contain a signature.
var ErrFrameTooShort = errors.New("signing: framed message shorter than a signature")

// KeyPair is the coordinator's signing identity.
type KeyPair struct {
	Public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh Ed25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("signing: generate key pair: %w", err)
	}
	return &KeyPair{Public: pub, private: priv}, nil
}

// Sign signs payload and returns it framed as sig || payload, matching
// the wire layout every worker expects on the decryptions exchange.
func (k *KeyPair) Sign(payload []byte) []byte {
	sig := ed25519.Sign(k.private, payload)
	framed := make([]byte, 0, len(sig)+len(payload))
	framed = append(framed, sig...)
	framed = append(framed, payload...)
	return framed
}

// Verify checks that framed is a signature over its trailing payload made
// by the holder of pub, and returns the unframed payload on success.
func Verify(pub ed25519.PublicKey, framed []byte) ([]byte, error) {
	if len(framed) < SignatureSize {
		return nil, ErrFrameTooShort
	}
	sig, payload := framed[:SignatureSize], framed[SignatureSize:]
	if !ed25519.Verify(pub, payload, sig) {
		return nil, ErrInvalidSignature
	}
	return payload, nil
}
