package tcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/drand/kyber"
	"github.com/drand/kyber/share"
	"github.com/drand/kyber/util/random"
	"golang.org/x/crypto/hkdf"
)

// ErrMalformedCiphertext is returned by UnmarshalCiphertext when its input
// was not produced by Ciphertext.Marshal.
var ErrMalformedCiphertext = errors.New("tcrypto: malformed ciphertext")

// ErrCombineFailed is returned by Combine when the supplied shares do not
// recover a usable shared secret, or the symmetric layer cannot be set up.
// The ciphertext is not authenticated: shares that interpolate to the wrong
// secret yield a wrong plaintext rather than this error.
var ErrCombineFailed = errors.New("tcrypto: failed to combine decryption shares")

// ErrInsufficientShares is returned by Combine when fewer than
// threshold+1 shares are supplied. Combine counts the shares it is given;
// it does not check that their indices are distinct.
var ErrInsufficientShares = errors.New("tcrypto: insufficient decryption shares")

// Ciphertext is a hybrid-ElGamal encryption of a plaintext of arbitrary
// length under a PublicKeySet's master key: U is the ephemeral group
// element, V is the message encrypted under a key derived from the
// ephemeral shared secret.
type Ciphertext struct {
	U []byte
	V []byte
}

// Encrypt seals plaintext under the master public key held by pk. A fresh
// ephemeral scalar is drawn for every call, so the same plaintext never
// produces the same ciphertext twice.
func Encrypt(pk kyber.Point, plaintext []byte) (Ciphertext, error) {
	g := group()
	r := g.Scalar().Pick(random.New())
	u := g.Point().Mul(r, nil)
	shared := g.Point().Mul(r, pk)

	key, err := deriveKey(shared)
	if err != nil {
		return Ciphertext{}, err
	}

	v, err := xorKeystream(key, plaintext)
	if err != nil {
		return Ciphertext{}, err
	}

	uBytes, err := u.MarshalBinary()
	if err != nil {
		return Ciphertext{}, fmt.Errorf("tcrypto: marshal ephemeral point: %w", err)
	}

	return Ciphertext{U: uBytes, V: v}, nil
}

// Marshal encodes ct as a single opaque byte slice suitable for carrying
// in a wire.ServerMessage's CipherText field: a length-prefixed U
// followed by V.
func (ct Ciphertext) Marshal() []byte {
	out := make([]byte, 8+len(ct.U)+len(ct.V))
	binary.LittleEndian.PutUint64(out[:8], uint64(len(ct.U)))
	copy(out[8:8+len(ct.U)], ct.U)
	copy(out[8+len(ct.U):], ct.V)
	return out
}

// UnmarshalCiphertext decodes a Ciphertext previously produced by Marshal.
func UnmarshalCiphertext(data []byte) (Ciphertext, error) {
	if len(data) < 8 {
		return Ciphertext{}, fmt.Errorf("%w: too short", ErrMalformedCiphertext)
	}
	uLen := binary.LittleEndian.Uint64(data[:8])
	rest := data[8:]
	if uLen > uint64(len(rest)) {
		return Ciphertext{}, fmt.Errorf("%w: declared U length exceeds buffer", ErrMalformedCiphertext)
	}
	return Ciphertext{U: rest[:uLen], V: rest[uLen:]}, nil
}

// DecryptionShare is a single worker's contribution toward recovering the
// shared secret of a Ciphertext. It carries no plaintext information on
// its own.
type DecryptionShare struct {
	pubShare *share.PubShare
}

// DecryptShare computes keyShare's partial decryption of ct. It can be
// published on the wire without revealing the worker's secret key share
// or any plaintext.
func DecryptShare(keyShare *SecretKeyShare, ct Ciphertext) (DecryptionShare, error) {
	u := group().Point()
	if err := u.UnmarshalBinary(ct.U); err != nil {
		return DecryptionShare{}, fmt.Errorf("tcrypto: unmarshal ciphertext: %w", err)
	}
	partial := group().Point().Mul(keyShare.share.V, u)
	return DecryptionShare{pubShare: &share.PubShare{I: keyShare.share.I, V: partial}}, nil
}

// Marshal serializes a decryption share for the partials exchange.
func (d DecryptionShare) Marshal() ([]byte, error) {
	return d.pubShare.V.MarshalBinary()
}

// Index returns the worker index this share was produced by.
func (d DecryptionShare) Index() int {
	return d.pubShare.I
}

// UnmarshalDecryptionShare parses a decryption share previously produced
// by Marshal, associating it with worker index i.
func UnmarshalDecryptionShare(i int, data []byte) (DecryptionShare, error) {
	p := group().Point()
	if err := p.UnmarshalBinary(data); err != nil {
		return DecryptionShare{}, fmt.Errorf("tcrypto: unmarshal decryption share: %w", err)
	}
	return DecryptionShare{pubShare: &share.PubShare{I: i, V: p}}, nil
}

// Combine recovers the plaintext of ct from a set of at least
// threshold+1 distinct decryption shares, gathered out of n total
// workers.
func Combine(ct Ciphertext, shares []DecryptionShare, threshold, n int) ([]byte, error) {
	if len(shares) < threshold+1 {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientShares, len(shares), threshold+1)
	}

	pubShares := make([]*share.PubShare, len(shares))
	for i, s := range shares {
		pubShares[i] = s.pubShare
	}

	shared, err := share.RecoverCommit(group(), pubShares, threshold+1, n)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCombineFailed, err)
	}

	key, err := deriveKey(shared)
	if err != nil {
		return nil, err
	}

	plaintext, err := xorKeystream(key, ct.V)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCombineFailed, err)
	}
	return plaintext, nil
}

// deriveKey stretches a shared group element into a 256-bit AES key via
// HKDF-SHA256, so the symmetric key never directly exposes the algebraic
// structure of the underlying point.
func deriveKey(shared kyber.Point) ([]byte, error) {
	sharedBytes, err := shared.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("tcrypto: marshal shared secret: %w", err)
	}
	reader := hkdf.New(sha256.New, sharedBytes, nil, []byte("threshold-decrypt-aes-key"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("tcrypto: derive key: %w", err)
	}
	return key, nil
}

// xorKeystream runs AES-CTR with a fixed zero nonce. Reusing a nonce is
// safe here only because every key is derived from a fresh ephemeral
// scalar and is therefore used exactly once.
func xorKeystream(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("tcrypto: new cipher: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	stream := cipher.NewCTR(block, iv)
	out := make([]byte, len(data))
	stream.XORKeyStream(out, data)
	return out, nil
}
