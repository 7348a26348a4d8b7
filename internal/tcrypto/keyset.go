package tcrypto

import (
	"errors"
	"fmt"

	"github.com/drand/kyber"
	"github.com/drand/kyber/share"
	"github.com/drand/kyber/util/random"
)

// ErrInvalidParameters is returned by Generate when the requested worker
// count does not strictly exceed the threshold, or the threshold is below 1.
var ErrInvalidParameters = errors.New("tcrypto: n_servers must be strictly greater than threshold")

// SecretKeySet holds the dealer-side polynomial produced once at startup.
// It must never be persisted or logged: PropagateKeys zeroes it out once
// every worker's share has been published.
type SecretKeySet struct {
	poly *share.PriPoly
}

// PublicKeySet is the public counterpart of a SecretKeySet: the commitment
// polynomial from which the master public key and the per-share public
// keys are derived. Partial decryptions are not checked against it.
type PublicKeySet struct {
	poly *share.PubPoly
}

// SecretKeyShare is the secret material handed to a single worker. Its
// String/GoString are redacted so it can never leak into logs by accident.
type SecretKeyShare struct {
	share *share.PriShare
}

// Generate deals a fresh (n, threshold) key set: threshold+1 distinct
// shares are required to decrypt, and n is the total number of shares
// dealt. n must be strictly greater than threshold, and threshold must be
// at least 1, matching the
// constructor contract of the original pairing-based service.
func Generate(n, threshold int) (*SecretKeySet, *PublicKeySet, error) {
	if n <= threshold || threshold < 1 {
		return nil, nil, fmt.Errorf("%w (n_servers=%d, threshold=%d)", ErrInvalidParameters, n, threshold)
	}

	g := group()
	poly := share.NewPriPoly(g, threshold+1, nil, random.New())
	pub := poly.Commit(g.Point().Base())

	return &SecretKeySet{poly: poly}, &PublicKeySet{poly: pub}, nil
}

// Shares splits the secret key set into n secret shares, indexed 0..n-1.
func (s *SecretKeySet) Shares(n int) []*SecretKeyShare {
	priShares := s.poly.Shares(n)
	out := make([]*SecretKeyShare, len(priShares))
	for i, ps := range priShares {
		out[i] = &SecretKeyShare{share: ps}
	}
	return out
}

// Zero drops the set's reference to the dealer polynomial so that the
// coordinator process holds no reference to the master secret key after
// key propagation completes. The coefficient memory itself is not
// overwritten.
func (s *SecretKeySet) Zero() {
	s.poly = nil
}

// PublicKey returns the master public key that messages are encrypted
// under.
func (p *PublicKeySet) PublicKey() kyber.Point {
	return p.poly.Commit()
}

// PublicKeyShare returns the public commitment corresponding to share i.
func (p *PublicKeySet) PublicKeyShare(i int) kyber.Point {
	return p.poly.Eval(i).V
}

// Marshal serializes the secret share for framing onto the wire. The
// share index is not included: it is conveyed out of band by the routing
// key / server id the share is addressed to.
func (s *SecretKeyShare) Marshal() ([]byte, error) {
	return s.share.V.MarshalBinary()
}

// UnmarshalSecretKeyShare parses a secret share previously produced by
// Marshal, associating it with worker index i.
func UnmarshalSecretKeyShare(i int, data []byte) (*SecretKeyShare, error) {
	scalar := group().Scalar()
	if err := scalar.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("tcrypto: unmarshal secret key share: %w", err)
	}
	return &SecretKeyShare{share: &share.PriShare{I: i, V: scalar}}, nil
}

// String redacts the share value so it is never printed in full by %s/%v
// formatting, fmt.Sprintln, or a logger's default field formatter.
func (s *SecretKeyShare) String() string {
	if s == nil || s.share == nil {
		return "SecretKeyShare(nil)"
	}
	return fmt.Sprintf("SecretKeyShare(index=%d, value=<redacted>)", s.share.I)
}

// GoString matches String so %#v formatting cannot be used to bypass the
// redaction.
func (s *SecretKeyShare) GoString() string {
	return s.String()
}

// Index returns the worker index this share belongs to.
func (s *SecretKeyShare) Index() int {
	return s.share.I
}
