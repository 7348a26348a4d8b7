// Package tcrypto implements the threshold public-key cryptosystem shared
// by the coordinator and the workers: a single master key pair whose
// secret half is Shamir-split across a set of workers, letting any
// threshold+1 of them cooperatively recover a message encrypted under the
// shared public key without ever reconstructing the secret key itself.
//
// The scheme is built on the same BLS12-381 pairing group construction the
// teacher uses for its own threshold signatures, reusing
// github.com/drand/kyber's Shamir-sharing primitives (package share)
// instead of a from-scratch polynomial implementation.
package tcrypto

import (
	bls "github.com/drand/kyber-bls12381"
	"github.com/drand/kyber"
)

// dst separates this package's hash-to-curve operations from any other
// consumer of the BLS12-381 suite, notably the teacher's own beacon scheme.
const dst = "THRESHOLD_DECRYPT_ELGAMAL_BLS12381G1_"

// suite is the pairing suite all key material and ciphertexts are defined
// over. Only G1 is used: the scheme here is plain ElGamal-over-a-group, it
// does not need the pairing operation itself.
var suite = bls.NewBLS12381SuiteWithDST([]byte(dst), []byte(dst))

// group returns the kyber.Group new key material is generated in.
func group() kyber.Group {
	return suite.G1()
}
