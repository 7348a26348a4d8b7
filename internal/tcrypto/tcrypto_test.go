package tcrypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateRejectsInvalidParameters(t *testing.T) {
	_, _, err := Generate(3, 3)
	require.ErrorIs(t, err, ErrInvalidParameters)

	_, _, err = Generate(1, 0)
	require.ErrorIs(t, err, ErrInvalidParameters)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	const n, threshold = 5, 2

	sks, pks, err := Generate(n, threshold)
	require.NoError(t, err)

	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	ct, err := Encrypt(pks.PublicKey(), plaintext)
	require.NoError(t, err)

	shares := sks.Shares(n)
	sks.Zero()

	decShares := make([]DecryptionShare, 0, threshold+1)
	for _, s := range shares[:threshold+1] {
		ds, err := DecryptShare(s, ct)
		require.NoError(t, err)
		decShares = append(decShares, ds)
	}

	recovered, err := Combine(ct, decShares, threshold, n)
	require.NoError(t, err)
	require.Equal(t, plaintext, recovered)
}

func TestCombineRejectsInsufficientShares(t *testing.T) {
	const n, threshold = 4, 2

	sks, pks, err := Generate(n, threshold)
	require.NoError(t, err)

	ct, err := Encrypt(pks.PublicKey(), []byte("hello"))
	require.NoError(t, err)

	shares := sks.Shares(n)
	ds, err := DecryptShare(shares[0], ct)
	require.NoError(t, err)

	_, err = Combine(ct, []DecryptionShare{ds}, threshold, n)
	require.ErrorIs(t, err, ErrInsufficientShares)
}

func TestCombineWithDifferentShareSubsetsAgree(t *testing.T) {
	const n, threshold = 6, 3

	sks, pks, err := Generate(n, threshold)
	require.NoError(t, err)

	plaintext := []byte("threshold decryption agrees across quorums")
	ct, err := Encrypt(pks.PublicKey(), plaintext)
	require.NoError(t, err)

	shares := sks.Shares(n)

	firstQuorum := shares[:threshold+1]
	secondQuorum := shares[n-threshold-1:]

	decrypt := func(quorum []*SecretKeyShare) []byte {
		decShares := make([]DecryptionShare, 0, len(quorum))
		for _, s := range quorum {
			ds, err := DecryptShare(s, ct)
			require.NoError(t, err)
			decShares = append(decShares, ds)
		}
		out, err := Combine(ct, decShares, threshold, n)
		require.NoError(t, err)
		return out
	}

	require.Equal(t, plaintext, decrypt(firstQuorum))
	require.Equal(t, plaintext, decrypt(secondQuorum))
}

func TestSecretKeyShareStringIsRedacted(t *testing.T) {
	sks, _, err := Generate(3, 1)
	require.NoError(t, err)

	shares := sks.Shares(3)
	require.NotContains(t, shares[0].String(), "redacted=false")
	require.Contains(t, shares[0].String(), "redacted")
}

func TestSecretKeyShareMarshalRoundTrip(t *testing.T) {
	sks, _, err := Generate(3, 1)
	require.NoError(t, err)

	shares := sks.Shares(3)
	data, err := shares[1].Marshal()
	require.NoError(t, err)

	roundTripped, err := UnmarshalSecretKeyShare(shares[1].Index(), data)
	require.NoError(t, err)
	require.Equal(t, shares[1].Index(), roundTripped.Index())
}
