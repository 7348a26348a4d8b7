package signing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	payload := []byte("decrypt this please")
	framed := kp.Sign(payload)
	require.Len(t, framed, SignatureSize+len(payload))

	out, err := Verify(kp.Public, framed)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	framed := kp.Sign([]byte("original payload"))
	framed[len(framed)-1] ^= 0xFF

	_, err = Verify(kp.Public, framed)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	other, err := GenerateKeyPair()
	require.NoError(t, err)

	framed := kp.Sign([]byte("payload"))
	_, err = Verify(other.Public, framed)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyRejectsShortFrame(t *testing.T) {
	_, err := Verify(nil, []byte("too short"))
	require.ErrorIs(t, err, ErrFrameTooShort)
}
