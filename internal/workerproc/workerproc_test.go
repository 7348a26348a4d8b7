package workerproc

import (
	"testing"
	"time"

	clock "github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/drand/threshold-decrypt/internal/signing"
	"github.com/drand/threshold-decrypt/internal/tcrypto"
	"github.com/drand/threshold-decrypt/internal/testlogger"
	"github.com/drand/threshold-decrypt/internal/wire"
)

func keySyncFramed(t *testing.T, kp *signing.KeyPair, share *tcrypto.SecretKeyShare) []byte {
	t.Helper()
	shareBytes, err := share.Marshal()
	require.NoError(t, err)
	msg := wire.KeySync(kp.Public, shareBytes)
	return msg.Marshal()
}

func decryptRequestFramed(t *testing.T, kp *signing.KeyPair, ct tcrypto.Ciphertext, ts uint64) []byte {
	t.Helper()
	msg := wire.DecryptionRequest(ct.Marshal(), ts)
	return kp.Sign(msg.Marshal())
}

func TestHandleMessageProvisionsThenDecrypts(t *testing.T) {
	kp, err := signing.GenerateKeyPair()
	require.NoError(t, err)

	sks, pks, err := tcrypto.Generate(3, 1)
	require.NoError(t, err)
	shares := sks.Shares(3)

	fc := clock.NewFakeClock()
	w := New(0, fc, 10, 256, testlogger.New(t))
	require.Equal(t, Unprovisioned, w.State())

	resp, err := w.HandleMessage(keySyncFramed(t, kp, shares[0]))
	require.NoError(t, err)
	require.Nil(t, resp)
	require.Equal(t, Provisioned, w.State())

	ct, err := tcrypto.Encrypt(pks.PublicKey(), []byte("hello worker"))
	require.NoError(t, err)

	resp, err = w.HandleMessage(decryptRequestFramed(t, kp, ct, uint64(fc.Now().Unix())))
	require.NoError(t, err)
	require.NotNil(t, resp)

	partial, err := wire.UnmarshalPartialDecryption(resp)
	require.NoError(t, err)
	require.Equal(t, uint64(0), partial.ID)
}

func TestHandleMessageRejectsDecryptionWhenUnprovisioned(t *testing.T) {
	kp, err := signing.GenerateKeyPair()
	require.NoError(t, err)
	_, pks, err := tcrypto.Generate(3, 1)
	require.NoError(t, err)

	fc := clock.NewFakeClock()
	w := New(0, fc, 10, 256, testlogger.New(t))

	ct, err := tcrypto.Encrypt(pks.PublicKey(), []byte("hello"))
	require.NoError(t, err)

	_, err = w.HandleMessage(decryptRequestFramed(t, kp, ct, uint64(fc.Now().Unix())))
	require.ErrorIs(t, err, ErrUnprovisioned)
}

func TestHandleMessageRejectsStaleRequest(t *testing.T) {
	kp, err := signing.GenerateKeyPair()
	require.NoError(t, err)
	sks, pks, err := tcrypto.Generate(3, 1)
	require.NoError(t, err)
	shares := sks.Shares(3)

	fc := clock.NewFakeClock()
	w := New(0, fc, 10, 256, testlogger.New(t))
	_, err = w.HandleMessage(keySyncFramed(t, kp, shares[0]))
	require.NoError(t, err)

	ct, err := tcrypto.Encrypt(pks.PublicKey(), []byte("hello"))
	require.NoError(t, err)

	staleTs := uint64(fc.Now().Add(-time.Minute).Unix())
	_, err = w.HandleMessage(decryptRequestFramed(t, kp, ct, staleTs))
	require.ErrorIs(t, err, ErrStaleRequest)
}

func TestHandleMessageRejectsDuplicateRequest(t *testing.T) {
	kp, err := signing.GenerateKeyPair()
	require.NoError(t, err)
	sks, pks, err := tcrypto.Generate(3, 1)
	require.NoError(t, err)
	shares := sks.Shares(3)

	fc := clock.NewFakeClock()
	w := New(0, fc, 10, 256, testlogger.New(t))
	_, err = w.HandleMessage(keySyncFramed(t, kp, shares[0]))
	require.NoError(t, err)

	ct, err := tcrypto.Encrypt(pks.PublicKey(), []byte("hello"))
	require.NoError(t, err)
	framed := decryptRequestFramed(t, kp, ct, uint64(fc.Now().Unix()))

	_, err = w.HandleMessage(framed)
	require.NoError(t, err)

	_, err = w.HandleMessage(framed)
	require.ErrorIs(t, err, ErrDuplicateRequest)
}

func TestHandleMessageRejectsBadSignature(t *testing.T) {
	kp, err := signing.GenerateKeyPair()
	require.NoError(t, err)
	other, err := signing.GenerateKeyPair()
	require.NoError(t, err)

	sks, pks, err := tcrypto.Generate(3, 1)
	require.NoError(t, err)
	shares := sks.Shares(3)

	fc := clock.NewFakeClock()
	w := New(0, fc, 10, 256, testlogger.New(t))
	_, err = w.HandleMessage(keySyncFramed(t, kp, shares[0]))
	require.NoError(t, err)

	ct, err := tcrypto.Encrypt(pks.PublicKey(), []byte("hello"))
	require.NoError(t, err)

	_, err = w.HandleMessage(decryptRequestFramed(t, other, ct, uint64(fc.Now().Unix())))
	require.ErrorIs(t, err, signing.ErrInvalidSignature)
}
