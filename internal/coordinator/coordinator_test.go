package coordinator

import (
	"sync"
	"testing"
	"time"

	clock "github.com/jonboulle/clockwork"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"

	"github.com/drand/threshold-decrypt/internal/config"
	"github.com/drand/threshold-decrypt/internal/signing"
	"github.com/drand/threshold-decrypt/internal/tcrypto"
	"github.com/drand/threshold-decrypt/internal/testlogger"
	"github.com/drand/threshold-decrypt/internal/wire"
)

// fakeTopology is an in-memory stand-in for *broker.Topology: publishing
// a decryption request immediately "delivers" partial decryptions from a
// fixed set of workers onto the most recently declared collection queue,
// mirroring the relevant slice of real broker behavior without a live
// connection.
type fakeTopology struct {
	mu          sync.Mutex
	sks         *tcrypto.SecretKeySet
	pks         *tcrypto.PublicKeySet
	n           int
	threshold   int
	respondFrom []int
	deliveries  chan amqp.Delivery
}

func (f *fakeTopology) DeclareSecretsExchange() error     { return nil }
func (f *fakeTopology) DeclareDecryptionsExchange() error { return nil }
func (f *fakeTopology) DeclarePartialsExchange() error    { return nil }
func (f *fakeTopology) PublishSecret(int, []byte) error   { return nil }

func (f *fakeTopology) NewCollectionQueue(string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = make(chan amqp.Delivery, f.n)
	return "fake-queue", nil
}

func (f *fakeTopology) Consume(string, string) (<-chan amqp.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deliveries, nil
}

func (f *fakeTopology) PublishDecryptionRequest(body []byte) error {
	msg, err := wire.UnmarshalServerMessage(body[64:]) // strip the ed25519 frame
	if err != nil {
		return err
	}
	ct, err := tcrypto.UnmarshalCiphertext(msg.CipherText)
	if err != nil {
		return err
	}

	shares := f.sks.Shares(f.n)
	for _, id := range f.respondFrom {
		ds, err := tcrypto.DecryptShare(shares[id], ct)
		if err != nil {
			return err
		}
		shareBytes, err := ds.Marshal()
		if err != nil {
			return err
		}
		partial := wire.PartialDecryption{ID: uint64(id), DecryptionShare: shareBytes}
		f.deliveries <- amqp.Delivery{Body: partial.Marshal()}
	}
	return nil
}

func newFakeService(t *testing.T, n, threshold int, respondFrom []int, timeout time.Duration) (*Service, *fakeTopology) {
	t.Helper()

	sks, pks, err := tcrypto.Generate(n, threshold)
	require.NoError(t, err)

	fc := clock.NewFakeClock()
	cfg := config.NewCoordinator(
		[]config.Option{config.WithLogger(testlogger.New(t)), config.WithClock(fc)},
		config.WithServers(n, threshold),
		config.WithCollectTimeout(timeout),
	)

	fake := &fakeTopology{sks: sks, pks: pks, n: n, threshold: threshold, respondFrom: respondFrom}

	svc := &Service{cfg: cfg, topo: fake, log: cfg.Logger(), clock: fc, metrics: noopMetrics{}}
	svc.secretKeySet = sks
	svc.publicKeySet = pks

	signingKey, err := signing.GenerateKeyPair()
	require.NoError(t, err)
	svc.signingKey = signingKey
	svc.ready = true

	return svc, fake
}

func TestDecryptSucceedsWithExactThreshold(t *testing.T) {
	svc, _ := newFakeService(t, 5, 2, []int{0, 1, 2}, time.Second)

	plaintext := []byte("a message for the coordinator to decrypt")
	ct, err := svc.Encrypt(plaintext)
	require.NoError(t, err)

	out, err := svc.Decrypt(ct)
	require.NoError(t, err)
	require.Equal(t, plaintext, out)
}

func TestDecryptTimesOutWithTooFewResponders(t *testing.T) {
	fc := clock.NewFakeClock()
	svc, fake := newFakeService(t, 5, 2, []int{0, 1}, 50*time.Millisecond)
	svc.clock = fc
	_ = fake

	ct, err := svc.Encrypt([]byte("not enough shares will arrive"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Decrypt(ct)
		done <- err
	}()

	// advance the fake clock past the collection window once the
	// goroutine has had a chance to register its timeout channel.
	time.Sleep(10 * time.Millisecond)
	fc.Advance(time.Second)

	err = <-done
	require.ErrorIs(t, err, tcrypto.ErrInsufficientShares)
}

func TestNewServiceRequiresPropagationBeforeUse(t *testing.T) {
	cfg := config.NewCoordinator(
		[]config.Option{config.WithLogger(testlogger.New(t))},
		config.WithServers(4, 1),
	)
	fake := &fakeTopology{n: 4, threshold: 1}

	svc, err := New(cfg, fake, nil)
	require.NoError(t, err)
	require.False(t, svc.ready)

	_, err = svc.Encrypt([]byte("too early"))
	require.ErrorIs(t, err, ErrNotReady)
	_, err = svc.Decrypt(tcrypto.Ciphertext{})
	require.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, svc.PropagateKeys())
	require.True(t, svc.ready)

	pub, err := svc.PublicKey()
	require.NoError(t, err)
	require.NotEmpty(t, pub)
}
