// Package workerproc implements a single decryption worker's state
// machine: unprovisioned until its key-sync message arrives, then ready
// to turn signed, fresh decryption requests into partial decryptions.
package workerproc

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	clock "github.com/jonboulle/clockwork"

	"github.com/drand/threshold-decrypt/internal/log"
	"github.com/drand/threshold-decrypt/internal/signing"
	"github.com/drand/threshold-decrypt/internal/tcrypto"
	"github.com/drand/threshold-decrypt/internal/wire"
)

// State is the worker's provisioning state.
type State int

const (
	// Unprovisioned is the state a worker starts in: it has not yet
	// received its secret key share and cannot act on decryption
	// requests.
	Unprovisioned State = iota
	// Provisioned is the state a worker enters once it has recorded its
	// secret key share.
	Provisioned
)

func (s State) String() string {
	if s == Provisioned {
		return "provisioned"
	}
	return "unprovisioned"
}

// Sentinel errors surfaced by HandleMessage. Each corresponds to a
// rejection case called out in the worker state machine.
var (
	ErrUnprovisioned  = errors.New("workerproc: worker has not received its secret key share yet")
	ErrStaleRequest   = errors.New("workerproc: request timestamp outside the freshness window")
	ErrDuplicateRequest = errors.New("workerproc: request already serviced")
	ErrInvalidMessage = errors.New("workerproc: message matched neither key-sync nor decryption-request shape")
)

// Metrics is the narrow set of observations a Worker reports as it
// rejects or services requests. A no-op implementation is used unless
// SetMetrics is called.
type Metrics interface {
	RequestRejected(reason string)
	Provisioned(serverID int)
}

type noopMetrics struct{}

func (noopMetrics) RequestRejected(string) {}
func (noopMetrics) Provisioned(int)        {}

// Worker is a single decryption server's in-memory state.
type Worker struct {
	id              int
	coordinatorKey  ed25519.PublicKey
	log             log.Logger
	clock           clock.Clock
	freshnessWindow int64 // seconds
	seen            *nonceCache
	metrics         Metrics

	state State
	share *tcrypto.SecretKeyShare
}

// New returns a worker for share index id, unprovisioned until its first
// key-sync message is handled. The coordinator's signing public key is not
// known at construction time: the worker learns it from that first,
// necessarily unsigned, key-sync delivery.
func New(id int, clk clock.Clock, freshnessWindowSeconds int64, nonceCacheSize int, logger log.Logger) *Worker {
	return &Worker{
		id:              id,
		log:             logger,
		clock:           clk,
		freshnessWindow: freshnessWindowSeconds,
		seen:            newNonceCache(nonceCacheSize),
		metrics:         noopMetrics{},
		state:           Unprovisioned,
	}
}

// SetMetrics wires a Metrics implementation into the worker; passing nil
// restores the no-op default.
func (w *Worker) SetMetrics(m Metrics) {
	if m == nil {
		m = noopMetrics{}
	}
	w.metrics = m
}

// State returns the worker's current provisioning state.
func (w *Worker) State() State {
	return w.state
}

// HandleMessage authenticates and dispatches a single framed message
// received from either the secrets or the decryptions exchange. While
// unprovisioned, a worker has no signing key to verify against yet, so it
// expects the message to be the raw, unsigned key-sync message that hands
// it one: the signing public key is itself part of that payload, so
// signing it would be circular. Once provisioned, every message is
// expected to be signed, and is verified before being dispatched. For a
// decryption request HandleMessage returns the marshaled
// wire.PartialDecryption the caller should publish to the partials
// exchange; for a key-sync message it returns a nil response since
// nothing is published back.
func (w *Worker) HandleMessage(framed []byte) ([]byte, error) {
	if w.state != Provisioned {
		msg, err := wire.UnmarshalServerMessage(framed)
		if err == nil && msg.IsKeySync() {
			return nil, w.handleKeySync(msg)
		}
		w.metrics.RequestRejected("unprovisioned")
		return nil, ErrUnprovisioned
	}

	payload, err := signing.Verify(w.coordinatorKey, framed)
	if err != nil {
		w.metrics.RequestRejected("invalid_signature")
		return nil, fmt.Errorf("workerproc: %w", err)
	}

	msg, err := wire.UnmarshalServerMessage(payload)
	if err != nil {
		return nil, fmt.Errorf("workerproc: %w", err)
	}

	if !msg.IsDecryptionRequest() {
		return nil, ErrInvalidMessage
	}
	return w.handleDecryptionRequest(framed, msg)
}

func (w *Worker) handleKeySync(msg wire.ServerMessage) error {
	share, err := tcrypto.UnmarshalSecretKeyShare(w.id, msg.SecretKeyShare)
	if err != nil {
		return fmt.Errorf("workerproc: %w", err)
	}

	w.coordinatorKey = ed25519.PublicKey(msg.PublicKey)
	w.share = share
	w.state = Provisioned
	w.metrics.Provisioned(w.id)
	w.log.Infow("worker provisioned", "serverID", w.id)
	return nil
}

func (w *Worker) handleDecryptionRequest(framed []byte, msg wire.ServerMessage) ([]byte, error) {
	now := w.clock.Now().Unix()
	if now-int64(*msg.Timestamp) > w.freshnessWindow {
		w.metrics.RequestRejected("stale")
		return nil, ErrStaleRequest
	}

	if w.seen.seenBefore(framed[:signing.SignatureSize]) {
		w.metrics.RequestRejected("duplicate")
		return nil, ErrDuplicateRequest
	}

	ct, err := tcrypto.UnmarshalCiphertext(msg.CipherText)
	if err != nil {
		return nil, fmt.Errorf("workerproc: %w", err)
	}

	share, err := tcrypto.DecryptShare(w.share, ct)
	if err != nil {
		return nil, fmt.Errorf("workerproc: %w", err)
	}

	shareBytes, err := share.Marshal()
	if err != nil {
		return nil, fmt.Errorf("workerproc: %w", err)
	}

	partial := wire.PartialDecryption{ID: uint64(w.id), DecryptionShare: shareBytes}
	return partial.Marshal(), nil
}
