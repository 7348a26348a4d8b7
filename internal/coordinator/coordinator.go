// Package coordinator implements the decryption orchestrator: it deals
// the threshold key set, propagates shares to every worker over the
// secrets exchange, and drives the collect-combine-return cycle for
// every Decrypt call.
package coordinator

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	clock "github.com/jonboulle/clockwork"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/drand/threshold-decrypt/internal/broker"
	"github.com/drand/threshold-decrypt/internal/config"
	"github.com/drand/threshold-decrypt/internal/log"
	"github.com/drand/threshold-decrypt/internal/signing"
	"github.com/drand/threshold-decrypt/internal/tcrypto"
	"github.com/drand/threshold-decrypt/internal/wire"
)

// Topology is the subset of *broker.Topology the coordinator depends on.
// Tests substitute a fake implementation so Decrypt and PropagateKeys can
// be exercised without a live broker connection.
type Topology interface {
	DeclareSecretsExchange() error
	DeclareDecryptionsExchange() error
	DeclarePartialsExchange() error
	PublishSecret(id int, body []byte) error
	PublishDecryptionRequest(body []byte) error
	NewCollectionQueue(name string) (string, error)
	Consume(queue, consumerTag string) (<-chan amqp.Delivery, error)
}

// Metrics is the narrow set of observations the coordinator reports as it
// runs a Decrypt call. A no-op implementation is used unless the caller
// wires in a real one.
type Metrics interface {
	ShareCollected(serverID int)
	CollectionTimedOut(collected, required int)
	CombineFailed()
}

type noopMetrics struct{}

func (noopMetrics) ShareCollected(int)       {}
func (noopMetrics) CollectionTimedOut(int, int) {}
func (noopMetrics) CombineFailed()           {}

// Sentinel errors surfaced by Service methods.
var (
	// ErrNotReady is returned by Decrypt and Encrypt if PropagateKeys has
	// not yet completed successfully.
	ErrNotReady = errors.New("coordinator: key material not yet propagated")
)

// Service is the coordinator's in-memory state: the dealt key set, the
// signing identity used to authenticate requests, and the broker
// topology it talks to workers through.
type Service struct {
	cfg     *config.CoordinatorConfig
	topo    Topology
	log     log.Logger
	clock   clock.Clock
	metrics Metrics

	signingKey *signing.KeyPair

	secretKeySet *tcrypto.SecretKeySet
	publicKeySet *tcrypto.PublicKeySet
	ready        bool
}

// New constructs a Service that has dealt fresh key material but has not
// yet propagated it to any worker; call PropagateKeys before Decrypt.
func New(cfg *config.CoordinatorConfig, topo Topology, metrics Metrics) (*Service, error) {
	if metrics == nil {
		metrics = noopMetrics{}
	}

	sks, pks, err := tcrypto.Generate(cfg.NServers(), cfg.Threshold())
	if err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}

	signingKey, err := signing.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("coordinator: generate signing key: %w", err)
	}

	return &Service{
		cfg:          cfg,
		topo:         topo,
		log:          cfg.Logger(),
		clock:        cfg.Clock(),
		metrics:      metrics,
		signingKey:   signingKey,
		secretKeySet: sks,
		publicKeySet: pks,
	}, nil
}

// PublicKey returns the master public key messages are encrypted under.
func (s *Service) PublicKey() ([]byte, error) {
	data, err := s.publicKeySet.PublicKey().MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("coordinator: marshal public key: %w", err)
	}
	return data, nil
}

// PropagateKeys declares the broker topology and sends every worker its
// secret key share, together with the signing public key, over the
// secrets exchange. Unlike decryption requests, this message is sent
// unsigned: the signing public key is its own payload, so signing it
// would be circular. Once every publish succeeds, the dealer polynomial
// is zeroed: this process never retains the master secret key past this
// call.
func (s *Service) PropagateKeys() error {
	if err := s.topo.DeclareSecretsExchange(); err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}
	if err := s.topo.DeclareDecryptionsExchange(); err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}
	if err := s.topo.DeclarePartialsExchange(); err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}

	shares := s.secretKeySet.Shares(s.cfg.NServers())

	var errs *multierror.Error
	for _, share := range shares {
		shareBytes, err := share.Marshal()
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("server %d: %w", share.Index(), err))
			continue
		}

		// Key-sync messages carry the signing public key itself as
		// payload, so signing them would be circular: they go out raw.
		msg := wire.KeySync(s.signingKey.Public, shareBytes)

		if err := s.topo.PublishSecret(share.Index(), msg.Marshal()); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("server %d: %w", share.Index(), err))
			continue
		}
		s.log.Infow("propagated key share", "serverID", share.Index())
	}

	if errs.ErrorOrNil() != nil {
		return fmt.Errorf("coordinator: propagate keys: %w", errs.ErrorOrNil())
	}

	s.secretKeySet.Zero()
	s.ready = true
	s.log.Infow("key propagation complete, secret key set zeroed", "nServers", s.cfg.NServers())
	return nil
}

// Encrypt seals plaintext under the master public key.
func (s *Service) Encrypt(plaintext []byte) (tcrypto.Ciphertext, error) {
	if !s.ready {
		return tcrypto.Ciphertext{}, ErrNotReady
	}
	return tcrypto.Encrypt(s.publicKeySet.PublicKey(), plaintext)
}

// newCollectionQueueName returns a collision-resistant queue name unique
// to this call, so that two concurrent Decrypt calls never observe each
// other's partial decryptions.
func newCollectionQueueName() string {
	return fmt.Sprintf("%s_%s", broker.CoordinatorQueue, uuid.NewString())
}
