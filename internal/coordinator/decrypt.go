package coordinator

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/drand/threshold-decrypt/internal/tcrypto"
	"github.com/drand/threshold-decrypt/internal/wire"
)

// Decrypt recovers the plaintext of ct by broadcasting a signed
// decryption request and collecting threshold+1 distinct partial
// decryptions within the configured collection window.
//
// The collection queue is declared and its consumer started before the
// request is published, closing the window in which a fast worker's
// reply could otherwise arrive before anyone is listening for it.
func (s *Service) Decrypt(ct tcrypto.Ciphertext) ([]byte, error) {
	if !s.ready {
		return nil, ErrNotReady
	}

	queueName, err := s.topo.NewCollectionQueue(newCollectionQueueName())
	if err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}

	deliveries, err := s.topo.Consume(queueName, queueName)
	if err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}

	timestamp := uint64(s.clock.Now().Unix())
	msg := wire.DecryptionRequest(ct.Marshal(), timestamp)
	framed := s.signingKey.Sign(msg.Marshal())

	if err := s.topo.PublishDecryptionRequest(framed); err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}

	required := s.cfg.Threshold() + 1
	shares, err := s.collect(deliveries, required)
	if err != nil {
		return nil, err
	}

	plaintext, err := tcrypto.Combine(ct, shares, s.cfg.Threshold(), s.cfg.NServers())
	if err != nil {
		s.metrics.CombineFailed()
		return nil, fmt.Errorf("coordinator: %w", err)
	}
	return plaintext, nil
}

// collect reads from deliveries until required distinct shares have been
// gathered or the collection window elapses.
func (s *Service) collect(deliveries <-chan amqp.Delivery, required int) ([]tcrypto.DecryptionShare, error) {
	seen := make(map[int]tcrypto.DecryptionShare, required)
	timeout := s.clock.After(s.cfg.CollectTimeout())

	for len(seen) < required {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return nil, fmt.Errorf("coordinator: %w: collection channel closed early", tcrypto.ErrInsufficientShares)
			}
			partial, err := wire.UnmarshalPartialDecryption(d.Body)
			if err != nil {
				s.log.Warnw("dropping malformed partial decryption", "err", err)
				continue
			}
			if _, dup := seen[int(partial.ID)]; dup {
				continue
			}
			share, err := tcrypto.UnmarshalDecryptionShare(int(partial.ID), partial.DecryptionShare)
			if err != nil {
				s.log.Warnw("dropping unparsable decryption share", "serverID", partial.ID, "err", err)
				continue
			}
			seen[int(partial.ID)] = share
			s.metrics.ShareCollected(int(partial.ID))
		case <-timeout:
			s.metrics.CollectionTimedOut(len(seen), required)
			return nil, fmt.Errorf("coordinator: %w: collected %d of %d within window", tcrypto.ErrInsufficientShares, len(seen), required)
		}
	}

	out := make([]tcrypto.DecryptionShare, 0, len(seen))
	for _, share := range seen {
		out = append(out, share)
	}
	return out, nil
}
