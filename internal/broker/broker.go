// Package broker wires the coordinator and workers together over AMQP.
// Every piece of state that crosses a process boundary in this service —
// key material, decryption requests, partial decryptions — travels
// through one of three exchanges declared here. Nothing is exposed over
// a direct socket between coordinator and workers; the broker is the only
// channel they share.
package broker

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/drand/threshold-decrypt/internal/log"
)

const (
	// SecretsExchange carries one key-sync message per worker, addressed
	// by a per-worker routing key so only the intended worker receives
	// its share.
	SecretsExchange = "secrets_exchange"
	// DecryptionsExchange fans a signed decryption request out to every
	// worker at once.
	DecryptionsExchange = "decryptions_exchange"
	// PartialsExchange carries every worker's partial decryption back to
	// the coordinator.
	PartialsExchange = "partials_exchange"

	// fanoutRoutingKey is the literal (not a topic wildcard) routing key
	// workers and the coordinator bind and publish partials under.
	fanoutRoutingKey = "*"

	// CoordinatorQueue is the name of the coordinator's durable queue on
	// PartialsExchange, declared by DeclareCoordinatorQueue. Nothing in the
	// coordinator consumes from it: per-Decrypt-call collection uses an
	// ephemeral queue instead, see NewCollectionQueue.
	CoordinatorQueue = "decryption_service"
)

// WorkerSecretRoutingKey returns the routing key used to address worker
// id's key-sync message on SecretsExchange.
func WorkerSecretRoutingKey(id int) string {
	return fmt.Sprintf("server_%d_secret", id)
}

// WorkerQueueName returns the durable queue name worker id consumes both
// its key-sync message and decryption requests from.
func WorkerQueueName(id int) string {
	return fmt.Sprintf("decryption_server_%d", id)
}

// Topology owns the AMQP connection and channel and provides the
// declare/publish/consume operations the coordinator and workers need.
// It does not interpret message bodies; that is left to the wire and
// tcrypto packages.
type Topology struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	log  log.Logger
}

// Dial connects to the broker at url and returns a Topology with a single
// open channel.
func Dial(url string, logger log.Logger) (*Topology, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("broker: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("broker: open channel: %w", err)
	}
	return &Topology{conn: conn, ch: ch, log: logger}, nil
}

// Close tears down the channel and connection, in that order.
func (t *Topology) Close() error {
	if err := t.ch.Close(); err != nil {
		t.log.Warnw("closing channel failed", "err", err)
	}
	return t.conn.Close()
}

// DeclareSecretsExchange declares the direct exchange key-sync messages
// are published to.
func (t *Topology) DeclareSecretsExchange() error {
	return t.ch.ExchangeDeclare(SecretsExchange, amqp.ExchangeDirect, true, false, false, false, nil)
}

// DeclareDecryptionsExchange declares the fanout exchange decryption
// requests are broadcast to.
func (t *Topology) DeclareDecryptionsExchange() error {
	return t.ch.ExchangeDeclare(DecryptionsExchange, amqp.ExchangeFanout, true, false, false, false, nil)
}

// DeclarePartialsExchange declares the direct exchange partial
// decryptions are returned on.
func (t *Topology) DeclarePartialsExchange() error {
	return t.ch.ExchangeDeclare(PartialsExchange, amqp.ExchangeDirect, true, false, false, false, nil)
}

// DeclareWorkerQueue declares and binds the durable queue worker id reads
// both its key sync message and decryption requests from.
func (t *Topology) DeclareWorkerQueue(id int) (string, error) {
	name := WorkerQueueName(id)
	if _, err := t.ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return "", fmt.Errorf("broker: declare worker queue %s: %w", name, err)
	}
	if err := t.ch.QueueBind(name, WorkerSecretRoutingKey(id), SecretsExchange, false, nil); err != nil {
		return "", fmt.Errorf("broker: bind worker queue %s to secrets: %w", name, err)
	}
	if err := t.ch.QueueBind(name, "", DecryptionsExchange, false, nil); err != nil {
		return "", fmt.Errorf("broker: bind worker queue %s to decryptions: %w", name, err)
	}
	return name, nil
}

// DeclareCoordinatorQueue declares and binds the coordinator's durable
// bookkeeping queue on the partials exchange.
func (t *Topology) DeclareCoordinatorQueue() (string, error) {
	if _, err := t.ch.QueueDeclare(CoordinatorQueue, true, false, false, false, nil); err != nil {
		return "", fmt.Errorf("broker: declare coordinator queue: %w", err)
	}
	if err := t.ch.QueueBind(CoordinatorQueue, fanoutRoutingKey, PartialsExchange, false, nil); err != nil {
		return "", fmt.Errorf("broker: bind coordinator queue: %w", err)
	}
	return CoordinatorQueue, nil
}

// NewCollectionQueue declares a fresh, exclusive, auto-delete queue bound
// to PartialsExchange, named uniquely per call. Declaring and binding
// this queue, and starting a consumer on it, before publishing the
// decryption request closes the race where a fast worker's reply could
// otherwise arrive before anyone is listening for it.
func (t *Topology) NewCollectionQueue(name string) (string, error) {
	q, err := t.ch.QueueDeclare(name, false, true, true, false, nil)
	if err != nil {
		return "", fmt.Errorf("broker: declare collection queue %s: %w", name, err)
	}
	if err := t.ch.QueueBind(q.Name, fanoutRoutingKey, PartialsExchange, false, nil); err != nil {
		return "", fmt.Errorf("broker: bind collection queue %s: %w", q.Name, err)
	}
	return q.Name, nil
}

// PublishSecret publishes a key-sync message to worker id.
func (t *Topology) PublishSecret(id int, body []byte) error {
	return t.publish(SecretsExchange, WorkerSecretRoutingKey(id), body)
}

// PublishDecryptionRequest broadcasts a signed decryption request to every
// worker.
func (t *Topology) PublishDecryptionRequest(body []byte) error {
	return t.publish(DecryptionsExchange, "", body)
}

// PublishPartial publishes a worker's partial decryption back to the
// coordinator.
func (t *Topology) PublishPartial(body []byte) error {
	return t.publish(PartialsExchange, fanoutRoutingKey, body)
}

func (t *Topology) publish(exchange, routingKey string, body []byte) error {
	err := t.ch.Publish(exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/octet-stream",
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("broker: publish to %s: %w", exchange, err)
	}
	return nil
}

// Consume starts an auto-ack consumer on queue, with a consumer tag
// unique enough to identify it in server-side logs.
func (t *Topology) Consume(queue, consumerTag string) (<-chan amqp.Delivery, error) {
	deliveries, err := t.ch.Consume(queue, consumerTag, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("broker: consume %s: %w", queue, err)
	}
	return deliveries, nil
}
