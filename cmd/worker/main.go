// Command worker runs a single threshold-decryption worker: it waits for
// its key-sync message on the broker, then services signed decryption
// requests by publishing partial decryptions back to the coordinator.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	clock "github.com/jonboulle/clockwork"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/urfave/cli/v2"

	"github.com/drand/threshold-decrypt/internal/broker"
	"github.com/drand/threshold-decrypt/internal/config"
	"github.com/drand/threshold-decrypt/internal/log"
	"github.com/drand/threshold-decrypt/internal/metrics"
	"github.com/drand/threshold-decrypt/internal/workerproc"
)

var (
	version   = "master"
	gitCommit = "none"
)

var brokerURLFlag = &cli.StringFlag{
	Name:    "broker-url",
	Value:   config.DefaultBrokerURL,
	EnvVars: []string{"BROKER_URL"},
	Usage:   "AMQP connection URL of the broker shared with the coordinator.",
}

var serverIDFlag = &cli.IntFlag{
	Name:     "server-id",
	Required: true,
	EnvVars:  []string{"SERVER_ID"},
	Usage:    "Index of the secret key share this worker holds.",
}

var metricsAddrFlag = &cli.StringFlag{
	Name:    "metrics-addr",
	Value:   config.DefaultMetricsBindAddr,
	EnvVars: []string{"METRICS_BIND_ADDR"},
	Usage:   "Address the Prometheus /metrics endpoint listens on.",
}

var nonceCacheSizeFlag = &cli.IntFlag{
	Name:  "nonce-cache-size",
	Value: config.DefaultNonceCacheSize,
	Usage: "Number of recently serviced request signatures retained to reject duplicates.",
}

var verboseFlag = &cli.BoolFlag{
	Name:  "verbose",
	Usage: "Log at debug level.",
}

func main() {
	app := &cli.App{
		Name:    "worker",
		Usage:   "threshold-decryption worker",
		Version: version,
		Flags: []cli.Flag{
			brokerURLFlag, serverIDFlag,
			metricsAddrFlag, nonceCacheSizeFlag, verboseFlag,
		},
		Action: startCmd,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func startCmd(c *cli.Context) error {
	level := log.InfoLevel
	if c.Bool(verboseFlag.Name) {
		level = log.DebugLevel
	}
	logger := log.New(nil, level, true)

	serverID := c.Int(serverIDFlag.Name)
	logger.Infow("starting worker", "version", version, "commit", gitCommit, "serverID", serverID)

	workerCfg := config.NewWorker(
		[]config.Option{
			config.WithBrokerURL(c.String(brokerURLFlag.Name)),
			config.WithLogger(logger),
			config.WithMetricsBindAddr(c.String(metricsAddrFlag.Name)),
			config.WithNonceCacheSize(c.Int(nonceCacheSizeFlag.Name)),
		},
		config.WithServerID(serverID),
	)

	topo, err := broker.Dial(workerCfg.BrokerURL(), logger)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer topo.Close()

	queueName, err := topo.DeclareWorkerQueue(serverID)
	if err != nil {
		return fmt.Errorf("declare worker queue: %w", err)
	}

	deliveries, err := topo.Consume(queueName, fmt.Sprintf("worker-%d", serverID))
	if err != nil {
		return fmt.Errorf("consume worker queue: %w", err)
	}

	reg := metrics.New()
	reg.Start(logger, workerCfg.MetricsBindAddr())

	w := workerproc.New(
		serverID,
		clock.NewRealClock(),
		int64(workerCfg.FreshnessWindow().Seconds()),
		workerCfg.NonceCacheSize(),
		logger,
	)
	w.SetMetrics(reg)

	done := make(chan struct{})
	go serviceDeliveries(w, topo, logger, deliveries, done)

	logger.Infow("worker ready", "serverID", serverID, "state", w.State().String())
	waitForSignal(logger)
	close(done)
	return nil
}

func serviceDeliveries(w *workerproc.Worker, topo *broker.Topology, logger log.Logger, deliveries <-chan amqp.Delivery, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			response, err := w.HandleMessage(d.Body)
			if err != nil {
				logger.Warnw("rejected message", "err", err)
				continue
			}
			if response == nil {
				continue
			}
			if err := topo.PublishPartial(response); err != nil {
				logger.Warnw("failed to publish partial decryption", "err", err)
			}
		}
	}
}

func waitForSignal(logger log.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Infow("shutdown signal received")
}
