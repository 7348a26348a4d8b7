// Command coordinator runs the threshold-decryption coordinator: it
// deals the key set, propagates shares to the configured number of
// workers over the broker, and serves the HTTP adapter used to request
// encryptions and decryptions.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/drand/threshold-decrypt/internal/broker"
	"github.com/drand/threshold-decrypt/internal/config"
	"github.com/drand/threshold-decrypt/internal/coordinator"
	"github.com/drand/threshold-decrypt/internal/httpapi"
	"github.com/drand/threshold-decrypt/internal/log"
	"github.com/drand/threshold-decrypt/internal/metrics"
)

var (
	version   = "master"
	gitCommit = "none"
)

var brokerURLFlag = &cli.StringFlag{
	Name:    "broker-url",
	Value:   config.DefaultBrokerURL,
	EnvVars: []string{"BROKER_URL"},
	Usage:   "AMQP connection URL of the broker shared with the workers.",
}

var nServersFlag = &cli.IntFlag{
	Name:    "n-servers",
	Value:   3,
	EnvVars: []string{"N_SERVERS"},
	Usage:   "Total number of decryption workers the key set is dealt to.",
}

var thresholdFlag = &cli.IntFlag{
	Name:    "threshold",
	Value:   1,
	EnvVars: []string{"THRESHOLD"},
	Usage:   "Number of shares beyond one required to recover a decryption, i.e. threshold+1 of n-servers.",
}

var httpAddrFlag = &cli.StringFlag{
	Name:    "http-addr",
	Value:   config.DefaultHTTPBindAddr,
	EnvVars: []string{"HTTP_BIND_ADDR"},
	Usage:   "Address the public-key/encrypt/decrypt HTTP adapter listens on.",
}

var httpAuthTokenFlag = &cli.StringFlag{
	Name:    "http-auth-token",
	EnvVars: []string{"HTTP_AUTH_TOKEN"},
	Usage:   "Bearer token HTTP callers must present. Leave empty to disable authentication.",
}

var metricsAddrFlag = &cli.StringFlag{
	Name:    "metrics-addr",
	Value:   config.DefaultMetricsBindAddr,
	EnvVars: []string{"METRICS_BIND_ADDR"},
	Usage:   "Address the Prometheus /metrics endpoint listens on.",
}

var verboseFlag = &cli.BoolFlag{
	Name:  "verbose",
	Usage: "Log at debug level.",
}

var configFileFlag = &cli.StringFlag{
	Name:  "config",
	Usage: "Optional TOML config file; explicit flags override values loaded from it.",
}

func main() {
	app := &cli.App{
		Name:    "coordinator",
		Usage:   "threshold-decryption coordinator",
		Version: version,
		Flags: []cli.Flag{
			brokerURLFlag, nServersFlag, thresholdFlag, httpAddrFlag,
			httpAuthTokenFlag, metricsAddrFlag, verboseFlag, configFileFlag,
		},
		Action: startCmd,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "coordinator: %v\n", err)
		os.Exit(1)
	}
}

func startCmd(c *cli.Context) error {
	level := log.InfoLevel
	if c.Bool(verboseFlag.Name) {
		level = log.DebugLevel
	}
	logger := log.New(nil, level, true)
	logger.Infow("starting coordinator", "version", version, "commit", gitCommit)

	coordCfg := buildConfig(c, logger)

	topo, err := broker.Dial(coordCfg.BrokerURL(), logger)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer topo.Close()

	reg := metrics.New()
	reg.Start(logger, coordCfg.MetricsBindAddr())

	svc, err := coordinator.New(coordCfg, topo, reg)
	if err != nil {
		return fmt.Errorf("construct coordinator: %w", err)
	}

	if err := svc.PropagateKeys(); err != nil {
		return fmt.Errorf("propagate keys: %w", err)
	}

	monitor := metrics.NewCollectionMonitor(logger, coordCfg.NServers(), coordCfg.Threshold())
	monitor.Start()
	defer monitor.Stop()

	api := httpapi.New(svc, logger, coordCfg.HTTPAuthToken())
	httpSrv := &http.Server{
		Addr:              coordCfg.HTTPBindAddr(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 3 * time.Second,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warnw("http adapter stopped", "err", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Infow("coordinator ready", "httpAddr", coordCfg.HTTPBindAddr(), "nServers", coordCfg.NServers(), "threshold", coordCfg.Threshold())
	waitForSignal(logger)
	return nil
}

func buildConfig(c *cli.Context, logger log.Logger) *config.CoordinatorConfig {
	brokerURL := c.String(brokerURLFlag.Name)
	nServers := c.Int(nServersFlag.Name)
	threshold := c.Int(thresholdFlag.Name)
	httpAddr := c.String(httpAddrFlag.Name)
	metricsAddr := c.String(metricsAddrFlag.Name)

	if path := c.String(configFileFlag.Name); path != "" {
		fc, err := config.LoadFile(path)
		if err == nil {
			if !c.IsSet(brokerURLFlag.Name) && fc.BrokerURL != "" {
				brokerURL = fc.BrokerURL
			}
			if !c.IsSet(nServersFlag.Name) && fc.NServers != 0 {
				nServers = fc.NServers
			}
			if !c.IsSet(thresholdFlag.Name) && fc.Threshold != 0 {
				threshold = fc.Threshold
			}
			if !c.IsSet(httpAddrFlag.Name) && fc.HTTPBindAddr != "" {
				httpAddr = fc.HTTPBindAddr
			}
			if !c.IsSet(metricsAddrFlag.Name) && fc.MetricsBindAddr != "" {
				metricsAddr = fc.MetricsBindAddr
			}
		} else {
			logger.Warnw("ignoring unreadable config file", "path", path, "err", err)
		}
	}

	opts := []config.Option{
		config.WithBrokerURL(brokerURL),
		config.WithLogger(logger),
		config.WithMetricsBindAddr(metricsAddr),
	}
	coordOpts := []config.CoordinatorOption{
		config.WithServers(nServers, threshold),
		config.WithHTTPBindAddr(httpAddr),
		config.WithHTTPAuthToken(c.String(httpAuthTokenFlag.Name)),
	}

	return config.NewCoordinator(opts, coordOpts...)
}

func waitForSignal(logger log.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Infow("shutdown signal received")
}
