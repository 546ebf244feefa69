package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"contrib.go.opencensus.io/exporter/prometheus"
	logging "github.com/ipfs/go-log/v2"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"go.opencensus.io/stats/view"
	"golang.org/x/xerrors"

	"github.com/Godyy/go-market/config"
	"github.com/Godyy/go-market/market"
	"github.com/Godyy/go-market/market/memory"
	"github.com/Godyy/go-market/metrics"
	"github.com/Godyy/go-market/session"
)

var log = logging.Logger("market-server")

const subsystems = "market-server|market|registry|session|socket"

func init() {
	if err := view.Register(metrics.DefaultViews...); err != nil {
		log.Fatal(err)
	}
}

func main() {
	app := &cli.App{
		Name:  "market-server",
		Usage: "Marketplace coordination server for provider and consumer agents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"MARKET_LOG_LEVEL"},
				Value:   "info",
			},
		},
		Before: func(cctx *cli.Context) error {
			return logging.SetLogLevelRegex(subsystems, cctx.String("log-level"))
		},
		Commands: []*cli.Command{
			runCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Errorw("exit in error", "err", err)
		os.Exit(1)
		return
	}
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "Start the server",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			EnvVars: []string{"MARKET_CONFIG"},
			Usage:   "path to a TOML configuration file",
		},
		&cli.StringFlag{
			Name:  "listen",
			Usage: "address agents connect to, overrides Server.ListenAddress",
		},
		&cli.StringFlag{
			Name:  "metrics-listen",
			Usage: "address serving /metrics, overrides Metrics.ListenAddress",
		},
		&cli.DurationFlag{
			Name:  "idle-grace",
			Usage: "close sessions idle for this long, 0 disables",
		},
		&cli.IntFlag{
			Name:  "max-message",
			Usage: "largest request in bytes, 0 means unbounded",
		},
		&cli.BoolFlag{
			Name:  "finalize-periods",
			Usage: "make end_period close the current offering period",
		},
	},
	Action: func(cctx *cli.Context) error {
		cfg := config.Default()
		if path := cctx.String("config"); path != "" {
			var err error
			if cfg, err = config.Load(path); err != nil {
				return err
			}
		}
		if cctx.IsSet("listen") {
			cfg.Server.ListenAddress = cctx.String("listen")
		}
		if cctx.IsSet("metrics-listen") {
			cfg.Metrics.ListenAddress = cctx.String("metrics-listen")
		}
		if cctx.IsSet("idle-grace") {
			cfg.Server.IdleGrace = config.Duration(cctx.Duration("idle-grace"))
		}
		if cctx.IsSet("max-message") {
			cfg.Server.MaxMessageSize = cctx.Int("max-message")
		}
		if cctx.IsSet("finalize-periods") {
			cfg.Server.FinalizePeriods = cctx.Bool("finalize-periods")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := setupLogging(cctx, cfg.Logging); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		if cfg.Metrics.ListenAddress != "" {
			shutdown, err := serveMetrics(cfg.Metrics)
			if err != nil {
				return err
			}
			defer shutdown()
		}

		registry := memory.New(cfg.MarketServices(), memory.WithMaxMessageSize(cfg.Server.MaxMessageSize))
		srv, err := session.NewServer(registry,
			session.WithSendBuffer(cfg.Server.SendBufferSize),
			session.WithReceiveBuffer(cfg.Server.ReceiveBufferSize),
			session.WithMaxMessage(cfg.Server.MaxMessageSize),
			session.WithIdleGrace(time.Duration(cfg.Server.IdleGrace)),
			session.WithIdleInterval(time.Duration(cfg.Server.IdleInterval)),
			session.WithDispatcherOptions(market.WithFinalizePeriod(cfg.Server.FinalizePeriods)),
		)
		if err != nil {
			return xerrors.Errorf("creating server: %w", err)
		}
		defer func() {
			if err := srv.Close(); err != nil {
				log.Warnw("closing server", "err", err)
			}
		}()

		if err := srv.Listen(cfg.Server.Network, cfg.Server.ListenAddress); err != nil {
			return err
		}
		log.Infow("market server started", "addr", srv.Addr(), "services", len(cfg.Services))
		return srv.Serve(ctx)
	},
}

// setupLogging applies the configured levels. An explicit --log-level wins
// over the configuration.
func setupLogging(cctx *cli.Context, cfg config.LoggingConfig) error {
	if !cctx.IsSet("log-level") && cfg.Level != "" {
		if err := logging.SetLogLevelRegex(subsystems, cfg.Level); err != nil {
			return xerrors.Errorf("Logging.Level: %w", err)
		}
	}
	for name, level := range cfg.Subsystems {
		if err := logging.SetLogLevel(name, level); err != nil {
			return xerrors.Errorf("Logging.Subsystems.%s: %w", name, err)
		}
	}
	return nil
}

func serveMetrics(cfg config.MetricsConfig) (func(), error) {
	registry := promclient.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := prometheus.NewExporter(prometheus.Options{
		Registry:  registry,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, xerrors.Errorf("creating prometheus exporter: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", exporter)
	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("metrics endpoint failed", "addr", cfg.ListenAddress, "err", err)
		}
	}()
	log.Infow("serving metrics", "addr", cfg.ListenAddress)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}
