package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-correlator/internal/api"
	"github.com/miradorstack/mirador-correlator/internal/config"
	"github.com/miradorstack/mirador-correlator/internal/engine"
	"github.com/miradorstack/mirador-correlator/internal/metrics"
	"github.com/miradorstack/mirador-correlator/internal/notify"
	"github.com/miradorstack/mirador-correlator/internal/services"
	"github.com/miradorstack/mirador-correlator/internal/training"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the correlator service",
	Long: `Start the detector loop together with the HTTP API (webhook ingestion,
feedback and the live group stream), the gRPC API and the metrics listener.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting mirador-correlator",
		slog.String("grpc", cfg.Server.Address),
		slog.String("http", cfg.Server.HTTPAddress),
		slog.String("store", cfg.Store.Backend))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	provider, err := newCacheProvider(cfg.Cache, logger)
	if err != nil {
		return err
	}
	defer provider.Close()

	g, keepFresh, err := newGraph(ctx, cfg.Graph, provider, logger)
	if err != nil {
		return err
	}

	hub := notify.NewHub(logger)
	notifier := notify.Multi{notify.NewLogNotifier(logger), hub}

	d := cfg.Detector
	detector := engine.New(engine.Config{
		Slack:               d.Slack,
		NotifyDelay:         d.NotifyDelay,
		ConfidenceThreshold: d.ConfidenceThreshold,
		InitialAlpha:        d.InitialAlpha,
		InitialBeta:         d.InitialBeta,
		DenialWeight:        d.DenialWeight,
		Severities:          d.Severities,
		MaxAncestorDepth:    d.MaxAncestorDepth,
		QueueSize:           d.QueueSize,
	}, g, newStore(cfg, provider), notifier, logger)

	priors, err := loadPriors(cfg.Trainer.PriorsPath, logger)
	if err != nil {
		return err
	}
	if len(priors) > 0 {
		seeded := detector.Links().Seed(priors)
		logger.Info("link priors seeded", slog.String("path", cfg.Trainer.PriorsPath), slog.Int("links", seeded))
	}

	svc := services.NewCorrelatorService(logger, detector)

	grpcServer, err := api.NewGRPCServer(cfg.Server.Address, svc)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddress,
		Handler:           api.NewHTTP(logger, svc, hub).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return detector.Run(gctx)
	})
	if keepFresh != nil {
		eg.Go(func() error {
			return keepFresh(gctx)
		})
	}
	eg.Go(func() error {
		logger.Info("gRPC server listening", slog.String("address", grpcServer.Addr()))
		if err := grpcServer.Serve(); err != nil {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		logger.Info("HTTP server listening", slog.String("address", cfg.Server.HTTPAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	if metricsServer != nil {
		eg.Go(func() error {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	eg.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
		defer cancel()
		hub.Close()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown", slog.Any("error", err))
		}
		grpcServer.Shutdown(shutdownCtx)
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown", slog.Any("error", err))
			}
		}
		return nil
	})

	err = eg.Wait()
	if cfg.Trainer.PersistLinks && cfg.Trainer.PriorsPath != "" {
		links := detector.Links().Snapshot()
		if perr := (training.FileStore{Path: cfg.Trainer.PriorsPath}).StorePriors(context.Background(), links); perr != nil {
			logger.Warn("persisting link table failed", slog.Any("error", perr))
		} else {
			logger.Info("link table persisted", slog.String("path", cfg.Trainer.PriorsPath), slog.Int("links", len(links)))
		}
	}
	logger.Info("mirador-correlator stopped")
	return err
}
