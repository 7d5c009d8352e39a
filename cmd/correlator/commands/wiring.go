package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/miradorstack/mirador-correlator/internal/cache"
	"github.com/miradorstack/mirador-correlator/internal/config"
	"github.com/miradorstack/mirador-correlator/internal/graph"
	"github.com/miradorstack/mirador-correlator/internal/models"
	"github.com/miradorstack/mirador-correlator/internal/store"
	"github.com/miradorstack/mirador-correlator/internal/store/cachestore"
	"github.com/miradorstack/mirador-correlator/internal/store/memstore"
	"github.com/miradorstack/mirador-correlator/internal/training"
)

// newCacheProvider dials Valkey when an address is configured and otherwise
// falls back to an in-process cache.
func newCacheProvider(cfg config.CacheConfig, logger *slog.Logger) (cache.Provider, error) {
	if cfg.Addr == "" {
		return cache.NewMemoryProvider(), nil
	}
	provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
		TLS:          cfg.TLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connect valkey %s: %w", cfg.Addr, err)
	}
	logger.Info("valkey connected", slog.String("addr", cfg.Addr))
	return provider, nil
}

func newStore(cfg *config.Config, provider cache.Provider) store.Store {
	if cfg.Store.Backend == config.StoreBackendValkey {
		return cachestore.New(provider, cfg.Store.KeyPrefix)
	}
	return memstore.New()
}

// graphRunner keeps the graph fresh in the background until ctx ends.
type graphRunner func(ctx context.Context) error

// newGraph builds the service graph from the remote endpoint when one is
// configured, otherwise from the YAML file. The returned runner watches the
// file or polls the endpoint; it is nil when nothing needs to run.
func newGraph(ctx context.Context, cfg config.GraphConfig, provider cache.Provider, logger *slog.Logger) (*graph.ServiceGraph, graphRunner, error) {
	if cfg.RemoteURL != "" {
		src := graph.NewRemoteSource(cfg.RemoteURL, cfg.RemotePath, cfg.Timeout, provider, cfg.CacheTTL, logger)
		g := graph.New(graph.WithSource(src), graph.WithLogger(logger))
		if err := g.Update(ctx); err != nil {
			return nil, nil, fmt.Errorf("initial service graph fetch: %w", err)
		}
		logger.Info("service graph loaded", slog.String("source", cfg.RemoteURL), slog.Int("nodes", g.Len()))
		if cfg.RefreshInterval <= 0 {
			return g, nil, nil
		}
		return g, func(ctx context.Context) error {
			graph.Refresh(ctx, g, cfg.RefreshInterval)
			return nil
		}, nil
	}

	g, err := graph.Load(cfg.Path, graph.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	logger.Info("service graph loaded", slog.String("source", cfg.Path), slog.Int("nodes", g.Len()))
	if !cfg.Watch {
		return g, nil, nil
	}
	w, err := graph.NewWatcher(g, cfg.Path, 0, logger)
	if err != nil {
		return nil, nil, err
	}
	return g, w.Run, nil
}

// loadPriors reads trained priors; a missing file is not an error.
func loadPriors(path string, logger *slog.Logger) ([]models.LinkPrior, error) {
	if path == "" {
		return nil, nil
	}
	priors, err := training.LoadPriors(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("priors file not found, starting from uniform priors", slog.String("path", path))
			return nil, nil
		}
		return nil, err
	}
	return priors, nil
}
