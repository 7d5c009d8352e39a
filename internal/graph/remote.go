package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/miradorstack/mirador-correlator/internal/cache"
)

const remoteCacheKey = "graph:edges"

// RemoteSource fetches dependency edges derived from servicegraph metrics.
// Each edge reports a caller (source) and a callee (target); the callee is
// the upstream dependency, so it becomes the parent.
type RemoteSource struct {
	endpoint   string
	httpClient *http.Client
	cache      cache.Provider
	cacheTTL   time.Duration
	logger     *slog.Logger
}

// NewRemoteSource targets baseURL+graphPath. A nil provider disables caching.
func NewRemoteSource(baseURL, graphPath string, timeout time.Duration, provider cache.Provider, ttl time.Duration, logger *slog.Logger) *RemoteSource {
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteSource{
		endpoint:   resolvePath(strings.TrimRight(baseURL, "/"), graphPath),
		httpClient: &http.Client{Timeout: timeout},
		cache:      provider,
		cacheTTL:   ttl,
		logger:     logger,
	}
}

type remoteEdge struct {
	Source    string  `json:"source"`
	Target    string  `json:"target"`
	CallRate  float64 `json:"call_rate,omitempty"`
	ErrorRate float64 `json:"error_rate,omitempty"`
}

// Edges returns the current edge set, served from cache while fresh.
func (s *RemoteSource) Edges(ctx context.Context) ([]Edge, error) {
	if s.endpoint == "" {
		return nil, errors.New("service graph endpoint not configured")
	}

	if data, err := s.cache.Get(ctx, remoteCacheKey); err == nil {
		var cached []remoteEdge
		if err := json.Unmarshal(data, &cached); err == nil {
			return toEdges(cached), nil
		}
		s.logger.Warn("discarding undecodable cached service graph")
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("service graph cache read failed", slog.Any("error", err))
	}

	var response struct {
		Edges []remoteEdge `json:"edges"`
	}
	if err := s.postJSON(ctx, map[string]any{}, &response); err != nil {
		return nil, fmt.Errorf("service graph request failed: %w", err)
	}
	if len(response.Edges) == 0 {
		return nil, errors.New("service graph returned no edges")
	}

	if data, err := json.Marshal(response.Edges); err == nil {
		if err := s.cache.Set(ctx, remoteCacheKey, data, s.cacheTTL); err != nil {
			s.logger.Warn("service graph cache write failed", slog.Any("error", err))
		}
	}
	return toEdges(response.Edges), nil
}

func toEdges(raw []remoteEdge) []Edge {
	edges := make([]Edge, 0, len(raw))
	for _, e := range raw {
		edges = append(edges, Edge{Parent: e.Target, Child: e.Source})
	}
	return edges
}

func (s *RemoteSource) postJSON(ctx context.Context, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service graph endpoint returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func resolvePath(baseURL, p string) string {
	if baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(baseURL)
	if err != nil {
		return baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

// Refresh calls Update every interval until ctx is cancelled. Failures are
// logged and the previous graph is kept.
func Refresh(ctx context.Context, g *ServiceGraph, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.Update(ctx); err != nil {
				g.logger.Warn("service graph refresh failed", slog.Any("error", err))
			}
		}
	}
}
