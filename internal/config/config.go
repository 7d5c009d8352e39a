package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every setting the correlator needs to boot.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Detector DetectorConfig `yaml:"detector"`
	Trainer  TrainerConfig  `yaml:"trainer"`
	Graph    GraphConfig    `yaml:"graph"`
	Store    StoreConfig    `yaml:"store"`
	Cache    CacheConfig    `yaml:"cache"`
}

// ServerConfig controls the gRPC, HTTP and metrics listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	HTTPAddress     string        `yaml:"httpAddress"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// DetectorConfig tunes batching, link scoring and notification delay.
type DetectorConfig struct {
	Slack               time.Duration `yaml:"slack"`
	ConfidenceThreshold float64       `yaml:"confidenceThreshold"`
	NotifyDelay         time.Duration `yaml:"notifyDelay"`
	InitialAlpha        float64       `yaml:"initialAlpha"`
	InitialBeta         float64       `yaml:"initialBeta"`
	DenialWeight        float64       `yaml:"denialWeight"`
	Severities          []string      `yaml:"severities"`
	MaxAncestorDepth    int           `yaml:"maxAncestorDepth"`
	QueueSize           int           `yaml:"queueSize"`
}

// TrainerConfig drives offline prior estimation.
type TrainerConfig struct {
	HistoryPath   string        `yaml:"historyPath"`
	PriorsPath    string        `yaml:"priorsPath"`
	BatchGap      time.Duration `yaml:"batchGap"`
	TemporalDelta time.Duration `yaml:"temporalDelta"`
	Normalize     bool          `yaml:"normalize"`
	// PersistLinks writes the live link table back to PriorsPath on shutdown,
	// keeping operator feedback across restarts.
	PersistLinks bool `yaml:"persistLinks"`
}

// GraphConfig selects where the service graph comes from.
type GraphConfig struct {
	Path            string        `yaml:"path"`
	Watch           bool          `yaml:"watch"`
	RemoteURL       string        `yaml:"remoteURL"`
	RemotePath      string        `yaml:"remotePath"`
	RefreshInterval time.Duration `yaml:"refreshInterval"`
	Timeout         time.Duration `yaml:"timeout"`
	CacheTTL        time.Duration `yaml:"cacheTTL"`
}

// StoreConfig picks the alert store backend.
type StoreConfig struct {
	Backend   string `yaml:"backend"`
	KeyPrefix string `yaml:"keyPrefix"`
}

// CacheConfig configures the Valkey connection used by the cache-backed store
// and the remote graph cache.
type CacheConfig struct {
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
}

const (
	StoreBackendMemory = "memory"
	StoreBackendValkey = "valkey"
)

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CORRELATOR_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			HTTPAddress:     ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Detector: DetectorConfig{
			Slack:               3 * time.Minute,
			ConfidenceThreshold: 0.25,
			NotifyDelay:         5 * time.Second,
			InitialAlpha:        1,
			InitialBeta:         1,
			DenialWeight:        3,
			Severities:          []string{"critical"},
			QueueSize:           256,
		},
		Trainer: TrainerConfig{
			BatchGap:      15 * time.Minute,
			TemporalDelta: 3 * time.Minute,
			Normalize:     true,
		},
		Graph: GraphConfig{
			Path:       "configs/service_graph.yaml",
			Watch:      true,
			RemotePath: "/api/v1/service-graph",
			Timeout:    5 * time.Second,
			CacheTTL:   5 * time.Minute,
		},
		Store: StoreConfig{Backend: StoreBackendMemory, KeyPrefix: "correlator:"},
		Cache: CacheConfig{
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
	}
}

// Validate rejects settings the detector cannot run with.
func (c *Config) Validate() error {
	d := c.Detector
	if d.Slack < 0 {
		return fmt.Errorf("detector.slack must not be negative")
	}
	if d.NotifyDelay < 0 {
		return fmt.Errorf("detector.notifyDelay must not be negative")
	}
	if d.ConfidenceThreshold < 0 || d.ConfidenceThreshold > 1 {
		return fmt.Errorf("detector.confidenceThreshold must be within [0,1], got %v", d.ConfidenceThreshold)
	}
	if d.InitialAlpha <= 0 || d.InitialBeta <= 0 {
		return fmt.Errorf("detector initial alpha and beta must be positive")
	}
	if d.DenialWeight <= 0 {
		return fmt.Errorf("detector.denialWeight must be positive, got %v", d.DenialWeight)
	}
	if d.MaxAncestorDepth < 0 {
		return fmt.Errorf("detector.maxAncestorDepth must not be negative")
	}
	switch c.Store.Backend {
	case StoreBackendMemory:
	case StoreBackendValkey:
		if c.Cache.Addr == "" {
			return fmt.Errorf("store backend %q requires cache.addr", c.Store.Backend)
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Trainer.BatchGap <= 0 {
		return fmt.Errorf("trainer.batchGap must be positive")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CORRELATOR_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("CORRELATOR_HTTP_ADDRESS"); v != "" {
		cfg.Server.HTTPAddress = v
	}
	if v := os.Getenv("CORRELATOR_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("CORRELATOR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CORRELATOR_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("CORRELATOR_SLACK"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Detector.Slack = d
		}
	}
	if v := os.Getenv("CORRELATOR_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Detector.ConfidenceThreshold = f
		}
	}
	if v := os.Getenv("CORRELATOR_DENIAL_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Detector.DenialWeight = f
		}
	}
	if v := os.Getenv("CORRELATOR_NOTIFY_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Detector.NotifyDelay = d
		}
	}
	if v := os.Getenv("CORRELATOR_SEVERITIES"); v != "" {
		cfg.Detector.Severities = splitList(v)
	}
	if v := os.Getenv("CORRELATOR_MAX_ANCESTOR_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Detector.MaxAncestorDepth = n
		}
	}
	if v := os.Getenv("CORRELATOR_HISTORY_PATH"); v != "" {
		cfg.Trainer.HistoryPath = v
	}
	if v := os.Getenv("CORRELATOR_PRIORS_PATH"); v != "" {
		cfg.Trainer.PriorsPath = v
	}
	if v := os.Getenv("CORRELATOR_GRAPH_PATH"); v != "" {
		cfg.Graph.Path = v
	}
	if v := os.Getenv("CORRELATOR_PERSIST_LINKS"); v != "" {
		cfg.Trainer.PersistLinks = parseBool(v)
	}
	if v := os.Getenv("CORRELATOR_GRAPH_WATCH"); v != "" {
		cfg.Graph.Watch = parseBool(v)
	}
	if v := os.Getenv("CORRELATOR_GRAPH_REMOTE_URL"); v != "" {
		cfg.Graph.RemoteURL = v
	}
	if v := os.Getenv("CORRELATOR_GRAPH_REFRESH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Graph.RefreshInterval = d
		}
	}
	if v := os.Getenv("CORRELATOR_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("CORRELATOR_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("CORRELATOR_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("CORRELATOR_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("CORRELATOR_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("CORRELATOR_CACHE_TLS"); v != "" {
		cfg.Cache.TLS = parseBool(v)
	}
	if v := os.Getenv("CORRELATOR_CACHE_MAX_RETRIES"); v != "" {
		if retry, err := strconv.Atoi(v); err == nil {
			cfg.Cache.MaxRetries = retry
		}
	}
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
