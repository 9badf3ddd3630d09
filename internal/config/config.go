// Package config loads service configuration. Values come from an optional
// JSON file, then defaults fill what the file left empty, then POSTSEARCH_*
// environment variables override both.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lostnfound/postsearch/internal/embedder"
	"github.com/lostnfound/postsearch/internal/jobs"
	"github.com/lostnfound/postsearch/internal/logging"
	"github.com/lostnfound/postsearch/internal/searcher"
	"github.com/lostnfound/postsearch/internal/syncer"
)

// Storage drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Queue backends
const (
	QueueMemory = "memory"
	QueueRedis  = "redis"
)

// DefaultPath is read when no --config flag is given. A missing file is not an error.
const DefaultPath = "postsearch.json"

// Config is the full service configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Storage  StorageConfig  `json:"storage"`
	Embedder EmbedderConfig `json:"embedder"`
	Search   SearchConfig   `json:"search"`
	Sync     SyncConfig     `json:"sync"`
	Queue    QueueConfig    `json:"queue"`
	Log      logging.Config `json:"log"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Port               string   `json:"port"`
	GinMode            string   `json:"gin_mode"`
	AllowedOrigins     []string `json:"allowed_origins"`
	RateLimitPerMinute int      `json:"rate_limit_per_minute"`
}

// StorageConfig selects and configures the post store
type StorageConfig struct {
	Driver   string `json:"driver"`    // sqlite, postgres, memory
	Path     string `json:"path"`      // SQLite database file
	DSN      string `json:"dsn"`       // PostgreSQL connection string
	MaxConns int32  `json:"max_conns"` // PostgreSQL pool size
}

// EmbedderConfig selects the embedding provider
type EmbedderConfig struct {
	Provider  string `json:"provider"` // jina, openai, ollama, local; empty detects from env
	APIKey    string `json:"api_key"`
	BaseURL   string `json:"base_url"`
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
	CacheSize int    `json:"cache_size"`
}

// SearchConfig mirrors searcher.Config with JSON-friendly durations
type SearchConfig struct {
	DefaultPageSize     int     `json:"default_page_size"`
	MaxPageSize         int     `json:"max_page_size"`
	MaxRadiusKm         float64 `json:"max_radius_km"`
	SimilarRadiusKm     float64 `json:"similar_radius_km"`
	DefaultSimilarLimit int     `json:"default_similar_limit"`
	MaxSimilarLimit     int     `json:"max_similar_limit"`
	MaxSearchTextLength int     `json:"max_search_text_length"`
	QueryTimeoutSec     int     `json:"query_timeout_sec"`
	QueryCacheSize      int     `json:"query_cache_size"`
	QueryCacheTTLSec    int     `json:"query_cache_ttl_sec"`
}

// SyncConfig configures the embedding sync service, its sweep and the job worker
type SyncConfig struct {
	ProviderTimeoutSec int `json:"provider_timeout_sec"`
	MaxRestarts        int `json:"max_restarts"`
	SweepWorkers       int `json:"sweep_workers"`
	SweepBatchSize     int `json:"sweep_batch_size"`
	SweepIntervalSec   int `json:"sweep_interval_sec"`   // 0 disables the periodic sweep in serve
	ProcessingLeaseSec int `json:"processing_lease_sec"` // <0 never retries posts stuck in Processing

	WorkerConcurrency int `json:"worker_concurrency"`
	WorkerMaxAttempts int `json:"worker_max_attempts"`
	WorkerBackoffMs   int `json:"worker_backoff_ms"`
	WorkerMaxBackoffS int `json:"worker_max_backoff_sec"`
	JobTimeoutSec     int `json:"job_timeout_sec"`
}

// QueueConfig selects where sync jobs travel
type QueueConfig struct {
	Backend       string `json:"backend"` // memory, redis
	Size          int    `json:"size"`    // memory queue buffer
	RedisHost     string `json:"redis_host"`
	RedisPort     int    `json:"redis_port"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
	RedisKey      string `json:"redis_key"`
}

// Load reads path (missing file allowed), applies defaults and environment
// overrides, and validates the result
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if err := loadJSON(path, cfg); err != nil {
			return nil, err
		}
	}
	applyDefaults(cfg)
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadJSON(path string, out *Config) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(c *Config) {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.GinMode == "" {
		c.Server.GinMode = "release"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.RateLimitPerMinute == 0 {
		c.Server.RateLimitPerMinute = 120
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverSQLite
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "postsearch.db"
	}
	if c.Storage.MaxConns == 0 {
		c.Storage.MaxConns = 10
	}

	if c.Embedder.CacheSize == 0 {
		c.Embedder.CacheSize = embedder.DefaultCacheSize
	}

	d := searcher.DefaultConfig()
	s := &c.Search
	if s.DefaultPageSize == 0 {
		s.DefaultPageSize = d.DefaultPageSize
	}
	if s.MaxPageSize == 0 {
		s.MaxPageSize = d.MaxPageSize
	}
	if s.MaxRadiusKm == 0 {
		s.MaxRadiusKm = d.MaxRadiusKm
	}
	if s.SimilarRadiusKm == 0 {
		s.SimilarRadiusKm = d.SimilarRadiusKm
	}
	if s.DefaultSimilarLimit == 0 {
		s.DefaultSimilarLimit = d.DefaultSimilarLimit
	}
	if s.MaxSimilarLimit == 0 {
		s.MaxSimilarLimit = d.MaxSimilarLimit
	}
	if s.MaxSearchTextLength == 0 {
		s.MaxSearchTextLength = d.MaxSearchTextLength
	}
	if s.QueryTimeoutSec == 0 {
		s.QueryTimeoutSec = int(d.QueryTimeout / time.Second)
	}
	if s.QueryCacheSize == 0 {
		s.QueryCacheSize = d.QueryCacheSize
	}
	if s.QueryCacheTTLSec == 0 {
		s.QueryCacheTTLSec = int(d.QueryCacheTTL / time.Second)
	}

	y := &c.Sync
	if y.ProviderTimeoutSec == 0 {
		y.ProviderTimeoutSec = int(syncer.DefaultProviderTimeout / time.Second)
	}
	if y.MaxRestarts == 0 {
		y.MaxRestarts = syncer.DefaultMaxRestarts
	}
	if y.SweepBatchSize == 0 {
		y.SweepBatchSize = 100
	}
	if y.ProcessingLeaseSec == 0 {
		y.ProcessingLeaseSec = int(syncer.DefaultProcessingLease / time.Second)
	}
	if y.WorkerConcurrency == 0 {
		y.WorkerConcurrency = 4
	}
	if y.WorkerMaxAttempts == 0 {
		y.WorkerMaxAttempts = 3
	}
	if y.WorkerBackoffMs == 0 {
		y.WorkerBackoffMs = 1000
	}
	if y.WorkerMaxBackoffS == 0 {
		y.WorkerMaxBackoffS = 30
	}
	if y.JobTimeoutSec == 0 {
		y.JobTimeoutSec = 120
	}

	q := &c.Queue
	if q.Backend == "" {
		q.Backend = QueueMemory
	}
	if q.Size == 0 {
		q.Size = jobs.DefaultMemoryQueueSize
	}
	if q.RedisHost == "" {
		q.RedisHost = "127.0.0.1"
	}
	if q.RedisPort == 0 {
		q.RedisPort = 6379
	}
	if q.RedisKey == "" {
		q.RedisKey = jobs.DefaultRedisKey
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func applyEnvOverrides(c *Config) error {
	var errs []error
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid integer %q", key, v))
				return
			}
			*dst = n
		}
	}

	str("POSTSEARCH_PORT", &c.Server.Port)
	str("GIN_MODE", &c.Server.GinMode)
	if v := os.Getenv("POSTSEARCH_ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}
	num("POSTSEARCH_RATE_LIMIT_PER_MINUTE", &c.Server.RateLimitPerMinute)

	str("POSTSEARCH_STORAGE_DRIVER", &c.Storage.Driver)
	str("POSTSEARCH_DB_PATH", &c.Storage.Path)
	str("POSTSEARCH_DATABASE_URL", &c.Storage.DSN)
	if v := os.Getenv("POSTSEARCH_DB_MAX_CONNS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			errs = append(errs, fmt.Errorf("POSTSEARCH_DB_MAX_CONNS: invalid integer %q", v))
		} else {
			c.Storage.MaxConns = int32(n)
		}
	}

	str(embedder.EnvProvider, &c.Embedder.Provider)
	str("POSTSEARCH_EMBEDDING_BASE_URL", &c.Embedder.BaseURL)
	str("POSTSEARCH_EMBEDDING_MODEL", &c.Embedder.Model)
	num("POSTSEARCH_EMBEDDING_DIMENSION", &c.Embedder.Dimension)
	str("POSTSEARCH_EMBEDDING_API_KEY", &c.Embedder.APIKey)
	if c.Embedder.APIKey == "" {
		switch strings.ToLower(c.Embedder.Provider) {
		case embedder.ProviderJina:
			c.Embedder.APIKey = os.Getenv(embedder.EnvJinaAPIKey)
		case embedder.ProviderOpenAI:
			c.Embedder.APIKey = os.Getenv(embedder.EnvOpenAIAPIKey)
		}
	}

	num("POSTSEARCH_PROVIDER_TIMEOUT_SEC", &c.Sync.ProviderTimeoutSec)
	num("POSTSEARCH_SWEEP_WORKERS", &c.Sync.SweepWorkers)
	num("POSTSEARCH_SWEEP_BATCH_SIZE", &c.Sync.SweepBatchSize)
	num("POSTSEARCH_SWEEP_INTERVAL_SEC", &c.Sync.SweepIntervalSec)
	num("POSTSEARCH_PROCESSING_LEASE_SEC", &c.Sync.ProcessingLeaseSec)
	num("POSTSEARCH_WORKER_CONCURRENCY", &c.Sync.WorkerConcurrency)

	str("POSTSEARCH_QUEUE", &c.Queue.Backend)
	str("REDIS_HOST", &c.Queue.RedisHost)
	num("REDIS_PORT", &c.Queue.RedisPort)
	num("REDIS_DB", &c.Queue.RedisDB)
	str("REDIS_PASSWORD", &c.Queue.RedisPassword)

	str("POSTSEARCH_LOG_LEVEL", &c.Log.Level)
	str("POSTSEARCH_LOG_PATH", &c.Log.Path)

	return errors.Join(errs...)
}

func splitList(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// Validate checks names and numeric ranges
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.Path == "" {
			bad("storage.path is required for sqlite")
		}
	case DriverPostgres:
		if c.Storage.DSN == "" {
			bad("storage.dsn is required for postgres")
		}
	case DriverMemory:
	default:
		bad("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.MaxConns < 1 {
		bad("storage.max_conns must be positive")
	}

	switch strings.ToLower(c.Embedder.Provider) {
	case "", embedder.ProviderJina, embedder.ProviderOpenAI, embedder.ProviderOllama, embedder.ProviderLocal:
	default:
		bad("unknown embedding provider %q", c.Embedder.Provider)
	}
	if c.Embedder.Dimension < 0 {
		bad("embedder.dimension must not be negative")
	}

	s := c.Search
	if s.DefaultPageSize < 1 || s.MaxPageSize < s.DefaultPageSize {
		bad("search page sizes must satisfy 1 <= default_page_size <= max_page_size")
	}
	if s.MaxRadiusKm <= 0 || s.SimilarRadiusKm <= 0 || s.SimilarRadiusKm > s.MaxRadiusKm {
		bad("search radii must satisfy 0 < similar_radius_km <= max_radius_km")
	}
	if s.DefaultSimilarLimit < 1 || s.MaxSimilarLimit < s.DefaultSimilarLimit {
		bad("similar limits must satisfy 1 <= default_similar_limit <= max_similar_limit")
	}
	if s.MaxSearchTextLength < 1 || s.QueryTimeoutSec < 1 || s.QueryCacheTTLSec < 1 {
		bad("search text length, query timeout and cache ttl must be positive")
	}
	if s.QueryCacheSize < 0 {
		bad("search.query_cache_size must not be negative")
	}

	y := c.Sync
	if y.ProviderTimeoutSec < 1 || y.JobTimeoutSec < 1 {
		bad("sync timeouts must be positive")
	}
	if y.MaxRestarts < 0 || y.SweepWorkers < 0 || y.SweepIntervalSec < 0 {
		bad("sync restarts, sweep workers and sweep interval must not be negative")
	}
	if y.WorkerConcurrency < 1 || y.WorkerMaxAttempts < 1 {
		bad("worker concurrency and max attempts must be positive")
	}

	switch c.Queue.Backend {
	case QueueMemory, QueueRedis:
	default:
		bad("unknown queue backend %q", c.Queue.Backend)
	}
	if c.Queue.RedisPort < 1 || c.Queue.RedisPort > 65535 {
		bad("queue.redis_port out of range")
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Server.RateLimitPerMinute < 0 {
		bad("server.rate_limit_per_minute must not be negative")
	}

	return errors.Join(errs...)
}

// SearcherConfig converts the search section
func (c *Config) SearcherConfig() searcher.Config {
	s := c.Search
	return searcher.Config{
		DefaultPageSize:     s.DefaultPageSize,
		MaxPageSize:         s.MaxPageSize,
		MaxRadiusKm:         s.MaxRadiusKm,
		SimilarRadiusKm:     s.SimilarRadiusKm,
		DefaultSimilarLimit: s.DefaultSimilarLimit,
		MaxSimilarLimit:     s.MaxSimilarLimit,
		MaxSearchTextLength: s.MaxSearchTextLength,
		QueryTimeout:        time.Duration(s.QueryTimeoutSec) * time.Second,
		QueryCacheSize:      s.QueryCacheSize,
		QueryCacheTTL:       time.Duration(s.QueryCacheTTLSec) * time.Second,
	}
}

// EmbedderConfig converts the embedder section
func (c *Config) EmbedderConfig() embedder.Config {
	e := c.Embedder
	return embedder.Config{
		Provider:  e.Provider,
		APIKey:    e.APIKey,
		BaseURL:   e.BaseURL,
		Model:     e.Model,
		Dimension: e.Dimension,
		CacheSize: e.CacheSize,
	}
}

// SweepConfig converts the sweep settings
func (c *Config) SweepConfig() syncer.SweepConfig {
	return syncer.SweepConfig{
		Workers:         c.Sync.SweepWorkers,
		BatchSize:       c.Sync.SweepBatchSize,
		ProcessingLease: time.Duration(c.Sync.ProcessingLeaseSec) * time.Second,
	}
}

// WorkerConfig converts the job worker settings
func (c *Config) WorkerConfig() jobs.WorkerConfig {
	y := c.Sync
	return jobs.WorkerConfig{
		Concurrency: y.WorkerConcurrency,
		MaxAttempts: y.WorkerMaxAttempts,
		BaseBackoff: time.Duration(y.WorkerBackoffMs) * time.Millisecond,
		MaxBackoff:  time.Duration(y.WorkerMaxBackoffS) * time.Second,
		JobTimeout:  time.Duration(y.JobTimeoutSec) * time.Second,
	}
}

// RedisConfig converts the Redis queue settings
func (c *Config) RedisConfig() jobs.RedisConfig {
	q := c.Queue
	return jobs.RedisConfig{
		Host:     q.RedisHost,
		Port:     q.RedisPort,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
		Key:      q.RedisKey,
	}
}
