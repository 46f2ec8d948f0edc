package domain

import "time"

// Config holds the complete Harrier configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" envconfig:"SERVER"`

	// Tier determines which backends are used by default
	Tier Tier `json:"tier" envconfig:"TIER"`

	// Model artifact source
	Model ModelConfig `json:"model" envconfig:"MODEL"`

	// Scoring defaults applied when a request omits a value
	Scoring ScoringConfig `json:"scoring" envconfig:"SCORING"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" envconfig:"REPOSITORY"`
	Cache      CacheConfig      `json:"cache" envconfig:"CACHE"`
	EventBus   EventBusConfig   `json:"eventBus" envconfig:"EVENTBUS"`

	// Observability
	Logging LoggingConfig `json:"logging" envconfig:"LOG"`
	Tracing TracingConfig `json:"tracing" envconfig:"TRACING"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" envconfig:"HOST"`
	Port         int    `json:"port" envconfig:"PORT"`
	ReadTimeout  int    `json:"readTimeout" envconfig:"READ_TIMEOUT"`   // seconds
	WriteTimeout int    `json:"writeTimeout" envconfig:"WRITE_TIMEOUT"` // seconds
	MaxBodyBytes int64  `json:"maxBodyBytes" envconfig:"MAX_BODY_BYTES"`
}

// ModelConfig selects the model artifact loaded at startup.
// Path wins over the registry; an empty Version means the active one.
type ModelConfig struct {
	Path    string `json:"path" envconfig:"PATH"`
	Version string `json:"version" envconfig:"VERSION"`
}

// ScoringConfig holds request defaults and engine tuning.
type ScoringConfig struct {
	DefaultThreshold float64 `json:"defaultThreshold" envconfig:"DEFAULT_THRESHOLD"`
	DefaultTopK      int     `json:"defaultTopK" envconfig:"DEFAULT_TOPK"`
	DefaultTopN      int     `json:"defaultTopN" envconfig:"DEFAULT_TOPN"`

	// MaxWorkers bounds parallel row scoring; 1 scores sequentially.
	MaxWorkers int `json:"maxWorkers" envconfig:"MAX_WORKERS"`

	// ReviewLimit caps the flagged rows listed in one review notification.
	ReviewLimit int `json:"reviewLimit" envconfig:"REVIEW_LIMIT"`

	// ReviewQueueSize bounds the review requests kept per tenant for GET /reviews.
	ReviewQueueSize int `json:"reviewQueueSize" envconfig:"REVIEW_QUEUE_SIZE"`
}

// RequestDefaults returns the configured per-request defaults.
func (c ScoringConfig) RequestDefaults() RequestConfig {
	return RequestConfig{
		Threshold: c.DefaultThreshold,
		TopK:      c.DefaultTopK,
		TopN:      c.DefaultTopN,
	}
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" envconfig:"LEVEL"`   // debug, info, warn, error
	Format string `json:"format" envconfig:"FORMAT"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" envconfig:"ENABLED"`
	ServiceName string `json:"serviceName" envconfig:"SERVICE_NAME"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity uses SQLite, an in-memory cache and channels
	TierCommunity Tier = "community"

	// TierPro uses PostgreSQL, Redis and NATS
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
			MaxBodyBytes: 64 << 20,
		},
		Tier: TierCommunity,
		Scoring: ScoringConfig{
			DefaultThreshold: DefaultThreshold,
			DefaultTopK:      DefaultTopK,
			DefaultTopN:      DefaultTopN,
			MaxWorkers:       4,
			ReviewLimit:      500,
			ReviewQueueSize:  100,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 1000,
			LocalTTL:     5 * time.Minute,
			BatchTTL:     30 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "harrier",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "harrier",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   200,
		LocalTTL:       time.Minute,
		BatchTTL:       30 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
