package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
	Oracle     OracleConfig     `json:"oracle"`
	Matching   MatchingConfig   `json:"matching"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds

	// APIToken is the bearer credential required on all tenant-scoped
	// endpoints. Empty means auth is disabled (local development only).
	APIToken string `json:"-"`
}

// OracleConfig holds settings for the rule generation oracle.
type OracleConfig struct {
	// Endpoint of the chat-completions API. Empty uses the provider default.
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"-"`
	Model    string `json:"model"`

	// CallTimeout bounds each individual oracle call; exceeding it is a
	// transient, retryable failure.
	CallTimeout time.Duration `json:"callTimeout"`

	// MaxRetries for transient oracle failures; each retry waits
	// RetryDelay multiplied by the attempt number.
	MaxRetries int           `json:"maxRetries"`
	RetryDelay time.Duration `json:"retryDelay"`

	// MaxTransactions caps the history sample sent per generation call.
	MaxTransactions int `json:"maxTransactions"`

	// MinTransactions below which generation is refused (insufficient
	// data for a meaningful pattern).
	MinTransactions int `json:"minTransactions"`

	// RateLimitPerHour caps generation calls per tenant per hour.
	RateLimitPerHour int `json:"rateLimitPerHour"`
}

// MatchingConfig holds settings for the matching session.
type MatchingConfig struct {
	// SnapshotTTL bounds staleness of the cached per-tenant rule set.
	SnapshotTTL time.Duration `json:"snapshotTTL"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
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
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:       "sqlite",
			SQLitePath:   "./kestrel.db",
			MaxRetries:   3,
			RetryBackoff: 200 * time.Millisecond,
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			RuleSetTTL:   30 * time.Second,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Oracle: OracleConfig{
			Model:            "gpt-4o-mini",
			CallTimeout:      30 * time.Second,
			MaxRetries:       3,
			RetryDelay:       2 * time.Second,
			MaxTransactions:  100,
			MinTransactions:  5,
			RateLimitPerHour: 20,
		},
		Matching: MatchingConfig{
			SnapshotTTL: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
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
		PostgresDB:   "kestrel",
		MaxRetries:   3,
		RetryBackoff: 200 * time.Millisecond,
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		RuleSetTTL:     30 * time.Second,
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
