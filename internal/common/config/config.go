// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Adapters  AdaptersConfig  `mapstructure:"adapters"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// PipelineConfig sizes the intake queue and the worker pool and sets the
// inference latency budgets.
type PipelineConfig struct {
	QueueCapacity      int `mapstructure:"queue_capacity"`
	WorkerCount        int `mapstructure:"worker_count"`
	HardCeiling        int `mapstructure:"hard_ceiling"`         // milliseconds, parallel-inference join
	SoftBudget         int `mapstructure:"soft_budget"`          // milliseconds, per-operation target
	MetricsInterval    int `mapstructure:"metrics_interval"`     // milliseconds, health broadcast period
	ArchiveBufferSize  int `mapstructure:"archive_buffer_size"`  // pending archive writes
	DegradedFreshness  int `mapstructure:"degraded_freshness"`   // multiplier applied when a breaker is open
	EngagementDecayMin int `mapstructure:"engagement_decay_min"` // minutes until activity stops counting
}

// CacheConfig controls both tiers of the multi-tier cache.
type CacheConfig struct {
	L1TTL           int `mapstructure:"l1_ttl"`           // milliseconds
	L2TTL           int `mapstructure:"l2_ttl"`           // milliseconds
	FreshnessWindow int `mapstructure:"freshness_window"` // milliseconds
	L1MaxEntries    int `mapstructure:"l1_max_entries"`
}

// AdapterConfig holds the connection settings for one inference service.
type AdapterConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Timeout int    `mapstructure:"timeout"` // milliseconds
}

type AdaptersConfig struct {
	Scoring  AdapterConfig `mapstructure:"scoring"`
	Churn    AdapterConfig `mapstructure:"churn"`
	Matching AdapterConfig `mapstructure:"matching"`
}

// BreakerConfig tunes the per-operation circuit breakers.
type BreakerConfig struct {
	MaxFailures int `mapstructure:"max_failures"` // consecutive failures before opening
	Cooldown    int `mapstructure:"cooldown"`     // milliseconds open before half-open trial
}

// BroadcastConfig tunes the subscriber fanout.
type BroadcastConfig struct {
	SendTimeout    int `mapstructure:"send_timeout"`    // milliseconds per connection
	MaxConcurrency int `mapstructure:"max_concurrency"` // parallel sends per broadcast
}

type DatabaseConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// ArchiveConfig controls the intelligence-record archive sink.
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Table   string `mapstructure:"table"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
