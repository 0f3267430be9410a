package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage drivers
const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Redis       RedisConfig       `yaml:"redis"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Matchmaking MatchmakingConfig `yaml:"matchmaking"`
	Presence    PresenceConfig    `yaml:"presence"`
	Challenge   ChallengeConfig   `yaml:"challenge"`
	Rating      RatingConfig      `yaml:"rating"`
	Worker      WorkerConfig      `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// StorageConfig selects the authoritative store
type StorageConfig struct {
	Driver string `yaml:"driver"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Addr           string        `yaml:"addr"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	PoolSize       int           `yaml:"pool_size"`
	MinIdleConns   int           `yaml:"min_idle_conns"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	ConnectRetries uint64        `yaml:"connect_retries"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Brokers     []string `yaml:"brokers"`
	SetsTopic   string   `yaml:"sets_topic"`
	EventsTopic string   `yaml:"events_topic"`
	GroupID     string   `yaml:"group_id"`
	// Set results that could not be recorded are forwarded here
	DeadLetterTopic string `yaml:"dead_letter_topic"`
}

// MatchmakingConfig holds candidate search defaults
type MatchmakingConfig struct {
	RatingWindow  int     `yaml:"rating_window"`
	MaxDistanceKm float64 `yaml:"max_distance_km"`
	DefaultLimit  int     `yaml:"default_limit"`
	MaxLimit      int     `yaml:"max_limit"`
	PoolSize      int     `yaml:"pool_size"`
}

// PresenceConfig holds presence decay and replication settings
type PresenceConfig struct {
	AwayAfter    time.Duration `yaml:"away_after"`
	OfflineAfter time.Duration `yaml:"offline_after"`
	Channel      string        `yaml:"channel"`
}

// ChallengeConfig holds challenge expiry settings
type ChallengeConfig struct {
	DefaultTTL time.Duration `yaml:"default_ttl"`
	MaxTTL     time.Duration `yaml:"max_ttl"`
}

// RatingConfig holds rating application retry settings
type RatingConfig struct {
	RetryAttempts        uint64        `yaml:"retry_attempts"`
	RetryInitialInterval time.Duration `yaml:"retry_initial_interval"`
}

// WorkerConfig holds the rating outbox worker configuration
type WorkerConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
	Enabled   bool          `yaml:"enabled"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration after expanding environment variables
func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case StorageDriverPostgres, StorageDriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Presence.OfflineAfter < c.Presence.AwayAfter {
		return fmt.Errorf("presence.offline_after (%s) must not be shorter than presence.away_after (%s)",
			c.Presence.OfflineAfter, c.Presence.AwayAfter)
	}
	if c.Challenge.MaxTTL < c.Challenge.DefaultTTL {
		return fmt.Errorf("challenge.max_ttl (%s) must not be shorter than challenge.default_ttl (%s)",
			c.Challenge.MaxTTL, c.Challenge.DefaultTTL)
	}
	return nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageDriverPostgres
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 50
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 5
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}
	if c.Redis.ConnectRetries == 0 {
		c.Redis.ConnectRetries = 5
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 50
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 5
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.SetsTopic == "" {
		c.Kafka.SetsTopic = "match-set-results"
	}
	if c.Kafka.EventsTopic == "" {
		c.Kafka.EventsTopic = "match-events"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "match-engine"
	}
	if c.Kafka.DeadLetterTopic == "" {
		c.Kafka.DeadLetterTopic = "match-set-results-dlq"
	}

	// Matchmaking defaults
	if c.Matchmaking.RatingWindow == 0 {
		c.Matchmaking.RatingWindow = 150
	}
	if c.Matchmaking.DefaultLimit == 0 {
		c.Matchmaking.DefaultLimit = 10
	}
	if c.Matchmaking.MaxLimit == 0 {
		c.Matchmaking.MaxLimit = 50
	}
	if c.Matchmaking.PoolSize == 0 {
		c.Matchmaking.PoolSize = 500
	}

	// Presence defaults
	if c.Presence.AwayAfter == 0 {
		c.Presence.AwayAfter = 2 * time.Minute
	}
	if c.Presence.OfflineAfter == 0 {
		c.Presence.OfflineAfter = 10 * time.Minute
	}
	if c.Presence.Channel == "" {
		c.Presence.Channel = "presence"
	}

	// Challenge defaults
	if c.Challenge.DefaultTTL == 0 {
		c.Challenge.DefaultTTL = 15 * time.Minute
	}
	if c.Challenge.MaxTTL == 0 {
		c.Challenge.MaxTTL = 24 * time.Hour
	}

	// Rating defaults
	if c.Rating.RetryAttempts == 0 {
		c.Rating.RetryAttempts = 5
	}
	if c.Rating.RetryInitialInterval == 0 {
		c.Rating.RetryInitialInterval = 100 * time.Millisecond
	}

	// Worker defaults
	if c.Worker.Interval == 0 {
		c.Worker.Interval = 30 * time.Second
	}
	if c.Worker.BatchSize == 0 {
		c.Worker.BatchSize = 100
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Worker.Enabled = true
	return cfg
}
