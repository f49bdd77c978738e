package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Chain         ChainConfig         `yaml:"chain"`
	Tx            TxConfig            `yaml:"tx"`
	Retry         RetryConfig         `yaml:"retry"`
	Redis         RedisConfig         `yaml:"redis"`
	Postgres      PostgresConfig      `yaml:"postgres"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Sync          SyncConfig          `yaml:"sync"`
	Leaderboard   LeaderboardConfig   `yaml:"leaderboard"`
	Marketplace   MarketplaceConfig   `yaml:"marketplace"`
	Rewards       RewardsConfig       `yaml:"rewards"`
	Game          GameConfig          `yaml:"game"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// ChainConfig holds the RPC endpoint, wallet key and contract addresses
type ChainConfig struct {
	RPCURL     string `yaml:"rpc_url"`
	ChainID    int64  `yaml:"chain_id"`
	PrivateKey string `yaml:"private_key"`

	CeloRunner  string `yaml:"celo_runner"`
	Badge       string `yaml:"badge"`
	Marketplace string `yaml:"marketplace"`
	QuestToken  string `yaml:"quest_token"`

	ExplorerURL string `yaml:"explorer_url"`
}

// TxConfig holds write adapter settings
type TxConfig struct {
	// SuccessHold is how long a confirmed transaction hash stays visible
	SuccessHold time.Duration `yaml:"success_hold"`
}

// RetryConfig holds the read retry policy
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	SnapshotTTL  time.Duration `yaml:"snapshot_ttl"`
	Enabled      bool          `yaml:"enabled"`
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
	Enabled         bool          `yaml:"enabled"`
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
	Brokers       []string      `yaml:"brokers"`
	Topic         string        `yaml:"topic"`
	GroupID       string        `yaml:"group_id"`
	Enabled       bool          `yaml:"enabled"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// SyncConfig holds the periodic chain refresh configuration
type SyncConfig struct {
	Interval time.Duration `yaml:"interval"`
	Enabled  bool          `yaml:"enabled"`
}

// LeaderboardConfig holds leaderboard-specific configuration
type LeaderboardConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
}

// MarketplaceConfig holds marketplace scan settings
type MarketplaceConfig struct {
	// ProbeCeiling bounds the scan when totalSupply cannot be read
	ProbeCeiling    uint64        `yaml:"probe_ceiling"`
	IPFSGateway     string        `yaml:"ipfs_gateway"`
	MetadataTimeout time.Duration `yaml:"metadata_timeout"`
	ScanRate        float64       `yaml:"scan_rate"`
	ScanBurst       int           `yaml:"scan_burst"`
}

// RewardsConfig holds the refresh delays after a claim
type RewardsConfig struct {
	RefreshDelay        time.Duration `yaml:"refresh_delay"`
	PartialRefreshDelay time.Duration `yaml:"partial_refresh_delay"`
}

// GameConfig holds the simulated run settings
type GameConfig struct {
	RunDuration   time.Duration `yaml:"run_duration"`
	QuizQuestions int           `yaml:"quiz_questions"`
	QuizPass      int           `yaml:"quiz_pass"`
}

// NotificationsConfig holds notification display settings
type NotificationsConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
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

	// Chain defaults (Celo Sepolia)
	if c.Chain.RPCURL == "" {
		c.Chain.RPCURL = "https://forno.celo-sepolia.celo-testnet.org/"
	}
	if c.Chain.ChainID == 0 {
		c.Chain.ChainID = 11142220
	}
	if c.Chain.CeloRunner == "" {
		c.Chain.CeloRunner = "0x4588b0ff4016952e4391dea6dcc7f9a1484ac7b6"
	}
	if c.Chain.Badge == "" {
		c.Chain.Badge = "0x7b72c0e84012f868fe9a4164a8122593d0f38b84"
	}
	if c.Chain.Marketplace == "" {
		c.Chain.Marketplace = "0x370f6701cFDECC0A9D744a12b156317AA3CE32D1"
	}
	if c.Chain.QuestToken == "" {
		c.Chain.QuestToken = "0x48e2e16a5cfe127fbfc76f3fd85163bbae64a861"
	}
	if c.Chain.ExplorerURL == "" {
		c.Chain.ExplorerURL = "https://explorer.celo-sepolia.celo-testnet.org"
	}

	if c.Tx.SuccessHold == 0 {
		c.Tx.SuccessHold = 3 * time.Second
	}

	// Retry defaults
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.InitialBackoff == 0 {
		c.Retry.InitialBackoff = 250 * time.Millisecond
	}
	if c.Retry.MaxBackoff == 0 {
		c.Retry.MaxBackoff = 4 * time.Second
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = 2
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 20
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 2
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
	if c.Redis.SnapshotTTL == 0 {
		c.Redis.SnapshotTTL = 24 * time.Hour
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 10
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 1
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
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "celo-runner-runs"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "celo-runner-client"
	}
	if c.Kafka.RetryAttempts == 0 {
		c.Kafka.RetryAttempts = 3
	}
	if c.Kafka.RetryDelay == 0 {
		c.Kafka.RetryDelay = 1 * time.Second
	}

	// Sync defaults
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 1 * time.Minute
	}

	// Leaderboard defaults
	if c.Leaderboard.DefaultLimit == 0 {
		c.Leaderboard.DefaultLimit = 10
	}
	if c.Leaderboard.MaxLimit == 0 {
		c.Leaderboard.MaxLimit = 100
	}

	// Marketplace defaults
	if c.Marketplace.ProbeCeiling == 0 {
		c.Marketplace.ProbeCeiling = 100
	}
	if c.Marketplace.IPFSGateway == "" {
		c.Marketplace.IPFSGateway = "https://gateway.pinata.cloud/ipfs/"
	}
	if c.Marketplace.MetadataTimeout == 0 {
		c.Marketplace.MetadataTimeout = 5 * time.Second
	}
	if c.Marketplace.ScanRate == 0 {
		c.Marketplace.ScanRate = 20
	}
	if c.Marketplace.ScanBurst == 0 {
		c.Marketplace.ScanBurst = 5
	}

	// Rewards defaults
	if c.Rewards.RefreshDelay == 0 {
		c.Rewards.RefreshDelay = 2 * time.Second
	}
	if c.Rewards.PartialRefreshDelay == 0 {
		c.Rewards.PartialRefreshDelay = 3 * time.Second
	}

	// Game defaults
	if c.Game.RunDuration == 0 {
		c.Game.RunDuration = 5 * time.Second
	}
	if c.Game.QuizQuestions == 0 {
		c.Game.QuizQuestions = 5
	}
	if c.Game.QuizPass == 0 {
		c.Game.QuizPass = 3
	}

	if c.Notifications.DefaultTimeout == 0 {
		c.Notifications.DefaultTimeout = 5 * time.Second
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Sync.Enabled = true
	return cfg
}
