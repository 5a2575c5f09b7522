package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for a configchain node.
type Config struct {
	Node      NodeConfig      `mapstructure:"node"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Consensus ConsensusConfig `mapstructure:"consensus"`
	Gossip    GossipConfig    `mapstructure:"gossip"`
	API       APIConfig       `mapstructure:"api"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// NodeConfig holds node-specific configuration.
type NodeConfig struct {
	ID      string `mapstructure:"id"`
	DataDir string `mapstructure:"data_dir"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// ConsensusConfig holds consensus engine configuration, including the
// genesis configuration the chain boots with.
type ConsensusConfig struct {
	BlockInterval time.Duration `mapstructure:"block_interval"`
	Genesis       GenesisConfig `mapstructure:"genesis"`
}

// GenesisConfig is the first StoredConfiguration a fresh chain starts
// with, before any proposal has ever activated.
type GenesisConfig struct {
	Validators []string       `mapstructure:"validators"` // base64 Ed25519 public keys
	Consensus  map[string]any `mapstructure:"consensus"`
	Services   map[string]any `mapstructure:"services"` // decimal service id -> opaque config
}

// GossipConfig holds the transaction-relay transport configuration.
type GossipConfig struct {
	ListenAddress  string        `mapstructure:"listen_address"`
	BootstrapPeers []string      `mapstructure:"bootstrap_peers"`
	Fanout         int           `mapstructure:"fanout"`
	GossipInterval time.Duration `mapstructure:"gossip_interval"`
}

// APIConfig holds the REST transport configuration.
type APIConfig struct {
	Address string `mapstructure:"address"`
}

// ArchiveConfig holds the off-chain configuration archival configuration.
type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// SecurityConfig holds TLS and audit-log configuration.
type SecurityConfig struct {
	TLSEnabled   bool   `mapstructure:"tls_enabled"`
	CertFile     string `mapstructure:"cert_file"`
	KeyFile      string `mapstructure:"key_file"`
	AuditLogPath string `mapstructure:"audit_log_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// MetricsConfig holds the Prometheus exposition server configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
	Path    string `mapstructure:"path"`
}

// DefaultConfig returns a configuration with production-sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			DataDir: "./data",
		},
		Storage: StorageConfig{
			Path: "./data/state",
		},
		Consensus: ConsensusConfig{
			BlockInterval: 1 * time.Second,
		},
		Gossip: GossipConfig{
			ListenAddress:  "/ip4/0.0.0.0/tcp/26656",
			BootstrapPeers: []string{},
			Fanout:         3,
			GossipInterval: 200 * time.Millisecond,
		},
		API: APIConfig{
			Address: "0.0.0.0:8080",
		},
		Archive: ArchiveConfig{
			Enabled:   false,
			Endpoint:  "localhost:9000",
			Bucket:    "configchain-archive",
			AccessKey: "configchain",
			SecretKey: "configchain",
			UseSSL:    false,
		},
		Security: SecurityConfig{
			TLSEnabled:   false,
			AuditLogPath: "./data/audit.log",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: "0.0.0.0:9100",
			Path:    "/metrics",
		},
	}
}

// LoadConfig loads configuration from a YAML file, overlaid with
// CONFIGCHAIN_-prefixed environment variables.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()

	v.SetDefault("node.data_dir", cfg.Node.DataDir)
	v.SetDefault("storage.path", cfg.Storage.Path)
	v.SetDefault("consensus.block_interval", cfg.Consensus.BlockInterval)
	v.SetDefault("gossip.listen_address", cfg.Gossip.ListenAddress)
	v.SetDefault("gossip.fanout", cfg.Gossip.Fanout)
	v.SetDefault("gossip.gossip_interval", cfg.Gossip.GossipInterval)
	v.SetDefault("api.address", cfg.API.Address)
	v.SetDefault("archive.enabled", cfg.Archive.Enabled)
	v.SetDefault("archive.endpoint", cfg.Archive.Endpoint)
	v.SetDefault("archive.bucket", cfg.Archive.Bucket)
	v.SetDefault("archive.use_ssl", cfg.Archive.UseSSL)
	v.SetDefault("security.tls_enabled", cfg.Security.TLSEnabled)
	v.SetDefault("security.audit_log_path", cfg.Security.AuditLogPath)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.address", cfg.Metrics.Address)
	v.SetDefault("metrics.path", cfg.Metrics.Path)

	v.SetEnvPrefix("CONFIGCHAIN")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}
