package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	if value.Value == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

// ChainConfig points the daemon at the registry contract.
type ChainConfig struct {
	RPCEndpoint string `yaml:"rpc_endpoint"`
	WSEndpoint  string `yaml:"ws_endpoint"`
	Contract    string `yaml:"contract"`
	Multicall   string `yaml:"multicall"`
	ScanWindow  uint64 `yaml:"scan_window"`
}

// GatewayConfig controls the HTTP read API.
type GatewayConfig struct {
	ListenAddress     string   `yaml:"listen"`
	PublicURL         string   `yaml:"public_url"`
	RequestsPerMinute float64  `yaml:"requests_per_minute"`
	Burst             int      `yaml:"burst"`
	AllowedOrigins    []string `yaml:"allowed_origins"`
}

// Config captures the runtime configuration for basetipd.
type Config struct {
	Environment     string        `yaml:"environment"`
	DataDir         string        `yaml:"data_dir"`
	RefreshInterval Duration      `yaml:"refresh_interval"`
	Chain           ChainConfig   `yaml:"chain"`
	Gateway         GatewayConfig `yaml:"gateway"`
}

// Load reads configuration from path, fills defaults, applies BASETIP_*
// environment overrides, and validates the result. An empty path yields the
// defaults plus overrides.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// DatabasePath is the SQLite cache location under the data directory.
func (c Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "cache.db")
}

// SlugIndexPath is the slug index file location under the data directory.
func (c Config) SlugIndexPath() string {
	return filepath.Join(c.DataDir, "slugs.json")
}

// ReferralPath is the referral ledger location under the data directory.
func (c Config) ReferralPath() string {
	return filepath.Join(c.DataDir, "referrals.json")
}

func applyDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "dev"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.RefreshInterval.Duration == 0 {
		cfg.RefreshInterval.Duration = 5 * time.Minute
	}
	if cfg.Gateway.ListenAddress == "" {
		cfg.Gateway.ListenAddress = ":8080"
	}
	if cfg.Gateway.PublicURL == "" {
		cfg.Gateway.PublicURL = "http://localhost:8080"
	}
	if cfg.Gateway.RequestsPerMinute == 0 {
		cfg.Gateway.RequestsPerMinute = 600
	}
	if cfg.Gateway.Burst <= 0 {
		cfg.Gateway.Burst = 20
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("BASETIP_RPC_ENDPOINT")); v != "" {
		cfg.Chain.RPCEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("BASETIP_WS_ENDPOINT")); v != "" {
		cfg.Chain.WSEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("BASETIP_CONTRACT")); v != "" {
		cfg.Chain.Contract = v
	}
	if v := strings.TrimSpace(os.Getenv("BASETIP_LISTEN")); v != "" {
		cfg.Gateway.ListenAddress = v
	}
	if v := strings.TrimSpace(os.Getenv("BASETIP_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("BASETIP_SCAN_WINDOW")); v != "" {
		if parsed, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Chain.ScanWindow = parsed
		}
	}
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.Chain.RPCEndpoint) == "" {
		return fmt.Errorf("chain rpc_endpoint must be configured")
	}
	if !common.IsHexAddress(cfg.Chain.Contract) {
		return fmt.Errorf("chain contract %q is not a valid address", cfg.Chain.Contract)
	}
	if cfg.Chain.Multicall != "" && !common.IsHexAddress(cfg.Chain.Multicall) {
		return fmt.Errorf("chain multicall %q is not a valid address", cfg.Chain.Multicall)
	}
	return nil
}
