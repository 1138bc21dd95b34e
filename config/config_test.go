package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
environment: staging
data_dir: /var/lib/basetip
refresh_interval: 2m
chain:
  rpc_endpoint: https://sepolia.base.org
  ws_endpoint: wss://sepolia.base.org
  contract: "0x1234567890123456789012345678901234567890"
  scan_window: 5000
gateway:
  listen: ":9090"
  public_url: https://basetip.example
  requests_per_minute: 120
  burst: 10
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadParsesAndDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	require.Equal(t, "staging", cfg.Environment)
	require.Equal(t, 2*time.Minute, cfg.RefreshInterval.Duration)
	require.Equal(t, uint64(5000), cfg.Chain.ScanWindow)
	require.Equal(t, ":9090", cfg.Gateway.ListenAddress)
	require.Equal(t, filepath.Join("/var/lib/basetip", "cache.db"), cfg.DatabasePath())
	require.Equal(t, filepath.Join("/var/lib/basetip", "slugs.json"), cfg.SlugIndexPath())
}

func TestLoadDefaultsWhenSparse(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
chain:
  rpc_endpoint: https://sepolia.base.org
  contract: "0x1234567890123456789012345678901234567890"
`))
	require.NoError(t, err)
	require.Equal(t, "dev", cfg.Environment)
	require.Equal(t, 5*time.Minute, cfg.RefreshInterval.Duration)
	require.Equal(t, ":8080", cfg.Gateway.ListenAddress)
	require.Equal(t, 600.0, cfg.Gateway.RequestsPerMinute)
}

func TestLoadRejectsBadContract(t *testing.T) {
	_, err := Load(writeConfig(t, `
chain:
  rpc_endpoint: https://sepolia.base.org
  contract: nothex
`))
	require.Error(t, err)
}

func TestLoadRejectsMissingEndpoint(t *testing.T) {
	_, err := Load(writeConfig(t, `
chain:
  contract: "0x1234567890123456789012345678901234567890"
`))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BASETIP_RPC_ENDPOINT", "https://override.example")
	t.Setenv("BASETIP_LISTEN", ":7070")
	t.Setenv("BASETIP_SCAN_WINDOW", "2500")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	require.Equal(t, "https://override.example", cfg.Chain.RPCEndpoint)
	require.Equal(t, ":7070", cfg.Gateway.ListenAddress)
	require.Equal(t, uint64(2500), cfg.Chain.ScanWindow)
}

func TestDurationRejectsGarbage(t *testing.T) {
	_, err := Load(writeConfig(t, `
refresh_interval: soon
chain:
  rpc_endpoint: https://sepolia.base.org
  contract: "0x1234567890123456789012345678901234567890"
`))
	require.Error(t, err)
}
