package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"keyrelay-go/internal/constants"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadYAMLConfig(t *testing.T) {
	path := writeConfigFile(t, "config.yaml", `
port: 9000
base_path: relay/
debug: true
upstream_endpoint: https://upstream.example/v1/generate
upstream_model: big-model
upstream_credentials:
  - value: sk-one
    label: primary
  - value: sk-two
lease_duration_sec: 120
session_lock_sec: 45
storage_backend: file
`)

	cm, err := NewConfigManager(path)
	require.NoError(t, err)
	defer cm.Stop()

	cfg := FromFileConfig(cm.GetConfig())
	require.Equal(t, 9000, cfg.Server.Port)
	require.Equal(t, "/relay", cfg.Server.BasePath, "base path normalized")
	require.True(t, cfg.Security.Debug)
	require.Len(t, cfg.Upstream.Credentials, 2)
	require.Equal(t, "primary", cfg.Upstream.Credentials[0].Label)
	require.Equal(t, 2*time.Minute, cfg.Timing.LeaseDuration)
	require.Equal(t, 45*time.Second, cfg.Timing.SessionLock)
	// Unset knobs fall back to the built-in constants.
	require.Equal(t, constants.FaultCooldown, cfg.Timing.FaultCooldown)
	require.Equal(t, constants.TokenCacheTTL, cfg.Timing.TokenCacheTTL)
}

func TestLoadJSONConfig(t *testing.T) {
	path := writeConfigFile(t, "config.json", `{
  "port": 9100,
  "upstream_credentials": [{"value": "sk-json"}]
}`)

	cm, err := NewConfigManager(path)
	require.NoError(t, err)
	defer cm.Stop()

	cfg := FromFileConfig(cm.GetConfig())
	require.Equal(t, 9100, cfg.Server.Port)
	require.Equal(t, "sk-json", cfg.Upstream.Credentials[0].Value)
}

func TestEnvCredentialsMergeWithoutDuplicates(t *testing.T) {
	path := writeConfigFile(t, "config.yaml", `
port: 9000
upstream_credentials:
  - value: sk-one
    label: from-file
`)
	t.Setenv("UPSTREAM_CREDENTIALS", "sk-one, sk-two,, sk-three")

	cm, err := NewConfigManager(path)
	require.NoError(t, err)
	defer cm.Stop()

	fc := cm.GetConfig()
	require.Len(t, fc.UpstreamCredentials, 3)
	// File entry wins for sk-one, keeping its label.
	require.Equal(t, "from-file", fc.UpstreamCredentials[0].Label)
}

func TestEnvPortOverride(t *testing.T) {
	path := writeConfigFile(t, "config.yaml", "port: 9000\n")
	t.Setenv("PORT", "9222")

	cm, err := NewConfigManager(path)
	require.NoError(t, err)
	defer cm.Stop()

	require.Equal(t, 9222, cm.GetConfig().Port)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		return &Config{
			Server: ServerConfig{Port: 8317},
			Upstream: UpstreamConfig{
				Credentials: []UpstreamCredential{{Value: "sk-a"}},
			},
		}
	}

	cfg := base()
	cfg.Server.Port = 0
	require.Error(t, cfg.ValidateAndExpandPaths())

	cfg = base()
	cfg.Upstream.Credentials = nil
	require.Error(t, cfg.ValidateAndExpandPaths())

	cfg = base()
	cfg.Upstream.Credentials = []UpstreamCredential{{Value: "dup"}, {Value: "dup"}}
	require.Error(t, cfg.ValidateAndExpandPaths())

	require.NoError(t, base().ValidateAndExpandPaths())
}

func TestNormalizeBasePath(t *testing.T) {
	t.Parallel()
	require.Equal(t, "", normalizeBasePath(""))
	require.Equal(t, "", normalizeBasePath("/"))
	require.Equal(t, "/relay", normalizeBasePath("relay"))
	require.Equal(t, "/relay", normalizeBasePath("/relay///"))
}

func TestManagementKeyPlaintextAndHash(t *testing.T) {
	t.Parallel()

	cfg := &Config{Security: SecurityConfig{ManagementKey: "plain-secret"}}
	require.True(t, CheckManagementKey(cfg, "plain-secret"))
	require.False(t, CheckManagementKey(cfg, "wrong"))
	require.False(t, CheckManagementKey(cfg, ""))

	hash, err := HashManagementKey("hashed-secret")
	require.NoError(t, err)
	cfg = &Config{Security: SecurityConfig{ManagementKeyHash: hash}}
	require.True(t, CheckManagementKey(cfg, "hashed-secret"))
	require.False(t, CheckManagementKey(cfg, "plain-secret"))
}
