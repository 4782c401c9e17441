package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"keyrelay-go/internal/constants"

	log "github.com/sirupsen/logrus"
)

// Config 主配置结构体，按功能域划分
type Config struct {
	Server    ServerConfig
	Security  SecurityConfig
	Upstream  UpstreamConfig
	Timing    TimingConfig
	Storage   StorageConfig
	RateLimit RateLimitConfig
}

var globalManager *ConfigManager

// LoadWithFile loads configuration from the given path (env vars still override).
// Returns nil when the manager cannot be constructed.
func LoadWithFile(path string) *Config {
	cm, err := NewConfigManager(path)
	if err != nil {
		log.WithError(err).Error("failed to initialize config manager")
		return nil
	}
	globalManager = cm
	return FromFileConfig(cm.GetConfig())
}

// GetConfigManager returns the process-wide manager created by LoadWithFile.
func GetConfigManager() *ConfigManager {
	return globalManager
}

// FromFileConfig converts the raw file representation into domain configuration.
func FromFileConfig(fc *FileConfig) *Config {
	if fc == nil {
		return nil
	}
	cfg := &Config{
		Server: ServerConfig{
			Port:     fc.Port,
			BasePath: normalizeBasePath(fc.BasePath),
		},
		Security: SecurityConfig{
			ManagementKey:      fc.ManagementKey,
			ManagementKeyHash:  fc.ManagementKeyHash,
			ManagementReadOnly: fc.ManagementReadOnly,
			Debug:              fc.Debug,
			LogFile:            fc.LogFile,
			RequestLogEnabled:  fc.RequestLog,
		},
		Upstream: UpstreamConfig{
			Endpoint:    fc.UpstreamEndpoint,
			Model:       fc.UpstreamModel,
			Credentials: append([]UpstreamCredential(nil), fc.UpstreamCredentials...),
			ProxyURL:    fc.ProxyURL,
			Timeout:     secondsOr(fc.UpstreamTimeoutSec, constants.UpstreamStreamTimeout),
		},
		Timing: TimingConfig{
			LeaseDuration: secondsOr(fc.LeaseDurationSec, constants.LeaseDuration),
			FaultCooldown: secondsOr(fc.FaultCooldownSec, constants.FaultCooldown),
			SessionLock:   secondsOr(fc.SessionLockSec, constants.SessionLockDuration),
			TokenCacheTTL: secondsOr(fc.TokenCacheTTLSec, constants.TokenCacheTTL),
		},
		Storage: StorageConfig{
			Backend:       fc.StorageBackend,
			BaseDir:       fc.StorageBaseDir,
			RedisAddr:     fc.RedisAddr,
			RedisPassword: fc.RedisPassword,
			RedisDB:       fc.RedisDB,
			RedisPrefix:   fc.RedisPrefix,
			MongoURI:      fc.MongoDBURI,
			MongoDatabase: fc.MongoDatabase,
			PostgresDSN:   fc.PostgresDSN,
		},
		RateLimit: RateLimitConfig{
			Enabled: fc.RateLimitEnabled,
			RPS:     fc.RateLimitRPS,
			Burst:   fc.RateLimitBurst,
		},
	}
	return cfg
}

// ValidateAndExpandPaths checks required settings and expands relative paths.
func (c *Config) ValidateAndExpandPaths() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if len(c.Upstream.Credentials) == 0 {
		return fmt.Errorf("no upstream credentials configured")
	}
	seen := make(map[string]struct{}, len(c.Upstream.Credentials))
	for i, cred := range c.Upstream.Credentials {
		if cred.Value == "" {
			return fmt.Errorf("upstream credential %d has empty value", i)
		}
		if _, dup := seen[cred.Value]; dup {
			return fmt.Errorf("duplicate upstream credential at index %d", i)
		}
		seen[cred.Value] = struct{}{}
	}
	if c.Storage.BaseDir != "" {
		abs, err := filepath.Abs(c.Storage.BaseDir)
		if err != nil {
			return fmt.Errorf("resolve storage base dir: %w", err)
		}
		c.Storage.BaseDir = abs
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return fmt.Errorf("create storage base dir: %w", err)
		}
	}
	if c.Security.LogFile != "" {
		abs, err := filepath.Abs(c.Security.LogFile)
		if err != nil {
			return fmt.Errorf("resolve log file path: %w", err)
		}
		c.Security.LogFile = abs
	}
	return nil
}

func secondsOr(sec int, fallback time.Duration) time.Duration {
	if sec <= 0 {
		return fallback
	}
	return time.Duration(sec) * time.Second
}

func normalizeBasePath(p string) string {
	if p == "" || p == "/" {
		return ""
	}
	if p[0] != '/' {
		p = "/" + p
	}
	for len(p) > 1 && p[len(p)-1] == '/' {
		p = p[:len(p)-1]
	}
	return p
}
