package config

import (
	"os"
	"strconv"
	"strings"
)

func (cm *ConfigManager) mergeEnvVars() {
	if cm.config == nil {
		cm.config = cm.defaultConfig()
	}

	if v := os.Getenv("PORT"); v != "" {
		if port, err := parsePort(v); err == nil {
			cm.config.Port = port
		}
	}
	if v := os.Getenv("BASE_PATH"); v != "" {
		cm.config.BasePath = v
	}
	if v := os.Getenv("DEBUG"); v != "" {
		cm.config.Debug = !(v == "false" || v == "0")
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cm.config.LogFile = v
	}
	if v := os.Getenv("MANAGEMENT_KEY"); v != "" {
		cm.config.ManagementKey = v
	}
	if v := os.Getenv("MANAGEMENT_KEY_HASH"); v != "" {
		cm.config.ManagementKeyHash = v
	}
	if v := os.Getenv("UPSTREAM_ENDPOINT"); v != "" {
		cm.config.UpstreamEndpoint = v
	}
	if v := os.Getenv("UPSTREAM_MODEL"); v != "" {
		cm.config.UpstreamModel = v
	}
	// UPSTREAM_CREDENTIALS holds a comma-separated list of secrets; file entries win
	// on conflict so operators can pin labels there.
	if v := os.Getenv("UPSTREAM_CREDENTIALS"); v != "" {
		existing := make(map[string]struct{}, len(cm.config.UpstreamCredentials))
		for _, c := range cm.config.UpstreamCredentials {
			existing[c.Value] = struct{}{}
		}
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if _, ok := existing[part]; ok {
				continue
			}
			cm.config.UpstreamCredentials = append(cm.config.UpstreamCredentials, UpstreamCredential{Value: part})
			existing[part] = struct{}{}
		}
	}
	if v := os.Getenv("PROXY_URL"); v != "" {
		cm.config.ProxyURL = v
	}
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		cm.config.StorageBackend = v
	}
	if v := os.Getenv("STORAGE_BASE_DIR"); v != "" {
		cm.config.StorageBaseDir = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cm.config.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cm.config.RedisPassword = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := parseInt(v); err == nil {
			cm.config.RedisDB = n
		}
	}
	if v := os.Getenv("MONGODB_URI"); v != "" {
		cm.config.MongoDBURI = v
	}
	if v := os.Getenv("MONGODB_DATABASE"); v != "" {
		cm.config.MongoDatabase = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cm.config.PostgresDSN = v
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if n, err := parseInt(v); err == nil && n > 0 {
			cm.config.RateLimitEnabled = true
			cm.config.RateLimitRPS = n
		}
	}
}

func parsePort(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 || n > 65535 {
		return 0, strconv.ErrRange
	}
	return n, nil
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
