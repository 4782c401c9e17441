package config

// UpstreamCredential is one shared upstream secret declared in the config file.
type UpstreamCredential struct {
	Value string `yaml:"value" json:"value"` // opaque secret, identity of the credential
	Label string `yaml:"label" json:"label"` // optional operator-facing label
}

// FileConfig represents the configuration loaded from file
type FileConfig struct {
	// Server settings
	Port       int    `yaml:"port" json:"port"`
	BasePath   string `yaml:"base_path" json:"base_path"`
	Debug      bool   `yaml:"debug" json:"debug"`
	LogFile    string `yaml:"log_file" json:"log_file"`
	RequestLog bool   `yaml:"request_log" json:"request_log"`

	// Management auth settings
	ManagementKey      string `yaml:"management_key" json:"management_key"`
	ManagementKeyHash  string `yaml:"management_key_hash" json:"management_key_hash"`
	ManagementReadOnly bool   `yaml:"management_read_only" json:"management_read_only"`

	// Upstream settings
	UpstreamEndpoint    string               `yaml:"upstream_endpoint" json:"upstream_endpoint"`
	UpstreamModel       string               `yaml:"upstream_model" json:"upstream_model"`
	UpstreamCredentials []UpstreamCredential `yaml:"upstream_credentials" json:"upstream_credentials"`
	ProxyURL            string               `yaml:"proxy_url" json:"proxy_url"`

	// Lease / session timing overrides, seconds (0 = built-in default)
	LeaseDurationSec  int `yaml:"lease_duration_sec" json:"lease_duration_sec"`
	FaultCooldownSec  int `yaml:"fault_cooldown_sec" json:"fault_cooldown_sec"`
	SessionLockSec    int `yaml:"session_lock_sec" json:"session_lock_sec"`
	TokenCacheTTLSec  int `yaml:"token_cache_ttl_sec" json:"token_cache_ttl_sec"`
	UpstreamTimeoutSec int `yaml:"upstream_timeout_sec" json:"upstream_timeout_sec"`

	// Storage settings
	StorageBackend string `yaml:"storage_backend" json:"storage_backend"`
	StorageBaseDir string `yaml:"storage_base_dir" json:"storage_base_dir"`
	RedisAddr      string `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword  string `yaml:"redis_password" json:"redis_password"`
	RedisDB        int    `yaml:"redis_db" json:"redis_db"`
	RedisPrefix    string `yaml:"redis_prefix" json:"redis_prefix"`
	MongoDBURI     string `yaml:"mongodb_uri" json:"mongodb_uri"`
	MongoDatabase  string `yaml:"mongodb_database" json:"mongodb_database"`
	PostgresDSN    string `yaml:"postgres_dsn" json:"postgres_dsn"`

	// Rate limiting (inbound)
	RateLimitEnabled bool `yaml:"rate_limit_enabled" json:"rate_limit_enabled"`
	RateLimitRPS     int  `yaml:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst   int  `yaml:"rate_limit_burst" json:"rate_limit_burst"`
}
