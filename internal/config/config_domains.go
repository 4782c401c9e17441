package config

import "time"

// ServerConfig 服务器和端点配置
type ServerConfig struct {
	Port     int
	BasePath string
}

// SecurityConfig 安全和管理访问配置
type SecurityConfig struct {
	ManagementKey      string
	ManagementKeyHash  string
	ManagementReadOnly bool
	Debug              bool
	LogFile            string
	RequestLogEnabled  bool
}

// UpstreamConfig 上游端点与共享凭证配置
type UpstreamConfig struct {
	Endpoint    string
	Model       string
	Credentials []UpstreamCredential
	ProxyURL    string
	Timeout     time.Duration
}

// TimingConfig 租约、会话互斥与缓存时间策略
type TimingConfig struct {
	LeaseDuration time.Duration
	FaultCooldown time.Duration
	SessionLock   time.Duration
	TokenCacheTTL time.Duration
}

// StorageConfig 存储后端配置
type StorageConfig struct {
	Backend       string // file, redis, mongodb, postgres
	BaseDir       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	MongoURI      string
	MongoDatabase string
	PostgresDSN   string
}

// RateLimitConfig 入站速率限制配置
type RateLimitConfig struct {
	Enabled bool
	RPS     int
	Burst   int
}
