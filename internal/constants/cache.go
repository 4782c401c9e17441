package constants

import "time"

// 缓存相关常量
const (
	// TokenCacheTTL 令牌快照缓存有效期；过期后回退到存储层校验
	TokenCacheTTL = 1 * time.Minute
	// TokenCacheSweepInterval 过期条目清理周期
	TokenCacheSweepInterval = 5 * time.Minute

	// WebSocket 日志缓存
	WSLogBufferSize    = 100
	WSLogRetentionTime = 1 * time.Hour
)
