package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"keyrelay-go/internal/config"
)

// ManagementAuthLevel represents the authentication level for management endpoints
type ManagementAuthLevel int

const (
	// AuthLevelNone means no authentication (never sufficient)
	AuthLevelNone ManagementAuthLevel = iota
	// AuthLevelReadOnly means read-only access (GET, HEAD, OPTIONS)
	AuthLevelReadOnly
	// AuthLevelAdmin means full admin access
	AuthLevelAdmin
)

// ManagementAuthConfig holds the configuration for management authentication
type ManagementAuthConfig struct {
	cfg      *config.Config
	readOnly bool
}

// NewManagementAuthConfig creates a management auth config from the main config.
func NewManagementAuthConfig(cfg *config.Config) *ManagementAuthConfig {
	return &ManagementAuthConfig{cfg: cfg, readOnly: cfg.Security.ManagementReadOnly}
}

// ValidateKey validates a management key and returns the resulting level.
func (mac *ManagementAuthConfig) ValidateKey(key string) ManagementAuthLevel {
	if !config.CheckManagementKey(mac.cfg, key) {
		return AuthLevelNone
	}
	if mac.readOnly {
		return AuthLevelReadOnly
	}
	return AuthLevelAdmin
}

// ExtractKey extracts the management key from the request.
func ExtractKey(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer ")
		}
	}
	if apiKey := c.GetHeader("x-api-key"); apiKey != "" {
		return apiKey
	}
	if queryKey := c.Query("key"); queryKey != "" {
		return queryKey
	}
	return ""
}

// ManagementAuth enforces the management key on every route in the group.
// Mutating methods additionally require admin level.
func ManagementAuth(authConfig *ManagementAuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		level := authConfig.ValidateKey(ExtractKey(c))

		required := AuthLevelReadOnly
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
		default:
			required = AuthLevelAdmin
		}

		if level < required {
			log.WithFields(log.Fields{
				"path":        c.Request.URL.Path,
				"method":      c.Request.Method,
				"remote_addr": c.ClientIP(),
			}).Warn("Management authentication failed: insufficient privileges")

			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Unauthorized: insufficient privileges for this operation",
			})
			c.Abort()
			return
		}

		c.Set("auth_level", level)
		c.Next()
	}
}
