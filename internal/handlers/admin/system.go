package admin

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"keyrelay-go/internal/config"
	"keyrelay-go/internal/logging"
	"keyrelay-go/internal/pool"
	"keyrelay-go/internal/session"
	"keyrelay-go/internal/storage"
	"keyrelay-go/internal/token"
	"keyrelay-go/internal/version"
)

// Handler serves the management API: token lifecycle, pool visibility, cache
// control and the live log tail.
type Handler struct {
	store   *token.Store
	cache   *session.Cache
	pool    *pool.Pool
	backend storage.Backend
	cfgMgr  *config.ConfigManager
}

func New(store *token.Store, cache *session.Cache, p *pool.Pool, backend storage.Backend, cfgMgr *config.ConfigManager) *Handler {
	return &Handler{store: store, cache: cache, pool: p, backend: backend, cfgMgr: cfgMgr}
}

// Health reports liveness plus storage reachability.
func (h *Handler) Health(c *gin.Context) {
	status := http.StatusOK
	storageOK := h.backend.Health(c.Request.Context()) == nil
	if !storageOK {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status":  map[bool]string{true: "ok", false: "degraded"}[storageOK],
		"version": version.Version,
		"storage": storageOK,
	})
}

// PoolSnapshot exposes the redacted credential pool state.
func (h *Handler) PoolSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"credentials": h.pool.Snapshot(),
		"size":        h.pool.Size(),
	})
}

// StorageStats reports backend statistics.
func (h *Handler) StorageStats(c *gin.Context) {
	stats, err := h.backend.GetStorageStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": "failed to read storage stats", "type": "server_error"}})
		return
	}
	c.JSON(http.StatusOK, stats)
}

type rotateKeyRequest struct {
	NewKey string `json:"new_key" binding:"required"`
}

// RotateManagementKey replaces the management credential. Only the bcrypt hash
// is persisted.
func (h *Handler) RotateManagementKey(c *gin.Context) {
	var req rotateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.NewKey) < 16 {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "new_key must be at least 16 characters", "type": "invalid_request_error"}})
		return
	}
	if err := h.cfgMgr.RotateManagementKey(req.NewKey); err != nil {
		logging.WithReq(c, log.Fields{"error": err.Error()}).Error("management key rotation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": "failed to rotate key", "type": "server_error"}})
		return
	}
	log.Warn("management key rotated")
	c.JSON(http.StatusOK, gin.H{"rotated": true})
}

// LogHistory serves buffered log lines after a cursor, for pollers that
// cannot hold a WebSocket open.
func (h *Handler) LogHistory(c *gin.Context) {
	cursor, _ := strconv.ParseUint(c.Query("cursor"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	msgs, next := logging.GetWSLogger().FetchSince(cursor, limit)
	c.JSON(http.StatusOK, gin.H{
		"logs":   msgs,
		"cursor": next,
	})
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Management routes are same-origin only; the auth middleware already
	// vetted the key before the upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// LogStream upgrades to WebSocket and attaches the client to the broadcaster.
func (h *Handler) LogStream(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.WithReq(c, log.Fields{"error": err.Error()}).Warn("websocket upgrade failed")
		return
	}
	wsl := logging.GetWSLogger()
	if err := wsl.AddClient(conn); err != nil {
		conn.WriteJSON(gin.H{"error": err.Error()})
		conn.Close()
		return
	}
	// Reader loop exists only to notice the peer going away.
	go func() {
		defer wsl.RemoveClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
