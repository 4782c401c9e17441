package admin

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"keyrelay-go/internal/logging"
	"keyrelay-go/internal/token"
)

// tokenView is the management-facing record shape. The digest never leaves
// the server.
type tokenView struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	LastUsedIP   string     `json:"last_used_ip,omitempty"`
	RequestCount int64      `json:"request_count"`
}

func viewOf(rec *token.Record) tokenView {
	v := tokenView{
		ID:           rec.ID,
		Name:         rec.Name,
		CreatedAt:    rec.CreatedAt,
		LastUsedIP:   rec.LastUsedIP,
		RequestCount: rec.RequestCount,
	}
	if !rec.ExpiresAt.IsZero() {
		v.ExpiresAt = &rec.ExpiresAt
	}
	if !rec.LastUsedAt.IsZero() {
		v.LastUsedAt = &rec.LastUsedAt
	}
	return v
}

type createTokenRequest struct {
	Name       string `json:"name" binding:"required"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

// CreateToken issues a new relay token. The response carries the plaintext
// exactly once.
func (h *Handler) CreateToken(c *gin.Context) {
	var req createTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "name is required", "type": "invalid_request_error"}})
		return
	}
	if req.TTLSeconds < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "ttl_seconds must not be negative", "type": "invalid_request_error"}})
		return
	}

	rec, plaintext, err := h.store.Create(c.Request.Context(), req.Name, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		logging.WithReq(c, log.Fields{"error": err.Error()}).Error("token creation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": "failed to create token", "type": "server_error"}})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"token":  plaintext,
		"record": viewOf(rec),
	})
}

// ListTokens returns all records, oldest first.
func (h *Handler) ListTokens(c *gin.Context) {
	records, err := h.store.List(c.Request.Context())
	if err != nil {
		logging.WithReq(c, log.Fields{"error": err.Error()}).Error("token listing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": "failed to list tokens", "type": "server_error"}})
		return
	}
	views := make([]tokenView, 0, len(records))
	for _, rec := range records {
		views = append(views, viewOf(rec))
	}
	c.JSON(http.StatusOK, gin.H{"tokens": views, "count": len(views)})
}

// DeleteToken revokes a record permanently. The side cache is flushed so a
// cached plaintext cannot outlive its record.
func (h *Handler) DeleteToken(c *gin.Context) {
	id := c.Param("id")
	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, token.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"message": "token not found", "type": "invalid_request_error"}})
			return
		}
		logging.WithReq(c, log.Fields{"error": err.Error(), "token_id": id}).Error("token deletion failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": "failed to delete token", "type": "server_error"}})
		return
	}
	h.cache.Flush()
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

type renameTokenRequest struct {
	Name string `json:"name" binding:"required"`
}

// RenameToken updates the display name without touching the secret.
func (h *Handler) RenameToken(c *gin.Context) {
	id := c.Param("id")
	var req renameTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "name is required", "type": "invalid_request_error"}})
		return
	}
	rec, err := h.store.Rename(c.Request.Context(), id, req.Name)
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"message": "token not found", "type": "invalid_request_error"}})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": "failed to rename token", "type": "server_error"}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": viewOf(rec)})
}

// FlushCache drops every side cache entry, forcing the next request per token
// back through the digest scan.
func (h *Handler) FlushCache(c *gin.Context) {
	dropped := h.cache.Flush()
	log.WithField("dropped", dropped).Info("token side cache flushed")
	c.JSON(http.StatusOK, gin.H{"flushed": dropped})
}
