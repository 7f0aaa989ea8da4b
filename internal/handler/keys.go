package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shiftward/shiftward/internal/signing"
	"go.uber.org/zap"
)

// KeyHandler exposes HTTP endpoints for per-tenant signing keys. Only
// public key material ever crosses this boundary.
type KeyHandler struct {
	keys   *signing.Manager
	logger *zap.Logger
}

// NewKeyHandler creates a new KeyHandler.
func NewKeyHandler(keys *signing.Manager, logger *zap.Logger) *KeyHandler {
	return &KeyHandler{keys: keys, logger: logger}
}

// Register mounts the key routes on the given router group.
func (h *KeyHandler) Register(rg *gin.RouterGroup) {
	k := rg.Group("/tenants/:id/keys")
	{
		k.GET("", h.History)
		k.GET("/public", h.ExportPublicKey)
		k.POST("", h.Provision)
		k.POST("/rotate", h.Rotate)
	}
}

// ExportPublicKey handles GET /tenants/:id/keys/public[?version=N] — the
// endpoint an external auditor fetches verification material from.
func (h *KeyHandler) ExportPublicKey(c *gin.Context) {
	tenantID := c.Param("id")

	version := 0 // 0 = active key
	if v := c.Query("version"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "version must be a positive integer"})
			return
		}
		version = n
	}

	export, err := h.keys.ExportPublicKey(c.Request.Context(), tenantID, version)
	switch {
	case errors.Is(err, signing.ErrNoActiveKey), errors.Is(err, signing.ErrVersionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
		return
	case err != nil:
		h.logger.Error("export public key", zap.String("tenant_id", tenantID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to export key"})
		return
	}
	c.JSON(http.StatusOK, export)
}

// History handles GET /tenants/:id/keys — the key provenance trail,
// newest first. Public fields only.
func (h *KeyHandler) History(c *gin.Context) {
	tenantID := c.Param("id")

	keys, err := h.keys.History(c.Request.Context(), tenantID)
	if err != nil {
		h.logger.Error("key history", zap.String("tenant_id", tenantID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read key history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant_id": tenantID, "keys": keys})
}

// Provision handles POST /tenants/:id/keys — first-time key provisioning.
func (h *KeyHandler) Provision(c *gin.Context) {
	tenantID := c.Param("id")

	key, err := h.keys.Generate(c.Request.Context(), tenantID)
	if err != nil {
		h.logger.Error("key provisioning", zap.String("tenant_id", tenantID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to provision key"})
		return
	}
	c.JSON(http.StatusCreated, key)
}

// Rotate handles POST /tenants/:id/keys/rotate. The previous key stays
// verifiable forever; only new signatures move to the fresh version.
func (h *KeyHandler) Rotate(c *gin.Context) {
	tenantID := c.Param("id")

	key, err := h.keys.Rotate(c.Request.Context(), tenantID)
	switch {
	case errors.Is(err, signing.ErrNoActiveKey):
		c.JSON(http.StatusConflict, gin.H{"error": "tenant has no key to rotate, provision one first"})
		return
	case err != nil:
		h.logger.Error("key rotation", zap.String("tenant_id", tenantID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rotate key"})
		return
	}

	RecordKeyRotation()
	c.JSON(http.StatusCreated, key)
}
