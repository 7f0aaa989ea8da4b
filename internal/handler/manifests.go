package handler

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shiftward/shiftward/internal/audit"
	"github.com/shiftward/shiftward/internal/signing"
	"github.com/shiftward/shiftward/internal/verify"
	"github.com/shiftward/shiftward/pkg/manifest"
	"go.uber.org/zap"
)

// ManifestHandler exposes HTTP endpoints for sealed audit manifests.
type ManifestHandler struct {
	store   audit.ManifestStore
	builder *audit.Builder
	keys    *signing.Manager
	logger  *zap.Logger
}

// NewManifestHandler creates a new ManifestHandler.
func NewManifestHandler(store audit.ManifestStore, builder *audit.Builder, keys *signing.Manager, logger *zap.Logger) *ManifestHandler {
	return &ManifestHandler{store: store, builder: builder, keys: keys, logger: logger}
}

// Register mounts the manifest routes on the given router group.
func (h *ManifestHandler) Register(rg *gin.RouterGroup) {
	m := rg.Group("/manifests/:jobID")
	{
		m.GET("", h.Get)
		m.POST("", h.Build)
		m.POST("/verify", h.Verify)
	}
}

// Get handles GET /manifests/:jobID.
func (h *ManifestHandler) Get(c *gin.Context) {
	jobID := c.Param("jobID")

	m, err := h.store.Get(c.Request.Context(), jobID)
	switch {
	case errors.Is(err, audit.ErrManifestNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "manifest not found"})
		return
	case err != nil:
		h.logger.Error("manifest read", zap.String("job_id", jobID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read manifest"})
		return
	}
	c.JSON(http.StatusOK, m)
}

// buildRequest is the payload the export feature sends to seal a bundle.
type buildRequest struct {
	TenantID  string                   `json:"tenant_id" binding:"required"`
	Retention manifest.RetentionPolicy `json:"retention" binding:"required"`
	Files     []struct {
		Name string `json:"name" binding:"required"`
		Data string `json:"data"` // base64 raw bytes
	} `json:"files" binding:"required"`
}

// Build handles POST /manifests/:jobID — runs the full hardening pipeline
// for an export bundle and returns the sealed manifest.
func (h *ManifestHandler) Build(c *gin.Context) {
	jobID := c.Param("jobID")

	var req buildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	files := make([]audit.File, 0, len(req.Files))
	for _, f := range req.Files {
		data, err := base64.StdEncoding.DecodeString(f.Data)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file " + f.Name + " is not valid base64"})
			return
		}
		files = append(files, audit.File{Name: f.Name, Data: data})
	}

	m, err := h.builder.Build(c.Request.Context(), jobID, req.TenantID, files, req.Retention)
	if err != nil {
		RecordManifestBuild(false)
		var buildErr *audit.BuildError
		stage := string(audit.StageFailed)
		if errors.As(err, &buildErr) {
			stage = string(buildErr.Stage)
		}
		switch {
		case errors.Is(err, audit.ErrNoFiles),
			errors.Is(err, audit.ErrComplianceUnsupported):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "stage": stage})
		case errors.Is(err, signing.ErrNoActiveKey):
			c.JSON(http.StatusConflict, gin.H{"error": "tenant has no signing key, provision one first", "stage": stage})
		case errors.Is(err, audit.ErrManifestExists):
			c.JSON(http.StatusConflict, gin.H{"error": "manifest already sealed for this job", "stage": stage})
		default:
			h.logger.Error("manifest build", zap.String("job_id", jobID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build manifest", "stage": stage})
		}
		return
	}

	RecordManifestBuild(true)
	c.JSON(http.StatusCreated, m)
}

// verifyRequest carries the raw export files to re-check a stored manifest
// against. File contents are base64 in transit.
type verifyRequest struct {
	Files []struct {
		Name string `json:"name" binding:"required"`
		Data string `json:"data"`
	} `json:"files" binding:"required"`
}

// Verify handles POST /manifests/:jobID/verify — server-side convenience
// around the same offline verifier the CLI uses. The public key is looked
// up from the key version recorded in the manifest.
func (h *ManifestHandler) Verify(c *gin.Context) {
	jobID := c.Param("jobID")

	m, err := h.store.Get(c.Request.Context(), jobID)
	switch {
	case errors.Is(err, audit.ErrManifestNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "manifest not found"})
		return
	case err != nil:
		h.logger.Error("manifest read", zap.String("job_id", jobID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read manifest"})
		return
	}

	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	files := make([]audit.File, 0, len(req.Files))
	for _, f := range req.Files {
		data, err := base64.StdEncoding.DecodeString(f.Data)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file " + f.Name + " is not valid base64"})
			return
		}
		files = append(files, audit.File{Name: f.Name, Data: data})
	}

	export, err := h.keys.ExportPublicKey(c.Request.Context(), m.TenantID, m.KeyVersion)
	if err != nil {
		h.logger.Error("export key for verification",
			zap.String("tenant_id", m.TenantID),
			zap.Int("version", m.KeyVersion),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load verification key"})
		return
	}

	result := verify.Manifest(m, files, export.PublicKeyPEM)
	RecordManifestVerification(result.Valid)
	c.JSON(http.StatusOK, result)
}
