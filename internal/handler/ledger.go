// Package handler exposes the integrity subsystem's HTTP API: per-subject
// chain reads and verification, signing-key export and rotation, and
// manifest retrieval and verification. The surrounding product fronts
// these routes; they carry no authentication layer of their own.
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shiftward/shiftward/internal/ledger"
	"github.com/shiftward/shiftward/internal/verify"
	"go.uber.org/zap"
)

// LedgerHandler exposes HTTP endpoints for the time-clock ledger.
type LedgerHandler struct {
	ledger ledger.Ledger
	logger *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(l ledger.Ledger, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: l, logger: logger}
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	s := rg.Group("/subjects/:id")
	{
		s.GET("/chain", h.GetChain)
		s.GET("/chain/verify", h.VerifyChain)
		s.POST("/entries", h.AppendEntry)
	}
}

// appendRequest is the payload for POST /subjects/:id/entries, sent by the
// time-tracking feature once it has decided a clock event occurred.
type appendRequest struct {
	Kind         string     `json:"kind" binding:"required"`
	Timestamp    time.Time  `json:"timestamp" binding:"required"`
	SupersedesID *uuid.UUID `json:"supersedes_id,omitempty"`
}

// AppendEntry handles POST /subjects/:id/entries.
func (h *LedgerHandler) AppendEntry(c *gin.Context) {
	subjectID := c.Param("id")

	var req appendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	entry, err := h.ledger.Append(c.Request.Context(), subjectID, ledger.Kind(req.Kind), req.Timestamp, req.SupersedesID)
	switch {
	case errors.Is(err, ledger.ErrUnknownKind):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown event kind"})
		return
	case errors.Is(err, ledger.ErrMissingSupersedes):
		c.JSON(http.StatusBadRequest, gin.H{"error": "correction requires supersedes_id"})
		return
	case errors.Is(err, ledger.ErrConflict):
		// Retryable: the caller raced another append for this subject.
		RecordAppendConflict()
		c.JSON(http.StatusConflict, gin.H{"error": "concurrent append, retry", "retryable": true})
		return
	case err != nil:
		h.logger.Error("ledger append", zap.String("subject_id", subjectID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to append entry"})
		return
	}

	RecordLedgerAppend()
	c.JSON(http.StatusCreated, entry)
}

// GetChain handles GET /subjects/:id/chain — the full chain in append order.
func (h *LedgerHandler) GetChain(c *gin.Context) {
	subjectID := c.Param("id")

	entries, err := h.ledger.Entries(c.Request.Context(), subjectID)
	if err != nil {
		h.logger.Error("ledger read", zap.String("subject_id", subjectID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read chain"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subject_id": subjectID,
		"entries":    entries,
	})
}

// VerifyChain handles GET /subjects/:id/chain/verify — recomputes every
// hash and link and returns the full diagnostic report. Integrity findings
// are part of the 200 response body, never an HTTP error.
func (h *LedgerHandler) VerifyChain(c *gin.Context) {
	subjectID := c.Param("id")

	entries, err := h.ledger.Entries(c.Request.Context(), subjectID)
	if err != nil {
		h.logger.Error("ledger read", zap.String("subject_id", subjectID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read chain"})
		return
	}

	report := verify.LedgerChain(entries, subjectID)
	RecordChainVerification(report.IsValid)
	if !report.IsValid {
		h.logger.Warn("chain verification failed",
			zap.String("subject_id", subjectID),
			zap.Int("issues", len(report.Issues)),
		)
	}
	c.JSON(http.StatusOK, report)
}
