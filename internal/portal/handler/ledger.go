package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/examcert/internal/certificate"
	"github.com/jmerrifield20/examcert/internal/ledger"
	"github.com/jmerrifield20/examcert/internal/signer"
	"go.uber.org/zap"
)

// LedgerHandler serves the anchor ledger: anchor submission, hash lookup
// and read-only chain inspection.
type LedgerHandler struct {
	ledger   ledger.Ledger
	verifier *signer.Verifier
	logger   *zap.Logger
}

// NewLedgerHandler creates a LedgerHandler. Anchors are accepted only with
// an authorization signed by one of verifier's keys.
func NewLedgerHandler(l ledger.Ledger, verifier *signer.Verifier, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: l, verifier: verifier, logger: logger}
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	l := rg.Group("/ledger")
	{
		l.GET("", h.Overview)
		l.GET("/verify", h.Verify)
		l.GET("/entries/:idx", h.GetEntry)
		l.POST("/anchors", h.Anchor)
		l.GET("/anchors/:hash", h.Resolve)
	}
}

type anchorRequest struct {
	Hash          string `json:"hash"          binding:"required"`
	Locator       string `json:"locator"       binding:"required"`
	Authorization string `json:"authorization" binding:"required"`
}

// Anchor handles POST /ledger/anchors.
//
//	201: new entry
//	409: the hash already has an entry; the body is that entry
//	401: authorization missing, expired, foreign or for another anchor
func (h *LedgerHandler) Anchor(c *gin.Context) {
	var req anchorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	hash := certificate.NormalizeHash(req.Hash)
	if !certificate.ValidAnchorHash(hash) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "hash must be 0x followed by 64 hex digits"})
		return
	}

	keyID, err := h.verifier.Verify(req.Authorization, hash, req.Locator)
	if err != nil {
		RecordAnchor("rejected")
		h.logger.Warn("anchor authorization rejected",
			zap.String("hash", hash),
			zap.Error(err),
		)
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	entry, err := h.ledger.Anchor(c.Request.Context(), ledger.Anchor{
		Hash:          hash,
		Locator:       req.Locator,
		Signer:        keyID,
		Authorization: req.Authorization,
	})
	var existing *ledger.AlreadyAnchoredError
	switch {
	case errors.As(err, &existing):
		RecordAnchor("existing")
		c.JSON(http.StatusConflict, existing.Entry)
		return
	case err != nil:
		h.logger.Error("ledger Anchor", zap.String("hash", hash), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to append anchor"})
		return
	}

	RecordAnchor("created")
	h.logger.Info("anchor appended",
		zap.Int("idx", entry.Index),
		zap.String("hash", hash),
		zap.String("locator", entry.Locator),
		zap.String("signer", keyID),
	)
	c.JSON(http.StatusCreated, entry)
}

// Resolve handles GET /ledger/anchors/:hash.
func (h *LedgerHandler) Resolve(c *gin.Context) {
	hash := certificate.NormalizeHash(c.Param("hash"))
	entry, err := h.ledger.Lookup(c.Request.Context(), hash)
	if errors.Is(err, ledger.ErrNotAnchored) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "hash not anchored",
			"code":  ledger.NotAnchoredCode,
			"hash":  hash,
		})
		return
	}
	if err != nil {
		h.logger.Error("ledger Lookup", zap.String("hash", hash), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"hash":      entry.AnchorHash,
		"locator":   entry.Locator,
		"index":     entry.Index,
		"timestamp": entry.Timestamp,
	})
}

// Overview handles GET /ledger returns the chain length and current root hash.
func (h *LedgerHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()

	count, err := h.ledger.Len(ctx)
	if err != nil {
		h.logger.Error("ledger Len", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}

	root, err := h.ledger.Root(ctx)
	if err != nil {
		h.logger.Error("ledger Root", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger root"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": count,
		"root":    root,
	})
}

// Verify handles GET /ledger/verify walks the full chain and reports integrity.
func (h *LedgerHandler) Verify(c *gin.Context) {
	if err := h.ledger.Verify(c.Request.Context()); err != nil {
		h.logger.Warn("ledger integrity check failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{
			"valid": false,
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// GetEntry handles GET /ledger/entries/:idx returns a single ledger entry.
func (h *LedgerHandler) GetEntry(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idx must be a non-negative integer"})
		return
	}

	entry, err := h.ledger.Get(c.Request.Context(), idx)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}
	c.JSON(http.StatusOK, entry)
}
