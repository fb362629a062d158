package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/examcert/internal/contentstore"
	"go.uber.org/zap"
)

// ContentHandler exposes a content store through the IPFS-style gateway
// routes that contentstore.GatewayClient speaks.
type ContentHandler struct {
	store  contentstore.Store
	logger *zap.Logger
}

// NewContentHandler creates a ContentHandler.
func NewContentHandler(store contentstore.Store, logger *zap.Logger) *ContentHandler {
	return &ContentHandler{store: store, logger: logger}
}

// Register mounts POST /api/v0/add and GET /ipfs/:cid on the router.
// Publishing is restricted by mw; reads are public.
func (h *ContentHandler) Register(r gin.IRouter, mw ...gin.HandlerFunc) {
	r.POST("/api/v0/add", append(mw, h.Add)...)
	r.GET("/ipfs/:cid", h.Get)
}

// Add handles POST /api/v0/add with the raw blob as the body.
func (h *ContentHandler) Add(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, contentstore.MaxBlobSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read request body"})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty body"})
		return
	}
	if len(data) > contentstore.MaxBlobSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "blob too large"})
		return
	}

	loc, err := h.store.Publish(c.Request.Context(), data)
	if err != nil {
		h.logger.Error("content publish failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store content"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"Hash": loc, "Size": len(data)})
}

// Get handles GET /ipfs/:cid.
func (h *ContentHandler) Get(c *gin.Context) {
	loc := c.Param("cid")
	data, err := h.store.Fetch(c.Request.Context(), loc)
	if errors.Is(err, contentstore.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "content not found"})
		return
	}
	if err != nil {
		h.logger.Error("content fetch failed", zap.String("locator", loc), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read content"})
		return
	}
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.Data(http.StatusOK, "application/octet-stream", data)
}
