package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/examcert/internal/verify"
)

// VerifyHandler serves public certificate verification.
type VerifyHandler struct {
	resolver *verify.Resolver
}

// NewVerifyHandler creates a VerifyHandler.
func NewVerifyHandler(r *verify.Resolver) *VerifyHandler {
	return &VerifyHandler{resolver: r}
}

// Register mounts GET /verify/:hash behind the given middleware
// (typically RateLimiter).
func (h *VerifyHandler) Register(rg *gin.RouterGroup, mw ...gin.HandlerFunc) {
	rg.GET("/verify/:hash", append(mw, h.Verify)...)
}

// Verify handles GET /verify/:hash. Each outcome has its own status code so
// a forged certificate is never reported like an outage.
func (h *VerifyHandler) Verify(c *gin.Context) {
	res := h.resolver.Verify(c.Request.Context(), c.Param("hash"))
	if res.Outcome == verify.Verified {
		c.Header("Cache-Control", "public, max-age=300")
	}
	c.JSON(res.Outcome.HTTPStatus(), res.Response())
}
