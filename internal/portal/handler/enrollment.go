package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/examcert/internal/certificate"
	"github.com/jmerrifield20/examcert/internal/scoring"
	"go.uber.org/zap"
)

// EnrollmentHandler serves the scoring backend API used by operators and by
// the issuance saga.
type EnrollmentHandler struct {
	svc    *scoring.Service
	logger *zap.Logger
}

// NewEnrollmentHandler creates an EnrollmentHandler.
func NewEnrollmentHandler(svc *scoring.Service, logger *zap.Logger) *EnrollmentHandler {
	return &EnrollmentHandler{svc: svc, logger: logger}
}

// Register mounts the enrollment routes behind the given middleware
// (typically identity.RequireOperator).
func (h *EnrollmentHandler) Register(rg *gin.RouterGroup, mw ...gin.HandlerFunc) {
	e := rg.Group("/enrollments", mw...)
	{
		e.POST("", h.Create)
		e.GET("/:id", h.Get)
		e.POST("/:id/approve", h.Approve)
		e.POST("/:id/scores", h.SubmitScore)
		e.POST("/:id/reconcile", h.Reconcile)
	}
}

// Create handles POST /enrollments.
func (h *EnrollmentHandler) Create(c *gin.Context) {
	var req scoring.CreateEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	e, err := h.svc.CreateEnrollment(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

// Get handles GET /enrollments/:id.
func (h *EnrollmentHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	e, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// Approve handles POST /enrollments/:id/approve.
func (h *EnrollmentHandler) Approve(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	e, err := h.svc.Approve(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// SubmitScore handles POST /enrollments/:id/scores.
//
// The body is parsed field by field so that fractional or quoted scores are
// reported as validation errors rather than silently truncated.
func (h *EnrollmentHandler) SubmitScore(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read request body"})
		return
	}

	var head struct {
		ParticipantID uuid.UUID `json:"participant_id"`
	}
	if err := json.Unmarshal(body, &head); err != nil || head.ParticipantID == uuid.Nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "validation failed",
			"fields": map[string]string{"participant_id": "must be a UUID"},
		})
		return
	}
	scores, err := certificate.ParseScores(body)
	if err != nil {
		h.fail(c, err)
		return
	}

	issued, err := h.svc.SubmitScore(c.Request.Context(), id, scoring.SubmitScoreRequest{
		ParticipantID: head.ParticipantID,
		ExamScore:     scores,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	RecordPublished()
	c.JSON(http.StatusOK, issued)
}

// Reconcile handles POST /enrollments/:id/reconcile.
func (h *EnrollmentHandler) Reconcile(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req scoring.ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	e, err := h.svc.Reconcile(c.Request.Context(), id, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// fail maps service errors to HTTP statuses. The message of client errors
// is returned verbatim; the saga surfaces it to the operator.
func (h *EnrollmentHandler) fail(c *gin.Context, err error) {
	var verr *certificate.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "fields": verr.Fields})
	case errors.Is(err, scoring.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, scoring.ErrNotApproved),
		errors.Is(err, scoring.ErrAlreadyCertified),
		errors.Is(err, scoring.ErrParticipantMismatch):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, scoring.ErrHashMismatch):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, scoring.ErrAnchorUnconfirmed):
		c.JSON(http.StatusFailedDependency, gin.H{"error": err.Error()})
	default:
		h.logger.Error("enrollment request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}
