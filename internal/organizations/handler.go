package organizations

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teamloop/backend/internal/middleware"
	"github.com/teamloop/backend/internal/models"
	"github.com/teamloop/backend/pkg/response"
)

// UpgradePlanRequest is the body for PATCH /organizations/subscription.
type UpgradePlanRequest struct {
	Plan string `json:"plan" binding:"required,oneof=FREE PRO ENTERPRISE"`
}

// BroadcastRequest is the body for POST /organizations/broadcast.
type BroadcastRequest struct {
	Message string `json:"message" binding:"required"`
}

// Handler handles organization HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates an organizations handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Get handles GET /organizations: the caller's organization summary.
func (h *Handler) Get(c *gin.Context) {
	orgID := c.MustGet(middleware.ContextOrgID).(uuid.UUID)
	summary, err := h.svc.Get(c.Request.Context(), orgID)
	if err != nil {
		if errors.Is(err, ErrOrgNotFound) {
			response.NotFound(c, err.Error())
			return
		}
		h.logger.Error("get organization failed", zap.Error(err))
		response.Internal(c, "failed to load organization")
		return
	}
	response.OK(c, summary)
}

// UpgradePlan handles PATCH /organizations/subscription (admin only).
func (h *Handler) UpgradePlan(c *gin.Context) {
	orgID := c.MustGet(middleware.ContextOrgID).(uuid.UUID)
	actorID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	var req UpgradePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	org, err := h.svc.UpgradePlan(c.Request.Context(), orgID, actorID, models.Plan(req.Plan))
	if err != nil {
		switch {
		case errors.Is(err, ErrOrgNotFound):
			response.NotFound(c, err.Error())
		case errors.Is(err, ErrSamePlan):
			response.Conflict(c, err.Error())
		default:
			h.logger.Error("upgrade plan failed", zap.Error(err))
			response.Internal(c, "failed to upgrade plan")
		}
		return
	}
	response.OK(c, org)
}

// Broadcast handles POST /organizations/broadcast (admin only).
func (h *Handler) Broadcast(c *gin.Context) {
	orgID := c.MustGet(middleware.ContextOrgID).(uuid.UUID)
	actorID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	var req BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "message cannot be empty")
		return
	}
	activity, err := h.svc.BroadcastMessage(c.Request.Context(), orgID, actorID, req.Message)
	if err != nil {
		h.logger.Error("broadcast failed", zap.Error(err))
		response.Internal(c, "failed to broadcast message")
		return
	}
	response.Created(c, activity)
}

// Connections handles GET /organizations/connections (admin only): the
// point-in-time size of the caller's room, for diagnostics.
func (h *Handler) Connections(c *gin.Context) {
	orgID := c.MustGet(middleware.ContextOrgID).(uuid.UUID)
	response.OK(c, gin.H{"connections": h.svc.RoomSize(orgID)})
}
