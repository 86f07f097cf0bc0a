package members

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teamloop/backend/internal/middleware"
	"github.com/teamloop/backend/internal/models"
	"github.com/teamloop/backend/pkg/response"
)

// InviteRequest is the body for POST /users/invite.
type InviteRequest struct {
	Email string `json:"email" binding:"required,email"`
	Role  string `json:"role" binding:"omitempty,oneof=ADMIN MEMBER"`
}

// AcceptInviteRequest is the body for POST /users/accept-invite.
type AcceptInviteRequest struct {
	Token    string `json:"token" binding:"required"`
	Name     string `json:"name" binding:"required,min=2"`
	Password string `json:"password" binding:"required,min=6"`
}

// Handler handles member HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a members handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// List handles GET /users (admin only).
func (h *Handler) List(c *gin.Context) {
	orgID := c.MustGet(middleware.ContextOrgID).(uuid.UUID)
	list, err := h.svc.ListMembers(c.Request.Context(), orgID)
	if err != nil {
		h.logger.Error("list members failed", zap.Error(err))
		response.Internal(c, "failed to list members")
		return
	}
	response.OK(c, list)
}

// Invite handles POST /users/invite (admin only).
func (h *Handler) Invite(c *gin.Context) {
	orgID := c.MustGet(middleware.ContextOrgID).(uuid.UUID)
	actorID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	var req InviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	invite, err := h.svc.CreateInvite(c.Request.Context(), orgID, actorID, req.Email, models.Role(req.Role))
	if err != nil {
		switch {
		case errors.Is(err, ErrOrgNotFound):
			response.NotFound(c, err.Error())
		case errors.Is(err, ErrMemberLimitReached):
			response.Forbidden(c, "member limit reached for plan, please upgrade")
		case errors.Is(err, ErrAlreadyMember), errors.Is(err, ErrDuplicateInvite):
			response.Conflict(c, err.Error())
		default:
			h.logger.Error("create invite failed", zap.Error(err))
			response.Internal(c, "failed to create invite")
		}
		return
	}
	// The token is returned in the response for now; production delivery
	// goes through the email worker.
	response.Created(c, invite)
}

// AcceptInvite handles POST /users/accept-invite (public).
func (h *Handler) AcceptInvite(c *gin.Context) {
	var req AcceptInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	user, err := h.svc.AcceptInvite(c.Request.Context(), req.Token, req.Name, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrInviteNotFound):
			response.NotFound(c, err.Error())
		case errors.Is(err, ErrInviteExpired):
			response.Gone(c, err.Error())
		case errors.Is(err, ErrMemberLimitReached):
			response.Forbidden(c, "member limit reached for plan, please upgrade")
		case errors.Is(err, ErrEmailTaken):
			response.Conflict(c, err.Error())
		default:
			h.logger.Error("accept invite failed", zap.Error(err))
			response.Internal(c, "failed to accept invite")
		}
		return
	}
	response.Created(c, user.ToPublic())
}

// Remove handles DELETE /users/:id (admin only).
func (h *Handler) Remove(c *gin.Context) {
	orgID := c.MustGet(middleware.ContextOrgID).(uuid.UUID)
	actorID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	targetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	if err := h.svc.RemoveMember(c.Request.Context(), orgID, actorID, targetID); err != nil {
		switch {
		case errors.Is(err, ErrSelfRemoval):
			response.BadRequest(c, err.Error())
		case errors.Is(err, ErrCannotRemoveAdmin):
			response.Forbidden(c, err.Error())
		case errors.Is(err, ErrMemberNotFound):
			response.NotFound(c, err.Error())
		default:
			h.logger.Error("remove member failed", zap.Error(err))
			response.Internal(c, "failed to remove member")
		}
		return
	}
	response.OK(c, gin.H{"removed": true})
}
