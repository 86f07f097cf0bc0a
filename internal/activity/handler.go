// Package activity serves the organization audit feed: the REST read path
// clients use to reconstruct state independent of missed socket events.
package activity

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teamloop/backend/internal/middleware"
	"github.com/teamloop/backend/internal/store"
	"github.com/teamloop/backend/pkg/response"
)

// Handler handles activity feed HTTP endpoints.
type Handler struct {
	store  store.Store
	logger *zap.Logger
}

// NewHandler creates an activity handler.
func NewHandler(st store.Store, logger *zap.Logger) *Handler {
	return &Handler{store: st, logger: logger}
}

// List handles GET /activities: the caller's organization feed, newest first.
func (h *Handler) List(c *gin.Context) {
	orgID := c.MustGet(middleware.ContextOrgID).(uuid.UUID)
	entries, err := h.store.ListActivities(c.Request.Context(), orgID)
	if err != nil {
		h.logger.Error("list activities failed", zap.Error(err))
		response.Internal(c, "failed to load activities")
		return
	}
	response.OK(c, entries)
}
