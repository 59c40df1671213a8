package handler

import (
	"net/http"

	"github.com/damoang/angple-messenger/internal/common"
	"github.com/damoang/angple-messenger/internal/domain"
	"github.com/damoang/angple-messenger/internal/service"
	"github.com/gin-gonic/gin"
)

// PresenceHandler exposes the advisory online state
type PresenceHandler struct {
	service service.PresenceService
}

// NewPresenceHandler creates a new PresenceHandler
func NewPresenceHandler(service service.PresenceService) *PresenceHandler {
	return &PresenceHandler{service: service}
}

// Snapshot handles GET /presence
// @Summary 접속 중인 회원 목록
// @Tags presence
// @Produce json
// @Success 200 {object} common.APIResponse{data=domain.PresenceSnapshotResponse}
// @Router /presence [get]
func (h *PresenceHandler) Snapshot(c *gin.Context) {
	users, err := h.service.Snapshot(c.Request.Context())
	if err != nil {
		common.HandleServiceError(c, err)
		return
	}
	if users == nil {
		users = []string{}
	}

	common.SuccessResponse(c, domain.PresenceSnapshotResponse{Users: users, Count: len(users)}, nil)
}

// GetUser handles GET /presence/:user_id
// @Summary 회원 접속 상태
// @Tags presence
// @Produce json
// @Param user_id path string true "회원 ID"
// @Success 200 {object} common.APIResponse{data=domain.PresenceEntry}
// @Router /presence/{user_id} [get]
func (h *PresenceHandler) GetUser(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		common.ErrorResponse(c, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	common.SuccessResponse(c, h.service.IsOnline(c.Request.Context(), userID), nil)
}
