package handler

import (
	"net/http"

	"github.com/damoang/angple-messenger/internal/common"
	"github.com/damoang/angple-messenger/internal/domain"
	"github.com/damoang/angple-messenger/internal/middleware"
	"github.com/damoang/angple-messenger/internal/service"
	"github.com/damoang/angple-messenger/pkg/ginutil"
	"github.com/gin-gonic/gin"
)

// MessageHandler handles direct message HTTP requests
type MessageHandler struct {
	service service.MessageService
}

// NewMessageHandler creates a new MessageHandler
func NewMessageHandler(service service.MessageService) *MessageHandler {
	return &MessageHandler{service: service}
}

// SendMessage handles POST /messages
// @Summary 메시지 보내기
// @Tags messages
// @Accept json
// @Produce json
// @Param request body domain.SendMessageRequest true "메시지 내용"
// @Success 200 {object} common.APIResponse{data=domain.Message}
// @Router /messages [post]
func (h *MessageHandler) SendMessage(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		common.ErrorResponse(c, http.StatusUnauthorized, "로그인이 필요합니다", nil)
		return
	}

	var req domain.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.BindErrorResponse(c, err)
		return
	}

	msg, err := h.service.Send(c.Request.Context(), userID, req.ReceiverID, req.Content)
	if err != nil {
		common.HandleServiceError(c, err)
		return
	}

	common.SuccessResponse(c, msg, nil)
}

// GetConversation handles GET /conversations/:peer_id/messages
// @Summary 대화 내역
// @Tags messages
// @Produce json
// @Param peer_id path string true "상대 회원 ID"
// @Param limit query int false "최근 메시지 개수"
// @Success 200 {object} common.APIResponse{data=domain.ConversationResponse}
// @Router /conversations/{peer_id}/messages [get]
func (h *MessageHandler) GetConversation(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		common.ErrorResponse(c, http.StatusUnauthorized, "로그인이 필요합니다", nil)
		return
	}

	peerID := c.Param("peer_id")
	limit, err := ginutil.QueryInt(c, "limit", 0)
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "limit must be a number", err)
		return
	}

	messages, applied, err := h.service.GetConversation(c.Request.Context(), userID, peerID, limit)
	if err != nil {
		common.HandleServiceError(c, err)
		return
	}

	common.SuccessResponse(c, domain.ConversationResponse{PeerID: peerID, Messages: messages}, &common.Meta{
		PeerID: peerID,
		Limit:  applied,
		Count:  len(messages),
	})
}

// MarkAsRead handles POST /messages/:id/read
// @Summary 메시지 읽음 처리
// @Tags messages
// @Produce json
// @Param id path int true "메시지 ID"
// @Success 200 {object} common.APIResponse{data=domain.Message}
// @Router /messages/{id}/read [post]
func (h *MessageHandler) MarkAsRead(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		common.ErrorResponse(c, http.StatusUnauthorized, "로그인이 필요합니다", nil)
		return
	}

	id, err := ginutil.ParamUint64(c, "id")
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "잘못된 메시지 ID입니다", err)
		return
	}

	msg, err := h.service.MarkAsRead(c.Request.Context(), id, userID)
	if err != nil {
		common.HandleServiceError(c, err)
		return
	}

	common.SuccessResponse(c, msg, nil)
}
