package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/damoang/angple-messenger/internal/common"
	"github.com/damoang/angple-messenger/internal/domain"
	"github.com/damoang/angple-messenger/internal/middleware"
	"github.com/damoang/angple-messenger/internal/service"
	"github.com/damoang/angple-messenger/internal/ws"
	"github.com/damoang/angple-messenger/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WSHandlerConfig upgrader settings
type WSHandlerConfig struct {
	AllowedOrigins  []string
	ReadBufferSize  int
	WriteBufferSize int
}

// WSHandler handles WebSocket connections
type WSHandler struct {
	hub            *ws.Hub
	presence       service.PresenceService
	allowedOrigins []string
	upgrader       websocket.Upgrader
	logger         zerolog.Logger
}

// NewWSHandler creates a new WSHandler
func NewWSHandler(hub *ws.Hub, presence service.PresenceService, cfg WSHandlerConfig) *WSHandler {
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = 1024
	}
	if cfg.WriteBufferSize <= 0 {
		cfg.WriteBufferSize = 1024
	}
	h := &WSHandler{
		hub:            hub,
		presence:       presence,
		allowedOrigins: cfg.AllowedOrigins,
		logger:         logger.WithComponent("ws"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin validates the request origin against allowed origins
func (h *WSHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // Same-origin requests don't have Origin header
	}

	// If no allowed origins configured, allow all (development mode)
	if len(h.allowedOrigins) == 0 {
		return true
	}

	for _, allowed := range h.allowedOrigins {
		if origin == allowed {
			return true
		}
	}

	return false
}

// Connect handles GET /ws — WebSocket upgrade.
// The connection receives the presence topic unless ?presence=false; with
// ?peer_id= it also receives the conversation between the caller and that peer.
// @Summary 실시간 메시지/접속 상태 WebSocket
// @Tags realtime
// @Param peer_id query string false "대화 상대 ID"
// @Param presence query bool false "접속 상태 이벤트 수신 (기본 true)"
// @Router /ws [get]
func (h *WSHandler) Connect(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		common.ErrorResponse(c, http.StatusUnauthorized, "로그인이 필요합니다", nil)
		return
	}

	var topics []string
	withPresence, err := strconv.ParseBool(c.DefaultQuery("presence", "true"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid presence", nil)
		return
	}
	if withPresence {
		topics = append(topics, domain.TopicPresence)
	}
	if peerID := c.Query("peer_id"); peerID != "" {
		if peerID == userID || strings.ContainsRune(peerID, ':') {
			common.ErrorResponse(c, http.StatusBadRequest, "invalid peer_id", nil)
			return
		}
		topics = append(topics, domain.ConversationTopic(userID, peerID))
	}
	if len(topics) == 0 {
		common.ErrorResponse(c, http.StatusBadRequest, "no topics requested", nil)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		return
	}

	connID := uuid.NewString()
	log := h.logger.With().Str("user_id", userID).Str("conn_id", connID).Logger()

	h.presence.Connected(userID)
	onClose := func() {
		h.presence.Disconnected(userID)
		log.Debug().Msg("websocket closed")
	}

	client, err := ws.NewClient(h.hub, conn, userID, h.presence, onClose, topics...)
	if err != nil {
		log.Warn().Err(err).Msg("subscription failed")
		conn.Close() //nolint:errcheck
		onClose()
		return
	}
	log.Debug().Strs("topics", topics).Msg("websocket opened")

	go client.WritePump()
	go client.ReadPump()
}
