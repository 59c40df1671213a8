package routes

import (
	"github.com/damoang/angple-messenger/internal/handler"
	"github.com/damoang/angple-messenger/internal/middleware"
	"github.com/damoang/angple-messenger/pkg/jwt"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers groups the HTTP handlers mounted by Setup
type Handlers struct {
	Message  *handler.MessageHandler
	Presence *handler.PresenceHandler
	WS       *handler.WSHandler
	Health   *handler.HealthHandler
}

// Setup configures all API routes. sendLimit guards POST /messages and may be nil.
func Setup(router *gin.Engine, h Handlers, jwtManager *jwt.Manager, sendLimit gin.HandlerFunc) {
	// Unauthenticated
	if h.Health != nil {
		router.GET("/health", h.Health.Health)
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1", middleware.JWTAuth(jwtManager))

	// Messages (쪽지/DM)
	send := []gin.HandlerFunc{}
	if sendLimit != nil {
		send = append(send, sendLimit)
	}
	send = append(send, h.Message.SendMessage)
	api.POST("/messages", send...)
	api.POST("/messages/:id/read", h.Message.MarkAsRead)
	api.GET("/conversations/:peer_id/messages", h.Message.GetConversation)

	// Presence (접속 상태)
	api.GET("/presence", h.Presence.Snapshot)
	api.GET("/presence/:user_id", h.Presence.GetUser)

	// Realtime
	if h.WS != nil {
		api.GET("/ws", h.WS.Connect)
	}
}
