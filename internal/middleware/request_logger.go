package middleware

import (
	"time"

	"github.com/damoang/angple-messenger/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-ID"

// quietPaths are polled by probes and scrapers; logged at debug only
var quietPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// RequestLogger logs one line per request. Websocket upgrades are logged
// when the handshake returns, not when the connection closes.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()

		status := c.Writer.Status()
		event := levelFor(c.Request.URL.Path, status)
		if event == nil {
			return
		}

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		event.
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("route", route).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Str("user_id", GetUserID(c)).
			Bool("websocket", c.IsWebsocket()).
			Int("body_size", c.Writer.Size()).
			Msg("request")
	}
}

func levelFor(path string, status int) *zerolog.Event {
	log := logger.GetLogger()
	switch {
	case status >= 500:
		return log.Error()
	case status >= 400:
		return log.Warn()
	case quietPaths[path]:
		return log.Debug()
	default:
		return log.Info()
	}
}
