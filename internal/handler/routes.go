package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/johndosdos/supportchat/internal"
	ratelimiter "github.com/johndosdos/supportchat/internal/rate_limiter"
	ws "github.com/johndosdos/supportchat/internal/websocket"
)

// Dependencies are what the gateway routes need.
type Dependencies struct {
	Hub       *ws.Hub
	JWTSecret string
	// HandshakeLimiter throttles /ws per client IP when set.
	HandshakeLimiter *ratelimiter.IPRateLimiter
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Ws      WsOptions
}

// SetupRoutes mounts the gateway endpoints on r.
func SetupRoutes(r chi.Router, deps Dependencies) {
	r.Get("/healthz", ServeHealthz(deps.Hub.Stopped()))

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	var wsHandler http.Handler = internal.Middleware(ServeWs(deps.Hub, deps.Ws), deps.JWTSecret)
	if deps.HandshakeLimiter != nil {
		wsHandler = deps.HandshakeLimiter.Middleware(wsHandler)
	}
	r.Method(http.MethodGet, "/ws", wsHandler)
}
