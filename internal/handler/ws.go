package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/johndosdos/supportchat/internal/auth"
	ws "github.com/johndosdos/supportchat/internal/websocket"
)

// WsOptions tune each accepted websocket connection.
type WsOptions struct {
	// OriginPatterns are passed to websocket.Accept. Empty skips the
	// origin check.
	OriginPatterns []string
	ReadLimit      int64
	MessageLimit   int
	MessageWindow  time.Duration
	Logger         *slog.Logger
}

// ServeWs handles the client's websocket connection upgrade.
func ServeWs(h *ws.Hub, opts WsOptions) http.HandlerFunc {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := auth.GetUserFromContext(ctx)
		if err != nil {
			logger.WarnContext(ctx, "websocket request without user", "error", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: len(opts.OriginPatterns) == 0,
			OriginPatterns:     opts.OriginPatterns,
		})
		if err != nil {
			logger.WarnContext(ctx, "failed to upgrade connection to websocket",
				"error", err,
				"user_id", userID)
			return
		}
		if opts.ReadLimit > 0 {
			conn.SetReadLimit(opts.ReadLimit)
		}

		logger.InfoContext(ctx, "upgraded connection", "user_id", userID)

		// We'll register our new client to the central hub.
		c := ws.NewClient(conn, userID, logger)
		c.SetMessageLimiter(opts.MessageLimit, opts.MessageWindow)
		reg := ws.Registration{
			Client: c,
			Done:   make(chan struct{}),
		}

		select {
		case h.Register <- reg:
		case <-h.Stopped():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}

		// Wait for registration to complete
		<-reg.Done

		// We block on c.ReadMessage() because the request context will be canceled as soon
		// we return from the ServeWs() handler.
		go c.WriteMessage(ctx)
		c.ReadMessage(ctx)
	}
}
