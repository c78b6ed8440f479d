// Package testutil starts in-process gateways for tests.
package testutil

import (
	"context"
	"log"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/johndosdos/supportchat/internal/auth"
	"github.com/johndosdos/supportchat/internal/handler"
	"github.com/johndosdos/supportchat/internal/metrics"
	ws "github.com/johndosdos/supportchat/internal/websocket"
)

func ProjectRoot() string {
	_, file, _, _ := runtime.Caller(0)
	root := filepath.Join(filepath.Dir(file), "../../")
	return root
}

// LoadEnv loads the project's .env file if there is one, so variables such
// as TEST_REDIS_URL can be kept out of the shell.
func LoadEnv() {
	if err := godotenv.Load(filepath.Join(ProjectRoot(), ".env")); err != nil {
		log.Printf("failed to load .env file: %+v", err)
	}
}

type GatewayOptions struct {
	// Secret enables JWT authentication. Empty trusts the userid query.
	Secret        string
	Agents        []string
	Backend       ws.Backend
	Metrics       *metrics.Metrics
	MessageLimit  int
	MessageWindow time.Duration
}

// Gateway is a running hub behind an httptest server.
type Gateway struct {
	Server *httptest.Server
	Hub    *ws.Hub
	Secret string
}

// StartGateway runs a hub and serves the gateway routes until the test
// ends.
func StartGateway(t testing.TB, opts GatewayOptions) *Gateway {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	hub := ws.NewHub(opts.Backend,
		ws.WithAgents(opts.Agents...),
		ws.WithMetrics(opts.Metrics))
	go hub.Run(ctx)

	r := chi.NewRouter()
	handler.SetupRoutes(r, handler.Dependencies{
		Hub:       hub,
		JWTSecret: opts.Secret,
		Ws: handler.WsOptions{
			MessageLimit:  opts.MessageLimit,
			MessageWindow: opts.MessageWindow,
		},
	})

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		<-hub.Stopped()
		srv.CloseClientConnections()
		srv.Close()
	})

	return &Gateway{Server: srv, Hub: hub, Secret: opts.Secret}
}

// WsURL is the websocket endpoint of the gateway.
func (g *Gateway) WsURL() string {
	return "ws" + strings.TrimPrefix(g.Server.URL, "http") + "/ws"
}

// Token signs a short-lived JWT for userID.
func (g *Gateway) Token(t testing.TB, userID string) string {
	t.Helper()

	tok, err := auth.MakeJWT(userID, g.Secret, time.Minute)
	if err != nil {
		t.Fatalf("MakeJWT() error = %+v", err)
	}
	return tok
}
