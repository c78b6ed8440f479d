// Package main runs the chat gateway: websocket clients subscribe to
// conversation topics and publish sends, which are routed through NATS when
// configured.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/johndosdos/supportchat/internal/broker"
	"github.com/johndosdos/supportchat/internal/config"
	"github.com/johndosdos/supportchat/internal/handler"
	"github.com/johndosdos/supportchat/internal/logging"
	"github.com/johndosdos/supportchat/internal/metrics"
	ratelimiter "github.com/johndosdos/supportchat/internal/rate_limiter"
	ws "github.com/johndosdos/supportchat/internal/websocket"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("failed to load .env file: %+v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.SetOutput(os.Stdout)

	cfg := config.Load()
	logger := logging.New(cfg.LoggingConfig())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// Init NATS
	var backend ws.Backend
	var bridge *broker.Bridge
	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		logger.Info("initializing NATS connection", "url", cfg.NATS.URL)

		natsOptions := []nats.Option{nats.Name("supportchat-gateway"), nats.Timeout(5 * time.Second)}
		if cfg.NATS.Cred != "" {
			natsOptions = append(natsOptions, nats.UserCredentials(cfg.NATS.Cred))
		} else if cfg.NATS.User != "" && cfg.NATS.Password != "" {
			natsOptions = append(natsOptions, nats.UserInfo(cfg.NATS.User, cfg.NATS.Password))
		}

		var err error
		nc, err = nats.Connect(cfg.NATS.URL, natsOptions...)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}

		bridge, err = broker.NewBridge(ctx, nc, cfg.NATS.JetStream, logger)
		if err != nil {
			log.Fatalf("failed to set up broker bridge: %v", err)
		}
		backend = bridge
	} else {
		logger.Warn("NATS_URL is not set; routing messages within this process only")
	}

	// hub.Run is our central hub that is always listening for client related events.
	hub := ws.NewHub(backend,
		ws.WithLogger(logger),
		ws.WithMetrics(m),
		ws.WithAgents(cfg.Auth.Agents...))
	go hub.Run(ctx)

	if bridge != nil {
		if err := bridge.Deliveries(ctx, hub.BrokerMsg); err != nil {
			log.Fatalf("failed to subscribe to broker: %v", err)
		}
		if err := bridge.Sends(ctx, hub.RelayMsg); err != nil {
			log.Fatalf("failed to subscribe to broker sends: %v", err)
		}
	}

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("JWT_SECRET is not set; trusting the userid query parameter")
	}

	limiter := ratelimiter.NewIPRateLimiter(cfg.Limits.HandshakeRequests, cfg.Limits.HandshakeWindow, ratelimiter.CleanupOpts{
		TTL:      10 * time.Minute,
		Interval: time.Minute,
	}, ratelimiter.WithLogger(logger))
	defer limiter.Close()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	handler.SetupRoutes(r, handler.Dependencies{
		Hub:              hub,
		JWTSecret:        cfg.Auth.JWTSecret,
		HandshakeLimiter: limiter,
		Metrics:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Ws: handler.WsOptions{
			OriginPatterns: cfg.Server.AllowedOrigins,
			ReadLimit:      cfg.Server.ReadLimit,
			MessageLimit:   cfg.Limits.MessageRequests,
			MessageWindow:  cfg.Limits.MessageWindow,
			Logger:         logger,
		},
	})

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received; shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	if nc != nil {
		// Drain NATS connection.
		if err := nc.Drain(); err != nil {
			logger.Warn("couldn't drain NATS conn", "error", err)
		}
	}

	logger.Info("server stopped")
}
