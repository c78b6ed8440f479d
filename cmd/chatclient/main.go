// chatclient is a terminal chat client built on the session layer. It
// connects to the gateway over a websocket, or straight to NATS, and reads
// commands from stdin:
//
//	/switch <peer>   open the conversation with another user
//	/image <url>     send an image message
//	/quit            leave
//
// Any other line is sent as text to the active conversation.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/johndosdos/supportchat/internal/auth"
	"github.com/johndosdos/supportchat/internal/broker"
	"github.com/johndosdos/supportchat/internal/config"
	"github.com/johndosdos/supportchat/internal/history"
	"github.com/johndosdos/supportchat/internal/logging"
	"github.com/johndosdos/supportchat/internal/metrics"
	"github.com/johndosdos/supportchat/internal/model"
	"github.com/johndosdos/supportchat/internal/preview"
	"github.com/johndosdos/supportchat/internal/session"
	"github.com/johndosdos/supportchat/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "chatclient: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	transport   string
	url         string
	natsURL     string
	user        string
	name        string
	avatar      string
	token       string
	jwtSecret   string
	peer        string
	redisURL    string
	historyURL  string
	metricsAddr string
	logLevel    string
}

func run() error {
	_ = godotenv.Load()
	cfg := config.Load()

	var opts options
	flagSet := pflag.NewFlagSet("chatclient", pflag.ContinueOnError)
	flagSet.StringVar(&opts.transport, "transport", "ws", "connection transport: ws or nats")
	flagSet.StringVar(&opts.url, "url", "ws://localhost:"+cfg.Server.Port+"/ws", "gateway websocket url")
	flagSet.StringVar(&opts.natsURL, "nats-url", valueOr(cfg.NATS.URL, nats.DefaultURL), "NATS server url")
	flagSet.StringVarP(&opts.user, "user", "u", "", "user id to sign in as")
	flagSet.StringVar(&opts.name, "name", "", "display name stamped on sent messages")
	flagSet.StringVar(&opts.avatar, "avatar", "", "avatar url stamped on sent messages")
	flagSet.StringVar(&opts.token, "token", "", "bearer token for the gateway")
	flagSet.StringVar(&opts.jwtSecret, "jwt-secret", cfg.Auth.JWTSecret, "mint a token with this secret when --token is empty")
	flagSet.StringVarP(&opts.peer, "peer", "p", "", "user id of the other participant")
	flagSet.StringVar(&opts.redisURL, "redis-url", cfg.Redis.URL, "keep conversation previews in redis")
	flagSet.StringVar(&opts.historyURL, "history-url", cfg.History.URL, "seed the conversation from this history service")
	flagSet.StringVar(&opts.metricsAddr, "metrics-addr", cfg.Metrics.Addr, "serve prometheus metrics on this address")
	flagSet.StringVar(&opts.logLevel, "log-level", "warn", "log level")
	flagSet.DurationVar(&cfg.Session.ReconnectDelay, "reconnect-delay", cfg.Session.ReconnectDelay, "delay before redialing a dropped connection")
	flagSet.IntVar(&cfg.Session.OutboxSize, "outbox", cfg.Session.OutboxSize, "queue up to this many sends while disconnected")
	flagSet.BoolVar(&cfg.Session.LocalEcho, "local-echo", cfg.Session.LocalEcho, "show sent messages without waiting for the broker")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.user == "" {
		return errors.New("--user is required")
	}

	logger := logging.New(logging.Config{
		Level:  opts.logLevel,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialer, err := newDialer(opts, logger)
	if err != nil {
		return err
	}

	sessionOpts := []session.Option{
		session.WithConfig(cfg.SessionConfig()),
		session.WithLogger(logger),
	}

	if opts.metricsAddr != "" {
		registry := prometheus.NewRegistry()
		sessionOpts = append(sessionOpts, session.WithMetrics(metrics.New(registry)))
		go serveMetrics(opts.metricsAddr, registry, logger)
	}

	if opts.redisURL != "" {
		redisOpts, err := redis.ParseURL(opts.redisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(redisOpts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		sessionOpts = append(sessionOpts, session.WithPreviewStore(preview.NewRedisStore(rdb, cfg.Redis.Prefix)))
	}

	token := opts.token
	if token == "" && opts.jwtSecret != "" {
		token, err = auth.MakeJWT(opts.user, opts.jwtSecret, 24*time.Hour)
		if err != nil {
			return fmt.Errorf("mint token: %w", err)
		}
	}

	var hist *history.Client
	if opts.historyURL != "" {
		hist = history.New(opts.historyURL,
			history.WithToken(token),
			history.WithLogger(logger),
			history.WithRetry(cfg.History.RetryMax, 500*time.Millisecond, 5*time.Second))
	}

	s := session.New(dialer, sessionOpts...)
	defer s.Deactivate()

	out := os.Stdout
	unsubscribe := s.OnMessage(func(m model.ChatMessage) {
		printMessage(out, opts.user, m)
	})
	defer unsubscribe()
	s.OnConnectedChange(func(connected bool) {
		if connected {
			fmt.Fprintln(out, "* connected")
		} else {
			fmt.Fprintln(out, "* disconnected")
		}
	})

	identity := model.Identity{UserID: opts.user, Name: opts.name, Avatar: opts.avatar, Token: token}
	conversation := ""
	if opts.peer != "" {
		conversation = model.ConversationKey(opts.user, opts.peer)
		seed(ctx, s, hist, conversation, out, opts.user, logger)
	}
	if err := s.Activate(identity, conversation); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			cmd := parseLine(line)
			switch cmd.kind {
			case cmdNone:
				continue
			case cmdQuit:
				return nil
			case cmdSwitch:
				conversation = model.ConversationKey(opts.user, cmd.arg)
				seed(ctx, s, hist, conversation, out, opts.user, logger)
				if err := s.SetActiveConversation(conversation); err != nil {
					fmt.Fprintf(out, "* %v\n", err)
				}
			case cmdInvalid:
				fmt.Fprintf(out, "* %s\n", cmd.arg)
			case cmdText, cmdImage:
				msgType := model.TypeText
				if cmd.kind == cmdImage {
					msgType = model.TypeImage
				}
				res := s.Send(ctx, session.Draft{Content: cmd.arg, Type: msgType})
				switch res.Status {
				case session.Rejected:
					fmt.Fprintf(out, "* not sent: %v\n", res.Err)
				case session.Queued:
					fmt.Fprintln(out, "* queued until reconnected")
				}
			}
		}
	}
}

func newDialer(opts options, logger *slog.Logger) (transport.Dialer, error) {
	switch opts.transport {
	case "ws":
		return &transport.WebsocketDialer{URL: opts.url, Logger: logger}, nil
	case "nats":
		return &broker.NATSDialer{URL: opts.natsURL, Logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", opts.transport)
	}
}

// seed loads the conversation backlog so the live subscription does not
// print it twice.
func seed(ctx context.Context, s *session.Session, hist *history.Client, conversationID string, out io.Writer, self string, logger *slog.Logger) {
	if hist == nil {
		return
	}
	backlog, err := hist.Fetch(ctx, conversationID)
	if err != nil {
		logger.Warn("failed to load history", "conversation_id", conversationID, "error", err)
		return
	}
	for _, m := range backlog {
		printMessage(out, self, m)
	}
	s.Seed(backlog)
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", "error", err)
	}
}

func printMessage(w io.Writer, self string, m model.ChatMessage) {
	who := m.SenderName
	if who == "" {
		who = m.SenderID.String()
	}
	if m.SenderID.String() == self {
		who = "you"
	}

	stamp := m.Time().Local().Format("15:04")
	switch m.Type {
	case model.TypeImage:
		fmt.Fprintf(w, "[%s] %s sent an image: %s\n", stamp, who, m.Content)
	default:
		fmt.Fprintf(w, "[%s] %s: %s\n", stamp, who, m.Content)
	}
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
