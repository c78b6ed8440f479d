// loadtest pairs up chat sessions, has every session send a batch of
// messages and reports how many arrived. It runs against a live gateway or
// against an in-process broker, where it also replays every frame to check
// that duplicates never reach the UI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/johndosdos/supportchat/internal/auth"
	"github.com/johndosdos/supportchat/internal/broker"
	"github.com/johndosdos/supportchat/internal/config"
	"github.com/johndosdos/supportchat/internal/logging"
	"github.com/johndosdos/supportchat/internal/metrics"
	"github.com/johndosdos/supportchat/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "loadtest: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	cfg := config.Load()

	var (
		mode      string
		url       string
		jwtSecret string
		timeout   time.Duration
		logLevel  string
		p         Params
	)
	flagSet := pflag.NewFlagSet("loadtest", pflag.ContinueOnError)
	flagSet.StringVar(&mode, "mode", "memory", "memory or ws")
	flagSet.StringVar(&url, "url", "ws://localhost:"+cfg.Server.Port+"/ws", "gateway websocket url for --mode=ws")
	flagSet.StringVar(&jwtSecret, "jwt-secret", cfg.Auth.JWTSecret, "sign handshake tokens with this secret")
	flagSet.IntVarP(&p.Pairs, "pairs", "n", 10, "number of conversations")
	flagSet.IntVarP(&p.Messages, "messages", "m", 20, "messages sent by each session")
	flagSet.DurationVar(&p.Interval, "interval", 0, "pause between sends of one session")
	flagSet.DurationVar(&p.Settle, "settle", 500*time.Millisecond, "wait for subscriptions and late deliveries")
	flagSet.DurationVar(&timeout, "timeout", time.Minute, "abort the run after this long")
	flagSet.StringVar(&logLevel, "log-level", "warn", "log level")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	logger := logging.New(logging.Config{Level: logLevel, Format: "text", Output: os.Stderr})
	p.Session = cfg.SessionConfig()
	if jwtSecret != "" {
		p.Token = func(userID string) (string, error) {
			return auth.MakeJWT(userID, jwtSecret, time.Hour)
		}
	}

	var dialer transport.Dialer
	switch mode {
	case "memory":
		b := transport.NewMemoryBroker()
		b.SetRouter(broker.RouteByConversation)
		dialer = b.Dialer()
		p.Replay = func() int { return replay(b) }
	case "ws":
		dialer = &transport.WebsocketDialer{URL: url, Logger: logger}
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	report, err := Run(ctx, dialer, p, metrics.New(prometheus.NewRegistry()), logger)
	if err != nil {
		return err
	}
	fmt.Println(report)

	if report.Extra() > 0 {
		return fmt.Errorf("%d duplicate deliveries", report.Extra())
	}
	return nil
}

// replay pushes every routed frame to its conversation topic again.
func replay(b *transport.MemoryBroker) int {
	n := 0
	for _, p := range b.Published() {
		topic, ok := broker.RouteByConversation(p.Topic, p.Data)
		if !ok {
			continue
		}
		b.Deliver(topic, p.Data)
		n++
	}
	return n
}
