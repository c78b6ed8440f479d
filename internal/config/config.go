// Package config reads gateway and client settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/johndosdos/supportchat/internal/connection"
	"github.com/johndosdos/supportchat/internal/dedup"
	"github.com/johndosdos/supportchat/internal/logging"
	"github.com/johndosdos/supportchat/internal/session"
)

type Config struct {
	Server struct {
		Port            string
		AllowedOrigins  []string
		ShutdownTimeout time.Duration
		ReadLimit       int64
	}

	Auth struct {
		JWTSecret string
		// Agents may join every conversation.
		Agents []string
	}

	NATS struct {
		URL       string
		Cred      string
		User      string
		Password  string
		JetStream bool
	}

	Redis struct {
		URL    string
		Prefix string
	}

	History struct {
		URL      string
		RetryMax int
	}

	Session struct {
		ReconnectDelay    time.Duration
		MaxReconnectDelay time.Duration
		DialTimeout       time.Duration
		DedupCapacity     int
		DedupRetention    time.Duration
		OutboxSize        int
		SendLimit         int
		SendWindow        time.Duration
		LocalEcho         bool
	}

	Limits struct {
		HandshakeRequests int
		HandshakeWindow   time.Duration
		MessageRequests   int
		MessageWindow     time.Duration
	}

	Metrics struct {
		Addr string
	}

	Logging struct {
		Level  string
		Format string
	}
}

// Load reads the configuration from the process environment. Callers load
// any .env file first.
func Load() *Config {
	c := &Config{}

	c.Server.Port = getEnvString("PORT", "8080")
	c.Server.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", nil)
	c.Server.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	c.Server.ReadLimit = int64(getEnvInt("WS_READ_LIMIT", 64<<10))

	c.Auth.JWTSecret = getEnvString("JWT_SECRET", "")
	c.Auth.Agents = getEnvStringSlice("AGENT_IDS", []string{"1"})

	c.NATS.URL = getEnvString("NATS_URL", "")
	c.NATS.Cred = getEnvString("NATS_CRED", "")
	c.NATS.User = getEnvString("NATS_USER", "")
	c.NATS.Password = getEnvString("NATS_PASSWORD", "")
	c.NATS.JetStream = getEnvBool("NATS_JETSTREAM", true)

	c.Redis.URL = getEnvString("REDIS_URL", "")
	c.Redis.Prefix = getEnvString("REDIS_PREFIX", "chat")

	c.History.URL = getEnvString("HISTORY_URL", "")
	c.History.RetryMax = getEnvInt("HISTORY_RETRY_MAX", 3)

	c.Session.ReconnectDelay = time.Duration(getEnvInt("RECONNECT_DELAY_MS", 5000)) * time.Millisecond
	c.Session.MaxReconnectDelay = time.Duration(getEnvInt("MAX_RECONNECT_DELAY_MS", 0)) * time.Millisecond
	c.Session.DialTimeout = getEnvDuration("DIAL_TIMEOUT", connection.DefaultDialTimeout)
	c.Session.DedupCapacity = getEnvInt("DEDUP_CAPACITY", dedup.DefaultCapacity)
	c.Session.DedupRetention = getEnvDuration("DEDUP_RETENTION", 0)
	c.Session.OutboxSize = getEnvInt("OUTBOX_SIZE", 0)
	c.Session.SendLimit = getEnvInt("SEND_RATE_LIMIT", 0)
	c.Session.SendWindow = getEnvDuration("SEND_RATE_WINDOW", time.Minute)
	c.Session.LocalEcho = getEnvBool("LOCAL_ECHO", false)

	c.Limits.HandshakeRequests = getEnvInt("HANDSHAKE_RATE_LIMIT", 10)
	c.Limits.HandshakeWindow = getEnvDuration("HANDSHAKE_RATE_WINDOW", time.Minute)
	c.Limits.MessageRequests = getEnvInt("MESSAGE_RATE_LIMIT", 30)
	c.Limits.MessageWindow = getEnvDuration("MESSAGE_RATE_WINDOW", time.Minute)

	c.Metrics.Addr = getEnvString("METRICS_ADDR", "")

	c.Logging.Level = getEnvString("LOG_LEVEL", "info")
	c.Logging.Format = getEnvString("LOG_FORMAT", "json")

	return c
}

// SessionConfig converts the session settings for session.New.
func (c *Config) SessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.Connection = connection.Config{
		ReconnectDelay:    c.Session.ReconnectDelay,
		MaxReconnectDelay: c.Session.MaxReconnectDelay,
		DialTimeout:       c.Session.DialTimeout,
	}
	cfg.DedupCapacity = c.Session.DedupCapacity
	cfg.DedupRetention = c.Session.DedupRetention
	cfg.OutboxSize = c.Session.OutboxSize
	cfg.SendLimit = c.Session.SendLimit
	cfg.SendWindow = c.Session.SendWindow
	cfg.LocalEcho = c.Session.LocalEcho
	return cfg
}

func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{Level: c.Logging.Level, Format: c.Logging.Format}
}

func getEnvString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvStringSlice(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
