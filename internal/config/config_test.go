package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/johndosdos/supportchat/internal/connection"
	"github.com/johndosdos/supportchat/internal/dedup"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "RECONNECT_DELAY_MS", "AGENT_IDS", "OUTBOX_SIZE", "LOG_FORMAT", "JWT_SECRET"} {
		t.Setenv(key, "")
	}

	c := Load()
	assert.Equal(t, "8080", c.Server.Port)
	assert.Equal(t, connection.DefaultReconnectDelay, c.Session.ReconnectDelay)
	assert.Equal(t, []string{"1"}, c.Auth.Agents)
	assert.Equal(t, dedup.DefaultCapacity, c.Session.DedupCapacity)
	assert.Equal(t, 0, c.Session.OutboxSize)
	assert.Equal(t, "json", c.Logging.Format)
	assert.Empty(t, c.Auth.JWTSecret)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RECONNECT_DELAY_MS", "250")
	t.Setenv("MAX_RECONNECT_DELAY_MS", "4000")
	t.Setenv("AGENT_IDS", " 1, 2 ,,3")
	t.Setenv("DEDUP_RETENTION", "10m")
	t.Setenv("OUTBOX_SIZE", "16")
	t.Setenv("SEND_RATE_LIMIT", "5")
	t.Setenv("SEND_RATE_WINDOW", "10s")
	t.Setenv("LOCAL_ECHO", "true")
	t.Setenv("NATS_JETSTREAM", "false")
	t.Setenv("DEDUP_CAPACITY", "not-a-number")

	c := Load()
	assert.Equal(t, []string{"1", "2", "3"}, c.Auth.Agents)
	assert.False(t, c.NATS.JetStream)
	assert.Equal(t, dedup.DefaultCapacity, c.Session.DedupCapacity, "invalid values fall back")

	s := c.SessionConfig()
	assert.Equal(t, 250*time.Millisecond, s.Connection.ReconnectDelay)
	assert.Equal(t, 4*time.Second, s.Connection.MaxReconnectDelay)
	assert.Equal(t, 10*time.Minute, s.DedupRetention)
	assert.Equal(t, 16, s.OutboxSize)
	assert.Equal(t, 5, s.SendLimit)
	assert.Equal(t, 10*time.Second, s.SendWindow)
	assert.True(t, s.LocalEcho)
}
