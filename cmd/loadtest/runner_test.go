package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/supportchat/internal/broker"
	"github.com/johndosdos/supportchat/internal/session"
	"github.com/johndosdos/supportchat/internal/transport"
)

func TestRunInMemory(t *testing.T) {
	b := transport.NewMemoryBroker()
	b.SetRouter(broker.RouteByConversation)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	report, err := Run(ctx, b.Dialer(), Params{
		Pairs:    3,
		Messages: 5,
		Settle:   50 * time.Millisecond,
		Session:  session.DefaultConfig(),
		Replay:   func() int { return replay(b) },
	}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	assert.Equal(t, 6, report.Sessions)
	assert.Equal(t, 30, report.Sent)
	assert.Zero(t, report.Rejected)
	assert.Equal(t, int64(60), report.Expected)
	assert.Equal(t, int64(60), report.Delivered)
	assert.Equal(t, 30, report.Replayed)
	assert.Zero(t, report.Extra())
}

func TestRunRejectsEmptyLoad(t *testing.T) {
	_, err := Run(context.Background(), transport.NewMemoryBroker().Dialer(), Params{}, nil, slog.Default())
	assert.Error(t, err)
}
