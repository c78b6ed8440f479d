// Package history fetches a conversation's backlog from the chat REST
// service so a client can render it and seed its dedup ledger.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/johndosdos/supportchat/internal/model"
)

const historyPath = "/api/chat/history/"

type Client struct {
	http    *retryablehttp.Client
	baseURL string
	token   string
}

type Option func(*Client)

// WithToken sends token as a bearer credential.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithRetry(max int, waitMin, waitMax time.Duration) Option {
	return func(c *Client) {
		c.http.RetryMax = max
		c.http.RetryWaitMin = waitMin
		c.http.RetryWaitMax = waitMax
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.http.Logger = l
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.HTTPClient.Timeout = d }
}

func New(baseURL string, opts ...Option) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil
	rc.HTTPClient.Timeout = 10 * time.Second

	c := &Client{http: rc, baseURL: strings.TrimRight(baseURL, "/")}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the stored messages of conversationID, oldest first. A
// conversation the service does not know yields an empty backlog.
func (c *Client) Fetch(ctx context.Context, conversationID string) ([]model.ChatMessage, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("history: %w", model.ErrInvalidConversation)
	}

	endpoint := c.baseURL + historyPath + url.PathEscape(conversationID)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("history: failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history: failed to send GET request to [%s]: %w", endpoint, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound:
		return nil, nil
	case res.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, fmt.Errorf("history: unexpected status %d from [%s]: %s", res.StatusCode, endpoint, strings.TrimSpace(string(body)))
	}

	var backlog []model.ChatMessage
	if err := json.NewDecoder(res.Body).Decode(&backlog); err != nil {
		return nil, fmt.Errorf("history: %w: %v", model.ErrMalformed, err)
	}
	for i := range backlog {
		if backlog[i].Type == "" {
			backlog[i].Type = model.TypeText
		}
	}
	return backlog, nil
}
