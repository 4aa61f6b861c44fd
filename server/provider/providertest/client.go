// Package providertest provides scripted completion clients for tests.
package providertest

import (
	"context"
	"sync"

	"github.com/teilomillet/econochat/server/provider"
)

// Reply is one scripted outcome.
type Reply struct {
	Text string
	Err  error
}

// Client replays scripted replies in order and records every request. When
// the script is exhausted Fallback is used; a nil Fallback answers "ok".
type Client struct {
	mu       sync.Mutex
	replies  []Reply
	requests []provider.Request

	Fallback func(ctx context.Context, req provider.Request) (string, error)
}

var _ provider.Client = (*Client)(nil)

// New returns a client replaying replies.
func New(replies ...Reply) *Client {
	return &Client{replies: replies}
}

// Func returns a client answering every call with fn.
func Func(fn func(ctx context.Context, req provider.Request) (string, error)) *Client {
	return &Client{Fallback: fn}
}

// Complete implements provider.Client.
func (c *Client) Complete(ctx context.Context, req provider.Request) (string, error) {
	c.mu.Lock()
	copied := req
	copied.Messages = append([]provider.Message(nil), req.Messages...)
	c.requests = append(c.requests, copied)

	if len(c.replies) > 0 {
		r := c.replies[0]
		c.replies = c.replies[1:]
		c.mu.Unlock()
		return r.Text, r.Err
	}
	fallback := c.Fallback
	c.mu.Unlock()

	if fallback != nil {
		return fallback(ctx, req)
	}
	return "ok", nil
}

// Requests returns the requests seen so far.
func (c *Client) Requests() []provider.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]provider.Request(nil), c.requests...)
}

// Calls returns the number of requests seen so far.
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}
