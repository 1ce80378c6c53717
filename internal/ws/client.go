package ws

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/DoyleJ11/memory-match-backend/internal/auth"
)

const (
	outboxSize   = 64
	writeTimeout = 3 * time.Second
	pingInterval = 25 * time.Second
)

// Client is one authenticated socket. It implements lobby.Subscriber.
type Client struct {
	id      string
	user    auth.Identity
	conn    *websocket.Conn
	out     chan []byte
	limiter *rate.Limiter
	log     *zap.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(id string, user auth.Identity, conn *websocket.Conn, limiter *rate.Limiter, log *zap.Logger) *Client {
	return &Client{
		id:      id,
		user:    user,
		conn:    conn,
		out:     make(chan []byte, outboxSize),
		limiter: limiter,
		log:     log.With(zap.String("clientId", id), zap.String("userId", user.UserID)),
		done:    make(chan struct{}),
	}
}

func (c *Client) ClientID() string        { return c.id }
func (c *Client) UserID() string          { return c.user.UserID }
func (c *Client) Identity() auth.Identity { return c.user }

// Deliver queues payload without blocking. A full outbox closes the client.
func (c *Client) Deliver(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- payload:
		return true
	default:
		c.log.Warn("outbox full, dropping slow client")
		c.Close(websocket.StatusPolicyViolation, "too slow")
		return false
	}
}

func (c *Client) Close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		go c.conn.Close(code, reason)
	})
}

// writeLoop drains the outbox and keeps the connection alive with pings.
func (c *Client) writeLoop(ctx context.Context) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case payload := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				c.log.Debug("write failed", zap.Error(err))
				c.Close(websocket.StatusInternalError, "write failed")
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				c.Close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}
