// Package ws hosts the duel and battle royale websocket gateways.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/DoyleJ11/memory-match-backend/internal/apperr"
	"github.com/DoyleJ11/memory-match-backend/internal/auth"
	"github.com/DoyleJ11/memory-match-backend/internal/types"
)

var errRateLimited = apperr.New(apperr.KindConflict, "too many messages, slow down")

// Options are shared by both gateways.
type Options struct {
	Auth              *auth.Authenticator
	Identities        auth.IdentityLookup
	OriginPatterns    []string
	MessagesPerSecond float64
	Burst             int
	Clock             clockwork.Clock
	NewID             func() string

	DisconnectGrace time.Duration
	RevealDelay     time.Duration
	Countdown       time.Duration
}

func (o Options) withDefaults() Options {
	if o.MessagesPerSecond <= 0 {
		o.MessagesPerSecond = 20
	}
	if o.Burst <= 0 {
		o.Burst = 40
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	if o.DisconnectGrace <= 0 {
		o.DisconnectGrace = 30 * time.Second
	}
	if o.RevealDelay <= 0 {
		o.RevealDelay = time.Second
	}
	if o.Countdown <= 0 {
		o.Countdown = 3 * time.Second
	}
	return o
}

// session callbacks run on the connection's read goroutine, one at a time.
type session interface {
	open(ctx context.Context, c *Client)
	frame(ctx context.Context, c *Client, data []byte)
	close(ctx context.Context, c *Client)
}

// serve authenticates, upgrades and pumps one connection through s.
// Connections live under base, not the request, so a close can still persist
// the disconnect and server shutdown ends every socket.
func serve(base context.Context, opts Options, log *zap.Logger, s session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := opts.Auth.Verify(auth.TokenFromRequest(r))
		if err != nil {
			http.Error(w, apperr.Message(err), apperr.KindOf(err).HTTPStatus())
			return
		}
		ident, err := auth.Resolve(r.Context(), opts.Identities, p)
		if err != nil {
			log.Error("resolve identity", zap.String("userId", p.UserID), zap.Error(err))
			http.Error(w, apperr.Message(err), http.StatusInternalServerError)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: opts.OriginPatterns})
		if err != nil {
			log.Debug("websocket accept", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		c := newClient(opts.NewID(), ident, conn, rate.NewLimiter(rate.Limit(opts.MessagesPerSecond), opts.Burst), log)

		ctx, cancel := context.WithCancel(base)
		defer cancel()

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.writeLoop(ctx)
		}()

		c.log.Info("client connected")
		s.open(ctx, c)
		defer func() {
			s.close(ctx, c)
			c.Close(websocket.StatusNormalClosure, "bye")
			cancel()
			wg.Wait()
			c.log.Info("client disconnected")
		}()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					if !errors.Is(err, context.Canceled) {
						c.log.Debug("read failed", zap.Error(err))
					}
				}
				return
			}
			if !c.limiter.Allow() {
				c.Deliver(types.ErrorFrame(errRateLimited))
				continue
			}
			s.frame(ctx, c, data)
		}
	}
}

// reply sends err to the originating client only.
func reply(c *Client, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		c.log.Error("handler failed", zap.Error(err))
	} else {
		c.log.Debug("request rejected", zap.Error(err))
	}
	c.Deliver(types.ErrorFrame(err))
}

func send(c *Client, eventType string, payload any) {
	c.Deliver(types.Encode(eventType, payload))
}
