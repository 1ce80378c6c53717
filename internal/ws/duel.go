package ws

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/DoyleJ11/memory-match-backend/internal/duel"
	"github.com/DoyleJ11/memory-match-backend/internal/engine"
	"github.com/DoyleJ11/memory-match-backend/internal/hub"
	"github.com/DoyleJ11/memory-match-backend/internal/lobby"
	"github.com/DoyleJ11/memory-match-backend/internal/matchmaking"
	"github.com/DoyleJ11/memory-match-backend/internal/timers"
	"github.com/DoyleJ11/memory-match-backend/internal/types"
	wire "github.com/DoyleJ11/memory-match-backend/pkg/types"
)

var ErrAlreadyInMatch = matchmaking.ErrAlreadyInMatch

// DuelGateway maps duel socket events onto the queue and the duel service.
type DuelGateway struct {
	ctx     context.Context
	queue   *matchmaking.Queue
	duels   *duel.Service
	hub     *hub.Hub
	timers  *timers.Registry
	clients *registry
	opts    Options
	log     *zap.Logger
}

func NewDuelGateway(ctx context.Context, queue *matchmaking.Queue, duels *duel.Service, h *hub.Hub, reg *timers.Registry, log *zap.Logger, opts Options) *DuelGateway {
	return &DuelGateway{
		ctx:     ctx,
		queue:   queue,
		duels:   duels,
		hub:     h,
		timers:  reg,
		clients: newRegistry(),
		opts:    opts.withDefaults(),
		log:     log.Named("ws.duel"),
	}
}

func (g *DuelGateway) Handler() http.HandlerFunc {
	return serve(g.ctx, g.opts, g.log, g)
}

func channelForDuel(matchID string) string { return "duel:" + matchID }

func forfeitKey(matchID, userID string) timers.Key {
	return timers.Key{Scope: timers.ScopeDuelForfeit, EntityID: matchID, UserID: userID}
}

func (g *DuelGateway) open(_ context.Context, c *Client) { g.clients.add(c) }

func (g *DuelGateway) frame(ctx context.Context, c *Client, data []byte) {
	cmd, err := types.DecodeDuel(data)
	if err != nil {
		reply(c, err)
		return
	}
	switch cmd := cmd.(type) {
	case types.JoinQueue:
		err = g.joinQueue(ctx, c)
	case types.LeaveQueue:
		g.queue.Dequeue(c.UserID())
		send(c, wire.EvtQueueLeft, wire.QueueLeft{})
	case types.PlayerReady:
		err = g.ready(ctx, c, cmd.MatchID)
	case types.DuelFlip:
		err = g.flip(ctx, c, cmd.MatchID, *cmd.CardIndex)
	case types.Surrender:
		err = g.surrender(ctx, c, cmd.MatchID)
	case types.RejoinMatch:
		err = g.rejoin(ctx, c, cmd.MatchID)
	}
	if err != nil {
		reply(c, err)
	}
}

func (g *DuelGateway) joinQueue(ctx context.Context, c *Client) error {
	pairing, err := g.queue.Enqueue(ctx, c.UserID(), c.Identity().Username, c.ClientID())
	if err != nil {
		return err
	}
	if pairing == nil {
		info := g.queue.Peek()
		send(c, wire.EvtQueueJoined, wire.QueueJoined{
			Position:    g.queue.Position(c.UserID()),
			QueueLength: info.QueueLength,
		})
		return nil
	}
	g.announcePairing(ctx, pairing)
	return nil
}

// announcePairing joins both sockets to the match channel and sends each its
// own view. A socket that vanished while queued is treated as a disconnect.
func (g *DuelGateway) announcePairing(ctx context.Context, p *matchmaking.Pairing) {
	m := p.Match
	lb := g.hub.Ensure(channelForDuel(m.ID))
	if lb == nil {
		return
	}
	first, second := g.clients.get(p.First.ConnectionID), g.clients.get(p.Second.ConnectionID)
	identity := func(c *Client, w matchmaking.WaitingPlayer) wire.DuelIdentity {
		if c == nil {
			return wire.DuelIdentity{UserID: w.UserID, Username: w.DisplayName}
		}
		id := c.Identity()
		return wire.DuelIdentity{UserID: id.UserID, Username: id.Username, Avatar: id.AvatarURL}
	}
	firstID, secondID := identity(first, p.First), identity(second, p.Second)
	faces := types.CardFaces(m.Cards)

	notify := func(c *Client, w matchmaking.WaitingPlayer, self, opponent wire.DuelIdentity, isFirst bool) {
		if c == nil {
			g.log.Info("paired player already gone", zap.String("matchId", m.ID), zap.String("userId", w.UserID))
			g.playerLeft(ctx, m.ID, w.UserID, w.ConnectionID)
			return
		}
		lb.Join(c)
		send(c, wire.EvtMatchFound, wire.MatchFound{
			MatchID:       m.ID,
			Player:        self,
			Opponent:      opponent,
			Cards:         faces,
			IsFirstPlayer: isFirst,
		})
	}
	notify(first, p.First, firstID, secondID, true)
	notify(second, p.Second, secondID, firstID, false)
}

func (g *DuelGateway) ready(ctx context.Context, c *Client, matchID string) error {
	tr, err := g.duels.MarkReady(ctx, matchID, c.UserID())
	if err != nil {
		return err
	}
	lb := g.join(c, matchID)
	if lb == nil {
		return nil
	}
	lb.Broadcast(types.Encode(wire.EvtPlayerReady, wire.DuelReady{UserID: c.UserID(), Username: c.Identity().Username}))
	if tr.Has(engine.EvtGameStarted) {
		lb.Broadcast(types.Encode(wire.EvtGameStarted, types.GameStarted(tr.Match)))
	}
	return nil
}

func (g *DuelGateway) flip(ctx context.Context, c *Client, matchID string, cardIndex int) error {
	tr, outcome, err := g.duels.FlipCard(ctx, matchID, c.UserID(), cardIndex)
	if err != nil {
		return err
	}
	lb := g.join(c, matchID)
	if lb == nil {
		return nil
	}
	lb.Broadcast(types.Encode(wire.EvtCardFlipped, types.CardFlipped(tr.Match, cardIndex, c.UserID())))

	if resolved, ok := outcome.(engine.FlipResolved); ok {
		g.opts.Clock.AfterFunc(g.opts.RevealDelay, func() { g.reveal(matchID, resolved) })
	}
	return nil
}

// reveal runs after the reveal delay against the current match state.
func (g *DuelGateway) reveal(matchID string, resolved engine.FlipResolved) {
	lb := g.hub.Get(channelForDuel(matchID))
	if lb == nil {
		return
	}
	m, err := g.duels.Get(g.ctx, matchID)
	if err != nil {
		g.log.Debug("reveal skipped", zap.String("matchId", matchID), zap.Error(err))
		return
	}
	lb.Broadcast(types.Encode(wire.EvtMatchResult, types.MatchResult(m, resolved.Pair)))
	if resolved.Completed {
		g.finish(m)
	}
}

func (g *DuelGateway) surrender(ctx context.Context, c *Client, matchID string) error {
	tr, err := g.duels.Surrender(ctx, matchID, c.UserID())
	if err != nil {
		return err
	}
	g.join(c, matchID)
	g.finish(tr.Match)
	return nil
}

// finish announces a terminal match and tears down its channel and timers.
// History was already recorded by the service.
func (g *DuelGateway) finish(m engine.Match) {
	if lb := g.hub.Get(channelForDuel(m.ID)); lb != nil {
		lb.Broadcast(types.Encode(wire.EvtGameOver, types.GameOver(m)))
	}
	for _, p := range m.Players {
		g.timers.Cancel(forfeitKey(m.ID, p.UserID))
	}
	g.hub.Remove(channelForDuel(m.ID))
}

func (g *DuelGateway) rejoin(ctx context.Context, c *Client, matchID string) error {
	tr, err := g.duels.Reconnect(ctx, matchID, c.UserID(), c.ClientID())
	if err != nil {
		return err
	}
	g.timers.Cancel(forfeitKey(matchID, c.UserID()))
	send(c, wire.EvtMatchState, types.MatchState(tr.Match))
	if tr.Match.Status.Terminal() {
		return nil
	}
	if lb := g.join(c, matchID); lb != nil {
		lb.BroadcastExcept(types.Encode(wire.EvtPlayerReconnected, wire.PlayerReconnected{UserID: c.UserID()}), c.UserID())
	}
	return nil
}

// join makes sure c is in the match channel, e.g. after a server restart.
// It returns nil once the hub has shut down.
func (g *DuelGateway) join(c *Client, matchID string) *lobby.Lobby {
	lb := g.hub.Ensure(channelForDuel(matchID))
	if lb != nil {
		lb.Join(c)
	}
	return lb
}

func (g *DuelGateway) close(ctx context.Context, c *Client) {
	g.clients.remove(c)
	g.queue.Dequeue(c.UserID())

	m, active, err := g.duels.ActiveFor(ctx, c.UserID())
	if err != nil {
		g.log.Error("look up active duel", zap.String("userId", c.UserID()), zap.Error(err))
		return
	}
	if !active {
		return
	}
	if lb := g.hub.Get(channelForDuel(m.ID)); lb != nil {
		lb.Leave(c.ClientID())
	}
	g.playerLeft(ctx, m.ID, c.UserID(), c.ClientID())
}

// playerLeft marks the player offline and arms the forfeit timer.
func (g *DuelGateway) playerLeft(ctx context.Context, matchID, userID, connectionID string) {
	tr, err := g.duels.Disconnect(ctx, matchID, userID, connectionID)
	if err != nil {
		g.log.Error("mark duel player disconnected", zap.String("matchId", matchID), zap.Error(err))
		return
	}
	if !tr.Has(engine.EvtPlayerDisconnected) {
		return
	}
	if lb := g.hub.Get(channelForDuel(matchID)); lb != nil {
		lb.BroadcastExcept(types.Encode(wire.EvtPlayerDisconnected, wire.PlayerDisconnected{
			UserID:          userID,
			WaitTimeSeconds: int(g.opts.DisconnectGrace.Seconds()),
		}), userID)
	}
	g.timers.Schedule(forfeitKey(matchID, userID), g.opts.DisconnectGrace, func() {
		g.forfeit(matchID, userID)
	})
}

func (g *DuelGateway) forfeit(matchID, userID string) {
	tr, err := g.duels.DisconnectTimeout(g.ctx, matchID, userID)
	if err != nil {
		g.log.Error("duel disconnect timeout", zap.String("matchId", matchID), zap.Error(err))
		return
	}
	if tr.Completed() || tr.Has(engine.EvtGameCancelled) {
		g.log.Info("duel forfeited after disconnect", zap.String("matchId", matchID), zap.String("userId", userID))
		g.finish(tr.Match)
	}
}

// Connections reports the number of live duel sockets.
func (g *DuelGateway) Connections() int { return g.clients.len() }
