package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/memory-match-backend/internal/apperr"
	"github.com/DoyleJ11/memory-match-backend/internal/hub"
	"github.com/DoyleJ11/memory-match-backend/internal/room"
	"github.com/DoyleJ11/memory-match-backend/internal/royale"
	"github.com/DoyleJ11/memory-match-backend/internal/timers"
	"github.com/DoyleJ11/memory-match-backend/internal/types"
	wire "github.com/DoyleJ11/memory-match-backend/pkg/types"
)

const (
	reasonLeft         = "left"
	reasonKicked       = "kicked"
	reasonDisconnected = "disconnected"
)

var errNotInRoom = apperr.New(apperr.KindConflict, "join the room first")

// RoyaleGateway maps battle royale socket events onto the royale service. It
// also announces changes made over HTTP.
type RoyaleGateway struct {
	ctx     context.Context
	royale  *royale.Service
	hub     *hub.Hub
	timers  *timers.Registry
	opts    Options
	log     *zap.Logger
	clients *registry

	mu    sync.Mutex
	rooms map[string]string // clientID -> roomID
}

func NewRoyaleGateway(ctx context.Context, svc *royale.Service, h *hub.Hub, reg *timers.Registry, log *zap.Logger, opts Options) *RoyaleGateway {
	return &RoyaleGateway{
		ctx:     ctx,
		royale:  svc,
		hub:     h,
		timers:  reg,
		opts:    opts.withDefaults(),
		log:     log.Named("ws.royale"),
		clients: newRegistry(),
		rooms:   make(map[string]string),
	}
}

func (g *RoyaleGateway) Handler() http.HandlerFunc {
	return serve(g.ctx, g.opts, g.log, g)
}

func channelForRoom(roomID string) string { return "room:" + roomID }

func removeKey(roomID, userID string) timers.Key {
	return timers.Key{Scope: timers.ScopeRoyaleRemove, EntityID: roomID, UserID: userID}
}

func hardCapKey(matchID string) timers.Key {
	return timers.Key{Scope: timers.ScopeRoyaleHardCap, EntityID: matchID}
}

func (g *RoyaleGateway) roomOf(c *Client) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rooms[c.ClientID()]
}

func (g *RoyaleGateway) setRoom(c *Client, roomID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if roomID == "" {
		delete(g.rooms, c.ClientID())
		return
	}
	g.rooms[c.ClientID()] = roomID
}

func (g *RoyaleGateway) broadcast(roomID, eventType string, payload any) {
	if lb := g.hub.Get(channelForRoom(roomID)); lb != nil {
		lb.Broadcast(types.Encode(eventType, payload))
	}
}

func (g *RoyaleGateway) open(_ context.Context, c *Client) { g.clients.add(c) }

func (g *RoyaleGateway) frame(ctx context.Context, c *Client, data []byte) {
	cmd, err := types.DecodeRoyale(data)
	if err != nil {
		reply(c, err)
		return
	}
	switch cmd := cmd.(type) {
	case types.JoinRoom:
		err = g.joinRoom(ctx, c, cmd)
	case types.ToggleReady:
		err = g.toggleReady(ctx, c, cmd.RoomID)
	case types.StartMatch:
		err = g.startMatch(ctx, c, cmd.RoomID)
	case types.RoyaleFlip:
		err = g.flip(ctx, c, cmd.MatchID, *cmd.CardIndex)
	case types.UpdateProgress:
		err = g.progress(ctx, c, cmd.ProgressReport, false)
	case types.PlayerFinished:
		err = g.progress(ctx, c, cmd.ProgressReport, true)
	case types.KickPlayer:
		err = g.kick(ctx, c, cmd)
	case types.LeaveRoom:
		err = g.leave(ctx, c, cmd.RoomID)
	case types.CloseRoom:
		err = g.closeRoom(ctx, c, cmd.RoomID)
	}
	if err != nil {
		reply(c, err)
	}
}

func (g *RoyaleGateway) profile(c *Client) room.Profile {
	id := c.Identity()
	return room.Profile{UserID: id.UserID, DisplayName: id.Username, AvatarURL: id.AvatarURL}
}

func (g *RoyaleGateway) joinRoom(ctx context.Context, c *Client, cmd types.JoinRoom) error {
	if prev := g.roomOf(c); prev != "" && prev != cmd.RoomID {
		return apperr.Validationf("already connected to another room")
	}
	r, _, err := g.royale.JoinRoom(ctx, cmd.RoomID, g.profile(c), cmd.Password, c.ClientID())
	if err != nil {
		return err
	}
	g.timers.Cancel(removeKey(r.ID, c.UserID()))
	lb := g.hub.Ensure(channelForRoom(r.ID))
	if lb == nil {
		return nil
	}
	lb.Join(c)
	g.setRoom(c, r.ID)

	send(c, wire.EvtRoomState, wire.RoomState{Room: types.Room(r)})
	if p := r.Player(c.UserID()); p != nil {
		lb.Broadcast(types.Encode(wire.EvtPlayerJoined, wire.PlayerJoined{
			Player:  types.RoomPlayer(*p),
			Players: types.RoomPlayers(r),
		}))
	}
	if r.MatchID != "" && r.Status == room.StatusInProgress {
		if m, standings, err := g.royale.Leaderboard(ctx, r.MatchID); err == nil {
			send(c, wire.EvtMatchStart, types.MatchStart(m))
			send(c, wire.EvtLeaderboardUpdate, wire.LeaderboardUpdate{MatchID: m.ID, Players: types.LeaderboardEntries(standings)})
		}
	}
	return nil
}

// member checks that c joined roomID over this socket.
func (g *RoyaleGateway) member(c *Client, roomID string) error {
	if g.roomOf(c) != roomID {
		return errNotInRoom
	}
	return nil
}

func (g *RoyaleGateway) toggleReady(ctx context.Context, c *Client, roomID string) error {
	if err := g.member(c, roomID); err != nil {
		return err
	}
	r, ready, err := g.royale.ToggleReady(ctx, roomID, c.UserID())
	if err != nil {
		return err
	}
	g.ReadyChanged(r, c.UserID(), ready)
	return nil
}

func (g *RoyaleGateway) startMatch(ctx context.Context, c *Client, roomID string) error {
	if err := g.member(c, roomID); err != nil {
		return err
	}
	r, m, err := g.royale.StartMatch(ctx, roomID, c.UserID())
	if err != nil {
		return err
	}
	g.MatchStarting(r, m)
	return nil
}

func (g *RoyaleGateway) flip(ctx context.Context, c *Client, matchID string, cardIndex int) error {
	at, err := g.royale.AckFlip(ctx, matchID, c.UserID(), cardIndex)
	if err != nil {
		return err
	}
	send(c, wire.EvtFlipAcknowledged, wire.FlipAcknowledged{CardIndex: cardIndex, Timestamp: at.UnixMilli()})
	return nil
}

func (g *RoyaleGateway) progress(ctx context.Context, c *Client, p types.ProgressReport, finished bool) error {
	var (
		u   royale.Update
		err error
	)
	if finished {
		u, err = g.royale.FinishPlayer(ctx, p.MatchID, c.UserID(), p.PairsFound, p.FlipCount, p.CompletionTime)
	} else {
		u, err = g.royale.UpdateProgress(ctx, p.MatchID, c.UserID(), p.PairsFound, p.FlipCount, p.CompletionTime)
	}
	if err != nil {
		return err
	}
	g.publish(u)
	return nil
}

// publish fans out the leaderboard and any finish or end of the match.
func (g *RoyaleGateway) publish(u royale.Update) {
	m := u.Match
	g.broadcast(m.RoomID, wire.EvtLeaderboardUpdate, wire.LeaderboardUpdate{
		MatchID: m.ID,
		Players: types.LeaderboardEntries(m.Standings()),
	})
	if u.PlayerFinished {
		g.broadcast(m.RoomID, wire.EvtPlayerFinished, wire.RacerFinished{
			UserID:   u.Racer.UserID,
			Username: u.Racer.DisplayName,
			Score:    u.Racer.Score,
			Rank:     u.Racer.Rank,
		})
	}
	if u.Ended {
		g.timers.Cancel(hardCapKey(m.ID))
		finished := time.Time{}
		if m.FinishedAt != nil {
			finished = *m.FinishedAt
		}
		g.broadcast(m.RoomID, wire.EvtMatchFinished, wire.MatchFinished{
			MatchID:     m.ID,
			Leaderboard: types.LeaderboardEntries(m.Standings()),
			FinishedAt:  finished,
		})
		if u.Room.ID != "" {
			g.broadcast(u.Room.ID, wire.EvtRoomState, wire.RoomState{Room: types.Room(u.Room)})
		}
	}
}

func (g *RoyaleGateway) kick(ctx context.Context, c *Client, cmd types.KickPlayer) error {
	if err := g.member(c, cmd.RoomID); err != nil {
		return err
	}
	d, err := g.royale.Kick(ctx, cmd.RoomID, c.UserID(), cmd.PlayerID)
	if err != nil {
		return err
	}
	g.PlayerRemoved(cmd.RoomID, d, reasonKicked)
	return nil
}

func (g *RoyaleGateway) leave(ctx context.Context, c *Client, roomID string) error {
	if err := g.member(c, roomID); err != nil {
		return err
	}
	d, err := g.royale.Leave(ctx, roomID, c.UserID())
	if err != nil {
		return err
	}
	if lb := g.hub.Get(channelForRoom(roomID)); lb != nil {
		lb.Leave(c.ClientID())
	}
	g.setRoom(c, "")
	g.PlayerRemoved(roomID, d, reasonLeft)
	return nil
}

func (g *RoyaleGateway) closeRoom(ctx context.Context, c *Client, roomID string) error {
	if err := g.member(c, roomID); err != nil {
		return err
	}
	r, err := g.royale.CloseRoom(ctx, roomID, c.UserID())
	if err != nil {
		return err
	}
	g.RoomClosed(r)
	return nil
}

func (g *RoyaleGateway) close(ctx context.Context, c *Client) {
	g.clients.remove(c)
	roomID := g.roomOf(c)
	g.setRoom(c, "")
	if roomID == "" {
		return
	}
	if lb := g.hub.Get(channelForRoom(roomID)); lb != nil {
		lb.Leave(c.ClientID())
	}

	r, changed, err := g.royale.Disconnect(ctx, roomID, c.UserID(), c.ClientID())
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			g.log.Error("mark room player disconnected", zap.String("roomId", roomID), zap.Error(err))
		}
		return
	}
	if !changed {
		return
	}
	g.broadcast(roomID, wire.EvtPlayerDisconnected, wire.RoomPlayerDisconnected{
		UserID:          c.UserID(),
		WaitTimeSeconds: int(g.opts.DisconnectGrace.Seconds()),
		Players:         types.RoomPlayers(r),
	})
	userID := c.UserID()
	g.timers.Schedule(removeKey(roomID, userID), g.opts.DisconnectGrace, func() {
		g.removeAfterGrace(roomID, userID)
	})
}

func (g *RoyaleGateway) removeAfterGrace(roomID, userID string) {
	d, removed, err := g.royale.RemoveIfDisconnected(g.ctx, roomID, userID)
	if err != nil {
		g.log.Error("remove disconnected racer", zap.String("roomId", roomID), zap.String("userId", userID), zap.Error(err))
		return
	}
	if removed {
		g.log.Info("player removed after disconnect grace", zap.String("roomId", roomID), zap.String("userId", userID))
		g.PlayerRemoved(roomID, d, reasonDisconnected)
	}
}

// The methods below announce room changes regardless of whether they came
// from a socket or an HTTP request.

func (g *RoyaleGateway) RoomUpdated(r room.Room) {
	g.broadcast(r.ID, wire.EvtRoomState, wire.RoomState{Room: types.Room(r)})
}

func (g *RoyaleGateway) ReadyChanged(r room.Room, userID string, ready bool) {
	g.broadcast(r.ID, wire.EvtPlayerReady, wire.RoomReady{UserID: userID, IsReady: ready, Players: types.RoomPlayers(r)})
}

// MatchStarting runs the countdown. Once it elapses the match begins and the
// hard cap, if any, is armed.
func (g *RoyaleGateway) MatchStarting(r room.Room, m royale.Match) {
	g.RoomUpdated(r)
	g.broadcast(r.ID, wire.EvtMatchCountdown, wire.MatchCountdown{
		MatchID:   m.ID,
		Countdown: int(g.opts.Countdown.Seconds()),
	})
	hardCap := r.HardCapSeconds
	matchID := m.ID
	g.opts.Clock.AfterFunc(g.opts.Countdown, func() {
		m, started, err := g.royale.BeginMatch(g.ctx, matchID)
		if err != nil {
			g.log.Error("begin battle royale match", zap.String("matchId", matchID), zap.Error(err))
			return
		}
		if !started {
			return
		}
		g.broadcast(m.RoomID, wire.EvtMatchStart, types.MatchStart(m))
		if r, err := g.royale.GetRoom(g.ctx, m.RoomID); err == nil {
			g.RoomUpdated(r)
		}
		if hardCap != nil {
			g.timers.Schedule(hardCapKey(matchID), time.Duration(*hardCap)*time.Second, func() {
				g.hardCap(matchID)
			})
		}
	})
}

func (g *RoyaleGateway) hardCap(matchID string) {
	u, ok, err := g.royale.ForceFinish(g.ctx, matchID)
	if err != nil {
		g.log.Error("force finish battle royale match", zap.String("matchId", matchID), zap.Error(err))
		return
	}
	if ok {
		g.publish(u)
	}
}

// PlayerRemoved announces a departure. A kicked player hears about it first.
func (g *RoyaleGateway) PlayerRemoved(roomID string, d royale.Departure, reason string) {
	lb := g.hub.Get(channelForRoom(roomID))
	g.timers.Cancel(removeKey(roomID, d.Removed.UserID))

	if lb != nil && reason == reasonKicked {
		lb.SendToUser(d.Removed.UserID, types.Encode(wire.EvtKicked, wire.Kicked{
			RoomID:  roomID,
			Message: "You have been kicked from the room",
		}))
		if cl := g.clients.get(d.Removed.ConnectionID); cl != nil {
			g.setRoom(cl, "")
		}
		if d.Removed.ConnectionID != "" {
			lb.Leave(d.Removed.ConnectionID)
		}
	}

	if d.Match != nil {
		g.publish(*d.Match)
	}
	if d.Deleted {
		g.hub.Remove(channelForRoom(roomID))
		return
	}
	g.broadcast(roomID, wire.EvtPlayerLeft, wire.PlayerLeft{
		UserID:  d.Removed.UserID,
		Reason:  reason,
		HostID:  d.Room.HostID,
		Players: types.RoomPlayers(d.Room),
	})
	if d.HostChanged {
		g.RoomUpdated(d.Room)
	}
}

func (g *RoyaleGateway) RoomClosed(r room.Room) {
	g.broadcast(r.ID, wire.EvtRoomClosed, wire.RoomClosed{RoomID: r.ID, Message: "The host closed the room"})
	if r.MatchID != "" {
		g.timers.Cancel(hardCapKey(r.MatchID))
	}
	for _, p := range r.Players {
		g.timers.Cancel(removeKey(r.ID, p.UserID))
		if cl := g.clients.get(p.ConnectionID); cl != nil {
			g.setRoom(cl, "")
		}
	}
	g.hub.Remove(channelForRoom(r.ID))
}

// Connections reports the number of live battle royale sockets.
func (g *RoyaleGateway) Connections() int { return g.clients.len() }
