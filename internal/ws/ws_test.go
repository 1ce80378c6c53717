package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/memory-match-backend/internal/auth"
	"github.com/DoyleJ11/memory-match-backend/internal/duel"
	"github.com/DoyleJ11/memory-match-backend/internal/history"
	"github.com/DoyleJ11/memory-match-backend/internal/hub"
	"github.com/DoyleJ11/memory-match-backend/internal/keylock"
	"github.com/DoyleJ11/memory-match-backend/internal/matchmaking"
	"github.com/DoyleJ11/memory-match-backend/internal/room"
	"github.com/DoyleJ11/memory-match-backend/internal/royale"
	"github.com/DoyleJ11/memory-match-backend/internal/store"
	"github.com/DoyleJ11/memory-match-backend/internal/timers"
	"github.com/DoyleJ11/memory-match-backend/internal/ws"
	wire "github.com/DoyleJ11/memory-match-backend/pkg/types"
)

const secret = "test-secret"

type harness struct {
	t        *testing.T
	srv      *httptest.Server
	auth     *auth.Authenticator
	duels    *duel.Service
	royale   *royale.Service
	recorder *history.MemoryRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	log := zaptest.NewLogger(t)

	repo := store.NewMemory()
	locks := keylock.New()
	recorder := history.NewMemoryRecorder()
	h := hub.NewHub(ctx)
	reg := timers.NewRegistry(nil)
	authn := auth.NewAuthenticator(secret, nil)

	opts := ws.Options{
		Auth:            authn,
		Identities:      auth.NewStaticIdentities(),
		OriginPatterns:  []string{"*"},
		DisconnectGrace: time.Second,
		RevealDelay:     10 * time.Millisecond,
		Countdown:       10 * time.Millisecond,
	}

	duels := duel.NewService(repo, locks, recorder, nil, log)
	queue := matchmaking.NewQueue(duels, matchmaking.Options{PairCount: 2, InMatch: duels.InMatch})
	royales := royale.NewService(repo, locks, recorder, log, royale.Options{})

	mux := http.NewServeMux()
	mux.Handle("/ws/duel", ws.NewDuelGateway(ctx, queue, duels, h, reg, log, opts).Handler())
	mux.Handle("/ws/royale", ws.NewRoyaleGateway(ctx, royales, h, reg, log, opts).Handler())
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		srv.Close()
		reg.Stop()
		h.Shutdown()
		cancel()
	})
	return &harness{t: t, srv: srv, auth: authn, duels: duels, royale: royales, recorder: recorder}
}

func (h *harness) token(userID, name string) string {
	tok, err := h.auth.Issue(auth.Principal{UserID: userID, Username: name}, time.Hour)
	require.NoError(h.t, err)
	return tok
}

type peer struct {
	t    *testing.T
	conn *websocket.Conn
}

func (h *harness) dial(path, userID, name string) *peer {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + path + "?token=" + h.token(userID, name)
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return &peer{t: h.t, conn: conn}
}

func (p *peer) send(eventType string, data any) {
	p.t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(p.t, err)
	frame, err := json.Marshal(wire.Envelope{Type: eventType, Data: raw})
	require.NoError(p.t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(p.t, p.conn.Write(ctx, websocket.MessageText, frame))
}

// close drops the socket the way a browser tab closing would.
func (p *peer) close() {
	p.conn.Close(websocket.StatusGoingAway, "gone")
}

// expect reads frames until one of the given type arrives and decodes it
// into out.
func (p *peer) expect(eventType string, out any) {
	p.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		_, data, err := p.conn.Read(ctx)
		require.NoError(p.t, err, "waiting for %s", eventType)
		var env wire.Envelope
		require.NoError(p.t, json.Unmarshal(data, &env))
		if env.Type != eventType {
			continue
		}
		if out != nil {
			require.NoError(p.t, json.Unmarshal(env.Data, out))
		}
		return
	}
}

func TestHandshake_RejectsMissingToken(t *testing.T) {
	h := newHarness(t)
	resp, err := http.Get(h.srv.URL + "/ws/duel")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDuel_QueueReadySurrender(t *testing.T) {
	h := newHarness(t)
	alice := h.dial("/ws/duel", "alice", "Alice")
	bob := h.dial("/ws/duel", "bob", "Bob")

	alice.send(wire.DuelJoinQueue, struct{}{})
	var joined wire.QueueJoined
	alice.expect(wire.EvtQueueJoined, &joined)
	require.Equal(t, 1, joined.Position)

	bob.send(wire.DuelJoinQueue, struct{}{})
	var af, bf wire.MatchFound
	alice.expect(wire.EvtMatchFound, &af)
	bob.expect(wire.EvtMatchFound, &bf)
	require.Equal(t, af.MatchID, bf.MatchID)
	require.Equal(t, "bob", af.Opponent.UserID)
	require.Equal(t, "alice", bf.Opponent.UserID)
	require.True(t, af.IsFirstPlayer, "first to queue moves first")
	require.False(t, bf.IsFirstPlayer)
	require.Len(t, af.Cards, 4)

	alice.send(wire.DuelPlayerReady, map[string]string{"matchId": af.MatchID})
	bob.send(wire.DuelPlayerReady, map[string]string{"matchId": af.MatchID})
	var started wire.GameStarted
	alice.expect(wire.EvtGameStarted, &started)
	require.Equal(t, af.MatchID, started.MatchID)

	bob.send(wire.DuelSurrender, map[string]string{"matchId": af.MatchID})
	var over wire.GameOver
	alice.expect(wire.EvtGameOver, &over)
	require.NotNil(t, over.Winner)
	require.Equal(t, "alice", over.Winner.UserID)
	require.Len(t, h.recorder.Duels(), 1)
}

func TestDuel_SecondQueueWhileInMatchIsRejected(t *testing.T) {
	h := newHarness(t)
	alice := h.dial("/ws/duel", "alice", "Alice")
	bob := h.dial("/ws/duel", "bob", "Bob")
	alice.send(wire.DuelJoinQueue, struct{}{})
	bob.send(wire.DuelJoinQueue, struct{}{})
	alice.expect(wire.EvtMatchFound, nil)

	alice.send(wire.DuelJoinQueue, struct{}{})
	var e wire.Error
	alice.expect(wire.EvtError, &e)
	require.Equal(t, ws.ErrAlreadyInMatch.Error(), e.Message)
}

func TestRoyale_RaceToFinish(t *testing.T) {
	h := newHarness(t)
	r, err := h.royale.CreateRoom(context.Background(),
		room.Profile{UserID: "host", DisplayName: "Host"},
		room.Settings{Name: "Friday", PairCount: 2}, "")
	require.NoError(t, err)

	host := h.dial("/ws/royale", "host", "Host")
	host.send(wire.RoyaleJoinRoom, map[string]string{"roomId": r.ID})
	var state wire.RoomState
	host.expect(wire.EvtRoomState, &state)
	require.Equal(t, r.ID, state.Room.ID)
	host.expect(wire.EvtPlayerJoined, nil) // own join

	guest := h.dial("/ws/royale", "guest", "Guest")
	guest.send(wire.RoyaleJoinRoom, map[string]string{"roomId": r.ID})
	var joined wire.PlayerJoined
	host.expect(wire.EvtPlayerJoined, &joined)
	require.Equal(t, "guest", joined.Player.UserID)
	require.Len(t, joined.Players, 2)

	guest.send(wire.RoyaleToggleReady, map[string]string{"roomId": r.ID})
	var ready wire.RoomReady
	host.expect(wire.EvtPlayerReady, &ready)
	require.True(t, ready.IsReady)

	host.send(wire.RoyaleStartMatch, map[string]string{"roomId": r.ID})
	var countdown wire.MatchCountdown
	guest.expect(wire.EvtMatchCountdown, &countdown)
	var start wire.MatchStart
	guest.expect(wire.EvtMatchStart, &start)
	require.Equal(t, countdown.MatchID, start.MatchID)
	require.Len(t, start.Cards, 4)

	guest.send(wire.RoyaleFlipCard, map[string]any{"matchId": start.MatchID, "cardIndex": 0})
	var ack wire.FlipAcknowledged
	guest.expect(wire.EvtFlipAcknowledged, &ack)
	require.Equal(t, 0, ack.CardIndex)
	require.NotZero(t, ack.Timestamp)

	report := func(p *peer, seconds float64) {
		p.send(wire.RoyalePlayerFinished, map[string]any{
			"matchId": start.MatchID, "pairsFound": 2, "flipCount": 4, "completionTime": seconds,
		})
	}
	report(guest, 10)
	var fin wire.RacerFinished
	host.expect(wire.EvtPlayerFinished, &fin)
	require.Equal(t, "guest", fin.UserID)
	require.Equal(t, 1, fin.Rank)

	report(host, 20)
	var done wire.MatchFinished
	guest.expect(wire.EvtMatchFinished, &done)
	require.Len(t, done.Leaderboard, 2)
	require.Equal(t, "guest", done.Leaderboard[0].UserID)
	require.Len(t, h.recorder.Royales(), 1)
}

func TestRoyale_KickNotifiesTarget(t *testing.T) {
	h := newHarness(t)
	r, err := h.royale.CreateRoom(context.Background(),
		room.Profile{UserID: "host", DisplayName: "Host"}, room.Settings{Name: "Kicks"}, "")
	require.NoError(t, err)

	host := h.dial("/ws/royale", "host", "Host")
	host.send(wire.RoyaleJoinRoom, map[string]string{"roomId": r.ID})
	host.expect(wire.EvtRoomState, nil)
	host.expect(wire.EvtPlayerJoined, nil)
	guest := h.dial("/ws/royale", "guest", "Guest")
	guest.send(wire.RoyaleJoinRoom, map[string]string{"roomId": r.ID})
	host.expect(wire.EvtPlayerJoined, nil)

	guest.send(wire.RoyaleKickPlayer, map[string]string{"roomId": r.ID, "playerId": "host"})
	var e wire.Error
	guest.expect(wire.EvtError, &e)
	require.Equal(t, room.ErrNotHost.Error(), e.Message)

	host.send(wire.RoyaleKickPlayer, map[string]string{"roomId": r.ID, "playerId": "guest"})
	var kicked wire.Kicked
	guest.expect(wire.EvtKicked, &kicked)
	require.Equal(t, r.ID, kicked.RoomID)

	var left wire.PlayerLeft
	host.expect(wire.EvtPlayerLeft, &left)
	require.Equal(t, "guest", left.UserID)
	require.Equal(t, "kicked", left.Reason)
	require.Len(t, left.Players, 1)
}

func TestRoyale_CommandsRequireMembership(t *testing.T) {
	h := newHarness(t)
	r, err := h.royale.CreateRoom(context.Background(),
		room.Profile{UserID: "host", DisplayName: "Host"}, room.Settings{Name: "Members"}, "")
	require.NoError(t, err)

	stranger := h.dial("/ws/royale", "stranger", "Stranger")
	stranger.send(wire.RoyaleToggleReady, map[string]string{"roomId": r.ID})
	var e wire.Error
	stranger.expect(wire.EvtError, &e)
	require.Equal(t, "join the room first", e.Message)
}

// startDuel queues alice then bob and readies both. Alice moves first.
func startDuel(t *testing.T, h *harness) (alice, bob *peer, found wire.MatchFound) {
	t.Helper()
	alice = h.dial("/ws/duel", "alice", "Alice")
	bob = h.dial("/ws/duel", "bob", "Bob")
	alice.send(wire.DuelJoinQueue, struct{}{})
	alice.expect(wire.EvtQueueJoined, nil)
	bob.send(wire.DuelJoinQueue, struct{}{})
	alice.expect(wire.EvtMatchFound, &found)
	bob.expect(wire.EvtMatchFound, nil)

	alice.send(wire.DuelPlayerReady, map[string]string{"matchId": found.MatchID})
	bob.send(wire.DuelPlayerReady, map[string]string{"matchId": found.MatchID})
	alice.expect(wire.EvtGameStarted, nil)
	bob.expect(wire.EvtGameStarted, nil)
	return alice, bob, found
}

// pairOf returns the positions of the two cards showing face.
func pairOf(t *testing.T, cards []wire.CardFace, face int) [2]int {
	t.Helper()
	var out []int
	for i, c := range cards {
		if c.FaceID == face {
			out = append(out, i)
		}
	}
	require.Len(t, out, 2)
	return [2]int{out[0], out[1]}
}

func TestDuel_FlipRevealAndComplete(t *testing.T) {
	h := newHarness(t)
	alice, bob, found := startDuel(t, h)
	first := pairOf(t, found.Cards, found.Cards[0].FaceID)

	flip := func(idx int) {
		alice.send(wire.DuelFlipCard, map[string]any{"matchId": found.MatchID, "cardIndex": idx})
		var flipped wire.CardFlipped
		bob.expect(wire.EvtCardFlipped, &flipped)
		require.Equal(t, idx, flipped.CardIndex)
		require.Equal(t, "alice", flipped.FlippedBy)
		require.Equal(t, found.Cards[idx].FaceID, flipped.FaceID)
	}

	flip(first[0])
	flip(first[1])
	var result wire.MatchResult
	bob.expect(wire.EvtMatchResult, &result)
	require.True(t, result.IsMatch)
	require.Equal(t, "alice", result.MatchedBy)
	require.Equal(t, "alice", result.NextTurn, "a match keeps the turn")
	require.ElementsMatch(t, first[:], result.CardIndices[:])

	var rest []int
	for i := range found.Cards {
		if i != first[0] && i != first[1] {
			rest = append(rest, i)
		}
	}
	flip(rest[0])
	flip(rest[1])

	var over wire.GameOver
	bob.expect(wire.EvtGameOver, &over)
	require.NotNil(t, over.Winner)
	require.Equal(t, "alice", over.Winner.UserID)
	require.Equal(t, "all_matched", over.Reason)
}

func TestDuel_OutOfTurnFlipIsRejected(t *testing.T) {
	h := newHarness(t)
	_, bob, found := startDuel(t, h)

	bob.send(wire.DuelFlipCard, map[string]any{"matchId": found.MatchID, "cardIndex": 0})
	var e wire.Error
	bob.expect(wire.EvtError, &e)
	require.NotEmpty(t, e.Message)
}

func TestDuel_DisconnectForfeitsAfterGrace(t *testing.T) {
	h := newHarness(t)
	alice, bob, found := startDuel(t, h)

	alice.close()
	var gone wire.PlayerDisconnected
	bob.expect(wire.EvtPlayerDisconnected, &gone)
	require.Equal(t, "alice", gone.UserID)
	require.Equal(t, 1, gone.WaitTimeSeconds)

	var over wire.GameOver
	bob.expect(wire.EvtGameOver, &over)
	require.Equal(t, found.MatchID, over.MatchID)
	require.NotNil(t, over.Winner)
	require.Equal(t, "bob", over.Winner.UserID)
	require.Equal(t, "disconnect", over.Reason)
	require.Len(t, h.recorder.Duels(), 1)
}

func TestDuel_RejoinCancelsForfeit(t *testing.T) {
	h := newHarness(t)
	alice, bob, found := startDuel(t, h)

	alice.close()
	bob.expect(wire.EvtPlayerDisconnected, nil)

	again := h.dial("/ws/duel", "alice", "Alice")
	again.send(wire.DuelRejoinMatch, map[string]string{"matchId": found.MatchID})
	var state wire.MatchState
	again.expect(wire.EvtMatchState, &state)
	require.Equal(t, found.MatchID, state.MatchID)
	require.Equal(t, "playing", state.Status)
	require.Equal(t, "alice", state.CurrentTurn)
	require.Len(t, state.Cards, len(found.Cards))

	var back wire.PlayerReconnected
	bob.expect(wire.EvtPlayerReconnected, &back)
	require.Equal(t, "alice", back.UserID)

	time.Sleep(1500 * time.Millisecond)
	m, err := h.duels.Get(context.Background(), found.MatchID)
	require.NoError(t, err)
	require.Equal(t, "playing", string(m.Status), "forfeit must not fire after rejoin")
	require.Empty(t, h.recorder.Duels())

	again.send(wire.DuelFlipCard, map[string]any{"matchId": found.MatchID, "cardIndex": 0})
	bob.expect(wire.EvtCardFlipped, nil)
}

func TestRoyale_DisconnectRemovesAfterGrace(t *testing.T) {
	h := newHarness(t)
	r, err := h.royale.CreateRoom(context.Background(),
		room.Profile{UserID: "host", DisplayName: "Host"}, room.Settings{Name: "Grace"}, "")
	require.NoError(t, err)

	host := h.dial("/ws/royale", "host", "Host")
	host.send(wire.RoyaleJoinRoom, map[string]string{"roomId": r.ID})
	host.expect(wire.EvtRoomState, nil)
	host.expect(wire.EvtPlayerJoined, nil)
	guest := h.dial("/ws/royale", "guest", "Guest")
	guest.send(wire.RoyaleJoinRoom, map[string]string{"roomId": r.ID})
	host.expect(wire.EvtPlayerJoined, nil)

	guest.close()
	var gone wire.RoomPlayerDisconnected
	host.expect(wire.EvtPlayerDisconnected, &gone)
	require.Equal(t, "guest", gone.UserID)
	require.Equal(t, 1, gone.WaitTimeSeconds)

	var left wire.PlayerLeft
	host.expect(wire.EvtPlayerLeft, &left)
	require.Equal(t, "guest", left.UserID)
	require.Equal(t, "disconnected", left.Reason)
	require.Equal(t, "host", left.HostID)
	require.Len(t, left.Players, 1)

	after, err := h.royale.GetRoom(context.Background(), r.ID)
	require.NoError(t, err)
	require.Nil(t, after.Player("guest"))
}
