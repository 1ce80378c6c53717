package royale_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/memory-match-backend/internal/history"
	"github.com/DoyleJ11/memory-match-backend/internal/keylock"
	"github.com/DoyleJ11/memory-match-backend/internal/room"
	"github.com/DoyleJ11/memory-match-backend/internal/royale"
	"github.com/DoyleJ11/memory-match-backend/internal/store"
)

type fixture struct {
	svc      *royale.Service
	repo     *store.Memory
	recorder *history.MemoryRecorder
	clock    *clockwork.FakeClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	f := fixture{
		repo:     store.NewMemory(),
		recorder: history.NewMemoryRecorder(),
		clock:    clockwork.NewFakeClockAt(time.Date(2025, 4, 1, 20, 0, 0, 0, time.UTC)),
	}
	n := 0
	f.svc = royale.NewService(f.repo, keylock.New(), f.recorder, zaptest.NewLogger(t), royale.Options{
		FlipMinInterval: 250 * time.Millisecond,
		Clock:           f.clock,
		NewID:           func() string { n++; return fmt.Sprintf("id-%d", n) },
		NewSeed:         func() string { return "seed" },
	})
	return f
}

func profile(id string) room.Profile { return room.Profile{UserID: id, DisplayName: id} }

// readyRoom has host plus the given guests, all ready.
func (f fixture) readyRoom(t *testing.T, guests ...string) room.Room {
	t.Helper()
	ctx := context.Background()
	r, err := f.svc.CreateRoom(ctx, profile("host"), room.Settings{Name: "Arena", PairCount: 4}, "c-host")
	require.NoError(t, err)
	for _, g := range guests {
		f.clock.Advance(time.Second)
		_, _, err := f.svc.JoinRoom(ctx, r.ID, profile(g), "", "c-"+g)
		require.NoError(t, err)
		_, err = f.svc.SetReady(ctx, r.ID, g, true)
		require.NoError(t, err)
	}
	r, err = f.svc.GetRoom(ctx, r.ID)
	require.NoError(t, err)
	return r
}

func (f fixture) runningMatch(t *testing.T, guests ...string) (room.Room, royale.Match) {
	t.Helper()
	ctx := context.Background()
	r := f.readyRoom(t, guests...)
	_, m, err := f.svc.StartMatch(ctx, r.ID, "host")
	require.NoError(t, err)
	m, started, err := f.svc.BeginMatch(ctx, m.ID)
	require.NoError(t, err)
	require.True(t, started)
	r, err = f.svc.GetRoom(ctx, r.ID)
	require.NoError(t, err)
	return r, m
}

func TestCreateRoom_RetriesCodeCollision(t *testing.T) {
	f := newFixture(t)
	codes := []string{"DUPLICAT", "DUPLICAT", "FRESH001"}
	f.svc = royale.NewService(f.repo, keylock.New(), f.recorder, zaptest.NewLogger(t), royale.Options{
		Clock: f.clock,
		NewCode: func() (string, error) {
			c := codes[0]
			codes = codes[1:]
			return c, nil
		},
	})
	ctx := context.Background()

	a, err := f.svc.CreateRoom(ctx, profile("h1"), room.Settings{Name: "A"}, "c1")
	require.NoError(t, err)
	b, err := f.svc.CreateRoom(ctx, profile("h2"), room.Settings{Name: "B"}, "c2")
	require.NoError(t, err)
	assert.Equal(t, "DUPLICAT", a.Code)
	assert.Equal(t, "FRESH001", b.Code)

	byCode, err := f.svc.GetRoomByCode(ctx, " fresh001 ")
	require.NoError(t, err)
	assert.Equal(t, b.ID, byCode.ID)
}

func TestStartMatch_Guards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.readyRoom(t, "a")

	_, _, err := f.svc.StartMatch(ctx, r.ID, "a")
	assert.ErrorIs(t, err, room.ErrNotHost)

	_, err = f.svc.SetReady(ctx, r.ID, "a", false)
	require.NoError(t, err)
	_, _, err = f.svc.StartMatch(ctx, r.ID, "host")
	assert.ErrorIs(t, err, room.ErrCannotStart)

	_, err = f.svc.SetReady(ctx, r.ID, "a", true)
	require.NoError(t, err)
	r, m, err := f.svc.StartMatch(ctx, r.ID, "host")
	require.NoError(t, err)
	assert.Equal(t, room.StatusStarting, r.Status)
	assert.Equal(t, m.ID, r.MatchID)
	assert.Len(t, m.Cards, 8)
	assert.Len(t, m.Players, 2)
	assert.Equal(t, royale.StatusStarting, m.Status)

	_, _, err = f.svc.StartMatch(ctx, r.ID, "host")
	assert.ErrorIs(t, err, room.ErrRoomNotWaiting)

	_, _, err = f.svc.JoinRoom(ctx, r.ID, profile("late"), "", "c-late")
	assert.ErrorIs(t, err, room.ErrRoomNotWaiting)
}

func TestRace_EndsWhenEveryoneFinishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, m := f.runningMatch(t, "a")
	assert.Equal(t, room.StatusInProgress, r.Status)

	u, err := f.svc.UpdateProgress(ctx, m.ID, "a", 2, 5, 0)
	require.NoError(t, err)
	assert.False(t, u.PlayerFinished)
	assert.False(t, u.Ended)

	u, err = f.svc.UpdateProgress(ctx, m.ID, "a", 4, 8, 20)
	require.NoError(t, err)
	assert.True(t, u.PlayerFinished)
	assert.Equal(t, 1, u.Racer.Rank)
	assert.False(t, u.Ended)

	u, err = f.svc.FinishPlayer(ctx, m.ID, "host", 4, 12, 25)
	require.NoError(t, err)
	assert.True(t, u.Ended)
	require.Len(t, u.Rankings, 2)
	assert.Equal(t, "a", u.Rankings[0].UserID)
	assert.Equal(t, room.StatusFinished, u.Room.Status)

	recorded := f.recorder.Royales()
	require.Len(t, recorded, 1)
	assert.Equal(t, m.ID, recorded[0].MatchID)
	assert.Len(t, recorded[0].Racers, 2)

	_, err = f.svc.UpdateProgress(ctx, m.ID, "a", 4, 8, 20)
	assert.ErrorIs(t, err, royale.ErrMatchFinished)
}

func TestAckFlip_RateLimitedPerRacer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, m := f.runningMatch(t, "a")

	_, err := f.svc.AckFlip(ctx, m.ID, "a", 0)
	require.NoError(t, err)
	_, err = f.svc.AckFlip(ctx, m.ID, "a", 1)
	assert.ErrorIs(t, err, royale.ErrFlipTooFast)
	_, err = f.svc.AckFlip(ctx, m.ID, "host", 1)
	assert.NoError(t, err, "other racers are unaffected")

	f.clock.Advance(300 * time.Millisecond)
	_, err = f.svc.AckFlip(ctx, m.ID, "a", 1)
	assert.NoError(t, err)
}

func TestKick(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.readyRoom(t, "a", "b")

	_, err := f.svc.Kick(ctx, r.ID, "a", "b")
	assert.ErrorIs(t, err, room.ErrNotHost)
	_, err = f.svc.Kick(ctx, r.ID, "host", "host")
	assert.ErrorIs(t, err, room.ErrKickSelf)

	d, err := f.svc.Kick(ctx, r.ID, "host", "b")
	require.NoError(t, err)
	assert.Equal(t, "b", d.Removed.UserID)
	assert.Len(t, d.Room.Players, 2)
	assert.False(t, d.HostChanged)
}

func TestLeave_HostMigratesThenRoomDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.readyRoom(t, "a")

	d, err := f.svc.Leave(ctx, r.ID, "host")
	require.NoError(t, err)
	assert.True(t, d.HostChanged)
	assert.Equal(t, "a", d.Room.HostID)

	d, err = f.svc.Leave(ctx, r.ID, "a")
	require.NoError(t, err)
	assert.True(t, d.Deleted)
	_, err = f.svc.GetRoom(ctx, r.ID)
	assert.ErrorIs(t, err, room.ErrRoomNotFound)
}

func TestDisconnectGrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, m := f.runningMatch(t, "a", "b")

	_, changed, err := f.svc.Disconnect(ctx, r.ID, "b", "stale-conn")
	require.NoError(t, err)
	assert.False(t, changed)

	_, changed, err = f.svc.Disconnect(ctx, r.ID, "b", "c-b")
	require.NoError(t, err)
	assert.True(t, changed)

	_, _, err = f.svc.JoinRoom(ctx, r.ID, profile("b"), "", "c-b2")
	require.NoError(t, err, "rejoin works mid match")
	_, removed, err := f.svc.RemoveIfDisconnected(ctx, r.ID, "b")
	require.NoError(t, err)
	assert.False(t, removed, "reconnected player stays")

	_, _, err = f.svc.Disconnect(ctx, r.ID, "b", "c-b2")
	require.NoError(t, err)
	_, err = f.svc.UpdateProgress(ctx, m.ID, "host", 4, 8, 10)
	require.NoError(t, err)
	_, err = f.svc.UpdateProgress(ctx, m.ID, "a", 4, 8, 11)
	require.NoError(t, err)

	d, removed, err := f.svc.RemoveIfDisconnected(ctx, r.ID, "b")
	require.NoError(t, err)
	require.True(t, removed)
	require.NotNil(t, d.Match)
	assert.True(t, d.Match.Ended, "the racer left was the last one unfinished")
	assert.Len(t, d.Match.Rankings, 2)
}

func TestCloseRoom_CascadesMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, m := f.runningMatch(t, "a")

	_, err := f.svc.CloseRoom(ctx, r.ID, "a")
	assert.ErrorIs(t, err, room.ErrNotHost)

	_, err = f.svc.CloseRoom(ctx, r.ID, "host")
	require.NoError(t, err)
	_, _, err = f.svc.Leaderboard(ctx, m.ID)
	assert.ErrorIs(t, err, royale.ErrMatchNotFound)

	_, started, err := f.svc.BeginMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, started, "late countdown is a no-op")
}

func TestForceFinish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, m := f.runningMatch(t, "a")
	_, err := f.svc.UpdateProgress(ctx, m.ID, "a", 4, 8, 10)
	require.NoError(t, err)

	u, ok, err := f.svc.ForceFinish(ctx, m.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, u.Ended)
	assert.Len(t, u.Rankings, 1)

	_, ok, err = f.svc.ForceFinish(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListPublicAndSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.readyRoom(t, "a", "b")
	_, err := f.svc.CreateRoom(ctx, profile("solo"), room.Settings{Name: "Quiet"}, "c")
	require.NoError(t, err)
	_, err = f.svc.CreateRoom(ctx, profile("secret"), room.Settings{Name: "Private", Password: "pw"}, "c")
	require.NoError(t, err)

	all, err := f.svc.ListPublic(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	busy, err := f.svc.ListPublic(ctx, 2, 8)
	require.NoError(t, err)
	require.Len(t, busy, 1)
	assert.Equal(t, "Arena", busy[0].Name)

	f.clock.Advance(3 * time.Hour)
	n, err := f.svc.SweepIdleRooms(ctx, 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
