package royale

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/memory-match-backend/internal/deck"
)

var t0 = time.Date(2025, 2, 1, 18, 0, 0, 0, time.UTC)

func racingMatch(ids ...string) Match {
	cards, _ := deck.Deal(8, "seed")
	racers := make([]Progress, len(ids))
	for i, id := range ids {
		racers[i] = Progress{UserID: id, DisplayName: id}
	}
	m := NewMatch("br1", "room1", "seed", cards, racers, DefaultScoring(), t0)
	m.Begin(t0)
	return m
}

func TestScore(t *testing.T) {
	s := DefaultScoring()
	cases := []struct {
		name           string
		pairs, flips   int
		completionTime float64
		want           int
	}{
		{"not finished", 8, 20, 0, 0},
		{"typical run", 8, 20, 40, 250 + 1200 - 100},
		{"rounds to nearest", 0, 0, 8000, 1},
		{"fractional time", 8, 16, 30, 333 + 1200 - 80},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, s.Score(tc.pairs, tc.flips, tc.completionTime))
		})
	}
}

func TestUpdateProgress_FinishesAtPairCount(t *testing.T) {
	m := racingMatch("a", "b")

	done, err := m.UpdateProgress("a", 4, 10, 0, t0)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Zero(t, m.Racer("a").Score)

	done, err = m.UpdateProgress("a", 8, 20, 40, t0)
	require.NoError(t, err)
	assert.True(t, done)
	assert.True(t, m.Racer("a").IsFinished)
	assert.Equal(t, 1350, m.Racer("a").Score)
	assert.Equal(t, 1, m.Racer("a").Rank)
	assert.False(t, m.ShouldEnd())

	done, err = m.UpdateProgress("a", 3, 3, 3, t0)
	require.NoError(t, err)
	assert.False(t, done, "reports after finishing are ignored")
	assert.Equal(t, 8, m.Racer("a").PairsFound)
}

func TestUpdateProgress_Rejections(t *testing.T) {
	m := racingMatch("a")
	_, err := m.UpdateProgress("ghost", 1, 2, 0, t0)
	assert.ErrorIs(t, err, ErrRacerNotFound)
	_, err = m.UpdateProgress("a", 9, 2, 0, t0)
	assert.ErrorIs(t, err, ErrInvalidProgress)
	_, err = m.UpdateProgress("a", 1, -1, 0, t0)
	assert.ErrorIs(t, err, ErrInvalidProgress)

	starting := NewMatch("x", "r", "s", m.Cards, []Progress{{UserID: "a"}}, DefaultScoring(), t0)
	_, err = starting.UpdateProgress("a", 1, 2, 0, t0)
	assert.ErrorIs(t, err, ErrMatchNotStarted)
}

func TestCalculateRankings_CompetitionRanking(t *testing.T) {
	m := racingMatch("a", "b", "c", "d", "e")
	set := func(id string, score int, time float64, flips int, finished bool) {
		p := m.Racer(id)
		p.Score, p.CompletionTime, p.FlipCount, p.IsFinished = score, time, flips, finished
	}
	set("a", 1500, 30, 20, true)
	set("b", 1500, 30, 20, true)
	set("c", 1500, 25, 22, true)
	set("d", 1200, 40, 18, true)
	set("e", 9999, 1, 1, false)

	got := m.CalculateRankings()
	require.Len(t, got, 4)

	ids := []string{got[0].UserID, got[1].UserID, got[2].UserID, got[3].UserID}
	assert.Equal(t, "c", ids[0], "faster time wins a score tie")
	assert.ElementsMatch(t, []string{"a", "b"}, ids[1:3])
	assert.Equal(t, "d", ids[3])

	assert.Equal(t, []int{1, 2, 2, 4}, []int{got[0].Rank, got[1].Rank, got[2].Rank, got[3].Rank})
	assert.Zero(t, m.Racer("e").Rank, "unfinished racers are not ranked")

	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].Rank, got[i].Rank)
		assert.LessOrEqual(t, rankLess(got[i-1], got[i]), 0)
	}
}

func TestShouldEnd_IgnoresDepartedRacers(t *testing.T) {
	m := racingMatch("a", "b")
	_, err := m.UpdateProgress("a", 8, 16, 20, t0)
	require.NoError(t, err)
	assert.False(t, m.ShouldEnd())

	assert.True(t, m.RemoveRacer("b"))
	assert.False(t, m.RemoveRacer("b"))
	assert.True(t, m.ShouldEnd())
}

func TestFinishPlayer(t *testing.T) {
	m := racingMatch("a", "b")
	require.NoError(t, m.FinishPlayer("a", 5, 30, 60, t0))
	p := m.Racer("a")
	assert.True(t, p.IsFinished)
	assert.Equal(t, 1, p.Rank)
	assert.ErrorIs(t, m.FinishPlayer("a", 5, 30, 60, t0), ErrRacerFinished)
}

func TestAckFlip_MinimumInterval(t *testing.T) {
	m := racingMatch("a")
	gap := 250 * time.Millisecond

	require.NoError(t, m.AckFlip("a", 0, t0, gap))
	assert.ErrorIs(t, m.AckFlip("a", 1, t0.Add(100*time.Millisecond), gap), ErrFlipTooFast)
	require.NoError(t, m.AckFlip("a", 1, t0.Add(gap), gap))
	assert.ErrorIs(t, m.AckFlip("a", 99, t0.Add(time.Second), gap), ErrCardOutOfRange)

	for i := 0; i < 20; i++ {
		require.NoError(t, m.AckFlip("a", i%16, t0.Add(time.Duration(i+2)*time.Second), gap))
	}
	assert.Len(t, m.Racer("a").RecentFlips, recentFlipLimit)
}

func TestFinish_StandingsOrder(t *testing.T) {
	m := racingMatch("a", "b", "c")
	_, _ = m.UpdateProgress("b", 8, 16, 20, t0)
	_, _ = m.UpdateProgress("a", 3, 10, 0, t0)
	_, _ = m.UpdateProgress("c", 5, 12, 0, t0)

	standings := m.Standings()
	require.Len(t, standings, 3)
	assert.Equal(t, []string{"b", "c", "a"}, []string{standings[0].UserID, standings[1].UserID, standings[2].UserID})

	ranked := m.Finish(t0)
	assert.Equal(t, StatusFinished, m.Status)
	assert.Len(t, ranked, 1)
	assert.True(t, m.ShouldEnd())
}
