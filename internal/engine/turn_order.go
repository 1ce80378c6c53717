package engine

// Seats are fixed for the whole duel: index 0 moves first, index 1 second.
// The turn only changes hands on a second flip that misses.

func opponent(seat int) int {
	return 1 - seat
}

// Opponent returns the other player of the duel.
func (m Match) Opponent(userID string) (PlayerSlot, bool) {
	i := m.PlayerIndex(userID)
	if i < 0 {
		return PlayerSlot{}, false
	}
	return m.Players[opponent(i)], true
}

// Loser is only meaningful once a winner is set.
func (m Match) Loser() (PlayerSlot, bool) {
	if m.Winner == "" {
		return PlayerSlot{}, false
	}
	return m.Opponent(m.Winner)
}
