package deck

import (
	"crypto/rand"
	"encoding/hex"
	"hash/fnv"
)

type Face struct {
	ID    int    `json:"faceId"`
	Label string `json:"faceLabel"`
}

// Card identity is its index in the deal.
type Card struct {
	FaceID    int    `json:"faceId"`
	FaceLabel string `json:"faceLabel"`
	IsMatched bool   `json:"isMatched"`
	MatchedBy string `json:"matchedBy,omitempty"`
}

// Build duplicates every face and shuffles the result with a generator seeded
// from seed. The same (faces, seed) always deals the same sequence.
func Build(faces []Face, seed string) []Card {
	cards := make([]Card, 0, len(faces)*2)
	for _, f := range faces {
		c := Card{FaceID: f.ID, FaceLabel: f.Label}
		cards = append(cards, c, c)
	}

	r := newRNG(seed)
	for i := len(cards) - 1; i > 0; i-- {
		j := r.intn(i + 1)
		cards[i], cards[j] = cards[j], cards[i]
	}
	return cards
}

// Faces returns the distinct faces of a deal in first-seen order.
func Faces(cards []Card) []Face {
	seen := make(map[int]bool, len(cards)/2)
	out := make([]Face, 0, len(cards)/2)
	for _, c := range cards {
		if seen[c.FaceID] {
			continue
		}
		seen[c.FaceID] = true
		out = append(out, Face{ID: c.FaceID, Label: c.FaceLabel})
	}
	return out
}

func NewSeed() string {
	b := make([]byte, 16)
	// crypto/rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// rng is an xorshift64 generator seeded with the FNV-1a hash of a string.
type rng struct {
	state uint64
}

func newRNG(seed string) *rng {
	h := fnv.New64a()
	_, _ = h.Write([]byte(seed))
	s := h.Sum64()
	if s == 0 {
		// xorshift is stuck at zero
		s = 0x9E3779B97F4A7C15
	}
	return &rng{state: s}
}

func (r *rng) next() uint64 {
	x := r.state
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	r.state = x
	return x
}

func (r *rng) intn(n int) int {
	return int(r.next() % uint64(n))
}
