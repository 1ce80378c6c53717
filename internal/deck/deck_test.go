package deck

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func faceSet(n int) []Face {
	faces := make([]Face, n)
	for i := range faces {
		faces[i] = Face{ID: i + 1, Label: fmt.Sprintf("face-%d", i+1)}
	}
	return faces
}

func TestBuild_EveryFaceTwice(t *testing.T) {
	cases := []struct {
		name  string
		faces int
	}{
		{"single face", 1},
		{"duel board", 12},
		{"royale board", 8},
		{"whole catalog", CatalogSize()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cards := Build(faceSet(tc.faces), "seed-1")
			require.Len(t, cards, 2*tc.faces)

			counts := map[int]int{}
			for _, c := range cards {
				counts[c.FaceID]++
				assert.False(t, c.IsMatched)
				assert.Empty(t, c.MatchedBy)
			}
			assert.Len(t, counts, tc.faces)
			for id, n := range counts {
				assert.Equalf(t, 2, n, "face %d dealt %d times", id, n)
			}
		})
	}
}

func TestBuild_Deterministic(t *testing.T) {
	a := Build(faceSet(12), "replay-me")
	b := Build(faceSet(12), "replay-me")
	assert.Equal(t, a, b)
}

func TestBuild_DifferentSeedsDiffer(t *testing.T) {
	a := Build(faceSet(12), "seed-a")
	b := Build(faceSet(12), "seed-b")
	assert.NotEqual(t, a, b)
}

func TestBuild_DoesNotMutateInput(t *testing.T) {
	faces := faceSet(4)
	snapshot := append([]Face(nil), faces...)
	_ = Build(faces, "x")
	assert.Equal(t, snapshot, faces)
}

func TestPick(t *testing.T) {
	t.Run("distinct and reproducible", func(t *testing.T) {
		a, err := Pick(12, "s")
		require.NoError(t, err)
		b, err := Pick(12, "s")
		require.NoError(t, err)
		assert.Equal(t, a, b)

		seen := map[int]bool{}
		for _, f := range a {
			assert.False(t, seen[f.ID], "duplicate face %d", f.ID)
			seen[f.ID] = true
		}
	})

	t.Run("out of range", func(t *testing.T) {
		_, err := Pick(0, "s")
		assert.ErrorIs(t, err, ErrInvalidPairCount)
		_, err = Pick(CatalogSize()+1, "s")
		assert.ErrorIs(t, err, ErrInvalidPairCount)
	})
}

func TestDeal_FacesRoundTrip(t *testing.T) {
	cards, err := Deal(8, "board")
	require.NoError(t, err)
	require.Len(t, cards, 16)
	assert.Len(t, Faces(cards), 8)
}

func TestNewSeed_Unique(t *testing.T) {
	assert.NotEqual(t, NewSeed(), NewSeed())
	assert.Len(t, NewSeed(), 32)
}
