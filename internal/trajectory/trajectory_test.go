package trajectory

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

var distances = []int{1, 2, 7, 12, 50, 135, 243, 300, 1000, 5000, 30000}

func TestGenerateSumsToDistance(t *testing.T) {
	for _, d := range distances {
		steps := Generate(d, nil)
		dx, dy := Sum(steps)
		require.Equal(t, d, dx, "distance %d", d)
		require.Zero(t, dy, "distance %d", d)
	}
}

func TestGenerateStepBounds(t *testing.T) {
	for _, d := range distances {
		for i, s := range Generate(d, nil) {
			require.Greater(t, s.DX, 0, "distance %d step %d", d, i)
			require.LessOrEqual(t, s.DX, MaxStep, "distance %d step %d", d, i)
		}
	}
}

func TestGenerateZeroDistance(t *testing.T) {
	require.Empty(t, Generate(0, nil))
	require.Empty(t, Generate(-5, rand.New(rand.NewSource(1))))
}

func TestGenerateDeterministic(t *testing.T) {
	require.Equal(t, Generate(243, nil), Generate(243, nil))
}

func TestGenerateJitterOnFinalStepOnly(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for range 50 {
		steps := Generate(180, rng)
		require.NotEmpty(t, steps)
		for _, s := range steps[:len(steps)-1] {
			require.Zero(t, s.DY)
		}
		last := steps[len(steps)-1]
		require.LessOrEqual(t, last.DY, MaxJitter)
		require.GreaterOrEqual(t, last.DY, -MaxJitter)

		dx, _ := Sum(steps)
		require.Equal(t, 180, dx)
	}
}

func TestGenerateDeceleratesBeforeTarget(t *testing.T) {
	steps := Generate(300, nil)
	peak := 0
	for _, s := range steps {
		peak = max(peak, s.DX)
	}
	// the final move is slower than the fastest one
	require.Less(t, steps[len(steps)-1].DX, peak)
}
