// Package trajectory generates human-looking pointer drags for the slider challenge.
package trajectory

import (
	"math"
	"math/rand"
)

// Motion model constants. Velocities are in pixels per second, TimeStep in seconds.
const (
	TimeStep   = 0.2
	Accel      = 2.0
	Brake      = -3.0
	AccelPhase = 0.7

	// MaxStep bounds a single pointer move; faster than this is not a human drag.
	MaxStep = 40
	// MaxJitter bounds the vertical wobble added to the final step.
	MaxJitter = 2

	minVelocity = 5.0
)

// Step is one relative pointer move.
type Step struct {
	DX int
	DY int
}

// Generate returns the moves for dragging the slider distance pixels to the right.
// Horizontal moves always sum to exactly distance. The horizontal profile is
// deterministic; rng, when non-nil, adds vertical jitter to the final step only.
func Generate(distance int, rng *rand.Rand) []Step {
	if distance <= 0 {
		return nil
	}

	d := float64(distance)
	mid := d * AccelPhase

	var (
		steps   []Step
		current float64
		v       float64
		emitted int
	)

	for emitted < distance {
		a := Accel
		braking := current >= mid
		if braking {
			a = Brake
		}

		v0 := v
		move := v0*TimeStep + 0.5*a*TimeStep*TimeStep
		v = v0 + a*TimeStep

		if move > MaxStep {
			move = MaxStep
			v = MaxStep / TimeStep
		}
		if braking && v < minVelocity {
			// never stall or reverse short of the target
			v = minVelocity
			move = max(move, minVelocity*TimeStep)
		}

		current += move
		target := min(int(math.Round(current)), distance)
		if dx := target - emitted; dx > 0 {
			steps = append(steps, Step{DX: dx})
			emitted += dx
		}
	}

	if rng != nil && len(steps) > 0 {
		steps[len(steps)-1].DY = rng.Intn(2*MaxJitter+1) - MaxJitter
	}
	return steps
}

// Sum returns the total displacement of steps.
func Sum(steps []Step) (dx, dy int) {
	for _, s := range steps {
		dx += s.DX
		dy += s.DY
	}
	return dx, dy
}
