// Package motion generates step-bounded motion profiles toward a target
// position.
//
// A Generator owns the current actuator position for exactly one tenant.
// Plans are lazy: each step is produced on demand so a new target can replace
// an in-flight plan at any yielded step. The caller applies the fixed
// inter-step delay between successive steps; timing is not generator state.
package motion

import (
	"fmt"
	"math"

	"github.com/tracker-control/tcc/internal/config"
)

// Generator sequences bounded steps from a current position to requested
// targets. Single-writer: one logical execution path per tenant.
type Generator struct {
	stepSize float64
	current  float64

	active *Plan
}

// NewGenerator creates a generator starting at the initial position. It fails
// with the configuration error for step sizes that are not positive finite
// numbers.
func NewGenerator(stepSize, initial float64) (*Generator, error) {
	if stepSize <= 0 || math.IsNaN(stepSize) || math.IsInf(stepSize, 0) {
		return nil, fmt.Errorf("%w: step size must be a positive number, got %v", config.ErrInvalid, stepSize)
	}
	return &Generator{stepSize: stepSize, current: initial}, nil
}

// Current returns the last position actually reached.
func (g *Generator) Current() float64 {
	return g.current
}

// Plan starts a profile toward target, replacing any in-flight plan. Steps not
// yet consumed from the prior plan are discarded; the new plan starts from the
// last position actually reached, not from the prior pending target.
func (g *Generator) Plan(target float64) *Plan {
	if g.active != nil {
		g.active.done = true
	}
	p := &Plan{gen: g, target: target}
	g.active = p
	return p
}

// Plan is one finite lazy step sequence. Exhausted or replaced plans yield
// nothing further.
type Plan struct {
	gen    *Generator
	target float64
	done   bool
}

// Target returns the position this plan converges to.
func (p *Plan) Target() float64 {
	return p.target
}

// Next advances the generator one bounded step toward the target and returns
// the new position. The final element is exactly the target, guaranteeing
// convergence instead of oscillating around it. ok is false once the plan is
// exhausted or has been replaced.
func (p *Plan) Next() (pos float64, ok bool) {
	if p.done || p.gen.active != p {
		return 0, false
	}

	remaining := p.target - p.gen.current
	if remaining == 0 {
		p.done = true
		return 0, false
	}

	if math.Abs(remaining) > p.gen.stepSize {
		p.gen.current += math.Copysign(p.gen.stepSize, remaining)
	} else {
		// Clamp to the exact target on the last step.
		p.gen.current = p.target
		p.done = true
	}
	return p.gen.current, true
}

// Steps drains the plan into a slice. Intended for tests and callers that do
// not interleave new targets with consumption.
func (p *Plan) Steps() []float64 {
	var steps []float64
	for {
		pos, ok := p.Next()
		if !ok {
			return steps
		}
		steps = append(steps, pos)
	}
}
