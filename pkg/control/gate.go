package control

import (
	"math"

	"github.com/r3d91ll/reflex/pkg/band"
	"github.com/r3d91ll/reflex/pkg/config"
	"github.com/r3d91ll/reflex/pkg/metrics"
)

// GateState is the Υ state after a step's evaluation.
type GateState int

const (
	GateIdle GateState = iota
	GateFiring
	GateCooldown
	GateWarmup
)

// String returns the state name used in step records.
func (g GateState) String() string {
	switch g {
	case GateFiring:
		return "FIRING"
	case GateCooldown:
		return "COOLDOWN"
	case GateWarmup:
		return "WARMUP"
	default:
		return "IDLE"
	}
}

// GateDecision is what the gate did this step.
type GateDecision struct {
	State    GateState
	Fired    bool
	Flipped  bool
	Cooldown int // cooldown at entry to the step
	// Surprisal is the standardized per-key surprisal when the gate fired.
	Surprisal []float64
}

// gate is the Υ state machine. It never returns an error; anomalous
// inputs leave it IDLE.
type gate struct {
	cfg     config.GateConfig
	entropy band.Band
	eps     float64
}

// decay applies the per-step mask decay; it runs every step before any
// additive update.
func (g *gate) decay(s *State) {
	for i := range s.Mask {
		s.Mask[i] *= 1 - g.cfg.MaskDecay
	}
	clampMask(s.Mask, g.cfg.MaskMax)
}

// evaluate runs one transition. drift is the calibrated dD band.
func (g *gate) evaluate(s *State, drift band.Band, h, dD, holDelta float64, attn, output []float64) GateDecision {
	d := GateDecision{State: GateIdle, Cooldown: s.Cooldown}

	if s.Cooldown > 0 {
		s.Cooldown--
		d.State = GateCooldown
		return d
	}
	if !finite(h, dD, holDelta) || !metrics.Finite(attn) || !metrics.Finite(output) {
		return d
	}
	if !g.entropy.Contains(h) || !drift.Contains(dD) {
		return d
	}

	d.State = GateFiring
	d.Fired = true

	if holDelta <= g.cfg.StallThreshold {
		s.StallCount++
	} else {
		s.StallCount = 0
	}

	amplify := 1.0
	if s.StallCount >= g.cfg.StallPatience {
		s.Phase = -s.Phase
		s.Cooldown = g.cfg.StallPatience
		s.StallCount = 0
		amplify = g.cfg.FlipAmplify
		d.Flipped = true
	}

	z := metrics.Standardize(metrics.Surprisal(attn, g.eps), g.eps)
	d.Surprisal = z
	for _, i := range metrics.TopK(z, g.cfg.TopK) {
		if i >= len(s.Mask) {
			continue
		}
		s.Mask[i] += amplify * g.cfg.MaskStep * (1 + math.Max(z[i], 0))
	}
	clampMask(s.Mask, g.cfg.MaskMax)
	return d
}
