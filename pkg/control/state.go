// Package control implements the closed-loop controller: the gate state
// machine (Υ) that injects masks and flips phase on stall, and the dial
// controller (Ξ-reflect with cut/fuse hysteresis) that steers temperature,
// bias and mask.
//
// All mutable controller data lives in one State value owned by a
// Controller. The sequence model reads Dials but never writes State.
package control

import (
	"math"
)

// State is the per-run mutable controller state.
type State struct {
	LogTemperature float64   `json:"log_temperature"`
	Bias           []float64 `json:"bias"`
	Mask           []float64 `json:"mask"`
	Phase          int       `json:"phase"`
	Cooldown       int       `json:"cooldown"`
	StallCount     int       `json:"stall_count"`

	EMAH float64 `json:"ema_h"`
	EMAE float64 `json:"ema_e"`
	EMAD float64 `json:"ema_d"`

	// DriftDeltas is the dD sample fed to the band calibrator.
	DriftDeltas []float64 `json:"drift_deltas"`
	// HolonomyHistory is the append-only running sum of holonomy deltas.
	HolonomyHistory []float64 `json:"holonomy_history"`
	// Coherence holds the last CoherenceWindow RC values.
	Coherence []float64 `json:"coherence"`

	PrevAttention []float64 `json:"-"`
	PrevOutput    []float64 `json:"-"`
	PrevValues    []float64 `json:"-"`
	PrevDrift     float64   `json:"-"`

	Step    int `json:"step"`
	emaInit bool
	primed  bool
}

// newState returns a cleared state for vocabulary size v.
func newState(v int, t0 float64) *State {
	return &State{
		LogTemperature: math.Log(t0),
		Bias:           make([]float64, v),
		Mask:           make([]float64, v),
		Phase:          1,
	}
}

// Temperature is exp(LogTemperature).
func (s *State) Temperature() float64 {
	return math.Exp(s.LogTemperature)
}

// Dials are the control outputs the sequence model applies before its
// next forward pass.
type Dials struct {
	Temperature float64
	Bias        []float64
	Mask        []float64
	Phase       int
}

// Dials returns a copy of the current control outputs.
func (s *State) Dials() Dials {
	return Dials{
		Temperature: s.Temperature(),
		Bias:        append([]float64(nil), s.Bias...),
		Mask:        append([]float64(nil), s.Mask...),
		Phase:       s.Phase,
	}
}

func clampMask(m []float64, max float64) {
	for i, x := range m {
		switch {
		case math.IsNaN(x) || x < 0:
			m[i] = 0
		case x > max:
			m[i] = max
		}
	}
}

func clampNorm(v []float64, max float64) {
	var ss float64
	for _, x := range v {
		ss += x * x
	}
	n := math.Sqrt(ss)
	if n <= max || n == 0 {
		return
	}
	scale := max / n
	for i := range v {
		v[i] *= scale
	}
}

func clamp(x, lo, hi float64) float64 {
	if math.IsNaN(x) {
		return lo
	}
	return math.Max(lo, math.Min(hi, x))
}

func finite(xs ...float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
