package control

import (
	"math"

	"github.com/r3d91ll/reflex/pkg/band"
	"github.com/r3d91ll/reflex/pkg/config"
	"github.com/r3d91ll/reflex/pkg/metrics"
)

// Signals are the per-step scalars produced by the Metric Engine.
type Signals struct {
	H             float64 `json:"h"`
	D             float64 `json:"d"`
	DD            float64 `json:"dd"`
	RC            float64 `json:"rc"`
	K             float64 `json:"k"`
	ZI            float64 `json:"zi"`
	E             float64 `json:"e"`
	HolonomyDelta float64 `json:"holonomy_delta"`
	Holonomy      float64 `json:"holonomy"`
	XiDelta       float64 `json:"xi_delta"`
}

// Result is everything the controller decided in one step.
type Result struct {
	Signals
	Gate        GateState
	Fired       bool
	Flipped     bool
	Cut         bool
	Fuse        bool
	Phase       int
	Cooldown    int
	StallCount  int
	Temperature float64
	VStar       float64
}

// Controller owns a State and advances it one step at a time. It is not
// safe for concurrent use; each run gets its own Controller.
type Controller struct {
	cfg      *config.Config
	vocab    int
	eps      float64
	weights  metrics.CoherenceWeights
	ref      []float64
	holonomy *metrics.Holonomy
	drift    *band.Calibrator
	gate     *gate
	dial     *dial
	enabled  bool
	state    *State
	holSum   float64
}

// New validates cfg and builds a controller for vocabulary size vocab.
// With enabled false the controller measures signals but never gates or
// moves the dials, which is the A/B baseline.
func New(cfg *config.Config, vocab int, enabled bool) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	eps := cfg.Metrics.Epsilon
	c := &Controller{
		cfg:   cfg,
		vocab: vocab,
		eps:   eps,
		weights: metrics.CoherenceWeights{
			Value:     cfg.Metrics.CoherenceValueWeight,
			Attention: cfg.Metrics.CoherenceAttentionWeight,
			Dist:      cfg.Metrics.CoherenceDistWeight,
		},
		ref:      metrics.ReferencePattern(vocab),
		holonomy: metrics.NewHolonomy(cfg.Metrics.HolonomyWindow),
		drift: band.NewCalibrator(band.Options{
			Method:         band.Method(cfg.Band.Method),
			K:              cfg.Band.K,
			WarmupSteps:    cfg.Band.WarmupSteps,
			RefreshEvery:   cfg.Band.RefreshEvery,
			LowPercentile:  cfg.Band.LowPercentile,
			HighPercentile: cfg.Band.HighPercentile,
		}),
		gate: &gate{
			cfg:     cfg.Gate,
			entropy: band.Fixed(cfg.Band.EntropyLow, cfg.Band.EntropyHigh),
			eps:     eps,
		},
		dial:    newDial(cfg.Dial, cfg.Gate.MaskMax, vocab, eps),
		enabled: enabled,
	}
	c.Reset()
	return c, nil
}

// Reset clears all histories and restores the initial dials.
func (c *Controller) Reset() {
	c.state = newState(c.vocab, c.cfg.Dial.InitialTemperature)
	c.holonomy.Reset()
	c.drift.Reset()
	c.holSum = 0
}

// State returns the controller's state. Callers must treat it as read-only.
func (c *Controller) State() *State {
	return c.state
}

// Dials returns a copy of the current control outputs.
func (c *Controller) Dials() Dials {
	return c.state.Dials()
}

// DriftBand returns the calibrated dD band (degenerate before warm-up).
func (c *Controller) DriftBand() band.Band {
	return c.drift.Band()
}

// Prime stores the first snapshot so the next Step has a predecessor for
// drift, coherence and torsion.
func (c *Controller) Prime(snap metrics.Snapshot) {
	s := c.state
	s.PrevAttention = append([]float64(nil), snap.Attention...)
	s.PrevOutput = append([]float64(nil), snap.Output...)
	s.PrevValues = append([]float64(nil), snap.Values...)
	s.primed = true
}

// Primed reports whether a predecessor snapshot is available.
func (c *Controller) Primed() bool {
	return c.state.primed
}

// Measure computes the step's signals against the previous snapshot and
// rolls the snapshot into the state.
func (c *Controller) Measure(snap metrics.Snapshot) Signals {
	s := c.state
	prev := metrics.Snapshot{Attention: s.PrevAttention, Output: s.PrevOutput, Values: s.PrevValues}

	var sig Signals
	sig.H = metrics.Entropy(snap.Output, c.eps)
	sig.D = metrics.Drift(snap.Attention, prev.Attention, c.eps)
	sig.DD = sig.D - s.PrevDrift
	sig.RC = metrics.Coherence(snap, prev, c.weights, c.eps)
	cur := metrics.NormalizeL1(snap.Attention, c.eps)
	old := metrics.NormalizeL1(prev.Attention, c.eps)
	sig.K = metrics.Torsion(metrics.Outer(cur, cur), metrics.Outer(old, old), c.eps)
	sig.ZI = metrics.Interference(snap.Attention, c.ref, c.eps)
	sig.E = metrics.Energy(snap.Loss)
	sig.XiDelta = metrics.SelfEmbeddingResidual(snap.Values, prev.Values, c.eps)

	s.PrevDrift = sig.D
	c.Prime(snap)

	sig.HolonomyDelta = c.holonomy.Push(sig.K)
	return sig
}

// Step measures snap and advances the controller. The first call only
// primes the state and reports ok=false.
func (c *Controller) Step(snap metrics.Snapshot) (Result, bool) {
	if !c.state.primed {
		c.Prime(snap)
		return Result{}, false
	}
	return c.Advance(c.Measure(snap), snap), true
}

// Advance applies band calibration, gating and the dial law for signals
// sig; snap supplies the attention and output vectors the actions act on.
// It never fails: non-finite signals leave the gate IDLE.
func (c *Controller) Advance(sig Signals, snap metrics.Snapshot) Result {
	s := c.state
	if finite(sig.HolonomyDelta) {
		c.holSum += sig.HolonomyDelta
	}
	sig.Holonomy = c.holSum
	s.HolonomyHistory = append(s.HolonomyHistory, c.holSum)

	warm := s.Step >= c.cfg.Band.WarmupSteps
	if !c.drift.Ready() || c.cfg.Band.RefreshEvery > 0 {
		c.drift.Observe(sig.DD)
		if finite(sig.DD) {
			s.DriftDeltas = append(s.DriftDeltas, sig.DD)
		}
	}

	c.gate.decay(s)

	res := Result{Signals: sig, Gate: GateWarmup, Cooldown: s.Cooldown}
	if c.enabled {
		var dec GateDecision
		if warm {
			dec = c.gate.evaluate(s, c.drift.Band(), sig.H, sig.DD, sig.HolonomyDelta, snap.Attention, snap.Output)
			res.Gate = dec.State
		}
		res.Fired = dec.Fired
		res.Flipped = dec.Flipped

		c.dial.updateEMA(s, sig.H, sig.E, sig.D)
		act := c.dial.apply(s, sig, snap.Output, dec.Fired, dec.Surprisal)
		res.Cut = act.Cut
		res.Fuse = act.Fuse
		res.VStar = act.VStar
	} else {
		c.dial.updateEMA(s, sig.H, sig.E, sig.D)
		c.dial.pushCoherence(s, sig.RC)
		res.Gate = GateIdle
		res.VStar = c.dial.vstar(sig, snap.Output)
	}

	res.Phase = s.Phase
	res.StallCount = s.StallCount
	res.Temperature = s.Temperature()
	if math.IsNaN(res.VStar) {
		res.VStar = 0
	}
	s.Step++
	return res
}
