package control

import (
	"math"

	"github.com/r3d91ll/reflex/pkg/config"
	"github.com/r3d91ll/reflex/pkg/metrics"
)

// DialAction reports which hysteresis branch applied. At most one of Cut
// and Fuse is set.
type DialAction struct {
	Cut         bool
	Fuse        bool
	DeltaLogTau float64
	VStar       float64
}

// dial is the Ξ-reflect controller.
type dial struct {
	cfg     config.DialConfig
	maskMax float64
	target  []float64
	eps     float64
	logMin  float64
	logMax  float64
}

func newDial(cfg config.DialConfig, maskMax float64, vocab int, eps float64) *dial {
	target := make([]float64, vocab)
	for i := range target {
		target[i] = 1 / float64(vocab)
	}
	return &dial{
		cfg:     cfg,
		maskMax: maskMax,
		target:  target,
		eps:     eps,
		logMin:  math.Log(cfg.TMin),
		logMax:  math.Log(cfg.TMax),
	}
}

// updateEMA folds the step's H, E and D into the trackers. The first
// observation seeds them.
func (d *dial) updateEMA(s *State, h, e, dr float64) {
	if !finite(h, e, dr) {
		return
	}
	if !s.emaInit {
		s.EMAH, s.EMAE, s.EMAD = h, e, dr
		s.emaInit = true
		return
	}
	l := d.cfg.EMADecay
	s.EMAH = (1-l)*s.EMAH + l*h
	s.EMAE = (1-l)*s.EMAE + l*e
	s.EMAD = (1-l)*s.EMAD + l*dr
}

// pushCoherence appends rc to the fixed-length coherence window.
func (d *dial) pushCoherence(s *State, rc float64) {
	s.Coherence = append(s.Coherence, rc)
	if n := len(s.Coherence) - d.cfg.CoherenceWindow; n > 0 {
		s.Coherence = append(s.Coherence[:0], s.Coherence[n:]...)
	}
}

// improving reports whether the last three recorded RC values are
// non-decreasing.
func (d *dial) improving(s *State) bool {
	n := len(s.Coherence)
	if n < 3 {
		return false
	}
	w := s.Coherence[n-3:]
	return w[0] <= w[1] && w[1] <= w[2]
}

// apply runs the control law for one step. surprisal is the standardized
// surprisal vector from the gate (nil when it did not fire).
func (d *dial) apply(s *State, sig Signals, output []float64, fired bool, surprisal []float64) DialAction {
	var act DialAction
	before := s.LogTemperature

	epsH := sig.H - s.EMAH
	epsE := sig.E - s.EMAE
	epsD := sig.D - s.EMAD
	epsRC := d.cfg.RCTarget - sig.RC
	step := d.cfg.EtaTau * (d.cfg.WeightH*epsH - d.cfg.WeightRC*epsRC + d.cfg.WeightE*epsE + d.cfg.WeightD*epsD)
	if finite(step) {
		s.LogTemperature = clamp(s.LogTemperature-step, d.logMin, d.logMax)
	}

	if len(output) == len(s.Bias) && metrics.Finite(output) {
		cur := metrics.NormalizeL1(output, d.eps)
		for i := range s.Bias {
			s.Bias[i] = (1-d.cfg.Rho)*s.Bias[i] + d.cfg.Rho*d.cfg.Kappa*(d.target[i]-cur[i])
		}
		clampNorm(s.Bias, d.cfg.BiasMax)
	}

	d.pushCoherence(s, sig.RC)

	switch {
	case finite(sig.RC) && sig.RC < d.cfg.RCLow && fired:
		act.Cut = true
		s.LogTemperature -= d.cfg.CutStep
		for i, z := range surprisal {
			if i < len(s.Mask) {
				s.Mask[i] += d.cfg.CutFraction * math.Max(z, 0)
			}
		}
	case finite(sig.RC) && (sig.RC > d.cfg.RCHigh || d.improving(s)):
		act.Fuse = true
		s.LogTemperature += d.cfg.FuseStep
		for i := range s.Mask {
			s.Mask[i] *= 1 - d.cfg.FuseFraction
		}
	}
	s.LogTemperature = clamp(s.LogTemperature, d.logMin, d.logMax)
	clampMask(s.Mask, d.maskMax)

	act.DeltaLogTau = s.LogTemperature - before
	act.VStar = d.vstar(sig, output)
	return act
}

// vstar is the monitoring-only potential
// w0·KL(output‖target) + w1·H + w2·D + w3·E − w4·RC.
func (d *dial) vstar(sig Signals, output []float64) float64 {
	w := d.cfg.VStarWeights
	if len(w) < 5 {
		return math.NaN()
	}
	kl := 0.0
	if len(output) == len(d.target) {
		kl = metrics.Drift(output, d.target, d.eps)
	}
	return w[0]*kl + w[1]*sig.H + w[2]*sig.D + w[3]*sig.E - w[4]*sig.RC
}
