package control

import (
	"math"
	"math/rand"
	"reflect"
	"testing"

	"github.com/r3d91ll/reflex/pkg/config"
	"github.com/r3d91ll/reflex/pkg/metrics"
)

const vocab = 8

func newTestController(t *testing.T, mutate func(*config.Config)) *Controller {
	t.Helper()
	cfg := config.Default()
	cfg.Run.Vocab = vocab
	if mutate != nil {
		mutate(cfg)
	}
	c, err := New(cfg, vocab, true)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return c
}

func peakedAttention() []float64 {
	return []float64{0.4, 0.2, 0.1, 0.1, 0.08, 0.06, 0.04, 0.02}
}

func snapshot() metrics.Snapshot {
	return metrics.Snapshot{
		Output:    []float64{0.3, 0.2, 0.1, 0.1, 0.1, 0.1, 0.05, 0.05},
		Attention: peakedAttention(),
		Values:    []float64{1, 0.5, 0.2, 0, -0.2, -0.5, -1, 0.1},
		Loss:      2.0,
	}
}

// warmDrift feeds W alternating ±0.01 drift deltas so the calibrated band
// is median 0 ± 1.4826·0.01.
func warmDrift(c *Controller) {
	snap := snapshot()
	for i := 0; i < c.cfg.Band.WarmupSteps; i++ {
		dd := 0.01
		if i%2 == 0 {
			dd = -0.01
		}
		c.Advance(Signals{H: 0.5, DD: dd, RC: 0.6, E: 2, HolonomyDelta: 0.1}, snap)
	}
}

// -----------------------------------------------------------------------------
// Construction Tests
// -----------------------------------------------------------------------------

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Dial.TMin = 3
	if _, err := New(cfg, vocab, true); err == nil {
		t.Fatal("expected error for t_min >= t_max")
	}
}

func TestNew_InitialDials(t *testing.T) {
	c := newTestController(t, nil)
	d := c.Dials()

	if math.Abs(d.Temperature-1.0) > 1e-12 {
		t.Errorf("expected initial temperature 1, got %v", d.Temperature)
	}
	if d.Phase != 1 {
		t.Errorf("expected phase +1, got %d", d.Phase)
	}
	if len(d.Bias) != vocab || len(d.Mask) != vocab {
		t.Errorf("expected vectors of length %d", vocab)
	}
}

func TestStep_FirstCallPrimes(t *testing.T) {
	c := newTestController(t, nil)
	if _, ok := c.Step(snapshot()); ok {
		t.Error("expected first Step to only prime")
	}
	res, ok := c.Step(snapshot())
	if !ok {
		t.Fatal("expected second Step to produce a result")
	}
	if res.D != 0 {
		t.Errorf("expected zero drift for identical snapshots, got %v", res.D)
	}
	if math.Abs(res.RC-1) > 1e-9 {
		t.Errorf("expected coherence 1 for identical snapshots, got %v", res.RC)
	}
}

// -----------------------------------------------------------------------------
// Gate Tests
// -----------------------------------------------------------------------------

func TestGate_NoFireDuringWarmup(t *testing.T) {
	c := newTestController(t, nil)
	snap := snapshot()
	for i := 0; i < c.cfg.Band.WarmupSteps; i++ {
		res := c.Advance(Signals{H: 0.5, DD: 0, HolonomyDelta: 0}, snap)
		if res.Fired {
			t.Fatalf("fired during warm-up at step %d", i)
		}
		if res.Gate != GateWarmup {
			t.Fatalf("expected WARMUP state at step %d, got %s", i, res.Gate)
		}
	}
}

func TestGate_DegenerateBandNeverFires(t *testing.T) {
	c := newTestController(t, nil)
	snap := snapshot()
	for i := 0; i < c.cfg.Band.WarmupSteps; i++ {
		c.Advance(Signals{H: 0.5, DD: 0.2}, snap)
	}
	b := c.DriftBand()
	if !b.Degenerate || b.Low != 0.2 || b.High != 0.2 {
		t.Fatalf("expected degenerate (0.2, 0.2) band, got %+v", b)
	}
	for i := 0; i < 100; i++ {
		dd := 0.2 + float64(i+1)*1e-3
		if i%2 == 0 {
			dd = 0.2 - float64(i+1)*1e-3
		}
		if res := c.Advance(Signals{H: 0.5, DD: dd}, snap); res.Fired {
			t.Fatalf("degenerate band fired at dD=%v", dd)
		}
	}
}

func TestGate_NaNIsIdle(t *testing.T) {
	c := newTestController(t, nil)
	warmDrift(c)
	snap := snapshot()

	for _, sig := range []Signals{
		{H: math.NaN(), DD: 0},
		{H: 0.5, DD: math.NaN()},
		{H: 0.5, DD: 0, HolonomyDelta: math.Inf(1)},
	} {
		res := c.Advance(sig, snap)
		if res.Fired || res.Gate != GateIdle {
			t.Errorf("expected IDLE for %+v, got %s fired=%v", sig, res.Gate, res.Fired)
		}
	}
}

func TestGate_NaNOutputNeverFires(t *testing.T) {
	c := newTestController(t, nil)
	warmDrift(c)

	bad := snapshot()
	bad.Output = append([]float64(nil), bad.Output...)
	bad.Output[2] = math.NaN()

	// Signals that fire with a clean snapshot must not fire on a NaN output.
	res := c.Advance(Signals{H: 0.5, DD: 0, RC: 0.6, HolonomyDelta: 0.1}, bad)
	if res.Fired || res.Gate != GateIdle {
		t.Fatalf("expected IDLE for NaN output, got %s fired=%v", res.Gate, res.Fired)
	}

	c.Prime(snapshot())
	res, ok := c.Step(bad)
	if !ok {
		t.Fatal("expected a result from a primed controller")
	}
	if !math.IsNaN(res.H) {
		t.Errorf("expected NaN entropy for NaN output, got %v", res.H)
	}
	if res.Fired {
		t.Error("gate fired on a NaN output")
	}
}

func TestGate_FiresInsideBand(t *testing.T) {
	c := newTestController(t, nil)
	warmDrift(c)

	res := c.Advance(Signals{H: 0.5, DD: 0, RC: 0.6, HolonomyDelta: 0.1}, snapshot())
	if !res.Fired || res.Gate != GateFiring {
		t.Fatalf("expected FIRING, got %s", res.Gate)
	}
	// The least attended keys carry the highest surprisal.
	m := c.Dials().Mask
	if m[7] == 0 || m[6] == 0 || m[5] == 0 {
		t.Errorf("expected mask raised on the three highest-surprisal keys, got %v", m)
	}
	if m[0] != 0 {
		t.Errorf("expected no mask on the most attended key, got %v", m[0])
	}

	if res := c.Advance(Signals{H: 0.5, DD: 1.0}, snapshot()); res.Fired {
		t.Error("expected no fire outside the drift band")
	}
	if res := c.Advance(Signals{H: 1.0, DD: 0}, snapshot()); res.Fired {
		t.Error("expected no fire outside the entropy band")
	}
}

func TestGate_PhaseFlipHysteresis(t *testing.T) {
	c := newTestController(t, nil)
	warmDrift(c)
	patience := c.cfg.Gate.StallPatience
	snap := snapshot()

	var flips []int
	for i := 0; i < 10*patience; i++ {
		res := c.Advance(Signals{H: 0.5, DD: 0, RC: 0.6, HolonomyDelta: 0}, snap)
		if res.Flipped {
			flips = append(flips, i)
		}
	}
	if len(flips) < 2 {
		t.Fatalf("expected repeated flips under a persistent stall, got %v", flips)
	}
	if flips[0] != patience-1 {
		t.Errorf("expected first flip after %d stalled firings, got step %d", patience, flips[0])
	}
	for i := 1; i < len(flips); i++ {
		if gap := flips[i] - flips[i-1]; gap <= patience {
			t.Errorf("flips %d and %d only %d steps apart", flips[i-1], flips[i], gap)
		}
	}
}

func TestGate_StallResetsOnGrowth(t *testing.T) {
	c := newTestController(t, nil)
	warmDrift(c)
	snap := snapshot()

	for i := 0; i < 3*c.cfg.Gate.StallPatience; i++ {
		hol := 0.0
		if i%4 == 3 {
			hol = 0.5
		}
		if res := c.Advance(Signals{H: 0.5, DD: 0, RC: 0.6, HolonomyDelta: hol}, snap); res.Flipped {
			t.Fatalf("unexpected flip at %d; stall count should reset on holonomy growth", i)
		}
	}
}

// -----------------------------------------------------------------------------
// Bounds Tests
// -----------------------------------------------------------------------------

func TestMaskBounds_ConsecutiveFires(t *testing.T) {
	c := newTestController(t, func(cfg *config.Config) {
		cfg.Gate.MaskStep = 5
		cfg.Gate.MaskDecay = 0
		cfg.Dial.CutFraction = 3
	})
	warmDrift(c)
	maskMax := c.cfg.Gate.MaskMax

	for i := 0; i < 500; i++ {
		c.Advance(Signals{H: 0.5, DD: 0, RC: 0.1, HolonomyDelta: 0}, snapshot())
		for j, m := range c.State().Mask {
			if m < 0 || m > maskMax {
				t.Fatalf("step %d: mask[%d]=%v outside [0,%v]", i, j, m, maskMax)
			}
		}
	}
}

func TestTemperatureBounds_RandomSignals(t *testing.T) {
	c := newTestController(t, func(cfg *config.Config) {
		cfg.Dial.EtaTau = 5
		cfg.Dial.CutStep = 1
		cfg.Dial.FuseStep = 1
	})
	lo, hi := math.Log(c.cfg.Dial.TMin), math.Log(c.cfg.Dial.TMax)
	rng := rand.New(rand.NewSource(7))
	snap := snapshot()

	for i := 0; i < 2000; i++ {
		sig := Signals{
			H:             rng.Float64(),
			D:             rng.Float64() * 3,
			DD:            rng.NormFloat64() * 0.01,
			RC:            rng.Float64()*2 - 1,
			E:             rng.Float64() * 10,
			HolonomyDelta: rng.NormFloat64(),
		}
		c.Advance(sig, snap)
		lt := c.State().LogTemperature
		if lt < lo-1e-12 || lt > hi+1e-12 {
			t.Fatalf("step %d: log temperature %v outside [%v,%v]", i, lt, lo, hi)
		}
	}
}

func TestBiasNormCap(t *testing.T) {
	c := newTestController(t, func(cfg *config.Config) {
		cfg.Dial.Rho = 1
		cfg.Dial.Kappa = 100
		cfg.Dial.BiasMax = 0.3
	})
	snap := snapshot()
	snap.Output = []float64{1, 0, 0, 0, 0, 0, 0, 0}
	for i := 0; i < 10; i++ {
		c.Advance(Signals{H: 0.1, RC: 0.5}, snap)
	}
	if n := metrics.Norm(c.State().Bias); n > 0.3+1e-9 {
		t.Errorf("bias norm %v exceeds cap", n)
	}
	if c.State().Bias[0] >= 0 {
		t.Error("expected bias to push against the over-weighted token")
	}
}

// -----------------------------------------------------------------------------
// Dial Tests
// -----------------------------------------------------------------------------

func TestDial_CutAndFuseExclusive(t *testing.T) {
	c := newTestController(t, nil)
	warmDrift(c)
	rng := rand.New(rand.NewSource(3))

	for i := 0; i < 500; i++ {
		sig := Signals{H: 0.5, DD: rng.NormFloat64() * 0.01, RC: rng.Float64(), HolonomyDelta: rng.NormFloat64()}
		res := c.Advance(sig, snapshot())
		if res.Cut && res.Fuse {
			t.Fatalf("step %d: cut and fuse both applied", i)
		}
		if res.Cut && !res.Fired {
			t.Fatalf("step %d: cut without a gate fire", i)
		}
	}
}

func TestDial_CutLowersTemperature(t *testing.T) {
	c := newTestController(t, func(cfg *config.Config) { cfg.Dial.EtaTau = 0 })
	warmDrift(c)
	before := c.State().LogTemperature

	res := c.Advance(Signals{H: 0.5, DD: 0, RC: 0.1, HolonomyDelta: 1}, snapshot())
	if !res.Cut {
		t.Fatal("expected cut for low coherence on a firing step")
	}
	if got := c.State().LogTemperature; math.Abs(got-(before-c.cfg.Dial.CutStep)) > 1e-12 {
		t.Errorf("expected log temperature %v, got %v", before-c.cfg.Dial.CutStep, got)
	}
}

func TestDial_FuseOnImprovingCoherence(t *testing.T) {
	c := newTestController(t, func(cfg *config.Config) { cfg.Dial.EtaTau = 0 })
	snap := snapshot()

	var res Result
	for _, rc := range []float64{0.5, 0.6, 0.7} {
		res = c.Advance(Signals{H: 0.5, DD: 5, RC: rc}, snap)
	}
	if !res.Fuse {
		t.Error("expected fuse after three non-decreasing RC values")
	}
	if res = c.Advance(Signals{H: 0.5, DD: 5, RC: 0.95}, snap); !res.Fuse {
		t.Error("expected fuse above rc_high")
	}
	if res = c.Advance(Signals{H: 0.5, DD: 5, RC: 0.5}, snap); res.Fuse {
		t.Error("expected no fuse after a coherence drop")
	}
}

// -----------------------------------------------------------------------------
// Disabled / Reset Tests
// -----------------------------------------------------------------------------

func TestDisabled_DialsUntouched(t *testing.T) {
	cfg := config.Default()
	c, err := New(cfg, vocab, false)
	if err != nil {
		t.Fatal(err)
	}
	initial := c.Dials()
	for i := 0; i < 100; i++ {
		res := c.Advance(Signals{H: 0.5, DD: 0, RC: 0.1, E: 3}, snapshot())
		if res.Fired || res.Cut || res.Fuse {
			t.Fatalf("disabled controller acted at step %d", i)
		}
	}
	after := c.Dials()
	if after.Temperature != initial.Temperature || after.Phase != initial.Phase {
		t.Error("disabled controller moved the dials")
	}
	for i := range after.Mask {
		if after.Mask[i] != 0 || after.Bias[i] != 0 {
			t.Fatal("disabled controller changed mask or bias")
		}
	}
}

func TestReset_ClearsHistories(t *testing.T) {
	c := newTestController(t, nil)
	warmDrift(c)
	c.Advance(Signals{H: 0.5, DD: 0, RC: 0.6}, snapshot())
	c.Reset()

	s := c.State()
	if len(s.DriftDeltas) != 0 || len(s.HolonomyHistory) != 0 || len(s.Coherence) != 0 {
		t.Error("expected histories cleared")
	}
	if s.Step != 0 || c.Primed() || !c.DriftBand().Degenerate {
		t.Error("expected step, priming and band cleared")
	}
}

func TestHolonomyHistory_AppendOnly(t *testing.T) {
	c := newTestController(t, nil)
	snap := snapshot()
	for i := 0; i < 5; i++ {
		c.Advance(Signals{HolonomyDelta: 0.5}, snap)
	}
	h := c.State().HolonomyHistory
	if len(h) != 5 || h[4] != 2.5 {
		t.Errorf("expected running sum ending at 2.5, got %v", h)
	}
}

// -----------------------------------------------------------------------------
// Scenario Tests
// -----------------------------------------------------------------------------

// TestScenario_StallWindow drives 200 steps where dD sits inside the band
// and holonomy stalls only during steps 50..80.
func TestScenario_StallWindow(t *testing.T) {
	c := newTestController(t, nil)
	patience := c.cfg.Gate.StallPatience
	lo, hi := math.Log(c.cfg.Dial.TMin), math.Log(c.cfg.Dial.TMax)
	snap := snapshot()

	var flips []int
	results := make([]Result, 200)
	for i := 0; i < 200; i++ {
		sig := Signals{H: 0.5, RC: 0.6, E: 2, DD: 0.5, HolonomyDelta: 0.2}
		switch {
		case i < c.cfg.Band.WarmupSteps:
			sig.DD = 0.01
			if i%2 == 0 {
				sig.DD = -0.01
			}
		case i >= 50 && i <= 80:
			sig.DD = 0
			sig.HolonomyDelta = 0
		}

		res := c.Advance(sig, snap)
		results[i] = res
		if res.Flipped {
			flips = append(flips, i)
		}

		st := c.State()
		if st.LogTemperature < lo-1e-12 || st.LogTemperature > hi+1e-12 {
			t.Fatalf("step %d: temperature out of bounds", i)
		}
		for _, m := range st.Mask {
			if m < 0 || m > c.cfg.Gate.MaskMax {
				t.Fatalf("step %d: mask out of bounds", i)
			}
		}
		if (i < 50 || i > 80) && res.Fired {
			t.Fatalf("step %d: fired outside the stall window", i)
		}
	}

	// Fires start at 50; every run of `patience` stalled fires flips once,
	// then the cooldown absorbs the next `patience` steps.
	want := []int{50 + patience - 1, 50 + 3*patience - 1}
	if !reflect.DeepEqual(flips, want) {
		t.Fatalf("expected flips at %v, got %v", want, flips)
	}
	if results[57].Phase != -1 {
		t.Errorf("expected phase -1 after first flip, got %d", results[57].Phase)
	}
	for i := 58; i < 58+patience; i++ {
		if results[i].Gate != GateCooldown || results[i].Fired {
			t.Errorf("step %d: expected COOLDOWN, got %s", i, results[i].Gate)
		}
	}
	for i := 1; i < len(flips); i++ {
		if flips[i]-flips[i-1] <= patience {
			t.Errorf("flips at %d and %d violate cooldown", flips[i-1], flips[i])
		}
	}
	if results[58+patience].Gate != GateFiring {
		t.Errorf("expected gate to fire again after cooldown, got %s", results[58+patience].Gate)
	}
}
