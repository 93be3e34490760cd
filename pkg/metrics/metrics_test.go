package metrics

import (
	"math"
	"testing"
)

const tol = 1e-9

func approx(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

// -----------------------------------------------------------------------------
// Entropy / Drift Tests
// -----------------------------------------------------------------------------

func TestEntropy(t *testing.T) {
	tests := []struct {
		name string
		p    []float64
		want float64
	}{
		{"uniform", []float64{1, 1, 1, 1}, 1},
		{"unnormalized uniform", []float64{3, 3}, 1},
		{"one-hot", []float64{0, 1, 0, 0}, 0},
		{"single", []float64{1}, 0},
		{"empty", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Entropy(tt.p, DefaultEpsilon)
			if !approx(got, tt.want, 1e-6) {
				t.Errorf("Entropy(%v) = %v, want %v", tt.p, got, tt.want)
			}
		})
	}
}

func TestEntropy_Bounded(t *testing.T) {
	p := []float64{0.7, 0.2, 0.05, 0.05}
	h := Entropy(p, DefaultEpsilon)
	if h <= 0 || h >= 1 {
		t.Errorf("expected entropy in (0,1), got %v", h)
	}
}

func TestDrift(t *testing.T) {
	p := []float64{0.5, 0.5}
	if d := Drift(p, p, DefaultEpsilon); !approx(d, 0, tol) {
		t.Errorf("expected zero drift for identical distributions, got %v", d)
	}

	q := []float64{0.9, 0.1}
	want := 0.5*math.Log(0.5/0.9) + 0.5*math.Log(0.5/0.1)
	if d := Drift(p, q, DefaultEpsilon); !approx(d, want, 1e-6) {
		t.Errorf("Drift = %v, want %v", d, want)
	}

	if d := Drift([]float64{1, 0}, []float64{0, 1}, DefaultEpsilon); math.IsInf(d, 0) || math.IsNaN(d) {
		t.Errorf("expected finite drift with zero entries, got %v", d)
	}

	if d := Drift(p, nil, DefaultEpsilon); d != 0 {
		t.Errorf("expected 0 with no previous distribution, got %v", d)
	}
}

func TestSignals_NonFiniteInputIsNaN(t *testing.T) {
	nan := math.NaN()
	uniform := []float64{0.25, 0.25, 0.25, 0.25}
	tests := []struct {
		name string
		got  float64
	}{
		{"entropy all NaN", Entropy([]float64{nan, nan, nan, nan}, DefaultEpsilon)},
		{"entropy Inf", Entropy([]float64{math.Inf(1), 0.5}, DefaultEpsilon)},
		{"drift NaN current", Drift([]float64{nan, 0.5, 0.25, 0.25}, uniform, DefaultEpsilon)},
		{"drift NaN previous", Drift(uniform, []float64{0.5, nan, 0.25, 0.25}, DefaultEpsilon)},
		{"jensen-shannon NaN", JensenShannon([]float64{nan, 1}, []float64{0.5, 0.5}, DefaultEpsilon)},
		{"cosine NaN", Cosine([]float64{1, nan}, []float64{1, 0}, DefaultEpsilon)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !math.IsNaN(tt.got) {
				t.Errorf("expected NaN, got %v", tt.got)
			}
		})
	}
}

func TestJensenShannon_Bounded(t *testing.T) {
	js := JensenShannon([]float64{1, 0}, []float64{0, 1}, DefaultEpsilon)
	if js > math.Ln2+1e-9 || js < 0 {
		t.Errorf("expected JS in [0, ln2], got %v", js)
	}
}

// -----------------------------------------------------------------------------
// Coherence Tests
// -----------------------------------------------------------------------------

func TestCoherence_Identical(t *testing.T) {
	s := Snapshot{Values: []float64{1, 2, 3}, Attention: []float64{0.2, 0.3, 0.5}, Output: []float64{0.1, 0.1, 0.8}}
	w := CoherenceWeights{Value: 0.4, Attention: 0.4, Dist: 0.2}

	if rc := Coherence(s, s, w, DefaultEpsilon); !approx(rc, 1, 1e-6) {
		t.Errorf("expected coherence 1 for identical snapshots, got %v", rc)
	}
}

func TestCoherence_DistTermOffByDefault(t *testing.T) {
	a := Snapshot{Values: []float64{1, 0}, Attention: []float64{1, 0}, Output: []float64{1, 0}}
	b := Snapshot{Values: []float64{1, 0}, Attention: []float64{1, 0}, Output: []float64{0, 1}}
	w := CoherenceWeights{Value: 0.5, Attention: 0.5}

	if rc := Coherence(a, b, w, DefaultEpsilon); !approx(rc, 1, 1e-9) {
		t.Errorf("expected output distribution to be ignored with zero weight, got %v", rc)
	}
}

func TestCoherence_Orthogonal(t *testing.T) {
	a := Snapshot{Values: []float64{1, 0}, Attention: []float64{1, 0}}
	b := Snapshot{Values: []float64{0, 1}, Attention: []float64{0, 1}}
	if rc := Coherence(a, b, CoherenceWeights{Value: 0.5, Attention: 0.5}, DefaultEpsilon); !approx(rc, 0, tol) {
		t.Errorf("expected 0 coherence for orthogonal snapshots, got %v", rc)
	}
}

// -----------------------------------------------------------------------------
// Torsion Tests
// -----------------------------------------------------------------------------

func TestTorsion_CommutingIsZero(t *testing.T) {
	a := Outer([]float64{1, 2}, []float64{1, 2})
	if k := Torsion(a, a, DefaultEpsilon); !approx(k, 0, tol) {
		t.Errorf("expected zero torsion for identical matrices, got %v", k)
	}
}

func TestTorsion_NonCommuting(t *testing.T) {
	a := Outer([]float64{1, 0}, []float64{1, 0})
	b := Outer([]float64{1, 1}, []float64{1, 1})
	k := Torsion(a, b, DefaultEpsilon)
	if k <= 0 {
		t.Errorf("expected positive torsion, got %v", k)
	}
	if k > 1 {
		t.Errorf("expected normalized torsion <= 1, got %v", k)
	}
}

func TestTorsion_ZeroAndMismatched(t *testing.T) {
	z := Outer([]float64{0, 0}, []float64{0, 0})
	if k := Torsion(z, z, DefaultEpsilon); k != 0 {
		t.Errorf("expected 0 for zero matrices, got %v", k)
	}
	if k := Torsion(Outer([]float64{1}, []float64{1}), z, DefaultEpsilon); k != 0 {
		t.Errorf("expected 0 for mismatched shapes, got %v", k)
	}
}

// -----------------------------------------------------------------------------
// Interference Tests
// -----------------------------------------------------------------------------

func TestReferencePattern(t *testing.T) {
	ref := ReferencePattern(8)
	if !approx(Norm(ref), 1, 1e-9) {
		t.Errorf("expected unit reference, got norm %v", Norm(ref))
	}
	again := ReferencePattern(8)
	for i := range ref {
		if ref[i] != again[i] {
			t.Fatalf("reference pattern not deterministic at %d", i)
		}
	}
}

func TestInterference(t *testing.T) {
	ref := []float64{1, 0, 0}
	if zi := Interference([]float64{2, 1, 1}, ref, DefaultEpsilon); !approx(zi, 0.5, 1e-9) {
		t.Errorf("expected 0.5, got %v", zi)
	}
	if zi := Interference([]float64{1, 1}, ref, DefaultEpsilon); zi != 0 {
		t.Errorf("expected 0 for mismatched lengths, got %v", zi)
	}
}

// -----------------------------------------------------------------------------
// Holonomy Tests
// -----------------------------------------------------------------------------

func TestHolonomy_ZeroUntilFull(t *testing.T) {
	h := NewHolonomy(2)
	for i, k := range []float64{1, 2, 3} {
		if d := h.Push(k); d != 0 {
			t.Errorf("push %d: expected 0 before full, got %v", i, d)
		}
	}
	if d := h.Push(4); !approx(d, (3+4)-(1+2), tol) {
		t.Errorf("expected 4, got %v", d)
	}
	if d := h.Push(10); !approx(d, (4+10)-(2+3), tol) {
		t.Errorf("expected 9 after slide, got %v", d)
	}
	if !h.Full() {
		t.Error("expected full deque")
	}
}

func TestHolonomy_FlatIsZero(t *testing.T) {
	h := NewHolonomy(3)
	var d float64
	for i := 0; i < 20; i++ {
		d = h.Push(0.25)
	}
	if !approx(d, 0, tol) {
		t.Errorf("expected flat torsion to give zero holonomy, got %v", d)
	}
}

// -----------------------------------------------------------------------------
// Helper Tests
// -----------------------------------------------------------------------------

func TestTopK(t *testing.T) {
	got := TopK([]float64{0.1, 0.9, 0.5, 0.9}, 3)
	want := []int{1, 3, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("TopK = %v, want %v", got, want)
		}
	}
	if TopK([]float64{1}, 0) != nil {
		t.Error("expected nil for k=0")
	}
	if len(TopK([]float64{1, 2}, 5)) != 2 {
		t.Error("expected k clamped to length")
	}
}

func TestStandardize(t *testing.T) {
	z := Standardize([]float64{1, 2, 3}, DefaultEpsilon)
	if !approx(Mean(z), 0, 1e-12) {
		t.Errorf("expected zero mean, got %v", Mean(z))
	}
	for _, x := range Standardize([]float64{2, 2, 2}, DefaultEpsilon) {
		if x != 0 {
			t.Errorf("expected zeros for constant input, got %v", x)
		}
	}
}

func TestSurprisal(t *testing.T) {
	s := Surprisal([]float64{0.5, 0.25, 0.25}, DefaultEpsilon)
	if !approx(s[0], math.Log(2), 1e-9) || !approx(s[1], math.Log(4), 1e-9) {
		t.Errorf("unexpected surprisal %v", s)
	}
}

func TestFinite(t *testing.T) {
	if !Finite([]float64{1, 2}) {
		t.Error("expected finite")
	}
	if Finite([]float64{1, math.NaN()}) || Finite([]float64{math.Inf(1)}) {
		t.Error("expected non-finite detection")
	}
}

func TestSelfEmbeddingResidual(t *testing.T) {
	v := []float64{3, 4}
	if r := SelfEmbeddingResidual(v, []float64{6, 8}, DefaultEpsilon); !approx(r, 0, 1e-12) {
		t.Errorf("expected 0 residual for a fixed point, got %v", r)
	}
	want := math.Sqrt2 * math.Sqrt2 // √2·‖(1,0)−(0,1)‖
	if r := SelfEmbeddingResidual([]float64{1, 0}, []float64{0, 1}, DefaultEpsilon); !approx(r, want, 1e-12) {
		t.Errorf("expected %v, got %v", want, r)
	}
	if r := SelfEmbeddingResidual([]float64{1, 0}, nil, DefaultEpsilon); !approx(r, math.Sqrt2, 1e-12) {
		t.Errorf("expected √2 against a missing readout, got %v", r)
	}
	if r := SelfEmbeddingResidual(nil, nil, DefaultEpsilon); r != 0 {
		t.Errorf("expected 0 for empty readouts, got %v", r)
	}
}
