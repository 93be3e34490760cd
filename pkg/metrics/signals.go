package metrics

import "math"

// Entropy is the Shannon entropy of p divided by log(len(p)), in [0, 1].
// Distributions with fewer than two entries have entropy 0; any non-finite
// entry gives NaN.
func Entropy(p []float64, eps float64) float64 {
	if !Finite(p) {
		return math.NaN()
	}
	if len(p) < 2 {
		return 0
	}
	q := NormalizeL1(p, eps)
	var h float64
	for _, x := range q {
		h -= x * math.Log(x)
	}
	return h / math.Log(float64(len(q)))
}

// Drift is KL(cur‖prev) with both operands clamped away from zero and
// renormalized. A missing or mismatched previous distribution gives 0 and
// a non-finite entry in either operand gives NaN.
func Drift(cur, prev []float64, eps float64) float64 {
	if !Finite(cur) || !Finite(prev) {
		return math.NaN()
	}
	if len(cur) == 0 || len(cur) != len(prev) {
		return 0
	}
	p := NormalizeL1(cur, eps)
	q := NormalizeL1(prev, eps)
	var kl float64
	for i := range p {
		kl += p[i] * math.Log(p[i]/q[i])
	}
	if kl < 0 {
		kl = 0
	}
	return kl
}

// JensenShannon is the base-e Jensen-Shannon divergence, bounded by ln 2.
func JensenShannon(p, q []float64, eps float64) float64 {
	if !Finite(p) || !Finite(q) {
		return math.NaN()
	}
	if len(p) == 0 || len(p) != len(q) {
		return 0
	}
	a := NormalizeL1(p, eps)
	b := NormalizeL1(q, eps)
	m := make([]float64, len(a))
	for i := range a {
		m[i] = (a[i] + b[i]) / 2
	}
	return (Drift(a, m, eps) + Drift(b, m, eps)) / 2
}

// CoherenceWeights blend the three coherence terms. They are non-negative
// and sum to 1; Dist defaults to 0.
type CoherenceWeights struct {
	Value     float64
	Attention float64
	Dist      float64
}

// Coherence blends the cross-step cosine of the value readout and of the
// attention vector, plus an optional distributional similarity
// 1 - JS(cur, prev)/ln 2 over the output distributions.
func Coherence(cur, prev Snapshot, w CoherenceWeights, eps float64) float64 {
	rc := w.Value*Cosine(cur.Values, prev.Values, eps) +
		w.Attention*Cosine(cur.Attention, prev.Attention, eps)
	if w.Dist > 0 {
		rc += w.Dist * (1 - JensenShannon(cur.Output, prev.Output, eps)/math.Ln2)
	}
	return rc
}

// Outer returns the outer product u vᵀ.
func Outer(u, v []float64) [][]float64 {
	m := make([][]float64, len(u))
	for i := range u {
		row := make([]float64, len(v))
		for j := range v {
			row[j] = u[i] * v[j]
		}
		m[i] = row
	}
	return m
}

// Frobenius is the Frobenius norm of m.
func Frobenius(m [][]float64) float64 {
	var s float64
	for _, row := range m {
		for _, x := range row {
			s += x * x
		}
	}
	return math.Sqrt(s)
}

// Torsion is ‖½(C − Cᵀ)‖_F / (‖A‖_F‖B‖_F + eps) with C = AB − BA.
// Non-square or mismatched matrices give 0.
func Torsion(a, b [][]float64, eps float64) float64 {
	n := len(a)
	if n == 0 || len(b) != n {
		return 0
	}
	for i := 0; i < n; i++ {
		if len(a[i]) != n || len(b[i]) != n {
			return 0
		}
	}
	ab := matmul(a, b)
	ba := matmul(b, a)
	c := make([][]float64, n)
	for i := range c {
		c[i] = make([]float64, n)
		for j := range c[i] {
			c[i][j] = ab[i][j] - ba[i][j]
		}
	}
	anti := make([][]float64, n)
	for i := range anti {
		anti[i] = make([]float64, n)
		for j := range anti[i] {
			anti[i][j] = (c[i][j] - c[j][i]) / 2
		}
	}
	return Frobenius(anti) / (Frobenius(a)*Frobenius(b) + eps)
}

func matmul(a, b [][]float64) [][]float64 {
	n := len(a)
	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		out[i] = make([]float64, n)
		for k := 0; k < n; k++ {
			if a[i][k] == 0 {
				continue
			}
			for j := 0; j < n; j++ {
				out[i][j] += a[i][k] * b[k][j]
			}
		}
	}
	return out
}

// ReferencePattern is the unit-L2 vector r_i = cos(p_i), p_i the i-th prime.
// It is deterministic and safe to share across runs.
func ReferencePattern(n int) []float64 {
	ref := make([]float64, n)
	for i, p := range primes(n) {
		ref[i] = math.Cos(float64(p))
	}
	return NormalizeL2(ref, DefaultEpsilon)
}

func primes(n int) []int {
	out := make([]int, 0, n)
	for c := 2; len(out) < n; c++ {
		prime := true
		for _, p := range out {
			if p*p > c {
				break
			}
			if c%p == 0 {
				prime = false
				break
			}
		}
		if prime {
			out = append(out, c)
		}
	}
	return out
}

// Interference is the dot product of the L1-normalized attention
// distribution with a unit reference vector.
func Interference(attn, ref []float64, eps float64) float64 {
	if len(attn) == 0 || len(attn) != len(ref) {
		return 0
	}
	return Dot(NormalizeL1(attn, eps), NormalizeL2(ref, eps))
}

// Energy is the training loss; smoothing is left to the controller's EMA.
func Energy(loss float64) float64 {
	return loss
}

// Holonomy keeps the last 2W torsion values and reports the windowed
// difference sum(last W) - sum(first W).
type Holonomy struct {
	window int
	buf    []float64
}

// NewHolonomy creates a holonomy window of half-length w (w >= 1).
func NewHolonomy(w int) *Holonomy {
	if w < 1 {
		w = 1
	}
	return &Holonomy{window: w, buf: make([]float64, 0, 2*w)}
}

// Push appends k, dropping the oldest value once 2W are held, and returns
// the holonomy delta. It returns 0 until the deque is full.
func (h *Holonomy) Push(k float64) float64 {
	if len(h.buf) == 2*h.window {
		copy(h.buf, h.buf[1:])
		h.buf = h.buf[:len(h.buf)-1]
	}
	h.buf = append(h.buf, k)
	if len(h.buf) < 2*h.window {
		return 0
	}
	var first, last float64
	for i, x := range h.buf {
		if i < h.window {
			first += x
		} else {
			last += x
		}
	}
	return last - first
}

// Full reports whether the deque holds 2W values.
func (h *Holonomy) Full() bool {
	return len(h.buf) == 2*h.window
}

// Reset empties the deque.
func (h *Holonomy) Reset() {
	h.buf = h.buf[:0]
}

// SelfEmbeddingResidual is ‖ψ − Pψ‖ for ψ = [u_t; u_{t−1}], the unit-L2
// value readout stacked on the previous one as the state vector, and P the
// fixed half-swap permutation. It equals √2·‖u_t − u_{t−1}‖ and vanishes
// when the readout reproduces itself. A missing previous readout counts as
// the zero vector.
func SelfEmbeddingResidual(values, prev []float64, eps float64) float64 {
	n := len(values)
	if len(prev) > n {
		n = len(prev)
	}
	psi := make([]float64, 2*n)
	copy(psi, NormalizeL2(values, eps))
	copy(psi[n:], NormalizeL2(prev, eps))
	var ss float64
	for i := range psi {
		j := (i + n) % (2 * n)
		d := psi[i] - psi[j]
		ss += d * d
	}
	return math.Sqrt(ss)
}
