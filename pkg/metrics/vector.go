package metrics

import "math"

// DefaultEpsilon guards divisions and logarithms.
const DefaultEpsilon = 1e-10

// Snapshot is the per-step observation the Metric Engine consumes.
type Snapshot struct {
	// Output is the model's next-token probability distribution over V.
	Output []float64
	// Attention is the key distribution averaged over heads and queries.
	Attention []float64
	// Values is a value/logit readout vector compared across steps.
	Values []float64
	// Loss is the scalar training loss for this step.
	Loss float64
}

// Finite reports whether every element of v is neither NaN nor Inf.
func Finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// NormalizeL1 returns a copy of p clamped to >= eps and rescaled to sum 1.
func NormalizeL1(p []float64, eps float64) []float64 {
	out := make([]float64, len(p))
	var sum float64
	for i, x := range p {
		if math.IsNaN(x) || x < eps {
			x = eps
		}
		out[i] = x
		sum += x
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// NormalizeL2 returns a copy of v scaled to unit Euclidean norm.
// A zero vector stays zero.
func NormalizeL2(v []float64, eps float64) []float64 {
	n := Norm(v)
	out := make([]float64, len(v))
	if n < eps {
		return out
	}
	for i, x := range v {
		out[i] = x / n
	}
	return out
}

// Norm is the Euclidean norm.
func Norm(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}

// Dot is the inner product over the shorter of the two vectors.
func Dot(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var s float64
	for i := 0; i < n; i++ {
		s += a[i] * b[i]
	}
	return s
}

// Cosine is the cosine similarity of a and b. Mismatched or empty vectors
// and zero vectors give 0; non-finite entries give NaN.
func Cosine(a, b []float64, eps float64) float64 {
	if !Finite(a) || !Finite(b) {
		return math.NaN()
	}
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	return Dot(NormalizeL2(a, eps), NormalizeL2(b, eps))
}

// Mean returns the arithmetic mean, 0 for an empty slice.
func Mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var s float64
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}

// Standardize returns (v - mean) / std. A constant vector maps to zeros.
func Standardize(v []float64, eps float64) []float64 {
	out := make([]float64, len(v))
	if len(v) == 0 {
		return out
	}
	m := Mean(v)
	var ss float64
	for _, x := range v {
		ss += (x - m) * (x - m)
	}
	sd := math.Sqrt(ss / float64(len(v)))
	if sd < eps {
		return out
	}
	for i, x := range v {
		out[i] = (x - m) / sd
	}
	return out
}

// Surprisal returns -log p_i for each key of the L1-normalized distribution.
func Surprisal(p []float64, eps float64) []float64 {
	q := NormalizeL1(p, eps)
	out := make([]float64, len(q))
	for i, x := range q {
		out[i] = -math.Log(x)
	}
	return out
}

// TopK returns the indices of the k largest values, largest first.
// Ties resolve to the lower index.
func TopK(v []float64, k int) []int {
	if k > len(v) {
		k = len(v)
	}
	if k <= 0 {
		return nil
	}
	idx := make([]int, 0, k)
	used := make([]bool, len(v))
	for n := 0; n < k; n++ {
		best := -1
		for i, x := range v {
			if used[i] || math.IsNaN(x) {
				continue
			}
			if best < 0 || x > v[best] {
				best = i
			}
		}
		if best < 0 {
			break
		}
		used[best] = true
		idx = append(idx, best)
	}
	return idx
}
