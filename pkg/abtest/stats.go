package abtest

import (
	"math"
	"math/rand"
	"sort"
)

// Interval is a bootstrap estimate of a mean with its confidence bounds.
type Interval struct {
	Mean float64 `json:"mean"`
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Contains reports whether x lies in [Low, High].
func (iv Interval) Contains(x float64) bool {
	return x >= iv.Low && x <= iv.High
}

// Slope is the ordinary least-squares slope of y over its index,
// cov(t, y) / var(t). Non-finite points are skipped and keep the indices
// of the others; fewer than two usable points give 0.
func Slope(y []float64) float64 {
	var n, tSum, ySum float64
	for i, yi := range y {
		if isFinite(yi) {
			n++
			tSum += float64(i)
			ySum += yi
		}
	}
	if n < 2 {
		return 0
	}
	tMean, yMean := tSum/n, ySum/n
	var cov, v float64
	for i, yi := range y {
		if !isFinite(yi) {
			continue
		}
		dt := float64(i) - tMean
		cov += dt * (yi - yMean)
		v += dt * dt
	}
	return cov / v
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// Bootstrap resamples values with replacement and returns the sample mean
// with the percentile interval at the given confidence. rng is consumed
// in a fixed order so a seeded generator gives a reproducible interval.
func Bootstrap(values []float64, resamples int, confidence float64, rng *rand.Rand) Interval {
	iv := Interval{Mean: mean(values)}
	n := len(values)
	if n == 0 || resamples <= 0 {
		iv.Low, iv.High = iv.Mean, iv.Mean
		return iv
	}

	means := make([]float64, resamples)
	for r := range means {
		var s float64
		for i := 0; i < n; i++ {
			s += values[rng.Intn(n)]
		}
		means[r] = s / float64(n)
	}
	sort.Float64s(means)

	alpha := (1 - confidence) / 2
	iv.Low = percentile(means, alpha)
	iv.High = percentile(means, 1-alpha)
	return iv
}

// CohenD is the standardized mean difference (mean(a) − mean(b)) / s_p,
// with the pooled SD using the n1+n2−2 denominator. eps guards a zero
// pooled SD.
func CohenD(a, b []float64, eps float64) float64 {
	n1, n2 := len(a), len(b)
	if n1 == 0 || n2 == 0 {
		return 0
	}
	df := n1 + n2 - 2
	var pooled float64
	if df > 0 {
		pooled = math.Sqrt((float64(n1-1)*variance(a) + float64(n2-1)*variance(b)) / float64(df))
	}
	return (mean(a) - mean(b)) / (pooled + eps)
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var s float64
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}

// variance is the unbiased sample variance; 0 for fewer than two values.
func variance(v []float64) float64 {
	if len(v) < 2 {
		return 0
	}
	m := mean(v)
	var ss float64
	for _, x := range v {
		ss += (x - m) * (x - m)
	}
	return ss / float64(len(v)-1)
}

// percentile interpolates linearly over an ascending slice; q in [0, 1].
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
