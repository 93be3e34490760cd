// Package band derives adaptive trigger bands from a rolling sample of a
// scalar signal (usually the drift delta dD).
//
// The default method is median ± k·MAD computed once when the warm-up step
// count is reached. A refresh cadence may be configured; with RefreshEvery
// = 0 the band never changes after warm-up.
package band

import (
	"math"
	"sort"
)

// Method selects how the band is derived from the sample.
type Method string

const (
	MethodMAD        Method = "mad"
	MethodPercentile Method = "percentile"
)

// NormalMAD makes the MAD a consistent estimator of σ for normal data.
const NormalMAD = 1.4826

// Band is a closed interval [Low, High]. A degenerate band never contains
// any value.
type Band struct {
	Low        float64 `json:"low"`
	High       float64 `json:"high"`
	Degenerate bool    `json:"degenerate"`
}

// Contains reports whether x lies in the band. NaN and degenerate bands
// never match.
func (b Band) Contains(x float64) bool {
	if b.Degenerate || math.IsNaN(x) {
		return false
	}
	return x >= b.Low && x <= b.High
}

// Fixed returns a non-degenerate band [low, high].
func Fixed(low, high float64) Band {
	return Band{Low: low, High: high}
}

// Options configure a Calibrator.
type Options struct {
	Method         Method
	K              float64
	WarmupSteps    int
	RefreshEvery   int
	LowPercentile  float64
	HighPercentile float64
}

// Calibrator accumulates samples and produces a band once warm.
type Calibrator struct {
	opts    Options
	samples []float64
	seen    int
	band    Band
	ready   bool
}

// NewCalibrator creates a calibrator. A zero K defaults to NormalMAD.
func NewCalibrator(opts Options) *Calibrator {
	if opts.K == 0 {
		opts.K = NormalMAD
	}
	if opts.Method == "" {
		opts.Method = MethodMAD
	}
	return &Calibrator{opts: opts, band: Band{Degenerate: true}}
}

// Observe adds a sample. NaN and Inf samples are dropped. The band is
// computed when the warm-up count is reached and then every RefreshEvery
// observations if a refresh cadence is set.
func (c *Calibrator) Observe(x float64) {
	c.seen++
	if !math.IsNaN(x) && !math.IsInf(x, 0) {
		c.samples = append(c.samples, x)
	}
	switch {
	case !c.ready && c.seen >= c.opts.WarmupSteps:
		c.Calibrate()
	case c.ready && c.opts.RefreshEvery > 0 && (c.seen-c.opts.WarmupSteps)%c.opts.RefreshEvery == 0:
		c.Calibrate()
	}
}

// Calibrate recomputes the band from the current sample and marks the
// calibrator ready.
func (c *Calibrator) Calibrate() Band {
	switch c.opts.Method {
	case MethodPercentile:
		c.band = FromPercentiles(c.samples, c.opts.LowPercentile, c.opts.HighPercentile)
	default:
		c.band = FromMAD(c.samples, c.opts.K)
	}
	c.ready = true
	return c.band
}

// Ready reports whether a band has been computed.
func (c *Calibrator) Ready() bool {
	return c.ready
}

// Band returns the current band; degenerate until Ready.
func (c *Calibrator) Band() Band {
	return c.band
}

// Samples returns a copy of the accumulated sample.
func (c *Calibrator) Samples() []float64 {
	return append([]float64(nil), c.samples...)
}

// Reset clears the sample and the band.
func (c *Calibrator) Reset() {
	c.samples = c.samples[:0]
	c.seen = 0
	c.ready = false
	c.band = Band{Degenerate: true}
}

// FromMAD returns median ± k·MAD. An empty sample or a zero MAD collapses
// the band to (median, median) and marks it degenerate.
func FromMAD(sample []float64, k float64) Band {
	if len(sample) == 0 {
		return Band{Degenerate: true}
	}
	med := Median(sample)
	dev := make([]float64, len(sample))
	for i, x := range sample {
		dev[i] = math.Abs(x - med)
	}
	mad := Median(dev)
	if mad == 0 {
		return Band{Low: med, High: med, Degenerate: true}
	}
	return Band{Low: med - k*mad, High: med + k*mad}
}

// FromPercentiles returns [P_low, P_high] using linear interpolation.
// Equal endpoints mark the band degenerate.
func FromPercentiles(sample []float64, low, high float64) Band {
	if len(sample) == 0 {
		return Band{Degenerate: true}
	}
	s := sorted(sample)
	lo, hi := percentile(s, low), percentile(s, high)
	if lo == hi {
		return Band{Low: lo, High: hi, Degenerate: true}
	}
	return Band{Low: lo, High: hi}
}

// Median of the sample; 0 when empty.
func Median(sample []float64) float64 {
	if len(sample) == 0 {
		return 0
	}
	return percentile(sorted(sample), 50)
}

func sorted(sample []float64) []float64 {
	s := append([]float64(nil), sample...)
	sort.Float64s(s)
	return s
}

func percentile(s []float64, p float64) float64 {
	if len(s) == 1 {
		return s[0]
	}
	pos := p / 100 * float64(len(s)-1)
	i := int(math.Floor(pos))
	if i >= len(s)-1 {
		return s[len(s)-1]
	}
	frac := pos - float64(i)
	return s[i] + frac*(s[i+1]-s[i])
}
