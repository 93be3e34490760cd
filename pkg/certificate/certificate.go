// Package certificate evaluates the five-guard presence certificate over a
// completed run history.
package certificate

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/r3d91ll/reflex/pkg/config"
	"github.com/r3d91ll/reflex/pkg/runstats"
)

// Reasons recorded on certificates that did not pass.
const (
	ReasonPresence     = "presence"
	ReasonEmptyHistory = "empty_history"
	ReasonEthicsAbort  = "ethics_abort"
)

// Guard names, in evaluation order.
const (
	GuardXiLock      = "xi_lock"
	GuardEnergyDown  = "energy_down"
	GuardRCUp        = "rc_up"
	GuardUpsilonBand = "upsilon_band"
	GuardEthicsClean = "ethics_clean"
)

// Guards are the five run-level conditions.
type Guards struct {
	XiLock      bool `json:"xi_lock"`
	EnergyDown  bool `json:"energy_down"`
	RCUp        bool `json:"rc_up"`
	UpsilonBand bool `json:"upsilon_band"`
	EthicsClean bool `json:"ethics_clean"`
}

// All is the strict AND of every guard.
func (g Guards) All() bool {
	return g.XiLock && g.EnergyDown && g.RCUp && g.UpsilonBand && g.EthicsClean
}

// Failed lists the names of the guards that are false.
func (g Guards) Failed() []string {
	var out []string
	for _, c := range []struct {
		name string
		ok   bool
	}{
		{GuardXiLock, g.XiLock},
		{GuardEnergyDown, g.EnergyDown},
		{GuardRCUp, g.RCUp},
		{GuardUpsilonBand, g.UpsilonBand},
		{GuardEthicsClean, g.EthicsClean},
	} {
		if !c.ok {
			out = append(out, c.name)
		}
	}
	return out
}

// Diagnostics are the values each guard was decided on.
type Diagnostics struct {
	Steps      int     `json:"steps"`
	EnergyHead float64 `json:"energy_head"`
	EnergyTail float64 `json:"energy_tail"`
	RCGain     float64 `json:"rc_gain"`
	FireRate   float64 `json:"fire_rate"`
	XiMedian   float64 `json:"xi_median"`
}

// Certificate is the immutable evaluation result for one run.
type Certificate struct {
	RunID          string      `json:"run_id"`
	Guards         Guards      `json:"guards"`
	Presence       bool        `json:"presence"`
	Reason         string      `json:"reason"`
	Diagnostics    Diagnostics `json:"diagnostics"`
	ExperimentHash string      `json:"experiment_hash,omitempty"`
	IssuedAt       time.Time   `json:"issued_at"`
}

// FromGuards builds a certificate whose presence is the strict AND of g.
// The reason names the failed guards, comma separated.
func FromGuards(g Guards) Certificate {
	c := Certificate{Guards: g, Presence: g.All(), IssuedAt: time.Now()}
	if c.Presence {
		c.Reason = ReasonPresence
	} else {
		c.Reason = strings.Join(g.Failed(), ",")
	}
	return c
}

// WithHash returns a copy of c stamped with an experiment hash.
func (c Certificate) WithHash(hash string) Certificate {
	c.ExperimentHash = hash
	return c
}

// Evaluate decides the five guards over stats. ethicsClean is the ethics
// guard's verdict for the run; an aborted run is never clean. A nil or
// empty history yields presence=false with reason empty_history; an
// aborted run yields reason ethics_abort whatever its length.
func Evaluate(stats *runstats.RunStats, cfg config.CertificateConfig, ethicsClean bool) Certificate {
	if stats == nil || stats.Len() == 0 {
		c := FromGuards(Guards{EthicsClean: ethicsClean})
		c.Presence = false
		c.Reason = ReasonEmptyHistory
		if stats != nil {
			c.RunID = stats.ID
			if stats.Aborted() {
				c.Guards.EthicsClean = false
				c.Reason = ReasonEthicsAbort
			}
		}
		return c
	}

	recs := stats.Records()
	n := len(recs)
	tail := tailLen(n, cfg.TailFraction)

	var d Diagnostics
	d.Steps = n

	e := make([]float64, n)
	for i, r := range recs {
		e[i] = r.E
	}
	d.EnergyHead = mean(e[:tail])
	d.EnergyTail = mean(e[n-tail:])

	d.RCGain = recs[n-1].RC - recs[0].RC
	d.FireRate = float64(stats.UpsilonCount) / float64(n)

	xi := make([]float64, 0, tail)
	for _, r := range recs[n-tail:] {
		if !math.IsNaN(r.XiDelta) && !math.IsInf(r.XiDelta, 0) {
			xi = append(xi, r.XiDelta)
		}
	}
	d.XiMedian = median(xi)

	g := Guards{
		XiLock:      len(xi) > 0 && d.XiMedian < cfg.XiTolerance,
		EnergyDown:  finite(d.EnergyHead, d.EnergyTail) && d.EnergyTail <= cfg.EnergyRatio*d.EnergyHead,
		RCUp:        finite(d.RCGain) && d.RCGain >= cfg.RCMinGain,
		UpsilonBand: d.FireRate >= cfg.RateMin && d.FireRate <= cfg.RateMax,
		EthicsClean: ethicsClean && !stats.Aborted(),
	}

	c := FromGuards(g)
	c.RunID = stats.ID
	c.Diagnostics = d
	if stats.Aborted() {
		c.Presence = false
		c.Reason = ReasonEthicsAbort
	}
	return c
}

// tailLen is the number of steps in the head and tail windows: the given
// fraction of n, rounded up, at least one.
func tailLen(n int, frac float64) int {
	k := int(math.Ceil(frac * float64(n)))
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	return k
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	var s float64
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}

func median(v []float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	m := len(s) / 2
	if len(s)%2 == 1 {
		return s[m]
	}
	return (s[m-1] + s[m]) / 2
}

func finite(xs ...float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
