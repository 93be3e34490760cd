// Package abtest runs paired controller-off / controller-on trials across
// a fixed seed list and summarizes the per-seed slopes with bootstrap
// confidence intervals and Cohen's d.
package abtest

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/r3d91ll/reflex/pkg/config"
	rerrors "github.com/r3d91ll/reflex/pkg/errors"
	"github.com/r3d91ll/reflex/pkg/runstats"
)

// Trial runs one seed with the controller enabled or disabled and returns
// the completed history. Each call must own its controller state and RNG.
type Trial func(ctx context.Context, seed int64, enabled bool) (*runstats.RunStats, error)

// SeedResult holds the per-seed slopes of one off/on pair.
type SeedResult struct {
	Seed     int64  `json:"seed"`
	OffRunID string `json:"off_run_id"`
	OnRunID  string `json:"on_run_id"`

	OffRCSlope     float64 `json:"off_rc_slope"`
	OnRCSlope      float64 `json:"on_rc_slope"`
	OffEnergySlope float64 `json:"off_energy_slope"`
	OnEnergySlope  float64 `json:"on_energy_slope"`
	FireRate       float64 `json:"fire_rate"`
}

// Summary is the immutable cross-seed comparison.
type Summary struct {
	ID        string       `json:"id"`
	CreatedAt time.Time    `json:"created_at"`
	Seeds     []SeedResult `json:"seeds"`

	RCSlopeOff     Interval `json:"rc_slope_off"`
	RCSlopeOn      Interval `json:"rc_slope_on"`
	EnergySlopeOff Interval `json:"energy_slope_off"`
	EnergySlopeOn  Interval `json:"energy_slope_on"`
	FireRate       Interval `json:"fire_rate"`
	RCDelta        Interval `json:"rc_delta"`
	EnergyDelta    Interval `json:"energy_delta"`

	CohenDRC     float64 `json:"cohen_d_rc"`
	CohenDEnergy float64 `json:"cohen_d_energy"`

	Resamples      int     `json:"resamples"`
	BootstrapSeed  int64   `json:"bootstrap_seed"`
	Confidence     float64 `json:"confidence"`
	ExperimentHash string  `json:"experiment_hash,omitempty"`
}

// Harness runs the paired trials.
type Harness struct {
	cfg     config.ABConfig
	eps     float64
	trial   Trial
	logger  zerolog.Logger
	onTrial func(done, total int)
	hash    string
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the harness logger.
func WithLogger(l zerolog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// WithProgress registers a callback invoked after every finished trial.
func WithProgress(fn func(done, total int)) Option {
	return func(h *Harness) { h.onTrial = fn }
}

// WithExperimentHash stamps summaries with a configuration hash.
func WithExperimentHash(hash string) Option {
	return func(h *Harness) { h.hash = hash }
}

// New creates a harness over trial. eps guards the effect-size
// denominator.
func New(cfg config.ABConfig, eps float64, trial Trial, opts ...Option) *Harness {
	h := &Harness{
		cfg:    cfg,
		eps:    eps,
		trial:  trial,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type pair struct {
	off, on *runstats.RunStats
}

// Run executes an off and an on trial for every configured seed and
// summarizes them. With Parallel > 1 trials run concurrently; results are
// assembled in seed order so the summary matches the sequential path.
func (h *Harness) Run(ctx context.Context) (*Summary, error) {
	seeds := h.cfg.Seeds
	if len(seeds) < 2 {
		return nil, rerrors.Statsf(rerrors.ErrStatsTooFewSeeds, "need at least 2 seeds, got %d", len(seeds)).
			WithContext("seeds", fmt.Sprint(seeds))
	}

	pairs := make([]pair, len(seeds))
	total := 2 * len(seeds)
	var (
		mu   sync.Mutex
		done int
	)
	tick := func() {
		if h.onTrial == nil {
			return
		}
		mu.Lock()
		done++
		n := done
		mu.Unlock()
		h.onTrial(n, total)
	}

	runOne := func(ctx context.Context, i int, enabled bool) error {
		seed := seeds[i]
		stats, err := h.trial(ctx, seed, enabled)
		if err != nil {
			return fmt.Errorf("seed %d (%s): %w", seed, branch(enabled), err)
		}
		h.logger.Debug().
			Int64("seed", seed).
			Str("branch", branch(enabled)).
			Int("steps", stats.Len()).
			Int("fires", stats.UpsilonCount).
			Msg("trial complete")
		if enabled {
			pairs[i].on = stats
		} else {
			pairs[i].off = stats
		}
		tick()
		return nil
	}

	if h.cfg.Parallel <= 1 {
		for i := range seeds {
			for _, enabled := range []bool{false, true} {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				if err := runOne(ctx, i, enabled); err != nil {
					return nil, err
				}
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(h.cfg.Parallel)
		for i := range seeds {
			for _, enabled := range []bool{false, true} {
				i, enabled := i, enabled
				g.Go(func() error { return runOne(gctx, i, enabled) })
			}
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	results := make([]SeedResult, len(seeds))
	for i, p := range pairs {
		results[i] = seedResult(seeds[i], p.off, p.on)
	}

	sum, err := Summarize(results, h.cfg, h.eps)
	if err != nil {
		return nil, err
	}
	sum.ExperimentHash = h.hash
	h.logger.Info().
		Int("seeds", len(seeds)).
		Float64("cohen_d_rc", sum.CohenDRC).
		Float64("cohen_d_energy", sum.CohenDEnergy).
		Msg("A/B summary ready")
	return sum, nil
}

func branch(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}

func seedResult(seed int64, off, on *runstats.RunStats) SeedResult {
	rc := func(s runstats.StepRecord) float64 { return s.RC }
	negE := func(s runstats.StepRecord) float64 { return -s.E }
	return SeedResult{
		Seed:           seed,
		OffRunID:       off.ID,
		OnRunID:        on.ID,
		OffRCSlope:     Slope(off.Series(rc)),
		OnRCSlope:      Slope(on.Series(rc)),
		OffEnergySlope: Slope(off.Series(negE)),
		OnEnergySlope:  Slope(on.Series(negE)),
		FireRate:       on.FireRate(),
	}
}

// Summarize builds the cross-seed summary from per-seed results. Fewer
// than two seeds, or slopes with zero variance in every set, are fatal.
func Summarize(results []SeedResult, cfg config.ABConfig, eps float64) (*Summary, error) {
	if len(results) < 2 {
		return nil, rerrors.Statsf(rerrors.ErrStatsTooFewSeeds, "need at least 2 seeds, got %d", len(results))
	}

	n := len(results)
	rcOff, rcOn := make([]float64, n), make([]float64, n)
	eOff, eOn := make([]float64, n), make([]float64, n)
	rate := make([]float64, n)
	rcDelta, eDelta := make([]float64, n), make([]float64, n)
	for i, r := range results {
		rcOff[i], rcOn[i] = r.OffRCSlope, r.OnRCSlope
		eOff[i], eOn[i] = r.OffEnergySlope, r.OnEnergySlope
		rate[i] = r.FireRate
		rcDelta[i] = r.OnRCSlope - r.OffRCSlope
		eDelta[i] = r.OnEnergySlope - r.OffEnergySlope
	}

	if variance(rcOff) == 0 && variance(rcOn) == 0 && variance(eOff) == 0 && variance(eOn) == 0 {
		return nil, rerrors.Stats(rerrors.ErrStatsDegenerate, "per-seed slopes have zero variance").
			WithContext("seeds", fmt.Sprint(n))
	}

	rng := rand.New(rand.NewSource(cfg.BootstrapSeed))
	boot := func(v []float64) Interval {
		return Bootstrap(v, cfg.Resamples, cfg.Confidence, rng)
	}

	return &Summary{
		ID:             uuid.New().String(),
		CreatedAt:      time.Now(),
		Seeds:          append([]SeedResult(nil), results...),
		RCSlopeOff:     boot(rcOff),
		RCSlopeOn:      boot(rcOn),
		EnergySlopeOff: boot(eOff),
		EnergySlopeOn:  boot(eOn),
		FireRate:       boot(rate),
		RCDelta:        boot(rcDelta),
		EnergyDelta:    boot(eDelta),
		CohenDRC:       CohenD(rcOn, rcOff, eps),
		CohenDEnergy:   CohenD(eOn, eOff, eps),
		Resamples:      cfg.Resamples,
		BootstrapSeed:  cfg.BootstrapSeed,
		Confidence:     cfg.Confidence,
	}, nil
}
