// Package runner drives a sequence model under the controller for a fixed
// number of steps, consults the ethics guard, records every step and
// issues the run's certificate.
package runner

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/r3d91ll/reflex/pkg/abtest"
	"github.com/r3d91ll/reflex/pkg/certificate"
	"github.com/r3d91ll/reflex/pkg/config"
	"github.com/r3d91ll/reflex/pkg/control"
	rerrors "github.com/r3d91ll/reflex/pkg/errors"
	"github.com/r3d91ll/reflex/pkg/ethics"
	"github.com/r3d91ll/reflex/pkg/runstats"
	"github.com/r3d91ll/reflex/pkg/toymodel"
)

// ModelFactory builds a fresh model for one run. sampleSeed is the
// branch-specific stream from BranchSeed.
type ModelFactory func(seed, sampleSeed int64) (control.Model, error)

// ToyModels returns a factory for the reference bigram model.
func ToyModels(cfg *config.Config) ModelFactory {
	return func(seed, sampleSeed int64) (control.Model, error) {
		return toymodel.New(cfg.Model, cfg.Run.Vocab, seed, sampleSeed)
	}
}

// BranchSeed derives the RNG seed of one branch of a paired trial.
func BranchSeed(seed int64, enabled bool) int64 {
	s := seed * 2
	if enabled {
		s++
	}
	return s
}

// Outcome is a finished run and its certificate.
type Outcome struct {
	Stats       *runstats.RunStats
	Certificate certificate.Certificate
	abortStep   int
}

// AbortError returns an ETHICS_ABORT error when the run was aborted.
func (o *Outcome) AbortError() error {
	if !o.Stats.Aborted() {
		return nil
	}
	return rerrors.EthicsAbort(o.abortStep, o.Stats.AbortReason)
}

// Runner executes runs. It holds no per-run state and may run several
// trials concurrently.
type Runner struct {
	cfg      *config.Config
	newModel ModelFactory
	guard    ethics.Guard
	policy   ethics.Policy
	sinks    []Sink
	logger   zerolog.Logger
	hash     string
}

// Option configures a Runner.
type Option func(*Runner)

// WithGuard adds a guard checked after the configured default guard.
func WithGuard(g ethics.Guard) Option {
	return func(r *Runner) { r.guard = ethics.Chain(r.guard, g) }
}

// WithSinks registers step and certificate sinks.
func WithSinks(s ...Sink) Option {
	return func(r *Runner) { r.sinks = append(r.sinks, s...) }
}

// WithLogger sets the runner logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithExperimentHash stamps certificates with a configuration hash.
func WithExperimentHash(hash string) Option {
	return func(r *Runner) { r.hash = hash }
}

// New validates cfg and creates a runner.
func New(cfg *config.Config, newModel ModelFactory, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, err := ethics.ParsePolicy(cfg.Run.EthicsPolicy)
	if err != nil {
		return nil, err
	}
	r := &Runner{
		cfg:      cfg,
		newModel: newModel,
		guard:    ethics.NewDefault(cfg.Run.BannedSequences),
		policy:   policy,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run performs cfg.Run.Steps recorded steps for seed, preceded by one
// priming forward pass. The context is checked between steps. An ethics
// abort is not an error: the outcome carries the aborted history and an
// invalid certificate.
func (r *Runner) Run(ctx context.Context, seed int64, enabled bool) (*Outcome, error) {
	ctrl, err := control.New(r.cfg, r.cfg.Run.Vocab, enabled)
	if err != nil {
		return nil, err
	}
	model, err := r.newModel(seed, BranchSeed(seed, enabled))
	if err != nil {
		return nil, err
	}

	stats := runstats.New(seed, enabled)
	stats.ID = runstats.RunID(r.hash, seed, enabled)
	log := r.logger.With().Str("run_id", stats.ID).Int64("seed", seed).Bool("controller", enabled).Logger()
	for _, s := range r.sinks {
		if err := s.RunStarted(stats); err != nil {
			return nil, err
		}
	}
	log.Debug().Int("steps", r.cfg.Run.Steps).Msg("run started")

	out := &Outcome{Stats: stats}
	for t := 0; t <= r.cfg.Run.Steps; t++ {
		if err := ctx.Err(); err != nil {
			return nil, canceled(err, t)
		}

		obs, err := model.Forward(ctx, ctrl.Dials())
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, canceled(err, t)
			}
			return nil, rerrors.ModelWrap(err, t)
		}
		if err := ctrl.CheckShape(obs); err != nil {
			return nil, err
		}

		verdict := r.guard.Check(obs.Text, obs.Loss)
		if res, ok := ctrl.Step(obs.Snapshot); ok {
			rec := Record(t-1, res, verdict.OK)
			stats.Append(rec)
			if res.Flipped {
				log.Info().Int("step", rec.T).Int("phase", res.Phase).Msg("phase flip")
			}
			for _, s := range r.sinks {
				if err := s.StepRecorded(stats.ID, rec); err != nil {
					return nil, err
				}
			}
		}

		if !verdict.OK {
			log.Warn().Int("step", t).Str("reason", verdict.Reason).Str("policy", string(r.policy)).Msg("ethics violation")
			if r.policy.Aborts() {
				stats.Abort(verdict.Reason)
				out.abortStep = t
				break
			}
		}
	}

	stats.Complete()
	out.Certificate = certificate.Evaluate(stats, r.cfg.Certificate, stats.EthicsClean()).WithHash(r.hash)
	for _, s := range r.sinks {
		if err := s.RunFinished(stats, out.Certificate); err != nil {
			return nil, err
		}
	}

	log.Info().
		Int("steps", stats.Len()).
		Int("fires", stats.UpsilonCount).
		Bool("presence", out.Certificate.Presence).
		Str("reason", out.Certificate.Reason).
		Msg("run finished")
	return out, nil
}

// Trial adapts the runner to the A/B harness.
func (r *Runner) Trial() abtest.Trial {
	return func(ctx context.Context, seed int64, enabled bool) (*runstats.RunStats, error) {
		out, err := r.Run(ctx, seed, enabled)
		if err != nil {
			return nil, err
		}
		return out.Stats, nil
	}
}

// Record flattens a controller result into a step record.
func Record(t int, res control.Result, ethicsOK bool) runstats.StepRecord {
	return runstats.StepRecord{
		T:           t,
		H:           res.H,
		D:           res.D,
		DD:          res.DD,
		RC:          res.RC,
		K:           res.K,
		ZI:          res.ZI,
		E:           res.E,
		Holonomy:    res.Holonomy,
		XiDelta:     res.XiDelta,
		Fired:       res.Fired,
		Phase:       res.Phase,
		EthicsOK:    ethicsOK,
		Gate:        res.Gate.String(),
		Temperature: res.Temperature,
		VStar:       res.VStar,
		Cut:         res.Cut,
		Fuse:        res.Fuse,
	}
}

func canceled(err error, step int) error {
	return rerrors.Wrap(err, rerrors.ErrRunCanceled, rerrors.CategoryModel, "run canceled").
		WithContext("step", itoa(step))
}
