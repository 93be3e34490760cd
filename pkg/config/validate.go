package config

import (
	"fmt"
	"math"

	rerrors "github.com/r3d91ll/reflex/pkg/errors"
)

// Validate checks every bound the controller relies on.
// The first violation is returned as a CONFIG_INVALID error naming the field.
func (c *Config) Validate() error {
	checks := []struct {
		field string
		ok    bool
		why   string
	}{
		{"metrics.epsilon", c.Metrics.Epsilon > 0 && c.Metrics.Epsilon < 1e-3, "must be in (0, 1e-3)"},
		{"metrics.holonomy_window", c.Metrics.HolonomyWindow >= 1, "must be >= 1"},
		{"metrics.coherence_*_weight", nonNegative(c.Metrics.CoherenceValueWeight, c.Metrics.CoherenceAttentionWeight, c.Metrics.CoherenceDistWeight), "must be non-negative"},
		{"metrics.coherence_*_weight", math.Abs(c.Metrics.CoherenceValueWeight+c.Metrics.CoherenceAttentionWeight+c.Metrics.CoherenceDistWeight-1) < 1e-9, "must sum to 1"},

		{"band.method", c.Band.Method == BandMethodMAD || c.Band.Method == BandMethodPercentile, "must be 'mad' or 'percentile'"},
		{"band.k", c.Band.K > 0, "must be > 0"},
		{"band.warmup_steps", c.Band.WarmupSteps >= 1, "must be >= 1"},
		{"band.refresh_every", c.Band.RefreshEvery >= 0, "must be >= 0"},
		{"band.low_percentile", c.Band.LowPercentile >= 0 && c.Band.LowPercentile < c.Band.HighPercentile, "must be >= 0 and below high_percentile"},
		{"band.high_percentile", c.Band.HighPercentile <= 100, "must be <= 100"},
		{"band.entropy_low", c.Band.EntropyLow >= 0 && c.Band.EntropyLow <= c.Band.EntropyHigh, "must be >= 0 and <= entropy_high"},
		{"band.entropy_high", c.Band.EntropyHigh <= 1, "must be <= 1"},

		{"gate.top_k", c.Gate.TopK >= 0, "must be >= 0"},
		{"gate.mask_decay", c.Gate.MaskDecay >= 0 && c.Gate.MaskDecay < 1, "must be in [0, 1)"},
		{"gate.mask_max", c.Gate.MaskMax > 0, "must be > 0"},
		{"gate.mask_step", c.Gate.MaskStep >= 0, "must be >= 0"},
		{"gate.stall_patience", c.Gate.StallPatience >= 1, "must be >= 1"},
		{"gate.flip_amplify", c.Gate.FlipAmplify >= 1, "must be >= 1"},

		{"dial.ema_decay", c.Dial.EMADecay > 0 && c.Dial.EMADecay <= 1, "must be in (0, 1]"},
		{"dial.eta_tau", c.Dial.EtaTau >= 0, "must be >= 0"},
		{"dial.w_*", nonNegative(c.Dial.WeightH, c.Dial.WeightRC, c.Dial.WeightE, c.Dial.WeightD), "must be non-negative"},
		{"dial.t_min", c.Dial.TMin > 0, "must be > 0"},
		{"dial.t_max", c.Dial.TMin < c.Dial.TMax, fmt.Sprintf("t_min (%g) must be below t_max (%g)", c.Dial.TMin, c.Dial.TMax)},
		{"dial.initial_temperature", c.Dial.InitialTemperature >= c.Dial.TMin && c.Dial.InitialTemperature <= c.Dial.TMax, "must lie in [t_min, t_max]"},
		{"dial.rho", c.Dial.Rho >= 0 && c.Dial.Rho <= 1, "must be in [0, 1]"},
		{"dial.kappa", c.Dial.Kappa >= 0, "must be >= 0"},
		{"dial.bias_max", c.Dial.BiasMax >= 0, "must be >= 0"},
		{"dial.rc_low", c.Dial.RCLow < c.Dial.RCHigh, "must be below rc_high"},
		{"dial.cut_step", c.Dial.CutStep >= 0 && c.Dial.FuseStep >= 0, "cut_step and fuse_step must be >= 0"},
		{"dial.cut_fraction", c.Dial.CutFraction >= 0 && c.Dial.FuseFraction >= 0 && c.Dial.FuseFraction <= 1, "fractions must be >= 0 and fuse_fraction <= 1"},
		{"dial.coherence_window", c.Dial.CoherenceWindow >= 2, "must be >= 2"},
		{"dial.vstar_weights", len(c.Dial.VStarWeights) == 5, "must have exactly 5 entries"},

		{"certificate.tail_fraction", c.Certificate.TailFraction > 0 && c.Certificate.TailFraction <= 0.5, "must be in (0, 0.5]"},
		{"certificate.energy_ratio", c.Certificate.EnergyRatio > 0, "must be > 0"},
		{"certificate.rate_min", c.Certificate.RateMin >= 0 && c.Certificate.RateMin <= c.Certificate.RateMax, "must be >= 0 and <= rate_max"},
		{"certificate.rate_max", c.Certificate.RateMax <= 1, "must be <= 1"},
		{"certificate.xi_tolerance", c.Certificate.XiTolerance > 0, "must be > 0"},

		{"abtest.resamples", c.AB.Resamples >= 1000, "must be >= 1000"},
		{"abtest.confidence", c.AB.Confidence > 0 && c.AB.Confidence < 1, "must be in (0, 1)"},
		{"abtest.parallel", c.AB.Parallel >= 1, "must be >= 1"},
		{"abtest.seeds", uniqueSeeds(c.AB.Seeds), "must not repeat a seed"},

		{"run.steps", c.Run.Steps >= 1, "must be >= 1"},
		{"run.vocab", c.Run.Vocab >= 2, "must be >= 2"},
		{"run.ethics_policy", c.Run.EthicsPolicy == EthicsAbort || c.Run.EthicsPolicy == EthicsRecord, "must be 'abort' or 'record'"},

		{"model.embed_dim", c.Model.EmbedDim >= 1, "must be >= 1"},
		{"model.learning_rate", c.Model.LearningRate >= 0, "must be >= 0"},
		{"model.mask_scale", c.Model.MaskScale >= 0, "must be >= 0"},
		{"model.corpus_length", c.Model.CorpusLength >= 2, "must be >= 2"},
		{"model.branching", c.Model.Branching >= 1 && c.Model.Branching <= c.Run.Vocab, "must be in [1, run.vocab]"},
		{"model.window", c.Model.Window >= 1, "must be >= 1"},

		{"store.path", !c.Store.Enabled || c.Store.Path != "", "required when store is enabled"},
		{"monitor.port", !c.Monitor.Enabled || (c.Monitor.Port > 0 && c.Monitor.Port < 65536), "must be a valid port"},
		{"log.format", c.Log.Format == "console" || c.Log.Format == "json", "must be 'console' or 'json'"},
	}

	for _, chk := range checks {
		if !chk.ok {
			return rerrors.ConfigInvalid(chk.field, chk.why)
		}
	}
	if c.Dial.VStarWeights != nil && !nonNegative(c.Dial.VStarWeights...) {
		return rerrors.ConfigInvalid("dial.vstar_weights", "must be non-negative")
	}
	return nil
}

func uniqueSeeds(seeds []int64) bool {
	seen := make(map[int64]bool, len(seeds))
	for _, s := range seeds {
		if seen[s] {
			return false
		}
		seen[s] = true
	}
	return true
}

func nonNegative(vs ...float64) bool {
	for _, v := range vs {
		if v < 0 || math.IsNaN(v) {
			return false
		}
	}
	return true
}
