// Package config handles reflex configuration loading and validation.
//
// Every threshold, weight and decay rate used by the controller lives in
// Config. Default() is the only place defaults are defined; Load decodes a
// YAML file on top of it and rejects unknown keys.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	rerrors "github.com/r3d91ll/reflex/pkg/errors"
)

// Config is the root configuration structure.
type Config struct {
	Metrics     MetricsConfig     `yaml:"metrics"`
	Band        BandConfig        `yaml:"band"`
	Gate        GateConfig        `yaml:"gate"`
	Dial        DialConfig        `yaml:"dial"`
	Certificate CertificateConfig `yaml:"certificate"`
	AB          ABConfig          `yaml:"abtest"`
	Run         RunConfig         `yaml:"run"`
	Model       ModelConfig       `yaml:"model"`
	Store       StoreConfig       `yaml:"store"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Log         LogConfig         `yaml:"log"`
}

// MetricsConfig holds Metric Engine settings.
type MetricsConfig struct {
	Epsilon        float64 `yaml:"epsilon"`
	HolonomyWindow int     `yaml:"holonomy_window"` // W; the deque holds 2W torsion values

	// Coherence weights: value-vector cosine, attention cosine and the
	// optional distributional term. Must be non-negative and sum to 1.
	CoherenceValueWeight     float64 `yaml:"coherence_value_weight"`
	CoherenceAttentionWeight float64 `yaml:"coherence_attention_weight"`
	CoherenceDistWeight      float64 `yaml:"coherence_dist_weight"`
}

// Band calibration methods.
const (
	BandMethodMAD        = "mad"
	BandMethodPercentile = "percentile"
)

// BandConfig holds Band Calibrator settings.
type BandConfig struct {
	Method         string  `yaml:"method"`
	K              float64 `yaml:"k"` // MAD scale; 1.4826 for normal consistency
	WarmupSteps    int     `yaml:"warmup_steps"`
	RefreshEvery   int     `yaml:"refresh_every"` // 0 = calibrate once at warm-up
	LowPercentile  float64 `yaml:"low_percentile"`
	HighPercentile float64 `yaml:"high_percentile"`

	// Fixed entropy band applied alongside the calibrated drift band.
	EntropyLow  float64 `yaml:"entropy_low"`
	EntropyHigh float64 `yaml:"entropy_high"`
}

// GateConfig holds Gate State Machine settings.
type GateConfig struct {
	TopK           int     `yaml:"top_k"`
	MaskDecay      float64 `yaml:"mask_decay"`
	MaskMax        float64 `yaml:"mask_max"`
	MaskStep       float64 `yaml:"mask_step"`
	StallThreshold float64 `yaml:"stall_threshold"`
	StallPatience  int     `yaml:"stall_patience"`
	FlipAmplify    float64 `yaml:"flip_amplify"`
}

// DialConfig holds Dial Controller settings.
type DialConfig struct {
	EMADecay           float64 `yaml:"ema_decay"` // λ
	EtaTau             float64 `yaml:"eta_tau"`
	WeightH            float64 `yaml:"w_h"`
	WeightRC           float64 `yaml:"w_rc"`
	WeightE            float64 `yaml:"w_e"`
	WeightD            float64 `yaml:"w_d"`
	TMin               float64 `yaml:"t_min"`
	TMax               float64 `yaml:"t_max"`
	InitialTemperature float64 `yaml:"initial_temperature"`
	Rho                float64 `yaml:"rho"`
	Kappa              float64 `yaml:"kappa"`
	BiasMax            float64 `yaml:"bias_max"`
	RCTarget           float64 `yaml:"rc_target"`
	RCLow              float64 `yaml:"rc_low"`
	RCHigh             float64 `yaml:"rc_high"`
	CutStep            float64 `yaml:"cut_step"`
	CutFraction        float64 `yaml:"cut_fraction"`
	FuseStep           float64 `yaml:"fuse_step"`
	FuseFraction       float64 `yaml:"fuse_fraction"`
	CoherenceWindow    int     `yaml:"coherence_window"`

	// V* monitoring weights: KL-to-target, H, D, E, -RC.
	VStarWeights []float64 `yaml:"vstar_weights"`
}

// CertificateConfig holds Presence Certificate thresholds.
type CertificateConfig struct {
	TailFraction float64 `yaml:"tail_fraction"`
	EnergyRatio  float64 `yaml:"energy_ratio"`
	RCMinGain    float64 `yaml:"rc_min_gain"`
	RateMin      float64 `yaml:"rate_min"`
	RateMax      float64 `yaml:"rate_max"`
	XiTolerance  float64 `yaml:"xi_tolerance"`
}

// ABConfig holds A/B harness settings.
type ABConfig struct {
	Seeds         []int64 `yaml:"seeds"`
	Resamples     int     `yaml:"resamples"`
	BootstrapSeed int64   `yaml:"bootstrap_seed"`
	Confidence    float64 `yaml:"confidence"`
	Parallel      int     `yaml:"parallel"`
}

// Ethics policies.
const (
	EthicsAbort  = "abort"
	EthicsRecord = "record"
)

// RunConfig holds per-run settings for the reference training loop.
type RunConfig struct {
	Steps           int      `yaml:"steps"`
	Vocab           int      `yaml:"vocab"`
	EthicsPolicy    string   `yaml:"ethics_policy"`
	BannedSequences []string `yaml:"banned_sequences"`
}

// ModelConfig holds settings for the reference bigram sequence model.
type ModelConfig struct {
	EmbedDim     int     `yaml:"embed_dim"`
	LearningRate float64 `yaml:"learning_rate"`
	MaskScale    float64 `yaml:"mask_scale"` // logit penalty per unit of mask
	CorpusLength int     `yaml:"corpus_length"`
	Branching    int     `yaml:"branching"` // likely successors per token in the synthetic corpus
	Window       int     `yaml:"window"`    // decoded bytes handed to the ethics guard
}

// StoreConfig holds sqlite persistence settings.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MonitorConfig holds live monitor server settings.
type MonitorConfig struct {
	Enabled bool     `yaml:"enabled"`
	Host    string   `yaml:"host"`
	Port    int      `yaml:"port"`
	Origins []string `yaml:"origins"` // allowed websocket origins; empty allows all
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // zerolog level name
	Format string `yaml:"format"` // "console" or "json"
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Metrics: MetricsConfig{
			Epsilon:                  1e-10,
			HolonomyWindow:           8,
			CoherenceValueWeight:     0.5,
			CoherenceAttentionWeight: 0.5,
			CoherenceDistWeight:      0,
		},
		Band: BandConfig{
			Method:         BandMethodMAD,
			K:              1.4826,
			WarmupSteps:    30,
			RefreshEvery:   0,
			LowPercentile:  25,
			HighPercentile: 75,
			EntropyLow:     0.05,
			EntropyHigh:    0.99,
		},
		Gate: GateConfig{
			TopK:           3,
			MaskDecay:      0.1,
			MaskMax:        1.0,
			MaskStep:       0.25,
			StallThreshold: 0,
			StallPatience:  8,
			FlipAmplify:    1.5,
		},
		Dial: DialConfig{
			EMADecay:           0.05,
			EtaTau:             0.05,
			WeightH:            1.0,
			WeightRC:           1.0,
			WeightE:            0.5,
			WeightD:            0.5,
			TMin:               0.5,
			TMax:               2.0,
			InitialTemperature: 1.0,
			Rho:                0.1,
			Kappa:              0.5,
			BiasMax:            1.0,
			RCTarget:           0.75,
			RCLow:              0.4,
			RCHigh:             0.9,
			CutStep:            0.05,
			CutFraction:        0.1,
			FuseStep:           0.02,
			FuseFraction:       0.1,
			CoherenceWindow:    3,
			VStarWeights:       []float64{1, 0.25, 0.25, 0.25, 0.25},
		},
		Certificate: CertificateConfig{
			TailFraction: 0.2,
			EnergyRatio:  0.9,
			RCMinGain:    0.05,
			RateMin:      0.01,
			RateMax:      0.6,
			XiTolerance:  0.75,
		},
		AB: ABConfig{
			Seeds:         []int64{1, 2, 3, 4, 5},
			Resamples:     1000,
			BootstrapSeed: 1729,
			Confidence:    0.95,
			Parallel:      1,
		},
		Run: RunConfig{
			Steps:        200,
			Vocab:        16,
			EthicsPolicy: EthicsAbort,
		},
		Model: ModelConfig{
			EmbedDim:     8,
			LearningRate: 0.5,
			MaskScale:    4.0,
			CorpusLength: 4096,
			Branching:    2,
			Window:       16,
		},
		Store: StoreConfig{
			Enabled: false,
			Path:    "reflex.db",
		},
		Monitor: MonitorConfig{
			Enabled: false,
			Host:    "localhost",
			Port:    8090,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Parse decodes YAML on top of Default() and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, rerrors.ConfigWrap(err, rerrors.ErrConfigParseFailed, "failed to parse config")
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load loads and validates configuration from a file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, rerrors.ConfigWrap(err, rerrors.ErrConfigNotFound, "config file not found").
				WithContext("path", path)
		}
		return nil, rerrors.ConfigWrap(err, rerrors.ErrConfigParseFailed, "failed to read config").
			WithContext("path", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		if re, ok := rerrors.AsReflexError(err); ok {
			re.WithContext("path", path)
		}
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads config from path, or returns default if not found.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Save saves configuration to a file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return rerrors.ConfigWrap(err, rerrors.ErrConfigWriteFailed, "failed to create config directory")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return rerrors.ConfigWrap(err, rerrors.ErrConfigWriteFailed, "failed to marshal config")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return rerrors.ConfigWrap(err, rerrors.ErrConfigWriteFailed, "failed to write config file").
			WithContext("path", path)
	}
	return nil
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	if _, err := os.Stat("config/reflex.yaml"); err == nil {
		return "config/reflex.yaml"
	}
	return "reflex.yaml"
}

// InitConfig creates a default config file if it doesn't exist.
func InitConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return Default().Save(path)
}

// Params flattens the controller-relevant settings into sorted-key strings
// for experiment hashing.
func (c *Config) Params() map[string]string {
	f := func(v float64) string { return fmt.Sprintf("%g", v) }
	i := func(v int) string { return fmt.Sprintf("%d", v) }
	return map[string]string{
		"metrics.epsilon":         f(c.Metrics.Epsilon),
		"metrics.holonomy_window": i(c.Metrics.HolonomyWindow),
		"metrics.coherence":       fmt.Sprintf("%g/%g/%g", c.Metrics.CoherenceValueWeight, c.Metrics.CoherenceAttentionWeight, c.Metrics.CoherenceDistWeight),
		"band.method":             c.Band.Method,
		"band.k":                  f(c.Band.K),
		"band.warmup_steps":       i(c.Band.WarmupSteps),
		"band.refresh_every":      i(c.Band.RefreshEvery),
		"band.entropy":            fmt.Sprintf("%g/%g", c.Band.EntropyLow, c.Band.EntropyHigh),
		"gate.top_k":              i(c.Gate.TopK),
		"gate.mask":               fmt.Sprintf("%g/%g/%g", c.Gate.MaskDecay, c.Gate.MaskMax, c.Gate.MaskStep),
		"gate.stall":              fmt.Sprintf("%g/%d/%g", c.Gate.StallThreshold, c.Gate.StallPatience, c.Gate.FlipAmplify),
		"dial.temperature":        fmt.Sprintf("%g/%g/%g", c.Dial.TMin, c.Dial.TMax, c.Dial.InitialTemperature),
		"dial.weights":            fmt.Sprintf("%g/%g/%g/%g", c.Dial.WeightH, c.Dial.WeightRC, c.Dial.WeightE, c.Dial.WeightD),
		"dial.ema_decay":          f(c.Dial.EMADecay),
		"dial.eta_tau":            f(c.Dial.EtaTau),
		"dial.bias":               fmt.Sprintf("%g/%g/%g", c.Dial.Rho, c.Dial.Kappa, c.Dial.BiasMax),
		"dial.rc":                 fmt.Sprintf("%g/%g/%g", c.Dial.RCTarget, c.Dial.RCLow, c.Dial.RCHigh),
		"dial.cut_fuse":           fmt.Sprintf("%g/%g/%g/%g", c.Dial.CutStep, c.Dial.CutFraction, c.Dial.FuseStep, c.Dial.FuseFraction),
		"run.steps":               i(c.Run.Steps),
		"run.vocab":               i(c.Run.Vocab),
		"model":                   fmt.Sprintf("%d/%g/%g/%d/%d", c.Model.EmbedDim, c.Model.LearningRate, c.Model.MaskScale, c.Model.CorpusLength, c.Model.Branching),
	}
}
