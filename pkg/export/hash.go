package export

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/r3d91ll/reflex/pkg/config"
)

// HashAlgorithm identifies the hashing algorithm used for experiment hashes.
const HashAlgorithm = "SHA-256"

// ExperimentConfig holds the inputs of the reproducibility signature.
type ExperimentConfig struct {
	// ToolVersion is the version of the binary that ran the experiment.
	ToolVersion string `json:"tool_version"`

	// Seeds are the run seeds, in order.
	Seeds []int64 `json:"seeds"`

	// Parameters holds controller settings as key-value pairs.
	// Keys are sorted alphabetically during hashing for determinism.
	Parameters map[string]string `json:"parameters,omitempty"`
}

// ExperimentHash represents the computed hash and its metadata.
type ExperimentHash struct {
	Hash       string            `json:"hash"`
	Algorithm  string            `json:"algorithm"`
	ComputedAt time.Time         `json:"computed_at"`
	Config     *ExperimentConfig `json:"config"`
}

// HashBuilder constructs experiment hashes.
type HashBuilder struct {
	config *ExperimentConfig
}

// NewHashBuilder creates an empty HashBuilder.
func NewHashBuilder() *HashBuilder {
	return &HashBuilder{
		config: &ExperimentConfig{
			Parameters: make(map[string]string),
		},
	}
}

// WithToolVersion sets the tool version.
func (hb *HashBuilder) WithToolVersion(version string) *HashBuilder {
	hb.config.ToolVersion = version
	return hb
}

// WithSeeds sets the seed list.
func (hb *HashBuilder) WithSeeds(seeds ...int64) *HashBuilder {
	hb.config.Seeds = append([]int64(nil), seeds...)
	return hb
}

// WithParameter adds one parameter.
func (hb *HashBuilder) WithParameter(key, value string) *HashBuilder {
	hb.config.Parameters[key] = value
	return hb
}

// WithParameters adds multiple parameters.
func (hb *HashBuilder) WithParameters(params map[string]string) *HashBuilder {
	for k, v := range params {
		hb.config.Parameters[k] = v
	}
	return hb
}

// Build computes the experiment hash.
// Identical inputs produce identical hashes.
func (hb *HashBuilder) Build() *ExperimentHash {
	return &ExperimentHash{
		Hash:       computeHash(hb.config),
		Algorithm:  HashAlgorithm,
		ComputedAt: time.Now(),
		Config:     hb.config,
	}
}

// computeHash hashes a canonical string of the configuration.
func computeHash(cfg *ExperimentConfig) string {
	var sb strings.Builder

	sb.WriteString("version:")
	sb.WriteString(cfg.ToolVersion)
	sb.WriteString("|")

	sb.WriteString("seeds:")
	for i, s := range cfg.Seeds {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(fmt.Sprintf("%d", s))
	}
	sb.WriteString("|")

	if len(cfg.Parameters) > 0 {
		sb.WriteString("params:")
		keys := make([]string, 0, len(cfg.Parameters))
		for k := range cfg.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(k)
			sb.WriteString("=")
			sb.WriteString(cfg.Parameters[k])
		}
		sb.WriteString("|")
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// ShortHash returns the first 8 characters of the full hash.
func (eh *ExperimentHash) ShortHash() string {
	if len(eh.Hash) >= 8 {
		return eh.Hash[:8]
	}
	return eh.Hash
}

// Verify recomputes the hash and checks it against the stored one.
func (eh *ExperimentHash) Verify() bool {
	if eh.Config == nil {
		return false
	}
	return computeHash(eh.Config) == eh.Hash
}

// ToJSON returns the experiment hash as indented JSON.
func (eh *ExperimentHash) ToJSON() (string, error) {
	data, err := json.MarshalIndent(eh, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal experiment hash: %w", err)
	}
	return string(data), nil
}

// ComputeExperimentHash hashes a configuration and seed list.
func ComputeExperimentHash(toolVersion string, cfg *config.Config, seeds ...int64) *ExperimentHash {
	return NewHashBuilder().
		WithToolVersion(toolVersion).
		WithSeeds(seeds...).
		WithParameters(cfg.Params()).
		Build()
}
