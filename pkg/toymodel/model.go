// Package toymodel is a small bigram sequence model with a single
// attention read over token embeddings. It trains online by SGD on a
// synthetic Markov corpus and exposes the activations the controller
// measures. It exists to exercise the controller end to end.
package toymodel

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/r3d91ll/reflex/pkg/config"
	"github.com/r3d91ll/reflex/pkg/control"
	rerrors "github.com/r3d91ll/reflex/pkg/errors"
	"github.com/r3d91ll/reflex/pkg/metrics"
)

// Model is a bigram softmax model. It is not safe for concurrent use.
type Model struct {
	cfg   config.ModelConfig
	vocab int

	emb [][]float64 // vocab x dim token embeddings (attention keys and values)
	w   [][]float64 // vocab x vocab bigram logits
	u   [][]float64 // vocab x dim readout of the attended context

	corpus []int
	pos    int

	sample *rand.Rand
	window []byte
}

// New builds a model. seed fixes the corpus and the initial weights so
// paired runs see the same data; sampleSeed drives output sampling.
func New(cfg config.ModelConfig, vocab int, seed, sampleSeed int64) (*Model, error) {
	if vocab < 2 {
		return nil, rerrors.ConfigInvalid("run.vocab", "must be >= 2")
	}
	if cfg.Branching < 1 || cfg.Branching > vocab {
		return nil, rerrors.ConfigInvalid("model.branching", fmt.Sprintf("must be in [1, %d]", vocab))
	}
	if cfg.EmbedDim < 1 || cfg.CorpusLength < 2 {
		return nil, rerrors.ConfigInvalid("model", "embed_dim and corpus_length must be positive")
	}

	rng := rand.New(rand.NewSource(seed))
	m := &Model{
		cfg:    cfg,
		vocab:  vocab,
		emb:    randMatrix(rng, vocab, cfg.EmbedDim, 0.5),
		w:      make([][]float64, vocab),
		u:      randMatrix(rng, vocab, cfg.EmbedDim, 0.1),
		sample: rand.New(rand.NewSource(sampleSeed)),
	}
	for i := range m.w {
		m.w[i] = make([]float64, vocab)
	}
	m.corpus = markovCorpus(rng, vocab, cfg.Branching, cfg.CorpusLength)
	return m, nil
}

func randMatrix(rng *rand.Rand, rows, cols int, std float64) [][]float64 {
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
		for j := range out[i] {
			out[i][j] = rng.NormFloat64() * std
		}
	}
	return out
}

// markovCorpus draws a token sequence where each token is followed by one
// of `branching` fixed successors nine times in ten, otherwise by a
// uniform token.
func markovCorpus(rng *rand.Rand, vocab, branching, n int) []int {
	succ := make([][]int, vocab)
	for i := range succ {
		succ[i] = rng.Perm(vocab)[:branching]
	}
	out := make([]int, n)
	for i := 1; i < n; i++ {
		if rng.Float64() < 0.9 {
			out[i] = succ[out[i-1]][rng.Intn(branching)]
		} else {
			out[i] = rng.Intn(vocab)
		}
	}
	return out
}

// Forward runs one training step under the given dials: attention over
// the token keys, bigram logits plus the attended readout, cross-entropy
// loss on the next corpus token and an SGD update.
func (m *Model) Forward(ctx context.Context, d control.Dials) (control.Observation, error) {
	if err := ctx.Err(); err != nil {
		return control.Observation{}, err
	}

	tau := d.Temperature
	if !(tau > 0) {
		tau = 1
	}
	phase := 1.0
	if d.Phase < 0 {
		phase = -1
	}

	x := m.corpus[m.pos%len(m.corpus)]
	y := m.corpus[(m.pos+1)%len(m.corpus)]
	m.pos++

	dim := float64(m.cfg.EmbedDim)
	scores := make([]float64, m.vocab)
	for i := range scores {
		scores[i] = phase * metrics.Dot(m.emb[x], m.emb[i]) / math.Sqrt(dim)
		if i < len(d.Mask) {
			scores[i] -= m.cfg.MaskScale * d.Mask[i]
		}
		scores[i] /= tau
	}
	attn := softmax(scores)

	ctxVec := make([]float64, m.cfg.EmbedDim)
	for i, a := range attn {
		for k, e := range m.emb[i] {
			ctxVec[k] += a * e
		}
	}

	logits := make([]float64, m.vocab)
	for j := range logits {
		logits[j] = m.w[x][j] + metrics.Dot(m.u[j], ctxVec)
		if j < len(d.Bias) {
			logits[j] += d.Bias[j]
		}
		logits[j] /= tau
	}
	probs := softmax(logits)
	loss := -math.Log(math.Max(probs[y], 1e-12))

	lr := m.cfg.LearningRate
	for j, p := range probs {
		g := p
		if j == y {
			g -= 1
		}
		g /= tau
		m.w[x][j] -= lr * g
		for k := range m.u[j] {
			m.u[j][k] -= lr * g * ctxVec[k]
		}
	}

	m.emit(sampleIndex(probs, m.sample))

	return control.Observation{
		Snapshot: metrics.Snapshot{
			Output:    probs,
			Attention: attn,
			Values:    ctxVec,
			Loss:      loss,
		},
		Text: append([]byte(nil), m.window...),
	}, nil
}

// emit appends the decoded token to the rolling text window.
func (m *Model) emit(tok int) {
	m.window = append(m.window, Decode(tok))
	if n := len(m.window) - m.cfg.Window; n > 0 {
		m.window = append(m.window[:0], m.window[n:]...)
	}
}

// Decode maps a token to a lowercase letter.
func Decode(tok int) byte {
	return byte('a' + tok%26)
}

func softmax(z []float64) []float64 {
	maxVal := z[0]
	for _, v := range z[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	out := make([]float64, len(z))
	var total float64
	for i, v := range z {
		out[i] = math.Exp(v - maxVal)
		total += out[i]
	}
	for i := range out {
		out[i] /= total
	}
	return out
}

func sampleIndex(p []float64, rng *rand.Rand) int {
	r := rng.Float64()
	var s float64
	for i, x := range p {
		s += x
		if s >= r {
			return i
		}
	}
	return len(p) - 1
}
