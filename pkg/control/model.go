package control

import (
	"context"
	"fmt"

	rerrors "github.com/r3d91ll/reflex/pkg/errors"
	"github.com/r3d91ll/reflex/pkg/metrics"
)

// Observation is one forward pass of the sequence model.
type Observation struct {
	metrics.Snapshot
	// Text is the decoded output handed to the ethics guard.
	Text []byte
}

// Model is the sequence model under control. It applies the dials to its
// next forward pass and must not retain or mutate the slices in d.
type Model interface {
	Forward(ctx context.Context, d Dials) (Observation, error)
}

// CheckShape verifies that the observation's output and attention match
// the controller vocabulary.
func (c *Controller) CheckShape(obs Observation) error {
	check := func(name string, n int) error {
		if n == c.vocab {
			return nil
		}
		return rerrors.New(rerrors.ErrSignalShapeMismatch, rerrors.CategorySignal,
			fmt.Sprintf("%s has length %d, want %d", name, n, c.vocab)).
			WithContext("vector", name)
	}
	if err := check("output", len(obs.Output)); err != nil {
		return err
	}
	return check("attention", len(obs.Attention))
}
