// Package ethics provides the per-step output guard consulted by the
// runner and the policy deciding whether a violation ends the run.
package ethics

import (
	"bytes"
	"fmt"
	"math"

	"github.com/r3d91ll/reflex/pkg/config"
	rerrors "github.com/r3d91ll/reflex/pkg/errors"
)

// Verdict is the guard's decision for one step.
type Verdict struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// Pass is the verdict for a clean step.
var Pass = Verdict{OK: true}

// Fail returns a failing verdict with a reason.
func Fail(format string, args ...interface{}) Verdict {
	return Verdict{Reason: fmt.Sprintf(format, args...)}
}

// Guard inspects a step's decoded output and loss.
type Guard interface {
	Check(output []byte, loss float64) Verdict
}

// GuardFunc adapts a function to Guard.
type GuardFunc func(output []byte, loss float64) Verdict

// Check calls f.
func (f GuardFunc) Check(output []byte, loss float64) Verdict {
	return f(output, loss)
}

// Policy decides what a failing verdict does to the run.
type Policy string

const (
	// PolicyAbort ends the run at the first violation.
	PolicyAbort Policy = config.EthicsAbort
	// PolicyRecord marks the step and keeps running. The certificate
	// still fails ethics_clean.
	PolicyRecord Policy = config.EthicsRecord
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyAbort, PolicyRecord:
		return Policy(s), nil
	default:
		return "", rerrors.ConfigInvalid("run.ethics_policy", fmt.Sprintf("unknown policy %q", s))
	}
}

// Aborts reports whether a failing verdict terminates the run.
func (p Policy) Aborts() bool {
	return p != PolicyRecord
}

// Default rejects non-finite losses and outputs containing any banned
// byte sequence.
type Default struct {
	banned [][]byte
}

// NewDefault builds the default guard. Empty sequences are ignored.
func NewDefault(banned []string) *Default {
	g := &Default{}
	for _, s := range banned {
		if s != "" {
			g.banned = append(g.banned, []byte(s))
		}
	}
	return g
}

// Check implements Guard.
func (g *Default) Check(output []byte, loss float64) Verdict {
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return Fail("non-finite loss %v", loss)
	}
	for _, b := range g.banned {
		if bytes.Contains(output, b) {
			return Fail("banned sequence %q", b)
		}
	}
	return Pass
}

// Chain runs guards in order and returns the first failing verdict.
func Chain(guards ...Guard) Guard {
	return GuardFunc(func(output []byte, loss float64) Verdict {
		for _, g := range guards {
			if v := g.Check(output, loss); !v.OK {
				return v
			}
		}
		return Pass
	})
}
