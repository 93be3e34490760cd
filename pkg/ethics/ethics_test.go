package ethics

import (
	"math"
	"testing"

	rerrors "github.com/r3d91ll/reflex/pkg/errors"
)

// -----------------------------------------------------------------------------
// Default Guard Tests
// -----------------------------------------------------------------------------

func TestDefault_Check(t *testing.T) {
	g := NewDefault([]string{"forbidden", ""})

	tests := []struct {
		name   string
		output string
		loss   float64
		wantOK bool
	}{
		{"clean", "hello world", 1.2, true},
		{"banned", "some forbidden text", 1.2, false},
		{"nan loss", "hello", math.NaN(), false},
		{"inf loss", "hello", math.Inf(1), false},
		{"empty output", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := g.Check([]byte(tt.output), tt.loss)
			if v.OK != tt.wantOK {
				t.Errorf("Check(%q, %v) = %+v, want OK=%v", tt.output, tt.loss, v, tt.wantOK)
			}
			if !v.OK && v.Reason == "" {
				t.Error("expected a reason on failure")
			}
		})
	}
}

func TestChain_FirstFailureWins(t *testing.T) {
	first := GuardFunc(func([]byte, float64) Verdict { return Fail("first") })
	second := GuardFunc(func([]byte, float64) Verdict { return Fail("second") })

	if v := Chain(NewDefault(nil), first, second).Check(nil, 0); v.Reason != "first" {
		t.Errorf("expected first failure, got %+v", v)
	}
	if v := Chain().Check(nil, 0); !v.OK {
		t.Error("expected empty chain to pass")
	}
}

// -----------------------------------------------------------------------------
// Policy Tests
// -----------------------------------------------------------------------------

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("abort")
	if err != nil || !p.Aborts() {
		t.Errorf("expected abort policy, got %v %v", p, err)
	}
	p, err = ParsePolicy("record")
	if err != nil || p.Aborts() {
		t.Errorf("expected record policy, got %v %v", p, err)
	}
	if _, err := ParsePolicy("ignore"); !rerrors.IsCode(err, rerrors.ErrConfigInvalid) {
		t.Errorf("expected CONFIG_INVALID, got %v", err)
	}
}
