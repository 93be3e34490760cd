package runner

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/r3d91ll/reflex/pkg/abtest"
	"github.com/r3d91ll/reflex/pkg/certificate"
	"github.com/r3d91ll/reflex/pkg/config"
	"github.com/r3d91ll/reflex/pkg/control"
	rerrors "github.com/r3d91ll/reflex/pkg/errors"
	"github.com/r3d91ll/reflex/pkg/ethics"
	"github.com/r3d91ll/reflex/pkg/metrics"
	"github.com/r3d91ll/reflex/pkg/runstats"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Run.Steps = 120
	return cfg
}

func newRunner(t *testing.T, cfg *config.Config, opts ...Option) *Runner {
	t.Helper()
	r, err := New(cfg, ToyModels(cfg), opts...)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return r
}

// failAt is a guard that rejects the n-th check (0-based).
func failAt(n int) ethics.Guard {
	calls := 0
	return ethics.GuardFunc(func([]byte, float64) ethics.Verdict {
		defer func() { calls++ }()
		if calls == n {
			return ethics.Fail("test violation")
		}
		return ethics.Pass
	})
}

type fixedModel struct {
	obs control.Observation
	err error
}

func (m *fixedModel) Forward(context.Context, control.Dials) (control.Observation, error) {
	return m.obs, m.err
}

// -----------------------------------------------------------------------------
// Run Tests
// -----------------------------------------------------------------------------

func TestRun_RecordsEveryStep(t *testing.T) {
	cfg := testConfig()
	col := &Collector{}
	r := newRunner(t, cfg, WithSinks(col), WithExperimentHash("abc123"))

	out, err := r.Run(context.Background(), 1, true)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if out.Stats.Len() != cfg.Run.Steps {
		t.Fatalf("expected %d records, got %d", cfg.Run.Steps, out.Stats.Len())
	}
	for i, rec := range out.Stats.Records() {
		if rec.T != i {
			t.Fatalf("record %d has T=%d", i, rec.T)
		}
		if !rec.EthicsOK {
			t.Fatalf("record %d unexpectedly failed ethics", i)
		}
	}
	if !out.Stats.IsComplete() {
		t.Error("expected completed history")
	}
	if out.Certificate.RunID != out.Stats.ID || out.Certificate.ExperimentHash != "abc123" {
		t.Errorf("unexpected certificate stamp: %+v", out.Certificate)
	}
	if len(col.Started) != 1 || len(col.Steps) != cfg.Run.Steps || len(col.Certificates) != 1 {
		t.Errorf("sink saw %d starts, %d steps, %d certificates", len(col.Started), len(col.Steps), len(col.Certificates))
	}
	if out.AbortError() != nil {
		t.Errorf("unexpected abort error: %v", out.AbortError())
	}
}

func TestRun_DisabledNeverFires(t *testing.T) {
	out, err := newRunner(t, testConfig()).Run(context.Background(), 2, false)
	if err != nil {
		t.Fatal(err)
	}
	if out.Stats.UpsilonCount != 0 {
		t.Errorf("disabled run fired %d times", out.Stats.UpsilonCount)
	}
	if out.Certificate.Presence {
		t.Error("a run without fires cannot pass upsilon_band")
	}
}

func TestRun_Deterministic(t *testing.T) {
	r := newRunner(t, testConfig())
	a, err := r.Run(context.Background(), 7, true)
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Run(context.Background(), 7, true)
	if err != nil {
		t.Fatal(err)
	}
	ra, rb := a.Stats.Records(), b.Stats.Records()
	for i := range ra {
		ra[i].RunID, rb[i].RunID = "", ""
		if ra[i] != rb[i] {
			t.Fatalf("step %d differs:\n%+v\n%+v", i, ra[i], rb[i])
		}
	}
}

// -----------------------------------------------------------------------------
// Ethics Tests
// -----------------------------------------------------------------------------

func TestRun_EthicsAbort(t *testing.T) {
	col := &Collector{}
	r := newRunner(t, testConfig(), WithGuard(failAt(10)), WithSinks(col))

	out, err := r.Run(context.Background(), 1, true)
	if err != nil {
		t.Fatalf("ethics abort must not be a run error: %v", err)
	}
	if !out.Stats.Aborted() || out.Stats.Len() != 10 {
		t.Fatalf("expected aborted run with 10 records, got aborted=%v len=%d", out.Stats.Aborted(), out.Stats.Len())
	}
	recs := out.Stats.Records()
	if recs[len(recs)-1].EthicsOK {
		t.Error("expected violating step recorded with ethics_ok=false")
	}
	if out.Certificate.Presence || out.Certificate.Reason != certificate.ReasonEthicsAbort {
		t.Errorf("expected ethics_abort certificate, got %+v", out.Certificate)
	}
	if len(col.Certificates) != 1 {
		t.Error("aborted run must still emit a certificate")
	}
	if !rerrors.IsCode(out.AbortError(), rerrors.ErrEthicsAbort) {
		t.Errorf("expected ETHICS_ABORT, got %v", out.AbortError())
	}
}

func TestRun_EthicsAbortOnPrimingStep(t *testing.T) {
	out, err := newRunner(t, testConfig(), WithGuard(failAt(0))).Run(context.Background(), 1, true)
	if err != nil {
		t.Fatal(err)
	}
	if out.Stats.Len() != 0 || out.Certificate.Presence {
		t.Errorf("expected empty aborted run, got len=%d", out.Stats.Len())
	}
	if out.Certificate.Reason != certificate.ReasonEthicsAbort {
		t.Errorf("expected ethics_abort, got %q", out.Certificate.Reason)
	}
}

func TestRun_EthicsRecordPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.Run.EthicsPolicy = config.EthicsRecord
	out, err := newRunner(t, cfg, WithGuard(failAt(10))).Run(context.Background(), 1, true)
	if err != nil {
		t.Fatal(err)
	}
	if out.Stats.Aborted() || out.Stats.Len() != cfg.Run.Steps {
		t.Errorf("record policy must keep running: aborted=%v len=%d", out.Stats.Aborted(), out.Stats.Len())
	}
	if out.Certificate.Guards.EthicsClean || out.Certificate.Presence {
		t.Error("a recorded violation must fail ethics_clean")
	}
}

func TestRun_ExtraGuardKeepsDefault(t *testing.T) {
	cfg := testConfig()
	n := cfg.Run.Vocab
	uniform := make([]float64, n)
	for i := range uniform {
		uniform[i] = 1 / float64(n)
	}
	nanLoss := &fixedModel{obs: control.Observation{Snapshot: metrics.Snapshot{
		Output:    uniform,
		Attention: uniform,
		Loss:      math.NaN(),
	}}}
	extra := 0
	r, err := New(cfg, func(int64, int64) (control.Model, error) { return nanLoss, nil },
		WithGuard(ethics.GuardFunc(func([]byte, float64) ethics.Verdict {
			extra++
			return ethics.Pass
		})))
	if err != nil {
		t.Fatal(err)
	}
	out, err := r.Run(context.Background(), 1, true)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Stats.Aborted() || !strings.Contains(out.Stats.AbortReason, "non-finite loss") {
		t.Errorf("expected default guard to abort on NaN loss, got %q", out.Stats.AbortReason)
	}
	if extra != 0 {
		t.Errorf("extra guard should not run after the default guard fails, ran %d times", extra)
	}
}

// -----------------------------------------------------------------------------
// Failure Tests
// -----------------------------------------------------------------------------

func TestRun_ShapeMismatch(t *testing.T) {
	cfg := testConfig()
	bad := &fixedModel{obs: control.Observation{Snapshot: metrics.Snapshot{
		Output:    []float64{0.5, 0.5},
		Attention: []float64{0.5, 0.5},
	}}}
	r, err := New(cfg, func(int64, int64) (control.Model, error) { return bad, nil })
	if err != nil {
		t.Fatal(err)
	}
	_, err = r.Run(context.Background(), 1, true)
	if !rerrors.IsCode(err, rerrors.ErrSignalShapeMismatch) {
		t.Errorf("expected SIGNAL_SHAPE_MISMATCH, got %v", err)
	}
}

func TestRun_ModelError(t *testing.T) {
	boom := errors.New("boom")
	r, err := New(testConfig(), func(int64, int64) (control.Model, error) { return &fixedModel{err: boom}, nil })
	if err != nil {
		t.Fatal(err)
	}
	_, err = r.Run(context.Background(), 1, true)
	if !rerrors.IsCode(err, rerrors.ErrModelForwardFailed) || !errors.Is(err, boom) {
		t.Errorf("expected wrapped MODEL_FORWARD_FAILED, got %v", err)
	}
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newRunner(t, testConfig()).Run(ctx, 1, true)
	if !rerrors.IsCode(err, rerrors.ErrRunCanceled) || !errors.Is(err, context.Canceled) {
		t.Errorf("expected RUN_CANCELED wrapping context.Canceled, got %v", err)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Run.EthicsPolicy = "ignore"
	if _, err := New(cfg, ToyModels(cfg)); !rerrors.IsCode(err, rerrors.ErrConfigInvalid) {
		t.Errorf("expected CONFIG_INVALID, got %v", err)
	}
}

// -----------------------------------------------------------------------------
// Harness Integration
// -----------------------------------------------------------------------------

func TestTrial_FeedsHarness(t *testing.T) {
	cfg := testConfig()
	cfg.Run.Steps = 60
	cfg.AB.Seeds = []int64{1, 2, 3}
	r := newRunner(t, cfg)

	sum, err := abtest.New(cfg.AB, cfg.Metrics.Epsilon, r.Trial()).Run(context.Background())
	if err != nil {
		t.Fatalf("harness failed: %v", err)
	}
	if len(sum.Seeds) != 3 {
		t.Fatalf("expected 3 seed results, got %d", len(sum.Seeds))
	}
	for _, s := range sum.Seeds {
		if s.OffRunID == "" || s.OnRunID == "" || s.OffRunID == s.OnRunID {
			t.Errorf("seed %d: bad run IDs %q %q", s.Seed, s.OffRunID, s.OnRunID)
		}
	}
}

func TestTrial_SummaryReproducible(t *testing.T) {
	cfg := testConfig()
	cfg.Run.Steps = 60
	cfg.AB.Seeds = []int64{1, 2}
	run := func() *abtest.Summary {
		r := newRunner(t, cfg, WithExperimentHash("exp"))
		sum, err := abtest.New(cfg.AB, cfg.Metrics.Epsilon, r.Trial()).Run(context.Background())
		if err != nil {
			t.Fatalf("harness failed: %v", err)
		}
		return sum
	}
	a, b := run(), run()
	if !reflect.DeepEqual(a.Seeds, b.Seeds) {
		t.Errorf("expected identical seed results:\n%+v\n%+v", a.Seeds, b.Seeds)
	}
	if a.RCDelta != b.RCDelta || a.EnergyDelta != b.EnergyDelta {
		t.Errorf("expected identical intervals, got %+v and %+v", a.RCDelta, b.RCDelta)
	}
}

func TestRun_StableRunID(t *testing.T) {
	r := newRunner(t, testConfig(), WithExperimentHash("exp"))
	a, err := r.Run(context.Background(), 4, true)
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Run(context.Background(), 4, true)
	if err != nil {
		t.Fatal(err)
	}
	if a.Stats.ID != b.Stats.ID {
		t.Errorf("expected the same run ID, got %s and %s", a.Stats.ID, b.Stats.ID)
	}
	if a.Stats.ID != runstats.RunID("exp", 4, true) {
		t.Errorf("unexpected run ID %s", a.Stats.ID)
	}
	c, err := r.Run(context.Background(), 4, false)
	if err != nil {
		t.Fatal(err)
	}
	if c.Stats.ID == a.Stats.ID {
		t.Error("branches must not share a run ID")
	}
}

func TestBranchSeed(t *testing.T) {
	if BranchSeed(3, false) == BranchSeed(3, true) {
		t.Error("branches must use distinct streams")
	}
	if BranchSeed(3, true) == BranchSeed(4, false) {
		t.Error("seeds must not collide across branches")
	}
}
