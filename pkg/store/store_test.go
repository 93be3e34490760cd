package store

import (
	"context"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3d91ll/reflex/pkg/abtest"
	"github.com/r3d91ll/reflex/pkg/certificate"
	rerrors "github.com/r3d91ll/reflex/pkg/errors"
	"github.com/r3d91ll/reflex/pkg/runner"
	"github.com/r3d91ll/reflex/pkg/runstats"
)

// Compile-time check that Store is a runner sink.
var _ runner.Sink = (*Store)(nil)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Memory, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRun(n int) *runstats.RunStats {
	stats := runstats.New(7, true)
	for i := 0; i < n; i++ {
		stats.Append(runstats.StepRecord{
			T:           i,
			H:           1.5 - 0.01*float64(i),
			D:           0.1,
			RC:          0.5 + 0.01*float64(i),
			E:           2.0 - 0.02*float64(i),
			XiDelta:     math.NaN(),
			Fired:       i%3 == 0,
			Phase:       1,
			EthicsOK:    true,
			Gate:        "IDLE",
			Temperature: 1.0,
		})
	}
	return stats
}

// ============================================================================
// Runs and steps
// ============================================================================

func TestSaveRun_RoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	stats := sampleRun(5)
	stats.Complete()

	require.NoError(t, s.SaveRun(ctx, stats))

	info, err := s.LoadRun(ctx, stats.ID)
	require.NoError(t, err)
	assert.Equal(t, stats.ID, info.ID)
	assert.Equal(t, int64(7), info.Seed)
	assert.True(t, info.Controller)
	assert.Equal(t, 5, info.Steps)
	assert.Equal(t, stats.UpsilonCount, info.UpsilonCount)
	require.NotNil(t, info.EndedAt)
}

func TestSaveRun_Upserts(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	stats := runstats.New(1, false)
	require.NoError(t, s.SaveRun(ctx, stats))

	info, err := s.LoadRun(ctx, stats.ID)
	require.NoError(t, err)
	assert.Nil(t, info.EndedAt)

	stats.Append(runstats.StepRecord{T: 0})
	stats.Abort("banned output")
	stats.Complete()
	require.NoError(t, s.SaveRun(ctx, stats))

	info, err = s.LoadRun(ctx, stats.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Steps)
	assert.Equal(t, "banned output", info.AbortReason)
	assert.NotNil(t, info.EndedAt)

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestLoadRun_NotFound(t *testing.T) {
	s := openTest(t)
	_, err := s.LoadRun(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, rerrors.IsCode(err, rerrors.ErrStoreNotFound))
}

func TestSteps_RoundTripKeepsNaN(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	stats := sampleRun(10)
	require.NoError(t, s.SaveRun(ctx, stats))
	for _, r := range stats.Records() {
		require.NoError(t, s.AppendStep(ctx, stats.ID, r))
	}

	got, err := s.LoadSteps(ctx, stats.ID, 0)
	require.NoError(t, err)
	require.Len(t, got, 10)
	for i, r := range got {
		assert.Equal(t, i, r.T)
		assert.Equal(t, stats.ID, r.RunID)
		assert.InDelta(t, 0.5+0.01*float64(i), r.RC, 1e-12)
		assert.True(t, math.IsNaN(r.XiDelta), "NULL should read back as NaN")
		assert.Equal(t, i%3 == 0, r.Fired)
		assert.Equal(t, "IDLE", r.Gate)
	}
}

func TestLoadSteps_LimitReturnsTailInOrder(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	stats := sampleRun(10)
	for _, r := range stats.Records() {
		require.NoError(t, s.AppendStep(ctx, stats.ID, r))
	}

	got, err := s.LoadSteps(ctx, stats.ID, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int{7, 8, 9}, []int{got[0].T, got[1].T, got[2].T})
}

func TestAppendStep_DuplicateFails(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	rec := runstats.StepRecord{T: 0}
	require.NoError(t, s.AppendStep(ctx, "r", rec))

	err := s.AppendStep(ctx, "r", rec)
	require.Error(t, err)
	assert.True(t, rerrors.IsCode(err, rerrors.ErrStoreWriteFailed))
}

func TestDeleteRun(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	stats := sampleRun(3)
	require.NoError(t, s.RunStarted(stats))
	for _, r := range stats.Records() {
		require.NoError(t, s.StepRecorded(stats.ID, r))
	}
	cert := certificate.FromGuards(certificate.Guards{})
	cert.RunID = stats.ID
	require.NoError(t, s.RunFinished(stats, cert))

	require.NoError(t, s.DeleteRun(ctx, stats.ID))

	_, err := s.LoadRun(ctx, stats.ID)
	assert.True(t, rerrors.IsCode(err, rerrors.ErrStoreNotFound))
	steps, err := s.LoadSteps(ctx, stats.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, steps)
	_, err = s.LoadCertificate(ctx, stats.ID)
	assert.True(t, rerrors.IsCode(err, rerrors.ErrStoreNotFound))

	err = s.DeleteRun(ctx, stats.ID)
	assert.True(t, rerrors.IsCode(err, rerrors.ErrStoreNotFound))
}

// ============================================================================
// Certificates and summaries
// ============================================================================

func TestCertificate_RoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	c := certificate.FromGuards(certificate.Guards{
		XiLock: true, EnergyDown: true, RCUp: false, UpsilonBand: true, EthicsClean: true,
	})
	c.RunID = "run-1"
	c.Diagnostics = certificate.Diagnostics{Steps: 40, EnergyHead: 2, EnergyTail: 1, RCGain: -0.1, FireRate: 0.2, XiMedian: math.NaN()}
	c = c.WithHash("abc123")
	require.NoError(t, s.SaveCertificate(ctx, c))

	got, err := s.LoadCertificate(ctx, "run-1")
	require.NoError(t, err)
	assert.False(t, got.Presence)
	assert.Equal(t, "rc_up", got.Reason)
	assert.Equal(t, c.Guards, got.Guards)
	assert.Equal(t, 40, got.Diagnostics.Steps)
	assert.Equal(t, 0.2, got.Diagnostics.FireRate)
	assert.True(t, math.IsNaN(got.Diagnostics.XiMedian))
	assert.Equal(t, "abc123", got.ExperimentHash)
	assert.WithinDuration(t, c.IssuedAt, got.IssuedAt, 0)
}

func TestLoadCertificate_NotFound(t *testing.T) {
	s := openTest(t)
	_, err := s.LoadCertificate(context.Background(), "nope")
	assert.True(t, rerrors.IsCode(err, rerrors.ErrStoreNotFound))
}

func TestSummary_RoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	sum := &abtest.Summary{
		ID:             "sum-1",
		Seeds:          []abtest.SeedResult{{Seed: 1, OffRCSlope: 0.1, OnRCSlope: 0.2}},
		RCDelta:        abtest.Interval{Mean: 0.1, Low: 0.05, High: 0.15},
		CohenDRC:       1.2,
		Resamples:      100,
		BootstrapSeed:  42,
		Confidence:     0.95,
		ExperimentHash: "h",
	}
	require.NoError(t, s.SaveSummary(ctx, sum))

	got, err := s.LoadSummary(ctx, "sum-1")
	require.NoError(t, err)
	assert.Equal(t, sum.Seeds, got.Seeds)
	assert.Equal(t, sum.RCDelta, got.RCDelta)
	assert.Equal(t, 1.2, got.CohenDRC)

	list, err := s.Summaries(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "h", list[0].ExperimentHash)

	_, err = s.LoadSummary(ctx, "other")
	assert.True(t, rerrors.IsCode(err, rerrors.ErrStoreNotFound))
}

func TestSummary_RoundTripKeepsNaN(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	nan := math.NaN()
	sum := &abtest.Summary{
		ID: "sum-nan",
		Seeds: []abtest.SeedResult{
			{Seed: 1, OffEnergySlope: 0.01, OnEnergySlope: nan, FireRate: 0.2},
			{Seed: 2, OffEnergySlope: 0.02, OnEnergySlope: 0.03, FireRate: 0.1},
		},
		EnergySlopeOn: abtest.Interval{Mean: nan, Low: nan, High: nan},
		RCDelta:       abtest.Interval{Mean: 0.1, Low: 0.05, High: 0.15},
		CohenDEnergy:  nan,
		CohenDRC:      0.7,
		Confidence:    0.95,
	}
	require.NoError(t, s.SaveSummary(ctx, sum))

	got, err := s.LoadSummary(ctx, "sum-nan")
	require.NoError(t, err)
	require.Len(t, got.Seeds, 2)
	assert.True(t, math.IsNaN(got.Seeds[0].OnEnergySlope))
	assert.Equal(t, 0.01, got.Seeds[0].OffEnergySlope)
	assert.Equal(t, sum.Seeds[1], got.Seeds[1])
	assert.True(t, math.IsNaN(got.EnergySlopeOn.Mean))
	assert.True(t, math.IsNaN(got.EnergySlopeOn.High))
	assert.True(t, math.IsNaN(got.CohenDEnergy))
	assert.Equal(t, sum.RCDelta, got.RCDelta)
	assert.Equal(t, 0.7, got.CohenDRC)
	assert.Equal(t, 0.95, got.Confidence)
}

// ============================================================================
// Sink
// ============================================================================

func TestSink_StoresWholeRun(t *testing.T) {
	s := openTest(t)
	stats := runstats.New(3, false)
	require.NoError(t, s.RunStarted(stats))

	for i := 0; i < 4; i++ {
		rec := runstats.StepRecord{T: i, E: float64(4 - i), EthicsOK: true}
		stats.Append(rec)
		require.NoError(t, s.StepRecorded(stats.ID, rec))
	}
	stats.Complete()
	cert := certificate.FromGuards(certificate.Guards{})
	cert.RunID = stats.ID
	require.NoError(t, s.RunFinished(stats, cert))

	ctx := context.Background()
	info, err := s.LoadRun(ctx, stats.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, info.Steps)

	steps, err := s.LoadSteps(ctx, stats.ID, 0)
	require.NoError(t, err)
	assert.Len(t, steps, 4)

	_, err = s.LoadCertificate(ctx, stats.ID)
	assert.NoError(t, err)
}

func TestSink_RerunReplacesSteps(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	id := runstats.RunID("hash", 3, true)

	run := func(n int) {
		stats := runstats.New(3, true)
		stats.ID = id
		require.NoError(t, s.RunStarted(stats))
		for i := 0; i < n; i++ {
			rec := runstats.StepRecord{T: i, EthicsOK: true}
			stats.Append(rec)
			require.NoError(t, s.StepRecorded(id, rec))
		}
		stats.Complete()
		cert := certificate.FromGuards(certificate.Guards{})
		cert.RunID = id
		require.NoError(t, s.RunFinished(stats, cert))
	}
	run(5)
	run(3)

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 3, runs[0].Steps)

	steps, err := s.LoadSteps(ctx, id, 0)
	require.NoError(t, err)
	assert.Len(t, steps, 3)
}
