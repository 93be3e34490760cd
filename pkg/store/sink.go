package store

import (
	"context"

	"github.com/r3d91ll/reflex/pkg/certificate"
	"github.com/r3d91ll/reflex/pkg/runstats"
)

// RunStarted records the run header, replacing an earlier run with the
// same ID.
func (s *Store) RunStarted(stats *runstats.RunStats) error {
	return s.StartRun(context.Background(), stats)
}

// StepRecorded appends one step.
func (s *Store) StepRecorded(runID string, rec runstats.StepRecord) error {
	return s.AppendStep(context.Background(), runID, rec)
}

// RunFinished updates the run header and stores the certificate.
func (s *Store) RunFinished(stats *runstats.RunStats, cert certificate.Certificate) error {
	ctx := context.Background()
	if err := s.SaveRun(ctx, stats); err != nil {
		return err
	}
	if err := s.SaveCertificate(ctx, cert); err != nil {
		return err
	}
	s.logger.Debug().Str("run_id", stats.ID).Bool("presence", cert.Presence).Msg("run stored")
	return nil
}
