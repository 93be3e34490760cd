package export

import (
	"io"
	"sync"

	"github.com/r3d91ll/reflex/pkg/certificate"
	"github.com/r3d91ll/reflex/pkg/runstats"
)

// StepSink streams step records of every run to one CSV writer. It
// satisfies runner.Sink and may be shared by parallel runs; rows of
// concurrent runs interleave and are told apart by run_id.
type StepSink struct {
	mu sync.Mutex
	w  *StepWriter
}

// NewStepSink creates a StepSink over w.
func NewStepSink(w io.Writer, config *CSVConfig) *StepSink {
	return &StepSink{w: NewStepWriter(w, config)}
}

// RunStarted implements runner.Sink.
func (s *StepSink) RunStarted(*runstats.RunStats) error {
	return nil
}

// StepRecorded implements runner.Sink.
func (s *StepSink) StepRecorded(_ string, rec runstats.StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(rec)
}

// RunFinished implements runner.Sink.
func (s *StepSink) RunFinished(*runstats.RunStats, certificate.Certificate) error {
	return s.Flush()
}

// Flush writes any buffered rows.
func (s *StepSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}

// RowsWritten returns the number of step rows written.
func (s *StepSink) RowsWritten() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.RowsWritten()
}
