package runner

import (
	"strconv"

	"github.com/r3d91ll/reflex/pkg/certificate"
	"github.com/r3d91ll/reflex/pkg/runstats"
)

// Sink receives run lifecycle events. Sinks are called synchronously from
// the run loop; an error ends the run.
type Sink interface {
	RunStarted(stats *runstats.RunStats) error
	StepRecorded(runID string, rec runstats.StepRecord) error
	RunFinished(stats *runstats.RunStats, cert certificate.Certificate) error
}

// Collector is an in-memory Sink, mostly for tests.
type Collector struct {
	Started      []string
	Steps        []runstats.StepRecord
	Certificates []certificate.Certificate
}

// RunStarted implements Sink.
func (c *Collector) RunStarted(stats *runstats.RunStats) error {
	c.Started = append(c.Started, stats.ID)
	return nil
}

// StepRecorded implements Sink.
func (c *Collector) StepRecorded(_ string, rec runstats.StepRecord) error {
	c.Steps = append(c.Steps, rec)
	return nil
}

// RunFinished implements Sink.
func (c *Collector) RunFinished(_ *runstats.RunStats, cert certificate.Certificate) error {
	c.Certificates = append(c.Certificates, cert)
	return nil
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
