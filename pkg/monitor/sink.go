package monitor

import (
	"github.com/r3d91ll/reflex/pkg/abtest"
	"github.com/r3d91ll/reflex/pkg/certificate"
	"github.com/r3d91ll/reflex/pkg/runstats"
)

// RunStarted publishes the run header on the steps channel.
func (h *Hub) RunStarted(stats *runstats.RunStats) error {
	return h.Publish(ChannelSteps, EventRunStarted, RunStartedData{
		RunID: stats.ID, Seed: stats.Seed, Controller: stats.Controller,
	})
}

// StepRecorded publishes one step record.
func (h *Hub) StepRecorded(runID string, rec runstats.StepRecord) error {
	return h.Publish(ChannelSteps, EventStep, stepData(runID, rec))
}

// RunFinished publishes the run's certificate.
func (h *Hub) RunFinished(_ *runstats.RunStats, cert certificate.Certificate) error {
	return h.Publish(ChannelCertificates, EventCertificate, certificateData(cert))
}

// SummaryReady publishes an A/B summary.
func (h *Hub) SummaryReady(s *abtest.Summary) error {
	return h.Publish(ChannelSummaries, EventSummary, summaryData(s))
}
