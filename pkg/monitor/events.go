package monitor

import (
	"math"

	"github.com/r3d91ll/reflex/pkg/abtest"
	"github.com/r3d91ll/reflex/pkg/certificate"
	"github.com/r3d91ll/reflex/pkg/runstats"
)

// RunStartedData announces a run.
type RunStartedData struct {
	RunID      string `json:"run_id"`
	Seed       int64  `json:"seed"`
	Controller bool   `json:"controller"`
}

// StepData is a step record on the wire. Non-finite values are null.
type StepData struct {
	RunID       string   `json:"run_id"`
	T           int      `json:"t"`
	H           *float64 `json:"h"`
	D           *float64 `json:"d"`
	DD          *float64 `json:"dd"`
	RC          *float64 `json:"rc"`
	K           *float64 `json:"k"`
	ZI          *float64 `json:"zi"`
	E           *float64 `json:"e"`
	Holonomy    *float64 `json:"holonomy"`
	XiDelta     *float64 `json:"xi_delta"`
	Fired       bool     `json:"fired"`
	Phase       int      `json:"phase"`
	EthicsOK    bool     `json:"ethics_ok"`
	Gate        string   `json:"gate"`
	Temperature *float64 `json:"temperature"`
}

// CertificateData is a certificate on the wire.
type CertificateData struct {
	RunID          string             `json:"run_id"`
	Presence       bool               `json:"presence"`
	Reason         string             `json:"reason"`
	Guards         certificate.Guards `json:"guards"`
	Steps          int                `json:"steps"`
	FireRate       *float64           `json:"fire_rate"`
	XiMedian       *float64           `json:"xi_median"`
	ExperimentHash string             `json:"experiment_hash,omitempty"`
}

// SummaryData is the headline of an A/B summary.
type SummaryData struct {
	ID             string          `json:"id"`
	Seeds          int             `json:"seeds"`
	RCDelta        abtest.Interval `json:"rc_delta"`
	EnergyDelta    abtest.Interval `json:"energy_delta"`
	CohenDRC       *float64        `json:"cohen_d_rc"`
	CohenDEnergy   *float64        `json:"cohen_d_energy"`
	ExperimentHash string          `json:"experiment_hash,omitempty"`
}

func stepData(runID string, r runstats.StepRecord) StepData {
	return StepData{
		RunID: runID, T: r.T,
		H: num(r.H), D: num(r.D), DD: num(r.DD), RC: num(r.RC), K: num(r.K),
		ZI: num(r.ZI), E: num(r.E), Holonomy: num(r.Holonomy), XiDelta: num(r.XiDelta),
		Fired: r.Fired, Phase: r.Phase, EthicsOK: r.EthicsOK, Gate: r.Gate,
		Temperature: num(r.Temperature),
	}
}

func certificateData(c certificate.Certificate) CertificateData {
	return CertificateData{
		RunID:          c.RunID,
		Presence:       c.Presence,
		Reason:         c.Reason,
		Guards:         c.Guards,
		Steps:          c.Diagnostics.Steps,
		FireRate:       num(c.Diagnostics.FireRate),
		XiMedian:       num(c.Diagnostics.XiMedian),
		ExperimentHash: c.ExperimentHash,
	}
}

func summaryData(s *abtest.Summary) SummaryData {
	return SummaryData{
		ID:             s.ID,
		Seeds:          len(s.Seeds),
		RCDelta:        s.RCDelta,
		EnergyDelta:    s.EnergyDelta,
		CohenDRC:       num(s.CohenDRC),
		CohenDEnergy:   num(s.CohenDEnergy),
		ExperimentHash: s.ExperimentHash,
	}
}

func num(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
