// Package runstats holds the per-run history of step records consumed by
// the certificate evaluator and the A/B harness.
package runstats

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StepRecord is the flat per-step record emitted by a run.
type StepRecord struct {
	RunID string `json:"run_id"`
	T     int    `json:"t"`

	H        float64 `json:"h"`
	D        float64 `json:"d"`
	DD       float64 `json:"dd"`
	RC       float64 `json:"rc"`
	K        float64 `json:"k"`
	ZI       float64 `json:"zi"`
	E        float64 `json:"e"`
	Holonomy float64 `json:"holonomy"`
	XiDelta  float64 `json:"xi_delta"`

	Fired    bool   `json:"fired"`
	Phase    int    `json:"phase"`
	EthicsOK bool   `json:"ethics_ok"`
	Gate     string `json:"gate,omitempty"`

	Temperature float64 `json:"temperature"`
	VStar       float64 `json:"vstar"`
	Cut         bool    `json:"cut,omitempty"`
	Fuse        bool    `json:"fuse,omitempty"`
}

// RunStats is the ordered step history of one run. It accepts appends
// until Complete is called and is read-only afterwards.
type RunStats struct {
	ID          string     `json:"id"`
	Seed        int64      `json:"seed"`
	Controller  bool       `json:"controller"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	AbortReason string     `json:"abort_reason,omitempty"`

	Steps        []StepRecord `json:"steps"`
	UpsilonCount int          `json:"upsilon_count"`

	mu       sync.RWMutex
	complete bool
}

// New creates an empty history for a run with the given seed.
func New(seed int64, controller bool) *RunStats {
	return &RunStats{
		ID:         uuid.New().String(),
		Seed:       seed,
		Controller: controller,
		StartedAt:  time.Now(),
		Steps:      make([]StepRecord, 0),
	}
}

// RunID derives a stable run ID from the experiment hash, seed and
// branch, so reruns of an identical experiment reuse the same IDs.
func RunID(experimentHash string, seed int64, controller bool) string {
	branch := "off"
	if controller {
		branch = "on"
	}
	name := fmt.Sprintf("reflex/%s/%d/%s", experimentHash, seed, branch)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// Append adds a record and counts gate fires. It reports false once the
// run is complete.
func (r *RunStats) Append(rec StepRecord) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.complete {
		return false
	}
	rec.RunID = r.ID
	r.Steps = append(r.Steps, rec)
	if rec.Fired {
		r.UpsilonCount++
	}
	return true
}

// Abort records the reason the run stopped early. Only the first reason
// is kept.
func (r *RunStats) Abort(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.complete || r.AbortReason != "" {
		return
	}
	r.AbortReason = reason
}

// Complete freezes the history.
func (r *RunStats) Complete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.complete {
		return
	}
	now := time.Now()
	r.EndedAt = &now
	r.complete = true
}

// IsComplete reports whether Complete has been called.
func (r *RunStats) IsComplete() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.complete
}

// Aborted reports whether the run stopped on an abort.
func (r *RunStats) Aborted() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.AbortReason != ""
}

// Len returns the number of recorded steps.
func (r *RunStats) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.Steps)
}

// Records returns a copy of the step records.
func (r *RunStats) Records() []StepRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]StepRecord(nil), r.Steps...)
}

// FireRate is UpsilonCount / steps, 0 for an empty run.
func (r *RunStats) FireRate() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.Steps) == 0 {
		return 0
	}
	return float64(r.UpsilonCount) / float64(len(r.Steps))
}

// EthicsClean reports whether no step failed the ethics guard and the run
// was not aborted.
func (r *RunStats) EthicsClean() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.AbortReason != "" {
		return false
	}
	for _, s := range r.Steps {
		if !s.EthicsOK {
			return false
		}
	}
	return true
}

// Series extracts one signal per step, in order.
func (r *RunStats) Series(f func(StepRecord) float64) []float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]float64, len(r.Steps))
	for i, s := range r.Steps {
		out[i] = f(s)
	}
	return out
}

// Summary holds run-level aggregates.
type Summary struct {
	Steps       int     `json:"steps"`
	Fires       int     `json:"fires"`
	Flips       int     `json:"flips"`
	FireRate    float64 `json:"fire_rate"`
	AvgRC       float64 `json:"avg_rc"`
	AvgE        float64 `json:"avg_e"`
	FinalRC     float64 `json:"final_rc"`
	FinalE      float64 `json:"final_e"`
	EthicsClean bool    `json:"ethics_clean"`
}

// Summarize computes the run-level aggregates.
func (r *RunStats) Summarize() Summary {
	clean := r.EthicsClean()

	r.mu.RLock()
	defer r.mu.RUnlock()

	sum := Summary{
		Steps:       len(r.Steps),
		Fires:       r.UpsilonCount,
		EthicsClean: clean,
	}
	if len(r.Steps) == 0 {
		return sum
	}

	var totalRC, totalE float64
	phase := r.Steps[0].Phase
	for _, s := range r.Steps {
		totalRC += s.RC
		totalE += s.E
		if s.Phase != phase {
			sum.Flips++
			phase = s.Phase
		}
	}
	n := float64(len(r.Steps))
	sum.FireRate = float64(r.UpsilonCount) / n
	sum.AvgRC = totalRC / n
	sum.AvgE = totalE / n
	last := r.Steps[len(r.Steps)-1]
	sum.FinalRC = last.RC
	sum.FinalE = last.E
	return sum
}
