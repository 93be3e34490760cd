// Package store persists runs, step records, certificates and A/B
// summaries in a SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/r3d91ll/reflex/pkg/abtest"
	"github.com/r3d91ll/reflex/pkg/certificate"
	rerrors "github.com/r3d91ll/reflex/pkg/errors"
	"github.com/r3d91ll/reflex/pkg/runstats"
)

// Memory is the path of a private in-memory database.
const Memory = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS runs(
	id TEXT PRIMARY KEY,
	seed INTEGER NOT NULL,
	controller INTEGER NOT NULL,
	started_at TEXT NOT NULL,
	ended_at TEXT,
	abort_reason TEXT NOT NULL DEFAULT '',
	steps INTEGER NOT NULL DEFAULT 0,
	upsilon_count INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS steps(
	run_id TEXT NOT NULL,
	t INTEGER NOT NULL,
	h REAL, d REAL, dd REAL, rc REAL, k REAL, zi REAL, e REAL,
	holonomy REAL, xi_delta REAL,
	fired INTEGER NOT NULL,
	phase INTEGER NOT NULL,
	ethics_ok INTEGER NOT NULL,
	gate TEXT NOT NULL DEFAULT '',
	temperature REAL, vstar REAL,
	cut INTEGER NOT NULL DEFAULT 0,
	fuse INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY(run_id, t)
);
CREATE TABLE IF NOT EXISTS certificates(
	run_id TEXT PRIMARY KEY,
	presence INTEGER NOT NULL,
	reason TEXT NOT NULL,
	xi_lock INTEGER NOT NULL,
	energy_down INTEGER NOT NULL,
	rc_up INTEGER NOT NULL,
	upsilon_band INTEGER NOT NULL,
	ethics_clean INTEGER NOT NULL,
	steps INTEGER NOT NULL,
	energy_head REAL, energy_tail REAL, rc_gain REAL, fire_rate REAL, xi_median REAL,
	experiment_hash TEXT NOT NULL DEFAULT '',
	issued_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS summaries(
	id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	experiment_hash TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL
);`

// RunInfo is the stored header of a run.
type RunInfo struct {
	ID           string     `json:"id"`
	Seed         int64      `json:"seed"`
	Controller   bool       `json:"controller"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	AbortReason  string     `json:"abort_reason,omitempty"`
	Steps        int        `json:"steps"`
	UpsilonCount int        `json:"upsilon_count"`
}

// SummaryInfo is the stored header of an A/B summary.
type SummaryInfo struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	ExperimentHash string    `json:"experiment_hash,omitempty"`
}

// Store is a SQLite-backed run store. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens or creates the database at path and applies the schema.
// Use Memory for a throwaway database.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, rerrors.StoreWrap(err, rerrors.ErrStoreOpenFailed, "failed to open store").
			WithContext("path", path)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, rerrors.StoreWrap(err, rerrors.ErrStoreOpenFailed, "failed to apply schema").
			WithContext("path", path)
	}
	logger.Debug().Str("path", path).Msg("store opened")
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun inserts or updates the run header.
func (s *Store) SaveRun(ctx context.Context, stats *runstats.RunStats) error {
	var ended sql.NullString
	if stats.EndedAt != nil {
		ended = sql.NullString{String: formatTime(*stats.EndedAt), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs(id, seed, controller, started_at, ended_at, abort_reason, steps, upsilon_count)
		VALUES(?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			started_at=excluded.started_at,
			ended_at=excluded.ended_at,
			abort_reason=excluded.abort_reason,
			steps=excluded.steps,
			upsilon_count=excluded.upsilon_count`,
		stats.ID, stats.Seed, stats.Controller, formatTime(stats.StartedAt), ended,
		stats.AbortReason, stats.Len(), stats.UpsilonCount)
	if err != nil {
		return rerrors.StoreWrap(err, rerrors.ErrStoreWriteFailed, "failed to save run").WithContext("run_id", stats.ID)
	}
	return nil
}

// StartRun saves the run header and drops any steps and certificate left
// under the same ID by an earlier identical run.
func (s *Store) StartRun(ctx context.Context, stats *runstats.RunStats) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rerrors.StoreWrap(err, rerrors.ErrStoreWriteFailed, "failed to begin run").WithContext("run_id", stats.ID)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM steps WHERE run_id = ?`,
		`DELETE FROM certificates WHERE run_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, stats.ID); err != nil {
			return rerrors.StoreWrap(err, rerrors.ErrStoreWriteFailed, "failed to reset run").WithContext("run_id", stats.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return rerrors.StoreWrap(err, rerrors.ErrStoreWriteFailed, "failed to reset run").WithContext("run_id", stats.ID)
	}
	return s.SaveRun(ctx, stats)
}

// AppendStep stores one step record of runID.
func (s *Store) AppendStep(ctx context.Context, runID string, r runstats.StepRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO steps(run_id, t, h, d, dd, rc, k, zi, e, holonomy, xi_delta,
			fired, phase, ethics_ok, gate, temperature, vstar, cut, fuse)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		runID, r.T, nullable(r.H), nullable(r.D), nullable(r.DD), nullable(r.RC), nullable(r.K), nullable(r.ZI), nullable(r.E),
		nullable(r.Holonomy), nullable(r.XiDelta), r.Fired, r.Phase, r.EthicsOK, r.Gate,
		nullable(r.Temperature), nullable(r.VStar), r.Cut, r.Fuse)
	if err != nil {
		return rerrors.StoreWrap(err, rerrors.ErrStoreWriteFailed, "failed to append step").
			WithContext("run_id", runID)
	}
	return nil
}

// DeleteRun removes a run with its steps and certificate.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rerrors.StoreWrap(err, rerrors.ErrStoreWriteFailed, "failed to begin delete").WithContext("run_id", id)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return rerrors.StoreWrap(err, rerrors.ErrStoreWriteFailed, "failed to delete run").WithContext("run_id", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return rerrors.StoreNotFound("run", id)
	}
	for _, q := range []string{
		`DELETE FROM steps WHERE run_id = ?`,
		`DELETE FROM certificates WHERE run_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return rerrors.StoreWrap(err, rerrors.ErrStoreWriteFailed, "failed to delete run").WithContext("run_id", id)
		}
	}
	if err := tx.Commit(); err != nil {
		return rerrors.StoreWrap(err, rerrors.ErrStoreWriteFailed, "failed to commit delete").WithContext("run_id", id)
	}
	s.logger.Debug().Str("run_id", id).Msg("run deleted")
	return nil
}

// SaveCertificate stores a run's certificate, replacing any previous one.
// Diagnostics are kept as columns so non-finite values survive as NULL.
func (s *Store) SaveCertificate(ctx context.Context, c certificate.Certificate) error {
	g, d := c.Guards, c.Diagnostics
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO certificates(run_id, presence, reason,
			xi_lock, energy_down, rc_up, upsilon_band, ethics_clean,
			steps, energy_head, energy_tail, rc_gain, fire_rate, xi_median,
			experiment_hash, issued_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.RunID, c.Presence, c.Reason,
		g.XiLock, g.EnergyDown, g.RCUp, g.UpsilonBand, g.EthicsClean,
		d.Steps, nullable(d.EnergyHead), nullable(d.EnergyTail), nullable(d.RCGain),
		nullable(d.FireRate), nullable(d.XiMedian),
		c.ExperimentHash, formatTime(c.IssuedAt))
	if err != nil {
		return rerrors.StoreWrap(err, rerrors.ErrStoreWriteFailed, "failed to save certificate").
			WithContext("run_id", c.RunID)
	}
	return nil
}

// SaveSummary stores an A/B summary.
func (s *Store) SaveSummary(ctx context.Context, sum *abtest.Summary) error {
	body, err := json.Marshal(sum)
	if err != nil {
		return rerrors.StoreWrap(err, rerrors.ErrStoreWriteFailed, "failed to encode summary")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO summaries(id, created_at, experiment_hash, body) VALUES(?,?,?,?)`,
		sum.ID, formatTime(sum.CreatedAt), sum.ExperimentHash, string(body))
	if err != nil {
		return rerrors.StoreWrap(err, rerrors.ErrStoreWriteFailed, "failed to save summary").
			WithContext("summary_id", sum.ID)
	}
	return nil
}

// ListRuns returns run headers, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]RunInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seed, controller, started_at, ended_at, abort_reason, steps, upsilon_count
		FROM runs ORDER BY started_at DESC, id`)
	if err != nil {
		return nil, rerrors.StoreWrap(err, rerrors.ErrStoreReadFailed, "failed to list runs")
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		info, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, rerrors.StoreWrap(err, rerrors.ErrStoreReadFailed, "failed to list runs")
	}
	return out, nil
}

// LoadRun returns one run header.
func (s *Store) LoadRun(ctx context.Context, id string) (*RunInfo, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, seed, controller, started_at, ended_at, abort_reason, steps, upsilon_count
		FROM runs WHERE id = ?`, id)
	info, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rerrors.StoreNotFound("run", id)
	}
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// LoadSteps returns the step records of a run in order. limit <= 0 returns
// every step; otherwise the last limit steps.
func (s *Store) LoadSteps(ctx context.Context, runID string, limit int) ([]runstats.StepRecord, error) {
	q := `SELECT t, h, d, dd, rc, k, zi, e, holonomy, xi_delta, fired, phase, ethics_ok,
		gate, temperature, vstar, cut, fuse FROM steps WHERE run_id = ?`
	args := []interface{}{runID}
	if limit > 0 {
		q = `SELECT * FROM (` + q + ` ORDER BY t DESC LIMIT ?) ORDER BY t`
		args = append(args, limit)
	} else {
		q += ` ORDER BY t`
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, rerrors.StoreWrap(err, rerrors.ErrStoreReadFailed, "failed to load steps").WithContext("run_id", runID)
	}
	defer rows.Close()

	var out []runstats.StepRecord
	for rows.Next() {
		var (
			r                                       runstats.StepRecord
			h, d, dd, rc, k, zi, e, hol, xi, tmp, v sql.NullFloat64
		)
		if err := rows.Scan(&r.T, &h, &d, &dd, &rc, &k, &zi, &e, &hol, &xi,
			&r.Fired, &r.Phase, &r.EthicsOK, &r.Gate, &tmp, &v, &r.Cut, &r.Fuse); err != nil {
			return nil, rerrors.StoreWrap(err, rerrors.ErrStoreReadFailed, "failed to scan step").WithContext("run_id", runID)
		}
		r.RunID = runID
		r.H, r.D, r.DD, r.RC = fromNullable(h), fromNullable(d), fromNullable(dd), fromNullable(rc)
		r.K, r.ZI, r.E = fromNullable(k), fromNullable(zi), fromNullable(e)
		r.Holonomy, r.XiDelta = fromNullable(hol), fromNullable(xi)
		r.Temperature, r.VStar = fromNullable(tmp), fromNullable(v)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, rerrors.StoreWrap(err, rerrors.ErrStoreReadFailed, "failed to load steps").WithContext("run_id", runID)
	}
	return out, nil
}

// LoadCertificate returns the certificate of a run.
func (s *Store) LoadCertificate(ctx context.Context, runID string) (*certificate.Certificate, error) {
	var (
		c                          certificate.Certificate
		head, tail, gain, fire, xi sql.NullFloat64
		issued                     string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, presence, reason, xi_lock, energy_down, rc_up, upsilon_band, ethics_clean,
			steps, energy_head, energy_tail, rc_gain, fire_rate, xi_median, experiment_hash, issued_at
		FROM certificates WHERE run_id = ?`, runID).Scan(
		&c.RunID, &c.Presence, &c.Reason,
		&c.Guards.XiLock, &c.Guards.EnergyDown, &c.Guards.RCUp, &c.Guards.UpsilonBand, &c.Guards.EthicsClean,
		&c.Diagnostics.Steps, &head, &tail, &gain, &fire, &xi, &c.ExperimentHash, &issued)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rerrors.StoreNotFound("certificate", runID)
	}
	if err != nil {
		return nil, rerrors.StoreWrap(err, rerrors.ErrStoreReadFailed, "failed to load certificate").WithContext("run_id", runID)
	}
	c.Diagnostics.EnergyHead, c.Diagnostics.EnergyTail = fromNullable(head), fromNullable(tail)
	c.Diagnostics.RCGain, c.Diagnostics.FireRate = fromNullable(gain), fromNullable(fire)
	c.Diagnostics.XiMedian = fromNullable(xi)
	c.IssuedAt = parseTime(issued)
	return &c, nil
}

// LoadSummary returns a stored A/B summary.
func (s *Store) LoadSummary(ctx context.Context, id string) (*abtest.Summary, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM summaries WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rerrors.StoreNotFound("summary", id)
	}
	if err != nil {
		return nil, rerrors.StoreWrap(err, rerrors.ErrStoreReadFailed, "failed to load summary").WithContext("summary_id", id)
	}
	var sum abtest.Summary
	if err := json.Unmarshal([]byte(body), &sum); err != nil {
		return nil, rerrors.StoreWrap(err, rerrors.ErrStoreReadFailed, "failed to decode summary").WithContext("summary_id", id)
	}
	return &sum, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(sc scanner) (RunInfo, error) {
	var (
		info    RunInfo
		started string
		ended   sql.NullString
	)
	err := sc.Scan(&info.ID, &info.Seed, &info.Controller, &started, &ended,
		&info.AbortReason, &info.Steps, &info.UpsilonCount)
	if errors.Is(err, sql.ErrNoRows) {
		return info, err
	}
	if err != nil {
		return info, rerrors.StoreWrap(err, rerrors.ErrStoreReadFailed, "failed to scan run")
	}
	info.StartedAt = parseTime(started)
	if ended.Valid {
		t := parseTime(ended.String)
		info.EndedAt = &t
	}
	return info, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// nullable maps non-finite values to NULL.
func nullable(f float64) sql.NullFloat64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}

// fromNullable maps NULL back to NaN.
func fromNullable(n sql.NullFloat64) float64 {
	if !n.Valid {
		return math.NaN()
	}
	return n.Float64
}

// Summaries lists stored A/B summaries as (id, created_at, experiment_hash)
// headers, newest first.
func (s *Store) Summaries(ctx context.Context) ([]SummaryInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, experiment_hash FROM summaries ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, rerrors.StoreWrap(err, rerrors.ErrStoreReadFailed, "failed to list summaries")
	}
	defer rows.Close()

	var out []SummaryInfo
	for rows.Next() {
		var (
			info    SummaryInfo
			created string
		)
		if err := rows.Scan(&info.ID, &created, &info.ExperimentHash); err != nil {
			return nil, rerrors.StoreWrap(err, rerrors.ErrStoreReadFailed, "failed to scan summary")
		}
		info.CreatedAt = parseTime(created)
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, rerrors.StoreWrap(err, rerrors.ErrStoreReadFailed, "failed to list summaries")
	}
	return out, nil
}
