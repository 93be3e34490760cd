// Package export writes run histories and A/B summaries as CSV and
// computes the experiment hash stamped on certificates and summaries.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/r3d91ll/reflex/pkg/abtest"
	"github.com/r3d91ll/reflex/pkg/runstats"
)

// CSVDialect specifies the CSV format variant.
type CSVDialect string

const (
	// DialectStandard uses RFC 4180 compliant CSV (comma-separated, quoted strings).
	DialectStandard CSVDialect = "standard"

	// DialectTSV uses tab-separated values instead of comma.
	DialectTSV CSVDialect = "tsv"
)

// CSVConfig specifies options for CSV export.
type CSVConfig struct {
	// Dialect specifies the CSV format variant.
	// Default: DialectStandard
	Dialect CSVDialect

	// IncludeHeader writes column headers as the first row.
	// Default: true
	IncludeHeader bool

	// Precision is the number of decimal places for floating-point values.
	// Default: 6
	Precision int

	// NAString is the representation for NaN and infinite values.
	// Default: "NA" (compatible with R and pandas)
	NAString string

	// IncludeDiagnostics adds the gate, temperature, vstar, cut and fuse
	// columns to step exports.
	// Default: true
	IncludeDiagnostics bool
}

// DefaultCSVConfig returns a CSVConfig with sensible defaults.
func DefaultCSVConfig() *CSVConfig {
	return &CSVConfig{
		Dialect:            DialectStandard,
		IncludeHeader:      true,
		Precision:          6,
		NAString:           "NA",
		IncludeDiagnostics: true,
	}
}

// table is the shared row writer behind the step and seed writers.
type table struct {
	config      *CSVConfig
	writer      *csv.Writer
	headers     []string
	headerDone  bool
	rowsWritten int
}

func newTable(w io.Writer, config *CSVConfig, headers []string) *table {
	if config == nil {
		config = DefaultCSVConfig()
	}
	cw := csv.NewWriter(w)
	if config.Dialect == DialectTSV {
		cw.Comma = '\t'
	}
	return &table{config: config, writer: cw, headers: headers}
}

func (t *table) writeHeader() error {
	if t.headerDone {
		return nil
	}
	if err := t.writer.Write(t.headers); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	t.headerDone = true
	return nil
}

func (t *table) write(row []string) error {
	if t.config.IncludeHeader && !t.headerDone {
		if err := t.writeHeader(); err != nil {
			return err
		}
	}
	if err := t.writer.Write(row); err != nil {
		return fmt.Errorf("failed to write CSV row: %w", err)
	}
	t.rowsWritten++
	return nil
}

func (t *table) flush() error {
	t.writer.Flush()
	if err := t.writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV writer: %w", err)
	}
	return nil
}

// formatFloat formats f with the configured precision, or NA when f is
// not finite.
func (t *table) formatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return t.config.NAString
	}
	return strconv.FormatFloat(f, 'f', t.config.Precision, 64)
}

// formatBool formats a boolean as "TRUE" or "FALSE" for R/Python compatibility.
func formatBool(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

// -----------------------------------------------------------------------------
// Step records
// -----------------------------------------------------------------------------

// StepWriter writes step records, one row per step.
type StepWriter struct {
	*table
}

// NewStepWriter creates a StepWriter. If config is nil, DefaultCSVConfig()
// is used.
func NewStepWriter(w io.Writer, config *CSVConfig) *StepWriter {
	if config == nil {
		config = DefaultCSVConfig()
	}
	headers := []string{
		"run_id", "t", "h", "d", "dd", "rc", "k", "zi", "e",
		"holonomy", "xi_delta", "fired", "phase", "ethics_ok",
	}
	if config.IncludeDiagnostics {
		headers = append(headers, "gate", "temperature", "vstar", "cut", "fuse")
	}
	return &StepWriter{newTable(w, config, headers)}
}

// Write writes one step record.
func (sw *StepWriter) Write(rec runstats.StepRecord) error {
	row := []string{
		rec.RunID,
		strconv.Itoa(rec.T),
		sw.formatFloat(rec.H),
		sw.formatFloat(rec.D),
		sw.formatFloat(rec.DD),
		sw.formatFloat(rec.RC),
		sw.formatFloat(rec.K),
		sw.formatFloat(rec.ZI),
		sw.formatFloat(rec.E),
		sw.formatFloat(rec.Holonomy),
		sw.formatFloat(rec.XiDelta),
		formatBool(rec.Fired),
		strconv.Itoa(rec.Phase),
		formatBool(rec.EthicsOK),
	}
	if sw.config.IncludeDiagnostics {
		row = append(row,
			rec.Gate,
			sw.formatFloat(rec.Temperature),
			sw.formatFloat(rec.VStar),
			formatBool(rec.Cut),
			formatBool(rec.Fuse),
		)
	}
	return sw.write(row)
}

// WriteAll writes multiple step records.
func (sw *StepWriter) WriteAll(recs []runstats.StepRecord) error {
	for _, r := range recs {
		if err := sw.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// Flush flushes any buffered data to the underlying writer.
func (sw *StepWriter) Flush() error {
	return sw.flush()
}

// RowsWritten returns the number of data rows written (excluding header).
func (sw *StepWriter) RowsWritten() int {
	return sw.rowsWritten
}

// ExportStepsToCSV writes a run's step records.
func ExportStepsToCSV(w io.Writer, stats *runstats.RunStats, config *CSVConfig) error {
	sw := NewStepWriter(w, config)
	if err := sw.WriteAll(stats.Records()); err != nil {
		return err
	}
	return sw.Flush()
}

// -----------------------------------------------------------------------------
// A/B rows
// -----------------------------------------------------------------------------

// ExportSummaryToCSV writes one row per seed of an A/B summary followed by
// one row per aggregate interval. Aggregate rows use "mean", "low" and
// "high" in place of the seed columns.
func ExportSummaryToCSV(w io.Writer, sum *abtest.Summary, config *CSVConfig) error {
	t := newTable(w, config, []string{
		"summary_id", "seed", "off_run_id", "on_run_id",
		"off_rc_slope", "on_rc_slope", "off_energy_slope", "on_energy_slope", "fire_rate",
	})
	for _, s := range sum.Seeds {
		if err := t.write([]string{
			sum.ID,
			strconv.FormatInt(s.Seed, 10),
			s.OffRunID,
			s.OnRunID,
			t.formatFloat(s.OffRCSlope),
			t.formatFloat(s.OnRCSlope),
			t.formatFloat(s.OffEnergySlope),
			t.formatFloat(s.OnEnergySlope),
			t.formatFloat(s.FireRate),
		}); err != nil {
			return err
		}
	}

	for _, agg := range []struct {
		label string
		pick  func(abtest.Interval) float64
	}{
		{"mean", func(iv abtest.Interval) float64 { return iv.Mean }},
		{"low", func(iv abtest.Interval) float64 { return iv.Low }},
		{"high", func(iv abtest.Interval) float64 { return iv.High }},
	} {
		if err := t.write([]string{
			sum.ID,
			agg.label,
			t.config.NAString,
			t.config.NAString,
			t.formatFloat(agg.pick(sum.RCSlopeOff)),
			t.formatFloat(agg.pick(sum.RCSlopeOn)),
			t.formatFloat(agg.pick(sum.EnergySlopeOff)),
			t.formatFloat(agg.pick(sum.EnergySlopeOn)),
			t.formatFloat(agg.pick(sum.FireRate)),
		}); err != nil {
			return err
		}
	}
	return t.flush()
}
