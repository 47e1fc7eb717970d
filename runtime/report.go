package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pithecene-io/lhrunner/metrics"
	"github.com/pithecene-io/lhrunner/types"
)

// RunReport is the structured JSON report written by `run --report`.
type RunReport struct {
	RunID      string            `json:"run_id"`
	Target     string            `json:"url"`
	DryRun     bool              `json:"dry_run"`
	DurationMs int64             `json:"duration_ms"`
	TimeoutMs  int64             `json:"timeout_ms"`
	Succeeded  int               `json:"succeeded"`
	Failed     int               `json:"failed"`
	Runs       []ReportRun       `json:"runs"`
	Disabled   map[string]string `json:"disabled_backends,omitempty"`
	Bundle     string            `json:"bundle,omitempty"`
	Metrics    *metrics.Snapshot `json:"metrics"`
}

// ReportRun is one run entry in the report.
type ReportRun struct {
	Type         string `json:"type"`
	Success      bool   `json:"success"`
	FinalURL     string `json:"final_url,omitempty"`
	RuntimeError string `json:"runtime_error,omitempty"`
}

// BuildRunReport composes a RunReport from a RunSet and metrics snapshot.
func BuildRunReport(runID string, set *types.RunSet, snap metrics.Snapshot, duration, timeout time.Duration) *RunReport {
	summary := set.Summary()
	ok, failed := summary.Counts()

	report := &RunReport{
		RunID:      runID,
		Target:     set.Target,
		DryRun:     snap.Mode == "dry-run",
		DurationMs: duration.Milliseconds(),
		TimeoutMs:  timeout.Milliseconds(),
		Succeeded:  ok,
		Failed:     failed,
		Runs:       make([]ReportRun, 0, len(set.Results)),
		Metrics:    &snap,
	}
	for _, r := range set.Results {
		run := ReportRun{Type: r.Type, Success: r.Success}
		if m := r.Measurement; m != nil {
			run.FinalURL = m.FinalURL
			if m.Fatal() {
				run.RuntimeError = m.RuntimeError.Code
			}
		}
		report.Runs = append(report.Runs, run)
	}
	return report
}

// WriteRunReport writes the report as JSON to the specified path.
// If path is "-", writes to stderr.
func WriteRunReport(report *RunReport, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}

	if path == "-" {
		if err := writeRunReportTo(report, os.Stderr); err != nil {
			return fmt.Errorf("failed to write report to stderr: %w", err)
		}
		return nil
	}

	data, err := marshalReport(report)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}

func marshalReport(report *RunReport) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return append(data, '\n'), nil
}

// writeRunReportTo writes report JSON to any writer.
func writeRunReportTo(report *RunReport, w io.Writer) error {
	data, err := marshalReport(report)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
