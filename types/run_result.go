// Package types defines core domain types for the lhrunner harness.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// RuntimeErrorNone is the runtime error code Lighthouse reports for a clean run.
const RuntimeErrorNone = "NO_ERROR"

// RuntimeError is the fatal runtime error block of a measurement.
type RuntimeError struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// Measurement is the structured result produced by a backend.
// Raw holds the full result document as returned by the measuring tool;
// the remaining fields are extracted from it.
type Measurement struct {
	LighthouseVersion string          `json:"lighthouse_version,omitempty"`
	RequestedURL      string          `json:"requested_url,omitempty"`
	FinalURL          string          `json:"final_url,omitempty"`
	FetchTime         string          `json:"fetch_time,omitempty"`
	RuntimeError      *RuntimeError   `json:"runtime_error,omitempty"`
	Raw               json.RawMessage `json:"-"`
}

// ErrEmptyMeasurement is returned when a result document is empty or null.
var ErrEmptyMeasurement = errors.New("measurement document is empty")

// ParseMeasurement extracts a Measurement from a result document.
// The document must be a JSON object.
func ParseMeasurement(data []byte) (*Measurement, error) {
	if len(data) == 0 {
		return nil, ErrEmptyMeasurement
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.New("measurement document is not valid JSON")
	}
	doc := gjson.ParseBytes(data)
	if doc.Type == gjson.Null {
		return nil, ErrEmptyMeasurement
	}
	if !doc.IsObject() {
		return nil, fmt.Errorf("measurement document must be an object, got %s", doc.Type)
	}

	m := &Measurement{
		LighthouseVersion: doc.Get("lighthouseVersion").String(),
		RequestedURL:      doc.Get("requestedUrl").String(),
		FinalURL:          doc.Get("finalUrl").String(),
		FetchTime:         doc.Get("fetchTime").String(),
		Raw:               append(json.RawMessage(nil), data...),
	}
	if re := doc.Get("runtimeError"); present(re) {
		m.RuntimeError = &RuntimeError{}
		if re.IsObject() {
			m.RuntimeError.Code = re.Get("code").String()
			m.RuntimeError.Message = re.Get("message").String()
		}
	}
	return m, nil
}

// present reports whether r holds a value other than null, false, 0 or "".
func present(r gjson.Result) bool {
	switch r.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.Number:
		return r.Num != 0
	case gjson.String:
		return r.Str != ""
	default:
		return r.Exists()
	}
}

// Fatal reports whether the measurement carries a runtime error whose code
// is anything but NO_ERROR. A missing or empty code is fatal.
func (m *Measurement) Fatal() bool {
	if m == nil || m.RuntimeError == nil {
		return false
	}
	return m.RuntimeError.Code != RuntimeErrorNone
}

// RunResult is the normalized outcome of one backend invocation.
type RunResult struct {
	// Type is the backend-instance label, unique within a RunSet
	// (e.g. "lighthouse@3.2.1", "PSI").
	Type string `json:"type"`
	// Output is the raw diagnostic text captured from the backend.
	Output string `json:"output"`
	// Measurement is nil when the backend failed or timed out.
	Measurement *Measurement `json:"measurement,omitempty"`
	// Success is derived by DeriveSuccess, never set by a backend.
	Success bool `json:"success"`
}

// DeriveSuccess reports whether a result counts as successful: a measurement
// is present and it carries no fatal runtime error code.
func DeriveSuccess(r RunResult) bool {
	return r.Measurement != nil && !r.Measurement.Fatal()
}

// RunSet is the ordered collection of RunResults for one target.
// Order is the configured backend order.
type RunSet struct {
	Target  string      `json:"url"`
	Results []RunResult `json:"runs"`
}

// SummaryRun is one entry of the summary artifact.
type SummaryRun struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
}

// Summary is the summary artifact written alongside a RunSet.
// It carries only {type, success} pairs plus the target.
type Summary struct {
	Runs []SummaryRun `json:"runs"`
	URL  string       `json:"url"`
}

// Summary returns the summary artifact for the set, preserving order.
func (s *RunSet) Summary() Summary {
	runs := make([]SummaryRun, 0, len(s.Results))
	for _, r := range s.Results {
		runs = append(runs, SummaryRun{Type: r.Type, Success: r.Success})
	}
	return Summary{Runs: runs, URL: s.Target}
}

// Counts returns the number of successful and failed results.
func (s Summary) Counts() (succeeded, failed int) {
	for _, r := range s.Runs {
		if r.Success {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}
