// Package backend defines the measurement backend contract and the
// registry of configured backends.
//
// A Backend expands into one or more Invocations per target. Each
// Invocation is one bounded unit of work whose outcome becomes exactly
// one RunResult.
package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pithecene-io/lhrunner/types"
)

// Kind names a backend implementation.
type Kind string

const (
	// KindCLI runs released lighthouse CLI versions via npx.
	KindCLI Kind = "cli"
	// KindMaster runs a lighthouse checkout at its current HEAD.
	KindMaster Kind = "master"
	// KindPSI queries the PageSpeed Insights API.
	KindPSI Kind = "psi"
	// KindExtension drives the lighthouse browser extension.
	KindExtension Kind = "extension"
)

// Valid reports whether k is a known backend kind.
func (k Kind) Valid() bool {
	switch k {
	case KindCLI, KindMaster, KindPSI, KindExtension:
		return true
	}
	return false
}

// Output is what a successful invocation produced.
// Measurement may be nil when the tool ran but produced no result.
type Output struct {
	Text        string
	Measurement *types.Measurement
}

// Invocation is one bounded unit of backend work.
type Invocation struct {
	// Label becomes RunResult.Type (e.g. "lighthouse@4.0.0").
	Label string
	// Run performs the work. It must honor ctx cancellation where it can.
	Run func(ctx context.Context) (*Output, error)
	// Cancel aborts in-flight work. Optional; called on error or timeout.
	Cancel func()
}

// Backend produces measurements for a target.
type Backend interface {
	Kind() Kind
	// Plan expands the backend into its invocations for target.
	Plan(ctx context.Context, target string) ([]Invocation, error)
}

// Setuper is implemented by backends needing one-time preparation.
// Setup runs at most once per process, before the first dispatch.
type Setuper interface {
	Setup(ctx context.Context) error
}

// ErrNotSetUp is returned by Plan when a backend requiring setup has not
// completed it.
var ErrNotSetUp = errors.New("backend setup has not completed")

// ReadReport reads and parses a result document written by a measuring tool.
func ReadReport(path string) (*types.Measurement, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	m, err := types.ParseMeasurement(data)
	if err != nil {
		return nil, fmt.Errorf("parse report %s: %w", path, err)
	}
	return m, nil
}

// ReportPaths returns the html and json report paths for label under dir.
func ReportPaths(dir, label string) (html, json string) {
	base := filepath.Join(dir, label)
	return base + ".report.html", base + ".report.json"
}
