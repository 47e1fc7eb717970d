package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/lhrunner/backend"
	"github.com/pithecene-io/lhrunner/lode"
	"github.com/pithecene-io/lhrunner/log"
	"github.com/pithecene-io/lhrunner/metrics"
	"github.com/pithecene-io/lhrunner/types"
)

// Artifact file names written by the dispatcher.
const (
	SummaryFile      = "summary.json"
	outputFileSuffix = ".output.txt"
)

// OutputFile returns the artifact name holding label's diagnostic output.
func OutputFile(label string) string {
	return label + outputFileSuffix
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// Timeout bounds each invocation. Zero means DefaultTimeout.
	Timeout time.Duration
	// Logger receives per-attempt entries. Nil discards.
	Logger *log.Logger
	// Collector receives attempt counters. Nil is allowed.
	Collector *metrics.Collector
}

// Dispatcher runs every enabled backend against a target, strictly
// sequentially in registry order, and writes the run artifacts.
type Dispatcher struct {
	registry  *backend.Registry
	timeout   time.Duration
	logger    *log.Logger
	collector *metrics.Collector
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *backend.Registry, config DispatcherConfig) *Dispatcher {
	logger := config.Logger
	if logger == nil {
		logger = log.Nop()
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		registry:  registry,
		timeout:   timeout,
		logger:    logger,
		collector: config.Collector,
	}
}

// WithLogger returns a copy of d logging to logger.
func (d *Dispatcher) WithLogger(logger *log.Logger) *Dispatcher {
	c := *d
	if logger != nil {
		c.logger = logger
	}
	return &c
}

// Registry returns the backend registry.
func (d *Dispatcher) Registry() *backend.Registry { return d.registry }

// Timeout returns the per-invocation bound.
func (d *Dispatcher) Timeout() time.Duration { return d.timeout }

// Dispatch runs all enabled backends against target and writes one
// <type>.output.txt per result plus summary.json through w. A backend
// disabled by setup keeps its position as a failed result.
//
// The returned RunSet is always complete: backend failures become failed
// results. The error reports artifact write failures only.
func (d *Dispatcher) Dispatch(ctx context.Context, target string, w lode.FileWriter) (*types.RunSet, error) {
	d.collector.IncDispatchStarted()
	set := &types.RunSet{Target: target}
	labels := newLabelSet()

	for _, st := range d.registry.Statuses() {
		b := st.Backend
		if st.Disabled() {
			d.logger.Warn("backend disabled by setup", map[string]any{
				"backend": string(b.Kind()),
				"error":   st.SetupErr.Error(),
			})
			set.Results = append(set.Results, types.RunResult{
				Type:   labels.unique(string(b.Kind())),
				Output: SetupFailedMessage(st.SetupErr),
			})
			continue
		}

		invs, err := d.plan(ctx, b, target)
		if err != nil {
			d.collector.IncPlanFailure()
			d.logger.Error("backend plan failed", map[string]any{
				"backend": string(b.Kind()),
				"error":   err.Error(),
			})
			set.Results = append(set.Results, types.RunResult{
				Type:   labels.unique(string(b.Kind())),
				Output: err.Error(),
			})
			continue
		}
		for _, inv := range invs {
			set.Results = append(set.Results, d.runOne(ctx, b.Kind(), labels.unique(inv.Label), inv))
		}
	}

	for i := range set.Results {
		set.Results[i].Success = types.DeriveSuccess(set.Results[i])
		if set.Results[i].Success {
			d.collector.IncAttemptSucceeded()
		}
	}

	d.collector.IncDispatchCompleted()
	return set, d.writeArtifacts(ctx, set, w)
}

// SetupFailedMessage is the output recorded for a backend disabled by setup.
func SetupFailedMessage(err error) string {
	return "setup failed: " + err.Error()
}

type planOutcome struct {
	invs []backend.Invocation
	err  error
}

// plan expands b under the invocation timeout. A panic becomes an error and
// a Plan that ignores its context is abandoned once the bound passes.
func (d *Dispatcher) plan(ctx context.Context, b backend.Backend, target string) ([]backend.Invocation, error) {
	planCtx, stop := context.WithTimeout(ctx, d.timeout)
	defer stop()

	done := make(chan planOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- planOutcome{err: fmt.Errorf("plan panicked: %v", r)}
			}
		}()
		invs, err := b.Plan(planCtx, target)
		done <- planOutcome{invs: invs, err: err}
	}()

	select {
	case o := <-done:
		return o.invs, o.err
	case <-planCtx.Done():
		select {
		case o := <-done:
			return o.invs, o.err
		default:
		}
		if errors.Is(planCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("timed out planning %s after %s", b.Kind(), d.timeout)
		}
		return nil, ctx.Err()
	}
}

// runOne attempts inv. A panic escaping the executor is recovered and
// recorded as a failed result so the batch continues.
func (d *Dispatcher) runOne(ctx context.Context, kind backend.Kind, label string, inv backend.Invocation) (result types.RunResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("attempt panicked", map[string]any{"type": label, "panic": fmt.Sprint(r)})
			d.collector.IncAttemptFailed(string(kind))
			result = types.RunResult{Type: label, Output: fmt.Sprintf("panic: %v", r)}
		}
	}()

	if inv.Run == nil {
		return types.RunResult{Type: label, Output: "backend produced no work"}
	}

	res, status := attempt(ctx, d.timeout, label, inv.Run, inv.Cancel)
	fields := map[string]any{
		"type":        label,
		"backend":     string(kind),
		"duration_ms": time.Since(start).Milliseconds(),
	}
	switch status {
	case AttemptCompleted:
		fields["measurement"] = res.Measurement != nil
		d.logger.Info("attempt completed", fields)
		if !types.DeriveSuccess(res) {
			d.collector.IncAttemptFailed(string(kind))
		}
	case AttemptTimedOut:
		d.collector.IncAttemptTimedOut()
		d.collector.IncAttemptFailed(string(kind))
		d.logger.Warn("attempt timed out", fields)
	default:
		d.collector.IncAttemptFailed(string(kind))
		fields["error"] = res.Output
		d.logger.Warn("attempt failed", fields)
	}
	return res
}

func (d *Dispatcher) writeArtifacts(ctx context.Context, set *types.RunSet, w lode.FileWriter) error {
	if w == nil {
		return nil
	}
	var errs []error
	for _, r := range set.Results {
		if err := w.PutFile(ctx, OutputFile(r.Type), "text/plain", []byte(r.Output)); err != nil {
			errs = append(errs, fmt.Errorf("write output for %s: %w", r.Type, err))
		}
	}

	summary, err := json.MarshalIndent(set.Summary(), "", "  ")
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	if err := w.PutFile(ctx, SummaryFile, "application/json", summary); err != nil {
		errs = append(errs, fmt.Errorf("write summary: %w", err))
	}
	return errors.Join(errs...)
}

// labelSet hands out labels unique within one RunSet. Repeats of a label
// get a "#n" suffix starting at 2.
type labelSet struct {
	seen map[string]int
}

func newLabelSet() *labelSet {
	return &labelSet{seen: make(map[string]int)}
}

func (s *labelSet) unique(label string) string {
	s.seen[label]++
	n := s.seen[label]
	if n == 1 {
		return label
	}
	candidate := fmt.Sprintf("%s#%d", label, n)
	for s.seen[candidate] > 0 {
		n++
		candidate = fmt.Sprintf("%s#%d", label, n)
	}
	s.seen[candidate] = 1
	return candidate
}
