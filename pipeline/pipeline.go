// Package pipeline runs one trigger event end to end: extract the target,
// dispatch every backend, assemble and publish the bundle, notify.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/lhrunner/adapter"
	"github.com/pithecene-io/lhrunner/lode"
	"github.com/pithecene-io/lhrunner/log"
	"github.com/pithecene-io/lhrunner/metrics"
	"github.com/pithecene-io/lhrunner/report"
	"github.com/pithecene-io/lhrunner/runtime"
	"github.com/pithecene-io/lhrunner/types"
)

var targetPattern = regexp.MustCompile(`http[^\s]*`)

// ExtractTarget returns the first http(s) token in text. Local targets are
// rejected and yield "".
func ExtractTarget(text string) string {
	target := targetPattern.FindString(text)
	if strings.Contains(target, "localhost") {
		return ""
	}
	return target
}

// Notifier posts the result comment on the originating item.
type Notifier interface {
	PostComment(ctx context.Context, issue int, body string) error
}

// Recorder appends handled run sets to the run history.
type Recorder interface {
	RecordRunSet(ctx context.Context, entry lode.RunSetEntry) error
}

// Config configures a Pipeline.
type Config struct {
	Dispatcher *runtime.Dispatcher
	Dir        *report.Dir
	Assembler  *report.Assembler
	// Notifier receives the comment. Nil logs the body instead.
	Notifier Notifier
	// Adapter receives a completion event (optional).
	Adapter adapter.Adapter
	// History receives one record per run (optional).
	History Recorder
	// DryRun is recorded on completion events.
	DryRun    bool
	Logger    *log.Logger
	Collector *metrics.Collector
}

// Pipeline handles trigger events. It is not safe for concurrent use: the
// reports workspace is shared.
type Pipeline struct {
	dispatcher *runtime.Dispatcher
	dir        *report.Dir
	assembler  *report.Assembler
	notifier   Notifier
	adapter    adapter.Adapter
	history    Recorder
	dryRun     bool
	logger     *log.Logger
	collector  *metrics.Collector

	newRunID func() string
	now      func() time.Time
}

// New creates a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Dispatcher == nil || cfg.Dir == nil || cfg.Assembler == nil {
		return nil, errors.New("pipeline requires a dispatcher, a reports dir and an assembler")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}
	return &Pipeline{
		dispatcher: cfg.Dispatcher,
		dir:        cfg.Dir,
		assembler:  cfg.Assembler,
		notifier:   cfg.Notifier,
		adapter:    cfg.Adapter,
		history:    cfg.History,
		dryRun:     cfg.DryRun,
		logger:     logger,
		collector:  cfg.Collector,
		newRunID:   uuid.NewString,
		now:        time.Now,
	}, nil
}

// Result is the outcome of one handled event.
type Result struct {
	RunID    string
	Target   string
	Set      *types.RunSet
	Bundle   *report.Bundle
	Comment  string
	Duration time.Duration
}

// Handle implements poller.Handler.
func (p *Pipeline) Handle(ctx context.Context, ev types.TriggerEvent) error {
	_, err := p.Run(ctx, ev)
	return err
}

// Run handles ev and returns what was produced. Backend failures are part
// of the result; the error reports workspace, publishing and notification
// failures.
func (p *Pipeline) Run(ctx context.Context, ev types.TriggerEvent) (*Result, error) {
	res := &Result{RunID: p.newRunID(), Target: ExtractTarget(ev.Text)}
	logger := p.logger.With(log.Context{RunID: res.RunID, Trigger: string(ev.Kind), Issue: ev.Issue})

	if res.Target == "" {
		p.collector.IncEventWithoutTarget()
		logger.Warn("no target in trigger text", map[string]any{"event_id": ev.ID})
		res.Comment = report.NoTargetComment
		return res, p.notify(ctx, logger, ev.Issue, res.Comment)
	}

	start := p.now()
	d := p.dispatcher.WithLogger(logger)
	d.Registry().Setup(ctx)

	if err := p.dir.Reset(); err != nil {
		return res, err
	}
	logger.Info("dispatching", map[string]any{"url": res.Target})

	set, err := d.Dispatch(ctx, res.Target, p.dir)
	res.Set = set
	res.Duration = p.now().Sub(start)
	if err != nil {
		logger.Error("writing run artifacts failed", map[string]any{"error": err.Error()})
	}
	summary := set.Summary()
	succeeded, failed := summary.Counts()
	logger.Info("dispatch finished", map[string]any{
		"succeeded":   succeeded,
		"failed":      failed,
		"duration_ms": res.Duration.Milliseconds(),
	})

	bundle, err := p.assembler.Assemble(ctx, p.dir, set, ev)
	res.Bundle = bundle
	if err != nil {
		return res, fmt.Errorf("assemble %s: %w", bundle.ID, err)
	}

	res.Comment = report.Comment(set, bundle, p.dir)
	if err := p.notify(ctx, logger, ev.Issue, res.Comment); err != nil {
		return res, err
	}

	p.publish(ctx, logger, res, ev)
	p.record(ctx, logger, res, ev)
	return res, nil
}

func (p *Pipeline) notify(ctx context.Context, logger *log.Logger, issue int, body string) error {
	if p.notifier == nil || issue == 0 {
		logger.Info("comment", map[string]any{"issue": issue, "body": body})
		return nil
	}
	if err := p.notifier.PostComment(ctx, issue, body); err != nil {
		return fmt.Errorf("post comment on #%d: %w", issue, err)
	}
	return nil
}

// publish forwards the completion event. Failures are logged only.
func (p *Pipeline) publish(ctx context.Context, logger *log.Logger, res *Result, ev types.TriggerEvent) {
	if p.adapter == nil {
		return
	}
	event := adapter.NewRunSetCompletedEvent(res.RunID, res.Set, ev, res.Bundle.ID,
		res.Bundle.IndexURL(), p.dryRun, res.Duration, p.now())
	if err := p.adapter.Publish(ctx, event); err != nil {
		p.collector.IncAdapterPublishFailure()
		logger.Warn("completion event not delivered", map[string]any{
			"bundle": res.Bundle.ID,
			"error":  err.Error(),
		})
	}
}

// record appends the run set to the history. Failures are logged only.
func (p *Pipeline) record(ctx context.Context, logger *log.Logger, res *Result, ev types.TriggerEvent) {
	if p.history == nil {
		return
	}
	err := p.history.RecordRunSet(ctx, lode.RunSetEntry{
		RunID:  res.RunID,
		Bundle: res.Bundle.ID,
		Event:  ev,
		Set:    res.Set,
		DryRun: p.dryRun,
		At:     p.now(),
	})
	if err != nil {
		logger.Warn("run history not recorded", map[string]any{
			"bundle": res.Bundle.ID,
			"error":  err.Error(),
		})
	}
}
