// Package poller discovers trigger events and feeds each one to a handler.
//
// Two scans share the handler:
//   - PollLabels: items carrying the marker label. The label is the dedup
//     state and is removed only after the handler succeeds.
//   - PollComments: comments newer than the persisted cursor whose text
//     matches the trigger pattern. The cursor is saved after every handled
//     event, whether or not the handler succeeded.
package poller

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"time"

	"github.com/pithecene-io/lhrunner/cursor"
	"github.com/pithecene-io/lhrunner/log"
	"github.com/pithecene-io/lhrunner/metrics"
	"github.com/pithecene-io/lhrunner/types"
)

const (
	// DefaultLabel marks items awaiting a run.
	DefaultLabel = "needs-lh-runner"
	// DefaultPattern is the comment trigger phrase.
	DefaultPattern = `LH Runner Go!`
	// DefaultPageSize is the comment scan page size.
	DefaultPageSize = 100
)

// EventSource is the event store the poller scans.
type EventSource interface {
	// ListLabeled returns every item currently carrying label.
	ListLabeled(ctx context.Context, label string) ([]types.TriggerEvent, error)
	// ListSince returns up to pageSize events with timestamp >= since, ascending.
	ListSince(ctx context.Context, since time.Time, pageSize int) ([]types.TriggerEvent, error)
	// RemoveLabel clears the marker from an item.
	RemoveLabel(ctx context.Context, issue int, label string) error
}

// Handler runs the dispatch pipeline for one event.
type Handler interface {
	Handle(ctx context.Context, ev types.TriggerEvent) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev types.TriggerEvent) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, ev types.TriggerEvent) error {
	return f(ctx, ev)
}

// Config configures a Poller.
type Config struct {
	// Label is the marker label (default DefaultLabel).
	Label string
	// Pattern matches trigger comments; it is compiled case-insensitively
	// (default DefaultPattern).
	Pattern string
	// PageSize is the comment page size (default DefaultPageSize).
	PageSize int
	// Logger receives poll progress (default: discard).
	Logger *log.Logger
	// Collector counts events (optional).
	Collector *metrics.Collector
}

// Stats summarizes one scan.
type Stats struct {
	Pages   int
	Seen    int
	Handled int
	Failed  int
}

// Poller scans an EventSource.
type Poller struct {
	source    EventSource
	cursors   cursor.Store
	handler   Handler
	label     string
	pattern   *regexp.Regexp
	pageSize  int
	logger    *log.Logger
	collector *metrics.Collector
}

// CompilePattern compiles a trigger pattern case-insensitively.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid trigger pattern %q: %w", pattern, err)
	}
	return re, nil
}

// New creates a Poller.
func New(source EventSource, cursors cursor.Store, handler Handler, cfg Config) (*Poller, error) {
	if source == nil || cursors == nil || handler == nil {
		return nil, errors.New("poller requires a source, a cursor store and a handler")
	}
	re, err := CompilePattern(cfg.Pattern)
	if err != nil {
		return nil, err
	}
	if cfg.Label == "" {
		cfg.Label = DefaultLabel
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}
	return &Poller{
		source:    source,
		cursors:   cursors,
		handler:   handler,
		label:     cfg.Label,
		pattern:   re,
		pageSize:  cfg.PageSize,
		logger:    cfg.Logger,
		collector: cfg.Collector,
	}, nil
}

// Poll runs the label scan and then the comment scan. A label scan failure
// does not prevent the comment scan.
func (p *Poller) Poll(ctx context.Context) (labels, comments Stats, err error) {
	labels, lerr := p.PollLabels(ctx)
	if lerr != nil {
		p.logger.Error("label scan failed", map[string]any{"error": lerr.Error()})
	}
	comments, err = p.PollComments(ctx)
	return labels, comments, errors.Join(lerr, err)
}

// PollLabels handles every labelled item once. Handler failures are logged
// and leave the label in place for the next scan.
func (p *Poller) PollLabels(ctx context.Context) (Stats, error) {
	var st Stats
	events, err := p.source.ListLabeled(ctx, p.label)
	if err != nil {
		return st, fmt.Errorf("list labelled items: %w", err)
	}
	st.Pages = 1
	if len(events) > 0 {
		issues := make([]int, 0, len(events))
		for _, ev := range events {
			issues = append(issues, ev.Issue)
		}
		p.logger.Info("running for issues", map[string]any{"issues": issues})
	}

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		st.Seen++
		p.collector.IncEventSeen()

		if !p.handle(ctx, ev) {
			st.Failed++
			continue
		}
		st.Handled++
		if err := p.source.RemoveLabel(ctx, ev.Issue, p.label); err != nil {
			p.logger.Error("remove label failed", map[string]any{
				"issue": ev.Issue,
				"label": p.label,
				"error": err.Error(),
			})
		}
	}
	return st, nil
}

// PollComments scans comments newer than the cursor, page by page, until a
// partial page is returned. Only cursor load/save and listing failures are
// returned; handler failures are logged and counted.
func (p *Poller) PollComments(ctx context.Context) (Stats, error) {
	var st Stats
	c, err := p.cursors.Load(ctx)
	if err != nil {
		return st, fmt.Errorf("load cursor: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		start := c.Since
		events, err := p.source.ListSince(ctx, start, p.pageSize)
		if err != nil {
			return st, fmt.Errorf("list events since %s: %w", start.Format(time.RFC3339), err)
		}
		st.Pages++
		p.logger.Sugar().Debugf("page %d: %d events since %s", st.Pages, len(events), start.Format(time.RFC3339))
		if len(events) == 0 {
			return st, nil
		}
		full := len(events) >= p.pageSize

		slices.SortStableFunc(events, func(a, b types.TriggerEvent) int {
			return a.Timestamp.Compare(b.Timestamp)
		})

		for _, ev := range events {
			// The source is inclusive; the boundary event was already handled.
			if ev.Timestamp.Equal(start) {
				continue
			}
			st.Seen++
			p.collector.IncEventSeen()
			if !p.pattern.MatchString(ev.Text) {
				continue
			}
			if err := ctx.Err(); err != nil {
				return st, err
			}

			if p.handle(ctx, ev) {
				st.Handled++
			} else {
				st.Failed++
			}
			// Interrupted mid-event: leave the cursor so the event is retried.
			if err := ctx.Err(); err != nil {
				return st, err
			}
			if err := p.advance(ctx, &c, ev.Timestamp); err != nil {
				return st, err
			}
		}

		if err := p.advance(ctx, &c, events[len(events)-1].Timestamp); err != nil {
			return st, err
		}
		if !full {
			return st, nil
		}
		if !c.Since.After(start) {
			p.logger.Warn("full page without cursor progress, stopping scan", map[string]any{
				"since":     start.Format(time.RFC3339Nano),
				"page_size": p.pageSize,
			})
			return st, nil
		}
	}
}

// advance moves the cursor forward and persists it. Earlier timestamps are
// ignored so the persisted cursor never moves backwards.
func (p *Poller) advance(ctx context.Context, c *types.Cursor, ts time.Time) error {
	if !c.Advance(ts) {
		return nil
	}
	if err := p.cursors.Save(ctx, *c); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	p.collector.IncCursorAdvance()
	return nil
}

// handle runs the handler, converting failures and panics into a logged
// false result.
func (p *Poller) handle(ctx context.Context, ev types.TriggerEvent) (ok bool) {
	logger := p.logger.With(log.Context{Trigger: string(ev.Kind), Issue: ev.Issue})
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panicked", map[string]any{
				"event_id": ev.ID,
				"panic":    fmt.Sprint(r),
			})
			p.collector.IncEventFailed()
			ok = false
		}
	}()

	logger.Info("processing event", map[string]any{"event_id": ev.ID})
	if err := p.handler.Handle(ctx, ev); err != nil {
		logger.Error("handler failed", map[string]any{
			"event_id": ev.ID,
			"error":    err.Error(),
		})
		p.collector.IncEventFailed()
		return false
	}
	p.collector.IncEventHandled()
	return true
}
