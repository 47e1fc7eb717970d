package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/lhrunner/cursor"
	"github.com/pithecene-io/lhrunner/log"
	"github.com/pithecene-io/lhrunner/metrics"
	"github.com/pithecene-io/lhrunner/poller"
)

// PollCommand returns the poll command.
// One poll runs the label scan and then the comment scan. With --schedule
// (or schedule: in the config) it polls immediately and then on every tick
// until interrupted.
func PollCommand() *cli.Command {
	return &cli.Command{
		Name:  "poll",
		Usage: "Scan the tracker for trigger events and dispatch them",
		Flags: append(HarnessFlags(),
			&cli.StringFlag{
				Name:  "schedule",
				Usage: "Five-field cron expression; poll repeatedly until interrupted",
			},
		),
		Action: pollAction,
	}
}

// ParseSchedule parses a five-field cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return sched, nil
}

func pollAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	dryRun := c.Bool("dry-run")

	var sched cron.Schedule
	expr := c.String("schedule")
	if expr == "" {
		expr = cfg.Schedule
	}
	if expr != "" {
		if sched, err = ParseSchedule(expr); err != nil {
			return cli.Exit(err.Error(), exitConfig)
		}
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(dryRun)

	source, gh, err := buildTracker(cfg, dryRun, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("tracker: %v", err), exitConfig)
	}

	h, err := newHarness(ctx, cfg, dryRun, logger, gh.IssueURL)
	if err != nil {
		_ = gh.Close()
		return cli.Exit(err.Error(), exitCode(err))
	}
	defer h.Close()
	h.addCloser(gh)

	cursors, closer, err := buildCursorStore(cfg.State, dryRun, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("cursor store: %v", err), exitConfig)
	}
	if closer != nil {
		h.addCloser(closer)
	}

	p, err := h.pipeline(source)
	if err != nil {
		return err
	}
	pl, err := poller.New(source, cursors, p, poller.Config{
		Label:     cfg.Trigger.Label,
		Pattern:   cfg.Trigger.Pattern,
		PageSize:  cfg.Trigger.PageSize,
		Logger:    logger.Named("poller"),
		Collector: h.collector,
	})
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}

	poll := func(ctx context.Context) error {
		err := pollOnce(ctx, pl, cursors, h.collector, logger)
		h.recordMetrics(context.WithoutCancel(ctx))
		return err
	}
	if sched == nil {
		return poll(ctx)
	}
	return runScheduled(ctx, sched, logger, poll)
}

// pollOnce checks the cursor is readable, then runs one poll. An unreadable
// cursor exits with exitStorage; an interrupted poll is not an error.
func pollOnce(ctx context.Context, pl *poller.Poller, cursors cursor.Store, collector *metrics.Collector, logger *log.Logger) error {
	if _, err := cursors.Load(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("cursor unreadable: %v", err), exitStorage)
	}

	start := time.Now()
	labels, comments, err := pl.Poll(ctx)
	logPollStats(logger, labels, comments, collector.Snapshot(), time.Since(start))

	if err != nil {
		if ctx.Err() != nil {
			logger.Warn("poll interrupted", map[string]any{"error": err.Error()})
			return nil
		}
		return cli.Exit(fmt.Sprintf("poll: %v", err), exitCode(err))
	}
	return nil
}

func logPollStats(logger *log.Logger, labels, comments poller.Stats, snap metrics.Snapshot, elapsed time.Duration) {
	logger.Info("poll complete", map[string]any{
		"label_items":       labels.Seen,
		"label_handled":     labels.Handled,
		"comment_pages":     comments.Pages,
		"comments_seen":     comments.Seen,
		"comments_handled":  comments.Handled,
		"comments_failed":   comments.Failed,
		"dispatches":        snap.DispatchesStarted,
		"attempts_ok":       snap.AttemptsSucceeded,
		"attempts_failed":   snap.AttemptsFailed,
		"attempts_timedout": snap.AttemptsTimedOut,
		"cursor_advances":   snap.CursorAdvances,
		"duration_ms":       elapsed.Milliseconds(),
	})
}

// runScheduled calls poll immediately and then at every tick of sched until
// ctx is done. Storage failures stop the loop; other poll failures are
// logged and retried on the next tick.
func runScheduled(ctx context.Context, sched cron.Schedule, logger *log.Logger, poll func(context.Context) error) error {
	for {
		if err := poll(ctx); err != nil {
			var exit cli.ExitCoder
			if errors.As(err, &exit) && exit.ExitCode() == exitStorage {
				return err
			}
			logger.Error("scheduled poll failed", map[string]any{"error": err.Error()})
		}

		next := sched.Next(time.Now())
		logger.Info("next poll scheduled", map[string]any{"at": next.Format(time.RFC3339)})

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}
