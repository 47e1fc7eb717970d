package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/lhrunner/cli/render"
	"github.com/pithecene-io/lhrunner/lode"
	"github.com/pithecene-io/lhrunner/metrics"
)

// SummaryStatsResponse is the response for stats summary.
type SummaryStatsResponse struct {
	URL       string `json:"url"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
}

// BackendHistoryRow is one row of stats history.
type BackendHistoryRow struct {
	Type        string `json:"type"`
	Runs        int    `json:"runs"`
	Succeeded   int    `json:"succeeded"`
	Failed      int    `json:"failed"`
	PassRate    string `json:"pass_rate"`
	LastFailure string `json:"last_failure,omitempty"`
}

// PollStatsResponse is the response for stats poll.
type PollStatsResponse struct {
	RecordedAt          time.Time        `json:"recorded_at"`
	Age                 string           `json:"age"`
	Mode                string           `json:"mode"`
	EventsSeen          int64            `json:"events_seen"`
	EventsHandled       int64            `json:"events_handled"`
	EventsFailed        int64            `json:"events_failed"`
	EventsWithoutTarget int64            `json:"events_without_target"`
	Dispatches          int64            `json:"dispatches"`
	AttemptsSucceeded   int64            `json:"attempts_succeeded"`
	AttemptsFailed      int64            `json:"attempts_failed"`
	AttemptsTimedOut    int64            `json:"attempts_timed_out"`
	FailedByBackend     map[string]int64 `json:"failed_by_backend,omitempty"`
	CursorAdvances      int64            `json:"cursor_advances"`
}

// StatsCommand returns the stats command with subcommands.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show aggregate counts for run sets and polls",
		Subcommands: []*cli.Command{
			{
				Name:      "summary",
				Usage:     "Count succeeded and failed runs in a summary",
				ArgsUsage: "[summary.json]",
				Flags:     summaryFlags(),
				Action:    statsSummaryAction,
			},
			{
				Name:  "history",
				Usage: "Per-backend pass rates from the run history",
				Flags: append(ReadOnlyFlags(),
					configFlag(),
					&cli.StringFlag{
						Name:  "day",
						Usage: "Restrict to one UTC day (YYYY-MM-DD)",
					},
				),
				Action: statsHistoryAction,
			},
			{
				Name:   "poll",
				Usage:  "Counters recorded by the most recent poll",
				Flags:  append(TUIReadOnlyFlags(), configFlag()),
				Action: statsPollAction,
			},
		},
	}
}

func statsSummaryAction(c *cli.Context) error {
	summary, err := loadSummary(c)
	if err != nil {
		return err
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}
	if c.Bool("tui") {
		return r.RenderTUI("stats_summary", summary)
	}

	ok, failed := summary.Counts()
	return r.Render(SummaryStatsResponse{
		URL:       summary.URL,
		Total:     len(summary.Runs),
		Succeeded: ok,
		Failed:    failed,
	})
}

func statsHistoryAction(c *cli.Context) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for stats history", exitConfig)
	}
	day := c.String("day")
	if day != "" {
		if _, err := time.Parse(time.DateOnly, day); err != nil {
			return cli.Exit(fmt.Sprintf("invalid day %q: want YYYY-MM-DD", day), exitConfig)
		}
	}

	history, err := openHistory(c)
	if err != nil {
		return err
	}
	stats, err := history.BackendStats(c.Context, day)
	if err != nil {
		return cli.Exit(fmt.Sprintf("run history: %v", err), exitStorage)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}
	return r.Render(newHistoryRows(stats))
}

func statsPollAction(c *cli.Context) error {
	history, err := openHistory(c)
	if err != nil {
		return err
	}
	snap, at, err := history.LatestMetrics(c.Context)
	if errors.Is(err, lode.ErrNoMetricsFound) {
		return cli.Exit("no poll has been recorded yet", exitConfig)
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("run history: %v", err), exitStorage)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}
	if c.Bool("tui") {
		return r.RenderTUI("stats_poll", snap)
	}
	return r.Render(newPollStatsResponse(snap, at, time.Now()))
}

func openHistory(c *cli.Context) (*lode.History, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	factory, err := reportStoreFactory(c.Context, cfg.Reports.Storage)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("report store: %v", err), exitStorage)
	}
	history, err := lode.NewHistory(factory, nil)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("run history: %v", err), exitStorage)
	}
	return history, nil
}

func newHistoryRows(stats []lode.BackendStats) []BackendHistoryRow {
	rows := make([]BackendHistoryRow, 0, len(stats))
	for _, s := range stats {
		rows = append(rows, BackendHistoryRow{
			Type:        s.Type,
			Runs:        s.Runs,
			Succeeded:   s.Succeeded,
			Failed:      s.Failed,
			PassRate:    fmt.Sprintf("%.0f%%", s.PassRate()*100),
			LastFailure: s.LastFailure,
		})
	}
	return rows
}

func newPollStatsResponse(snap *metrics.Snapshot, at, now time.Time) PollStatsResponse {
	return PollStatsResponse{
		RecordedAt:          at.UTC(),
		Age:                 humanize.RelTime(at, now, "ago", "from now"),
		Mode:                snap.Mode,
		EventsSeen:          snap.EventsSeen,
		EventsHandled:       snap.EventsHandled,
		EventsFailed:        snap.EventsFailed,
		EventsWithoutTarget: snap.EventsWithoutTarget,
		Dispatches:          snap.DispatchesStarted,
		AttemptsSucceeded:   snap.AttemptsSucceeded,
		AttemptsFailed:      snap.AttemptsFailed,
		AttemptsTimedOut:    snap.AttemptsTimedOut,
		FailedByBackend:     snap.FailedByBackend,
		CursorAdvances:      snap.CursorAdvances,
	}
}
