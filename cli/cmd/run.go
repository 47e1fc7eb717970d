package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/lhrunner/cli/render"
	"github.com/pithecene-io/lhrunner/pipeline"
	"github.com/pithecene-io/lhrunner/runtime"
	"github.com/pithecene-io/lhrunner/types"
)

// RunResponse is the response for the run command.
type RunResponse struct {
	RunID      string             `json:"run_id"`
	URL        string             `json:"url"`
	Bundle     string             `json:"bundle,omitempty"`
	IndexURL   string             `json:"index_url,omitempty"`
	Succeeded  int                `json:"succeeded"`
	Failed     int                `json:"failed"`
	Runs       []types.SummaryRun `json:"runs"`
	DurationMs int64              `json:"duration_ms"`
	DryRun     bool               `json:"dry_run"`
}

// RunCommand returns the run command: one dispatch against a URL given on
// the command line, without scanning the tracker.
func RunCommand() *cli.Command {
	flags := append(HarnessFlags(), ReadOnlyFlags()...)
	flags = append(flags,
		&cli.IntFlag{
			Name:  "issue",
			Usage: "Post the result comment to this issue",
		},
		&cli.StringFlag{
			Name:  "report",
			Usage: "Write a JSON run report to this path (- for stderr)",
		},
	)
	return &cli.Command{
		Name:      "run",
		Usage:     "Dispatch every enabled backend against one URL",
		ArgsUsage: "<url>",
		Flags:     flags,
		Action:    runAction,
	}
}

func runAction(c *cli.Context) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for run command", exitConfig)
	}
	if c.NArg() != 1 {
		return cli.Exit("run requires exactly one <url> argument", exitConfig)
	}
	text := c.Args().First()
	if pipeline.ExtractTarget(text) == "" {
		return cli.Exit(fmt.Sprintf("no usable URL in %q", text), exitConfig)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	dryRun := c.Bool("dry-run")

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(dryRun)
	issue := c.Int("issue")

	var (
		notifier pipeline.Notifier
		issueURL func(int) string
	)
	if issue > 0 {
		client, gh, err := buildTracker(cfg, dryRun, logger)
		if err != nil {
			return cli.Exit(fmt.Sprintf("tracker: %v", err), exitConfig)
		}
		defer func() { _ = gh.Close() }()
		notifier, issueURL = client, gh.IssueURL
	}

	h, err := newHarness(ctx, cfg, dryRun, logger, issueURL)
	if err != nil {
		return cli.Exit(err.Error(), exitCode(err))
	}
	defer h.Close()

	p, err := h.pipeline(notifier)
	if err != nil {
		return err
	}

	ev := types.TriggerEvent{
		ID:        time.Now().Unix(),
		Kind:      types.TriggerManual,
		Issue:     issue,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
	res, err := p.Run(ctx, ev)

	if path := c.String("report"); path != "" && res != nil && res.Set != nil {
		rep := runtime.BuildRunReport(res.RunID, res.Set, h.collector.Snapshot(), res.Duration, h.dispatcher.Timeout())
		rep.Disabled = disabledBackends(h)
		if res.Bundle != nil {
			rep.Bundle = res.Bundle.ID
		}
		if werr := runtime.WriteRunReport(rep, path); werr != nil {
			logger.Error("failed to write run report", map[string]any{"path": path, "error": werr.Error()})
		}
	}

	if err != nil {
		return cli.Exit(fmt.Sprintf("run: %v", err), exitCode(err))
	}
	return r.Render(newRunResponse(res, dryRun))
}

func newRunResponse(res *pipeline.Result, dryRun bool) RunResponse {
	resp := RunResponse{
		RunID:      res.RunID,
		URL:        res.Target,
		Runs:       []types.SummaryRun{},
		DurationMs: res.Duration.Milliseconds(),
		DryRun:     dryRun,
	}
	if res.Set != nil {
		summary := res.Set.Summary()
		resp.Runs = summary.Runs
		resp.Succeeded, resp.Failed = summary.Counts()
	}
	if res.Bundle != nil {
		resp.Bundle = res.Bundle.ID
		resp.IndexURL = res.Bundle.IndexURL()
	}
	return resp
}

func disabledBackends(h *harness) map[string]string {
	disabled := h.dispatcher.Registry().Disabled()
	if len(disabled) == 0 {
		return nil
	}
	out := make(map[string]string, len(disabled))
	for kind, err := range disabled {
		out[string(kind)] = err.Error()
	}
	return out
}
