package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/lhrunner/cli/render"
	"github.com/pithecene-io/lhrunner/lode"
	"github.com/pithecene-io/lhrunner/runtime"
	"github.com/pithecene-io/lhrunner/types"
)

// SummaryResponse is the response for inspect summary.
type SummaryResponse struct {
	URL       string             `json:"url"`
	Total     int                `json:"total"`
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
	Runs      []types.SummaryRun `json:"runs"`
}

// InspectCommand returns the inspect command with subcommands.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect a run set summary",
		Subcommands: []*cli.Command{
			{
				Name:      "summary",
				Usage:     "Inspect a summary.json from disk or from a published bundle",
				ArgsUsage: "[summary.json]",
				Flags:     summaryFlags(),
				Action:    inspectSummaryAction,
			},
		},
	}
}

func summaryFlags() []cli.Flag {
	return append(TUIReadOnlyFlags(),
		configFlag(),
		&cli.StringFlag{
			Name:  "bundle",
			Usage: "Read the summary of a published bundle from the report store",
		},
	)
}

func inspectSummaryAction(c *cli.Context) error {
	summary, err := loadSummary(c)
	if err != nil {
		return err
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}
	if c.Bool("tui") {
		return r.RenderTUI("inspect_summary", summary)
	}
	return r.Render(newSummaryResponse(summary))
}

// loadSummary reads a summary from the path argument, or from the report
// store when --bundle is set.
func loadSummary(c *cli.Context) (*types.Summary, error) {
	var (
		data []byte
		err  error
	)
	switch bundle := c.String("bundle"); {
	case bundle != "":
		data, err = readBundleSummary(c, bundle)
		if err != nil {
			return nil, err
		}
	case c.NArg() == 1:
		data, err = os.ReadFile(c.Args().First())
		if err != nil {
			return nil, cli.Exit(fmt.Sprintf("read summary: %v", err), exitConfig)
		}
	default:
		return nil, cli.Exit("a summary.json path or --bundle is required", exitConfig)
	}

	var summary types.Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, cli.Exit(fmt.Sprintf("invalid summary: %v", err), exitConfig)
	}
	return &summary, nil
}

func readBundleSummary(c *cli.Context, bundle string) ([]byte, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	factory, err := reportStoreFactory(c.Context, cfg.Reports.Storage)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("report store: %v", err), exitStorage)
	}
	w := lode.NewBundleWriter(factory, cfg.Reports.Prefix, bundle, nil)
	data, err := w.GetFile(c.Context, runtime.SummaryFile)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("read %s: %v", w.Path(runtime.SummaryFile), err), exitStorage)
	}
	return data, nil
}

func newSummaryResponse(s *types.Summary) SummaryResponse {
	ok, failed := s.Counts()
	runs := s.Runs
	if runs == nil {
		runs = []types.SummaryRun{}
	}
	return SummaryResponse{
		URL:       s.URL,
		Total:     len(s.Runs),
		Succeeded: ok,
		Failed:    failed,
		Runs:      runs,
	}
}
