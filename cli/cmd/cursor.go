package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/lhrunner/cli/render"
	"github.com/pithecene-io/lhrunner/cursor"
	"github.com/pithecene-io/lhrunner/types"
)

// CursorResponse is the response for cursor subcommands.
type CursorResponse struct {
	Backend string    `json:"backend"`
	Since   time.Time `json:"since"`
	Default bool      `json:"default"`
	Saved   bool      `json:"saved,omitempty"`
}

// CursorCommand returns the cursor command group.
func CursorCommand() *cli.Command {
	return &cli.Command{
		Name:  "cursor",
		Usage: "Show or move the comment scan cursor",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show the persisted cursor",
				Flags:  append([]cli.Flag{configFlag()}, TUIReadOnlyFlags()...),
				Action: cursorShowAction,
			},
			{
				Name:      "set",
				Usage:     "Move the cursor to an RFC 3339 timestamp",
				ArgsUsage: "<since>",
				Flags: append(append([]cli.Flag{configFlag(), dryRunFlag()}, ReadOnlyFlags()...),
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Allow moving the cursor backwards",
					},
				),
				Action: cursorSetAction,
			},
		},
	}
}

func cursorShowAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	store, closer, err := buildCursorStore(cfg.State, false, newLogger(false))
	if err != nil {
		return cli.Exit(fmt.Sprintf("cursor store: %v", err), exitConfig)
	}
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}

	cur, err := store.Load(c.Context)
	if err != nil {
		return cli.Exit(fmt.Sprintf("cursor unreadable: %v", err), exitStorage)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}
	if c.Bool("tui") {
		return r.RenderTUI("inspect_cursor", &cur)
	}
	return r.Render(newCursorResponse(cfg.State.Backend, cur, false))
}

func cursorSetAction(c *cli.Context) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for cursor set", exitConfig)
	}
	if c.NArg() != 1 {
		return cli.Exit("cursor set requires exactly one <since> argument", exitConfig)
	}
	since, err := time.Parse(time.RFC3339Nano, c.Args().First())
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid since: %v", err), exitConfig)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	dryRun := c.Bool("dry-run")
	store, closer, err := buildCursorStore(cfg.State, dryRun, newLogger(dryRun))
	if err != nil {
		return cli.Exit(fmt.Sprintf("cursor store: %v", err), exitConfig)
	}
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}

	saved, err := setCursor(c, store, since.UTC(), c.Bool("force"))
	if err != nil {
		return err
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}
	return r.Render(newCursorResponse(cfg.State.Backend, types.Cursor{Since: since.UTC()}, saved && !dryRun))
}

// setCursor saves since unless it would move the cursor backwards without
// force. Returns whether a save was issued.
func setCursor(c *cli.Context, store cursor.Store, since time.Time, force bool) (bool, error) {
	cur, err := store.Load(c.Context)
	if err != nil && !force {
		return false, cli.Exit(fmt.Sprintf("cursor unreadable (use --force to overwrite): %v", err), exitStorage)
	}
	if err == nil && since.Before(cur.Since) && !force {
		return false, cli.Exit(fmt.Sprintf("refusing to move cursor backwards from %s (use --force)",
			cur.Since.Format(time.RFC3339)), exitConfig)
	}
	if err := store.Save(c.Context, types.Cursor{Since: since}); err != nil {
		return false, cli.Exit(fmt.Sprintf("save cursor: %v", err), exitStorage)
	}
	return true, nil
}

func newCursorResponse(backend string, cur types.Cursor, saved bool) CursorResponse {
	return CursorResponse{
		Backend: backend,
		Since:   cur.Since.UTC(),
		Default: cur.Since.Equal(types.DefaultSince),
		Saved:   saved,
	}
}
