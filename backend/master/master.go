// Package master runs lighthouse from a git checkout at its current HEAD.
package master

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pithecene-io/lhrunner/backend"
	"github.com/pithecene-io/lhrunner/runtime"
)

// DefaultRepository is the lighthouse source repository.
const DefaultRepository = "https://github.com/GoogleChrome/lighthouse.git"

// Config configures the master backend.
type Config struct {
	// Checkout is the local clone directory.
	Checkout string
	// Repository is cloned when Checkout does not exist.
	Repository string
	// ReportsDir is where reports are written.
	ReportsDir string
	// Git, Node, Yarn override executables.
	Git, Node, Yarn string
}

// Backend runs <checkout>/lighthouse-cli labelled with the HEAD sha.
type Backend struct {
	config Config
}

var (
	_ backend.Backend = (*Backend)(nil)
	_ backend.Setuper = (*Backend)(nil)
)

// New creates the backend.
func New(config Config) *Backend {
	if config.Repository == "" {
		config.Repository = DefaultRepository
	}
	if config.Git == "" {
		config.Git = "git"
	}
	if config.Node == "" {
		config.Node = "node"
	}
	if config.Yarn == "" {
		config.Yarn = "yarn"
	}
	return &Backend{config: config}
}

// Kind implements backend.Backend.
func (b *Backend) Kind() backend.Kind { return backend.KindMaster }

// Setup clones the checkout if needed, cleans everything but
// node_modules, pulls, and installs dependencies.
func (b *Backend) Setup(ctx context.Context) error {
	if _, err := os.Stat(b.config.Checkout); os.IsNotExist(err) {
		if _, err := runtime.RunProcess(ctx, runtime.ProcessConfig{
			Path: b.config.Git,
			Args: []string{"clone", b.config.Repository, b.config.Checkout},
		}); err != nil {
			return err
		}
	}

	steps := []runtime.ProcessConfig{
		{Path: b.config.Git, Args: []string{"clean", "-fxd", "-e", "node_modules"}},
		{Path: b.config.Git, Args: []string{"pull"}},
		{Path: b.config.Yarn},
	}
	for _, step := range steps {
		step.Dir = b.config.Checkout
		if _, err := runtime.RunProcess(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

// Head returns the first six characters of the checkout's HEAD sha.
func (b *Backend) Head(ctx context.Context) (string, error) {
	res, err := runtime.RunProcess(ctx, runtime.ProcessConfig{
		Path: b.config.Git,
		Args: []string{"rev-parse", "HEAD"},
		Dir:  b.config.Checkout,
	})
	if err != nil {
		return "", fmt.Errorf("read master sha: %w", err)
	}
	sha := strings.TrimSpace(string(res.Output))
	if len(sha) < 6 {
		return "", fmt.Errorf("unexpected sha %q", sha)
	}
	return sha[:6], nil
}

// Plan returns a single invocation labelled lighthouse@master-<sha6>.
func (b *Backend) Plan(ctx context.Context, target string) ([]backend.Invocation, error) {
	sha, err := b.Head(ctx)
	if err != nil {
		return nil, err
	}
	label := "lighthouse@master-" + sha
	return []backend.Invocation{runtime.ProcessInvocation(label,
		runtime.ProcessConfig{
			Path: b.config.Node,
			Args: []string{
				filepath.Join(b.config.Checkout, "lighthouse-cli"),
				target,
				"--output", "html",
				"--output", "json",
				"--output-path", filepath.Join(b.config.ReportsDir, label),
			},
		},
		runtime.CollectReport(b.config.ReportsDir, label),
	)}, nil
}
