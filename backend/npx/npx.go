// Package npx runs released lighthouse CLI versions through npx.
package npx

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/pithecene-io/lhrunner/backend"
	"github.com/pithecene-io/lhrunner/runtime"
)

// DefaultMajors is how many major versions are tested when none are configured.
const DefaultMajors = 2

// Config configures the npx backend.
type Config struct {
	// Versions are the lighthouse versions to run. Empty resolves the latest
	// release of the last DefaultMajors majors during Setup.
	Versions []string
	// ReportsDir is where reports are written.
	ReportsDir string
	// Npx is the npx executable. Defaults to "npx".
	Npx string
	// Npm is the npm executable used to resolve versions. Defaults to "npm".
	Npm string
	// ChromeFlags is passed as --chrome-flags when non-empty.
	ChromeFlags string
}

// Backend runs `npx -p lighthouse@<v> lighthouse` once per version.
type Backend struct {
	config Config

	mu       sync.Mutex
	versions []string
}

var (
	_ backend.Backend = (*Backend)(nil)
	_ backend.Setuper = (*Backend)(nil)
)

// New creates the backend.
func New(config Config) *Backend {
	if config.Npx == "" {
		config.Npx = "npx"
	}
	if config.Npm == "" {
		config.Npm = "npm"
	}
	return &Backend{config: config, versions: append([]string(nil), config.Versions...)}
}

// Kind implements backend.Backend.
func (b *Backend) Kind() backend.Kind { return backend.KindCLI }

// Setup resolves versions from the npm registry when none are configured.
func (b *Backend) Setup(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.versions) > 0 {
		return nil
	}

	res, err := runtime.RunProcess(ctx, runtime.ProcessConfig{
		Path: b.config.Npm,
		Args: []string{"view", "lighthouse", "versions", "--json"},
	})
	if err != nil {
		return fmt.Errorf("resolve lighthouse versions: %w", err)
	}
	var all []string
	if err := json.Unmarshal(res.Output, &all); err != nil {
		return fmt.Errorf("parse npm versions: %w", err)
	}
	b.versions = LatestOfMajors(all, DefaultMajors)
	if len(b.versions) == 0 {
		return fmt.Errorf("no released lighthouse versions found")
	}
	return nil
}

// Versions returns the versions that will be run.
func (b *Backend) Versions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.versions...)
}

// Plan returns one invocation per version.
func (b *Backend) Plan(_ context.Context, target string) ([]backend.Invocation, error) {
	versions := b.Versions()
	if len(versions) == 0 {
		return nil, backend.ErrNotSetUp
	}

	invs := make([]backend.Invocation, 0, len(versions))
	for _, v := range versions {
		label := "lighthouse@" + v
		args := []string{
			"-p", label,
			"lighthouse", target,
			"--output", "html",
			"--output", "json",
			"--output-path", filepath.Join(b.config.ReportsDir, label),
		}
		if b.config.ChromeFlags != "" {
			args = append(args, "--chrome-flags="+b.config.ChromeFlags)
		}
		invs = append(invs, runtime.ProcessInvocation(label,
			runtime.ProcessConfig{Path: b.config.Npx, Args: args},
			runtime.CollectReport(b.config.ReportsDir, label),
		))
	}
	return invs, nil
}

// LatestOfMajors returns the last listed release of each of the n highest
// major versions, newest major first. versions is in registry (semver)
// order; prereleases are ignored.
func LatestOfMajors(versions []string, n int) []string {
	last := make(map[int]string)
	highest := -1
	for _, v := range versions {
		if strings.Contains(v, "-") {
			continue
		}
		major, err := strconv.Atoi(strings.SplitN(v, ".", 2)[0])
		if err != nil {
			continue
		}
		last[major] = v
		if major > highest {
			highest = major
		}
	}

	var out []string
	for m := highest; m >= 0 && len(out) < n && m > highest-n; m-- {
		if v, ok := last[m]; ok {
			out = append(out, v)
		}
	}
	return out
}
