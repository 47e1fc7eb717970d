// Package extension runs lighthouse inside its browser extension through
// the embedded node driver.
package extension

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/pithecene-io/lhrunner/backend"
	"github.com/pithecene-io/lhrunner/executor"
	"github.com/pithecene-io/lhrunner/ipc"
	"github.com/pithecene-io/lhrunner/metrics"
	"github.com/pithecene-io/lhrunner/runtime"
	"github.com/pithecene-io/lhrunner/types"
)

// Config configures the extension backend.
type Config struct {
	// WorkDir holds the downloaded extension. The driver resolves its
	// node dependencies from here.
	WorkDir string
	// ReportsDir is where html and json reports are written.
	ReportsDir string
	// Node is the node executable. Defaults to "node".
	Node string
	// Driver overrides the embedded driver script path.
	Driver string
	// ChromePath is exported to the driver as CHROME_PATH.
	ChromePath string
	// Collector counts frame decode errors. Optional.
	Collector *metrics.Collector
}

// Backend drives the extension in an isolated browser per run.
type Backend struct {
	config Config

	mu   sync.Mutex
	info *ipc.InfoFrame
}

var (
	_ backend.Backend = (*Backend)(nil)
	_ backend.Setuper = (*Backend)(nil)
)

// New creates the backend.
func New(config Config) *Backend {
	if config.Node == "" {
		config.Node = "node"
	}
	return &Backend{config: config}
}

// Kind implements backend.Backend.
func (b *Backend) Kind() backend.Kind { return backend.KindExtension }

// Label returns the run label, Extension@<extVersion>-<chromeVersion>.
// Empty until setup succeeded.
func (b *Backend) Label() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.info == nil {
		return ""
	}
	return fmt.Sprintf("Extension@%s-%s", b.info.ExtensionVersion, b.info.ChromeVersion)
}

func (b *Backend) driverPath() (string, error) {
	if b.config.Driver != "" {
		return b.config.Driver, nil
	}
	return executor.ExtractedPath()
}

func (b *Backend) process(mode string, args ...string) (*runtime.Process, error) {
	driver, err := b.driverPath()
	if err != nil {
		return nil, err
	}
	cfg := &runtime.ProcessConfig{
		Path:         b.config.Node,
		Args:         append([]string{driver, mode, b.config.WorkDir}, args...),
		Dir:          b.config.WorkDir,
		FramedStdout: true,
	}
	if b.config.ChromePath != "" {
		cfg.Env = []string{"CHROME_PATH=" + b.config.ChromePath}
	}
	return runtime.NewProcess(cfg), nil
}

// Setup downloads and prepares the extension and records its version.
func (b *Backend) Setup(ctx context.Context) error {
	if err := os.MkdirAll(b.config.WorkDir, 0o755); err != nil {
		return fmt.Errorf("create extension work dir: %w", err)
	}
	proc, err := b.process("setup")
	if err != nil {
		return err
	}
	if err := proc.Start(ctx); err != nil {
		return err
	}

	res, streamErr := b.consume(proc.Stdout())
	if _, err := proc.Wait(); err != nil {
		return err
	}
	if streamErr != nil {
		return streamErr
	}
	if res.info == nil {
		return fmt.Errorf("extension setup reported no version: %s", strings.TrimSpace(proc.Output()))
	}

	b.mu.Lock()
	b.info = res.info
	b.mu.Unlock()
	return nil
}

// Plan returns a single invocation for target.
func (b *Backend) Plan(_ context.Context, target string) ([]backend.Invocation, error) {
	label := b.Label()
	if label == "" {
		return nil, backend.ErrNotSetUp
	}

	proc, err := b.process("run", target)
	if err != nil {
		return nil, err
	}
	return []backend.Invocation{{
		Label:  label,
		Run:    func(ctx context.Context) (*backend.Output, error) { return b.run(ctx, proc, label) },
		Cancel: func() { _ = proc.Kill() },
	}}, nil
}

func (b *Backend) run(ctx context.Context, proc *runtime.Process, label string) (*backend.Output, error) {
	if err := proc.Start(ctx); err != nil {
		return nil, err
	}
	res, streamErr := b.consume(proc.Stdout())
	exit, err := proc.Wait()
	if err != nil {
		return nil, err
	}
	if streamErr != nil {
		return nil, streamErr
	}

	out := &backend.Output{Text: strings.Join(res.lines, "\n")}
	if res.result == nil {
		if exit.ExitCode != 0 {
			out.Text = strings.TrimSpace(out.Text + "\n" + proc.Output())
		}
		return out, nil
	}

	htmlPath, jsonPath := backend.ReportPaths(b.config.ReportsDir, label)
	if err := os.WriteFile(htmlPath, res.result.HTML, 0o644); err != nil {
		return nil, fmt.Errorf("write extension html report: %w", err)
	}
	if err := os.WriteFile(jsonPath, res.result.JSON, 0o644); err != nil {
		return nil, fmt.Errorf("write extension json report: %w", err)
	}
	m, err := types.ParseMeasurement(res.result.JSON)
	if err != nil {
		return nil, err
	}
	out.Measurement = m
	return out, nil
}

type streamResult struct {
	info   *ipc.InfoFrame
	lines  []string
	result *ipc.ResultFrame
}

// consume reads driver frames until EOF. An error frame or a fatal frame
// error ends the stream with an error; undecodable frames are skipped.
func (b *Backend) consume(r io.Reader) (*streamResult, error) {
	res := &streamResult{}
	dec := ipc.NewFrameDecoder(r)
	for {
		frame, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			if ipc.IsFatalFrameError(err) {
				_, _ = io.Copy(io.Discard, r)
				return res, fmt.Errorf("driver stream: %w", err)
			}
			b.config.Collector.IncIPCDecodeErrors()
			continue
		}

		switch f := frame.(type) {
		case *ipc.InfoFrame:
			res.info = f
		case *ipc.ConsoleFrame:
			res.lines = append(res.lines, f.Line)
		case *ipc.ResultFrame:
			res.result = f
		case *ipc.ErrorFrame:
			_, _ = io.Copy(io.Discard, r)
			return res, errors.New(f.Message)
		}
	}
}
