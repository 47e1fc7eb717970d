package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pithecene-io/lhrunner/backend"
)

// processWaitDelay bounds how long Wait blocks on pipes held open by
// grandchildren (browsers) after the process group was killed.
const processWaitDelay = 2 * time.Second

// ProcessConfig configures a backend child process.
type ProcessConfig struct {
	// Path is the executable.
	Path string
	// Args are passed after Path.
	Args []string
	// Dir is the working directory (empty inherits).
	Dir string
	// Env entries are appended to the inherited environment; later
	// entries win over inherited duplicates.
	Env []string
	// FramedStdout keeps stdout separate for frame reading via Stdout().
	// When false, stdout and stderr are captured into one buffer.
	FramedStdout bool
}

// ProcessResult represents the result of a finished process.
type ProcessResult struct {
	// ExitCode is the process exit code (-1 when killed by signal).
	ExitCode int
	// Output is the captured combined output (stderr only when FramedStdout).
	Output []byte
}

// Process manages one backend child process. The child runs in its own
// process group so Kill reaches the browsers it spawns.
type Process struct {
	config *ProcessConfig
	cmd    *exec.Cmd
	stdout io.ReadCloser
	output syncBuffer

	mu      sync.Mutex
	started bool
	killed  bool
}

// NewProcess creates a new process manager.
func NewProcess(config *ProcessConfig) *Process {
	return &Process{config: config}
}

// Start starts the process. Cancelling ctx kills the process group.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.killed {
		return errors.New("process cancelled before start")
	}

	p.cmd = exec.CommandContext(ctx, p.config.Path, p.config.Args...)
	p.cmd.Dir = p.config.Dir
	p.cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	p.cmd.Cancel = p.killGroup
	p.cmd.WaitDelay = processWaitDelay
	if len(p.config.Env) > 0 {
		p.cmd.Env = deduplicateEnv(append(os.Environ(), p.config.Env...))
	}

	if p.config.FramedStdout {
		stdout, err := p.cmd.StdoutPipe()
		if err != nil {
			return fmt.Errorf("failed to create stdout pipe: %w", err)
		}
		p.stdout = stdout
	} else {
		p.cmd.Stdout = &p.output
	}
	p.cmd.Stderr = &p.output

	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", p.config.Path, err)
	}
	p.started = true
	return nil
}

// Stdout returns the stdout reader. Only valid with FramedStdout.
func (p *Process) Stdout() io.Reader {
	return p.stdout
}

// Output returns the output captured so far.
func (p *Process) Output() string {
	return p.output.String()
}

// Wait waits for the process to exit and returns the result.
// A non-zero exit is reported through ExitCode, not as an error.
func (p *Process) Wait() (*ProcessResult, error) {
	if p.cmd == nil {
		return nil, errors.New("process not started")
	}

	err := p.cmd.Wait()
	result := &ProcessResult{Output: p.output.Bytes()}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			if errors.Is(err, exec.ErrWaitDelay) {
				return result, nil
			}
			return nil, fmt.Errorf("process wait failed: %w", err)
		}
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			result.ExitCode = status.ExitStatus()
		} else {
			result.ExitCode = -1
		}
	}
	return result, nil
}

// Kill terminates the process group. Safe to call before Start, after
// exit, and more than once.
func (p *Process) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = true
	if !p.started {
		return nil
	}
	return p.killGroup()
}

func (p *Process) killGroup() error {
	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// CollectFunc turns a finished process into backend output.
type CollectFunc func(result *ProcessResult) (*backend.Output, error)

// ProcessInvocation wraps a child process as a backend invocation.
// Run starts the process, waits for it, and hands the result to collect.
// Cancel kills the process group.
func ProcessInvocation(label string, config ProcessConfig, collect CollectFunc) backend.Invocation {
	proc := NewProcess(&config)
	return backend.Invocation{
		Label: label,
		Run: func(ctx context.Context) (*backend.Output, error) {
			if err := proc.Start(ctx); err != nil {
				return nil, err
			}
			res, err := proc.Wait()
			if err != nil {
				return nil, err
			}
			return collect(res)
		},
		Cancel: func() { _ = proc.Kill() },
	}
}

// RunProcess starts a process, waits for it, and returns its result.
// Used for setup steps (git, npm) outside the bounded executor.
func RunProcess(ctx context.Context, config ProcessConfig) (*ProcessResult, error) {
	proc := NewProcess(&config)
	if err := proc.Start(ctx); err != nil {
		return nil, err
	}
	res, err := proc.Wait()
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return res, fmt.Errorf("%s %s exited with code %d: %s",
			config.Path, strings.Join(config.Args, " "), res.ExitCode, bytes.TrimSpace(res.Output))
	}
	return res, nil
}

// syncBuffer is a bytes.Buffer safe for concurrent writes from the
// stdout and stderr copiers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// deduplicateEnv keeps the last occurrence of each env var key.
func deduplicateEnv(env []string) []string {
	seen := make(map[string]int, len(env))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		seen[key] = i
	}
	result := make([]string, 0, len(seen))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		if seen[key] == i {
			result = append(result, entry)
		}
	}
	return result
}

// CollectReport returns a CollectFunc for tools that write
// <dir>/<label>.report.json. A non-zero exit yields the captured output
// with no measurement.
func CollectReport(dir, label string) CollectFunc {
	return func(res *ProcessResult) (*backend.Output, error) {
		out := &backend.Output{Text: string(res.Output)}
		if res.ExitCode != 0 {
			return out, nil
		}
		_, jsonPath := backend.ReportPaths(dir, label)
		m, err := backend.ReadReport(jsonPath)
		if err != nil {
			return nil, fmt.Errorf("%w\n\n%s", err, out.Text)
		}
		out.Measurement = m
		return out, nil
	}
}
