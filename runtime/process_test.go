package runtime

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/pithecene-io/lhrunner/backend"
)

func TestProcess_CombinedOutputAndExitCode(t *testing.T) {
	p := NewProcess(&ProcessConfig{
		Path: "/bin/sh",
		Args: []string{"-c", "echo out; echo err 1>&2; exit 3"},
	})
	if err := p.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	res, err := p.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	out := string(res.Output)
	if !strings.Contains(out, "out") || !strings.Contains(out, "err") {
		t.Errorf("Output = %q, want both streams", out)
	}
}

func TestProcess_Env(t *testing.T) {
	res, err := RunProcess(t.Context(), ProcessConfig{
		Path: "/bin/sh",
		Args: []string{"-c", "printf %s \"$LHRUNNER_TEST\""},
		Env:  []string{"LHRUNNER_TEST=one", "LHRUNNER_TEST=two"},
	})
	if err != nil {
		t.Fatalf("RunProcess: %v", err)
	}
	if string(res.Output) != "two" {
		t.Errorf("Output = %q, want last env entry to win", res.Output)
	}
}

func TestRunProcess_NonZeroExit(t *testing.T) {
	_, err := RunProcess(t.Context(), ProcessConfig{
		Path: "/bin/sh",
		Args: []string{"-c", "echo nope; exit 1"},
	})
	if err == nil || !strings.Contains(err.Error(), "exited with code 1") {
		t.Errorf("err = %v", err)
	}
}

func TestProcess_KillGroup(t *testing.T) {
	p := NewProcess(&ProcessConfig{
		Path: "/bin/sh",
		Args: []string{"-c", "sleep 30 & sleep 30; wait"},
	})
	if err := p.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waited := make(chan *ProcessResult, 1)
	go func() {
		res, _ := p.Wait()
		waited <- res
	}()

	time.Sleep(50 * time.Millisecond)
	if err := p.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if err := p.Kill(); err != nil {
		t.Errorf("second Kill: %v", err)
	}

	select {
	case res := <-waited:
		if res != nil && res.ExitCode == 0 {
			t.Error("killed process should not exit 0")
		}
	case <-time.After(processWaitDelay + 3*time.Second):
		t.Fatal("process group was not killed")
	}
}

func TestProcess_KillBeforeStart(t *testing.T) {
	p := NewProcess(&ProcessConfig{Path: "/bin/sh", Args: []string{"-c", "true"}})
	if err := p.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if err := p.Start(t.Context()); err == nil {
		t.Error("Start after Kill should fail")
	}
	if _, err := p.Wait(); err == nil {
		t.Error("Wait without Start should fail")
	}
}

func TestProcessInvocation_TimeoutKills(t *testing.T) {
	inv := ProcessInvocation("slow", ProcessConfig{
		Path: "/bin/sh",
		Args: []string{"-c", "sleep 30"},
	}, func(*ProcessResult) (*backend.Output, error) {
		return nil, nil
	})

	start := time.Now()
	res, status := attempt(context.Background(), 100*time.Millisecond, inv.Label, inv.Run, inv.Cancel)
	if status != AttemptTimedOut {
		t.Fatalf("status = %v, want AttemptTimedOut", status)
	}
	if res.Output != TimeoutMessage("slow") {
		t.Errorf("output = %q", res.Output)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("timeout took %v", time.Since(start))
	}
}

func TestDeduplicateEnv(t *testing.T) {
	got := deduplicateEnv([]string{"A=1", "B=2", "A=3"})
	if len(got) != 2 || got[0] != "B=2" || got[1] != "A=3" {
		t.Errorf("deduplicateEnv = %v", got)
	}
}

func TestCollectReport(t *testing.T) {
	dir := t.TempDir()
	collect := CollectReport(dir, "lighthouse@4.0.0")

	out, err := collect(&ProcessResult{ExitCode: 1, Output: []byte("Runtime error encountered")})
	if err != nil {
		t.Fatalf("non-zero exit should not error: %v", err)
	}
	if out.Measurement != nil || out.Text != "Runtime error encountered" {
		t.Errorf("out = %+v", out)
	}

	_, err = collect(&ProcessResult{ExitCode: 0, Output: []byte("done")})
	if err == nil || !strings.Contains(err.Error(), "done") {
		t.Errorf("missing report should error with process output, got %v", err)
	}

	_, jsonPath := backend.ReportPaths(dir, "lighthouse@4.0.0")
	if err := os.WriteFile(jsonPath, []byte(`{"lighthouseVersion":"4.0.0"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err = collect(&ProcessResult{ExitCode: 0, Output: []byte("done")})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if out.Measurement == nil || out.Measurement.LighthouseVersion != "4.0.0" {
		t.Errorf("measurement = %+v", out.Measurement)
	}
}
