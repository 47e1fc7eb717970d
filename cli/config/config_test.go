package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_FullConfig(t *testing.T) {
	yaml := `repo:
  owner: acme
  name: site
  api_url: https://ghe.example.com/api/v3

trigger:
  label: perf-please
  pattern: "run perf!"
  page_size: 50

state:
  backend: redis
  redis_url: redis://localhost:6379/2
  key: lh:cursor

timeout: 90s

backends:
  - kind: cli
    versions: ["4.0.0", "3.2.1"]
  - kind: psi
    strategy: desktop
  - kind: extension
    work_dir: /var/lib/lh-ext
    chrome_path: /usr/bin/chromium

reports:
  dir: /tmp/reports
  public_url: https://reports.example.com
  prefix: lh
  storage:
    backend: s3
    path: my-bucket/prefix
    region: us-east-1
    endpoint: https://example.com
    s3_path_style: true

adapter:
  type: webhook
  url: https://hooks.example.com/lh
  headers:
    Authorization: Bearer token123
  timeout: 10s
  retries: 3

schedule: "*/5 * * * *"
dry_run_issue: 6830
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertEqual(t, "repo.owner", cfg.Repo.Owner, "acme")
	assertEqual(t, "repo.api_url", cfg.Repo.APIURL, "https://ghe.example.com/api/v3")
	assertEqual(t, "trigger.label", cfg.Trigger.Label, "perf-please")
	assertEqual(t, "trigger.pattern", cfg.Trigger.Pattern, "run perf!")
	if cfg.Trigger.PageSize != 50 {
		t.Errorf("page_size = %d", cfg.Trigger.PageSize)
	}
	assertEqual(t, "state.backend", cfg.State.Backend, "redis")
	assertEqual(t, "state.key", cfg.State.Key, "lh:cursor")
	if cfg.State.Path != "" {
		t.Errorf("state.path should stay empty for redis, got %q", cfg.State.Path)
	}
	if cfg.Timeout.Duration != 90*time.Second {
		t.Errorf("timeout = %v", cfg.Timeout)
	}

	if len(cfg.Backends) != 3 {
		t.Fatalf("backends = %+v", cfg.Backends)
	}
	if got := strings.Join(cfg.Backends[0].Versions, ","); got != "4.0.0,3.2.1" {
		t.Errorf("cli versions = %s", got)
	}
	assertEqual(t, "psi.strategy", cfg.Backends[1].Strategy, "desktop")
	assertEqual(t, "extension.chrome_path", cfg.Backends[2].ChromePath, "/usr/bin/chromium")

	assertEqual(t, "reports.public_url", cfg.Reports.PublicURL, "https://reports.example.com")
	assertEqual(t, "reports.storage.backend", cfg.Reports.Storage.Backend, "s3")
	if !cfg.Reports.Storage.S3PathStyle {
		t.Error("expected reports.storage.s3_path_style=true")
	}

	assertEqual(t, "adapter.type", cfg.Adapter.Type, "webhook")
	assertEqual(t, "adapter.headers.Authorization", cfg.Adapter.Headers["Authorization"], "Bearer token123")
	if cfg.Adapter.Timeout.Duration != 10*time.Second {
		t.Errorf("adapter.timeout = %v", cfg.Adapter.Timeout)
	}
	if cfg.Adapter.Retries == nil || *cfg.Adapter.Retries != 3 {
		t.Errorf("adapter.retries = %v", cfg.Adapter.Retries)
	}
	assertEqual(t, "schedule", cfg.Schedule, "*/5 * * * *")
	if cfg.DryRunIssue != 6830 {
		t.Errorf("dry_run_issue = %d", cfg.DryRunIssue)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_EmptyConfigGetsDefaults(t *testing.T) {
	for _, content := range []string{"", "   \n\t\n", "# just a comment\n"} {
		cfg, err := Load(writeTemp(t, content))
		if err != nil {
			t.Fatalf("Load(%q): %v", content, err)
		}
		want := Default()
		assertEqual(t, "repo.owner", cfg.Repo.Owner, want.Repo.Owner)
		assertEqual(t, "state.path", cfg.State.Path, "state.json")
		assertEqual(t, "reports.storage.path", cfg.Reports.Storage.Path, "published")
		if cfg.Timeout.Duration != 60*time.Second {
			t.Errorf("timeout = %v", cfg.Timeout)
		}
		var kinds []string
		for _, b := range cfg.Backends {
			kinds = append(kinds, b.Kind)
		}
		if got := strings.Join(kinds, ","); got != "cli,psi,master,extension" {
			t.Errorf("default backends = %s", got)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("defaults should validate: %v", err)
		}
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil || cfg.Trigger.Label != "needs-lh-runner" {
		t.Errorf("Load(\"\") = %+v, %v", cfg, err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/lhrunner.yaml")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeTemp(t, "repo: [unterminated"))
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_LH_OWNER", "from-env")
	yaml := `repo:
  owner: ${TEST_LH_OWNER}
  name: ${TEST_LH_UNSET_NAME:-fallback}
`
	cfg, err := Load(writeTemp(t, yaml))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "repo.owner", cfg.Repo.Owner, "from-env")
	assertEqual(t, "repo.name", cfg.Repo.Name, "fallback")
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	_, err := Load(writeTemp(t, "bogus_key: should_fail\n"))
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
	if !strings.Contains(err.Error(), "bogus_key") {
		t.Errorf("error should mention the unknown key, got: %v", err)
	}
}

func TestLoad_UnknownNestedKeyRejected(t *testing.T) {
	yaml := `reports:
  storage:
    backend: fs
    unknown_field: bad
`
	_, err := Load(writeTemp(t, yaml))
	if err == nil || !strings.Contains(err.Error(), "unknown_field") {
		t.Fatalf("expected unknown_field error, got %v", err)
	}
}

func TestLoad_RetriesZeroDistinctFromNil(t *testing.T) {
	cfg, err := Load(writeTemp(t, "adapter:\n  type: redis\n  url: redis://x\n  retries: 0\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Adapter.Retries == nil || *cfg.Adapter.Retries != 0 {
		t.Errorf("retries = %v, want explicit 0", cfg.Adapter.Retries)
	}

	cfg, err = Load(writeTemp(t, "adapter:\n  type: redis\n  url: redis://x\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Adapter.Retries != nil {
		t.Errorf("retries = %v, want nil", *cfg.Adapter.Retries)
	}
}

func TestDuration_InvalidFormat(t *testing.T) {
	_, err := Load(writeTemp(t, "timeout: not-a-duration\n"))
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Fatalf("expected invalid duration error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown backend", func(c *Config) { c.Backends = []BackendConfig{{Kind: "devtools"}} }, "unknown kind"},
		{"redis without url", func(c *Config) { c.State.Backend = "redis" }, "redis_url"},
		{"bad state backend", func(c *Config) { c.State.Backend = "sqlite" }, "file or redis"},
		{"adapter without url", func(c *Config) { c.Adapter.Type = "webhook" }, "adapter.url"},
		{"bad adapter", func(c *Config) { c.Adapter.Type = "kafka"; c.Adapter.URL = "x" }, "webhook or redis"},
		{"no repo", func(c *Config) { c.Repo.Owner = "" }, "repo.owner"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestResolveSecret(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(TokenEnv, "")

	got, err := ResolveSecret("", TokenEnv, TokenFile)
	if err != nil || got != "" {
		t.Errorf("missing everywhere = %q, %v", got, err)
	}

	if err := os.WriteFile(filepath.Join(home, TokenFile), []byte("file-token\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got, _ := ResolveSecret("", TokenEnv, TokenFile); got != "file-token" {
		t.Errorf("from file = %q", got)
	}

	t.Setenv(TokenEnv, "env-token")
	if got, _ := ResolveSecret("", TokenEnv, TokenFile); got != "env-token" {
		t.Errorf("from env = %q", got)
	}
	if got, _ := ResolveSecret("configured", TokenEnv, TokenFile); got != "configured" {
		t.Errorf("configured = %q", got)
	}
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "lhrunner.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func assertEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", field, got, want)
	}
}
