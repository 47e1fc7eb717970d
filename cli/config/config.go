package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Config represents an lhrunner.yaml configuration file.
// All values are optional; Default supplies the rest. CLI flags always
// override config values.
type Config struct {
	Repo     RepoConfig      `yaml:"repo"`
	Trigger  TriggerConfig   `yaml:"trigger"`
	State    StateConfig     `yaml:"state"`
	Timeout  Duration        `yaml:"timeout"`
	Backends []BackendConfig `yaml:"backends"`
	Reports  ReportsConfig   `yaml:"reports"`
	Adapter  AdapterConfig   `yaml:"adapter"`
	// Schedule is a five-field cron expression for `poll --schedule`.
	Schedule string `yaml:"schedule"`
	// DryRunIssue is always included in label scans under dry run.
	DryRunIssue int `yaml:"dry_run_issue"`
}

// RepoConfig names the tracker repository.
type RepoConfig struct {
	Owner  string `yaml:"owner"`
	Name   string `yaml:"name"`
	Token  string `yaml:"token"`
	APIURL string `yaml:"api_url"`
}

// TriggerConfig holds the event matching settings.
type TriggerConfig struct {
	Label    string `yaml:"label"`
	Pattern  string `yaml:"pattern"`
	PageSize int    `yaml:"page_size"`
}

// StateConfig selects the cursor store.
type StateConfig struct {
	// Backend is "file" or "redis".
	Backend  string `yaml:"backend"`
	Path     string `yaml:"path"`
	RedisURL string `yaml:"redis_url"`
	Key      string `yaml:"key"`
}

// BackendConfig configures one backend. Fields apply per kind.
type BackendConfig struct {
	Kind string `yaml:"kind"`
	// Disabled skips the entry without removing it.
	Disabled bool `yaml:"disabled,omitempty"`

	// cli
	Versions    []string `yaml:"versions,omitempty"`
	ChromeFlags string   `yaml:"chrome_flags,omitempty"`

	// master
	Checkout   string `yaml:"checkout,omitempty"`
	Repository string `yaml:"repository,omitempty"`

	// psi
	Key      string `yaml:"key,omitempty"`
	Strategy string `yaml:"strategy,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`

	// extension
	WorkDir    string `yaml:"work_dir,omitempty"`
	ChromePath string `yaml:"chrome_path,omitempty"`
	Node       string `yaml:"node,omitempty"`
}

// ReportsConfig holds the workspace and publishing settings.
type ReportsConfig struct {
	// Dir is the local workspace, reset before every dispatch.
	Dir string `yaml:"dir"`
	// PublicURL is where published bundles are served from.
	PublicURL string `yaml:"public_url"`
	// Prefix is the key prefix bundles are published under.
	Prefix  string        `yaml:"prefix"`
	Storage StorageConfig `yaml:"storage"`
}

// StorageConfig selects the report store.
type StorageConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig holds completion adapter settings.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Backend kinds accepted in the backends list.
var knownKinds = []string{"cli", "master", "psi", "extension"}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Repo: RepoConfig{Owner: "GoogleChrome", Name: "lighthouse"},
		Trigger: TriggerConfig{
			Label:    "needs-lh-runner",
			Pattern:  "LH Runner Go!",
			PageSize: 100,
		},
		State:   StateConfig{Backend: "file", Path: "state.json"},
		Timeout: Duration{60 * time.Second},
		Backends: []BackendConfig{
			{Kind: "cli"},
			{Kind: "psi"},
			{Kind: "master", Checkout: "lh-master"},
			{Kind: "extension", WorkDir: "lh-extension"},
		},
		Reports: ReportsConfig{
			Dir:     "reports",
			Prefix:  "reports",
			Storage: StorageConfig{Backend: "fs", Path: "published"},
		},
	}
}

// ApplyDefaults fills zero fields from Default. A non-empty backends list
// replaces the default list entirely.
func (c *Config) ApplyDefaults() {
	d := Default()
	setString(&c.Repo.Owner, d.Repo.Owner)
	setString(&c.Repo.Name, d.Repo.Name)
	setString(&c.Trigger.Label, d.Trigger.Label)
	setString(&c.Trigger.Pattern, d.Trigger.Pattern)
	if c.Trigger.PageSize <= 0 {
		c.Trigger.PageSize = d.Trigger.PageSize
	}
	setString(&c.State.Backend, d.State.Backend)
	if c.State.Backend == "file" {
		setString(&c.State.Path, d.State.Path)
	}
	if c.Timeout.Duration <= 0 {
		c.Timeout = d.Timeout
	}
	if len(c.Backends) == 0 {
		c.Backends = d.Backends
	}
	setString(&c.Reports.Dir, d.Reports.Dir)
	setString(&c.Reports.Prefix, d.Reports.Prefix)
	setString(&c.Reports.Storage.Backend, d.Reports.Storage.Backend)
	if c.Reports.Storage.Backend == "fs" {
		setString(&c.Reports.Storage.Path, d.Reports.Storage.Path)
	}
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

// Validate checks the configuration for values no component accepts.
func (c *Config) Validate() error {
	var errs []error
	if c.Repo.Owner == "" || c.Repo.Name == "" {
		errs = append(errs, errors.New("repo.owner and repo.name are required"))
	}
	switch c.State.Backend {
	case "file":
		if c.State.Path == "" {
			errs = append(errs, errors.New("state.path is required for the file backend"))
		}
	case "redis":
		if c.State.RedisURL == "" {
			errs = append(errs, errors.New("state.redis_url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("state.backend must be file or redis, got %q", c.State.Backend))
	}
	for i, b := range c.Backends {
		if !isKnownKind(b.Kind) {
			errs = append(errs, fmt.Errorf("backends[%d]: unknown kind %q (want one of %s)",
				i, b.Kind, strings.Join(knownKinds, ", ")))
		}
	}
	switch c.Adapter.Type {
	case "", "webhook", "redis":
	default:
		errs = append(errs, fmt.Errorf("adapter.type must be webhook or redis, got %q", c.Adapter.Type))
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		errs = append(errs, errors.New("adapter.url is required when adapter.type is set"))
	}
	return errors.Join(errs...)
}

func isKnownKind(kind string) bool {
	return slices.Contains(knownKinds, kind)
}

// Secret environment variables and their fallback files under $HOME.
const (
	TokenEnv   = "LH_RUNNER_TOKEN"
	TokenFile  = ".devtools-token"
	PSIKeyEnv  = "LH_RUNNER_PSI_KEY"
	PSIKeyFile = ".psi-key"
)

// ResolveSecret returns configured if set, then the environment variable,
// then the trimmed contents of file in the home directory. A missing file
// yields "".
func ResolveSecret(configured, env, file string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if v := os.Getenv(env); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", nil //nolint:nilerr // no home directory means no secret file
	}
	data, err := os.ReadFile(filepath.Join(home, file))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", file, err)
	}
	return strings.TrimSpace(string(data)), nil
}
