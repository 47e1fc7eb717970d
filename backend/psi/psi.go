// Package psi queries the PageSpeed Insights API.
package psi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"

	"github.com/pithecene-io/lhrunner/backend"
	"github.com/pithecene-io/lhrunner/iox"
	"github.com/pithecene-io/lhrunner/types"
)

// Label is the RunResult type of every PSI run.
const Label = "PSI"

// Defaults.
const (
	DefaultEndpoint = "https://www.googleapis.com/pagespeedonline/v5/runPagespeed"
	DefaultStrategy = "mobile"
)

// Config configures the PSI backend.
type Config struct {
	// Key is the API key.
	Key string
	// Strategy is "mobile" or "desktop".
	Strategy string
	// Endpoint overrides the API URL.
	Endpoint string
	// ReportsDir is where PSI.report.json is written.
	ReportsDir string
	// Client overrides the HTTP client.
	Client *http.Client
}

// StatusError reports a non-2xx API response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("failed to load page, status code: %d", e.Code)
}

// Backend issues one API request per target.
type Backend struct {
	config Config
}

var _ backend.Backend = (*Backend)(nil)

// New creates the backend.
func New(config Config) *Backend {
	if config.Strategy == "" {
		config.Strategy = DefaultStrategy
	}
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}
	if config.Client == nil {
		config.Client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Backend{config: config}
}

// Kind implements backend.Backend.
func (b *Backend) Kind() backend.Kind { return backend.KindPSI }

// Plan returns a single invocation. Cancel aborts the in-flight request.
func (b *Backend) Plan(_ context.Context, target string) ([]backend.Invocation, error) {
	var (
		mu     sync.Mutex
		cancel context.CancelFunc
	)
	return []backend.Invocation{{
		Label: Label,
		Run: func(ctx context.Context) (*backend.Output, error) {
			reqCtx, stop := context.WithCancel(ctx)
			defer stop()
			mu.Lock()
			cancel = stop
			mu.Unlock()
			return b.run(reqCtx, target)
		},
		Cancel: func() {
			mu.Lock()
			defer mu.Unlock()
			if cancel != nil {
				cancel()
			}
		},
	}}, nil
}

// RequestURL returns the API URL for target.
func (b *Backend) RequestURL(target string) string {
	q := url.Values{}
	q.Set("key", b.config.Key)
	q.Set("url", target)
	q.Set("strategy", b.config.Strategy)
	return b.config.Endpoint + "?" + q.Encode()
}

func (b *Backend) run(ctx context.Context, target string) (*backend.Output, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.RequestURL(target), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", types.UserAgent)

	resp, err := b.config.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer iox.DiscardClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	out := &backend.Output{Text: string(body)}
	lhr := gjson.GetBytes(body, "lighthouseResult")
	if !lhr.Exists() || lhr.Type == gjson.Null {
		return out, nil
	}

	doc := pretty.Pretty([]byte(lhr.Raw))
	_, jsonPath := backend.ReportPaths(b.config.ReportsDir, Label)
	if err := os.WriteFile(jsonPath, doc, 0o644); err != nil {
		return nil, fmt.Errorf("write PSI report: %w", err)
	}

	m, err := types.ParseMeasurement(doc)
	if err != nil {
		return nil, err
	}
	out.Measurement = m
	return out, nil
}
