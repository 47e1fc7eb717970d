// Package adapter defines the completion-notification boundary.
//
// After a report bundle is published, an adapter forwards a summary event
// to a downstream system (webhook, redis pub/sub). Delivery failures are
// logged by the caller and never fail the run.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/pithecene-io/lhrunner/types"
)

// ContractVersion is the version of the event payload shape.
const ContractVersion = "1"

// EventType is the event_type of every published event.
const EventType = "run_set_completed"

// RunSetCompletedEvent is the payload published when a bundle is published.
type RunSetCompletedEvent struct {
	ContractVersion string             `json:"contract_version"`
	EventType       string             `json:"event_type"`
	RunID           string             `json:"run_id"`
	BundleID        string             `json:"bundle_id"`
	Target          string             `json:"url"`
	ReportURL       string             `json:"report_url"`
	Issue           int                `json:"issue,omitempty"`
	Trigger         string             `json:"trigger,omitempty"`
	Succeeded       int                `json:"succeeded"`
	Failed          int                `json:"failed"`
	Runs            []types.SummaryRun `json:"runs"`
	DryRun          bool               `json:"dry_run"`
	Timestamp       string             `json:"timestamp"` // ISO 8601
	DurationMs      int64              `json:"duration_ms"`
}

// NewRunSetCompletedEvent builds the event for a finished run set.
func NewRunSetCompletedEvent(runID string, set *types.RunSet, ev types.TriggerEvent, bundleID, reportURL string, dryRun bool, duration time.Duration, now time.Time) *RunSetCompletedEvent {
	summary := set.Summary()
	succeeded, failed := summary.Counts()
	return &RunSetCompletedEvent{
		ContractVersion: ContractVersion,
		EventType:       EventType,
		RunID:           runID,
		BundleID:        bundleID,
		Target:          set.Target,
		ReportURL:       reportURL,
		Issue:           ev.Issue,
		Trigger:         string(ev.Kind),
		Succeeded:       succeeded,
		Failed:          failed,
		Runs:            summary.Runs,
		DryRun:          dryRun,
		Timestamp:       now.UTC().Format(time.RFC3339),
		DurationMs:      duration.Milliseconds(),
	}
}

// Adapter publishes completion events to a downstream system.
type Adapter interface {
	// Publish sends an event. Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *RunSetCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// BaseBackoff is the delay before the first retry. Later retries double it.
var BaseBackoff = 500 * time.Millisecond

// Retry calls op up to 1+retries times with exponential backoff between
// attempts. permanent, when non-nil, stops retrying for errors it accepts.
func Retry(ctx context.Context, retries int, op func(ctx context.Context) error, permanent func(error) bool) error {
	var lastErr error
	// attempts = 1 initial + retries
	attempts := 1 + retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context canceled: %w", err)
		}

		// Exponential backoff before retries (not before first attempt)
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * BaseBackoff
			select {
			case <-ctx.Done():
				return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return fmt.Errorf("non-retriable error: %w", lastErr)
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
