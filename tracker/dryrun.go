package tracker

import (
	"context"
	"slices"
	"time"

	"github.com/pithecene-io/lhrunner/log"
	"github.com/pithecene-io/lhrunner/types"
)

// Client is the tracker surface used by the harness.
type Client interface {
	ListLabeled(ctx context.Context, label string) ([]types.TriggerEvent, error)
	GetIssue(ctx context.Context, number int) (types.TriggerEvent, error)
	ListSince(ctx context.Context, since time.Time, pageSize int) ([]types.TriggerEvent, error)
	RemoveLabel(ctx context.Context, number int, label string) error
	PostComment(ctx context.Context, number int, body string) error
}

var _ Client = (*GitHub)(nil)

// DryRun reads through to the wrapped client and replaces every write with
// a log entry. When TestIssue is set, label scans always include it so the
// pipeline has something to exercise.
type DryRun struct {
	client    Client
	logger    *log.Logger
	testIssue int
}

var _ Client = (*DryRun)(nil)

// NewDryRun wraps client. testIssue may be zero.
func NewDryRun(client Client, logger *log.Logger, testIssue int) *DryRun {
	if logger == nil {
		logger = log.Nop()
	}
	return &DryRun{client: client, logger: logger, testIssue: testIssue}
}

// ListLabeled implements Client.
func (d *DryRun) ListLabeled(ctx context.Context, label string) ([]types.TriggerEvent, error) {
	events, err := d.client.ListLabeled(ctx, label)
	if err != nil {
		return nil, err
	}
	if d.testIssue == 0 {
		return events, nil
	}
	if slices.ContainsFunc(events, func(e types.TriggerEvent) bool { return e.Issue == d.testIssue }) {
		return events, nil
	}
	ev, err := d.client.GetIssue(ctx, d.testIssue)
	if err != nil {
		return nil, err
	}
	return append(events, ev), nil
}

// GetIssue implements Client.
func (d *DryRun) GetIssue(ctx context.Context, number int) (types.TriggerEvent, error) {
	return d.client.GetIssue(ctx, number)
}

// ListSince implements Client.
func (d *DryRun) ListSince(ctx context.Context, since time.Time, pageSize int) ([]types.TriggerEvent, error) {
	return d.client.ListSince(ctx, since, pageSize)
}

// RemoveLabel logs instead of removing.
func (d *DryRun) RemoveLabel(_ context.Context, number int, label string) error {
	d.logger.Info("dry run: remove label", map[string]any{
		"issue": number,
		"label": label,
	})
	return nil
}

// PostComment logs instead of posting.
func (d *DryRun) PostComment(_ context.Context, number int, body string) error {
	d.logger.Info("dry run: post comment", map[string]any{
		"issue": number,
		"body":  body,
	})
	return nil
}
