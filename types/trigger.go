//nolint:revive // types is a common Go package naming convention
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// TriggerKind identifies how a trigger event was discovered.
type TriggerKind string

const (
	// TriggerLabel is an item carrying the marker label.
	TriggerLabel TriggerKind = "label"
	// TriggerComment is a comment matching the trigger pattern.
	TriggerComment TriggerKind = "comment"
	// TriggerManual is a one-off run requested from the command line.
	TriggerManual TriggerKind = "manual"
)

// TriggerEvent is an external occurrence requesting a dispatch.
// Read-only from the harness's perspective.
type TriggerEvent struct {
	// ID is the source identifier (issue number for labels, comment ID for comments).
	ID int64
	// Kind is how the event was discovered.
	Kind TriggerKind
	// Issue is the item the event belongs to; notifications are posted there.
	Issue int
	// Text is the free text the target is extracted from.
	Text string
	// Timestamp is the source timestamp used for cursor ordering.
	Timestamp time.Time
}

// BundleID returns the report bundle name for the event.
// Label events use the issue alone; comment events add the comment ID.
// Manual runs are named by their ID.
func (e TriggerEvent) BundleID() string {
	switch e.Kind {
	case TriggerComment:
		return fmt.Sprintf("lh-issue-runner-%d-%d", e.Issue, e.ID)
	case TriggerManual:
		return fmt.Sprintf("lh-runner-manual-%d", e.ID)
	}
	return fmt.Sprintf("lh-issue-runner-%d", e.Issue)
}

// DefaultSince is the cursor used when no persisted state exists.
var DefaultSince = time.Date(2018, 12, 17, 1, 1, 1, 0, time.UTC)

// Cursor is the persisted watermark bounding processed events.
// Since is monotonically non-decreasing.
type Cursor struct {
	Since time.Time
}

// DefaultCursor returns the initial cursor.
func DefaultCursor() Cursor {
	return Cursor{Since: DefaultSince}
}

// Advance moves the cursor to ts if ts is later than Since.
// Returns true if the cursor moved.
func (c *Cursor) Advance(ts time.Time) bool {
	if !ts.After(c.Since) {
		return false
	}
	c.Since = ts
	return true
}

// cursorJSON is the durable state file shape: {"since": "<ISO-8601>"}.
type cursorJSON struct {
	Since string `json:"since"`
}

// MarshalJSON encodes the cursor as {"since": RFC3339}.
func (c Cursor) MarshalJSON() ([]byte, error) {
	return json.Marshal(cursorJSON{Since: c.Since.UTC().Format(time.RFC3339Nano)})
}

// UnmarshalJSON decodes {"since": RFC3339}. A missing since yields DefaultSince.
func (c *Cursor) UnmarshalJSON(data []byte) error {
	var raw cursorJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Since == "" {
		c.Since = DefaultSince
		return nil
	}
	ts, err := time.Parse(time.RFC3339Nano, raw.Since)
	if err != nil {
		return fmt.Errorf("invalid since %q: %w", raw.Since, err)
	}
	c.Since = ts.UTC()
	return nil
}
