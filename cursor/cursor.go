// Package cursor persists the polling watermark.
//
// The durable form is a single JSON object {"since": "<ISO-8601>"}. A
// missing state yields types.DefaultSince.
package cursor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pithecene-io/lhrunner/iox"
	"github.com/pithecene-io/lhrunner/log"
	"github.com/pithecene-io/lhrunner/types"
)

// ErrCorrupt is returned when persisted state cannot be decoded.
var ErrCorrupt = errors.New("cursor state is corrupt")

// Store loads and saves the cursor.
type Store interface {
	// Load returns the persisted cursor, or the default cursor when none exists.
	Load(ctx context.Context) (types.Cursor, error)
	// Save durably replaces the persisted cursor.
	Save(ctx context.Context, c types.Cursor) error
}

// Decode parses persisted state. Empty input yields the default cursor.
func Decode(data []byte) (types.Cursor, error) {
	if len(data) == 0 {
		return types.DefaultCursor(), nil
	}
	var c types.Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return types.Cursor{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return c, nil
}

// Encode renders the durable form.
func Encode(c types.Cursor) ([]byte, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// FileStore keeps the cursor in a JSON file, replaced atomically on save.
type FileStore struct {
	path string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the state file path.
func (s *FileStore) Path() string { return s.path }

// Load implements Store.
func (s *FileStore) Load(_ context.Context) (types.Cursor, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return types.DefaultCursor(), nil
	}
	if err != nil {
		return types.Cursor{}, fmt.Errorf("read cursor %s: %w", s.path, err)
	}
	return Decode(data)
}

// Save implements Store.
func (s *FileStore) Save(_ context.Context, c types.Cursor) error {
	data, err := Encode(c)
	if err != nil {
		return err
	}
	if err := iox.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write cursor %s: %w", s.path, err)
	}
	return nil
}

// DryRun wraps a store so that Save is a logged no-op. Load delegates.
type DryRun struct {
	store  Store
	logger *log.Logger
}

var _ Store = (*DryRun)(nil)

// NewDryRun wraps store.
func NewDryRun(store Store, logger *log.Logger) *DryRun {
	if logger == nil {
		logger = log.Nop()
	}
	return &DryRun{store: store, logger: logger}
}

// Load implements Store.
func (d *DryRun) Load(ctx context.Context) (types.Cursor, error) {
	return d.store.Load(ctx)
}

// Save implements Store by logging the would-be write.
func (d *DryRun) Save(_ context.Context, c types.Cursor) error {
	d.logger.Info("dry run: cursor not saved", map[string]any{
		"since": c.Since.UTC().Format(time.RFC3339Nano),
	})
	return nil
}
