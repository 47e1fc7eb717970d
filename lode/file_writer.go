package lode

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/lhrunner/iox"
	"github.com/pithecene-io/lhrunner/metrics"
)

// FileWriter writes named report files.
type FileWriter interface {
	// PutFile writes a file. The filename must not contain path separators or "..".
	PutFile(ctx context.Context, filename, contentType string, data []byte) error
}

// ValidateFilename rejects names that would escape the bundle directory.
func ValidateFilename(filename string) error {
	switch {
	case filename == "" || filename == "." || filename == "..":
		return fmt.Errorf("invalid filename %q", filename)
	case strings.ContainsAny(filename, `/\`):
		return fmt.Errorf("filename %q must not contain path separators", filename)
	case strings.Contains(filename, ".."):
		return fmt.Errorf("filename %q must not contain \"..\"", filename)
	}
	return nil
}

// BundleWriter writes report files to a Lode Store under <prefix>/<bundle>/.
// The store is initialized lazily from the factory on first use.
type BundleWriter struct {
	factory   lode.StoreFactory
	prefix    string
	bundle    string
	collector *metrics.Collector

	storeOnce sync.Once
	store     lode.Store
	storeErr  error
}

// NewBundleWriter creates a writer for one report bundle.
func NewBundleWriter(factory lode.StoreFactory, prefix, bundle string, collector *metrics.Collector) *BundleWriter {
	return &BundleWriter{
		factory:   factory,
		prefix:    strings.Trim(prefix, "/"),
		bundle:    bundle,
		collector: collector,
	}
}

var _ FileWriter = (*BundleWriter)(nil)

// Bundle returns the bundle identifier.
func (w *BundleWriter) Bundle() string { return w.bundle }

// Path returns the store key of filename within the bundle.
func (w *BundleWriter) Path(filename string) string {
	return path.Join(w.prefix, w.bundle, filename)
}

// PutFile writes filename into the bundle. contentType is advisory; Lode
// stores raw bytes.
func (w *BundleWriter) PutFile(ctx context.Context, filename, _ string, data []byte) error {
	if err := ValidateFilename(filename); err != nil {
		return err
	}
	store, err := w.getOrCreateStore()
	if err != nil {
		w.collector.IncStoreWriteFailure()
		return err
	}

	key := w.Path(filename)
	if err := store.Put(ctx, key, bytes.NewReader(data)); err != nil {
		w.collector.IncStoreWriteFailure()
		return WrapWriteError(err, key)
	}
	w.collector.IncStoreWriteSuccess()
	return nil
}

// GetFile reads filename from the bundle.
func (w *BundleWriter) GetFile(ctx context.Context, filename string) ([]byte, error) {
	store, err := w.getOrCreateStore()
	if err != nil {
		return nil, err
	}
	key := w.Path(filename)
	rc, err := store.Get(ctx, key)
	if err != nil {
		return nil, WrapReadError(err, key)
	}
	defer iox.DiscardClose(rc)
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, WrapReadError(err, key)
	}
	return data, nil
}

// getOrCreateStore lazily initializes the Store from the factory.
func (w *BundleWriter) getOrCreateStore() (lode.Store, error) {
	w.storeOnce.Do(func() {
		w.store, w.storeErr = w.factory()
		if w.storeErr != nil {
			w.storeErr = WrapInitError(w.storeErr, w.bundle)
		}
	})
	return w.store, w.storeErr
}

// StubFileWriter records PutFile calls for testing.
type StubFileWriter struct {
	mu    sync.Mutex
	Files []StubFileRecord
	// Err, when set, is returned from every PutFile after recording.
	Err error
}

// StubFileRecord is a recorded file write for testing.
type StubFileRecord struct {
	Filename    string
	ContentType string
	Data        []byte
}

// NewStubFileWriter creates a new stub file writer.
func NewStubFileWriter() *StubFileWriter {
	return &StubFileWriter{}
}

// PutFile implements FileWriter by recording the call.
func (w *StubFileWriter) PutFile(_ context.Context, filename, contentType string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Files = append(w.Files, StubFileRecord{
		Filename:    filename,
		ContentType: contentType,
		Data:        append([]byte(nil), data...),
	})
	return w.Err
}

// Get returns the last recorded write for filename.
func (w *StubFileWriter) Get(filename string) (StubFileRecord, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := len(w.Files) - 1; i >= 0; i-- {
		if w.Files[i].Filename == filename {
			return w.Files[i], true
		}
	}
	return StubFileRecord{}, false
}

// Verify StubFileWriter implements FileWriter.
var _ FileWriter = (*StubFileWriter)(nil)
