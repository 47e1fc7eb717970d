package lode

import (
	"errors"
	"testing"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/lhrunner/metrics"
)

func TestValidateFilename(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"index.html", false},
		{"lighthouse@4.0.0.report.json", false},
		{"PSI.output.txt", false},
		{"", true},
		{"..", true},
		{"../escape", true},
		{"nested/file", true},
		{`win\file`, true},
		{"a..b", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilename(tt.name)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFilename(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
		})
	}
}

func TestBundleWriter_PutAndGet(t *testing.T) {
	collector := metrics.NewCollector("live", BackendMemory, "run-1")
	w := NewBundleWriter(lode.NewMemoryFactory(), "/reports/", "lh-issue-runner-7", collector)

	if got := w.Path("index.html"); got != "reports/lh-issue-runner-7/index.html" {
		t.Errorf("Path() = %q", got)
	}

	ctx := t.Context()
	if err := w.PutFile(ctx, "index.html", "text/html", []byte("<h1>hi</h1>")); err != nil {
		t.Fatalf("PutFile: %v", err)
	}

	data, err := w.GetFile(ctx, "index.html")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if string(data) != "<h1>hi</h1>" {
		t.Errorf("GetFile = %q", data)
	}

	if s := collector.Snapshot(); s.StoreWriteSuccess != 1 || s.StoreWriteFailure != 0 {
		t.Errorf("store counters = %d/%d, want 1/0", s.StoreWriteSuccess, s.StoreWriteFailure)
	}
}

func TestBundleWriter_RejectsBadFilename(t *testing.T) {
	w := NewBundleWriter(lode.NewMemoryFactory(), "", "b", nil)
	if err := w.PutFile(t.Context(), "../x", "", nil); err == nil {
		t.Fatal("expected error for traversal filename")
	}
}

func TestBundleWriter_FactoryError(t *testing.T) {
	boom := errors.New("dial tcp: connection refused")
	w := NewBundleWriter(func() (lode.Store, error) { return nil, boom }, "", "b", nil)

	err := w.PutFile(t.Context(), "index.html", "text/html", []byte("x"))
	if !errors.Is(err, ErrNetwork) {
		t.Errorf("expected ErrNetwork classification, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Error("underlying error should remain in the chain")
	}
}

func TestStubFileWriter(t *testing.T) {
	w := NewStubFileWriter()
	_ = w.PutFile(t.Context(), "a.txt", "text/plain", []byte("1"))
	_ = w.PutFile(t.Context(), "a.txt", "text/plain", []byte("2"))

	rec, ok := w.Get("a.txt")
	if !ok || string(rec.Data) != "2" {
		t.Errorf("Get(a.txt) = %+v, %v; want last write", rec, ok)
	}
	if _, ok := w.Get("missing"); ok {
		t.Error("Get(missing) should report false")
	}

	w.Err = errors.New("disk full")
	if err := w.PutFile(t.Context(), "b.txt", "", nil); err == nil {
		t.Error("expected configured error")
	}
}

func TestNewStoreFactory(t *testing.T) {
	if _, err := NewStoreFactory(t.Context(), Config{Backend: "ftp"}); err == nil {
		t.Error("expected error for unknown backend")
	}
	if _, err := NewStoreFactory(t.Context(), Config{Backend: BackendFS}); err == nil {
		t.Error("expected error for fs without path")
	}

	f, err := NewStoreFactory(t.Context(), Config{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("fs factory: %v", err)
	}
	if _, err := f(); err != nil {
		t.Fatalf("fs store: %v", err)
	}

	if _, err := NewStoreFactory(t.Context(), Config{Backend: BackendMemory}); err != nil {
		t.Fatalf("memory factory: %v", err)
	}
}

func TestParseS3Path(t *testing.T) {
	tests := []struct {
		in, bucket, prefix string
	}{
		{"reports", "reports", ""},
		{"reports/lh/runs", "reports", "lh/runs"},
	}
	for _, tt := range tests {
		b, p := ParseS3Path(tt.in)
		if b != tt.bucket || p != tt.prefix {
			t.Errorf("ParseS3Path(%q) = (%q, %q), want (%q, %q)", tt.in, b, p, tt.bucket, tt.prefix)
		}
	}
}
