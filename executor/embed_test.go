package executor

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEmbedded(t *testing.T) {
	if !IsEmbedded() {
		t.Fatal("driver should be embedded")
	}
	if EmbeddedSize() == 0 {
		t.Error("EmbeddedSize() = 0")
	}
	if len(EmbeddedChecksum()) != 64 {
		t.Errorf("checksum %q is not hex sha256", EmbeddedChecksum())
	}
}

func TestExtractTo_Idempotent(t *testing.T) {
	root := t.TempDir()

	first, err := extractTo(root)
	if err != nil {
		t.Fatalf("extractTo: %v", err)
	}
	if filepath.Base(first) != DriverName {
		t.Errorf("driver path %q should end with %s", first, DriverName)
	}
	if !strings.HasPrefix(filepath.Base(filepath.Dir(first)), "lhrunner-driver-") {
		t.Errorf("unexpected driver dir %q", filepath.Dir(first))
	}

	second, err := extractTo(root)
	if err != nil {
		t.Fatalf("second extractTo: %v", err)
	}
	if first != second {
		t.Errorf("paths differ: %q vs %q", first, second)
	}

	data, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(data, embeddedDriver) {
		t.Error("extracted driver differs from embedded bytes")
	}
}
