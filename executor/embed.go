// Package executor provides the embedded browser driver.
//
// The driver script is embedded at build time and extracted to a
// temporary directory on first use, so the lhrunner binary does not
// need a separate driver installation. The driver resolves puppeteer and
// @msgpack/msgpack from the working directory's node_modules.
package executor

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pithecene-io/lhrunner/types"
)

// DriverName is the file name of the extracted driver.
const DriverName = "extension-driver.mjs"

//go:embed bundle/extension-driver.mjs
var embeddedDriver []byte

var (
	extractOnce   sync.Once
	extractedPath string
	extractErr    error
)

// EmbeddedSize returns the size of the embedded driver in bytes.
func EmbeddedSize() int {
	return len(embeddedDriver)
}

// EmbeddedChecksum returns the SHA256 checksum of the embedded driver.
func EmbeddedChecksum() string {
	hash := sha256.Sum256(embeddedDriver)
	return hex.EncodeToString(hash[:])
}

// IsEmbedded returns true if a driver is embedded in this binary.
func IsEmbedded() bool {
	return len(embeddedDriver) > 0
}

// ExtractedPath returns the path to the extracted driver.
// Extracts on first call; subsequent calls return the cached path.
func ExtractedPath() (string, error) {
	extractOnce.Do(func() {
		extractedPath, extractErr = extractTo(os.TempDir())
	})
	return extractedPath, extractErr
}

// extractTo writes the driver under root in a directory named by version
// and checksum, so several builds can coexist. Idempotent.
func extractTo(root string) (string, error) {
	if !IsEmbedded() {
		return "", fmt.Errorf("no embedded driver available")
	}

	dirName := fmt.Sprintf("lhrunner-driver-%s-%s", types.Version, EmbeddedChecksum()[:16])
	dir := filepath.Join(root, dirName)
	driverPath := filepath.Join(dir, DriverName)

	if info, err := os.Stat(driverPath); err == nil && info.Size() == int64(len(embeddedDriver)) {
		return driverPath, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create driver directory: %w", err)
	}
	if err := os.WriteFile(driverPath, embeddedDriver, 0o755); err != nil {
		return "", fmt.Errorf("failed to write driver: %w", err)
	}
	return driverPath, nil
}

// Cleanup removes the extracted driver directory.
// Safe to call multiple times or if extraction never happened.
func Cleanup() error {
	if extractedPath == "" {
		return nil
	}
	if err := os.RemoveAll(filepath.Dir(extractedPath)); err != nil {
		return fmt.Errorf("failed to cleanup driver: %w", err)
	}
	return nil
}
