package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/google/renameio/v2"
)

// AtomicWrite writes data to path atomically: a temp file in the same
// directory is written and fsynced, then renamed over the target so a
// concurrent reader (or a crash mid-write) never observes a partial file.
func AtomicWrite(path string, data []byte) error {
	perm := os.FileMode(0o600)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}
	return renameio.WriteFile(path, data, perm)
}

// CalculateETag returns a quoted strong ETag for content, used by enginectl
// to detect concurrent config edits before an atomic write.
func CalculateETag(content []byte) string {
	sum := sha256.Sum256(content)
	return fmt.Sprintf("%q", hex.EncodeToString(sum[:]))
}
