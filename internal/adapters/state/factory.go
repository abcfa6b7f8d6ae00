package state

import (
	"path/filepath"
	"strings"
	"time"
)

// Options configures store creation.
type Options struct {
	// RetryMaxAttempts and RetryBaseWait override the default write-retry
	// backoff against SQLITE_BUSY. Zero values keep the Store defaults.
	RetryMaxAttempts int
	RetryBaseWait    time.Duration
}

// NewStore opens the SQLite-backed store at path, creating the file and
// its parent directory and running migrations if needed. The path is
// normalized to a .db extension.
func NewStore(path string, opts Options) (*Store, error) {
	if !strings.HasSuffix(path, ".db") {
		path = strings.TrimSuffix(path, filepath.Ext(path)) + ".db"
	}
	var storeOpts []Option
	if opts.RetryMaxAttempts > 0 || opts.RetryBaseWait > 0 {
		maxAttempts := opts.RetryMaxAttempts
		if maxAttempts == 0 {
			maxAttempts = 5
		}
		baseWait := opts.RetryBaseWait
		if baseWait == 0 {
			baseWait = 100 * time.Millisecond
		}
		storeOpts = append(storeOpts, WithRetryPolicy(maxAttempts, baseWait))
	}
	return Open(path, storeOpts...)
}
