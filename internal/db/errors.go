package db

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownPair means the (site, database) pair is not present in the
	// active site configuration. Configuration problem, never retried.
	ErrUnknownPair = errors.New("db: unknown site/database pair")

	// ErrDisabled means the pair exists but has been administratively
	// disabled. Caller error, surfaced immediately.
	ErrDisabled = errors.New("db: site/database pair is disabled")

	// ErrBadConfig means the pair's connection settings are incomplete.
	ErrBadConfig = errors.New("db: incomplete connection settings")
)

// ConnectionError wraps a failed pool construction or liveness probe for
// one pair. The engine skips that site's fetch for the current cycle; the
// next cycle's Acquire retries implicitly.
type ConnectionError struct {
	Pair Pair
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("db: connection to %s/%s failed: %v", e.Pair.Site, e.Pair.Database, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
