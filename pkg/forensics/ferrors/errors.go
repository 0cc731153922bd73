// Package ferrors defines the sentinel error kinds shared across the
// forensic pipeline: transport failures retry-then-surface, decode
// failures are dropped, and persistence failures never halt the ring.
package ferrors

import (
	"errors"
	"fmt"
)

var (
	// ErrUpstream is returned when an RPC call to the chain fails after
	// backoff is exhausted.
	ErrUpstream = errors.New("forensics: upstream RPC failure")

	// ErrDecode marks a malformed log that is dropped; no count of such
	// logs is kept.
	ErrDecode = errors.New("forensics: malformed log")

	// ErrNotFound marks a query miss (trade, market, evidence, alert).
	ErrNotFound = errors.New("forensics: not found")

	// ErrCapacity marks a subscriber queue overflow on the alert bus.
	ErrCapacity = errors.New("forensics: subscriber at capacity")

	// ErrPersistence marks a durable-store write failure; the caller logs,
	// rolls back, and retries on the next spill tick.
	ErrPersistence = errors.New("forensics: durable store write failed")

	// ErrCancelled marks cooperative cancellation; treated as success with
	// partial results by callers.
	ErrCancelled = errors.New("forensics: cancelled")
)

// Wrap annotates a sentinel kind with a message and the underlying cause,
// preserving errors.Is(kind) for callers further up the stack.
func Wrap(kind error, msg string, cause error) error {
	return fmt.Errorf("%s: %w: %w", msg, kind, cause)
}
