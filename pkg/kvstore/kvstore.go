// Package kvstore provides the shared key-value namespace used for
// cross-window signaling (the OAuth popup callback writes completion markers
// that the popup bridge polls for) and for server-side session storage.
//
// Two backends are provided: a Redis-backed store for deployments where the
// callback handler and the console run in separate processes, and an
// in-memory store for single-process deployments and tests.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist
var ErrNotFound = errors.New("kvstore: key not found")

// Store is a minimal key-value namespace shared between the console and the
// OAuth popup callback page.
type Store interface {
	// Get returns the value for key, or ErrNotFound
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value. A zero ttl means no expiration.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes keys; missing keys are not an error
	Delete(ctx context.Context, keys ...string) error

	// Consume atomically reads then deletes the given keys, returning the
	// values that were present. A missing key is simply absent from the
	// result; the caller decides whether a partial set is acceptable.
	Consume(ctx context.Context, keys ...string) (map[string]string, error)

	// Close releases backend resources
	Close() error
}
