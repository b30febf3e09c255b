// Package kv provides the ephemeral key-value store used for OTP challenges
// and sessions. Every implementation offers TTL expiry plus atomic
// get-and-delete and compare-and-delete so that single-use secrets cannot be
// consumed twice by concurrent requests.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or expired.
var ErrNotFound = errors.New("kv: key not found")

// Store is the TTL key-value abstraction injected into the OTP and session
// managers.
type Store interface {
	// Set writes value under key, replacing any previous value and TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns the live value for key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// GetDel atomically returns and removes the value for key.
	GetDel(ctx context.Context, key string) ([]byte, error)
	// CompareAndDelete removes key only while it still holds expected.
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Ping checks the backing store is reachable.
	Ping(ctx context.Context) error
}
