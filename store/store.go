package store

import (
	"errors"
	"time"
)

// Store represents an ephemeral key-value backend. Every Set (re)arms
// the TTL of its own key independently; once the TTL elapses, Get
// behaves as if the key was never written.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string, ttl time.Duration) error
}

// ErrNotFound indicates that the requested key is absent or has expired.
var ErrNotFound = errors.New("key not found")

// ErrNotConfigured indicates that no backend has credentials at all.
var ErrNotConfigured = errors.New("no store backend configured")
