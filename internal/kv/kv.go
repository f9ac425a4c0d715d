// Package kv is the key-value cache collaborator: dead-letter retention,
// shared circuit-breaker state, and the admin settings/keys pass-through all
// sit on this contract.
package kv

import (
	"context"
	"time"
)

type KV interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Keys lists keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
