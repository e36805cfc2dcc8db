// Package kv is the durable key-value boundary. A Store offers atomic per-key
// get/set/remove and nothing more: there are no multi-key transactions, so
// every read-modify-write sequence must run through the write queue.
package kv

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("kv: store closed")

// Store is the persistence primitive every backend implements.
type Store interface {
	// Get returns the values of the keys that exist; missing keys are absent from the map.
	Get(ctx context.Context, keys ...string) (map[string][]byte, error)
	// Set writes each key independently.
	Set(ctx context.Context, values map[string][]byte) error
	Remove(ctx context.Context, keys ...string) error
	// Keys lists the stored keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// BytesInUse is the total size of all keys and values.
	BytesInUse(ctx context.Context) (int64, error)
	// Quota is the byte budget; 0 means unlimited.
	Quota() int64
	Close() error
}

// EntrySize is the number of bytes one key/value pair counts against the quota.
func EntrySize(key string, value []byte) int64 {
	return int64(len(key) + len(value))
}
