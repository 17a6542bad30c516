// Package kv defines the key-value persistence contract the engine stores
// its state behind, with in-memory and Postgres-backed implementations.
//
// The engine persists three kinds of values per user: the last known
// location sample, the notification log, and the engagement profile. All are
// opaque strings to this package; (de)serialization happens at the caller.
package kv

import "context"

// Store is the persistence contract. Get reports found=false for a missing
// key without error; Set overwrites; Delete on a missing key is a no-op.
type Store interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
