// Package repository persists small client-side identity values (the anonymous id,
// wallet-connect state) under fixed keys, the way a browser uses local storage.
package repository

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("repository: key not found")

// Store is a string key/value store.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}
