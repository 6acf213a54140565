// Package objectstore defines the remote blob store the asset resolver
// reads through. Keys are (kind, name) pairs; the store itself is a plain
// key-value interface with no audio semantics.
package objectstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no object exists for the key.
var ErrNotFound = errors.New("object not found")

// Store is a keyed blob store for audio fragments.
type Store interface {
	// Get returns the object bytes, or ErrNotFound.
	Get(ctx context.Context, kind, key string) ([]byte, error)

	// Put stores the object bytes under (kind, key), overwriting any
	// previous value.
	Put(ctx context.Context, kind, key string, data []byte) error
}
