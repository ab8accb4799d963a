// Package storage provides durable storage for finished video assets.
// It defines the Store interface (port) and implementations for local disk
// and S3. The finalizer lands completed provider assets here before marking
// their ledger row done.
package storage

import (
	"context"
	"io"
)

// Store defines the interface for persisting finished assets.
type Store interface {
	// SaveAsset persists data under the given folder (container) and name,
	// and returns the identifier of the stored asset. An empty folder means
	// the root container.
	SaveAsset(ctx context.Context, folder, name string, data io.Reader) (fileID string, err error)
}
