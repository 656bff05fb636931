package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/tendant/nodestore/pkg/nodestore"
)

type blob struct {
	data     []byte
	mimetype string
}

// Backend is an in-memory implementation of the nodestore.BlobStore interface
type Backend struct {
	mu    sync.RWMutex
	blobs map[string]blob
}

// New creates a new in-memory storage backend
func New() *Backend {
	return &Backend{
		blobs: make(map[string]blob),
	}
}

// Read returns a reader over a copy of the stored blob
func (b *Backend) Read(ctx context.Context, uuid string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stored, ok := b.blobs[uuid]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", uuid, nodestore.ErrBlobNotFound)
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(stored.data))), nil
}

// Write stores the content read from r
func (b *Backend) Write(ctx context.Context, uuid string, r io.Reader, mimetype string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read data: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[uuid] = blob{data: data, mimetype: mimetype}
	return nil
}

// Delete removes the blob
func (b *Backend) Delete(ctx context.Context, uuid string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.blobs[uuid]; !ok {
		return fmt.Errorf("delete %s: %w", uuid, nodestore.ErrBlobNotFound)
	}
	delete(b.blobs, uuid)
	return nil
}

// Mimetype returns the mimetype recorded at write time
func (b *Backend) Mimetype(uuid string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	stored, ok := b.blobs[uuid]
	return stored.mimetype, ok
}

// Len returns the number of stored blobs
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.blobs)
}
