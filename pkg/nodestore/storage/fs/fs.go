package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tendant/nodestore/pkg/nodestore"
)

const defaultShardLength = 2

// Backend is a filesystem implementation of the nodestore.BlobStore interface.
// Blobs are laid out git-style: the first ShardLength characters of the
// key select a directory, e.g. objects/ab/cdef1234.
type Backend struct {
	baseDir     string
	shardLength int
}

// Config options for the filesystem backend
type Config struct {
	BaseDir     string // Base directory for storing files
	ShardLength int    // Characters used for the shard directory (default: 2)
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}

	if err := os.MkdirAll(config.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	shard := config.ShardLength
	if shard <= 0 {
		shard = defaultShardLength
	}

	return &Backend{
		baseDir:     filepath.Clean(config.BaseDir),
		shardLength: shard,
	}, nil
}

// Key returns the relative path a node's blob is stored under.
func (b *Backend) Key(uuid string) string {
	name := sanitizePathComponent(uuid)
	shard := b.shardLength
	if len(name) <= shard {
		return filepath.Join("objects", "_", name)
	}
	return filepath.Join("objects", name[:shard], name[shard:])
}

// Read opens the stored file
func (b *Backend) Read(ctx context.Context, uuid string) (io.ReadCloser, error) {
	file, err := os.Open(b.path(uuid))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", uuid, nodestore.ErrBlobNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Write stores the content through a temporary file renamed into place
func (b *Backend) Write(ctx context.Context, uuid string, r io.Reader, mimetype string) error {
	filePath := b.path(uuid)

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	return nil
}

// Delete removes the file and any directory left empty
func (b *Backend) Delete(ctx context.Context, uuid string) error {
	filePath := b.path(uuid)

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("delete %s: %w", uuid, nodestore.ErrBlobNotFound)
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	b.cleanupEmptyDirectories(filepath.Dir(filePath))
	return nil
}

func (b *Backend) path(uuid string) string {
	return filepath.Join(b.baseDir, b.Key(uuid))
}

// cleanupEmptyDirectories recursively removes empty directories up to baseDir
func (b *Backend) cleanupEmptyDirectories(dir string) {
	if dir == b.baseDir || !strings.HasPrefix(dir, b.baseDir) {
		return
	}

	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		if os.Remove(dir) == nil {
			b.cleanupEmptyDirectories(filepath.Dir(dir))
		}
	}
}

// sanitizePathComponent keeps keys inside the base directory
func sanitizePathComponent(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, "..", "_")
	if s == "" || s == "." {
		return "_"
	}
	return s
}
