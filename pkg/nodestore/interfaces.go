package nodestore

import (
	"context"
	"io"
)

// NodeRepository is the metadata storage port. Every backend must return
// the same results the Filter Engine would for identical data.
type NodeRepository interface {
	// Add stores a new node. A duplicate UUID yields a ConflictError.
	Add(ctx context.Context, node *Node) error

	// Update replaces a stored node. A missing node yields NodeNotFoundError.
	Update(ctx context.Context, node *Node) error

	// Delete removes a node's metadata. A missing node yields NodeNotFoundError.
	Delete(ctx context.Context, uuid string) error

	GetByID(ctx context.Context, uuid string) (*Node, error)

	// GetByFID returns the first node with the slug, ordered by title then UUID.
	GetByFID(ctx context.Context, fid string) (*Node, error)

	// Filter lists matching nodes ordered by title then UUID. Pages are
	// 1-indexed; pageSize <= 0 returns every match as a single page.
	Filter(ctx context.Context, filters Filters, pageSize, pageToken int) (*NodeFilterResult, error)
}

// BlobStore is the binary content port, keyed by node UUID.
type BlobStore interface {
	// Read opens the blob. Absent blobs yield an error matching ErrBlobNotFound.
	Read(ctx context.Context, uuid string) (io.ReadCloser, error)

	// Write stores the blob, replacing any previous content.
	Write(ctx context.Context, uuid string, r io.Reader, mimetype string) error

	// Delete removes the blob. Absent blobs yield an error matching ErrBlobNotFound.
	Delete(ctx context.Context, uuid string) error
}

// AspectResolver resolves aspect schemas by identifier.
type AspectResolver interface {
	// GetAspect returns AspectNotFoundError when the aspect is unknown.
	GetAspect(ctx context.Context, uuid string) (*Aspect, error)
}

// NodeGetter resolves referenced nodes during validation.
type NodeGetter interface {
	GetByID(ctx context.Context, uuid string) (*Node, error)
}

// SemanticSearcher ranks candidates against semantic predicates. It is the
// external capability the semantic operator is delegated to.
type SemanticSearcher interface {
	Search(ctx context.Context, queries []NodeFilter, candidates []*Node) ([]*Node, error)
}

// EventSink receives node lifecycle notifications. Triggers carry the
// parent folder's onCreate/onUpdate specifications for collaborators to run.
type EventSink interface {
	NodeCreated(ctx context.Context, node *Node, triggers []string) error
	NodeUpdated(ctx context.Context, node *Node, triggers []string) error
	NodeDeleted(ctx context.Context, node *Node) error
}

// Logger is the logging interface used by the service. *zap.SugaredLogger
// satisfies it.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}
