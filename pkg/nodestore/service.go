package nodestore

import (
	"context"
	"io"
)

// Service is the single entry point for node operations.
//
// The service takes no locks. Read-modify-write sequences such as Update,
// Copy and the folder checks are not linearizable: concurrent writers on
// the same node race and the last write wins at the repository. A failed
// folder cascade leaves the remaining subtree in place and reports the
// first error without retrying.
type Service interface {
	// Node operations
	Create(ctx context.Context, req CreateNodeRequest) (*Node, error)
	CreateFile(ctx context.Context, r io.Reader, req CreateNodeRequest) (*Node, error)
	Get(ctx context.Context, uuid string) (*Node, error)
	GetByFID(ctx context.Context, fid string) (*Node, error)
	Update(ctx context.Context, uuid string, patch NodePatch) (*Node, error)
	UpdateFile(ctx context.Context, uuid string, r io.Reader) (*Node, error)
	Delete(ctx context.Context, uuid string) error
	Copy(ctx context.Context, uuid, targetParent string) (*Node, error)
	Duplicate(ctx context.Context, uuid string) (*Node, error)

	// Listing and queries
	List(ctx context.Context, parent string) ([]*Node, error)
	Find(ctx context.Context, filters Filters, pageSize, pageToken int) (*NodeFilterResult, error)
	Evaluate(ctx context.Context, smartFolderUUID string) (*SmartFolderEvaluation, error)
	Breadcrumbs(ctx context.Context, uuid string) ([]*Node, error)

	// Content
	Export(ctx context.Context, uuid string) (io.ReadCloser, error)
}
