package memory

import (
	"context"
	"sync"

	"github.com/tendant/nodestore/pkg/nodestore"
)

// Repository implements nodestore.NodeRepository using in-memory storage
type Repository struct {
	mu    sync.RWMutex
	nodes map[string]*nodestore.Node
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		nodes: make(map[string]*nodestore.Node),
	}
}

func (r *Repository) Add(ctx context.Context, node *nodestore.Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[node.UUID]; exists {
		return &nodestore.ConflictError{Field: "uuid", Value: node.UUID}
	}

	// Store a copy to avoid external modifications
	r.nodes[node.UUID] = node.Clone()
	return nil
}

func (r *Repository) Update(ctx context.Context, node *nodestore.Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[node.UUID]; !exists {
		return &nodestore.NodeNotFoundError{UUID: node.UUID}
	}

	r.nodes[node.UUID] = node.Clone()
	return nil
}

func (r *Repository) Delete(ctx context.Context, uuid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[uuid]; !exists {
		return &nodestore.NodeNotFoundError{UUID: uuid}
	}
	delete(r.nodes, uuid)
	return nil
}

func (r *Repository) GetByID(ctx context.Context, uuid string) (*nodestore.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, exists := r.nodes[uuid]
	if !exists {
		return nil, &nodestore.NodeNotFoundError{UUID: uuid}
	}
	// Return a copy to prevent external modifications
	return node.Clone(), nil
}

func (r *Repository) GetByFID(ctx context.Context, fid string) (*nodestore.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var first *nodestore.Node
	for _, node := range r.nodes {
		if node.FID != fid {
			continue
		}
		if first == nil || nodestore.CompareNodes(node, first) < 0 {
			first = node
		}
	}
	if first == nil {
		return nil, &nodestore.NodeNotFoundError{FID: fid}
	}
	return first.Clone(), nil
}

func (r *Repository) Filter(ctx context.Context, filters nodestore.Filters, pageSize, pageToken int) (*nodestore.NodeFilterResult, error) {
	r.mu.RLock()
	candidates := make([]*nodestore.Node, 0, len(r.nodes))
	for _, node := range r.nodes {
		candidates = append(candidates, node)
	}
	matched, err := nodestore.Evaluate(candidates, filters)
	if err != nil {
		r.mu.RUnlock()
		return nil, err
	}
	out := make([]*nodestore.Node, len(matched))
	for i, node := range matched {
		out[i] = node.Clone()
	}
	r.mu.RUnlock()

	nodestore.SortNodes(out)
	return nodestore.Paginate(out, pageSize, pageToken), nil
}

// Len returns the number of stored nodes
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Snapshot returns copies of every stored node in listing order
func (r *Repository) Snapshot() []*nodestore.Node {
	r.mu.RLock()
	out := make([]*nodestore.Node, 0, len(r.nodes))
	for _, node := range r.nodes {
		out = append(out, node.Clone())
	}
	r.mu.RUnlock()

	nodestore.SortNodes(out)
	return out
}

// Restore replaces the whole content of the repository
func (r *Repository) Restore(nodes []*nodestore.Node) {
	m := make(map[string]*nodestore.Node, len(nodes))
	for _, node := range nodes {
		m[node.UUID] = node.Clone()
	}
	r.mu.Lock()
	r.nodes = m
	r.mu.Unlock()
}
