package query

import (
	"encoding/json"
	"fmt"

	"github.com/tendant/nodestore/pkg/nodestore"
)

// Encode serializes a node into the document stored next to the native
// columns. The document is the source of truth when reading back.
func Encode(node *nodestore.Node) ([]byte, error) {
	data, err := json.Marshal(node)
	if err != nil {
		return nil, fmt.Errorf("encoding node %s: %w", node.UUID, err)
	}
	return data, nil
}

// Decode parses a stored document.
func Decode(data []byte) (*nodestore.Node, error) {
	var n nodestore.Node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("decoding node document: %w", err)
	}
	n.Normalize()
	return &n, nil
}

// First returns the node that sorts first, or nil for an empty slice.
func First(nodes []*nodestore.Node) *nodestore.Node {
	var best *nodestore.Node
	for _, n := range nodes {
		if best == nil || nodestore.CompareNodes(n, best) < 0 {
			best = n
		}
	}
	return best
}
