package nodestore

import (
	"cmp"
	"slices"
)

// SortNodes orders nodes by title then UUID, the listing order shared by
// every repository.
func SortNodes(nodes []*Node) {
	slices.SortStableFunc(nodes, CompareNodes)
}

// CompareNodes is the comparison used by SortNodes.
func CompareNodes(a, b *Node) int {
	if c := cmp.Compare(a.Title, b.Title); c != 0 {
		return c
	}
	return cmp.Compare(a.UUID, b.UUID)
}

// Paginate slices an already ordered result set. Pages are 1-indexed and
// pageSize <= 0 yields a single page with every node.
func Paginate(nodes []*Node, pageSize, pageToken int) *NodeFilterResult {
	if pageToken < 1 {
		pageToken = 1
	}
	if pageSize <= 0 {
		count := 0
		if len(nodes) > 0 {
			count = 1
		}
		page := nodes
		if pageToken > 1 {
			page = nil
		}
		return &NodeFilterResult{
			Nodes:     nonNil(page),
			PageSize:  len(nodes),
			PageToken: pageToken,
			PageCount: count,
		}
	}

	count := (len(nodes) + pageSize - 1) / pageSize
	start := (pageToken - 1) * pageSize
	var page []*Node
	if start < len(nodes) {
		end := min(start+pageSize, len(nodes))
		page = nodes[start:end]
	}
	return &NodeFilterResult{
		Nodes:     nonNil(page),
		PageSize:  pageSize,
		PageToken: pageToken,
		PageCount: count,
	}
}

func nonNil(nodes []*Node) []*Node {
	if nodes == nil {
		return []*Node{}
	}
	return nodes
}
