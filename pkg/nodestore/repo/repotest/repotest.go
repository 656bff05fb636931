// Package repotest is the conformance suite every NodeRepository backend
// runs from its own tests.
package repotest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/nodestore/pkg/nodestore"
)

// Factory returns a new, empty repository. Cleanup is registered on t.
type Factory func(t *testing.T) nodestore.NodeRepository

// Run executes the conformance suite against repositories built by newRepo.
func Run(t *testing.T, newRepo Factory) {
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, newRepo(t)) })
	t.Run("AddConflict", func(t *testing.T) { testAddConflict(t, newRepo(t)) })
	t.Run("UpdateAndDelete", func(t *testing.T) { testUpdateAndDelete(t, newRepo(t)) })
	t.Run("GetByFID", func(t *testing.T) { testGetByFID(t, newRepo(t)) })
	t.Run("FilterSemantics", func(t *testing.T) { testFilterSemantics(t, newRepo(t)) })
	t.Run("Pagination", func(t *testing.T) { testPagination(t, newRepo(t)) })
	t.Run("SemanticRejected", func(t *testing.T) { testSemanticRejected(t, newRepo(t)) })
	t.Run("CopyIsolation", func(t *testing.T) { testCopyIsolation(t, newRepo(t)) })
}

// FullNode returns a node with every field populated.
func FullNode(uuid string) *nodestore.Node {
	n := &nodestore.Node{
		UUID:         uuid,
		FID:          "fid-" + uuid,
		Title:        "Title " + uuid,
		Description:  "a description",
		Mimetype:     nodestore.FolderMimetype,
		Size:         0,
		Owner:        "owner@example.com",
		Group:        "staff",
		CreatedTime:  "2024-01-02T03:04:05.000Z",
		ModifiedTime: "2024-02-03T04:05:06.000Z",
		Parent:       nodestore.RootFolderUUID,
		Aspects:      []string{"invoice"},
		Tags:         []string{"finance", "2024"},
		Properties: nodestore.Properties{
			"invoice:amount":   nodestore.Number(12.5),
			"invoice:client":   nodestore.String("ACME"),
			"invoice:paid":     nodestore.Bool(true),
			"invoice:lines":    nodestore.Strings("a", "b"),
			"invoice:meta":     nodestore.Object(map[string]nodestore.Value{"k": nodestore.Number(1), "n": nodestore.Array(nodestore.Bool(false))}),
			"invoice:numeric":  nodestore.String("42"),
			"invoice:optional": nodestore.Null(),
		},
		Permissions: nodestore.Permissions{
			Anonymous:     []nodestore.Permission{},
			Group:         []nodestore.Permission{nodestore.PermissionRead, nodestore.PermissionWrite},
			Authenticated: []nodestore.Permission{nodestore.PermissionRead},
			Advanced:      map[string][]nodestore.Permission{"auditors": {nodestore.PermissionExport}},
		},
		Trashed:  false,
		Starred:  true,
		Filters:  nodestore.And(nodestore.Where("mimetype", nodestore.OpIn, []any{"text/plain", "application/pdf"})),
		OnCreate: []string{"notify"},
		OnUpdate: []string{"reindex", "notify"},
	}
	return n
}

func testRoundTrip(t *testing.T, repo nodestore.NodeRepository) {
	ctx := context.Background()

	folder := FullNode("folder01")
	require.NoError(t, repo.Add(ctx, folder))

	file := &nodestore.Node{
		UUID:         "file0001",
		FID:          "report",
		Title:        "Report",
		Mimetype:     "application/pdf",
		Size:         1024,
		Owner:        nodestore.AnonymousOwner,
		CreatedTime:  "2024-01-02T03:04:05.000Z",
		ModifiedTime: "2024-01-02T03:04:05.000Z",
		Parent:       folder.UUID,
		Versions:     []string{"2024-01-02T03:04:05.000Z"},
	}
	file.Normalize()
	require.NoError(t, repo.Add(ctx, file))

	smart := &nodestore.Node{
		UUID:         "smart001",
		FID:          "pdfs",
		Title:        "PDFs",
		Mimetype:     nodestore.SmartFolderMimetype,
		CreatedTime:  "2024-01-02T03:04:05.000Z",
		ModifiedTime: "2024-01-02T03:04:05.000Z",
		Parent:       nodestore.RootFolderUUID,
		Filters: nodestore.Or(
			[]nodestore.NodeFilter{nodestore.Where("mimetype", nodestore.OpEqual, "application/pdf")},
			[]nodestore.NodeFilter{nodestore.Where("size", nodestore.OpGreater, 10), nodestore.Where("title", nodestore.OpMatch, "rep*")},
		),
		Aggregations: []nodestore.Aggregation{{Title: "Total", FieldName: "size", Formula: nodestore.FormulaSum}},
	}
	smart.Normalize()
	require.NoError(t, repo.Add(ctx, smart))

	for _, want := range []*nodestore.Node{folder, file, smart} {
		got, err := repo.GetByID(ctx, want.UUID)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func testAddConflict(t *testing.T, repo nodestore.NodeRepository) {
	ctx := context.Background()
	require.NoError(t, repo.Add(ctx, node("dup00001", "A", nodestore.RootFolderUUID)))

	err := repo.Add(ctx, node("dup00001", "B", nodestore.RootFolderUUID))
	require.Error(t, err)
	assert.ErrorIs(t, err, nodestore.ErrConflict)
}

func testUpdateAndDelete(t *testing.T, repo nodestore.NodeRepository) {
	ctx := context.Background()

	missing := node("missing1", "Ghost", nodestore.RootFolderUUID)
	assert.ErrorIs(t, repo.Update(ctx, missing), nodestore.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, missing.UUID), nodestore.ErrNotFound)

	n := node("upd00001", "Before", nodestore.RootFolderUUID)
	require.NoError(t, repo.Add(ctx, n))

	n.Title = "After"
	n.Tags = []string{"changed"}
	n.Properties["a:b"] = nodestore.String("c")
	require.NoError(t, repo.Update(ctx, n))

	got, err := repo.GetByID(ctx, n.UUID)
	require.NoError(t, err)
	assert.Equal(t, n, got)

	require.NoError(t, repo.Delete(ctx, n.UUID))
	_, err = repo.GetByID(ctx, n.UUID)
	var nf *nodestore.NodeNotFoundError
	assert.ErrorAs(t, err, &nf)
}

func testGetByFID(t *testing.T, repo nodestore.NodeRepository) {
	ctx := context.Background()

	b := node("bbbbbbbb", "Same", nodestore.RootFolderUUID)
	b.FID = "same"
	a := node("aaaaaaaa", "Same", nodestore.RootFolderUUID)
	a.FID = "same"
	other := node("cccccccc", "Alpha", nodestore.RootFolderUUID)
	other.FID = "same"
	require.NoError(t, repo.Add(ctx, b))
	require.NoError(t, repo.Add(ctx, a))
	require.NoError(t, repo.Add(ctx, other))

	got, err := repo.GetByFID(ctx, "same")
	require.NoError(t, err)
	assert.Equal(t, "cccccccc", got.UUID, "first by title then uuid")

	_, err = repo.GetByFID(ctx, "nope")
	assert.ErrorIs(t, err, nodestore.ErrNotFound)
}

// Dataset is the fixture used to compare backend filtering with the
// in-memory Filter Engine.
func Dataset() []*nodestore.Node {
	mk := func(uuid, title, mimetype, parent string, size int64, tags []string, props nodestore.Properties) *nodestore.Node {
		n := node(uuid, title, parent)
		n.Mimetype = mimetype
		n.Size = size
		n.Tags = tags
		n.Properties = props
		n.Normalize()
		return n
	}
	return []*nodestore.Node{
		mk("folder01", "Projects", nodestore.FolderMimetype, nodestore.RootFolderUUID, 0, []string{"work"}, nil),
		mk("file0001", "Budget 2024", "application/pdf", "folder01", 300, []string{"finance", "work"},
			nodestore.Properties{"inv:amount": nodestore.Number(150), "inv:due": nodestore.String("2024-03-01")}),
		mk("file0002", "budget draft", "text/plain", "folder01", 20, []string{"draft"},
			nodestore.Properties{"inv:amount": nodestore.Number(75.5), "inv:due": nodestore.String("2024-01-15")}),
		mk("file0003", "Café notes", "text/plain", nodestore.RootFolderUUID, 5, nil,
			nodestore.Properties{"inv:amount": nodestore.String("12")}),
		mk("file0004", "Scan", "image/png", "folder01", 4096, []string{"work"},
			nodestore.Properties{"inv:flags": nodestore.Strings("urgent", "late")}),
		mk("smart001", "All PDFs", nodestore.SmartFolderMimetype, nodestore.RootFolderUUID, 0, nil, nil),
	}
}

// FilterCases are expressions exercising every evaluable operator.
func FilterCases() map[string]nodestore.Filters {
	w := nodestore.Where
	return map[string]nodestore.Filters{
		"empty":                 nil,
		"empty conjunction":     nodestore.Filters{{}, {w("size", nodestore.OpGreater, 20)}},
		"parent equal":          nodestore.And(w("parent", nodestore.OpEqual, "folder01")),
		"mimetype not equal":    nodestore.And(w("mimetype", nodestore.OpNotEqual, "text/plain")),
		"size greater":          nodestore.And(w("size", nodestore.OpGreater, 20)),
		"size greater or equal": nodestore.And(w("size", nodestore.OpGreaterOrEqual, 20)),
		"size less":             nodestore.And(w("size", nodestore.OpLess, 20)),
		"size less or equal":    nodestore.And(w("size", nodestore.OpLessOrEqual, 20)),
		"property number":       nodestore.And(w("inv:amount", nodestore.OpGreater, 100)),
		"property date string":  nodestore.And(w("inv:due", nodestore.OpLess, "2024-02-01")),
		"mixed kinds":           nodestore.And(w("inv:amount", nodestore.OpEqual, 12)),
		"in":                    nodestore.And(w("mimetype", nodestore.OpIn, []any{"text/plain", "image/png"})),
		"not in":                nodestore.And(w("mimetype", nodestore.OpNotIn, []any{"text/plain", "image/png"})),
		"array contains":        nodestore.And(w("tags", nodestore.OpArrayContains, "work")),
		"property contains":     nodestore.And(w("inv:flags", nodestore.OpArrayContains, "late")),
		"match substring":       nodestore.And(w("title", nodestore.OpMatch, "BUDGET")),
		"match glob":            nodestore.And(w("title", nodestore.OpMatch, "b*4")),
		"match accent":          nodestore.And(w("title", nodestore.OpMatch, "café")),
		"unresolved field":      nodestore.And(w("description", nodestore.OpNotEqual, "x")),
		"conjunction":           nodestore.And(w("parent", nodestore.OpEqual, "folder01"), w("tags", nodestore.OpArrayContains, "work")),
		"disjunction": nodestore.Or(
			[]nodestore.NodeFilter{w("mimetype", nodestore.OpEqual, "image/png")},
			[]nodestore.NodeFilter{w("parent", nodestore.OpEqual, nodestore.RootFolderUUID), w("size", nodestore.OpLess, 10)},
		),
		"boolean":  nodestore.And(w("trashed", nodestore.OpEqual, false), w("starred", nodestore.OpEqual, false)),
		"no match": nodestore.And(w("title", nodestore.OpEqual, "does not exist")),
	}
}

func testFilterSemantics(t *testing.T, repo nodestore.NodeRepository) {
	ctx := context.Background()
	data := Dataset()
	for _, n := range data {
		require.NoError(t, repo.Add(ctx, n))
	}

	for name, filters := range FilterCases() {
		t.Run(name, func(t *testing.T) {
			expected, err := nodestore.Evaluate(Dataset(), filters)
			require.NoError(t, err)
			nodestore.SortNodes(expected)

			res, err := repo.Filter(ctx, filters, 0, 1)
			require.NoError(t, err)
			assert.Equal(t, uuids(expected), uuids(res.Nodes))
		})
	}
}

func testPagination(t *testing.T, repo nodestore.NodeRepository) {
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		require.NoError(t, repo.Add(ctx, node(fmt.Sprintf("page%04d", i), fmt.Sprintf("Node %d", 6-i), nodestore.RootFolderUUID)))
	}

	res, err := repo.Filter(ctx, nil, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, res.PageCount)
	assert.Equal(t, 1, res.PageToken)
	assert.Equal(t, 3, res.PageSize)
	assert.Equal(t, []string{"page0006", "page0005", "page0004"}, uuids(res.Nodes))

	res, err = repo.Filter(ctx, nil, 3, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"page0000"}, uuids(res.Nodes))

	res, err = repo.Filter(ctx, nil, 3, 4)
	require.NoError(t, err)
	assert.Empty(t, res.Nodes)

	res, err = repo.Filter(ctx, nil, 0, 1)
	require.NoError(t, err)
	assert.Len(t, res.Nodes, 7)
	assert.Equal(t, 1, res.PageCount)
}

func testSemanticRejected(t *testing.T, repo nodestore.NodeRepository) {
	ctx := context.Background()
	require.NoError(t, repo.Add(ctx, node("sem00001", "Doc", nodestore.RootFolderUUID)))

	_, err := repo.Filter(ctx, nodestore.And(nodestore.Where("title", nodestore.OpSemantic, "invoices from last year")), 0, 1)
	var unsupported *nodestore.UnsupportedOperatorError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, nodestore.OpSemantic, unsupported.Operator)
}

func testCopyIsolation(t *testing.T, repo nodestore.NodeRepository) {
	ctx := context.Background()
	n := node("iso00001", "Original", nodestore.RootFolderUUID)
	require.NoError(t, repo.Add(ctx, n))
	n.Title = "Mutated"

	got, err := repo.GetByID(ctx, "iso00001")
	require.NoError(t, err)
	assert.Equal(t, "Original", got.Title)

	got.Tags = append(got.Tags, "mutated")
	again, err := repo.GetByID(ctx, "iso00001")
	require.NoError(t, err)
	assert.Empty(t, again.Tags)
}

func node(uuid, title, parent string) *nodestore.Node {
	n := &nodestore.Node{
		UUID:         uuid,
		FID:          uuid,
		Title:        title,
		Mimetype:     nodestore.MetaNodeMimetype,
		Owner:        nodestore.AnonymousOwner,
		CreatedTime:  "2024-01-01T00:00:00.000Z",
		ModifiedTime: "2024-01-01T00:00:00.000Z",
		Parent:       parent,
	}
	n.Normalize()
	return n
}

func uuids(nodes []*nodestore.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.UUID
	}
	return out
}
