package nodestore_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tendant/nodestore/pkg/nodestore"
	"github.com/tendant/nodestore/pkg/nodestore/aspects"
	"github.com/tendant/nodestore/pkg/nodestore/repo/memory"
	memorystorage "github.com/tendant/nodestore/pkg/nodestore/storage/memory"
)

type recordingSink struct {
	mu      sync.Mutex
	created []string
	updated []string
	deleted []string
	trigger map[string][]string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{trigger: map[string][]string{}}
}

func (r *recordingSink) NodeCreated(ctx context.Context, node *nodestore.Node, triggers []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, node.UUID)
	r.trigger[node.UUID] = triggers
	return nil
}

func (r *recordingSink) NodeUpdated(ctx context.Context, node *nodestore.Node, triggers []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updated = append(r.updated, node.UUID)
	return nil
}

func (r *recordingSink) NodeDeleted(ctx context.Context, node *nodestore.Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, node.UUID)
	return nil
}

type fixture struct {
	svc   nodestore.Service
	repo  *memory.Repository
	blobs *memorystorage.Backend
	sink  *recordingSink
}

func setupService(t *testing.T, opts ...nodestore.Option) *fixture {
	t.Helper()
	f := &fixture{
		repo:  memory.New(),
		blobs: memorystorage.New(),
		sink:  newRecordingSink(),
	}
	base := []nodestore.Option{
		nodestore.WithRepository(f.repo),
		nodestore.WithBlobStore(f.blobs),
		nodestore.WithAspectResolver(aspects.NewRegistry(&nodestore.Aspect{
			UUID: "invoice",
			Properties: []nodestore.AspectProperty{
				{Name: "amount", Type: nodestore.PropertyTypeNumber, Required: true},
			},
		})),
		nodestore.WithEventSink(f.sink),
		nodestore.WithLogger(zaptest.NewLogger(t).Sugar()),
		nodestore.WithClock(func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }),
	}
	svc, err := nodestore.New(append(base, opts...)...)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) folder(t *testing.T, title, parent string, admission nodestore.Filters) *nodestore.Node {
	t.Helper()
	n, err := f.svc.Create(context.Background(), nodestore.CreateNodeRequest{
		Title:    title,
		Mimetype: nodestore.FolderMimetype,
		Parent:   parent,
		Filters:  admission,
	})
	require.NoError(t, err)
	return n
}

func (f *fixture) file(t *testing.T, title, parent, content string) *nodestore.Node {
	t.Helper()
	n, err := f.svc.CreateFile(context.Background(), strings.NewReader(content), nodestore.CreateNodeRequest{
		Title:    title,
		Mimetype: "text/plain",
		Parent:   parent,
	})
	require.NoError(t, err)
	return n
}

func TestNew_RequiresRepository(t *testing.T) {
	_, err := nodestore.New()
	assert.Error(t, err)
}

func TestCreate_StampsAndInherits(t *testing.T) {
	f := setupService(t)
	ctx := nodestore.WithPrincipal(context.Background(), nodestore.Principal{Email: "ana@example.com", Groups: []string{"staff"}})

	perms := nodestore.Permissions{Group: []nodestore.Permission{nodestore.PermissionRead}}
	parent, err := f.svc.Create(ctx, nodestore.CreateNodeRequest{
		Title:       "Projects",
		Mimetype:    nodestore.FolderMimetype,
		Permissions: &perms,
		OnCreate:    []string{"notify-team"},
	})
	require.NoError(t, err)

	assert.Len(t, parent.UUID, 8)
	assert.Equal(t, "projects", parent.FID)
	assert.Equal(t, "ana@example.com", parent.Owner)
	assert.Equal(t, "staff", parent.Group)
	assert.Equal(t, nodestore.RootFolderUUID, parent.Parent)
	assert.Equal(t, "2024-05-06T07:08:09.000Z", parent.CreatedTime)
	assert.Equal(t, parent.CreatedTime, parent.ModifiedTime)
	assert.NotNil(t, parent.Permissions.Anonymous)

	child, err := f.svc.Create(context.Background(), nodestore.CreateNodeRequest{
		Title:    "Notes",
		Mimetype: nodestore.MetaNodeMimetype,
		Parent:   parent.UUID,
	})
	require.NoError(t, err)
	assert.Equal(t, nodestore.AnonymousOwner, child.Owner)
	assert.Equal(t, []nodestore.Permission{nodestore.PermissionRead}, child.Permissions.Group)
	assert.Equal(t, "staff", child.Group)
	assert.Equal(t, []string{"notify-team"}, f.sink.trigger[child.UUID])

	stored, err := f.svc.Get(context.Background(), child.UUID)
	require.NoError(t, err)
	assert.Equal(t, child, stored)
}

func TestCreate_FIDUniqueness(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	a := f.folder(t, "Reports", "", nil)
	b := f.folder(t, "Reports", "", nil)
	assert.Equal(t, "reports", a.FID)
	assert.Equal(t, "reports-2", b.FID)

	_, err := f.svc.Create(ctx, nodestore.CreateNodeRequest{Title: "X", FID: "reports", Mimetype: nodestore.FolderMimetype})
	assert.ErrorIs(t, err, nodestore.ErrConflict)

	got, err := f.svc.GetByFID(ctx, "reports-2")
	require.NoError(t, err)
	assert.Equal(t, b.UUID, got.UUID)
}

func TestCreate_Rejections(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	file := f.file(t, "a.txt", "", "abc")

	tests := []struct {
		name string
		req  nodestore.CreateNodeRequest
		kind nodestore.ErrorKind
	}{
		{"file mimetype needs content", nodestore.CreateNodeRequest{Title: "x", Mimetype: "text/plain"}, nodestore.ErrorKindBadRequest},
		{"missing title", nodestore.CreateNodeRequest{Mimetype: nodestore.FolderMimetype}, nodestore.ErrorKindBadRequest},
		{"missing parent", nodestore.CreateNodeRequest{Title: "x", Mimetype: nodestore.FolderMimetype, Parent: "nowhere1"}, nodestore.ErrorKindNotFound},
		{"parent is a file", nodestore.CreateNodeRequest{Title: "x", Mimetype: nodestore.FolderMimetype, Parent: file.UUID}, nodestore.ErrorKindBadRequest},
		{"duplicate uuid", nodestore.CreateNodeRequest{UUID: file.UUID, Title: "x", Mimetype: nodestore.FolderMimetype}, nodestore.ErrorKindConflict},
		{"malformed filters", nodestore.CreateNodeRequest{
			Title: "x", Mimetype: nodestore.SmartFolderMimetype,
			Filters: nodestore.And(nodestore.NodeFilter{Field: "a", Operator: "??"}),
		}, nodestore.ErrorKindBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, nodestore.KindOf(err), err.Error())
		})
	}

	_, err := f.svc.CreateFile(ctx, strings.NewReader("x"), nodestore.CreateNodeRequest{Title: "f", Mimetype: nodestore.FolderMimetype})
	assert.ErrorIs(t, err, nodestore.ErrBadRequest)
}

func TestCreate_AdmissionFilter(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	folder := f.folder(t, "F", "", nodestore.And(nodestore.Where("mimetype", nodestore.OpEqual, "text/plain")))

	_, err := f.svc.CreateFile(ctx, strings.NewReader("%PDF"), nodestore.CreateNodeRequest{
		Title:    "doc.pdf",
		Mimetype: "application/pdf",
		Parent:   folder.UUID,
	})
	var bad *nodestore.BadRequestError
	require.ErrorAs(t, err, &bad)
	assert.Equal(t, 0, f.blobs.Len(), "rejected before any blob is written")

	ok := f.file(t, "notes.txt", folder.UUID, "hello")
	assert.Equal(t, folder.UUID, ok.Parent)
}

func TestCreate_ValidationError(t *testing.T) {
	f := setupService(t)

	_, err := f.svc.Create(context.Background(), nodestore.CreateNodeRequest{
		Title:      "Invoice",
		Mimetype:   nodestore.MetaNodeMimetype,
		Aspects:    []string{"invoice"},
		Properties: nodestore.Properties{"invoice:amount": nodestore.String("bad")},
	})
	var verr *nodestore.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Violations, 1)
	assert.Equal(t, "amount", verr.Violations[0].Property)
	assert.Contains(t, err.Error(), "amount")
	assert.Equal(t, 0, f.repo.Len())
}

func TestCreate_SanitizesProperties(t *testing.T) {
	f := setupService(t)
	n, err := f.svc.Create(context.Background(), nodestore.CreateNodeRequest{
		Title:    "Invoice",
		Mimetype: nodestore.MetaNodeMimetype,
		Aspects:  []string{"invoice"},
		Properties: nodestore.Properties{
			"invoice:amount": nodestore.Number(5),
			"invoice:extra":  nodestore.String("dropped"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, nodestore.Properties{"invoice:amount": nodestore.Number(5)}, n.Properties)
}

func TestCreateFile_SizeAndExport(t *testing.T) {
	f := setupService(t)
	n := f.file(t, "hello.txt", "", "hello world")
	assert.Equal(t, int64(11), n.Size)

	rc, err := f.svc.Export(context.Background(), n.UUID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	folder := f.folder(t, "Folder", "", nil)
	_, err = f.svc.Export(context.Background(), folder.UUID)
	assert.ErrorIs(t, err, nodestore.ErrBadRequest)
}

type failingAddRepo struct {
	*memory.Repository
}

func (failingAddRepo) Add(ctx context.Context, node *nodestore.Node) error {
	return errors.New("disk full")
}

func TestCreateFile_CompensatesBlobOnMetadataFailure(t *testing.T) {
	repo := failingAddRepo{memory.New()}
	blobs := memorystorage.New()
	svc, err := nodestore.New(nodestore.WithRepository(repo), nodestore.WithBlobStore(blobs))
	require.NoError(t, err)

	_, err = svc.CreateFile(context.Background(), strings.NewReader("data"), nodestore.CreateNodeRequest{
		Title: "a.txt", Mimetype: "text/plain",
	})
	var serr *nodestore.StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "add", serr.Op)
	assert.Equal(t, nodestore.ErrorKindStorage, nodestore.KindOf(err))
	assert.Equal(t, 0, blobs.Len())
}

func TestCreateFile_UUIDConflictKeepsExistingContent(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	existing := f.file(t, "original.txt", "", "original")

	_, err := f.svc.CreateFile(ctx, strings.NewReader("intruder"), nodestore.CreateNodeRequest{
		UUID:     existing.UUID,
		Title:    "intruder.txt",
		Mimetype: "text/plain",
	})
	var conflict *nodestore.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "uuid", conflict.Field)

	rc, err := f.svc.Export(ctx, existing.UUID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestCreate_UUIDConflict(t *testing.T) {
	f := setupService(t)
	existing := f.folder(t, "Folder", "", nil)

	_, err := f.svc.Create(context.Background(), nodestore.CreateNodeRequest{
		UUID:     existing.UUID,
		Title:    "Other",
		Mimetype: nodestore.FolderMimetype,
	})
	assert.ErrorIs(t, err, nodestore.ErrConflict)
}

func TestUpdate(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	n, err := f.svc.Create(ctx, nodestore.CreateNodeRequest{
		Title:      "Invoice",
		Mimetype:   nodestore.MetaNodeMimetype,
		Aspects:    []string{"invoice"},
		Properties: nodestore.Properties{"invoice:amount": nodestore.Number(5)},
		Tags:       []string{"a"},
	})
	require.NoError(t, err)

	title := "Renamed"
	starred := true
	updated, err := f.svc.Update(ctx, n.UUID, nodestore.NodePatch{
		Title:      &title,
		Starred:    &starred,
		Properties: nodestore.Properties{"invoice:amount": nodestore.Number(7)},
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.True(t, updated.Starred)
	assert.Equal(t, n.FID, updated.FID, "fid is not regenerated")
	assert.Equal(t, n.CreatedTime, updated.CreatedTime)
	assert.Equal(t, nodestore.Number(7), updated.Properties["invoice:amount"])
	assert.Equal(t, []string{"a"}, updated.Tags)
	assert.Contains(t, f.sink.updated, n.UUID)

	// removing a required property fails validation and leaves the node untouched
	_, err = f.svc.Update(ctx, n.UUID, nodestore.NodePatch{
		Properties: nodestore.Properties{"invoice:amount": nodestore.Null()},
	})
	assert.ErrorIs(t, err, nodestore.ErrValidation)
	stored, err := f.svc.Get(ctx, n.UUID)
	require.NoError(t, err)
	assert.Equal(t, nodestore.Number(7), stored.Properties["invoice:amount"])

	_, err = f.svc.Update(ctx, "missing1", nodestore.NodePatch{Title: &title})
	assert.ErrorIs(t, err, nodestore.ErrNotFound)
}

func TestUpdate_FolderFilterRechecksChildren(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	folder := f.folder(t, "Docs", "", nil)
	f.file(t, "a.txt", folder.UUID, "a")

	pdfOnly := nodestore.And(nodestore.Where("mimetype", nodestore.OpEqual, "application/pdf"))
	_, err := f.svc.Update(ctx, folder.UUID, nodestore.NodePatch{Filters: &pdfOnly})
	assert.ErrorIs(t, err, nodestore.ErrBadRequest)

	textOnly := nodestore.And(nodestore.Where("mimetype", nodestore.OpEqual, "text/plain"))
	updated, err := f.svc.Update(ctx, folder.UUID, nodestore.NodePatch{Filters: &textOnly})
	require.NoError(t, err)
	assert.True(t, textOnly.Equal(updated.Filters))
}

func TestUpdate_Move(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	a := f.folder(t, "A", "", nil)
	b := f.folder(t, "B", a.UUID, nil)
	c := f.folder(t, "C", b.UUID, nil)
	doc := f.file(t, "doc.txt", a.UUID, "x")

	into := c.UUID
	_, err := f.svc.Update(ctx, a.UUID, nodestore.NodePatch{Parent: &into})
	assert.ErrorIs(t, err, nodestore.ErrBadRequest, "cannot move into own subtree")

	self := a.UUID
	_, err = f.svc.Update(ctx, a.UUID, nodestore.NodePatch{Parent: &self})
	assert.ErrorIs(t, err, nodestore.ErrBadRequest)

	moved, err := f.svc.Update(ctx, doc.UUID, nodestore.NodePatch{Parent: &into})
	require.NoError(t, err)
	assert.Equal(t, c.UUID, moved.Parent)

	docTarget := doc.UUID
	_, err = f.svc.Update(ctx, b.UUID, nodestore.NodePatch{Parent: &docTarget})
	assert.ErrorIs(t, err, nodestore.ErrBadRequest, "parent must be a folder")

	crumbs, err := f.svc.Breadcrumbs(ctx, doc.UUID)
	require.NoError(t, err)
	require.Len(t, crumbs, 3)
	assert.Equal(t, []string{a.UUID, b.UUID, c.UUID}, []string{crumbs[0].UUID, crumbs[1].UUID, crumbs[2].UUID})
}

func TestUpdateFile(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	n := f.file(t, "a.txt", "", "short")

	updated, err := f.svc.UpdateFile(ctx, n.UUID, strings.NewReader("a much longer body"))
	require.NoError(t, err)
	assert.Equal(t, int64(18), updated.Size)
	assert.Len(t, updated.Versions, 1)

	folder := f.folder(t, "F", "", nil)
	_, err = f.svc.UpdateFile(ctx, folder.UUID, strings.NewReader("x"))
	assert.ErrorIs(t, err, nodestore.ErrBadRequest)
}

func TestDuplicate(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	parent := f.folder(t, "P", "", nil)
	a := f.file(t, "A", parent.UUID, "0123456789")

	dup, err := f.svc.Duplicate(ctx, a.UUID)
	require.NoError(t, err)
	assert.Equal(t, "A 2", dup.Title)
	assert.NotEqual(t, a.UUID, dup.UUID)
	assert.NotEqual(t, a.FID, dup.FID)
	assert.Equal(t, parent.UUID, dup.Parent)
	assert.Equal(t, int64(10), dup.Size)

	rc, err := f.svc.Export(ctx, dup.UUID)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Len(t, data, 10)

	_, err = f.svc.Duplicate(ctx, parent.UUID)
	assert.ErrorIs(t, err, nodestore.ErrBadRequest, "folders cannot be duplicated")
}

func TestCopy(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	src := f.folder(t, "Src", "", nil)
	dst := f.folder(t, "Dst", "", nodestore.And(nodestore.Where("mimetype", nodestore.OpEqual, "text/plain")))
	meta, err := f.svc.Create(ctx, nodestore.CreateNodeRequest{Title: "Meta", Mimetype: nodestore.MetaNodeMimetype, Parent: src.UUID})
	require.NoError(t, err)
	doc := f.file(t, "doc.txt", src.UUID, "abc")

	copied, err := f.svc.Copy(ctx, doc.UUID, dst.UUID)
	require.NoError(t, err)
	assert.Equal(t, dst.UUID, copied.Parent)
	assert.Equal(t, "doc.txt 2", copied.Title)

	_, err = f.svc.Copy(ctx, meta.UUID, dst.UUID)
	assert.ErrorIs(t, err, nodestore.ErrBadRequest, "admission filter applies to copies")

	listed, err := f.svc.List(ctx, dst.UUID)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestList(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	folder := f.folder(t, "F", "", nil)
	f.file(t, "b", folder.UUID, "1")
	f.file(t, "a", folder.UUID, "2")
	f.file(t, "root file", "", "3")

	children, err := f.svc.List(ctx, folder.UUID)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "a", children[0].Title)
	assert.Equal(t, "b", children[1].Title)

	top, err := f.svc.List(ctx, nodestore.RootFolderUUID)
	require.NoError(t, err)
	assert.Len(t, top, 2)

	_, err = f.svc.List(ctx, children[0].UUID)
	assert.ErrorIs(t, err, nodestore.ErrBadRequest)
	_, err = f.svc.List(ctx, "missing1")
	assert.ErrorIs(t, err, nodestore.ErrNotFound)
}

func TestDelete_Cascade(t *testing.T) {
	f := setupService(t, nodestore.WithDeleteConcurrency(2))
	ctx := context.Background()
	p := f.folder(t, "P", "", nil)
	c1 := f.file(t, "C1", p.UUID, "one")
	c2 := f.folder(t, "C2", p.UUID, nil)
	g1 := f.file(t, "G1", c2.UUID, "grandchild")
	other := f.file(t, "Other", "", "keep")

	require.NoError(t, f.svc.Delete(ctx, p.UUID))

	for _, id := range []string{p.UUID, c1.UUID, c2.UUID, g1.UUID} {
		_, err := f.svc.Get(ctx, id)
		assert.ErrorIs(t, err, nodestore.ErrNotFound, id)
	}
	assert.Equal(t, 1, f.repo.Len())
	assert.Equal(t, 1, f.blobs.Len(), "only the unrelated blob is left")

	_, err := f.svc.Get(ctx, other.UUID)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{p.UUID, c1.UUID, c2.UUID, g1.UUID}, f.sink.deleted)
	assert.Equal(t, p.UUID, f.sink.deleted[len(f.sink.deleted)-1], "folder goes last")
}

func TestDelete_DeepTree(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	root := f.folder(t, "level 0", "", nil)
	parent := root.UUID
	for i := 1; i <= 30; i++ {
		n := f.folder(t, "level", parent, nil)
		f.file(t, "leaf", n.UUID, "x")
		parent = n.UUID
	}

	require.NoError(t, f.svc.Delete(ctx, root.UUID))
	assert.Equal(t, 0, f.repo.Len())
	assert.Equal(t, 0, f.blobs.Len())
}

func TestDelete_SmartFolderAndMissing(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	smart, err := f.svc.Create(ctx, nodestore.CreateNodeRequest{Title: "S", Mimetype: nodestore.SmartFolderMimetype})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, smart.UUID))
	assert.ErrorIs(t, f.svc.Delete(ctx, smart.UUID), nodestore.ErrNotFound)
}

func TestEvaluate_SmartFolder(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	for _, body := range []string{"1", "22", "333"} {
		_, err := f.svc.CreateFile(ctx, strings.NewReader(body), nodestore.CreateNodeRequest{Title: "doc " + body, Mimetype: "application/pdf"})
		require.NoError(t, err)
	}
	f.file(t, "not a pdf", "", "zzzz")

	smart, err := f.svc.Create(ctx, nodestore.CreateNodeRequest{
		Title:    "PDFs",
		Mimetype: nodestore.SmartFolderMimetype,
		Filters:  nodestore.And(nodestore.Where("mimetype", nodestore.OpEqual, "application/pdf")),
		Aggregations: []nodestore.Aggregation{
			{Title: "Count", Formula: nodestore.FormulaCount},
			{Title: "Total", FieldName: "size", Formula: nodestore.FormulaSum},
			{Title: "Average", FieldName: "size", Formula: nodestore.FormulaAvg},
			{Title: "Median", FieldName: "size", Formula: nodestore.FormulaMed},
			{Title: "Max", FieldName: "size", Formula: nodestore.FormulaMax},
			{Title: "Min", FieldName: "size", Formula: nodestore.FormulaMin},
			{Title: "Broken", FieldName: "invoice:amount", Formula: nodestore.FormulaSum},
		},
	})
	require.NoError(t, err)

	eval, err := f.svc.Evaluate(ctx, smart.UUID)
	require.NoError(t, err)
	assert.Len(t, eval.Records, 3)
	require.Len(t, eval.Aggregations, 7)

	values := map[string]float64{}
	for _, a := range eval.Aggregations[:6] {
		assert.Empty(t, a.Err, a.Title)
		values[a.Title] = a.Value
	}
	assert.Equal(t, map[string]float64{"Count": 3, "Total": 6, "Average": 2, "Median": 2, "Max": 3, "Min": 1}, values)
	assert.NotEmpty(t, eval.Aggregations[6].Err, "missing values fail only their aggregation")

	folder := f.folder(t, "plain", "", nil)
	_, err = f.svc.Evaluate(ctx, folder.UUID)
	assert.ErrorIs(t, err, nodestore.ErrBadRequest)
}

type keywordSearcher struct{}

func (keywordSearcher) Search(ctx context.Context, queries []nodestore.NodeFilter, candidates []*nodestore.Node) ([]*nodestore.Node, error) {
	q, _ := queries[0].Value.AsString()
	var out []*nodestore.Node
	for _, c := range candidates {
		if strings.Contains(strings.ToLower(c.Title), q) {
			out = append(out, c)
		}
	}
	return out, nil
}

func TestFind_SemanticDelegation(t *testing.T) {
	semantic := nodestore.And(
		nodestore.Where("mimetype", nodestore.OpEqual, "text/plain"),
		nodestore.Where("title", nodestore.OpSemantic, "tax"),
	)

	t.Run("without searcher", func(t *testing.T) {
		f := setupService(t)
		_, err := f.svc.Find(context.Background(), semantic, 0, 1)
		assert.ErrorIs(t, err, nodestore.ErrUnsupportedOperator)
	})

	t.Run("with searcher", func(t *testing.T) {
		f := setupService(t, nodestore.WithSemanticSearcher(keywordSearcher{}))
		f.file(t, "Tax 2023", "", "a")
		f.file(t, "Holiday", "", "b")

		res, err := f.svc.Find(context.Background(), semantic, 10, 1)
		require.NoError(t, err)
		require.Len(t, res.Nodes, 1)
		assert.Equal(t, "Tax 2023", res.Nodes[0].Title)
		assert.Equal(t, 1, res.PageCount)
	})

	t.Run("semantic only branch of a disjunction", func(t *testing.T) {
		f := setupService(t, nodestore.WithSemanticSearcher(keywordSearcher{}))
		f.file(t, "Tax 2023", "", "a")
		f.file(t, "Holiday", "", "b")

		filters := nodestore.Or(
			[]nodestore.NodeFilter{nodestore.Where("title", nodestore.OpSemantic, "tax")},
			[]nodestore.NodeFilter{nodestore.Where("mimetype", nodestore.OpEqual, "application/pdf")},
		)
		res, err := f.svc.Find(context.Background(), filters, 10, 1)
		require.NoError(t, err)
		require.Len(t, res.Nodes, 1)
		assert.Equal(t, "Tax 2023", res.Nodes[0].Title)
	})
}

func TestFind_Pagination(t *testing.T) {
	f := setupService(t)
	for _, title := range []string{"e", "d", "c", "b", "a"} {
		f.file(t, title, "", title)
	}

	res, err := f.svc.Find(context.Background(), nil, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, res.PageCount)
	require.Len(t, res.Nodes, 2)
	assert.Equal(t, "c", res.Nodes[0].Title)
	assert.Equal(t, "d", res.Nodes[1].Title)
}
