package nodestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tendant/nodestore/pkg/nodestore/ids"
)

const defaultDeleteConcurrency = 8

// service implements the Service interface
type service struct {
	repository        NodeRepository
	blobStore         BlobStore
	aspects           AspectResolver
	searcher          SemanticSearcher
	eventSink         EventSink
	logger            Logger
	now               func() time.Time
	deleteConcurrency int
	validator         *Validator
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the node repository
func WithRepository(repo NodeRepository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithBlobStore sets the blob store used by file-like nodes
func WithBlobStore(store BlobStore) Option {
	return func(s *service) {
		s.blobStore = store
	}
}

// WithAspectResolver sets the aspect schema source
func WithAspectResolver(resolver AspectResolver) Option {
	return func(s *service) {
		s.aspects = resolver
	}
}

// WithSemanticSearcher sets the capability semantic predicates are delegated to
func WithSemanticSearcher(searcher SemanticSearcher) Option {
	return func(s *service) {
		s.searcher = searcher
	}
}

// WithEventSink sets the event sink
func WithEventSink(sink EventSink) Option {
	return func(s *service) {
		s.eventSink = sink
	}
}

// WithLogger sets the logger
func WithLogger(logger Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithClock overrides the time source used for timestamps
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// WithDeleteConcurrency bounds the parallel deletions within one level of a
// folder cascade
func WithDeleteConcurrency(n int) Option {
	return func(s *service) {
		s.deleteConcurrency = n
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		eventSink:         NewNoopEventSink(),
		logger:            zap.NewNop().Sugar(),
		now:               time.Now,
		deleteConcurrency: defaultDeleteConcurrency,
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.deleteConcurrency < 1 {
		s.deleteConcurrency = 1
	}
	s.validator = NewValidator(s.aspects, s.repository)

	return s, nil
}

// Node operations

func (s *service) Create(ctx context.Context, req CreateNodeRequest) (*Node, error) {
	if IsFileMimetype(req.Mimetype) {
		return nil, &BadRequestError{Reason: fmt.Sprintf("mimetype %q requires content, use CreateFile", req.Mimetype)}
	}

	node, parent, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := s.repository.Add(ctx, node); err != nil {
		return nil, s.storageErr("add", node.UUID, err)
	}

	s.emitCreated(ctx, node, parent)
	return node, nil
}

func (s *service) CreateFile(ctx context.Context, r io.Reader, req CreateNodeRequest) (*Node, error) {
	if !IsFileMimetype(req.Mimetype) {
		return nil, &BadRequestError{Reason: fmt.Sprintf("mimetype %q carries no content, use Create", req.Mimetype)}
	}
	if s.blobStore == nil {
		return nil, &StorageError{Backend: "blob", Op: "write", Err: errors.New("no blob store configured")}
	}

	node, parent, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	size, err := s.writeBlob(ctx, node.UUID, r, node.Mimetype)
	if err != nil {
		return nil, err
	}
	node.Size = size

	if err := s.repository.Add(ctx, node); err != nil {
		// a conflict on a caller-supplied uuid leaves the blob to the node that won
		if req.UUID == "" || !errors.Is(err, ErrConflict) {
			s.discardBlob(ctx, node.UUID)
		}
		return nil, s.storageErr("add", node.UUID, err)
	}

	s.emitCreated(ctx, node, parent)
	return node, nil
}

func (s *service) Get(ctx context.Context, uuid string) (*Node, error) {
	node, err := s.repository.GetByID(ctx, uuid)
	if err != nil {
		return nil, s.storageErr("get", uuid, err)
	}
	return node, nil
}

func (s *service) GetByFID(ctx context.Context, fid string) (*Node, error) {
	node, err := s.repository.GetByFID(ctx, fid)
	if err != nil {
		return nil, s.storageErr("get_by_fid", fid, err)
	}
	return node, nil
}

func (s *service) Update(ctx context.Context, uuid string, patch NodePatch) (*Node, error) {
	current, err := s.Get(ctx, uuid)
	if err != nil {
		return nil, err
	}

	node := current.Clone()
	if err := applyPatch(node, patch); err != nil {
		return nil, err
	}

	parent, err := s.resolveParent(ctx, node.Parent)
	if err != nil {
		return nil, err
	}
	if node.Parent != current.Parent && node.IsFolder() {
		if err := s.checkNotDescendant(ctx, node.UUID, node.Parent); err != nil {
			return nil, err
		}
	}

	res, err := s.validator.Validate(ctx, node)
	if err != nil {
		return nil, s.storageErr("validate", node.UUID, err)
	}
	node.Properties = res.Properties

	if err := checkAdmission(parent, node); err != nil {
		return nil, err
	}
	if err := res.Err(); err != nil {
		return nil, err
	}

	if node.IsFolder() && !node.Filters.Equal(current.Filters) {
		if err := s.checkChildrenAdmitted(ctx, node); err != nil {
			return nil, err
		}
	}

	node.ModifiedTime = FormatTime(s.now())
	if err := s.repository.Update(ctx, node); err != nil {
		return nil, s.storageErr("update", node.UUID, err)
	}

	s.emitUpdated(ctx, node, parent)
	return node, nil
}

func (s *service) UpdateFile(ctx context.Context, uuid string, r io.Reader) (*Node, error) {
	node, err := s.Get(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if !node.IsFileLike() {
		return nil, &BadRequestError{Reason: fmt.Sprintf("node %s has no content", uuid)}
	}
	if s.blobStore == nil {
		return nil, &StorageError{Backend: "blob", Key: uuid, Op: "write", Err: errors.New("no blob store configured")}
	}

	size, err := s.writeBlob(ctx, uuid, r, node.Mimetype)
	if err != nil {
		return nil, err
	}

	now := FormatTime(s.now())
	node.Size = size
	node.ModifiedTime = now
	node.Versions = append(node.Versions, now)

	if err := s.repository.Update(ctx, node); err != nil {
		return nil, s.storageErr("update", uuid, err)
	}

	parent, err := s.resolveParent(ctx, node.Parent)
	if err != nil {
		s.logger.Warnf("Node %s updated but parent %s could not be resolved: %v", uuid, node.Parent, err)
	}
	s.emitUpdated(ctx, node, parent)
	return node, nil
}

func (s *service) Delete(ctx context.Context, uuid string) error {
	node, err := s.Get(ctx, uuid)
	if err != nil {
		return err
	}

	if !node.IsFolder() {
		return s.deleteNode(ctx, node, false)
	}

	levels, err := s.collectSubtree(ctx, node)
	if err != nil {
		return err
	}

	// Deepest level first so that no folder disappears before its children
	for i := len(levels) - 1; i >= 0; i-- {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.deleteConcurrency)
		for _, n := range levels[i] {
			tolerateMissing := n.UUID != uuid
			g.Go(func() error {
				return s.deleteNode(gctx, n, tolerateMissing)
			})
		}
		if err := g.Wait(); err != nil {
			return &NodeError{UUID: uuid, Op: "delete", Err: err}
		}
	}

	s.logger.Debugf("Deleted folder %s with %d levels", uuid, len(levels))
	return nil
}

func (s *service) Copy(ctx context.Context, uuid, targetParent string) (*Node, error) {
	source, err := s.Get(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if source.IsFolder() {
		return nil, &BadRequestError{Reason: fmt.Sprintf("folder %s cannot be copied", uuid)}
	}
	if targetParent == "" {
		targetParent = RootFolderUUID
	}

	parent, err := s.resolveParent(ctx, targetParent)
	if err != nil {
		return nil, err
	}

	node := source.Clone()
	node.UUID = ids.UUID()
	node.Title = source.Title + " 2"
	node.FID, err = ids.UniqueFID(ctx, node.Title, s.fidExists)
	if err != nil {
		return nil, s.storageErr("get_by_fid", node.Title, err)
	}
	now := FormatTime(s.now())
	node.CreatedTime = now
	node.ModifiedTime = now
	node.Owner = ownerFrom(ctx)
	node.Parent = targetParent
	node.Versions = nil

	if err := checkAdmission(parent, node); err != nil {
		return nil, err
	}

	if node.IsFileLike() {
		if err := s.copyBlob(ctx, source, node); err != nil {
			return nil, err
		}
	}

	if err := s.repository.Add(ctx, node); err != nil {
		if node.IsFileLike() {
			s.discardBlob(ctx, node.UUID)
		}
		return nil, s.storageErr("add", node.UUID, err)
	}

	s.emitCreated(ctx, node, parent)
	return node, nil
}

func (s *service) Duplicate(ctx context.Context, uuid string) (*Node, error) {
	source, err := s.Get(ctx, uuid)
	if err != nil {
		return nil, err
	}
	return s.Copy(ctx, uuid, source.Parent)
}

// Listing and queries

func (s *service) List(ctx context.Context, parent string) ([]*Node, error) {
	if parent == "" {
		parent = RootFolderUUID
	}
	if _, err := s.resolveParent(ctx, parent); err != nil {
		return nil, err
	}
	return s.children(ctx, parent)
}

func (s *service) Find(ctx context.Context, filters Filters, pageSize, pageToken int) (*NodeFilterResult, error) {
	if err := filters.Validate(); err != nil {
		return nil, err
	}

	if !filters.HasSemantic() {
		res, err := s.repository.Filter(ctx, filters, pageSize, pageToken)
		if err != nil {
			return nil, s.storageErr("filter", "", err)
		}
		return res, nil
	}

	queries := filters.SemanticQueries()
	if s.searcher == nil {
		return nil, &UnsupportedOperatorError{Operator: OpSemantic, Field: queries[0].Field}
	}

	candidates, err := s.repository.Filter(ctx, filters.WithoutSemantic(), 0, 1)
	if err != nil {
		return nil, s.storageErr("filter", "", err)
	}
	ranked, err := s.searcher.Search(ctx, queries, candidates.Nodes)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	return Paginate(ranked, pageSize, pageToken), nil
}

func (s *service) Evaluate(ctx context.Context, smartFolderUUID string) (*SmartFolderEvaluation, error) {
	folder, err := s.Get(ctx, smartFolderUUID)
	if err != nil {
		return nil, err
	}
	if !folder.IsSmartFolder() {
		return nil, &BadRequestError{Reason: fmt.Sprintf("node %s is not a smart folder", smartFolderUUID)}
	}

	res, err := s.Find(ctx, folder.Filters, 0, 1)
	if err != nil {
		return nil, err
	}

	eval := &SmartFolderEvaluation{Records: res.Nodes}
	for _, agg := range folder.Aggregations {
		eval.Aggregations = append(eval.Aggregations, Aggregate(res.Nodes, agg))
	}
	return eval, nil
}

func (s *service) Breadcrumbs(ctx context.Context, uuid string) ([]*Node, error) {
	node, err := s.Get(ctx, uuid)
	if err != nil {
		return nil, err
	}

	var trail []*Node
	visited := map[string]bool{node.UUID: true}
	for id := node.Parent; id != RootFolderUUID && id != ""; {
		if visited[id] {
			return nil, &BadRequestError{Reason: fmt.Sprintf("parent cycle detected at %s", id)}
		}
		visited[id] = true

		ancestor, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		trail = append(trail, ancestor)
		id = ancestor.Parent
	}

	for i, j := 0, len(trail)-1; i < j; i, j = i+1, j-1 {
		trail[i], trail[j] = trail[j], trail[i]
	}
	return trail, nil
}

// Content

func (s *service) Export(ctx context.Context, uuid string) (io.ReadCloser, error) {
	node, err := s.Get(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if !node.IsFileLike() {
		return nil, &BadRequestError{Reason: fmt.Sprintf("node %s has no content", uuid)}
	}
	if s.blobStore == nil {
		return nil, &StorageError{Backend: "blob", Key: uuid, Op: "read", Err: errors.New("no blob store configured")}
	}
	rc, err := s.blobStore.Read(ctx, uuid)
	if err != nil {
		return nil, s.blobErr("read", uuid, err)
	}
	return rc, nil
}

// Helpers

// prepare builds a validated node from req without persisting it.
func (s *service) prepare(ctx context.Context, req CreateNodeRequest) (*Node, *Node, error) {
	if req.Title == "" {
		return nil, nil, &BadRequestError{Reason: "title is required"}
	}
	if req.Mimetype == "" {
		return nil, nil, &BadRequestError{Reason: "mimetype is required"}
	}
	if err := req.Filters.Validate(); err != nil {
		return nil, nil, err
	}

	parentID := req.Parent
	if parentID == "" {
		parentID = RootFolderUUID
	}
	parent, err := s.resolveParent(ctx, parentID)
	if err != nil {
		return nil, nil, err
	}

	uuid := req.UUID
	if uuid == "" {
		uuid = ids.UUID()
	} else {
		taken, err := s.uuidExists(ctx, uuid)
		if err != nil {
			return nil, nil, s.storageErr("get", uuid, err)
		}
		if taken {
			return nil, nil, &ConflictError{Field: "uuid", Value: uuid}
		}
	}

	fid := req.FID
	if fid == "" {
		fid, err = ids.UniqueFID(ctx, req.Title, s.fidExists)
		if err != nil {
			return nil, nil, s.storageErr("get_by_fid", req.Title, err)
		}
	} else {
		taken, err := s.fidExists(ctx, fid)
		if err != nil {
			return nil, nil, s.storageErr("get_by_fid", fid, err)
		}
		if taken {
			return nil, nil, &ConflictError{Field: "fid", Value: fid}
		}
	}

	now := FormatTime(s.now())
	node := &Node{
		UUID:         uuid,
		FID:          fid,
		Title:        req.Title,
		Description:  req.Description,
		Mimetype:     req.Mimetype,
		Owner:        ownerFrom(ctx),
		Group:        req.Group,
		CreatedTime:  now,
		ModifiedTime: now,
		Parent:       parentID,
		Aspects:      append([]string{}, req.Aspects...),
		Tags:         append([]string{}, req.Tags...),
		Properties:   Properties{},
		Starred:      req.Starred,
		Filters:      req.Filters.clone(),
	}
	for k, v := range req.Properties {
		node.Properties[k] = v
	}

	switch {
	case req.Permissions != nil:
		node.Permissions = req.Permissions.clone()
	case parent != nil:
		node.Permissions = parent.Permissions.clone()
	}
	if node.Group == "" {
		node.Group = groupFrom(ctx, parent)
	}

	switch {
	case node.IsFolder():
		node.OnCreate = append([]string(nil), req.OnCreate...)
		node.OnUpdate = append([]string(nil), req.OnUpdate...)
	case node.IsSmartFolder():
		node.Aggregations = append([]Aggregation(nil), req.Aggregations...)
	}
	node.Normalize()

	res, err := s.validator.Validate(ctx, node)
	if err != nil {
		return nil, nil, s.storageErr("validate", node.UUID, err)
	}
	node.Properties = res.Properties

	if err := checkAdmission(parent, node); err != nil {
		return nil, nil, err
	}
	if err := res.Err(); err != nil {
		return nil, nil, err
	}
	return node, parent, nil
}

// resolveParent returns the parent folder, or nil for the root sentinel.
func (s *service) resolveParent(ctx context.Context, id string) (*Node, error) {
	if id == RootFolderUUID {
		return nil, nil
	}
	parent, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !parent.IsFolder() {
		return nil, &BadRequestError{Reason: fmt.Sprintf("parent %s is not a folder", id)}
	}
	return parent, nil
}

func checkAdmission(parent, node *Node) error {
	if parent == nil || parent.Filters.IsEmpty() {
		return nil
	}
	ok, err := Matches(node, parent.Filters)
	if err != nil {
		return err
	}
	if !ok {
		return &BadRequestError{Reason: fmt.Sprintf("folder %s does not admit node %q", parent.UUID, node.Title)}
	}
	return nil
}

func (s *service) checkChildrenAdmitted(ctx context.Context, folder *Node) error {
	children, err := s.children(ctx, folder.UUID)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := checkAdmission(folder, child); err != nil {
			return &BadRequestError{Reason: fmt.Sprintf("existing child %s would not be admitted by the new filter", child.UUID)}
		}
	}
	return nil
}

// checkNotDescendant rejects moving folder uuid under target when target
// lies inside its subtree.
func (s *service) checkNotDescendant(ctx context.Context, uuid, target string) error {
	visited := make(map[string]bool)
	for id := target; id != RootFolderUUID && id != ""; {
		if id == uuid {
			return &BadRequestError{Reason: fmt.Sprintf("cannot move folder %s into its own subtree", uuid)}
		}
		if visited[id] {
			return &BadRequestError{Reason: fmt.Sprintf("parent cycle detected at %s", id)}
		}
		visited[id] = true

		n, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		id = n.Parent
	}
	return nil
}

func (s *service) children(ctx context.Context, parent string) ([]*Node, error) {
	res, err := s.repository.Filter(ctx, And(Where("parent", OpEqual, parent)), 0, 1)
	if err != nil {
		return nil, s.storageErr("filter", parent, err)
	}
	return res.Nodes, nil
}

// collectSubtree walks the folder breadth first with an explicit queue and
// returns the nodes grouped by depth.
func (s *service) collectSubtree(ctx context.Context, root *Node) ([][]*Node, error) {
	visited := map[string]bool{root.UUID: true}
	levels := [][]*Node{{root}}

	for frontier := levels[0]; len(frontier) > 0; {
		var next []*Node
		for _, n := range frontier {
			if !n.IsFolder() {
				continue
			}
			kids, err := s.children(ctx, n.UUID)
			if err != nil {
				return nil, err
			}
			for _, k := range kids {
				if visited[k.UUID] {
					continue
				}
				visited[k.UUID] = true
				next = append(next, k)
			}
		}
		if len(next) > 0 {
			levels = append(levels, next)
		}
		frontier = next
	}
	return levels, nil
}

func (s *service) deleteNode(ctx context.Context, node *Node, tolerateMissing bool) error {
	if node.IsFileLike() && s.blobStore != nil {
		if err := s.blobStore.Delete(ctx, node.UUID); err != nil {
			if !errors.Is(err, ErrBlobNotFound) {
				return s.blobErr("delete", node.UUID, err)
			}
			s.logger.Warnf("Blob for node %s was already absent", node.UUID)
		}
	}

	if err := s.repository.Delete(ctx, node.UUID); err != nil {
		if tolerateMissing && errors.Is(err, ErrNotFound) {
			return nil
		}
		return s.storageErr("delete", node.UUID, err)
	}

	if err := s.eventSink.NodeDeleted(ctx, node); err != nil {
		s.logger.Warnf("Event sink failed for deleted node %s: %v", node.UUID, err)
	}
	return nil
}

func (s *service) writeBlob(ctx context.Context, uuid string, r io.Reader, mimetype string) (int64, error) {
	cr := &countingReader{r: r}
	if err := s.blobStore.Write(ctx, uuid, cr, mimetype); err != nil {
		return 0, s.blobErr("write", uuid, err)
	}
	return cr.n, nil
}

func (s *service) copyBlob(ctx context.Context, source, target *Node) error {
	if s.blobStore == nil {
		return &StorageError{Backend: "blob", Key: source.UUID, Op: "read", Err: errors.New("no blob store configured")}
	}
	rc, err := s.blobStore.Read(ctx, source.UUID)
	if err != nil {
		return s.blobErr("read", source.UUID, err)
	}
	defer rc.Close()

	size, err := s.writeBlob(ctx, target.UUID, rc, target.Mimetype)
	if err != nil {
		return err
	}
	target.Size = size
	return nil
}

// discardBlob removes a blob whose metadata could not be written. A failure
// leaves an orphan that is only logged.
func (s *service) discardBlob(ctx context.Context, uuid string) {
	if err := s.blobStore.Delete(ctx, uuid); err != nil {
		s.logger.Errorf("Failed to remove orphaned blob %s: %v", uuid, err)
	}
}

func (s *service) uuidExists(ctx context.Context, uuid string) (bool, error) {
	_, err := s.repository.GetByID(ctx, uuid)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (s *service) fidExists(ctx context.Context, fid string) (bool, error) {
	_, err := s.repository.GetByFID(ctx, fid)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (s *service) emitCreated(ctx context.Context, node, parent *Node) {
	var triggers []string
	if parent != nil {
		triggers = parent.OnCreate
	}
	if err := s.eventSink.NodeCreated(ctx, node, triggers); err != nil {
		s.logger.Warnf("Event sink failed for created node %s: %v", node.UUID, err)
	}
}

func (s *service) emitUpdated(ctx context.Context, node, parent *Node) {
	var triggers []string
	if parent != nil {
		triggers = parent.OnUpdate
	}
	if err := s.eventSink.NodeUpdated(ctx, node, triggers); err != nil {
		s.logger.Warnf("Event sink failed for updated node %s: %v", node.UUID, err)
	}
}

// storageErr keeps classified errors as they are and labels the rest as
// repository failures.
func (s *service) storageErr(op, key string, err error) error {
	if KindOf(err) != ErrorKindInternal {
		return err
	}
	return &StorageError{Backend: "repository", Key: key, Op: op, Err: err}
}

func (s *service) blobErr(op, key string, err error) error {
	if KindOf(err) != ErrorKindInternal {
		return err
	}
	return &StorageError{Backend: "blob", Key: key, Op: op, Err: err}
}

func applyPatch(node *Node, p NodePatch) error {
	if p.Title != nil {
		if *p.Title == "" {
			return &BadRequestError{Reason: "title cannot be empty"}
		}
		node.Title = *p.Title
	}
	if p.Description != nil {
		node.Description = *p.Description
	}
	if p.Parent != nil {
		target := *p.Parent
		if target == "" {
			target = RootFolderUUID
		}
		if target == node.UUID {
			return &BadRequestError{Reason: "a node cannot be its own parent"}
		}
		node.Parent = target
	}
	if p.Group != nil {
		node.Group = *p.Group
	}
	if p.Aspects != nil {
		node.Aspects = append([]string{}, (*p.Aspects)...)
	}
	if p.Tags != nil {
		node.Tags = append([]string{}, (*p.Tags)...)
	}
	for k, v := range p.Properties {
		if v.IsNull() {
			delete(node.Properties, k)
			continue
		}
		node.Properties[k] = v
	}
	if p.Permissions != nil {
		node.Permissions = p.Permissions.clone()
	}
	if p.Trashed != nil {
		node.Trashed = *p.Trashed
	}
	if p.Starred != nil {
		node.Starred = *p.Starred
	}
	if p.Filters != nil {
		if err := p.Filters.Validate(); err != nil {
			return err
		}
		if !node.IsFolder() && !node.IsSmartFolder() {
			return &BadRequestError{Reason: "filters apply to folders and smart folders only"}
		}
		node.Filters = p.Filters.clone()
	}
	if p.Aggregations != nil {
		if !node.IsSmartFolder() {
			return &BadRequestError{Reason: "aggregations apply to smart folders only"}
		}
		node.Aggregations = append([]Aggregation{}, (*p.Aggregations)...)
	}
	if p.OnCreate != nil || p.OnUpdate != nil {
		if !node.IsFolder() {
			return &BadRequestError{Reason: "triggers apply to folders only"}
		}
		if p.OnCreate != nil {
			node.OnCreate = append([]string{}, (*p.OnCreate)...)
		}
		if p.OnUpdate != nil {
			node.OnUpdate = append([]string{}, (*p.OnUpdate)...)
		}
	}
	node.Normalize()
	return nil
}

func ownerFrom(ctx context.Context) string {
	if p, ok := PrincipalFrom(ctx); ok && p.Email != "" {
		return p.Email
	}
	return AnonymousOwner
}

func groupFrom(ctx context.Context, parent *Node) string {
	if parent != nil && parent.Group != "" {
		return parent.Group
	}
	if p, ok := PrincipalFrom(ctx); ok && len(p.Groups) > 0 {
		return p.Groups[0]
	}
	return ""
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
