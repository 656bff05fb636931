// Package mongo implements nodestore.NodeRepository on MongoDB, one
// document per node keyed by its UUID.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tendant/nodestore/pkg/nodestore"
	"github.com/tendant/nodestore/pkg/nodestore/repo/query"
)

// DefaultCollection is the collection nodes are stored in.
const DefaultCollection = "nodes"

var operators = map[nodestore.Operator]string{
	nodestore.OpEqual:          "$eq",
	nodestore.OpNotEqual:       "$ne",
	nodestore.OpGreater:        "$gt",
	nodestore.OpGreaterOrEqual: "$gte",
	nodestore.OpLess:           "$lt",
	nodestore.OpLessOrEqual:    "$lte",
	nodestore.OpIn:             "$in",
	nodestore.OpNotIn:          "$nin",
}

// Repository provides access to the nodes collection.
type Repository struct {
	c *mongo.Collection
}

var _ nodestore.NodeRepository = (*Repository)(nil)

// New creates a repository over the default collection of db.
func New(db *mongo.Database) *Repository {
	return NewWithCollection(db.Collection(DefaultCollection))
}

// NewWithCollection creates a repository over an explicit collection.
func NewWithCollection(c *mongo.Collection) *Repository {
	return &Repository{c: c}
}

// EnsureIndexes creates the secondary indexes used by lookups and
// pushed-down filters.
func (r *Repository) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "fid", Value: 1}}, Options: options.Index().SetName("idx_nodes_fid")},
		{Keys: bson.D{{Key: "parent", Value: 1}}, Options: options.Index().SetName("idx_nodes_parent")},
		{Keys: bson.D{{Key: "mimetype", Value: 1}}, Options: options.Index().SetName("idx_nodes_mimetype")},
	}
	if _, err := r.c.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("creating node indexes: %w", err)
	}
	return nil
}

func (r *Repository) Add(ctx context.Context, node *nodestore.Node) error {
	doc, err := toDocument(node)
	if err != nil {
		return err
	}
	if _, err := r.c.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return &nodestore.ConflictError{Field: "uuid", Value: node.UUID}
		}
		return fmt.Errorf("inserting node %s: %w", node.UUID, err)
	}
	return nil
}

func (r *Repository) Update(ctx context.Context, node *nodestore.Node) error {
	doc, err := toDocument(node)
	if err != nil {
		return err
	}
	res, err := r.c.ReplaceOne(ctx, bson.M{"_id": node.UUID}, doc)
	if err != nil {
		return fmt.Errorf("replacing node %s: %w", node.UUID, err)
	}
	if res.MatchedCount == 0 {
		return &nodestore.NodeNotFoundError{UUID: node.UUID}
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, uuid string) error {
	res, err := r.c.DeleteOne(ctx, bson.M{"_id": uuid})
	if err != nil {
		return fmt.Errorf("deleting node %s: %w", uuid, err)
	}
	if res.DeletedCount == 0 {
		return &nodestore.NodeNotFoundError{UUID: uuid}
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, uuid string) (*nodestore.Node, error) {
	var raw bson.Raw
	if err := r.c.FindOne(ctx, bson.M{"_id": uuid}).Decode(&raw); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &nodestore.NodeNotFoundError{UUID: uuid}
		}
		return nil, fmt.Errorf("finding node %s: %w", uuid, err)
	}
	return fromDocument(raw)
}

func (r *Repository) GetByFID(ctx context.Context, fid string) (*nodestore.Node, error) {
	nodes, err := r.find(ctx, bson.M{"fid": fid})
	if err != nil {
		return nil, err
	}
	if best := query.First(nodes); best != nil {
		return best, nil
	}
	return nil, &nodestore.NodeNotFoundError{FID: fid}
}

func (r *Repository) Filter(ctx context.Context, filters nodestore.Filters, pageSize, pageToken int) (*nodestore.NodeFilterResult, error) {
	if err := query.Check(filters); err != nil {
		return nil, err
	}

	candidates, err := r.find(ctx, buildFilter(query.Extract(filters)))
	if err != nil {
		return nil, err
	}
	return query.Finish(candidates, filters, pageSize, pageToken)
}

func (r *Repository) find(ctx context.Context, filter any) ([]*nodestore.Node, error) {
	cursor, err := r.c.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("finding nodes: %w", err)
	}
	defer cursor.Close(ctx)

	var nodes []*nodestore.Node
	for cursor.Next(ctx) {
		n, err := fromDocument(cursor.Current)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterating nodes: %w", err)
	}
	return nodes, nil
}

// buildFilter renders pushed-down predicates as a query document.
func buildFilter(preds []query.Predicate) bson.D {
	if len(preds) == 0 {
		return bson.D{}
	}
	clauses := make(bson.A, 0, len(preds))
	for _, p := range preds {
		var operand any
		if p.Operator == nodestore.OpIn || p.Operator == nodestore.OpNotIn {
			values := make(bson.A, len(p.Values))
			for i, v := range p.Values {
				values[i] = query.Native(v)
			}
			operand = values
		} else {
			operand = query.Native(p.Value())
		}
		clauses = append(clauses, bson.D{{Key: p.Field, Value: bson.D{{Key: operators[p.Operator], Value: operand}}}})
	}
	return bson.D{{Key: "$and", Value: clauses}}
}

// toDocument converts the node's JSON form into BSON so that its native
// fields are queryable, keyed by UUID.
func toDocument(node *nodestore.Node) (bson.D, error) {
	data, err := query.Encode(node)
	if err != nil {
		return nil, err
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON(data, false, &doc); err != nil {
		return nil, fmt.Errorf("converting node %s to bson: %w", node.UUID, err)
	}
	return append(bson.D{{Key: "_id", Value: node.UUID}}, doc...), nil
}

func fromDocument(raw bson.Raw) (*nodestore.Node, error) {
	data, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return nil, fmt.Errorf("converting bson to node: %w", err)
	}
	return query.Decode(data)
}
