// Package neo4j implements nodestore.NodeRepository on Neo4j. Each node is
// a (:Node) with its scalar attributes as indexed properties and the full
// node serialized in a document property.
package neo4j

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/tendant/nodestore/pkg/nodestore"
	"github.com/tendant/nodestore/pkg/nodestore/repo/query"
)

// Config holds Neo4j connection configuration
type Config struct {
	URI      string
	Username string
	Password string
	Database string
}

var cypherOperators = map[nodestore.Operator]string{
	nodestore.OpEqual:          "=",
	nodestore.OpNotEqual:       "<>",
	nodestore.OpGreater:        ">",
	nodestore.OpGreaterOrEqual: ">=",
	nodestore.OpLess:           "<",
	nodestore.OpLessOrEqual:    "<=",
}

// Repository wraps Neo4j operations
type Repository struct {
	driver   neo4j.DriverWithContext
	database string
	owned    bool
}

var _ nodestore.NodeRepository = (*Repository)(nil)

// New connects to Neo4j and verifies connectivity.
func New(ctx context.Context, cfg Config) (*Repository, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j: %w", err)
	}

	r := NewWithDriver(driver, cfg.Database)
	r.owned = true
	return r, nil
}

// NewWithDriver wraps a driver owned by the caller.
func NewWithDriver(driver neo4j.DriverWithContext, database string) *Repository {
	if database == "" {
		database = "neo4j"
	}
	return &Repository{driver: driver, database: database}
}

// Close closes the Neo4j connection when New opened it
func (r *Repository) Close(ctx context.Context) error {
	if !r.owned {
		return nil
	}
	return r.driver.Close(ctx)
}

// EnsureSchema creates the uniqueness constraint and lookup indexes.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	statements := []string{
		"CREATE CONSTRAINT node_uuid IF NOT EXISTS FOR (n:Node) REQUIRE n.uuid IS UNIQUE",
		"CREATE INDEX node_fid IF NOT EXISTS FOR (n:Node) ON (n.fid)",
		"CREATE INDEX node_parent IF NOT EXISTS FOR (n:Node) ON (n.parent)",
		"CREATE INDEX node_mimetype IF NOT EXISTS FOR (n:Node) ON (n.mimetype)",
	}

	session := r.session(ctx)
	defer session.Close(ctx)
	for _, stmt := range statements {
		res, err := session.Run(ctx, stmt, nil)
		if err == nil {
			_, err = res.Consume(ctx)
		}
		if err != nil {
			return fmt.Errorf("applying schema %q: %w", stmt, err)
		}
	}
	return nil
}

func (r *Repository) session(ctx context.Context) neo4j.SessionWithContext {
	return r.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: r.database})
}

func properties(node *nodestore.Node) (map[string]any, error) {
	doc, err := query.Encode(node)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"uuid":         node.UUID,
		"fid":          node.FID,
		"title":        node.Title,
		"mimetype":     node.Mimetype,
		"owner":        node.Owner,
		"group":        node.Group,
		"parent":       node.Parent,
		"createdTime":  node.CreatedTime,
		"modifiedTime": node.ModifiedTime,
		"size":         node.Size,
		"trashed":      node.Trashed,
		"starred":      node.Starred,
		"document":     string(doc),
	}, nil
}

func (r *Repository) Add(ctx context.Context, node *nodestore.Node) error {
	props, err := properties(node)
	if err != nil {
		return err
	}

	session := r.session(ctx)
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH (n:Node {uuid: $uuid}) RETURN count(n) AS existing`, map[string]any{"uuid": node.UUID})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		if existing, _ := record.Get("existing"); existing.(int64) > 0 {
			return nil, &nodestore.ConflictError{Field: "uuid", Value: node.UUID}
		}

		_, err = tx.Run(ctx, `CREATE (n:Node) SET n = $props`, map[string]any{"props": props})
		return nil, err
	})
	if err != nil {
		return r.handleNeo4jError("add node", node.UUID, err)
	}
	return nil
}

func (r *Repository) Update(ctx context.Context, node *nodestore.Node) error {
	props, err := properties(node)
	if err != nil {
		return err
	}

	session := r.session(ctx)
	defer session.Close(ctx)

	matched, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH (n:Node {uuid: $uuid}) SET n = $props RETURN count(n) AS matched`,
			map[string]any{"uuid": node.UUID, "props": props})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		count, _ := record.Get("matched")
		return count, nil
	})
	if err != nil {
		return r.handleNeo4jError("update node", node.UUID, err)
	}
	if matched.(int64) == 0 {
		return &nodestore.NodeNotFoundError{UUID: node.UUID}
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, uuid string) error {
	session := r.session(ctx)
	defer session.Close(ctx)

	deleted, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH (n:Node {uuid: $uuid}) DETACH DELETE n`, map[string]any{"uuid": uuid})
		if err != nil {
			return nil, err
		}
		summary, err := res.Consume(ctx)
		if err != nil {
			return nil, err
		}
		return summary.Counters().NodesDeleted(), nil
	})
	if err != nil {
		return r.handleNeo4jError("delete node", uuid, err)
	}
	if deleted.(int) == 0 {
		return &nodestore.NodeNotFoundError{UUID: uuid}
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, uuid string) (*nodestore.Node, error) {
	nodes, err := r.read(ctx, `MATCH (n:Node {uuid: $uuid}) RETURN n.document AS document`, map[string]any{"uuid": uuid})
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, &nodestore.NodeNotFoundError{UUID: uuid}
	}
	return nodes[0], nil
}

func (r *Repository) GetByFID(ctx context.Context, fid string) (*nodestore.Node, error) {
	nodes, err := r.read(ctx, `MATCH (n:Node {fid: $fid}) RETURN n.document AS document`, map[string]any{"fid": fid})
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

	where, params := buildWhere(query.Extract(filters))
	candidates, err := r.read(ctx, "MATCH (n:Node) WHERE "+where+" RETURN n.document AS document", params)
	if err != nil {
		return nil, err
	}
	return query.Finish(candidates, filters, pageSize, pageToken)
}

func (r *Repository) read(ctx context.Context, cypher string, params map[string]any) ([]*nodestore.Node, error) {
	session := r.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}

		var nodes []*nodestore.Node
		for res.Next(ctx) {
			value, _ := res.Record().Get("document")
			doc, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("node document has unexpected type %T", value)
			}
			n, err := query.Decode([]byte(doc))
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
		}
		return nodes, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("reading nodes: %w", err)
	}
	return result.([]*nodestore.Node), nil
}

// buildWhere renders pushed-down predicates as a Cypher boolean
// expression over n.
func buildWhere(preds []query.Predicate) (string, map[string]any) {
	params := map[string]any{}
	if len(preds) == 0 {
		return "true", params
	}

	clauses := make([]string, 0, len(preds))
	for i, p := range preds {
		name := fmt.Sprintf("p%d", i)
		prop := fmt.Sprintf("n.`%s`", p.Field)
		switch p.Operator {
		case nodestore.OpIn, nodestore.OpNotIn:
			values := make([]any, len(p.Values))
			for j, v := range p.Values {
				values[j] = query.Native(v)
			}
			params[name] = values
			clause := fmt.Sprintf("%s IN $%s", prop, name)
			if p.Operator == nodestore.OpNotIn {
				clause = "NOT " + clause
			}
			clauses = append(clauses, clause)
		default:
			params[name] = query.Native(p.Value())
			clauses = append(clauses, fmt.Sprintf("%s %s $%s", prop, cypherOperators[p.Operator], name))
		}
	}
	return strings.Join(clauses, " AND "), params
}

func (r *Repository) handleNeo4jError(operation, uuid string, err error) error {
	var conflict *nodestore.ConflictError
	if errors.As(err, &conflict) {
		return conflict
	}
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) && neoErr.Code == "Neo.ClientError.Schema.ConstraintValidationFailed" {
		return &nodestore.ConflictError{Field: "uuid", Value: uuid}
	}
	return fmt.Errorf("neo4j error in %s: %w", operation, err)
}
