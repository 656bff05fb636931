package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/tendant/nodestore/pkg/nodestore"
	"github.com/tendant/nodestore/pkg/nodestore/repo/query"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

var columns = map[string]string{
	"uuid":         "uuid",
	"fid":          "fid",
	"title":        "title",
	"mimetype":     "mimetype",
	"owner":        "owner",
	"group":        "group_name",
	"parent":       "parent",
	"createdTime":  "created_time",
	"modifiedTime": "modified_time",
	"size":         "size::double precision",
	"trashed":      "trashed",
	"starred":      "starred",
}

var dialect = query.SQLDialect{
	Column:      func(field string) string { return columns[field] },
	Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
}

// Repository implements nodestore.NodeRepository using PostgreSQL
type Repository struct {
	db DBTX
}

var _ nodestore.NodeRepository = (*Repository)(nil)

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Migrate applies the embedded migrations through a database/sql handle
// borrowed from the pool.
func Migrate(pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)

	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to create source driver: %w", err)
	}
	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		src.Close()
		db.Close()
		return fmt.Errorf("failed to create database driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		src.Close()
		driver.Close()
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// Closing m releases the borrowed handle; the pool stays open.
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, node *nodestore.Node, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return &nodestore.ConflictError{Field: "uuid", Value: node.UUID}
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

func (r *Repository) Add(ctx context.Context, node *nodestore.Node) error {
	doc, err := query.Encode(node)
	if err != nil {
		return err
	}

	q := `
		INSERT INTO nodes (
			uuid, fid, title, mimetype, owner, group_name, parent,
			created_time, modified_time, size, trashed, starred, document
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = r.db.Exec(ctx, q,
		node.UUID, node.FID, node.Title, node.Mimetype, node.Owner, node.Group, node.Parent,
		node.CreatedTime, node.ModifiedTime, node.Size, node.Trashed, node.Starred, doc)
	if err != nil {
		return r.handlePostgresError("add node", node, err)
	}
	return nil
}

func (r *Repository) Update(ctx context.Context, node *nodestore.Node) error {
	doc, err := query.Encode(node)
	if err != nil {
		return err
	}

	q := `
		UPDATE nodes SET
			fid = $2, title = $3, mimetype = $4, owner = $5, group_name = $6, parent = $7,
			created_time = $8, modified_time = $9, size = $10, trashed = $11, starred = $12,
			document = $13
		WHERE uuid = $1`

	tag, err := r.db.Exec(ctx, q,
		node.UUID, node.FID, node.Title, node.Mimetype, node.Owner, node.Group, node.Parent,
		node.CreatedTime, node.ModifiedTime, node.Size, node.Trashed, node.Starred, doc)
	if err != nil {
		return r.handlePostgresError("update node", node, err)
	}
	if tag.RowsAffected() == 0 {
		return &nodestore.NodeNotFoundError{UUID: node.UUID}
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, uuid string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM nodes WHERE uuid = $1`, uuid)
	if err != nil {
		return r.handlePostgresError("delete node", &nodestore.Node{UUID: uuid}, err)
	}
	if tag.RowsAffected() == 0 {
		return &nodestore.NodeNotFoundError{UUID: uuid}
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, uuid string) (*nodestore.Node, error) {
	var doc []byte
	err := r.db.QueryRow(ctx, `SELECT document FROM nodes WHERE uuid = $1`, uuid).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &nodestore.NodeNotFoundError{UUID: uuid}
		}
		return nil, r.handlePostgresError("get node", &nodestore.Node{UUID: uuid}, err)
	}
	return query.Decode(doc)
}

func (r *Repository) GetByFID(ctx context.Context, fid string) (*nodestore.Node, error) {
	nodes, err := r.selectNodes(ctx, `SELECT document FROM nodes WHERE fid = $1`, fid)
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

	where, args := query.BuildWhere(query.Extract(filters), dialect)
	candidates, err := r.selectNodes(ctx, "SELECT document FROM nodes WHERE "+where, args...)
	if err != nil {
		return nil, err
	}
	return query.Finish(candidates, filters, pageSize, pageToken)
}

func (r *Repository) selectNodes(ctx context.Context, q string, args ...any) ([]*nodestore.Node, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, r.handlePostgresError("select nodes", &nodestore.Node{}, err)
	}
	docs, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, r.handlePostgresError("select nodes", &nodestore.Node{}, err)
	}

	nodes := make([]*nodestore.Node, 0, len(docs))
	for _, doc := range docs {
		n, err := query.Decode(doc)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}
