// Package sqlite implements nodestore.NodeRepository on SQLite. Scalar
// attributes live in indexed columns used for pushdown, the full node is
// kept as a JSON document.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/mattn/go-sqlite3"

	"github.com/tendant/nodestore/pkg/nodestore"
	"github.com/tendant/nodestore/pkg/nodestore/repo/query"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

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
	"size":         "size",
	"trashed":      "trashed",
	"starred":      "starred",
}

var dialect = query.SQLDialect{
	Column:      func(field string) string { return columns[field] },
	Placeholder: func(int) string { return "?" },
}

// Repository implements nodestore.NodeRepository using SQLite
type Repository struct {
	db *sql.DB
}

var _ nodestore.NodeRepository = (*Repository)(nil)

// Open opens the database at path (":memory:" is accepted), applies the
// pending migrations and returns a ready repository.
func Open(path string) (*Repository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	r := New(db)
	if err := r.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// New wraps an existing connection. The caller runs Migrate.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Migrate runs all pending migrations. An up-to-date schema is not an error.
func (r *Repository) Migrate() error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create source driver: %w", err)
	}
	driver, err := migratesqlite.WithInstance(r.db, &migratesqlite.Config{})
	if err != nil {
		src.Close()
		return fmt.Errorf("failed to create database driver: %w", err)
	}
	// m is not closed: closing it would close the shared *sql.DB.
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// Close releases the database.
func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) handleSQLiteError(operation string, node *nodestore.Node, err error) error {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.ExtendedCode {
		case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
			return &nodestore.ConflictError{Field: "uuid", Value: node.UUID}
		}
		return fmt.Errorf("database error in %s: %s (code: %d)", operation, sqlErr.Error(), sqlErr.ExtendedCode)
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
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, q,
		node.UUID, node.FID, node.Title, node.Mimetype, node.Owner, node.Group, node.Parent,
		node.CreatedTime, node.ModifiedTime, node.Size, node.Trashed, node.Starred, string(doc))
	if err != nil {
		return r.handleSQLiteError("add node", node, err)
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
			fid = ?, title = ?, mimetype = ?, owner = ?, group_name = ?, parent = ?,
			created_time = ?, modified_time = ?, size = ?, trashed = ?, starred = ?, document = ?
		WHERE uuid = ?`

	res, err := r.db.ExecContext(ctx, q,
		node.FID, node.Title, node.Mimetype, node.Owner, node.Group, node.Parent,
		node.CreatedTime, node.ModifiedTime, node.Size, node.Trashed, node.Starred, string(doc),
		node.UUID)
	if err != nil {
		return r.handleSQLiteError("update node", node, err)
	}
	return expectOne(res, node.UUID)
}

func (r *Repository) Delete(ctx context.Context, uuid string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM nodes WHERE uuid = ?`, uuid)
	if err != nil {
		return fmt.Errorf("database error in delete node: %w", err)
	}
	return expectOne(res, uuid)
}

func (r *Repository) GetByID(ctx context.Context, uuid string) (*nodestore.Node, error) {
	var doc string
	err := r.db.QueryRowContext(ctx, `SELECT document FROM nodes WHERE uuid = ?`, uuid).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &nodestore.NodeNotFoundError{UUID: uuid}
		}
		return nil, fmt.Errorf("database error in get node: %w", err)
	}
	return query.Decode([]byte(doc))
}

func (r *Repository) GetByFID(ctx context.Context, fid string) (*nodestore.Node, error) {
	nodes, err := r.selectNodes(ctx, `SELECT document FROM nodes WHERE fid = ?`, fid)
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
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("database error in select nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*nodestore.Node
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		n, err := query.Decode([]byte(doc))
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database error in select nodes: %w", err)
	}
	return nodes, nil
}

func expectOne(res sql.Result, uuid string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return &nodestore.NodeNotFoundError{UUID: uuid}
	}
	return nil
}
