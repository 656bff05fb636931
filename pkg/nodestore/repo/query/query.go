// Package query holds the helpers shared by database-backed repositories:
// extraction of the predicates a backend can evaluate natively, a SQL WHERE
// builder over them, and the in-process pass that makes every backend
// return exactly what nodestore.Evaluate would.
package query

import (
	"fmt"
	"strings"

	"github.com/tendant/nodestore/pkg/nodestore"
)

// NativeFields lists the node attributes every backend stores as a
// dedicated scalar column or property, with the value kind stored there.
var NativeFields = map[string]nodestore.ValueKind{
	"uuid":         nodestore.KindString,
	"fid":          nodestore.KindString,
	"title":        nodestore.KindString,
	"mimetype":     nodestore.KindString,
	"owner":        nodestore.KindString,
	"group":        nodestore.KindString,
	"parent":       nodestore.KindString,
	"createdTime":  nodestore.KindString,
	"modifiedTime": nodestore.KindString,
	"size":         nodestore.KindNumber,
	"trashed":      nodestore.KindBool,
	"starred":      nodestore.KindBool,
}

// Predicate is a filter a backend may evaluate natively. Values holds one
// element for comparisons and every element for in and not-in.
type Predicate struct {
	Field    string
	Operator nodestore.Operator
	Values   []nodestore.Value
	Kind     nodestore.ValueKind
}

// Value returns the single comparison operand.
func (p Predicate) Value() nodestore.Value {
	if len(p.Values) == 0 {
		return nodestore.Null()
	}
	return p.Values[0]
}

// Check rejects expressions no repository can evaluate, before any
// backend round trip happens.
func Check(filters nodestore.Filters) error {
	_, err := nodestore.Evaluate(nil, filters)
	return err
}

// Extract returns the predicates of a single-conjunction expression that
// can be pushed down. Disjunctions push nothing. The returned set only ever
// narrows to a superset of the final result; Finish applies the full
// expression afterwards.
//
// Ordering operators are pushed for numbers only: string collation differs
// between engines, and a mismatch would drop rows instead of keeping extras.
func Extract(filters nodestore.Filters) []Predicate {
	conj := single(filters)
	if conj == nil {
		return nil
	}

	var out []Predicate
	for _, f := range conj {
		kind, ok := NativeFields[f.Field]
		if !ok {
			continue
		}
		if p, ok := pushable(f, kind); ok {
			out = append(out, p)
		}
	}
	return out
}

func single(filters nodestore.Filters) []nodestore.NodeFilter {
	var found []nodestore.NodeFilter
	for _, conj := range filters {
		// an empty conjunction admits every node
		if len(conj) == 0 {
			return nil
		}
		if found != nil {
			return nil
		}
		found = conj
	}
	return found
}

func pushable(f nodestore.NodeFilter, kind nodestore.ValueKind) (Predicate, bool) {
	p := Predicate{Field: f.Field, Operator: f.Operator, Kind: kind}

	switch f.Operator {
	case nodestore.OpEqual, nodestore.OpNotEqual:
		if f.Value.Kind() != kind {
			return p, false
		}
		p.Values = []nodestore.Value{f.Value}
	case nodestore.OpGreater, nodestore.OpGreaterOrEqual, nodestore.OpLess, nodestore.OpLessOrEqual:
		if kind != nodestore.KindNumber || f.Value.Kind() != kind {
			return p, false
		}
		p.Values = []nodestore.Value{f.Value}
	case nodestore.OpIn, nodestore.OpNotIn:
		elems, _ := f.Value.AsArray()
		if len(elems) == 0 {
			return p, false
		}
		for _, e := range elems {
			if e.Kind() != kind {
				return p, false
			}
		}
		p.Values = elems
	default:
		return p, false
	}
	return p, true
}

// Finish applies the full expression to the candidates a backend fetched,
// then orders and paginates them.
func Finish(candidates []*nodestore.Node, filters nodestore.Filters, pageSize, pageToken int) (*nodestore.NodeFilterResult, error) {
	matched, err := nodestore.Evaluate(candidates, filters)
	if err != nil {
		return nil, err
	}
	nodestore.SortNodes(matched)
	return nodestore.Paginate(matched, pageSize, pageToken), nil
}

// Native converts a predicate operand to the Go value drivers bind.
func Native(v nodestore.Value) any {
	return v.Interface()
}

// SQLDialect describes how a relational backend spells columns and
// placeholders.
type SQLDialect struct {
	// Column returns the column expression for a native field.
	Column func(field string) string
	// Placeholder returns the bind marker for the n-th argument, 1-based.
	Placeholder func(n int) string
}

var sqlOperators = map[nodestore.Operator]string{
	nodestore.OpEqual:          "=",
	nodestore.OpNotEqual:       "<>",
	nodestore.OpGreater:        ">",
	nodestore.OpGreaterOrEqual: ">=",
	nodestore.OpLess:           "<",
	nodestore.OpLessOrEqual:    "<=",
}

// BuildWhere renders predicates as a SQL boolean expression. An empty
// predicate list yields "1=1".
func BuildWhere(preds []Predicate, d SQLDialect) (string, []any) {
	if len(preds) == 0 {
		return "1=1", nil
	}

	var (
		clauses []string
		args    []any
	)
	next := func(v nodestore.Value) string {
		args = append(args, Native(v))
		return d.Placeholder(len(args))
	}

	for _, p := range preds {
		col := d.Column(p.Field)
		switch p.Operator {
		case nodestore.OpIn, nodestore.OpNotIn:
			marks := make([]string, len(p.Values))
			for i, v := range p.Values {
				marks[i] = next(v)
			}
			op := "IN"
			if p.Operator == nodestore.OpNotIn {
				op = "NOT IN"
			}
			clauses = append(clauses, fmt.Sprintf("%s %s (%s)", col, op, strings.Join(marks, ", ")))
		default:
			clauses = append(clauses, fmt.Sprintf("%s %s %s", col, sqlOperators[p.Operator], next(p.Value())))
		}
	}
	return strings.Join(clauses, " AND "), args
}
