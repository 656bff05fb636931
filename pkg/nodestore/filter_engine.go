package nodestore

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/exp/constraints"
)

// Matches reports whether node satisfies the expression. Expressions that
// contain a semantic predicate are rejected with UnsupportedOperatorError,
// since ranking is delegated outside the engine.
func Matches(node *Node, filters Filters) (bool, error) {
	if err := checkEvaluable(filters); err != nil {
		return false, err
	}
	return matches(node, filters), nil
}

// Evaluate returns the candidates that satisfy the expression, preserving
// their order.
func Evaluate(candidates []*Node, filters Filters) ([]*Node, error) {
	if err := checkEvaluable(filters); err != nil {
		return nil, err
	}
	out := make([]*Node, 0, len(candidates))
	for _, n := range candidates {
		if matches(n, filters) {
			out = append(out, n)
		}
	}
	return out, nil
}

func checkEvaluable(filters Filters) error {
	if err := filters.Validate(); err != nil {
		return err
	}
	if q := filters.SemanticQueries(); len(q) > 0 {
		return &UnsupportedOperatorError{Operator: OpSemantic, Field: q[0].Field}
	}
	return nil
}

func matches(node *Node, filters Filters) bool {
	if filters.IsEmpty() {
		return true
	}
	// an empty conjunction holds vacuously
	for _, conj := range filters {
		if matchesAll(node, conj) {
			return true
		}
	}
	return false
}

func matchesAll(node *Node, conj []NodeFilter) bool {
	for _, f := range conj {
		if !MatchesFilter(node, f) {
			return false
		}
	}
	return true
}

// MatchesFilter evaluates a single predicate. Unresolved fields never match.
func MatchesFilter(node *Node, f NodeFilter) bool {
	field, ok := node.Field(f.Field)
	if !ok {
		return false
	}
	switch f.Operator {
	case OpEqual:
		return field.Equal(f.Value)
	case OpNotEqual:
		return !field.Equal(f.Value)
	case OpGreater:
		c, ok := compareValues(field, f.Value)
		return ok && c > 0
	case OpGreaterOrEqual:
		c, ok := compareValues(field, f.Value)
		return ok && c >= 0
	case OpLess:
		c, ok := compareValues(field, f.Value)
		return ok && c < 0
	case OpLessOrEqual:
		c, ok := compareValues(field, f.Value)
		return ok && c <= 0
	case OpIn:
		return field.IsScalar() && contains(f.Value, field)
	case OpNotIn:
		return field.IsScalar() && !contains(f.Value, field)
	case OpArrayContains:
		return field.Kind() == KindArray && contains(field, f.Value)
	case OpMatch:
		return matchText(field, f.Value)
	}
	return false
}

func contains(arr, v Value) bool {
	elems, ok := arr.AsArray()
	if !ok {
		return false
	}
	for _, e := range elems {
		if e.Equal(v) {
			return true
		}
	}
	return false
}

// compareValues orders two numbers or two strings. Any other combination
// is incomparable.
func compareValues(a, b Value) (int, bool) {
	switch a.Kind() {
	case KindNumber:
		x, _ := a.AsNumber()
		y, ok := b.AsNumber()
		if !ok {
			return 0, false
		}
		return compareOrdered(x, y), true
	case KindString:
		x, _ := a.AsString()
		y, ok := b.AsString()
		if !ok {
			return 0, false
		}
		return compareOrdered(x, y), true
	}
	return 0, false
}

func compareOrdered[T constraints.Ordered](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func matchText(field, pattern Value) bool {
	s, ok := field.AsString()
	if !ok {
		return false
	}
	p, ok := pattern.AsString()
	if !ok {
		return false
	}
	s, p = strings.ToLower(s), strings.ToLower(p)
	if isGlob(p) {
		matched, err := doublestar.Match(p, s)
		return err == nil && matched
	}
	return strings.Contains(s, p)
}

func isGlob(p string) bool {
	return strings.ContainsAny(p, "*?[{")
}
