package nodestore

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Operator is a NodeFilter comparison operator.
type Operator string

const (
	OpEqual          Operator = "=="
	OpNotEqual       Operator = "!="
	OpGreater        Operator = ">"
	OpGreaterOrEqual Operator = ">="
	OpLess           Operator = "<"
	OpLessOrEqual    Operator = "<="
	OpIn             Operator = "in"
	OpNotIn          Operator = "not-in"
	OpArrayContains  Operator = "array-contains"
	OpMatch          Operator = "match"
	OpSemantic       Operator = "semantic"
)

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool {
	switch op {
	case OpEqual, OpNotEqual, OpGreater, OpGreaterOrEqual, OpLess, OpLessOrEqual,
		OpIn, OpNotIn, OpArrayContains, OpMatch, OpSemantic:
		return true
	}
	return false
}

// NodeFilter is one (field, operator, value) predicate. It serializes as a
// three element tuple.
type NodeFilter struct {
	Field    string
	Operator Operator
	Value    Value
}

// Where builds a NodeFilter from a native Go value. It panics when value
// cannot be represented as a Value.
func Where(field string, op Operator, value any) NodeFilter {
	return NodeFilter{Field: field, Operator: op, Value: MustValue(value)}
}

func (f NodeFilter) String() string {
	return fmt.Sprintf("[%q %s %s]", f.Field, f.Operator, f.Value)
}

// MarshalJSON encodes the filter as ["field", "op", value].
func (f NodeFilter) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{f.Field, string(f.Operator), f.Value})
}

// UnmarshalJSON decodes a ["field", "op", value] tuple.
func (f *NodeFilter) UnmarshalJSON(data []byte) error {
	raw, err := decodeJSONAny(data)
	if err != nil {
		return err
	}
	nf, err := parseTuple(raw)
	if err != nil {
		return err
	}
	*f = nf
	return nil
}

// Filters is a disjunction of conjunctions. An empty expression matches
// every node.
type Filters [][]NodeFilter

// And returns an expression made of a single conjunction.
func And(fs ...NodeFilter) Filters {
	if len(fs) == 0 {
		return nil
	}
	return Filters{fs}
}

// Or returns an expression matching any of the given conjunctions.
func Or(conjunctions ...[]NodeFilter) Filters {
	return Filters(conjunctions)
}

// IsEmpty reports whether the expression has no predicates.
func (fs Filters) IsEmpty() bool {
	for _, c := range fs {
		if len(c) > 0 {
			return false
		}
	}
	return true
}

// Validate rejects structurally invalid expressions with a BadRequestError.
func (fs Filters) Validate() error {
	for _, conj := range fs {
		for _, f := range conj {
			if err := f.validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f NodeFilter) validate() error {
	if f.Field == "" {
		return &BadRequestError{Reason: fmt.Sprintf("filter %s has an empty field", f)}
	}
	if !f.Operator.Valid() {
		return &BadRequestError{Reason: fmt.Sprintf("filter %s uses unknown operator %q", f, f.Operator)}
	}
	switch f.Operator {
	case OpIn, OpNotIn:
		if f.Value.Kind() != KindArray {
			return &BadRequestError{Reason: fmt.Sprintf("filter %s requires an array value", f)}
		}
	case OpMatch:
		s, ok := f.Value.AsString()
		if !ok {
			return &BadRequestError{Reason: fmt.Sprintf("filter %s requires a string value", f)}
		}
		if isGlob(s) && !doublestar.ValidatePattern(s) {
			return &BadRequestError{Reason: fmt.Sprintf("filter %s has an invalid pattern", f)}
		}
	}
	return nil
}

// HasSemantic reports whether any predicate uses the semantic operator.
func (fs Filters) HasSemantic() bool {
	for _, conj := range fs {
		for _, f := range conj {
			if f.Operator == OpSemantic {
				return true
			}
		}
	}
	return false
}

// SemanticQueries returns every semantic predicate of the expression.
func (fs Filters) SemanticQueries() []NodeFilter {
	var out []NodeFilter
	for _, conj := range fs {
		for _, f := range conj {
			if f.Operator == OpSemantic {
				out = append(out, f)
			}
		}
	}
	return out
}

// WithoutSemantic returns a copy of the expression with semantic predicates
// removed.
func (fs Filters) WithoutSemantic() Filters {
	if fs == nil {
		return nil
	}
	out := make(Filters, 0, len(fs))
	for _, conj := range fs {
		c := make([]NodeFilter, 0, len(conj))
		for _, f := range conj {
			if f.Operator != OpSemantic {
				c = append(c, f)
			}
		}
		out = append(out, c)
	}
	return out
}

// Clone returns a deep copy of the expression.
func (fs Filters) Clone() Filters { return fs.clone() }

func (fs Filters) clone() Filters {
	if fs == nil {
		return nil
	}
	out := make(Filters, len(fs))
	for i, conj := range fs {
		c := make([]NodeFilter, len(conj))
		for j, f := range conj {
			c[j] = NodeFilter{Field: f.Field, Operator: f.Operator, Value: f.Value.clone()}
		}
		out[i] = c
	}
	return out
}

// Equal reports whether both expressions are structurally identical.
func (fs Filters) Equal(o Filters) bool {
	if len(fs) != len(o) {
		return false
	}
	for i := range fs {
		if len(fs[i]) != len(o[i]) {
			return false
		}
		for j := range fs[i] {
			a, b := fs[i][j], o[i][j]
			if a.Field != b.Field || a.Operator != b.Operator || !a.Value.Equal(b.Value) {
				return false
			}
		}
	}
	return true
}

// MarshalJSON always encodes the canonical disjunction form.
func (fs Filters) MarshalJSON() ([]byte, error) {
	if fs == nil {
		return []byte("null"), nil
	}
	return json.Marshal([][]NodeFilter(fs))
}

// UnmarshalJSON accepts a single tuple, a conjunction of tuples or a
// disjunction of conjunctions.
func (fs *Filters) UnmarshalJSON(data []byte) error {
	raw, err := decodeJSONAny(data)
	if err != nil {
		return err
	}
	parsed, err := ParseFilters(raw)
	if err != nil {
		return err
	}
	*fs = parsed
	return nil
}

// MarshalYAML encodes the canonical disjunction form.
func (fs Filters) MarshalYAML() (any, error) {
	out := make([]any, len(fs))
	for i, conj := range fs {
		c := make([]any, len(conj))
		for j, f := range conj {
			c[j] = []any{f.Field, string(f.Operator), f.Value.Interface()}
		}
		out[i] = c
	}
	return out, nil
}

// UnmarshalYAML accepts the same shapes as UnmarshalJSON.
func (fs *Filters) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseFilters(raw)
	if err != nil {
		return err
	}
	*fs = parsed
	return nil
}

// ParseFilters converts a decoded JSON or YAML document into an expression.
func ParseFilters(raw any) (Filters, error) {
	if raw == nil {
		return nil, nil
	}
	arr, ok := raw.([]any)
	if !ok {
		return nil, &BadRequestError{Reason: fmt.Sprintf("filter expression must be an array, got %T", raw)}
	}
	if len(arr) == 0 {
		return Filters{}, nil
	}
	switch first := arr[0].(type) {
	case string:
		f, err := parseTuple(arr)
		if err != nil {
			return nil, err
		}
		return Filters{{f}}, nil
	case []any:
		if len(first) > 0 {
			if _, isField := first[0].(string); isField {
				conj, err := parseConjunction(arr)
				if err != nil {
					return nil, err
				}
				return Filters{conj}, nil
			}
		}
		out := make(Filters, 0, len(arr))
		for _, e := range arr {
			conj, err := parseConjunction(e)
			if err != nil {
				return nil, err
			}
			out = append(out, conj)
		}
		return out, nil
	default:
		return nil, &BadRequestError{Reason: fmt.Sprintf("unexpected filter element %T", arr[0])}
	}
}

func parseConjunction(raw any) ([]NodeFilter, error) {
	arr, ok := raw.([]any)
	if !ok {
		return nil, &BadRequestError{Reason: fmt.Sprintf("conjunction must be an array, got %T", raw)}
	}
	if len(arr) > 0 {
		if _, isTuple := arr[0].(string); isTuple {
			f, err := parseTuple(arr)
			if err != nil {
				return nil, err
			}
			return []NodeFilter{f}, nil
		}
	}
	out := make([]NodeFilter, 0, len(arr))
	for _, e := range arr {
		f, err := parseTuple(e)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func parseTuple(raw any) (NodeFilter, error) {
	arr, ok := raw.([]any)
	if !ok || len(arr) != 3 {
		return NodeFilter{}, &BadRequestError{Reason: fmt.Sprintf("filter must be a [field, operator, value] tuple, got %v", raw)}
	}
	field, ok := arr[0].(string)
	if !ok {
		return NodeFilter{}, &BadRequestError{Reason: fmt.Sprintf("filter field must be a string, got %T", arr[0])}
	}
	op, ok := arr[1].(string)
	if !ok {
		return NodeFilter{}, &BadRequestError{Reason: fmt.Sprintf("filter operator must be a string, got %T", arr[1])}
	}
	val, err := ValueOf(arr[2])
	if err != nil {
		return NodeFilter{}, &BadRequestError{Reason: err.Error()}
	}
	return NodeFilter{Field: field, Operator: Operator(op), Value: val}, nil
}

func decodeJSONAny(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}
