package nodestore_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tendant/nodestore/pkg/nodestore"
)

func sampleNode() *nodestore.Node {
	n := &nodestore.Node{
		UUID:         "abc12345",
		FID:          "quarterly-report",
		Title:        "Quarterly Report",
		Mimetype:     "application/pdf",
		Size:         2048,
		Owner:        "ana@example.com",
		CreatedTime:  "2024-03-01T10:00:00.000Z",
		ModifiedTime: "2024-03-02T10:00:00.000Z",
		Parent:       "folder01",
		Aspects:      []string{"inv"},
		Tags:         []string{"finance", "q1"},
		Properties: nodestore.Properties{
			"inv:amount": nodestore.Number(99.5),
			"inv:code":   nodestore.String("A-7"),
			"inv:lines":  nodestore.Strings("x", "y"),
		},
	}
	n.Normalize()
	return n
}

func TestMatchesFilter_Operators(t *testing.T) {
	n := sampleNode()
	w := nodestore.Where

	tests := []struct {
		name   string
		filter nodestore.NodeFilter
		want   bool
	}{
		{"equal string", w("mimetype", nodestore.OpEqual, "application/pdf"), true},
		{"equal is strict on kind", w("size", nodestore.OpEqual, "2048"), false},
		{"equal number", w("size", nodestore.OpEqual, 2048), true},
		{"not equal", w("title", nodestore.OpNotEqual, "Other"), true},
		{"greater number", w("size", nodestore.OpGreater, 1000), true},
		{"greater equal boundary", w("size", nodestore.OpGreaterOrEqual, 2048), true},
		{"less false", w("size", nodestore.OpLess, 2048), false},
		{"less equal", w("size", nodestore.OpLessOrEqual, 2048), true},
		{"iso dates compare", w("createdTime", nodestore.OpLess, "2024-03-01T10:00:00.001Z"), true},
		{"mixed kinds never order", w("title", nodestore.OpGreater, 1), false},
		{"property number", w("inv:amount", nodestore.OpGreaterOrEqual, 99.5), true},
		{"in", w("mimetype", nodestore.OpIn, []any{"text/plain", "application/pdf"}), true},
		{"in miss", w("mimetype", nodestore.OpIn, []any{"text/plain"}), false},
		{"not in", w("mimetype", nodestore.OpNotIn, []any{"text/plain"}), true},
		{"in on array field", w("tags", nodestore.OpIn, []any{"finance"}), false},
		{"not in on array field", w("tags", nodestore.OpNotIn, []any{"other"}), false},
		{"array contains", w("tags", nodestore.OpArrayContains, "q1"), true},
		{"array contains miss", w("tags", nodestore.OpArrayContains, "q2"), false},
		{"array contains property", w("inv:lines", nodestore.OpArrayContains, "y"), true},
		{"array contains on scalar", w("title", nodestore.OpArrayContains, "Quarterly Report"), false},
		{"match substring case insensitive", w("title", nodestore.OpMatch, "REPORT"), true},
		{"match glob", w("title", nodestore.OpMatch, "quarterly*"), true},
		{"match glob anchored", w("title", nodestore.OpMatch, "report*"), false},
		{"match alternatives", w("inv:code", nodestore.OpMatch, "{a,b}-?"), true},
		{"match non string field", w("size", nodestore.OpMatch, "20"), false},
		{"unresolved field equal", w("inv:missing", nodestore.OpEqual, "x"), false},
		{"unresolved field not equal", w("inv:missing", nodestore.OpNotEqual, "x"), false},
		{"empty description unresolved", w("description", nodestore.OpNotEqual, "x"), false},
		{"boolean attribute", w("trashed", nodestore.OpEqual, false), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nodestore.MatchesFilter(n, tt.filter))
		})
	}
}

func TestMatches_Composition(t *testing.T) {
	n := sampleNode()
	yes := nodestore.Where("size", nodestore.OpGreater, 1)
	no := nodestore.Where("size", nodestore.OpLess, 1)

	tests := []struct {
		name    string
		filters nodestore.Filters
		want    bool
	}{
		{"empty matches everything", nil, true},
		{"empty conjunction list", nodestore.Filters{}, true},
		{"conjunction all true", nodestore.And(yes, yes), true},
		{"conjunction one false", nodestore.And(yes, no), false},
		{"disjunction one true", nodestore.Or([]nodestore.NodeFilter{no}, []nodestore.NodeFilter{yes}), true},
		{"disjunction all false", nodestore.Or([]nodestore.NodeFilter{no}, []nodestore.NodeFilter{yes, no}), false},
		{"only empty conjunction", nodestore.Filters{{}}, true},
		{"empty conjunction beside false one", nodestore.Filters{{}, {no}}, true},
		{"false conjunction beside empty one", nodestore.Filters{{no}, {}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := nodestore.Matches(n, tt.filters)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatches_SemanticRejected(t *testing.T) {
	_, err := nodestore.Matches(sampleNode(), nodestore.And(nodestore.Where("title", nodestore.OpSemantic, "reports")))
	assert.ErrorIs(t, err, nodestore.ErrUnsupportedOperator)
	assert.Equal(t, nodestore.ErrorKindUnsupportedOperator, nodestore.KindOf(err))
}

func TestFilters_Validate(t *testing.T) {
	tests := []struct {
		name    string
		filters nodestore.Filters
		wantErr bool
	}{
		{"valid", nodestore.And(nodestore.Where("title", nodestore.OpEqual, "x")), false},
		{"unknown operator", nodestore.And(nodestore.NodeFilter{Field: "title", Operator: "~=", Value: nodestore.String("x")}), true},
		{"empty field", nodestore.And(nodestore.Where("", nodestore.OpEqual, "x")), true},
		{"in needs array", nodestore.And(nodestore.Where("title", nodestore.OpIn, "x")), true},
		{"match needs string", nodestore.And(nodestore.Where("title", nodestore.OpMatch, 3)), true},
		{"bad glob", nodestore.And(nodestore.Where("title", nodestore.OpMatch, "[a")), true},
		{"semantic is structurally valid", nodestore.And(nodestore.Where("title", nodestore.OpSemantic, "x")), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.filters.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, nodestore.ErrBadRequest)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFilters_JSONShapes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  nodestore.Filters
	}{
		{
			name:  "single tuple",
			input: `["mimetype", "==", "text/plain"]`,
			want:  nodestore.And(nodestore.Where("mimetype", nodestore.OpEqual, "text/plain")),
		},
		{
			name:  "conjunction",
			input: `[["size", ">", 10], ["tags", "array-contains", "a"]]`,
			want: nodestore.And(
				nodestore.Where("size", nodestore.OpGreater, 10),
				nodestore.Where("tags", nodestore.OpArrayContains, "a"),
			),
		},
		{
			name:  "disjunction",
			input: `[[["size", ">", 10]], [["title", "match", "x"], ["mimetype", "in", ["a", "b"]]]]`,
			want: nodestore.Or(
				[]nodestore.NodeFilter{nodestore.Where("size", nodestore.OpGreater, 10)},
				[]nodestore.NodeFilter{
					nodestore.Where("title", nodestore.OpMatch, "x"),
					nodestore.Where("mimetype", nodestore.OpIn, []any{"a", "b"}),
				},
			),
		},
		{
			name:  "empty",
			input: `[]`,
			want:  nodestore.Filters{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got nodestore.Filters
			require.NoError(t, json.Unmarshal([]byte(tt.input), &got))
			assert.True(t, tt.want.Equal(got), "got %v", got)

			// canonical form parses back to the same expression
			data, err := json.Marshal(got)
			require.NoError(t, err)
			var again nodestore.Filters
			require.NoError(t, json.Unmarshal(data, &again))
			assert.True(t, got.Equal(again))
		})
	}
}

func TestFilters_JSONMalformed(t *testing.T) {
	for _, input := range []string{`"x"`, `["a", "=="]`, `[[1, "==", 2]]`, `[["a", 1, 2]]`} {
		var f nodestore.Filters
		assert.Error(t, json.Unmarshal([]byte(input), &f), input)
	}
}

func TestFilters_YAML(t *testing.T) {
	src := `
filters:
  - [mimetype, "==", application/pdf]
  - [size, ">=", 10]
`
	var doc struct {
		Filters nodestore.Filters `yaml:"filters"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(src), &doc))

	want := nodestore.And(
		nodestore.Where("mimetype", nodestore.OpEqual, "application/pdf"),
		nodestore.Where("size", nodestore.OpGreaterOrEqual, 10),
	)
	assert.True(t, want.Equal(doc.Filters))

	out, err := yaml.Marshal(doc)
	require.NoError(t, err)
	var again struct {
		Filters nodestore.Filters `yaml:"filters"`
	}
	require.NoError(t, yaml.Unmarshal(out, &again))
	assert.True(t, want.Equal(again.Filters))
}

func TestFilters_SemanticSplit(t *testing.T) {
	f := nodestore.And(
		nodestore.Where("mimetype", nodestore.OpEqual, "application/pdf"),
		nodestore.Where("title", nodestore.OpSemantic, "tax documents"),
	)
	assert.True(t, f.HasSemantic())
	assert.Len(t, f.SemanticQueries(), 1)

	rest := f.WithoutSemantic()
	assert.False(t, rest.HasSemantic())
	assert.True(t, nodestore.And(nodestore.Where("mimetype", nodestore.OpEqual, "application/pdf")).Equal(rest))
}

func TestEvaluate_PreservesOrder(t *testing.T) {
	a, b, c := sampleNode(), sampleNode(), sampleNode()
	a.UUID, b.UUID, c.UUID = "c", "a", "b"
	b.Size = 1

	got, err := nodestore.Evaluate([]*nodestore.Node{a, b, c}, nodestore.And(nodestore.Where("size", nodestore.OpGreater, 100)))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].UUID)
	assert.Equal(t, "b", got[1].UUID)
}
