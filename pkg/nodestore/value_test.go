package nodestore_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tendant/nodestore/pkg/nodestore"
)

func TestValueOf(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want nodestore.Value
	}{
		{"nil", nil, nodestore.Null()},
		{"string", "x", nodestore.String("x")},
		{"int", 3, nodestore.Number(3)},
		{"float", 1.5, nodestore.Number(1.5)},
		{"json number", json.Number("42"), nodestore.Number(42)},
		{"bool", true, nodestore.Bool(true)},
		{"string slice", []string{"a", "b"}, nodestore.Strings("a", "b")},
		{"mixed slice", []any{"a", 1}, nodestore.Array(nodestore.String("a"), nodestore.Number(1))},
		{"map", map[string]any{"k": false}, nodestore.Object(map[string]nodestore.Value{"k": nodestore.Bool(false)})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := nodestore.ValueOf(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v", got)
		})
	}

	_, err := nodestore.ValueOf(struct{}{})
	assert.Error(t, err)
	assert.Panics(t, func() { nodestore.MustValue(make(chan int)) })
}

func TestValue_EqualIsStrict(t *testing.T) {
	assert.False(t, nodestore.Number(1).Equal(nodestore.String("1")))
	assert.False(t, nodestore.Strings("a").Equal(nodestore.Strings("a", "b")))
	assert.True(t, nodestore.Null().Equal(nodestore.Null()))
	assert.False(t, nodestore.Object(map[string]nodestore.Value{"a": nodestore.Number(1)}).
		Equal(nodestore.Object(map[string]nodestore.Value{"b": nodestore.Number(1)})))
}

func TestValue_Float(t *testing.T) {
	f, ok := nodestore.String("12.5").Float()
	assert.True(t, ok)
	assert.Equal(t, 12.5, f)

	_, ok = nodestore.String("twelve").Float()
	assert.False(t, ok)
	_, ok = nodestore.Bool(true).Float()
	assert.False(t, ok)
}

func TestValue_JSON(t *testing.T) {
	v := nodestore.Object(map[string]nodestore.Value{
		"b": nodestore.Array(nodestore.Number(1), nodestore.Null()),
		"a": nodestore.String("x"),
	})
	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"x","b":[1,null]}`, string(data))
	assert.Equal(t, `{"a":"x","b":[1,null]}`, v.String(), "keys are emitted sorted")

	var back nodestore.Value
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, v.Equal(back))
}

func TestValue_YAML(t *testing.T) {
	var doc struct {
		V nodestore.Value `yaml:"v"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("v: [1, two, true]"), &doc))
	assert.True(t, nodestore.Array(nodestore.Number(1), nodestore.String("two"), nodestore.Bool(true)).Equal(doc.V))
}

func TestAggregate(t *testing.T) {
	records := make([]*nodestore.Node, 0, 4)
	for i, amount := range []nodestore.Value{nodestore.Number(4), nodestore.String("1"), nodestore.Number(10), nodestore.Number(3)} {
		n := &nodestore.Node{UUID: string(rune('a' + i)), Properties: nodestore.Properties{"inv:amount": amount}}
		n.Normalize()
		records = append(records, n)
	}

	tests := []struct {
		formula nodestore.AggregationFormula
		want    float64
	}{
		{nodestore.FormulaCount, 4},
		{nodestore.FormulaSum, 18},
		{nodestore.FormulaAvg, 4.5},
		{nodestore.FormulaMax, 10},
		{nodestore.FormulaMin, 1},
		{nodestore.FormulaMed, 4},
	}

	for _, tt := range tests {
		t.Run(string(tt.formula), func(t *testing.T) {
			res := nodestore.Aggregate(records, nodestore.Aggregation{Title: "t", FieldName: "inv:amount", Formula: tt.formula})
			assert.Empty(t, res.Err)
			assert.Equal(t, tt.want, res.Value)
		})
	}
}

func TestAggregate_Failures(t *testing.T) {
	bad := &nodestore.Node{UUID: "bad", Properties: nodestore.Properties{"inv:amount": nodestore.String("n/a")}}

	res := nodestore.Aggregate([]*nodestore.Node{bad}, nodestore.Aggregation{FieldName: "inv:amount", Formula: nodestore.FormulaSum})
	assert.Contains(t, res.Err, "non-numeric")

	res = nodestore.Aggregate(nil, nodestore.Aggregation{FieldName: "inv:amount", Formula: nodestore.FormulaSum})
	assert.Empty(t, res.Err)
	assert.Equal(t, float64(0), res.Value)

	res = nodestore.Aggregate(nil, nodestore.Aggregation{FieldName: "inv:amount", Formula: nodestore.FormulaAvg})
	assert.NotEmpty(t, res.Err)

	one := &nodestore.Node{UUID: "one", Size: 1}
	res = nodestore.Aggregate([]*nodestore.Node{one}, nodestore.Aggregation{FieldName: "size", Formula: "mode"})
	assert.Contains(t, res.Err, "unknown formula")
}

func TestPaginate(t *testing.T) {
	nodes := []*nodestore.Node{{UUID: "1"}, {UUID: "2"}, {UUID: "3"}}

	res := nodestore.Paginate(nodes, 2, 0)
	assert.Equal(t, 1, res.PageToken)
	assert.Equal(t, 2, res.PageCount)
	assert.Len(t, res.Nodes, 2)

	res = nodestore.Paginate(nodes, 2, 5)
	assert.NotNil(t, res.Nodes)
	assert.Empty(t, res.Nodes)

	res = nodestore.Paginate(nodes, 0, 1)
	assert.Equal(t, 3, res.PageSize)
	assert.Equal(t, 1, res.PageCount)

	res = nodestore.Paginate(nil, 0, 1)
	assert.Equal(t, 0, res.PageCount)
	assert.NotNil(t, res.Nodes)
}

func TestSortNodes(t *testing.T) {
	nodes := []*nodestore.Node{{UUID: "b", Title: "same"}, {UUID: "z", Title: "alpha"}, {UUID: "a", Title: "same"}}
	nodestore.SortNodes(nodes)
	assert.Equal(t, []string{"z", "a", "b"}, []string{nodes[0].UUID, nodes[1].UUID, nodes[2].UUID})
}
