package nodestore

import (
	"fmt"
	"slices"

	"golang.org/x/exp/constraints"
)

// AggregationResult is one computed smart folder aggregation. Err is set
// instead of Value when the formula could not be computed.
type AggregationResult struct {
	Title     string             `json:"title"`
	FieldName string             `json:"fieldName"`
	Formula   AggregationFormula `json:"formula"`
	Value     float64            `json:"value"`
	Err       string             `json:"error,omitempty"`
}

// SmartFolderEvaluation is the computed content of a smart folder.
type SmartFolderEvaluation struct {
	Records      []*Node             `json:"records"`
	Aggregations []AggregationResult `json:"aggregations,omitempty"`
}

// Aggregate computes agg over records. Arithmetic formulas require every
// record to carry a numeric-castable value for the field.
func Aggregate(records []*Node, agg Aggregation) AggregationResult {
	res := AggregationResult{Title: agg.Title, FieldName: agg.FieldName, Formula: agg.Formula}

	if agg.Formula == FormulaCount {
		res.Value = float64(len(records))
		return res
	}

	values := make([]float64, 0, len(records))
	for _, n := range records {
		v, ok := n.Field(agg.FieldName)
		if !ok {
			res.Err = fmt.Sprintf("node %s has no value for %q", n.UUID, agg.FieldName)
			return res
		}
		f, ok := v.Float()
		if !ok {
			res.Err = fmt.Sprintf("node %s has a non-numeric value for %q", n.UUID, agg.FieldName)
			return res
		}
		values = append(values, f)
	}

	if agg.Formula == FormulaSum {
		res.Value = sum(values)
		return res
	}
	if len(values) == 0 {
		res.Err = fmt.Sprintf("no values to compute %s", agg.Formula)
		return res
	}

	switch agg.Formula {
	case FormulaAvg:
		res.Value = sum(values) / float64(len(values))
	case FormulaMax:
		res.Value = slices.Max(values)
	case FormulaMin:
		res.Value = slices.Min(values)
	case FormulaMed:
		res.Value = median(values)
	default:
		res.Err = fmt.Sprintf("unknown formula %q", agg.Formula)
	}
	return res
}

func sum[T constraints.Integer | constraints.Float](values []T) T {
	var total T
	for _, v := range values {
		total += v
	}
	return total
}

// median picks the element at floor(n/2) of the sorted values.
func median[T constraints.Ordered](values []T) T {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	return sorted[len(sorted)/2]
}
