package nodestore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"time"
)

var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"}

// ValidationResult is the outcome of validating a node's properties.
type ValidationResult struct {
	// Properties holds only the keys declared by the node's aspects.
	Properties Properties
	Violations []*PropertyViolation
}

// Valid reports whether no violation was found.
func (r ValidationResult) Valid() bool { return len(r.Violations) == 0 }

// Err returns a *ValidationError carrying every violation, or nil.
func (r ValidationResult) Err() error {
	if r.Valid() {
		return nil
	}
	return &ValidationError{Violations: r.Violations}
}

// Validator checks node properties against the schemas of attached aspects.
type Validator struct {
	aspects AspectResolver
	nodes   NodeGetter
}

// NewValidator creates a validator resolving aspects and referenced nodes
// through the given ports.
func NewValidator(aspects AspectResolver, nodes NodeGetter) *Validator {
	return &Validator{aspects: aspects, nodes: nodes}
}

// Validate accumulates every violation on node. The returned error is only
// set for resolver or repository failures, never for violations.
func (v *Validator) Validate(ctx context.Context, node *Node) (ValidationResult, error) {
	res := ValidationResult{Properties: Properties{}}
	seen := make(map[string]bool, len(node.Aspects))

	for _, aspectID := range node.Aspects {
		if seen[aspectID] {
			continue
		}
		seen[aspectID] = true

		aspect, err := v.resolveAspect(ctx, aspectID)
		if errors.Is(err, ErrNotFound) {
			res.Violations = append(res.Violations, &PropertyViolation{
				Code:   ViolationAspectNotFound,
				Aspect: aspectID,
				Detail: err.Error(),
			})
			continue
		}
		if err != nil {
			return res, err
		}

		for _, prop := range aspect.Properties {
			key := PropertyKey(aspectID, prop.Name)
			val, present := node.Properties[key]
			if !present || val.IsNull() {
				if prop.Required {
					res.Violations = append(res.Violations, &PropertyViolation{
						Code:     ViolationRequired,
						Aspect:   aspectID,
						Property: prop.Name,
					})
				}
				continue
			}

			violations, err := v.checkProperty(ctx, aspectID, prop, val)
			if err != nil {
				return res, err
			}
			res.Violations = append(res.Violations, violations...)
			res.Properties[key] = val
		}
	}
	return res, nil
}

func (v *Validator) resolveAspect(ctx context.Context, id string) (*Aspect, error) {
	if v.aspects == nil {
		return nil, &AspectNotFoundError{UUID: id}
	}
	return v.aspects.GetAspect(ctx, id)
}

func (v *Validator) checkProperty(ctx context.Context, aspectID string, prop AspectProperty, val Value) ([]*PropertyViolation, error) {
	violation := func(code ViolationCode, format string, args ...any) *PropertyViolation {
		return &PropertyViolation{
			Code:     code,
			Aspect:   aspectID,
			Property: prop.Name,
			Detail:   fmt.Sprintf(format, args...),
		}
	}

	if !hasType(prop.Type, prop.ArrayType, val) {
		want := string(prop.Type)
		if prop.Type == PropertyTypeArray && prop.ArrayType != "" {
			want = fmt.Sprintf("array<%s>", prop.ArrayType)
		}
		return []*PropertyViolation{violation(ViolationType, "expected %s, got %s", want, val.Kind())}, nil
	}

	elemType := prop.Type
	elems := []Value{val}
	if prop.Type == PropertyTypeArray {
		elemType = prop.ArrayType
		elems, _ = val.AsArray()
	}

	var out []*PropertyViolation

	if prop.ValidationRegex != "" && isStringType(elemType) {
		re, err := regexp.Compile(prop.ValidationRegex)
		if err != nil {
			out = append(out, violation(ViolationRegex, "invalid pattern %q: %v", prop.ValidationRegex, err))
		} else {
			for _, e := range elems {
				if s, ok := e.AsString(); ok && !re.MatchString(s) {
					out = append(out, violation(ViolationRegex, "%q does not match %q", s, prop.ValidationRegex))
				}
			}
		}
	}

	if len(prop.ValidationList) > 0 {
		for _, e := range elems {
			if e.IsScalar() && !slices.Contains(prop.ValidationList, e.String()) {
				out = append(out, violation(ViolationList, "%q is not one of %v", e.String(), prop.ValidationList))
			}
		}
	}

	if elemType == PropertyTypeUUID {
		for _, e := range elems {
			ref, _ := e.AsString()
			vs, err := v.checkReference(ctx, ref, prop.ValidationFilters, violation)
			if err != nil {
				return nil, err
			}
			out = append(out, vs...)
		}
	}
	return out, nil
}

func (v *Validator) checkReference(ctx context.Context, ref string, filters Filters, violation func(ViolationCode, string, ...any) *PropertyViolation) ([]*PropertyViolation, error) {
	if v.nodes == nil {
		return []*PropertyViolation{violation(ViolationReferenceMissing, "referenced node %q cannot be resolved", ref)}, nil
	}
	target, err := v.nodes.GetByID(ctx, ref)
	if errors.Is(err, ErrNotFound) {
		return []*PropertyViolation{violation(ViolationReferenceMissing, "referenced node %q does not exist", ref)}, nil
	}
	if err != nil {
		return nil, err
	}
	if filters.IsEmpty() {
		return nil, nil
	}
	ok, err := Matches(target, filters)
	if err != nil {
		return []*PropertyViolation{violation(ViolationReferenceFilter, "referenced node %q: %v", ref, err)}, nil
	}
	if !ok {
		return []*PropertyViolation{violation(ViolationReferenceFilter, "referenced node %q does not satisfy the property filter", ref)}, nil
	}
	return nil, nil
}

func hasType(t, arrayType PropertyType, val Value) bool {
	if t == PropertyTypeArray {
		elems, ok := val.AsArray()
		if !ok {
			return false
		}
		if arrayType == "" {
			return true
		}
		for _, e := range elems {
			if !hasType(arrayType, "", e) {
				return false
			}
		}
		return true
	}

	switch t {
	case PropertyTypeString:
		return val.Kind() == KindString
	case PropertyTypeNumber:
		return val.Kind() == KindNumber
	case PropertyTypeBoolean:
		return val.Kind() == KindBool
	case PropertyTypeObject:
		return val.Kind() == KindObject
	case PropertyTypeUUID:
		s, ok := val.AsString()
		return ok && s != ""
	case PropertyTypeDate:
		s, ok := val.AsString()
		return ok && isDate(s)
	}
	return false
}

func isStringType(t PropertyType) bool {
	return t == PropertyTypeString || t == PropertyTypeDate || t == PropertyTypeUUID
}

func isDate(s string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}
