package nodestore

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds
var (
	// ErrNotFound indicates a node, aspect, blob or referenced node is absent
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates one or more property violations
	ErrValidation = errors.New("validation failed")

	// ErrBadRequest indicates a structurally invalid operation
	ErrBadRequest = errors.New("bad request")

	// ErrConflict indicates an identifier collision
	ErrConflict = errors.New("conflict")

	// ErrUnsupportedOperator indicates a semantic filter reached an evaluator that cannot delegate it
	ErrUnsupportedOperator = errors.New("unsupported operator")

	// ErrStorage indicates a repository or blob store I/O failure
	ErrStorage = errors.New("storage failure")

	// ErrBlobNotFound indicates the blob store holds nothing under the key
	ErrBlobNotFound = fmt.Errorf("blob %w", ErrNotFound)
)

// ErrorKind is a stable label usable for protocol-level mapping.
type ErrorKind string

const (
	ErrorKindNotFound            ErrorKind = "not_found"
	ErrorKindValidation          ErrorKind = "validation"
	ErrorKindBadRequest          ErrorKind = "bad_request"
	ErrorKindConflict            ErrorKind = "conflict"
	ErrorKindUnsupportedOperator ErrorKind = "unsupported_operator"
	ErrorKindStorage             ErrorKind = "storage"
	ErrorKindInternal            ErrorKind = "internal"
)

// KindOf classifies err. Errors without a kind map to ErrorKindInternal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return ErrorKindValidation
	case errors.Is(err, ErrNotFound):
		return ErrorKindNotFound
	case errors.Is(err, ErrBadRequest):
		return ErrorKindBadRequest
	case errors.Is(err, ErrConflict):
		return ErrorKindConflict
	case errors.Is(err, ErrUnsupportedOperator):
		return ErrorKindUnsupportedOperator
	case errors.Is(err, ErrStorage):
		return ErrorKindStorage
	}
	return ErrorKindInternal
}

// NodeNotFoundError reports a missing node, looked up by UUID or FID.
type NodeNotFoundError struct {
	UUID string
	FID  string
}

func (e *NodeNotFoundError) Error() string {
	if e.FID != "" {
		return fmt.Sprintf("node with fid %q not found", e.FID)
	}
	return fmt.Sprintf("node %q not found", e.UUID)
}

func (e *NodeNotFoundError) Is(target error) bool { return target == ErrNotFound }

// AspectNotFoundError reports an aspect the resolver does not know.
type AspectNotFoundError struct {
	UUID string
}

func (e *AspectNotFoundError) Error() string {
	return fmt.Sprintf("aspect %q not found", e.UUID)
}

func (e *AspectNotFoundError) Is(target error) bool { return target == ErrNotFound }

// BadRequestError reports a structurally invalid operation.
type BadRequestError struct {
	Reason string
}

func (e *BadRequestError) Error() string {
	return "bad request: " + e.Reason
}

func (e *BadRequestError) Is(target error) bool { return target == ErrBadRequest }

// ConflictError reports an identifier collision.
type ConflictError struct {
	Field string
	Value string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: a node with %s %q already exists", e.Field, e.Value)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// UnsupportedOperatorError reports an operator the evaluator cannot handle.
type UnsupportedOperatorError struct {
	Operator Operator
	Field    string
}

func (e *UnsupportedOperatorError) Error() string {
	return fmt.Sprintf("operator %q on field %q is not supported by this evaluator", e.Operator, e.Field)
}

func (e *UnsupportedOperatorError) Is(target error) bool { return target == ErrUnsupportedOperator }

// ViolationCode classifies a property violation.
type ViolationCode string

const (
	ViolationAspectNotFound   ViolationCode = "aspect_not_found"
	ViolationRequired         ViolationCode = "required"
	ViolationType             ViolationCode = "type"
	ViolationRegex            ViolationCode = "regex"
	ViolationList             ViolationCode = "list"
	ViolationReferenceMissing ViolationCode = "reference_missing"
	ViolationReferenceFilter  ViolationCode = "reference_filter"
)

// PropertyViolation is a single failed property constraint.
type PropertyViolation struct {
	Code     ViolationCode `json:"code"`
	Aspect   string        `json:"aspect"`
	Property string        `json:"property,omitempty"`
	Detail   string        `json:"detail,omitempty"`
}

func (v *PropertyViolation) Error() string {
	target := v.Aspect
	if v.Property != "" {
		target = PropertyKey(v.Aspect, v.Property)
	}
	if v.Detail == "" {
		return fmt.Sprintf("%s: %s", target, v.Code)
	}
	return fmt.Sprintf("%s: %s: %s", target, v.Code, v.Detail)
}

// ValidationError aggregates every violation found on a node.
type ValidationError struct {
	Violations []*PropertyViolation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Error()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// StorageError represents an error related to repository or blob operations
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// NodeError attaches the node and operation to a failure.
type NodeError struct {
	UUID string
	Op   string
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node operation %s failed for node %s: %v", e.Op, e.UUID, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}
