// Package rbac implements role-based access control with data-dependent
// permission conditions. Permissions grant an action on a resource; optional
// conditions restrict the grant to resource instances whose fields satisfy
// them.
package rbac

import (
	"errors"
	"fmt"
	"time"
)

// Role groups permissions for a tenant. System roles are seeded at install
// time and cannot be edited or deleted.
type Role struct {
	ID          int64
	TenantID    int64
	Name        string
	Description string
	System      bool
	Permissions []Permission
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission grants an action on a resource, optionally narrowed by
// conditions. All conditions must hold (AND) for the permission to apply to
// a given resource instance; a permission without conditions is an
// unconditional grant.
type Permission struct {
	ID          int64
	RoleID      int64
	Action      string
	Resource    string
	Description string
	Conditions  []Condition
}

// Unconditional reports whether the permission applies without inspecting a
// resource instance.
func (p Permission) Unconditional() bool {
	return len(p.Conditions) == 0
}

// Operator enumerates the comparison operators a condition may use.
type Operator string

// Supported condition operators.
const (
	OpEquals   Operator = "equals"
	OpContains Operator = "contains"
	OpIn       Operator = "in"
	OpGt       Operator = "gt"
	OpLt       Operator = "lt"
	OpBetween  Operator = "between"
)

// ErrUnknownOperator is returned when constructing a condition with an
// operator outside the supported set.
var ErrUnknownOperator = errors.New("rbac: unknown operator")

// ValueKind tags the shape of a condition's comparison value.
type ValueKind int

// Condition value shapes.
const (
	KindScalar ValueKind = iota
	KindArray
	KindRange
)

// Value is the tagged union of comparison value shapes: a scalar, an array,
// or an inclusive two-element range.
type Value struct {
	kind   ValueKind
	scalar any
	array  []any
	lo, hi any
}

// Scalar wraps a single comparison value.
func Scalar(v any) Value { return Value{kind: KindScalar, scalar: v} }

// Array wraps a set of comparison values.
func Array(vs ...any) Value { return Value{kind: KindArray, array: vs} }

// Range wraps an inclusive [lo, hi] range.
func Range(lo, hi any) Value { return Value{kind: KindRange, lo: lo, hi: hi} }

// Kind reports the value's shape.
func (v Value) Kind() ValueKind { return v.kind }

// Condition restricts a permission to resource instances where the field at
// Field compares true under Operator against Value.
type Condition struct {
	Field    string
	Operator Operator
	Value    Value
}

// NewCondition validates operator/value compatibility at construction time.
// Unknown operators and shape mismatches are errors here, never at
// evaluation.
func NewCondition(field string, op Operator, value Value) (Condition, error) {
	if field == "" {
		return Condition{}, errors.New("rbac: condition field required")
	}
	switch op {
	case OpEquals, OpContains, OpGt, OpLt:
		if value.kind != KindScalar {
			return Condition{}, fmt.Errorf("rbac: operator %q requires a scalar value", op)
		}
	case OpIn:
		if value.kind != KindArray {
			return Condition{}, fmt.Errorf("rbac: operator %q requires an array value", op)
		}
	case OpBetween:
		if value.kind != KindRange {
			return Condition{}, fmt.Errorf("rbac: operator %q requires a two-element range", op)
		}
	default:
		return Condition{}, fmt.Errorf("%w: %q", ErrUnknownOperator, op)
	}
	return Condition{Field: field, Operator: op, Value: value}, nil
}

// Decision is the outcome of an authorization query: either an allow carrying
// the permission that produced it, or a deny with no matching permission.
type Decision struct {
	Allowed    bool
	Permission *Permission
}
