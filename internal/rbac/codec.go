package rbac

import (
	"encoding/json"
	"fmt"
)

// ConditionDoc is the stored/wire form of a condition: the comparison value
// is polymorphic JSON (scalar, array, or two-element range for between).
type ConditionDoc struct {
	Field    string          `json:"field"`
	Operator string          `json:"operator"`
	Value    json.RawMessage `json:"value"`
}

// ParseConditionDoc decodes a stored condition, enforcing operator/value
// shape compatibility.
func ParseConditionDoc(doc ConditionDoc) (Condition, error) {
	op := Operator(doc.Operator)

	var raw any
	if len(doc.Value) > 0 {
		if err := json.Unmarshal(doc.Value, &raw); err != nil {
			return Condition{}, fmt.Errorf("rbac: condition value: %w", err)
		}
	}

	var value Value
	switch op {
	case OpBetween:
		pair, ok := raw.([]any)
		if !ok || len(pair) != 2 {
			return Condition{}, fmt.Errorf("rbac: operator %q requires a two-element range", op)
		}
		value = Range(pair[0], pair[1])
	case OpIn:
		items, ok := raw.([]any)
		if !ok {
			return Condition{}, fmt.Errorf("rbac: operator %q requires an array value", op)
		}
		value = Array(items...)
	default:
		if _, isArray := raw.([]any); isArray {
			return Condition{}, fmt.Errorf("rbac: operator %q requires a scalar value", op)
		}
		value = Scalar(raw)
	}

	return NewCondition(doc.Field, op, value)
}

// EncodeCondition produces the stored/wire form of a condition.
func EncodeCondition(c Condition) (ConditionDoc, error) {
	var payload any
	switch c.Value.kind {
	case KindScalar:
		payload = c.Value.scalar
	case KindArray:
		payload = c.Value.array
	case KindRange:
		payload = []any{c.Value.lo, c.Value.hi}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return ConditionDoc{}, fmt.Errorf("rbac: encode condition: %w", err)
	}
	return ConditionDoc{Field: c.Field, Operator: string(c.Operator), Value: raw}, nil
}

// ParseConditionDocs decodes a slice of stored conditions, failing on the
// first invalid entry.
func ParseConditionDocs(docs []ConditionDoc) ([]Condition, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	conditions := make([]Condition, 0, len(docs))
	for _, doc := range docs {
		cond, err := ParseConditionDoc(doc)
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, cond)
	}
	return conditions, nil
}
