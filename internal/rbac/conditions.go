package rbac

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"
)

// evaluators dispatches per operator. Every entry fails closed: missing
// fields, uncomparable types and shape mismatches all evaluate to false.
var evaluators = map[Operator]func(resourceVal any, v Value) bool{
	OpEquals:   evalEquals,
	OpContains: evalContains,
	OpIn:       evalIn,
	OpGt:       evalGt,
	OpLt:       evalLt,
	OpBetween:  evalBetween,
}

// Holds reports whether the condition is satisfied by the resource instance.
func (c Condition) Holds(instance map[string]any) bool {
	resourceVal, ok := lookupField(instance, c.Field)
	if !ok {
		return false
	}
	eval, ok := evaluators[c.Operator]
	if !ok {
		return false
	}
	return eval(resourceVal, c.Value)
}

// lookupField resolves a dotted field path through nested maps.
func lookupField(instance map[string]any, path string) (any, bool) {
	current := any(instance)
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func evalEquals(resourceVal any, v Value) bool {
	return looselyEqual(resourceVal, v.scalar)
}

// evalContains is substring match for string fields and membership for
// collection fields.
func evalContains(resourceVal any, v Value) bool {
	switch field := resourceVal.(type) {
	case string:
		needle, ok := v.scalar.(string)
		if !ok {
			return false
		}
		return strings.Contains(field, needle)
	case []any:
		for _, item := range field {
			if looselyEqual(item, v.scalar) {
				return true
			}
		}
		return false
	case []string:
		needle, ok := v.scalar.(string)
		if !ok {
			return false
		}
		for _, item := range field {
			if item == needle {
				return true
			}
		}
		return false
	}
	return false
}

func evalIn(resourceVal any, v Value) bool {
	for _, candidate := range v.array {
		if looselyEqual(resourceVal, candidate) {
			return true
		}
	}
	return false
}

func evalGt(resourceVal any, v Value) bool {
	cmp, ok := compareOrdered(resourceVal, v.scalar)
	return ok && cmp > 0
}

func evalLt(resourceVal any, v Value) bool {
	cmp, ok := compareOrdered(resourceVal, v.scalar)
	return ok && cmp < 0
}

func evalBetween(resourceVal any, v Value) bool {
	lowCmp, ok := compareOrdered(resourceVal, v.lo)
	if !ok || lowCmp < 0 {
		return false
	}
	highCmp, ok := compareOrdered(resourceVal, v.hi)
	return ok && highCmp <= 0
}

// looselyEqual treats all numeric representations of the same quantity as
// equal (JSON decoding produces float64 where Go code produces int) and falls
// back to deep equality otherwise.
func looselyEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// compareOrdered compares two values that are both numeric or both
// date-ordered, returning -1/0/1 and whether the pair was comparable at all.
func compareOrdered(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	if ta, ok := toTime(a); ok {
		tb, ok := toTime(b)
		if !ok {
			return 0, false
		}
		switch {
		case ta.Before(tb):
			return -1, true
		case ta.After(tb):
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}
