package metadata

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"
)

// Operator is a comparison operator usable in a Constraint.
type Operator string

// Supported comparison operators.
const (
	OperatorEquals              Operator = "="
	OperatorNotEquals           Operator = "!="
	OperatorGreaterThan         Operator = ">"
	OperatorGreaterThanOrEquals Operator = ">="
	OperatorLowerThan           Operator = "<"
	OperatorLowerThanOrEquals   Operator = "<="
	OperatorIn                  Operator = "in"
	OperatorNotIn               Operator = "nin"
	OperatorRegex               Operator = "regex"
)

// FieldKind selects whether a Constraint's Field is looked up on the event's
// Metadata bag or on its Payload (via reflection on exported struct fields
// or map keys).
type FieldKind string

// Supported field kinds.
const (
	FieldKindMetadata FieldKind = "metadata"
	FieldKindPayload  FieldKind = "payload"
)

// Constraint is a single clause of a Matcher: Field Operator Value.
type Constraint struct {
	field     string
	value     interface{}
	operator  Operator
	fieldKind FieldKind
}

// Field returns the name of the metadata or payload field this constraint inspects.
func (c Constraint) Field() string { return c.field }

// Value returns the comparison operand.
func (c Constraint) Value() interface{} { return c.value }

// Operator returns the comparison operator.
func (c Constraint) Operator() Operator { return c.operator }

// FieldKind returns whether Field is resolved against metadata or payload.
func (c Constraint) FieldKind() FieldKind { return c.fieldKind }

// PayloadMatchable is implemented by payloads that want to expose named
// fields to the matcher without reflection.
type PayloadMatchable interface {
	MatchableField(name string) (interface{}, bool)
}

// Matcher is an ordered, immutable conjunction ("AND") of Constraints.
// It is safe for concurrent use: Matcher never mutates itself or its
// Constraints after construction.
type Matcher struct {
	constraints []Constraint
}

// NewMatcher returns an empty Matcher that matches every event.
func NewMatcher() Matcher {
	return Matcher{}
}

// WithConstraint returns a new Matcher with the given clause appended. The
// receiver is left untouched.
func (m Matcher) WithConstraint(field string, operator Operator, value interface{}, kind FieldKind) Matcher {
	next := make([]Constraint, len(m.constraints), len(m.constraints)+1)
	copy(next, m.constraints)
	next = append(next, Constraint{field: field, value: value, operator: operator, fieldKind: kind})
	return Matcher{constraints: next}
}

// Len returns the number of clauses in the matcher.
func (m Matcher) Len() int { return len(m.constraints) }

// Iterate calls fn once per clause, in declaration order. fn must not
// retain or mutate the Constraint's backing Matcher.
func (m Matcher) Iterate(fn func(Constraint)) {
	for _, c := range m.constraints {
		fn(c)
	}
}

// Matches reports whether the given metadata/payload pair satisfies every
// clause of the matcher. A nil matcher (zero value) matches everything.
func (m Matcher) Matches(md Metadata, payload interface{}) bool {
	for _, c := range m.constraints {
		if !matchesConstraint(c, md, payload) {
			return false
		}
	}
	return true
}

func matchesConstraint(c Constraint, md Metadata, payload interface{}) bool {
	val, ok := resolveField(c, md, payload)
	if !ok {
		// Missing field: the clause evaluates false, never throws.
		return false
	}

	switch c.operator {
	case OperatorIn, OperatorNotIn:
		found := inSlice(val, c.value)
		if c.operator == OperatorIn {
			return found
		}
		return !found
	case OperatorRegex:
		pattern, ok := c.value.(string)
		if !ok {
			return false
		}
		s, ok := val.(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(s)
	default:
		return compare(val, c.value, c.operator)
	}
}

func resolveField(c Constraint, md Metadata, payload interface{}) (interface{}, bool) {
	if c.fieldKind == FieldKindPayload {
		return resolvePayloadField(c.field, payload)
	}
	return md.Value(c.field)
}

func resolvePayloadField(field string, payload interface{}) (interface{}, bool) {
	if payload == nil {
		return nil, false
	}
	if matchable, ok := payload.(PayloadMatchable); ok {
		return matchable.MatchableField(field)
	}

	v := reflect.ValueOf(payload)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, false
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Map:
		mv := v.MapIndex(reflect.ValueOf(field))
		if !mv.IsValid() {
			return nil, false
		}
		return mv.Interface(), true
	case reflect.Struct:
		fv := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, field)
		})
		if !fv.IsValid() {
			return nil, false
		}
		return fv.Interface(), true
	default:
		return nil, false
	}
}

func inSlice(needle interface{}, haystack interface{}) bool {
	v := reflect.ValueOf(haystack)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return false
	}
	for i := 0; i < v.Len(); i++ {
		if valuesEqual(v.Index(i).Interface(), needle) {
			return true
		}
	}
	return false
}

func valuesEqual(a, b interface{}) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func compare(a, b interface{}, op Operator) bool {
	if ab, ok := a.(bool); ok {
		bb, ok2 := b.(bool)
		if !ok2 {
			return false
		}
		switch op {
		case OperatorEquals:
			return ab == bb
		case OperatorNotEquals:
			return ab != bb
		default:
			return false
		}
	}

	if at, aok := a.(time.Time); aok {
		bt, bok := b.(time.Time)
		if !bok {
			return false
		}
		return compareTimes(at, bt, op)
	}

	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return compareOrdered(af, bf, op)
		}
	}

	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return compareOrdered(strings.Compare(as, bs), 0, op)
	}

	switch op {
	case OperatorEquals:
		return valuesEqual(a, b)
	case OperatorNotEquals:
		return !valuesEqual(a, b)
	default:
		return false
	}
}

func compareOrdered[T int | float64](a, b T, op Operator) bool {
	switch op {
	case OperatorEquals:
		return a == b
	case OperatorNotEquals:
		return a != b
	case OperatorGreaterThan:
		return a > b
	case OperatorGreaterThanOrEquals:
		return a >= b
	case OperatorLowerThan:
		return a < b
	case OperatorLowerThanOrEquals:
		return a <= b
	default:
		return false
	}
}

// compareTimes orders time.Time operands the same way compareOrdered orders
// numbers, using Equal rather than == so differing wall-clock/monotonic
// representations of the same instant still compare equal.
func compareTimes(a, b time.Time, op Operator) bool {
	switch op {
	case OperatorEquals:
		return a.Equal(b)
	case OperatorNotEquals:
		return !a.Equal(b)
	case OperatorGreaterThan:
		return a.After(b)
	case OperatorGreaterThanOrEquals:
		return !a.Before(b)
	case OperatorLowerThan:
		return a.Before(b)
	case OperatorLowerThanOrEquals:
		return !a.After(b)
	default:
		return false
	}
}

func toFloat(v interface{}) (float64, bool) {
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
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
