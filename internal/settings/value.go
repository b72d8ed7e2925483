package settings

import (
	"fmt"
	"strconv"

	"ci-core/internal/domain"
)

// Value is the result of one resolved query.
type Value struct {
	raw       any
	defaulted bool
}

// NewValue wraps a raw decoded value.
func NewValue(raw any) Value { return Value{raw: raw} }

// Raw returns the decoded value: nil, a scalar, []any or map[string]any.
func (v Value) Raw() any { return v.raw }

// Defaulted reports whether the value came from the query default.
func (v Value) Defaulted() bool { return v.defaulted }

// Kind reports the shape of the value.
func (v Value) Kind() domain.QueryKind {
	switch v.raw.(type) {
	case []any:
		return domain.QueryList
	case map[string]any:
		return domain.QueryObject
	}
	return domain.QueryScalar
}

// List returns the elements of a list value.
func (v Value) List() ([]any, bool) {
	l, ok := v.raw.([]any)
	return l, ok
}

// Records returns a list value as parameter records. Object elements are used
// as-is; scalar elements become {"value": x}.
func (v Value) Records() ([]map[string]any, error) {
	if v.raw == nil {
		return nil, nil
	}
	l, ok := v.raw.([]any)
	if !ok {
		return nil, domain.NewError(domain.KindConfigTypeMismatch, "expected a list, found %s", v.Kind())
	}
	out := make([]map[string]any, 0, len(l))
	for _, el := range l {
		if m, ok := el.(map[string]any); ok {
			out = append(out, m)
			continue
		}
		out = append(out, map[string]any{"value": el})
	}
	return out, nil
}

// Bool interprets a scalar value as a boolean. Strings "true"/"false" are accepted.
func (v Value) Bool() (bool, bool) {
	switch t := v.raw.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(t)
		return b, err == nil
	}
	return false, false
}

// String renders a scalar value; nil renders as "".
func (v Value) String() string {
	if v.raw == nil {
		return ""
	}
	if s, ok := v.raw.(string); ok {
		return s
	}
	return fmt.Sprint(v.raw)
}

// Settings maps query names to resolved values.
type Settings map[string]Value

// Get returns the named value; absent names yield a nil Value.
func (s Settings) Get(name string) Value {
	return s[name]
}
