package formdata

import (
	"math"
	"reflect"
	"strings"
)

// IsEmpty reports whether v carries no data: nil, "", an array whose every element
// is empty (including no elements), or an object with no keys or only empty values.
// Other scalars, including false and 0, are never empty.
func IsEmpty(v any) bool {
	switch value := v.(type) {
	case nil:
		return true
	case string:
		return value == ""
	case []any:
		for _, item := range value {
			if !IsEmpty(item) {
				return false
			}
		}
		return true
	case map[string]any:
		for _, item := range value {
			if !IsEmpty(item) {
				return false
			}
		}
		return true
	case bool, float64, float32, int, int64, int32:
		return false
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return true
		}
		return IsEmpty(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if !IsEmpty(rv.Index(i).Interface()) {
				return false
			}
		}
		return true
	case reflect.Map:
		iter := rv.MapRange()
		for iter.Next() {
			if !IsEmpty(iter.Value().Interface()) {
				return false
			}
		}
		return true
	}
	return false
}

// IsTruthy follows JavaScript truthiness for JSON values.
func IsTruthy(v any) bool {
	switch value := v.(type) {
	case nil:
		return false
	case bool:
		return value
	case string:
		return value != ""
	case float64:
		return value != 0 && !math.IsNaN(value)
	case float32:
		return value != 0 && !math.IsNaN(float64(value))
	case int:
		return value != 0
	case int64:
		return value != 0
	case int32:
		return value != 0
	}
	rv := reflect.ValueOf(v)
	if (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) && rv.IsNil() {
		return false
	}
	return true
}

func isNullLike(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// IsVariable reports whether v is a deferred variable reference such as "{{user.id}}".
func IsVariable(v any) bool {
	s, ok := v.(string)
	return ok && len(s) >= 4 && strings.HasPrefix(s, "{{") && strings.HasSuffix(s, "}}")
}
