package formdata

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	oaerrors "github.com/go-openapi/errors"
	"github.com/go-openapi/spec"
	"github.com/go-openapi/strfmt"
	"github.com/go-openapi/validate"
)

// IsValidJSONFromSchema validates data against a JSON-Schema document with scalar
// type coercion. Failures are logged with the validator's error list.
func IsValidJSONFromSchema(data any, schemaDoc []byte) bool {
	if err := Validate(data, schemaDoc); err != nil {
		slog.Warn("formdata: payload does not match schema", "errors", ValidationMessages(err))
		return false
	}
	return true
}

// Validate compiles schemaDoc, coerces a copy of data toward it and validates.
func Validate(data any, schemaDoc []byte) error {
	var schema spec.Schema
	if err := json.Unmarshal(schemaDoc, &schema); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	generic, err := toGeneric(data)
	if err != nil {
		return fmt.Errorf("encode data: %w", err)
	}
	return validate.AgainstSchema(&schema, Coerce(generic, &schema), strfmt.Default)
}

// ValidationMessages flattens a validation error into its individual messages.
func ValidationMessages(err error) []string {
	if err == nil {
		return nil
	}
	var composite *oaerrors.CompositeError
	if errors.As(err, &composite) {
		messages := make([]string, 0, len(composite.Errors))
		for _, item := range composite.Errors {
			messages = append(messages, ValidationMessages(item)...)
		}
		return messages
	}
	return []string{err.Error()}
}

// Coerce converts scalars toward the types the schema declares: strings to numbers
// and booleans, numbers and booleans to strings, null to the type's zero value and
// a scalar to a single-element array. Values that already match a declared type
// are left alone.
func Coerce(data any, schema *spec.Schema) any {
	if schema == nil {
		return data
	}
	types := []string(schema.Type)

	switch value := data.(type) {
	case map[string]any:
		for key, item := range value {
			if prop, ok := schema.Properties[key]; ok {
				value[key] = Coerce(item, &prop)
			}
		}
		return value
	case []any:
		if schema.Items != nil && schema.Items.Schema != nil {
			for i, item := range value {
				value[i] = Coerce(item, schema.Items.Schema)
			}
		}
		return value
	}

	if len(types) == 0 || matchesType(data, types) {
		return data
	}
	for _, t := range types {
		if t == TypeArray && data != nil {
			wrapped := []any{data}
			if schema.Items != nil && schema.Items.Schema != nil {
				wrapped[0] = Coerce(data, schema.Items.Schema)
			}
			return wrapped
		}
		if coerced, ok := coerceScalar(data, t); ok {
			return coerced
		}
	}
	return data
}

func matchesType(v any, types []string) bool {
	for _, t := range types {
		switch t {
		case "null":
			if v == nil {
				return true
			}
		case TypeString:
			if _, ok := v.(string); ok {
				return true
			}
		case TypeBoolean:
			if _, ok := v.(bool); ok {
				return true
			}
		case TypeNumber:
			if _, ok := v.(float64); ok {
				return true
			}
		case "integer":
			if f, ok := v.(float64); ok && f == float64(int64(f)) {
				return true
			}
		case TypeObject:
			if _, ok := v.(map[string]any); ok {
				return true
			}
		case TypeArray:
			if _, ok := v.([]any); ok {
				return true
			}
		}
	}
	return false
}

func coerceScalar(v any, target string) (any, bool) {
	switch target {
	case TypeNumber, "integer":
		switch value := v.(type) {
		case string:
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, false
			}
			if target == "integer" && f != float64(int64(f)) {
				return nil, false
			}
			return f, true
		case bool:
			if value {
				return float64(1), true
			}
			return float64(0), true
		case nil:
			return float64(0), true
		}
	case TypeString:
		switch value := v.(type) {
		case float64:
			return strconv.FormatFloat(value, 'f', -1, 64), true
		case bool:
			return strconv.FormatBool(value), true
		case nil:
			return "", true
		}
	case TypeBoolean:
		switch value := v.(type) {
		case string:
			switch value {
			case "true":
				return true, true
			case "false":
				return false, true
			}
		case float64:
			switch value {
			case 1:
				return true, true
			case 0:
				return false, true
			}
		case nil:
			return false, true
		}
	}
	return nil, false
}

// toGeneric round-trips data through JSON so typed Go values validate like decoded ones.
func toGeneric(data any) (any, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(encoded, &generic); err != nil {
		return nil, err
	}
	return generic, nil
}
