package formdata

import (
	"encoding/json"
	"log/slog"
	"sort"
)

// Normalize produces a submission payload from data according to fields. It never
// fails: strings that should hold JSON but do not parse are kept verbatim and logged.
//
// Keys declared in fields are processed in declaration order, remaining keys in
// lexical order. Fold targets (x-nested-in) therefore see earlier siblings only.
func Normalize(data map[string]any, fields *Fields) map[string]any {
	out := make(map[string]any, len(data))

	for _, key := range orderedKeys(data, fields) {
		value := data[key]
		if isNullLike(value) {
			continue
		}

		rule := fields.Get(key)
		persistingKey := key
		if rule.Rename != "" {
			persistingKey = rule.Rename
		}
		nested := rule.Properties
		if nested == nil {
			nested = rule.ItemProperties
		}

		if IsVariable(value) {
			out[persistingKey] = value
			continue
		}

		switch typed := value.(type) {
		case []any:
			if nested != nil {
				out[persistingKey] = normalizeItems(typed, nested)
			} else {
				assignPlain(out, key, persistingKey, value, rule, nested)
			}
		case map[string]any:
			if nested != nil {
				if formatted := Normalize(typed, nested); !IsEmpty(formatted) {
					out[persistingKey] = formatted
				}
			} else {
				assignPlain(out, key, persistingKey, value, rule, nested)
			}
		default:
			assignPlain(out, key, persistingKey, value, rule, nested)
		}

		if m, ok := out[persistingKey].(map[string]any); ok {
			out[persistingKey] = Normalize(m, nil)
		}

		if len(rule.Commands) > 0 {
			if current, ok := out[persistingKey]; ok && IsTruthy(current) {
				out[persistingKey] = applyCommands(deepCopy(current), rule.Commands)
			}
		}

		if rule.NestedIn != "" {
			if current, ok := out[persistingKey]; ok && !IsEmpty(current) {
				foldInto(out, rule.NestedIn, persistingKey, current, fields.Get(rule.NestedIn).Type)
			}
		}

		if rule.Unwrap {
			if current, ok := out[persistingKey]; ok && IsTruthy(current) {
				if m, isMap := current.(map[string]any); isMap {
					delete(out, persistingKey)
					for _, k := range sortedKeys(m) {
						out[k] = m[k]
					}
				}
			}
		} else if rule.Rename != "" {
			if original, ok := out[key]; ok && !IsEmpty(original) {
				out[persistingKey] = original
				delete(out, key)
			}
		}

		if current, ok := out[persistingKey]; ok && IsEmpty(current) {
			delete(out, persistingKey)
		}
	}

	return out
}

// assignPlain handles a value without a usable nested schema.
func assignPlain(out map[string]any, key, persistingKey string, value any, rule *FieldRule, nested *Fields) {
	if IsEmpty(value) {
		return
	}
	s, isString := value.(string)
	if !isString || !(rule.Type == TypeObject || rule.Type == TypeArray || key == "meta_data") {
		out[persistingKey] = value
		return
	}

	var parsed any
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		slog.Warn("formdata: value is not valid JSON, keeping string", "key", key, "error", err)
		out[persistingKey] = value
		return
	}
	if nested != nil {
		switch p := parsed.(type) {
		case map[string]any:
			parsed = Normalize(p, nested)
		case []any:
			parsed = normalizeItems(p, nested)
		}
	}
	out[persistingKey] = parsed
}

func normalizeItems(items []any, nested *Fields) []any {
	result := make([]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			item = Normalize(m, nested)
		}
		if IsEmpty(item) {
			continue
		}
		result = append(result, item)
	}
	return result
}

func foldInto(out map[string]any, target, persistingKey string, value any, targetType string) {
	switch targetType {
	case TypeObject:
		container, ok := out[target].(map[string]any)
		if !ok {
			container = make(map[string]any)
		}
		container[persistingKey] = value
		out[target] = container
	case TypeArray:
		list, _ := out[target].([]any)
		out[target] = append(list, value)
	default:
		out[target] = value
	}
	if target != persistingKey {
		delete(out, persistingKey)
	}
}

func applyCommands(value any, commands []Command) any {
	elements := []any{value}
	if list, ok := value.([]any); ok {
		elements = list
	}
	for _, element := range elements {
		m, ok := element.(map[string]any)
		if !ok {
			continue
		}
		for _, command := range commands {
			if !IsTruthy(m[command.Match]) {
				continue
			}
			for _, action := range command.Actions {
				if action.Action != ActionDelete {
					continue
				}
				for _, k := range action.Keys {
					delete(m, k)
				}
			}
		}
	}
	return value
}

func orderedKeys(data map[string]any, fields *Fields) []string {
	keys := make([]string, 0, len(data))
	seen := make(map[string]struct{}, len(data))
	for _, key := range fields.Keys() {
		if _, ok := data[key]; ok {
			keys = append(keys, key)
			seen[key] = struct{}{}
		}
	}
	rest := make([]string, 0, len(data)-len(keys))
	for key := range data {
		if _, ok := seen[key]; !ok {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func deepCopy(v any) any {
	switch value := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}
