// Package formdata turns form-shaped records into the payloads the platform API expects.
//
// A schema is a tree of field rules. Besides the usual JSON-Schema keys (type,
// properties, items.properties) a rule may carry the extension keys x-rename,
// x-nested-in, x-unwrap-before-server and x-commands, which reconcile a flat form UI
// with a nested server payload.
package formdata

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
)

// FieldRule describes how one input key is processed.
type FieldRule struct {
	Type           string
	Properties     *Fields
	ItemProperties *Fields
	Rename         string
	NestedIn       string
	Unwrap         bool
	Commands       []Command
}

// Command deletes keys from every element whose Match property is truthy.
type Command struct {
	Match   string   `json:"match" yaml:"match"`
	Actions []Action `json:"actions" yaml:"actions"`
}

type Action struct {
	Action string   `json:"action" yaml:"action"`
	Keys   []string `json:"keys" yaml:"keys"`
}

const ActionDelete = "delete"

// Fields is an ordered set of field rules. The zero value and nil are both an
// empty schema.
type Fields struct {
	keys  []string
	rules map[string]*FieldRule
}

func NewFields() *Fields {
	return &Fields{rules: make(map[string]*FieldRule)}
}

// Add appends a rule, replacing any earlier rule for the same key in place.
func (f *Fields) Add(key string, rule FieldRule) *Fields {
	if f.rules == nil {
		f.rules = make(map[string]*FieldRule)
	}
	if _, exists := f.rules[key]; !exists {
		f.keys = append(f.keys, key)
	}
	r := rule
	f.rules[key] = &r
	return f
}

// Get returns the rule for key, or an empty rule when the key is undeclared.
func (f *Fields) Get(key string) *FieldRule {
	if f != nil && f.rules != nil {
		if rule, ok := f.rules[key]; ok {
			return rule
		}
	}
	return &FieldRule{}
}

func (f *Fields) Has(key string) bool {
	if f == nil || f.rules == nil {
		return false
	}
	_, ok := f.rules[key]
	return ok
}

// Keys returns the declared keys in declaration order.
func (f *Fields) Keys() []string {
	if f == nil {
		return nil
	}
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

func (f *Fields) Len() int {
	if f == nil {
		return 0
	}
	return len(f.keys)
}

type fieldDoc struct {
	Type       json.RawMessage `json:"type"`
	Properties json.RawMessage `json:"properties"`
	Items      *struct {
		Properties json.RawMessage `json:"properties"`
	} `json:"items"`
	Rename   string          `json:"x-rename"`
	NestedIn string          `json:"x-nested-in"`
	Unwrap   json.RawMessage `json:"x-unwrap-before-server"`
	Commands []Command       `json:"x-commands"`
}

// ParseFields parses a JSON object mapping field names to field descriptors.
func ParseFields(raw []byte) (*Fields, error) {
	keys, err := objectKeys(raw)
	if err != nil {
		return nil, err
	}
	var docs map[string]json.RawMessage
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}

	fields := NewFields()
	for _, key := range keys {
		rule, err := parseRule(docs[key])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		fields.Add(key, rule)
	}
	return fields, nil
}

// ParseObjectSchema parses a full object schema document and returns its properties.
func ParseObjectSchema(raw []byte) (*Fields, error) {
	var doc struct {
		Properties json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	if len(doc.Properties) == 0 || string(doc.Properties) == "null" {
		return NewFields(), nil
	}
	return ParseFields(doc.Properties)
}

// ParseFieldsYAML parses field descriptors written as YAML, keeping declaration order.
func ParseFieldsYAML(raw []byte) (*Fields, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("decode yaml fields: %w", err)
	}
	var buf bytes.Buffer
	if err := writeYAMLAsJSON(&buf, &node); err != nil {
		return nil, err
	}
	if buf.Len() == 0 || buf.String() == "null" {
		return NewFields(), nil
	}
	return ParseFields(buf.Bytes())
}

func parseRule(raw json.RawMessage) (FieldRule, error) {
	var doc fieldDoc
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return FieldRule{}, err
		}
	}

	rule := FieldRule{
		Type:     parseType(doc.Type),
		Rename:   doc.Rename,
		NestedIn: doc.NestedIn,
		Commands: doc.Commands,
	}
	if len(doc.Unwrap) > 0 {
		var flag any
		if err := json.Unmarshal(doc.Unwrap, &flag); err == nil {
			rule.Unwrap = IsTruthy(flag)
		}
	}
	if isObject(doc.Properties) {
		props, err := ParseFields(doc.Properties)
		if err != nil {
			return FieldRule{}, err
		}
		rule.Properties = props
	}
	if doc.Items != nil && isObject(doc.Items.Properties) {
		props, err := ParseFields(doc.Items.Properties)
		if err != nil {
			return FieldRule{}, err
		}
		rule.ItemProperties = props
	}
	return rule, nil
}

// parseType accepts "string" or ["string", "null"] and returns the first non-null type.
func parseType(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		for _, t := range many {
			if t != "null" {
				return t
			}
		}
	}
	return ""
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// objectKeys returns the top-level keys of a JSON object in document order.
func objectKeys(raw []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("decode fields: expected object")
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode fields: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("decode fields: expected key")
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, fmt.Errorf("decode fields: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func writeYAMLAsJSON(buf *bytes.Buffer, node *yaml.Node) error {
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return nil
		}
		return writeYAMLAsJSON(buf, node.Content[0])
	case yaml.AliasNode:
		return writeYAMLAsJSON(buf, node.Alias)
	case yaml.MappingNode:
		buf.WriteByte('{')
		for i := 0; i+1 < len(node.Content); i += 2 {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(node.Content[i].Value)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := writeYAMLAsJSON(buf, node.Content[i+1]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case yaml.SequenceNode:
		buf.WriteByte('[')
		for i, item := range node.Content {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeYAMLAsJSON(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		var value any
		if err := node.Decode(&value); err != nil {
			return fmt.Errorf("decode yaml scalar at line %d: %w", node.Line, err)
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode yaml scalar at line %d: %w", node.Line, err)
		}
		buf.Write(encoded)
	}
	return nil
}
