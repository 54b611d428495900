package formdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFieldsKeepsDeclarationOrder(t *testing.T) {
	fields := mustFields(t, `{
		"zeta": {"type": "string"},
		"alpha": {"type": ["null", "object"], "properties": {"b": {}, "a": {}}},
		"mid": {"type": "array", "items": {"properties": {"k": {"x-rename": "key"}}}}
	}`)

	assert.Equal(t, []string{"zeta", "alpha", "mid"}, fields.Keys())
	assert.Equal(t, TypeObject, fields.Get("alpha").Type)
	assert.Equal(t, []string{"b", "a"}, fields.Get("alpha").Properties.Keys())
	assert.Equal(t, "key", fields.Get("mid").ItemProperties.Get("k").Rename)
	assert.False(t, fields.Has("missing"))
	assert.Equal(t, "", fields.Get("missing").Type)
}

func TestParseFieldsExtensionKeys(t *testing.T) {
	fields := mustFields(t, `{
		"wrapper": {
			"x-unwrap-before-server": true,
			"x-nested-in": "target",
			"x-commands": [{"match": "m", "actions": [{"action": "delete", "keys": ["a", "b"]}]}]
		},
		"flag": {"x-unwrap-before-server": 0}
	}`)

	rule := fields.Get("wrapper")
	assert.True(t, rule.Unwrap)
	assert.Equal(t, "target", rule.NestedIn)
	require.Len(t, rule.Commands, 1)
	assert.Equal(t, "m", rule.Commands[0].Match)
	assert.Equal(t, []string{"a", "b"}, rule.Commands[0].Actions[0].Keys)
	assert.False(t, fields.Get("flag").Unwrap)
}

func TestParseObjectSchema(t *testing.T) {
	fields, err := ParseObjectSchema([]byte(`{"type": "object", "properties": {"name": {"type": "string"}}, "required": ["name"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, fields.Keys())

	empty, err := ParseObjectSchema([]byte(`{"type": "object"}`))
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
}

func TestParseFieldsYAML(t *testing.T) {
	fields, err := ParseFieldsYAML([]byte(`
second:
  type: string
  x-nested-in: first
first:
  type: object
items:
  type: array
  items:
    properties:
      name: {}
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "first", "items"}, fields.Keys())
	assert.Equal(t, "first", fields.Get("second").NestedIn)
	assert.Equal(t, []string{"name"}, fields.Get("items").ItemProperties.Keys())
}

func TestParseFieldsRejectsNonObject(t *testing.T) {
	_, err := ParseFields([]byte(`["a"]`))
	assert.Error(t, err)
}

func TestFieldsAddReplacesInPlace(t *testing.T) {
	fields := NewFields().
		Add("a", FieldRule{Type: TypeString}).
		Add("b", FieldRule{}).
		Add("a", FieldRule{Type: TypeNumber})

	assert.Equal(t, []string{"a", "b"}, fields.Keys())
	assert.Equal(t, TypeNumber, fields.Get("a").Type)

	var nilFields *Fields
	assert.Equal(t, 0, nilFields.Len())
	assert.Nil(t, nilFields.Keys())
}
