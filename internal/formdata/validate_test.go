package formdata

import (
	"testing"

	"github.com/go-openapi/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const connectionSchema = `{
	"type": "object",
	"required": ["name", "icon_url"],
	"properties": {
		"name": {"type": "string"},
		"icon_url": {"type": "string"},
		"port": {"type": "integer"},
		"secure": {"type": "boolean"},
		"tags": {"type": "array", "items": {"type": "string"}}
	}
}`

func TestIsValidJSONFromSchema(t *testing.T) {
	assert.True(t, IsValidJSONFromSchema(map[string]any{
		"name":     "Acme",
		"icon_url": "https://x/y.png",
	}, []byte(connectionSchema)))

	assert.False(t, IsValidJSONFromSchema(map[string]any{
		"name": "Acme",
	}, []byte(connectionSchema)))
}

func TestValidateCoercesScalars(t *testing.T) {
	err := Validate(map[string]any{
		"name":     "Acme",
		"icon_url": "https://x/y.png",
		"port":     "5432",
		"secure":   "true",
		"tags":     []any{float64(1), true},
	}, []byte(connectionSchema))
	assert.NoError(t, err)

	err = Validate(map[string]any{
		"name":     "Acme",
		"icon_url": "https://x/y.png",
		"tags":     "a",
	}, []byte(connectionSchema))
	assert.NoError(t, err)
}

func TestCoerceWrapsScalarIntoArray(t *testing.T) {
	schema := &spec.Schema{}
	schema.Type = spec.StringOrArray{"array"}
	schema.Items = &spec.SchemaOrArray{Schema: spec.StringProperty()}

	assert.Equal(t, []any{"7"}, Coerce(float64(7), schema))
	assert.Equal(t, []any{"a"}, Coerce([]any{"a"}, schema))
	assert.Nil(t, Coerce(nil, schema))
}

func TestValidateReportsEveryError(t *testing.T) {
	err := Validate(map[string]any{"port": "not-a-port"}, []byte(connectionSchema))
	require.Error(t, err)

	messages := ValidationMessages(err)
	assert.GreaterOrEqual(t, len(messages), 2)
}

func TestValidateRejectsBadSchema(t *testing.T) {
	err := Validate(map[string]any{}, []byte(`{not json`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile schema")
}

func TestValidateAcceptsTypedStructs(t *testing.T) {
	type payload struct {
		Name    string `json:"name"`
		IconURL string `json:"icon_url"`
		Port    int    `json:"port"`
	}
	assert.NoError(t, Validate(payload{Name: "a", IconURL: "b", Port: 1}, []byte(connectionSchema)))
}

func TestCoerceLeavesMatchingValues(t *testing.T) {
	schema := &spec.Schema{}
	schema.Type = spec.StringOrArray{"integer"}

	assert.Equal(t, float64(3), Coerce(float64(3), schema))
	assert.Equal(t, float64(7), Coerce("7", schema))
	assert.Equal(t, "7.5", Coerce("7.5", schema))
}
