package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplate(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		state map[string]any
		want  string
	}{
		{name: "plain text", text: "no markers", want: "no markers"},
		{name: "field", text: "Hello {{.name}}", state: map[string]any{"name": "Ada"}, want: "Hello Ada"},
		{name: "default", text: `{{default "anon" .name}}`, state: map[string]any{}, want: "anon"},
		{name: "pipeline", text: "{{.lang | upper}}", state: map[string]any{"lang": "en"}, want: "EN"},
		{name: "no html escaping", text: "{{.q}}", state: map[string]any{"q": "a < b & c"}, want: "a < b & c"},
		{name: "join", text: `{{join ", " .items}}`, state: map[string]any{"items": []any{"x", 1}}, want: "x, 1"},
		{name: "title", text: "{{title .who}}", state: map[string]any{"who": "ada LOVELACE"}, want: "Ada Lovelace"},
		{name: "json", text: "args: {{json .args}}", state: map[string]any{"args": map[string]any{"b": 2, "a": "x"}}, want: `args: {"a":"x","b":2}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RenderTemplate(tt.text, tt.state)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := RenderTemplate("{{.unclosed", nil)
	assert.Error(t, err)
}

func TestCreateSchema(t *testing.T) {
	type args struct {
		Query  string   `json:"query" description:"Search query"`
		Limit  int      `json:"limit,omitempty"`
		Tags   []string `json:"tags"`
		Cursor *string  `json:"cursor"`
		hidden bool
	}

	schema := CreateSchema(args{})

	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []string{"query", "tags"}, schema["required"])

	props := schema["properties"].(map[string]any)
	assert.Len(t, props, 4)
	assert.Equal(t, map[string]any{"type": "string", "description": "Search query"}, props["query"])
	assert.Equal(t, "integer", props["limit"].(map[string]any)["type"])
	assert.Equal(t, "array", props["tags"].(map[string]any)["type"])

	assert.Equal(t, map[string]any{"type": "object", "properties": map[string]any{}}, CreateSchema(42))
}

func TestValidateParameters(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"op": map[string]any{"type": "string", "enum": []string{"add", "sub"}},
			"n":  map[string]any{"type": "integer"},
		},
		"required": []any{"op"},
	}

	assert.NoError(t, ValidateParameters(map[string]any{"op": "add", "n": float64(3), "extra": true}, schema))

	var verr *ValidationError

	err := ValidateParameters(map[string]any{}, schema)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "op", verr.Field)

	err = ValidateParameters(map[string]any{"op": "mul"}, schema)
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Message, "must be one of")

	err = ValidateParameters(map[string]any{"op": "add", "n": 1.5}, schema)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "n", verr.Field)
}

func TestRequiredFields(t *testing.T) {
	assert.Equal(t, []string{"a"}, RequiredFields(map[string]any{"required": []string{"a"}}))
	assert.Equal(t, []string{"a", "b"}, RequiredFields(map[string]any{"required": []any{"a", 1, "b"}}))
	assert.Nil(t, RequiredFields(map[string]any{}))
}
