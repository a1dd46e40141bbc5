package tools

import (
	"testing"

	xerrors "IntentMCP/internal/errors"
)

func TestValidateArguments(t *testing.T) {
	schema := Schema{
		Type: "object",
		Properties: map[string]Property{
			"id":      {Type: "string"},
			"refresh": {Type: "boolean"},
			"limit":   {Type: "integer"},
			"order":   {Type: "string", Enum: []string{"asc", "desc"}},
			"spec":    {Type: "object"},
			"states":  {Type: "array", Items: &Property{Type: "string"}},
		},
		Required: []string{"id"},
	}

	cases := []struct {
		name string
		args map[string]any
		ok   bool
	}{
		{name: "minimal", args: map[string]any{"id": "abc"}, ok: true},
		{name: "all valid", args: map[string]any{
			"id": "abc", "refresh": true, "limit": float64(5),
			"order": "asc", "spec": map[string]any{}, "states": []any{"draft"},
		}, ok: true},
		{name: "missing required", args: map[string]any{"refresh": true}},
		{name: "unknown field", args: map[string]any{"id": "abc", "nope": 1}},
		{name: "null value", args: map[string]any{"id": nil}},
		{name: "wrong string type", args: map[string]any{"id": 42}},
		{name: "wrong bool type", args: map[string]any{"id": "abc", "refresh": "yes"}},
		{name: "wrong integer type", args: map[string]any{"id": "abc", "limit": "5"}},
		{name: "enum violation", args: map[string]any{"id": "abc", "order": "sideways"}},
		{name: "wrong object type", args: map[string]any{"id": "abc", "spec": "{}"}},
		{name: "wrong array type", args: map[string]any{"id": "abc", "states": "draft"}},
		{name: "wrong item type", args: map[string]any{"id": "abc", "states": []any{"draft", 7}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateArguments(schema, tc.args)
			if tc.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected a schema violation")
			}
			if xerrors.CodeOf(err) != CodeSchemaViolation {
				t.Fatalf("unexpected code %s", xerrors.CodeOf(err))
			}
		})
	}
}

func TestCatalogueSchemasAreWellFormed(t *testing.T) {
	for _, def := range Catalogue() {
		if def.Name == "" || def.Description == "" {
			t.Fatalf("tool definition missing name or description: %+v", def)
		}
		if def.InputSchema.Type != "object" {
			t.Fatalf("tool %s: schema type must be object", def.Name)
		}
		for _, required := range def.InputSchema.Required {
			if _, ok := def.InputSchema.Properties[required]; !ok {
				t.Fatalf("tool %s: required field %q has no property", def.Name, required)
			}
		}
	}
	if _, ok := Lookup("create_intent"); !ok {
		t.Fatal("create_intent must be in the catalogue")
	}
	if _, ok := Lookup("no_such_tool"); ok {
		t.Fatal("lookup must miss unknown tools")
	}
}
