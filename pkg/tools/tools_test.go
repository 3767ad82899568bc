package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/boristopalov/toolgym/pkg/core"
)

func TestRegistry(t *testing.T) {
	t.Run("test reserved name is rejected", func(t *testing.T) {
		bad := Tool{Name: DefaultSubmissionTool, Fn: func(context.Context, map[string]any) (any, error) { return nil, nil }}
		_, err := NewRegistry("", nil, bad)
		if !errors.Is(err, ErrReservedName) {
			t.Fatalf("expected ErrReservedName, got %v", err)
		}
	})

	t.Run("test custom submission name is reserved", func(t *testing.T) {
		bad := Tool{Name: "final", Fn: func(context.Context, map[string]any) (any, error) { return nil, nil }}
		_, err := NewRegistry("final", nil, bad)
		if !errors.Is(err, ErrReservedName) {
			t.Fatalf("expected ErrReservedName, got %v", err)
		}
	})

	t.Run("test schemas come back in requested order", func(t *testing.T) {
		reg, err := NewRegistry("", nil, Arithmetic()...)
		if err != nil {
			t.Fatalf("Failed to build registry: %v", err)
		}
		schemas, err := reg.Schemas([]string{"divide", "add"})
		if err != nil {
			t.Fatalf("Failed to resolve schemas: %v", err)
		}
		if schemas[0].Function.Name != "divide" || schemas[1].Function.Name != "add" {
			t.Errorf("unexpected order: %s, %s", schemas[0].Function.Name, schemas[1].Function.Name)
		}
		if _, err := reg.Schemas([]string{"pow"}); !errors.Is(err, ErrUnknownSchema) {
			t.Errorf("expected ErrUnknownSchema, got %v", err)
		}
	})

	t.Run("test file schema overrides generated schema", func(t *testing.T) {
		override := SubmissionSchema("")
		override.Function.Name = "add"
		override.Function.Description = "overridden"
		reg, err := NewRegistry("", []core.ToolSchema{override}, Add())
		if err != nil {
			t.Fatalf("Failed to build registry: %v", err)
		}
		schemas, err := reg.Schemas([]string{"add"})
		if err != nil {
			t.Fatalf("Failed to resolve schemas: %v", err)
		}
		if schemas[0].Function.Description != "overridden" {
			t.Errorf("Description = %q, want overridden", schemas[0].Function.Description)
		}
	})

	t.Run("test call recovers from panics", func(t *testing.T) {
		boom := Tool{Name: "boom", Fn: func(context.Context, map[string]any) (any, error) { panic("kaboom") }}
		reg, err := NewRegistry("", nil, boom)
		if err != nil {
			t.Fatalf("Failed to build registry: %v", err)
		}
		if _, err := reg.Call(context.Background(), "boom", nil); err == nil {
			t.Error("expected error from panicking tool")
		}
		if _, err := reg.Call(context.Background(), "missing", nil); !errors.Is(err, ErrUnknownTool) {
			t.Errorf("expected ErrUnknownTool, got %v", err)
		}
	})
}

func TestArithmetic(t *testing.T) {
	reg, err := NewRegistry("", nil, Arithmetic()...)
	if err != nil {
		t.Fatalf("Failed to build registry: %v", err)
	}
	ctx := context.Background()

	cases := []struct {
		name string
		args map[string]any
		want float64
	}{
		{"add", map[string]any{"a": 2.0, "b": 3.0}, 5},
		{"subtract", map[string]any{"a": 2.0, "b": 3.0}, -1},
		{"multiply", map[string]any{"a": "4", "b": 2.5}, 10},
		{"divide", map[string]any{"a": 9.0, "b": 3.0}, 3},
	}
	for _, tc := range cases {
		out, err := reg.Call(ctx, tc.name, tc.args)
		if err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
			continue
		}
		if out.(float64) != tc.want {
			t.Errorf("%s = %v, want %v", tc.name, out, tc.want)
		}
	}

	if _, err := reg.Call(ctx, "divide", map[string]any{"a": 1.0, "b": 0.0}); !errors.Is(err, ErrDivideByZero) {
		t.Errorf("expected ErrDivideByZero, got %v", err)
	}
	if _, err := reg.Call(ctx, "add", map[string]any{"x": 1.0}); err == nil {
		t.Error("expected error for unknown argument")
	}
}

func TestVerifyTool(t *testing.T) {
	ctx := context.Background()
	verify := NewVerifyTool("Natalia sold 48 clips.\n#### 42")

	got, err := verify.Fn(ctx, map[string]any{"answer": 42.0})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != true {
		t.Errorf("verify(42) = %v, want true", got)
	}

	got, err = verify.Fn(ctx, map[string]any{"submission": 41.0})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != false {
		t.Errorf("verify(41) = %v, want false", got)
	}

	if _, err := verify.Fn(ctx, map[string]any{}); err == nil {
		t.Error("expected error for missing submission")
	}

	noMarker := NewVerifyTool("42")
	if _, err := noMarker.Fn(ctx, map[string]any{"answer": 42.0}); err == nil {
		t.Error("expected error when expected text has no marker")
	}
}

func TestExtractAnswer(t *testing.T) {
	cases := map[string]float64{
		"#### 42":            42,
		"so...\n####-3.5":    -3.5,
		"#### 7 and #### 8":  7,
		"text ####   1000.0": 1000,
	}
	for in, want := range cases {
		got, err := ExtractAnswer(in)
		if err != nil {
			t.Errorf("ExtractAnswer(%q) error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ExtractAnswer(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoadSchemas(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.yaml")
	content := `
- type: function
  function:
    name: add
    description: Add two numbers
    parameters:
      type: object
      properties:
        a: {type: number}
        b: {type: number}
      required: [a, b]
- function:
    name: submit_solution
    parameters:
      type: object
      properties:
        answer: {type: number}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	schemas, err := LoadSchemas(path)
	if err != nil {
		t.Fatalf("LoadSchemas: %v", err)
	}
	if len(schemas) != 2 {
		t.Fatalf("got %d schemas, want 2", len(schemas))
	}
	if schemas[1].Type != "function" {
		t.Errorf("missing type should default to function, got %q", schemas[1].Type)
	}
	props, ok := schemas[0].Function.Parameters["properties"].(map[string]any)
	if !ok || props["a"] == nil {
		t.Errorf("unexpected parameters: %#v", schemas[0].Function.Parameters)
	}

	if _, err := ParseSchemas([]byte("- function: {name: a}\n- function: {name: a}\n")); err == nil {
		t.Error("expected error for duplicate schema")
	}
}

func TestGenerateSchema(t *testing.T) {
	schema := GenerateSchema[BinaryInput]()
	if schema["type"] != "object" {
		t.Errorf("type = %v, want object", schema["type"])
	}
	if _, ok := schema["$schema"]; ok {
		t.Error("$schema should be stripped")
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok || props["a"] == nil || props["b"] == nil {
		t.Errorf("unexpected properties: %#v", schema["properties"])
	}
}
