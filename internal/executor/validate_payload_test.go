package executor

import "testing"

func TestValidatePayload_NilSchemaAlwaysPasses(t *testing.T) {
	codes, err := ValidatePayload(nil, map[string]any{"anything": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if codes != nil {
		t.Errorf("expected no violation codes, got %v", codes)
	}
}

func TestValidatePayload_RequiredFieldMissing(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"page_id"},
		"properties": map[string]any{
			"page_id": map[string]any{"type": "string"},
		},
	}
	codes, err := ValidatePayload(schema, map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(codes) != 1 || codes[0] != "VALIDATION_REQUIRED:page_id" {
		t.Errorf("got %v", codes)
	}
}

func TestValidatePayload_TypeMismatch(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"count": map[string]any{"type": "integer"},
		},
	}
	codes, err := ValidatePayload(schema, map[string]any{"count": "not-a-number"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(codes) != 1 || codes[0] != "VALIDATION_TYPE:count" {
		t.Errorf("got %v", codes)
	}
}

func TestValidatePayload_MinimumViolation(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"limit": map[string]any{"type": "integer", "minimum": 1},
		},
	}
	codes, err := ValidatePayload(schema, map[string]any{"limit": 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(codes) != 1 || codes[0] != "VALIDATION_MIN:limit" {
		t.Errorf("got %v", codes)
	}
}

func TestValidatePayload_MaximumViolation(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"limit": map[string]any{"type": "integer", "maximum": 10},
		},
	}
	codes, err := ValidatePayload(schema, map[string]any{"limit": 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(codes) != 1 || codes[0] != "VALIDATION_MAX:limit" {
		t.Errorf("got %v", codes)
	}
}

func TestValidatePayload_EnumViolation(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"status": map[string]any{"type": "string", "enum": []any{"open", "closed"}},
		},
	}
	codes, err := ValidatePayload(schema, map[string]any{"status": "unknown"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(codes) != 1 || codes[0] != "VALIDATION_ENUM:status" {
		t.Errorf("got %v", codes)
	}
}

func TestValidatePayload_ValidPayloadPasses(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"page_id"},
		"properties": map[string]any{
			"page_id": map[string]any{"type": "string"},
		},
	}
	codes, err := ValidatePayload(schema, map[string]any{"page_id": "abc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if codes != nil {
		t.Errorf("expected no violation codes, got %v", codes)
	}
}

func TestValidatePayload_MultipleViolationsCollected(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"page_id", "title"},
		"properties": map[string]any{
			"page_id": map[string]any{"type": "string"},
			"title":   map[string]any{"type": "string"},
		},
	}
	codes, err := ValidatePayload(schema, map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(codes) != 2 {
		t.Errorf("expected 2 violation codes for 2 missing required fields, got %v", codes)
	}
}
