package schema

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func mustParse(t *testing.T, raw string) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("parse schema: %v", err)
	}
	return out
}

func TestCleanLight_DropsUnsupportedKeywords(t *testing.T) {
	in := mustParse(t, `{
		"type": "object",
		"$schema": "http://json-schema.org/draft-07/schema#",
		"additionalProperties": false,
		"properties": {
			"name": {"type": "string", "minLength": 2, "maxLength": 10, "pattern": "^a"},
			"tags": {"type": "array", "items": {"type": "string", "format": "uri", "default": "x"}}
		}
	}`)

	got := CleanLight(in)

	for _, key := range []string{"$schema", "additionalProperties"} {
		if _, ok := got[key]; ok {
			t.Fatalf("expected %q to be dropped", key)
		}
	}
	name := got["properties"].(map[string]any)["name"].(map[string]any)
	for _, key := range []string{"minLength", "maxLength", "pattern"} {
		if _, ok := name[key]; ok {
			t.Fatalf("expected nested %q to be dropped", key)
		}
	}
	items := got["properties"].(map[string]any)["tags"].(map[string]any)["items"].(map[string]any)
	for _, key := range []string{"format", "default"} {
		if _, ok := items[key]; ok {
			t.Fatalf("expected items %q to be dropped", key)
		}
	}
	if items["type"] != "string" {
		t.Fatalf("expected items type to survive, got %v", items["type"])
	}
}

func TestCleanLight_DoesNotMutateInput(t *testing.T) {
	in := mustParse(t, `{"type":"object","additionalProperties":false,"properties":{"a":{"type":"string","format":"uri"}}}`)
	snapshot := deepCopy(in).(map[string]any)

	CleanLight(in)

	if !reflect.DeepEqual(in, snapshot) {
		t.Fatalf("input schema was mutated")
	}
}

func TestCleanStrict_ClaudeScenario(t *testing.T) {
	in := mustParse(t, `{
		"type": "object",
		"properties": {
			"status": {"type": "string", "const": "active"},
			"metadata": {"type": "object", "additionalProperties": false}
		}
	}`)

	got := CleanStrict(in)

	props := got["properties"].(map[string]any)
	status := props["status"].(map[string]any)
	enum, ok := status["enum"].([]any)
	if !ok || len(enum) != 1 || enum[0] != "active" {
		t.Fatalf("expected status.enum=[active], got %v", status["enum"])
	}
	if _, ok := status["const"]; ok {
		t.Fatalf("const should have been removed")
	}

	metadata := props["metadata"].(map[string]any)
	desc, _ := metadata["description"].(string)
	if !strings.Contains(desc, "No extra properties allowed") {
		t.Fatalf("expected additionalProperties hint, got %q", desc)
	}
	if _, ok := metadata["additionalProperties"]; ok {
		t.Fatalf("additionalProperties should have been stripped")
	}
	metaProps, ok := metadata["properties"].(map[string]any)
	if !ok {
		t.Fatalf("expected placeholder properties on empty object")
	}
	if _, ok := metaProps["_placeholder"]; !ok {
		t.Fatalf("expected _placeholder property, got keys %v", metaProps)
	}
	required, _ := metadata["required"].([]any)
	if len(required) != 1 || required[0] != "_placeholder" {
		t.Fatalf("expected required=[_placeholder], got %v", required)
	}
}

func TestCleanStrict_RefsBecomeDescriptions(t *testing.T) {
	in := mustParse(t, `{
		"type": "object",
		"properties": {
			"owner": {"$ref": "#/definitions/User", "description": "The owner"}
		}
	}`)

	got := CleanStrict(in)

	owner := got["properties"].(map[string]any)["owner"].(map[string]any)
	if owner["type"] != "object" {
		t.Fatalf("expected object stub, got type %v", owner["type"])
	}
	desc, _ := owner["description"].(string)
	if desc != "The owner (See: User)" {
		t.Fatalf("unexpected description %q", desc)
	}
	if _, ok := owner["$ref"]; ok {
		t.Fatalf("$ref should be gone")
	}
}

func TestCleanStrict_EnumHint(t *testing.T) {
	in := mustParse(t, `{"type":"string","enum":["red","green","blue"],"description":"A color"}`)

	got := CleanStrict(in)

	desc, _ := got["description"].(string)
	if desc != "A color (Allowed: red, green, blue)" {
		t.Fatalf("unexpected description %q", desc)
	}
}

func TestCleanStrict_ConstraintHints(t *testing.T) {
	in := mustParse(t, `{"type":"string","minLength":3,"pattern":"^ab","format":"email"}`)

	got := CleanStrict(in)

	desc, _ := got["description"].(string)
	for _, want := range []string{"minLength: 3", "pattern: ^ab", "format: email"} {
		if !strings.Contains(desc, want) {
			t.Fatalf("expected hint %q in %q", want, desc)
		}
	}
	for _, key := range []string{"minLength", "pattern", "format"} {
		if _, ok := got[key]; ok {
			t.Fatalf("expected %q to be stripped", key)
		}
	}
}

func TestCleanStrict_AllOfMerge(t *testing.T) {
	in := mustParse(t, `{
		"type": "object",
		"allOf": [
			{"properties": {"a": {"type": "string"}}, "required": ["a"]},
			{"properties": {"b": {"type": "number"}}, "required": ["b"]}
		]
	}`)

	got := CleanStrict(in)

	if _, ok := got["allOf"]; ok {
		t.Fatalf("allOf should be merged away")
	}
	props := got["properties"].(map[string]any)
	if _, ok := props["a"]; !ok {
		t.Fatalf("expected property a after merge")
	}
	if _, ok := props["b"]; !ok {
		t.Fatalf("expected property b after merge")
	}
	required := got["required"].([]any)
	if len(required) != 2 {
		t.Fatalf("expected required union of 2, got %v", required)
	}
}

func TestCleanStrict_AnyOfEnumsCollapse(t *testing.T) {
	in := mustParse(t, `{
		"description": "State",
		"anyOf": [
			{"const": "on"},
			{"enum": ["off", "paused"]}
		]
	}`)

	got := CleanStrict(in)

	if got["type"] != "string" {
		t.Fatalf("expected string type, got %v", got["type"])
	}
	enum := got["enum"].([]any)
	if len(enum) != 3 {
		t.Fatalf("expected 3 enum values, got %v", enum)
	}
	desc, _ := got["description"].(string)
	if !strings.HasPrefix(desc, "State") {
		t.Fatalf("parent description lost: %q", desc)
	}
}

func TestCleanStrict_AnyOfPicksComplexBranch(t *testing.T) {
	in := mustParse(t, `{
		"description": "Target",
		"anyOf": [
			{"type": "string"},
			{"type": "object", "properties": {"id": {"type": "string"}}}
		]
	}`)

	got := CleanStrict(in)

	if got["type"] != "object" {
		t.Fatalf("expected object branch to win, got %v", got["type"])
	}
	props := got["properties"].(map[string]any)
	if _, ok := props["id"]; !ok {
		t.Fatalf("expected id property from chosen branch")
	}
	desc, _ := got["description"].(string)
	if !strings.Contains(desc, "Accepts: string | object") {
		t.Fatalf("expected Accepts hint, got %q", desc)
	}
}

func TestCleanStrict_TypeArrayFlatten(t *testing.T) {
	in := mustParse(t, `{"type": ["string", "null"]}`)

	got := CleanStrict(in)

	if got["type"] != "string" {
		t.Fatalf("expected first non-null type, got %v", got["type"])
	}
	desc, _ := got["description"].(string)
	if !strings.Contains(desc, "nullable") {
		t.Fatalf("expected nullable hint, got %q", desc)
	}
}

func TestCleanStrict_RequiredCleanup(t *testing.T) {
	in := mustParse(t, `{
		"type": "object",
		"properties": {"kept": {"type": "string"}},
		"required": ["kept", "ghost"]
	}`)

	got := CleanStrict(in)

	required := got["required"].([]any)
	if len(required) != 1 || required[0] != "kept" {
		t.Fatalf("expected required=[kept], got %v", required)
	}
}

func TestCleanStrict_PropertyNamesAreNotKeywords(t *testing.T) {
	// A user may name a property "title" or "const"; those live under
	// properties and must survive the keyword strip.
	in := mustParse(t, `{
		"type": "object",
		"properties": {
			"title": {"type": "string"},
			"const": {"type": "number"}
		}
	}`)

	got := CleanStrict(in)

	props := got["properties"].(map[string]any)
	if _, ok := props["title"]; !ok {
		t.Fatalf("property named title was stripped")
	}
	if _, ok := props["const"]; !ok {
		t.Fatalf("property named const was stripped")
	}
}

// stripDescriptions removes description fields so idempotence can be
// checked structurally: a second pass may re-append hints to descriptions
// but must not change the shape of the tree.
func stripDescriptions(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			if k == "description" {
				continue
			}
			out[k] = stripDescriptions(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = stripDescriptions(child)
		}
		return out
	default:
		return v
	}
}

func TestCleanLight_Idempotent(t *testing.T) {
	in := mustParse(t, `{
		"type": "object",
		"additionalProperties": false,
		"properties": {"a": {"type": "string", "minLength": 1}}
	}`)

	once := CleanLight(in)
	twice := CleanLight(once)

	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("CleanLight is not idempotent:\nonce:  %v\ntwice: %v", once, twice)
	}
}

func TestCleanStrict_IdempotentUpToDescriptions(t *testing.T) {
	in := mustParse(t, `{
		"type": "object",
		"properties": {
			"status": {"type": "string", "const": "active"},
			"mode": {"enum": ["a", "b", "c"]},
			"metadata": {"type": "object", "additionalProperties": false},
			"owner": {"$ref": "#/$defs/User"},
			"level": {"type": ["integer", "null"]}
		},
		"required": ["status", "missing"]
	}`)

	once := CleanStrict(in)
	twice := CleanStrict(once)

	if !reflect.DeepEqual(stripDescriptions(once), stripDescriptions(twice)) {
		t.Fatalf("CleanStrict is not structurally idempotent:\nonce:  %v\ntwice: %v", once, twice)
	}
}
