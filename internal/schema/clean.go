// Package schema normalizes JSON Schema trees into the shapes the Cloud Code
// upstream accepts. Gemini models tolerate most of JSON Schema and only need
// a handful of unsupported keywords removed (CleanLight). Claude models
// served through the VALIDATED tool mode reject far more, so CleanStrict
// rewrites the unsupported constructs into description hints before
// stripping them.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Keys dropped by CleanLight at every schema level.
var lightDropKeys = map[string]bool{
	"minLength":            true,
	"maxLength":            true,
	"pattern":              true,
	"format":               true,
	"examples":             true,
	"default":              true,
	"strict":               true,
	"$schema":              true,
	"additionalProperties": true,
}

// Constraint keywords rewritten into description hints by CleanStrict.
var hintedConstraints = []string{
	"minLength", "maxLength", "exclusiveMinimum", "exclusiveMaximum",
	"pattern", "minItems", "maxItems", "format", "default", "examples",
}

// Keywords removed outright by the final strip pass of CleanStrict.
var strictStripKeys = map[string]bool{
	"$schema":              true,
	"$defs":                true,
	"definitions":          true,
	"const":                true,
	"$ref":                 true,
	"additionalProperties": true,
	"propertyNames":        true,
	"title":                true,
	"$id":                  true,
	"$comment":             true,
}

func init() {
	for _, k := range hintedConstraints {
		strictStripKeys[k] = true
	}
}

// CleanLight removes schema keywords the Gemini function-calling surface
// rejects. The input tree is not mutated.
func CleanLight(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		if lightDropKeys[k] {
			continue
		}
		switch k {
		case "properties":
			if props, ok := v.(map[string]any); ok {
				cleaned := make(map[string]any, len(props))
				for name, child := range props {
					if childMap, ok := child.(map[string]any); ok {
						cleaned[name] = CleanLight(childMap)
					} else {
						cleaned[name] = child
					}
				}
				out[k] = cleaned
				continue
			}
			out[k] = v
		case "items":
			if itemMap, ok := v.(map[string]any); ok {
				out[k] = CleanLight(itemMap)
				continue
			}
			out[k] = v
		default:
			out[k] = v
		}
	}
	return out
}

// CleanStrict rewrites a JSON Schema into the restricted form the Claude
// VALIDATED tool mode accepts. Unsupported constructs ($ref, const, enum
// beyond plain values, allOf/anyOf/oneOf, numeric and string constraints)
// are folded into description hints, then the raw keywords are stripped.
// The pass order matters: hints must be generated while the constraints are
// still present. The input tree is not mutated.
func CleanStrict(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	node := deepCopy(schema).(map[string]any)

	walk(node, rewriteRefs)
	walk(node, constToEnum)
	walk(node, hintEnum)
	walk(node, hintAdditionalProperties)
	walk(node, hintConstraints)
	walk(node, mergeAllOf)
	walk(node, flattenUnions)
	walk(node, flattenTypeArray)
	walk(node, stripKeywords)
	walk(node, cleanRequired)
	walk(node, fillEmptyObject)
	return node
}

// walk applies fn to every schema node in the tree, parents before children.
// Only positions that hold schemas are visited: the node itself, each child
// of properties (whose keys are user-chosen property names, never keywords),
// items, and the elements of allOf/anyOf/oneOf.
func walk(node map[string]any, fn func(map[string]any)) {
	fn(node)
	if props, ok := node["properties"].(map[string]any); ok {
		for _, child := range props {
			if childMap, ok := child.(map[string]any); ok {
				walk(childMap, fn)
			}
		}
	}
	if items, ok := node["items"].(map[string]any); ok {
		walk(items, fn)
	}
	for _, key := range []string{"allOf", "anyOf", "oneOf"} {
		if list, ok := node[key].([]any); ok {
			for _, el := range list {
				if elMap, ok := el.(map[string]any); ok {
					walk(elMap, fn)
				}
			}
		}
	}
}

// rewriteRefs replaces any node carrying $ref with an object stub whose
// description points at the referenced name.
func rewriteRefs(node map[string]any) {
	ref, ok := node["$ref"].(string)
	if !ok {
		return
	}
	name := ref
	if idx := strings.LastIndex(ref, "/"); idx >= 0 {
		name = ref[idx+1:]
	}
	desc, _ := node["description"].(string)
	for k := range node {
		delete(node, k)
	}
	node["type"] = "object"
	node["description"] = appendHint(desc, "See: "+name)
}

func constToEnum(node map[string]any) {
	constVal, hasConst := node["const"]
	if !hasConst {
		return
	}
	if _, hasEnum := node["enum"]; !hasEnum {
		node["enum"] = []any{constVal}
	}
	delete(node, "const")
}

func hintEnum(node map[string]any) {
	enum, ok := node["enum"].([]any)
	if !ok || len(enum) < 2 || len(enum) > 10 {
		return
	}
	values := make([]string, 0, len(enum))
	for _, v := range enum {
		values = append(values, formatValue(v))
	}
	node["description"] = appendHint(descOf(node), "Allowed: "+strings.Join(values, ", "))
}

func hintAdditionalProperties(node map[string]any) {
	if ap, ok := node["additionalProperties"].(bool); ok && !ap {
		node["description"] = appendHint(descOf(node), "No extra properties allowed")
	}
}

func hintConstraints(node map[string]any) {
	for _, key := range hintedConstraints {
		v, ok := node[key]
		if !ok {
			continue
		}
		node["description"] = appendHint(descOf(node), fmt.Sprintf("%s: %s", key, formatValue(v)))
	}
}

// mergeAllOf shallow-merges allOf branches into the parent: properties are
// combined, required lists unioned, and any other branch key carried over
// only when the parent does not already define it.
func mergeAllOf(node map[string]any) {
	branches, ok := node["allOf"].([]any)
	if !ok {
		return
	}
	delete(node, "allOf")

	props, _ := node["properties"].(map[string]any)
	required := stringSlice(node["required"])
	seen := make(map[string]bool, len(required))
	for _, r := range required {
		seen[r] = true
	}

	for _, branch := range branches {
		branchMap, ok := branch.(map[string]any)
		if !ok {
			continue
		}
		if branchProps, ok := branchMap["properties"].(map[string]any); ok {
			if props == nil {
				props = make(map[string]any, len(branchProps))
			}
			for name, child := range branchProps {
				if _, exists := props[name]; !exists {
					props[name] = child
				}
			}
		}
		for _, r := range stringSlice(branchMap["required"]) {
			if !seen[r] {
				seen[r] = true
				required = append(required, r)
			}
		}
		for k, v := range branchMap {
			if k == "properties" || k == "required" {
				continue
			}
			if _, exists := node[k]; !exists {
				node[k] = v
			}
		}
	}

	if props != nil {
		node["properties"] = props
	}
	if len(required) > 0 {
		node["required"] = toAnySlice(required)
	}
}

// flattenUnions collapses anyOf/oneOf. Pure value unions become a single
// enum; mixed unions keep the most structured branch and note the rest in
// the description.
func flattenUnions(node map[string]any) {
	for _, key := range []string{"anyOf", "oneOf"} {
		options, ok := node[key].([]any)
		if !ok || len(options) == 0 {
			continue
		}
		delete(node, key)
		parentDesc := descOf(node)

		if allEnumOptions(options) {
			var values []any
			for _, opt := range options {
				optMap := opt.(map[string]any)
				if enum, ok := optMap["enum"].([]any); ok {
					values = append(values, enum...)
				} else if c, ok := optMap["const"]; ok {
					values = append(values, c)
				}
			}
			for k := range node {
				if k != "description" {
					delete(node, k)
				}
			}
			node["type"] = "string"
			node["enum"] = values
			if parentDesc != "" {
				node["description"] = parentDesc
			}
			return
		}

		best, types := pickComplexOption(options)
		if best == nil {
			return
		}
		flattenUnions(best)
		for k := range node {
			if k != "description" {
				delete(node, k)
			}
		}
		for k, v := range best {
			if k == "description" && parentDesc != "" {
				continue
			}
			node[k] = v
		}
		if parentDesc != "" {
			node["description"] = parentDesc
		}
		if len(types) > 1 {
			node["description"] = appendHint(descOf(node), "Accepts: "+strings.Join(types, " | "))
		}
		return
	}
}

func allEnumOptions(options []any) bool {
	for _, opt := range options {
		optMap, ok := opt.(map[string]any)
		if !ok {
			return false
		}
		_, hasEnum := optMap["enum"]
		_, hasConst := optMap["const"]
		if !hasEnum && !hasConst {
			return false
		}
	}
	return true
}

// pickComplexOption returns the structurally richest option and the ordered
// set of distinct types seen across all options.
func pickComplexOption(options []any) (map[string]any, []string) {
	var best map[string]any
	bestScore := -1
	var types []string
	seen := make(map[string]bool)

	for _, opt := range options {
		optMap, ok := opt.(map[string]any)
		if !ok {
			continue
		}
		t, _ := optMap["type"].(string)
		if t != "" && t != "null" && !seen[t] {
			seen[t] = true
			types = append(types, t)
		}
		score := complexityScore(t)
		if score > bestScore {
			bestScore = score
			best = optMap
		}
	}
	return best, types
}

func complexityScore(typeName string) int {
	switch typeName {
	case "object":
		return 3
	case "array":
		return 2
	case "null":
		return 0
	default:
		return 1
	}
}

// flattenTypeArray reduces a type list to its first non-null entry.
func flattenTypeArray(node map[string]any) {
	typeList, ok := node["type"].([]any)
	if !ok {
		return
	}
	var nonNull []string
	nullable := false
	for _, t := range typeList {
		name, _ := t.(string)
		if name == "null" {
			nullable = true
			continue
		}
		if name != "" {
			nonNull = append(nonNull, name)
		}
	}
	if len(nonNull) == 0 {
		node["type"] = "string"
	} else {
		node["type"] = nonNull[0]
	}
	if nullable {
		node["description"] = appendHint(descOf(node), "nullable")
	}
	if len(nonNull) > 1 {
		node["description"] = appendHint(descOf(node), "Accepts: "+strings.Join(nonNull, " | "))
	}
}

func stripKeywords(node map[string]any) {
	for k := range node {
		if strictStripKeys[k] {
			delete(node, k)
		}
	}
}

func cleanRequired(node map[string]any) {
	required := stringSlice(node["required"])
	if required == nil {
		return
	}
	props, _ := node["properties"].(map[string]any)
	var kept []string
	for _, name := range required {
		if _, ok := props[name]; ok {
			kept = append(kept, name)
		}
	}
	if len(kept) == 0 {
		delete(node, "required")
		return
	}
	node["required"] = toAnySlice(kept)
}

// fillEmptyObject injects a placeholder property into bare object schemas.
// The VALIDATED mode rejects objects with no properties at all.
func fillEmptyObject(node map[string]any) {
	if t, _ := node["type"].(string); t != "object" {
		return
	}
	if props, ok := node["properties"].(map[string]any); ok && len(props) > 0 {
		return
	}
	node["properties"] = map[string]any{
		"_placeholder": map[string]any{
			"type":        "boolean",
			"description": "Placeholder for empty schema",
		},
	}
	node["required"] = []any{"_placeholder"}
}

func descOf(node map[string]any) string {
	desc, _ := node["description"].(string)
	return desc
}

// appendHint parenthesizes a hint onto an existing description, or returns
// the bare hint when there is none.
func appendHint(desc, hint string) string {
	if desc == "" {
		return hint
	}
	return desc + " (" + hint + ")"
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		// Render integral floats without the trailing .0 JSON decoding adds.
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%v", val)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

func stringSlice(v any) []string {
	switch list := v.(type) {
	case []any:
		out := make([]string, 0, len(list))
		for _, el := range list {
			if s, ok := el.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return append([]string(nil), list...)
	default:
		return nil
	}
}

func toAnySlice(list []string) []any {
	out := make([]any, len(list))
	for i, s := range list {
		out[i] = s
	}
	return out
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = deepCopy(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = deepCopy(child)
		}
		return out
	default:
		return v
	}
}
