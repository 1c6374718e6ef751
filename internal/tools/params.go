package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// ValidateArgs checks a JSON argument object against a JSON-Schema-like
// object schema: required keys, property types, array items and
// additionalProperties:false. Keywords it does not know are ignored.
func ValidateArgs(schema map[string]interface{}, args json.RawMessage) error {
	var value interface{}
	if err := json.Unmarshal(args, &value); err != nil {
		return NewToolErrorf(ErrInvalidParams, "arguments are not valid JSON: %v", err)
	}
	if schema == nil {
		return nil
	}
	if problems := validateValue("", schema, value); len(problems) > 0 {
		return NewToolError(ErrInvalidParams, strings.Join(problems, "; "))
	}
	return nil
}

func validateValue(path string, schema map[string]interface{}, value interface{}) []string {
	typ, _ := schema["type"].(string)
	if typ != "" && !matchesType(typ, value) {
		return []string{fmt.Sprintf("%s: expected %s, got %s", displayPath(path), typ, jsonType(value))}
	}

	var problems []string
	switch v := value.(type) {
	case map[string]interface{}:
		props, _ := schema["properties"].(map[string]interface{})
		for _, key := range schemaRequired(schema) {
			if _, ok := v[key]; !ok {
				problems = append(problems, fmt.Sprintf("%s: missing required property %q", displayPath(path), key))
			}
		}
		if closed, ok := schema["additionalProperties"].(bool); ok && !closed {
			var unknown []string
			for key := range v {
				if _, known := props[key]; !known {
					unknown = append(unknown, key)
				}
			}
			sort.Strings(unknown)
			for _, key := range unknown {
				problems = append(problems, fmt.Sprintf("%s: unknown property %q", displayPath(path), key))
			}
		}
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			propSchema, ok := props[key].(map[string]interface{})
			if !ok {
				continue
			}
			problems = append(problems, validateValue(joinPath(path, key), propSchema, v[key])...)
		}
	case []interface{}:
		items, ok := schema["items"].(map[string]interface{})
		if !ok {
			break
		}
		for i, item := range v {
			problems = append(problems, validateValue(fmt.Sprintf("%s[%d]", path, i), items, item)...)
		}
	}
	return problems
}

func matchesType(typ string, value interface{}) bool {
	switch typ {
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	case "array":
		_, ok := value.([]interface{})
		return ok
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "number":
		_, ok := value.(float64)
		return ok
	case "integer":
		f, ok := value.(float64)
		return ok && f == math.Trunc(f)
	case "null":
		return value == nil
	}
	return true
}

func jsonType(value interface{}) string {
	switch value.(type) {
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case nil:
		return "null"
	}
	return fmt.Sprintf("%T", value)
}

func schemaRequired(schema map[string]interface{}) []string {
	switch v := schema["required"].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func displayPath(path string) string {
	if path == "" {
		return "arguments"
	}
	return path
}
