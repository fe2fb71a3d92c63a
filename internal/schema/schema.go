// Package schema implements the DSL Schema & Validator (C4): the JSON
// Schema every ActionPlan must satisfy, plus the additional semantic and
// selector-safety checks the schema alone can't express.
package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/corepilot/corepilot/internal/model"
)

// actionPlanSchema is the JSON Schema backing ActionPlan validation,
// grounded on spec.md §4.4's field requirements.
const actionPlanSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["meta", "steps"],
  "properties": {
    "meta": {
      "type": "object",
      "required": ["testId", "baseUrl"],
      "properties": {
        "testId": {"type": "string", "minLength": 1},
        "baseUrl": {"type": "string", "minLength": 1},
        "dataSource": {"type": "string"}
      }
    },
    "steps": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["t"],
        "properties": {
          "t": {"type": "string", "enum": ["goto", "fill", "click", "assert"]},
          "selector": {"type": "string"},
          "url": {"type": "string"},
          "value": {"type": ["string", "number"]},
          "kind": {
            "type": "string",
            "enum": ["visible", "invisible", "text_contains", "text_equals", "text_regex", "count_equals", "count_at_least"]
          }
        },
        "allOf": [
          {
            "if": {"properties": {"t": {"const": "goto"}}},
            "then": {"required": ["url"]}
          },
          {
            "if": {"properties": {"t": {"const": "fill"}}},
            "then": {"required": ["selector", "value"]}
          },
          {
            "if": {"properties": {"t": {"const": "click"}}},
            "then": {"required": ["selector"]}
          },
          {
            "if": {"properties": {"t": {"const": "assert"}}},
            "then": {"required": ["selector", "kind"]}
          }
        ]
      }
    }
  }
}`

var compiledSchema = gojsonschema.NewStringLoader(actionPlanSchema)

// ValidationError is one (json_pointer, message) violation.
type ValidationError struct {
	Pointer string
	Message string
}

func (e ValidationError) String() string {
	return fmt.Sprintf("%s: %s", e.Pointer, e.Message)
}

// disallowedSelectorFragments names selector substrings the schema
// rejects because Playwright CSS doesn't support jQuery-style :contains
// or XPath-style predicates.
var disallowedSelectorFragments = []string{":contains", "::", "contains(", "[text()"}

// Validate checks plan against the ActionPlan schema and the additional
// semantic rules spec.md §4.4 names (count_* value must be a
// non-negative integer, no disallowed selector fragments). It returns
// every violation found, each as a (json_pointer, message) pair.
func Validate(plan *model.ActionPlan) ([]ValidationError, error) {
	data, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("marshal plan for validation: %w", err)
	}
	return ValidateJSON(data)
}

// LoadCustomSchema reads a JSON Schema file from disk to replace the
// built-in schema, for the CLI's --schema override flag.
func LoadCustomSchema(path string) (gojsonschema.JSONLoader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read custom schema: %w", err)
	}
	return gojsonschema.NewBytesLoader(data), nil
}

// ValidateJSON validates a raw ActionPlan document (e.g. straight off the
// LLM, before it's been decoded into model.ActionPlan) and is the entry
// point the Plan Compiler's repair loop uses.
func ValidateJSON(data []byte) ([]ValidationError, error) {
	return ValidateJSONAgainst(data, compiledSchema)
}

// ValidateJSONAgainst validates data against an explicit schema loader
// (the built-in one, or one loaded via LoadCustomSchema), plus the same
// semantic checks ValidateJSON always applies.
func ValidateJSONAgainst(data []byte, loader gojsonschema.JSONLoader) ([]ValidationError, error) {
	documentLoader := gojsonschema.NewBytesLoader(data)
	result, err := gojsonschema.Validate(loader, documentLoader)
	if err != nil {
		return nil, fmt.Errorf("schema validation failed to run: %w", err)
	}

	var errs []ValidationError
	for _, re := range result.Errors() {
		errs = append(errs, ValidationError{
			Pointer: "/" + strings.ReplaceAll(re.Field(), ".", "/"),
			Message: re.Description(),
		})
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err == nil {
		errs = append(errs, semanticErrors(doc)...)
	}

	return errs, nil
}

// semanticErrors covers the checks the JSON Schema draft this project
// targets can't express directly: count_* values must parse as
// non-negative integers, and selectors must not carry a disallowed
// fragment.
func semanticErrors(doc map[string]any) []ValidationError {
	var errs []ValidationError

	stepsRaw, _ := doc["steps"].([]any)
	for i, s := range stepsRaw {
		step, ok := s.(map[string]any)
		if !ok {
			continue
		}
		pointer := fmt.Sprintf("/steps/%d", i)
		t, _ := step["t"].(string)

		if selector, ok := step["selector"].(string); ok {
			for _, frag := range disallowedSelectorFragments {
				if strings.Contains(selector, frag) {
					errs = append(errs, ValidationError{
						Pointer: pointer + "/selector",
						Message: fmt.Sprintf("selector contains disallowed fragment %q", frag),
					})
				}
			}
		}

		if t == "assert" {
			kind, _ := step["kind"].(string)
			if strings.HasPrefix(kind, "text_") {
				if _, hasValue := step["value"]; !hasValue {
					errs = append(errs, ValidationError{
						Pointer: pointer + "/value",
						Message: fmt.Sprintf("assert kind %q requires a value", kind),
					})
				}
			}
			if strings.HasPrefix(kind, "count_") {
				if !isNonNegativeInteger(step["value"]) {
					errs = append(errs, ValidationError{
						Pointer: pointer + "/value",
						Message: fmt.Sprintf("assert kind %q requires a non-negative integer value", kind),
					})
				}
			}
		}
	}

	return errs
}

func isNonNegativeInteger(v any) bool {
	switch val := v.(type) {
	case float64:
		return val >= 0 && val == float64(int64(val))
	case string:
		n, err := strconv.Atoi(val)
		return err == nil && n >= 0
	default:
		return false
	}
}
