package template

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"refinery"
)

// Extract pulls typed values out of a JSON event payload using JSONPath
// expressions and binds them into the variable store. Paths use JSONPath
// syntax ($.foo.bar) which is converted to gjson format.
// Array access: $.items[0].id -> items.0.id
// JSON booleans, numbers, and strings map to the matching variable types;
// other JSON shapes are rejected. Returns all errors joined if multiple
// extractions fail.
func Extract(payload []byte, rules map[string]string, vars *refinery.Variables) error {
	if len(rules) == 0 {
		return nil
	}
	if !gjson.ValidBytes(payload) {
		return fmt.Errorf("invalid JSON in event payload")
	}

	var errs []error
	for varName, jsonPath := range rules {
		path := convertJSONPath(jsonPath)
		value := gjson.GetBytes(payload, path)

		if !value.Exists() {
			errs = append(errs, fmt.Errorf("path %q not found for variable %q", jsonPath, varName))
			continue
		}

		v, err := toValue(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("path %q for variable %q: %w", jsonPath, varName, err))
			continue
		}
		if err := vars.Set(varName, v); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func toValue(r gjson.Result) (refinery.Value, error) {
	switch r.Type {
	case gjson.True, gjson.False:
		return refinery.BoolValue(r.Bool()), nil
	case gjson.Number:
		return refinery.IntValue(r.Int()), nil
	case gjson.String:
		return refinery.StringValue(r.String()), nil
	default:
		return refinery.Value{}, fmt.Errorf("unsupported JSON value %s", r.Type)
	}
}

// convertJSONPath converts JSONPath syntax to gjson path format.
// $.foo.bar -> foo.bar
// $.items[0].id -> items.0.id
// $.data[*].name -> data.#.name
func convertJSONPath(path string) string {
	// Remove leading $. or $
	if strings.HasPrefix(path, "$.") {
		path = path[2:]
	} else if strings.HasPrefix(path, "$") {
		path = path[1:]
	}

	// Convert array access [n] to .n
	// Convert [*] to .#
	var result strings.Builder
	i := 0
	for i < len(path) {
		if path[i] == '[' {
			// Find closing bracket
			j := i + 1
			for j < len(path) && path[j] != ']' {
				j++
			}
			if j < len(path) {
				content := path[i+1 : j]
				if content == "*" {
					result.WriteString(".#")
				} else {
					result.WriteByte('.')
					result.WriteString(content)
				}
				i = j + 1
				continue
			}
		}
		result.WriteByte(path[i])
		i++
	}

	return result.String()
}
