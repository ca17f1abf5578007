// Package template provides variable substitution into command payloads
// and field extraction from JSON event payloads.
package template

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"refinery"
)

// varPattern matches ${var} and ${env:VAR} placeholders.
var varPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Substitute replaces ${var} and ${env:VAR} placeholders in text with the
// bindings of the given store. Returns all errors joined if multiple
// variables are missing. If text contains no placeholders, it is returned
// unchanged (fast path).
func Substitute(text string, vars *refinery.Variables) (string, error) {
	// Fast path: no variables to substitute
	if !strings.Contains(text, "${") {
		return text, nil
	}

	var errs []error
	result := varPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := match[2 : len(match)-1] // Extract content between ${ and }

		// Handle environment variables
		if strings.HasPrefix(name, "env:") {
			envName := name[4:]
			if val, ok := os.LookupEnv(envName); ok {
				return val
			}
			errs = append(errs, fmt.Errorf("env var %q not set", envName))
			return match
		}

		if vars != nil {
			if val, err := vars.Get(name); err == nil {
				return val.String()
			}
		}
		errs = append(errs, fmt.Errorf("variable %q not found", name))
		return match
	})

	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return result, nil
}
