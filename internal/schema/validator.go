// Package schema validates adapter configuration documents before they are
// decoded, so definition typos fail with a path into the document instead
// of a zero-valued struct field.
package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed config.schema.json
var configSchema string

var (
	compiled    *jsonschema.Schema
	compileErr  error
	compileOnce sync.Once
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft7
		if err := compiler.AddResource("config.schema.json", strings.NewReader(configSchema)); err != nil {
			compileErr = err
			return
		}
		compiled, compileErr = compiler.Compile("config.schema.json")
	})
	return compiled, compileErr
}

// Validate checks a YAML configuration document against the embedded
// schema.
func Validate(doc []byte) error {
	sch, err := schema()
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	var raw any
	if err := yaml.Unmarshal(doc, &raw); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	// Round-trip through JSON so the instance uses the value types the
	// validator understands.
	jsonBytes, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("convert config: %w", err)
	}
	var instance any
	if err := json.Unmarshal(jsonBytes, &instance); err != nil {
		return fmt.Errorf("convert config: %w", err)
	}

	if err := sch.Validate(instance); err != nil {
		return fmt.Errorf("config does not match schema: %w", err)
	}
	return nil
}
