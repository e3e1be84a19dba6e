// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package config

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// schemaCache holds the compiled schema to avoid recompilation.
var schemaCache *jschema.Schema

// GenerateSchema generates a JSON Schema from the Config struct.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := r.Reflect(&Config{})

	schema.ID = jsonschema.ID("https://github.com/gatehouse/gatehouse/schemas/config.schema.json")
	schema.Title = "Gatehouse Configuration"
	schema.Description = "Schema for gatehouse.yaml configuration files"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}

// ValidateFile validates YAML config data against the JSON Schema.
func ValidateFile(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("config data is empty")
	}

	var yamlData any
	if err := yaml.Unmarshal(data, &yamlData); err != nil {
		return fmt.Errorf("invalid YAML: %w", err)
	}

	jsonData := convertToJSONTypes(yamlData)

	sch, err := getCompiledSchema()
	if err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}

	if err := sch.Validate(jsonData); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	return nil
}

// getCompiledSchema returns the cached compiled schema or compiles it.
func getCompiledSchema() (*jschema.Schema, error) {
	if schemaCache != nil {
		return schemaCache, nil
	}

	schemaBytes, err := GenerateSchema()
	if err != nil {
		return nil, err
	}

	var schemaData any
	if err := json.Unmarshal(schemaBytes, &schemaData); err != nil {
		return nil, fmt.Errorf("failed to parse schema JSON: %w", err)
	}

	c := jschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaData); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	sch, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	schemaCache = sch
	return sch, nil
}

// convertToJSONTypes converts YAML-parsed data to JSON-compatible
// types, recursing through maps and sequences.
func convertToJSONTypes(v any) any {
	switch val := v.(type) {
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, item := range val {
			result[k] = convertToJSONTypes(item)
		}
		return result
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = convertToJSONTypes(item)
		}
		return result
	default:
		return val
	}
}
