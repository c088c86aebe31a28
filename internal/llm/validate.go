package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	flyerSchemaOnce sync.Once
	flyerSchema     *jsonschema.Schema
	flyerSchemaErr  error
)

// CompileSchema compiles schemaMap with the jsonschema/v5 compiler.
func CompileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// ValidateFlyerJSON validates data against the flyer schema, compiled once.
func ValidateFlyerJSON(data []byte) error {
	flyerSchemaOnce.Do(func() {
		flyerSchema, flyerSchemaErr = CompileSchema(BuildFlyerJSONSchema())
	})
	if flyerSchemaErr != nil {
		return flyerSchemaErr
	}
	return validateWith(flyerSchema, data)
}

func validateWith(schema *jsonschema.Schema, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
