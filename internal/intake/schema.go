// Copyright 2025 James Ross
//
// Request validation for component F, using xeipuuv/gojsonschema the same
// way internal/json-payload-studio validates arbitrary JSON documents
// against a loaded schema, applied here to one fixed request shape instead
// of user-supplied schemas.
package intake

import (
	"fmt"
	"os"

	"github.com/xeipuuv/gojsonschema"
)

// Validator checks POST /v1/authorize bodies against schema.json.
type Validator struct {
	schema *gojsonschema.Schema
}

func NewValidator(schemaPath string) (*Validator, error) {
	raw, err := os.ReadFile(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate returns a human-readable list of violations, empty when body is
// valid against the schema.
func (v *Validator) Validate(body []byte) ([]string, error) {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, fmt.Errorf("validate request body: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}
	violations := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		violations = append(violations, e.String())
	}
	return violations, nil
}
