// Package schema validates step input payloads against the JSON Schema a
// plugin attaches to one of its actions.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidateAgainst checks input against schemaDoc, a JSON Schema document. A
// nil or empty schemaDoc always passes.
func ValidateAgainst(schemaDoc json.RawMessage, input interface{}) error {
	if len(schemaDoc) == 0 {
		return nil
	}

	schemaLoader := gojsonschema.NewBytesLoader(schemaDoc)

	raw, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("marshal input for schema validation: %w", err)
	}
	docLoader := gojsonschema.NewBytesLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("invalid json schema: %w", err)
	}
	if result.Valid() {
		return nil
	}

	messages := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		messages = append(messages, e.String())
	}
	return fmt.Errorf("input failed schema validation: %s", strings.Join(messages, "; "))
}
