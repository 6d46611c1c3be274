package secretdict

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// shapeSchema checks value types only. Required fields are checked by
// Validate so the error names the first missing key in a fixed order.
const shapeSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "host":      {"type": "string"},
    "username":  {"type": "string"},
    "password":  {"type": "string"},
    "engine":    {"type": "string"},
    "dbname":    {"type": "string"},
    "masterarn": {"type": "string"},
    "port": {
      "anyOf": [
        {"type": "integer", "minimum": 1, "maximum": 65535},
        {"type": "string", "pattern": "^[0-9]{1,5}$"}
      ]
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func loadSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(shapeSchema))
	})
	return schema, schemaErr
}

// checkShape validates raw against shapeSchema and returns a readable summary
// of every violation.
func checkShape(raw []byte) error {
	s, err := loadSchema()
	if err != nil {
		return fmt.Errorf("compile secret schema: %w", err)
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("secret is not valid JSON: %w", err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", re.Field(), re.Description()))
	}
	return fmt.Errorf("secret JSON has unexpected shape: %s", strings.Join(problems, "; "))
}
