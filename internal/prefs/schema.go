package prefs

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type schemaRegistry struct {
	once    sync.Once
	initErr error
	schema  *jsonschema.Schema
}

var prefSchemas schemaRegistry

func initPrefSchema() error {
	prefSchemas.once.Do(func() {
		compiled, err := jsonschema.CompileString("preferences", preferencesSchema)
		if err != nil {
			prefSchemas.initErr = err
			return
		}
		prefSchemas.schema = compiled
	})
	return prefSchemas.initErr
}

// ValidatePayload checks a raw PUT body against the preferences schema
// before it is decoded and persisted.
func ValidatePayload(raw []byte) error {
	if err := initPrefSchema(); err != nil {
		return err
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return prefSchemas.schema.Validate(payload)
}

const preferencesSchema = `{
  "type": "object",
  "required": ["projects"],
  "properties": {
    "projects": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["title", "projectDirs"],
        "properties": {
          "title": { "type": "string", "minLength": 1 },
          "projectDirs": {
            "type": "array",
            "items": { "type": "string", "minLength": 1 }
          }
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`
