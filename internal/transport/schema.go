package transport

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Client frames are validated against compiled schemas before
// dispatch, so handlers only see well-formed input. Validation errors
// produce an error frame; the connection stays open.

type frameSchemaRegistry struct {
	once    sync.Once
	initErr error
	byType  map[string]*jsonschema.Schema
}

var frameSchemas frameSchemaRegistry

func initFrameSchemas() error {
	frameSchemas.once.Do(func() {
		types := map[string]string{
			"subscribe":   subscribeFrameSchema,
			"unsubscribe": unsubscribeFrameSchema,
		}
		frameSchemas.byType = make(map[string]*jsonschema.Schema, len(types))
		for name, schema := range types {
			compiled, err := jsonschema.CompileString("ws_frame_"+name, schema)
			if err != nil {
				frameSchemas.initErr = err
				return
			}
			frameSchemas.byType[name] = compiled
		}
	})
	return frameSchemas.initErr
}

// decodeClientFrame parses and validates one inbound frame.
func decodeClientFrame(raw []byte) (*clientFrame, error) {
	if err := initFrameSchemas(); err != nil {
		return nil, err
	}

	var frame clientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	schema, ok := frameSchemas.byType[frame.Type]
	if !ok {
		return nil, fmt.Errorf("unknown frame type %q", frame.Type)
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	if err := schema.Validate(payload); err != nil {
		return nil, err
	}
	return &frame, nil
}

const subscribeFrameSchema = `{
  "type": "object",
  "required": ["type", "sessionId"],
  "properties": {
    "type": { "const": "subscribe" },
    "sessionId": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": false
}`

const unsubscribeFrameSchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": { "const": "unsubscribe" }
  },
  "additionalProperties": false
}`
