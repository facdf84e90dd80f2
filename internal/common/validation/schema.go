// Package validation checks publish payloads against per-event-type JSON
// schemas before they are admitted to the queue.
package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// payloadSchemas maps an event type to the schema its payload must satisfy.
// Event types without an entry accept any object payload.
var payloadSchemas = map[string]map[string]interface{}{
	"message-received": {
		"type": "object",
		"properties": map[string]interface{}{
			"messages": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"content":   map[string]interface{}{"type": "string"},
						"direction": map[string]interface{}{"type": "string"},
						"sentAt":    map[string]interface{}{"type": "string"},
					},
					"required": []interface{}{"content"},
				},
			},
		},
		"required": []interface{}{"messages"},
	},
	"match-request": {
		"type": "object",
		"properties": map[string]interface{}{
			"preferences": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"locations": map[string]interface{}{
						"type":  "array",
						"items": map[string]interface{}{"type": "string"},
					},
					"priceMin": map[string]interface{}{"type": "integer", "minimum": 0},
					"priceMax": map[string]interface{}{"type": "integer", "minimum": 0},
					"bedrooms": map[string]interface{}{"type": "integer", "minimum": 0},
				},
			},
			"maxResults": map[string]interface{}{"type": "integer", "minimum": 1},
		},
	},
}

// ValidatePayload validates an event payload against the schema registered
// for its event type. A nil payload is allowed for schema-less event types.
func ValidatePayload(eventType string, payload map[string]interface{}) error {
	schemaMap, ok := payloadSchemas[eventType]
	if !ok {
		return nil
	}
	if payload == nil {
		return fmt.Errorf("payload required for event type %q", eventType)
	}

	schemaLoader := gojsonschema.NewGoLoader(schemaMap)
	documentLoader := gojsonschema.NewGoLoader(payload)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("payload validation failed: %s", strings.Join(msgs, "; "))
	}

	return nil
}
