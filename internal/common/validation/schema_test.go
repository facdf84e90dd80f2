package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePayload(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		payload   map[string]interface{}
		wantErr   bool
	}{
		{
			name:      "schema-less type accepts nil payload",
			eventType: "lead-created",
			payload:   nil,
			wantErr:   false,
		},
		{
			name:      "schema-less type accepts anything",
			eventType: "score-refresh",
			payload:   map[string]interface{}{"whatever": []interface{}{1, 2}},
			wantErr:   false,
		},
		{
			name:      "valid message payload",
			eventType: "message-received",
			payload: map[string]interface{}{
				"messages": []interface{}{
					map[string]interface{}{"content": "hi", "direction": "inbound"},
				},
			},
			wantErr: false,
		},
		{
			name:      "message payload missing messages",
			eventType: "message-received",
			payload:   map[string]interface{}{"text": "hi"},
			wantErr:   true,
		},
		{
			name:      "message entry missing content",
			eventType: "message-received",
			payload: map[string]interface{}{
				"messages": []interface{}{
					map[string]interface{}{"direction": "inbound"},
				},
			},
			wantErr: true,
		},
		{
			name:      "schema-bound type rejects nil payload",
			eventType: "message-received",
			payload:   nil,
			wantErr:   true,
		},
		{
			name:      "valid match request",
			eventType: "match-request",
			payload: map[string]interface{}{
				"preferences": map[string]interface{}{
					"locations": []interface{}{"downtown"},
					"priceMin":  200000,
					"priceMax":  400000,
				},
				"maxResults": 5,
			},
			wantErr: false,
		},
		{
			name:      "match request with negative price",
			eventType: "match-request",
			payload: map[string]interface{}{
				"preferences": map[string]interface{}{"priceMin": -1},
			},
			wantErr: true,
		},
		{
			name:      "match request with zero max results",
			eventType: "match-request",
			payload:   map[string]interface{}{"maxResults": 0},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePayload(tt.eventType, tt.payload)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
