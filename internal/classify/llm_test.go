package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResult(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr string
		check   func(t *testing.T, r *Result)
	}{
		{
			name: "plain json",
			raw:  `{"message_type": "new_listing", "confidence": 0.93, "extracted_fields": {"address": "42 Main St", "listing_type": "SALE"}}`,
			check: func(t *testing.T, r *Result) {
				assert.Equal(t, TypeNewListing, r.MessageType)
				assert.Equal(t, 0.93, r.Confidence)
				assert.Equal(t, "42 Main St", r.ExtractedFields.String("address"))
			},
		},
		{
			name: "fenced json",
			raw:  "```json\n{\"message_type\": \"ignore\", \"confidence\": 0.5}\n```",
			check: func(t *testing.T, r *Result) {
				assert.Equal(t, TypeIgnore, r.MessageType)
				assert.NotNil(t, r.ExtractedFields)
				assert.Empty(t, r.ExtractedFields)
			},
		},
		{
			name: "bare fence",
			raw:  "```\n{\"message_type\": \"question\", \"confidence\": 1}\n```",
			check: func(t *testing.T, r *Result) {
				assert.Equal(t, TypeQuestion, r.MessageType)
				assert.Equal(t, 1.0, r.Confidence)
			},
		},
		{
			name:    "not json",
			raw:     "I think this is a listing.",
			wantErr: "malformed classifier response",
		},
		{
			name:    "unknown type",
			raw:     `{"message_type": "gossip", "confidence": 0.9}`,
			wantErr: "unknown message type",
		},
		{
			name:    "confidence above one",
			raw:     `{"message_type": "question", "confidence": 1.2}`,
			wantErr: "out of range",
		},
		{
			name:    "negative confidence",
			raw:     `{"message_type": "question", "confidence": -0.1}`,
			wantErr: "out of range",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseResult(tt.raw)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, got)
		})
	}
}
