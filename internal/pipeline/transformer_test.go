package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-notify-service/internal/pipeline"
)

func TestDispatchRequestTransformer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	testCases := []struct {
		name                  string
		inputMessage          *messagepipeline.Message
		expectError           bool
		expectedErrorContains string
	}{
		{
			name: "Happy Path - Valid Request",
			inputMessage: &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{
					ID:      "msg-1",
					Payload: []byte(`{"title":"Hi","body":"There","data":{"count":12345678901234567890},"recipient_roles":["admin"]}`),
				},
			},
			expectError: false,
		},
		{
			name: "Failure - Malformed JSON",
			inputMessage: &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "msg-2", Payload: []byte("not-json")},
			},
			expectError:           true,
			expectedErrorContains: "failed to unmarshal dispatch request",
		},
		{
			name: "Failure - Wrong Field Type",
			inputMessage: &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "msg-3", Payload: []byte(`{"recipient_roles":"admin"}`)},
			},
			expectError:           true,
			expectedErrorContains: "msg-3",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, skip, err := pipeline.DispatchRequestTransformer(ctx, tc.inputMessage)

			if tc.expectError {
				require.Error(t, err)
				assert.True(t, skip)
				assert.Nil(t, result)
				assert.Contains(t, err.Error(), tc.expectedErrorContains)
				return
			}

			require.NoError(t, err)
			assert.False(t, skip)
			require.NotNil(t, result)
			assert.Equal(t, "Hi", result.Title)
			assert.Equal(t, []string{"admin"}, result.Roles())
			assert.Equal(t, "12345678901234567890", result.StringData()["count"])
		})
	}
}
