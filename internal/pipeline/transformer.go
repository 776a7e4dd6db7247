// Package pipeline contains the dispatch core and its streaming adapters.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-notify-service/pkg/dispatch"
)

// DecodeDispatchRequest decodes a dispatch request, keeping numeric payload
// values in their literal form.
func DecodeDispatchRequest(raw []byte) (*dispatch.DispatchRequest, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var req dispatch.DispatchRequest
	if err := dec.Decode(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

// DispatchRequestTransformer is a dataflow Transformer that unmarshals a raw
// message payload into a dispatch.DispatchRequest.
func DispatchRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*dispatch.DispatchRequest, bool, error) {
	req, err := DecodeDispatchRequest(msg.Payload)
	if err != nil {
		// skip=true lets the StreamingService route the message to the DLQ.
		return nil, true, fmt.Errorf("failed to unmarshal dispatch request from message %s: %w", msg.ID, err)
	}
	return req, false, nil
}
