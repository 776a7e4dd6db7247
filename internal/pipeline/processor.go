package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-notify-service/pkg/dispatch"
)

// RequestDispatcher is the part of Dispatcher the stream processor needs.
type RequestDispatcher interface {
	Dispatch(ctx context.Context, req *dispatch.DispatchRequest) (dispatch.DispatchResult, error)
}

// NewProcessor adapts a dispatcher to the streaming pipeline. Fatal dispatch
// errors are returned so the message is nacked and redelivered.
func NewProcessor(
	dispatcher RequestDispatcher,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[dispatch.DispatchRequest] {

	return func(ctx context.Context, original messagepipeline.Message, request *dispatch.DispatchRequest) error {
		procLogger := logger.With(
			"event_type", request.EventTypeOrDefault(),
			"pubsub_msg_id", original.ID,
		)

		result, err := dispatcher.Dispatch(ctx, request)
		if err != nil {
			procLogger.Error("Dispatch failed", "err", err)
			return err
		}

		procLogger.Info("Dispatched", "sent", result.Sent, "failed", result.Failed)
		return nil
	}
}
