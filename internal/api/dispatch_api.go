package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"github.com/tinywideclouds/go-notify-service/internal/pipeline"
	"github.com/tinywideclouds/go-notify-service/pkg/dispatch"
)

const maxDispatchBody = 1 << 20

// Dispatcher runs a dispatch request to completion.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *dispatch.DispatchRequest) (dispatch.DispatchResult, error)
}

type DispatchAPI struct {
	Dispatcher Dispatcher
	Logger     *slog.Logger
}

func NewDispatchAPI(dispatcher Dispatcher, logger *slog.Logger) *DispatchAPI {
	return &DispatchAPI{
		Dispatcher: dispatcher,
		Logger:     logger.With("component", "DispatchAPI"),
	}
}

type DispatchResponse struct {
	Success bool   `json:"success"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
	Message string `json:"message,omitempty"`
}

// Notify handles POST /api/v1/notify.
func (api *DispatchAPI) Notify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDispatchBody))
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	req, err := pipeline.DecodeDispatchRequest(body)
	if err != nil {
		api.Logger.Warn("Notify: JSON Decode failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	result, err := api.Dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		api.Logger.Error("Notify: dispatch failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := DispatchResponse{Success: true, Sent: result.Sent, Failed: result.Failed}
	if result.Sent+result.Failed == 0 {
		resp.Message = "No active tokens found for the given recipients"
	}

	response.WriteJSON(w, http.StatusOK, resp)
}
