package api

import (
	"encoding/json"
	"net/http"

	"log/slog"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"github.com/tinywideclouds/go-notify-service/pkg/dispatch"
)

type TokenAPI struct {
	Store  dispatch.TokenRegistry
	Logger *slog.Logger
}

func NewTokenAPI(store dispatch.TokenRegistry, logger *slog.Logger) *TokenAPI {
	return &TokenAPI{
		Store:  store,
		Logger: logger,
	}
}

type RegisterTokenRequest struct {
	Token string `json:"token"`
}

// --- DOOR A: Android (FCM) ---

func (api *TokenAPI) RegisterFCM(w http.ResponseWriter, r *http.Request) {
	api.register(w, r, dispatch.PlatformFCM)
}

// --- DOOR B: iOS (APNs) ---

func (api *TokenAPI) RegisterAPNS(w http.ResponseWriter, r *http.Request) {
	api.register(w, r, dispatch.PlatformAPNS)
}

func (api *TokenAPI) register(w http.ResponseWriter, r *http.Request, platform string) {
	ctx := r.Context()
	userID, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req RegisterTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if req.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	token := dispatch.DeliveryToken{
		Token:       req.Token,
		OwnerUserID: userID,
		Platform:    platform,
	}
	if err := api.Store.RegisterToken(ctx, token); err != nil {
		api.Logger.Error("failed to register token", "platform", platform, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Info("Token registered", "user", userID, "platform", platform, "token", dispatch.ShortToken(req.Token))

	w.WriteHeader(http.StatusNoContent)
}

// UnregisterFCM deactivates a token of any platform; tokens are unique across platforms.
func (api *TokenAPI) UnregisterFCM(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req RegisterTokenRequest // We can reuse the struct since it just holds "token"
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := api.Store.UnregisterToken(ctx, userID, req.Token); err != nil {
		// Log but don't fail hard; idempotency is preferred for unregister
		api.Logger.Warn("failed to unregister token", "err", err)
	}

	w.WriteHeader(http.StatusNoContent)
}
