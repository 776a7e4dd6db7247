// Package apns provides the client for the Apple Push Notification Service.
package apns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"github.com/tinywideclouds/go-notify-service/pkg/dispatch"
)

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

type Dispatcher struct {
	client APNSClient
	topic  string // The App Bundle ID (e.g. com.tinywide.messenger)
	logger *slog.Logger
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file
	P8KeyContent string
	Production   bool
}

// NewDispatcher creates a configured APNS dispatcher.
// It parses the P8 key immediately to fail fast on startup if credentials are bad.
func NewDispatcher(cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	tokenSource := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	client := apns2.NewTokenClient(tokenSource).Development()
	if cfg.Production {
		client = client.Production()
	}

	return NewDispatcherWithClient(client, cfg.BundleID, logger), nil
}

// NewDispatcherWithClient wires an existing client, mainly for tests.
func NewDispatcherWithClient(client APNSClient, topic string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		topic:  topic,
		logger: logger.With("component", "APNSDispatcher"),
	}
}

// Deliver sends one notification to one device.
// APNs authenticates with its own signed token, so the bearer credential is unused here.
func (d *Dispatcher) Deliver(ctx context.Context, tok dispatch.DeliveryToken, msg dispatch.Message, _ dispatch.BearerCredential) dispatch.DeliveryOutcome {
	outcome := dispatch.DeliveryOutcome{Token: tok.Token}

	builder := payload.NewPayload().
		AlertTitle(msg.Title).
		AlertBody(msg.Body).
		Sound("default")
	for k, v := range msg.Data {
		builder.Custom(k, v)
	}

	n := &apns2.Notification{
		DeviceToken: tok.Token,
		Topic:       d.topic,
		Payload:     builder,
		Priority:    apns2.PriorityHigh,
	}

	res, err := d.client.PushWithContext(ctx, n)
	if err != nil {
		d.logger.Error("APNs transport failed", "token", dispatch.ShortToken(tok.Token), "err", err)
		outcome.Error = (&dispatch.DeliveryError{Token: tok.Token, Err: err}).Error()
		return outcome
	}

	outcome.ProviderResponse = responseJSON(res)
	if res.Sent() {
		outcome.Success = true
		return outcome
	}

	switch res.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		d.logger.Info("APNs reports dead token", "token", dispatch.ShortToken(tok.Token), "reason", res.Reason)
	default:
		d.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
	}
	outcome.Error = (&dispatch.DeliveryError{
		Token:      tok.Token,
		StatusCode: res.StatusCode,
		Err:        errors.New(res.Reason),
	}).Error()
	return outcome
}

func responseJSON(res *apns2.Response) json.RawMessage {
	raw, err := json.Marshal(map[string]any{
		"status":  res.StatusCode,
		"apns_id": res.ApnsID,
		"reason":  res.Reason,
	})
	if err != nil {
		return nil
	}
	return raw
}
