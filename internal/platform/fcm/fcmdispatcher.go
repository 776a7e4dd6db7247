// Package fcm delivers messages through the Firebase Cloud Messaging HTTP v1 API.
package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-notify-service/pkg/dispatch"
)

const (
	// DefaultBaseURL is the FCM v1 API host.
	DefaultBaseURL = "https://fcm.googleapis.com"
	// DefaultChannelID is the Android channel notifications are routed to.
	DefaultChannelID = "scm_notifications"

	androidPriorityHigh = "high"
)

// Config holds the per-project delivery settings.
type Config struct {
	ProjectID      string
	BaseURL        string
	ChannelID      string
	// OnUnauthorized runs when FCM rejects the bearer credential.
	OnUnauthorized func(ctx context.Context)
}

type Dispatcher struct {
	endpoint       string
	channelID      string
	onUnauthorized func(ctx context.Context)
	httpClient     *http.Client
	logger         *slog.Logger
}

// NewDispatcher builds a dispatcher posting to {base}/v1/projects/{project}/messages:send.
func NewDispatcher(cfg Config, httpClient *http.Client, logger *slog.Logger) *Dispatcher {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	channel := cfg.ChannelID
	if channel == "" {
		channel = DefaultChannelID
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Dispatcher{
		endpoint:       fmt.Sprintf("%s/v1/projects/%s/messages:send", strings.TrimRight(base, "/"), cfg.ProjectID),
		channelID:      channel,
		onUnauthorized: cfg.OnUnauthorized,
		httpClient:     httpClient,
		logger:         logger.With("component", "FCMDispatcher"),
	}
}

// Endpoint is the messages:send URL this dispatcher posts to.
func (d *Dispatcher) Endpoint() string {
	return d.endpoint
}

type sendRequest struct {
	Message *messaging.Message `json:"message"`
}

// BuildMessage maps our message onto the FCM v1 message model.
func (d *Dispatcher) BuildMessage(token string, msg dispatch.Message) *messaging.Message {
	data := msg.Data
	if data == nil {
		data = map[string]string{}
	}
	return &messaging.Message{
		Token: token,
		Data:  data,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: androidPriorityHigh,
			Notification: &messaging.AndroidNotification{
				ChannelID: d.channelID,
			},
		},
	}
}

// Deliver sends one message to one token. Every failure is captured in the outcome.
func (d *Dispatcher) Deliver(ctx context.Context, token dispatch.DeliveryToken, msg dispatch.Message, cred dispatch.BearerCredential) dispatch.DeliveryOutcome {
	outcome := dispatch.DeliveryOutcome{Token: token.Token}

	body, err := json.Marshal(sendRequest{Message: d.BuildMessage(token.Token, msg)})
	if err != nil {
		outcome.Error = (&dispatch.DeliveryError{Token: token.Token, Err: err}).Error()
		return outcome
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		outcome.Error = (&dispatch.DeliveryError{Token: token.Token, Err: err}).Error()
		return outcome
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.logger.Error("FCM transport failed", "token", dispatch.ShortToken(token.Token), "err", err)
		outcome.Error = (&dispatch.DeliveryError{Token: token.Token, Err: err}).Error()
		return outcome
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		outcome.Error = (&dispatch.DeliveryError{Token: token.Token, StatusCode: resp.StatusCode, Err: err}).Error()
		return outcome
	}
	if json.Valid(raw) {
		outcome.ProviderResponse = json.RawMessage(raw)
	} else {
		d.logger.Warn("FCM returned a non-JSON body", "status", resp.StatusCode)
	}

	if resp.StatusCode == http.StatusUnauthorized && d.onUnauthorized != nil {
		d.onUnauthorized(ctx)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		d.logger.Warn("FCM rejected message", "token", dispatch.ShortToken(token.Token), "status", resp.StatusCode)
		outcome.Error = (&dispatch.DeliveryError{
			Token:      token.Token,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(raw))),
		}).Error()
		return outcome
	}

	d.logger.Debug("FCM accepted message", "token", dispatch.ShortToken(token.Token))
	outcome.Success = true
	return outcome
}
