// Package dispatch holds the domain model shared by the dispatch core,
// its storage backends and the delivery platforms.
package dispatch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultEventType is recorded when a request carries no event type.
	DefaultEventType = "generic"

	PlatformFCM  = "fcm"
	PlatformAPNS = "apns"
)

// DispatchRequest is the logical notification a caller asks us to send.
// Field names follow the wire format the dispatch endpoint has always accepted.
type DispatchRequest struct {
	Title            string         `json:"title"`
	Body             string         `json:"body"`
	Data             map[string]any `json:"data,omitempty"`
	EventType        string         `json:"event_type,omitempty"`
	RecipientRoles   []string       `json:"recipient_roles,omitempty"`
	RecipientUserIDs []string       `json:"recipient_user_ids,omitempty"`
}

// EventTypeOrDefault returns the event type, falling back to "generic".
func (r *DispatchRequest) EventTypeOrDefault() string {
	if r.EventType == "" {
		return DefaultEventType
	}
	return r.EventType
}

// Roles returns the role filter with duplicates removed. A supplied filter
// stays a filter even when its entries are blank.
func (r *DispatchRequest) Roles() []string {
	return distinct(r.RecipientRoles)
}

// UserIDs returns the user id filter with duplicates removed.
func (r *DispatchRequest) UserIDs() []string {
	return distinct(r.RecipientUserIDs)
}

// StringData coerces every payload value to a string, since providers only
// accept string maps. Strings pass through; everything else is rendered as
// compact JSON (numbers keep their literal form when decoded with UseNumber).
func (r *DispatchRequest) StringData() map[string]string {
	out := make(map[string]string, len(r.Data))
	for k, v := range r.Data {
		out[k] = stringify(v)
	}
	return out
}

// Message builds the provider-agnostic message for this request.
func (r *DispatchRequest) Message() Message {
	return Message{
		Title: r.Title,
		Body:  r.Body,
		Data:  r.StringData(),
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case nil:
		return "null"
	case bool, float64, float32, int, int64, int32:
		return fmt.Sprint(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func distinct(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Message is what a single delivery carries.
type Message struct {
	Title string
	Body  string
	Data  map[string]string
}

// DeliveryToken is one installed app instance that can receive a push.
type DeliveryToken struct {
	Token       string `json:"token"`
	OwnerUserID string `json:"owner_user_id"`
	OwnerRole   string `json:"owner_role,omitempty"`
	Platform    string `json:"platform,omitempty"`
}

// PlatformOrDefault returns the token platform, defaulting to FCM.
func (t DeliveryToken) PlatformOrDefault() string {
	if t.Platform == "" {
		return PlatformFCM
	}
	return t.Platform
}

// DedupeTokens keeps the first occurrence of each token string.
func DedupeTokens(tokens []DeliveryToken) []DeliveryToken {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]DeliveryToken, 0, len(tokens))
	for _, t := range tokens {
		if t.Token == "" {
			continue
		}
		if _, ok := seen[t.Token]; ok {
			continue
		}
		seen[t.Token] = struct{}{}
		out = append(out, t)
	}
	return out
}

// ServiceAccount is the long lived secret used to mint bearer credentials.
type ServiceAccount struct {
	ProjectID    string `json:"project_id"`
	ClientEmail  string `json:"client_email"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	TokenURI     string `json:"token_uri"`
}

// BearerCredential is a short lived access token for the delivery API.
type BearerCredential struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Valid reports whether the credential is usable for at least skew more time.
func (c BearerCredential) Valid(now time.Time, skew time.Duration) bool {
	return c.AccessToken != "" && now.Add(skew).Before(c.ExpiresAt)
}

// DeliveryOutcome is the result of one delivery attempt.
type DeliveryOutcome struct {
	Token            string          `json:"token"`
	Success          bool            `json:"success"`
	ProviderResponse json.RawMessage `json:"provider_response,omitempty"`
	Error            string          `json:"error,omitempty"`
}

// DispatchResult is the aggregate of all outcomes of a dispatch.
type DispatchResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Reduce folds outcomes into counts.
func Reduce(outcomes []DeliveryOutcome) DispatchResult {
	sent := 0
	for _, o := range outcomes {
		if o.Success {
			sent++
		}
	}
	return DispatchResult{Sent: sent, Failed: len(outcomes) - sent}
}

// LogEntry is the single record written per dispatch.
// RepresentativeUserID is the owner of the first resolved token only.
type LogEntry struct {
	ID                   uuid.UUID
	EventType            string
	Title                string
	Body                 string
	Data                 map[string]any
	WasSent              bool
	SentAt               time.Time
	RepresentativeUserID string
	SentCount            int
	FailedCount          int
}

// NewLogEntry builds the log entry for a completed dispatch.
func NewLogEntry(req *DispatchRequest, tokens []DeliveryToken, result DispatchResult, now time.Time) LogEntry {
	entry := LogEntry{
		ID:          uuid.New(),
		EventType:   req.EventTypeOrDefault(),
		Title:       req.Title,
		Body:        req.Body,
		Data:        req.Data,
		WasSent:     result.Sent > 0,
		SentAt:      now.UTC(),
		SentCount:   result.Sent,
		FailedCount: result.Failed,
	}
	if len(tokens) > 0 {
		entry.RepresentativeUserID = tokens[0].OwnerUserID
	}
	return entry
}
