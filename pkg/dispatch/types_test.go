package dispatch_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-notify-service/pkg/dispatch"
)

func TestDispatchRequest_StringData(t *testing.T) {
	raw := `{"title":"T","body":"B","data":{"order":"A1","count":3,"price":1.50,"urgent":true,"none":null,"meta":{"k":"v"}}}`

	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var req dispatch.DispatchRequest
	require.NoError(t, dec.Decode(&req))

	data := req.StringData()
	assert.Equal(t, "A1", data["order"])
	assert.Equal(t, "3", data["count"])
	assert.Equal(t, "1.50", data["price"])
	assert.Equal(t, "true", data["urgent"])
	assert.Equal(t, "null", data["none"])
	assert.Equal(t, `{"k":"v"}`, data["meta"])
}

func TestDispatchRequest_Defaults(t *testing.T) {
	req := dispatch.DispatchRequest{
		RecipientRoles:   []string{"admin", "", "admin", "driver"},
		RecipientUserIDs: nil,
	}

	assert.Equal(t, dispatch.DefaultEventType, req.EventTypeOrDefault())
	assert.Equal(t, []string{"admin", "", "driver"}, req.Roles())
	assert.Nil(t, req.UserIDs())
	assert.Empty(t, req.Message().Data)
}

func TestDispatchRequest_BlankFilterStaysFilter(t *testing.T) {
	req := dispatch.DispatchRequest{RecipientUserIDs: []string{"", ""}}

	assert.Equal(t, []string{""}, req.UserIDs())
	assert.Nil(t, req.Roles())
}

func TestDedupeTokens(t *testing.T) {
	in := []dispatch.DeliveryToken{
		{Token: "a", OwnerUserID: "u1"},
		{Token: "b", OwnerUserID: "u2"},
		{Token: "a", OwnerUserID: "u3"},
		{Token: ""},
	}

	out := dispatch.DedupeTokens(in)
	require.Len(t, out, 2)
	assert.Equal(t, "u1", out[0].OwnerUserID)
	assert.Equal(t, "b", out[1].Token)
}

func TestReduce(t *testing.T) {
	outcomes := []dispatch.DeliveryOutcome{
		{Token: "a", Success: true},
		{Token: "b", Success: false, Error: "boom"},
		{Token: "c", Success: true},
	}

	res := dispatch.Reduce(outcomes)
	assert.Equal(t, dispatch.DispatchResult{Sent: 2, Failed: 1}, res)
	assert.Equal(t, dispatch.DispatchResult{}, dispatch.Reduce(nil))
}

func TestNewLogEntry(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	req := &dispatch.DispatchRequest{Title: "T", Body: "B", Data: map[string]any{"k": "v"}}
	tokens := []dispatch.DeliveryToken{{Token: "a", OwnerUserID: "first"}, {Token: "b", OwnerUserID: "second"}}

	t.Run("sent when any delivery succeeded", func(t *testing.T) {
		entry := dispatch.NewLogEntry(req, tokens, dispatch.DispatchResult{Sent: 1, Failed: 1}, now)
		assert.True(t, entry.WasSent)
		assert.Equal(t, "first", entry.RepresentativeUserID)
		assert.Equal(t, "generic", entry.EventType)
		assert.Equal(t, now, entry.SentAt)
		assert.NotEmpty(t, entry.ID)
	})

	t.Run("not sent when everything failed", func(t *testing.T) {
		entry := dispatch.NewLogEntry(req, tokens, dispatch.DispatchResult{Failed: 2}, now)
		assert.False(t, entry.WasSent)
		assert.Equal(t, 2, entry.FailedCount)
	})
}

func TestBearerCredential_Valid(t *testing.T) {
	now := time.Now()
	cred := dispatch.BearerCredential{AccessToken: "x", ExpiresAt: now.Add(2 * time.Minute)}

	assert.True(t, cred.Valid(now, time.Minute))
	assert.False(t, cred.Valid(now, 3*time.Minute))
	assert.False(t, dispatch.BearerCredential{ExpiresAt: now.Add(time.Hour)}.Valid(now, 0))
}

func TestErrors_Unwrap(t *testing.T) {
	root := errors.New("connection refused")

	var resErr *dispatch.ResolutionError
	err := error(&dispatch.ResolutionError{Err: root})
	require.ErrorAs(t, err, &resErr)
	assert.ErrorIs(t, err, root)

	credErr := &dispatch.CredentialError{Reason: "missing access_token", Body: `{"error":"invalid_grant"}`}
	assert.Contains(t, credErr.Error(), "invalid_grant")

	delErr := &dispatch.DeliveryError{Token: "abcdefghijklmnopqrstuvwxyz", StatusCode: 404, Err: root}
	assert.Contains(t, delErr.Error(), "abcdefghijklmnopqrst...")
	assert.Contains(t, delErr.Error(), "404")
}
