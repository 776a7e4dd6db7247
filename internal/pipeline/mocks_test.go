package pipeline_test

import (
	"context"
	"io"
	"log/slog"

	"github.com/stretchr/testify/mock"
	"github.com/tinywideclouds/go-notify-service/pkg/dispatch"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Typed Mocks ---

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) ResolveTokens(ctx context.Context, roles, userIDs []string) ([]dispatch.DeliveryToken, error) {
	args := m.Called(ctx, roles, userIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]dispatch.DeliveryToken), args.Error(1)
}

type mockCredentials struct {
	mock.Mock
}

func (m *mockCredentials) AcquireToken(ctx context.Context, sa dispatch.ServiceAccount) (dispatch.BearerCredential, error) {
	args := m.Called(ctx, sa)
	return args.Get(0).(dispatch.BearerCredential), args.Error(1)
}

type mockDeliverer struct {
	mock.Mock
}

func (m *mockDeliverer) Deliver(ctx context.Context, tok dispatch.DeliveryToken, msg dispatch.Message, cred dispatch.BearerCredential) dispatch.DeliveryOutcome {
	args := m.Called(ctx, tok, msg, cred)
	return args.Get(0).(dispatch.DeliveryOutcome)
}

type mockLogStore struct {
	mock.Mock
}

func (m *mockLogStore) WriteLog(ctx context.Context, entry dispatch.LogEntry) error {
	return m.Called(ctx, entry).Error(0)
}

type mockRequestDispatcher struct {
	mock.Mock
}

func (m *mockRequestDispatcher) Dispatch(ctx context.Context, req *dispatch.DispatchRequest) (dispatch.DispatchResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(dispatch.DispatchResult), args.Error(1)
}

func ok(token string) dispatch.DeliveryOutcome {
	return dispatch.DeliveryOutcome{Token: token, Success: true}
}
