package dispatch

import (
	"context"
)

// TokenResolver turns a recipient selector into the set of active delivery tokens.
type TokenResolver interface {
	// ResolveTokens returns the distinct active tokens owned by users matching
	// the selector. An empty selector matches every active token.
	// Failures are returned as *ResolutionError.
	ResolveTokens(ctx context.Context, roles, userIDs []string) ([]DeliveryToken, error)
}

// TokenRegistry manages the tokens devices register for themselves.
type TokenRegistry interface {
	RegisterToken(ctx context.Context, token DeliveryToken) error
	// UnregisterToken marks a token inactive. Unknown tokens are not an error.
	UnregisterToken(ctx context.Context, userID, token string) error
}

// TokenStore is a backend that can both resolve and register tokens.
type TokenStore interface {
	TokenResolver
	TokenRegistry
}

// CredentialProvider exchanges a service account for a short lived bearer credential.
type CredentialProvider interface {
	AcquireToken(ctx context.Context, sa ServiceAccount) (BearerCredential, error)
}

// Deliverer sends one message to one token of a specific platform.
// Failures are reported in the outcome, never as a panic or a separate error.
type Deliverer interface {
	Deliver(ctx context.Context, token DeliveryToken, msg Message, cred BearerCredential) DeliveryOutcome
}

// LogStore persists the aggregate record of a dispatch.
type LogStore interface {
	WriteLog(ctx context.Context, entry LogEntry) error
}
