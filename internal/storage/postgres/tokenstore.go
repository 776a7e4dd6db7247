// Package postgres implements the token store and notification log on Postgres.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/tinywideclouds/go-notify-service/pkg/dispatch"
)

// DBTX is the subset of *pgxpool.Pool the store needs.
type DBTX interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	resolveBaseQuery = `SELECT t.fcm_token, t.user_id::text, COALESCE(u.role, ''), COALESCE(t.platform, 'fcm') FROM fcm_tokens t JOIN users u ON u.id = t.user_id WHERE t.is_active = true`

	registerQuery = `INSERT INTO fcm_tokens (fcm_token, user_id, platform, is_active, updated_at) VALUES ($1, $2::uuid, $3, true, now()) ON CONFLICT (fcm_token) DO UPDATE SET user_id = EXCLUDED.user_id, platform = EXCLUDED.platform, is_active = true, updated_at = now()`

	unregisterQuery = `UPDATE fcm_tokens SET is_active = false, updated_at = now() WHERE fcm_token = $1 AND user_id = $2::uuid`
)

// TokenStore resolves and registers device tokens in the fcm_tokens table.
type TokenStore struct {
	db     DBTX
	logger *slog.Logger
}

func NewTokenStore(db DBTX, logger *slog.Logger) *TokenStore {
	return &TokenStore{db: db, logger: logger.With("component", "PostgresTokenStore")}
}

// ResolveTokens applies each non-empty filter as an additional AND condition
// on the active-token query.
func (s *TokenStore) ResolveTokens(ctx context.Context, roles, userIDs []string) ([]dispatch.DeliveryToken, error) {
	query, args := buildResolveQuery(roles, userIDs)
	s.logger.DebugContext(ctx, "Resolving tokens", "roles", roles, "user_ids", len(userIDs))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		s.logger.ErrorContext(ctx, "Token query failed", "err", err)
		return nil, &dispatch.ResolutionError{Err: fmt.Errorf("querying fcm_tokens: %w", err)}
	}
	defer rows.Close()

	var tokens []dispatch.DeliveryToken
	for rows.Next() {
		var t dispatch.DeliveryToken
		if err := rows.Scan(&t.Token, &t.OwnerUserID, &t.OwnerRole, &t.Platform); err != nil {
			return nil, &dispatch.ResolutionError{Err: fmt.Errorf("scanning fcm_tokens row: %w", err)}
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &dispatch.ResolutionError{Err: fmt.Errorf("iterating fcm_tokens: %w", err)}
	}

	return dispatch.DedupeTokens(tokens), nil
}

func buildResolveQuery(roles, userIDs []string) (string, []any) {
	var sb strings.Builder
	sb.WriteString(resolveBaseQuery)
	var args []any
	if len(roles) > 0 {
		args = append(args, roles)
		fmt.Fprintf(&sb, " AND u.role = ANY($%d)", len(args))
	}
	if len(userIDs) > 0 {
		args = append(args, userIDs)
		fmt.Fprintf(&sb, " AND t.user_id::text = ANY($%d)", len(args))
	}
	return sb.String(), args
}

// RegisterToken upserts a token and (re)activates it for its owner.
func (s *TokenStore) RegisterToken(ctx context.Context, token dispatch.DeliveryToken) error {
	if _, err := s.db.Exec(ctx, registerQuery, token.Token, token.OwnerUserID, token.PlatformOrDefault()); err != nil {
		return fmt.Errorf("registering token: %w", err)
	}
	return nil
}

// UnregisterToken deactivates the token; the row is kept for auditing.
func (s *TokenStore) UnregisterToken(ctx context.Context, userID, token string) error {
	tag, err := s.db.Exec(ctx, unregisterQuery, token, userID)
	if err != nil {
		return fmt.Errorf("unregistering token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.DebugContext(ctx, "Unregister matched no token", "user_id", userID)
	}
	return nil
}
