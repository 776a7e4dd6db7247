package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/tinywideclouds/go-notify-service/pkg/dispatch"
)

const (
	tokensCollection = "fcm_tokens"
	usersCollection  = "users"
	logsCollection   = "notification_logs"

	// Firestore caps the number of values in an "in" filter.
	maxInValues = 30
)

// FirestoreStore implements TokenStore and LogStore on Google Cloud Firestore.
type FirestoreStore struct {
	client *firestore.Client
	logger *slog.Logger
}

func NewFirestoreStore(client *firestore.Client, logger *slog.Logger) *FirestoreStore {
	return &FirestoreStore{client: client, logger: logger.With("component", "FirestoreTokenStore")}
}

// tokenRecord is the internal DB representation.
type tokenRecord struct {
	Token     string    `firestore:"fcm_token"`
	UserID    string    `firestore:"user_id"`
	Platform  string    `firestore:"platform"`
	IsActive  bool      `firestore:"is_active"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

type userRecord struct {
	Role string `firestore:"role"`
}

// --- Registration ---

func (s *FirestoreStore) RegisterToken(ctx context.Context, token dispatch.DeliveryToken) error {
	// Hash of token as Doc ID prevents duplicates and hot-spotting
	record := tokenRecord{
		Token:     token.Token,
		UserID:    token.OwnerUserID,
		Platform:  token.PlatformOrDefault(),
		IsActive:  true,
		UpdatedAt: time.Now(),
	}
	if _, err := s.tokenRef(token.Token).Set(ctx, record); err != nil {
		return fmt.Errorf("registering token: %w", err)
	}
	return nil
}

func (s *FirestoreStore) UnregisterToken(ctx context.Context, userID, token string) error {
	ref := s.tokenRef(token)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}
		var record tokenRecord
		if err := doc.DataTo(&record); err != nil {
			return err
		}
		if record.UserID != userID {
			return nil
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "is_active", Value: false},
			{Path: "updated_at", Value: time.Now()},
		})
	})
	if err != nil {
		return fmt.Errorf("unregistering token: %w", err)
	}
	return nil
}

// --- Resolution ---

// ResolveTokens narrows the active tokens by role (through the users
// collection) and by owner id. Both filters must hold when both are given.
func (s *FirestoreStore) ResolveTokens(ctx context.Context, roles, userIDs []string) ([]dispatch.DeliveryToken, error) {
	var allowed map[string]string // user id -> role, nil means unrestricted
	if len(roles) > 0 {
		byRole, err := s.usersWithRoles(ctx, roles)
		if err != nil {
			return nil, &dispatch.ResolutionError{Err: err}
		}
		allowed = byRole
	}
	if len(userIDs) > 0 {
		narrowed := make(map[string]string, len(userIDs))
		for _, id := range userIDs {
			if allowed == nil {
				narrowed[id] = ""
			} else if role, ok := allowed[id]; ok {
				narrowed[id] = role
			}
		}
		allowed = narrowed
	}
	if allowed != nil && len(allowed) == 0 {
		return []dispatch.DeliveryToken{}, nil
	}

	query := s.client.Collection(tokensCollection).Where("is_active", "==", true)
	if allowed != nil && len(allowed) <= maxInValues {
		ids := make([]string, 0, len(allowed))
		for id := range allowed {
			ids = append(ids, id)
		}
		query = query.Where("user_id", "in", ids)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var tokens []dispatch.DeliveryToken
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, &dispatch.ResolutionError{Err: fmt.Errorf("firestore iteration failed: %w", err)}
		}

		var record tokenRecord
		if err := doc.DataTo(&record); err != nil {
			// Skip corrupt rows rather than failing the whole dispatch.
			s.logger.Warn("Skipping malformed token document", "doc_id", doc.Ref.ID, "err", err)
			continue
		}
		role := ""
		if allowed != nil {
			r, ok := allowed[record.UserID]
			if !ok {
				continue
			}
			role = r
		}
		tokens = append(tokens, dispatch.DeliveryToken{
			Token:       record.Token,
			OwnerUserID: record.UserID,
			OwnerRole:   role,
			Platform:    record.Platform,
		})
	}

	return dispatch.DedupeTokens(tokens), nil
}

func (s *FirestoreStore) usersWithRoles(ctx context.Context, roles []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, chunk := range chunk(roles, maxInValues) {
		iter := s.client.Collection(usersCollection).Where("role", "in", chunk).Documents(ctx)
		for {
			doc, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				iter.Stop()
				return nil, fmt.Errorf("firestore users query failed: %w", err)
			}
			var u userRecord
			if err := doc.DataTo(&u); err != nil {
				continue
			}
			out[doc.Ref.ID] = u.Role
		}
		iter.Stop()
	}
	return out, nil
}

// --- Helpers ---

// tokenRef: fcm_tokens/{tokenHash}
func (s *FirestoreStore) tokenRef(token string) *firestore.DocumentRef {
	return s.client.Collection(tokensCollection).Doc(hashToken(token))
}

func hashToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}

func chunk(in []string, size int) [][]string {
	var out [][]string
	for size < len(in) {
		in, out = in[size:], append(out, in[:size])
	}
	return append(out, in)
}
