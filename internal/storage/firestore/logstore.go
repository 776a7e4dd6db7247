package firestore

import (
	"context"
	"fmt"

	"github.com/tinywideclouds/go-notify-service/pkg/dispatch"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// WriteLog stores the entry under notification_logs/{id}.
func (s *FirestoreStore) WriteLog(ctx context.Context, entry dispatch.LogEntry) error {
	record := map[string]interface{}{
		"notification_type": entry.EventType,
		"title":             entry.Title,
		"body":              entry.Body,
		"data":              entry.Data,
		"is_sent":           entry.WasSent,
		"sent_at":           entry.SentAt,
		"user_id":           entry.RepresentativeUserID,
		"sent_count":        entry.SentCount,
		"failed_count":      entry.FailedCount,
	}
	if _, err := s.client.Collection(logsCollection).Doc(entry.ID.String()).Create(ctx, record); err != nil {
		return fmt.Errorf("firestore log write failed: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}
