package postgres

import (
	"context"
	"fmt"

	"github.com/tinywideclouds/go-notify-service/pkg/dispatch"
)

const insertLogQuery = `INSERT INTO notification_logs (id, notification_type, title, body, data, is_sent, sent_at, user_id, sent_count, failed_count) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::uuid, $9, $10)`

// LogStore writes dispatch records to notification_logs.
type LogStore struct {
	db DBTX
}

func NewLogStore(db DBTX) *LogStore {
	return &LogStore{db: db}
}

func (s *LogStore) WriteLog(ctx context.Context, entry dispatch.LogEntry) error {
	var userID *string
	if entry.RepresentativeUserID != "" {
		userID = &entry.RepresentativeUserID
	}
	_, err := s.db.Exec(ctx, insertLogQuery,
		entry.ID.String(),
		entry.EventType,
		entry.Title,
		entry.Body,
		entry.Data,
		entry.WasSent,
		entry.SentAt,
		userID,
		entry.SentCount,
		entry.FailedCount,
	)
	if err != nil {
		return fmt.Errorf("inserting notification log: %w", err)
	}
	return nil
}
