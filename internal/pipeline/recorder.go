package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-notify-service/pkg/dispatch"
	"golang.org/x/sync/errgroup"
)

const DefaultLogWriteTimeout = 5 * time.Second

// Recorder writes one log entry per dispatch. Writes are best effort and
// run in the background so callers never wait on the log store.
type Recorder struct {
	store   dispatch.LogStore
	timeout time.Duration
	now     func() time.Time
	writes  errgroup.Group
	logger  *slog.Logger
}

func NewRecorder(store dispatch.LogStore, timeout time.Duration, logger *slog.Logger) *Recorder {
	if timeout <= 0 {
		timeout = DefaultLogWriteTimeout
	}
	return &Recorder{
		store:   store,
		timeout: timeout,
		now:     time.Now,
		logger:  logger.With("component", "Recorder"),
	}
}

// RecordOutcome builds the log entry and writes it asynchronously. The write
// is detached from ctx so a finished request does not cancel it.
func (r *Recorder) RecordOutcome(ctx context.Context, req *dispatch.DispatchRequest, tokens []dispatch.DeliveryToken, result dispatch.DispatchResult) {
	entry := dispatch.NewLogEntry(req, tokens, result, r.now())

	r.writes.Go(func() error {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		if err := r.store.WriteLog(wctx, entry); err != nil {
			logErr := &dispatch.LoggingError{Err: err}
			r.logger.Warn("Failed to record notification", "log_id", entry.ID, "err", logErr)
			logWritesCounter.WithLabelValues("failure").Inc()
			return nil
		}
		logWritesCounter.WithLabelValues("success").Inc()
		r.logger.Debug("Recorded notification", "log_id", entry.ID, "sent", entry.SentCount, "failed", entry.FailedCount)
		return nil
	})
}

// Wait blocks until every in-flight write has finished.
func (r *Recorder) Wait() {
	_ = r.writes.Wait()
}
