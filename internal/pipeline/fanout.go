package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-notify-service/pkg/dispatch"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	DefaultDeliveryWorkers = 32
	DefaultDeliveryTimeout = 10 * time.Second
)

// FanoutConfig bounds the concurrency of a single dispatch.
type FanoutConfig struct {
	Workers int
	// RatePerSec limits deliveries per second across all workers. 0 disables the limit.
	RatePerSec float64
	Timeout    time.Duration
}

// Fanout sends one message to many tokens concurrently. A failure on one
// token never affects the others.
type Fanout struct {
	deliverers map[string]dispatch.Deliverer
	workers    int
	timeout    time.Duration
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewFanout builds a fan-out over the given deliverers, keyed by platform.
func NewFanout(cfg FanoutConfig, deliverers map[string]dispatch.Deliverer, logger *slog.Logger) *Fanout {
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultDeliveryWorkers
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultDeliveryTimeout
	}

	var limiter *rate.Limiter
	if cfg.RatePerSec > 0 {
		burst := int(cfg.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}

	return &Fanout{
		deliverers: deliverers,
		workers:    workers,
		timeout:    timeout,
		limiter:    limiter,
		logger:     logger.With("component", "Fanout"),
	}
}

// Dispatch delivers msg to every token and returns one outcome per token,
// in token order. It returns only after every delivery has finished.
func (f *Fanout) Dispatch(ctx context.Context, tokens []dispatch.DeliveryToken, msg dispatch.Message, cred dispatch.BearerCredential) []dispatch.DeliveryOutcome {
	outcomes := make([]dispatch.DeliveryOutcome, len(tokens))
	if len(tokens) == 0 {
		return outcomes
	}

	workers := f.workers
	if workers > len(tokens) {
		workers = len(tokens)
	}

	// A plain Group never cancels: every delivery returns nil and reports
	// through its outcome slot.
	var g errgroup.Group
	g.SetLimit(workers)
	for i := range tokens {
		g.Go(func() error {
			outcomes[i] = f.deliverOne(ctx, tokens[i], msg, cred)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (f *Fanout) deliverOne(ctx context.Context, tok dispatch.DeliveryToken, msg dispatch.Message, cred dispatch.BearerCredential) (outcome dispatch.DeliveryOutcome) {
	platform := tok.PlatformOrDefault()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("Deliverer panicked", "platform", platform, "token", dispatch.ShortToken(tok.Token), "panic", r)
			outcome = failed(tok, fmt.Errorf("deliverer panic: %v", r))
		}
		result := "success"
		if !outcome.Success {
			result = "failure"
		}
		deliveriesCounter.WithLabelValues(platform, result).Inc()
		deliveryDuration.WithLabelValues(platform).Observe(time.Since(start).Seconds())
	}()

	deliverer, ok := f.deliverers[platform]
	if !ok {
		f.logger.Warn("No deliverer for platform", "platform", platform, "token", dispatch.ShortToken(tok.Token))
		return failed(tok, fmt.Errorf("unsupported platform %q", platform))
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return failed(tok, err)
		}
	}

	dctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	outcome = deliverer.Deliver(dctx, tok, msg, cred)
	outcome.Token = tok.Token
	if !outcome.Success && outcome.Error == "" {
		outcome.Error = (&dispatch.DeliveryError{Token: tok.Token, Err: errors.New("unknown failure")}).Error()
	}
	return outcome
}

func failed(tok dispatch.DeliveryToken, err error) dispatch.DeliveryOutcome {
	return dispatch.DeliveryOutcome{
		Token: tok.Token,
		Error: (&dispatch.DeliveryError{Token: tok.Token, Err: err}).Error(),
	}
}
