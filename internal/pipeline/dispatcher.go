package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-notify-service/pkg/dispatch"
	"golang.org/x/sync/errgroup"
)

// Dispatcher runs one logical notification end to end:
// resolve recipients, acquire a credential, fan out, record.
type Dispatcher struct {
	resolver    dispatch.TokenResolver
	credentials dispatch.CredentialProvider
	account     dispatch.ServiceAccount
	fanout      *Fanout
	recorder    *Recorder
	logger      *slog.Logger
}

func NewDispatcher(
	resolver dispatch.TokenResolver,
	credentials dispatch.CredentialProvider,
	account dispatch.ServiceAccount,
	fanout *Fanout,
	recorder *Recorder,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		resolver:    resolver,
		credentials: credentials,
		account:     account,
		fanout:      fanout,
		recorder:    recorder,
		logger:      logger.With("component", "Dispatcher"),
	}
}

// Dispatch returns a ResolutionError or CredentialError when nothing could be
// attempted. Individual delivery failures are only counted in the result.
func (d *Dispatcher) Dispatch(ctx context.Context, req *dispatch.DispatchRequest) (dispatch.DispatchResult, error) {
	start := time.Now()
	log := d.logger.With("event_type", req.EventTypeOrDefault())
	log.Debug("Dispatch received", "state", "received")

	var (
		tokens  []dispatch.DeliveryToken
		cred    dispatch.BearerCredential
		credErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		resolved, err := d.resolver.ResolveTokens(gctx, req.Roles(), req.UserIDs())
		if err != nil {
			return asResolutionError(err)
		}
		tokens = dispatch.DedupeTokens(resolved)
		return nil
	})
	g.Go(func() error {
		// Credential failures never cancel resolution.
		cred, credErr = d.credentials.AcquireToken(gctx, d.account)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("Failed to resolve recipients", "state", "failed", "err", err)
		dispatchesCounter.WithLabelValues("resolution_error").Inc()
		return dispatch.DispatchResult{}, err
	}
	log.Debug("Recipients resolved", "state", "resolved", "tokens", len(tokens))

	if len(tokens) == 0 {
		log.Info("No active tokens matched; nothing to send", "state", "completed")
		dispatchesCounter.WithLabelValues("empty").Inc()
		return dispatch.DispatchResult{}, nil
	}

	if credErr != nil {
		credErr = asCredentialError(credErr)
		log.Error("Failed to acquire delivery credential", "state", "failed", "err", credErr)
		dispatchesCounter.WithLabelValues("credential_error").Inc()
		return dispatch.DispatchResult{}, credErr
	}
	log.Debug("Credential acquired", "state", "authorized")

	outcomes := d.fanout.Dispatch(ctx, tokens, req.Message(), cred)
	result := dispatch.Reduce(outcomes)
	log.Debug("Deliveries finished", "state", "dispatched", "sent", result.Sent, "failed", result.Failed)

	d.recorder.RecordOutcome(ctx, req, tokens, result)

	dispatchesCounter.WithLabelValues("delivered").Inc()
	dispatchDuration.Observe(time.Since(start).Seconds())
	log.Info("Dispatch completed", "state", "completed", "sent", result.Sent, "failed", result.Failed)
	return result, nil
}

func asResolutionError(err error) error {
	var resErr *dispatch.ResolutionError
	if errors.As(err, &resErr) {
		return err
	}
	return &dispatch.ResolutionError{Err: err}
}

func asCredentialError(err error) error {
	var credErr *dispatch.CredentialError
	if errors.As(err, &credErr) {
		return err
	}
	return &dispatch.CredentialError{Reason: "provider error", Err: err}
}
