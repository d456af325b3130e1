// Package failover runs a request against the account pool, retrying
// classified-retryable failures on sibling accounts.
//
// Per request the executor walks a small state machine: select, execute,
// then on failure either retry with the failed account excluded or
// propagate. Health marking is deliberately decoupled from retryability:
// an account is marked per its error class even when the current request
// cannot be retried (noFailover, stream already started, retry budget
// spent), so the pool self-heals regardless.
package failover

import (
	"context"
	"errors"
	"log/slog"

	"aurora-hq/stratus/pkg/accounts"
	"aurora-hq/stratus/pkg/health"
	"aurora-hq/stratus/pkg/scheduler"
	"aurora-hq/stratus/pkg/session"
	"aurora-hq/stratus/pkg/telemetry/metrics"
)

// Selector is the account-selection dependency. *scheduler.Selector
// satisfies it.
type Selector interface {
	Select(ctx context.Context, req *scheduler.Request, exclude map[string]struct{}) (*accounts.Account, scheduler.Tier, error)
}

// Func performs the actual protocol-specific upstream call against the
// chosen account. Failures should be returned as *UpstreamError (or a
// transport error) so they classify; anything else is treated as fatal.
type Func func(ctx context.Context, acct *accounts.Account) error

// Outcome describes a completed execution.
type Outcome struct {
	// Account is the account that served the successful attempt.
	Account *accounts.Account

	// Tier is the pool tier the final selection came from.
	Tier scheduler.Tier

	// RetryCount is the number of cross-account retries performed.
	RetryCount int

	// Excluded is the tried-and-failed account ID set.
	Excluded map[string]struct{}
}

// Config tunes the executor.
type Config struct {
	// Enabled globally enables cross-account retry. When false, the
	// executor selects once and executes without retry wrapping; health
	// marking still happens on failure.
	Enabled bool

	// MaxRetries bounds cross-account retries per request.
	MaxRetries int
}

// Executor drives the per-request select/execute/retry loop.
type Executor struct {
	selector Selector
	registry *health.Registry
	tracker  *health.FailureTracker
	sessions *session.Map
	metrics  *metrics.PoolMetrics
	logger   *slog.Logger
	cfg      Config
}

// NewExecutor creates an executor. pm may be nil to disable metrics.
func NewExecutor(sel Selector, registry *health.Registry, tracker *health.FailureTracker, sessions *session.Map, cfg Config, pm *metrics.PoolMetrics) *Executor {
	return &Executor{
		selector: sel,
		registry: registry,
		tracker:  tracker,
		sessions: sessions,
		metrics:  pm,
		logger:   slog.Default().With("component", "failover.executor"),
		cfg:      cfg,
	}
}

// Execute selects an account and runs fn against it, failing over to
// sibling accounts on retryable errors up to the configured budget.
//
// Terminal outcomes:
//   - success: the Outcome of the winning attempt, health marks cleared.
//   - pool exhaustion: scheduler.ErrNoAvailableAccount, never retried.
//   - client disconnect: ErrClientDisconnected, account not penalized.
//   - any other failure: the last execution error, propagated unchanged
//     after the failed account was marked and its session mapping
//     invalidated.
func (e *Executor) Execute(ctx context.Context, req *scheduler.Request, fn Func) (*Outcome, error) {
	excluded := make(map[string]struct{})
	retryCount := 0

	for {
		acct, tier, err := e.selector.Select(ctx, req, excluded)
		if err != nil {
			return nil, err
		}

		execErr := fn(ctx, acct)
		if execErr == nil {
			e.registry.ClearIfHealthy(ctx, acct)
			e.tracker.ClearFailures(ctx, acct)
			return &Outcome{
				Account:    acct,
				Tier:       tier,
				RetryCount: retryCount,
				Excluded:   excluded,
			}, nil
		}

		class := Classify(execErr)
		if class == ClassClientCancel {
			// The caller went away. Not the account's fault: no mark, no
			// counter, no retry.
			return nil, errors.Join(ErrClientDisconnected, execErr)
		}

		e.mark(ctx, acct, class, execErr)
		if key, ok := req.SessionKey(); ok {
			e.sessions.Invalidate(ctx, key)
		}

		if !e.retriable(acct, class, execErr, retryCount) {
			return nil, execErr
		}

		excluded[acct.ID] = struct{}{}
		retryCount++
		e.metrics.RecordFailoverRetry(string(req.Platform), string(class))
		e.logger.Info("failing over to sibling account",
			"platform", req.Platform,
			"failed_account", acct.ID,
			"class", class,
			"retry", retryCount,
		)
	}
}

// retriable decides whether the loop may continue after a failure. The
// account has already been marked; this gates only the current request.
func (e *Executor) retriable(acct *accounts.Account, class Class, execErr error, retryCount int) bool {
	if !e.cfg.Enabled {
		return false
	}
	if acct.NoFailover {
		e.logger.Info("failover disabled for account, propagating",
			"account", acct.ID, "class", class)
		return false
	}
	if !class.Retryable() {
		return false
	}
	if streamStarted(execErr) {
		// Partial bytes already reached the caller: the request cannot be
		// replayed, only the marking above helps future requests.
		e.logger.Warn("stream already started, cannot retry",
			"account", acct.ID, "class", class)
		return false
	}
	if retryCount >= e.cfg.MaxRetries {
		e.logger.Warn("retry budget exhausted, propagating",
			"account", acct.ID, "retries", retryCount)
		return false
	}
	return true
}

// mark applies the class-specific health mark and feeds the rolling
// failure counter. Advisory: store errors inside never fail the request.
func (e *Executor) mark(ctx context.Context, acct *accounts.Account, class Class, execErr error) {
	var uerr *UpstreamError
	errors.As(execErr, &uerr)

	switch class {
	case ClassAuth:
		e.registry.MarkUnauthorized(ctx, acct, execErr.Error())
	case ClassBlocked:
		e.registry.MarkBlocked(ctx, acct, execErr.Error())
	case ClassRateLimit:
		var retryAfter int64
		if uerr != nil && uerr.RetryAfter > 0 {
			e.registry.MarkRateLimited(ctx, acct, uerr.RetryAfter)
			retryAfter = int64(uerr.RetryAfter.Seconds())
		} else {
			e.registry.MarkRateLimited(ctx, acct, 0)
		}
		e.logger.Debug("rate limited", "account", acct.ID, "retry_after_s", retryAfter)
	case ClassOverloaded:
		e.registry.MarkOverloaded(ctx, acct, 0)
	case ClassServerError, ClassNetwork:
		e.registry.MarkTemporarilyUnavailable(ctx, acct, 0)
	case ClassFatal:
		// Unclassified failures are the request's problem, not the
		// account's: no health mark, and no rolling-window entry — a
		// client repeating a bad request must not disable a healthy
		// account through the temp-error threshold.
		return
	}

	e.tracker.RecordAndEscalate(ctx, acct)
}

// streamStarted reports whether response bytes already reached the
// original caller.
func streamStarted(err error) bool {
	var uerr *UpstreamError
	return errors.As(err, &uerr) && uerr.StreamStarted
}
