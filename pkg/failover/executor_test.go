package failover

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"aurora-hq/stratus/pkg/accounts"
	"aurora-hq/stratus/pkg/health"
	"aurora-hq/stratus/pkg/scheduler"
	"aurora-hq/stratus/pkg/session"
	"aurora-hq/stratus/pkg/store"
)

// countingSelector counts Select calls on the way to the real selector.
type countingSelector struct {
	inner *scheduler.Selector
	calls atomic.Int64
}

func (s *countingSelector) Select(ctx context.Context, req *scheduler.Request, exclude map[string]struct{}) (*accounts.Account, scheduler.Tier, error) {
	s.calls.Add(1)
	return s.inner.Select(ctx, req, exclude)
}

type rig struct {
	executor *Executor
	selector *countingSelector
	registry *health.Registry
	sessions *session.Map
	store    *store.MemoryStore
}

func newRig(t *testing.T, cfg Config) *rig {
	t.Helper()
	return newRigWithThreshold(t, cfg, 100) // threshold out of the way by default
}

func newRigWithThreshold(t *testing.T, cfg Config, threshold int) *rig {
	t.Helper()
	ms := store.NewMemoryStore()
	catalog := accounts.NewStoreCatalog(ms)
	registry := health.NewRegistry(ms, health.RegistryConfig{
		RateLimitDuration: time.Hour,
		UnavailableTTL:    5 * time.Minute,
		OverloadedTTL:     10 * time.Minute,
	}, nil, nil)
	tracker := health.NewFailureTracker(ms, registry, health.TrackerConfig{
		Window:          5 * time.Minute,
		Threshold:       threshold,
		DisableDuration: 5 * time.Minute,
	})
	sessions := session.NewMap(ms, time.Hour)
	sel := &countingSelector{inner: scheduler.NewSelector(catalog, registry, sessions, ms, nil)}
	return &rig{
		executor: NewExecutor(sel, registry, tracker, sessions, cfg, nil),
		selector: sel,
		registry: registry,
		sessions: sessions,
		store:    ms,
	}
}

type seedOpts struct {
	id         string
	priority   int
	noFailover bool
}

func (r *rig) seed(t *testing.T, opts seedOpts) {
	t.Helper()
	ctx := context.Background()
	fields := map[string]string{
		accounts.FieldID:          opts.id,
		accounts.FieldPlatform:    "claude",
		accounts.FieldAccountType: string(accounts.TypeShared),
		accounts.FieldPriority:    strconv.Itoa(opts.priority),
		accounts.FieldStatus:      string(accounts.StatusActive),
	}
	if opts.noFailover {
		fields[accounts.FieldNoFailover] = "true"
	}
	if err := r.store.HSet(ctx, store.AccountKey("claude", opts.id), fields); err != nil {
		t.Fatalf("seed %s: %v", opts.id, err)
	}
	if err := r.store.SAdd(ctx, store.PlatformSetKey("claude"), opts.id); err != nil {
		t.Fatalf("seed set %s: %v", opts.id, err)
	}
}

func (r *rig) status(t *testing.T, id string) accounts.Status {
	t.Helper()
	raw, err := r.store.HGet(context.Background(), store.AccountKey("claude", id), accounts.FieldStatus)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("status %s: %v", id, err)
	}
	status, _ := accounts.ParseStatus(raw)
	return status
}

func serverError() *UpstreamError {
	return &UpstreamError{StatusCode: 500, Message: "internal error"}
}

func TestExecute_PoolExhaustsCorrectly(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, Config{Enabled: true, MaxRetries: 3})
	r.seed(t, seedOpts{id: "a", priority: 10})
	r.seed(t, seedOpts{id: "b", priority: 20})
	r.seed(t, seedOpts{id: "c", priority: 30})

	req := &scheduler.Request{Platform: accounts.PlatformClaude, ConsumerKeyID: "ck"}

	outcome, err := r.executor.Execute(ctx, req, func(_ context.Context, acct *accounts.Account) error {
		if acct.ID == "c" {
			return nil
		}
		return serverError()
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if outcome.Account.ID != "c" {
		t.Fatalf("Execute() won with %s, want c", outcome.Account.ID)
	}
	if outcome.RetryCount != 2 {
		t.Fatalf("Execute() retryCount = %d, want 2", outcome.RetryCount)
	}
	for _, id := range []string{"a", "b"} {
		if _, ok := outcome.Excluded[id]; !ok {
			t.Fatalf("Execute() exclusion set missing %s", id)
		}
	}
	if got := r.status(t, "a"); got != accounts.StatusTemporarilyUnavailable {
		t.Fatalf("account a status = %s, want temporarily_unavailable", got)
	}
	// Marked failures feed the rolling window.
	if got, err := r.store.Get(ctx, store.FailureCountKey("claude", "a")); err != nil || got != "1" {
		t.Fatalf("failure counter for a = %q (err=%v), want 1", got, err)
	}
}

func TestExecute_FatalErrorsDoNotEscalate(t *testing.T) {
	ctx := context.Background()
	r := newRigWithThreshold(t, Config{Enabled: true, MaxRetries: 3}, 3)
	r.seed(t, seedOpts{id: "a", priority: 10})

	badRequest := &UpstreamError{StatusCode: 400, Message: "malformed request"}
	req := &scheduler.Request{Platform: accounts.PlatformClaude, ConsumerKeyID: "ck"}

	// A client retrying its own bad request, well past the threshold.
	for i := 0; i < 5; i++ {
		_, err := r.executor.Execute(ctx, req, func(context.Context, *accounts.Account) error {
			return badRequest
		})
		var uerr *UpstreamError
		if !errors.As(err, &uerr) || uerr.StatusCode != 400 {
			t.Fatalf("Execute() #%d error = %v, want the 400 propagated", i, err)
		}
	}

	if got := r.status(t, "a"); got != accounts.StatusActive {
		t.Fatalf("status = %s, want active (fatal failures must not disable the account)", got)
	}
	if _, err := r.store.Get(ctx, store.FailureCountKey("claude", "a")); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("failure counter exists after fatal-class failures (err=%v)", err)
	}
}

func TestExecute_NoFailoverShortCircuits(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, Config{Enabled: true, MaxRetries: 3})
	r.seed(t, seedOpts{id: "pinned", priority: 10, noFailover: true})
	r.seed(t, seedOpts{id: "sibling", priority: 20})

	rateLimit := &UpstreamError{StatusCode: 429, Message: "rate limited", RetryAfter: 30 * time.Minute}
	req := &scheduler.Request{Platform: accounts.PlatformClaude, ConsumerKeyID: "ck"}

	_, err := r.executor.Execute(ctx, req, func(context.Context, *accounts.Account) error {
		return rateLimit
	})

	var uerr *UpstreamError
	if !errors.As(err, &uerr) || uerr.StatusCode != 429 {
		t.Fatalf("Execute() error = %v, want the 429 propagated unchanged", err)
	}
	if n := r.selector.calls.Load(); n != 1 {
		t.Fatalf("Select called %d times, want 1 (no failover for pinned account)", n)
	}
	// Marking still happened even though the request was not retried.
	if got := r.status(t, "pinned"); got != accounts.StatusRateLimited {
		t.Fatalf("pinned status = %s, want rate_limited", got)
	}
}

func TestExecute_StreamStartedMarkedNotRetried(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, Config{Enabled: true, MaxRetries: 3})
	r.seed(t, seedOpts{id: "a", priority: 10})
	r.seed(t, seedOpts{id: "b", priority: 20})

	streamErr := &UpstreamError{StatusCode: 500, Message: "died mid-stream", StreamStarted: true}
	req := &scheduler.Request{Platform: accounts.PlatformClaude, ConsumerKeyID: "ck"}

	_, err := r.executor.Execute(ctx, req, func(context.Context, *accounts.Account) error {
		return streamErr
	})

	var uerr *UpstreamError
	if !errors.As(err, &uerr) || !uerr.StreamStarted {
		t.Fatalf("Execute() error = %v, want the stream error propagated", err)
	}
	if n := r.selector.calls.Load(); n != 1 {
		t.Fatalf("Select called %d times, want 1 (started stream cannot be replayed)", n)
	}
	if got := r.status(t, "a"); got != accounts.StatusTemporarilyUnavailable {
		t.Fatalf("account a status = %s, want temporarily_unavailable despite no retry", got)
	}
}

func TestExecute_ClientCancelNotPenalized(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, Config{Enabled: true, MaxRetries: 3})
	r.seed(t, seedOpts{id: "a", priority: 10})

	req := &scheduler.Request{Platform: accounts.PlatformClaude, ConsumerKeyID: "ck"}

	_, err := r.executor.Execute(ctx, req, func(context.Context, *accounts.Account) error {
		return context.Canceled
	})
	if !errors.Is(err, ErrClientDisconnected) {
		t.Fatalf("Execute() error = %v, want ErrClientDisconnected", err)
	}
	if got := r.status(t, "a"); got != accounts.StatusActive {
		t.Fatalf("account a status = %s, want active (cancel must not penalize)", got)
	}
	if _, err := r.store.Get(ctx, store.FailureCountKey("claude", "a")); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("failure counter exists after a client cancel (err=%v)", err)
	}
}

func TestExecute_RetryBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, Config{Enabled: true, MaxRetries: 1})
	r.seed(t, seedOpts{id: "a", priority: 10})
	r.seed(t, seedOpts{id: "b", priority: 20})
	r.seed(t, seedOpts{id: "c", priority: 30})

	req := &scheduler.Request{Platform: accounts.PlatformClaude, ConsumerKeyID: "ck"}

	_, err := r.executor.Execute(ctx, req, func(context.Context, *accounts.Account) error {
		return serverError()
	})

	var uerr *UpstreamError
	if !errors.As(err, &uerr) {
		t.Fatalf("Execute() error = %v, want last upstream error", err)
	}
	if n := r.selector.calls.Load(); n != 2 {
		t.Fatalf("Select called %d times, want 2 (initial + one retry)", n)
	}
}

func TestExecute_DisabledSelectsOnce(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, Config{Enabled: false, MaxRetries: 3})
	r.seed(t, seedOpts{id: "a", priority: 10})
	r.seed(t, seedOpts{id: "b", priority: 20})

	req := &scheduler.Request{Platform: accounts.PlatformClaude, ConsumerKeyID: "ck"}

	_, err := r.executor.Execute(ctx, req, func(context.Context, *accounts.Account) error {
		return serverError()
	})
	if err == nil {
		t.Fatal("Execute() error = nil, want propagated upstream error")
	}
	if n := r.selector.calls.Load(); n != 1 {
		t.Fatalf("Select called %d times with failover disabled, want 1", n)
	}
	// Health marking is independent of the retry decision.
	if got := r.status(t, "a"); got != accounts.StatusTemporarilyUnavailable {
		t.Fatalf("account a status = %s, want temporarily_unavailable", got)
	}
}

func TestExecute_AllAccountsFailSurfacesExhaustion(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, Config{Enabled: true, MaxRetries: 5})
	r.seed(t, seedOpts{id: "a", priority: 10})
	r.seed(t, seedOpts{id: "b", priority: 20})

	req := &scheduler.Request{Platform: accounts.PlatformClaude, ConsumerKeyID: "ck"}

	_, err := r.executor.Execute(ctx, req, func(context.Context, *accounts.Account) error {
		return serverError()
	})
	if !errors.Is(err, scheduler.ErrNoAvailableAccount) {
		t.Fatalf("Execute() error = %v, want ErrNoAvailableAccount once the pool empties", err)
	}
}

func TestExecute_FailureRebindsSession(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, Config{Enabled: true, MaxRetries: 3})
	r.seed(t, seedOpts{id: "a", priority: 10})
	r.seed(t, seedOpts{id: "b", priority: 20})

	req := &scheduler.Request{
		Platform:           accounts.PlatformClaude,
		ConsumerKeyID:      "ck",
		SessionFingerprint: "fp-1",
	}

	outcome, err := r.executor.Execute(ctx, req, func(_ context.Context, acct *accounts.Account) error {
		if acct.ID == "a" {
			return serverError()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if outcome.Account.ID != "b" {
		t.Fatalf("Execute() won with %s, want b", outcome.Account.ID)
	}

	key, _ := req.SessionKey()
	if got := r.sessions.Resolve(ctx, key); got != "b" {
		t.Fatalf("session mapping = %q, want rebound to b", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"401", &UpstreamError{StatusCode: 401}, ClassAuth},
		{"402", &UpstreamError{StatusCode: 402}, ClassAuth},
		{"403", &UpstreamError{StatusCode: 403}, ClassBlocked},
		{"429", &UpstreamError{StatusCode: 429}, ClassRateLimit},
		{"529", &UpstreamError{StatusCode: 529}, ClassOverloaded},
		{"500", &UpstreamError{StatusCode: 500}, ClassServerError},
		{"503", &UpstreamError{StatusCode: 503}, ClassServerError},
		{"400 is fatal", &UpstreamError{StatusCode: 400}, ClassFatal},
		{"404 is fatal", &UpstreamError{StatusCode: 404}, ClassFatal},
		{"context canceled", context.Canceled, ClassClientCancel},
		{"deadline exceeded", context.DeadlineExceeded, ClassNetwork},
		{"wrapped transport", &UpstreamError{Cause: context.DeadlineExceeded}, ClassNetwork},
		{"plain error is fatal", errors.New("boom"), ClassFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Fatalf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}
