// Package service implements the rate limiter guarding application
// operations behind the ledger.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"taxtrail/internal/ratelimit/metrics"
	"taxtrail/internal/ratelimit/models"
	"taxtrail/internal/ratelimit/ports"
	"taxtrail/internal/ratelimit/store/ledger"
	dErrors "taxtrail/pkg/domain-errors"
)

const (
	defaultLedgerTimeout    = 3 * time.Second
	defaultFailureThreshold = 5
	defaultSuccessThreshold = 3
	defaultProbeInterval    = 5 * time.Second
)

// Service guards operations behind the ledger. When the ledger is
// unreachable it fails open: availability of the product is prioritized over
// strict quota enforcement while the quota store itself is down. Consecutive
// failures open a circuit breaker that routes checks to an in-memory
// fallback ledger so fail-open never lasts a whole outage.
type Service struct {
	primary  ports.LedgerStore
	fallback ports.LedgerStore
	breaker  *circuitBreaker
	budgets  map[models.Action]models.Budget
	timeout  time.Duration
	security ports.SecurityEmitter
	logger   *slog.Logger
	metrics  *metrics.Metrics

	probeMu    sync.Mutex
	probeEvery time.Duration
	lastProbe  time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithSecurityEmitter wires denied checks into the security event pipeline.
func WithSecurityEmitter(emitter ports.SecurityEmitter) Option {
	return func(s *Service) { s.security = emitter }
}

// WithBudgets overrides the default per-action budgets.
func WithBudgets(budgets map[models.Action]models.Budget) Option {
	return func(s *Service) { s.budgets = budgets }
}

// WithLedgerTimeout bounds a single ledger round trip.
func WithLedgerTimeout(timeout time.Duration) Option {
	return func(s *Service) { s.timeout = timeout }
}

func New(primary ports.LedgerStore, opts ...Option) (*Service, error) {
	if primary == nil {
		return nil, fmt.Errorf("ledger store is required")
	}

	svc := &Service{
		primary:    primary,
		fallback:   ledger.NewInMemoryLedgerStore(),
		breaker:    newCircuitBreaker(defaultFailureThreshold, defaultSuccessThreshold),
		budgets:    models.DefaultBudgets(),
		timeout:    defaultLedgerTimeout,
		probeEvery: defaultProbeInterval,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	return svc, nil
}

// Check consults the ledger using the configured budget for the action.
func (s *Service) Check(ctx context.Context, subject string, action models.Action) (*models.RateLimitResult, error) {
	budget, ok := s.budgets[action]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "no budget configured for action %q", action)
	}
	return s.CheckWith(ctx, subject, action, budget.MaxRequests, budget.Window)
}

// CheckWith consults the ledger with an explicit budget.
//
// A denied result carries RetryAfter so callers can present a cooldown
// notice. A ledger failure never denies: the check is allowed with
// Degraded=true and the degradation is logged and counted.
func (s *Service) CheckWith(ctx context.Context, subject string, action models.Action, maxRequests int, window time.Duration) (*models.RateLimitResult, error) {
	if subject == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "subject is required")
	}
	if window <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "window must be positive")
	}

	if s.breaker.IsOpen() {
		return s.checkFallback(ctx, subject, action, maxRequests, window)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	result, err := s.primary.CheckAndIncrement(ctx, subject, action, maxRequests, window)
	if s.metrics != nil {
		s.metrics.CheckDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}

	if err != nil {
		return s.failOpen(ctx, subject, action, maxRequests, window, err), nil
	}

	if s.breaker.RecordSuccess() {
		s.logger.InfoContext(ctx, "ledger circuit closed, resuming primary checks")
		if s.metrics != nil {
			s.metrics.CircuitOpen.Set(0)
		}
	}

	s.observeOutcome(ctx, subject, action, result, "primary")
	return result, nil
}

// failOpen converts a ledger failure into an allowed, degraded result.
func (s *Service) failOpen(ctx context.Context, subject string, action models.Action, maxRequests int, window time.Duration, err error) *models.RateLimitResult {
	s.logger.WarnContext(ctx, "ledger unreachable, failing open",
		"subject", subject,
		"action", action,
		"error", err,
	)
	if s.metrics != nil {
		s.metrics.LedgerFailures.Inc()
		s.metrics.FailOpenTotal.Inc()
		s.metrics.ObserveCheck(string(action), "fail_open")
	}
	if s.breaker.RecordFailure() {
		s.logger.ErrorContext(ctx, "ledger circuit opened, routing checks to in-memory fallback")
		if s.metrics != nil {
			s.metrics.CircuitOpen.Set(1)
		}
	}
	return &models.RateLimitResult{
		Allowed:   true,
		Limit:     maxRequests,
		Remaining: maxRequests,
		ResetAt:   time.Now().Add(window),
		Degraded:  true,
	}
}

func (s *Service) checkFallback(ctx context.Context, subject string, action models.Action, maxRequests int, window time.Duration) (*models.RateLimitResult, error) {
	// The breaker only closes on primary successes, so probe the primary at
	// most once per interval; every other request pays no ledger latency.
	if s.shouldProbe() {
		probeCtx, cancel := context.WithTimeout(ctx, s.timeout)
		result, err := s.primary.CheckAndIncrement(probeCtx, subject, action, maxRequests, window)
		cancel()
		if err == nil {
			if s.breaker.RecordSuccess() {
				s.logger.InfoContext(ctx, "ledger circuit closed, resuming primary checks")
				if s.metrics != nil {
					s.metrics.CircuitOpen.Set(0)
				}
			}
			s.observeOutcome(ctx, subject, action, result, "primary")
			return result, nil
		}
		s.breaker.RecordFailure()
		if s.metrics != nil {
			s.metrics.LedgerFailures.Inc()
		}
	}
	if s.metrics != nil {
		s.metrics.FallbackChecks.Inc()
	}

	result, fbErr := s.fallback.CheckAndIncrement(ctx, subject, action, maxRequests, window)
	if fbErr != nil {
		// The in-memory store cannot realistically fail; treat it as a plain
		// fail-open if it ever does.
		return s.failOpen(ctx, subject, action, maxRequests, window, fbErr), nil
	}
	result.Degraded = true
	s.observeOutcome(ctx, subject, action, result, "fallback")
	return result, nil
}

func (s *Service) shouldProbe() bool {
	s.probeMu.Lock()
	defer s.probeMu.Unlock()
	if time.Since(s.lastProbe) < s.probeEvery {
		return false
	}
	s.lastProbe = time.Now()
	return true
}

func (s *Service) observeOutcome(ctx context.Context, subject string, action models.Action, result *models.RateLimitResult, source string) {
	outcome := "allowed"
	if !result.Allowed {
		outcome = "denied"
		s.logger.InfoContext(ctx, "rate limit exceeded",
			"subject", subject,
			"action", action,
			"limit", result.Limit,
			"retry_after", result.RetryAfter,
			"source", source,
		)
		if s.security != nil {
			s.security.RateLimitExceeded(ctx, subject, string(action))
		}
	}
	if s.metrics != nil {
		s.metrics.ObserveCheck(string(action), outcome)
	}
}

// ExecuteWithRateLimit runs op only if the check allows it. A blocked check
// returns (nil, CodeRateLimited) and op is never invoked; a zero or negative
// maxRequests therefore always blocks.
func ExecuteWithRateLimit[T any](ctx context.Context, s *Service, subject string, action models.Action, maxRequests int, window time.Duration, op func(context.Context) (T, error)) (*T, error) {
	result, err := s.CheckWith(ctx, subject, action, maxRequests, window)
	if err != nil {
		return nil, err
	}
	if !result.Allowed {
		return nil, dErrors.Newf(dErrors.CodeRateLimited,
			"rate limit exceeded for %s, retry in %ds", action, result.RetryAfter)
	}
	out, err := op(ctx)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ExecuteWithDefaultBudget is ExecuteWithRateLimit using the configured
// budget for the action.
func ExecuteWithDefaultBudget[T any](ctx context.Context, s *Service, subject string, action models.Action, op func(context.Context) (T, error)) (*T, error) {
	budget, ok := s.budgets[action]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "no budget configured for action %q", action)
	}
	return ExecuteWithRateLimit(ctx, s, subject, action, budget.MaxRequests, budget.Window, op)
}
