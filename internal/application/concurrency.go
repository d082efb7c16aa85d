package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
)

func escrowLockKey(escrowID string) string { return "escrow:" + escrowID }

// withAccountLock runs fn while holding the account's writer lock. Lock timeouts
// and version mismatches surface as ErrConcurrencyConflict and are retried a
// bounded number of times with jittered exponential backoff.
func (s *Service) withAccountLock(ctx context.Context, operation, escrowID string, fn func(ctx context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.ConflictBackoff
	policy.RandomizationFactor = 0.5
	policy.Multiplier = 2
	policy.MaxInterval = 20 * s.cfg.ConflictBackoff
	policy.MaxElapsedTime = 0

	attempt := func() error {
		err := s.lockOnce(ctx, escrowID, fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrConcurrencyConflict) && ctx.Err() == nil {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		s.metrics.IncConflictRetry(operation)
		s.logger.WarnContext(ctx, "escrow write conflict; retrying",
			"operation", operation,
			"outcome", "retry",
			"escrow_id", escrowID,
			"backoff_ms", wait.Milliseconds(),
			"error", err.Error(),
		)
	}
	return backoff.RetryNotify(attempt, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.cfg.ConflictRetries)), ctx), notify)
}

func (s *Service) lockOnce(ctx context.Context, escrowID string, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	start := time.Now()
	lockCtx, cancel := context.WithTimeout(ctx, s.cfg.LockTimeout)
	unlock, err := s.locker.Lock(lockCtx, escrowLockKey(escrowID))
	cancel()
	if err != nil {
		s.metrics.ObserveLockWait("timeout", time.Since(start))
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: timed out waiting for escrow %s: %v", domain.ErrConcurrencyConflict, escrowID, err)
	}
	s.metrics.ObserveLockWait("acquired", time.Since(start))
	defer unlock()
	return fn(ctx)
}
