package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
)

// autoReleaseTimers keeps one in-process timer per account with a scheduled
// auto-release. The persisted auto_release_at column stays the source of truth;
// RunDueAutoReleases picks up anything a restarted process no longer has a timer for.
type autoReleaseTimers struct {
	mu      sync.Mutex
	enabled bool
	stopped bool
	nowFn   func() time.Time
	fire    func(escrowID string)
	timers  map[string]*time.Timer
}

func newAutoReleaseTimers(enabled bool, nowFn func() time.Time, fire func(escrowID string)) *autoReleaseTimers {
	return &autoReleaseTimers{
		enabled: enabled,
		nowFn:   nowFn,
		fire:    fire,
		timers:  make(map[string]*time.Timer),
	}
}

func (t *autoReleaseTimers) Schedule(escrowID string, at time.Time) {
	if t == nil || !t.enabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if existing, ok := t.timers[escrowID]; ok {
		existing.Stop()
	}
	delay := at.Sub(t.nowFn())
	if delay < 0 {
		delay = 0
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		current, ok := t.timers[escrowID]
		if ok && current == timer {
			delete(t.timers, escrowID)
		}
		t.mu.Unlock()
		if ok && current == timer {
			t.fire(escrowID)
		}
	})
	t.timers[escrowID] = timer
}

func (t *autoReleaseTimers) Cancel(escrowID string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[escrowID]; ok {
		timer.Stop()
		delete(t.timers, escrowID)
	}
}

func (t *autoReleaseTimers) Pending() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

func (t *autoReleaseTimers) Stop() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
}

// syncAutoRelease aligns the in-process timer with the account's persisted schedule.
func (s *Service) syncAutoRelease(account domain.EscrowAccount) {
	if account.AutoReleaseAt == nil || !account.AutoReleaseEligible(*account.AutoReleaseAt) {
		s.timers.Cancel(account.ID)
		return
	}
	s.timers.Schedule(account.ID, *account.AutoReleaseAt)
}

func (s *Service) fireAutoRelease(escrowID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.LockTimeout+s.cfg.CollaboratorTimeout)
	defer cancel()
	if _, _, err := s.AutoRelease(ctx, escrowID); err != nil {
		s.logger.ErrorContext(ctx, "auto-release timer failed",
			"operation", "auto_release",
			"outcome", "failure",
			"escrow_id", escrowID,
			"error", err,
		)
	}
}

// AutoRelease pays the whole available balance to the talent if the account's
// review period has elapsed. It reports false when the account was not eligible
// anymore, for example because it was frozen or disputed in the meantime.
func (s *Service) AutoRelease(ctx context.Context, escrowID string) (result DisbursementResult, released bool, err error) {
	start := time.Now()
	defer func() {
		s.observe("auto_release", start, err)
		if released || err != nil {
			s.logOutcome(ctx, "auto_release", escrowID, err, "amount", result.Transaction.Amount.String())
		}
	}()

	actor := SystemActor("auto-release-" + uuid.NewString())
	result, err = s.release(ctx, actor, releaseRequest{escrowID: escrowID, trigger: releaseTriggerAutoRelease})
	if errors.Is(err, errAutoReleaseNotDue) {
		return result, false, nil
	}
	if err != nil {
		return DisbursementResult{}, false, err
	}
	return result, true, nil
}

// RunDueAutoReleases sweeps accounts whose auto-release time has passed.
func (s *Service) RunDueAutoReleases(ctx context.Context) (int, error) {
	due, err := s.escrows.ListDueAutoRelease(ctx, s.nowFn(), s.cfg.AutoReleaseBatchSize)
	if err != nil {
		return 0, err
	}
	released := 0
	for _, account := range due {
		if ctx.Err() != nil {
			return released, ctx.Err()
		}
		_, ok, err := s.AutoRelease(ctx, account.ID)
		if err != nil {
			continue
		}
		if ok {
			released++
		}
	}
	return released, nil
}

// Close stops all in-process auto-release timers.
func (s *Service) Close() {
	s.timers.Stop()
}
