package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultRefreshThreshold is the lead time before expiry at which the
// background refresh fires.
const DefaultRefreshThreshold = 5 * time.Minute

// Scheduler arms a timer that triggers a background token refresh before
// the access token expires. At most one timer is pending at a time:
// re-arming replaces the previous timer, never stacks a second one.
type Scheduler struct {
	mu    sync.Mutex
	timer *time.Timer
	// gen invalidates a fired AfterFunc that lost the race with Cancel or a
	// re-arm: the callback compares its generation before doing anything.
	gen uint64

	threshold time.Duration
	refresh   func(ctx context.Context) (string, error)
	logger    *slog.Logger
}

// NewScheduler creates a scheduler that invokes refresh threshold before
// expiry. A zero threshold selects DefaultRefreshThreshold.
func NewScheduler(threshold time.Duration, refresh func(ctx context.Context) (string, error), logger *slog.Logger) *Scheduler {
	if threshold <= 0 {
		threshold = DefaultRefreshThreshold
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		threshold: threshold,
		refresh:   refresh,
		logger:    logger,
	}
}

// Schedule arms the refresh timer for a token that expires in expiresIn.
// Any previously pending timer is canceled first. When expiresIn is within
// the threshold no timer is armed — the session is too short-lived to
// pre-refresh.
func (s *Scheduler) Schedule(expiresIn time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked()

	if expiresIn <= s.threshold {
		s.logger.Debug("not arming refresh timer",
			slog.Duration("expires_in", expiresIn),
			slog.Duration("threshold", s.threshold),
		)

		return
	}

	delay := expiresIn - s.threshold
	gen := s.gen

	s.timer = time.AfterFunc(delay, func() { s.fire(gen) })

	s.logger.Debug("refresh timer armed", slog.Duration("delay", delay))
}

// fire runs the background refresh unless the timer was canceled or
// replaced after the callback was already dispatched.
func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()

	if gen != s.gen {
		s.mu.Unlock()
		return
	}

	s.timer = nil
	s.mu.Unlock()

	// Fire-and-forget: nobody is waiting on this refresh, so a failure is
	// only recorded. The next on-demand caller starts a fresh attempt.
	if _, err := s.refresh(context.Background()); err != nil {
		s.logger.Warn("scheduled refresh failed", slog.String("error", err.Error()))
	}
}

// Cancel deterministically prevents a previously armed timer from firing.
// Idempotent.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked()
}

func (s *Scheduler) cancelLocked() {
	s.gen++

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
