package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"quiz-attempt-service/internal/domain"
)

// Sweeper periodically force-completes attempts whose deadline has passed,
// grading whatever answers were stored so far. It goes through the same
// submission path a user-initiated submit would use.
type Sweeper struct {
	attempts AttemptRepository
	service  *AttemptService
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time
}

func NewSweeper(attempts AttemptRepository, service *AttemptService, interval time.Duration, log *slog.Logger) *Sweeper {
	return NewSweeperWithClock(attempts, service, interval, log, time.Now)
}

// NewSweeperWithClock allows deterministic expiry checks in tests.
func NewSweeperWithClock(attempts AttemptRepository, service *AttemptService, interval time.Duration, log *slog.Logger, now func() time.Time) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		attempts: attempts,
		service:  service,
		interval: interval,
		log:      log,
		now:      now,
	}
}

// Run ticks until the context is cancelled. Worst-case staleness of a forced
// completion equals the tick interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("expiry sweeper running", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep force-completes every expired in-progress attempt once. A failure on
// one attempt never blocks the rest; losing a race to a concurrent user
// submission is not a failure.
func (s *Sweeper) Sweep(ctx context.Context) int {
	attempts, err := s.attempts.FindAll(ctx)
	if err != nil {
		s.log.Error("sweep: loading attempts failed", "error", err)
		return 0
	}

	now := s.now()
	completed := 0
	for _, attempt := range attempts {
		if attempt.Completed() || !attempt.ExpiredAt(now) {
			continue
		}
		if _, err := s.service.Submit(ctx, attempt.ID, storedAnswers(attempt)); err != nil {
			if errors.Is(err, domain.ErrAttemptCompleted) || errors.Is(err, domain.ErrAttemptConflict) {
				// A user submission got there first.
				continue
			}
			s.log.Error("sweep: force completion failed",
				"attemptId", attempt.ID, "error", err)
			continue
		}
		completed++
		s.log.Info("sweep: attempt force-completed",
			"attemptId", attempt.ID, "expiresAt", attempt.ExpiresAt)
	}
	return completed
}

// storedAnswers re-shapes the attempt's saved answers into the submission
// form Submit expects.
func storedAnswers(attempt *domain.Attempt) map[int64]*int {
	answers := make(map[int64]*int, len(attempt.Answers))
	for questionID, index := range attempt.Answers {
		index := index
		answers[questionID] = &index
	}
	return answers
}
