package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

// Event is the wire form of a completion notification.
type Event struct {
	AttemptID    string    `json:"attemptId"`
	UserID       string    `json:"userId"`
	QuizID       string    `json:"quizId"`
	Score        float64   `json:"score"`
	EarnedPoints int       `json:"earnedPoints"`
	TotalPoints  int       `json:"totalPoints"`
	CompletedAt  time.Time `json:"completedAt"`
}

// EventFromAttempt flattens a completed attempt into its notification form.
func EventFromAttempt(attempt domain.Attempt) Event {
	event := Event{
		AttemptID: attempt.ID,
		UserID:    attempt.UserID,
		QuizID:    attempt.QuizID,
	}
	if attempt.Score != nil {
		event.Score = *attempt.Score
	}
	if attempt.EarnedPoints != nil {
		event.EarnedPoints = *attempt.EarnedPoints
	}
	if attempt.TotalPoints != nil {
		event.TotalPoints = *attempt.TotalPoints
	}
	if attempt.CompletedAt != nil {
		event.CompletedAt = *attempt.CompletedAt
	}
	return event
}

// LogNotifier writes completion events to the structured log. It is the
// always-on sink; real delivery channels stack on top via Multi.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) NotifyCompletion(_ context.Context, attempt domain.Attempt) error {
	event := EventFromAttempt(attempt)
	n.log.Info("attempt completion",
		"attemptId", event.AttemptID, "userId", event.UserID,
		"quizId", event.QuizID, "score", event.Score,
		"earned", event.EarnedPoints, "total", event.TotalPoints)
	return nil
}

type multi []app.Notifier

// Multi fans a completion event out to every sink. Each sink is attempted
// even when an earlier one fails; errors are joined.
func Multi(sinks ...app.Notifier) app.Notifier {
	return multi(sinks)
}

func (m multi) NotifyCompletion(ctx context.Context, attempt domain.Attempt) error {
	var errs []error
	for _, sink := range m {
		if err := sink.NotifyCompletion(ctx, attempt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
