package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"quiz-attempt-service/internal/domain"
)

// notifyTimeout bounds how long a completion notification may run off the
// critical submission path.
const notifyTimeout = 5 * time.Second

// AttemptRepository abstracts durable attempt storage (in-memory, Postgres).
type AttemptRepository interface {
	Create(ctx context.Context, attempt *domain.Attempt) error
	// Update persists the attempt if its Version still matches the stored
	// row, bumping the version on success. A stale version yields
	// domain.ErrAttemptConflict.
	Update(ctx context.Context, attempt *domain.Attempt) error
	FindByID(ctx context.Context, id string) (*domain.Attempt, error)
	FindAll(ctx context.Context) ([]*domain.Attempt, error)
	FindByUser(ctx context.Context, userID string) ([]*domain.Attempt, error)
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// Notifier receives completed attempts. Implementations must tolerate being
// called concurrently; failures are logged by the engine, never surfaced.
type Notifier interface {
	NotifyCompletion(ctx context.Context, attempt domain.Attempt) error
}

// AttemptService owns the attempt lifecycle: starting with a deadline,
// grading submissions, and force completion via the sweeper.
type AttemptService struct {
	attempts AttemptRepository
	quizzes  QuizRepository
	notifier Notifier
	log      *slog.Logger
	now      func() time.Time
	newID    func() string
}

func NewAttemptService(attempts AttemptRepository, quizzes QuizRepository, notifier Notifier, log *slog.Logger) *AttemptService {
	return NewAttemptServiceWithClock(attempts, quizzes, notifier, log, time.Now)
}

// NewAttemptServiceWithClock allows deterministic timestamps in tests.
func NewAttemptServiceWithClock(attempts AttemptRepository, quizzes QuizRepository, notifier Notifier, log *slog.Logger, now func() time.Time) *AttemptService {
	if log == nil {
		log = slog.Default()
	}
	return &AttemptService{
		attempts: attempts,
		quizzes:  quizzes,
		notifier: notifier,
		log:      log,
		now:      now,
		newID:    uuid.NewString,
	}
}

// StartAttempt creates a new in-progress attempt for the user. The deadline
// is computed server-side from the quiz time limit; untimed quizzes produce
// attempts that never expire.
func (s *AttemptService) StartAttempt(ctx context.Context, userID, quizID string) (*domain.Attempt, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	attempt := &domain.Attempt{
		ID:        s.newID(),
		UserID:    userID,
		QuizID:    quiz.ID,
		StartedAt: now,
		Answers:   map[int64]int{},
	}
	if quiz.TimeLimit > 0 {
		deadline := now.Add(quiz.TimeLimit)
		attempt.ExpiresAt = &deadline
	}

	if err := s.attempts.Create(ctx, attempt); err != nil {
		return nil, err
	}
	s.log.Info("attempt started",
		"attemptId", attempt.ID, "userId", userID, "quizId", quiz.ID,
		"expiresAt", attempt.ExpiresAt)
	return attempt, nil
}

// Submit grades the attempt against the quiz's current question set and
// marks it completed. Expiry does not block submission: answers handed in
// after the deadline are still graded. Invalid answers (unknown question,
// nil index, index outside the option list) are dropped, not rejected.
// A completed attempt cannot be re-submitted.
func (s *AttemptService) Submit(ctx context.Context, attemptID string, answers map[int64]*int) (*domain.Attempt, error) {
	attempt, err := s.attempts.FindByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.Completed() {
		return nil, domain.ErrAttemptCompleted
	}

	quiz, err := s.quizzes.GetQuiz(ctx, attempt.QuizID)
	if err != nil {
		return nil, err
	}

	attempt.Answers = filterAnswers(quiz, answers)
	earned, total, score := scoreAttempt(quiz, attempt.Answers)

	now := s.now()
	attempt.CompletedAt = &now
	attempt.EarnedPoints = &earned
	attempt.TotalPoints = &total
	attempt.Score = &score

	if err := s.attempts.Update(ctx, attempt); err != nil {
		return nil, err
	}
	s.log.Info("attempt completed",
		"attemptId", attempt.ID, "quizId", quiz.ID,
		"score", score, "earned", earned, "total", total)

	s.notifyAsync(*attempt.Clone())
	return attempt, nil
}

// SaveAnswers records in-progress answers without grading, so a timed-out
// attempt can still be scored on what was handed in before the deadline.
// The same leniency as Submit applies: invalid entries are dropped. Saved
// answers merge over previously saved ones per question.
func (s *AttemptService) SaveAnswers(ctx context.Context, attemptID string, answers map[int64]*int) (*domain.Attempt, error) {
	attempt, err := s.attempts.FindByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.Completed() {
		return nil, domain.ErrAttemptCompleted
	}

	quiz, err := s.quizzes.GetQuiz(ctx, attempt.QuizID)
	if err != nil {
		return nil, err
	}

	if attempt.Answers == nil {
		attempt.Answers = map[int64]int{}
	}
	for questionID, selected := range filterAnswers(quiz, answers) {
		attempt.Answers[questionID] = selected
	}

	if err := s.attempts.Update(ctx, attempt); err != nil {
		return nil, err
	}
	return attempt, nil
}

// GetAttempt loads a single attempt by id.
func (s *AttemptService) GetAttempt(ctx context.Context, attemptID string) (*domain.Attempt, error) {
	return s.attempts.FindByID(ctx, attemptID)
}

// AttemptsForUser lists the user's attempts, in progress and completed.
func (s *AttemptService) AttemptsForUser(ctx context.Context, userID string) ([]*domain.Attempt, error) {
	return s.attempts.FindByUser(ctx, userID)
}

// notifyAsync delivers the completion event off the submission path. Grading
// already succeeded at this point; notifier errors are only logged.
func (s *AttemptService) notifyAsync(attempt domain.Attempt) {
	if s.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.notifier.NotifyCompletion(ctx, attempt); err != nil {
			s.log.Warn("completion notification failed",
				"attemptId", attempt.ID, "error", err)
		}
	}()
}

// filterAnswers keeps only answers that reference a question in the quiz
// and select an index inside that question's option list.
func filterAnswers(quiz domain.Quiz, answers map[int64]*int) map[int64]int {
	kept := make(map[int64]int, len(answers))
	for questionID, selected := range answers {
		if selected == nil {
			continue
		}
		question, ok := quiz.QuestionByID(questionID)
		if !ok {
			continue
		}
		if *selected < 0 || *selected >= len(question.Options) {
			continue
		}
		kept[questionID] = *selected
	}
	return kept
}

// scoreAttempt walks every question in the quiz, so the total reflects the
// full question set regardless of how many were answered. No partial credit.
func scoreAttempt(quiz domain.Quiz, answers map[int64]int) (earned, total int, score float64) {
	for _, question := range quiz.Questions {
		points := question.PointValue()
		total += points
		if selected, ok := answers[question.ID]; ok && question.IsCorrect(selected) {
			earned += points
		}
	}
	if total > 0 {
		score = float64(earned) / float64(total) * 100
	}
	return earned, total, score
}
