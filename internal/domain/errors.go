package domain

import "errors"

var (
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrAttemptNotFound is returned when an attempt id does not resolve.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrAttemptCompleted is returned when submitting an already-graded attempt.
	ErrAttemptCompleted = errors.New("attempt already completed")
	// ErrAttemptConflict is returned to the loser of a concurrent write race.
	ErrAttemptConflict = errors.New("attempt modified concurrently")
)
