package domain

import "time"

// Question models an MCQ question with a single correct option index.
type Question struct {
	ID           int64    `json:"id"`
	Prompt       string   `json:"prompt"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"` // zero-based; out of range means no option is correct
	Points       int      `json:"points"`       // defaults to 1 if zero or negative
}

// PointValue returns the question's weight, defaulting to 1.
func (q Question) PointValue() int {
	if q.Points <= 0 {
		return 1
	}
	return q.Points
}

// IsCorrect reports whether the given option index answers the question.
// A stored correct index outside the option list never matches.
func (q Question) IsCorrect(selected int) bool {
	if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
		return false
	}
	return selected == q.CorrectIndex
}

// Quiz is an ordered collection of questions with an optional time limit.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
	// TimeLimit bounds how long an attempt may stay open. Zero or negative
	// means untimed. Serialized in nanoseconds, like any time.Duration.
	TimeLimit time.Duration `json:"timeLimit"`
}

// QuestionByID does a linear scan; quizzes are small.
func (q Quiz) QuestionByID(id int64) (Question, bool) {
	for i := range q.Questions {
		if q.Questions[i].ID == id {
			return q.Questions[i], true
		}
	}
	return Question{}, false
}

// Attempt is one user's run through a quiz, from start to completion.
// Score, EarnedPoints, TotalPoints and CompletedAt are set together, exactly
// once, at submission; they are nil while the attempt is in progress.
type Attempt struct {
	ID        string        `json:"id"`
	UserID    string        `json:"userId"`
	QuizID    string        `json:"quizId"`
	StartedAt time.Time     `json:"startedAt"`
	ExpiresAt *time.Time    `json:"expiresAt,omitempty"`
	Answers   map[int64]int `json:"answers"`

	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	Score        *float64   `json:"score,omitempty"`
	EarnedPoints *int       `json:"earnedPoints,omitempty"`
	TotalPoints  *int       `json:"totalPoints,omitempty"`

	// Version guards concurrent writes; the store rejects updates whose
	// version does not match the stored row.
	Version int64 `json:"-"`
}

// Completed reports whether the attempt has been graded and is terminal.
func (a *Attempt) Completed() bool {
	return a.CompletedAt != nil
}

// ExpiredAt reports whether the attempt's deadline had passed at the given
// instant. Attempts without a deadline never expire.
func (a *Attempt) ExpiredAt(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

// Clone returns a deep copy, so stores can hand out attempts without
// aliasing their internal state.
func (a *Attempt) Clone() *Attempt {
	cp := *a
	if a.Answers != nil {
		cp.Answers = make(map[int64]int, len(a.Answers))
		for id, idx := range a.Answers {
			cp.Answers[id] = idx
		}
	}
	cp.ExpiresAt = cloneTime(a.ExpiresAt)
	cp.CompletedAt = cloneTime(a.CompletedAt)
	if a.Score != nil {
		v := *a.Score
		cp.Score = &v
	}
	if a.EarnedPoints != nil {
		v := *a.EarnedPoints
		cp.EarnedPoints = &v
	}
	if a.TotalPoints != nil {
		v := *a.TotalPoints
		cp.TotalPoints = &v
	}
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
