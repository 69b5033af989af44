package models

import (
	"math"
	"time"
)

// SessionStatus is the lifecycle state of a game session
type SessionStatus string

// Session statuses; every status but active is terminal
const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusAbandoned SessionStatus = "abandoned"
	SessionStatusExpired   SessionStatus = "expired"
)

// IsTerminal reports whether no further transition may leave s
func (s SessionStatus) IsTerminal() bool {
	return s != SessionStatusActive
}

// Game rules
const (
	MaxLives          = 3
	PointsPerQuestion = 100
)

// AnsweredQuestion records an accepted answer
type AnsweredQuestion struct {
	QuestionIndex int       `json:"question_index" bson:"questionIndex"`
	IsCorrect     bool      `json:"is_correct" bson:"isCorrect"`
	UserAnswer    Answer    `json:"user_answer" bson:"userAnswer"`
	TimeSpent     int       `json:"time_spent" bson:"timeSpent"`
	AnsweredAt    time.Time `json:"answered_at" bson:"answeredAt"`
}

// Session is one attempt of one learner at one level
type Session struct {
	ID        string `json:"id" bson:"_id"`
	UserID    string `json:"user_id" bson:"userId"`
	LevelID   string `json:"level_id" bson:"levelId"`
	ChapterID string `json:"chapter_id" bson:"chapterId"`
	CourseID  string `json:"course_id" bson:"courseId"`

	Lives             int                `json:"lives" bson:"lives"`
	AnsweredQuestions []AnsweredQuestion `json:"answered_questions" bson:"answeredQuestions"`
	Score             int                `json:"score" bson:"score"`
	MaxScore          int                `json:"max_score" bson:"maxScore"`
	Stars             int                `json:"stars" bson:"stars"`
	QuestionCount     int                `json:"question_count" bson:"questionCount"`

	Status    SessionStatus `json:"status" bson:"status"`
	StartTime time.Time     `json:"start_time" bson:"startTime"`
	EndTime   *time.Time    `json:"end_time,omitempty" bson:"endTime,omitempty"`

	// Aggregated is set once course progress and user stats absorbed a completed session
	Aggregated bool `json:"-" bson:"aggregated"`
	// Version is bumped by every write and guards conditional updates
	Version int64 `json:"-" bson:"version"`
}

// NewSession builds a fresh active session for a level
func NewSession(id, userID string, level *Level, now time.Time) *Session {
	return &Session{
		ID:                id,
		UserID:            userID,
		LevelID:           level.ID,
		ChapterID:         level.ChapterID,
		CourseID:          level.CourseID,
		Lives:             MaxLives,
		AnsweredQuestions: []AnsweredQuestion{},
		MaxScore:          len(level.Questions) * PointsPerQuestion,
		QuestionCount:     len(level.Questions),
		Status:            SessionStatusActive,
		StartTime:         now,
	}
}

// IsExpired reports whether an active session outlived ttl at now
func (s *Session) IsExpired(now time.Time, ttl time.Duration) bool {
	return s.Status == SessionStatusActive && now.Sub(s.StartTime) > ttl
}

// HasCorrectAnswer reports whether questionIndex was already answered correctly
func (s *Session) HasCorrectAnswer(questionIndex int) bool {
	for _, a := range s.AnsweredQuestions {
		if a.QuestionIndex == questionIndex && a.IsCorrect {
			return true
		}
	}
	return false
}

// CorrectCount returns the number of distinct correctly answered questions
func (s *Session) CorrectCount() int {
	seen := make(map[int]struct{}, len(s.AnsweredQuestions))
	for _, a := range s.AnsweredQuestions {
		if a.IsCorrect {
			seen[a.QuestionIndex] = struct{}{}
		}
	}
	return len(seen)
}

// LivesLost returns how many lives the session has used
func (s *Session) LivesLost() int {
	return MaxLives - s.Lives
}

// TimeSpentSeconds is the wall time between start and end (or now for open sessions)
func (s *Session) TimeSpentSeconds(now time.Time) int {
	end := now
	if s.EndTime != nil {
		end = *s.EndTime
	}
	secs := int(math.Round(end.Sub(s.StartTime).Seconds()))
	if secs < 0 {
		return 0
	}
	return secs
}

// StarsForLives maps the lives left at completion to a star rating
func StarsForLives(lives int) int {
	switch {
	case lives >= 3:
		return 3
	case lives == 2:
		return 2
	default:
		return 1
	}
}

// Clone returns a deep copy so callers can mutate without sharing slices
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.AnsweredQuestions = make([]AnsweredQuestion, len(s.AnsweredQuestions))
	copy(c.AnsweredQuestions, s.AnsweredQuestions)
	if s.EndTime != nil {
		end := *s.EndTime
		c.EndTime = &end
	}
	return &c
}

// QuestionResult is returned for each applied answer or skip
type QuestionResult struct {
	SessionID      string        `json:"session_id"`
	IsCorrect      bool          `json:"is_correct"`
	LivesRemaining int           `json:"lives_remaining"`
	CorrectAnswer  []string      `json:"correct_answer"`
	IsLastQuestion bool          `json:"is_last_question"`
	Score          int           `json:"score"`
	Status         SessionStatus `json:"status"`
}

// CompletedSessionSummary is the post-game report for a completed session
type CompletedSessionSummary struct {
	SessionID          string    `json:"session_id"`
	LevelID            string    `json:"level_id"`
	Score              int       `json:"score"`
	MaxScore           int       `json:"max_score"`
	Stars              int       `json:"stars"`
	CorrectAnswers     int       `json:"correct_answers"`
	TotalQuestions     int       `json:"total_questions"`
	LivesRemaining     int       `json:"lives_remaining"`
	TimeSpent          int       `json:"time_spent"`
	IsNewHighScore     bool      `json:"is_new_high_score"`
	NextLevelID        *string   `json:"next_level_id"`
	IsChapterCompleted bool      `json:"is_chapter_completed"`
	IsCourseCompleted  bool      `json:"is_course_completed"`
	CompletedAt        time.Time `json:"completed_at"`
}

// SessionFilter selects sessions for history queries
type SessionFilter struct {
	UserID   string
	LevelID  string
	CourseID string
	Status   SessionStatus
	// ExcludeID drops one session from the result, e.g. the one being summarized
	ExcludeID string
	// NewestFirst orders by end time descending instead of start time ascending
	NewestFirst bool
	Limit       int
}
