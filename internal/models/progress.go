package models

import "time"

// LevelProgress is the cumulative record of one learner on one level
type LevelProgress struct {
	LevelID          string     `json:"level_id" bson:"levelId"`
	Completed        bool       `json:"completed" bson:"completed"`
	BestScore        int        `json:"best_score" bson:"bestScore"`
	BestStars        int        `json:"best_stars" bson:"bestStars"`
	Attempts         int        `json:"attempts" bson:"attempts"`
	TotalTimeSpent   int        `json:"total_time_spent" bson:"totalTimeSpent"`
	FirstCompletedAt *time.Time `json:"first_completed_at,omitempty" bson:"firstCompletedAt,omitempty"`
	LastCompletedAt  *time.Time `json:"last_completed_at,omitempty" bson:"lastCompletedAt,omitempty"`
}

// CourseProgress is one learner's progress through one course. The rollup
// fields are always derived from LevelProgress and the course structure.
type CourseProgress struct {
	UserID   string `json:"user_id" bson:"userId"`
	CourseID string `json:"course_id" bson:"courseId"`

	LevelProgress map[string]LevelProgress `json:"level_progress" bson:"levelProgress"`

	CompletedLevels   int        `json:"completed_levels" bson:"completedLevels"`
	TotalLevels       int        `json:"total_levels" bson:"totalLevels"`
	TotalStars        int        `json:"total_stars" bson:"totalStars"`
	TotalScore        int        `json:"total_score" bson:"totalScore"`
	TotalTimeSpent    int        `json:"total_time_spent" bson:"totalTimeSpent"`
	CompletedChapters int        `json:"completed_chapters" bson:"completedChapters"`
	TotalChapters     int        `json:"total_chapters" bson:"totalChapters"`
	IsCompleted       bool       `json:"is_completed" bson:"isCompleted"`
	CompletedAt       *time.Time `json:"completed_at,omitempty" bson:"completedAt,omitempty"`

	AppliedSessions AppliedSessions `json:"-" bson:"appliedSessions"`

	CreatedAt time.Time `json:"created_at" bson:"createdAt"`
	UpdatedAt time.Time `json:"updated_at" bson:"updatedAt"`
	Version   int64     `json:"-" bson:"version"`
}

// NewCourseProgress returns an empty progress record
func NewCourseProgress(userID, courseID string, now time.Time) *CourseProgress {
	return &CourseProgress{
		UserID:        userID,
		CourseID:      courseID,
		LevelProgress: map[string]LevelProgress{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Clone returns a deep copy
func (p *CourseProgress) Clone() *CourseProgress {
	if p == nil {
		return nil
	}
	c := *p
	c.LevelProgress = make(map[string]LevelProgress, len(p.LevelProgress))
	for k, v := range p.LevelProgress {
		c.LevelProgress[k] = v
	}
	c.AppliedSessions = append(AppliedSessions(nil), p.AppliedSessions...)
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// ChapterStructure is a chapter with its ordered levels, as read from the catalog
type ChapterStructure struct {
	Chapter Chapter
	Levels  []LevelRef
}

// ChapterProgress is the per-chapter breakdown of a course
type ChapterProgress struct {
	ChapterID        string `json:"chapter_id"`
	Title            string `json:"title"`
	Order            int    `json:"order"`
	CompletedLevels  int    `json:"completed_levels"`
	TotalLevels      int    `json:"total_levels"`
	TotalStars       int    `json:"total_stars"`
	MaxPossibleStars int    `json:"max_possible_stars"`
	IsCompleted      bool   `json:"is_completed"`
	IsUnlocked       bool   `json:"is_unlocked"`
}

// CourseProgressDetails is a course's progress with its chapter breakdown
type CourseProgressDetails struct {
	*CourseProgress
	Chapters             []ChapterProgress `json:"chapters"`
	CompletionPercentage float64           `json:"completion_percentage"`
}

// AttemptSummary is one completed attempt listed by level progress
type AttemptSummary struct {
	SessionID   string    `json:"session_id"`
	CompletedAt time.Time `json:"completed_at"`
	Score       int       `json:"score"`
	Stars       int       `json:"stars"`
	TimeSpent   int       `json:"time_spent"`
}

// LevelProgressView is a level's cumulative progress plus recent attempts
type LevelProgressView struct {
	LevelID        string           `json:"level_id"`
	IsCompleted    bool             `json:"is_completed"`
	BestScore      int              `json:"best_score"`
	BestStars      int              `json:"best_stars"`
	Attempts       int              `json:"attempts"`
	TotalTimeSpent int              `json:"total_time_spent"`
	RecentAttempts []AttemptSummary `json:"recent_attempts"`
}

// AppliedSessions remembers which session outcomes an aggregate already absorbed,
// bounded to the most recent entries.
type AppliedSessions []string

// Contains reports whether sessionID was applied
func (a AppliedSessions) Contains(sessionID string) bool {
	for _, id := range a {
		if id == sessionID {
			return true
		}
	}
	return false
}

// Add appends sessionID, dropping the oldest entries beyond limit
func (a AppliedSessions) Add(sessionID string, limit int) AppliedSessions {
	out := append(a, sessionID)
	if limit > 0 && len(out) > limit {
		out = append(AppliedSessions(nil), out[len(out)-limit:]...)
	}
	return out
}
