package models

import (
	"sort"
	"time"
)

// CategoryStats are lifetime totals for one course category
type CategoryStats struct {
	Category         CourseCategory `json:"category" bson:"category"`
	CoursesCompleted int            `json:"courses_completed" bson:"coursesCompleted"`
	LevelsCompleted  int            `json:"levels_completed" bson:"levelsCompleted"`
	TotalStars       int            `json:"total_stars" bson:"totalStars"`
	TotalScore       int            `json:"total_score" bson:"totalScore"`
}

// DailyActivity accumulates one calendar day of completions
type DailyActivity struct {
	Date            string `json:"date" bson:"date"`
	LevelsCompleted int    `json:"levels_completed" bson:"levelsCompleted"`
	TimeSpent       int    `json:"time_spent" bson:"timeSpent"`
	StarsEarned     int    `json:"stars_earned" bson:"starsEarned"`
	Score           int    `json:"score" bson:"score"`
}

// UserStats are a learner's lifetime statistics
type UserStats struct {
	UserID string `json:"user_id" bson:"_id"`

	TotalCoursesCompleted int `json:"total_courses_completed" bson:"totalCoursesCompleted"`
	TotalLevelsCompleted  int `json:"total_levels_completed" bson:"totalLevelsCompleted"`
	TotalTimeSpent        int `json:"total_time_spent" bson:"totalTimeSpent"`
	TotalLivesLost        int `json:"total_lives_lost" bson:"totalLivesLost"`
	TotalStarsEarned      int `json:"total_stars_earned" bson:"totalStarsEarned"`
	TotalScore            int `json:"total_score" bson:"totalScore"`

	CurrentStreak int `json:"current_streak" bson:"currentStreak"`
	LongestStreak int `json:"longest_streak" bson:"longestStreak"`

	// CategoryStats is keyed by category name
	CategoryStats map[string]CategoryStats `json:"category_stats" bson:"categoryStats"`
	// DailyActivity is keyed by calendar day (2006-01-02)
	DailyActivity    map[string]DailyActivity `json:"daily_activity" bson:"dailyActivity"`
	LastActivityDate *time.Time               `json:"last_activity_date,omitempty" bson:"lastActivityDate,omitempty"`

	AppliedSessions AppliedSessions `json:"-" bson:"appliedSessions"`

	CreatedAt time.Time `json:"created_at" bson:"createdAt"`
	UpdatedAt time.Time `json:"updated_at" bson:"updatedAt"`
	Version   int64     `json:"-" bson:"version"`
}

// NewUserStats returns zeroed stats for a learner
func NewUserStats(userID string, now time.Time) *UserStats {
	return &UserStats{
		UserID:        userID,
		CategoryStats: map[string]CategoryStats{},
		DailyActivity: map[string]DailyActivity{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Clone returns a deep copy
func (s *UserStats) Clone() *UserStats {
	if s == nil {
		return nil
	}
	c := *s
	c.CategoryStats = make(map[string]CategoryStats, len(s.CategoryStats))
	for k, v := range s.CategoryStats {
		c.CategoryStats[k] = v
	}
	c.DailyActivity = make(map[string]DailyActivity, len(s.DailyActivity))
	for k, v := range s.DailyActivity {
		c.DailyActivity[k] = v
	}
	c.AppliedSessions = append(AppliedSessions(nil), s.AppliedSessions...)
	if s.LastActivityDate != nil {
		t := *s.LastActivityDate
		c.LastActivityDate = &t
	}
	return &c
}

// SortedDailyActivity returns the daily buckets oldest first
func (s *UserStats) SortedDailyActivity() []DailyActivity {
	out := make([]DailyActivity, 0, len(s.DailyActivity))
	for _, d := range s.DailyActivity {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}
