package services

import (
	"context"
	"time"

	"levelquest/internal/config"
	"levelquest/internal/content"
	"levelquest/internal/events"
	"levelquest/internal/models"
	"levelquest/internal/observability"
	"levelquest/internal/store"
	contextutils "levelquest/internal/utils"

	"go.opentelemetry.io/otel/attribute"
)

// StatsOutcome is what a completed session contributes to lifetime statistics
type StatsOutcome struct {
	SessionID           string
	Score               int
	Stars               int
	TimeSpent           int
	LivesLost           int
	CourseJustCompleted bool
	CompletedAt         time.Time
}

// StatsServiceInterface defines the interface for lifetime user statistics
type StatsServiceInterface interface {
	RecordLevelOutcome(ctx context.Context, userID, courseID, levelID string, outcome StatsOutcome) error
	GetUserStats(ctx context.Context, userID string) (*models.UserStats, error)
}

// StatsService maintains UserStats aggregates
type StatsService struct {
	stats    store.StatsStore
	courses  content.CourseCatalog
	notifier *events.Notifier
	cfg      config.GameConfig
	location *time.Location
	logger   *observability.Logger
	metrics  *observability.GameMetrics
	timeNow  func() time.Time
}

var _ StatsServiceInterface = (*StatsService)(nil)

// NewStatsServiceWithLogger creates a stats service. Calendar days are evaluated
// in cfg.Timezone.
func NewStatsServiceWithLogger(stats store.StatsStore, courses content.CourseCatalog, notifier *events.Notifier, cfg config.GameConfig, logger *observability.Logger) *StatsService {
	loc, _ := contextutils.LoadLocationOrUTC(cfg.Timezone)
	return &StatsService{
		stats:    stats,
		courses:  courses,
		notifier: notifier,
		cfg:      withGameDefaults(cfg),
		location: loc,
		logger:   logger,
		metrics:  observability.Game(),
		timeNow:  time.Now,
	}
}

// RecordLevelOutcome implements StatsServiceInterface
func (s *StatsService) RecordLevelOutcome(ctx context.Context, userID, courseID, levelID string, outcome StatsOutcome) (err error) {
	ctx, span := observability.TraceStatsFunction(ctx, "record_level_outcome",
		observability.AttributeUserID(userID),
		observability.AttributeCourseID(courseID),
		observability.AttributeLevelID(levelID),
		observability.AttributeSessionID(outcome.SessionID),
	)
	defer observability.FinishSpan(span, &err)

	course, err := s.courses.GetCourse(ctx, courseID)
	if err != nil {
		return contextutils.WrapErrorf(err, "failed to read category of course %s", courseID)
	}
	at := outcome.CompletedAt
	if at.IsZero() {
		at = s.timeNow().UTC()
	}

	for attempt := 0; attempt < s.cfg.MaxCommitRetries; attempt++ {
		st, expected, err := s.loadOrInit(ctx, userID)
		if err != nil {
			return err
		}
		if st.AppliedSessions.Contains(outcome.SessionID) {
			return nil
		}

		ApplyStatsOutcome(st, course.Category, outcome, at, s.location)
		st.AppliedSessions = st.AppliedSessions.Add(outcome.SessionID, config.AppliedSessionsLimit)
		st.UpdatedAt = s.timeNow().UTC()

		err = s.stats.SaveUserStats(ctx, st, expected)
		if contextutils.IsError(err, contextutils.ErrConflict) {
			s.metrics.CommitConflict(ctx, "user_stats")
			continue
		}
		if err != nil {
			return err
		}

		span.SetAttributes(attribute.Int("stats.current_streak", st.CurrentStreak))
		s.notifier.Notify(ctx, events.Event{
			Type:    events.TypeUserStatsUpdate,
			UserID:  userID,
			Payload: st,
		})
		return nil
	}
	return store.ErrVersionConflict("user stats", userID)
}

func (s *StatsService) loadOrInit(ctx context.Context, userID string) (*models.UserStats, int64, error) {
	st, err := s.stats.GetUserStats(ctx, userID)
	if contextutils.IsError(err, contextutils.ErrRecordNotFound) {
		return models.NewUserStats(userID, s.timeNow().UTC()), 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return st, st.Version, nil
}

// ApplyStatsOutcome folds one completed session into st. at is the moment of the
// activity; streaks and daily buckets use calendar days in loc.
func ApplyStatsOutcome(st *models.UserStats, category models.CourseCategory, outcome StatsOutcome, at time.Time, loc *time.Location) {
	st.TotalLevelsCompleted++
	st.TotalTimeSpent += outcome.TimeSpent
	st.TotalLivesLost += outcome.LivesLost
	st.TotalStarsEarned += outcome.Stars
	st.TotalScore += outcome.Score
	if outcome.CourseJustCompleted {
		st.TotalCoursesCompleted++
	}

	if st.CategoryStats == nil {
		st.CategoryStats = map[string]models.CategoryStats{}
	}
	bucket, ok := st.CategoryStats[string(category)]
	if !ok {
		bucket = models.CategoryStats{Category: category}
	}
	bucket.LevelsCompleted++
	bucket.TotalStars += outcome.Stars
	bucket.TotalScore += outcome.Score
	if outcome.CourseJustCompleted {
		bucket.CoursesCompleted++
	}
	st.CategoryStats[string(category)] = bucket

	UpdateStreak(st, at, loc)

	if st.DailyActivity == nil {
		st.DailyActivity = map[string]models.DailyActivity{}
	}
	day := contextutils.DayKey(at, loc)
	activity, ok := st.DailyActivity[day]
	if !ok {
		activity = models.DailyActivity{Date: day}
	}
	activity.LevelsCompleted++
	activity.TimeSpent += outcome.TimeSpent
	activity.StarsEarned += outcome.Stars
	activity.Score += outcome.Score
	st.DailyActivity[day] = activity

	last := at
	if st.LastActivityDate == nil || at.After(*st.LastActivityDate) {
		st.LastActivityDate = &last
	}
}

// UpdateStreak advances the streak for activity at: the day after the last
// activity extends it, the same day leaves it, anything else restarts it at 1.
func UpdateStreak(st *models.UserStats, at time.Time, loc *time.Location) {
	if st.LastActivityDate == nil {
		st.CurrentStreak = 1
	} else {
		switch days := contextutils.CalendarDaysBetween(*st.LastActivityDate, at, loc); {
		case days == 1:
			st.CurrentStreak++
		case days <= 0 && st.CurrentStreak > 0:
		default:
			st.CurrentStreak = 1
		}
	}
	if st.CurrentStreak > st.LongestStreak {
		st.LongestStreak = st.CurrentStreak
	}
}

// GetUserStats returns the learner's stats; zeroed stats when nothing was recorded
func (s *StatsService) GetUserStats(ctx context.Context, userID string) (result *models.UserStats, err error) {
	ctx, span := observability.TraceStatsFunction(ctx, "get_user_stats", observability.AttributeUserID(userID))
	defer observability.FinishSpan(span, &err)

	st, err := s.stats.GetUserStats(ctx, userID)
	if contextutils.IsError(err, contextutils.ErrRecordNotFound) {
		return models.NewUserStats(userID, s.timeNow().UTC()), nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}
