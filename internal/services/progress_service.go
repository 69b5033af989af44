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

// LevelOutcome is what a completed session contributes to course progress
type LevelOutcome struct {
	SessionID   string
	Score       int
	Stars       int
	TimeSpent   int
	CompletedAt time.Time
}

// ProgressServiceInterface defines the interface for per-course progress
type ProgressServiceInterface interface {
	// RecordLevelOutcome folds a completed session into the learner's course
	// progress and reports whether this session completed the course.
	RecordLevelOutcome(ctx context.Context, courseID, userID, levelID string, outcome LevelOutcome) (bool, error)
	GetCourseProgress(ctx context.Context, courseID, userID string) (*models.CourseProgress, error)
	GetCourseProgressDetails(ctx context.Context, courseID, userID string) (*models.CourseProgressDetails, error)
	GetLevelProgress(ctx context.Context, levelID, userID string) (*models.LevelProgressView, error)
	ListPlayingCourses(ctx context.Context, userID string) ([]*models.CourseProgress, error)
	ListCompletedCourses(ctx context.Context, userID string) ([]*models.CourseProgress, error)
}

// ProgressService maintains CourseProgress aggregates
type ProgressService struct {
	progress store.ProgressStore
	sessions store.SessionStore
	catalog  content.Catalog
	notifier *events.Notifier
	cfg      config.GameConfig
	logger   *observability.Logger
	metrics  *observability.GameMetrics
	timeNow  func() time.Time
}

var _ ProgressServiceInterface = (*ProgressService)(nil)

// NewProgressServiceWithLogger creates a progress service
func NewProgressServiceWithLogger(progress store.ProgressStore, sessions store.SessionStore, catalog content.Catalog, notifier *events.Notifier, cfg config.GameConfig, logger *observability.Logger) *ProgressService {
	return &ProgressService{
		progress: progress,
		sessions: sessions,
		catalog:  catalog,
		notifier: notifier,
		cfg:      withGameDefaults(cfg),
		logger:   logger,
		metrics:  observability.Game(),
		timeNow:  time.Now,
	}
}

// RecordLevelOutcome implements ProgressServiceInterface
func (s *ProgressService) RecordLevelOutcome(ctx context.Context, courseID, userID, levelID string, outcome LevelOutcome) (justCompleted bool, err error) {
	ctx, span := observability.TraceProgressFunction(ctx, "record_level_outcome",
		observability.AttributeCourseID(courseID),
		observability.AttributeUserID(userID),
		observability.AttributeLevelID(levelID),
		observability.AttributeSessionID(outcome.SessionID),
	)
	defer observability.FinishSpan(span, &err)

	if outcome.CompletedAt.IsZero() {
		outcome.CompletedAt = s.timeNow().UTC()
	}

	structure, err := content.CourseStructure(ctx, s.catalog, courseID, userID)
	if err != nil {
		return false, contextutils.WrapErrorf(err, "failed to read structure of course %s", courseID)
	}

	for attempt := 0; attempt < s.cfg.MaxCommitRetries; attempt++ {
		p, expected, err := s.loadOrInit(ctx, courseID, userID)
		if err != nil {
			return false, err
		}

		if p.AppliedSessions.Contains(outcome.SessionID) {
			// replay after a partial failure: report the completion this session caused, if any
			return p.CompletedAt != nil && sameInstant(*p.CompletedAt, outcome.CompletedAt), nil
		}

		wasCompleted := p.CompletedAt != nil
		ApplyLevelOutcome(p, levelID, outcome)
		RecomputeRollups(p, structure, outcome.CompletedAt)
		p.AppliedSessions = p.AppliedSessions.Add(outcome.SessionID, config.AppliedSessionsLimit)
		p.UpdatedAt = s.timeNow().UTC()

		err = s.progress.SaveCourseProgress(ctx, p, expected)
		if contextutils.IsError(err, contextutils.ErrConflict) {
			s.metrics.CommitConflict(ctx, "course_progress")
			continue
		}
		if err != nil {
			return false, err
		}

		justCompleted = !wasCompleted && p.CompletedAt != nil
		span.SetAttributes(
			attribute.Bool("progress.course_just_completed", justCompleted),
			attribute.Int("progress.completed_levels", p.CompletedLevels),
		)
		s.notifyUpdated(ctx, p, levelID)
		return justCompleted, nil
	}

	return false, store.ErrVersionConflict("course progress", courseID)
}

func (s *ProgressService) loadOrInit(ctx context.Context, courseID, userID string) (*models.CourseProgress, int64, error) {
	p, err := s.progress.GetCourseProgress(ctx, userID, courseID)
	if contextutils.IsError(err, contextutils.ErrRecordNotFound) {
		return models.NewCourseProgress(userID, courseID, s.timeNow().UTC()), 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return p, p.Version, nil
}

func (s *ProgressService) notifyUpdated(ctx context.Context, p *models.CourseProgress, levelID string) {
	s.notifier.Notify(ctx, events.Event{
		Type:     events.TypeLevelProgressUpdate,
		UserID:   p.UserID,
		LevelID:  levelID,
		CourseID: p.CourseID,
		Payload:  p.LevelProgress[levelID],
	})
	s.notifier.Notify(ctx, events.Event{
		Type:     events.TypeCourseProgressUpdate,
		UserID:   p.UserID,
		CourseID: p.CourseID,
		Payload:  p,
	})
}

// ApplyLevelOutcome upserts the level entry of p for one session outcome
func ApplyLevelOutcome(p *models.CourseProgress, levelID string, outcome LevelOutcome) {
	if p.LevelProgress == nil {
		p.LevelProgress = map[string]models.LevelProgress{}
	}
	entry, ok := p.LevelProgress[levelID]
	if !ok {
		entry = models.LevelProgress{LevelID: levelID}
	}

	entry.Attempts++
	entry.TotalTimeSpent += outcome.TimeSpent
	if outcome.Score > entry.BestScore {
		entry.BestScore = outcome.Score
	}
	if outcome.Stars > entry.BestStars {
		entry.BestStars = outcome.Stars
	}
	if outcome.Score > 0 {
		at := outcome.CompletedAt
		if !entry.Completed {
			entry.Completed = true
			first := at
			entry.FirstCompletedAt = &first
		}
		entry.LastCompletedAt = &at
	}
	p.LevelProgress[levelID] = entry
}

// RecomputeRollups derives every course-level total of p from its level entries
// and the course structure. It stamps CompletedAt with at the first time the
// course is fully completed.
func RecomputeRollups(p *models.CourseProgress, structure []models.ChapterStructure, at time.Time) {
	totalLevels, completedLevels, totalStars, completedChapters := 0, 0, 0, 0
	totalScore, totalTime := 0, 0
	for _, ch := range structure {
		done := 0
		for _, l := range ch.Levels {
			entry, ok := p.LevelProgress[l.ID]
			if !ok {
				continue
			}
			totalStars += entry.BestStars
			totalScore += entry.BestScore
			totalTime += entry.TotalTimeSpent
			if entry.Completed {
				done++
			}
		}
		totalLevels += len(ch.Levels)
		completedLevels += done
		if len(ch.Levels) > 0 && done == len(ch.Levels) {
			completedChapters++
		}
	}

	p.TotalLevels = totalLevels
	p.CompletedLevels = completedLevels
	p.TotalStars = totalStars
	p.TotalChapters = len(structure)
	p.CompletedChapters = completedChapters
	p.TotalScore = totalScore
	p.TotalTimeSpent = totalTime
	p.IsCompleted = totalLevels > 0 && completedLevels == totalLevels
	if p.IsCompleted && p.CompletedAt == nil {
		stamp := at
		p.CompletedAt = &stamp
	}
}

// ChapterBreakdown computes per-chapter progress. A chapter is unlocked when it
// is the first one or its predecessor is completed.
func ChapterBreakdown(p *models.CourseProgress, structure []models.ChapterStructure) []models.ChapterProgress {
	out := make([]models.ChapterProgress, 0, len(structure))
	previousCompleted := true
	for i, ch := range structure {
		cp := models.ChapterProgress{
			ChapterID:        ch.Chapter.ID,
			Title:            ch.Chapter.Title,
			Order:            ch.Chapter.Order,
			TotalLevels:      len(ch.Levels),
			MaxPossibleStars: len(ch.Levels) * models.MaxLives,
		}
		if p != nil {
			for _, l := range ch.Levels {
				entry, ok := p.LevelProgress[l.ID]
				if !ok {
					continue
				}
				cp.TotalStars += entry.BestStars
				if entry.Completed {
					cp.CompletedLevels++
				}
			}
		}
		cp.IsCompleted = cp.TotalLevels > 0 && cp.CompletedLevels == cp.TotalLevels
		cp.IsUnlocked = i == 0 || previousCompleted
		previousCompleted = cp.IsCompleted
		out = append(out, cp)
	}
	return out
}

// GetCourseProgress returns the learner's progress, or NotFound if never played
func (s *ProgressService) GetCourseProgress(ctx context.Context, courseID, userID string) (result *models.CourseProgress, err error) {
	ctx, span := observability.TraceProgressFunction(ctx, "get_course_progress",
		observability.AttributeCourseID(courseID),
		observability.AttributeUserID(userID),
	)
	defer observability.FinishSpan(span, &err)

	if err := s.checkCourseAccess(ctx, courseID, userID); err != nil {
		return nil, err
	}
	return s.progress.GetCourseProgress(ctx, userID, courseID)
}

func (s *ProgressService) checkCourseAccess(ctx context.Context, courseID, userID string) error {
	course, err := s.catalog.GetCourse(ctx, courseID)
	if err != nil {
		return err
	}
	if !course.CanBeReadBy(userID) {
		return contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "course %s not found", courseID)
	}
	return nil
}

// GetCourseProgressDetails returns progress with its chapter breakdown. A course
// never played yields zeroed progress.
func (s *ProgressService) GetCourseProgressDetails(ctx context.Context, courseID, userID string) (result *models.CourseProgressDetails, err error) {
	ctx, span := observability.TraceProgressFunction(ctx, "get_course_progress_details",
		observability.AttributeCourseID(courseID),
		observability.AttributeUserID(userID),
	)
	defer observability.FinishSpan(span, &err)

	structure, err := content.CourseStructure(ctx, s.catalog, courseID, userID)
	if err != nil {
		return nil, err
	}

	p, err := s.progress.GetCourseProgress(ctx, userID, courseID)
	if contextutils.IsError(err, contextutils.ErrRecordNotFound) {
		p = models.NewCourseProgress(userID, courseID, s.timeNow().UTC())
		RecomputeRollups(p, structure, s.timeNow().UTC())
	} else if err != nil {
		return nil, err
	}

	details := &models.CourseProgressDetails{
		CourseProgress: p,
		Chapters:       ChapterBreakdown(p, structure),
	}
	if p.TotalLevels > 0 {
		details.CompletionPercentage = float64(p.CompletedLevels) * 100 / float64(p.TotalLevels)
	}
	return details, nil
}

// GetLevelProgress returns the level's cumulative entry and the most recent
// completed attempts
func (s *ProgressService) GetLevelProgress(ctx context.Context, levelID, userID string) (result *models.LevelProgressView, err error) {
	ctx, span := observability.TraceProgressFunction(ctx, "get_level_progress",
		observability.AttributeLevelID(levelID),
		observability.AttributeUserID(userID),
	)
	defer observability.FinishSpan(span, &err)

	level, err := s.catalog.GetLevel(ctx, levelID, userID)
	if err != nil {
		return nil, err
	}

	view := &models.LevelProgressView{LevelID: levelID, RecentAttempts: []models.AttemptSummary{}}
	p, err := s.progress.GetCourseProgress(ctx, userID, level.CourseID)
	switch {
	case contextutils.IsError(err, contextutils.ErrRecordNotFound):
	case err != nil:
		return nil, err
	default:
		if entry, ok := p.LevelProgress[levelID]; ok {
			view.IsCompleted = entry.Completed
			view.BestScore = entry.BestScore
			view.BestStars = entry.BestStars
			view.Attempts = entry.Attempts
			view.TotalTimeSpent = entry.TotalTimeSpent
		}
	}

	sessions, err := s.sessions.ListSessions(ctx, models.SessionFilter{
		UserID:      userID,
		LevelID:     levelID,
		Status:      models.SessionStatusCompleted,
		NewestFirst: true,
		Limit:       s.cfg.RecentAttempts,
	})
	if err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		if sess.EndTime == nil {
			continue
		}
		view.RecentAttempts = append(view.RecentAttempts, models.AttemptSummary{
			SessionID:   sess.ID,
			CompletedAt: *sess.EndTime,
			Score:       sess.Score,
			Stars:       sess.Stars,
			TimeSpent:   sess.TimeSpentSeconds(*sess.EndTime),
		})
	}
	return view, nil
}

// ListPlayingCourses lists courses started but not completed, most recent first
func (s *ProgressService) ListPlayingCourses(ctx context.Context, userID string) ([]*models.CourseProgress, error) {
	completed := false
	return s.progress.ListCourseProgress(ctx, userID, &completed)
}

// ListCompletedCourses lists completed courses, most recent first
func (s *ProgressService) ListCompletedCourses(ctx context.Context, userID string) ([]*models.CourseProgress, error) {
	completed := true
	return s.progress.ListCourseProgress(ctx, userID, &completed)
}

func sameInstant(a, b time.Time) bool {
	return a.Truncate(time.Millisecond).Equal(b.Truncate(time.Millisecond))
}
