package services

import (
	"context"
	"time"

	"levelquest/internal/config"
	"levelquest/internal/content"
	"levelquest/internal/evaluator"
	"levelquest/internal/events"
	"levelquest/internal/models"
	"levelquest/internal/observability"
	"levelquest/internal/store"
	contextutils "levelquest/internal/utils"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// SubmitAnswerRequest carries one answer to one question of a session
type SubmitAnswerRequest struct {
	SessionID     string
	UserID        string
	QuestionIndex int
	Answer        models.Answer
	TimeSpent     int
}

// GameServiceInterface defines the interface for the session lifecycle
type GameServiceInterface interface {
	StartSession(ctx context.Context, userID, levelID string) (*models.Session, error)
	SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (*models.QuestionResult, error)
	SkipQuestion(ctx context.Context, sessionID, userID string) (*models.QuestionResult, error)
	AbandonSession(ctx context.Context, sessionID, userID string) (*models.Session, error)
	GetCurrentActiveSession(ctx context.Context, userID string) (*models.Session, error)
	GetCompletedSessionSummary(ctx context.Context, sessionID, userID string) (*models.CompletedSessionSummary, error)
	SweepExpiredSessions(ctx context.Context) (int, error)
	RetryPendingAggregations(ctx context.Context) (int, error)
}

// pendingAggregationBatch bounds one retry pass
const pendingAggregationBatch = 100

// GameService runs game sessions. Every session write is a conditional update
// on the session version, so concurrent submissions, abandons and sweeps on one
// session serialize through the store.
type GameService struct {
	sessions store.SessionStore
	catalog  content.Catalog
	progress ProgressServiceInterface
	stats    StatsServiceInterface
	notifier *events.Notifier
	cfg      config.GameConfig
	logger   *observability.Logger
	metrics  *observability.GameMetrics
	timeNow  func() time.Time
	newID    func() string
}

var _ GameServiceInterface = (*GameService)(nil)

// NewGameServiceWithLogger creates a game service
func NewGameServiceWithLogger(sessions store.SessionStore, catalog content.Catalog, progress ProgressServiceInterface, stats StatsServiceInterface, notifier *events.Notifier, cfg config.GameConfig, logger *observability.Logger) *GameService {
	return &GameService{
		sessions: sessions,
		catalog:  catalog,
		progress: progress,
		stats:    stats,
		notifier: notifier,
		cfg:      withGameDefaults(cfg),
		logger:   logger,
		metrics:  observability.Game(),
		timeNow:  time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

func withGameDefaults(cfg config.GameConfig) config.GameConfig {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = config.DefaultSessionTTL
	}
	if cfg.MaxCommitRetries <= 0 {
		cfg.MaxCommitRetries = config.DefaultMaxCommitRetries
	}
	if cfg.RecentAttempts <= 0 {
		cfg.RecentAttempts = config.DefaultRecentAttempts
	}
	if cfg.AggregationGrace < 0 {
		cfg.AggregationGrace = 0
	}
	return cfg
}

func (s *GameService) now() time.Time {
	return s.timeNow().UTC()
}

// StartSession returns the learner's active session on the level, or creates one
func (s *GameService) StartSession(ctx context.Context, userID, levelID string) (result *models.Session, err error) {
	ctx, span := observability.TraceGameFunction(ctx, "start_session",
		observability.AttributeUserID(userID),
		observability.AttributeLevelID(levelID),
	)
	defer observability.FinishSpan(span, &err)

	level, err := s.catalog.GetLevel(ctx, levelID, userID)
	if err != nil {
		return nil, err
	}
	if len(level.Questions) == 0 {
		return nil, contextutils.WrapErrorf(contextutils.ErrInvalidLevel, "level %s has no questions", levelID)
	}

	for attempt := 0; attempt < s.cfg.MaxCommitRetries; attempt++ {
		now := s.now()
		existing, err := s.sessions.FindActiveSession(ctx, userID, levelID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if !existing.IsExpired(now, s.cfg.SessionTTL) {
				span.SetAttributes(attribute.Bool("session.resumed", true))
				return existing, nil
			}
			if err := s.expire(ctx, existing, now); err != nil {
				return nil, err
			}
		}

		sess := models.NewSession(s.newID(), userID, level, now)
		err = s.sessions.CreateSession(ctx, sess)
		if contextutils.IsError(err, contextutils.ErrRecordExists) {
			// a concurrent start took the slot; the next pass returns the winner
			s.metrics.CommitConflict(ctx, "session")
			continue
		}
		if err != nil {
			return nil, err
		}

		s.metrics.SessionStarted(ctx)
		span.SetAttributes(observability.AttributeSessionID(sess.ID))
		s.logger.Info(ctx, "Game session started", map[string]interface{}{
			"session_id": sess.ID,
			"user_id":    userID,
			"level_id":   levelID,
		})
		s.notifier.Notify(ctx, sessionEvent(events.TypeSessionStarted, sess, nil))
		return sess, nil
	}
	return nil, contextutils.WrapErrorf(contextutils.ErrConflict, "could not start a session on level %s", levelID)
}

// expire conditionally moves an active session to expired
func (s *GameService) expire(ctx context.Context, sess *models.Session, now time.Time) error {
	ok, err := s.sessions.TransitionSession(ctx, sess.ID, models.SessionStatusExpired, now)
	if err != nil {
		return err
	}
	if ok {
		s.metrics.SessionFinished(ctx, string(models.SessionStatusExpired), 1)
		expired := sess.Clone()
		expired.Status = models.SessionStatusExpired
		expired.EndTime = &now
		s.notifier.Notify(ctx, sessionEvent(events.TypeSessionExpired, expired, nil))
	}
	return nil
}

// move is the effect of one answer or skip on a session
type move struct {
	index   int
	correct bool
	record  *models.AnsweredQuestion
}

// SubmitAnswer evaluates an answer and commits its effect on the session
func (s *GameService) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (result *models.QuestionResult, err error) {
	ctx, span := observability.TraceGameFunction(ctx, "submit_answer",
		observability.AttributeSessionID(req.SessionID),
		observability.AttributeUserID(req.UserID),
		observability.AttributeQuestionIndex(req.QuestionIndex),
	)
	defer observability.FinishSpan(span, &err)

	return s.play(ctx, req.SessionID, req.UserID, false, func(sess *models.Session, level *models.Level, now time.Time) (move, error) {
		idx := req.QuestionIndex
		if idx < 0 || idx >= sess.QuestionCount || idx >= len(level.Questions) {
			return move{}, contextutils.WrapErrorf(contextutils.ErrInvalidInput, "question index %d out of range", idx)
		}
		if sess.HasCorrectAnswer(idx) {
			return move{}, contextutils.WrapErrorf(contextutils.ErrQuestionAlreadyAnswered, "question %d already answered correctly", idx)
		}

		q := level.Questions[idx]
		span.SetAttributes(observability.AttributeQuestionType(q.Type))
		m := move{index: idx, correct: evaluator.Evaluate(q, req.Answer)}
		if m.correct {
			m.record = &models.AnsweredQuestion{
				QuestionIndex: idx,
				IsCorrect:     true,
				UserAnswer:    req.Answer,
				TimeSpent:     req.TimeSpent,
				AnsweredAt:    now,
			}
		}
		return m, nil
	})
}

// SkipQuestion gives up the lowest unanswered question, costing one life
func (s *GameService) SkipQuestion(ctx context.Context, sessionID, userID string) (result *models.QuestionResult, err error) {
	ctx, span := observability.TraceGameFunction(ctx, "skip_question",
		observability.AttributeSessionID(sessionID),
		observability.AttributeUserID(userID),
	)
	defer observability.FinishSpan(span, &err)

	return s.play(ctx, sessionID, userID, true, func(sess *models.Session, _ *models.Level, _ time.Time) (move, error) {
		idx := outstandingQuestion(sess)
		if idx < 0 {
			return move{}, contextutils.WrapErrorf(contextutils.ErrInvalidState, "session %s has no outstanding question", sessionID)
		}
		return move{index: idx}, nil
	})
}

func outstandingQuestion(sess *models.Session) int {
	for i := 0; i < sess.QuestionCount; i++ {
		if !sess.HasCorrectAnswer(i) {
			return i
		}
	}
	return -1
}

// play runs the read, decide, commit loop shared by answers and skips. decide
// sees the latest committed session on every attempt.
func (s *GameService) play(ctx context.Context, sessionID, userID string, skipped bool, decide func(*models.Session, *models.Level, time.Time) (move, error)) (*models.QuestionResult, error) {
	var level *models.Level
	for attempt := 0; attempt < s.cfg.MaxCommitRetries; attempt++ {
		sess, err := s.loadOwned(ctx, sessionID, userID)
		if err != nil {
			return nil, err
		}
		if sess.Status != models.SessionStatusActive {
			return nil, contextutils.WrapErrorf(contextutils.ErrInvalidState, "session %s is %s", sessionID, sess.Status)
		}
		now := s.now()
		if sess.IsExpired(now, s.cfg.SessionTTL) {
			if err := s.expire(ctx, sess, now); err != nil {
				return nil, err
			}
			return nil, contextutils.WrapErrorf(contextutils.ErrSessionExpired, "session %s expired", sessionID)
		}
		if level == nil {
			if level, err = s.catalog.GetLevel(ctx, sess.LevelID, userID); err != nil {
				return nil, err
			}
		}

		m, err := decide(sess, level, now)
		if err != nil {
			return nil, err
		}

		next := sess.Clone()
		AdvanceSession(next, m.correct, m.record, now)
		err = s.sessions.UpdateSession(ctx, next, sess.Version)
		if contextutils.IsError(err, contextutils.ErrConflict) {
			s.metrics.CommitConflict(ctx, "session")
			continue
		}
		if err != nil {
			return nil, err
		}

		s.metrics.AnswerSubmitted(ctx, m.correct, skipped)
		s.notifier.Notify(ctx, sessionEvent(events.TypeAnswerSubmitted, next, map[string]interface{}{
			"question_index":  m.index,
			"is_correct":      m.correct,
			"skipped":         skipped,
			"lives_remaining": next.Lives,
		}))

		completed := next.Status == models.SessionStatusCompleted
		if completed {
			s.finishCompleted(ctx, next)
		}

		var correctAnswer []string
		if m.index < len(level.Questions) {
			correctAnswer = evaluator.CorrectAnswer(level.Questions[m.index])
		}
		return &models.QuestionResult{
			SessionID:      next.ID,
			IsCorrect:      m.correct,
			LivesRemaining: next.Lives,
			CorrectAnswer:  correctAnswer,
			IsLastQuestion: completed,
			Score:          next.Score,
			Status:         next.Status,
		}, nil
	}
	return nil, store.ErrVersionConflict("session", sessionID)
}

// AdvanceSession applies one answer outcome to an active session: a correct
// answer is recorded and scored, anything else costs a life. The session
// completes once every question is answered correctly or no lives remain.
func AdvanceSession(sess *models.Session, correct bool, record *models.AnsweredQuestion, now time.Time) {
	if correct && record != nil {
		sess.AnsweredQuestions = append(sess.AnsweredQuestions, *record)
		sess.Score += models.PointsPerQuestion
	} else if sess.Lives > 0 {
		sess.Lives--
	}

	if sess.CorrectCount() >= sess.QuestionCount || sess.Lives == 0 {
		end := now
		sess.Status = models.SessionStatusCompleted
		sess.Stars = models.StarsForLives(sess.Lives)
		sess.EndTime = &end
	}
}

func (s *GameService) finishCompleted(ctx context.Context, sess *models.Session) {
	s.metrics.SessionFinished(ctx, string(models.SessionStatusCompleted), 1)
	s.logger.Info(ctx, "Game session completed", map[string]interface{}{
		"session_id": sess.ID,
		"user_id":    sess.UserID,
		"level_id":   sess.LevelID,
		"score":      sess.Score,
		"stars":      sess.Stars,
	})
	s.notifier.Notify(ctx, sessionEvent(events.TypeSessionCompleted, sess, map[string]interface{}{
		"score": sess.Score,
		"stars": sess.Stars,
	}))

	if err := s.aggregate(ctx, sess); err != nil {
		// the session stays completed; the retry job picks it up
		s.logger.Error(ctx, "Failed to aggregate completed session", err, map[string]interface{}{
			"session_id": sess.ID,
			"user_id":    sess.UserID,
		})
	}
}

// aggregate feeds a completed session into course progress and user stats,
// then flags it. Both aggregators skip sessions they already absorbed.
func (s *GameService) aggregate(ctx context.Context, sess *models.Session) (err error) {
	ctx, span := observability.TraceGameFunction(ctx, "aggregate_session",
		observability.AttributeSessionID(sess.ID),
		observability.AttributeUserID(sess.UserID),
	)
	defer observability.FinishSpan(span, &err)

	if sess.EndTime == nil {
		return contextutils.WrapErrorf(contextutils.ErrInvalidState, "session %s has no end time", sess.ID)
	}
	end := *sess.EndTime
	timeSpent := sess.TimeSpentSeconds(end)

	courseDone, err := s.progress.RecordLevelOutcome(ctx, sess.CourseID, sess.UserID, sess.LevelID, LevelOutcome{
		SessionID:   sess.ID,
		Score:       sess.Score,
		Stars:       sess.Stars,
		TimeSpent:   timeSpent,
		CompletedAt: end,
	})
	if err != nil {
		s.metrics.AggregationFailed(ctx, "course_progress")
		return err
	}

	err = s.stats.RecordLevelOutcome(ctx, sess.UserID, sess.CourseID, sess.LevelID, StatsOutcome{
		SessionID:           sess.ID,
		Score:               sess.Score,
		Stars:               sess.Stars,
		TimeSpent:           timeSpent,
		LivesLost:           sess.LivesLost(),
		CourseJustCompleted: courseDone,
		CompletedAt:         end,
	})
	if err != nil {
		s.metrics.AggregationFailed(ctx, "user_stats")
		return err
	}

	if err := s.sessions.MarkSessionAggregated(ctx, sess.ID); err != nil {
		return err
	}
	sess.Aggregated = true
	return nil
}

// AbandonSession ends an active session; terminal sessions are returned unchanged
func (s *GameService) AbandonSession(ctx context.Context, sessionID, userID string) (result *models.Session, err error) {
	ctx, span := observability.TraceGameFunction(ctx, "abandon_session",
		observability.AttributeSessionID(sessionID),
		observability.AttributeUserID(userID),
	)
	defer observability.FinishSpan(span, &err)

	sess, err := s.loadOwned(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if sess.Status.IsTerminal() {
		return sess, nil
	}

	ok, err := s.sessions.TransitionSession(ctx, sessionID, models.SessionStatusAbandoned, s.now())
	if err != nil {
		return nil, err
	}
	if ok {
		s.metrics.SessionFinished(ctx, string(models.SessionStatusAbandoned), 1)
	}
	sess, err = s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if ok {
		s.notifier.Notify(ctx, sessionEvent(events.TypeSessionAbandoned, sess, nil))
	}
	return sess, nil
}

// GetCurrentActiveSession returns the learner's most recently started active
// session, or nil. A session past its TTL is expired on the way.
func (s *GameService) GetCurrentActiveSession(ctx context.Context, userID string) (result *models.Session, err error) {
	ctx, span := observability.TraceGameFunction(ctx, "get_current_active_session", observability.AttributeUserID(userID))
	defer observability.FinishSpan(span, &err)

	sess, err := s.sessions.FindLatestActiveSession(ctx, userID)
	if err != nil || sess == nil {
		return nil, err
	}
	now := s.now()
	if sess.IsExpired(now, s.cfg.SessionTTL) {
		if err := s.expire(ctx, sess, now); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return sess, nil
}

// GetCompletedSessionSummary reports the outcome of a completed session
func (s *GameService) GetCompletedSessionSummary(ctx context.Context, sessionID, userID string) (result *models.CompletedSessionSummary, err error) {
	ctx, span := observability.TraceGameFunction(ctx, "get_completed_session_summary",
		observability.AttributeSessionID(sessionID),
		observability.AttributeUserID(userID),
	)
	defer observability.FinishSpan(span, &err)

	sess, err := s.loadOwned(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if sess.Status != models.SessionStatusCompleted || sess.EndTime == nil {
		return nil, store.ErrNotFound("completed session", sessionID)
	}

	levels, err := s.catalog.ListLevelsOfChapter(ctx, sess.ChapterID, userID)
	if err != nil {
		return nil, err
	}

	var progress *models.CourseProgress
	progress, err = s.progress.GetCourseProgress(ctx, sess.CourseID, userID)
	if contextutils.IsError(err, contextutils.ErrRecordNotFound) {
		progress, err = nil, nil
	}
	if err != nil {
		return nil, err
	}

	others, err := s.sessions.ListSessions(ctx, models.SessionFilter{
		UserID:    userID,
		LevelID:   sess.LevelID,
		Status:    models.SessionStatusCompleted,
		ExcludeID: sess.ID,
	})
	if err != nil {
		return nil, err
	}
	newHigh := true
	for _, o := range others {
		if o.Score >= sess.Score {
			newHigh = false
			break
		}
	}

	return &models.CompletedSessionSummary{
		SessionID:          sess.ID,
		LevelID:            sess.LevelID,
		Score:              sess.Score,
		MaxScore:           sess.MaxScore,
		Stars:              sess.Stars,
		CorrectAnswers:     sess.CorrectCount(),
		TotalQuestions:     sess.QuestionCount,
		LivesRemaining:     sess.Lives,
		TimeSpent:          sess.TimeSpentSeconds(*sess.EndTime),
		IsNewHighScore:     newHigh,
		NextLevelID:        content.NextLevelID(levels, sess.LevelID),
		IsChapterCompleted: chapterCompleted(progress, levels),
		IsCourseCompleted:  progress != nil && progress.IsCompleted,
		CompletedAt:        *sess.EndTime,
	}, nil
}

func chapterCompleted(p *models.CourseProgress, levels []models.LevelRef) bool {
	if p == nil || len(levels) == 0 {
		return false
	}
	for _, l := range levels {
		if !p.LevelProgress[l.ID].Completed {
			return false
		}
	}
	return true
}

// SweepExpiredSessions expires every active session older than the TTL with a
// single conditional bulk update
func (s *GameService) SweepExpiredSessions(ctx context.Context) (count int, err error) {
	ctx, span := observability.TraceGameFunction(ctx, "sweep_expired_sessions")
	defer observability.FinishSpan(span, &err)

	now := s.now()
	expired, err := s.sessions.ExpireStaleSessions(ctx, now.Add(-s.cfg.SessionTTL), now)
	if err != nil {
		return 0, err
	}
	s.metrics.SessionFinished(ctx, string(models.SessionStatusExpired), int64(len(expired)))
	for _, sess := range expired {
		s.notifier.Notify(ctx, sessionEvent(events.TypeSessionExpired, sess, nil))
	}
	span.SetAttributes(attribute.Int("sweep.expired", len(expired)))
	if len(expired) > 0 {
		s.logger.Info(ctx, "Expired stale game sessions", map[string]interface{}{"count": len(expired)})
	}
	return len(expired), nil
}

// RetryPendingAggregations re-runs aggregation for completed sessions whose
// aggregates were not updated, leaving fresh completions to the request path
func (s *GameService) RetryPendingAggregations(ctx context.Context) (count int, err error) {
	ctx, span := observability.TraceGameFunction(ctx, "retry_pending_aggregations")
	defer observability.FinishSpan(span, &err)

	pending, err := s.sessions.ListUnaggregatedSessions(ctx, s.now().Add(-s.cfg.AggregationGrace), pendingAggregationBatch)
	if err != nil {
		return 0, err
	}
	for _, sess := range pending {
		if err := s.aggregate(ctx, sess); err != nil {
			s.logger.Warn(ctx, "Aggregation retry failed", map[string]interface{}{
				"session_id": sess.ID,
				"user_id":    sess.UserID,
				"error":      err.Error(),
			})
			continue
		}
		count++
	}
	span.SetAttributes(
		attribute.Int("aggregation.pending", len(pending)),
		attribute.Int("aggregation.repaired", count),
	)
	return count, nil
}

// loadOwned hides sessions of other learners behind NotFound
func (s *GameService) loadOwned(ctx context.Context, sessionID, userID string) (*models.Session, error) {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, store.ErrNotFound("session", sessionID)
	}
	return sess, nil
}

func sessionEvent(eventType string, sess *models.Session, payload map[string]interface{}) events.Event {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["status"] = sess.Status
	return events.Event{
		Type:      eventType,
		UserID:    sess.UserID,
		SessionID: sess.ID,
		LevelID:   sess.LevelID,
		CourseID:  sess.CourseID,
		Payload:   payload,
	}
}
