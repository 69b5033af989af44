package services

import (
	"context"
	"sort"

	"levelquest/internal/models"
	"levelquest/internal/observability"
	"levelquest/internal/store"

	"go.opentelemetry.io/otel/attribute"
)

// RebuildService re-derives a learner's aggregates from completed session
// history. It is an administrative repair tool and should not run while the
// learner is playing.
type RebuildService struct {
	sessions store.SessionStore
	progress store.ProgressStore
	stats    store.StatsStore
	progSvc  ProgressServiceInterface
	statsSvc StatsServiceInterface
	logger   *observability.Logger
}

// NewRebuildServiceWithLogger creates a rebuild service
func NewRebuildServiceWithLogger(st store.Store, progSvc ProgressServiceInterface, statsSvc StatsServiceInterface, logger *observability.Logger) *RebuildService {
	return &RebuildService{
		sessions: st,
		progress: st,
		stats:    st,
		progSvc:  progSvc,
		statsSvc: statsSvc,
		logger:   logger,
	}
}

// RebuildUser drops the learner's course progress and stats and replays every
// completed session in completion order. It returns the number replayed.
func (r *RebuildService) RebuildUser(ctx context.Context, userID string) (replayed int, err error) {
	ctx, span := observability.TraceGameFunction(ctx, "rebuild_user_aggregates", observability.AttributeUserID(userID))
	defer observability.FinishSpan(span, &err)

	completed, err := r.sessions.ListSessions(ctx, models.SessionFilter{
		UserID: userID,
		Status: models.SessionStatusCompleted,
	})
	if err != nil {
		return 0, err
	}
	sortByEndTime(completed)

	if err := r.progress.DeleteUserProgress(ctx, userID); err != nil {
		return 0, err
	}
	if err := r.stats.DeleteUserStats(ctx, userID); err != nil {
		return 0, err
	}

	for _, sess := range completed {
		if sess.EndTime == nil {
			continue
		}
		end := *sess.EndTime
		timeSpent := sess.TimeSpentSeconds(end)
		courseDone, err := r.progSvc.RecordLevelOutcome(ctx, sess.CourseID, userID, sess.LevelID, LevelOutcome{
			SessionID:   sess.ID,
			Score:       sess.Score,
			Stars:       sess.Stars,
			TimeSpent:   timeSpent,
			CompletedAt: end,
		})
		if err != nil {
			return replayed, err
		}
		err = r.statsSvc.RecordLevelOutcome(ctx, userID, sess.CourseID, sess.LevelID, StatsOutcome{
			SessionID:           sess.ID,
			Score:               sess.Score,
			Stars:               sess.Stars,
			TimeSpent:           timeSpent,
			LivesLost:           sess.LivesLost(),
			CourseJustCompleted: courseDone,
			CompletedAt:         end,
		})
		if err != nil {
			return replayed, err
		}
		if !sess.Aggregated {
			if err := r.sessions.MarkSessionAggregated(ctx, sess.ID); err != nil {
				return replayed, err
			}
		}
		replayed++
	}

	span.SetAttributes(attribute.Int("rebuild.sessions", replayed))
	r.logger.Info(ctx, "Rebuilt user aggregates", map[string]interface{}{
		"user_id":  userID,
		"sessions": replayed,
	})
	return replayed, nil
}

func sortByEndTime(sessions []*models.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i].EndTime, sessions[j].EndTime
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.Before(*b)
	})
}
