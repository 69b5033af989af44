// Package store defines persistence for game sessions, course progress and
// user statistics. Every write is conditional: sessions and aggregates carry a
// version that must match for an update to apply.
package store

import (
	"context"
	"time"

	"levelquest/internal/models"
	contextutils "levelquest/internal/utils"
)

// SessionStore persists game sessions
type SessionStore interface {
	// CreateSession inserts s with version 1. It fails with ErrRecordExists when
	// the learner already has an active session on the same level.
	CreateSession(ctx context.Context, s *models.Session) error
	// GetSession returns ErrRecordNotFound when no session has id
	GetSession(ctx context.Context, id string) (*models.Session, error)
	// FindActiveSession returns nil when the learner has no active session on the level
	FindActiveSession(ctx context.Context, userID, levelID string) (*models.Session, error)
	// FindLatestActiveSession returns the learner's most recently started active session, or nil
	FindLatestActiveSession(ctx context.Context, userID string) (*models.Session, error)
	// UpdateSession writes s if the stored row is still active at expectedVersion,
	// otherwise ErrConflict. On success s.Version is advanced.
	UpdateSession(ctx context.Context, s *models.Session, expectedVersion int64) error
	// TransitionSession moves an active session to a terminal status. It reports
	// false when the session was no longer active.
	TransitionSession(ctx context.Context, id string, to models.SessionStatus, at time.Time) (bool, error)
	// ExpireStaleSessions expires every active session started before cutoff and
	// returns the sessions it transitioned.
	ExpireStaleSessions(ctx context.Context, cutoff, at time.Time) ([]*models.Session, error)
	ListSessions(ctx context.Context, filter models.SessionFilter) ([]*models.Session, error)
	// ListUnaggregatedSessions returns completed sessions ended before the given
	// time whose outcome has not reached the aggregates yet, oldest first.
	ListUnaggregatedSessions(ctx context.Context, endedBefore time.Time, limit int) ([]*models.Session, error)
	MarkSessionAggregated(ctx context.Context, id string) error
}

// ProgressStore persists per-course progress
type ProgressStore interface {
	// GetCourseProgress returns ErrRecordNotFound when the learner never played the course
	GetCourseProgress(ctx context.Context, userID, courseID string) (*models.CourseProgress, error)
	// SaveCourseProgress inserts p when expectedVersion is 0 and otherwise updates
	// it conditionally. A lost race yields ErrConflict.
	SaveCourseProgress(ctx context.Context, p *models.CourseProgress, expectedVersion int64) error
	// ListCourseProgress returns the learner's progress records, most recently updated first.
	// A non-nil completed filters on IsCompleted.
	ListCourseProgress(ctx context.Context, userID string, completed *bool) ([]*models.CourseProgress, error)
	DeleteUserProgress(ctx context.Context, userID string) error
}

// StatsStore persists lifetime user statistics
type StatsStore interface {
	// GetUserStats returns ErrRecordNotFound when nothing was recorded for the learner
	GetUserStats(ctx context.Context, userID string) (*models.UserStats, error)
	// SaveUserStats has the same insert/update contract as SaveCourseProgress
	SaveUserStats(ctx context.Context, s *models.UserStats, expectedVersion int64) error
	DeleteUserStats(ctx context.Context, userID string) error
}

// Store is a complete persistence backend
type Store interface {
	SessionStore
	ProgressStore
	StatsStore
	Close(ctx context.Context) error
}

// ErrVersionConflict is returned when a conditional write lost against a concurrent writer
func ErrVersionConflict(entity, id string) error {
	return contextutils.WrapErrorf(contextutils.ErrConflict, "%s %s was modified concurrently", entity, id)
}

// ErrNotFound is returned when a keyed lookup finds nothing
func ErrNotFound(entity, id string) error {
	return contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "%s %s not found", entity, id)
}

// ErrActiveSessionExists is returned by CreateSession when the active slot is taken
func ErrActiveSessionExists(userID, levelID string) error {
	return contextutils.WrapErrorf(contextutils.ErrRecordExists, "user %s already has an active session on level %s", userID, levelID)
}
