// Package postgres implements the store interfaces on PostgreSQL. Nested
// values (answers, level progress, daily activity) are kept in JSONB columns.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"levelquest/internal/models"
	"levelquest/internal/observability"
	"levelquest/internal/store"
	contextutils "levelquest/internal/utils"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
)

const uniqueViolation = "23505"

// Store is the PostgreSQL backend
type Store struct {
	db     *sql.DB
	logger *observability.Logger
}

var _ store.Store = (*Store)(nil)

// New creates a store over an open database
func New(db *sql.DB, logger *observability.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Close closes the underlying database
func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

const sessionColumns = `id, user_id, level_id, chapter_id, course_id, lives, answered_questions, score,
	max_score, stars, question_count, status, start_time, end_time, aggregated, version`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var sess models.Session
	var answered []byte
	var status string
	var endTime sql.NullTime
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.LevelID, &sess.ChapterID, &sess.CourseID,
		&sess.Lives, &answered, &sess.Score, &sess.MaxScore, &sess.Stars, &sess.QuestionCount,
		&status, &sess.StartTime, &endTime, &sess.Aggregated, &sess.Version); err != nil {
		return nil, err
	}
	sess.Status = models.SessionStatus(status)
	if endTime.Valid {
		t := endTime.Time
		sess.EndTime = &t
	}
	sess.AnsweredQuestions = []models.AnsweredQuestion{}
	if len(answered) > 0 {
		if err := json.Unmarshal(answered, &sess.AnsweredQuestions); err != nil {
			return nil, fmt.Errorf("failed to decode answered questions of session %s: %w", sess.ID, err)
		}
	}
	return &sess, nil
}

func scanSessions(rows *sql.Rows) ([]*models.Session, error) {
	defer func() { _ = rows.Close() }()
	out := []*models.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to scan session: %v", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to iterate sessions: %v", err)
	}
	return out, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func queryError(op string, err error) error {
	return contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to %s: %v", op, err)
}

// CreateSession inserts a session; the partial unique index rejects a second active session
func (s *Store) CreateSession(ctx context.Context, sess *models.Session) (err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "create_session",
		observability.AttributeSessionID(sess.ID),
		observability.AttributeUserID(sess.UserID),
		observability.AttributeLevelID(sess.LevelID),
	)
	defer observability.FinishSpan(span, &err)

	answered, err := json.Marshal(sess.AnsweredQuestions)
	if err != nil {
		return contextutils.WrapError(err, "failed to encode answered questions")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO game_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 1)
	`, sess.ID, sess.UserID, sess.LevelID, sess.ChapterID, sess.CourseID, sess.Lives, answered,
		sess.Score, sess.MaxScore, sess.Stars, sess.QuestionCount, string(sess.Status),
		sess.StartTime, nullTime(sess.EndTime), sess.Aggregated)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			if strings.Contains(pqErr.Constraint, "one_active") {
				return store.ErrActiveSessionExists(sess.UserID, sess.LevelID)
			}
			return store.ErrVersionConflict("session", sess.ID)
		}
		return queryError("insert session", err)
	}
	sess.Version = 1
	return nil
}

// GetSession loads a session by id
func (s *Store) GetSession(ctx context.Context, id string) (result *models.Session, err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "get_session", observability.AttributeSessionID(id))
	defer observability.FinishSpan(span, &err)

	sess, err := scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM game_sessions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound("session", id)
	}
	if err != nil {
		return nil, queryError("load session", err)
	}
	return sess, nil
}

// FindActiveSession returns the active session for (user, level), or nil
func (s *Store) FindActiveSession(ctx context.Context, userID, levelID string) (result *models.Session, err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "find_active_session",
		observability.AttributeUserID(userID),
		observability.AttributeLevelID(levelID),
	)
	defer observability.FinishSpan(span, &err)

	sess, err := scanSession(s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM game_sessions
		WHERE user_id = $1 AND level_id = $2 AND status = 'active'
	`, userID, levelID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, queryError("find active session", err)
	}
	return sess, nil
}

// FindLatestActiveSession returns the most recently started active session of a learner
func (s *Store) FindLatestActiveSession(ctx context.Context, userID string) (result *models.Session, err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "find_latest_active_session", observability.AttributeUserID(userID))
	defer observability.FinishSpan(span, &err)

	sess, err := scanSession(s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM game_sessions
		WHERE user_id = $1 AND status = 'active'
		ORDER BY start_time DESC
		LIMIT 1
	`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, queryError("find latest active session", err)
	}
	return sess, nil
}

// UpdateSession writes the mutable session fields if the row is still active at expectedVersion
func (s *Store) UpdateSession(ctx context.Context, sess *models.Session, expectedVersion int64) (err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "update_session",
		observability.AttributeSessionID(sess.ID),
		attribute.Int64("session.expected_version", expectedVersion),
	)
	defer observability.FinishSpan(span, &err)

	answered, err := json.Marshal(sess.AnsweredQuestions)
	if err != nil {
		return contextutils.WrapError(err, "failed to encode answered questions")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE game_sessions
		SET lives = $1, answered_questions = $2, score = $3, stars = $4, status = $5,
			end_time = $6, aggregated = $7, version = version + 1
		WHERE id = $8 AND version = $9 AND status = 'active'
	`, sess.Lives, answered, sess.Score, sess.Stars, string(sess.Status),
		nullTime(sess.EndTime), sess.Aggregated, sess.ID, expectedVersion)
	if err != nil {
		return queryError("update session", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return queryError("read rows affected", err)
	}
	if affected == 0 {
		return store.ErrVersionConflict("session", sess.ID)
	}
	sess.Version = expectedVersion + 1
	return nil
}

// TransitionSession ends an active session
func (s *Store) TransitionSession(ctx context.Context, id string, to models.SessionStatus, at time.Time) (ok bool, err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "transition_session",
		observability.AttributeSessionID(id),
		attribute.String("session.to_status", string(to)),
	)
	defer observability.FinishSpan(span, &err)

	res, err := s.db.ExecContext(ctx, `
		UPDATE game_sessions
		SET status = $1, end_time = $2, version = version + 1
		WHERE id = $3 AND status = 'active'
	`, string(to), at, id)
	if err != nil {
		return false, queryError("transition session", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, queryError("read rows affected", err)
	}
	return affected > 0, nil
}

// ExpireStaleSessions expires every stale active session in one statement
func (s *Store) ExpireStaleSessions(ctx context.Context, cutoff, at time.Time) (result []*models.Session, err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "expire_stale_sessions",
		attribute.String("sweep.cutoff", cutoff.Format(time.RFC3339)),
	)
	defer observability.FinishSpan(span, &err)

	rows, err := s.db.QueryContext(ctx, `
		UPDATE game_sessions
		SET status = 'expired', end_time = $1, version = version + 1
		WHERE status = 'active' AND start_time < $2
		RETURNING `+sessionColumns, at, cutoff)
	if err != nil {
		return nil, queryError("expire sessions", err)
	}
	expired, err := scanSessions(rows)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("sweep.expired", len(expired)))
	return expired, nil
}

// ListSessions returns sessions matching filter
func (s *Store) ListSessions(ctx context.Context, filter models.SessionFilter) (result []*models.Session, err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "list_sessions",
		observability.AttributeUserID(filter.UserID),
		observability.AttributeLevelID(filter.LevelID),
	)
	defer observability.FinishSpan(span, &err)

	query, args := buildSessionQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, queryError("list sessions", err)
	}
	return scanSessions(rows)
}

func buildSessionQuery(filter models.SessionFilter) (string, []interface{}) {
	var where []string
	var args []interface{}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.LevelID != "" {
		add("level_id = $%d", filter.LevelID)
	}
	if filter.CourseID != "" {
		add("course_id = $%d", filter.CourseID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.ExcludeID != "" {
		add("id <> $%d", filter.ExcludeID)
	}

	query := `SELECT ` + sessionColumns + ` FROM game_sessions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	if filter.NewestFirst {
		query += ` ORDER BY end_time DESC NULLS LAST, start_time DESC, id`
	} else {
		query += ` ORDER BY start_time ASC, id`
	}
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	return query, args
}

// ListUnaggregatedSessions returns completed sessions whose outcome is owed to the aggregates
func (s *Store) ListUnaggregatedSessions(ctx context.Context, endedBefore time.Time, limit int) (result []*models.Session, err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "list_unaggregated_sessions")
	defer observability.FinishSpan(span, &err)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM game_sessions
		WHERE status = 'completed' AND aggregated = FALSE AND end_time < $1
		ORDER BY end_time ASC
		LIMIT NULLIF($2::int, 0)
	`, endedBefore, limit)
	if err != nil {
		return nil, queryError("list unaggregated sessions", err)
	}
	return scanSessions(rows)
}

// MarkSessionAggregated flags a completed session as absorbed
func (s *Store) MarkSessionAggregated(ctx context.Context, id string) (err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "mark_session_aggregated", observability.AttributeSessionID(id))
	defer observability.FinishSpan(span, &err)

	res, err := s.db.ExecContext(ctx, `
		UPDATE game_sessions
		SET aggregated = TRUE, version = version + 1
		WHERE id = $1 AND aggregated = FALSE
	`, id)
	if err != nil {
		return queryError("mark session aggregated", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		s.logger.Debug(ctx, "Session already aggregated or missing", map[string]interface{}{"session_id": id})
	}
	return nil
}
