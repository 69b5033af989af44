package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"levelquest/internal/models"
	"levelquest/internal/observability"
	"levelquest/internal/store"
	contextutils "levelquest/internal/utils"

	"go.opentelemetry.io/otel/attribute"
)

const progressColumns = `user_id, course_id, level_progress, completed_levels, total_levels, total_stars,
	total_score, total_time_spent, completed_chapters, total_chapters, is_completed, completed_at,
	applied_sessions, created_at, updated_at, version`

func scanProgress(row rowScanner) (*models.CourseProgress, error) {
	var p models.CourseProgress
	var levels, applied []byte
	var completedAt sql.NullTime
	if err := row.Scan(&p.UserID, &p.CourseID, &levels, &p.CompletedLevels, &p.TotalLevels, &p.TotalStars,
		&p.TotalScore, &p.TotalTimeSpent, &p.CompletedChapters, &p.TotalChapters, &p.IsCompleted, &completedAt,
		&applied, &p.CreatedAt, &p.UpdatedAt, &p.Version); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		p.CompletedAt = &t
	}
	p.LevelProgress = map[string]models.LevelProgress{}
	if len(levels) > 0 {
		if err := json.Unmarshal(levels, &p.LevelProgress); err != nil {
			return nil, err
		}
	}
	if len(applied) > 0 {
		if err := json.Unmarshal(applied, &p.AppliedSessions); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

// GetCourseProgress loads one learner's progress on one course
func (s *Store) GetCourseProgress(ctx context.Context, userID, courseID string) (result *models.CourseProgress, err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "get_course_progress",
		observability.AttributeUserID(userID),
		observability.AttributeCourseID(courseID),
	)
	defer observability.FinishSpan(span, &err)

	p, err := scanProgress(s.db.QueryRowContext(ctx, `
		SELECT `+progressColumns+`
		FROM course_progress
		WHERE user_id = $1 AND course_id = $2
	`, userID, courseID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound("course progress", courseID)
	}
	if err != nil {
		return nil, queryError("load course progress", err)
	}
	return p, nil
}

// SaveCourseProgress inserts (expectedVersion 0) or conditionally updates progress
func (s *Store) SaveCourseProgress(ctx context.Context, p *models.CourseProgress, expectedVersion int64) (err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "save_course_progress",
		observability.AttributeUserID(p.UserID),
		observability.AttributeCourseID(p.CourseID),
		attribute.Int64("progress.expected_version", expectedVersion),
	)
	defer observability.FinishSpan(span, &err)

	levels, err := json.Marshal(p.LevelProgress)
	if err != nil {
		return contextutils.WrapError(err, "failed to encode level progress")
	}
	applied, err := json.Marshal(appliedOrEmpty(p.AppliedSessions))
	if err != nil {
		return contextutils.WrapError(err, "failed to encode applied sessions")
	}

	var res sql.Result
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO course_progress (`+progressColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 1)
			ON CONFLICT (user_id, course_id) DO NOTHING
		`, p.UserID, p.CourseID, levels, p.CompletedLevels, p.TotalLevels, p.TotalStars,
			p.TotalScore, p.TotalTimeSpent, p.CompletedChapters, p.TotalChapters, p.IsCompleted,
			nullTime(p.CompletedAt), applied, p.CreatedAt, p.UpdatedAt)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE course_progress
			SET level_progress = $1, completed_levels = $2, total_levels = $3, total_stars = $4,
				total_score = $5, total_time_spent = $6, completed_chapters = $7, total_chapters = $8,
				is_completed = $9, completed_at = $10, applied_sessions = $11, updated_at = $12,
				version = version + 1
			WHERE user_id = $13 AND course_id = $14 AND version = $15
		`, levels, p.CompletedLevels, p.TotalLevels, p.TotalStars, p.TotalScore, p.TotalTimeSpent,
			p.CompletedChapters, p.TotalChapters, p.IsCompleted, nullTime(p.CompletedAt), applied,
			p.UpdatedAt, p.UserID, p.CourseID, expectedVersion)
	}
	if err != nil {
		return queryError("save course progress", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return queryError("read rows affected", err)
	}
	if affected == 0 {
		return store.ErrVersionConflict("course progress", p.CourseID)
	}
	p.Version = expectedVersion + 1
	return nil
}

// ListCourseProgress lists a learner's course progress, most recently updated first
func (s *Store) ListCourseProgress(ctx context.Context, userID string, completed *bool) (result []*models.CourseProgress, err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "list_course_progress", observability.AttributeUserID(userID))
	defer observability.FinishSpan(span, &err)

	query := `SELECT ` + progressColumns + ` FROM course_progress WHERE user_id = $1`
	args := []interface{}{userID}
	if completed != nil {
		query += ` AND is_completed = $2`
		args = append(args, *completed)
	}
	query += ` ORDER BY updated_at DESC, course_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, queryError("list course progress", err)
	}
	defer func() { _ = rows.Close() }()

	out := []*models.CourseProgress{}
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, queryError("scan course progress", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError("iterate course progress", err)
	}
	return out, nil
}

// DeleteUserProgress removes every progress row of a learner
func (s *Store) DeleteUserProgress(ctx context.Context, userID string) (err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "delete_user_progress", observability.AttributeUserID(userID))
	defer observability.FinishSpan(span, &err)

	if _, err = s.db.ExecContext(ctx, `DELETE FROM course_progress WHERE user_id = $1`, userID); err != nil {
		return queryError("delete course progress", err)
	}
	return nil
}

const statsColumns = `user_id, total_courses_completed, total_levels_completed, total_time_spent,
	total_lives_lost, total_stars_earned, total_score, current_streak, longest_streak,
	category_stats, daily_activity, last_activity_date, applied_sessions, created_at, updated_at, version`

func scanStats(row rowScanner) (*models.UserStats, error) {
	var st models.UserStats
	var categories, daily, applied []byte
	var lastActivity sql.NullTime
	if err := row.Scan(&st.UserID, &st.TotalCoursesCompleted, &st.TotalLevelsCompleted, &st.TotalTimeSpent,
		&st.TotalLivesLost, &st.TotalStarsEarned, &st.TotalScore, &st.CurrentStreak, &st.LongestStreak,
		&categories, &daily, &lastActivity, &applied, &st.CreatedAt, &st.UpdatedAt, &st.Version); err != nil {
		return nil, err
	}
	if lastActivity.Valid {
		t := lastActivity.Time
		st.LastActivityDate = &t
	}
	st.CategoryStats = map[string]models.CategoryStats{}
	st.DailyActivity = map[string]models.DailyActivity{}
	for _, pair := range []struct {
		raw  []byte
		into interface{}
	}{{categories, &st.CategoryStats}, {daily, &st.DailyActivity}, {applied, &st.AppliedSessions}} {
		if len(pair.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(pair.raw, pair.into); err != nil {
			return nil, err
		}
	}
	return &st, nil
}

// GetUserStats loads a learner's lifetime stats
func (s *Store) GetUserStats(ctx context.Context, userID string) (result *models.UserStats, err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "get_user_stats", observability.AttributeUserID(userID))
	defer observability.FinishSpan(span, &err)

	st, err := scanStats(s.db.QueryRowContext(ctx, `SELECT `+statsColumns+` FROM user_stats WHERE user_id = $1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound("user stats", userID)
	}
	if err != nil {
		return nil, queryError("load user stats", err)
	}
	return st, nil
}

// SaveUserStats inserts (expectedVersion 0) or conditionally updates stats
func (s *Store) SaveUserStats(ctx context.Context, st *models.UserStats, expectedVersion int64) (err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "save_user_stats",
		observability.AttributeUserID(st.UserID),
		attribute.Int64("stats.expected_version", expectedVersion),
	)
	defer observability.FinishSpan(span, &err)

	categories, err := json.Marshal(st.CategoryStats)
	if err != nil {
		return contextutils.WrapError(err, "failed to encode category stats")
	}
	daily, err := json.Marshal(st.DailyActivity)
	if err != nil {
		return contextutils.WrapError(err, "failed to encode daily activity")
	}
	applied, err := json.Marshal(appliedOrEmpty(st.AppliedSessions))
	if err != nil {
		return contextutils.WrapError(err, "failed to encode applied sessions")
	}

	var res sql.Result
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO user_stats (`+statsColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 1)
			ON CONFLICT (user_id) DO NOTHING
		`, st.UserID, st.TotalCoursesCompleted, st.TotalLevelsCompleted, st.TotalTimeSpent,
			st.TotalLivesLost, st.TotalStarsEarned, st.TotalScore, st.CurrentStreak, st.LongestStreak,
			categories, daily, nullTime(st.LastActivityDate), applied, st.CreatedAt, st.UpdatedAt)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE user_stats
			SET total_courses_completed = $1, total_levels_completed = $2, total_time_spent = $3,
				total_lives_lost = $4, total_stars_earned = $5, total_score = $6, current_streak = $7,
				longest_streak = $8, category_stats = $9, daily_activity = $10, last_activity_date = $11,
				applied_sessions = $12, updated_at = $13, version = version + 1
			WHERE user_id = $14 AND version = $15
		`, st.TotalCoursesCompleted, st.TotalLevelsCompleted, st.TotalTimeSpent, st.TotalLivesLost,
			st.TotalStarsEarned, st.TotalScore, st.CurrentStreak, st.LongestStreak, categories, daily,
			nullTime(st.LastActivityDate), applied, st.UpdatedAt, st.UserID, expectedVersion)
	}
	if err != nil {
		return queryError("save user stats", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return queryError("read rows affected", err)
	}
	if affected == 0 {
		return store.ErrVersionConflict("user stats", st.UserID)
	}
	st.Version = expectedVersion + 1
	return nil
}

// DeleteUserStats removes a learner's stats row
func (s *Store) DeleteUserStats(ctx context.Context, userID string) (err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "delete_user_stats", observability.AttributeUserID(userID))
	defer observability.FinishSpan(span, &err)

	if _, err = s.db.ExecContext(ctx, `DELETE FROM user_stats WHERE user_id = $1`, userID); err != nil {
		return queryError("delete user stats", err)
	}
	return nil
}

func appliedOrEmpty(a models.AppliedSessions) models.AppliedSessions {
	if a == nil {
		return models.AppliedSessions{}
	}
	return a
}
