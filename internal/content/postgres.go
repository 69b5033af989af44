package content

import (
	"context"
	"database/sql"
	"errors"

	"levelquest/internal/models"
	"levelquest/internal/observability"
	contextutils "levelquest/internal/utils"

	"go.opentelemetry.io/otel/attribute"
)

// PostgresCatalog reads courses, chapters and levels from PostgreSQL. The
// tables are owned by the authoring service; this type never writes them.
// ImportCatalog exists for standalone deployments that need seed content.
type PostgresCatalog struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewPostgresCatalog creates a catalog over db
func NewPostgresCatalog(db *sql.DB, logger *observability.Logger) *PostgresCatalog {
	return &PostgresCatalog{db: db, logger: logger}
}

// GetCourse returns a course regardless of visibility
func (c *PostgresCatalog) GetCourse(ctx context.Context, courseID string) (result *models.Course, err error) {
	ctx, span := observability.TraceContentFunction(ctx, "get_course", observability.AttributeCourseID(courseID))
	defer observability.FinishSpan(span, &err)

	var course models.Course
	var category, visibility string
	err = c.db.QueryRowContext(ctx, `
		SELECT id, author_id, title, category, visibility, is_approved, created_at, updated_at
		FROM courses
		WHERE id = $1
	`, courseID).Scan(&course.ID, &course.AuthorID, &course.Title, &category, &visibility,
		&course.IsApproved, &course.CreatedAt, &course.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("course", courseID)
	}
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to load course %s: %v", courseID, err)
	}
	course.Category = models.CourseCategory(category)
	course.Visibility = models.CourseVisibility(visibility)
	return &course, nil
}

// GetLevel returns a level with its decoded questions when its course is readable by userID
func (c *PostgresCatalog) GetLevel(ctx context.Context, levelID, userID string) (result *models.Level, err error) {
	ctx, span := observability.TraceContentFunction(ctx, "get_level",
		observability.AttributeLevelID(levelID),
		observability.AttributeUserID(userID),
	)
	defer observability.FinishSpan(span, &err)

	var level models.Level
	var raw []byte
	err = c.db.QueryRowContext(ctx, `
		SELECT l.id, l.chapter_id, c.course_id, l.title, l.sort_order, l.questions
		FROM levels l
		JOIN chapters c ON c.id = l.chapter_id
		WHERE l.id = $1
	`, levelID).Scan(&level.ID, &level.ChapterID, &level.CourseID, &level.Title, &level.Order, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("level", levelID)
	}
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to load level %s: %v", levelID, err)
	}

	if err := c.checkAccess(ctx, level.CourseID, userID); err != nil {
		if contextutils.IsError(err, contextutils.ErrRecordNotFound) {
			return nil, notFound("level", levelID)
		}
		return nil, err
	}

	questions, err := DecodeQuestions(raw)
	if err != nil {
		c.logger.Error(ctx, "Stored level questions are invalid", err, map[string]interface{}{"level_id": levelID})
		return nil, contextutils.WrapErrorf(err, "level %s has invalid questions", levelID)
	}
	level.Questions = questions
	span.SetAttributes(attribute.Int("level.question_count", len(questions)))
	return &level, nil
}

// ListChaptersOfCourse returns a readable course's chapters in play order
func (c *PostgresCatalog) ListChaptersOfCourse(ctx context.Context, courseID, userID string) (result []models.Chapter, err error) {
	ctx, span := observability.TraceContentFunction(ctx, "list_chapters_of_course", observability.AttributeCourseID(courseID))
	defer observability.FinishSpan(span, &err)

	if err := c.checkAccess(ctx, courseID, userID); err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT id, course_id, title, sort_order
		FROM chapters
		WHERE course_id = $1
		ORDER BY sort_order, id
	`, courseID)
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to list chapters: %v", err)
	}
	defer func() { _ = rows.Close() }()

	chapters := []models.Chapter{}
	for rows.Next() {
		var ch models.Chapter
		if err := rows.Scan(&ch.ID, &ch.CourseID, &ch.Title, &ch.Order); err != nil {
			return nil, contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to scan chapter: %v", err)
		}
		chapters = append(chapters, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to iterate chapters: %v", err)
	}
	return chapters, nil
}

// ListLevelsOfChapter returns the levels of a readable chapter in play order
func (c *PostgresCatalog) ListLevelsOfChapter(ctx context.Context, chapterID, userID string) (result []models.LevelRef, err error) {
	ctx, span := observability.TraceContentFunction(ctx, "list_levels_of_chapter", attribute.String("chapter.id", chapterID))
	defer observability.FinishSpan(span, &err)

	var courseID string
	err = c.db.QueryRowContext(ctx, `SELECT course_id FROM chapters WHERE id = $1`, chapterID).Scan(&courseID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("chapter", chapterID)
	}
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to load chapter %s: %v", chapterID, err)
	}
	if err := c.checkAccess(ctx, courseID, userID); err != nil {
		if contextutils.IsError(err, contextutils.ErrRecordNotFound) {
			return nil, notFound("chapter", chapterID)
		}
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT id, chapter_id, title, sort_order
		FROM levels
		WHERE chapter_id = $1
		ORDER BY sort_order, id
	`, chapterID)
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to list levels: %v", err)
	}
	defer func() { _ = rows.Close() }()

	levels := []models.LevelRef{}
	for rows.Next() {
		var l models.LevelRef
		if err := rows.Scan(&l.ID, &l.ChapterID, &l.Title, &l.Order); err != nil {
			return nil, contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to scan level: %v", err)
		}
		levels = append(levels, l)
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to iterate levels: %v", err)
	}
	return levels, nil
}

func (c *PostgresCatalog) checkAccess(ctx context.Context, courseID, userID string) error {
	course, err := c.GetCourse(ctx, courseID)
	if err != nil {
		return err
	}
	if !course.CanBeReadBy(userID) {
		return notFound("course", courseID)
	}
	return nil
}
