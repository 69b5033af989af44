package content

import (
	"context"
	"database/sql"

	"levelquest/internal/observability"
	contextutils "levelquest/internal/utils"

	"go.opentelemetry.io/otel/attribute"
)

// ImportResult counts the rows written by ImportCatalog
type ImportResult struct {
	Courses  int `json:"courses"`
	Chapters int `json:"chapters"`
	Levels   int `json:"levels"`
}

// ImportCatalog upserts every course, chapter and level of src into the
// catalog tables in one transaction. Rows not present in src are left alone.
func ImportCatalog(ctx context.Context, db *sql.DB, src *MemoryCatalog) (result ImportResult, err error) {
	ctx, span := observability.TraceContentFunction(ctx, "import_catalog")
	defer observability.FinishSpan(span, &err)

	courses, chapters, levels := src.Snapshot()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return result, contextutils.WrapErrorf(contextutils.ErrDatabaseConnection, "failed to begin import: %v", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, course := range courses {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO courses (id, author_id, title, category, visibility, is_approved)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				author_id = EXCLUDED.author_id,
				title = EXCLUDED.title,
				category = EXCLUDED.category,
				visibility = EXCLUDED.visibility,
				is_approved = EXCLUDED.is_approved,
				updated_at = NOW()
		`, course.ID, course.AuthorID, course.Title, string(course.Category), string(course.Visibility), course.IsApproved)
		if err != nil {
			return result, contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to import course %s: %v", course.ID, err)
		}
		result.Courses++
	}

	for _, ch := range chapters {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chapters (id, course_id, title, sort_order)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET
				course_id = EXCLUDED.course_id,
				title = EXCLUDED.title,
				sort_order = EXCLUDED.sort_order
		`, ch.ID, ch.CourseID, ch.Title, ch.Order)
		if err != nil {
			return result, contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to import chapter %s: %v", ch.ID, err)
		}
		result.Chapters++
	}

	for _, level := range levels {
		var raw []byte
		raw, err = EncodeQuestions(level.Questions)
		if err != nil {
			return result, err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO levels (id, chapter_id, title, sort_order, questions)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				chapter_id = EXCLUDED.chapter_id,
				title = EXCLUDED.title,
				sort_order = EXCLUDED.sort_order,
				questions = EXCLUDED.questions
		`, level.ID, level.ChapterID, level.Title, level.Order, raw)
		if err != nil {
			return result, contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to import level %s: %v", level.ID, err)
		}
		result.Levels++
	}

	if err = tx.Commit(); err != nil {
		return result, contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to commit import: %v", err)
	}

	span.SetAttributes(
		attribute.Int("import.courses", result.Courses),
		attribute.Int("import.chapters", result.Chapters),
		attribute.Int("import.levels", result.Levels),
	)
	return result, nil
}
