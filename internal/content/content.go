// Package content provides read-only access to the course catalog (courses,
// chapters and levels) that the game engine plays against.
package content

import (
	"context"
	"sort"

	"levelquest/internal/models"
	contextutils "levelquest/internal/utils"
)

// LevelReader loads a playable level
type LevelReader interface {
	// GetLevel returns the level with its questions. Levels of courses the
	// learner may not read are reported as not found.
	GetLevel(ctx context.Context, levelID, userID string) (*models.Level, error)
}

// CourseCatalog exposes the course structure used by the aggregators
type CourseCatalog interface {
	GetCourse(ctx context.Context, courseID string) (*models.Course, error)
	ListChaptersOfCourse(ctx context.Context, courseID, userID string) ([]models.Chapter, error)
	ListLevelsOfChapter(ctx context.Context, chapterID, userID string) ([]models.LevelRef, error)
}

// Catalog is the full read surface of the content store
type Catalog interface {
	LevelReader
	CourseCatalog
}

// CourseStructure reads a course's chapters and their levels, both in play order
func CourseStructure(ctx context.Context, catalog CourseCatalog, courseID, userID string) ([]models.ChapterStructure, error) {
	chapters, err := catalog.ListChaptersOfCourse(ctx, courseID, userID)
	if err != nil {
		return nil, contextutils.WrapErrorf(err, "failed to list chapters of course %s", courseID)
	}
	sortChapters(chapters)

	out := make([]models.ChapterStructure, 0, len(chapters))
	for _, ch := range chapters {
		levels, err := catalog.ListLevelsOfChapter(ctx, ch.ID, userID)
		if err != nil {
			return nil, contextutils.WrapErrorf(err, "failed to list levels of chapter %s", ch.ID)
		}
		sortLevels(levels)
		out = append(out, models.ChapterStructure{Chapter: ch, Levels: levels})
	}
	return out, nil
}

// NextLevelID returns the level after levelID in the same chapter, or nil if it is the last one
func NextLevelID(levels []models.LevelRef, levelID string) *string {
	sorted := append([]models.LevelRef(nil), levels...)
	sortLevels(sorted)
	for i, l := range sorted {
		if l.ID == levelID && i+1 < len(sorted) {
			next := sorted[i+1].ID
			return &next
		}
	}
	return nil
}

func sortChapters(chapters []models.Chapter) {
	sort.SliceStable(chapters, func(i, j int) bool {
		if chapters[i].Order != chapters[j].Order {
			return chapters[i].Order < chapters[j].Order
		}
		return chapters[i].ID < chapters[j].ID
	})
}

func sortLevels(levels []models.LevelRef) {
	sort.SliceStable(levels, func(i, j int) bool {
		if levels[i].Order != levels[j].Order {
			return levels[i].Order < levels[j].Order
		}
		return levels[i].ID < levels[j].ID
	})
}

func notFound(kind, id string) error {
	return contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "%s %s not found", kind, id)
}
