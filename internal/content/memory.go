package content

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"

	"levelquest/internal/models"
	contextutils "levelquest/internal/utils"

	"gopkg.in/yaml.v3"
)

// MemoryCatalog is an in-process catalog used by tests and the memory store backend
type MemoryCatalog struct {
	mu       sync.RWMutex
	courses  map[string]models.Course
	chapters map[string]models.Chapter
	levels   map[string]models.Level
}

// NewMemoryCatalog returns an empty catalog
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		courses:  make(map[string]models.Course),
		chapters: make(map[string]models.Chapter),
		levels:   make(map[string]models.Level),
	}
}

// AddCourse inserts or replaces a course
func (c *MemoryCatalog) AddCourse(course models.Course) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.courses[course.ID] = course
}

// AddChapter inserts or replaces a chapter
func (c *MemoryCatalog) AddChapter(chapter models.Chapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chapters[chapter.ID] = chapter
}

// AddLevel inserts or replaces a level. CourseID is filled from the chapter when empty.
func (c *MemoryCatalog) AddLevel(level models.Level) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if level.CourseID == "" {
		if ch, ok := c.chapters[level.ChapterID]; ok {
			level.CourseID = ch.CourseID
		}
	}
	level.Questions = append([]models.Question(nil), level.Questions...)
	c.levels[level.ID] = level
}

// Size reports how many courses, chapters and levels are loaded
func (c *MemoryCatalog) Size() (courses, chapters, levels int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.courses), len(c.chapters), len(c.levels)
}

// Snapshot copies out the loaded catalog with chapters and levels in play order
func (c *MemoryCatalog) Snapshot() (courses []models.Course, chapters []models.Chapter, levels []models.Level) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, course := range c.courses {
		courses = append(courses, course)
	}
	for _, ch := range c.chapters {
		chapters = append(chapters, ch)
	}
	for _, l := range c.levels {
		levels = append(levels, l)
	}
	sort.Slice(courses, func(i, j int) bool { return courses[i].ID < courses[j].ID })
	sort.Slice(chapters, func(i, j int) bool {
		if chapters[i].CourseID != chapters[j].CourseID {
			return chapters[i].CourseID < chapters[j].CourseID
		}
		return chapters[i].Order < chapters[j].Order
	})
	sort.Slice(levels, func(i, j int) bool {
		if levels[i].ChapterID != levels[j].ChapterID {
			return levels[i].ChapterID < levels[j].ChapterID
		}
		return levels[i].Order < levels[j].Order
	})
	return courses, chapters, levels
}

// GetCourse returns a course regardless of visibility
func (c *MemoryCatalog) GetCourse(_ context.Context, courseID string) (*models.Course, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	course, ok := c.courses[courseID]
	if !ok {
		return nil, notFound("course", courseID)
	}
	return &course, nil
}

// GetLevel returns a level when its course is readable by userID
func (c *MemoryCatalog) GetLevel(_ context.Context, levelID, userID string) (*models.Level, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	level, ok := c.levels[levelID]
	if !ok || !c.readableLocked(level.CourseID, userID) {
		return nil, notFound("level", levelID)
	}
	level.Questions = append([]models.Question(nil), level.Questions...)
	return &level, nil
}

// ListChaptersOfCourse returns the course's chapters in play order
func (c *MemoryCatalog) ListChaptersOfCourse(_ context.Context, courseID, userID string) ([]models.Chapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.readableLocked(courseID, userID) {
		return nil, notFound("course", courseID)
	}
	out := []models.Chapter{}
	for _, ch := range c.chapters {
		if ch.CourseID == courseID {
			out = append(out, ch)
		}
	}
	sortChapters(out)
	return out, nil
}

// ListLevelsOfChapter returns the chapter's levels in play order
func (c *MemoryCatalog) ListLevelsOfChapter(_ context.Context, chapterID, userID string) ([]models.LevelRef, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.chapters[chapterID]
	if !ok || !c.readableLocked(ch.CourseID, userID) {
		return nil, notFound("chapter", chapterID)
	}
	out := []models.LevelRef{}
	for _, l := range c.levels {
		if l.ChapterID == chapterID {
			out = append(out, models.LevelRef{ID: l.ID, ChapterID: l.ChapterID, Title: l.Title, Order: l.Order})
		}
	}
	sortLevels(out)
	return out, nil
}

func (c *MemoryCatalog) readableLocked(courseID, userID string) bool {
	course, ok := c.courses[courseID]
	return ok && course.CanBeReadBy(userID)
}

// seedFile is the on-disk layout accepted by LoadSeedFile
type seedFile struct {
	Courses []seedCourse `yaml:"courses"`
}

type seedCourse struct {
	ID         string        `yaml:"id"`
	AuthorID   string        `yaml:"author_id"`
	Title      string        `yaml:"title"`
	Category   string        `yaml:"category"`
	Visibility string        `yaml:"visibility"`
	IsApproved bool          `yaml:"is_approved"`
	Chapters   []seedChapter `yaml:"chapters"`
}

type seedChapter struct {
	ID     string      `yaml:"id"`
	Title  string      `yaml:"title"`
	Order  int         `yaml:"order"`
	Levels []seedLevel `yaml:"levels"`
}

type seedLevel struct {
	ID        string        `yaml:"id"`
	Title     string        `yaml:"title"`
	Order     int           `yaml:"order"`
	Questions []interface{} `yaml:"questions"`
}

// LoadSeedFile reads a YAML catalog (courses with nested chapters and levels)
// into the memory catalog. Questions go through the same schema validation as
// stored levels.
func (c *MemoryCatalog) LoadSeedFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return contextutils.WrapErrorf(err, "failed to read catalog seed %s", path)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return contextutils.WrapErrorf(contextutils.ErrInvalidInput, "failed to parse catalog seed %s: %v", path, err)
	}

	for _, course := range seed.Courses {
		visibility := models.CourseVisibility(course.Visibility)
		if visibility == "" {
			visibility = models.VisibilityPublic
		}
		category := models.CourseCategory(course.Category)
		if category == "" {
			category = models.CategoryOther
		}
		c.AddCourse(models.Course{
			ID:         course.ID,
			AuthorID:   course.AuthorID,
			Title:      course.Title,
			Category:   category,
			Visibility: visibility,
			IsApproved: course.IsApproved,
		})
		for _, ch := range course.Chapters {
			chapter := models.Chapter{ID: ch.ID, CourseID: course.ID, Title: ch.Title, Order: ch.Order}
			c.AddChapter(chapter)
			for _, l := range ch.Levels {
				raw, err := json.Marshal(normalizeYAML(l.Questions))
				if err != nil {
					return contextutils.WrapErrorf(err, "failed to encode questions of level %s", l.ID)
				}
				questions, err := DecodeQuestions(raw)
				if err != nil {
					return contextutils.WrapErrorf(err, "level %s", l.ID)
				}
				c.AddLevel(models.Level{
					ID:        l.ID,
					ChapterID: chapter.ID,
					CourseID:  course.ID,
					Title:     l.Title,
					Order:     l.Order,
					Questions: questions,
				})
			}
		}
	}
	return nil
}

// normalizeYAML turns yaml.v3 generic values into JSON-encodable ones
func normalizeYAML(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			if ks, ok := k.(string); ok {
				out[ks] = normalizeYAML(val)
			}
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	}
	return v
}
