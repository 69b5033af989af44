// Package models defines data structures used throughout the game engine.
package models

import "time"

// CourseCategory groups courses for per-category statistics
type CourseCategory string

// Course categories
const (
	CategoryMathematics CourseCategory = "mathematics"
	CategoryScience     CourseCategory = "science"
	CategoryTechnology  CourseCategory = "technology"
	CategoryLanguage    CourseCategory = "language"
	CategoryHistory     CourseCategory = "history"
	CategoryArt         CourseCategory = "art"
	CategoryBusiness    CourseCategory = "business"
	CategoryHealth      CourseCategory = "health"
	CategoryOther       CourseCategory = "other"
)

// CourseVisibility controls who may read a course
type CourseVisibility string

// Course visibility options
const (
	VisibilityPublic   CourseVisibility = "public"
	VisibilityPrivate  CourseVisibility = "private"
	VisibilityLinkOnly CourseVisibility = "link-only"
)

// Course is the read-only course record owned by the content catalog
type Course struct {
	ID         string           `json:"id"`
	AuthorID   string           `json:"author_id"`
	Title      string           `json:"title"`
	Category   CourseCategory   `json:"category"`
	Visibility CourseVisibility `json:"visibility"`
	IsApproved bool             `json:"is_approved"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// CanBeReadBy reports whether userID may read the course: its author always can,
// anyone can read approved public courses and link-only courses.
func (c *Course) CanBeReadBy(userID string) bool {
	if c == nil {
		return false
	}
	if userID != "" && c.AuthorID == userID {
		return true
	}
	switch c.Visibility {
	case VisibilityPublic:
		return c.IsApproved
	case VisibilityLinkOnly:
		return true
	}
	return false
}

// Chapter is an ordered group of levels within a course
type Chapter struct {
	ID       string `json:"id"`
	CourseID string `json:"course_id"`
	Title    string `json:"title"`
	Order    int    `json:"order"`
}

// LevelRef is the ordering metadata of a level, without its questions
type LevelRef struct {
	ID        string `json:"id"`
	ChapterID string `json:"chapter_id"`
	Title     string `json:"title"`
	Order     int    `json:"order"`
}

// Level is a playable unit of questions
type Level struct {
	ID        string     `json:"id"`
	ChapterID string     `json:"chapter_id"`
	CourseID  string     `json:"course_id"`
	Title     string     `json:"title"`
	Order     int        `json:"order"`
	Questions []Question `json:"questions"`
}
