package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"levelquest/internal/config"
	"levelquest/internal/content"
	"levelquest/internal/events"
	"levelquest/internal/models"
	"levelquest/internal/observability"
	"levelquest/internal/store"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{now: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// hookStore lets a test interleave work right before a session CAS write
type hookStore struct {
	*store.MemoryStore
	beforeUpdate func()
}

func (h *hookStore) UpdateSession(ctx context.Context, s *models.Session, expectedVersion int64) error {
	if h.beforeUpdate != nil {
		hook := h.beforeUpdate
		h.beforeUpdate = nil
		hook()
	}
	return h.MemoryStore.UpdateSession(ctx, s, expectedVersion)
}

// flakyStats fails while fail is set
type flakyStats struct {
	StatsServiceInterface
	mu   sync.Mutex
	fail bool
}

func (f *flakyStats) setFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = v
}

func (f *flakyStats) RecordLevelOutcome(ctx context.Context, userID, courseID, levelID string, outcome StatsOutcome) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return store.ErrVersionConflict("user stats", userID)
	}
	return f.StatsServiceInterface.RecordLevelOutcome(ctx, userID, courseID, levelID, outcome)
}

type fixture struct {
	store    *hookStore
	catalog  *content.MemoryCatalog
	clock    *testClock
	pub      *recordingPublisher
	progress *ProgressService
	stats    *StatsService
	flaky    *flakyStats
	game     *GameService
}

var fixtureStart = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func tfQuestion(answer bool) models.Question {
	return models.Question{
		Type:      models.QuestionTypeTrueFalse,
		Prompt:    "statement",
		TrueFalse: &models.TrueFalseQuestion{CorrectAnswer: answer},
	}
}

func boolAnswer(b bool) models.Answer {
	return models.Answer{Boolean: &b}
}

// seedCatalog builds course c1 with chapter ch1 (l1: three true statements,
// l2: one false statement) and chapter ch2 (l3: one true statement), plus
// course c2 holding the empty level "empty" and private course c3.
func seedCatalog() *content.MemoryCatalog {
	c := content.NewMemoryCatalog()
	c.AddCourse(models.Course{ID: "c1", AuthorID: "author", Title: "Physics", Category: models.CategoryScience, Visibility: models.VisibilityPublic, IsApproved: true})
	c.AddChapter(models.Chapter{ID: "ch1", CourseID: "c1", Title: "Motion", Order: 1})
	c.AddChapter(models.Chapter{ID: "ch2", CourseID: "c1", Title: "Energy", Order: 2})
	c.AddLevel(models.Level{ID: "l1", ChapterID: "ch1", Title: "Basics", Order: 1,
		Questions: []models.Question{tfQuestion(true), tfQuestion(true), tfQuestion(true)}})
	c.AddLevel(models.Level{ID: "l2", ChapterID: "ch1", Title: "Forces", Order: 2,
		Questions: []models.Question{tfQuestion(false)}})
	c.AddLevel(models.Level{ID: "l3", ChapterID: "ch2", Title: "Work", Order: 1,
		Questions: []models.Question{tfQuestion(true)}})

	c.AddCourse(models.Course{ID: "c2", AuthorID: "author", Title: "Drafts", Category: models.CategoryOther, Visibility: models.VisibilityPublic, IsApproved: true})
	c.AddChapter(models.Chapter{ID: "ch-empty", CourseID: "c2", Title: "Empty", Order: 1})
	c.AddLevel(models.Level{ID: "empty", ChapterID: "ch-empty", Title: "Nothing", Order: 1})

	c.AddCourse(models.Course{ID: "c3", AuthorID: "author", Title: "Secret", Category: models.CategoryOther, Visibility: models.VisibilityPrivate})
	c.AddChapter(models.Chapter{ID: "ch-secret", CourseID: "c3", Title: "Secret", Order: 1})
	c.AddLevel(models.Level{ID: "secret", ChapterID: "ch-secret", Title: "Secret", Order: 1,
		Questions: []models.Question{tfQuestion(true)}})
	return c
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := observability.NewNopLogger()
	cfg := config.Default().Game
	cfg.Timezone = "UTC"

	f := &fixture{
		store:   &hookStore{MemoryStore: store.NewMemoryStore()},
		catalog: seedCatalog(),
		clock:   newTestClock(fixtureStart),
		pub:     &recordingPublisher{},
	}
	notifier := events.NewNotifier(f.pub, logger)

	f.progress = NewProgressServiceWithLogger(f.store, f.store, f.catalog, notifier, cfg, logger)
	f.progress.timeNow = f.clock.Now
	f.stats = NewStatsServiceWithLogger(f.store, f.catalog, notifier, cfg, logger)
	f.stats.timeNow = f.clock.Now
	f.flaky = &flakyStats{StatsServiceInterface: f.stats}

	f.game = NewGameServiceWithLogger(f.store, f.catalog, f.progress, f.flaky, notifier, cfg, logger)
	f.game.timeNow = f.clock.Now
	return f
}

func (f *fixture) submit(t *testing.T, sessionID string, index int, answer bool) (*models.QuestionResult, error) {
	t.Helper()
	return f.game.SubmitAnswer(context.Background(), SubmitAnswerRequest{
		SessionID:     sessionID,
		UserID:        "u1",
		QuestionIndex: index,
		Answer:        boolAnswer(answer),
		TimeSpent:     5,
	})
}

// playPerfect completes a level of true statements without losing a life
func (f *fixture) playPerfect(t *testing.T, userID, levelID string, questions int) *models.Session {
	t.Helper()
	ctx := context.Background()
	sess, err := f.game.StartSession(ctx, userID, levelID)
	if err != nil {
		t.Fatalf("start %s: %v", levelID, err)
	}
	level, err := f.catalog.GetLevel(ctx, levelID, userID)
	if err != nil {
		t.Fatalf("level %s: %v", levelID, err)
	}
	for i := 0; i < questions; i++ {
		f.clock.Advance(10 * time.Second)
		_, err := f.game.SubmitAnswer(ctx, SubmitAnswerRequest{
			SessionID:     sess.ID,
			UserID:        userID,
			QuestionIndex: i,
			Answer:        boolAnswer(level.Questions[i].TrueFalse.CorrectAnswer),
		})
		if err != nil {
			t.Fatalf("answer %d: %v", i, err)
		}
	}
	done, err := f.store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	return done
}
