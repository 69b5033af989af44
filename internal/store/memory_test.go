package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"levelquest/internal/models"
	contextutils "levelquest/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC)

func newSession(id, user, level string, start time.Time) *models.Session {
	lvl := &models.Level{ID: level, ChapterID: "ch", CourseID: "course", Questions: []models.Question{
		models.NewTrueFalseQuestion("q", true),
	}}
	return models.NewSession(id, user, lvl, start)
}

func TestMemoryStore_CreateSession_OneActivePerLevel(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	first := newSession("s1", "u1", "l1", testStart)
	require.NoError(t, m.CreateSession(ctx, first))
	assert.Equal(t, int64(1), first.Version)

	err := m.CreateSession(ctx, newSession("s2", "u1", "l1", testStart))
	assert.True(t, contextutils.IsError(err, contextutils.ErrRecordExists))

	require.NoError(t, m.CreateSession(ctx, newSession("s3", "u1", "l2", testStart)))
	require.NoError(t, m.CreateSession(ctx, newSession("s4", "u2", "l1", testStart)))

	ok, err := m.TransitionSession(ctx, "s1", models.SessionStatusAbandoned, testStart)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, m.CreateSession(ctx, newSession("s5", "u1", "l1", testStart)))
}

func TestMemoryStore_CreateSession_ConcurrentStartsHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := m.CreateSession(ctx, newSession(fmt.Sprintf("s%d", i), "u1", "l1", testStart)); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestMemoryStore_UpdateSession_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	s := newSession("s1", "u1", "l1", testStart)
	require.NoError(t, m.CreateSession(ctx, s))

	a, err := m.GetSession(ctx, "s1")
	require.NoError(t, err)
	b, err := m.GetSession(ctx, "s1")
	require.NoError(t, err)

	a.Score = 100
	require.NoError(t, m.UpdateSession(ctx, a, 1))
	assert.Equal(t, int64(2), a.Version)

	b.Lives = 2
	err = m.UpdateSession(ctx, b, 1)
	assert.True(t, contextutils.IsError(err, contextutils.ErrConflict))

	stored, err := m.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 100, stored.Score)
	assert.Equal(t, models.MaxLives, stored.Lives)
}

func TestMemoryStore_UpdateSession_RejectsTerminal(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.CreateSession(ctx, newSession("s1", "u1", "l1", testStart)))

	stale, err := m.GetSession(ctx, "s1")
	require.NoError(t, err)

	expired, err := m.ExpireStaleSessions(ctx, testStart.Add(time.Minute), testStart.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, models.SessionStatusExpired, expired[0].Status)

	stale.Score = 100
	err = m.UpdateSession(ctx, stale, stale.Version)
	assert.True(t, contextutils.IsError(err, contextutils.ErrConflict))

	ok, err := m.TransitionSession(ctx, "s1", models.SessionStatusAbandoned, testStart)
	require.NoError(t, err)
	assert.False(t, ok, "terminal sessions never change status")
}

func TestMemoryStore_ExpireStaleSessions_OnlyStale(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.CreateSession(ctx, newSession("old", "u1", "l1", testStart)))
	require.NoError(t, m.CreateSession(ctx, newSession("fresh", "u1", "l2", testStart.Add(30*time.Minute))))

	expired, err := m.ExpireStaleSessions(ctx, testStart.Add(10*time.Minute), testStart.Add(40*time.Minute))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "old", expired[0].ID)

	fresh, err := m.GetSession(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusActive, fresh.Status)
}

func TestMemoryStore_ListSessions(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	for i, id := range []string{"a", "b", "c"} {
		s := newSession(id, "u1", "l1", testStart.Add(time.Duration(i)*time.Minute))
		s.Status = models.SessionStatusCompleted
		end := testStart.Add(time.Duration(10-i) * time.Minute)
		s.EndTime = &end
		require.NoError(t, m.CreateSession(ctx, s))
	}
	require.NoError(t, m.CreateSession(ctx, newSession("active", "u1", "l1", testStart)))

	newest, err := m.ListSessions(ctx, models.SessionFilter{UserID: "u1", Status: models.SessionStatusCompleted, NewestFirst: true})
	require.NoError(t, err)
	require.Len(t, newest, 3)
	assert.Equal(t, "a", newest[0].ID)

	oldest, err := m.ListSessions(ctx, models.SessionFilter{UserID: "u1", ExcludeID: "b", Limit: 2})
	require.NoError(t, err)
	require.Len(t, oldest, 2)
	assert.Equal(t, "a", oldest[0].ID)
	assert.Equal(t, "active", oldest[1].ID)
}

func TestMemoryStore_Unaggregated(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	s := newSession("s1", "u1", "l1", testStart)
	s.Status = models.SessionStatusCompleted
	end := testStart.Add(time.Minute)
	s.EndTime = &end
	require.NoError(t, m.CreateSession(ctx, s))

	pending, err := m.ListUnaggregatedSessions(ctx, testStart.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	pending, err = m.ListUnaggregatedSessions(ctx, testStart, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, m.MarkSessionAggregated(ctx, "s1"))
	pending, err = m.ListUnaggregatedSessions(ctx, testStart.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMemoryStore_CourseProgress(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	_, err := m.GetCourseProgress(ctx, "u1", "c1")
	assert.True(t, contextutils.IsError(err, contextutils.ErrRecordNotFound))

	p := models.NewCourseProgress("u1", "c1", testStart)
	require.NoError(t, m.SaveCourseProgress(ctx, p, 0))
	assert.Equal(t, int64(1), p.Version)

	err = m.SaveCourseProgress(ctx, models.NewCourseProgress("u1", "c1", testStart), 0)
	assert.True(t, contextutils.IsError(err, contextutils.ErrConflict), "double insert loses")

	p.IsCompleted = true
	p.UpdatedAt = testStart.Add(time.Hour)
	require.NoError(t, m.SaveCourseProgress(ctx, p, 1))
	err = m.SaveCourseProgress(ctx, p, 1)
	assert.True(t, contextutils.IsError(err, contextutils.ErrConflict))

	other := models.NewCourseProgress("u1", "c2", testStart)
	require.NoError(t, m.SaveCourseProgress(ctx, other, 0))

	all, err := m.ListCourseProgress(ctx, "u1", nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "c1", all[0].CourseID)

	completed := true
	done, err := m.ListCourseProgress(ctx, "u1", &completed)
	require.NoError(t, err)
	require.Len(t, done, 1)

	require.NoError(t, m.DeleteUserProgress(ctx, "u1"))
	all, err = m.ListCourseProgress(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMemoryStore_UserStats(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	s := models.NewUserStats("u1", testStart)
	require.NoError(t, m.SaveUserStats(ctx, s, 0))

	loaded, err := m.GetUserStats(ctx, "u1")
	require.NoError(t, err)
	loaded.TotalScore = 10
	loaded.CategoryStats["science"] = models.CategoryStats{Category: models.CategoryScience}

	again, err := m.GetUserStats(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, again.TotalScore, "reads are isolated copies")
	assert.Empty(t, again.CategoryStats)

	require.NoError(t, m.SaveUserStats(ctx, loaded, 1))
	err = m.SaveUserStats(ctx, again, 1)
	assert.True(t, contextutils.IsError(err, contextutils.ErrConflict))

	require.NoError(t, m.DeleteUserStats(ctx, "u1"))
	_, err = m.GetUserStats(ctx, "u1")
	assert.True(t, contextutils.IsError(err, contextutils.ErrRecordNotFound))
}
