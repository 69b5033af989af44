//go:build integration

package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"levelquest/internal/models"
	"levelquest/internal/observability"
	contextutils "levelquest/internal/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMongo(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	dbName := "levelquest_test_" + uuid.NewString()[:8]
	s, err := Connect(ctx, uri, dbName, observability.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.sessions.Database().Drop(ctx)
		_ = s.Close(ctx)
	})
	return s
}

func newSession(userID, levelID string, start time.Time) *models.Session {
	level := &models.Level{
		ID:        levelID,
		ChapterID: "ch1",
		CourseID:  "c1",
		Questions: make([]models.Question, 3),
	}
	sess := models.NewSession(uuid.NewString(), userID, level, start)
	return sess
}

func TestMongoStore_OneActivePerLevel(t *testing.T) {
	s := setupMongo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	first := newSession("u1", "l1", now)
	require.NoError(t, s.CreateSession(ctx, first))
	assert.Equal(t, int64(1), first.Version)

	err := s.CreateSession(ctx, newSession("u1", "l1", now))
	assert.True(t, contextutils.IsError(err, contextutils.ErrRecordExists))

	ok, err := s.TransitionSession(ctx, first.ID, models.SessionStatusAbandoned, now)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.CreateSession(ctx, newSession("u1", "l1", now)))
}

func TestMongoStore_UpdateSessionCAS(t *testing.T) {
	s := setupMongo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	sess := newSession("u1", "l1", now)
	require.NoError(t, s.CreateSession(ctx, sess))

	stale := sess.Clone()
	sess.Score = 100
	require.NoError(t, s.UpdateSession(ctx, sess, 1))
	assert.Equal(t, int64(2), sess.Version)

	stale.Score = 50
	err := s.UpdateSession(ctx, stale, 1)
	assert.True(t, contextutils.IsError(err, contextutils.ErrConflict))

	loaded, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, loaded.Score)
}

func TestMongoStore_ExpireStaleSessions(t *testing.T) {
	s := setupMongo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	old := newSession("u1", "l1", now.Add(-2*time.Hour))
	fresh := newSession("u1", "l2", now)
	require.NoError(t, s.CreateSession(ctx, old))
	require.NoError(t, s.CreateSession(ctx, fresh))

	expired, err := s.ExpireStaleSessions(ctx, now.Add(-time.Hour), now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, old.ID, expired[0].ID)
	assert.Equal(t, models.SessionStatusExpired, expired[0].Status)

	again, err := s.ExpireStaleSessions(ctx, now.Add(-time.Hour), now)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestMongoStore_Aggregates(t *testing.T) {
	s := setupMongo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	_, err := s.GetCourseProgress(ctx, "u1", "c1")
	assert.True(t, contextutils.IsError(err, contextutils.ErrRecordNotFound))

	p := models.NewCourseProgress("u1", "c1", now)
	require.NoError(t, s.SaveCourseProgress(ctx, p, 0))
	assert.True(t, contextutils.IsError(s.SaveCourseProgress(ctx, models.NewCourseProgress("u1", "c1", now), 0), contextutils.ErrConflict))

	p.TotalScore = 300
	require.NoError(t, s.SaveCourseProgress(ctx, p, 1))
	list, err := s.ListCourseProgress(ctx, "u1", nil)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 300, list[0].TotalScore)

	st := models.NewUserStats("u1", now)
	require.NoError(t, s.SaveUserStats(ctx, st, 0))
	st.TotalScore = 10
	require.NoError(t, s.SaveUserStats(ctx, st, 1))
	assert.True(t, contextutils.IsError(s.SaveUserStats(ctx, st, 1), contextutils.ErrConflict))

	require.NoError(t, s.DeleteUserStats(ctx, "u1"))
	_, err = s.GetUserStats(ctx, "u1")
	assert.True(t, contextutils.IsError(err, contextutils.ErrRecordNotFound))
}
