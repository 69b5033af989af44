package di

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"levelquest/internal/config"
	"levelquest/internal/models"
	"levelquest/internal/observability"
	"levelquest/internal/services"
	contextutils "levelquest/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSeed = `
courses:
  - id: geo
    author_id: author
    title: Geography
    category: history
    is_approved: true
    chapters:
      - id: europe
        order: 1
        levels:
          - id: capitals
            order: 1
            questions:
              - type: true_false
                question: "Rome is the capital of Italy"
                correct_answer: true
`

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testSeed), 0o600))

	cfg := config.Default()
	cfg.IsTest = true
	cfg.Store.Backend = config.StoreBackendMemory
	cfg.Store.CatalogSeedFile = path
	cfg.Events.WebsocketEnabled = true
	return cfg
}

func TestServiceContainer_MemoryBackend(t *testing.T) {
	ctx := context.Background()
	sc := NewServiceContainer(memoryConfig(t), observability.NewNopLogger(), Options{WithHub: true, WithWorker: true, WorkerInstance: "test"})
	require.NoError(t, sc.Initialize(ctx))
	defer func() { assert.NoError(t, sc.Shutdown(ctx)) }()

	assert.Nil(t, sc.GetDatabase())
	assert.NotNil(t, sc.GetStore())
	assert.NotNil(t, sc.GetHub())

	game, err := sc.GetGameService()
	require.NoError(t, err)
	_, err = sc.GetProgressService()
	require.NoError(t, err)
	statsSvc, err := sc.GetStatsService()
	require.NoError(t, err)
	_, err = sc.GetRebuildService()
	require.NoError(t, err)
	wk, err := sc.GetWorker()
	require.NoError(t, err)
	assert.Equal(t, "test", wk.GetInstance())

	sess, err := game.StartSession(ctx, "learner", "capitals")
	require.NoError(t, err)
	yes, no := true, false
	res, err := game.SubmitAnswer(ctx, services.SubmitAnswerRequest{
		SessionID: sess.ID,
		UserID:    "learner",
		Answer:    models.Answer{Boolean: &no},
	})
	require.NoError(t, err)
	assert.False(t, res.IsCorrect)

	res, err = game.SubmitAnswer(ctx, services.SubmitAnswerRequest{
		SessionID: sess.ID,
		UserID:    "learner",
		Answer:    models.Answer{Boolean: &yes},
	})
	require.NoError(t, err)
	assert.True(t, res.IsLastQuestion)

	st, err := statsSvc.GetUserStats(ctx, "learner")
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalLevelsCompleted)
	assert.Equal(t, 2, st.CategoryStats["history"].TotalStars)
}

func TestServiceContainer_WithoutWorkerOrHub(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t)
	sc := NewServiceContainer(cfg, observability.NewNopLogger(), Options{})
	require.NoError(t, sc.Initialize(ctx))
	defer func() { _ = sc.Shutdown(ctx) }()

	assert.Nil(t, sc.GetHub())
	_, err := sc.GetWorker()
	assert.True(t, contextutils.IsError(err, contextutils.ErrRecordNotFound))

	_, err = GetServiceAs[*services.StatsService](sc, ServiceGame)
	assert.True(t, contextutils.IsError(err, contextutils.ErrInternalError))
}

func TestServiceContainer_BadConfig(t *testing.T) {
	ctx := context.Background()

	cfg := memoryConfig(t)
	cfg.Store.Backend = config.StoreBackendPostgres
	err := NewServiceContainer(cfg, observability.NewNopLogger(), Options{}).Initialize(ctx)
	assert.True(t, contextutils.IsError(err, contextutils.ErrInvalidInput))

	cfg = memoryConfig(t)
	cfg.Store.Backend = "cassandra"
	err = NewServiceContainer(cfg, observability.NewNopLogger(), Options{}).Initialize(ctx)
	assert.True(t, contextutils.IsError(err, contextutils.ErrInvalidInput))

	cfg = memoryConfig(t)
	cfg.Store.CatalogSeedFile = filepath.Join(t.TempDir(), "missing.yaml")
	err = NewServiceContainer(cfg, observability.NewNopLogger(), Options{}).Initialize(ctx)
	assert.Error(t, err)
}
