package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"levelquest/internal/config"
	"levelquest/internal/observability"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockMaintenance struct {
	mock.Mock
}

func (m *mockMaintenance) SweepExpiredSessions(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockMaintenance) RetryPendingAggregations(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func newTestWorker(game Maintenance, cfg config.GameConfig) *Worker {
	return NewWorker(game, "test", cfg, observability.NewNopLogger())
}

func TestNewWorker_Defaults(t *testing.T) {
	w := NewWorker(&mockMaintenance{}, "", config.GameConfig{}, observability.NewNopLogger())
	assert.Equal(t, "default", w.GetInstance())
	assert.Equal(t, config.DefaultSweepInterval, w.cfg.SweepInterval)
	assert.Equal(t, config.DefaultAggregationRetryInterval, w.cfg.AggregationRetryInterval)
	assert.Equal(t, config.DefaultWorkerHistory, w.cfg.MaxHistory)
	assert.Equal(t, "Initialized", w.GetStatus().CurrentActivity)
}

func TestWorker_RunOnce(t *testing.T) {
	game := &mockMaintenance{}
	game.On("SweepExpiredSessions", mock.Anything).Return(3, nil).Once()
	game.On("RetryPendingAggregations", mock.Anything).Return(1, nil).Once()

	w := newTestWorker(game, config.GameConfig{})
	w.RunOnce(context.Background())

	game.AssertExpectations(t)
	status := w.GetStatus()
	assert.Equal(t, 3, status.TotalExpired)
	assert.Equal(t, 1, status.TotalRepaired)
	assert.Empty(t, status.LastRunError)
	assert.Equal(t, "Idle", status.CurrentActivity)

	history := w.GetHistory()
	require.Len(t, history, 2)
	assert.Equal(t, JobSweep, history[0].Job)
	assert.Equal(t, "Success", history[0].Status)
	assert.Equal(t, 3, history[0].Processed)
	assert.Equal(t, "Expired 3 stale sessions", history[0].Details)
	assert.Equal(t, JobAggregation, history[1].Job)

	logs := w.GetActivityLogs()
	require.Len(t, logs, 2)
	assert.Equal(t, "INFO", logs[0].Level)
}

func TestWorker_JobFailureIsRecorded(t *testing.T) {
	game := &mockMaintenance{}
	game.On("SweepExpiredSessions", mock.Anything).Return(0, errors.New("store unavailable"))

	w := newTestWorker(game, config.GameConfig{})
	w.execute(context.Background(), JobSweep)

	status := w.GetStatus()
	assert.Equal(t, "store unavailable", status.LastRunError)
	assert.Equal(t, 0, status.TotalExpired)

	history := w.GetHistory()
	require.Len(t, history, 1)
	assert.Equal(t, "Failure", history[0].Status)

	logs := w.GetActivityLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, "ERROR", logs[0].Level)
}

func TestWorker_UnknownJob(t *testing.T) {
	w := newTestWorker(&mockMaintenance{}, config.GameConfig{})
	w.execute(context.Background(), "bogus")
	assert.Contains(t, w.GetStatus().LastRunError, "unknown job")
}

func TestWorker_HistoryIsBounded(t *testing.T) {
	game := &mockMaintenance{}
	game.On("SweepExpiredSessions", mock.Anything).Return(0, nil)

	w := newTestWorker(game, config.GameConfig{MaxHistory: 3})
	for i := 0; i < 5; i++ {
		w.execute(context.Background(), JobSweep)
	}
	assert.Len(t, w.GetHistory(), 3)
}

func TestWorker_PauseSkipsScheduledRuns(t *testing.T) {
	game := &mockMaintenance{}
	w := newTestWorker(game, config.GameConfig{})

	w.Pause(context.Background())
	assert.True(t, w.GetStatus().IsPaused)
	w.runJob(context.Background(), JobSweep)
	game.AssertNotCalled(t, "SweepExpiredSessions", mock.Anything)
	assert.Equal(t, "Paused", w.GetStatus().CurrentActivity)

	game.On("SweepExpiredSessions", mock.Anything).Return(0, nil).Once()
	w.Resume(context.Background())
	assert.False(t, w.GetStatus().IsPaused)
	w.runJob(context.Background(), JobSweep)
	game.AssertExpectations(t)
}

func TestWorker_StartTickAndShutdown(t *testing.T) {
	game := &mockMaintenance{}
	game.On("SweepExpiredSessions", mock.Anything).Return(0, nil)
	game.On("RetryPendingAggregations", mock.Anything).Return(0, nil)

	w := newTestWorker(game, config.GameConfig{
		SweepInterval:            10 * time.Millisecond,
		AggregationRetryInterval: 15 * time.Millisecond,
	})
	go w.Start(context.Background())

	assert.Eventually(t, func() bool {
		return len(w.GetHistory()) >= 2 && w.GetStatus().IsRunning
	}, time.Second, 5*time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Shutdown(shutdownCtx))
	assert.False(t, w.GetStatus().IsRunning)
}

func TestWorker_TriggerManualRun(t *testing.T) {
	game := &mockMaintenance{}
	game.On("SweepExpiredSessions", mock.Anything).Return(2, nil)
	game.On("RetryPendingAggregations", mock.Anything).Return(0, nil)

	w := newTestWorker(game, config.GameConfig{SweepInterval: time.Hour, AggregationRetryInterval: time.Hour})
	w.Pause(context.Background())
	go w.Start(context.Background())
	defer func() { _ = w.Shutdown(context.Background()) }()

	w.TriggerManualRun()
	assert.Eventually(t, func() bool {
		return w.GetStatus().TotalExpired == 2
	}, time.Second, 5*time.Millisecond)
}

func TestWorker_ShutdownWithoutStart(t *testing.T) {
	w := newTestWorker(&mockMaintenance{}, config.GameConfig{})
	assert.NoError(t, w.Shutdown(context.Background()))
}
