// Package worker contains the background worker that keeps game sessions
// healthy: it expires sessions that outlived their TTL and re-runs aggregation
// for completed sessions whose progress or stats update failed. It runs
// independently of HTTP request handling, either as its own process or
// embedded in the API server.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"levelquest/internal/config"
	"levelquest/internal/observability"
	contextutils "levelquest/internal/utils"

	"go.opentelemetry.io/otel/attribute"
)

// Job names recorded in run history
const (
	JobSweep       = "sweep"
	JobAggregation = "aggregation"
)

// Maintenance is the part of the game service the worker drives
type Maintenance interface {
	SweepExpiredSessions(ctx context.Context) (int, error)
	RetryPendingAggregations(ctx context.Context) (int, error)
}

// Status represents the current state of the worker
type Status struct {
	IsRunning       bool      `json:"is_running"`
	IsPaused        bool      `json:"is_paused"`
	CurrentActivity string    `json:"current_activity,omitempty"`
	LastRunStart    time.Time `json:"last_run_start"`
	LastRunFinish   time.Time `json:"last_run_finish"`
	LastRunError    string    `json:"last_run_error,omitempty"`
	TotalExpired    int       `json:"total_expired"`
	TotalRepaired   int       `json:"total_repaired"`
}

// RunRecord tracks individual job runs
type RunRecord struct {
	Job       string        `json:"job"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Status    string        `json:"status"` // Success, Failure
	Processed int           `json:"processed"`
	Details   string        `json:"details"`
}

// ActivityLog represents a single activity log entry
type ActivityLog struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"` // INFO, WARN, ERROR
	Message   string    `json:"message"`
}

// Worker runs the session sweeper and the aggregation retry loop
type Worker struct {
	game         Maintenance
	instance     string
	cfg          config.GameConfig
	status       Status
	history      []RunRecord
	activityLogs []ActivityLog
	mu           sync.RWMutex
	runMu        sync.Mutex

	manualTrigger chan struct{}
	done          chan struct{}
	logger        *observability.Logger

	// Time function for testing - defaults to time.Now
	timeNow func() time.Time
	cancel  context.CancelFunc
}

const maxActivityLogs = 100

// NewWorker creates a new Worker instance
func NewWorker(game Maintenance, instance string, cfg config.GameConfig, logger *observability.Logger) *Worker {
	if instance == "" {
		instance = "default"
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = config.DefaultSweepInterval
	}
	if cfg.AggregationRetryInterval <= 0 {
		cfg.AggregationRetryInterval = config.DefaultAggregationRetryInterval
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = config.DefaultWorkerHistory
	}

	return &Worker{
		game:          game,
		instance:      instance,
		cfg:           cfg,
		status:        Status{CurrentActivity: "Initialized"},
		history:       make([]RunRecord, 0, cfg.MaxHistory),
		activityLogs:  make([]ActivityLog, 0, maxActivityLogs),
		manualTrigger: make(chan struct{}, 1),
		logger:        logger,
		timeNow:       time.Now,
	}
}

// Start runs the worker loops until ctx is cancelled or Shutdown is called
func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.done = make(chan struct{})
	done := w.done
	w.status.IsRunning = true
	w.mu.Unlock()
	defer close(done)

	sweepTicker := time.NewTicker(w.cfg.SweepInterval)
	defer sweepTicker.Stop()
	retryTicker := time.NewTicker(w.cfg.AggregationRetryInterval)
	defer retryTicker.Stop()

	w.logger.Info(ctx, "Worker started", map[string]interface{}{
		"instance":                   w.instance,
		"sweep_interval":             w.cfg.SweepInterval.String(),
		"aggregation_retry_interval": w.cfg.AggregationRetryInterval.String(),
	})
	w.logActivity("INFO", fmt.Sprintf("Worker %s started", w.instance))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "Worker shutting down", map[string]interface{}{
				"instance": w.instance,
			})
			w.logActivity("INFO", fmt.Sprintf("Worker %s shutting down", w.instance))
			w.mu.Lock()
			w.status.IsRunning = false
			w.mu.Unlock()
			return

		case <-sweepTicker.C:
			w.runJob(ctx, JobSweep)

		case <-retryTicker.C:
			w.runJob(ctx, JobAggregation)

		case <-w.manualTrigger:
			w.logger.Info(ctx, "Worker triggered manually", map[string]interface{}{
				"instance": w.instance,
			})
			w.logActivity("INFO", fmt.Sprintf("Worker %s triggered manually", w.instance))
			w.RunOnce(ctx)
		}
	}
}

// RunOnce runs every job once, ignoring the pause flag
func (w *Worker) RunOnce(ctx context.Context) {
	w.execute(ctx, JobSweep)
	w.execute(ctx, JobAggregation)
}

// runJob executes a scheduled job unless the worker is paused
func (w *Worker) runJob(ctx context.Context, job string) {
	if w.GetStatus().IsPaused {
		w.updateActivity("Paused")
		return
	}
	w.execute(ctx, job)
}

func (w *Worker) execute(ctx context.Context, job string) {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	ctx, span := observability.TraceWorkerFunction(ctx, "run_"+job,
		attribute.String("worker.instance", w.instance),
	)
	var err error
	defer observability.FinishSpan(span, &err)

	start := w.timeNow()
	w.mu.Lock()
	w.status.LastRunStart = start
	w.status.CurrentActivity = "Running " + job
	w.mu.Unlock()

	var processed int
	switch job {
	case JobSweep:
		processed, err = w.game.SweepExpiredSessions(ctx)
	case JobAggregation:
		processed, err = w.game.RetryPendingAggregations(ctx)
	default:
		err = contextutils.WrapErrorf(contextutils.ErrInvalidInput, "unknown job %q", job)
	}
	span.SetAttributes(attribute.Int("worker.processed", processed))

	finish := w.timeNow()
	record := RunRecord{
		Job:       job,
		StartTime: start,
		EndTime:   finish,
		Duration:  finish.Sub(start),
		Status:    "Success",
		Processed: processed,
		Details:   summarize(job, processed),
	}

	w.mu.Lock()
	w.status.LastRunFinish = finish
	w.status.CurrentActivity = "Idle"
	if err != nil {
		record.Status = "Failure"
		record.Details = err.Error()
		w.status.LastRunError = err.Error()
	} else {
		w.status.LastRunError = ""
		switch job {
		case JobSweep:
			w.status.TotalExpired += processed
		case JobAggregation:
			w.status.TotalRepaired += processed
		}
	}
	w.history = append(w.history, record)
	if len(w.history) > w.cfg.MaxHistory {
		w.history = w.history[len(w.history)-w.cfg.MaxHistory:]
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Error(ctx, "Worker job failed", err, map[string]interface{}{
			"instance": w.instance,
			"job":      job,
		})
		w.logActivity("ERROR", fmt.Sprintf("%s failed: %v", job, err))
		return
	}
	if processed > 0 {
		w.logActivity("INFO", record.Details)
	}
}

func summarize(job string, processed int) string {
	switch job {
	case JobSweep:
		return fmt.Sprintf("Expired %d stale sessions", processed)
	case JobAggregation:
		return fmt.Sprintf("Repaired aggregates for %d sessions", processed)
	}
	return ""
}

// GetStatus returns the current worker status
func (w *Worker) GetStatus() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// GetHistory returns the worker's run history
func (w *Worker) GetHistory() []RunRecord {
	w.mu.RLock()
	defer w.mu.RUnlock()
	history := make([]RunRecord, len(w.history))
	copy(history, w.history)
	return history
}

// GetActivityLogs returns recent activity logs
func (w *Worker) GetActivityLogs() []ActivityLog {
	w.mu.RLock()
	defer w.mu.RUnlock()
	logs := make([]ActivityLog, len(w.activityLogs))
	copy(logs, w.activityLogs)
	return logs
}

// GetInstance returns the worker instance name
func (w *Worker) GetInstance() string {
	return w.instance
}

// TriggerManualRun requests an immediate run of every job
func (w *Worker) TriggerManualRun() {
	ctx := context.Background()
	select {
	case w.manualTrigger <- struct{}{}:
		w.logger.Info(ctx, "Manual trigger sent to worker", map[string]interface{}{
			"instance": w.instance,
		})
	default:
		w.logger.Info(ctx, "Manual trigger already pending for worker", map[string]interface{}{
			"instance": w.instance,
		})
	}
}

// Pause stops scheduled runs; manual triggers still run
func (w *Worker) Pause(ctx context.Context) {
	w.mu.Lock()
	w.status.IsPaused = true
	w.mu.Unlock()
	w.logger.Info(ctx, "Worker paused", map[string]interface{}{
		"instance": w.instance,
	})
	w.logActivity("INFO", fmt.Sprintf("Worker %s paused", w.instance))
}

// Resume re-enables scheduled runs
func (w *Worker) Resume(ctx context.Context) {
	w.mu.Lock()
	w.status.IsPaused = false
	w.mu.Unlock()
	w.logger.Info(ctx, "Worker resumed", map[string]interface{}{
		"instance": w.instance,
	})
	w.logActivity("INFO", fmt.Sprintf("Worker %s resumed", w.instance))
}

// Shutdown stops the loops and waits for an in-flight job to finish
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	w.logger.Info(ctx, "Worker starting shutdown", map[string]interface{}{
		"instance": w.instance,
	})
	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	w.logger.Info(ctx, "Worker shutdown completed", map[string]interface{}{
		"instance": w.instance,
	})
	return nil
}

func (w *Worker) updateActivity(activity string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.CurrentActivity = activity
}

// logActivity adds an activity log entry
func (w *Worker) logActivity(level, message string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.activityLogs = append(w.activityLogs, ActivityLog{
		Timestamp: w.timeNow(),
		Level:     level,
		Message:   message,
	})
	if len(w.activityLogs) > maxActivityLogs {
		w.activityLogs = w.activityLogs[len(w.activityLogs)-maxActivityLogs:]
	}
}
