package handlers

import (
	"net/http"

	"levelquest/internal/observability"
	contextutils "levelquest/internal/utils"
	"levelquest/internal/worker"

	"github.com/gin-gonic/gin"
)

// WorkerAdminHandler handles worker administration endpoints
type WorkerAdminHandler struct {
	worker *worker.Worker
	logger *observability.Logger
}

// NewWorkerAdminHandlerWithLogger creates a new WorkerAdminHandler. A nil
// worker makes every endpoint answer 503.
func NewWorkerAdminHandlerWithLogger(w *worker.Worker, logger *observability.Logger) *WorkerAdminHandler {
	return &WorkerAdminHandler{worker: w, logger: logger}
}

func (h *WorkerAdminHandler) available(c *gin.Context) bool {
	if h.worker == nil {
		HandleAppError(c, contextutils.WrapError(contextutils.ErrServiceUnavailable, "worker is not running in this process"))
		return false
	}
	return true
}

// GetWorkerStatus returns the worker status
func (h *WorkerAdminHandler) GetWorkerStatus(c *gin.Context) {
	_, span := observability.TraceHandlerFunction(c.Request.Context(), "get_worker_status")
	defer span.End()
	if !h.available(c) {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"instance": h.worker.GetInstance(),
		"status":   h.worker.GetStatus(),
	})
}

// GetWorkerHistory returns recent job runs
func (h *WorkerAdminHandler) GetWorkerHistory(c *gin.Context) {
	_, span := observability.TraceHandlerFunction(c.Request.Context(), "get_worker_history")
	defer span.End()
	if !h.available(c) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": h.worker.GetHistory()})
}

// GetActivityLogs returns the worker activity log
func (h *WorkerAdminHandler) GetActivityLogs(c *gin.Context) {
	_, span := observability.TraceHandlerFunction(c.Request.Context(), "get_activity_logs")
	defer span.End()
	if !h.available(c) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": h.worker.GetActivityLogs()})
}

// PauseWorker stops scheduled runs
func (h *WorkerAdminHandler) PauseWorker(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "pause_worker")
	defer span.End()
	if !h.available(c) {
		return
	}
	h.worker.Pause(ctx)
	c.JSON(http.StatusOK, gin.H{"message": "Worker paused"})
}

// ResumeWorker re-enables scheduled runs
func (h *WorkerAdminHandler) ResumeWorker(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "resume_worker")
	defer span.End()
	if !h.available(c) {
		return
	}
	h.worker.Resume(ctx)
	c.JSON(http.StatusOK, gin.H{"message": "Worker resumed"})
}

// TriggerWorkerRun queues an immediate sweep and aggregation retry
func (h *WorkerAdminHandler) TriggerWorkerRun(c *gin.Context) {
	_, span := observability.TraceHandlerFunction(c.Request.Context(), "trigger_worker_run")
	defer span.End()
	if !h.available(c) {
		return
	}
	h.worker.TriggerManualRun()
	c.JSON(http.StatusAccepted, gin.H{"message": "Worker run triggered"})
}

// RegisterRoutes mounts the admin endpoints under group
func (h *WorkerAdminHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("/status", h.GetWorkerStatus)
	group.GET("/history", h.GetWorkerHistory)
	group.GET("/logs", h.GetActivityLogs)
	group.POST("/pause", h.PauseWorker)
	group.POST("/resume", h.ResumeWorker)
	group.POST("/trigger", h.TriggerWorkerRun)
}
