package handlers

import (
	"net/http"

	"levelquest/internal/middleware"
	"levelquest/internal/models"
	"levelquest/internal/observability"
	"levelquest/internal/services"

	"github.com/gin-gonic/gin"
)

// ProgressHandler serves course and level progress plus learner stats
type ProgressHandler struct {
	progressService services.ProgressServiceInterface
	statsService    services.StatsServiceInterface
	logger          *observability.Logger
}

// NewProgressHandler creates a new ProgressHandler instance
func NewProgressHandler(progressService services.ProgressServiceInterface, statsService services.StatsServiceInterface, logger *observability.Logger) *ProgressHandler {
	return &ProgressHandler{
		progressService: progressService,
		statsService:    statsService,
		logger:          logger,
	}
}

// GetCourseProgress handles GET /v1/progress/courses/:id
func (h *ProgressHandler) GetCourseProgress(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_course_progress",
		observability.AttributeCourseID(c.Param("id")))
	var err error
	defer observability.FinishSpan(span, &err)

	userID, _ := middleware.GetUserID(c)
	progress, err := h.progressService.GetCourseProgress(ctx, c.Param("id"), userID)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

// GetCourseProgressDetails handles GET /v1/progress/courses/:id/details
func (h *ProgressHandler) GetCourseProgressDetails(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_course_progress_details",
		observability.AttributeCourseID(c.Param("id")))
	var err error
	defer observability.FinishSpan(span, &err)

	userID, _ := middleware.GetUserID(c)
	details, err := h.progressService.GetCourseProgressDetails(ctx, c.Param("id"), userID)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

// GetLevelProgress handles GET /v1/progress/levels/:id
func (h *ProgressHandler) GetLevelProgress(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_level_progress",
		observability.AttributeLevelID(c.Param("id")))
	var err error
	defer observability.FinishSpan(span, &err)

	userID, _ := middleware.GetUserID(c)
	view, err := h.progressService.GetLevelProgress(ctx, c.Param("id"), userID)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ListCourses handles GET /v1/progress/courses?status=playing|completed
func (h *ProgressHandler) ListCourses(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "list_courses")
	var err error
	defer observability.FinishSpan(span, &err)

	userID, _ := middleware.GetUserID(c)
	var courses []*models.CourseProgress
	switch status := c.DefaultQuery("status", "playing"); status {
	case "playing":
		courses, err = h.progressService.ListPlayingCourses(ctx, userID)
	case "completed":
		courses, err = h.progressService.ListCompletedCourses(ctx, userID)
	default:
		HandleValidationError(c, "status", status, "must be playing or completed")
		return
	}
	if err != nil {
		HandleAppError(c, err)
		return
	}
	if courses == nil {
		courses = []*models.CourseProgress{}
	}
	c.JSON(http.StatusOK, gin.H{"courses": courses})
}

// GetUserStats handles GET /v1/stats
func (h *ProgressHandler) GetUserStats(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_user_stats")
	var err error
	defer observability.FinishSpan(span, &err)

	userID, _ := middleware.GetUserID(c)
	stats, err := h.statsService.GetUserStats(ctx, userID)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"stats":          stats,
		"daily_activity": stats.SortedDailyActivity(),
	})
}
