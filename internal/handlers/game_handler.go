package handlers

import (
	"net/http"

	"levelquest/internal/middleware"
	"levelquest/internal/models"
	"levelquest/internal/observability"
	"levelquest/internal/services"

	"github.com/gin-gonic/gin"
)

// StartSessionRequest starts or resumes play on a level
type StartSessionRequest struct {
	LevelID string `json:"level_id" binding:"required"`
}

// SubmitAnswerRequest is the body of POST /v1/sessions/:id/answers
type SubmitAnswerRequest struct {
	QuestionIndex *int          `json:"question_index" binding:"required,min=0"`
	Answer        models.Answer `json:"answer"`
	TimeSpent     int           `json:"time_spent" binding:"min=0"`
}

// GameHandler exposes the session lifecycle over HTTP
type GameHandler struct {
	gameService services.GameServiceInterface
	logger      *observability.Logger
}

// NewGameHandler creates a new GameHandler instance
func NewGameHandler(gameService services.GameServiceInterface, logger *observability.Logger) *GameHandler {
	return &GameHandler{
		gameService: gameService,
		logger:      logger,
	}
}

// StartSession handles POST /v1/sessions
func (h *GameHandler) StartSession(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "start_session")
	var err error
	defer observability.FinishSpan(span, &err)

	userID, _ := middleware.GetUserID(c)
	var req StartSessionRequest
	if err = middleware.BindJSON(c, &req); err != nil {
		HandleAppError(c, err)
		return
	}
	span.SetAttributes(observability.AttributeUserID(userID), observability.AttributeLevelID(req.LevelID))

	sess, err := h.gameService.StartSession(ctx, userID, req.LevelID)
	if err != nil {
		h.logger.Warn(ctx, "Failed to start session", map[string]interface{}{
			"user_id":  userID,
			"level_id": req.LevelID,
			"error":    err.Error(),
		})
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// SubmitAnswer handles POST /v1/sessions/:id/answers
func (h *GameHandler) SubmitAnswer(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "submit_answer")
	var err error
	defer observability.FinishSpan(span, &err)

	userID, _ := middleware.GetUserID(c)
	sessionID := c.Param("id")
	var req SubmitAnswerRequest
	if err = middleware.BindJSON(c, &req); err != nil {
		HandleAppError(c, err)
		return
	}
	span.SetAttributes(
		observability.AttributeSessionID(sessionID),
		observability.AttributeQuestionIndex(*req.QuestionIndex),
	)

	result, err := h.gameService.SubmitAnswer(ctx, services.SubmitAnswerRequest{
		SessionID:     sessionID,
		UserID:        userID,
		QuestionIndex: *req.QuestionIndex,
		Answer:        req.Answer,
		TimeSpent:     req.TimeSpent,
	})
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// SkipQuestion handles POST /v1/sessions/:id/skip
func (h *GameHandler) SkipQuestion(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "skip_question")
	var err error
	defer observability.FinishSpan(span, &err)

	userID, _ := middleware.GetUserID(c)
	result, err := h.gameService.SkipQuestion(ctx, c.Param("id"), userID)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// AbandonSession handles POST /v1/sessions/:id/abandon
func (h *GameHandler) AbandonSession(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "abandon_session")
	var err error
	defer observability.FinishSpan(span, &err)

	userID, _ := middleware.GetUserID(c)
	sess, err := h.gameService.AbandonSession(ctx, c.Param("id"), userID)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// GetCurrentSession handles GET /v1/sessions/current. A learner with no
// active session gets 204.
func (h *GameHandler) GetCurrentSession(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_current_session")
	var err error
	defer observability.FinishSpan(span, &err)

	userID, _ := middleware.GetUserID(c)
	sess, err := h.gameService.GetCurrentActiveSession(ctx, userID)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	if sess == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// GetSessionSummary handles GET /v1/sessions/:id/summary
func (h *GameHandler) GetSessionSummary(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_session_summary")
	var err error
	defer observability.FinishSpan(span, &err)

	userID, _ := middleware.GetUserID(c)
	summary, err := h.gameService.GetCompletedSessionSummary(ctx, c.Param("id"), userID)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
