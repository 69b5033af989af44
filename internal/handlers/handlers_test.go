package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"levelquest/internal/config"
	"levelquest/internal/events"
	"levelquest/internal/models"
	"levelquest/internal/observability"
	"levelquest/internal/services"
	contextutils "levelquest/internal/utils"
	"levelquest/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.IsTest = true
	cfg.Server.SessionSecret = "test-secret"
	cfg.Server.TrustUserHeader = true
	return cfg
}

type mockRouter struct {
	engine   *gin.Engine
	game     *MockGameService
	progress *MockProgressService
	stats    *MockStatsService
}

func newMockRouter(t *testing.T, wk *worker.Worker) *mockRouter {
	t.Helper()
	m := &mockRouter{
		game:     &MockGameService{},
		progress: &MockProgressService{},
		stats:    &MockStatsService{},
	}
	m.engine = NewRouter(testConfig(), m.game, m.progress, m.stats, nil, wk, observability.NewNopLogger())
	return m
}

func doRequest(engine *gin.Engine, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dst), w.Body.String())
}

func TestGameHandler_StartSession(t *testing.T) {
	m := newMockRouter(t, nil)
	sess := &models.Session{ID: "s1", UserID: "u1", LevelID: "l1", Lives: models.MaxLives, Status: models.SessionStatusActive}
	m.game.On("StartSession", mock.Anything, "u1", "l1").Return(sess, nil).Once()

	w := doRequest(m.engine, http.MethodPost, "/v1/sessions", "u1", gin.H{"level_id": "l1"})
	assert.Equal(t, http.StatusCreated, w.Code)
	var got models.Session
	decode(t, w, &got)
	assert.Equal(t, "s1", got.ID)
	assert.Equal(t, models.MaxLives, got.Lives)
	m.game.AssertExpectations(t)
}

func TestGameHandler_StartSessionErrors(t *testing.T) {
	m := newMockRouter(t, nil)

	w := doRequest(m.engine, http.MethodPost, "/v1/sessions", "", gin.H{"level_id": "l1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(m.engine, http.MethodPost, "/v1/sessions", "u1", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var body map[string]interface{}
	decode(t, w, &body)
	assert.Equal(t, "VALIDATION_FAILED", body["code"])

	m.game.On("StartSession", mock.Anything, "u1", "empty").
		Return(nil, contextutils.WrapError(contextutils.ErrInvalidLevel, "level empty has no questions")).Once()
	w = doRequest(m.engine, http.MethodPost, "/v1/sessions", "u1", gin.H{"level_id": "empty"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	m.game.On("StartSession", mock.Anything, "u1", "nope").
		Return(nil, contextutils.WrapError(contextutils.ErrRecordNotFound, "level nope not found")).Once()
	w = doRequest(m.engine, http.MethodPost, "/v1/sessions", "u1", gin.H{"level_id": "nope"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	m.game.AssertExpectations(t)
}

func TestGameHandler_SubmitAnswer(t *testing.T) {
	m := newMockRouter(t, nil)
	m.game.On("SubmitAnswer", mock.Anything, mock.MatchedBy(func(req services.SubmitAnswerRequest) bool {
		return req.SessionID == "s1" && req.UserID == "u1" && req.QuestionIndex == 0 &&
			req.Answer.Boolean != nil && *req.Answer.Boolean && req.TimeSpent == 7
	})).Return(&models.QuestionResult{SessionID: "s1", IsCorrect: true, LivesRemaining: 3, Score: 100}, nil).Once()

	w := doRequest(m.engine, http.MethodPost, "/v1/sessions/s1/answers", "u1", gin.H{
		"question_index": 0,
		"answer":         gin.H{"boolean_answer": true},
		"time_spent":     7,
	})
	assert.Equal(t, http.StatusOK, w.Code)
	var res models.QuestionResult
	decode(t, w, &res)
	assert.True(t, res.IsCorrect)
	assert.Equal(t, 100, res.Score)
	m.game.AssertExpectations(t)
}

func TestGameHandler_SubmitAnswerErrors(t *testing.T) {
	m := newMockRouter(t, nil)

	w := doRequest(m.engine, http.MethodPost, "/v1/sessions/s1/answers", "u1", gin.H{"answer": gin.H{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"already answered", contextutils.ErrQuestionAlreadyAnswered, http.StatusConflict},
		{"not active", contextutils.ErrInvalidState, http.StatusConflict},
		{"expired", contextutils.ErrSessionExpired, http.StatusGone},
		{"contention", contextutils.ErrConflict, http.StatusConflict},
		{"store down", contextutils.ErrDatabaseQuery, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m.game.On("SubmitAnswer", mock.Anything, mock.Anything).Return(nil, tt.err).Once()
			w := doRequest(m.engine, http.MethodPost, "/v1/sessions/s1/answers", "u1", gin.H{"question_index": 1})
			assert.Equal(t, tt.want, w.Code)
			var body map[string]interface{}
			decode(t, w, &body)
			assert.Equal(t, string(contextutils.GetErrorCode(tt.err)), body["code"])
		})
	}
}

func TestGameHandler_SkipAbandonSummary(t *testing.T) {
	m := newMockRouter(t, nil)
	m.game.On("SkipQuestion", mock.Anything, "s1", "u1").
		Return(&models.QuestionResult{SessionID: "s1", LivesRemaining: 2}, nil).Once()
	m.game.On("AbandonSession", mock.Anything, "s1", "u1").
		Return(&models.Session{ID: "s1", Status: models.SessionStatusAbandoned}, nil).Once()
	m.game.On("GetCompletedSessionSummary", mock.Anything, "s2", "u1").
		Return(&models.CompletedSessionSummary{SessionID: "s2", Stars: 3, IsCourseCompleted: true}, nil).Once()

	w := doRequest(m.engine, http.MethodPost, "/v1/sessions/s1/skip", "u1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(m.engine, http.MethodPost, "/v1/sessions/s1/abandon", "u1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var sess models.Session
	decode(t, w, &sess)
	assert.Equal(t, models.SessionStatusAbandoned, sess.Status)

	w = doRequest(m.engine, http.MethodGet, "/v1/sessions/s2/summary", "u1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var summary models.CompletedSessionSummary
	decode(t, w, &summary)
	assert.True(t, summary.IsCourseCompleted)
	m.game.AssertExpectations(t)
}

func TestGameHandler_GetCurrentSession(t *testing.T) {
	m := newMockRouter(t, nil)
	m.game.On("GetCurrentActiveSession", mock.Anything, "u1").Return(nil, nil).Once()
	m.game.On("GetCurrentActiveSession", mock.Anything, "u2").Return(&models.Session{ID: "s9"}, nil).Once()

	w := doRequest(m.engine, http.MethodGet, "/v1/sessions/current", "u1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(m.engine, http.MethodGet, "/v1/sessions/current", "u2", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	m.game.AssertExpectations(t)
}

func TestProgressHandler_Routes(t *testing.T) {
	m := newMockRouter(t, nil)
	completedAt := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	m.progress.On("GetCourseProgress", mock.Anything, "c1", "u1").
		Return(&models.CourseProgress{CourseID: "c1", TotalScore: 400}, nil).Once()
	m.progress.On("GetCourseProgressDetails", mock.Anything, "c1", "u1").
		Return(&models.CourseProgressDetails{CompletionPercentage: 50}, nil).Once()
	m.progress.On("GetLevelProgress", mock.Anything, "l1", "u1").
		Return(&models.LevelProgressView{LevelID: "l1", Attempts: 2}, nil).Once()
	m.progress.On("GetCourseProgress", mock.Anything, "c3", "u1").
		Return(nil, contextutils.ErrRecordNotFound).Once()
	m.progress.On("ListPlayingCourses", mock.Anything, "u1").Return(nil, nil).Once()
	m.progress.On("ListCompletedCourses", mock.Anything, "u1").
		Return([]*models.CourseProgress{{CourseID: "c1", IsCompleted: true, CompletedAt: &completedAt}}, nil).Once()

	w := doRequest(m.engine, http.MethodGet, "/v1/progress/courses/c1", "u1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = doRequest(m.engine, http.MethodGet, "/v1/progress/courses/c1/details", "u1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = doRequest(m.engine, http.MethodGet, "/v1/progress/levels/l1", "u1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = doRequest(m.engine, http.MethodGet, "/v1/progress/courses/c3", "u1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(m.engine, http.MethodGet, "/v1/progress/courses", "u1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"courses":[]}`, w.Body.String())

	w = doRequest(m.engine, http.MethodGet, "/v1/progress/courses?status=completed", "u1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Courses []models.CourseProgress `json:"courses"`
	}
	decode(t, w, &listed)
	require.Len(t, listed.Courses, 1)
	assert.True(t, listed.Courses[0].IsCompleted)

	w = doRequest(m.engine, http.MethodGet, "/v1/progress/courses?status=bogus", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	m.progress.AssertExpectations(t)
}

func TestProgressHandler_GetUserStats(t *testing.T) {
	m := newMockRouter(t, nil)
	st := models.NewUserStats("u1", time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))
	st.TotalScore = 300
	st.DailyActivity["2026-05-04"] = models.DailyActivity{Date: "2026-05-04", LevelsCompleted: 1}
	m.stats.On("GetUserStats", mock.Anything, "u1").Return(st, nil).Once()

	w := doRequest(m.engine, http.MethodGet, "/v1/stats", "u1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Stats         models.UserStats       `json:"stats"`
		DailyActivity []models.DailyActivity `json:"daily_activity"`
	}
	decode(t, w, &body)
	assert.Equal(t, 300, body.Stats.TotalScore)
	require.Len(t, body.DailyActivity, 1)
	assert.Equal(t, "2026-05-04", body.DailyActivity[0].Date)
}

func TestRouter_Misc(t *testing.T) {
	m := newMockRouter(t, nil)

	w := doRequest(m.engine, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(m.engine, http.MethodGet, "/v1/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	var body map[string]interface{}
	decode(t, w, &body)
	assert.Equal(t, "RECORD_NOT_FOUND", body["code"])

	w = doRequest(m.engine, http.MethodGet, "/?json=true", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var listing RouteListing
	decode(t, w, &listing)
	assert.Equal(t, "levelquest-api", listing.Service)
	assert.NotEmpty(t, listing.Routes)

	// no embedded worker: admin routes are not mounted
	w = doRequest(m.engine, http.MethodGet, "/v1/admin/worker/status", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(m.engine, http.MethodGet, "/v1/session", "u7", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"u7"}`, w.Body.String())
}

func TestVersionHandler_StandaloneWorker(t *testing.T) {
	workerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"service":"levelquest-worker","version":"v9","commit":"abc","buildTime":"now"}`))
	}))
	defer workerSrv.Close()

	cfg := testConfig()
	cfg.Server.WorkerInternalURL = workerSrv.URL + "/"
	engine := NewRouter(cfg, &MockGameService{}, &MockProgressService{}, &MockStatsService{}, nil, nil, observability.NewNopLogger())

	w := doRequest(engine, http.MethodGet, "/v1/version", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]map[string]interface{}
	decode(t, w, &body)
	assert.Equal(t, "levelquest-api", body["backend"]["service"])
	assert.Equal(t, "v9", body["worker"]["version"])

	workerSrv.Close()
	w = doRequest(engine, http.MethodGet, "/v1/version", "", nil)
	decode(t, w, &body)
	assert.Equal(t, "Worker unavailable", body["worker"]["error"])
}

func TestWorkerAdminHandler(t *testing.T) {
	game := &MockGameService{}
	game.On("SweepExpiredSessions", mock.Anything).Return(0, nil)
	game.On("RetryPendingAggregations", mock.Anything).Return(0, nil)
	wk := worker.NewWorker(game, "embedded", config.Default().Game, observability.NewNopLogger())

	m := newMockRouter(t, wk)

	w := doRequest(m.engine, http.MethodPost, "/v1/admin/worker/pause", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, wk.GetStatus().IsPaused)

	w = doRequest(m.engine, http.MethodGet, "/v1/admin/worker/status", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var status struct {
		Instance string        `json:"instance"`
		Status   worker.Status `json:"status"`
	}
	decode(t, w, &status)
	assert.Equal(t, "embedded", status.Instance)
	assert.True(t, status.Status.IsPaused)

	w = doRequest(m.engine, http.MethodPost, "/v1/admin/worker/resume", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, wk.GetStatus().IsPaused)

	w = doRequest(m.engine, http.MethodPost, "/v1/admin/worker/trigger", "", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = doRequest(m.engine, http.MethodGet, "/v1/admin/worker/logs", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = doRequest(m.engine, http.MethodGet, "/v1/admin/worker/history", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(m.engine, http.MethodGet, "/v1/version", "", nil)
	var body map[string]map[string]interface{}
	decode(t, w, &body)
	assert.Equal(t, "levelquest-worker", body["worker"]["service"])
}

func TestWorkerAdminHandler_NoWorker(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewWorkerAdminHandlerWithLogger(nil, observability.NewNopLogger()).RegisterRoutes(r.Group("/admin"))

	w := doRequest(r, http.MethodGet, "/admin/status", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestWebsocketHandler_Connect(t *testing.T) {
	logger := observability.NewNopLogger()
	hub := events.NewHub(logger, nil)
	defer func() { _ = hub.Close() }()

	cfg := testConfig()
	cfg.Events.WebsocketEnabled = true
	engine := NewRouter(cfg, &MockGameService{}, &MockProgressService{}, &MockStatsService{}, hub, nil, logger)
	srv := httptest.NewServer(engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{}
	header.Set("X-User-ID", "learner")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	assert.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
}
