package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"levelquest/internal/observability"
	contextutils "levelquest/internal/utils"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter() *gin.Engine {
	r := gin.New()
	store := cookie.NewStore([]byte("test-secret"))
	r.Use(sessions.Sessions("test-session", store))
	return r
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestRequireLearner_Header(t *testing.T) {
	r := newRouter()
	r.GET("/me", RequireLearner(true), func(c *gin.Context) {
		id, ok := GetUserID(c)
		require.True(t, ok)
		assert.Equal(t, id, contextutils.GetUserIDFromContext(c.Request.Context()))
		c.String(http.StatusOK, id)
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(UserIDHeader, " learner-1 ")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "learner-1", w.Body.String())
}

func TestRequireLearner_HeaderIgnoredWhenUntrusted(t *testing.T) {
	r := newRouter()
	r.GET("/me", RequireLearner(false), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(UserIDHeader, "learner-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeBody(t, w)["code"])
}

func TestRequireLearner_Session(t *testing.T) {
	r := newRouter()
	r.POST("/login", func(c *gin.Context) {
		require.NoError(t, SetSessionUser(c, "learner-2"))
		c.Status(http.StatusNoContent)
	})
	r.POST("/logout", func(c *gin.Context) {
		require.NoError(t, ClearSessionUser(c))
		c.Status(http.StatusNoContent)
	})
	r.GET("/me", RequireLearner(false), func(c *gin.Context) {
		id, _ := GetUserID(c)
		c.String(http.StatusOK, id)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", nil))
	require.Equal(t, http.StatusNoContent, w.Code)
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "learner-2", w.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/logout", nil)
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	cleared := w.Result().Cookies()

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	for _, ck := range cleared {
		req.AddCookie(ck)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  *contextutils.AppError
		want int
	}{
		{contextutils.ErrRecordNotFound, http.StatusNotFound},
		{contextutils.ErrQuestionAlreadyAnswered, http.StatusConflict},
		{contextutils.ErrInvalidState, http.StatusConflict},
		{contextutils.ErrConflict, http.StatusConflict},
		{contextutils.ErrRecordExists, http.StatusConflict},
		{contextutils.ErrInvalidInput, http.StatusBadRequest},
		{contextutils.ErrValidationFailed, http.StatusBadRequest},
		{contextutils.ErrSessionExpired, http.StatusGone},
		{contextutils.ErrInvalidLevel, http.StatusUnprocessableEntity},
		{contextutils.ErrUnauthorized, http.StatusUnauthorized},
		{contextutils.ErrForbidden, http.StatusForbidden},
		{contextutils.ErrServiceUnavailable, http.StatusServiceUnavailable},
		{contextutils.ErrDatabaseConnection, http.StatusServiceUnavailable},
		{contextutils.ErrTimeout, http.StatusRequestTimeout},
		{contextutils.ErrInternalError, http.StatusInternalServerError},
		{contextutils.ErrDatabaseQuery, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.err.Code), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err.Code))
		})
	}
}

func TestHandleAppError(t *testing.T) {
	r := gin.New()
	r.GET("/wrapped", func(c *gin.Context) {
		HandleAppError(c, contextutils.WrapError(contextutils.ErrSessionExpired, "session s1 expired"))
	})
	r.GET("/plain", func(c *gin.Context) {
		HandleAppError(c, errors.New("boom"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/wrapped", nil))
	assert.Equal(t, http.StatusGone, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "SESSION_EXPIRED", body["code"])
	assert.Equal(t, "session s1 expired", body["message"])
	assert.Equal(t, false, body["retryable"])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/plain", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body = decodeBody(t, w)
	assert.Equal(t, "INTERNAL_SERVER_ERROR", body["code"])
	assert.Equal(t, "boom", body["cause"])
}

func TestErrorRecoveryMiddleware_Panic(t *testing.T) {
	r := gin.New()
	r.Use(ErrorRecoveryMiddleware(observability.NewNopLogger(), nil))
	r.GET("/panic", func(c *gin.Context) {
		panic("kaboom")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "INTERNAL_SERVER_ERROR", body["code"])
	assert.Equal(t, "fatal", body["severity"])
	assert.Contains(t, body["cause"], "kaboom")
}

func TestErrorRecoveryMiddleware_CircuitBreaker(t *testing.T) {
	cfg := &ErrorRecoveryConfig{
		EnableCircuitBreaker:    true,
		CircuitBreakerThreshold: 2,
		CircuitBreakerTimeout:   time.Hour,
	}
	r := gin.New()
	r.Use(ErrorRecoveryMiddleware(observability.NewNopLogger(), cfg))
	r.GET("/fail", func(c *gin.Context) {
		c.Status(http.StatusInternalServerError)
	})

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fail", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fail", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["retryable"])
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	cb := newCircuitBreaker(&ErrorRecoveryConfig{CircuitBreakerThreshold: 1, CircuitBreakerTimeout: time.Minute})
	cb.now = func() time.Time { return now }

	cb.record(http.StatusBadGateway)
	assert.False(t, cb.canExecute())

	now = now.Add(2 * time.Minute)
	assert.True(t, cb.canExecute())
	cb.record(http.StatusOK)
	assert.True(t, cb.canExecute())
	assert.Equal(t, 0, cb.failures)
}

type startRequest struct {
	LevelID string `json:"level_id" binding:"required"`
	Index   *int   `json:"question_index" binding:"required,min=0"`
}

func TestBindJSON(t *testing.T) {
	r := gin.New()
	r.POST("/bind", func(c *gin.Context) {
		var req startRequest
		if err := BindJSON(c, &req); err != nil {
			HandleAppError(c, err)
			return
		}
		c.JSON(http.StatusOK, req)
	})

	post := func(body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/bind", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		return w
	}

	w := post(`{"level_id":"l1","question_index":0}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = post(`{"question_index":-1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "VALIDATION_FAILED", body["code"])
	assert.Contains(t, body["details"], "level_id: failed required")
	assert.Contains(t, body["details"], "question_index: failed min=0")

	w = post(`{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", decodeBody(t, w)["code"])
}
