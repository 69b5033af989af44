package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRouteListingHandler(t *testing.T) {
	handler := NewRouteListingHandler("Test Service")
	assert.NotNil(t, handler)
	assert.Equal(t, "Test Service", handler.serviceName)
	assert.NotNil(t, handler.routes)
}

func TestRouteListingHandler_CollectRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/v1/sessions", func(_ *gin.Context) {})
	router.GET("/v1/sessions/current", func(_ *gin.Context) {})
	router.GET("/debug/pprof", func(_ *gin.Context) {})
	router.GET("/health", func(_ *gin.Context) {})
	router.DELETE("/health", func(_ *gin.Context) {})

	handler := NewRouteListingHandler("Test Service")
	handler.CollectRoutes(router)

	listing := handler.Listing()
	require.Len(t, listing.Routes, 4)
	assert.Equal(t, "DELETE", listing.Routes[0].Method)
	assert.Equal(t, "/health", listing.Routes[0].Path)
	assert.Equal(t, "GET", listing.Routes[1].Method)
	assert.Equal(t, "/v1/sessions", listing.Routes[2].Path)
	assert.Equal(t, 2, listing.Methods["GET"])
	assert.Equal(t, 1, listing.Methods["POST"])
	for _, route := range listing.Routes {
		assert.NotContains(t, route.HandlerName, "/")
	}
}

func TestRouteListingHandler_Serve(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/v1/sessions", func(_ *gin.Context) {})

	handler := NewRouteListingHandler("levelquest")
	router.GET("/", handler.Serve)
	handler.CollectRoutes(router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/?json=true", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	var listing RouteListing
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	assert.Equal(t, "levelquest", listing.Service)
	assert.Len(t, listing.Routes, 2)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "levelquest: 2 routes")
	assert.Contains(t, w.Body.String(), "/v1/sessions")
	assert.Equal(t, "no-cache, no-store, must-revalidate", w.Header().Get("Cache-Control"))
}

func TestRouteListingHandler_EmptyRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewRouteListingHandler("Empty")
	handler.CollectRoutes(gin.New())
	listing := handler.Listing()
	assert.Empty(t, listing.Routes)
	assert.Empty(t, listing.Methods)
}
