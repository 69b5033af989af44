package handlers

import (
	"net/http"

	"levelquest/internal/middleware"
	contextutils "levelquest/internal/utils"

	"github.com/gin-gonic/gin"
)

// PinSession copies the learner id resolved by RequireLearner into the cookie
// session so browser websocket clients, which cannot set headers, stay identified.
func PinSession(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		HandleAppError(c, contextutils.ErrUnauthorized)
		return
	}
	if err := middleware.SetSessionUser(c, userID); err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID})
}

// GetSession reports the learner bound to the request
func GetSession(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	c.JSON(http.StatusOK, gin.H{"user_id": userID})
}

// ClearSession drops the learner id from the cookie session
func ClearSession(c *gin.Context) {
	if err := middleware.ClearSessionUser(c); err != nil {
		HandleAppError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
