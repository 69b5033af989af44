// Package middleware provides learner identification, error recovery and
// request validation middleware for the Gin web framework.
package middleware

import (
	"strings"

	contextutils "levelquest/internal/utils"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const (
	// UserIDKey is the key used to store the learner id in the session and gin context
	UserIDKey = "user_id"
	// UserIDHeader carries the learner id when an upstream gateway authenticates requests
	UserIDHeader = "X-User-ID"
)

// RequireLearner returns a middleware that requires an identified learner. The
// id comes from the cookie session, or from X-User-ID when trustHeader is set.
func RequireLearner(trustHeader bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := learnerFromSession(c)
		if userID == "" && trustHeader {
			userID = strings.TrimSpace(c.GetHeader(UserIDHeader))
		}
		if userID == "" {
			HandleAppError(c, contextutils.WrapError(contextutils.ErrUnauthorized, "authentication required"))
			c.Abort()
			return
		}

		c.Set(UserIDKey, userID)
		c.Request = c.Request.WithContext(contextutils.WithUserID(c.Request.Context(), userID))
		c.Next()
	}
}

func learnerFromSession(c *gin.Context) string {
	session := sessions.Default(c)
	id, ok := session.Get(UserIDKey).(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(id)
}

// GetUserID returns the learner id set by RequireLearner
func GetUserID(c *gin.Context) (string, bool) {
	id := c.GetString(UserIDKey)
	return id, id != ""
}

// SetSessionUser stores the learner id in the cookie session
func SetSessionUser(c *gin.Context, userID string) error {
	session := sessions.Default(c)
	session.Set(UserIDKey, userID)
	return session.Save()
}

// ClearSessionUser removes the learner id from the cookie session
func ClearSessionUser(c *gin.Context) error {
	session := sessions.Default(c)
	session.Delete(UserIDKey)
	return session.Save()
}
