package handlers

import (
	"fmt"

	"levelquest/internal/middleware"
	contextutils "levelquest/internal/utils"

	"github.com/gin-gonic/gin"
)

// HandleAppError sends err as a structured error response. The error is also
// attached to the gin context for the request logger and span annotations.
func HandleAppError(c *gin.Context, err error) {
	_ = c.Error(err)
	middleware.HandleAppError(c, err)
}

// HandleValidationError handles input validation errors consistently
func HandleValidationError(c *gin.Context, field string, value interface{}, reason string) {
	appErr := contextutils.NewAppError(
		contextutils.ErrorCodeInvalidInput,
		contextutils.SeverityWarn,
		fmt.Sprintf("Invalid %s", field),
		fmt.Sprintf("Value '%v' is invalid: %s", value, reason),
	)
	middleware.HandleAppError(c, appErr)
}
