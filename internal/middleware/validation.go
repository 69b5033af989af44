package middleware

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	contextutils "levelquest/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var registerOnce sync.Once

// RegisterValidation makes gin's validator report json field names
func RegisterValidation() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
}

// BindJSON decodes and validates the request body into dst. Failures come back
// as VALIDATION_FAILED or INVALID_INPUT app errors naming the offending fields.
func BindJSON(c *gin.Context, dst interface{}) error {
	RegisterValidation()
	if err := c.ShouldBindJSON(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return contextutils.NewAppError(
				contextutils.ErrorCodeValidationFailed,
				contextutils.SeverityWarn,
				"Request validation failed",
				describeValidationErrors(verrs),
			)
		}
		return contextutils.NewAppErrorWithCause(
			contextutils.ErrorCodeInvalidInput,
			contextutils.SeverityWarn,
			"Malformed request body",
			err.Error(),
			err,
		)
	}
	return nil
}

func describeValidationErrors(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
