package middleware

import (
	"net/http"

	"coachroom/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorResponse is the JSON body of every error answer.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func errorResponse(appErr *errors.AppError) ErrorResponse {
	return ErrorResponse{
		Error:   string(appErr.Code),
		Message: appErr.Message,
		Details: appErr.Context,
	}
}

// AbortWithError stops the chain and writes appErr.
func AbortWithError(c *gin.Context, appErr *errors.AppError) {
	_ = c.Error(appErr)
	c.AbortWithStatusJSON(appErr.HTTPStatus, errorResponse(appErr))
}

// ErrorHandlerMiddleware writes errors handlers attached with c.Error when
// they did not write a response themselves.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		appErr := errors.GetAppError(err)
		if appErr == nil {
			logger.Errorw("unhandled error",
				"error", err.Error(),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
			appErr = errors.NewInternalError("Internal server error")
		} else if appErr.HTTPStatus >= http.StatusInternalServerError {
			logger.Errorw("application error",
				"code", appErr.Code,
				"message", appErr.Message,
				"status", appErr.HTTPStatus,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"cause", appErr.Cause,
			)
		} else {
			logger.Debugw("request rejected",
				"code", appErr.Code,
				"status", appErr.HTTPStatus,
				"path", c.Request.URL.Path,
			)
		}

		if c.Writer.Written() {
			return
		}
		c.JSON(appErr.HTTPStatus, errorResponse(appErr))
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				if !c.Writer.Written() {
					c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
						Error:   string(errors.ErrCodeInternal),
						Message: "Internal server error",
					})
					return
				}
				c.Abort()
			}
		}()

		c.Next()
	}
}
