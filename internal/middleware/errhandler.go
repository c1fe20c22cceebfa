package middleware

import (
	"net/http"

	ierr "gatepass/internal/errors"
	"gatepass/internal/logger"
	"gatepass/pkg/response"

	"github.com/gin-gonic/gin"
)

// ErrorHandler renders the last error a handler attached with c.Error.
// Server side failures are logged with the full chain; clients only see the
// hint, the error kind and reportable details.
func ErrorHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		status := ierr.HTTPStatusFromErr(err)
		detail := ierr.ToDetail(err)

		if status >= http.StatusInternalServerError {
			log.Errorw("request failed",
				"request_id", c.GetString(RequestIDKey),
				"method", c.Request.Method,
				"path", c.FullPath(),
				"error", err,
			)
		}

		if c.Writer.Written() {
			return
		}
		c.JSON(status, response.ErrorWithCode(status, detail.Code, detail.Display, detail.Details))
	}
}
