package daemon

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// abortWith writes err as a JSON string and records it for ginLogger.
func abortWith(c *gin.Context, code int, err error) {
	c.IndentedJSON(code, err.Error())
	_ = c.AbortWithError(code, err)
}

// ginLogger logs every request through logger. Successful requests are
// logged at debug level. Websocket streams are logged when they end.
func ginLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Handlers may rewrite the path.
		path := c.Request.URL.Path
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    path,
			"status":  status,
			"latency": time.Since(start).Round(time.Millisecond),
			"bytes":   max(c.Writer.Size(), 0),
		})

		msg := c.Request.Method + " " + path
		if len(c.Errors) > 0 {
			msg = c.Errors.ByType(gin.ErrorTypePrivate).String()
		}

		switch {
		case status >= http.StatusInternalServerError:
			entry.Error(msg)
		case status >= http.StatusBadRequest || len(c.Errors) > 0:
			// Client mistakes such as 409 on a busy calibrator.
			entry.Warn(msg)
		default:
			entry.Debug(msg)
		}
	}
}
