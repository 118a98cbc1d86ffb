package daemon

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// longRunning reports requests that last as long as an event stream or a
// sequence run instead of one calibrator exchange.
func longRunning(method, path string) bool {
	return method == http.MethodGet && path == "/events" ||
		method == http.MethodPost && path == "/sequence"
}

// errorCode returns the error code abortWithError attached to the request.
func errorCode(c *gin.Context) string {
	for i := len(c.Errors) - 1; i >= 0; i-- {
		if code, ok := c.Errors[i].Meta.(string); ok && code != "" {
			return code
		}
	}
	return ""
}

// requestLogger logs each request through logger. Failed calibrator
// exchanges carry their error code, long-running requests are logged when
// they start as well as when they end.
func requestLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Handlers may rewrite c.Request.URL.
		method, path := c.Request.Method, c.Request.URL.Path
		long := longRunning(method, path)

		start := time.Now()
		if long {
			logger.WithFields(logrus.Fields{
				"method": method,
				"path":   path,
			}).Infof("%s %s started", method, path)
		}

		c.Next()

		latency := time.Since(start).Round(time.Millisecond)
		status := c.Writer.Status()

		fields := logrus.Fields{
			"status":  status,
			"latency": latency.String(),
			"method":  method,
			"path":    path,
			"size":    max(c.Writer.Size(), 0),
		}
		if code := errorCode(c); code != "" {
			fields["code"] = code
		}
		entry := logger.WithFields(fields)

		msg := fmt.Sprintf("%s %s %d (%s)", method, path, status, latency)
		if len(c.Errors) > 0 {
			msg += ": " + c.Errors.Last().Error()
		}

		switch {
		case status >= http.StatusInternalServerError:
			entry.Error(msg)
		case status >= http.StatusBadRequest:
			entry.Warn(msg)
		case long:
			entry.Info(msg)
		default:
			entry.Debug(msg)
		}
	}
}
