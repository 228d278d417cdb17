// internal/middleware/logging.go

package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// LogMiddleware is an HTTP middleware that logs completed requests using Logrus.
// Logs the method, path, status, duration and request id of each request.
// Poll traffic is logged at debug so it does not drown out host actions.
func LogMiddleware(logger logrus.FieldLogger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				entry := logger.WithFields(logrus.Fields{
					"method":     r.Method,
					"path":       r.URL.Path,
					"status":     ww.Status(),
					"duration":   time.Since(start),
					"request_id": chimw.GetReqID(r.Context()),
					"remote":     r.RemoteAddr,
				})
				switch {
				case ww.Status() >= http.StatusInternalServerError:
					entry.Warn("HTTP Request")
				case r.Method == http.MethodGet:
					entry.Debug("HTTP Request")
				default:
					entry.Info("HTTP Request")
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
