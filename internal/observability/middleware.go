package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// UnmatchedRoute labels requests that hit no registered route, keeping the
// path label bounded to the router's own table.
const UnmatchedRoute = "unmatched"

// HTTPObserver logs and counts every request an endpoint serves. Requests
// to quiet routes (health checks, scrapes) log at debug.
func HTTPObserver(endpoint string, logger zerolog.Logger, quiet ...string) gin.HandlerFunc {
	quietRoutes := make(map[string]struct{}, len(quiet))
	for _, route := range quiet {
		quietRoutes[route] = struct{}{}
	}
	return func(c *gin.Context) {
		start := time.Now()
		upgrade := c.IsWebsocket()
		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = UnmatchedRoute
		}
		RecordHTTPRequest(endpoint, c.Request.Method, route, status, elapsed)

		var event *zerolog.Event
		switch _, isQuiet := quietRoutes[route]; {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case isQuiet:
			event = logger.Debug()
		default:
			event = logger.Info()
		}
		event = event.
			Str("endpoint", endpoint).
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", elapsed)
		if origin := c.GetHeader("Origin"); origin != "" {
			event = event.Str("origin", origin)
		}
		if upgrade {
			event = event.Bool("upgrade", true)
		}
		event.Msg("endpoint http request")
	}
}
