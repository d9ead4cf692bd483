package middleware

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"streamlink/internal/logger"
)

// Logger logs each HTTP request as one JSON line with
// request_id, method, path, status and latency (milliseconds, float).
//
// path is the matched route pattern, so tokens in /s/:token never reach the log.
func Logger(log *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		log.Info("http_request",
			"request_id", RequestIDFromCtx(c),
			"method", c.Method(),
			"path", routePath(c),
			"status", responseStatus(c, err),
			"latency", float64(time.Since(start).Microseconds())/1000,
		)

		return err
	}
}

// LoggerWithWriter is Logger writing to w with timestamps in loc.
func LoggerWithWriter(w io.Writer, loc *time.Location) fiber.Handler {
	return Logger(logger.New(w, loc, "info"))
}

func routePath(c *fiber.Ctx) string {
	if p := c.Route().Path; p != "" {
		return p
	}
	return c.Path()
}

// responseStatus is the status the error handler will send for err.
func responseStatus(c *fiber.Ctx, err error) int {
	if err == nil {
		return c.Response().StatusCode()
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return fiber.StatusInternalServerError
}
