package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"streamlink/internal/http/middleware"
	"streamlink/internal/service"
	"streamlink/internal/upstream"
)

// errorPayload defines the standardized error response body.
type errorPayload struct {
	RequestID string        `json:"request_id"`
	Error     errorEnvelope `json:"error"`
}

type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError writes a standardized JSON error response without leaking internal errors.
//
// Parameters:
// - status: HTTP status code to return
// - code: machine-readable short error code (e.g., "NOT_FOUND", "LINK_EXPIRED", "UPSTREAM_ERROR")
// - message: human-readable safe message (no internal details)
func writeError(c *fiber.Ctx, status int, code, message string) error {
	res := errorPayload{
		RequestID: middleware.RequestIDFromCtx(c),
		Error: errorEnvelope{
			Code:    code,
			Message: message,
		},
	}
	return c.Status(status).JSON(res)
}

// writeStreamError maps a StreamService error onto the client response.
// Upstream 4xx/5xx statuses pass through; anything else from upstream is a 502.
func writeStreamError(c *fiber.Ctx, err error) error {
	c.Set(fiber.HeaderCacheControl, "no-store")

	var rangeErr *service.RangeNotSatisfiableError
	var statusErr *upstream.StatusError
	switch {
	case errors.Is(err, service.ErrNotFound):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "link not found")
	case errors.Is(err, service.ErrExpired):
		return writeError(c, fiber.StatusGone, "LINK_EXPIRED", "link expired")
	case errors.As(err, &rangeErr):
		c.Set(fiber.HeaderContentRange, fmt.Sprintf("bytes */%d", rangeErr.Size))
		return writeError(c, fiber.StatusRequestedRangeNotSatisfiable, "RANGE_NOT_SATISFIABLE", "range not satisfiable")
	case errors.As(err, &statusErr):
		return writeError(c, passthroughStatus(statusErr.Status), "UPSTREAM_ERROR", "upstream request failed")
	case errors.Is(err, upstream.ErrInvalidReference):
		return writeError(c, fiber.StatusInternalServerError, "UPSTREAM_MISCONFIGURED", "link cannot be resolved")
	case errors.Is(err, upstream.ErrUnavailable):
		return writeError(c, fiber.StatusBadGateway, "UPSTREAM_ERROR", "upstream unavailable")
	default:
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

func passthroughStatus(status int) int {
	if status >= 400 && status <= 599 && http.StatusText(status) != "" {
		return status
	}
	return fiber.StatusBadGateway
}

// ErrorHandler returns a Fiber global error handler that standardizes error responses.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}

		switch status {
		case fiber.StatusBadRequest:
			return writeError(c, status, "BAD_REQUEST", "bad request")
		case fiber.StatusUnauthorized:
			return writeError(c, status, "UNAUTHORIZED", "missing or invalid api key")
		case fiber.StatusNotFound:
			return writeError(c, status, "NOT_FOUND", "resource not found")
		case fiber.StatusMethodNotAllowed:
			return writeError(c, status, "METHOD_NOT_ALLOWED", "method not allowed")
		case fiber.StatusRequestEntityTooLarge:
			return writeError(c, status, "BODY_TOO_LARGE", "request body too large")
		default:
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
	}
}
