package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
)

// APIKeyHeader carries the admin key for registration endpoints.
const APIKeyHeader = "X-API-Key"

// APIKey guards a route with a shared secret. An empty key disables the route (404).
func APIKey(key string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if key == "" {
			return fiber.ErrNotFound
		}
		got := c.Get(APIKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			return fiber.ErrUnauthorized
		}
		return c.Next()
	}
}
