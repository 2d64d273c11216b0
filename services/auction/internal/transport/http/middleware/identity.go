package middleware

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

const UserIDHeader = "X-User-ID"

// NewIdentityMiddleware trusts the caller id forwarded by the edge proxy.
func NewIdentityMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := c.Get(UserIDHeader)
		if raw == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized: missed user"})
		}

		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized: invalid user"})
		}

		c.Locals("userId", userID)
		return c.Next()
	}
}
