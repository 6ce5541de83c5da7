package middleware

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/lifedesk/lifedesk/app/models"
	"github.com/lifedesk/lifedesk/internal/pkg/database"
	"github.com/lifedesk/lifedesk/internal/pkg/usercontext"
)

// UserContextMiddleware sets up the complete user context for every request.
// Authentication happens upstream (reverse proxy / gateway); this layer
// trusts the X-User-ID header the gateway injects and resolves it against
// the user table. Requests without the header run as anonymous.
func UserContextMiddleware(c *fiber.Ctx) error {
	anonymous := usercontext.UserContext{IsLoggedIn: false, IsAdmin: false}

	raw := strings.TrimSpace(c.Get("X-User-ID"))
	if raw == "" {
		c.Locals("USER_CONTEXT", anonymous)
		return c.Next()
	}

	userID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || userID == 0 {
		c.Locals("USER_CONTEXT", anonymous)
		return c.Next()
	}

	db := database.GetDB()
	if db == nil {
		c.Locals("USER_CONTEXT", anonymous)
		return c.Next()
	}

	// Lookup failures degrade to anonymous rather than failing the request.
	var user models.User
	if err := db.First(&user, uint(userID)).Error; err != nil || !user.IsActive() {
		c.Locals("USER_CONTEXT", anonymous)
		return c.Next()
	}

	c.Locals("USER_CONTEXT", usercontext.UserContext{
		UserID:     user.ID,
		Username:   user.Name,
		IsLoggedIn: true,
		IsAdmin:    user.Role == models.ROLE_ADMIN,
	})
	return c.Next()
}

// RequireUser rejects anonymous requests with 401. Applied to cart,
// checkout, order and subscription routes.
func RequireUser(c *fiber.Ctx) error {
	if !usercontext.IsLoggedIn(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}
	return c.Next()
}

// RequireAdmin rejects non-admin requests with 403. Applied to catalog
// management routes.
func RequireAdmin(c *fiber.Ctx) error {
	if !usercontext.IsLoggedIn(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}
	if !usercontext.IsAdmin(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Admin access required"})
	}
	return c.Next()
}
