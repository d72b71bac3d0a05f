package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/assessment-api/internal/utils"
)

// Roles accepted on the recruiter API.
const (
	RoleRecruiter = "recruiter"
	RoleAdmin     = "admin"
)

// RequireRole admits callers whose token role is one of roles. A caller without a
// role is treated as unauthenticated.
func RequireRole(roles ...string) fiber.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		if normalized := strings.ToLower(strings.TrimSpace(role)); normalized != "" {
			allowed[normalized] = struct{}{}
		}
	}

	return func(c *fiber.Ctx) error {
		recruiter, ok := CurrentRecruiter(c)
		if !ok || recruiter.Role == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
		}
		if _, permitted := allowed[recruiter.Role]; !permitted {
			return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
		}
		return c.Next()
	}
}
