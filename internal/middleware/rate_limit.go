package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/noah-isme/assessment-api/internal/utils"
)

// RateLimit creates a limiter keyed by the authenticated recruiter, the route's capability
// token, or the client IP, in that order.
func RateLimit(identifier string, max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Second
	}

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			key := c.IP()
			if recruiter, ok := CurrentRecruiter(c); ok && recruiter.Subject != "" {
				key = "recruiter:" + recruiter.Subject
			} else if token := c.Params("token"); token != "" {
				key = "token:" + token
			}
			return fmt.Sprintf("%s:%s", identifier, key)
		},
		LimitReached: func(c *fiber.Ctx) error {
			return utils.SendError(c, fiber.StatusTooManyRequests, "rate limit exceeded")
		},
	})
}
