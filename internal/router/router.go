package router

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/noah-isme/assessment-api/internal/config"
	"github.com/noah-isme/assessment-api/internal/handler"
	"github.com/noah-isme/assessment-api/internal/middleware"
	"github.com/noah-isme/assessment-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	DB                *gorm.DB
	AssessmentHandler *handler.AssessmentHandler
	AssignmentHandler *handler.AssignmentHandler
	TestHandler       *handler.TestHandler
	SubmissionHandler *handler.SubmissionHandler
	WebhookHandler    *handler.WebhookHandler
	JWTMiddleware     fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.DB))

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = middleware.JWTProtected(cfg.JWTSecret)
	}

	v2 := app.Group("/api/v2")

	// Candidate API, authorized by the access token in the path.
	if deps.AssessmentHandler != nil {
		candidate := v2.Group("/assessments/:token")
		deps.AssessmentHandler.Register(candidate, middleware.RateLimit("submissions", cfg.SubmissionRateLimit, cfg.RateLimitWindow))
	}

	if deps.WebhookHandler != nil {
		webhooks := v2.Group("/webhooks", middleware.RateLimit("webhooks", cfg.WebhookRateLimit, cfg.RateLimitWindow))
		deps.WebhookHandler.Register(webhooks)
	}

	recruiter := v2.Group("/recruiter", jwtMiddleware, middleware.RequireRole(middleware.RoleRecruiter, middleware.RoleAdmin))
	if deps.AssignmentHandler != nil {
		deps.AssignmentHandler.Register(recruiter.Group("/assignments"))
	}
	if deps.TestHandler != nil {
		deps.TestHandler.Register(recruiter)
	}
	if deps.SubmissionHandler != nil {
		deps.SubmissionHandler.Register(recruiter.Group("/submissions"))
	}
}
