package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/assessment-api/internal/middleware"
	"github.com/noah-isme/assessment-api/internal/service"
	"github.com/noah-isme/assessment-api/internal/utils"
)

// SignatureHeader carries the HMAC of the webhook body.
const SignatureHeader = "X-Hub-Signature-256"

// WebhookHandler receives grading results posted by CI runs.
type WebhookHandler struct {
	reconciler service.Reconciler
	logger     zerolog.Logger
}

// NewWebhookHandler constructs the handler.
func NewWebhookHandler(reconciler service.Reconciler, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		reconciler: reconciler,
		logger:     logger.With().Str("component", "webhook_handler").Logger(),
	}
}

// Register attaches webhook endpoints to the router group.
func (h *WebhookHandler) Register(router fiber.Router) {
	router.Post("/test-results", h.testResults)
}

func (h *WebhookHandler) testResults(c *fiber.Ctx) error {
	body := append([]byte(nil), c.Body()...)
	if len(body) == 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "request body required")
	}

	ack, err := h.reconciler.Ingest(middleware.RequestContext(c), body, c.Get(SignatureHeader))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	message := "result recorded"
	if !ack.Applied {
		message = "result recorded without status change"
	}
	return utils.SendSuccess(c, message, ack)
}
