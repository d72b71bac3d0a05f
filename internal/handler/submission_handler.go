package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/assessment-api/internal/middleware"
	"github.com/noah-isme/assessment-api/internal/service"
	"github.com/noah-isme/assessment-api/internal/utils"
)

// SubmissionHandler exposes recruiter operations on individual submissions.
type SubmissionHandler struct {
	materializer service.Materializer
	logger       zerolog.Logger
}

// NewSubmissionHandler constructs the handler.
func NewSubmissionHandler(materializer service.Materializer, logger zerolog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		materializer: materializer,
		logger:       logger.With().Str("component", "submission_handler").Logger(),
	}
}

// Register attaches submission endpoints to the router group.
func (h *SubmissionHandler) Register(router fiber.Router) {
	router.Post("/:id/materialize", h.materialize)
}

// materialize re-runs repository materialization for a stored snapshot and reports
// any files that could not be written.
func (h *SubmissionHandler) materialize(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.materializer.MaterializeSubmission(middleware.RequestContext(c), id)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	data := fiber.Map{
		"repository_url": result.Repository.URL,
		"repository":     result.Repository.Name,
		"branch":         result.Repository.Branch,
		"unchanged":      result.Unchanged,
	}

	requestLogger(h.logger, c).Info().
		Uint("submission_id", id).
		Int("warnings", len(result.Warnings)).
		Msg("submission materialized")

	if len(result.Warnings) > 0 {
		return utils.SendSuccessWithWarnings(c, "submission materialized with warnings", data, service.WarningStrings(result.Warnings))
	}
	return utils.SendSuccess(c, "submission materialized", data)
}
