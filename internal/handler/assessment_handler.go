package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/assessment-api/internal/dto"
	"github.com/noah-isme/assessment-api/internal/middleware"
	"github.com/noah-isme/assessment-api/internal/service"
	"github.com/noah-isme/assessment-api/internal/utils"
)

const statusPingInterval = 30 * time.Second

// AssessmentHandler serves the candidate API. Every route is scoped by the assignment's
// access token in the :token path parameter.
type AssessmentHandler struct {
	assignments service.AssignmentService
	submissions service.SubmissionService
	stream      service.StatusStream
	logger      zerolog.Logger
}

// NewAssessmentHandler constructs the handler. stream may be nil, which disables the
// websocket endpoint.
func NewAssessmentHandler(assignments service.AssignmentService, submissions service.SubmissionService, stream service.StatusStream, logger zerolog.Logger) *AssessmentHandler {
	return &AssessmentHandler{
		assignments: assignments,
		submissions: submissions,
		stream:      stream,
		logger:      logger.With().Str("component", "assessment_handler").Logger(),
	}
}

// Register attaches candidate endpoints. submitLimiter, when set, guards submission uploads.
func (h *AssessmentHandler) Register(router fiber.Router, submitLimiter fiber.Handler) {
	router.Get("", h.get)
	router.Post("/start", h.start)
	if submitLimiter != nil {
		router.Post("/submissions", submitLimiter, h.submit)
	} else {
		router.Post("/submissions", h.submit)
	}
	router.Get("/submissions/:id", h.status)

	if h.stream != nil {
		router.Use("/ws", h.upgrade)
		router.Get("/ws", websocket.New(h.streamStatus))
	}
}

func (h *AssessmentHandler) get(c *fiber.Ctx) error {
	assignment, err := h.assignments.GetByToken(middleware.RequestContext(c), c.Params("token"))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "assessment retrieved", assignment)
}

func (h *AssessmentHandler) start(c *fiber.Ctx) error {
	assignment, err := h.assignments.Start(middleware.RequestContext(c), c.Params("token"))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "assessment started", assignment)
}

func (h *AssessmentHandler) submit(c *fiber.Ctx) error {
	var payload dto.SubmissionCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	submission, err := h.submissions.Submit(middleware.RequestContext(c), c.Params("token"), payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "submission accepted", fiber.Map{"submission": submission})
}

func (h *AssessmentHandler) status(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	view, err := h.submissions.Status(middleware.RequestContext(c), c.Params("token"), id)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "submission status retrieved", view)
}

// upgrade resolves the token before switching protocols so unknown links get a plain 404.
func (h *AssessmentHandler) upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	assignment, err := h.assignments.GetByToken(middleware.RequestContext(c), c.Params("token"))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	c.Locals("assignment_id", assignment.ID)
	return c.Next()
}

func (h *AssessmentHandler) streamStatus(conn *websocket.Conn) {
	assignmentID, _ := conn.Locals("assignment_id").(uint)
	correlation, _ := conn.Locals("correlation_id").(string)
	log := h.logger.With().Uint("assignment_id", assignmentID).Str("correlation_id", correlation).Logger()

	events, cleanup := h.stream.Subscribe(assignmentID)
	defer cleanup()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(statusPingInterval)
	defer ticker.Stop()

	log.Info().Msg("status stream connected")
	defer log.Info().Msg("status stream disconnected")

	for {
		select {
		case <-closed:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				log.Debug().Err(err).Msg("status stream write failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
