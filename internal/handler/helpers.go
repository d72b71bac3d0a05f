package handler

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/assessment-api/internal/middleware"
	"github.com/noah-isme/assessment-api/internal/service"
	"github.com/noah-isme/assessment-api/internal/utils"
	"github.com/noah-isme/assessment-api/pkg/provider"
)

func parseUintParam(c *fiber.Ctx, name string) (uint, error) {
	value := c.Params(name)
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil || parsed == 0 {
		return 0, errors.New("invalid identifier")
	}
	return uint(parsed), nil
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

// respondError maps service errors onto HTTP responses.
func respondError(c *fiber.Ctx, base zerolog.Logger, err error) error {
	var (
		validationErr *service.ValidationError
		transitionErr *service.InvalidTransitionError
		providerErr   *provider.Error
		storageErr    *service.StorageError
	)

	switch {
	case errors.As(err, &validationErr):
		var details interface{}
		if len(validationErr.Fields) > 0 {
			details = validationErr.Fields
		}
		return utils.Fail(c, fiber.StatusBadRequest, validationErr.Message, details)
	case errors.Is(err, service.ErrInvalidSignature):
		return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrAssignmentNotFound),
		errors.Is(err, service.ErrSubmissionNotFound),
		errors.Is(err, service.ErrTestNotFound),
		errors.Is(err, service.ErrTestConfigurationNotFound):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case errors.As(err, &transitionErr):
		return utils.Fail(c, fiber.StatusConflict, err.Error(), fiber.Map{"from": transitionErr.From, "to": transitionErr.To})
	case errors.Is(err, service.ErrAssignmentCompleted), errors.Is(err, service.ErrAssignmentArchived):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case errors.As(err, &providerErr):
		requestLogger(base, c).Error().Err(err).Str("provider", providerErr.Provider).Msg("provider request failed")
		return utils.SendError(c, fiber.StatusBadGateway, "repository provider unavailable")
	case errors.As(err, &storageErr):
		requestLogger(base, c).Error().Err(err).Str("op", storageErr.Op).Msg("storage failure")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	default:
		requestLogger(base, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
