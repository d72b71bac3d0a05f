package service

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/assessment-api/internal/dto"
	"github.com/noah-isme/assessment-api/internal/models"
	"github.com/noah-isme/assessment-api/internal/repository"
)

// TestService manages recruiter tests and their Playwright configurations.
type TestService interface {
	Create(ctx context.Context, payload dto.TestCreateRequest) (dto.TestResponse, error)
	ListConfigurations(ctx context.Context, testID uint) ([]dto.TestConfigurationResponse, error)
	CreateConfiguration(ctx context.Context, testID uint, payload dto.TestConfigurationCreateRequest) (dto.TestConfigurationResponse, error)
	UpdateConfiguration(ctx context.Context, id uint, payload dto.TestConfigurationUpdateRequest) (dto.TestConfigurationResponse, error)
}

type testService struct {
	repo      repository.TestRepository
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewTestService constructs the test service.
func NewTestService(repo repository.TestRepository, validate *validator.Validate, logger zerolog.Logger) TestService {
	return &testService{
		repo:      repo,
		validator: validate,
		logger:    logger.With().Str("component", "test_service").Logger(),
	}
}

func (s *testService) Create(ctx context.Context, payload dto.TestCreateRequest) (dto.TestResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.TestResponse{}, validationFailure(err)
	}

	test := models.Test{
		Title:       strings.TrimSpace(payload.Title),
		Description: strings.TrimSpace(payload.Description),
	}
	if err := s.repo.Create(ctx, &test); err != nil {
		return dto.TestResponse{}, storageError("create test", err)
	}

	s.logger.Info().Uint("test_id", test.ID).Msg("test created")
	return dto.NewTestResponse(test), nil
}

func (s *testService) ListConfigurations(ctx context.Context, testID uint) ([]dto.TestConfigurationResponse, error) {
	if err := s.ensureTest(ctx, testID); err != nil {
		return nil, err
	}

	configurations, err := s.repo.ListConfigurations(ctx, testID, false)
	if err != nil {
		return nil, storageError("list test configurations", err)
	}
	return dto.NewTestConfigurationResponseSlice(configurations), nil
}

func (s *testService) CreateConfiguration(ctx context.Context, testID uint, payload dto.TestConfigurationCreateRequest) (dto.TestConfigurationResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.TestConfigurationResponse{}, validationFailure(err)
	}
	if err := s.ensureTest(ctx, testID); err != nil {
		return dto.TestConfigurationResponse{}, err
	}

	enabled := true
	if payload.Enabled != nil {
		enabled = *payload.Enabled
	}
	configuration := models.TestConfiguration{
		TestID:  testID,
		Name:    strings.TrimSpace(payload.Name),
		Script:  payload.Script,
		Enabled: enabled,
	}
	if err := s.repo.CreateConfiguration(ctx, &configuration); err != nil {
		return dto.TestConfigurationResponse{}, storageError("create test configuration", err)
	}

	s.logger.Info().Uint("test_id", testID).Uint("configuration_id", configuration.ID).Msg("test configuration created")
	return dto.NewTestConfigurationResponse(configuration), nil
}

// UpdateConfiguration changes a script for future submissions only. Repositories that
// were already materialized keep the script they were built with.
func (s *testService) UpdateConfiguration(ctx context.Context, id uint, payload dto.TestConfigurationUpdateRequest) (dto.TestConfigurationResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.TestConfigurationResponse{}, validationFailure(err)
	}

	configuration, err := s.repo.GetConfiguration(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.TestConfigurationResponse{}, ErrTestConfigurationNotFound
		}
		return dto.TestConfigurationResponse{}, storageError("load test configuration", err)
	}

	if payload.Name != nil {
		configuration.Name = strings.TrimSpace(*payload.Name)
	}
	if payload.Script != nil {
		configuration.Script = *payload.Script
	}
	if payload.Enabled != nil {
		configuration.Enabled = *payload.Enabled
	}

	if err := s.repo.UpdateConfiguration(ctx, &configuration); err != nil {
		return dto.TestConfigurationResponse{}, storageError("update test configuration", err)
	}
	return dto.NewTestConfigurationResponse(configuration), nil
}

func (s *testService) ensureTest(ctx context.Context, testID uint) error {
	if _, err := s.repo.GetByID(ctx, testID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTestNotFound
		}
		return storageError("load test", err)
	}
	return nil
}
