package dto

import (
	"time"

	"github.com/noah-isme/assessment-api/internal/models"
)

// TestCreateRequest defines a new recruiter test.
type TestCreateRequest struct {
	Title       string `json:"title" validate:"required,min=3,max=255"`
	Description string `json:"description" validate:"omitempty,max=10000"`
}

// TestConfigurationCreateRequest adds a Playwright script to a test.
type TestConfigurationCreateRequest struct {
	Name    string `json:"name" validate:"required,min=1,max=255"`
	Script  string `json:"script" validate:"required"`
	Enabled *bool  `json:"enabled"`
}

// TestConfigurationUpdateRequest patches a Playwright script.
type TestConfigurationUpdateRequest struct {
	Name    *string `json:"name" validate:"omitempty,min=1,max=255"`
	Script  *string `json:"script" validate:"omitempty,min=1"`
	Enabled *bool   `json:"enabled"`
}

// TestResponse is returned when viewing tests.
type TestResponse struct {
	ID          uint      `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// TestConfigurationResponse is returned when viewing Playwright configurations.
type TestConfigurationResponse struct {
	ID        uint      `json:"id"`
	TestID    uint      `json:"test_id"`
	Name      string    `json:"name"`
	Script    string    `json:"script"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTestResponse converts a Test model into a DTO.
func NewTestResponse(model models.Test) TestResponse {
	return TestResponse{
		ID:          model.ID,
		Title:       model.Title,
		Description: model.Description,
		CreatedAt:   model.CreatedAt,
	}
}

// NewTestConfigurationResponse converts a TestConfiguration model into a DTO.
func NewTestConfigurationResponse(model models.TestConfiguration) TestConfigurationResponse {
	return TestConfigurationResponse{
		ID:        model.ID,
		TestID:    model.TestID,
		Name:      model.Name,
		Script:    model.Script,
		Enabled:   model.Enabled,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
}

// NewTestConfigurationResponseSlice converts a slice of configurations.
func NewTestConfigurationResponseSlice(items []models.TestConfiguration) []TestConfigurationResponse {
	responses := make([]TestConfigurationResponse, 0, len(items))
	for _, item := range items {
		responses = append(responses, NewTestConfigurationResponse(item))
	}
	return responses
}
