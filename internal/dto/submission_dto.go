package dto

import (
	"time"

	"github.com/noah-isme/assessment-api/internal/models"
)

// SubmissionCreateRequest carries the candidate's file tree keyed by path.
type SubmissionCreateRequest struct {
	Files map[string]string `json:"files" validate:"required,min=1,max=2000"`
}

// SubmissionResponse exposes a submission's current-status projection.
type SubmissionResponse struct {
	ID                    uint       `json:"id"`
	AssignmentID          uint       `json:"assignment_id"`
	TestStatus            string     `json:"test_status"`
	TestResultsSummary    string     `json:"test_results_summary"`
	StatusUpdatedAt       *time.Time `json:"status_updated_at"`
	MaterializationStatus string     `json:"materialization_status"`
	MaterializationError  string     `json:"materialization_error,omitempty"`
	RepositoryName        string     `json:"repository_name,omitempty"`
	FileCount             int        `json:"file_count"`
	CreatedAt             time.Time  `json:"created_at"`
}

// TestResultResponse serializes one grading history entry.
type TestResultResponse struct {
	ID             uint                   `json:"id"`
	Status         string                 `json:"status"`
	Output         map[string]interface{} `json:"output,omitempty"`
	Logs           string                 `json:"logs,omitempty"`
	ScreenshotURLs []string               `json:"screenshot_urls"`
	ReportedAt     time.Time              `json:"reported_at"`
	Applied        bool                   `json:"applied"`
	CreatedAt      time.Time              `json:"created_at"`
}

// SubmissionStatusResponse combines the projection with the assignment status and history.
type SubmissionStatusResponse struct {
	Submission       SubmissionResponse   `json:"submission"`
	AssignmentStatus string               `json:"assignment_status"`
	Results          []TestResultResponse `json:"results"`
}

// NewSubmissionResponse converts a Submission model into a DTO.
func NewSubmissionResponse(model models.Submission) SubmissionResponse {
	return SubmissionResponse{
		ID:                    model.ID,
		AssignmentID:          model.AssignmentID,
		TestStatus:            model.TestStatus,
		TestResultsSummary:    model.TestResultsSummary,
		StatusUpdatedAt:       model.StatusUpdatedAt,
		MaterializationStatus: model.MaterializationStatus,
		MaterializationError:  model.MaterializationError,
		RepositoryName:        model.RepositoryName,
		FileCount:             len(model.Files()),
		CreatedAt:             model.CreatedAt,
	}
}

// NewTestResultResponse converts a TestResult model into a DTO.
func NewTestResultResponse(model models.TestResult) TestResultResponse {
	return TestResultResponse{
		ID:             model.ID,
		Status:         model.Status,
		Output:         map[string]interface{}(model.Output),
		Logs:           model.Logs,
		ScreenshotURLs: model.Screenshots(),
		ReportedAt:     model.ReportedAt,
		Applied:        model.Applied,
		CreatedAt:      model.CreatedAt,
	}
}

// NewTestResultResponseSlice converts a history slice.
func NewTestResultResponseSlice(items []models.TestResult) []TestResultResponse {
	responses := make([]TestResultResponse, 0, len(items))
	for _, item := range items {
		responses = append(responses, NewTestResultResponse(item))
	}
	return responses
}
