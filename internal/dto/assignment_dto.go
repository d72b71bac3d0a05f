package dto

import (
	"time"

	"github.com/noah-isme/assessment-api/internal/models"
)

// AssignmentCreateRequest assigns a test to a candidate, inviting them by email.
type AssignmentCreateRequest struct {
	TestID         uint   `json:"test_id" validate:"required,gt=0"`
	CandidateName  string `json:"candidate_name" validate:"required,min=2,max=255"`
	CandidateEmail string `json:"candidate_email" validate:"required,email,max=255"`
}

// AssignmentStatusRequest asks for an explicit status transition.
type AssignmentStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending in-progress completed"`
}

// AssignmentResponse is returned to recruiters and candidates when viewing assignments.
type AssignmentResponse struct {
	ID            uint          `json:"id"`
	Status        string        `json:"status"`
	StartedAt     *time.Time    `json:"started_at"`
	CompletedAt   *time.Time    `json:"completed_at"`
	RepositoryURL string        `json:"repository_url,omitempty"`
	Branch        string        `json:"branch,omitempty"`
	ArchivedAt    *time.Time    `json:"archived_at,omitempty"`
	AccessLink    string        `json:"access_link,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	Test          TestLite      `json:"test"`
	Candidate     CandidateLite `json:"candidate"`
}

// TestLite summarizes a test inside assignment responses.
type TestLite struct {
	ID          uint   `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// CandidateLite summarizes the invited candidate.
type CandidateLite struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// NewAssignmentResponse converts an Assignment model into a DTO.
func NewAssignmentResponse(model models.Assignment) AssignmentResponse {
	return AssignmentResponse{
		ID:            model.ID,
		Status:        model.Status,
		StartedAt:     model.StartedAt,
		CompletedAt:   model.CompletedAt,
		RepositoryURL: model.RepositoryURL,
		Branch:        model.Branch,
		ArchivedAt:    model.ArchivedAt,
		CreatedAt:     model.CreatedAt,
		UpdatedAt:     model.UpdatedAt,
		Test: TestLite{
			ID:          model.Test.ID,
			Title:       model.Test.Title,
			Description: model.Test.Description,
		},
		Candidate: CandidateLite{
			ID:    model.Candidate.ID,
			Name:  model.Candidate.Name,
			Email: model.Candidate.Email,
		},
	}
}

// NewCandidateAssignmentResponse hides recruiter-only fields from the candidate view.
func NewCandidateAssignmentResponse(model models.Assignment) AssignmentResponse {
	response := NewAssignmentResponse(model)
	response.RepositoryURL = ""
	response.Branch = ""
	response.Candidate.Email = ""
	return response
}
