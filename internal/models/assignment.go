package models

import "time"

// Assignment status values. Transitions only move forward.
const (
	AssignmentStatusPending    = "pending"
	AssignmentStatusInProgress = "in-progress"
	AssignmentStatusCompleted  = "completed"
)

// Assignment pairs a candidate with a recruiter-defined test.
type Assignment struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	TestID        uint       `gorm:"not null;index" json:"test_id"`
	CandidateID   uint       `gorm:"not null;index" json:"candidate_id"`
	AccessToken   string     `gorm:"size:64;uniqueIndex;not null" json:"-"`
	Status        string     `gorm:"size:32;not null;default:pending" json:"status"`
	StartedAt     *time.Time `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at"`
	RepositoryURL string     `gorm:"size:512" json:"repository_url"`
	Branch        string     `gorm:"size:128" json:"branch"`
	ArchivedAt    *time.Time `json:"archived_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	Test          Test       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"test"`
	Candidate     Candidate  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"candidate"`
	Submissions   []Submission
}

var assignmentTransitions = map[string]string{
	AssignmentStatusPending:    AssignmentStatusInProgress,
	AssignmentStatusInProgress: AssignmentStatusCompleted,
}

// CanTransitionAssignment reports whether moving from one status to another is legal.
func CanTransitionAssignment(from, to string) bool {
	next, ok := assignmentTransitions[from]
	return ok && next == to
}

// IsKnownAssignmentStatus reports whether status is one of the assignment states.
func IsKnownAssignmentStatus(status string) bool {
	switch status {
	case AssignmentStatusPending, AssignmentStatusInProgress, AssignmentStatusCompleted:
		return true
	default:
		return false
	}
}

// IsCompleted returns true once grading has finished for the assignment.
func (a Assignment) IsCompleted() bool {
	return a.Status == AssignmentStatusCompleted
}

// IsArchived returns true when the assignment was archived by a recruiter.
func (a Assignment) IsArchived() bool {
	return a.ArchivedAt != nil
}
