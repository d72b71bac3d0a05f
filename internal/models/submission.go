package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Test status values shared by submissions and test results.
const (
	TestStatusPending = "pending"
	TestStatusRunning = "running"
	TestStatusPassed  = "passed"
	TestStatusFailed  = "failed"
)

// Materialization status values tracked per submission.
const (
	MaterializationQueued       = "queued"
	MaterializationMaterialized = "materialized"
	MaterializationFailed       = "failed"
)

// IsTerminalTestStatus reports whether status ends grading for a submission.
func IsTerminalTestStatus(status string) bool {
	return status == TestStatusPassed || status == TestStatusFailed
}

// IsKnownTestStatus reports whether status is a valid test status.
func IsKnownTestStatus(status string) bool {
	switch status {
	case TestStatusPending, TestStatusRunning, TestStatusPassed, TestStatusFailed:
		return true
	default:
		return false
	}
}

// Submission is a candidate's code snapshot for an assignment. The snapshot is never
// mutated after creation; TestStatus and the fields next to it form the current-status
// projection maintained by the reconciler.
type Submission struct {
	ID                    uint           `gorm:"primaryKey" json:"id"`
	AssignmentID          uint           `gorm:"not null;index" json:"assignment_id"`
	ContentSnapshot       datatypes.JSON `gorm:"type:json" json:"-"`
	TestStatus            string         `gorm:"size:32;not null;default:pending" json:"test_status"`
	TestResultsSummary    string         `gorm:"type:text" json:"test_results_summary"`
	StatusVersion         int64          `gorm:"not null;default:0" json:"-"`
	StatusUpdatedAt       *time.Time     `json:"status_updated_at"`
	LatestResultID        *uint          `json:"latest_result_id"`
	MaterializationStatus string         `gorm:"size:32;not null;default:queued" json:"materialization_status"`
	MaterializationError  string         `gorm:"type:text" json:"materialization_error"`
	RepositoryName        string         `gorm:"size:255" json:"repository_name"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
	Assignment            Assignment     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	TestResults           []TestResult   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

// SetFiles serializes the file map into the snapshot column.
func (s *Submission) SetFiles(files map[string]string) {
	data, err := json.Marshal(files)
	if err != nil {
		s.ContentSnapshot = datatypes.JSON([]byte("{}"))
		return
	}
	s.ContentSnapshot = datatypes.JSON(data)
}

// Files deserializes the stored snapshot.
func (s Submission) Files() map[string]string {
	if len(s.ContentSnapshot) == 0 {
		return map[string]string{}
	}

	files := map[string]string{}
	if err := json.Unmarshal(s.ContentSnapshot, &files); err != nil {
		return map[string]string{}
	}
	return files
}

// IsTerminal reports whether the current projection holds a final grading outcome.
func (s Submission) IsTerminal() bool {
	return IsTerminalTestStatus(s.TestStatus)
}
