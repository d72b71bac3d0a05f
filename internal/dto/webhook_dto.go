package dto

import "time"

// TestResultWebhookRequest is the grading result posted by the CI reporter.
type TestResultWebhookRequest struct {
	SubmissionID   uint                   `json:"submission_id"`
	AssignmentID   uint                   `json:"assignment_id"`
	Status         string                 `json:"status"`
	TestOutput     map[string]interface{} `json:"test_output"`
	Logs           string                 `json:"logs"`
	ScreenshotURLs []string               `json:"screenshot_urls"`
	Screenshots    []WebhookScreenshot    `json:"screenshots"`
	Timestamp      *time.Time             `json:"timestamp"`
}

// WebhookScreenshot is an image the CI runner inlined as base64.
type WebhookScreenshot struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// WebhookAckResponse reports what the reconciler did with a delivery.
type WebhookAckResponse struct {
	ResultID         uint   `json:"result_id"`
	Applied          bool   `json:"applied"`
	SubmissionStatus string `json:"submission_status"`
	AssignmentStatus string `json:"assignment_status"`
}

// StatusEvent is pushed to status stream subscribers whenever a projection changes.
type StatusEvent struct {
	Type             string    `json:"type"`
	AssignmentID     uint      `json:"assignment_id"`
	SubmissionID     uint      `json:"submission_id"`
	TestStatus       string    `json:"test_status"`
	AssignmentStatus string    `json:"assignment_status"`
	Summary          string    `json:"summary,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}
