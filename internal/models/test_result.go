package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// TestResult records one grading event for a submission. Rows are append-only.
type TestResult struct {
	ID             uint              `gorm:"primaryKey" json:"id"`
	SubmissionID   uint              `gorm:"not null;index" json:"submission_id"`
	AssignmentID   uint              `gorm:"not null;index" json:"assignment_id"`
	Status         string            `gorm:"size:32;not null" json:"status"`
	Output         datatypes.JSONMap `gorm:"type:json" json:"output"`
	Logs           string            `gorm:"type:text" json:"logs"`
	ScreenshotURLs datatypes.JSON    `gorm:"type:json" json:"-"`
	ReportedAt     time.Time         `gorm:"not null" json:"reported_at"`
	Applied        bool              `gorm:"not null;default:false" json:"applied"`
	CreatedAt      time.Time         `json:"created_at"`
}

// SetScreenshots stores the ordered screenshot list.
func (r *TestResult) SetScreenshots(urls []string) {
	if urls == nil {
		urls = []string{}
	}
	data, err := json.Marshal(urls)
	if err != nil {
		r.ScreenshotURLs = datatypes.JSON([]byte("[]"))
		return
	}
	r.ScreenshotURLs = datatypes.JSON(data)
}

// Screenshots returns the stored screenshot list in its original order.
func (r TestResult) Screenshots() []string {
	if len(r.ScreenshotURLs) == 0 {
		return []string{}
	}

	var urls []string
	if err := json.Unmarshal(r.ScreenshotURLs, &urls); err != nil {
		return []string{}
	}
	return urls
}
