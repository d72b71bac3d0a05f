package models

import "time"

// Test is a recruiter-defined coding test.
type Test struct {
	ID             uint                `gorm:"primaryKey" json:"id"`
	Title          string              `gorm:"size:255;not null" json:"title"`
	Description    string              `gorm:"type:text" json:"description"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
	Configurations []TestConfiguration `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

// TestConfiguration is a named Playwright script bound to a test.
type TestConfiguration struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TestID    uint      `gorm:"not null;index" json:"test_id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Script    string    `gorm:"type:text" json:"script"`
	Enabled   bool      `gorm:"not null" json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
