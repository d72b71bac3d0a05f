package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/assessment-api/internal/models"
)

// TestResultRepository appends and reads grading history rows.
type TestResultRepository interface {
	Create(ctx context.Context, result *models.TestResult) error
	MarkApplied(ctx context.Context, id uint) error
	ListBySubmission(ctx context.Context, submissionID uint) ([]models.TestResult, error)
}

type testResultRepository struct {
	db *gorm.DB
}

// NewTestResultRepository creates a GORM-backed test result repository.
func NewTestResultRepository(db *gorm.DB) TestResultRepository {
	return &testResultRepository{db: db}
}

func (r *testResultRepository) Create(ctx context.Context, result *models.TestResult) error {
	return r.db.WithContext(ctx).Create(result).Error
}

func (r *testResultRepository) MarkApplied(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).
		Model(&models.TestResult{}).
		Where("id = ?", id).
		Update("applied", true).Error
}

// ListBySubmission returns history newest event first.
func (r *testResultRepository) ListBySubmission(ctx context.Context, submissionID uint) ([]models.TestResult, error) {
	var results []models.TestResult
	err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("reported_at DESC").
		Order("id DESC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}

	return results, nil
}
