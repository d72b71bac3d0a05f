package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/assessment-api/internal/models"
)

// ProjectionUpdate carries a candidate value for a submission's current-status projection.
type ProjectionUpdate struct {
	SubmissionID uint
	Status       string
	Summary      string
	ResultID     uint
	EventTime    time.Time
	// ReceiptTimed marks an EventTime taken on arrival rather than reported by CI.
	// A redelivery of such an event carries a fresh time, so it cannot be ordered by version.
	ReceiptTimed bool
}

// SubmissionRepository defines persistence operations for submissions.
type SubmissionRepository interface {
	Create(ctx context.Context, submission *models.Submission) error
	GetByID(ctx context.Context, id uint) (models.Submission, error)
	ListByAssignment(ctx context.Context, assignmentID uint) ([]models.Submission, error)
	ApplyProjection(ctx context.Context, update ProjectionUpdate) (bool, error)
	SetMaterialization(ctx context.Context, id uint, status, repositoryName, message string) error
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository creates a new submission repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

// EventVersion converts an event time to the integer stored in status_version.
func EventVersion(at time.Time) int64 {
	return at.UTC().UnixMicro()
}

func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Omit("Assignment").Create(submission).Error
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}

	return submission, nil
}

func (r *submissionRepository) ListByAssignment(ctx context.Context, assignmentID uint) ([]models.Submission, error) {
	var submissions []models.Submission
	err := r.db.WithContext(ctx).
		Where("assignment_id = ?", assignmentID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&submissions).Error
	if err != nil {
		return nil, err
	}

	return submissions, nil
}

// ApplyProjection is a compare-and-set on status_version. A terminal status wins over an
// older version, or over an equal version that is not yet terminal; on an equal version
// failed also replaces passed. A non-terminal status only wins over an older non-terminal
// projection. Receipt-timed events never replace a terminal projection nor repeat the
// current status. It reports whether the row changed.
func (r *submissionRepository) ApplyProjection(ctx context.Context, update ProjectionUpdate) (bool, error) {
	version := EventVersion(update.EventTime)
	terminal := []string{models.TestStatusPassed, models.TestStatusFailed}
	isTerminal := models.IsTerminalTestStatus(update.Status)

	query := r.db.WithContext(ctx).Model(&models.Submission{}).Where("id = ?", update.SubmissionID)
	var storedVersion interface{} = version
	switch {
	case update.ReceiptTimed && isTerminal:
		query = query.Where("test_status NOT IN ?", terminal)
		storedVersion = gorm.Expr("CASE WHEN status_version > ? THEN status_version ELSE ? END", version, version)
	case update.ReceiptTimed:
		query = query.Where("status_version < ? AND test_status NOT IN ? AND test_status <> ?", version, terminal, update.Status)
	case update.Status == models.TestStatusFailed:
		query = query.Where("(status_version < ? OR (status_version = ? AND test_status <> ?))", version, version, models.TestStatusFailed)
	case isTerminal:
		query = query.Where("(status_version < ? OR (status_version = ? AND test_status NOT IN ?))", version, version, terminal)
	default:
		query = query.Where("status_version < ? AND test_status NOT IN ?", version, terminal)
	}

	resultID := update.ResultID
	updatedAt := update.EventTime.UTC()
	result := query.Updates(map[string]interface{}{
		"test_status":          update.Status,
		"test_results_summary": update.Summary,
		"status_version":       storedVersion,
		"status_updated_at":    updatedAt,
		"latest_result_id":     resultID,
		"updated_at":           time.Now().UTC(),
	})
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected == 1, nil
}

func (r *submissionRepository) SetMaterialization(ctx context.Context, id uint, status, repositoryName, message string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Submission{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"materialization_status": status,
			"materialization_error":  message,
			"repository_name":        repositoryName,
			"updated_at":             time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
