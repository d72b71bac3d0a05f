package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/assessment-api/internal/models"
)

// AssignmentRepository defines persistence operations for assignments.
type AssignmentRepository interface {
	Create(ctx context.Context, assignment *models.Assignment) error
	GetByID(ctx context.Context, id uint) (models.Assignment, error)
	GetByToken(ctx context.Context, token string) (models.Assignment, error)
	TransitionStatus(ctx context.Context, id uint, from, to string, at time.Time) (bool, error)
	SetRepository(ctx context.Context, id uint, url, branch string) error
	Archive(ctx context.Context, id uint, at time.Time) (bool, error)
}

type assignmentRepository struct {
	db *gorm.DB
}

// NewAssignmentRepository instantiates a GORM-backed repository.
func NewAssignmentRepository(db *gorm.DB) AssignmentRepository {
	return &assignmentRepository{db: db}
}

func (r *assignmentRepository) Create(ctx context.Context, assignment *models.Assignment) error {
	return r.db.WithContext(ctx).Omit("Test", "Candidate").Create(assignment).Error
}

func (r *assignmentRepository) GetByID(ctx context.Context, id uint) (models.Assignment, error) {
	var assignment models.Assignment
	if err := r.db.WithContext(ctx).Preload("Test").Preload("Candidate").First(&assignment, id).Error; err != nil {
		return models.Assignment{}, err
	}

	return assignment, nil
}

func (r *assignmentRepository) GetByToken(ctx context.Context, token string) (models.Assignment, error) {
	var assignment models.Assignment
	err := r.db.WithContext(ctx).
		Preload("Test").
		Preload("Candidate").
		Where("access_token = ?", token).
		First(&assignment).Error
	if err != nil {
		return models.Assignment{}, err
	}

	return assignment, nil
}

// TransitionStatus moves the assignment from one status to another only if it is
// still in the expected source status. It reports whether a row changed.
func (r *assignmentRepository) TransitionStatus(ctx context.Context, id uint, from, to string, at time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": at,
	}
	switch to {
	case models.AssignmentStatusInProgress:
		updates["started_at"] = at
	case models.AssignmentStatusCompleted:
		updates["completed_at"] = at
	}

	result := r.db.WithContext(ctx).
		Model(&models.Assignment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected == 1, nil
}

func (r *assignmentRepository) SetRepository(ctx context.Context, id uint, url, branch string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Assignment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"repository_url": url,
			"branch":         branch,
			"updated_at":     time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Archive stamps archived_at once. It reports false when the assignment was already archived.
func (r *assignmentRepository) Archive(ctx context.Context, id uint, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Assignment{}).
		Where("id = ? AND archived_at IS NULL", id).
		Updates(map[string]interface{}{
			"archived_at": at,
			"updated_at":  at,
		})
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected == 1, nil
}
