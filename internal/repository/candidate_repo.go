package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/noah-isme/assessment-api/internal/models"
)

// CandidateRepository persists invited candidates.
type CandidateRepository interface {
	GetByID(ctx context.Context, id uint) (models.Candidate, error)
	FindOrCreate(ctx context.Context, name, email string) (models.Candidate, error)
}

type candidateRepository struct {
	db *gorm.DB
}

// NewCandidateRepository creates a GORM-backed candidate repository.
func NewCandidateRepository(db *gorm.DB) CandidateRepository {
	return &candidateRepository{db: db}
}

func (r *candidateRepository) GetByID(ctx context.Context, id uint) (models.Candidate, error) {
	var candidate models.Candidate
	if err := r.db.WithContext(ctx).First(&candidate, id).Error; err != nil {
		return models.Candidate{}, err
	}
	return candidate, nil
}

// FindOrCreate looks a candidate up by email, creating it with the given name when absent.
func (r *candidateRepository) FindOrCreate(ctx context.Context, name, email string) (models.Candidate, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	candidate := models.Candidate{Name: strings.TrimSpace(name), Email: normalized}
	err := r.db.WithContext(ctx).
		Where(models.Candidate{Email: normalized}).
		Attrs(models.Candidate{Name: candidate.Name}).
		FirstOrCreate(&candidate).Error
	if err != nil {
		return models.Candidate{}, err
	}
	return candidate, nil
}
