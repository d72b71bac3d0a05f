package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/assessment-api/internal/models"
)

// TestRepository persists recruiter-defined tests and their Playwright configurations.
type TestRepository interface {
	Create(ctx context.Context, test *models.Test) error
	GetByID(ctx context.Context, id uint) (models.Test, error)
	ListConfigurations(ctx context.Context, testID uint, enabledOnly bool) ([]models.TestConfiguration, error)
	GetConfiguration(ctx context.Context, id uint) (models.TestConfiguration, error)
	CreateConfiguration(ctx context.Context, configuration *models.TestConfiguration) error
	UpdateConfiguration(ctx context.Context, configuration *models.TestConfiguration) error
}

type testRepository struct {
	db *gorm.DB
}

// NewTestRepository creates a GORM-backed test repository.
func NewTestRepository(db *gorm.DB) TestRepository {
	return &testRepository{db: db}
}

func (r *testRepository) Create(ctx context.Context, test *models.Test) error {
	return r.db.WithContext(ctx).Create(test).Error
}

func (r *testRepository) GetByID(ctx context.Context, id uint) (models.Test, error) {
	var test models.Test
	if err := r.db.WithContext(ctx).First(&test, id).Error; err != nil {
		return models.Test{}, err
	}
	return test, nil
}

func (r *testRepository) ListConfigurations(ctx context.Context, testID uint, enabledOnly bool) ([]models.TestConfiguration, error) {
	query := r.db.WithContext(ctx).Where("test_id = ?", testID)
	if enabledOnly {
		query = query.Where("enabled = ?", true)
	}

	var configurations []models.TestConfiguration
	if err := query.Order("id ASC").Find(&configurations).Error; err != nil {
		return nil, err
	}
	return configurations, nil
}

func (r *testRepository) GetConfiguration(ctx context.Context, id uint) (models.TestConfiguration, error) {
	var configuration models.TestConfiguration
	if err := r.db.WithContext(ctx).First(&configuration, id).Error; err != nil {
		return models.TestConfiguration{}, err
	}
	return configuration, nil
}

func (r *testRepository) CreateConfiguration(ctx context.Context, configuration *models.TestConfiguration) error {
	return r.db.WithContext(ctx).Create(configuration).Error
}

func (r *testRepository) UpdateConfiguration(ctx context.Context, configuration *models.TestConfiguration) error {
	return r.db.WithContext(ctx).
		Model(configuration).
		Select("name", "script", "enabled", "updated_at").
		Updates(configuration).Error
}
