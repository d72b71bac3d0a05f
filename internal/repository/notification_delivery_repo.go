package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/assessment-api/internal/models"
)

// NotificationDeliveryRepository records dispatcher outcomes.
type NotificationDeliveryRepository interface {
	Create(ctx context.Context, delivery *models.NotificationDelivery) error
	ListByAssignment(ctx context.Context, assignmentID uint) ([]models.NotificationDelivery, error)
}

type notificationDeliveryRepository struct {
	db *gorm.DB
}

// NewNotificationDeliveryRepository creates a GORM-backed delivery log.
func NewNotificationDeliveryRepository(db *gorm.DB) NotificationDeliveryRepository {
	return &notificationDeliveryRepository{db: db}
}

func (r *notificationDeliveryRepository) Create(ctx context.Context, delivery *models.NotificationDelivery) error {
	return r.db.WithContext(ctx).Create(delivery).Error
}

func (r *notificationDeliveryRepository) ListByAssignment(ctx context.Context, assignmentID uint) ([]models.NotificationDelivery, error) {
	var deliveries []models.NotificationDelivery
	err := r.db.WithContext(ctx).
		Where("assignment_id = ?", assignmentID).
		Order("id ASC").
		Find(&deliveries).Error
	if err != nil {
		return nil, err
	}
	return deliveries, nil
}
