package store

import (
	"context"

	"gorm.io/gorm/clause"

	"tunnel-billing/internal/models"
)

// CurrentSubscription returns the user's active or pending-cancellation
// subscription with its plan.
func (s *Store) CurrentSubscription(ctx context.Context, userID uint) (*models.UserSubscription, error) {
	var sub models.UserSubscription
	err := s.conn(ctx).
		Preload("Plan").
		Where("user_id = ? AND status IN ?", userID, models.CurrentSubscriptionStatuses).
		Order("id DESC").
		First(&sub).Error
	if err != nil {
		return nil, translate(err)
	}
	return &sub, nil
}

func (s *Store) GetSubscriptionWithPlan(ctx context.Context, id uint) (*models.UserSubscription, error) {
	var sub models.UserSubscription
	if err := s.conn(ctx).Preload("Plan").First(&sub, id).Error; err != nil {
		return nil, translate(err)
	}
	return &sub, nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub *models.UserSubscription) error {
	return translate(s.conn(ctx).Omit(clause.Associations).Create(sub).Error)
}

// SaveSubscription writes every column, including cleared timestamps.
func (s *Store) SaveSubscription(ctx context.Context, sub *models.UserSubscription) error {
	return translate(s.conn(ctx).Omit(clause.Associations).Save(sub).Error)
}

func (s *Store) SetSubscriptionStatus(ctx context.Context, id uint, status string) error {
	res := s.conn(ctx).Model(&models.UserSubscription{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
