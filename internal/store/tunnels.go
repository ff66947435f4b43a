package store

import (
	"context"

	"gorm.io/gorm/clause"

	"tunnel-billing/internal/models"
)

func (s *Store) CreateTunnel(ctx context.Context, tunnel *models.Tunnel) error {
	return translate(s.conn(ctx).Omit(clause.Associations).Create(tunnel).Error)
}

func (s *Store) ListTunnelsByUser(ctx context.Context, userID uint) ([]models.Tunnel, error) {
	var tunnels []models.Tunnel
	if err := s.conn(ctx).Where("user_id = ?", userID).Order("id").Find(&tunnels).Error; err != nil {
		return nil, translate(err)
	}
	return tunnels, nil
}

// FindTunnelForUser loads a tunnel by id scoped to its owner. A tunnel owned
// by someone else is reported as ErrNotFound.
func (s *Store) FindTunnelForUser(ctx context.Context, id, userID uint) (*models.Tunnel, error) {
	var tunnel models.Tunnel
	if err := s.conn(ctx).Where("id = ? AND user_id = ?", id, userID).First(&tunnel).Error; err != nil {
		return nil, translate(err)
	}
	return &tunnel, nil
}

func (s *Store) SaveTunnel(ctx context.Context, tunnel *models.Tunnel) error {
	return translate(s.conn(ctx).Omit(clause.Associations).Save(tunnel).Error)
}

// ListTunnelsAfter pages through all tunnels in id order.
func (s *Store) ListTunnelsAfter(ctx context.Context, afterID uint, limit int) ([]models.Tunnel, error) {
	var tunnels []models.Tunnel
	err := s.conn(ctx).Where("id > ?", afterID).Order("id").Limit(limit).Find(&tunnels).Error
	if err != nil {
		return nil, translate(err)
	}
	return tunnels, nil
}
