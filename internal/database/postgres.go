package database

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tunnel-billing/internal/config"
	"tunnel-billing/internal/models"
)

// currentSubscriptionIndex backs the one-current-subscription-per-user rule
// at the storage layer.
const currentSubscriptionIndex = `CREATE UNIQUE INDEX IF NOT EXISTS ux_user_subscriptions_current
	ON user_subscriptions (user_id)
	WHERE status IN ('active', 'pending_cancellation')`

func ConnectPostgres(cfg *config.Config, log *logrus.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.PostgresDSN()), &gorm.Config{
		// Multi-step writes open their own transactions.
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	log.Info("Connected to PostgreSQL")

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(&models.User{}, &models.Plan{}, &models.UserSubscription{}, &models.Tunnel{})
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := db.Exec(currentSubscriptionIndex).Error; err != nil {
		return fmt.Errorf("failed to create current subscription index: %w", err)
	}
	return nil
}
