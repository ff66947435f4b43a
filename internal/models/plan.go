package models

import (
	"time"
)

const (
	BillingPeriodMonthly = "monthly"
	BillingPeriodYearly  = "yearly"
)

const (
	SupportLevelCommunity = "community"
	SupportLevelEmail     = "email"
	SupportLevelPriority  = "priority"
	SupportLevelDedicated = "dedicated"
)

// Plan is a catalog entry. The core never writes plans.
type Plan struct {
	ID                      uint      `gorm:"primaryKey" json:"id"`
	Code                    string    `gorm:"size:64;uniqueIndex;not null" json:"code"`
	Name                    string    `gorm:"size:255;not null" json:"name"`
	BasePrice               float64   `gorm:"not null" json:"basePrice"`
	FreeDataTransferGB      int       `gorm:"not null" json:"freeDataTransferGB"`
	PricePerAdditional10GB  float64   `gorm:"not null" json:"pricePerAdditional10GB"`
	BillingPeriod           string    `gorm:"size:16;not null" json:"billingPeriod"`
	SupportLevel            string    `gorm:"size:16;not null" json:"supportLevel"`
	APIIntegration          bool      `gorm:"not null" json:"apiIntegration"`
	DedicatedAccountManager bool      `gorm:"not null" json:"dedicatedAccountManager"`
	StripePriceID           string    `gorm:"size:255;not null" json:"stripePriceId"`
	CreatedAt               time.Time `json:"createdAt"`
	UpdatedAt               time.Time `json:"updatedAt"`
}
