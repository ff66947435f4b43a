package models

import (
	"time"
)

const (
	SubscriptionStatusActive              = "active"
	SubscriptionStatusPendingCancellation = "pending_cancellation"
	SubscriptionStatusInactive            = "inactive"
	SubscriptionStatusCancelled           = "cancelled"
)

// CurrentSubscriptionStatuses is the set of statuses that make a subscription
// the user's current one. At most one row per user may be in this set.
var CurrentSubscriptionStatuses = []string{
	SubscriptionStatusActive,
	SubscriptionStatusPendingCancellation,
}

type UserSubscription struct {
	ID                       uint       `gorm:"primaryKey" json:"id"`
	UserID                   uint       `gorm:"not null;index" json:"userId"`
	User                     *User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	PlanID                   uint       `gorm:"not null;index" json:"planId"`
	Plan                     *Plan      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"plan,omitempty"`
	StripePriceID            string     `gorm:"size:255;not null" json:"stripePriceId"`
	StripeSubscriptionID     string     `gorm:"size:255;index" json:"stripeSubscriptionId"`
	StripeSubscriptionItemID *string    `gorm:"size:255" json:"stripeSubscriptionItemId"`
	Status                   string     `gorm:"size:32;not null;index" json:"status"`
	ActivatedAt              time.Time  `json:"activatedAt"`
	CancelRequestedAt        *time.Time `json:"cancelRequestedAt"`
	EffectiveCancelDate      *time.Time `json:"effectiveCancelDate"`
	CreatedAt                time.Time  `json:"createdAt"`
	UpdatedAt                time.Time  `json:"updatedAt"`
}

func (s *UserSubscription) IsCurrent() bool {
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusPendingCancellation
}

// HasRemoteItem reports whether the subscription can be changed in place at
// the payment provider.
func (s *UserSubscription) HasRemoteItem() bool {
	return s.StripeSubscriptionItemID != nil && *s.StripeSubscriptionItemID != ""
}
