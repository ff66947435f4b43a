package models

import (
	"time"
)

type User struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Email            string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	Fullname         string    `gorm:"size:255" json:"fullname"`
	StripeCustomerID *string   `gorm:"size:255;index" json:"stripeCustomerId"`
	TelegramChatID   *int64    `gorm:"index" json:"-"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// HasPaymentCustomer reports whether the user has been set up at the payment
// provider.
func (u *User) HasPaymentCustomer() bool {
	return u.StripeCustomerID != nil && *u.StripeCustomerID != ""
}
