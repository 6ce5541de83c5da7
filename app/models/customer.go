package models

import (
	"strings"
	"time"
)

// Customer links a local user account to the remote payment processor.
// In free mode StripeCustomerID stays empty. Created lazily on the first
// purchase-related action, never during signup.
type Customer struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	UserID           uint      `gorm:"not null;uniqueIndex" json:"user_id"`
	User             User      `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	StripeCustomerID string    `gorm:"type:varchar(255);default:'';index" json:"stripe_customer_id"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Name derives a display name from the linked user.
func (c *Customer) Name() string {
	return strings.TrimSpace(c.User.Name)
}

// Email returns the linked user's email address.
func (c *Customer) Email() string {
	return strings.TrimSpace(c.User.Email)
}

// HasStripeRef reports whether this customer is known to the remote processor.
func (c *Customer) HasStripeRef() bool {
	return c.StripeCustomerID != ""
}
