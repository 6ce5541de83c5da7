package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Subscription status values mirror the remote processor's closed enum.
const (
	SubscriptionStatusActive            = "active"
	SubscriptionStatusCanceled          = "canceled"
	SubscriptionStatusIncomplete        = "incomplete"
	SubscriptionStatusIncompleteExpired = "incomplete_expired"
	SubscriptionStatusPastDue           = "past_due"
	SubscriptionStatusTrialing          = "trialing"
	SubscriptionStatusPaid              = "paid"
	SubscriptionStatusUnpaid            = "unpaid"
)

// ValidSubscriptionStatus reports whether s is part of the closed status enum.
func ValidSubscriptionStatus(s string) bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusCanceled,
		SubscriptionStatusIncomplete, SubscriptionStatusIncompleteExpired,
		SubscriptionStatusPastDue, SubscriptionStatusTrialing,
		SubscriptionStatusPaid, SubscriptionStatusUnpaid:
		return true
	}
	return false
}

// Subscription tracks a recurring purchase: which customer pays which price
// for which product, plus the billing window and retry bookkeeping the remote
// processor reports through webhooks.
type Subscription struct {
	ID         string   `gorm:"primaryKey;type:varchar(36)" json:"id"`
	CustomerID uint     `gorm:"not null;index" json:"customer_id"`
	Customer   Customer `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	ProductID  string   `gorm:"type:varchar(255);not null;index" json:"product_id"`
	Product    Product  `json:"product,omitempty"`
	PriceID    string   `gorm:"type:varchar(36);not null" json:"price_id"`
	Price      Price    `gorm:"constraint:OnDelete:RESTRICT" json:"price,omitempty"`

	Status             string     `gorm:"type:varchar(30);not null;index" json:"status"`
	CurrentPeriodStart *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`

	StripeSubscriptionID  string     `gorm:"type:varchar(255);uniqueIndex" json:"stripe_subscription_id"`
	AttemptCount          int        `gorm:"default:0" json:"attempt_count"`
	NextPaymentAttempt    *time.Time `gorm:"type:timestamp;default:null" json:"next_payment_attempt,omitempty"`
	LatestStripeInvoiceID string     `gorm:"type:varchar(255);default:''" json:"latest_stripe_invoice_id"`

	// CancelAtPeriodEnd is a local request until the remote confirms it via a
	// subscription.updated / subscription.deleted event.
	CancelAtPeriodEnd bool       `gorm:"default:false" json:"cancel_at_period_end"`
	CancelAt          *time.Time `gorm:"type:timestamp;default:null" json:"cancel_at,omitempty"`
	CanceledAt        *time.Time `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`
	EndedAt           *time.Time `gorm:"type:timestamp;default:null" json:"ended_at,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// IsActive reports whether the subscription currently grants access,
// including the grace period: past_due still counts as long as the processor
// has another payment attempt scheduled. Access gating uses this predicate
// everywhere, never the raw status.
func (s *Subscription) IsActive() bool {
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusPaid:
		return true
	case SubscriptionStatusPastDue:
		return s.NextPaymentAttempt != nil
	}
	return false
}

// DisplayID strips the processor's "sub_" prefix for UI purposes.
func (s *Subscription) DisplayID() string {
	if len(s.StripeSubscriptionID) > 4 {
		return s.StripeSubscriptionID[4:]
	}
	return ""
}
