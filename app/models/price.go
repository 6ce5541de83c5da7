package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Billing intervals supported for recurring prices.
const (
	BillingIntervalMonthly   = "month"
	BillingIntervalYearly    = "year"
	BillingIntervalSixMonths = "6_months"
)

var ErrInvalidBillingInterval = errors.New("subscription prices require a billing interval; one-time prices must not have one")

// Price is a price in whole dollars for a product. The remote processor works
// in cents; AmountCents is the single place that conversion happens.
//
// Once a price has a StripePriceID the amount, interval and subscription flag
// are immutable, because the processor treats prices as immutable. Create a
// new Price instead of editing one; only Active may still toggle.
type Price struct {
	ID        string  `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ProductID string  `gorm:"type:varchar(255);not null;index" json:"product_id"`
	Product   Product `gorm:"constraint:OnDelete:CASCADE" json:"-"`

	// Numerical value in dollars.
	Amount uint `gorm:"not null" json:"amount"`

	IsSubscription  bool   `gorm:"default:false" json:"is_subscription"`
	BillingInterval string `gorm:"type:varchar(20);default:''" json:"billing_interval,omitempty"`

	// Active prices are visible to customers.
	Active bool `gorm:"default:true" json:"active"`

	StripePriceID string `gorm:"type:varchar(255);default:'';index" json:"stripe_price_id"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *Price) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// AmountCents converts the dollar amount to the processor's minor units.
// All call sites must use this instead of re-deriving cents.
func (p *Price) AmountCents() int64 {
	return int64(p.Amount) * 100
}

// Validate checks the interval invariant: recurring prices need an interval,
// one-time prices must not carry one.
func (p *Price) Validate() error {
	if p.IsSubscription {
		switch p.BillingInterval {
		case BillingIntervalMonthly, BillingIntervalYearly, BillingIntervalSixMonths:
			return nil
		}
		return ErrInvalidBillingInterval
	}
	if p.BillingInterval != "" {
		return ErrInvalidBillingInterval
	}
	return nil
}

// RecurringInterval maps the billing interval to the processor's
// interval/interval_count pair.
func (p *Price) RecurringInterval() (string, int64, error) {
	switch p.BillingInterval {
	case BillingIntervalMonthly:
		return "month", 1, nil
	case BillingIntervalYearly:
		return "year", 1, nil
	case BillingIntervalSixMonths:
		return "month", 6, nil
	}
	return "", 0, ErrInvalidBillingInterval
}

// HasStripeRef reports whether this price exists on the remote processor.
func (p *Price) HasStripeRef() bool {
	return p.StripePriceID != ""
}
