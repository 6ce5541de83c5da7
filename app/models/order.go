package models

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Order is either a mutable cart (Complete=false) or a finalized purchase.
// Complete transitions false->true exactly once, only ever from the webhook
// side; nothing reverts it. Stripe fields stay empty in free mode.
type Order struct {
	ID          string   `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OrderNumber string   `gorm:"type:varchar(20);uniqueIndex;not null" json:"order_number"`
	CustomerID  uint     `gorm:"not null;index" json:"customer_id"`
	Customer    Customer `gorm:"constraint:OnDelete:CASCADE" json:"-"`

	// Incomplete orders are still in the customer's cart.
	Complete bool `gorm:"default:false;index" json:"complete"`

	StripeCheckoutSessionID string `gorm:"type:varchar(255);default:'';index" json:"stripe_checkout_session_id"`
	StripePaymentIntentID   string `gorm:"type:varchar(255);default:'';index" json:"stripe_payment_intent_id"`
	StripeChargeID          string `gorm:"type:varchar(255);default:''" json:"stripe_charge_id"`
	ReceiptURL              string `gorm:"type:varchar(512);default:''" json:"receipt_url"`

	StripeRefundID string `gorm:"type:varchar(255);default:''" json:"stripe_refund_id"`
	// Cents refunded so far. Monotonically non-decreasing, capped at the
	// order total.
	RefundedAmount int64 `gorm:"default:0" json:"refunded_amount"`

	Items []OrderItem `json:"items,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	return nil
}

// GenerateOrderNumber returns a human-readable candidate like
// ORD-20250117-0042137. Uniqueness is enforced by the DB index; callers retry
// on collision.
func GenerateOrderNumber() string {
	datePart := time.Now().Format("20060102")
	return fmt.Sprintf("ORD-%s-%07d", datePart, rand.Intn(10_000_000))
}

// TotalItems sums the quantities of all items. Items must be loaded.
func (o *Order) TotalItems() int {
	total := 0
	for _, item := range o.Items {
		total += item.Quantity
	}
	return total
}

// TotalPrice is the order total in whole dollars. Items and their prices must
// be loaded.
func (o *Order) TotalPrice() uint {
	var total uint
	for _, item := range o.Items {
		total += item.Price.Amount * uint(item.Quantity)
	}
	return total
}

// TotalPriceCents is the order total in the processor's minor units.
func (o *Order) TotalPriceCents() int64 {
	var total int64
	for _, item := range o.Items {
		total += item.TotalPriceCents()
	}
	return total
}

// FullyRefunded reports whether the refund accumulator has reached the order
// total.
func (o *Order) FullyRefunded() bool {
	total := o.TotalPriceCents()
	return total > 0 && o.RefundedAmount >= total
}
