package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrderItem snapshots which price was paid for a product. The price reference
// is a historical fact and is never repointed after creation; deleting a
// referenced Price is prevented (RESTRICT) to preserve financial history.
type OrderItem struct {
	ID        string  `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OrderID   string  `gorm:"type:varchar(36);not null;index" json:"order_id"`
	Order     Order   `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	ProductID string  `gorm:"type:varchar(255);not null;index" json:"product_id"`
	Product   Product `json:"product,omitempty"`
	PriceID   string  `gorm:"type:varchar(36);not null;index" json:"price_id"`
	Price     Price   `gorm:"constraint:OnDelete:RESTRICT" json:"price,omitempty"`

	Quantity int       `gorm:"default:0" json:"quantity"`
	AddedAt  time.Time `gorm:"autoCreateTime" json:"added_at"`

	Refunded   bool       `gorm:"default:false;index" json:"refunded"`
	RefundedAt *time.Time `gorm:"type:timestamp;default:null" json:"refunded_at,omitempty"`
}

func (i *OrderItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}

// TotalPrice is the line total in whole dollars. Price must be loaded.
func (i *OrderItem) TotalPrice() uint {
	return uint(i.Quantity) * i.Price.Amount
}

// TotalPriceCents is the line total in the processor's minor units.
func (i *OrderItem) TotalPriceCents() int64 {
	return int64(i.Quantity) * i.Price.AmountCents()
}
