package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// ProductTag groups products in the storefront.
type ProductTag struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(100);not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Product is a catalog entry, optionally linked to a remote processor product.
// The ID is a human-chosen slug like "tenement_management_system".
type Product struct {
	ID              string `gorm:"primaryKey;type:varchar(255)" json:"id" validate:"required,lowercase_slug"`
	StripeProductID string `gorm:"type:varchar(255);default:'';index" json:"stripe_product_id"`

	Name            string `gorm:"type:varchar(200);not null" json:"name" validate:"required,max=200"`
	Description     string `gorm:"type:varchar(200);default:''" json:"description" validate:"max=200"`
	LongDescription string `gorm:"type:varchar(5000);default:''" json:"long_description" validate:"max=5000"`
	Tags            []ProductTag `gorm:"many2many:product_product_tags" json:"tags,omitempty"`

	// Destination URL for the product after purchase
	URL string `gorm:"type:varchar(255);default:''" json:"url" validate:"omitempty,url,max=255"`

	// If enabled, customers can only ever buy a single unit of this product.
	SinglePurchaseOnly bool `gorm:"default:false" json:"single_purchase_only"`

	Prices []Price `json:"prices,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

var productValidator = newProductValidator()

func newProductValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("lowercase_slug", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return false
		}
		for _, r := range s {
			if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
				return false
			}
		}
		return true
	})
	return v
}

func (p *Product) Validate() error {
	return productValidator.Struct(p)
}

// HasStripeRef reports whether this product exists on the remote processor.
func (p *Product) HasStripeRef() bool {
	return p.StripeProductID != ""
}
