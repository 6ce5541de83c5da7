package store

import (
	"time"

	"github.com/lifedesk/lifedesk/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the store service and the
// webhook dispatcher. Bulk updates are deliberately absent from this
// interface: every mutation on the Product/Price/Subscription family goes
// through a per-entity save so the remote-sync side effect can never be
// bypassed by a bulk SQL statement.
type Repository interface {
	// Customers
	GetOrCreateCustomer(userID uint) (*models.Customer, error)
	GetCustomerByStripeID(stripeCustomerID string) (*models.Customer, error)
	GetCustomerByEmail(email string) (*models.Customer, error)
	SaveCustomer(c *models.Customer) error

	// Products and prices
	GetProduct(id string) (*models.Product, error)
	GetProductByStripeID(stripeProductID string) (*models.Product, error)
	SaveProduct(p *models.Product) error
	ListProducts() ([]models.Product, error)
	GetPrice(id string) (*models.Price, error)
	GetPriceByStripeID(stripePriceID string) (*models.Price, error)
	CurrentPrice(productID string) (*models.Price, error)
	SavePrice(p *models.Price) error
	DeletePrice(id string) error

	// Orders and items
	GetOpenOrder(customerID uint) (*models.Order, error)
	GetOrderByID(id string) (*models.Order, error)
	GetOrderByNumber(customerID uint, orderNumber string) (*models.Order, error)
	GetOrderByCheckoutSession(sessionID string) (*models.Order, error)
	GetOrderByPaymentIntent(paymentIntentID string) (*models.Order, error)
	ListCompletedOrders(customerID uint) ([]models.Order, error)
	CreateOrder(o *models.Order) error
	SaveOrder(o *models.Order) error
	GetOrderItem(orderID, productID, priceID string) (*models.OrderItem, error)
	GetOrderItemByID(id string) (*models.OrderItem, error)
	SaveOrderItem(item *models.OrderItem) error
	DeleteOrderItem(id string) error
	OwnedQuantity(customerID uint, productID string) (int, error)

	// Subscriptions
	GetSubscriptionByStripeID(stripeSubscriptionID string) (*models.Subscription, error)
	UpsertSubscription(sub *models.Subscription) error
	SaveSubscription(sub *models.Subscription) error
	ListSubscriptions(customerID uint) ([]models.Subscription, error)
	ActiveSubscription(customerID uint, productID string) (*models.Subscription, error)

	// Webhook events
	CreateWebhookEventIfNew(event *models.StoreWebhookEvent) (bool, *models.StoreWebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error

	// Transaction runs fn inside a single DB transaction using a repository
	// bound to it.
	Transaction(fn func(Repository) error) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a store repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetOrCreateCustomer(userID uint) (*models.Customer, error) {
	var c models.Customer
	err := r.db.Preload("User").Where("user_id = ?", userID).First(&c).Error
	if err == nil {
		return &c, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}
	c = models.Customer{UserID: userID}
	if err := r.db.Create(&c).Error; err != nil {
		return nil, err
	}
	if err := r.db.Preload("User").First(&c, c.ID).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) GetCustomerByStripeID(stripeCustomerID string) (*models.Customer, error) {
	var c models.Customer
	err := r.db.Preload("User").Where("stripe_customer_id = ?", stripeCustomerID).First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) GetCustomerByEmail(email string) (*models.Customer, error) {
	var user models.User
	if err := r.db.Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return r.GetOrCreateCustomer(user.ID)
}

func (r *gormRepository) SaveCustomer(c *models.Customer) error {
	return r.db.Save(c).Error
}

func (r *gormRepository) GetProduct(id string) (*models.Product, error) {
	var p models.Product
	err := r.db.Preload("Tags").Where("id = ?", id).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) GetProductByStripeID(stripeProductID string) (*models.Product, error) {
	var p models.Product
	err := r.db.Where("stripe_product_id = ?", stripeProductID).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) SaveProduct(p *models.Product) error {
	return r.db.Save(p).Error
}

func (r *gormRepository) ListProducts() ([]models.Product, error) {
	var products []models.Product
	err := r.db.Preload("Tags").Preload("Prices").Order("created_at DESC").Find(&products).Error
	return products, err
}

func (r *gormRepository) GetPrice(id string) (*models.Price, error) {
	var p models.Price
	err := r.db.Preload("Product").Where("id = ?", id).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) GetPriceByStripeID(stripePriceID string) (*models.Price, error) {
	var p models.Price
	err := r.db.Preload("Product").Where("stripe_price_id = ?", stripePriceID).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) CurrentPrice(productID string) (*models.Price, error) {
	var p models.Price
	err := r.db.Where("product_id = ? AND active = ?", productID, true).
		Order("created_at DESC").First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) SavePrice(p *models.Price) error {
	return r.db.Save(p).Error
}

// DeletePrice refuses to remove a price still referenced by order items or
// subscriptions: prices are financial history.
func (r *gormRepository) DeletePrice(id string) error {
	var count int64
	if err := r.db.Model(&models.OrderItem{}).Where("price_id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrPriceInUse
	}
	if err := r.db.Model(&models.Subscription{}).Where("price_id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrPriceInUse
	}
	return r.db.Delete(&models.Price{}, "id = ?", id).Error
}

func (r *gormRepository) GetOpenOrder(customerID uint) (*models.Order, error) {
	var o models.Order
	err := r.db.Preload("Items.Price").Preload("Items.Product").
		Where("customer_id = ? AND complete = ?", customerID, false).
		First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *gormRepository) GetOrderByID(id string) (*models.Order, error) {
	var o models.Order
	err := r.db.Preload("Items.Price").Preload("Items.Product").Where("id = ?", id).First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *gormRepository) GetOrderByNumber(customerID uint, orderNumber string) (*models.Order, error) {
	var o models.Order
	err := r.db.Preload("Items.Price").Preload("Items.Product").
		Where("customer_id = ? AND order_number = ?", customerID, orderNumber).
		First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *gormRepository) GetOrderByCheckoutSession(sessionID string) (*models.Order, error) {
	var o models.Order
	err := r.db.Preload("Items.Price").Preload("Items.Product").
		Where("stripe_checkout_session_id = ?", sessionID).
		First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *gormRepository) GetOrderByPaymentIntent(paymentIntentID string) (*models.Order, error) {
	var o models.Order
	err := r.db.Preload("Items.Price").Preload("Items.Product").
		Where("stripe_payment_intent_id = ?", paymentIntentID).
		First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *gormRepository) ListCompletedOrders(customerID uint) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.Preload("Items.Price").Preload("Items.Product").
		Where("customer_id = ? AND complete = ?", customerID, true).
		Order("created_at DESC").
		Find(&orders).Error
	return orders, err
}

func (r *gormRepository) CreateOrder(o *models.Order) error {
	return r.db.Create(o).Error
}

func (r *gormRepository) SaveOrder(o *models.Order) error {
	return r.db.Omit("Items").Save(o).Error
}

func (r *gormRepository) GetOrderItem(orderID, productID, priceID string) (*models.OrderItem, error) {
	var item models.OrderItem
	err := r.db.Preload("Price").Preload("Product").
		Where("order_id = ? AND product_id = ? AND price_id = ?", orderID, productID, priceID).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *gormRepository) GetOrderItemByID(id string) (*models.OrderItem, error) {
	var item models.OrderItem
	err := r.db.Preload("Price").Preload("Product").Preload("Order").
		Where("id = ?", id).First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *gormRepository) SaveOrderItem(item *models.OrderItem) error {
	return r.db.Omit("Order", "Product", "Price").Save(item).Error
}

func (r *gormRepository) DeleteOrderItem(id string) error {
	return r.db.Delete(&models.OrderItem{}, "id = ?", id).Error
}

// OwnedQuantity sums completed, non-refunded quantities of a product across
// all of a customer's orders. This backs the single-purchase invariant.
func (r *gormRepository) OwnedQuantity(customerID uint, productID string) (int, error) {
	var total int64
	err := r.db.Model(&models.OrderItem{}).
		Select("COALESCE(SUM(order_items.quantity), 0)").
		Joins("JOIN orders ON orders.id = order_items.order_id").
		Where("orders.customer_id = ? AND orders.complete = ? AND order_items.refunded = ? AND order_items.product_id = ?",
			customerID, true, false, productID).
		Scan(&total).Error
	return int(total), err
}

func (r *gormRepository) GetSubscriptionByStripeID(stripeSubscriptionID string) (*models.Subscription, error) {
	var s models.Subscription
	err := r.db.Preload("Price").Preload("Product").
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// UpsertSubscription creates or overwrites a subscription keyed by its
// external reference, then re-fetches so the ID is populated.
func (r *gormRepository) UpsertSubscription(sub *models.Subscription) error {
	if err := r.db.Omit("Customer", "Product", "Price").Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "stripe_subscription_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"customer_id",
			"product_id",
			"price_id",
			"status",
			"current_period_start",
			"current_period_end",
			"attempt_count",
			"next_payment_attempt",
			"latest_stripe_invoice_id",
			"cancel_at_period_end",
			"cancel_at",
			"canceled_at",
			"ended_at",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	return r.db.Where("stripe_subscription_id = ?", sub.StripeSubscriptionID).
		First(sub).Error
}

func (r *gormRepository) SaveSubscription(sub *models.Subscription) error {
	return r.db.Omit("Customer", "Product", "Price").Save(sub).Error
}

func (r *gormRepository) ListSubscriptions(customerID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.Preload("Price").Preload("Product").
		Where("customer_id = ?", customerID).
		Order("current_period_end DESC").
		Find(&subs).Error
	return subs, err
}

// ActiveSubscription returns the customer's effectively-active subscription
// for a product: status active/paid, or past_due with a retry still pending.
func (r *gormRepository) ActiveSubscription(customerID uint, productID string) (*models.Subscription, error) {
	var s models.Subscription
	err := r.db.Preload("Price").Preload("Product").
		Where("customer_id = ? AND product_id = ?", customerID, productID).
		Where("status IN ? OR (status = ? AND next_payment_attempt IS NOT NULL)",
			[]string{models.SubscriptionStatusActive, models.SubscriptionStatusPaid},
			models.SubscriptionStatusPastDue).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) CreateWebhookEventIfNew(event *models.StoreWebhookEvent) (bool, *models.StoreWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.StoreWebhookEvent
	if err := r.db.Where("provider_event_id = ?", event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.StoreWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) Transaction(fn func(Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}
