package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/lifedesk/lifedesk/app/models"
	"github.com/lifedesk/lifedesk/internal/pkg/cache"
	"github.com/lifedesk/lifedesk/internal/pkg/database"
	"github.com/lifedesk/lifedesk/internal/pkg/env"
	"github.com/lifedesk/lifedesk/internal/pkg/store"
	"github.com/lifedesk/lifedesk/internal/pkg/usercontext"
)

const (
	storefrontCacheKey      = "store:products"
	storefrontCacheDuration = 5 * time.Minute
	cartQuantityCacheFmt    = "store:cart_qty:%d"
	cartQuantityCacheTTL    = 10 * time.Minute
)

func storeService() *store.Service {
	return store.NewServiceFromDB(database.GetDB())
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 15*time.Second)
}

func storeCustomer(c *fiber.Ctx, svc *store.Service) (*models.Customer, error) {
	ctx, cancel := requestContext()
	defer cancel()
	return svc.EnsureCustomer(ctx, usercontext.GetUserID(c))
}

func invalidateCartQuantity(customerID uint) {
	if err := cache.Delete(fmt.Sprintf(cartQuantityCacheFmt, customerID)); err != nil {
		log.Printf("[Store] cart quantity cache invalidation failed: %v", err)
	}
}

// HandleStoreProducts lists the catalog with active prices. The listing is
// identical for every visitor, so it is cached briefly in Redis.
func HandleStoreProducts(c *fiber.Ctx) error {
	if cached, err := cache.Get(storefrontCacheKey); err == nil {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.SendString(cached)
	} else if !cache.IsNotFound(err) {
		log.Printf("[Store] storefront cache read failed: %v", err)
	}

	products, err := storeService().Repo().ListProducts()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load products"})
	}

	response := fiber.Map{"products": products, "paid_mode": store.PaidModeEnabled()}
	if body, err := json.Marshal(response); err == nil {
		if err := cache.Set(storefrontCacheKey, string(body), storefrontCacheDuration); err != nil {
			log.Printf("[Store] storefront cache write failed: %v", err)
		}
	}
	return c.JSON(response)
}

// HandleStoreProduct returns one product with its prices plus, for a logged
// in user, ownership and active subscription state.
func HandleStoreProduct(c *fiber.Ctx) error {
	svc := storeService()
	product, err := svc.Repo().GetProduct(c.Params("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Product not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load product"})
	}

	response := fiber.Map{"product": product}
	if usercontext.IsLoggedIn(c) {
		customer, err := storeCustomer(c, svc)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load customer"})
		}
		owned, err := svc.OwnsProduct(customer, product.ID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load ownership"})
		}
		response["owned"] = owned

		sub, err := svc.ActiveSubscription(customer, product.ID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load subscription"})
		}
		if sub != nil {
			response["subscription"] = sub
		}
	}
	return c.JSON(response)
}

// HandleGetCart returns the open order with its items.
func HandleGetCart(c *fiber.Ctx) error {
	svc := storeService()
	customer, err := storeCustomer(c, svc)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load customer"})
	}

	order, err := svc.Cart(customer)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load cart"})
	}
	if order == nil {
		return c.JSON(fiber.Map{"items": []models.OrderItem{}, "total_price": 0, "total_items": 0})
	}
	return c.JSON(fiber.Map{
		"order_number": order.OrderNumber,
		"items":        order.Items,
		"total_price":  order.TotalPrice(),
		"total_items":  order.TotalItems(),
	})
}

type updateCartRequest struct {
	ProductID string `json:"product_id"`
	Action    string `json:"action"`
	Quantity  int    `json:"quantity"`
}

// HandleUpdateCart applies an add/sub/rem action to the cart.
func HandleUpdateCart(c *fiber.Ctx) error {
	var req updateCartRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid request body"})
	}

	svc := storeService()
	customer, err := storeCustomer(c, svc)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load customer"})
	}

	ctx, cancel := requestContext()
	defer cancel()

	item, err := svc.UpdateCart(ctx, customer, req.ProductID, req.Action, req.Quantity)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrSinglePurchaseOnly):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "single_purchase_only", "message": err.Error()})
		case errors.Is(err, gorm.ErrRecordNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Product or price not found"})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to update cart"})
		}
	}
	invalidateCartQuantity(customer.ID)

	if item == nil {
		return c.JSON(fiber.Map{"removed": true})
	}
	return c.JSON(fiber.Map{"item": item})
}

// HandleCartQuantity returns the cart badge count, cached per customer.
func HandleCartQuantity(c *fiber.Ctx) error {
	svc := storeService()
	customer, err := storeCustomer(c, svc)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load customer"})
	}

	key := fmt.Sprintf(cartQuantityCacheFmt, customer.ID)
	if cached, err := cache.Get(key); err == nil {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.SendString(cached)
	} else if !cache.IsNotFound(err) {
		log.Printf("[Store] cart quantity cache read failed: %v", err)
	}

	quantity, err := svc.CartQuantity(customer)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load cart"})
	}

	response := fiber.Map{"quantity": quantity}
	if body, err := json.Marshal(response); err == nil {
		if err := cache.Set(key, string(body), cartQuantityCacheTTL); err != nil {
			log.Printf("[Store] cart quantity cache write failed: %v", err)
		}
	}
	return c.JSON(response)
}

// HandleCheckout opens a processor-hosted checkout session for the cart and
// returns its URL. The order stays incomplete until the completion webhook.
func HandleCheckout(c *fiber.Ctx) error {
	svc := storeService()
	customer, err := storeCustomer(c, svc)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load customer"})
	}

	ctx, cancel := requestContext()
	defer cancel()

	base := env.GetEnv("PUBLIC_DOMAIN", "http://localhost:4000")
	url, err := svc.StartCheckout(ctx, customer, base+"/store/checkout/success", base+"/store/checkout/cancel")
	if err != nil {
		switch {
		case errors.Is(err, store.ErrEmptyCart):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "empty_cart", "message": "Cart is empty"})
		case errors.Is(err, store.ErrRemoteDisabled):
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "paid_mode_disabled", "message": "Payments are not enabled"})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to start checkout"})
		}
	}
	return c.JSON(fiber.Map{"checkout_url": url})
}

type subscribeRequest struct {
	PriceID string `json:"price_id"`
}

// HandleSubscribeCheckout opens a subscription-mode checkout session for one
// recurring price.
func HandleSubscribeCheckout(c *fiber.Ctx) error {
	var req subscribeRequest
	if err := c.BodyParser(&req); err != nil || req.PriceID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "price_id is required"})
	}

	svc := storeService()
	customer, err := storeCustomer(c, svc)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load customer"})
	}

	ctx, cancel := requestContext()
	defer cancel()

	base := env.GetEnv("PUBLIC_DOMAIN", "http://localhost:4000")
	url, err := svc.StartSubscriptionCheckout(ctx, customer, req.PriceID, base+"/store/checkout/success", base+"/store/checkout/cancel")
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotSubscriptionPrice):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "not_subscription_price", "message": err.Error()})
		case errors.Is(err, gorm.ErrRecordNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Price not found"})
		case errors.Is(err, store.ErrRemoteDisabled):
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "paid_mode_disabled", "message": "Payments are not enabled"})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to start checkout"})
		}
	}
	return c.JSON(fiber.Map{"checkout_url": url})
}

// HandleCheckoutSuccess is the return URL after a completed checkout. The
// order itself is completed by the webhook, never here.
func HandleCheckoutSuccess(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "success",
		"message":  "Payment received, your order will complete shortly",
		"username": usercontext.GetUsername(c),
	})
}

// HandleCheckoutCancel is the return URL after an abandoned checkout.
func HandleCheckoutCancel(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "canceled", "message": "Checkout canceled, your cart is unchanged"})
}

// HandleOrderHistory lists the customer's completed orders.
func HandleOrderHistory(c *fiber.Ctx) error {
	svc := storeService()
	customer, err := storeCustomer(c, svc)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load customer"})
	}

	orders, err := svc.Repo().ListCompletedOrders(customer.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load orders"})
	}

	now := time.Now()
	entries := make([]fiber.Map, 0, len(orders))
	for i := range orders {
		entries = append(entries, fiber.Map{
			"order":           orders[i],
			"fully_refunded":  orders[i].FullyRefunded(),
			"refund_eligible": store.RefundEligible(&orders[i], now),
		})
	}
	return c.JSON(fiber.Map{"orders": entries})
}

// HandleOrderDetail returns a single order by order number, scoped to the
// customer so order numbers cannot be probed across accounts.
func HandleOrderDetail(c *fiber.Ctx) error {
	svc := storeService()
	customer, err := storeCustomer(c, svc)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load customer"})
	}

	order, err := svc.Repo().GetOrderByNumber(customer.ID, c.Params("number"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Order not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load order"})
	}
	return c.JSON(fiber.Map{
		"order":                 order,
		"refunded_amount_cents": order.RefundedAmount,
		"fully_refunded":        order.FullyRefunded(),
		"refund_eligible":       store.RefundEligible(order, time.Now()),
	})
}

type refundRequest struct {
	Reason string `json:"reason"`
}

func refundErrorResponse(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, store.ErrInvalidRefundReason):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_reason", "message": err.Error()})
	case errors.Is(err, store.ErrNoPaymentIntent):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "no_payment_intent", "message": err.Error()})
	case errors.Is(err, store.ErrAlreadyRefunded):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "already_refunded", "message": err.Error()})
	case errors.Is(err, store.ErrRemoteDisabled):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "paid_mode_disabled", "message": "Refunds require payments to be enabled"})
	case errors.Is(err, gorm.ErrRecordNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Not found"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Refund failed"})
	}
}

// HandleRefundOrder refunds a completed order in full.
func HandleRefundOrder(c *fiber.Ctx) error {
	var req refundRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid request body"})
	}

	svc := storeService()
	customer, err := storeCustomer(c, svc)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load customer"})
	}

	order, err := svc.Repo().GetOrderByNumber(customer.ID, c.Params("number"))
	if err != nil {
		return refundErrorResponse(c, err)
	}

	ctx, cancel := requestContext()
	defer cancel()
	if err := svc.RefundOrder(ctx, order, req.Reason); err != nil {
		return refundErrorResponse(c, err)
	}
	return c.JSON(fiber.Map{"refunded": true, "refunded_amount_cents": order.RefundedAmount})
}

// HandleRefundOrderItem refunds a single line item of a completed order.
func HandleRefundOrderItem(c *fiber.Ctx) error {
	var req refundRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid request body"})
	}

	svc := storeService()
	customer, err := storeCustomer(c, svc)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load customer"})
	}

	order, err := svc.Repo().GetOrderByNumber(customer.ID, c.Params("number"))
	if err != nil {
		return refundErrorResponse(c, err)
	}

	item, err := svc.Repo().GetOrderItemByID(c.Params("item"))
	if err != nil || item.OrderID != order.ID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Order item not found"})
	}

	ctx, cancel := requestContext()
	defer cancel()
	if err := svc.RefundOrderItem(ctx, item, req.Reason); err != nil {
		return refundErrorResponse(c, err)
	}
	return c.JSON(fiber.Map{"refunded": true})
}

// HandleSubscriptions lists the customer's subscriptions.
func HandleSubscriptions(c *fiber.Ctx) error {
	svc := storeService()
	customer, err := storeCustomer(c, svc)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load customer"})
	}

	subs, err := svc.Repo().ListSubscriptions(customer.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load subscriptions"})
	}
	return c.JSON(fiber.Map{"subscriptions": subs})
}

type cancelSubscriptionRequest struct {
	AtPeriodEnd bool `json:"at_period_end"`
}

// HandleCancelSubscription cancels a subscription, either immediately or at
// the end of the current period.
func HandleCancelSubscription(c *fiber.Ctx) error {
	var req cancelSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid request body"})
	}

	svc := storeService()
	customer, err := storeCustomer(c, svc)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load customer"})
	}

	subs, err := svc.Repo().ListSubscriptions(customer.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load subscriptions"})
	}
	var sub *models.Subscription
	for i := range subs {
		if subs[i].ID == c.Params("id") {
			sub = &subs[i]
			break
		}
	}
	if sub == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Subscription not found"})
	}

	ctx, cancel := requestContext()
	defer cancel()
	if err := svc.CancelSubscription(ctx, sub, req.AtPeriodEnd); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to cancel subscription"})
	}
	return c.JSON(fiber.Map{"subscription": sub})
}
