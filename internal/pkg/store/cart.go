package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/lifedesk/lifedesk/app/models"
	"gorm.io/gorm"
)

// Cart actions accepted by UpdateCart.
const (
	CartActionAdd    = "add"
	CartActionSub    = "sub"
	CartActionRemove = "rem"
)

const orderNumberAttempts = 20

// openOrder returns the customer's cart, creating one when absent. Order
// numbers are generated and retried on unique-index collision.
func (s *Service) openOrder(customerID uint) (*models.Order, error) {
	order, err := s.repo.GetOpenOrder(customerID)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	for i := 0; i < orderNumberAttempts; i++ {
		order = &models.Order{
			CustomerID:  customerID,
			OrderNumber: models.GenerateOrderNumber(),
		}
		err = s.repo.CreateOrder(order)
		if err == nil {
			return order, nil
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			continue
		}
		return nil, err
	}
	return nil, ErrOrderNumberExhausted
}

// UpdateCart applies an add/sub/rem delta for a product in the customer's
// cart. Items snapshot the product's current price. For single-purchase
// products an existing item only accepts full removal, never add/sub, so a
// second unit can never sneak in.
func (s *Service) UpdateCart(ctx context.Context, customer *models.Customer, productID, action string, quantity int) (*models.OrderItem, error) {
	_ = ctx
	if quantity <= 0 {
		quantity = 1
	}

	product, err := s.repo.GetProduct(productID)
	if err != nil {
		return nil, err
	}
	price, err := s.repo.CurrentPrice(productID)
	if err != nil {
		return nil, fmt.Errorf("no active price for product %s: %w", productID, err)
	}

	order, err := s.openOrder(customer.ID)
	if err != nil {
		return nil, err
	}

	item, err := s.repo.GetOrderItem(order.ID, product.ID, price.ID)
	created := false
	if errors.Is(err, gorm.ErrRecordNotFound) {
		item = &models.OrderItem{
			OrderID:   order.ID,
			ProductID: product.ID,
			PriceID:   price.ID,
			Price:     *price,
			Product:   *product,
		}
		created = true
	} else if err != nil {
		return nil, err
	}

	if product.SinglePurchaseOnly {
		if !created && (action == CartActionAdd || action == CartActionSub) {
			return nil, ErrSinglePurchaseOnly
		}
		// Never allow a repurchase of something the customer already owns.
		owned, err := s.repo.OwnedQuantity(customer.ID, product.ID)
		if err != nil {
			return nil, err
		}
		if owned >= 1 && action == CartActionAdd {
			return nil, ErrSinglePurchaseOnly
		}
	}

	switch action {
	case CartActionAdd:
		item.Quantity += quantity
	case CartActionSub:
		item.Quantity -= quantity
	case CartActionRemove:
		item.Quantity = 0
	default:
		return nil, fmt.Errorf("unknown cart action %q", action)
	}

	if product.SinglePurchaseOnly && item.Quantity > 1 {
		item.Quantity = 1
	}

	if item.Quantity <= 0 {
		if !created {
			if err := s.repo.DeleteOrderItem(item.ID); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	if err := s.repo.SaveOrderItem(item); err != nil {
		return nil, err
	}
	return item, nil
}

// Cart returns the customer's open order, or nil when the cart is empty.
func (s *Service) Cart(customer *models.Customer) (*models.Order, error) {
	order, err := s.repo.GetOpenOrder(customer.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

// CartQuantity returns the number of units currently in the cart.
func (s *Service) CartQuantity(customer *models.Customer) (int, error) {
	order, err := s.Cart(customer)
	if err != nil || order == nil {
		return 0, err
	}
	return order.TotalItems(), nil
}

// StartCheckout turns the cart into a pending checkout: it requests a remote
// checkout session over the cart's line items and records the session
// reference on the still-incomplete order. The session ID is the idempotency
// key the completion webhook matches on later — completion itself is never
// performed here, only by the webhook, because the processor is the
// authoritative signal of payment success.
func (s *Service) StartCheckout(ctx context.Context, customer *models.Customer, successURL, cancelURL string) (string, error) {
	order, err := s.Cart(customer)
	if err != nil {
		return "", err
	}
	if order == nil || len(order.Items) == 0 {
		return "", ErrEmptyCart
	}

	metadata := map[string]string{"order_id": order.ID}
	params := CheckoutSessionParams{
		CustomerID: customer.StripeCustomerID,
		Mode:       "payment",
		Metadata:   metadata,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
	}
	for _, item := range order.Items {
		metadata["order_item__"+item.ProductID] = item.ID
		params.LineItems = append(params.LineItems, CheckoutLineItem{
			PriceID:  item.Price.StripePriceID,
			Quantity: int64(item.Quantity),
		})
	}

	session, err := s.client.CreateCheckoutSession(ctx, params)
	if err != nil {
		return "", err
	}

	order.StripeCheckoutSessionID = session.ID
	if err := s.repo.SaveOrder(order); err != nil {
		return "", err
	}
	return session.URL, nil
}

// StartSubscriptionCheckout opens a subscription-mode checkout session for a
// single recurring price.
func (s *Service) StartSubscriptionCheckout(ctx context.Context, customer *models.Customer, priceID, successURL, cancelURL string) (string, error) {
	price, err := s.repo.GetPrice(priceID)
	if err != nil {
		return "", err
	}
	if !price.IsSubscription {
		return "", ErrNotSubscriptionPrice
	}

	session, err := s.client.CreateCheckoutSession(ctx, CheckoutSessionParams{
		CustomerID: customer.StripeCustomerID,
		Mode:       "subscription",
		LineItems: []CheckoutLineItem{
			{PriceID: price.StripePriceID, Quantity: 1},
		},
		Metadata: map[string]string{
			"stripe_product_id": price.Product.StripeProductID,
			"stripe_price_id":   price.StripePriceID,
		},
		SuccessURL: successURL,
		CancelURL:  cancelURL,
	})
	if err != nil {
		return "", err
	}
	return session.URL, nil
}

// OwnsProduct reports whether the customer owns a product: at least one
// completed, non-refunded item with quantity >= 1.
func (s *Service) OwnsProduct(customer *models.Customer, productID string) (bool, error) {
	owned, err := s.repo.OwnedQuantity(customer.ID, productID)
	if err != nil {
		return false, err
	}
	return owned >= 1, nil
}
