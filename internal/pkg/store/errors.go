package store

import "errors"

var (
	// ErrPriceInUse is returned when deleting a price that order items or
	// subscriptions still reference.
	ErrPriceInUse = errors.New("price is referenced by historical orders or subscriptions and cannot be deleted")

	// ErrPriceImmutable is returned when amount, interval or the
	// subscription flag change on a price that already exists remotely.
	ErrPriceImmutable = errors.New("price is synced with the remote processor; create a new price instead of editing this one")

	// ErrEmptyCart is returned when checkout starts on an empty cart.
	ErrEmptyCart = errors.New("cart is empty")

	// ErrSinglePurchaseOnly is returned when add/sub actions hit a cart item
	// for a single-purchase product, or when the customer already owns one.
	ErrSinglePurchaseOnly = errors.New("this product can only be purchased once")

	// ErrNotSubscriptionPrice is returned when a subscription checkout is
	// requested for a one-time price.
	ErrNotSubscriptionPrice = errors.New("price is not a subscription price")

	// ErrInvalidRefundReason is returned for reasons outside the closed set.
	ErrInvalidRefundReason = errors.New("invalid refund reason; must be one of duplicate, fraudulent, requested_by_customer")

	// ErrNoPaymentIntent is returned when refunding an order that never
	// recorded a payment reference.
	ErrNoPaymentIntent = errors.New("no payment intent associated with this order")

	// ErrAlreadyRefunded is returned when the order or item is already
	// fully refunded.
	ErrAlreadyRefunded = errors.New("already refunded")

	// ErrOrderNumberExhausted is returned if order number generation keeps
	// colliding.
	ErrOrderNumberExhausted = errors.New("could not generate a unique order number")
)
