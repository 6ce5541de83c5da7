package store

import (
	"context"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// stripeClient implements RemoteProcessorClient against Stripe. The key is
// held per instance via client.API instead of the SDK's global stripe.Key so
// the client stays injectable and testable.
type stripeClient struct {
	api      *client.API
	currency string
}

// NewStripeClient builds a RemoteProcessorClient for the given secret key.
func NewStripeClient(secretKey, currency string) RemoteProcessorClient {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &stripeClient{api: api, currency: currency}
}

func (c *stripeClient) Enabled() bool { return true }

func (c *stripeClient) CreateCustomer(ctx context.Context, email, name string) (*RemoteCustomer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	if email != "" {
		params.Email = stripe.String(email)
	}
	if name != "" {
		params.Name = stripe.String(name)
	}
	cus, err := c.api.Customers.New(params)
	if err != nil {
		return nil, err
	}
	return &RemoteCustomer{ID: cus.ID}, nil
}

func (c *stripeClient) DeleteCustomer(ctx context.Context, customerID string) error {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	_, err := c.api.Customers.Del(customerID, params)
	return err
}

func (c *stripeClient) CreateProduct(ctx context.Context, id, name, description string) (*RemoteProduct, error) {
	params := &stripe.ProductParams{
		Name: stripe.String(name),
	}
	params.Context = ctx
	if description != "" {
		params.Description = stripe.String(description)
	}
	params.AddMetadata("internal_product_id", id)
	prod, err := c.api.Products.New(params)
	if err != nil {
		return nil, err
	}
	return &RemoteProduct{ID: prod.ID}, nil
}

func (c *stripeClient) UpdateProduct(ctx context.Context, productID, name, description string) error {
	params := &stripe.ProductParams{
		Name: stripe.String(name),
	}
	params.Context = ctx
	if description != "" {
		params.Description = stripe.String(description)
	}
	_, err := c.api.Products.Update(productID, params)
	return err
}

func (c *stripeClient) CreatePrice(ctx context.Context, p PriceParams) (*RemotePrice, error) {
	currency := p.Currency
	if currency == "" {
		currency = c.currency
	}
	params := &stripe.PriceParams{
		Product:    stripe.String(p.ProductID),
		UnitAmount: stripe.Int64(p.AmountCents),
		Currency:   stripe.String(currency),
	}
	params.Context = ctx
	if p.Recurring {
		params.Recurring = &stripe.PriceRecurringParams{
			Interval:      stripe.String(p.Interval),
			IntervalCount: stripe.Int64(p.IntervalCount),
		}
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	price, err := c.api.Prices.New(params)
	if err != nil {
		return nil, err
	}
	return &RemotePrice{ID: price.ID}, nil
}

func (c *stripeClient) SetPriceActive(ctx context.Context, priceID string, active bool) error {
	params := &stripe.PriceParams{
		Active: stripe.Bool(active),
	}
	params.Context = ctx
	_, err := c.api.Prices.Update(priceID, params)
	return err
}

func (c *stripeClient) CreateCheckoutSession(ctx context.Context, p CheckoutSessionParams) (*RemoteCheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(p.Mode),
		SuccessURL:         stripe.String(p.SuccessURL),
		CancelURL:          stripe.String(p.CancelURL),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	params.Context = ctx
	if p.CustomerID != "" {
		params.Customer = stripe.String(p.CustomerID)
	}
	for _, item := range p.LineItems {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Price:    stripe.String(item.PriceID),
			Quantity: stripe.Int64(item.Quantity),
		})
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	sess, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, err
	}
	return &RemoteCheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func (c *stripeClient) GetSubscription(ctx context.Context, subscriptionID string) (*RemoteSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := c.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, err
	}
	return normalizeStripeSubscription(sub), nil
}

func (c *stripeClient) ModifySubscription(ctx context.Context, subscriptionID string, cancelAtPeriodEnd bool) error {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(cancelAtPeriodEnd),
	}
	params.Context = ctx
	_, err := c.api.Subscriptions.Update(subscriptionID, params)
	return err
}

func (c *stripeClient) CancelSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	_, err := c.api.Subscriptions.Cancel(subscriptionID, params)
	return err
}

func (c *stripeClient) GetInvoice(ctx context.Context, invoiceID string) (*RemoteInvoice, error) {
	params := &stripe.InvoiceParams{}
	params.Context = ctx
	inv, err := c.api.Invoices.Get(invoiceID, params)
	if err != nil {
		return nil, err
	}
	out := &RemoteInvoice{ID: inv.ID}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil && inv.Parent.SubscriptionDetails.Subscription != nil {
		out.SubscriptionID = inv.Parent.SubscriptionDetails.Subscription.ID
	}
	return out, nil
}

func (c *stripeClient) CreateRefund(ctx context.Context, p RefundParams) (*RemoteRefund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(p.PaymentIntentID),
		Reason:        stripe.String(p.Reason),
	}
	params.Context = ctx
	if p.AmountCents > 0 {
		params.Amount = stripe.Int64(p.AmountCents)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	ref, err := c.api.Refunds.New(params)
	if err != nil {
		return nil, err
	}
	return &RemoteRefund{ID: ref.ID}, nil
}

func normalizeStripeSubscription(sub *stripe.Subscription) *RemoteSubscription {
	out := &RemoteSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CancelAt:          unixTime(sub.CancelAt),
		CanceledAt:        unixTime(sub.CanceledAt),
		EndedAt:           unixTime(sub.EndedAt),
	}
	// Period bounds live on the subscription item, not the subscription.
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		out.CurrentPeriodStart = unixTime(item.CurrentPeriodStart)
		out.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
		if item.Price != nil {
			out.PriceID = item.Price.ID
			if item.Price.Product != nil {
				out.ProductID = item.Price.Product.ID
			}
		}
	}
	return out
}

// unixTime converts a processor timestamp to *time.Time, keeping zero as nil.
func unixTime(stamp int64) *time.Time {
	if stamp == 0 {
		return nil
	}
	t := time.Unix(stamp, 0).UTC()
	return &t
}
