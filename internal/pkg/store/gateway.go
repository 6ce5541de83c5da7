package store

import (
	"context"
	"errors"
	"time"

	"github.com/lifedesk/lifedesk/internal/pkg/env"
)

// ErrRemoteDisabled is returned by every remote call when paid mode is off or
// no secret key is configured. Callers that can degrade to local-only
// behavior check for it with errors.Is; refunds surface it to the user since
// there is nothing to refund against.
var ErrRemoteDisabled = errors.New("remote payment processing is disabled")

// RemoteCustomer is the processor's view of a customer.
type RemoteCustomer struct {
	ID string
}

// RemoteProduct is the processor's view of a catalog product.
type RemoteProduct struct {
	ID string
}

// RemotePrice is the processor's view of a price.
type RemotePrice struct {
	ID string
}

// RemoteCheckoutSession is a processor-hosted purchase flow. Its ID is the
// idempotency key the completion webhook later matches on.
type RemoteCheckoutSession struct {
	ID  string
	URL string
}

// RemoteSubscription is a snapshot of a processor subscription, normalized to
// the fields the local ledger tracks.
type RemoteSubscription struct {
	ID                 string
	Status             string
	PriceID            string
	ProductID          string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	CancelAt           *time.Time
	CanceledAt         *time.Time
	EndedAt            *time.Time
}

// RemoteInvoice carries the subset of invoice data handlers need.
type RemoteInvoice struct {
	ID             string
	SubscriptionID string
}

// RemoteRefund is the processor's record of a refund.
type RemoteRefund struct {
	ID string
}

// CheckoutLineItem references a remote price with a quantity.
type CheckoutLineItem struct {
	PriceID  string
	Quantity int64
}

// CheckoutSessionParams describes a checkout session to create remotely.
type CheckoutSessionParams struct {
	CustomerID string
	Mode       string // "payment" or "subscription"
	LineItems  []CheckoutLineItem
	Metadata   map[string]string
	SuccessURL string
	CancelURL  string
}

// RefundParams describes a refund to request remotely. AmountCents of zero
// means a full refund of the payment intent.
type RefundParams struct {
	PaymentIntentID string
	Reason          string
	AmountCents     int64
	Metadata        map[string]string
}

// PriceParams describes a price to create remotely. The processor treats
// prices as immutable, so there is no update call besides toggling active.
type PriceParams struct {
	ProductID     string
	AmountCents   int64
	Currency      string
	Recurring     bool
	Interval      string
	IntervalCount int64
	Metadata      map[string]string
}

// RemoteProcessorClient is the boundary to the external payment processor.
// The real implementation talks to Stripe; the disabled implementation turns
// every call into a no-op failure so the local ledger keeps working in free
// mode. Webhook handlers use it read-only (GetSubscription, GetInvoice) plus
// for the one write the processor does not do itself (canceling a
// subscription after a refund).
type RemoteProcessorClient interface {
	Enabled() bool

	CreateCustomer(ctx context.Context, email, name string) (*RemoteCustomer, error)
	DeleteCustomer(ctx context.Context, customerID string) error

	CreateProduct(ctx context.Context, id, name, description string) (*RemoteProduct, error)
	UpdateProduct(ctx context.Context, productID, name, description string) error

	CreatePrice(ctx context.Context, params PriceParams) (*RemotePrice, error)
	SetPriceActive(ctx context.Context, priceID string, active bool) error

	CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*RemoteCheckoutSession, error)

	GetSubscription(ctx context.Context, subscriptionID string) (*RemoteSubscription, error)
	ModifySubscription(ctx context.Context, subscriptionID string, cancelAtPeriodEnd bool) error
	CancelSubscription(ctx context.Context, subscriptionID string) error

	GetInvoice(ctx context.Context, invoiceID string) (*RemoteInvoice, error)

	CreateRefund(ctx context.Context, params RefundParams) (*RemoteRefund, error)
}

// PaidModeEnabled reports whether remote sync is configured: the feature flag
// must be on AND a secret key must be present.
func PaidModeEnabled() bool {
	return env.GetEnv("STORE_PAID_MODE", "false") == "true" &&
		env.GetEnv("STRIPE_SECRET_KEY", "") != ""
}

// NewClientFromEnv selects the real or disabled client based on the paid-mode
// feature flag, so call sites never branch on the flag themselves.
func NewClientFromEnv() RemoteProcessorClient {
	if !PaidModeEnabled() {
		return DisabledClient{}
	}
	return NewStripeClient(env.GetEnv("STRIPE_SECRET_KEY", ""), env.GetEnv("STORE_CURRENCY", "aud"))
}

// DisabledClient satisfies RemoteProcessorClient with no-ops. Every method
// returns ErrRemoteDisabled; local writes proceed regardless.
type DisabledClient struct{}

func (DisabledClient) Enabled() bool { return false }

func (DisabledClient) CreateCustomer(context.Context, string, string) (*RemoteCustomer, error) {
	return nil, ErrRemoteDisabled
}

func (DisabledClient) DeleteCustomer(context.Context, string) error {
	return ErrRemoteDisabled
}

func (DisabledClient) CreateProduct(context.Context, string, string, string) (*RemoteProduct, error) {
	return nil, ErrRemoteDisabled
}

func (DisabledClient) UpdateProduct(context.Context, string, string, string) error {
	return ErrRemoteDisabled
}

func (DisabledClient) CreatePrice(context.Context, PriceParams) (*RemotePrice, error) {
	return nil, ErrRemoteDisabled
}

func (DisabledClient) SetPriceActive(context.Context, string, bool) error {
	return ErrRemoteDisabled
}

func (DisabledClient) CreateCheckoutSession(context.Context, CheckoutSessionParams) (*RemoteCheckoutSession, error) {
	return nil, ErrRemoteDisabled
}

func (DisabledClient) GetSubscription(context.Context, string) (*RemoteSubscription, error) {
	return nil, ErrRemoteDisabled
}

func (DisabledClient) ModifySubscription(context.Context, string, bool) error {
	return ErrRemoteDisabled
}

func (DisabledClient) CancelSubscription(context.Context, string) error {
	return ErrRemoteDisabled
}

func (DisabledClient) GetInvoice(context.Context, string) (*RemoteInvoice, error) {
	return nil, ErrRemoteDisabled
}

func (DisabledClient) CreateRefund(context.Context, RefundParams) (*RemoteRefund, error) {
	return nil, ErrRemoteDisabled
}
