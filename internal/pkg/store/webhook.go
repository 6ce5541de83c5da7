package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"gorm.io/gorm"

	"github.com/lifedesk/lifedesk/app/models"
	"github.com/lifedesk/lifedesk/internal/pkg/env"
)

// EventKind is the closed set of processor events the dispatcher acts on.
// Everything else maps to EventUnknown and is acknowledged without side
// effects, so new event types can be enabled in the processor dashboard
// without breaking delivery.
type EventKind string

const (
	EventUnknown EventKind = ""

	EventCheckoutSessionCompleted EventKind = "checkout.session.completed"
	EventCustomerCreated          EventKind = "customer.created"
	EventSubscriptionCreated      EventKind = "customer.subscription.created"
	EventSubscriptionUpdated      EventKind = "customer.subscription.updated"
	EventSubscriptionDeleted      EventKind = "customer.subscription.deleted"
	EventInvoicePaymentFailed     EventKind = "invoice.payment_failed"
	EventInvoicePaymentSucceeded  EventKind = "invoice.payment_succeeded"
	EventChargeSucceeded          EventKind = "charge.succeeded"
	EventChargeRefunded           EventKind = "charge.refunded"
)

// ParseEventKind maps a raw event type string into the closed set.
func ParseEventKind(eventType string) EventKind {
	switch EventKind(eventType) {
	case EventCheckoutSessionCompleted,
		EventCustomerCreated,
		EventSubscriptionCreated,
		EventSubscriptionUpdated,
		EventSubscriptionDeleted,
		EventInvoicePaymentFailed,
		EventInvoicePaymentSucceeded,
		EventChargeSucceeded,
		EventChargeRefunded:
		return EventKind(eventType)
	}
	return EventUnknown
}

// Dispatcher verifies incoming processor webhooks and routes them to
// handlers. Handlers write through the repository only (local path); the one
// exception is read access plus the post-refund subscription cancel, which
// the processor does not perform itself.
type Dispatcher struct {
	service *Service
	secret  string
}

// NewDispatcher creates a dispatcher with an explicit signing secret.
func NewDispatcher(service *Service, secret string) *Dispatcher {
	return &Dispatcher{service: service, secret: secret}
}

// NewDispatcherFromEnv reads the signing secret from STRIPE_WEBHOOK_SECRET.
func NewDispatcherFromEnv(service *Service) *Dispatcher {
	return NewDispatcher(service, env.GetEnv("STRIPE_WEBHOOK_SECRET", ""))
}

// VerifyEvent checks the signature header against the raw payload and parses
// the event envelope. Verification failure must surface as HTTP 400 so the
// processor retries later.
func (d *Dispatcher) VerifyEvent(payload []byte, signatureHeader string) (*stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, d.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// ProcessOutcome classifies what ProcessEvent did with a delivery.
type ProcessOutcome int

const (
	OutcomeProcessed ProcessOutcome = iota
	OutcomeDuplicate
	OutcomeIgnored
)

// ProcessEvent records, dedups and dispatches a verified event. Only a
// successfully processed duplicate short-circuits: a redelivery of an event
// that previously failed, or whose first delivery never finished, runs
// again. A handler error is recorded on the event row and returned so the
// HTTP layer answers 500 and the processor redelivers.
func (d *Dispatcher) ProcessEvent(ctx context.Context, event *stripe.Event, payload []byte) (ProcessOutcome, error) {
	repo := d.service.Repo()

	created, stored, err := repo.CreateWebhookEventIfNew(&models.StoreWebhookEvent{
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		PayloadJSON:     string(payload),
		SignatureValid:  true,
	})
	if err != nil {
		return OutcomeProcessed, err
	}
	if !created && stored.ProcessedAt != nil && stored.ProcessingError == "" {
		return OutcomeDuplicate, nil
	}

	kind := ParseEventKind(string(event.Type))
	if kind == EventUnknown {
		if err := repo.MarkWebhookProcessed(stored.ID, ""); err != nil {
			return OutcomeIgnored, err
		}
		return OutcomeIgnored, nil
	}

	if err := d.Dispatch(ctx, kind, event.Data.Raw); err != nil {
		if markErr := repo.MarkWebhookProcessed(stored.ID, err.Error()); markErr != nil {
			log.Printf("[Store] recording webhook failure for %s: %v", event.ID, markErr)
		}
		return OutcomeProcessed, err
	}
	return OutcomeProcessed, repo.MarkWebhookProcessed(stored.ID, "")
}

// Dispatch routes a verified event to its handler. Unknown kinds are logged
// and acknowledged.
func (d *Dispatcher) Dispatch(ctx context.Context, kind EventKind, raw json.RawMessage) error {
	switch kind {
	case EventCheckoutSessionCompleted:
		return d.handleCheckoutSessionCompleted(ctx, raw)
	case EventCustomerCreated:
		return d.handleCustomerCreated(ctx, raw)
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		return d.handleSubscriptionSnapshot(raw)
	case EventSubscriptionDeleted:
		return d.handleSubscriptionDeleted(raw)
	case EventInvoicePaymentFailed:
		return d.handleInvoicePaymentFailed(ctx, raw)
	case EventInvoicePaymentSucceeded:
		return d.handleInvoicePaymentSucceeded(ctx, raw)
	case EventChargeSucceeded:
		return d.handleChargeSucceeded(raw)
	case EventChargeRefunded:
		return d.handleChargeRefunded(ctx, raw)
	}
	log.Printf("[Store] webhook event kind %q ignored", kind)
	return nil
}

// Payload structs mirror the wire format fields the handlers read. Decoding
// into small local structs keeps the handlers independent of SDK struct
// churn between API versions.

type checkoutSessionPayload struct {
	ID              string            `json:"id"`
	Mode            string            `json:"mode"`
	Customer        string            `json:"customer"`
	PaymentIntent   string            `json:"payment_intent"`
	Subscription    string            `json:"subscription"`
	Metadata        map[string]string `json:"metadata"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

type subscriptionPayload struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	CancelAt          int64  `json:"cancel_at"`
	CanceledAt        int64  `json:"canceled_at"`
	EndedAt           int64  `json:"ended_at"`
	Items             struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
			Price              struct {
				ID      string `json:"id"`
				Product string `json:"product"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (p *subscriptionPayload) snapshot() *RemoteSubscription {
	snap := &RemoteSubscription{
		ID:                p.ID,
		Status:            p.Status,
		CancelAtPeriodEnd: p.CancelAtPeriodEnd,
		CancelAt:          unixTime(p.CancelAt),
		CanceledAt:        unixTime(p.CanceledAt),
		EndedAt:           unixTime(p.EndedAt),
	}
	if len(p.Items.Data) > 0 {
		item := p.Items.Data[0]
		snap.CurrentPeriodStart = unixTime(item.CurrentPeriodStart)
		snap.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
		snap.PriceID = item.Price.ID
		snap.ProductID = item.Price.Product
	}
	return snap
}

type invoicePayload struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	AttemptCount       int    `json:"attempt_count"`
	NextPaymentAttempt int64  `json:"next_payment_attempt"`
	Parent             struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Parent struct {
				SubscriptionItemDetails struct {
					Subscription string `json:"subscription"`
				} `json:"subscription_item_details"`
			} `json:"parent"`
		} `json:"data"`
	} `json:"lines"`
}

// subscriptionID finds the invoice's subscription reference, preferring the
// invoice parent and falling back to line item parents.
func (p *invoicePayload) subscriptionID() string {
	if id := p.Parent.SubscriptionDetails.Subscription; id != "" {
		return id
	}
	for _, line := range p.Lines.Data {
		if id := line.Parent.SubscriptionItemDetails.Subscription; id != "" {
			return id
		}
	}
	return ""
}

type chargePayload struct {
	ID             string `json:"id"`
	Customer       string `json:"customer"`
	PaymentIntent  string `json:"payment_intent"`
	Invoice        string `json:"invoice"`
	ReceiptURL     string `json:"receipt_url"`
	AmountRefunded int64  `json:"amount_refunded"`
	Refunded       bool   `json:"refunded"`
}

type customerPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// resolveCustomer maps a processor customer reference to the local row. The
// external reference is authoritative; the email fallback is a degraded path
// that only links customers without an existing reference, never reassigns
// one. An unresolvable customer yields nil without error so handlers can
// decide whether that is fatal for them.
func (d *Dispatcher) resolveCustomer(customerRef, email string) (*models.Customer, error) {
	repo := d.service.Repo()

	if customerRef != "" {
		customer, err := repo.GetCustomerByStripeID(customerRef)
		if err == nil {
			return customer, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	if email == "" {
		return nil, nil
	}
	customer, err := repo.GetCustomerByEmail(email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if customer.HasStripeRef() && customer.StripeCustomerID != customerRef {
		log.Printf("[Store] customer email %s already linked to another processor customer, not reassigning", email)
		return nil, nil
	}
	if customerRef != "" && !customer.HasStripeRef() {
		log.Printf("[Store] linking customer %d to processor customer %s via email fallback", customer.ID, customerRef)
		customer.StripeCustomerID = customerRef
		if err := repo.SaveCustomer(customer); err != nil {
			return nil, err
		}
	}
	return customer, nil
}

// handleCheckoutSessionCompleted finishes a purchase. Payment mode completes
// the matching order; subscription mode lands the new subscription in the
// local ledger. The session ID and the order_id metadata are the idempotency
// keys, so redelivery converges on the same state.
func (d *Dispatcher) handleCheckoutSessionCompleted(ctx context.Context, raw json.RawMessage) error {
	var sess checkoutSessionPayload
	if err := json.Unmarshal(raw, &sess); err != nil {
		return fmt.Errorf("decode checkout.session: %w", err)
	}
	repo := d.service.Repo()

	customer, err := d.resolveCustomer(sess.Customer, sess.CustomerDetails.Email)
	if err != nil {
		return err
	}

	if sess.Mode == "subscription" {
		if sess.Subscription == "" {
			return fmt.Errorf("subscription checkout %s carries no subscription reference", sess.ID)
		}
		snap, err := d.service.Client().GetSubscription(ctx, sess.Subscription)
		if err != nil {
			if !errors.Is(err, ErrRemoteDisabled) {
				return err
			}
			// No remote to ask; fall back to the checkout metadata.
			snap = &RemoteSubscription{
				ID:        sess.Subscription,
				Status:    models.SubscriptionStatusActive,
				PriceID:   sess.Metadata["stripe_price_id"],
				ProductID: sess.Metadata["stripe_product_id"],
			}
		}
		_, err = d.service.ApplySubscriptionSnapshot(customer, snap)
		return err
	}

	order, err := d.findCheckoutOrder(&sess)
	if err != nil {
		return err
	}

	order.Complete = true
	order.StripeCheckoutSessionID = sess.ID
	order.StripePaymentIntentID = sess.PaymentIntent
	return repo.SaveOrder(order)
}

func (d *Dispatcher) findCheckoutOrder(sess *checkoutSessionPayload) (*models.Order, error) {
	repo := d.service.Repo()
	if id := sess.Metadata["order_id"]; id != "" {
		order, err := repo.GetOrderByID(id)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	order, err := repo.GetOrderByCheckoutSession(sess.ID)
	if err != nil {
		return nil, fmt.Errorf("no order for checkout session %s: %w", sess.ID, err)
	}
	return order, nil
}

// handleCustomerCreated links a freshly created processor customer to its
// local row by email. A processor customer that matches no local account is
// removed remotely to keep the two sides from drifting apart.
func (d *Dispatcher) handleCustomerCreated(ctx context.Context, raw json.RawMessage) error {
	var payload customerPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode customer: %w", err)
	}
	repo := d.service.Repo()

	if _, err := repo.GetCustomerByStripeID(payload.ID); err == nil {
		return nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	customer, err := repo.GetCustomerByEmail(payload.Email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("[Store] processor customer %s matches no local account, deleting remotely", payload.ID)
		if err := d.service.Client().DeleteCustomer(ctx, payload.ID); err != nil && !errors.Is(err, ErrRemoteDisabled) {
			return err
		}
		return nil
	}
	if err != nil {
		return err
	}
	if customer.HasStripeRef() {
		// Already linked elsewhere; never reassign an existing reference.
		log.Printf("[Store] customer %d already linked, ignoring processor customer %s", customer.ID, payload.ID)
		return nil
	}

	customer.StripeCustomerID = payload.ID
	return repo.SaveCustomer(customer)
}

func (d *Dispatcher) handleSubscriptionSnapshot(raw json.RawMessage) error {
	var payload subscriptionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode subscription: %w", err)
	}

	customer, err := d.resolveCustomer(payload.Customer, "")
	if err != nil {
		return err
	}
	_, err = d.service.ApplySubscriptionSnapshot(customer, payload.snapshot())
	return err
}

func (d *Dispatcher) handleSubscriptionDeleted(raw json.RawMessage) error {
	var payload subscriptionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode subscription: %w", err)
	}

	canceledAt := unixTime(payload.CanceledAt)
	endedAt := unixTime(payload.EndedAt)
	if endedAt == nil {
		now := time.Now()
		endedAt = &now
	}
	err := d.service.ApplySubscriptionDeleted(payload.ID, canceledAt, endedAt)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("[Store] deletion event for unknown subscription %s ignored", payload.ID)
		return nil
	}
	return err
}

func (d *Dispatcher) handleInvoicePaymentFailed(ctx context.Context, raw json.RawMessage) error {
	var payload invoicePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode invoice: %w", err)
	}

	subID := payload.subscriptionID()
	if subID == "" {
		log.Printf("[Store] invoice %s failed outside any subscription, nothing to do", payload.ID)
		return nil
	}
	err := d.service.ApplyPaymentFailed(ctx, subID, payload.AttemptCount, unixTime(payload.NextPaymentAttempt))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("[Store] payment failure for unknown subscription %s ignored", subID)
		return nil
	}
	return err
}

func (d *Dispatcher) handleInvoicePaymentSucceeded(ctx context.Context, raw json.RawMessage) error {
	var payload invoicePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode invoice: %w", err)
	}

	subID := payload.subscriptionID()
	if subID == "" {
		return nil
	}
	customer, err := d.resolveCustomer(payload.Customer, "")
	if err != nil {
		return err
	}
	return d.service.ApplyPaymentSucceeded(ctx, customer, subID, payload.ID)
}

// handleChargeSucceeded records the charge reference and receipt URL on the
// matching order. Subscription charges have no order and are skipped.
func (d *Dispatcher) handleChargeSucceeded(raw json.RawMessage) error {
	var payload chargePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode charge: %w", err)
	}
	if payload.PaymentIntent == "" {
		return nil
	}
	repo := d.service.Repo()

	order, err := repo.GetOrderByPaymentIntent(payload.PaymentIntent)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	order.StripeChargeID = payload.ID
	order.ReceiptURL = payload.ReceiptURL
	return repo.SaveOrder(order)
}

// handleChargeRefunded mirrors a refund issued from the processor dashboard.
// A charge tied to an invoice belongs to a subscription: the remote
// subscription is canceled and the deletion event updates the ledger. A
// one-time charge raises the order's refund accumulator to the payload
// amount, capped at the order total; a stale delivery never lowers it.
func (d *Dispatcher) handleChargeRefunded(ctx context.Context, raw json.RawMessage) error {
	var payload chargePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode charge: %w", err)
	}
	repo := d.service.Repo()

	if payload.Invoice != "" {
		inv, err := d.service.Client().GetInvoice(ctx, payload.Invoice)
		if err != nil {
			if errors.Is(err, ErrRemoteDisabled) {
				return nil
			}
			return err
		}
		if inv.SubscriptionID == "" {
			return nil
		}
		err = d.service.Client().CancelSubscription(ctx, inv.SubscriptionID)
		if err != nil && !errors.Is(err, ErrRemoteDisabled) {
			return fmt.Errorf("cancel subscription %s after refund: %w", inv.SubscriptionID, err)
		}
		return nil
	}

	if payload.PaymentIntent == "" {
		return nil
	}
	order, err := repo.GetOrderByPaymentIntent(payload.PaymentIntent)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("[Store] refunded charge %s matches no order", payload.ID)
		return nil
	}
	if err != nil {
		return err
	}

	refunded := payload.AmountRefunded
	if total := order.TotalPriceCents(); refunded > total {
		refunded = total
	}
	now := time.Now()
	return repo.Transaction(func(tx Repository) error {
		// Deliveries can arrive out of order; the accumulator only moves up.
		if refunded > order.RefundedAmount {
			order.RefundedAmount = refunded
			if err := tx.SaveOrder(order); err != nil {
				return err
			}
		}
		if !order.FullyRefunded() {
			return nil
		}
		for i := range order.Items {
			item := &order.Items[i]
			if item.Refunded {
				continue
			}
			item.Refunded = true
			item.RefundedAt = &now
			if err := tx.SaveOrderItem(item); err != nil {
				return err
			}
		}
		return nil
	})
}
