package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lifedesk/lifedesk/app/models"
	"gorm.io/gorm"
)

// The methods in this file apply subscription lifecycle transitions. All
// writes that originate from webhook events go straight through the
// repository (local-only): applying a fact about the remote must never
// trigger a write back to the remote, or every event would loop.

// ApplySubscriptionSnapshot upserts a subscription from a remote snapshot,
// keyed by the external subscription reference. Price and product are
// resolved through their external references; an unknown price or product is
// an error (the catalog must exist locally before subscriptions can land).
//
// When customer is nil the existing row's customer is reused; a snapshot for
// a completely unknown subscription with no resolvable customer is skipped.
func (s *Service) ApplySubscriptionSnapshot(customer *models.Customer, snap *RemoteSubscription) (*models.Subscription, error) {
	if snap == nil || snap.ID == "" {
		return nil, errors.New("subscription snapshot has no external reference")
	}

	existing, err := s.repo.GetSubscriptionByStripeID(snap.ID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var customerID uint
	switch {
	case customer != nil:
		customerID = customer.ID
	case existing != nil:
		customerID = existing.CustomerID
	default:
		return nil, fmt.Errorf("no local customer for subscription %s", snap.ID)
	}

	sub := &models.Subscription{
		CustomerID:           customerID,
		StripeSubscriptionID: snap.ID,
		Status:               snap.Status,
		CurrentPeriodStart:   snap.CurrentPeriodStart,
		CurrentPeriodEnd:     snap.CurrentPeriodEnd,
		CancelAtPeriodEnd:    snap.CancelAtPeriodEnd,
		CancelAt:             snap.CancelAt,
		CanceledAt:           snap.CanceledAt,
		EndedAt:              snap.EndedAt,
	}
	if existing != nil {
		sub.ID = existing.ID
		sub.ProductID = existing.ProductID
		sub.PriceID = existing.PriceID
		sub.AttemptCount = existing.AttemptCount
		sub.NextPaymentAttempt = existing.NextPaymentAttempt
		sub.LatestStripeInvoiceID = existing.LatestStripeInvoiceID
	}

	if snap.PriceID != "" {
		price, err := s.repo.GetPriceByStripeID(snap.PriceID)
		if err != nil {
			return nil, fmt.Errorf("unknown remote price %s: %w", snap.PriceID, err)
		}
		sub.PriceID = price.ID
		sub.ProductID = price.ProductID
	}
	if snap.ProductID != "" {
		product, err := s.repo.GetProductByStripeID(snap.ProductID)
		if err != nil {
			return nil, fmt.Errorf("unknown remote product %s: %w", snap.ProductID, err)
		}
		sub.ProductID = product.ID
	}
	if sub.PriceID == "" || sub.ProductID == "" {
		return nil, fmt.Errorf("subscription %s has no resolvable price/product", snap.ID)
	}

	if !models.ValidSubscriptionStatus(sub.Status) {
		log.Printf("[Store] subscription %s reported unknown status %q", snap.ID, sub.Status)
	}

	if err := s.repo.UpsertSubscription(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// ApplySubscriptionDeleted marks a subscription canceled. Terminal:
// subsequent events for the same reference converge on the same state.
func (s *Service) ApplySubscriptionDeleted(stripeSubscriptionID string, canceledAt, endedAt *time.Time) error {
	sub, err := s.repo.GetSubscriptionByStripeID(stripeSubscriptionID)
	if err != nil {
		return err
	}

	sub.Status = models.SubscriptionStatusCanceled
	sub.CanceledAt = canceledAt
	sub.EndedAt = endedAt
	return s.repo.SaveSubscription(sub)
}

// ApplyPaymentFailed records a failed recurring payment: attempt bookkeeping
// plus the past_due grace period. An empty next-attempt is the processor's
// authoritative "no more retries" signal — the subscription is canceled
// immediately rather than lingering in past_due forever. The remote cancel
// is best-effort; the local cancel always applies.
func (s *Service) ApplyPaymentFailed(ctx context.Context, stripeSubscriptionID string, attemptCount int, nextPaymentAttempt *time.Time) error {
	sub, err := s.repo.GetSubscriptionByStripeID(stripeSubscriptionID)
	if err != nil {
		return err
	}

	sub.AttemptCount = attemptCount
	sub.NextPaymentAttempt = nextPaymentAttempt
	sub.Status = models.SubscriptionStatusPastDue
	if err := s.repo.SaveSubscription(sub); err != nil {
		return err
	}

	if nextPaymentAttempt == nil {
		if err := s.client.CancelSubscription(ctx, stripeSubscriptionID); err != nil && !errors.Is(err, ErrRemoteDisabled) {
			log.Printf("[Store] remote cancel after final payment failure failed for %s: %v", stripeSubscriptionID, err)
		}
		return s.cancelLocal(sub)
	}
	return nil
}

// ApplyPaymentSucceeded confirms ongoing access after a recurring charge.
// The invoice payload alone lacks full period bounds, so the current remote
// snapshot is fetched and applied; retry bookkeeping is reset.
func (s *Service) ApplyPaymentSucceeded(ctx context.Context, customer *models.Customer, stripeSubscriptionID, stripeInvoiceID string) error {
	snap, err := s.client.GetSubscription(ctx, stripeSubscriptionID)
	if err != nil {
		return err
	}

	sub, err := s.ApplySubscriptionSnapshot(customer, snap)
	if err != nil {
		return err
	}

	sub.AttemptCount = 1
	sub.NextPaymentAttempt = nil
	sub.LatestStripeInvoiceID = stripeInvoiceID
	return s.repo.SaveSubscription(sub)
}

// CancelSubscription is the one user-initiated lifecycle transition.
//
// Immediate: the remote subscription is canceled first, then the local row.
// At period end: the remote flag is set and recorded locally as a request —
// status stays untouched until the remote confirms through a later
// subscription.updated/deleted event.
//
// A remote failure leaves local state unchanged so the ledger never claims a
// cancellation the processor will keep billing for. In free mode there is no
// remote side and the local transition applies directly.
func (s *Service) CancelSubscription(ctx context.Context, sub *models.Subscription, atPeriodEnd bool) error {
	if atPeriodEnd {
		if sub.StripeSubscriptionID != "" {
			err := s.client.ModifySubscription(ctx, sub.StripeSubscriptionID, true)
			if err != nil && !errors.Is(err, ErrRemoteDisabled) {
				return err
			}
		}
		sub.CancelAtPeriodEnd = true
		sub.CancelAt = sub.CurrentPeriodEnd
		return s.repo.SaveSubscription(sub)
	}

	if sub.StripeSubscriptionID != "" {
		err := s.client.CancelSubscription(ctx, sub.StripeSubscriptionID)
		if err != nil && !errors.Is(err, ErrRemoteDisabled) {
			return err
		}
	}
	return s.cancelLocal(sub)
}

func (s *Service) cancelLocal(sub *models.Subscription) error {
	now := time.Now()
	sub.Status = models.SubscriptionStatusCanceled
	sub.CanceledAt = &now
	sub.EndedAt = &now
	return s.repo.SaveSubscription(sub)
}

// ActiveSubscription returns the customer's effectively active subscription
// for a product, grace period included, or nil.
func (s *Service) ActiveSubscription(customer *models.Customer, productID string) (*models.Subscription, error) {
	sub, err := s.repo.ActiveSubscription(customer.ID, productID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}
