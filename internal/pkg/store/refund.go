package store

import (
	"context"
	"time"

	"github.com/lifedesk/lifedesk/app/models"
)

// Refund reasons accepted by the remote processor.
const (
	RefundReasonDuplicate           = "duplicate"
	RefundReasonFraudulent          = "fraudulent"
	RefundReasonRequestedByCustomer = "requested_by_customer"
)

// RefundWindow is how long after purchase an order is advertised as
// refundable in the store UI.
const RefundWindow = 7 * 24 * time.Hour

// RefundEligible reports whether an order is still inside the refund window:
// completed, paid through the processor and not yet fully refunded.
func RefundEligible(order *models.Order, now time.Time) bool {
	return order.Complete &&
		order.StripePaymentIntentID != "" &&
		!order.FullyRefunded() &&
		now.Sub(order.CreatedAt) <= RefundWindow
}

// ValidRefundReason reports whether reason is part of the closed set.
func ValidRefundReason(reason string) bool {
	switch reason {
	case RefundReasonDuplicate, RefundReasonFraudulent, RefundReasonRequestedByCustomer:
		return true
	}
	return false
}

// RefundOrder refunds a completed order in full: one remote refund for the
// total in cents, then the accumulator is set to exactly that total and every
// item is marked refunded with a shared timestamp. All-or-nothing: a remote
// failure changes no local state.
//
// In free mode there is nothing to refund against and ErrRemoteDisabled is
// returned.
func (s *Service) RefundOrder(ctx context.Context, order *models.Order, reason string) error {
	if !ValidRefundReason(reason) {
		return ErrInvalidRefundReason
	}
	if order.StripePaymentIntentID == "" {
		return ErrNoPaymentIntent
	}
	totalCents := order.TotalPriceCents()
	if order.RefundedAmount >= totalCents {
		return ErrAlreadyRefunded
	}

	refund, err := s.client.CreateRefund(ctx, RefundParams{
		PaymentIntentID: order.StripePaymentIntentID,
		Reason:          reason,
		AmountCents:     totalCents,
		Metadata:        map[string]string{"internal_order_id": order.ID},
	})
	if err != nil {
		return err
	}

	now := time.Now()
	return s.repo.Transaction(func(tx Repository) error {
		order.StripeRefundID = refund.ID
		order.RefundedAmount = totalCents
		if err := tx.SaveOrder(order); err != nil {
			return err
		}
		for i := range order.Items {
			item := &order.Items[i]
			item.Refunded = true
			item.RefundedAt = &now
			if err := tx.SaveOrderItem(item); err != nil {
				return err
			}
		}
		return nil
	})
}

// RefundOrderItem refunds a single line item: a partial remote refund for
// price x quantity in cents, accumulated into the order's refunded amount.
// Multiple item refunds sum; the accumulator never exceeds the order total
// and is never overwritten downward.
func (s *Service) RefundOrderItem(ctx context.Context, item *models.OrderItem, reason string) error {
	if !ValidRefundReason(reason) {
		return ErrInvalidRefundReason
	}
	order, err := s.repo.GetOrderByID(item.OrderID)
	if err != nil {
		return err
	}
	if order.StripePaymentIntentID == "" {
		return ErrNoPaymentIntent
	}
	if item.Refunded {
		return ErrAlreadyRefunded
	}

	refundCents := item.TotalPriceCents()
	refund, err := s.client.CreateRefund(ctx, RefundParams{
		PaymentIntentID: order.StripePaymentIntentID,
		Reason:          reason,
		AmountCents:     refundCents,
		Metadata: map[string]string{
			"internal_order_id": order.ID,
			"item_id":           item.ID,
		},
	})
	if err != nil {
		return err
	}

	now := time.Now()
	return s.repo.Transaction(func(tx Repository) error {
		order.StripeRefundID = refund.ID
		order.RefundedAmount += refundCents
		if total := order.TotalPriceCents(); order.RefundedAmount > total {
			order.RefundedAmount = total
		}
		if err := tx.SaveOrder(order); err != nil {
			return err
		}
		item.Refunded = true
		item.RefundedAt = &now
		return tx.SaveOrderItem(item)
	})
}
