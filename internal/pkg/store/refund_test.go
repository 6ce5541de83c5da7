package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifedesk/lifedesk/app/models"
)

// seedCompletedOrder creates a completed, paid order of quantity units of a
// ten dollar product.
func seedCompletedOrder(repo *memRepo, customer *models.Customer, quantity int) models.Order {
	_, price := seedProductWithPrice(repo, "meal_planner", 10, false)
	return repo.addOrder(models.Order{
		OrderNumber:           "ORD-20260815-0000042",
		CustomerID:            customer.ID,
		Complete:              true,
		StripePaymentIntentID: "pi_1",
		Items: []models.OrderItem{
			{ProductID: "meal_planner", PriceID: price.ID, Quantity: quantity},
		},
	})
}

func TestRefundOrderFull(t *testing.T) {
	svc, repo, client := newTestService()
	customer := seedCustomer(repo)
	seeded := seedCompletedOrder(repo, customer, 2)

	order, err := repo.GetOrderByID(seeded.ID)
	require.NoError(t, err)

	// Two units at $10 each: the refund must be exactly 2000 cents.
	require.NoError(t, svc.RefundOrder(context.Background(), order, RefundReasonRequestedByCustomer))

	require.Len(t, client.refunds, 1)
	assert.Equal(t, int64(2000), client.refunds[0].AmountCents)
	assert.Equal(t, "pi_1", client.refunds[0].PaymentIntentID)

	stored, err := repo.GetOrderByID(seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), stored.RefundedAmount)
	assert.True(t, stored.FullyRefunded())
	assert.NotEmpty(t, stored.StripeRefundID)
	for _, item := range stored.Items {
		assert.True(t, item.Refunded)
		require.NotNil(t, item.RefundedAt)
	}
}

func TestRefundOrderInvalidReason(t *testing.T) {
	svc, repo, _ := newTestService()
	customer := seedCustomer(repo)
	seeded := seedCompletedOrder(repo, customer, 1)

	order, err := repo.GetOrderByID(seeded.ID)
	require.NoError(t, err)

	err = svc.RefundOrder(context.Background(), order, "changed_my_mind")
	assert.ErrorIs(t, err, ErrInvalidRefundReason)
}

func TestRefundOrderWithoutPaymentIntent(t *testing.T) {
	svc, repo, _ := newTestService()
	customer := seedCustomer(repo)
	_, price := seedProductWithPrice(repo, "meal_planner", 10, false)
	seeded := repo.addOrder(models.Order{
		OrderNumber: "ORD-20260815-0000043",
		CustomerID:  customer.ID,
		Complete:    true,
		Items:       []models.OrderItem{{ProductID: "meal_planner", PriceID: price.ID, Quantity: 1}},
	})

	order, err := repo.GetOrderByID(seeded.ID)
	require.NoError(t, err)

	err = svc.RefundOrder(context.Background(), order, RefundReasonDuplicate)
	assert.ErrorIs(t, err, ErrNoPaymentIntent)
}

func TestRefundOrderTwiceRejected(t *testing.T) {
	svc, repo, client := newTestService()
	customer := seedCustomer(repo)
	seeded := seedCompletedOrder(repo, customer, 1)

	order, err := repo.GetOrderByID(seeded.ID)
	require.NoError(t, err)
	require.NoError(t, svc.RefundOrder(context.Background(), order, RefundReasonDuplicate))

	order, err = repo.GetOrderByID(seeded.ID)
	require.NoError(t, err)
	err = svc.RefundOrder(context.Background(), order, RefundReasonDuplicate)
	assert.ErrorIs(t, err, ErrAlreadyRefunded)
	assert.Len(t, client.refunds, 1)
}

func TestRefundOrderRemoteFailureLeavesStateUntouched(t *testing.T) {
	svc, repo, client := newTestService()
	customer := seedCustomer(repo)
	seeded := seedCompletedOrder(repo, customer, 2)
	client.refundErr = errors.New("processor unavailable")

	order, err := repo.GetOrderByID(seeded.ID)
	require.NoError(t, err)
	require.Error(t, svc.RefundOrder(context.Background(), order, RefundReasonFraudulent))

	stored, err := repo.GetOrderByID(seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.RefundedAmount)
	for _, item := range stored.Items {
		assert.False(t, item.Refunded)
	}
}

func TestRefundOrderFreeMode(t *testing.T) {
	svc, repo, client := newTestService()
	client.enabled = false
	customer := seedCustomer(repo)
	seeded := seedCompletedOrder(repo, customer, 1)

	order, err := repo.GetOrderByID(seeded.ID)
	require.NoError(t, err)

	err = svc.RefundOrder(context.Background(), order, RefundReasonDuplicate)
	assert.ErrorIs(t, err, ErrRemoteDisabled)
}

func TestRefundOrderItemAccumulates(t *testing.T) {
	svc, repo, client := newTestService()
	customer := seedCustomer(repo)
	_, priceA := seedProductWithPrice(repo, "meal_planner", 10, false)
	_, priceB := seedProductWithPrice(repo, "garden_log", 15, false)
	seeded := repo.addOrder(models.Order{
		OrderNumber:           "ORD-20260815-0000044",
		CustomerID:            customer.ID,
		Complete:              true,
		StripePaymentIntentID: "pi_2",
		Items: []models.OrderItem{
			{ProductID: "meal_planner", PriceID: priceA.ID, Quantity: 2},
			{ProductID: "garden_log", PriceID: priceB.ID, Quantity: 1},
		},
	})

	order, err := repo.GetOrderByID(seeded.ID)
	require.NoError(t, err)
	total := order.TotalPriceCents()
	assert.Equal(t, int64(3500), total)

	var first, second *models.OrderItem
	for i := range order.Items {
		if order.Items[i].ProductID == "meal_planner" {
			first = &order.Items[i]
		} else {
			second = &order.Items[i]
		}
	}
	require.NotNil(t, first)
	require.NotNil(t, second)

	require.NoError(t, svc.RefundOrderItem(context.Background(), first, RefundReasonRequestedByCustomer))
	stored, err := repo.GetOrderByID(seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), stored.RefundedAmount)
	assert.False(t, stored.FullyRefunded())

	require.NoError(t, svc.RefundOrderItem(context.Background(), second, RefundReasonRequestedByCustomer))
	stored, err = repo.GetOrderByID(seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3500), stored.RefundedAmount)
	assert.True(t, stored.FullyRefunded())

	require.Len(t, client.refunds, 2)
	assert.Equal(t, int64(2000), client.refunds[0].AmountCents)
	assert.Equal(t, int64(1500), client.refunds[1].AmountCents)
}

func TestRefundOrderItemTwiceRejected(t *testing.T) {
	svc, repo, _ := newTestService()
	customer := seedCustomer(repo)
	seeded := seedCompletedOrder(repo, customer, 2)

	order, err := repo.GetOrderByID(seeded.ID)
	require.NoError(t, err)
	item := &order.Items[0]

	require.NoError(t, svc.RefundOrderItem(context.Background(), item, RefundReasonDuplicate))

	refreshed, err := repo.GetOrderItemByID(item.ID)
	require.NoError(t, err)
	err = svc.RefundOrderItem(context.Background(), refreshed, RefundReasonDuplicate)
	assert.ErrorIs(t, err, ErrAlreadyRefunded)
}

func TestRefundedAmountNeverExceedsOrderTotal(t *testing.T) {
	svc, repo, _ := newTestService()
	customer := seedCustomer(repo)
	seeded := seedCompletedOrder(repo, customer, 2)

	order, err := repo.GetOrderByID(seeded.ID)
	require.NoError(t, err)
	item := &order.Items[0]

	// Refund the only item, then refund the remaining order in full. The
	// accumulator stays capped at the order total.
	require.NoError(t, svc.RefundOrderItem(context.Background(), item, RefundReasonDuplicate))

	stored, err := repo.GetOrderByID(seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.TotalPriceCents(), stored.RefundedAmount)

	err = svc.RefundOrder(context.Background(), stored, RefundReasonDuplicate)
	assert.ErrorIs(t, err, ErrAlreadyRefunded)

	final, err := repo.GetOrderByID(seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, final.TotalPriceCents(), final.RefundedAmount)
}

func TestRefundEligibleWindow(t *testing.T) {
	now := time.Now()
	order := models.Order{
		Complete:              true,
		StripePaymentIntentID: "pi_1",
		CreatedAt:             now.Add(-48 * time.Hour),
		Items:                 []models.OrderItem{{Quantity: 1, Price: models.Price{Amount: 10}}},
	}
	assert.True(t, RefundEligible(&order, now))

	// Outside the window.
	aged := order
	aged.CreatedAt = now.Add(-RefundWindow - time.Hour)
	assert.False(t, RefundEligible(&aged, now))

	// Incomplete carts and free-mode orders are never eligible.
	open := order
	open.Complete = false
	assert.False(t, RefundEligible(&open, now))

	free := order
	free.StripePaymentIntentID = ""
	assert.False(t, RefundEligible(&free, now))

	// Nothing left to refund.
	done := order
	done.RefundedAmount = done.TotalPriceCents()
	assert.False(t, RefundEligible(&done, now))
}
