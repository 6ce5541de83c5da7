package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceAmountCents(t *testing.T) {
	p := Price{Amount: 39}
	assert.Equal(t, int64(3900), p.AmountCents())

	p.Amount = 0
	assert.Equal(t, int64(0), p.AmountCents())
}

func TestPriceValidateIntervalInvariant(t *testing.T) {
	oneTime := Price{Amount: 10}
	assert.NoError(t, oneTime.Validate())

	recurring := Price{Amount: 10, IsSubscription: true, BillingInterval: BillingIntervalYearly}
	assert.NoError(t, recurring.Validate())

	// Recurring without an interval.
	missing := Price{Amount: 10, IsSubscription: true}
	assert.ErrorIs(t, missing.Validate(), ErrInvalidBillingInterval)

	// One-time with an interval.
	stray := Price{Amount: 10, BillingInterval: BillingIntervalMonthly}
	assert.ErrorIs(t, stray.Validate(), ErrInvalidBillingInterval)

	unknown := Price{Amount: 10, IsSubscription: true, BillingInterval: "weekly"}
	assert.ErrorIs(t, unknown.Validate(), ErrInvalidBillingInterval)
}

func TestPriceRecurringInterval(t *testing.T) {
	cases := []struct {
		billingInterval string
		interval        string
		count           int64
	}{
		{BillingIntervalMonthly, "month", 1},
		{BillingIntervalYearly, "year", 1},
		{BillingIntervalSixMonths, "month", 6},
	}
	for _, tc := range cases {
		p := Price{BillingInterval: tc.billingInterval}
		interval, count, err := p.RecurringInterval()
		require.NoError(t, err)
		assert.Equal(t, tc.interval, interval)
		assert.Equal(t, tc.count, count)
	}

	p := Price{BillingInterval: "weekly"}
	_, _, err := p.RecurringInterval()
	assert.ErrorIs(t, err, ErrInvalidBillingInterval)
}
