package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionIsActive(t *testing.T) {
	attempt := time.Now().Add(24 * time.Hour)

	cases := []struct {
		name string
		sub  Subscription
		want bool
	}{
		{"active", Subscription{Status: SubscriptionStatusActive}, true},
		{"paid", Subscription{Status: SubscriptionStatusPaid}, true},
		{"past due with retry scheduled", Subscription{Status: SubscriptionStatusPastDue, NextPaymentAttempt: &attempt}, true},
		{"past due exhausted", Subscription{Status: SubscriptionStatusPastDue}, false},
		{"canceled", Subscription{Status: SubscriptionStatusCanceled}, false},
		{"unpaid", Subscription{Status: SubscriptionStatusUnpaid}, false},
		{"trialing", Subscription{Status: SubscriptionStatusTrialing}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.sub.IsActive())
		})
	}
}

func TestSubscriptionDisplayID(t *testing.T) {
	sub := Subscription{StripeSubscriptionID: "sub_1QxYz"}
	assert.Equal(t, "1QxYz", sub.DisplayID())

	sub.StripeSubscriptionID = ""
	assert.Equal(t, "", sub.DisplayID())
}

func TestValidSubscriptionStatus(t *testing.T) {
	for _, s := range []string{
		SubscriptionStatusActive, SubscriptionStatusCanceled,
		SubscriptionStatusIncomplete, SubscriptionStatusIncompleteExpired,
		SubscriptionStatusPastDue, SubscriptionStatusTrialing,
		SubscriptionStatusPaid, SubscriptionStatusUnpaid,
	} {
		assert.True(t, ValidSubscriptionStatus(s), s)
	}
	assert.False(t, ValidSubscriptionStatus("paused"))
	assert.False(t, ValidSubscriptionStatus(""))
}
