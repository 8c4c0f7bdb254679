package stripe

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stripe/stripe-go/v83"
)

func TestSubscriptionIDFromInvoice(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "top-level id string",
			raw:  `{"id": "in_1", "subscription": "sub_1"}`,
			want: "sub_1",
		},
		{
			name: "top-level expanded object",
			raw:  `{"id": "in_1", "subscription": {"id": "sub_2", "status": "active"}}`,
			want: "sub_2",
		},
		{
			name: "line item fallback",
			raw:  `{"id": "in_1", "subscription": null, "lines": {"data": [{"subscription": "sub_3"}]}}`,
			want: "sub_3",
		},
		{
			name: "line parent details fallback",
			raw:  `{"id": "in_1", "lines": {"data": [{"parent": {"subscription_item_details": {"subscription": "sub_4"}}}]}}`,
			want: "sub_4",
		},
		{
			name: "no subscription anywhere",
			raw:  `{"id": "in_1", "lines": {"data": [{"amount": 100}]}}`,
			want: "",
		},
		{
			name: "malformed payload",
			raw:  `not json`,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := subscriptionIDFromInvoice(json.RawMessage(tt.raw))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubscriptionPeriodEnd(t *testing.T) {
	assert.Zero(t, subscriptionPeriodEnd(&stripe.Subscription{}))

	sub := &stripe.Subscription{
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{CurrentPeriodEnd: 100},
				{CurrentPeriodEnd: 300},
				{CurrentPeriodEnd: 200},
			},
		},
	}
	assert.Equal(t, int64(300), subscriptionPeriodEnd(sub))
}

func TestValidityDaysUntil(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name      string
		periodEnd int64
		want      int
	}{
		{"missing period end", 0, 1},
		{"period end in the past", now.Add(-24 * time.Hour).Unix(), 1},
		{"thirty days out", now.Add(30 * 24 * time.Hour).Unix(), 30},
		{"partial day rounds up", now.Add(36 * time.Hour).Unix(), 2},
		{"one year out", now.Add(365 * 24 * time.Hour).Unix(), 365},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, validityDaysUntil(tt.periodEnd, now))
		})
	}
}
