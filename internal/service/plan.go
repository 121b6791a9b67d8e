package service

import (
	"context"

	"app/internal/billing"

	"github.com/stripe/stripe-go/v82"
)

// derivePlanName computes the display plan label for a Stripe subscription:
// the billing interval prefix joined to the product name. Both the
// subscription flow and the webhook reconciliation use this one function so
// the stored label is identical no matter which path wrote it. Lookup
// failures degrade to "Unknown" components rather than failing the caller.
func derivePlanName(ctx context.Context, provider billing.Provider, sub *stripe.Subscription) string {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
		return "Unknown"
	}
	price := sub.Items.Data[0].Price
	if price.Recurring == nil {
		// Webhook payloads can carry a thin price object; refetch for the interval.
		if full, err := provider.GetPrice(ctx, price.ID); err == nil {
			price = full
		}
	}
	var interval stripe.PriceRecurringInterval
	if price.Recurring != nil {
		interval = price.Recurring.Interval
	}
	var productName string
	if price.Product != nil {
		productName = price.Product.Name
		if productName == "" && price.Product.ID != "" {
			if prod, err := provider.GetProduct(ctx, price.Product.ID); err == nil {
				productName = prod.Name
			}
		}
	}
	return displayPlanName(interval, productName)
}

func displayPlanName(interval stripe.PriceRecurringInterval, productName string) string {
	if productName == "" {
		productName = "Unknown"
	}
	var prefix string
	switch interval {
	case stripe.PriceRecurringIntervalMonth:
		prefix = "MONTHLY"
	case stripe.PriceRecurringIntervalYear:
		prefix = "YEARLY"
	default:
		prefix = "Unknown"
	}
	return prefix + "-" + productName
}
