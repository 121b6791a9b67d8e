package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment        string `envconfig:"ENV" default:"development"`
	Port               string `envconfig:"PORT" default:"8080"`
	DBConnectionString string `envconfig:"DB_CONNECTION_STRING" required:"true"`
	JWTSecret          string `envconfig:"JWT_SECRET" required:"true"`

	// Stripe settings. The secret key is required at process start so a
	// misconfigured deployment fails immediately instead of on first call.
	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY" required:"true"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET" required:"true"`

	// Price IDs for each purchasable plan.
	StripePriceBasicMonthly string `envconfig:"STRIPE_PRICE_BASIC_MONTHLY" required:"true"`
	StripePriceBasicYearly  string `envconfig:"STRIPE_PRICE_BASIC_YEARLY" required:"true"`
	StripePriceProMonthly   string `envconfig:"STRIPE_PRICE_PRO_MONTHLY" required:"true"`
	StripePriceProYearly    string `envconfig:"STRIPE_PRICE_PRO_YEARLY" required:"true"`

	// Redirect targets for hosted checkout sessions.
	CheckoutSuccessURL string `envconfig:"CHECKOUT_SUCCESS_URL" required:"true"`
	CheckoutCancelURL  string `envconfig:"CHECKOUT_CANCEL_URL" required:"true"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PriceIDForPlan maps a plan key from the API to its Stripe price ID.
func (c *Config) PriceIDForPlan(plan string) (string, error) {
	switch plan {
	case "basic_monthly":
		return c.StripePriceBasicMonthly, nil
	case "basic_yearly":
		return c.StripePriceBasicYearly, nil
	case "pro_monthly":
		return c.StripePriceProMonthly, nil
	case "pro_yearly":
		return c.StripePriceProYearly, nil
	default:
		return "", fmt.Errorf("invalid plan: %s", plan)
	}
}
