package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"tunnel-billing/internal/metrics"
)

const providerName = "stripe"

// ErrProvider wraps every failure reported by the payment provider, transport
// errors included.
var ErrProvider = errors.New("payment provider error")

// Subscription holds the remote identifiers the core keeps locally.
type Subscription struct {
	ID     string
	ItemID string
}

type StripeClient struct {
	api     *client.API
	metrics *metrics.Metrics
}

type StripeOptions struct {
	// URL overrides the API base URL, used to point at a stub in tests.
	URL        string
	HTTPClient *http.Client
	Logger     logrus.FieldLogger
	Metrics    *metrics.Metrics
}

func NewStripeClient(secretKey string, opts StripeOptions) *StripeClient {
	cfg := &stripe.BackendConfig{
		// The core never retries provider calls.
		MaxNetworkRetries: stripe.Int64(0),
	}
	if opts.URL != "" {
		cfg.URL = stripe.String(opts.URL)
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	} else {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Logger != nil {
		cfg.LeveledLogger = opts.Logger.WithField("component", "stripe")
	}

	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, cfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, cfg),
	}
	return &StripeClient{
		api:     client.New(secretKey, backends),
		metrics: opts.Metrics,
	}
}

// CreateSubscription subscribes customerID to priceID.
func (c *StripeClient) CreateSubscription(ctx context.Context, customerID, priceID string) (result *Subscription, err error) {
	defer func(start time.Time) { c.metrics.ObserveProvider(providerName, "create_subscription", start, err) }(time.Now())

	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceID)},
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(uuid.NewString())

	sub, err := c.api.Subscriptions.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: create subscription: %v", ErrProvider, err)
	}
	return toSubscription(sub)
}

// UpdateSubscription moves the existing item to priceID.
func (c *StripeClient) UpdateSubscription(ctx context.Context, subscriptionID, itemID, priceID string) (result *Subscription, err error) {
	defer func(start time.Time) { c.metrics.ObserveProvider(providerName, "update_subscription", start, err) }(time.Now())

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{ID: stripe.String(itemID), Price: stripe.String(priceID)},
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(uuid.NewString())

	sub, err := c.api.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("%w: update subscription %s: %v", ErrProvider, subscriptionID, err)
	}
	return toSubscription(sub)
}

// CancelSubscription cancels immediately. Used to undo a subscription that was
// created remotely but could not be recorded locally.
func (c *StripeClient) CancelSubscription(ctx context.Context, subscriptionID string) (err error) {
	defer func(start time.Time) { c.metrics.ObserveProvider(providerName, "cancel_subscription", start, err) }(time.Now())

	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx

	if _, err := c.api.Subscriptions.Cancel(subscriptionID, params); err != nil {
		return fmt.Errorf("%w: cancel subscription %s: %v", ErrProvider, subscriptionID, err)
	}
	return nil
}

func toSubscription(sub *stripe.Subscription) (*Subscription, error) {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0] == nil {
		return nil, fmt.Errorf("%w: subscription response has no items", ErrProvider)
	}
	return &Subscription{ID: sub.ID, ItemID: sub.Items.Data[0].ID}, nil
}
