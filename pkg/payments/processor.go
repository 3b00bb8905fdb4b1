// Package payments bridges priced room admission to the payment processor.
package payments

import "context"

// Processor is the subset of the payment processor API the bridge drives.
type Processor interface {
	CreatePaymentIntent(ctx context.Context, params PaymentIntentParams) (*Intent, error)
	CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (string, error)
	CreateSubscription(ctx context.Context, params SubscriptionParams) (*Subscription, error)
	FinalizeInvoice(ctx context.Context, invoiceID string) (*Invoice, error)
	GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
}

// PaymentIntentParams amounts are in minor units.
type PaymentIntentParams struct {
	Amount         int64
	Currency       string
	CustomerID     string
	Destination    string // host's connected account
	ApplicationFee int64
	Description    string
	Metadata       map[string]string
}

type SubscriptionParams struct {
	CustomerID  string
	PriceID     string
	Destination string
	FeePercent  float64
	Metadata    map[string]string
}

type Intent struct {
	ID           string
	ClientSecret string
	Status       string
}

type Invoice struct {
	ID            string
	Status        string
	AmountDue     int64
	Currency      string
	PaymentIntent *Intent
}

type Subscription struct {
	ID            string
	Status        string
	LatestInvoice *Invoice
}
