package payments

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hashicorp/go-hclog"

	"kaboom-collab-backend/pkg/database"
	"kaboom-collab-backend/pkg/logging"
	"kaboom-collab-backend/pkg/models"
)

var (
	ErrSubscriptionExists = errors.New("an active subscription already exists for this room")
	ErrPaymentSetup       = errors.New("payment setup failed")
	ErrNotConfigured      = errors.New("payments are not configured")
	ErrNoPrice            = errors.New("room has no subscription price")
	ErrHostNotOnboarded   = errors.New("room host has no payout account")
	ErrInvalidAmount      = errors.New("amount must be positive")
)

// Purpose tags a one-off payment intent.
type Purpose string

const (
	PurposeRoomFee  Purpose = "room_fee"
	PurposeDonation Purpose = "donation"
)

// Metadata keys attached to processor objects.
const (
	metaRoomID         = "room_id"
	metaUserID         = "user_id"
	metaPurpose        = "purpose"
	metaInvoiceID      = "invoice_id"
	metaSubscriptionID = "subscription_id"
)

// Checkout is handed to the client to confirm payment.
type Checkout struct {
	ClientSecret    string `json:"client_secret"`
	PaymentIntentID string `json:"payment_intent_id,omitempty"`
	SubscriptionID  string `json:"subscription_id,omitempty"`
	Amount          int64  `json:"amount,omitempty"`
	Currency        string `json:"currency"`
}

// Invalidator drops cached catalog listings after the bridge writes a ledger row.
type Invalidator interface {
	Invalidate(ctx context.Context)
}

type Bridge struct {
	db         database.DatabaseInterface
	processor  Processor
	catalog    Invalidator
	currency   string
	feePercent float64
	now        func() time.Time
	log        hclog.Logger
}

// NewBridge builds a bridge. A nil processor makes every charge fail with ErrNotConfigured.
func NewBridge(db database.DatabaseInterface, processor Processor, currency string, feePercent float64) *Bridge {
	if currency == "" {
		currency = "usd"
	}
	return &Bridge{
		db:         db,
		processor:  processor,
		currency:   currency,
		feePercent: feePercent,
		now:        time.Now,
		log:        logging.Named("payments"),
	}
}

// SetInvalidator registers the catalog to refresh when a webhook creates a participant row.
func (b *Bridge) SetInvalidator(inv Invalidator) {
	b.catalog = inv
}

// Configured reports whether a processor is available.
func (b *Bridge) Configured() bool {
	return b.processor != nil
}

func toMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// CreatePaymentIntent starts a one-off charge of amount (major units) routed to the room host.
func (b *Bridge) CreatePaymentIntent(ctx context.Context, room *models.Room, payer *models.User, amount float64, purpose Purpose) (*Checkout, error) {
	if b.processor == nil {
		return nil, ErrNotConfigured
	}
	cents := toMinorUnits(amount)
	if cents <= 0 {
		return nil, ErrInvalidAmount
	}

	destination, err := b.hostAccount(ctx, room)
	if err != nil {
		return nil, err
	}
	customerID, err := b.ensureCustomer(ctx, payer)
	if err != nil {
		return nil, err
	}

	intent, err := b.processor.CreatePaymentIntent(ctx, PaymentIntentParams{
		Amount:         cents,
		Currency:       b.currency,
		CustomerID:     customerID,
		Destination:    destination,
		ApplicationFee: int64(math.Round(float64(cents) * b.feePercent / 100)),
		Description:    fmt.Sprintf("%s: %s", purpose, room.Title),
		Metadata: map[string]string{
			metaRoomID:  room.ID,
			metaUserID:  payer.ID,
			metaPurpose: string(purpose),
		},
	})
	if err != nil {
		b.log.Error("failed to create payment intent", "room", room.ID, "user", payer.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrPaymentSetup, err)
	}

	return &Checkout{
		ClientSecret:    intent.ClientSecret,
		PaymentIntentID: intent.ID,
		Amount:          cents,
		Currency:        b.currency,
	}, nil
}

// CreateSubscription subscribes the user to the room's recurring price.
// Abandoned incomplete attempts for the same room are cancelled first.
func (b *Bridge) CreateSubscription(ctx context.Context, room *models.Room, subscriber *models.User) (*Checkout, error) {
	if b.processor == nil {
		return nil, ErrNotConfigured
	}
	pricing := room.Pricing()
	if pricing.Kind != models.PricingKindSubscription || pricing.PriceID == "" {
		return nil, ErrNoPrice
	}

	existing, err := b.db.ListRoomSubscriptions(ctx, room.ID, subscriber.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscriptions: %w", err)
	}
	for _, s := range existing {
		if s.Status.Live() {
			return nil, ErrSubscriptionExists
		}
	}
	for _, s := range existing {
		if s.Status == models.StatusIncomplete {
			b.discard(ctx, s)
		}
	}

	destination, err := b.hostAccount(ctx, room)
	if err != nil {
		return nil, err
	}
	customerID, err := b.ensureCustomer(ctx, subscriber)
	if err != nil {
		return nil, err
	}

	sub, err := b.processor.CreateSubscription(ctx, SubscriptionParams{
		CustomerID:  customerID,
		PriceID:     pricing.PriceID,
		Destination: destination,
		FeePercent:  b.feePercent,
		Metadata: map[string]string{
			metaRoomID: room.ID,
			metaUserID: subscriber.ID,
		},
	})
	if err != nil {
		b.log.Error("failed to create subscription", "room", room.ID, "user", subscriber.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrPaymentSetup, err)
	}

	record := &models.RoomSubscription{
		RoomID:               room.ID,
		SubscriberID:         subscriber.ID,
		StripeSubscriptionID: sub.ID,
		StripeCustomerID:     customerID,
		Status:               models.StatusIncomplete,
	}
	if err := b.db.CreateRoomSubscription(ctx, record); err != nil {
		b.cancel(ctx, sub.ID)
		return nil, fmt.Errorf("failed to record subscription: %w", err)
	}

	checkout, err := b.subscriptionCheckout(ctx, sub, customerID, room.ID, subscriber.ID)
	if err != nil {
		// never leave an uncollectable subscription active
		b.log.Error("no payment intent for subscription, cancelling", "subscription", sub.ID, "error", err)
		b.cancel(ctx, sub.ID)
		if _, uerr := b.db.UpdateRoomSubscriptionStatus(ctx, sub.ID, models.StatusCanceled); uerr != nil {
			b.log.Warn("failed to mark subscription canceled", "subscription", sub.ID, "error", uerr)
		}
		return nil, fmt.Errorf("%w: %v", ErrPaymentSetup, err)
	}
	return checkout, nil
}

// subscriptionCheckout finds a client secret for the first invoice,
// finalizing a draft and synthesizing a payment intent when the invoice has none.
func (b *Bridge) subscriptionCheckout(ctx context.Context, sub *Subscription, customerID, roomID, userID string) (*Checkout, error) {
	inv := sub.LatestInvoice
	if inv == nil {
		return nil, errors.New("subscription has no invoice")
	}
	if secret := intentSecret(inv); secret != "" {
		return b.invoiceCheckout(sub.ID, inv, inv.PaymentIntent), nil
	}

	if inv.Status == "draft" {
		finalized, err := b.processor.FinalizeInvoice(ctx, inv.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to finalize invoice %s: %w", inv.ID, err)
		}
		inv = finalized
	}

	refreshed, err := b.processor.GetInvoice(ctx, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve invoice %s: %w", inv.ID, err)
	}
	if secret := intentSecret(refreshed); secret != "" {
		return b.invoiceCheckout(sub.ID, refreshed, refreshed.PaymentIntent), nil
	}

	if refreshed.AmountDue <= 0 {
		return nil, fmt.Errorf("invoice %s has nothing to collect", refreshed.ID)
	}
	currency := refreshed.Currency
	if currency == "" {
		currency = b.currency
	}
	b.log.Warn("invoice has no payment intent, creating one", "invoice", refreshed.ID, "amount", refreshed.AmountDue)
	intent, err := b.processor.CreatePaymentIntent(ctx, PaymentIntentParams{
		Amount:     refreshed.AmountDue,
		Currency:   currency,
		CustomerID: customerID,
		Metadata: map[string]string{
			metaInvoiceID:      refreshed.ID,
			metaSubscriptionID: sub.ID,
			metaRoomID:         roomID,
			metaUserID:         userID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent for invoice %s: %w", refreshed.ID, err)
	}
	if intent.ClientSecret == "" {
		return nil, fmt.Errorf("payment intent %s has no client secret", intent.ID)
	}
	refreshed.Currency = currency
	return b.invoiceCheckout(sub.ID, refreshed, intent), nil
}

func (b *Bridge) invoiceCheckout(subID string, inv *Invoice, intent *Intent) *Checkout {
	currency := inv.Currency
	if currency == "" {
		currency = b.currency
	}
	return &Checkout{
		ClientSecret:    intent.ClientSecret,
		PaymentIntentID: intent.ID,
		SubscriptionID:  subID,
		Amount:          inv.AmountDue,
		Currency:        currency,
	}
}

func intentSecret(inv *Invoice) string {
	if inv == nil || inv.PaymentIntent == nil {
		return ""
	}
	return inv.PaymentIntent.ClientSecret
}

// hostAccount returns the connected payout account of the room host.
func (b *Bridge) hostAccount(ctx context.Context, room *models.Room) (string, error) {
	host, err := b.db.GetProfile(ctx, room.Host)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return "", ErrHostNotOnboarded
		}
		return "", fmt.Errorf("failed to load host profile: %w", err)
	}
	if host.StripeAccountID == "" {
		return "", ErrHostNotOnboarded
	}
	return host.StripeAccountID, nil
}

// ensureCustomer reuses the stored customer id or creates one.
func (b *Bridge) ensureCustomer(ctx context.Context, user *models.User) (string, error) {
	email, name := user.Email, ""
	profile, err := b.db.GetProfile(ctx, user.ID)
	switch {
	case err == nil:
		if profile.StripeCustomerID != "" {
			return profile.StripeCustomerID, nil
		}
		if profile.Email != "" {
			email = profile.Email
		}
		name = profile.Username
	case !errors.Is(err, database.ErrNotFound):
		return "", fmt.Errorf("failed to load profile: %w", err)
	}

	customerID, err := b.processor.CreateCustomer(ctx, email, name, map[string]string{metaUserID: user.ID})
	if err != nil {
		return "", fmt.Errorf("%w: create customer: %v", ErrPaymentSetup, err)
	}
	if profile != nil {
		if err := b.db.SetProfileStripeCustomer(ctx, user.ID, customerID); err != nil {
			b.log.Warn("failed to store customer id", "user", user.ID, "error", err)
		}
	}
	return customerID, nil
}

// discard cancels an abandoned attempt remotely and deletes its row.
func (b *Bridge) discard(ctx context.Context, s models.RoomSubscription) {
	if s.StripeSubscriptionID != "" {
		b.cancel(ctx, s.StripeSubscriptionID)
	}
	if err := b.db.DeleteRoomSubscription(ctx, s.ID); err != nil {
		b.log.Warn("failed to delete incomplete subscription", "id", s.ID, "error", err)
	}
}

func (b *Bridge) cancel(ctx context.Context, subscriptionID string) {
	if err := b.processor.CancelSubscription(ctx, subscriptionID); err != nil {
		b.log.Warn("failed to cancel subscription", "subscription", subscriptionID, "error", err)
	}
}

// SweepIncomplete discards incomplete attempts older than age and returns how many it removed.
func (b *Bridge) SweepIncomplete(ctx context.Context, age time.Duration) (int, error) {
	if b.processor == nil {
		return 0, ErrNotConfigured
	}
	stale, err := b.db.ListIncompleteSubscriptions(ctx, b.now().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("failed to list incomplete subscriptions: %w", err)
	}
	for _, s := range stale {
		b.discard(ctx, s)
	}
	if len(stale) > 0 {
		b.log.Info("swept incomplete subscriptions", "count", len(stale))
	}
	return len(stale), nil
}
