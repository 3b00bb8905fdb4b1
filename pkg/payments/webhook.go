package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"kaboom-collab-backend/pkg/database"
	"kaboom-collab-backend/pkg/models"
)

// Event types the bridge reacts to.
const (
	EventPaymentSucceeded    = "payment_intent.succeeded"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// WebhookEvent is the processor-neutral part of a webhook delivery.
type WebhookEvent struct {
	ID                 string
	Type               string
	Metadata           map[string]string
	SubscriptionID     string
	SubscriptionStatus models.SubscriptionStatus
}

// ParseStripeEvent verifies the Stripe-Signature header and decodes the event.
func ParseStripeEvent(payload []byte, signature, secret string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, err
	}

	out := &WebhookEvent{ID: event.ID, Type: string(event.Type)}
	switch out.Type {
	case EventPaymentSucceeded:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("failed to decode payment intent: %w", err)
		}
		out.Metadata = pi.Metadata
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("failed to decode subscription: %w", err)
		}
		out.Metadata = sub.Metadata
		out.SubscriptionID = sub.ID
		out.SubscriptionStatus = models.SubscriptionStatus(sub.Status)
		if out.Type == EventSubscriptionDeleted {
			out.SubscriptionStatus = models.StatusCanceled
		}
	}
	return out, nil
}

// HandleEvent applies a webhook event to the ledger. It returns the domain
// events caused by rows it had to create.
func (b *Bridge) HandleEvent(ctx context.Context, evt *WebhookEvent) ([]models.DomainEvent, error) {
	switch evt.Type {
	case EventPaymentSucceeded:
		roomID, userID := evt.Metadata[metaRoomID], evt.Metadata[metaUserID]
		if roomID == "" || userID == "" || evt.Metadata[metaSubscriptionID] != "" {
			// subscription invoices settle through the subscription events
			return nil, nil
		}
		return b.markPaid(ctx, roomID, userID, models.PaymentPaid)

	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		sub, err := b.db.UpdateRoomSubscriptionStatus(ctx, evt.SubscriptionID, evt.SubscriptionStatus)
		if errors.Is(err, database.ErrNotFound) {
			b.log.Debug("webhook for unknown subscription", "subscription", evt.SubscriptionID)
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if sub.Status != evt.SubscriptionStatus {
			b.log.Debug("ignoring stale subscription status", "subscription", evt.SubscriptionID,
				"event", evt.ID, "stored", sub.Status, "received", evt.SubscriptionStatus)
			return nil, nil
		}
		if sub.Status != models.StatusActive {
			return nil, nil
		}
		return b.markPaid(ctx, sub.RoomID, sub.SubscriberID, models.PaymentSubscription)

	default:
		b.log.Debug("ignoring webhook event", "type", evt.Type)
		return nil, nil
	}
}

// markPaid records payment on the participant row, creating the row when the
// payer never had one.
func (b *Bridge) markPaid(ctx context.Context, roomID, userID string, payment models.PaymentState) ([]models.DomainEvent, error) {
	err := b.db.SetParticipantPayment(ctx, roomID, userID, payment)
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}

	room, err := b.db.GetRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to load room %s: %w", roomID, err)
	}
	p := &models.Participant{
		ThinkTankID:         roomID,
		ParticipantID:       userID,
		Status:              models.StatusForAccess(room.Access()),
		Payment:             payment,
		IsAgreementAccepted: true,
	}
	// paid rows bypass the capacity guard
	err = b.db.InsertParticipant(ctx, p, database.NoCapacityLimit)
	if errors.Is(err, database.ErrAlreadyExists) {
		return nil, b.db.SetParticipantPayment(ctx, roomID, userID, payment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert participant: %w", err)
	}

	if b.catalog != nil {
		b.catalog.Invalidate(ctx)
	}
	b.log.Info("participant created from payment", "room", roomID, "user", userID, "status", p.Status)
	return []models.DomainEvent{models.JoinEvent(room, models.User{ID: userID}, p.Status)}, nil
}
