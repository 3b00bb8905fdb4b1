package models

import (
	"time"
)

// SubscriptionStatus mirrors the remote billing subscription status.
type SubscriptionStatus string

const (
	StatusActive     SubscriptionStatus = "active"
	StatusTrialing   SubscriptionStatus = "trialing"
	StatusPastDue    SubscriptionStatus = "past_due"
	StatusIncomplete SubscriptionStatus = "incomplete"
	StatusCanceled   SubscriptionStatus = "canceled"
)

// Live reports whether the status blocks a second subscription for the same room.
func (s SubscriptionStatus) Live() bool {
	return s == StatusActive || s == StatusTrialing || s == StatusPastDue
}

// CanMoveTo reports whether a webhook may change s to next. Canceled is
// terminal and nothing returns to incomplete, so replayed events are no-ops.
func (s SubscriptionStatus) CanMoveTo(next SubscriptionStatus) bool {
	if s == next {
		return true
	}
	return s != StatusCanceled && next != StatusIncomplete
}

// RoomSubscription ties a subscriber to a room's recurring price.
type RoomSubscription struct {
	ID                   string             `json:"id" db:"id" gorm:"primaryKey"`
	RoomID               string             `json:"room_id" db:"room_id" gorm:"index:idx_room_subscriber"`
	SubscriberID         string             `json:"subscriber_id" db:"subscriber_id" gorm:"index:idx_room_subscriber"`
	StripeSubscriptionID string             `json:"stripe_subscription_id" db:"stripe_subscription_id" gorm:"index"`
	StripeCustomerID     string             `json:"stripe_customer_id,omitempty" db:"stripe_customer_id"`
	Status               SubscriptionStatus `json:"status" db:"status"`
	CreatedAt            time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at" db:"updated_at"`
}

func (RoomSubscription) TableName() string {
	return "room_subscriptions"
}

// HasActiveSubscription reports whether any of subs is active.
func HasActiveSubscription(subs []RoomSubscription) bool {
	for _, s := range subs {
		if s.Status == StatusActive {
			return true
		}
	}
	return false
}
