package models

import (
	"strings"
	"time"
)

// MaxRoomParticipants is the platform-wide ceiling applied to every room.
const MaxRoomParticipants = 300

// Raw access types stored in thinktank.accesstype
const (
	AccessOpen    = "Open"
	AccessLimited = "Limited"
	AccessPrivate = "Private"
)

// Raw pricing types stored in thinktank.pricingtype
const (
	PricingFree         = "Free"
	PricingPaid         = "Paid"
	PricingDonation     = "Donation-Based"
	PricingSubscription = "Subscription"
)

// Room is a Collab Room (think tank) row as stored remotely.
type Room struct {
	ID                string     `json:"id" db:"id" gorm:"primaryKey"`
	Host              string     `json:"host" db:"host" gorm:"index"`
	Title             string     `json:"title" db:"title"`
	Description       string     `json:"description,omitempty" db:"description"`
	AccessType        string     `json:"accesstype" db:"accesstype" gorm:"column:accesstype"`
	PricingType       string     `json:"pricingtype" db:"pricingtype" gorm:"column:pricingtype"`
	Price             *float64   `json:"price" db:"price"`
	AvailableSpots    *int       `json:"available_spots" db:"available_spots"`
	ParticipantLimit  *int       `json:"participant_limit" db:"participant_limit"`
	EndDatetime       *time.Time `json:"end_datetime" db:"end_datetime"`
	OneTimeDate       *time.Time `json:"one_time_date" db:"one_time_date"`
	Recurring         bool       `json:"recurring" db:"recurring"`
	RequestedBoosting float64    `json:"requested_boosting" db:"requested_boosting"`
	StripePriceID     string     `json:"stripe_price_id,omitempty" db:"stripe_price_id"`
	StripeProductID   string     `json:"stripe_product_id,omitempty" db:"stripe_product_id"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}

func (Room) TableName() string {
	return "thinktank"
}

// AccessKind is the closed set of room access variants.
type AccessKind int

const (
	AccessKindOpen AccessKind = iota
	AccessKindLimited
	AccessKindPrivate
)

func (k AccessKind) String() string {
	switch k {
	case AccessKindOpen:
		return AccessOpen
	case AccessKindLimited:
		return AccessLimited
	default:
		return AccessPrivate
	}
}

// Access is the decoded access variant. Limit is only set for Limited rooms.
type Access struct {
	Kind  AccessKind
	Limit *int
}

// PricingKind is the closed set of room pricing variants.
type PricingKind int

const (
	PricingKindFree PricingKind = iota
	PricingKindFlat
	PricingKindDonation
	PricingKindSubscription
)

func (k PricingKind) String() string {
	switch k {
	case PricingKindFlat:
		return PricingPaid
	case PricingKindDonation:
		return PricingDonation
	case PricingKindSubscription:
		return PricingSubscription
	default:
		return PricingFree
	}
}

// Pricing is the decoded pricing variant. Amount is set for Flat, PriceID for Subscription.
type Pricing struct {
	Kind    PricingKind
	Amount  float64
	PriceID string
}

// DecodeAccess maps a raw accesstype to its variant. Unknown values decode to
// Private so that they are never auto-joined.
func DecodeAccess(raw string, participantLimit *int) Access {
	switch {
	case strings.EqualFold(raw, AccessOpen):
		return Access{Kind: AccessKindOpen}
	case strings.EqualFold(raw, AccessLimited):
		return Access{Kind: AccessKindLimited, Limit: participantLimit}
	default:
		return Access{Kind: AccessKindPrivate}
	}
}

// DecodePricing maps raw pricing columns to a variant.
func DecodePricing(raw string, price *float64, priceID string) Pricing {
	switch {
	case strings.EqualFold(raw, PricingSubscription):
		return Pricing{Kind: PricingKindSubscription, PriceID: priceID}
	case strings.EqualFold(raw, PricingDonation):
		return Pricing{Kind: PricingKindDonation}
	case price != nil && *price > 0:
		return Pricing{Kind: PricingKindFlat, Amount: *price}
	default:
		return Pricing{Kind: PricingKindFree}
	}
}

func (r *Room) Access() Access {
	return DecodeAccess(r.AccessType, r.ParticipantLimit)
}

func (r *Room) Pricing() Pricing {
	return DecodePricing(r.PricingType, r.Price, r.StripePriceID)
}

// EffectiveCapacity is min(available_spots, participant_limit when Limited, 300).
func (r *Room) EffectiveCapacity() int {
	capacity := MaxRoomParticipants
	if r.AvailableSpots != nil && *r.AvailableSpots < capacity {
		capacity = *r.AvailableSpots
	}
	if access := r.Access(); access.Kind == AccessKindLimited && access.Limit != nil && *access.Limit < capacity {
		capacity = *access.Limit
	}
	if capacity < 0 {
		capacity = 0
	}
	return capacity
}

// ExpiresAt returns one_time_date for one-time rooms and end_datetime for recurring ones.
func (r *Room) ExpiresAt() *time.Time {
	if r.Recurring {
		return r.EndDatetime
	}
	return r.OneTimeDate
}

// Expired reports whether the room's expiry has passed. Rooms without an expiry never expire.
func (r *Room) Expired(now time.Time) bool {
	exp := r.ExpiresAt()
	return exp != nil && exp.Before(now)
}

// Listable reports whether the access type is one of the catalog-visible types.
func (r *Room) Listable() bool {
	return strings.EqualFold(r.AccessType, AccessOpen) ||
		strings.EqualFold(r.AccessType, AccessLimited) ||
		strings.EqualFold(r.AccessType, AccessPrivate)
}
