package admission

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"kaboom-collab-backend/pkg/models"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestDecide(t *testing.T) {
	viewer := &models.User{ID: "u1"}
	open := &models.Room{ID: "r", Host: "h", AccessType: models.AccessOpen, PricingType: models.PricingFree}
	limited := &models.Room{ID: "r", Host: "h", AccessType: models.AccessLimited, ParticipantLimit: intPtr(2), PricingType: models.PricingFree}
	paid := &models.Room{ID: "r", Host: "h", AccessType: models.AccessOpen, PricingType: models.PricingPaid, Price: floatPtr(20)}
	donation := &models.Room{ID: "r", Host: "h", AccessType: models.AccessOpen, PricingType: models.PricingDonation}
	subscription := &models.Room{ID: "r", Host: "h", AccessType: models.AccessOpen, PricingType: models.PricingSubscription, StripePriceID: "price_1"}
	spots := &models.Room{ID: "r", Host: "h", AccessType: models.AccessOpen, PricingType: models.PricingFree, AvailableSpots: intPtr(5)}

	accepted := &models.Participant{ThinkTankID: "r", ParticipantID: "u1", Status: models.ParticipantAccepted}
	pending := &models.Participant{ThinkTankID: "r", ParticipantID: "u1", Status: models.ParticipantPending}
	paidRow := &models.Participant{ThinkTankID: "r", ParticipantID: "u1", Status: models.ParticipantAccepted, Payment: models.PaymentPaid}

	tests := []struct {
		name string
		in   Input
		want State
	}{
		{"anonymous", Input{Room: open}, StateUnauthenticated},
		{"host enters a paid room", Input{Viewer: &models.User{ID: "h"}, Room: paid}, StateHostRedirect},
		{"host enters a full room", Input{Viewer: &models.User{ID: "h"}, Room: spots, AcceptedCount: 5}, StateHostRedirect},
		{"available spots reached", Input{Viewer: viewer, Room: spots, AcceptedCount: 5}, StateCapacityExceeded},
		{"one spot left", Input{Viewer: viewer, Room: spots, AcceptedCount: 4}, StateFreeJoinConfirm},
		{"participant limit reached", Input{Viewer: viewer, Room: limited, AcceptedCount: 2}, StateCapacityExceeded},
		{"platform ceiling", Input{Viewer: viewer, Room: open, AcceptedCount: models.MaxRoomParticipants}, StateCapacityExceeded},
		{"pending row in full room", Input{Viewer: viewer, Room: spots, Participant: pending, AcceptedCount: 5}, StateCapacityExceeded},
		{"accepted row in full room", Input{Viewer: viewer, Room: spots, Participant: accepted, AcceptedCount: 5}, StateEnter},
		{"accepted row", Input{Viewer: viewer, Room: open, Participant: accepted}, StateEnter},
		{"pending row", Input{Viewer: viewer, Room: limited, Participant: pending}, StatePendingApproval},
		{"unpaid row in paid room", Input{Viewer: viewer, Room: paid, Participant: accepted}, StateRequirePaymentOrNDA},
		{"paid row in paid room", Input{Viewer: viewer, Room: paid, Participant: paidRow}, StateEnter},
		{"row without subscription", Input{Viewer: viewer, Room: subscription, Participant: paidRow}, StateRequireSubscription},
		{"row with subscription", Input{Viewer: viewer, Room: subscription, Participant: accepted, HasActiveSubscription: true}, StateEnter},
		{"donation row needs no payment", Input{Viewer: viewer, Room: donation, Participant: accepted}, StateEnter},
		{"new to subscription room", Input{Viewer: viewer, Room: subscription}, StateRequireSubscription},
		{"new to donation room", Input{Viewer: viewer, Room: donation}, StateRequireDonationChoice},
		{"new to paid room", Input{Viewer: viewer, Room: paid}, StateRequirePaymentOrNDA},
		{"new to free open room", Input{Viewer: viewer, Room: open}, StateFreeJoinConfirm},
		{"new to free limited room", Input{Viewer: viewer, Room: limited, AcceptedCount: 1}, StateFreeJoinConfirm},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.in)
			assert.Equal(t, tt.want, d.State)
			assert.Nil(t, d.Backfill)
		})
	}
}

func TestDecideHostAlwaysRedirects(t *testing.T) {
	host := &models.User{ID: "h"}
	for _, access := range []string{models.AccessOpen, models.AccessLimited, models.AccessPrivate} {
		for _, pricing := range []string{models.PricingFree, models.PricingPaid, models.PricingDonation, models.PricingSubscription} {
			room := &models.Room{ID: "r", Host: "h", AccessType: access, PricingType: pricing, Price: floatPtr(10), AvailableSpots: intPtr(0)}
			for _, p := range []*models.Participant{nil, {Status: models.ParticipantPending}} {
				assert.Equal(t, StateHostRedirect, Decide(Input{Viewer: host, Room: room, Participant: p}).State, "%s/%s", access, pricing)
			}
		}
	}
}

func TestDecideBackfillsActiveSubscriber(t *testing.T) {
	viewer := &models.User{ID: "u1"}

	open := &models.Room{ID: "r", Host: "h", AccessType: models.AccessOpen, PricingType: models.PricingSubscription}
	d := Decide(Input{Viewer: viewer, Room: open, HasActiveSubscription: true})
	assert.Equal(t, StateEnter, d.State)
	if assert.NotNil(t, d.Backfill) {
		assert.Equal(t, models.ParticipantAccepted, d.Backfill.Status)
		assert.Equal(t, models.PaymentSubscription, d.Backfill.Payment)
		assert.True(t, d.Backfill.IsAgreementAccepted)
	}

	private := &models.Room{ID: "r", Host: "h", AccessType: models.AccessPrivate, PricingType: models.PricingSubscription}
	d = Decide(Input{Viewer: viewer, Room: private, HasActiveSubscription: true})
	assert.Equal(t, StatePendingApproval, d.State)
	if assert.NotNil(t, d.Backfill) {
		assert.Equal(t, models.ParticipantPending, d.Backfill.Status)
	}
}
