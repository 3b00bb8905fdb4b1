// Package admission decides whether a viewer may enter a room and performs
// the ledger writes that follow from the decision.
package admission

import "kaboom-collab-backend/pkg/models"

// State is the outcome of an admission decision.
type State string

const (
	StateUnauthenticated       State = "Unauthenticated"
	StateHostRedirect          State = "HostRedirect"
	StateEnter                 State = "Enter"
	StatePendingApproval       State = "PendingApproval"
	StateCapacityExceeded      State = "CapacityExceeded"
	StateRequirePaymentOrNDA   State = "RequirePaymentOrNDA"
	StateRequireDonationChoice State = "RequireDonationChoice"
	StateRequireSubscription   State = "RequireSubscription"
	StateFreeJoinConfirm       State = "FreeJoinConfirm"
	StateJoinRequestSent       State = "JoinRequestSent"
)

// Input is an immutable snapshot of everything a decision depends on.
type Input struct {
	Viewer                *models.User
	Room                  *models.Room
	Participant           *models.Participant // nil when the viewer has no ledger row
	AcceptedCount         int
	HasActiveSubscription bool
}

// Decision is the result of Decide. Backfill is set when an active subscriber
// has no ledger row yet; the caller is expected to insert it.
type Decision struct {
	State    State
	Backfill *models.Participant
}

// Decide evaluates the admission rules in order; the first match wins.
func Decide(in Input) Decision {
	if in.Viewer == nil || in.Viewer.ID == "" {
		return Decision{State: StateUnauthenticated}
	}
	if in.Room.Host == in.Viewer.ID {
		return Decision{State: StateHostRedirect}
	}

	p := in.Participant
	alreadyAccepted := p != nil && p.Status == models.ParticipantAccepted
	if !alreadyAccepted && in.AcceptedCount >= in.Room.EffectiveCapacity() {
		return Decision{State: StateCapacityExceeded}
	}

	pricing := in.Room.Pricing()
	if p != nil {
		switch {
		case pricing.Kind == models.PricingKindSubscription && !in.HasActiveSubscription:
			return Decision{State: StateRequireSubscription}
		case pricing.Kind == models.PricingKindFlat && !p.HasPaid():
			return Decision{State: StateRequirePaymentOrNDA}
		case p.Status == models.ParticipantPending:
			return Decision{State: StatePendingApproval}
		default:
			return Decision{State: StateEnter}
		}
	}

	switch pricing.Kind {
	case models.PricingKindSubscription:
		if in.HasActiveSubscription {
			return backfill(in)
		}
		return Decision{State: StateRequireSubscription}
	case models.PricingKindDonation:
		return Decision{State: StateRequireDonationChoice}
	case models.PricingKindFlat:
		return Decision{State: StateRequirePaymentOrNDA}
	default:
		return Decision{State: StateFreeJoinConfirm}
	}
}

// backfill admits a subscriber whose ledger row was never written, with the
// status the room's access type gives a new join.
func backfill(in Input) Decision {
	p := &models.Participant{
		ThinkTankID:         in.Room.ID,
		ParticipantID:       in.Viewer.ID,
		Status:              models.StatusForAccess(in.Room.Access()),
		Payment:             models.PaymentSubscription,
		IsAgreementAccepted: true,
	}
	return Decision{State: stateFor(p.Status), Backfill: p}
}

func stateFor(status models.ParticipantStatus) State {
	if status == models.ParticipantAccepted {
		return StateEnter
	}
	return StatePendingApproval
}
