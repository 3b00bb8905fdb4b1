package models

import "time"

type ParticipantStatus string

const (
	ParticipantPending  ParticipantStatus = "Pending"
	ParticipantAccepted ParticipantStatus = "Accepted"
)

// PaymentState records how a participant settled a priced room.
type PaymentState string

const (
	PaymentNone         PaymentState = ""
	PaymentPaid         PaymentState = "Paid"
	PaymentSubscription PaymentState = "Subscription"
)

// Participant is a ledger row keyed by (think_tank_id, participant_id).
type Participant struct {
	ThinkTankID         string            `json:"think_tank_id" db:"think_tank_id" gorm:"primaryKey"`
	ParticipantID       string            `json:"participant_id" db:"participant_id" gorm:"primaryKey;index"`
	Status              ParticipantStatus `json:"status" db:"status" gorm:"index"`
	Payment             PaymentState      `json:"payment,omitempty" db:"payment"`
	IsAgreementAccepted bool              `json:"is_agreement_accepted" db:"is_agreement_accepted"`
	CreatedAt           time.Time         `json:"created_at" db:"created_at"`
}

func (Participant) TableName() string {
	return "think_tank_participants"
}

// HasPaid reports whether a priced room has been settled for this row.
func (p *Participant) HasPaid() bool {
	return p.Payment == PaymentPaid || p.Payment == PaymentSubscription
}

// StatusForAccess is the initial ledger status for a join: Open rooms admit
// directly, everything else waits for the host.
func StatusForAccess(a Access) ParticipantStatus {
	if a.Kind == AccessKindOpen {
		return ParticipantAccepted
	}
	return ParticipantPending
}
