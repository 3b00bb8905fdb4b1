package models

import "time"

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "Pending"
	InvitationAccepted InvitationStatus = "Accepted"
	InvitationDeclined InvitationStatus = "Declined"
)

// Invitation is a direct peer invite into a room. Action holds the target room id.
type Invitation struct {
	ID         string           `json:"id" db:"id" gorm:"primaryKey"`
	Status     InvitationStatus `json:"status" db:"status"`
	ReceiverID string           `json:"receiver_id" db:"receiver_id" gorm:"index"`
	Sender     string           `json:"sender" db:"sender"`
	Action     string           `json:"action" db:"action"`
	CreatedAt  time.Time        `json:"created_at" db:"created_at"`
}

func (Invitation) TableName() string {
	return "invitations"
}
