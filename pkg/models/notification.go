package models

import (
	"time"

	"gorm.io/datatypes"
)

type NotificationType string

const (
	NotificationRoomJoined         NotificationType = "room_joined"
	NotificationJoinRequested      NotificationType = "join_requested"
	NotificationInvitationAccepted NotificationType = "invitation_accepted"
	NotificationJoinApproved       NotificationType = "join_approved"
)

// Notification is an in-app notification row.
type Notification struct {
	ID        string           `json:"id" db:"id" gorm:"primaryKey"`
	UserID    string           `json:"user_id" db:"user_id" gorm:"index"`
	Type      NotificationType `json:"type" db:"type"`
	Message   string           `json:"message" db:"message"`
	Data      datatypes.JSON   `json:"data,omitempty" db:"data"`
	Read      bool             `json:"read" db:"read"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
}

func (Notification) TableName() string {
	return "notifications"
}

// DomainEvent is emitted by admission and consumed by the notification dispatcher.
type DomainEvent struct {
	Type     NotificationType `json:"type"`
	RoomID   string           `json:"room_id"`
	Title    string           `json:"title"`
	Actor    User             `json:"actor"`
	Host     string           `json:"host"`
	Sender   string           `json:"sender,omitempty"` // inviter, for InvitationAccepted
	Approved string           `json:"approved,omitempty"`
}

// JoinEvent is RoomJoined for accepted rows and JoinRequested for pending ones.
func JoinEvent(room *Room, actor User, status ParticipantStatus) DomainEvent {
	t := NotificationRoomJoined
	if status == ParticipantPending {
		t = NotificationJoinRequested
	}
	return DomainEvent{Type: t, RoomID: room.ID, Title: room.Title, Host: room.Host, Actor: actor}
}
