package admission

import (
	"context"
	"fmt"

	"kaboom-collab-backend/pkg/models"
)

// InvitationResponse is returned after an invitee answers. Admission is the
// decision for the target room and is only set on accept.
type InvitationResponse struct {
	Invitation *models.Invitation   `json:"invitation"`
	Admission  *Outcome             `json:"admission,omitempty"`
	Events     []models.DomainEvent `json:"-"`
}

func (s *Service) ListInvitations(ctx context.Context, viewer *models.User) ([]models.Invitation, error) {
	invs, err := s.db.ListInvitationsForReceiver(ctx, viewer.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	return invs, nil
}

// RespondToInvitation answers a pending invitation once.
func (s *Service) RespondToInvitation(ctx context.Context, viewer *models.User, invitationID string, accept bool) (*InvitationResponse, error) {
	inv, err := s.db.GetInvitation(ctx, invitationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load invitation %s: %w", invitationID, err)
	}
	if viewer == nil || inv.ReceiverID != viewer.ID {
		return nil, ErrForbidden
	}
	if inv.Status != models.InvitationPending {
		return nil, ErrInvitationClosed
	}

	if !accept {
		if err := s.db.UpdateInvitationStatus(ctx, inv.ID, models.InvitationDeclined); err != nil {
			return nil, fmt.Errorf("failed to decline invitation: %w", err)
		}
		inv.Status = models.InvitationDeclined
		return &InvitationResponse{Invitation: inv}, nil
	}

	room, err := s.db.GetRoom(ctx, inv.Action)
	if err != nil {
		return nil, fmt.Errorf("failed to load room %s: %w", inv.Action, err)
	}
	if err := s.db.UpdateInvitationStatus(ctx, inv.ID, models.InvitationAccepted); err != nil {
		return nil, fmt.Errorf("failed to accept invitation: %w", err)
	}
	inv.Status = models.InvitationAccepted

	out, err := s.Evaluate(ctx, viewer, room.ID)
	if err != nil {
		return nil, err
	}
	events := append([]models.DomainEvent{{
		Type:   models.NotificationInvitationAccepted,
		RoomID: room.ID,
		Title:  room.Title,
		Host:   room.Host,
		Actor:  *viewer,
		Sender: inv.Sender,
	}}, out.Events...)

	s.log.Info("invitation accepted", "invitation", inv.ID, "room", room.ID, "user", viewer.ID)
	return &InvitationResponse{Invitation: inv, Admission: out, Events: events}, nil
}
