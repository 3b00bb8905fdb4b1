package notify

import (
	"fmt"
	"html"

	"kaboom-collab-backend/pkg/models"
)

// message is one rendered notice for one recipient.
type message struct {
	UserID  string
	Subject string
	Text    string
}

// render picks the recipient of evt and its copy. actor is the display name
// of the user who caused the event.
func render(evt models.DomainEvent, actor string) (message, bool) {
	title := evt.Title
	if title == "" {
		title = "your room"
	}
	switch evt.Type {
	case models.NotificationRoomJoined:
		return message{
			UserID:  evt.Host,
			Subject: "New participant in " + title,
			Text:    fmt.Sprintf("%s joined %s.", actor, title),
		}, evt.Host != ""
	case models.NotificationJoinRequested:
		return message{
			UserID:  evt.Host,
			Subject: "Join request for " + title,
			Text:    fmt.Sprintf("%s asked to join %s. Review pending participants to approve.", actor, title),
		}, evt.Host != ""
	case models.NotificationInvitationAccepted:
		return message{
			UserID:  evt.Sender,
			Subject: "Invitation accepted",
			Text:    fmt.Sprintf("%s accepted your invitation to %s.", actor, title),
		}, evt.Sender != ""
	case models.NotificationJoinApproved:
		return message{
			UserID:  evt.Approved,
			Subject: "You're in: " + title,
			Text:    fmt.Sprintf("Your request to join %s was approved.", title),
		}, evt.Approved != ""
	}
	return message{}, false
}

func (m message) HTML() string {
	return "<p>" + html.EscapeString(m.Text) + "</p>"
}
