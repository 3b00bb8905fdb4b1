package notify

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaboom-collab-backend/pkg/database"
	"kaboom-collab-backend/pkg/models"
)

type sentMail struct {
	To      Recipient
	Subject string
	Text    string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *fakeMailer) Send(_ context.Context, to Recipient, subject, text, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Text: text})
	return nil
}

func newTestStore(t *testing.T) *database.LocalDatabase {
	t.Helper()
	db, err := database.NewLocalDatabase("file:"+uuid.NewString()+"?mode=memory&cache=shared", false)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Seed(context.Background(),
		&models.Profile{ID: "host", Email: "host@example.com", Username: "hosty"},
		&models.Profile{ID: "guest", Email: "guest@example.com", Username: "guesty"},
	))
	return db
}

func TestDeliverRoomJoined(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)
	mailer := &fakeMailer{}
	d := NewDispatcher(db, mailer, 4, 1)
	defer d.Close()

	evt := models.DomainEvent{Type: models.NotificationRoomJoined, RoomID: "r1", Title: "Jam", Host: "host", Actor: models.User{ID: "guest"}}
	require.NoError(t, d.Deliver(ctx, evt))

	notes, err := db.ListNotifications(ctx, "host")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, models.NotificationRoomJoined, notes[0].Type)
	assert.Equal(t, "guesty joined Jam.", notes[0].Message)
	assert.JSONEq(t, `{"room_id":"r1","actor_id":"guest"}`, string(notes[0].Data))

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "host@example.com", mailer.sent[0].To.Email)
	assert.Equal(t, "New participant in Jam", mailer.sent[0].Subject)
}

func TestDeliverRecipients(t *testing.T) {
	tests := []struct {
		name string
		evt  models.DomainEvent
		want string
	}{
		{"join request goes to host", models.DomainEvent{Type: models.NotificationJoinRequested, Host: "host"}, "host"},
		{"invitation accepted goes to sender", models.DomainEvent{Type: models.NotificationInvitationAccepted, Host: "x", Sender: "guest"}, "guest"},
		{"approval goes to participant", models.DomainEvent{Type: models.NotificationJoinApproved, Host: "host", Approved: "guest"}, "guest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := render(tt.evt, "someone")
			require.True(t, ok)
			assert.Equal(t, tt.want, msg.UserID)
		})
	}

	_, ok := render(models.DomainEvent{Type: models.NotificationRoomJoined}, "someone")
	assert.False(t, ok)
}

func TestDeliverMailFailureStillWritesRow(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)
	d := NewDispatcher(db, &fakeMailer{err: errors.New("smtp down")}, 4, 1)
	defer d.Close()

	err := d.Deliver(ctx, models.DomainEvent{Type: models.NotificationJoinApproved, Title: "Jam", Approved: "guest"})
	assert.Error(t, err)

	notes, err := db.ListNotifications(ctx, "guest")
	require.NoError(t, err)
	assert.Len(t, notes, 1)
}

func TestDeliverUnknownRecipientSkipsEmail(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)
	mailer := &fakeMailer{}
	d := NewDispatcher(db, mailer, 4, 1)
	defer d.Close()

	require.NoError(t, d.Deliver(ctx, models.DomainEvent{Type: models.NotificationRoomJoined, Host: "ghost", Actor: models.User{Email: "a@b.c"}}))
	assert.Empty(t, mailer.sent)
}

func TestEnqueueDrainsOnClose(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)
	mailer := &fakeMailer{}
	d := NewDispatcher(db, mailer, 16, 2)

	for i := 0; i < 5; i++ {
		d.Enqueue(models.DomainEvent{Type: models.NotificationJoinRequested, Title: "Jam", Host: "host", Actor: models.User{ID: "guest"}})
	}
	d.Close()
	d.Close()

	notes, err := db.ListNotifications(ctx, "host")
	require.NoError(t, err)
	assert.Len(t, notes, 5)
	assert.Len(t, mailer.sent, 5)

	// enqueue after close is dropped, not a panic
	d.Enqueue(models.DomainEvent{Type: models.NotificationJoinRequested, Host: "host"})
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	d := &Dispatcher{log: hclog.NewNullLogger(), queue: make(chan models.DomainEvent, 1)}
	d.Enqueue(
		models.DomainEvent{Type: models.NotificationRoomJoined, RoomID: "a"},
		models.DomainEvent{Type: models.NotificationRoomJoined, RoomID: "b"},
	)
	require.Len(t, d.queue, 1)
	assert.Equal(t, "a", (<-d.queue).RoomID)
}

type fakeSendClient struct {
	resp *rest.Response
	got  *mail.SGMailV3
}

func (c *fakeSendClient) SendWithContext(_ context.Context, email *mail.SGMailV3) (*rest.Response, error) {
	c.got = email
	return c.resp, nil
}

func TestSendGridMailer(t *testing.T) {
	client := &fakeSendClient{resp: &rest.Response{StatusCode: http.StatusAccepted}}
	m := &SendGridMailer{client: client, from: mail.NewEmail("Kaboom", "noreply@kaboom.test")}

	require.NoError(t, m.Send(context.Background(), Recipient{Name: "G", Email: "g@example.com"}, "Hi", "text", "<p>text</p>"))
	require.NotNil(t, client.got)
	assert.Equal(t, "Hi", client.got.Subject)
	assert.Equal(t, "noreply@kaboom.test", client.got.From.Address)

	client.resp = &rest.Response{StatusCode: http.StatusUnauthorized, Body: "bad key"}
	assert.Error(t, m.Send(context.Background(), Recipient{Email: "g@example.com"}, "Hi", "text", ""))
}
