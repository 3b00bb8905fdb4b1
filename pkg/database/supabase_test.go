package database

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaboom-collab-backend/pkg/models"
)

func TestSupabaseGetRoom(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/thinktank", r.URL.Path)
		assert.Equal(t, "eq.room-1", r.URL.Query().Get("id"))
		assert.Equal(t, "service-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))
		w.Write([]byte(`[{"id":"room-1","host":"h","accesstype":"Limited","pricingtype":"Free","participant_limit":2,"requested_boosting":3}]`))
	}))
	defer srv.Close()

	db := NewSupabaseDatabase(srv.URL, "service-key")
	room, err := db.GetRoom(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, "h", room.Host)
	require.NotNil(t, room.ParticipantLimit)
	assert.Equal(t, 2, *room.ParticipantLimit)
	assert.Equal(t, 2, room.EffectiveCapacity())
}

func TestSupabaseGetRoomNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	_, err := NewSupabaseDatabase(srv.URL, "k").GetRoom(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSupabaseInsertParticipant(t *testing.T) {
	var inserted models.Participant
	accepted := `[{"participant_id":"a"},{"participant_id":"b"}]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			assert.Equal(t, "eq.Accepted", r.URL.Query().Get("status"))
			w.Write([]byte(accepted))
		case http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			assert.NoError(t, json.Unmarshal(body, &inserted))
			if inserted.ParticipantID == "dup" {
				w.WriteHeader(http.StatusConflict)
				w.Write([]byte(`{"code":"23505"}`))
				return
			}
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte("[" + string(body) + "]"))
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	db := NewSupabaseDatabase(srv.URL, "k")

	err := db.InsertParticipant(ctx, &models.Participant{ThinkTankID: "r", ParticipantID: "c", Status: models.ParticipantAccepted}, 2)
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	err = db.InsertParticipant(ctx, &models.Participant{ThinkTankID: "r", ParticipantID: "c", Status: models.ParticipantPending, IsAgreementAccepted: true}, 3)
	require.NoError(t, err)
	assert.Equal(t, "c", inserted.ParticipantID)
	assert.True(t, inserted.IsAgreementAccepted)

	err = db.InsertParticipant(ctx, &models.Participant{ThinkTankID: "r", ParticipantID: "dup"}, NoCapacityLimit)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestSupabaseListParticipantsUsesInFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filter := r.URL.Query().Get("think_tank_id")
		assert.True(t, strings.HasPrefix(filter, "in.("), filter)
		assert.Contains(t, filter, `"r1"`)
		assert.Contains(t, filter, `"r2"`)
		w.Write([]byte(`[{"think_tank_id":"r1","participant_id":"a","status":"Accepted"}]`))
	}))
	defer srv.Close()

	rows, err := NewSupabaseDatabase(srv.URL, "k").ListParticipants(context.Background(), []string{"r1", "r2"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.ParticipantAccepted, rows[0].Status)
}

func TestSupabaseApproveParticipantNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPatch {
			assert.Equal(t, "eq.Pending", r.URL.Query().Get("status"))
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	err := NewSupabaseDatabase(srv.URL, "k").ApproveParticipant(context.Background(), "r", "u", 5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSupabaseErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewSupabaseDatabase(srv.URL, "k").ListRooms(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestSupabaseSubscriptionStatusGuard(t *testing.T) {
	var patches []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "eq.sub_1", r.URL.Query().Get("stripe_subscription_id"))
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`[{"id":"s1","room_id":"r","subscriber_id":"u","stripe_subscription_id":"sub_1","status":"active"}]`))
		case http.MethodPatch:
			patches = append(patches, r.URL.Query().Get("status"))
			w.Write([]byte(`[{"id":"s1","room_id":"r","subscriber_id":"u","stripe_subscription_id":"sub_1","status":"past_due"}]`))
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	db := NewSupabaseDatabase(srv.URL, "k")

	sub, err := db.UpdateRoomSubscriptionStatus(ctx, "sub_1", models.StatusIncomplete)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, sub.Status)
	assert.Empty(t, patches)

	sub, err = db.UpdateRoomSubscriptionStatus(ctx, "sub_1", models.StatusPastDue)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPastDue, sub.Status)
	assert.Equal(t, []string{"eq.active"}, patches)
}

func TestSupabaseUpdateInvitationClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPatch:
			assert.Equal(t, "eq.Pending", r.URL.Query().Get("status"))
			w.Write([]byte(`[]`))
		case http.MethodGet:
			w.Write([]byte(`[{"id":"inv1","status":"Accepted","receiver_id":"u"}]`))
		}
	}))
	defer srv.Close()

	err := NewSupabaseDatabase(srv.URL, "k").UpdateInvitationStatus(context.Background(), "inv1", models.InvitationDeclined)
	assert.ErrorIs(t, err, ErrInvitationClosed)
}
