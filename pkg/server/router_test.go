package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"

	"kaboom-collab-backend/pkg/config"
	"kaboom-collab-backend/pkg/database"
	"kaboom-collab-backend/pkg/models"
	"kaboom-collab-backend/pkg/payments"
	"kaboom-collab-backend/pkg/utils"
)

const (
	testSecret        = "test-secret"
	testWebhookSecret = "whsec_test"
)

type stubProcessor struct {
	mu      sync.Mutex
	intents []payments.PaymentIntentParams
}

func (p *stubProcessor) CreatePaymentIntent(_ context.Context, in payments.PaymentIntentParams) (*payments.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.intents = append(p.intents, in)
	id := fmt.Sprintf("pi_%d", len(p.intents))
	return &payments.Intent{ID: id, ClientSecret: id + "_secret"}, nil
}

func (p *stubProcessor) CreateCustomer(context.Context, string, string, map[string]string) (string, error) {
	return "cus_1", nil
}

func (p *stubProcessor) CreateSubscription(_ context.Context, in payments.SubscriptionParams) (*payments.Subscription, error) {
	return &payments.Subscription{
		ID:     "sub_1",
		Status: "incomplete",
		LatestInvoice: &payments.Invoice{
			ID: "in_1", Status: "open",
			PaymentIntent: &payments.Intent{ID: "pi_sub", ClientSecret: "pi_sub_secret"},
		},
	}, nil
}

func (p *stubProcessor) FinalizeInvoice(_ context.Context, id string) (*payments.Invoice, error) {
	return &payments.Invoice{ID: id, Status: "open"}, nil
}

func (p *stubProcessor) GetInvoice(_ context.Context, id string) (*payments.Invoice, error) {
	return &payments.Invoice{ID: id, Status: "open"}, nil
}

func (p *stubProcessor) CancelSubscription(context.Context, string) error { return nil }

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type testServer struct {
	app    *App
	db     *database.LocalDatabase
	router http.Handler
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func newTestServer(t *testing.T, processor payments.Processor) *testServer {
	t.Helper()
	ctx := context.Background()
	db, err := database.NewLocalDatabase("file:"+uuid.NewString()+"?mode=memory&cache=shared", false)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Seed(ctx,
		&models.Profile{ID: "host", Email: "host@example.com", Username: "hosty", StripeAccountID: "acct_host"},
		&models.Profile{ID: "guest", Email: "guest@example.com", Username: "guesty"},
		&models.Room{ID: "open", Host: "host", Title: "Open jam", AccessType: models.AccessOpen, PricingType: models.PricingFree, AvailableSpots: intPtr(10)},
		&models.Room{ID: "private", Host: "host", Title: "Inner circle", AccessType: models.AccessPrivate, PricingType: models.PricingFree},
		&models.Room{ID: "paid", Host: "host", Title: "Masterclass", AccessType: models.AccessOpen, PricingType: models.PricingPaid, Price: floatPtr(25)},
		&models.Room{ID: "donation", Host: "host", Title: "Tip jar", AccessType: models.AccessOpen, PricingType: models.PricingDonation},
		&models.Invitation{ID: "inv1", Status: models.InvitationPending, ReceiverID: "guest", Sender: "host", Action: "private"},
	))

	cfg := &config.Config{
		Environment:         "test",
		JWTSecret:           testSecret,
		StripeWebhookSecret: testWebhookSecret,
		StripeCurrency:      "usd",
		PlatformFeePercent:  20,
		NotifyQueueSize:     16,
		NotifyWorkers:       1,
		AllowedOrigins:      []string{"*"},
	}
	app := NewApp(cfg, db, processor, nil)
	t.Cleanup(app.Close)
	return &testServer{app: app, db: db, router: app.Router()}
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, _, err := utils.NewJWTService(testSecret).GenerateAccessToken(userID, userID+"@example.com", time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, userID, body string) (int, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, userID))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func decode(t *testing.T, env envelope, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, v))
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t, nil)
	code, env := s.do(t, http.MethodGet, "/", "", "")
	assert.Equal(t, http.StatusOK, code)

	var health map[string]interface{}
	decode(t, env, &health)
	assert.Equal(t, "sqlite", health["database"])
	assert.Equal(t, "healthy", health["db_status"])
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t, nil)
	code, env := s.do(t, http.MethodGet, "/api/nope", "", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, env.Success)
}

func TestListRoomsHidesGatedRoomsFromAnonymous(t *testing.T) {
	s := newTestServer(t, nil)

	ids := func(env envelope) []string {
		var res struct {
			Rooms []models.Room `json:"rooms"`
		}
		decode(t, env, &res)
		out := []string{}
		for _, r := range res.Rooms {
			out = append(out, r.ID)
		}
		return out
	}

	code, env := s.do(t, http.MethodGet, "/api/rooms", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.NotContains(t, ids(env), "private")
	assert.Contains(t, ids(env), "open")

	code, env = s.do(t, http.MethodGet, "/api/rooms", "guest", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, ids(env), "private")
}

func TestEvaluateAnonymousAndMissingRoom(t *testing.T) {
	s := newTestServer(t, nil)

	code, env := s.do(t, http.MethodGet, "/api/rooms/open/admission", "", "")
	require.Equal(t, http.StatusOK, code)
	var out struct {
		State string `json:"state"`
	}
	decode(t, env, &out)
	assert.Equal(t, "Unauthenticated", out.State)

	code, env = s.do(t, http.MethodGet, "/api/rooms/missing/admission", "guest", "")
	assert.Equal(t, http.StatusNotFound, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestWritesRequireAuthentication(t *testing.T) {
	s := newTestServer(t, nil)
	code, _ := s.do(t, http.MethodPost, "/api/rooms/open/join", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	req := httptest.NewRequest(http.MethodPost, "/api/rooms/open/join", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJoinNotifiesHost(t *testing.T) {
	s := newTestServer(t, nil)

	code, env := s.do(t, http.MethodPost, "/api/rooms/open/join", "guest", "")
	require.Equal(t, http.StatusOK, code)
	var out struct {
		State string `json:"state"`
	}
	decode(t, env, &out)
	assert.Equal(t, "Enter", out.State)

	code, env = s.do(t, http.MethodGet, "/api/rooms/open/admission", "guest", "")
	require.Equal(t, http.StatusOK, code)
	decode(t, env, &out)
	assert.Equal(t, "Enter", out.State)

	s.app.Close()
	notes, err := s.db.ListNotifications(context.Background(), "host")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, models.NotificationRoomJoined, notes[0].Type)
}

func TestDonationRequest(t *testing.T) {
	proc := &stubProcessor{}
	s := newTestServer(t, proc)

	code, env := s.do(t, http.MethodPost, "/api/rooms/donation/donation", "guest", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	code, env = s.do(t, http.MethodPost, "/api/rooms/donation/donation", "guest", `{"amount": 5}`)
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "AGREEMENT_REQUIRED", env.Error.Code)

	code, env = s.do(t, http.MethodPost, "/api/rooms/donation/donation", "guest", `{"amount": 5, "checked": true}`)
	require.Equal(t, http.StatusOK, code)
	var out struct {
		State    string            `json:"state"`
		Step     int               `json:"step"`
		Checkout payments.Checkout `json:"checkout"`
	}
	decode(t, env, &out)
	assert.Equal(t, "RequireDonationChoice", out.State)
	assert.Equal(t, 1, out.Step)
	assert.Equal(t, "pi_1_secret", out.Checkout.ClientSecret)
	assert.Equal(t, int64(500), out.Checkout.Amount)
}

func TestPaymentWithoutProcessor(t *testing.T) {
	s := newTestServer(t, nil)
	code, env := s.do(t, http.MethodPost, "/api/rooms/paid/payment", "guest", `{"checked": true}`)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "PAYMENTS_NOT_CONFIGURED", env.Error.Code)
}

func TestRequestBodyMustBeJSON(t *testing.T) {
	s := newTestServer(t, &stubProcessor{})
	req := httptest.NewRequest(http.MethodPost, "/api/rooms/paid/payment", strings.NewReader("checked=true"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token(t, "guest"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHostApproval(t *testing.T) {
	s := newTestServer(t, nil)

	code, env := s.do(t, http.MethodPost, "/api/rooms/private/join", "guest", "")
	require.Equal(t, http.StatusOK, code)
	var out struct {
		State string `json:"state"`
	}
	decode(t, env, &out)
	assert.Equal(t, "JoinRequestSent", out.State)

	code, _ = s.do(t, http.MethodGet, "/api/rooms/private/participants/pending", "guest", "")
	assert.Equal(t, http.StatusForbidden, code)

	code, env = s.do(t, http.MethodGet, "/api/rooms/private/participants/pending", "host", "")
	require.Equal(t, http.StatusOK, code)
	var pending struct {
		Total int `json:"total"`
	}
	decode(t, env, &pending)
	assert.Equal(t, 1, pending.Total)

	code, _ = s.do(t, http.MethodPost, "/api/rooms/private/participants/guest/approve", "guest", "")
	assert.Equal(t, http.StatusForbidden, code)

	code, env = s.do(t, http.MethodPost, "/api/rooms/private/participants/guest/approve", "host", "")
	require.Equal(t, http.StatusOK, code)
	var p models.Participant
	decode(t, env, &p)
	assert.Equal(t, models.ParticipantAccepted, p.Status)

	code, env = s.do(t, http.MethodDelete, "/api/rooms/private/participants/me", "guest", "")
	require.Equal(t, http.StatusOK, code)
	_, err := s.db.GetParticipant(context.Background(), "private", "guest")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestRespondToInvitation(t *testing.T) {
	s := newTestServer(t, nil)

	code, env := s.do(t, http.MethodGet, "/api/invitations", "guest", "")
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Total int `json:"total"`
	}
	decode(t, env, &list)
	assert.Equal(t, 1, list.Total)

	code, _ = s.do(t, http.MethodPost, "/api/invitations/inv1/respond", "guest", `{"action": "maybe"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodPost, "/api/invitations/inv1/respond", "host", `{"action": "accept"}`)
	assert.Equal(t, http.StatusForbidden, code)

	code, env = s.do(t, http.MethodPost, "/api/invitations/inv1/respond", "guest", `{"action": "accept"}`)
	require.Equal(t, http.StatusOK, code)
	var res struct {
		Invitation models.Invitation `json:"invitation"`
		Admission  struct {
			State string `json:"state"`
		} `json:"admission"`
	}
	decode(t, env, &res)
	assert.Equal(t, models.InvitationAccepted, res.Invitation.Status)
	assert.Equal(t, "FreeJoinConfirm", res.Admission.State)

	code, env = s.do(t, http.MethodPost, "/api/invitations/inv1/respond", "guest", `{"action": "decline"}`)
	assert.Equal(t, http.StatusConflict, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVITATION_CLOSED", env.Error.Code)
}

func TestStripeWebhook(t *testing.T) {
	s := newTestServer(t, &stubProcessor{})
	payload := []byte(`{
		"id": "evt_1",
		"object": "event",
		"type": "payment_intent.succeeded",
		"data": {"object": {"id": "pi_1", "object": "payment_intent",
			"metadata": {"room_id": "paid", "user_id": "guest", "purpose": "room_fee"}}}
	}`)

	post := func(header string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", strings.NewReader(string(payload)))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Stripe-Signature", header)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusBadRequest, post("t=1,v1=deadbeef"))
	_, err := s.db.GetParticipant(context.Background(), "paid", "guest")
	assert.ErrorIs(t, err, database.ErrNotFound)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	assert.Equal(t, http.StatusOK, post(signed.Header))

	p, err := s.db.GetParticipant(context.Background(), "paid", "guest")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, p.Payment)
	assert.Equal(t, models.ParticipantAccepted, p.Status)

	code, env := s.do(t, http.MethodGet, "/api/rooms/paid/admission", "guest", "")
	require.Equal(t, http.StatusOK, code)
	var out struct {
		State string `json:"state"`
	}
	decode(t, env, &out)
	assert.Equal(t, "Enter", out.State)
}
