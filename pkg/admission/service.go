package admission

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"

	"kaboom-collab-backend/pkg/database"
	"kaboom-collab-backend/pkg/logging"
	"kaboom-collab-backend/pkg/models"
	"kaboom-collab-backend/pkg/payments"
)

// PaymentBridge starts charges for priced rooms.
type PaymentBridge interface {
	CreatePaymentIntent(ctx context.Context, room *models.Room, payer *models.User, amount float64, purpose payments.Purpose) (*payments.Checkout, error)
	CreateSubscription(ctx context.Context, room *models.Room, subscriber *models.User) (*payments.Checkout, error)
}

// Invalidator drops cached catalog listings after a ledger write.
type Invalidator interface {
	Invalidate(ctx context.Context)
}

// Outcome is what an admission operation reports back to the client.
// Step is 1 once a payment wizard has moved past the agreement step.
type Outcome struct {
	State       State                `json:"state"`
	RoomID      string               `json:"room_id"`
	Step        int                  `json:"step"`
	Participant *models.Participant  `json:"participant,omitempty"`
	Checkout    *payments.Checkout   `json:"checkout,omitempty"`
	Events      []models.DomainEvent `json:"-"`
}

type Service struct {
	db      database.DatabaseInterface
	bridge  PaymentBridge
	catalog Invalidator
	joins   singleflight.Group
	log     hclog.Logger
}

// NewService wires the admission service. catalog may be nil.
func NewService(db database.DatabaseInterface, bridge PaymentBridge, catalog Invalidator) *Service {
	return &Service{
		db:      db,
		bridge:  bridge,
		catalog: catalog,
		log:     logging.Named("admission"),
	}
}

// snapshot loads the room and everything Decide needs for viewer.
func (s *Service) snapshot(ctx context.Context, viewer *models.User, roomID string) (*models.Room, Input, error) {
	room, err := s.db.GetRoom(ctx, roomID)
	if err != nil {
		return nil, Input{}, fmt.Errorf("failed to load room %s: %w", roomID, err)
	}
	in := Input{Viewer: viewer, Room: room}
	if viewer == nil || viewer.ID == "" || viewer.ID == room.Host {
		return room, in, nil
	}

	p, err := s.db.GetParticipant(ctx, roomID, viewer.ID)
	switch {
	case err == nil:
		in.Participant = p
	case !errors.Is(err, database.ErrNotFound):
		return nil, Input{}, fmt.Errorf("failed to load participant: %w", err)
	}

	if in.AcceptedCount, err = s.db.CountAccepted(ctx, roomID); err != nil {
		return nil, Input{}, fmt.Errorf("failed to count participants: %w", err)
	}

	if room.Pricing().Kind == models.PricingKindSubscription {
		subs, err := s.db.ListRoomSubscriptions(ctx, roomID, viewer.ID)
		if err != nil {
			return nil, Input{}, fmt.Errorf("failed to load subscriptions: %w", err)
		}
		in.HasActiveSubscription = models.HasActiveSubscription(subs)
	}
	return room, in, nil
}

// Evaluate decides the viewer's state for a room. The only write it performs
// is admitting an active subscriber who has no ledger row.
func (s *Service) Evaluate(ctx context.Context, viewer *models.User, roomID string) (*Outcome, error) {
	room, in, err := s.snapshot(ctx, viewer, roomID)
	if err != nil {
		s.log.Error("admission lookup failed", "room", roomID, "error", err)
		return nil, err
	}
	d := Decide(in)
	if d.Backfill != nil {
		return s.join(ctx, viewer, room, d.Backfill)
	}
	return &Outcome{State: d.State, RoomID: room.ID, Participant: in.Participant}, nil
}

// ConfirmFreeJoin inserts the viewer's row for a free room. Confirming is the
// agreement. From any state other than FreeJoinConfirm it reports that state
// and writes nothing.
func (s *Service) ConfirmFreeJoin(ctx context.Context, viewer *models.User, roomID string) (*Outcome, error) {
	if viewer == nil || viewer.ID == "" {
		return &Outcome{State: StateUnauthenticated, RoomID: roomID}, nil
	}

	executed := false
	v, err, shared := s.joins.Do(roomID+"/"+viewer.ID, func() (interface{}, error) {
		executed = true
		return s.confirmFreeJoin(ctx, viewer, roomID)
	})
	if err != nil {
		return nil, err
	}
	out := v.(*Outcome)
	if shared && !executed {
		// events belong to the caller that did the write
		dup := *out
		dup.Events = nil
		return &dup, nil
	}
	return out, nil
}

func (s *Service) confirmFreeJoin(ctx context.Context, viewer *models.User, roomID string) (*Outcome, error) {
	room, in, err := s.snapshot(ctx, viewer, roomID)
	if err != nil {
		return nil, err
	}
	d := Decide(in)
	if d.State != StateFreeJoinConfirm {
		return &Outcome{State: d.State, RoomID: room.ID, Participant: in.Participant}, nil
	}
	return s.join(ctx, viewer, room, newParticipant(room, viewer, models.PaymentNone))
}

// SubmitDonation moves the donation wizard past step 0. A zero amount joins
// like a free room; a positive amount returns a checkout for step 1.
func (s *Service) SubmitDonation(ctx context.Context, viewer *models.User, roomID string, amount float64, checked bool) (*Outcome, error) {
	if amount < 0 {
		return nil, ErrInvalidAmount
	}
	room, d, err := s.gate(ctx, viewer, roomID, StateRequireDonationChoice, checked)
	if err != nil || d != nil {
		return d, err
	}
	if amount == 0 {
		return s.join(ctx, viewer, room, newParticipant(room, viewer, models.PaymentNone))
	}
	checkout, err := s.bridge.CreatePaymentIntent(ctx, room, viewer, amount, payments.PurposeDonation)
	if err != nil {
		return nil, err
	}
	return &Outcome{State: StateRequireDonationChoice, RoomID: room.ID, Step: 1, Checkout: checkout}, nil
}

// StartPayment returns a checkout for a flat-fee room.
func (s *Service) StartPayment(ctx context.Context, viewer *models.User, roomID string, checked bool) (*Outcome, error) {
	room, d, err := s.gate(ctx, viewer, roomID, StateRequirePaymentOrNDA, checked)
	if err != nil || d != nil {
		return d, err
	}
	checkout, err := s.bridge.CreatePaymentIntent(ctx, room, viewer, room.Pricing().Amount, payments.PurposeRoomFee)
	if err != nil {
		return nil, err
	}
	return &Outcome{State: StateRequirePaymentOrNDA, RoomID: room.ID, Step: 1, Checkout: checkout}, nil
}

// StartSubscription subscribes the viewer to the room's recurring price.
func (s *Service) StartSubscription(ctx context.Context, viewer *models.User, roomID string, checked bool) (*Outcome, error) {
	room, d, err := s.gate(ctx, viewer, roomID, StateRequireSubscription, checked)
	if err != nil || d != nil {
		return d, err
	}
	checkout, err := s.bridge.CreateSubscription(ctx, room, viewer)
	if err != nil {
		return nil, err
	}
	return &Outcome{State: StateRequireSubscription, RoomID: room.ID, Step: 1, Checkout: checkout}, nil
}

// gate re-evaluates before a priced step. When the viewer is not in want it
// returns that outcome instead; otherwise the agreement must be checked.
func (s *Service) gate(ctx context.Context, viewer *models.User, roomID string, want State, checked bool) (*models.Room, *Outcome, error) {
	room, in, err := s.snapshot(ctx, viewer, roomID)
	if err != nil {
		return nil, nil, err
	}
	d := Decide(in)
	if d.Backfill != nil {
		out, err := s.join(ctx, viewer, room, d.Backfill)
		return room, out, err
	}
	if d.State != want {
		return room, &Outcome{State: d.State, RoomID: room.ID, Participant: in.Participant}, nil
	}
	if !checked {
		return nil, nil, ErrAgreementRequired
	}
	return room, nil, nil
}

// join inserts p under the room's capacity guard.
func (s *Service) join(ctx context.Context, viewer *models.User, room *models.Room, p *models.Participant) (*Outcome, error) {
	err := s.db.InsertParticipant(ctx, p, room.EffectiveCapacity())
	switch {
	case errors.Is(err, database.ErrCapacityExceeded):
		return &Outcome{State: StateCapacityExceeded, RoomID: room.ID}, nil
	case errors.Is(err, database.ErrAlreadyExists):
		// a concurrent join won; report whatever it produced
		_, in, err := s.snapshot(ctx, viewer, room.ID)
		if err != nil {
			return nil, err
		}
		return &Outcome{State: Decide(in).State, RoomID: room.ID, Participant: in.Participant}, nil
	case err != nil:
		s.log.Error("failed to insert participant", "room", room.ID, "user", viewer.ID, "error", err)
		return nil, fmt.Errorf("failed to insert participant: %w", err)
	}

	s.invalidate(ctx)
	s.log.Info("participant joined", "room", room.ID, "user", viewer.ID, "status", p.Status)

	state := StateEnter
	if p.Status == models.ParticipantPending {
		state = StateJoinRequestSent
	}
	return &Outcome{
		State:       state,
		RoomID:      room.ID,
		Participant: p,
		Events:      []models.DomainEvent{models.JoinEvent(room, *viewer, p.Status)},
	}, nil
}

func newParticipant(room *models.Room, viewer *models.User, payment models.PaymentState) *models.Participant {
	return &models.Participant{
		ThinkTankID:         room.ID,
		ParticipantID:       viewer.ID,
		Status:              models.StatusForAccess(room.Access()),
		Payment:             payment,
		IsAgreementAccepted: true,
	}
}

func (s *Service) invalidate(ctx context.Context) {
	if s.catalog != nil {
		s.catalog.Invalidate(ctx)
	}
}

// hostRoom loads roomID and checks that host owns it.
func (s *Service) hostRoom(ctx context.Context, host *models.User, roomID string) (*models.Room, error) {
	room, err := s.db.GetRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to load room %s: %w", roomID, err)
	}
	if host == nil || room.Host != host.ID {
		return nil, ErrForbidden
	}
	return room, nil
}

// Approve moves a pending participant to Accepted, subject to capacity.
func (s *Service) Approve(ctx context.Context, host *models.User, roomID, participantID string) (*models.Participant, []models.DomainEvent, error) {
	room, err := s.hostRoom(ctx, host, roomID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.db.ApproveParticipant(ctx, roomID, participantID, room.EffectiveCapacity()); err != nil {
		return nil, nil, fmt.Errorf("failed to approve participant: %w", err)
	}
	s.invalidate(ctx)

	p, err := s.db.GetParticipant(ctx, roomID, participantID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to reload participant: %w", err)
	}
	evt := models.DomainEvent{
		Type:     models.NotificationJoinApproved,
		RoomID:   room.ID,
		Title:    room.Title,
		Host:     room.Host,
		Actor:    *host,
		Approved: participantID,
	}
	return p, []models.DomainEvent{evt}, nil
}

// ListPending returns the room's pending participants. Host only.
func (s *Service) ListPending(ctx context.Context, host *models.User, roomID string) ([]models.Participant, error) {
	if _, err := s.hostRoom(ctx, host, roomID); err != nil {
		return nil, err
	}
	rows, err := s.db.ListParticipants(ctx, []string{roomID})
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	pending := []models.Participant{}
	for _, p := range rows {
		if p.Status == models.ParticipantPending {
			pending = append(pending, p)
		}
	}
	return pending, nil
}

// Leave removes the viewer's ledger row.
func (s *Service) Leave(ctx context.Context, viewer *models.User, roomID string) error {
	if err := s.db.DeleteParticipant(ctx, roomID, viewer.ID); err != nil {
		return fmt.Errorf("failed to leave room: %w", err)
	}
	s.invalidate(ctx)
	return nil
}
