// Package notify delivers best-effort in-app and email notices for admission events.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"kaboom-collab-backend/pkg/database"
	"kaboom-collab-backend/pkg/logging"
	"kaboom-collab-backend/pkg/models"
)

const deliveryTimeout = 30 * time.Second

// Store is the part of the ledger the dispatcher writes to.
type Store interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	CreateNotification(ctx context.Context, n *models.Notification) error
}

// Dispatcher consumes domain events on a fixed pool of workers.
type Dispatcher struct {
	store  Store
	mailer Mailer
	log    hclog.Logger

	queue  chan models.DomainEvent
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts workers goroutines reading from a queue of queueSize events.
func NewDispatcher(store Store, mailer Mailer, queueSize, workers int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	if workers <= 0 {
		workers = 1
	}
	d := &Dispatcher{
		store:  store,
		mailer: mailer,
		log:    logging.Named("notify"),
		queue:  make(chan models.DomainEvent, queueSize),
	}
	if d.mailer == nil {
		d.mailer = NewLogMailer(d.log)
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

// Enqueue never blocks. Events that do not fit in the queue are dropped.
func (d *Dispatcher) Enqueue(events ...models.DomainEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, evt := range events {
		if d.closed {
			d.log.Warn("dispatcher closed, dropping event", "type", evt.Type, "room", evt.RoomID)
			continue
		}
		select {
		case d.queue <- evt:
		default:
			d.log.Warn("notification queue full, dropping event", "type", evt.Type, "room", evt.RoomID)
		}
	}
}

// Close stops accepting events and waits for the queue to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for evt := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		_ = d.Deliver(ctx, evt)
		cancel()
	}
}

// Deliver writes the in-app row and sends the email for evt concurrently.
// Each failure is logged; the first one is returned.
func (d *Dispatcher) Deliver(ctx context.Context, evt models.DomainEvent) error {
	actor := d.displayName(ctx, evt.Actor)
	msg, ok := render(evt, actor)
	if !ok {
		d.log.Debug("event has no recipient", "type", evt.Type, "room", evt.RoomID)
		return nil
	}

	var g errgroup.Group
	g.Go(func() error {
		err := d.inApp(ctx, evt, msg)
		if err != nil {
			d.log.Error("failed to create in-app notification", "type", evt.Type, "user", msg.UserID, "error", err)
		}
		return err
	})
	g.Go(func() error {
		err := d.email(ctx, msg)
		if err != nil {
			d.log.Error("failed to send notification email", "type", evt.Type, "user", msg.UserID, "error", err)
		}
		return err
	})
	return g.Wait()
}

func (d *Dispatcher) inApp(ctx context.Context, evt models.DomainEvent, msg message) error {
	data, err := json.Marshal(map[string]string{
		"room_id":  evt.RoomID,
		"actor_id": evt.Actor.ID,
	})
	if err != nil {
		return err
	}
	return d.store.CreateNotification(ctx, &models.Notification{
		UserID:  msg.UserID,
		Type:    evt.Type,
		Message: msg.Text,
		Data:    datatypes.JSON(data),
	})
}

func (d *Dispatcher) email(ctx context.Context, msg message) error {
	profile, err := d.store.GetProfile(ctx, msg.UserID)
	if errors.Is(err, database.ErrNotFound) {
		d.log.Debug("no profile for recipient, skipping email", "user", msg.UserID)
		return nil
	}
	if err != nil {
		return err
	}
	if profile.Email == "" {
		return nil
	}
	to := Recipient{Name: profile.Username, Email: profile.Email}
	return d.mailer.Send(ctx, to, msg.Subject, msg.Text, msg.HTML())
}

func (d *Dispatcher) displayName(ctx context.Context, u models.User) string {
	if u.ID != "" {
		if p, err := d.store.GetProfile(ctx, u.ID); err == nil && p.Username != "" {
			return p.Username
		}
	}
	if u.Email != "" {
		return u.Email
	}
	return "Someone"
}
