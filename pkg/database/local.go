package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"kaboom-collab-backend/pkg/models"
)

// LocalDatabase 本地数据库实现 (gorm + sqlite)，用于开发与测试
type LocalDatabase struct {
	db *gorm.DB
}

// NewLocalDatabase opens (and migrates) a sqlite database at dsn. Use
// "file:<name>?mode=memory&cache=shared" for an in-memory database.
func NewLocalDatabase(dsn string, debug bool) (*LocalDatabase, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if debug {
		cfg.Logger = logger.Default.LogMode(logger.Info)
	}
	db, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open local database: %w", err)
	}
	// sqlite allows one writer; a single connection serializes transactions
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	err = db.Migrator().AutoMigrate(
		&models.Profile{},
		&models.Room{},
		&models.Participant{},
		&models.RoomSubscription{},
		&models.Invitation{},
		&models.Notification{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate local database: %w", err)
	}
	return &LocalDatabase{db: db}, nil
}

// Seed inserts arbitrary model rows, for fixtures and the dev server.
func (l *LocalDatabase) Seed(ctx context.Context, values ...interface{}) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, v := range values {
			if err := tx.Create(v).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (l *LocalDatabase) CreateRoom(ctx context.Context, room *models.Room) error {
	if room.ID == "" {
		room.ID = uuid.New().String()
	}
	if err := l.db.WithContext(ctx).Create(room).Error; err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}
	return nil
}

func (l *LocalDatabase) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	var room models.Room
	if err := l.db.WithContext(ctx).First(&room, "id = ?", roomID).Error; err != nil {
		return nil, notFound(err)
	}
	return &room, nil
}

func (l *LocalDatabase) ListRooms(ctx context.Context) ([]models.Room, error) {
	rooms := []models.Room{}
	err := l.db.WithContext(ctx).Order("created_at").Find(&rooms).Error
	return rooms, err
}

func (l *LocalDatabase) ListRoomsByIDs(ctx context.Context, roomIDs []string) ([]models.Room, error) {
	rooms := []models.Room{}
	if len(roomIDs) == 0 {
		return rooms, nil
	}
	err := l.db.WithContext(ctx).Where("id IN ?", roomIDs).Order("created_at").Find(&rooms).Error
	return rooms, err
}

func (l *LocalDatabase) GetParticipant(ctx context.Context, roomID, userID string) (*models.Participant, error) {
	var p models.Participant
	err := l.db.WithContext(ctx).
		Where("think_tank_id = ? AND participant_id = ?", roomID, userID).
		First(&p).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (l *LocalDatabase) ListParticipants(ctx context.Context, roomIDs []string) ([]models.Participant, error) {
	out := []models.Participant{}
	if len(roomIDs) == 0 {
		return out, nil
	}
	err := l.db.WithContext(ctx).Where("think_tank_id IN ?", roomIDs).Order("created_at").Find(&out).Error
	return out, err
}

func (l *LocalDatabase) ListParticipantRoomIDs(ctx context.Context, userID string) ([]string, error) {
	ids := []string{}
	err := l.db.WithContext(ctx).Model(&models.Participant{}).
		Where("participant_id = ?", userID).
		Pluck("think_tank_id", &ids).Error
	return ids, err
}

func countAcceptedGorm(tx *gorm.DB, roomID string) (int, error) {
	var n int64
	err := tx.Model(&models.Participant{}).
		Where("think_tank_id = ? AND status = ?", roomID, models.ParticipantAccepted).
		Count(&n).Error
	return int(n), err
}

func (l *LocalDatabase) CountAccepted(ctx context.Context, roomID string) (int, error) {
	return countAcceptedGorm(l.db.WithContext(ctx), roomID)
}

func (l *LocalDatabase) InsertParticipant(ctx context.Context, p *models.Participant, capacity int) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		err := tx.Model(&models.Participant{}).
			Where("think_tank_id = ? AND participant_id = ?", p.ThinkTankID, p.ParticipantID).
			Count(&existing).Error
		if err != nil {
			return err
		}
		if existing > 0 {
			return ErrAlreadyExists
		}
		if capacity != NoCapacityLimit {
			n, err := countAcceptedGorm(tx, p.ThinkTankID)
			if err != nil {
				return err
			}
			if n >= capacity {
				return ErrCapacityExceeded
			}
		}
		return tx.Create(p).Error
	})
}

func (l *LocalDatabase) ApproveParticipant(ctx context.Context, roomID, userID string, capacity int) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if capacity != NoCapacityLimit {
			n, err := countAcceptedGorm(tx, roomID)
			if err != nil {
				return err
			}
			if n >= capacity {
				return ErrCapacityExceeded
			}
		}
		res := tx.Model(&models.Participant{}).
			Where("think_tank_id = ? AND participant_id = ? AND status = ?", roomID, userID, models.ParticipantPending).
			Update("status", models.ParticipantAccepted)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (l *LocalDatabase) SetParticipantPayment(ctx context.Context, roomID, userID string, payment models.PaymentState) error {
	res := l.db.WithContext(ctx).Model(&models.Participant{}).
		Where("think_tank_id = ? AND participant_id = ?", roomID, userID).
		Update("payment", payment)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (l *LocalDatabase) DeleteParticipant(ctx context.Context, roomID, userID string) error {
	res := l.db.WithContext(ctx).
		Where("think_tank_id = ? AND participant_id = ?", roomID, userID).
		Delete(&models.Participant{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (l *LocalDatabase) ListRoomSubscriptions(ctx context.Context, roomID, subscriberID string) ([]models.RoomSubscription, error) {
	out := []models.RoomSubscription{}
	err := l.db.WithContext(ctx).
		Where("room_id = ? AND subscriber_id = ?", roomID, subscriberID).
		Order("created_at").Find(&out).Error
	return out, err
}

func (l *LocalDatabase) CreateRoomSubscription(ctx context.Context, sub *models.RoomSubscription) error {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	return l.db.WithContext(ctx).Create(sub).Error
}

func (l *LocalDatabase) UpdateRoomSubscriptionStatus(ctx context.Context, stripeSubscriptionID string, status models.SubscriptionStatus) (*models.RoomSubscription, error) {
	var sub models.RoomSubscription
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&sub, "stripe_subscription_id = ?", stripeSubscriptionID).Error; err != nil {
			return notFound(err)
		}
		if !sub.Status.CanMoveTo(status) {
			return nil
		}
		sub.Status, sub.UpdatedAt = status, time.Now()
		return tx.Model(&sub).Updates(map[string]interface{}{"status": status, "updated_at": sub.UpdatedAt}).Error
	})
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (l *LocalDatabase) DeleteRoomSubscription(ctx context.Context, id string) error {
	return l.db.WithContext(ctx).Delete(&models.RoomSubscription{}, "id = ?", id).Error
}

func (l *LocalDatabase) ListIncompleteSubscriptions(ctx context.Context, createdBefore time.Time) ([]models.RoomSubscription, error) {
	out := []models.RoomSubscription{}
	err := l.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.StatusIncomplete, createdBefore).
		Order("created_at").Find(&out).Error
	return out, err
}

func (l *LocalDatabase) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var p models.Profile
	if err := l.db.WithContext(ctx).First(&p, "id = ?", userID).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (l *LocalDatabase) SetProfileStripeCustomer(ctx context.Context, userID, customerID string) error {
	res := l.db.WithContext(ctx).Model(&models.Profile{}).Where("id = ?", userID).Update("stripe_customer_id", customerID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (l *LocalDatabase) GetInvitation(ctx context.Context, id string) (*models.Invitation, error) {
	var inv models.Invitation
	if err := l.db.WithContext(ctx).First(&inv, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &inv, nil
}

func (l *LocalDatabase) ListInvitationsForReceiver(ctx context.Context, receiverID string) ([]models.Invitation, error) {
	out := []models.Invitation{}
	err := l.db.WithContext(ctx).Where("receiver_id = ?", receiverID).Order("created_at DESC").Find(&out).Error
	return out, err
}

func (l *LocalDatabase) UpdateInvitationStatus(ctx context.Context, id string, status models.InvitationStatus) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Invitation{}).
			Where("id = ? AND status = ?", id, models.InvitationPending).
			Update("status", status)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		var n int64
		if err := tx.Model(&models.Invitation{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return ErrInvitationClosed
	})
}

func (l *LocalDatabase) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	return l.db.WithContext(ctx).Create(n).Error
}

// ListNotifications returns a user's in-app notifications, newest first.
func (l *LocalDatabase) ListNotifications(ctx context.Context, userID string) ([]models.Notification, error) {
	out := []models.Notification{}
	err := l.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&out).Error
	return out, err
}

func (l *LocalDatabase) HealthCheck(ctx context.Context) error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (l *LocalDatabase) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
