package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"kaboom-collab-backend/pkg/logging"
	"kaboom-collab-backend/pkg/models"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrCapacityExceeded = errors.New("room capacity exceeded")
	ErrInvitationClosed = errors.New("invitation was already answered")
)

// NoCapacityLimit disables the capacity guard on InsertParticipant.
const NoCapacityLimit = -1

// DatabaseInterface 定义数据库访问接口
type DatabaseInterface interface {
	// Rooms
	CreateRoom(ctx context.Context, room *models.Room) error
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	ListRooms(ctx context.Context) ([]models.Room, error)
	ListRoomsByIDs(ctx context.Context, roomIDs []string) ([]models.Room, error)

	// Participant ledger
	GetParticipant(ctx context.Context, roomID, userID string) (*models.Participant, error)
	ListParticipants(ctx context.Context, roomIDs []string) ([]models.Participant, error)
	ListParticipantRoomIDs(ctx context.Context, userID string) ([]string, error)
	CountAccepted(ctx context.Context, roomID string) (int, error)
	// InsertParticipant inserts p unless the room already holds capacity
	// Accepted rows (ErrCapacityExceeded) or p's key exists (ErrAlreadyExists).
	InsertParticipant(ctx context.Context, p *models.Participant, capacity int) error
	// ApproveParticipant moves a Pending row to Accepted under the same capacity guard.
	ApproveParticipant(ctx context.Context, roomID, userID string, capacity int) error
	SetParticipantPayment(ctx context.Context, roomID, userID string, payment models.PaymentState) error
	DeleteParticipant(ctx context.Context, roomID, userID string) error

	// Room subscriptions
	ListRoomSubscriptions(ctx context.Context, roomID, subscriberID string) ([]models.RoomSubscription, error)
	CreateRoomSubscription(ctx context.Context, sub *models.RoomSubscription) error
	// UpdateRoomSubscriptionStatus applies status when the stored status
	// CanMoveTo it and returns the row as stored afterwards.
	UpdateRoomSubscriptionStatus(ctx context.Context, stripeSubscriptionID string, status models.SubscriptionStatus) (*models.RoomSubscription, error)
	DeleteRoomSubscription(ctx context.Context, id string) error
	ListIncompleteSubscriptions(ctx context.Context, createdBefore time.Time) ([]models.RoomSubscription, error)

	// Profiles
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	SetProfileStripeCustomer(ctx context.Context, userID, customerID string) error

	// Invitations
	GetInvitation(ctx context.Context, id string) (*models.Invitation, error)
	ListInvitationsForReceiver(ctx context.Context, receiverID string) ([]models.Invitation, error)
	// UpdateInvitationStatus answers a Pending invitation; ErrInvitationClosed
	// when it was already answered.
	UpdateInvitationStatus(ctx context.Context, id string, status models.InvitationStatus) error

	// Notifications
	CreateNotification(ctx context.Context, n *models.Notification) error

	// 健康检查
	HealthCheck(ctx context.Context) error

	// 关闭连接
	Close() error
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	UseLocalDB  bool
	LocalDBPath string
	PostgresDSN string
	SupabaseURL string
	SupabaseKey string
	Debug       bool
}

// NewDatabase 根据环境与配置选择数据库实现
func NewDatabase(config DatabaseConfig) (DatabaseInterface, error) {
	log := logging.Named("database")

	if isVercelEnvironment() {
		log.Debug("detected Vercel environment")

		// Vercel 优先使用 Supabase（避免 IPv6）
		if config.SupabaseURL != "" && config.SupabaseKey != "" {
			log.Info("using Supabase REST API")
			return NewSupabaseDatabase(config.SupabaseURL, config.SupabaseKey), nil
		}
		if config.PostgresDSN != "" {
			log.Warn("using PostgreSQL in Vercel (may have IPv6 issues)")
			return openPostgres(config.PostgresDSN)
		}
		return nil, fmt.Errorf("no valid database configured for Vercel environment: set SUPABASE_URL+SUPABASE_SERVICE_KEY or POSTGRES_DSN")
	}

	// 非 Vercel 环境：PostgreSQL > Supabase > local
	if config.PostgresDSN != "" {
		log.Info("using PostgreSQL database")
		return openPostgres(config.PostgresDSN)
	}
	if config.SupabaseURL != "" && config.SupabaseKey != "" {
		log.Info("using Supabase REST API")
		return NewSupabaseDatabase(config.SupabaseURL, config.SupabaseKey), nil
	}
	if config.UseLocalDB {
		log.Info("using local sqlite database", "path", config.LocalDBPath)
		db, err := NewLocalDatabase(config.LocalDBPath, config.Debug)
		if err != nil {
			return nil, err
		}
		return db, nil
	}

	return nil, fmt.Errorf("no valid database configuration found: configure POSTGRES_DSN or SUPABASE_URL+SUPABASE_SERVICE_KEY")
}

func openPostgres(dsn string) (DatabaseInterface, error) {
	db, err := NewPostgresDatabase(dsn)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// isVercelEnvironment 内部检查 Vercel 环境
func isVercelEnvironment() bool {
	return os.Getenv("VERCEL_ENV") != "" || os.Getenv("VERCEL_URL") != "" || os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
}

var (
	_ DatabaseInterface = (*PostgresDatabase)(nil)
	_ DatabaseInterface = (*SupabaseDatabase)(nil)
	_ DatabaseInterface = (*LocalDatabase)(nil)
)
