package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"kaboom-collab-backend/pkg/logging"
	"kaboom-collab-backend/pkg/models"
)

// PostgresDatabase PostgreSQL数据库实现
type PostgresDatabase struct {
	db *sql.DB
}

// NewPostgresDatabase 创建PostgreSQL数据库实例
func NewPostgresDatabase(dsn string) (*PostgresDatabase, error) {
	log := logging.Named("postgres")

	// 尝试多种连接策略来解决Vercel Lambda的IPv6问题
	dsn = strings.TrimSpace(dsn)
	strategies := []string{
		addConnectionParams(dsn, "connect_timeout=10"),
		addConnectionParams(dsn, "sslmode=require&connect_timeout=10"),
		dsn,
	}

	var lastErr error
	for i, strategy := range strategies {
		db, err := sql.Open("postgres", strategy)
		if err != nil {
			log.Debug("connection strategy failed to open", "strategy", i+1, "error", err)
			lastErr = err
			continue
		}

		// 设置连接池参数，适合无服务器环境
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = db.PingContext(ctx)
		cancel()
		if err != nil {
			log.Debug("connection strategy failed to ping", "strategy", i+1, "error", err)
			db.Close()
			lastErr = err
			continue
		}

		log.Info("PostgreSQL connection established", "strategy", i+1)
		return &PostgresDatabase{db: db}, nil
	}

	return nil, fmt.Errorf("failed to connect to PostgreSQL with all strategies: %w", lastErr)
}

// addConnectionParams 添加连接参数到DSN
func addConnectionParams(dsn, params string) string {
	if params == "" {
		return dsn
	}
	// key=value DSNs take space separated params
	if !strings.Contains(dsn, "://") {
		return dsn + " " + strings.ReplaceAll(params, "&", " ")
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + params
}

const roomColumns = `id, host, COALESCE(title,''), COALESCE(description,''), COALESCE(accesstype,''), COALESCE(pricingtype,''),
	price, available_spots, participant_limit, end_datetime, one_time_date, COALESCE(recurring,false),
	COALESCE(requested_boosting,0), COALESCE(stripe_price_id,''), COALESCE(stripe_product_id,''), created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRoom(row rowScanner) (*models.Room, error) {
	var r models.Room
	err := row.Scan(&r.ID, &r.Host, &r.Title, &r.Description, &r.AccessType, &r.PricingType,
		&r.Price, &r.AvailableSpots, &r.ParticipantLimit, &r.EndDatetime, &r.OneTimeDate, &r.Recurring,
		&r.RequestedBoosting, &r.StripePriceID, &r.StripeProductID, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (db *PostgresDatabase) queryRooms(ctx context.Context, query string, args ...interface{}) ([]models.Room, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	rooms := []models.Room{}
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		rooms = append(rooms, *r)
	}
	return rooms, rows.Err()
}

// CreateRoom 创建房间
func (db *PostgresDatabase) CreateRoom(ctx context.Context, room *models.Room) error {
	if room.ID == "" {
		room.ID = uuid.New().String()
	}
	query := `
		INSERT INTO thinktank (id, host, title, description, accesstype, pricingtype, price, available_spots,
			participant_limit, end_datetime, one_time_date, recurring, requested_boosting, stripe_price_id, stripe_product_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,NOW())
		RETURNING created_at`
	err := db.db.QueryRowContext(ctx, query, room.ID, room.Host, room.Title, room.Description, room.AccessType,
		room.PricingType, room.Price, room.AvailableSpots, room.ParticipantLimit, room.EndDatetime, room.OneTimeDate,
		room.Recurring, room.RequestedBoosting, nullIfEmpty(room.StripePriceID), nullIfEmpty(room.StripeProductID)).
		Scan(&room.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}
	return nil
}

// GetRoom 根据ID获取房间
func (db *PostgresDatabase) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	room, err := scanRoom(db.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM thinktank WHERE id = $1`, roomID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return room, nil
}

func (db *PostgresDatabase) ListRooms(ctx context.Context) ([]models.Room, error) {
	return db.queryRooms(ctx, `SELECT `+roomColumns+` FROM thinktank ORDER BY created_at`)
}

func (db *PostgresDatabase) ListRoomsByIDs(ctx context.Context, roomIDs []string) ([]models.Room, error) {
	if len(roomIDs) == 0 {
		return []models.Room{}, nil
	}
	return db.queryRooms(ctx, `SELECT `+roomColumns+` FROM thinktank WHERE id = ANY($1) ORDER BY created_at`, pq.Array(roomIDs))
}

const participantColumns = `think_tank_id, participant_id, status, COALESCE(payment,''), COALESCE(is_agreement_accepted,false), created_at`

func scanParticipant(row rowScanner) (*models.Participant, error) {
	var p models.Participant
	if err := row.Scan(&p.ThinkTankID, &p.ParticipantID, &p.Status, &p.Payment, &p.IsAgreementAccepted, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (db *PostgresDatabase) GetParticipant(ctx context.Context, roomID, userID string) (*models.Participant, error) {
	p, err := scanParticipant(db.db.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM think_tank_participants WHERE think_tank_id = $1 AND participant_id = $2`, roomID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return p, nil
}

func (db *PostgresDatabase) ListParticipants(ctx context.Context, roomIDs []string) ([]models.Participant, error) {
	out := []models.Participant{}
	if len(roomIDs) == 0 {
		return out, nil
	}
	rows, err := db.db.QueryContext(ctx,
		`SELECT `+participantColumns+` FROM think_tank_participants WHERE think_tank_id = ANY($1) ORDER BY created_at`, pq.Array(roomIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (db *PostgresDatabase) ListParticipantRoomIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := db.db.QueryContext(ctx, `SELECT think_tank_id FROM think_tank_participants WHERE participant_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participant rooms: %w", err)
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan room id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (db *PostgresDatabase) CountAccepted(ctx context.Context, roomID string) (int, error) {
	return countAccepted(ctx, db.db, roomID)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func countAccepted(ctx context.Context, q queryer, roomID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM think_tank_participants WHERE think_tank_id = $1 AND status = $2`,
		roomID, models.ParticipantAccepted).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count participants: %w", err)
	}
	return n, nil
}

// withRoomLock runs fn in a transaction holding an advisory lock on the room,
// so that count-then-write sequences on the same room are serialized.
func (db *PostgresDatabase) withRoomLock(ctx context.Context, roomID string, fn func(tx *sql.Tx) error) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, roomID); err != nil {
		return fmt.Errorf("failed to lock room: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (db *PostgresDatabase) InsertParticipant(ctx context.Context, p *models.Participant, capacity int) error {
	return db.withRoomLock(ctx, p.ThinkTankID, func(tx *sql.Tx) error {
		if capacity != NoCapacityLimit {
			n, err := countAccepted(ctx, tx, p.ThinkTankID)
			if err != nil {
				return err
			}
			if n >= capacity {
				return ErrCapacityExceeded
			}
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO think_tank_participants (think_tank_id, participant_id, status, payment, is_agreement_accepted, created_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
			ON CONFLICT (think_tank_id, participant_id) DO NOTHING`,
			p.ThinkTankID, p.ParticipantID, p.Status, nullIfEmpty(string(p.Payment)), p.IsAgreementAccepted)
		if err != nil {
			return fmt.Errorf("failed to insert participant: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrAlreadyExists
		}
		return nil
	})
}

func (db *PostgresDatabase) ApproveParticipant(ctx context.Context, roomID, userID string, capacity int) error {
	return db.withRoomLock(ctx, roomID, func(tx *sql.Tx) error {
		if capacity != NoCapacityLimit {
			n, err := countAccepted(ctx, tx, roomID)
			if err != nil {
				return err
			}
			if n >= capacity {
				return ErrCapacityExceeded
			}
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE think_tank_participants SET status = $3 WHERE think_tank_id = $1 AND participant_id = $2 AND status = $4`,
			roomID, userID, models.ParticipantAccepted, models.ParticipantPending)
		if err != nil {
			return fmt.Errorf("failed to approve participant: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (db *PostgresDatabase) SetParticipantPayment(ctx context.Context, roomID, userID string, payment models.PaymentState) error {
	res, err := db.db.ExecContext(ctx,
		`UPDATE think_tank_participants SET payment = $3 WHERE think_tank_id = $1 AND participant_id = $2`,
		roomID, userID, nullIfEmpty(string(payment)))
	if err != nil {
		return fmt.Errorf("failed to update participant payment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *PostgresDatabase) DeleteParticipant(ctx context.Context, roomID, userID string) error {
	res, err := db.db.ExecContext(ctx,
		`DELETE FROM think_tank_participants WHERE think_tank_id = $1 AND participant_id = $2`, roomID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete participant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const subscriptionColumns = `id, room_id, subscriber_id, COALESCE(stripe_subscription_id,''), COALESCE(stripe_customer_id,''), status, created_at, updated_at`

func scanSubscription(row rowScanner) (*models.RoomSubscription, error) {
	var s models.RoomSubscription
	if err := row.Scan(&s.ID, &s.RoomID, &s.SubscriberID, &s.StripeSubscriptionID, &s.StripeCustomerID, &s.Status, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func (db *PostgresDatabase) querySubscriptions(ctx context.Context, query string, args ...interface{}) ([]models.RoomSubscription, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()
	out := []models.RoomSubscription{}
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (db *PostgresDatabase) ListRoomSubscriptions(ctx context.Context, roomID, subscriberID string) ([]models.RoomSubscription, error) {
	return db.querySubscriptions(ctx,
		`SELECT `+subscriptionColumns+` FROM room_subscriptions WHERE room_id = $1 AND subscriber_id = $2 ORDER BY created_at`,
		roomID, subscriberID)
}

func (db *PostgresDatabase) CreateRoomSubscription(ctx context.Context, sub *models.RoomSubscription) error {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	err := db.db.QueryRowContext(ctx, `
		INSERT INTO room_subscriptions (id, room_id, subscriber_id, stripe_subscription_id, stripe_customer_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING created_at, updated_at`,
		sub.ID, sub.RoomID, sub.SubscriberID, sub.StripeSubscriptionID, nullIfEmpty(sub.StripeCustomerID), sub.Status).
		Scan(&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (db *PostgresDatabase) UpdateRoomSubscriptionStatus(ctx context.Context, stripeSubscriptionID string, status models.SubscriptionStatus) (*models.RoomSubscription, error) {
	// mirrors SubscriptionStatus.CanMoveTo
	sub, err := scanSubscription(db.db.QueryRowContext(ctx, `
		UPDATE room_subscriptions SET status = $2::text, updated_at = NOW()
		WHERE stripe_subscription_id = $1
		  AND (status = $2::text OR (status <> $3 AND $2::text <> $4))
		RETURNING `+subscriptionColumns,
		stripeSubscriptionID, status, models.StatusCanceled, models.StatusIncomplete))
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}
	sub, err = scanSubscription(db.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM room_subscriptions WHERE stripe_subscription_id = $1`, stripeSubscriptionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

func (db *PostgresDatabase) DeleteRoomSubscription(ctx context.Context, id string) error {
	if _, err := db.db.ExecContext(ctx, `DELETE FROM room_subscriptions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

func (db *PostgresDatabase) ListIncompleteSubscriptions(ctx context.Context, createdBefore time.Time) ([]models.RoomSubscription, error) {
	return db.querySubscriptions(ctx,
		`SELECT `+subscriptionColumns+` FROM room_subscriptions WHERE status = $1 AND created_at < $2 ORDER BY created_at`,
		models.StatusIncomplete, createdBefore)
}

func (db *PostgresDatabase) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var p models.Profile
	err := db.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(email,''), COALESCE(username,''), COALESCE(stripe_account_id,''), COALESCE(stripe_customer_id,''), created_at
		FROM profiles WHERE id = $1`, userID).
		Scan(&p.ID, &p.Email, &p.Username, &p.StripeAccountID, &p.StripeCustomerID, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}

func (db *PostgresDatabase) SetProfileStripeCustomer(ctx context.Context, userID, customerID string) error {
	res, err := db.db.ExecContext(ctx, `UPDATE profiles SET stripe_customer_id = $2 WHERE id = $1`, userID, customerID)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const invitationColumns = `id, status, receiver_id, COALESCE(sender,''), COALESCE(action,''), created_at`

func scanInvitation(row rowScanner) (*models.Invitation, error) {
	var inv models.Invitation
	if err := row.Scan(&inv.ID, &inv.Status, &inv.ReceiverID, &inv.Sender, &inv.Action, &inv.CreatedAt); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (db *PostgresDatabase) GetInvitation(ctx context.Context, id string) (*models.Invitation, error) {
	inv, err := scanInvitation(db.db.QueryRowContext(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return inv, nil
}

func (db *PostgresDatabase) ListInvitationsForReceiver(ctx context.Context, receiverID string) ([]models.Invitation, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE receiver_id = $1 ORDER BY created_at DESC`, receiverID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()
	out := []models.Invitation{}
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

func (db *PostgresDatabase) UpdateInvitationStatus(ctx context.Context, id string, status models.InvitationStatus) error {
	res, err := db.db.ExecContext(ctx, `UPDATE invitations SET status = $2 WHERE id = $1 AND status = $3`,
		id, status, models.InvitationPending)
	if err != nil {
		return fmt.Errorf("failed to update invitation: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := db.GetInvitation(ctx, id); err != nil {
		return err
	}
	return ErrInvitationClosed
}

func (db *PostgresDatabase) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	var data interface{}
	if len(n.Data) > 0 {
		data = string(n.Data)
	}
	err := db.db.QueryRowContext(ctx, `
		INSERT INTO notifications (id, user_id, type, message, data, read, created_at)
		VALUES ($1, $2, $3, $4, $5, false, NOW())
		RETURNING created_at`,
		n.ID, n.UserID, n.Type, n.Message, data).Scan(&n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// HealthCheck 健康检查
func (db *PostgresDatabase) HealthCheck(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

// Close 关闭数据库连接
func (db *PostgresDatabase) Close() error {
	return db.db.Close()
}

// Exec runs raw SQL, used by the migrate command.
func (db *PostgresDatabase) Exec(ctx context.Context, query string) error {
	_, err := db.db.ExecContext(ctx, query)
	return err
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
