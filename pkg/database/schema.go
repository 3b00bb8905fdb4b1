package database

import (
	"context"
	"fmt"
)

// schemaStatements create the tables the service reads and writes. Supabase
// projects already carry these; the statements are idempotent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		email TEXT,
		username TEXT,
		stripe_account_id TEXT,
		stripe_customer_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS thinktank (
		id TEXT PRIMARY KEY,
		host TEXT NOT NULL,
		title TEXT,
		description TEXT,
		accesstype TEXT,
		pricingtype TEXT,
		price NUMERIC,
		available_spots INTEGER,
		participant_limit INTEGER,
		end_datetime TIMESTAMPTZ,
		one_time_date TIMESTAMPTZ,
		recurring BOOLEAN DEFAULT FALSE,
		requested_boosting NUMERIC DEFAULT 0,
		stripe_price_id TEXT,
		stripe_product_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS think_tank_participants (
		think_tank_id TEXT NOT NULL REFERENCES thinktank(id) ON DELETE CASCADE,
		participant_id TEXT NOT NULL,
		status TEXT NOT NULL,
		payment TEXT,
		is_agreement_accepted BOOLEAN DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (think_tank_id, participant_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_participants_user ON think_tank_participants (participant_id)`,
	`CREATE TABLE IF NOT EXISTS room_subscriptions (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL REFERENCES thinktank(id) ON DELETE CASCADE,
		subscriber_id TEXT NOT NULL,
		stripe_subscription_id TEXT,
		stripe_customer_id TEXT,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_room_subscriber ON room_subscriptions (room_id, subscriber_id)`,
	`CREATE INDEX IF NOT EXISTS idx_room_subscriptions_stripe ON room_subscriptions (stripe_subscription_id)`,
	`CREATE TABLE IF NOT EXISTS invitations (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'Pending',
		receiver_id TEXT NOT NULL,
		sender TEXT,
		action TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		message TEXT,
		data JSONB,
		read BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications (user_id)`,
}

// Tables lists the tables Migrate creates, in creation order.
var Tables = []string{"profiles", "thinktank", "think_tank_participants", "room_subscriptions", "invitations", "notifications"}

// Migrate applies the schema.
func (db *PostgresDatabase) Migrate(ctx context.Context) error {
	for i, stmt := range schemaStatements {
		if err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}

// VerifyTables returns the expected tables missing from the public schema.
func (db *PostgresDatabase) VerifyTables(ctx context.Context) ([]string, error) {
	missing := []string{}
	for _, table := range Tables {
		var exists bool
		err := db.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`,
			table).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("failed to check table %s: %w", table, err)
		}
		if !exists {
			missing = append(missing, table)
		}
	}
	return missing, nil
}
