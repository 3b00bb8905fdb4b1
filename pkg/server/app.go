// Package server wires the stores, services and HTTP handlers of the API.
package server

import (
	"kaboom-collab-backend/pkg/admission"
	"kaboom-collab-backend/pkg/catalog"
	"kaboom-collab-backend/pkg/config"
	"kaboom-collab-backend/pkg/database"
	"kaboom-collab-backend/pkg/logging"
	"kaboom-collab-backend/pkg/notify"
	"kaboom-collab-backend/pkg/payments"
)

// App holds the long-lived components shared by every request.
type App struct {
	Config     *config.Config
	DB         database.DatabaseInterface
	Catalog    *catalog.Loader
	Bridge     *payments.Bridge
	Admission  *admission.Service
	Dispatcher *notify.Dispatcher
}

// NewApp builds the component graph. A nil processor leaves payments
// unconfigured; a nil mailer logs emails instead of sending them.
func NewApp(cfg *config.Config, db database.DatabaseInterface, processor payments.Processor, mailer notify.Mailer) *App {
	loader := catalog.NewLoader(db, catalog.NewCache(cfg.RedisURL), cfg.CatalogCacheTTL)
	bridge := payments.NewBridge(db, processor, cfg.StripeCurrency, cfg.PlatformFeePercent)
	bridge.SetInvalidator(loader)
	return &App{
		Config:     cfg,
		DB:         db,
		Catalog:    loader,
		Bridge:     bridge,
		Admission:  admission.NewService(db, bridge, loader),
		Dispatcher: notify.NewDispatcher(db, mailer, cfg.NotifyQueueSize, cfg.NotifyWorkers),
	}
}

// Close drains pending notifications. The store is owned by the caller.
func (a *App) Close() {
	a.Dispatcher.Close()
}

// DatabaseConfig selects the store settings out of cfg.
func DatabaseConfig(cfg *config.Config) database.DatabaseConfig {
	return database.DatabaseConfig{
		UseLocalDB:  cfg.UseLocalDB,
		LocalDBPath: cfg.LocalDBPath,
		PostgresDSN: cfg.PostgresDSN,
		SupabaseURL: cfg.SupabaseURL,
		SupabaseKey: cfg.SupabaseKey,
		Debug:       cfg.Debug,
	}
}

// ProcessorFromConfig returns the Stripe processor, or nil when no key is set.
func ProcessorFromConfig(cfg *config.Config) payments.Processor {
	if cfg.StripeSecretKey == "" {
		logging.Named("payments").Warn("STRIPE_SECRET_KEY not set, priced rooms cannot be joined")
		return nil
	}
	return payments.NewStripeProcessor(cfg.StripeSecretKey)
}

// MailerFromConfig returns the SendGrid mailer, or nil when no key is set.
func MailerFromConfig(cfg *config.Config) notify.Mailer {
	if cfg.SendGridAPIKey == "" {
		return nil
	}
	return notify.NewSendGridMailer(cfg.SendGridAPIKey, cfg.MailFromAddress, cfg.MailFromName)
}
