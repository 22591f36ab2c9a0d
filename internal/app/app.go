// Package app wires the reconciler's components together and owns their
// lifecycle.
package app

import (
	"context"

	"github.com/go-redis/redis/v8"

	"iap-reconciler/internal/common/logging"
	"iap-reconciler/internal/config"
	"iap-reconciler/internal/dedup"
	"iap-reconciler/internal/entitlements"
	"iap-reconciler/internal/ingest"
	"iap-reconciler/internal/jws"
	"iap-reconciler/internal/notifications"
	"iap-reconciler/internal/playapi"
	"iap-reconciler/internal/secrets"
	"iap-reconciler/internal/sweeper"
)

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	Store       entitlements.Store
	Dedup       dedup.Cache
	RedisClient *redis.Client
	Secrets     secrets.Provider
	Verifier    *jws.Verifier
	Play        playapi.Client
	Handler     *notifications.Handler
	Sweeper     *sweeper.Sweeper
	Consumer    *ingest.Consumer
	Logger      logging.Logger
}

// New creates a new application instance with all dependencies
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{
		Config:  cfg,
		Secrets: secrets.NewEnvProvider(),
		Logger:  logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "app"}),
	}

	store, err := entitlements.NewPGStore(ctx, cfg.PostgresConnString())
	if err != nil {
		return nil, err
	}
	app.Store = store
	app.Logger.Info("PostgreSQL: Connected", logging.Field{Key: "host", Value: cfg.PostgresHost})

	app.initializeDedup(cfg)

	roots, err := jws.LoadRootPool(cfg.AppleRootCAPath)
	if err != nil {
		app.Cleanup()
		return nil, err
	}
	app.Verifier, err = jws.NewVerifier(roots)
	if err != nil {
		app.Cleanup()
		return nil, err
	}

	app.initializePlay(ctx)

	app.Handler = notifications.New(notifications.Deps{
		Secrets:      app.Secrets,
		Verifier:     app.Verifier,
		Dedup:        app.Dedup,
		Store:        app.Store,
		Reconciler:   entitlements.NewReconciler(nil),
		Play:         app.Play,
		Logger:       logging.GetGlobalLogger(),
		AppleMaxAge:  cfg.AppleMaxAge,
		GoogleMaxAge: cfg.GoogleMaxAge,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})

	app.Sweeper = sweeper.New(app.Store, entitlements.NewReconciler(nil), nil, cfg.SweepGrace)

	if cfg.PubSubSubscription != "" {
		if err := app.initializeConsumer(ctx, cfg); err != nil {
			app.Cleanup()
			return nil, err
		}
	}

	return app, nil
}

// initializeDedup picks the Redis backend when configured, otherwise the
// process-local cache.
func (app *App) initializeDedup(cfg *config.Config) {
	if cfg.RedisAddress == "" {
		app.Dedup = dedup.NewMemoryCache(0, cfg.GoogleMaxAge)
		app.Logger.Info("Dedup: In-memory (single instance only)")
		return
	}

	app.RedisClient = redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	// Key TTL of twice the widest freshness window outlives any redelivery
	// that could still pass the staleness check.
	app.Dedup = dedup.NewRedisCache(app.RedisClient, "iap:dedup:", 2*cfg.GoogleMaxAge)
	app.Logger.Info("Dedup: Redis", logging.Field{Key: "address", Value: cfg.RedisAddress})
}

// initializePlay builds the androidpublisher client. Missing credentials are
// not fatal: Apple ingestion and Play deactivations still work, Play
// activations skip their mutation until credentials arrive.
func (app *App) initializePlay(ctx context.Context) {
	google, err := app.Secrets.GoogleSecrets()
	if err != nil {
		app.Logger.Warn("Play API: Not configured, activation follow-ups disabled",
			logging.Err(err))
		app.Play = playapi.Disabled()
		return
	}

	client, err := playapi.NewClient(ctx, google.ServiceAccountJSON)
	if err != nil {
		app.Logger.Warn("Play API: Client creation failed, activation follow-ups disabled",
			logging.Err(err))
		app.Play = playapi.Disabled()
		return
	}
	app.Play = client
	app.Logger.Info("Play API: Connected")
}

func (app *App) initializeConsumer(ctx context.Context, cfg *config.Config) error {
	var credentials []byte
	if google, err := app.Secrets.GoogleSecrets(); err == nil {
		credentials = google.ServiceAccountJSON
	}

	consumer, err := ingest.NewConsumer(ctx, cfg.PubSubProject, cfg.PubSubSubscription,
		credentials, app.Handler, nil)
	if err != nil {
		return err
	}
	app.Consumer = consumer
	app.Logger.Info("Pub/Sub: Pull ingestion enabled",
		logging.Field{Key: "project", Value: cfg.PubSubProject},
		logging.Field{Key: "subscription", Value: cfg.PubSubSubscription},
	)
	return nil
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.Sweeper != nil {
		app.Sweeper.Stop()
	}
	if app.Consumer != nil {
		if err := app.Consumer.Close(); err != nil {
			app.Logger.Warn("Error closing Pub/Sub consumer", logging.Err(err))
		}
	}
	if app.RedisClient != nil {
		if err := app.RedisClient.Close(); err != nil {
			app.Logger.Warn("Error closing Redis client", logging.Err(err))
		}
	}
	if app.Store != nil {
		app.Store.Close()
	}
}
