package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/root-sector-ltd-and-co-kg/evidence-vault/audit"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/cache/storage"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/config"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/coordinator"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/interfaces"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/kms"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/objectstore"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/sweep"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/types"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/vault"
)

const connectTimeout = 10 * time.Second

// app holds the wired vault and everything that must be closed on exit
type app struct {
	cfg         *config.Config
	vault       *vault.Vault
	audit       interfaces.AuditLogger
	mongoAudit  *audit.MongoLogger
	coordinator *coordinator.Coordinator
	sweeper     *sweep.Sweeper
	closers     []func()
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	logger := log.With().Str("component", "evidencectl").Logger()

	summary := logger.Debug()
	for k, v := range cfg.LogSummary() {
		summary = summary.Str(k, v)
	}
	summary.Msg("Configuration loaded")

	key, err := kms.LoadKey(ctx, cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to load vault key: %w", err)
	}
	defer clear(key)

	store, err := a.buildStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	listings, err := a.buildListingCache(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	if err := a.buildAudit(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.vault, err = vault.New(vault.Options{
		Key:          key,
		Store:        store,
		ListingCache: listings,
		Audit:        a.audit,
		Config:       cfg.Vault,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.vault.Close)

	a.coordinator = coordinator.NewCoordinator()
	a.sweeper = sweep.New(a.vault, a.vault.Index(), a.coordinator,
		sweep.WithAuditLogger(a.audit),
		sweep.WithConcurrency(cfg.Vault.SearchConcurrency),
	)

	logger.Debug().Str("store", string(cfg.Store.Backend)).Str("cache", cfg.Cache.Backend).Msg("Evidence vault ready")
	return a, nil
}

func (a *app) buildStore(ctx context.Context) (interfaces.ObjectStore, error) {
	switch a.cfg.Store.Backend {
	case types.StoreBackendMemory:
		log.Warn().Msg("Using the in-memory object store; artifacts are lost when the process exits")
		return objectstore.NewMemoryStore(a.cfg.Store.GetEffectiveMaxMetadataBytes()), nil
	default:
		store, err := objectstore.NewS3Store(ctx, a.cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("failed to create object store: %w", err)
		}
		return store, nil
	}
}

func (a *app) buildListingCache(ctx context.Context) (interfaces.Storage, error) {
	if !a.cfg.Vault.ListingCache.Enabled {
		return nil, nil
	}
	if a.cfg.Cache.Backend == config.CacheBackendRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Cache.Redis.Addr,
			Password: a.cfg.Cache.Redis.Password,
			DB:       a.cfg.Cache.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", a.cfg.Cache.Redis.Addr, err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		return storage.NewRedisAdapter(client, a.cfg.Cache.Redis.KeyPrefix), nil
	}

	adapter := storage.NewMemoryAdapter(a.cfg.Vault.ListingCache.MaxEntries)
	a.closers = append(a.closers, func() { _ = adapter.Shutdown() })
	return adapter, nil
}

func (a *app) buildAudit(ctx context.Context) error {
	sinks := []interfaces.AuditLogger{audit.NewZerologLogger()}

	if a.cfg.Audit.MongoURI != "" {
		client, err := mongo.Connect(options.Client().ApplyURI(a.cfg.Audit.MongoURI))
		if err != nil {
			return fmt.Errorf("failed to connect to audit database: %w", err)
		}
		a.closers = append(a.closers, func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), connectTimeout)
			defer cancel()
			_ = client.Disconnect(disconnectCtx)
		})

		a.mongoAudit = audit.NewMongoLogger(client.Database(a.cfg.Audit.Database), a.cfg.Audit.Collection)
		indexCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if err := a.mongoAudit.EnsureIndexes(indexCtx); err != nil {
			return fmt.Errorf("failed to prepare audit collection: %w", err)
		}
		// Queries go to the first sink that supports them
		sinks = []interfaces.AuditLogger{a.mongoAudit, sinks[0]}
	}

	a.audit = audit.NewMultiLogger(sinks...)
	return nil
}

// Close releases connections in reverse order of creation
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
