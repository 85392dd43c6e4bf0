package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"fitcoach-gateway/internal/config"
	"fitcoach-gateway/internal/handlers"
	"fitcoach-gateway/internal/quota"
	"fitcoach-gateway/internal/sqlitedb"
)

// backends holds the shared connections; each is opened only when some
// configured store needs it.
type backends struct {
	redis   *redis.Client
	db      *sql.DB
	mongo   *mongo.Client
	mongoDB *mongo.Database
}

func openBackends(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backends, error) {
	b := &backends{}

	if cfg.UsesRedis() {
		b.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		// fail fast if redis is misconfigured
		if err := b.redis.Ping(ctx).Err(); err != nil {
			b.close(ctx)
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info("redis connection established", zap.String("addr", cfg.Redis.Addr))
	}

	if cfg.UsesSQLite() {
		db, err := sqlitedb.Open(cfg.SQLite.Path)
		if err != nil {
			b.close(ctx)
			return nil, err
		}
		b.db = db
		logger.Info("sqlite database opened", zap.String("path", cfg.SQLite.Path))
	}

	if cfg.Entitlements.Backend == "mongo" {
		client, db, err := quota.ConnectMongo(ctx, cfg.Entitlements.MongoURI, cfg.Entitlements.MongoDatabase)
		if err != nil {
			b.close(ctx)
			return nil, err
		}
		b.mongo, b.mongoDB = client, db
		logger.Info("mongo connection established", zap.String("database", cfg.Entitlements.MongoDatabase))
	}

	return b, nil
}

func (b *backends) close(ctx context.Context) error {
	var errs []error
	if b.redis != nil {
		errs = append(errs, b.redis.Close())
	}
	if b.db != nil {
		errs = append(errs, b.db.Close())
	}
	if b.mongo != nil {
		errs = append(errs, b.mongo.Disconnect(ctx))
	}
	return errors.Join(errs...)
}

func (b *backends) healthChecks() map[string]handlers.Check {
	checks := map[string]handlers.Check{}
	if b.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return b.redis.Ping(ctx).Err() }
	}
	if b.db != nil {
		checks["sqlite"] = b.db.PingContext
	}
	if b.mongo != nil {
		checks["mongo"] = func(ctx context.Context) error { return b.mongo.Ping(ctx, readpref.Primary()) }
	}
	return checks
}

func newUsageStore(cfg *config.Config, b *backends) (quota.UsageStore, error) {
	switch cfg.Quota.Backend {
	case "redis":
		return quota.NewRedisUsageStore(b.redis, cfg.Cache.Prefix), nil
	case "sqlite":
		s, err := quota.NewSQLiteUsageStore(b.db)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return quota.NewMemoryUsageStore(), nil
	}
}

func newEntitlementStore(cfg *config.Config, b *backends) (quota.EntitlementStore, error) {
	var inner quota.EntitlementStore
	switch cfg.Entitlements.Backend {
	case "sqlite":
		s, err := quota.NewSQLiteEntitlementStore(b.db)
		if err != nil {
			return nil, err
		}
		inner = s
	case "mongo":
		inner = quota.NewMongoEntitlementStore(b.mongoDB)
	default:
		inner = quota.NewStaticEntitlementStore(cfg.StaticEntitlements())
	}
	return quota.NewCachedEntitlementStore(inner, cfg.Entitlements.CacheTTL), nil
}
