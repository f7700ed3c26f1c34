package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"

	billing "github.com/goliatone/go-billing"
	"github.com/goliatone/go-billing/core"
	"github.com/goliatone/go-billing/jobs"
	billingmigrations "github.com/goliatone/go-billing/migrations"
	"github.com/goliatone/go-billing/state"
	sqlstore "github.com/goliatone/go-billing/store/sql"
)

const (
	redisQueuePrefix  = "billing:queue"
	redisLedgerPrefix = "billing:dedup:"
	endpointCacheTTL  = 30 * time.Second
)

type persistenceConfig struct {
	store core.StoreConfig
}

func (c persistenceConfig) GetDebug() bool                { return c.store.Debug }
func (c persistenceConfig) GetDriver() string             { return c.store.Driver }
func (c persistenceConfig) GetServer() string             { return c.store.DSN }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return "go-billing" }

// openPersistence opens the configured database and applies the migrations
// for its dialect.
func openPersistence(ctx context.Context, store core.StoreConfig) (*persistence.Client, error) {
	target, err := billingmigrations.Resolve(store.Driver)
	if err != nil {
		return nil, err
	}
	store.Driver = target.SQLDriver

	sqlDB, err := sql.Open(target.SQLDriver, store.DSN)
	if err != nil {
		return nil, fmt.Errorf("billing-worker: open %s: %w", target.SQLDriver, err)
	}
	if target.Dialect == billingmigrations.DialectSQLite {
		sqlDB.SetMaxOpenConns(1)
	}

	client, err := persistence.New(persistenceConfig{store: store}, sqlDB, target.Bun)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("billing-worker: persistence client: %w", err)
	}
	if _, err := billingmigrations.Register(client, store); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("billing-worker: register migrations: %w", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("billing-worker: migrate: %w", err)
	}
	return client, nil
}

// openInfrastructure connects the SQL stores and, when enabled, redis. It
// returns the runtime infrastructure and the service options that bind the
// stores.
func openInfrastructure(ctx context.Context, cfg core.Config, logger core.Logger) (billing.Infrastructure, []billing.Option, error) {
	infra := billing.Infrastructure{
		Queues:        jobs.MemoryQueueFactory(),
		QueueCommands: jobqueuecommand.NewRegistry(),
	}

	client, err := openPersistence(ctx, cfg.Store)
	if err != nil {
		return infra, nil, err
	}
	infra.Closers = append(infra.Closers, client.Close)

	cacheConfig := repositorycache.DefaultConfig()
	cacheConfig.TTL = endpointCacheTTL
	cacheService, err := repositorycache.NewCacheService(cacheConfig)
	if err != nil {
		closeAll(infra.Closers)
		return infra, nil, fmt.Errorf("billing-worker: endpoint cache: %w", err)
	}

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, sqlstore.WithEndpointCache(cacheService))
	if err != nil {
		closeAll(infra.Closers)
		return infra, nil, fmt.Errorf("billing-worker: sql stores: %w", err)
	}

	var stateStore core.KeyValueStore = factory.StateStore()
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			closeAll(infra.Closers)
			return infra, nil, fmt.Errorf("billing-worker: redis ping %s: %w", cfg.Redis.Addr, err)
		}
		infra.Closers = append(infra.Closers, rdb.Close)
		stateStore = state.NewRedisStore(rdb)
		infra.Queues = jobs.RedisQueueFactory(rdb, redisQueuePrefix)
		infra.Ledger = jobs.NewRedisLedger(rdb, redisLedgerPrefix, 0)
		logger.Info("redis backends enabled", "addr", cfg.Redis.Addr)
	}

	options := []billing.Option{
		billing.WithStateStore(stateStore),
		billing.WithSubscriptionStore(factory.SubscriptionStore()),
		billing.WithEndpointStore(factory.EndpointStore()),
		billing.WithDeliveryAttemptStore(factory.DeliveryLogStore()),
	}
	return infra, options, nil
}
