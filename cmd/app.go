package main

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"tenancy/internal/config"
	"tenancy/internal/logger"
	"tenancy/internal/messaging"
	"tenancy/internal/provisioning"
	"tenancy/internal/secret"
	"tenancy/internal/storage"
	"tenancy/internal/tenantdb"
)

// app holds the components every subcommand shares.
type app struct {
	cfg   *config.Config
	log   *zap.Logger
	store *storage.Storage
	box   *secret.Box
	redis *redis.Client
	pools *tenantdb.Manager

	closers []func() error
}

func bootstrap(cfgPath, service string) (*app, error) {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, service)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	a := &app{cfg: cfg, log: log}
	a.onClose(func() error {
		_ = log.Sync()
		return nil
	})

	box, err := secret.NewBox(cfg.AppKey)
	if err != nil {
		return nil, multierr.Append(err, a.Close())
	}
	a.box = box

	store, err := storage.NewStorage(cfg.Database.URL)
	if err != nil {
		return nil, multierr.Append(err, a.Close())
	}
	a.store = store
	a.onClose(store.Close)
	log.Info("PostgreSQL connected")

	a.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	a.onClose(a.redis.Close)

	a.pools = tenantdb.NewManager(tenantdb.Settings{
		Host:        cfg.Database.TenantHost,
		Port:        cfg.Database.TenantPort,
		SSLMode:     cfg.Database.TenantSSLMode,
		MaxConns:    cfg.Database.MaxConns,
		IdleTimeout: cfg.Database.IdleTimeout,
	}, box, log)
	a.onClose(func() error {
		a.pools.Close()
		return nil
	})
	return a, nil
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var err error
	for _, fn := range slices.Backward(a.closers) {
		err = multierr.Append(err, fn())
	}
	a.closers = nil
	return err
}

func (a *app) progress() *provisioning.RedisProgress {
	return provisioning.NewRedisProgress(a.redis, a.cfg.Redis.ProgressTTL)
}

func (a *app) rabbit() (*messaging.RabbitClient, error) {
	client, err := messaging.NewRabbitClient(a.cfg.RabbitMQ.URL, messaging.Topology{
		Queue:      a.cfg.RabbitMQ.Queue,
		RetryDelay: a.cfg.RabbitMQ.RetryDelay,
	}, a.log)
	if err != nil {
		return nil, err
	}
	a.onClose(client.Close)
	if err := client.Declare(); err != nil {
		return nil, err
	}
	a.log.Info("RabbitMQ connected", zap.String("queue", a.cfg.RabbitMQ.Queue))
	return client, nil
}

// workflow assembles the provisioning steps. Database and role DDL run over a
// separate administrative connection.
func (a *app) workflow() (*provisioning.Workflow, error) {
	adminDB, err := sql.Open("postgres", a.cfg.Database.AdminURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open admin db: %w", err)
	}
	a.onClose(adminDB.Close)
	if err := adminDB.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to connect to admin db: %w", err)
	}

	data, err := provisioning.LoadReferenceData()
	if err != nil {
		return nil, err
	}
	cfg := a.cfg
	seeder := provisioning.NewReferenceDataSeeder(data, cfg.SeederEnabled, a.log)
	a.log.Info("seeders planned", zap.Strings("seeders", seeder.Names()))

	databases := provisioning.NewDatabaseProvisioner(
		a.store, provisioning.NewPostgresDatabaseManager(adminDB), a.box, cfg.Database.TenantPrefix, a.log)
	search := provisioning.NewMeiliIndexManager(
		cfg.Search.URL, cfg.Search.APIKey, cfg.Search.Indexes, cfg.Search.Timeout, a.log)

	return provisioning.NewWorkflow(provisioning.Deps{
		Directory:     a.store,
		Databases:     databases,
		Connector:     a.pools,
		Migrator:      provisioning.NewSchemaMigrator(nil, a.log),
		MigrationPath: provisioning.TenantMigrations,
		Seeder:        seeder,
		Admins:        provisioning.NewAdminProvisioner(data.SuperAdminRole, a.log),
		Search:        search,
		Progress:      a.progress(),
		CentralDomain: cfg.PrimaryCentralDomain(),
		Locale:        cfg.Seeding.Locale,
		Timezone:      cfg.Seeding.Timezone,
		Currency:      cfg.Seeding.Currency,
		Logger:        a.log,
	}), nil
}
