package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Shopify/sarama"
	"github.com/go-playground/validator/v10"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/practice-sem-2/group-chat-service/internal/bridge"
	"github.com/practice-sem-2/group-chat-service/internal/config"
	"github.com/practice-sem-2/group-chat-service/internal/preferences"
	"github.com/practice-sem-2/group-chat-service/internal/server"
	storage "github.com/practice-sem-2/group-chat-service/internal/storages"
	usecase "github.com/practice-sem-2/group-chat-service/internal/usecases"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
)

// App is one fully wired process: store, bridge, usecases and server.
type App struct {
	Logger      *logrus.Logger
	Store       storage.Client
	Bridge      *bridge.Bridge
	Effects     *usecase.Effects
	Reconciler  *usecase.Reconciler
	Groups      *usecase.GroupsUsecase
	Chats       *usecase.ChatsUsecase
	Auth        *usecase.AuthUsecase
	Preferences *preferences.Service
	Server      *grpc.Server

	closers        []func() error
	stopReconciler context.CancelFunc
	reconcilerDone chan struct{}
}

type options struct {
	producer sarama.SyncProducer
	store    storage.Client
}

type Option func(*options)

// WithProducer publishes updates through p instead of dialing KAFKA_BROKERS.
func WithProducer(p sarama.SyncProducer) Option {
	return func(o *options) {
		o.producer = p
	}
}

// WithStore replaces the configured store backend.
func WithStore(c storage.Client) Option {
	return func(o *options) {
		o.store = c
	}
}

// New builds the application from cfg. On error everything opened so far
// is closed again.
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger, opts ...Option) (_ *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.Store = o.store
	if a.Store == nil {
		if a.Store, err = a.initStore(cfg); err != nil {
			return nil, err
		}
	}
	a.Bridge = bridge.New(a.Store, cfg.Timeouts, logger)
	a.Effects = usecase.NewEffects(logger)

	updates, err := a.initUpdates(cfg, o.producer)
	if err != nil {
		return nil, err
	}

	validate := validator.New()
	deps := usecase.Deps{
		Bridge:   a.Bridge,
		Updates:  updates,
		Effects:  a.Effects,
		Validate: validate,
		Logger:   logger,
	}
	a.Reconciler = usecase.NewReconciler(deps)
	a.Groups = usecase.NewGroupsUsecase(deps, usecase.GroupsConfig{DefaultMaxMembers: cfg.DefaultMaxMembers}, a.Reconciler)
	a.Chats = usecase.NewChatsUsecase(deps, a.Groups)
	a.Auth = usecase.NewAuthUsecase(deps)

	cache, err := a.initPreferencesCache(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Preferences = preferences.NewService(a.Bridge, cache, logger)

	a.Server = server.NewGRPCServer(
		server.NewGroupChatServer(a.Groups, a.Chats, a.Auth, a.Preferences, validate),
		logger,
	)
	return a, nil
}

func (a *App) initStore(cfg *config.Config) (storage.Client, error) {
	if cfg.StoreBackend == config.BackendMemory {
		a.Logger.Info("using in-memory store")
		client := storage.NewMemoryClient(a.Logger)
		a.closers = append(a.closers, func() error {
			client.Wait()
			return nil
		})
		return client, nil
	}

	db, err := sqlx.Connect("pgx", cfg.DBDsn)
	if err != nil {
		return nil, fmt.Errorf("can't connect to database: %w", err)
	}
	a.closers = append(a.closers, db.Close)
	a.Logger.Info("successfully connected to database")

	if err = migrateUp(cfg); err != nil {
		return nil, err
	}

	client := storage.NewPostgresClient(db, storage.PostgresConfig{OpTimeout: cfg.Timeouts.LongFanOut}, a.Logger)
	a.closers = append(a.closers, func() error {
		client.Close()
		return nil
	})
	return client, nil
}

func migrateUp(cfg *config.Config) error {
	dsn := cfg.MigrationsDsn
	if dsn == "" {
		dsn = migrationsDsn(cfg.DBDsn)
	}
	m, err := migrate.New(cfg.MigrationsDir, dsn)
	if err != nil {
		return fmt.Errorf("can't open migrations: %w", err)
	}
	defer m.Close()

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("can't migrate database: %w", err)
	}
	return nil
}

// migrationsDsn rewrites a postgres URL for the pgx migrate driver.
func migrationsDsn(dsn string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, scheme) {
			return "pgx://" + strings.TrimPrefix(dsn, scheme)
		}
	}
	return dsn
}

func (a *App) initUpdates(cfg *config.Config, producer sarama.SyncProducer) (usecase.Updates, error) {
	if producer == nil && len(cfg.KafkaBrokers) == 0 {
		a.Logger.Warn("KAFKA_BROKERS is not set, updates are not published")
		return storage.NopUpdates{}, nil
	}
	if producer == nil {
		var err error
		if producer, err = NewProducer(cfg.KafkaBrokers); err != nil {
			return nil, fmt.Errorf("can't create producer: %w", err)
		}
	}
	a.closers = append(a.closers, producer.Close)
	return storage.NewUpdatesStore(producer, &storage.UpdatesStoreConfig{
		UpdatesTopic: cfg.UpdatesTopic,
	}), nil
}

func NewProducer(brokers []string) (sarama.SyncProducer, error) {
	conf := sarama.NewConfig()
	conf.Producer.Partitioner = sarama.NewHashPartitioner
	conf.Producer.RequiredAcks = sarama.WaitForLocal
	conf.Producer.Timeout = 10 * time.Second
	conf.Producer.Return.Successes = true
	return sarama.NewSyncProducer(brokers, conf)
}

func (a *App) initPreferencesCache(ctx context.Context, cfg *config.Config) (preferences.Backend, error) {
	if cfg.RedisAddr == "" {
		return preferences.NewMemoryBackend(cfg.PreferencesTTL), nil
	}
	client, err := preferences.DialRedis(ctx, cfg.RedisAddr)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	a.Logger.WithField("addr", cfg.RedisAddr).Info("preferences cached in redis")
	return preferences.NewRedisBackend(client, cfg.PreferencesTTL), nil
}

// StartReconciler repairs diverged chat projections every interval in the
// background until Close.
func (a *App) StartReconciler(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.stopReconciler, a.reconcilerDone = cancel, done
	go func() {
		defer close(done)
		a.Reconciler.Run(ctx, interval)
	}()
}

// Close stops the reconciler, waits for background effects and releases
// every opened resource in reverse order.
func (a *App) Close() error {
	if a.stopReconciler != nil {
		a.stopReconciler()
		<-a.reconcilerDone
		a.stopReconciler, a.reconcilerDone = nil, nil
	}
	if a.Effects != nil {
		a.Effects.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
