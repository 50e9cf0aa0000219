// Package app builds the long-lived services of the crawler process from
// configuration and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/pt-crawler/internal/api"
	"github.com/JakeFAU/pt-crawler/internal/config"
	"github.com/JakeFAU/pt-crawler/internal/crawler"
	"github.com/JakeFAU/pt-crawler/internal/dispatcher"
	pubsubpublisher "github.com/JakeFAU/pt-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/pt-crawler/internal/storage/gcs"
	"github.com/JakeFAU/pt-crawler/internal/storage/local"
	"github.com/JakeFAU/pt-crawler/internal/storage/memory"
	"github.com/JakeFAU/pt-crawler/internal/storage/postgres"
	"github.com/JakeFAU/pt-crawler/internal/storage/sqlite"
)

// App holds the shared services of one process.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	records    crawler.RecordStore
	runs       crawler.RunStore
	blobs      crawler.BlobStore
	publisher  crawler.Publisher
	dispatcher *dispatcher.Dispatcher
	ready      []api.ReadyCheck
	closers    []func() error
}

// New initializes every service named by cfg and fails fast on the first
// one that cannot start.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	steps := []func(context.Context) error{
		a.initDatabase,
		a.initStorage,
		a.initPublisher,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.dispatcher = dispatcher.New(cfg, dispatcher.Dependencies{
		Records:   a.records,
		Blobs:     a.blobs,
		Publisher: a.publisher,
		Topic:     cfg.PubSub.TopicName,
		Runs:      a.runs,
		Logger:    logger,
	})
	logger.Info("application services initialized",
		zap.String("database", cfg.Database.Driver),
		zap.String("storage", cfg.Storage.Backend),
		zap.Bool("pubsub", a.publisher != nil),
		zap.Int("tasks", len(cfg.Tasks)),
	)
	return a, nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the process logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Dispatcher returns the run dispatcher.
func (a *App) Dispatcher() *dispatcher.Dispatcher { return a.dispatcher }

// Runs returns the run store.
func (a *App) Runs() crawler.RunStore { return a.runs }

// Records returns the record store.
func (a *App) Records() crawler.RecordStore { return a.records }

// ReadyChecks returns the downstream probes used by /readyz.
func (a *App) ReadyChecks() []api.ReadyCheck { return a.ready }

func (a *App) initDatabase(ctx context.Context) error {
	db := a.cfg.Database
	switch db.Driver {
	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, postgres.Config{
			DSN:             db.DSN,
			MaxConns:        db.MaxConns,
			MinConns:        db.MinConns,
			MaxConnLifetime: time.Duration(db.ConnMaxLifetime) * time.Second,
		})
		if err != nil {
			return err
		}
		records, err := postgres.NewRecordStore(pool, db.Table)
		if err != nil {
			pool.Close()
			return err
		}
		a.closers = append(a.closers, func() error { records.Close(); return nil })
		if err := records.EnsureSchema(ctx); err != nil {
			return err
		}
		runs, err := postgres.NewRunStore(pool)
		if err != nil {
			return err
		}
		if err := runs.EnsureSchema(ctx); err != nil {
			return err
		}
		a.records, a.runs = records, runs
		a.ready = append(a.ready, func(ctx context.Context) error { return pool.Ping(ctx) })
	case config.DriverSQLite:
		records, err := sqlite.Open(ctx, db.DSN)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, records.Close)
		a.records, a.runs = records, memory.NewRunStore()
	default:
		a.records, a.runs = memory.NewRecordStore(), memory.NewRunStore()
	}
	return nil
}

func (a *App) initStorage(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Storage.Bucket, Prefix: a.cfg.Crawler.TorrentDir})
		if err != nil {
			return err
		}
		a.blobs = store
		a.ready = append(a.ready, store.CheckBucket)
	default:
		store, err := local.New(local.Config{BaseDir: a.cfg.Crawler.TorrentDir})
		if err != nil {
			return fmt.Errorf("init torrent dir: %w", err)
		}
		a.blobs = store
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" {
		return nil
	}
	client, err := gpubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("create pubsub client: %w", err)
	}
	publisher := pubsubpublisher.New(client, a.cfg.PubSub.TopicName)
	a.closers = append(a.closers, func() error {
		publisher.Stop()
		return client.Close()
	})
	a.publisher = publisher
	return nil
}

// Close releases every service in reverse order of creation.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing services", zap.Error(err))
	}
}
