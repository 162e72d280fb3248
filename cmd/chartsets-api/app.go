package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/KumiProject/chartsets/internal/accounts"
	"github.com/KumiProject/chartsets/internal/archive"
	"github.com/KumiProject/chartsets/internal/assets"
	"github.com/KumiProject/chartsets/internal/auth"
	"github.com/KumiProject/chartsets/internal/blob"
	"github.com/KumiProject/chartsets/internal/chartsets"
	"github.com/KumiProject/chartsets/internal/config"
	"github.com/KumiProject/chartsets/internal/database"
	"github.com/KumiProject/chartsets/internal/events"
	"github.com/KumiProject/chartsets/internal/media"
	"github.com/KumiProject/chartsets/internal/metrics"
	"github.com/KumiProject/chartsets/internal/search"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// application holds every long-lived component of the service.
type application struct {
	config      config.AppConfig
	logger      *zap.Logger
	db          *gorm.DB
	metrics     *metrics.Metrics
	store       blob.Store
	sink        search.Sink
	broadcaster *events.Broadcaster
	publisher   events.Publisher
	tokens      *auth.TokenIssuer
	accounts    *accounts.Service
	submissions *chartsets.SubmissionService
	nominations *chartsets.NominationService
	moderation  *chartsets.ModerationService
	ranking     *chartsets.RankingWorker
	closers     []func() error
}

func newBlobStore(cfg config.AppConfig) blob.Store {
	switch cfg.BlobDriver {
	case config.BlobDriverMemory:
		return blob.NewMemoryStore()
	case config.BlobDriverS3:
		return blob.NewS3Store(blob.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
	default:
		return blob.NewFilesystemStore(cfg.BlobRoot)
	}
}

func newSearchSink(cfg config.AppConfig) search.Sink {
	if cfg.Search.URL == "" {
		return search.NoopSink{}
	}
	return search.NewMeiliSink(search.MeiliConfig{
		URL:    cfg.Search.URL,
		APIKey: cfg.Search.APIKey,
		Index:  cfg.Search.Index,
	})
}

// buildApplication opens the database, connects the capabilities and wires
// the services. Close releases whatever was opened, also on failure.
func buildApplication(ctx context.Context, cfg config.AppConfig, logger *zap.Logger) (app *application, err error) {
	app = &application{
		config:      cfg,
		logger:      logger,
		metrics:     metrics.New(),
		broadcaster: events.NewBroadcaster(),
	}
	defer func() {
		if err != nil {
			app.Close()
			app = nil
		}
	}()

	app.db, err = database.Open(cfg.DatabaseDriver, cfg.DatabaseDSN, logger)
	if err != nil {
		return app, fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := app.db.DB()
	if err != nil {
		return app, err
	}
	app.closers = append(app.closers, sqlDB.Close)

	app.store = blob.WithMetrics(newBlobStore(cfg), app.metrics)
	if err := app.store.Connect(ctx); err != nil {
		return app, fmt.Errorf("connect blob store: %w", err)
	}
	app.closers = append(app.closers, app.store.Close)

	app.sink = newSearchSink(cfg)
	if err := app.sink.Connect(ctx); err != nil {
		return app, fmt.Errorf("connect search: %w", err)
	}
	app.closers = append(app.closers, app.sink.Close)

	publishers := []events.Publisher{app.broadcaster}
	if cfg.NATSURL != "" {
		publishers = append(publishers, events.NewNATSPublisher(cfg.NATSURL))
	}
	app.publisher = events.NewMulti(app.metrics, publishers...)
	if err := app.publisher.Connect(ctx); err != nil {
		return app, fmt.Errorf("connect event publishers: %w", err)
	}
	app.closers = append(app.closers, app.publisher.Close)

	app.tokens, err = auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(cfg.SigningSecret),
		Issuer:        cfg.TokenIssuer,
		Audience:      cfg.TokenAudience,
		TokenTTL:      cfg.TokenTTL,
	})
	if err != nil {
		return app, err
	}

	app.accounts, err = accounts.NewService(accounts.ServiceConfig{Database: app.db})
	if err != nil {
		return app, err
	}

	ffmpeg := media.NewFFmpeg(media.FFmpegConfig{
		FFmpegPath:  cfg.Media.FFmpegPath,
		FFprobePath: cfg.Media.FFprobePath,
		ScratchDir:  cfg.Media.ScratchDir,
	})
	processor, err := assets.NewProcessor(assets.ProcessorConfig{
		Store:      app.store,
		Prober:     ffmpeg,
		Transcoder: ffmpeg,
		ScratchDir: cfg.Media.ScratchDir,
		Logger:     logger,
	})
	if err != nil {
		return app, err
	}

	indexer := chartsets.NewIndexer(chartsets.IndexerConfig{
		Sink:    app.sink,
		Index:   cfg.Search.Index,
		Metrics: app.metrics,
	})

	app.submissions, err = chartsets.NewSubmissionService(chartsets.SubmissionConfig{
		Database:           app.db,
		Extractor:          archive.NewExtractor(archive.ExtractorConfig{Logger: logger}),
		Processor:          processor,
		Accounts:           app.accounts,
		Indexer:            indexer,
		Publisher:          app.publisher,
		Metrics:            app.metrics,
		NominatorsRequired: cfg.Nomination.Required,
		Logger:             logger,
	})
	if err != nil {
		return app, err
	}

	app.nominations, err = chartsets.NewNominationService(chartsets.NominationConfig{
		Database:           app.db,
		Accounts:           app.accounts,
		Indexer:            indexer,
		Publisher:          app.publisher,
		Metrics:            app.metrics,
		NominatorsRequired: cfg.Nomination.Required,
		RankDelay:          cfg.Nomination.RankDelay,
		Logger:             logger,
	})
	if err != nil {
		return app, err
	}

	app.moderation, err = chartsets.NewModerationService(chartsets.ModerationConfig{
		Database:    app.db,
		Accounts:    app.accounts,
		Nominations: app.nominations,
		Indexer:     indexer,
		Publisher:   app.publisher,
		Logger:      logger,
	})
	if err != nil {
		return app, err
	}

	app.ranking, err = chartsets.NewRankingWorker(chartsets.RankingConfig{
		Database:  app.db,
		Indexer:   indexer,
		Publisher: app.publisher,
		Metrics:   app.metrics,
		Logger:    logger,
	})
	if err != nil {
		return app, err
	}

	return app, nil
}

// Close releases components in reverse order of acquisition.
func (a *application) Close() error {
	var errs []error
	for index := len(a.closers) - 1; index >= 0; index-- {
		errs = append(errs, a.closers[index]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
