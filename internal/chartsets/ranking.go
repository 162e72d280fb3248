package chartsets

import (
	"context"
	"errors"
	"time"

	"github.com/KumiProject/chartsets/internal/events"
	"github.com/KumiProject/chartsets/internal/metrics"
	"github.com/KumiProject/chartsets/internal/status"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RankingConfig wires the ranking queue worker.
type RankingConfig struct {
	Database  *gorm.DB
	Indexer   *Indexer
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Clock     func() time.Time
	Logger    *zap.Logger
}

// RankingWorker promotes qualified sets once their ranking time has passed.
type RankingWorker struct {
	db        *gorm.DB
	metrics   *metrics.Metrics
	clock     func() time.Time
	logger    *zap.Logger
	lifecycle lifecycle
}

func NewRankingWorker(cfg RankingConfig) (*RankingWorker, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &RankingWorker{
		db:      cfg.Database,
		metrics: cfg.Metrics,
		clock:   clock,
		logger:  logger,
		lifecycle: lifecycle{
			db:        cfg.Database,
			indexer:   cfg.Indexer,
			publisher: cfg.Publisher,
			logger:    logger,
		},
	}, nil
}

// ProcessDue ranks every due queue entry whose set is still qualified and
// returns how many sets were ranked. Due entries are removed either way.
func (w *RankingWorker) ProcessDue(ctx context.Context) (int, error) {
	now := w.clock().UTC()

	var due []RankingQueueEntry
	if err := w.db.WithContext(ctx).
		Where("ranked_at <= ?", now).
		Order("ranked_at").
		Find(&due).Error; err != nil {
		w.logError(opRank, "list_due", err)
		return 0, newServiceError(opRank, "list_due", err)
	}

	ranked := 0
	for _, entry := range due {
		result := outcome{setID: entry.SetID}
		txErr := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Delete(&RankingQueueEntry{}, entry.ID).Error; err != nil {
				return err
			}
			set, err := lockChartSet(tx, entry.SetID)
			if errors.Is(err, ErrSetNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if set.Status != status.Qualified {
				return nil
			}

			if err := tx.Model(&ChartSet{}).Where("id = ?", set.ID).Updates(map[string]any{
				"status":    status.Ranked,
				"ranked_on": now,
			}).Error; err != nil {
				return err
			}
			if err := tx.Model(&Chart{}).
				Where("set_id = ? AND status = ?", set.ID, status.Qualified).
				Update("status", status.Ranked).Error; err != nil {
				return err
			}
			result.reindex = true
			result.record(events.TypeRanked, 0, now, nil)
			return appendEvent(tx, set.ID, EventChartSetRanked, nil, nil, now)
		})
		if txErr != nil {
			w.logError(opRank, "transaction", txErr, zap.Int64(fieldSetID, entry.SetID))
			return ranked, newServiceError(opRank, "transaction", txErr)
		}
		if result.reindex {
			ranked++
			w.lifecycle.finish(ctx, result)
		}
	}

	w.metrics.ObserveRanked(ranked)
	if ranked > 0 {
		w.logger.Info("ranked chart sets", zap.Int("count", ranked))
	}
	return ranked, nil
}

// Run processes the queue every interval until ctx is cancelled.
func (w *RankingWorker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := w.ProcessDue(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("ranking queue pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *RankingWorker) logError(operation, reason string, err error, fields ...zap.Field) {
	logError(w.logger, operation, reason, err, fields...)
}
