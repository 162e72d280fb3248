package database

import (
	"errors"
	"time"

	"github.com/KumiProject/chartsets/internal/chartsets"
	"github.com/KumiProject/chartsets/internal/status"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationDropStaleRankingQueue = "2025-03-01_drop_stale_ranking_queue"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationDropStaleRankingQueue, apply: dropStaleRankingQueue},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// dropStaleRankingQueue removes queue entries left behind by sets that were
// disqualified before disqualification cleared the queue.
func dropStaleRankingQueue(db *gorm.DB) error {
	qualified := db.Model(&chartsets.ChartSet{}).Select("id").Where("status = ?", status.Qualified)
	return db.Where("set_id NOT IN (?)", qualified).Delete(&chartsets.RankingQueueEntry{}).Error
}
