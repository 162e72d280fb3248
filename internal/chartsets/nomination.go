package chartsets

import (
	"context"
	"errors"
	"time"

	"github.com/KumiProject/chartsets/internal/accounts"
	"github.com/KumiProject/chartsets/internal/events"
	"github.com/KumiProject/chartsets/internal/metrics"
	"github.com/KumiProject/chartsets/internal/status"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultNominatorsRequired = 2
	DefaultRankDelay          = 72 * time.Hour
)

var errMissingAccounts = errors.New("accounts directory is required")

// NominationConfig wires the nomination state machine.
type NominationConfig struct {
	Database           *gorm.DB
	Accounts           Accounts
	Indexer            *Indexer
	Publisher          events.Publisher
	Metrics            *metrics.Metrics
	Clock              func() time.Time
	NominatorsRequired int
	RankDelay          time.Duration
	Logger             *zap.Logger
}

// NominationService moves pending sets towards ranking and back.
type NominationService struct {
	db                 *gorm.DB
	directory          Accounts
	metrics            *metrics.Metrics
	clock              func() time.Time
	nominatorsRequired int
	rankDelay          time.Duration
	logger             *zap.Logger
	lifecycle          lifecycle
}

func NewNominationService(cfg NominationConfig) (*NominationService, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Accounts == nil {
		return nil, newServiceError(opServiceNew, "missing_accounts", errMissingAccounts)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	required := cfg.NominatorsRequired
	if required <= 0 {
		required = DefaultNominatorsRequired
	}
	delay := cfg.RankDelay
	if delay <= 0 {
		delay = DefaultRankDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &NominationService{
		db:                 cfg.Database,
		directory:          cfg.Accounts,
		metrics:            cfg.Metrics,
		clock:              clock,
		nominatorsRequired: required,
		rankDelay:          delay,
		logger:             logger,
		lifecycle: lifecycle{
			db:        cfg.Database,
			indexer:   cfg.Indexer,
			publisher: cfg.Publisher,
			logger:    logger,
		},
	}, nil
}

// Nominate records actorID's nomination of a pending set. The nomination that
// reaches the set's quorum qualifies the set and schedules it for ranking.
func (s *NominationService) Nominate(ctx context.Context, setID, actorID int64) (ChartSet, error) {
	if _, err := requirePermission(ctx, s.directory, actorID, accounts.PermissionNominateCharts); err != nil {
		s.metrics.ObserveNomination("no_permission")
		return ChartSet{}, err
	}

	now := s.clock().UTC()
	result := outcome{setID: setID}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		set, err := lockChartSet(tx, setID)
		if err != nil {
			return err
		}

		// A repeated nomination is reported as such whatever the set's status.
		var existing int64
		if err := tx.Model(&Nomination{}).
			Where("set_id = ? AND account_id = ?", setID, actorID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrAlreadyNominated
		}
		if set.Status != status.Pending {
			return ErrSetNotPending
		}
		if err := tx.Create(&Nomination{SetID: setID, AccountID: actorID, CreatedAt: now}).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyNominated
			}
			return err
		}

		var nominators int64
		if err := tx.Model(&Nomination{}).Where("set_id = ?", setID).Count(&nominators).Error; err != nil {
			return err
		}

		required := set.Attributes.Data().NominatorsRequired
		if required <= 0 {
			required = s.nominatorsRequired
		}
		if nominators < int64(required) {
			result.record(events.TypeNominated, actorID, now, map[string]any{"nominators": nominators, "required": required})
			return appendEvent(tx, setID, EventChartSetNominated, &actorID, nil, now)
		}

		rankedAt := now.Add(s.rankDelay)
		if err := tx.Model(&ChartSet{}).Where("id = ?", setID).Updates(map[string]any{
			"status":    status.Qualified,
			"ranked_on": rankedAt,
		}).Error; err != nil {
			return err
		}
		if err := tx.Model(&Chart{}).Where("set_id = ?", setID).Update("status", status.Qualified).Error; err != nil {
			return err
		}
		entry := RankingQueueEntry{SetID: setID, CreatedAt: now, RankedAt: rankedAt}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "set_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"created_at", "ranked_at"}),
		}).Create(&entry).Error; err != nil {
			return err
		}
		result.reindex = true
		result.record(events.TypeQualified, actorID, now, map[string]any{"ranked_at": rankedAt})
		return appendEvent(tx, setID, EventChartSetQualified, &actorID, nil, now)
	})
	if txErr != nil {
		s.metrics.ObserveNomination(nominationOutcome(txErr))
		if !isDomainError(txErr) {
			s.logError(opNominate, "transaction", txErr, zap.Int64(fieldSetID, setID), zap.Int64(fieldAccountID, actorID))
		}
		return ChartSet{}, domainError(opNominate, "transaction", txErr)
	}

	if result.reindex {
		s.metrics.ObserveNomination("qualified")
	} else {
		s.metrics.ObserveNomination("nominated")
	}
	s.lifecycle.finish(ctx, result)

	nominated, err := loadChartSet(s.db.WithContext(ctx), setID)
	if err != nil {
		return ChartSet{}, domainError(opNominate, "reload", err)
	}
	return nominated, nil
}

// Disqualify clears every nomination of a set. A qualified set returns to
// pending and leaves the ranking queue; any other set only records a reset.
func (s *NominationService) Disqualify(ctx context.Context, setID, actorID int64, parentPostID *int64) (ChartSet, error) {
	if _, err := requirePermission(ctx, s.directory, actorID, accounts.PermissionDisqualifyCharts); err != nil {
		return ChartSet{}, err
	}

	var result outcome
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.disqualifyInTx(tx, setID, actorID, parentPostID)
		return err
	})
	if txErr != nil {
		if !isDomainError(txErr) {
			s.logError(opDisqualify, "transaction", txErr, zap.Int64(fieldSetID, setID), zap.Int64(fieldAccountID, actorID))
		}
		return ChartSet{}, domainError(opDisqualify, "transaction", txErr)
	}
	s.metrics.ObserveNomination("disqualified")
	s.lifecycle.finish(ctx, result)

	set, err := loadChartSet(s.db.WithContext(ctx), setID)
	if err != nil {
		return ChartSet{}, domainError(opDisqualify, "reload", err)
	}
	return set, nil
}

// disqualifyInTx runs the disqualification on an open transaction so callers
// that already hold one can disqualify atomically with their own writes.
func (s *NominationService) disqualifyInTx(tx *gorm.DB, setID, actorID int64, parentPostID *int64) (outcome, error) {
	now := s.clock().UTC()
	result := outcome{setID: setID}

	set, err := lockChartSet(tx, setID)
	if err != nil {
		return outcome{}, err
	}
	if err := tx.Where("set_id = ?", setID).Delete(&Nomination{}).Error; err != nil {
		return outcome{}, err
	}

	if set.Status != status.Qualified {
		result.record(events.TypeReset, actorID, now, nil)
		return result, appendEvent(tx, setID, EventChartSetReset, &actorID, parentPostID, now)
	}

	if err := tx.Model(&ChartSet{}).Where("id = ?", setID).Updates(map[string]any{
		"status":    status.Pending,
		"ranked_on": nil,
	}).Error; err != nil {
		return outcome{}, err
	}
	if err := tx.Model(&Chart{}).
		Where("set_id = ? AND status = ?", setID, status.Qualified).
		Update("status", status.Pending).Error; err != nil {
		return outcome{}, err
	}
	if err := tx.Where("set_id = ?", setID).Delete(&RankingQueueEntry{}).Error; err != nil {
		return outcome{}, err
	}
	result.reindex = true
	result.record(events.TypeDisqualified, actorID, now, nil)
	return result, appendEvent(tx, setID, EventChartSetDisqualified, &actorID, parentPostID, now)
}

func (s *NominationService) logError(operation, reason string, err error, fields ...zap.Field) {
	logError(s.logger, operation, reason, err, fields...)
}

func nominationOutcome(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyNominated):
		return "already_nominated"
	case errors.Is(err, ErrSetNotPending):
		return "not_pending"
	case errors.Is(err, ErrSetNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// requirePermission loads the acting account and checks it holds permission.
func requirePermission(ctx context.Context, directory Accounts, actorID int64, permission accounts.Permission) (accounts.Account, error) {
	account, err := directory.FindByID(ctx, actorID)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return accounts.Account{}, ErrNoPermission
	}
	if err != nil {
		return accounts.Account{}, err
	}
	if !account.Has(permission) {
		return accounts.Account{}, ErrNoPermission
	}
	return account, nil
}

func lockChartSet(tx *gorm.DB, setID int64) (ChartSet, error) {
	var set ChartSet
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", setID).Take(&set).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ChartSet{}, ErrSetNotFound
	}
	return set, err
}

func appendEvent(tx *gorm.DB, setID int64, eventType EventType, actorID, parentID *int64, at time.Time) error {
	return tx.Create(&ModdingEvent{
		SetID:     setID,
		ParentID:  parentID,
		Type:      eventType,
		ActorID:   actorID,
		CreatedAt: at,
	}).Error
}
