package chartsets

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/KumiProject/chartsets/internal/archive"
	"github.com/KumiProject/chartsets/internal/assets"
	"github.com/KumiProject/chartsets/internal/blob"
	"github.com/KumiProject/chartsets/internal/chartfile"
	"github.com/KumiProject/chartsets/internal/events"
	"github.com/KumiProject/chartsets/internal/metrics"
	"github.com/KumiProject/chartsets/internal/status"
	"github.com/KumiProject/chartsets/internal/telemetry"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	stageExtract  = "extract"
	stageValidate = "validate"
	stagePersist  = "persist"
	stagePreview  = "preview"
)

var errMissingPipeline = errors.New("extractor and asset processor are required")

// Extractor reads the chart documents of an uploaded archive.
type Extractor interface {
	Extract(ctx context.Context, archivePath string, submissionStatus status.Status) ([]archive.Document, error)
}

// AssetProcessor stores chart files and media and derives chart statistics.
type AssetProcessor interface {
	StoreChart(ctx context.Context, setID, chartID int64, raw []byte) (assets.StoredChart, error)
	DeleteChart(ctx context.Context, setID, chartID int64) error
	Statistics(ctx context.Context, notes []chartfile.Note, music []byte, musicFile string) (assets.Statistics, error)
	StoreAsset(ctx context.Context, setID int64, fileName string, data []byte) (assets.StoredAsset, error)
	GeneratePreview(ctx context.Context, setID int64, music []byte, musicFile string, previewTime float64) (string, error)
}

// SubmissionConfig wires the submission pipeline.
type SubmissionConfig struct {
	Database           *gorm.DB
	Extractor          Extractor
	Processor          AssetProcessor
	Accounts           Accounts
	Indexer            *Indexer
	Publisher          events.Publisher
	Metrics            *metrics.Metrics
	Clock              func() time.Time
	NominatorsRequired int
	Logger             *zap.Logger
}

// SubmitRequest describes a new chart set upload.
type SubmitRequest struct {
	ArchivePath string
	UploaderID  int64
	Description *string
	Status      status.Status
}

// UpdateRequest describes a re-upload of an existing chart set. Nil fields keep
// their stored values.
type UpdateRequest struct {
	ArchivePath string
	UploaderID  int64
	Description *string
	Status      *status.Status
}

// ChartHash maps a stored chart to the SHA-256 of the file the uploader sent.
type ChartHash struct {
	ID           int64  `json:"id"`
	OriginalHash string `json:"original_hash"`
}

// SubmissionResult is the stored set with the charts written by the request.
type SubmissionResult struct {
	Set    ChartSet
	Charts []ChartHash
}

// SubmissionService turns uploaded archives into persisted chart sets.
type SubmissionService struct {
	db                 *gorm.DB
	extractor          Extractor
	processor          AssetProcessor
	validator          *Validator
	metrics            *metrics.Metrics
	clock              func() time.Time
	nominatorsRequired int
	logger             *zap.Logger
	lifecycle          lifecycle
}

func NewSubmissionService(cfg SubmissionConfig) (*SubmissionService, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Extractor == nil || cfg.Processor == nil {
		return nil, newServiceError(opServiceNew, "missing_pipeline", errMissingPipeline)
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
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &SubmissionService{
		db:                 cfg.Database,
		extractor:          cfg.Extractor,
		processor:          cfg.Processor,
		validator:          NewValidator(cfg.Accounts),
		metrics:            cfg.Metrics,
		clock:              clock,
		nominatorsRequired: required,
		logger:             logger,
		lifecycle: lifecycle{
			db:        cfg.Database,
			indexer:   cfg.Indexer,
			publisher: cfg.Publisher,
			logger:    logger,
		},
	}, nil
}

// Submit creates a chart set from the archive at request.ArchivePath. The
// oldest chart in the archive is the basis every other chart must match.
func (s *SubmissionService) Submit(ctx context.Context, request SubmitRequest) (result SubmissionResult, err error) {
	ctx, span := telemetry.StartSpan(ctx, opSubmit)
	defer func() {
		telemetry.EndSpan(span, err)
		s.metrics.ObserveSubmission("submit", err)
	}()

	if !request.Status.Submittable() {
		return SubmissionResult{}, fmt.Errorf("%w: %s", ErrStatusLocked, request.Status)
	}

	charts, basis, err := s.prepare(ctx, request.ArchivePath, request.Status)
	if err != nil {
		return SubmissionResult{}, err
	}

	if declared := basis.Header.ChartSetID; declared != chartfile.UnassignedID {
		var existing int64
		if err := s.db.WithContext(ctx).Model(&ChartSet{}).Where("id = ?", declared).Count(&existing).Error; err != nil {
			s.logError(opSubmit, "lookup_set", err, zap.Int64(fieldSetID, declared))
			return SubmissionResult{}, newServiceError(opSubmit, "lookup_set", err)
		}
		if existing > 0 {
			return SubmissionResult{}, ErrSetAlreadyExists
		}
		return SubmissionResult{}, ErrSetNotFound
	}

	description := defaultDescription
	if request.Description != nil && *request.Description != "" {
		description = *request.Description
	}

	now := s.clock().UTC()
	var setOutcome outcome
	persistStarted := time.Now()
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		set := ChartSet{
			Description: description,
			Status:      request.Status,
			Attributes:  datatypes.NewJSONType(SetAttributes{NominatorsRequired: s.nominatorsRequired}),
			CreatorID:   request.UploaderID,
		}
		set.applyMetadata(basis.Metadata)
		if err := tx.Omit(clause.Associations).Create(&set).Error; err != nil {
			return err
		}
		setOutcome = outcome{setID: set.ID, reindex: true}

		hashes := make([]ChartHash, 0, len(charts))
		for _, chart := range charts {
			created, err := s.createChart(ctx, tx, set.ID, chart, request.Status, request.UploaderID)
			if err != nil {
				return err
			}
			hashes = append(hashes, ChartHash{ID: created.ID, OriginalHash: chart.Checksum()})
		}

		manifest, err := s.storeAssets(ctx, set.ID, charts, basis)
		if err != nil {
			return err
		}
		manifest.BasisChartID = hashes[0].ID
		if err := tx.Model(&ChartSet{}).Where("id = ?", set.ID).
			Update("internal_data", datatypes.NewJSONType(manifest)).Error; err != nil {
			return err
		}
		s.metrics.ObserveStage(stagePersist, persistStarted)

		if err := s.generatePreview(ctx, set.ID, basis); err != nil {
			return err
		}

		result.Charts = hashes
		setOutcome.record(events.TypeSubmitted, request.UploaderID, now, map[string]any{"charts": len(hashes)})
		return nil
	})
	if txErr != nil {
		if !isDomainError(txErr) {
			s.logError(opSubmit, "transaction", txErr, zap.Int64(fieldAccountID, request.UploaderID))
		}
		return SubmissionResult{}, domainError(opSubmit, "transaction", txErr)
	}

	s.lifecycle.finish(ctx, setOutcome)

	result.Set, err = loadChartSet(s.db.WithContext(ctx), setOutcome.setID)
	if err != nil {
		return SubmissionResult{}, domainError(opSubmit, "reload", err)
	}
	return result, nil
}

// Update applies a re-uploaded archive to the set its basis chart declares.
// Charts missing from the archive are removed along with their files.
func (s *SubmissionService) Update(ctx context.Context, request UpdateRequest) (result SubmissionResult, err error) {
	ctx, span := telemetry.StartSpan(ctx, opUpdate)
	defer func() {
		telemetry.EndSpan(span, err)
		s.metrics.ObserveSubmission("update", err)
	}()

	if request.Status != nil && !request.Status.Submittable() {
		return SubmissionResult{}, fmt.Errorf("%w: %s", ErrStatusLocked, *request.Status)
	}

	documentStatus := status.Pending
	if request.Status != nil {
		documentStatus = *request.Status
	}
	charts, basis, err := s.prepare(ctx, request.ArchivePath, documentStatus)
	if err != nil {
		return SubmissionResult{}, err
	}

	setID := basis.Header.ChartSetID
	if setID == chartfile.UnassignedID {
		return SubmissionResult{}, ErrSetNotFound
	}

	now := s.clock().UTC()
	setOutcome := outcome{setID: setID, reindex: true}
	persistStarted := time.Now()
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		set, err := lockChartSet(tx, setID)
		if err != nil {
			return err
		}
		if set.CreatorID != request.UploaderID {
			return ErrNotOwner
		}

		effectiveStatus := set.Status
		if request.Status != nil {
			if !set.Status.Submittable() {
				return fmt.Errorf("%w: set is %s", ErrStatusLocked, set.Status)
			}
			effectiveStatus = *request.Status
		}

		var stored []Chart
		if err := tx.Where("set_id = ?", setID).Find(&stored).Error; err != nil {
			return err
		}

		hashes := make([]ChartHash, 0, len(charts))
		seen := make(map[int64]struct{}, len(charts))
		basisChartID := int64(0)
		for _, chart := range charts {
			existing, err := findChartOfSet(tx, setID, chart.Header.ChartID)
			if err != nil {
				return err
			}

			var saved Chart
			if existing == nil {
				saved, err = s.createChart(ctx, tx, setID, chart, effectiveStatus, request.UploaderID)
				if err == nil {
					setOutcome.record(events.TypeUpdated, request.UploaderID, now, map[string]any{"chart_added": saved.ID})
					err = appendEvent(tx, setID, EventChartAdded, &request.UploaderID, nil, now)
				}
			} else {
				saved, err = s.refreshChart(ctx, tx, *existing, chart, effectiveStatus, request.UploaderID)
			}
			if err != nil {
				return err
			}

			seen[saved.ID] = struct{}{}
			if basisChartID == 0 {
				basisChartID = saved.ID
			}
			hashes = append(hashes, ChartHash{ID: saved.ID, OriginalHash: chart.Checksum()})
		}

		for _, orphan := range stored {
			if _, ok := seen[orphan.ID]; ok {
				continue
			}
			if err := s.removeChart(ctx, tx, orphan); err != nil {
				return err
			}
			setOutcome.record(events.TypeUpdated, request.UploaderID, now, map[string]any{"chart_removed": orphan.ID})
			if err := appendEvent(tx, setID, EventChartRemoved, &request.UploaderID, nil, now); err != nil {
				return err
			}
		}

		manifest, err := s.storeAssets(ctx, setID, charts, basis)
		if err != nil {
			return err
		}
		manifest.BasisChartID = basisChartID

		metadataChanged := set.metadata() != basis.Metadata
		set.applyMetadata(basis.Metadata)
		set.InternalData = datatypes.NewJSONType(manifest)
		set.Status = effectiveStatus
		if request.Description != nil && *request.Description != "" {
			set.Description = *request.Description
		}
		if err := tx.Omit(clause.Associations).Save(&set).Error; err != nil {
			return err
		}
		if metadataChanged {
			setOutcome.record(events.TypeUpdated, request.UploaderID, now, map[string]any{"metadata_changed": true})
			if err := appendEvent(tx, setID, EventMetadataChanged, &request.UploaderID, nil, now); err != nil {
				return err
			}
		}
		s.metrics.ObserveStage(stagePersist, persistStarted)

		if err := s.generatePreview(ctx, setID, basis); err != nil {
			return err
		}

		if len(setOutcome.envelopes) == 0 {
			setOutcome.record(events.TypeUpdated, request.UploaderID, now, nil)
		}
		result.Charts = hashes
		return nil
	})
	if txErr != nil {
		if !isDomainError(txErr) {
			s.logError(opUpdate, "transaction", txErr, zap.Int64(fieldSetID, setID), zap.Int64(fieldAccountID, request.UploaderID))
		}
		return SubmissionResult{}, domainError(opUpdate, "transaction", txErr)
	}

	s.lifecycle.finish(ctx, setOutcome)

	result.Set, err = loadChartSet(s.db.WithContext(ctx), setID)
	if err != nil {
		return SubmissionResult{}, domainError(opUpdate, "reload", err)
	}
	return result, nil
}

// Get loads a set with its charts, their creators and the set's nominations.
func (s *SubmissionService) Get(ctx context.Context, setID int64) (ChartSet, error) {
	set, err := loadChartSet(s.db.WithContext(ctx), setID)
	if err != nil && !errors.Is(err, ErrSetNotFound) {
		s.logError(opGet, "query", err, zap.Int64(fieldSetID, setID))
		return ChartSet{}, newServiceError(opGet, "query", err)
	}
	return set, err
}

// prepare extracts and validates an archive and returns the validated charts
// along with the basis chart.
func (s *SubmissionService) prepare(ctx context.Context, archivePath string, documentStatus status.Status) ([]CreatableChart, CreatableChart, error) {
	started := time.Now()
	documents, err := s.extractor.Extract(ctx, archivePath, documentStatus)
	s.metrics.ObserveStage(stageExtract, started)
	if err != nil {
		return nil, CreatableChart{}, err
	}
	if len(documents) == 0 {
		return nil, CreatableChart{}, archive.ErrNoChartsFound
	}

	started = time.Now()
	charts, err := s.validator.Validate(ctx, documents, documents[0])
	s.metrics.ObserveStage(stageValidate, started)
	if err != nil {
		return nil, CreatableChart{}, err
	}
	return charts, charts[0], nil
}

func (s *SubmissionService) createChart(ctx context.Context, tx *gorm.DB, setID int64, chart CreatableChart, chartStatus status.Status, uploaderID int64) (Chart, error) {
	statistics, err := s.processor.Statistics(ctx, chart.Notes, chart.Music, chart.Header.MusicFile)
	if err != nil {
		return Chart{}, err
	}

	row := Chart{SetID: setID}
	row.applyDocument(chart, chartStatus, statistics)
	if err := tx.Omit(clause.Associations).Create(&row).Error; err != nil {
		return Chart{}, err
	}

	stored, err := s.processor.StoreChart(ctx, setID, row.ID, chart.Raw)
	if err != nil {
		return Chart{}, err
	}
	row.MapChecksum = stored.Checksum
	if err := tx.Model(&Chart{}).Where("id = ?", row.ID).Update("map_checksum", stored.Checksum).Error; err != nil {
		return Chart{}, err
	}
	return row, attachCreators(tx, row.ID, uploaderID, chart.CreatorIDs)
}

func (s *SubmissionService) refreshChart(ctx context.Context, tx *gorm.DB, existing Chart, chart CreatableChart, chartStatus status.Status, uploaderID int64) (Chart, error) {
	statistics, err := s.processor.Statistics(ctx, chart.Notes, chart.Music, chart.Header.MusicFile)
	if err != nil {
		return Chart{}, err
	}
	stored, err := s.processor.StoreChart(ctx, existing.SetID, existing.ID, chart.Raw)
	if err != nil {
		return Chart{}, err
	}

	existing.applyDocument(chart, chartStatus, statistics)
	existing.MapChecksum = stored.Checksum
	if err := tx.Omit(clause.Associations).Save(&existing).Error; err != nil {
		return Chart{}, err
	}
	return existing, attachCreators(tx, existing.ID, uploaderID, chart.CreatorIDs)
}

func (s *SubmissionService) removeChart(ctx context.Context, tx *gorm.DB, chart Chart) error {
	if err := tx.Where("chart_id = ?", chart.ID).Delete(&ChartCreator{}).Error; err != nil {
		return err
	}
	if err := tx.Unscoped().Delete(&Chart{}, chart.ID).Error; err != nil {
		return err
	}
	if err := s.processor.DeleteChart(ctx, chart.SetID, chart.ID); err != nil && !errors.Is(err, blob.ErrNotFound) {
		return err
	}
	return nil
}

// storeAssets writes the music and background of every chart, skipping files
// whose stored content is unchanged, and returns the manifest of the basis.
func (s *SubmissionService) storeAssets(ctx context.Context, setID int64, charts []CreatableChart, basis CreatableChart) (AssetManifest, error) {
	hashes := make(map[string]string)
	store := func(fileName string, data []byte) error {
		if fileName == "" || data == nil {
			return nil
		}
		if _, ok := hashes[fileName]; ok {
			return nil
		}
		asset, err := s.processor.StoreAsset(ctx, setID, fileName, data)
		if err != nil {
			return err
		}
		hashes[fileName] = asset.Hash
		return nil
	}

	for _, chart := range charts {
		if err := store(chart.Header.MusicFile, chart.Music); err != nil {
			return AssetManifest{}, err
		}
		if err := store(chart.BackgroundFile, chart.Background); err != nil {
			return AssetManifest{}, err
		}
	}

	return AssetManifest{
		Background:     basis.BackgroundFile,
		BackgroundHash: hashes[basis.BackgroundFile],
		Music:          basis.Header.MusicFile,
		MusicHash:      hashes[basis.Header.MusicFile],
	}, nil
}

func (s *SubmissionService) generatePreview(ctx context.Context, setID int64, basis CreatableChart) error {
	started := time.Now()
	_, err := s.processor.GeneratePreview(ctx, setID, basis.Music, basis.Header.MusicFile, basis.Header.PreviewTime)
	s.metrics.ObserveStage(stagePreview, started)
	return err
}

func (s *SubmissionService) logError(operation, reason string, err error, fields ...zap.Field) {
	logError(s.logger, operation, reason, err, fields...)
}

// findChartOfSet returns the stored chart chartID refers to, or nil when the
// document describes a new chart.
func findChartOfSet(tx *gorm.DB, setID, chartID int64) (*Chart, error) {
	if chartID == chartfile.UnassignedID {
		return nil, nil
	}
	var chart Chart
	err := tx.Where("id = ?", chartID).Take(&chart).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if chart.SetID != setID {
		return nil, fmt.Errorf("%w: chart %d", ErrChartNotPartOfSet, chartID)
	}
	return &chart, nil
}

// attachCreators credits the uploader and the resolved creators on a chart.
func attachCreators(tx *gorm.DB, chartID, uploaderID int64, creatorIDs []int64) error {
	identifiers := append([]int64{uploaderID}, creatorIDs...)
	slices.Sort(identifiers)
	identifiers = slices.Compact(identifiers)

	rows := make([]ChartCreator, 0, len(identifiers))
	for _, accountID := range identifiers {
		rows = append(rows, ChartCreator{ChartID: chartID, AccountID: accountID})
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}
