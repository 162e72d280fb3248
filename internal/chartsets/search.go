package chartsets

import (
	"context"
	"errors"
	"time"

	"github.com/KumiProject/chartsets/internal/accounts"
	"github.com/KumiProject/chartsets/internal/events"
	"github.com/KumiProject/chartsets/internal/metrics"
	"github.com/KumiProject/chartsets/internal/search"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// IndexerConfig wires the search sink chart sets are projected into.
type IndexerConfig struct {
	Sink    search.Sink
	Index   string
	Metrics *metrics.Metrics
}

// Indexer projects chart sets into search documents and pushes them to a sink.
type Indexer struct {
	sink    search.Sink
	index   string
	metrics *metrics.Metrics
}

func NewIndexer(cfg IndexerConfig) *Indexer {
	sink := cfg.Sink
	if sink == nil {
		sink = search.NoopSink{}
	}
	index := cfg.Index
	if index == "" {
		index = search.DefaultIndex
	}
	return &Indexer{sink: sink, index: index, metrics: cfg.Metrics}
}

// BuildDocument projects a set, loaded with its charts and their creators,
// into its search document. usernames maps every credited account id to its
// username; ids missing from it are left out. Timing and length come from the
// basis chart.
func BuildDocument(set ChartSet, usernames map[int64]string) search.Document {
	romanised := set.RomanisedMetadata.Data()
	document := search.Document{
		ID:              set.ID,
		Artist:          set.Artist,
		ArtistRomanized: romanised.ArtistRomanised,
		Title:           set.Title,
		TitleRomanized:  romanised.TitleRomanised,
		Source:          set.Source,
		SourceRomanized: romanised.SourceRomanised,
		Tags:            set.Tags,
		Status:          set.Status.String(),
		Creators:        []string{},
		BPM:             []float64{},
	}

	seen := make(map[string]struct{})
	for _, accountID := range creditedAccounts(set) {
		username, ok := usernames[accountID]
		if !ok {
			continue
		}
		if _, duplicate := seen[username]; duplicate {
			continue
		}
		seen[username] = struct{}{}
		document.Creators = append(document.Creators, username)
	}

	if basis, ok := basisChart(set); ok {
		document.BPM = append(document.BPM, basis.Difficulty.Data().BPMs...)
		statistics := basis.Statistics.Data()
		document.Length = statistics.MusicLength
		document.Drain = statistics.DrainLength
	}
	return document
}

// creditedAccounts lists the set creator followed by every chart creator,
// without repeats.
func creditedAccounts(set ChartSet) []int64 {
	seen := make(map[int64]struct{})
	credited := make([]int64, 0, len(set.Charts)+1)
	add := func(accountID int64) {
		if _, ok := seen[accountID]; ok {
			return
		}
		seen[accountID] = struct{}{}
		credited = append(credited, accountID)
	}
	add(set.CreatorID)
	for _, chart := range set.Charts {
		for _, accountID := range chart.CreatorIDs() {
			add(accountID)
		}
	}
	return credited
}

func loadUsernames(db *gorm.DB, accountIDs []int64) (map[int64]string, error) {
	usernames := make(map[int64]string, len(accountIDs))
	if len(accountIDs) == 0 {
		return usernames, nil
	}
	var rows []accounts.Account
	if err := db.Select("id", "username").Where("id IN ?", accountIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		usernames[row.ID] = row.Username
	}
	return usernames, nil
}

func basisChart(set ChartSet) (Chart, bool) {
	basisID := set.InternalData.Data().BasisChartID
	for _, chart := range set.Charts {
		if chart.ID == basisID {
			return chart, true
		}
	}
	if len(set.Charts) > 0 {
		return set.Charts[0], true
	}
	return Chart{}, false
}

// Sync pushes a prepared document to the index.
func (i *Indexer) Sync(ctx context.Context, document search.Document) error {
	err := i.sink.UpdateDocuments(ctx, i.index, []search.Document{document})
	i.metrics.ObserveSearchSync(err)
	if err != nil {
		return newServiceError(opSearchIndex, "update_documents", err)
	}
	return nil
}

// Reindex reloads set and the usernames of its creators from db and pushes it.
func (i *Indexer) Reindex(ctx context.Context, db *gorm.DB, setID int64) error {
	scoped := db.WithContext(ctx)
	set, err := loadChartSet(scoped, setID)
	if err != nil {
		return err
	}
	usernames, err := loadUsernames(scoped, creditedAccounts(set))
	if err != nil {
		return newServiceError(opSearchIndex, "load_creators", err)
	}
	return i.Sync(ctx, BuildDocument(set, usernames))
}

// outcome collects the side effects that run once a transaction commits.
type outcome struct {
	setID     int64
	reindex   bool
	envelopes []events.Envelope
}

func (o *outcome) record(eventType string, actorID int64, at time.Time, payload map[string]any) {
	o.envelopes = append(o.envelopes, events.NewEnvelope(eventType, o.setID, actorID, at, payload))
}

// lifecycle runs the post-commit side effects shared by the services. Neither
// search nor publish failures undo a committed change; they are logged and counted.
type lifecycle struct {
	db        *gorm.DB
	indexer   *Indexer
	publisher events.Publisher
	logger    *zap.Logger
}

func (l lifecycle) finish(ctx context.Context, result outcome) {
	if result.reindex && l.indexer != nil {
		if err := l.indexer.Reindex(ctx, l.db, result.setID); err != nil {
			l.logger.Warn("search sync failed", zap.Int64(fieldSetID, result.setID), zap.Error(err))
		}
	}
	if l.publisher == nil {
		return
	}
	for _, envelope := range result.envelopes {
		if err := l.publisher.Publish(ctx, envelope); err != nil {
			l.logger.Warn("event publish failed",
				zap.Int64(fieldSetID, result.setID),
				zap.String("event_type", envelope.Type),
				zap.Error(err),
			)
		}
	}
}

func loadChartSet(db *gorm.DB, setID int64) (ChartSet, error) {
	var set ChartSet
	err := db.
		Preload("Charts", func(query *gorm.DB) *gorm.DB { return query.Order("id") }).
		Preload("Charts.Creators").
		Preload("Nominations").
		Where("id = ?", setID).
		Take(&set).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ChartSet{}, ErrSetNotFound
		}
		return ChartSet{}, err
	}
	return set, nil
}
