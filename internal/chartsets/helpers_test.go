package chartsets

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/KumiProject/chartsets/internal/accounts"
	"github.com/KumiProject/chartsets/internal/archive"
	"github.com/KumiProject/chartsets/internal/archive/archivetest"
	"github.com/KumiProject/chartsets/internal/assets"
	"github.com/KumiProject/chartsets/internal/blob"
	"github.com/KumiProject/chartsets/internal/events"
	"github.com/KumiProject/chartsets/internal/media/mediatest"
	"github.com/KumiProject/chartsets/internal/search"
	"github.com/KumiProject/chartsets/internal/status"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var testEpoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(duration)
}

type recordingPublisher struct {
	mu        sync.Mutex
	envelopes []events.Envelope
}

func (p *recordingPublisher) Connect(context.Context) error { return nil }
func (p *recordingPublisher) Close() error                  { return nil }

func (p *recordingPublisher) Publish(_ context.Context, envelope events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envelopes = append(p.envelopes, envelope)
	return nil
}

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.envelopes))
	for _, envelope := range p.envelopes {
		types = append(types, envelope.Type)
	}
	return types
}

type testEnv struct {
	db          *gorm.DB
	accounts    *accounts.Service
	store       *blob.MemoryStore
	media       *mediatest.Fake
	sink        *search.MemorySink
	publisher   *recordingPublisher
	clock       *testClock
	submissions *SubmissionService
	nominations *NominationService
	ranking     *RankingWorker
	moderation  *ModerationService
	archiveDir  string
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:chartsets_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	models := append([]any{&accounts.Account{}}, Models()...)
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := openTestDatabase(t)
	accountService, err := accounts.NewService(accounts.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create account service: %v", err)
	}

	env := &testEnv{
		db:         db,
		accounts:   accountService,
		store:      blob.NewMemoryStore(),
		media:      &mediatest.Fake{Duration: 90 * time.Second, Format: "mp3"},
		sink:       search.NewMemorySink(),
		publisher:  &recordingPublisher{},
		clock:      &testClock{now: testEpoch},
		archiveDir: t.TempDir(),
	}

	processor, err := assets.NewProcessor(assets.ProcessorConfig{
		Store:      env.store,
		Prober:     env.media,
		Transcoder: env.media,
		ScratchDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("failed to create processor: %v", err)
	}
	indexer := NewIndexer(IndexerConfig{Sink: env.sink})

	env.submissions, err = NewSubmissionService(SubmissionConfig{
		Database:  db,
		Extractor: archive.NewExtractor(archive.ExtractorConfig{}),
		Processor: processor,
		Accounts:  accountService,
		Indexer:   indexer,
		Publisher: env.publisher,
		Clock:     env.clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to create submission service: %v", err)
	}
	env.nominations, err = NewNominationService(NominationConfig{
		Database:  db,
		Accounts:  accountService,
		Indexer:   indexer,
		Publisher: env.publisher,
		Clock:     env.clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to create nomination service: %v", err)
	}
	env.ranking, err = NewRankingWorker(RankingConfig{
		Database:  db,
		Indexer:   indexer,
		Publisher: env.publisher,
		Clock:     env.clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to create ranking worker: %v", err)
	}
	env.moderation, err = NewModerationService(ModerationConfig{
		Database:    db,
		Accounts:    accountService,
		Nominations: env.nominations,
		Indexer:     indexer,
		Publisher:   env.publisher,
		Clock:       env.clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to create moderation service: %v", err)
	}
	return env
}

func (e *testEnv) account(t *testing.T, username string, permissions accounts.Permission) accounts.Account {
	t.Helper()
	account, err := e.accounts.Create(context.Background(), username, permissions)
	if err != nil {
		t.Fatalf("failed to create account %s: %v", username, err)
	}
	return account
}

// archive writes the charts as entries one minute apart, oldest first, with
// the music and background files they reference.
func (e *testEnv) archive(t *testing.T, charts ...archivetest.Chart) string {
	t.Helper()
	entries := []archivetest.Entry{
		{Name: "audio.mp3", Modified: archivetest.Minute(0), Data: []byte("ID3-music")},
		{Name: "bg.png", Modified: archivetest.Minute(0), Data: []byte("png-background")},
	}
	for index, chart := range charts {
		entries = append(entries, archivetest.Entry{
			Name:     fmt.Sprintf("chart-%d.kch", index),
			Modified: archivetest.Minute(index + 1),
			Data:     []byte(chart.Text()),
		})
	}
	name := fmt.Sprintf("upload-%d.zip", time.Now().UnixNano())
	return archivetest.Write(t, e.archiveDir, name, entries)
}

func (e *testEnv) submit(t *testing.T, uploader accounts.Account, charts ...archivetest.Chart) SubmissionResult {
	t.Helper()
	result, err := e.submissions.Submit(context.Background(), SubmitRequest{
		ArchivePath: e.archive(t, charts...),
		UploaderID:  uploader.ID,
		Status:      status.Pending,
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	return result
}

func (e *testEnv) reload(t *testing.T, setID int64) ChartSet {
	t.Helper()
	set, err := e.submissions.Get(context.Background(), setID)
	if err != nil {
		t.Fatalf("failed to load set %d: %v", setID, err)
	}
	return set
}

func (e *testEnv) eventTypes(t *testing.T, setID int64) []EventType {
	t.Helper()
	var stored []ModdingEvent
	if err := e.db.Where("set_id = ?", setID).Order("id").Find(&stored).Error; err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	types := make([]EventType, 0, len(stored))
	for _, event := range stored {
		types = append(types, event.Type)
	}
	return types
}

func (e *testEnv) count(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()
	var total int64
	if err := e.db.Model(model).Where(query, args...).Count(&total).Error; err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	return total
}

func withinSecond(left, right time.Time) bool {
	difference := left.Sub(right)
	return difference > -time.Second && difference < time.Second
}
