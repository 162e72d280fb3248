package chartsets

import (
	"time"

	"github.com/KumiProject/chartsets/internal/assets"
	"github.com/KumiProject/chartsets/internal/chartfile"
	"github.com/KumiProject/chartsets/internal/status"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultDescription = "No description has been provided!"

// RomanisedMetadata holds the latin-script variants of the song fields.
type RomanisedMetadata struct {
	ArtistRomanised string `json:"artist_romanised"`
	TitleRomanised  string `json:"title_romanised"`
	SourceRomanised string `json:"source_romanised"`
}

// SetAttributes are the mutable flags of a chart set.
type SetAttributes struct {
	IsUnavailable      bool   `json:"is_unavailable"`
	UnavailableReason  string `json:"unavailable_reason,omitempty"`
	NominatorsRequired int    `json:"nominators_required"`
}

// AssetManifest records which files back a set and their SHA-256 hashes.
type AssetManifest struct {
	Background     string `json:"background"`
	BackgroundHash string `json:"background_hash"`
	Music          string `json:"music"`
	MusicHash      string `json:"music_hash"`
	BasisChartID   int64  `json:"basis_chart_id"`
}

// Difficulty holds the timing and rating data of a chart.
type Difficulty struct {
	BPMs       []float64 `json:"bpms"`
	Difficulty float64   `json:"difficulty"`
}

// ChartSet is a bundle of charts sharing one song.
type ChartSet struct {
	ID                int64                                 `gorm:"column:id;primaryKey;autoIncrement"`
	Artist            string                                `gorm:"column:artist;size:255;not null"`
	Title             string                                `gorm:"column:title;size:255;not null"`
	Source            string                                `gorm:"column:source;size:255"`
	Tags              string                                `gorm:"column:tags;type:text"`
	Description       string                                `gorm:"column:description;type:text"`
	RomanisedMetadata datatypes.JSONType[RomanisedMetadata] `gorm:"column:romanised_metadata"`
	Status            status.Status                         `gorm:"column:status;not null;index"`
	Attributes        datatypes.JSONType[SetAttributes]     `gorm:"column:attributes"`
	InternalData      datatypes.JSONType[AssetManifest]     `gorm:"column:internal_data"`
	CreatorID         int64                                 `gorm:"column:creator_id;not null;index"`
	RankedOn          *time.Time                            `gorm:"column:ranked_on"`
	Charts            []Chart                               `gorm:"foreignKey:SetID"`
	Nominations       []Nomination                          `gorm:"foreignKey:SetID"`
	CreatedAt         time.Time                             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time                             `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt         gorm.DeletedAt                        `gorm:"column:deleted_at;index"`
}

// TableName exposes the table backing chart sets.
func (ChartSet) TableName() string {
	return "chart_sets"
}

// NominatorIDs lists the accounts that nominated the set.
func (s ChartSet) NominatorIDs() []int64 {
	identifiers := make([]int64, 0, len(s.Nominations))
	for _, nomination := range s.Nominations {
		identifiers = append(identifiers, nomination.AccountID)
	}
	return identifiers
}

func (s ChartSet) metadata() chartfile.Metadata {
	romanised := s.RomanisedMetadata.Data()
	return chartfile.Metadata{
		Artist:          s.Artist,
		ArtistRomanized: romanised.ArtistRomanised,
		Title:           s.Title,
		TitleRomanized:  romanised.TitleRomanised,
		Source:          s.Source,
		SourceRomanized: romanised.SourceRomanised,
		Tags:            s.Tags,
	}
}

func (s *ChartSet) applyMetadata(metadata chartfile.Metadata) {
	s.Artist = metadata.Artist
	s.Title = metadata.Title
	s.Source = metadata.Source
	s.Tags = metadata.Tags
	s.RomanisedMetadata = datatypes.NewJSONType(romanisedFrom(metadata))
}

// Chart is one playable difficulty of a set.
type Chart struct {
	ID                int64                                 `gorm:"column:id;primaryKey;autoIncrement"`
	SetID             int64                                 `gorm:"column:set_id;not null;index"`
	Artist            string                                `gorm:"column:artist;size:255;not null"`
	Title             string                                `gorm:"column:title;size:255;not null"`
	Source            string                                `gorm:"column:source;size:255"`
	Tags              string                                `gorm:"column:tags;type:text"`
	DifficultyName    string                                `gorm:"column:difficulty_name;size:255;not null"`
	RomanisedMetadata datatypes.JSONType[RomanisedMetadata] `gorm:"column:romanised_metadata"`
	Difficulty        datatypes.JSONType[Difficulty]        `gorm:"column:difficulty"`
	Statistics        datatypes.JSONType[assets.Statistics] `gorm:"column:statistics"`
	MapChecksum       string                                `gorm:"column:map_checksum;size:64"`
	Status            status.Status                         `gorm:"column:status;not null;index"`
	Creators          []ChartCreator                        `gorm:"foreignKey:ChartID"`
	CreatedAt         time.Time                             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time                             `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt         gorm.DeletedAt                        `gorm:"column:deleted_at;index"`
}

// TableName exposes the table backing charts.
func (Chart) TableName() string {
	return "charts"
}

// CreatorIDs lists the accounts credited on the chart.
func (c Chart) CreatorIDs() []int64 {
	identifiers := make([]int64, 0, len(c.Creators))
	for _, creator := range c.Creators {
		identifiers = append(identifiers, creator.AccountID)
	}
	return identifiers
}

func (c *Chart) applyDocument(document CreatableChart, chartStatus status.Status, statistics assets.Statistics) {
	metadata := document.Metadata
	c.Artist = metadata.Artist
	c.Title = metadata.Title
	c.Source = metadata.Source
	c.Tags = metadata.Tags
	c.DifficultyName = document.Header.DifficultyName
	c.RomanisedMetadata = datatypes.NewJSONType(romanisedFrom(metadata))
	difficulty := c.Difficulty.Data()
	difficulty.BPMs = append([]float64{}, document.BPMs...)
	c.Difficulty = datatypes.NewJSONType(difficulty)
	c.Statistics = datatypes.NewJSONType(statistics)
	c.Status = chartStatus
}

// ChartCreator credits an account on a chart.
type ChartCreator struct {
	ChartID   int64     `gorm:"column:chart_id;primaryKey;autoIncrement:false"`
	AccountID int64     `gorm:"column:account_id;primaryKey;autoIncrement:false"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing chart credits.
func (ChartCreator) TableName() string {
	return "chart_creators"
}

// Nomination records an account's nomination of a set. The composite key
// allows one nomination per account and set.
type Nomination struct {
	SetID     int64     `gorm:"column:set_id;primaryKey;autoIncrement:false"`
	AccountID int64     `gorm:"column:account_id;primaryKey;autoIncrement:false"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing nominations.
func (Nomination) TableName() string {
	return "chart_set_nominations"
}

// RankingQueueEntry schedules a qualified set for ranking.
type RankingQueueEntry struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	SetID     int64     `gorm:"column:set_id;not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	RankedAt  time.Time `gorm:"column:ranked_at;not null;index"`
}

// TableName exposes the table backing the ranking queue.
func (RankingQueueEntry) TableName() string {
	return "nomination_queue"
}

func romanisedFrom(metadata chartfile.Metadata) RomanisedMetadata {
	return RomanisedMetadata{
		ArtistRomanised: metadata.ArtistRomanized,
		TitleRomanised:  metadata.TitleRomanized,
		SourceRomanised: metadata.SourceRomanized,
	}
}

// Models lists every table owned by this package, for migrations.
func Models() []any {
	return []any{
		&ChartSet{},
		&Chart{},
		&ChartCreator{},
		&Nomination{},
		&RankingQueueEntry{},
		&ModdingEvent{},
		&ModdingPost{},
	}
}
