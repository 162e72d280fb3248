package chartfile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
)

// UnassignedID marks a chart or chart set identifier that has not been persisted yet.
const UnassignedID int64 = -1

// Metadata carries the song fields that every chart of a set must share.
type Metadata struct {
	Artist          string
	ArtistRomanized string
	Title           string
	TitleRomanized  string
	Source          string
	SourceRomanized string
	Tags            string
}

// Header is the content of the [#CHART] section.
type Header struct {
	ChartSetID         int64
	ChartID            int64
	DifficultyName     string
	Creators           []string
	MusicFile          string
	PreviewTime        float64
	InitialScrollSpeed float64
}

// Note is a single hit object. Times are milliseconds.
type Note struct {
	Type  int      `json:"type"`
	Start float64  `json:"start"`
	End   *float64 `json:"end"`
}

// EndTime returns the release time of a hold note, or the start time for taps.
func (n Note) EndTime() float64 {
	if n.End != nil {
		return *n.End
	}
	return n.Start
}

// ChartDocument is a fully parsed chart file. It is produced by Finalize and
// shares no backing arrays with the draft it came from.
type ChartDocument struct {
	Metadata       Metadata
	Header         Header
	BPMs           []float64
	BackgroundFile string
	Events         []string
	Notes          []Note
	Raw            []byte
}

// Checksum returns the hex encoded SHA-256 of the unmodified chart text.
func (d ChartDocument) Checksum() string {
	return Checksum(d.Raw)
}

// Checksum returns the hex encoded SHA-256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ChartDocumentDraft accumulates fields while a chart file is being read.
// Nil pointers mark fields that were never seen.
type ChartDocumentDraft struct {
	Artist          *string
	ArtistRomanized *string
	Title           *string
	TitleRomanized  *string
	Source          *string
	SourceRomanized *string
	Tags            *string

	ChartSetID         *int64
	ChartID            *int64
	DifficultyName     *string
	Creators           []string
	MusicFile          *string
	PreviewTime        *float64
	InitialScrollSpeed *float64

	BackgroundFile *string
	BPMs           []float64
	Events         []string
	Notes          []Note

	raw []byte
}

// NewDraft starts an empty draft for the given raw chart text.
func NewDraft(raw []byte) *ChartDocumentDraft {
	return &ChartDocumentDraft{raw: raw}
}

// Finalize checks the required fields and returns an immutable document.
func (d *ChartDocumentDraft) Finalize() (ChartDocument, error) {
	required := []struct {
		name  string
		value *string
	}{
		{name: "artist", value: d.Artist},
		{name: "title", value: d.Title},
		{name: "difficulty_name", value: d.DifficultyName},
		{name: "music_file", value: d.MusicFile},
	}
	for _, field := range required {
		if field.value == nil {
			return ChartDocument{}, fmt.Errorf("%w: missing required field %s", ErrMalformedChart, field.name)
		}
	}

	notes := make([]Note, len(d.Notes))
	for index, note := range d.Notes {
		notes[index] = note
		if note.End != nil {
			end := *note.End
			notes[index].End = &end
		}
	}

	return ChartDocument{
		Metadata: Metadata{
			Artist:          valueOf(d.Artist),
			ArtistRomanized: valueOf(d.ArtistRomanized),
			Title:           valueOf(d.Title),
			TitleRomanized:  valueOf(d.TitleRomanized),
			Source:          valueOf(d.Source),
			SourceRomanized: valueOf(d.SourceRomanized),
			Tags:            valueOf(d.Tags),
		},
		Header: Header{
			ChartSetID:         identifierOrUnassigned(d.ChartSetID),
			ChartID:            identifierOrUnassigned(d.ChartID),
			DifficultyName:     valueOf(d.DifficultyName),
			Creators:           slices.Clone(d.Creators),
			MusicFile:          valueOf(d.MusicFile),
			PreviewTime:        valueOf(d.PreviewTime),
			InitialScrollSpeed: valueOf(d.InitialScrollSpeed),
		},
		BPMs:           slices.Clone(d.BPMs),
		BackgroundFile: valueOf(d.BackgroundFile),
		Events:         slices.Clone(d.Events),
		Notes:          notes,
		Raw:            slices.Clone(d.raw),
	}, nil
}

func valueOf[T any](pointer *T) T {
	var zero T
	if pointer == nil {
		return zero
	}
	return *pointer
}

// identifierOrUnassigned maps absent and zero identifiers to UnassignedID.
func identifierOrUnassigned(value *int64) int64 {
	if value == nil || *value == 0 {
		return UnassignedID
	}
	return *value
}
