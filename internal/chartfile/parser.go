package chartfile

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MagicHeader opens every chart file.
const MagicHeader = "#KUMI CHART FORMAT v1"

// ErrMalformedChart indicates a structural problem in a chart file.
var ErrMalformedChart = errors.New("chartfile: malformed chart")

// Section identifies the block a line belongs to.
type Section int

const (
	SectionUnknown Section = iota
	SectionMetadata
	SectionChartHeader
	SectionEvents
	SectionTimings
	SectionNotes
)

func (s Section) String() string {
	switch s {
	case SectionMetadata:
		return "METADATA"
	case SectionChartHeader:
		return "CHART"
	case SectionEvents:
		return "EVENTS"
	case SectionTimings:
		return "TIMINGS"
	case SectionNotes:
		return "NOTES"
	case SectionUnknown:
		return "UNKNOWN"
	}
	return fmt.Sprintf("Section(%d)", int(s))
}

func sectionFromName(name string) Section {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "METADATA":
		return SectionMetadata
	case "CHART":
		return SectionChartHeader
	case "EVENTS":
		return SectionEvents
	case "TIMINGS":
		return SectionTimings
	case "NOTES":
		return SectionNotes
	default:
		return SectionUnknown
	}
}

// HasMagicHeader reports whether data starts with MagicHeader.
func HasMagicHeader(data []byte) bool {
	return bytes.HasPrefix(data, []byte(MagicHeader))
}

// Parse reads a chart file into a ChartDocument.
func Parse(data []byte) (ChartDocument, error) {
	if !HasMagicHeader(data) {
		return ChartDocument{}, fmt.Errorf("%w: missing %q header", ErrMalformedChart, MagicHeader)
	}

	draft := NewDraft(data)
	section := SectionUnknown
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")

	for index, rawLine := range lines {
		line := strings.TrimSpace(rawLine)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[#") {
			if !strings.HasSuffix(line, "]") {
				return ChartDocument{}, fmt.Errorf("%w: line %d: unterminated section header", ErrMalformedChart, index+1)
			}
			section = sectionFromName(line[2 : len(line)-1])
			continue
		}

		if err := draft.apply(section, line); err != nil {
			return ChartDocument{}, fmt.Errorf("%w: line %d: %v", ErrMalformedChart, index+1, err)
		}
	}

	return draft.Finalize()
}

func (d *ChartDocumentDraft) apply(section Section, line string) error {
	switch section {
	case SectionMetadata:
		key, value, ok := splitKeyValue(line)
		if ok {
			d.applyMetadata(key, value)
		}
		return nil
	case SectionChartHeader:
		key, value, ok := splitKeyValue(line)
		if !ok {
			return nil
		}
		return d.applyHeader(key, value)
	case SectionEvents:
		d.applyEvent(line)
		return nil
	case SectionTimings:
		d.applyTiming(line)
		return nil
	case SectionNotes:
		return d.applyNote(line)
	case SectionUnknown:
		return nil
	}
	return nil
}

// splitKeyValue splits on the first '='. Lines without a value are reported as not ok.
func splitKeyValue(line string) (string, string, bool) {
	key, value, found := strings.Cut(line, "=")
	if !found {
		return "", "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", "", false
	}
	return strings.ToLower(strings.TrimSpace(key)), value, true
}

func (d *ChartDocumentDraft) applyMetadata(key, value string) {
	switch key {
	case "artist":
		d.Artist = &value
	case "artist_romanized", "artist_romanised", "artist_romanisé":
		d.ArtistRomanized = &value
	case "title":
		d.Title = &value
	case "title_romanized", "title_romanised", "title_romanisé":
		d.TitleRomanized = &value
	case "source":
		d.Source = &value
	case "source_romanized", "source_romanised", "source_romanisé":
		d.SourceRomanized = &value
	case "tags":
		d.Tags = &value
	}
}

func (d *ChartDocumentDraft) applyHeader(key, value string) error {
	switch key {
	case "creator":
		d.Creators = append(d.Creators, value)
	case "creators":
		for _, creator := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(creator); trimmed != "" {
				d.Creators = append(d.Creators, trimmed)
			}
		}
	case "difficulty_name":
		d.DifficultyName = &value
	case "initial_scroll_speed":
		speed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("initial_scroll_speed %q is not a number", value)
		}
		d.InitialScrollSpeed = &speed
	case "preview_time":
		previewTime, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("preview_time %q is not a number", value)
		}
		d.PreviewTime = &previewTime
	case "music_file":
		d.MusicFile = &value
	case "chart_set_id":
		identifier, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("chart_set_id %q is not an integer", value)
		}
		d.ChartSetID = &identifier
	case "chart_id":
		identifier, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("chart_id %q is not an integer", value)
		}
		d.ChartID = &identifier
	}
	return nil
}

// applyEvent keeps every event line. The "0," event names the background image.
func (d *ChartDocumentDraft) applyEvent(line string) {
	d.Events = append(d.Events, line)

	kind, file, found := strings.Cut(line, ",")
	if !found || strings.TrimSpace(kind) != "0" {
		return
	}
	file = strings.TrimSpace(file)
	if len(file) >= 2 && strings.HasPrefix(file, `"`) && strings.HasSuffix(file, `"`) {
		file = file[1 : len(file)-1]
	}
	d.BackgroundFile = &file
}

// applyTiming records the BPM of uninherited timing points only.
func (d *ChartDocumentDraft) applyTiming(line string) {
	fields := strings.Split(line, ",")
	if len(fields) < 3 || strings.TrimSpace(fields[0]) != "0" {
		return
	}
	bpm, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	if err != nil {
		return
	}
	d.BPMs = append(d.BPMs, bpm)
}

// applyNote reads "type,start[,end,hitsound...]". The end time is only
// present on lines that carry the trailing hit sound field as well.
func (d *ChartDocumentDraft) applyNote(line string) error {
	fields := strings.Split(line, ",")
	if len(fields) < 2 {
		return nil
	}

	noteType, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return fmt.Errorf("note type %q is not an integer", fields[0])
	}
	start, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return fmt.Errorf("note start %q is not a number", fields[1])
	}

	note := Note{Type: noteType, Start: start}
	if len(fields) > 3 {
		end, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
		if err != nil {
			return fmt.Errorf("note end %q is not a number", fields[2])
		}
		note.End = &end
	}
	d.Notes = append(d.Notes, note)
	return nil
}
