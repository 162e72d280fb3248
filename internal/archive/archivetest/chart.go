package archivetest

import (
	"fmt"
	"strings"
)

// Chart describes the fields of a generated chart file.
type Chart struct {
	Artist         string
	Title          string
	Source         string
	Tags           string
	Difficulty     string
	Creators       []string
	SetID          int64
	ChartID        int64
	MusicFile      string
	BackgroundFile string
	PreviewTime    float64
	Notes          []string
}

// Text renders the chart in the Kumi chart format. Zero identifiers are written as -1.
func (c Chart) Text() string {
	setID, chartID := c.SetID, c.ChartID
	if setID == 0 {
		setID = -1
	}
	if chartID == 0 {
		chartID = -1
	}
	notes := c.Notes
	if notes == nil {
		notes = []string{"1,1000", "1,2000,2500,0"}
	}

	var builder strings.Builder
	builder.WriteString("#KUMI CHART FORMAT v1\n")
	builder.WriteString("[#METADATA]\n")
	fmt.Fprintf(&builder, "ARTIST = %s\n", fallback(c.Artist, "Test Artist"))
	fmt.Fprintf(&builder, "TITLE = %s\n", fallback(c.Title, "Test Title"))
	if c.Source != "" {
		fmt.Fprintf(&builder, "SOURCE = %s\n", c.Source)
	}
	fmt.Fprintf(&builder, "TAGS = %s\n", fallback(c.Tags, "test"))
	builder.WriteString("[#CHART]\n")
	fmt.Fprintf(&builder, "CHART_SET_ID = %d\n", setID)
	fmt.Fprintf(&builder, "CHART_ID = %d\n", chartID)
	fmt.Fprintf(&builder, "DIFFICULTY_NAME = %s\n", fallback(c.Difficulty, "Normal"))
	if len(c.Creators) > 0 {
		fmt.Fprintf(&builder, "CREATORS = %s\n", strings.Join(c.Creators, ", "))
	}
	fmt.Fprintf(&builder, "MUSIC_FILE = %s\n", fallback(c.MusicFile, "audio.mp3"))
	fmt.Fprintf(&builder, "PREVIEW_TIME = %g\n", c.PreviewTime)
	builder.WriteString("[#EVENTS]\n")
	fmt.Fprintf(&builder, "0,\"%s\"\n", fallback(c.BackgroundFile, "bg.png"))
	builder.WriteString("[#TIMINGS]\n")
	builder.WriteString("0,0,120,4\n")
	builder.WriteString("[#NOTES]\n")
	for _, note := range notes {
		builder.WriteString(note)
		builder.WriteString("\n")
	}
	return builder.String()
}

func fallback(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}
