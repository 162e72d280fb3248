package assets

import (
	"slices"

	"github.com/KumiProject/chartsets/internal/chartfile"
)

// Statistics summarises a chart's notes and music. Lengths are milliseconds.
type Statistics struct {
	Notes       []chartfile.Note `json:"notes"`
	NoteCount   int              `json:"note_count"`
	DrainLength float64          `json:"drain_length"`
	TotalLength float64          `json:"total_length"`
	MusicLength float64          `json:"music_length"`
}

// ComputeNoteStatistics derives the note-based statistics. The drain and total
// lengths both end at the last note of the chart: its release time for holds,
// its start otherwise.
func ComputeNoteStatistics(notes []chartfile.Note) Statistics {
	statistics := Statistics{
		Notes:     cloneNotes(notes),
		NoteCount: len(notes),
	}
	if len(notes) == 0 {
		return statistics
	}
	last := notes[len(notes)-1].EndTime()
	statistics.DrainLength = last
	statistics.TotalLength = last
	return statistics
}

func cloneNotes(notes []chartfile.Note) []chartfile.Note {
	cloned := slices.Clone(notes)
	if cloned == nil {
		cloned = []chartfile.Note{}
	}
	for index, note := range cloned {
		if note.End != nil {
			end := *note.End
			cloned[index].End = &end
		}
	}
	return cloned
}
