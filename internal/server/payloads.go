package server

import (
	"time"

	"github.com/KumiProject/chartsets/internal/chartsets"
)

type romanisedPayload struct {
	Artist string `json:"artist"`
	Title  string `json:"title"`
	Source string `json:"source"`
}

type statisticsPayload struct {
	NoteCount   int     `json:"note_count"`
	DrainLength float64 `json:"drain_length"`
	TotalLength float64 `json:"total_length"`
	MusicLength float64 `json:"music_length"`
}

type chartPayload struct {
	ID             int64             `json:"id"`
	SetID          int64             `json:"set_id"`
	Artist         string            `json:"artist"`
	Title          string            `json:"title"`
	Source         string            `json:"source"`
	Tags           string            `json:"tags"`
	DifficultyName string            `json:"difficulty_name"`
	Romanised      romanisedPayload  `json:"romanised"`
	BPMs           []float64         `json:"bpms"`
	Difficulty     float64           `json:"difficulty"`
	Statistics     statisticsPayload `json:"statistics"`
	MapChecksum    string            `json:"map_checksum"`
	Status         string            `json:"status"`
	CreatorIDs     []int64           `json:"creator_ids"`
}

type setPayload struct {
	ID                 int64            `json:"id"`
	Artist             string           `json:"artist"`
	Title              string           `json:"title"`
	Source             string           `json:"source"`
	Tags               string           `json:"tags"`
	Description        string           `json:"description"`
	Romanised          romanisedPayload `json:"romanised"`
	Status             string           `json:"status"`
	CreatorID          int64            `json:"creator_id"`
	NominatorIDs       []int64          `json:"nominator_ids"`
	NominatorsRequired int              `json:"nominators_required"`
	IsUnavailable      bool             `json:"is_unavailable"`
	RankedOn           *time.Time       `json:"ranked_on,omitempty"`
	Charts             []chartPayload   `json:"charts"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

type submissionPayload struct {
	Set  setPayload            `json:"set"`
	Meta submissionMetaPayload `json:"meta"`
}

// submissionMetaPayload maps stored chart ids to the hash of the chart file
// as uploaded, so clients can match their local files.
type submissionMetaPayload struct {
	Charts []chartsets.ChartHash `json:"charts"`
}

type postPayload struct {
	ID        int64     `json:"id"`
	SetID     int64     `json:"set_id"`
	ChartID   *int64    `json:"chart_id,omitempty"`
	ParentID  *int64    `json:"parent_id,omitempty"`
	AuthorID  int64     `json:"author_id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp *float64  `json:"timestamp,omitempty"`
	Resolved  bool      `json:"resolved,omitempty"`
	Reopened  bool      `json:"reopened,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type eventPayload struct {
	ID               int64     `json:"id"`
	SetID            int64     `json:"set_id"`
	ParentID         *int64    `json:"parent_id,omitempty"`
	Type             string    `json:"type"`
	ActorID          *int64    `json:"actor_id,omitempty"`
	AlternateMessage *string   `json:"alternate_message,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

type discussionPayload struct {
	Posts  []postPayload  `json:"posts"`
	Events []eventPayload `json:"events"`
}

type createPostRequest struct {
	ChartID   *int64   `json:"chart_id"`
	ParentID  *int64   `json:"parent_id"`
	Type      *string  `json:"type"`
	Message   string   `json:"message"`
	Timestamp *float64 `json:"timestamp"`
	Resolved  bool     `json:"resolved"`
	Reopened  bool     `json:"reopened"`
}

func toSetPayload(set chartsets.ChartSet) setPayload {
	romanised := set.RomanisedMetadata.Data()
	attributes := set.Attributes.Data()
	charts := make([]chartPayload, 0, len(set.Charts))
	for _, chart := range set.Charts {
		charts = append(charts, toChartPayload(chart))
	}
	return setPayload{
		ID:          set.ID,
		Artist:      set.Artist,
		Title:       set.Title,
		Source:      set.Source,
		Tags:        set.Tags,
		Description: set.Description,
		Romanised: romanisedPayload{
			Artist: romanised.ArtistRomanised,
			Title:  romanised.TitleRomanised,
			Source: romanised.SourceRomanised,
		},
		Status:             set.Status.String(),
		CreatorID:          set.CreatorID,
		NominatorIDs:       set.NominatorIDs(),
		NominatorsRequired: attributes.NominatorsRequired,
		IsUnavailable:      attributes.IsUnavailable,
		RankedOn:           set.RankedOn,
		Charts:             charts,
		CreatedAt:          set.CreatedAt,
		UpdatedAt:          set.UpdatedAt,
	}
}

func toChartPayload(chart chartsets.Chart) chartPayload {
	romanised := chart.RomanisedMetadata.Data()
	difficulty := chart.Difficulty.Data()
	statistics := chart.Statistics.Data()
	return chartPayload{
		ID:             chart.ID,
		SetID:          chart.SetID,
		Artist:         chart.Artist,
		Title:          chart.Title,
		Source:         chart.Source,
		Tags:           chart.Tags,
		DifficultyName: chart.DifficultyName,
		Romanised: romanisedPayload{
			Artist: romanised.ArtistRomanised,
			Title:  romanised.TitleRomanised,
			Source: romanised.SourceRomanised,
		},
		BPMs:       difficulty.BPMs,
		Difficulty: difficulty.Difficulty,
		Statistics: statisticsPayload{
			NoteCount:   statistics.NoteCount,
			DrainLength: statistics.DrainLength,
			TotalLength: statistics.TotalLength,
			MusicLength: statistics.MusicLength,
		},
		MapChecksum: chart.MapChecksum,
		Status:      chart.Status.String(),
		CreatorIDs:  chart.CreatorIDs(),
	}
}

func toPostPayload(post chartsets.ModdingPost) postPayload {
	attributes := post.Attributes.Data()
	return postPayload{
		ID:        post.ID,
		SetID:     post.SetID,
		ChartID:   post.ChartID,
		ParentID:  post.ParentID,
		AuthorID:  post.AuthorID,
		Type:      post.Type.String(),
		Status:    post.Status.String(),
		Message:   post.Message,
		Timestamp: attributes.Timestamp,
		Resolved:  attributes.Resolved,
		Reopened:  attributes.Reopened,
		CreatedAt: post.CreatedAt,
	}
}

func toDiscussionPayload(discussion chartsets.Discussion) discussionPayload {
	payload := discussionPayload{
		Posts:  make([]postPayload, 0, len(discussion.Posts)),
		Events: make([]eventPayload, 0, len(discussion.Events)),
	}
	for _, post := range discussion.Posts {
		payload.Posts = append(payload.Posts, toPostPayload(post))
	}
	for _, event := range discussion.Events {
		payload.Events = append(payload.Events, eventPayload{
			ID:               event.ID,
			SetID:            event.SetID,
			ParentID:         event.ParentID,
			Type:             event.Type.String(),
			ActorID:          event.ActorID,
			AlternateMessage: event.AlternateMessage,
			CreatedAt:        event.CreatedAt,
		})
	}
	return payload
}
